package accountant

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/praxia-health/platform/internal/shared/errors"
	"github.com/praxia-health/platform/internal/shared/events"
	"github.com/praxia-health/platform/internal/shared/metrics"
	"github.com/praxia-health/platform/internal/shared/types"
)

// Store is the persistence surface the service drives. The assignment and
// request inserts are separate calls on purpose: the pairing is protected
// by a compensating delete, not a transaction, because the two writes came
// from different subsystems historically and the rollback path is part of
// the observable contract.
type Store interface {
	CreateAssignment(ctx context.Context, a *Assignment) error
	DeleteAssignment(ctx context.Context, id types.ID) error
	CreateRequest(ctx context.Context, req *Request) error
	GetRequest(ctx context.Context, id types.ID) (*Request, error)
	PendingRequests(ctx context.Context, accountantID types.ID) ([]*Request, error)
	Approve(ctx context.Context, requestID types.ID) error
	Reject(ctx context.Context, requestID types.ID) error
}

// Service coordinates the invitation workflow
type Service struct {
	store  Store
	bus    events.EventBus
	logger *zap.Logger
}

func NewService(store Store, bus events.EventBus, logger *zap.Logger) *Service {
	return &Service{store: store, bus: bus, logger: logger}
}

// Invite writes the assignment and its pending request. If the request
// insert fails the assignment row is deleted before the error surfaces, so
// no unapproved assignment is ever left without a request.
func (s *Service) Invite(ctx context.Context, therapistID, accountantID types.ID) (*Request, error) {
	assignment := &Assignment{
		ID:           types.NewID(),
		AccountantID: accountantID,
		TherapistID:  therapistID,
	}
	if err := s.store.CreateAssignment(ctx, assignment); err != nil {
		return nil, err
	}

	request := &Request{
		ID:           types.NewID(),
		AssignmentID: assignment.ID,
		AccountantID: accountantID,
		TherapistID:  therapistID,
		Status:       StatusPending,
	}
	if err := s.store.CreateRequest(ctx, request); err != nil {
		if delErr := s.store.DeleteAssignment(ctx, assignment.ID); delErr != nil {
			s.logger.Error("assignment rollback failed",
				zap.String("assignment_id", assignment.ID.String()),
				zap.Error(delErr))
			return nil, fmt.Errorf("create request: %w (rollback also failed: %v)", err, delErr)
		}
		return nil, fmt.Errorf("%w: %v", errors.ErrAssignmentRolledBack, err)
	}

	metrics.RecordAccountantRequest("invited")
	return request, nil
}

// Approve activates the assignment for the accountant's own request.
func (s *Service) Approve(ctx context.Context, accountantID, requestID types.ID) error {
	request, err := s.store.GetRequest(ctx, requestID)
	if err != nil {
		return err
	}
	if request == nil {
		return errors.NotFound("request", requestID.String())
	}
	if request.AccountantID != accountantID {
		return errors.Forbidden("request belongs to another accountant")
	}
	if request.Status != StatusPending {
		return errors.Conflict("request already decided")
	}

	if err := s.store.Approve(ctx, requestID); err != nil {
		return err
	}

	metrics.RecordAccountantRequest("approved")
	event := events.NewEvent(events.TypeRequestApproved, "accountant", map[string]string{
		"request_id":   requestID.String(),
		"therapist_id": request.TherapistID.String(),
	}).WithActor(accountantID, types.NilID)
	if err := s.bus.Publish(ctx, event); err != nil {
		s.logger.Warn("publish request approved", zap.Error(err))
	}
	return nil
}

// Reject removes the request and its assignment together and notifies the
// inviting therapist through the event bus.
func (s *Service) Reject(ctx context.Context, accountantID, requestID types.ID) error {
	request, err := s.store.GetRequest(ctx, requestID)
	if err != nil {
		return err
	}
	if request == nil {
		return errors.NotFound("request", requestID.String())
	}
	if request.AccountantID != accountantID {
		return errors.Forbidden("request belongs to another accountant")
	}

	if err := s.store.Reject(ctx, requestID); err != nil {
		return err
	}

	metrics.RecordAccountantRequest("rejected")
	event := events.NewEvent(events.TypeRequestRejected, "accountant", map[string]string{
		"request_id":   requestID.String(),
		"therapist_id": request.TherapistID.String(),
	}).WithActor(accountantID, types.NilID)
	if err := s.bus.Publish(ctx, event); err != nil {
		s.logger.Warn("publish request rejected", zap.Error(err))
	}
	return nil
}

// Pending lists the accountant's open invitations.
func (s *Service) Pending(ctx context.Context, accountantID types.ID) ([]*Request, error) {
	return s.store.PendingRequests(ctx, accountantID)
}
