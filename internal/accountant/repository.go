package accountant

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/praxia-health/platform/internal/shared/types"
)

// Repository provides PostgreSQL access to assignments and requests
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// CreateAssignment inserts an unapproved assignment row
func (r *Repository) CreateAssignment(ctx context.Context, a *Assignment) error {
	query := `
		INSERT INTO accounting.assignments (id, accountant_id, therapist_id, approved, created_at)
		VALUES ($1, $2, $3, FALSE, NOW())`

	_, err := r.pool.Exec(ctx, query, a.ID, a.AccountantID, a.TherapistID)
	if err != nil {
		return fmt.Errorf("create assignment: %w", err)
	}
	return nil
}

// DeleteAssignment removes an assignment row by ID
func (r *Repository) DeleteAssignment(ctx context.Context, id types.ID) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM accounting.assignments WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete assignment: %w", err)
	}
	return nil
}

// CreateRequest inserts the pending request paired with an assignment
func (r *Repository) CreateRequest(ctx context.Context, req *Request) error {
	query := `
		INSERT INTO accounting.requests (id, assignment_id, accountant_id, therapist_id, status, created_at)
		VALUES ($1, $2, $3, $4, $5, NOW())`

	_, err := r.pool.Exec(ctx, query, req.ID, req.AssignmentID, req.AccountantID, req.TherapistID, string(req.Status))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	return nil
}

// GetRequest loads a request by ID, nil when absent
func (r *Repository) GetRequest(ctx context.Context, id types.ID) (*Request, error) {
	query := `
		SELECT id, assignment_id, accountant_id, therapist_id, status, created_at
		FROM accounting.requests WHERE id = $1`

	var req Request
	var status string
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&req.ID, &req.AssignmentID, &req.AccountantID, &req.TherapistID, &status, &req.CreatedAt)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get request: %w", err)
	}
	req.Status = RequestStatus(status)
	return &req, nil
}

// PendingRequests lists the accountant's open invitations
func (r *Repository) PendingRequests(ctx context.Context, accountantID types.ID) ([]*Request, error) {
	query := `
		SELECT id, assignment_id, accountant_id, therapist_id, status, created_at
		FROM accounting.requests
		WHERE accountant_id = $1 AND status = 'pending'
		ORDER BY created_at`

	rows, err := r.pool.Query(ctx, query, accountantID)
	if err != nil {
		return nil, fmt.Errorf("list pending requests: %w", err)
	}
	defer rows.Close()

	var requests []*Request
	for rows.Next() {
		var req Request
		var status string
		err := rows.Scan(&req.ID, &req.AssignmentID, &req.AccountantID, &req.TherapistID, &status, &req.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("scan request: %w", err)
		}
		req.Status = RequestStatus(status)
		requests = append(requests, &req)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate requests: %w", err)
	}
	return requests, nil
}

// Approve marks the request approved and activates its assignment in one
// transaction.
func (r *Repository) Approve(ctx context.Context, requestID types.ID) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin approve: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx,
		`UPDATE accounting.requests SET status = 'approved' WHERE id = $1 AND status = 'pending'`, requestID)
	if err != nil {
		return fmt.Errorf("approve request: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}

	_, err = tx.Exec(ctx, `
		UPDATE accounting.assignments SET approved = TRUE, approved_at = NOW()
		WHERE id = (SELECT assignment_id FROM accounting.requests WHERE id = $1)`, requestID)
	if err != nil {
		return fmt.Errorf("activate assignment: %w", err)
	}

	return tx.Commit(ctx)
}

// Reject deletes both the request and its assignment in one transaction.
func (r *Repository) Reject(ctx context.Context, requestID types.ID) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin reject: %w", err)
	}
	defer tx.Rollback(ctx)

	var assignmentID types.ID
	err = tx.QueryRow(ctx,
		`DELETE FROM accounting.requests WHERE id = $1 RETURNING assignment_id`, requestID).Scan(&assignmentID)
	if err == pgx.ErrNoRows {
		return pgx.ErrNoRows
	}
	if err != nil {
		return fmt.Errorf("delete request: %w", err)
	}

	_, err = tx.Exec(ctx, `DELETE FROM accounting.assignments WHERE id = $1`, assignmentID)
	if err != nil {
		return fmt.Errorf("delete assignment: %w", err)
	}

	return tx.Commit(ctx)
}

// HasApprovedAssignment answers the resolution engine's step-two check
func (r *Repository) HasApprovedAssignment(ctx context.Context, accountantID, therapistID types.ID) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM accounting.assignments
			WHERE accountant_id = $1 AND therapist_id = $2 AND approved
		)`

	var exists bool
	if err := r.pool.QueryRow(ctx, query, accountantID, therapistID).Scan(&exists); err != nil {
		return false, fmt.Errorf("check approved assignment: %w", err)
	}
	return exists, nil
}
