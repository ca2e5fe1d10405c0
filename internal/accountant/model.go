// Package accountant implements the two-step assignment workflow: a
// therapist invites an accountant, the accountant approves or rejects the
// pending request, and only an approved assignment opens the financial
// domains to the accountant.
package accountant

import (
	"time"

	"github.com/praxia-health/platform/internal/shared/types"
)

// RequestStatus tracks the approval state of a pending invitation.
type RequestStatus string

const (
	StatusPending  RequestStatus = "pending"
	StatusApproved RequestStatus = "approved"
)

// Assignment links an accountant to a therapist. Inactive until approved.
type Assignment struct {
	ID           types.ID   `json:"id"`
	AccountantID types.ID   `json:"accountant_id"`
	TherapistID  types.ID   `json:"therapist_id"`
	Approved     bool       `json:"approved"`
	CreatedAt    time.Time  `json:"created_at"`
	ApprovedAt   *time.Time `json:"approved_at,omitempty"`
}

// Request is the pending half of the workflow, one per assignment.
type Request struct {
	ID           types.ID      `json:"id"`
	AssignmentID types.ID      `json:"assignment_id"`
	AccountantID types.ID      `json:"accountant_id"`
	TherapistID  types.ID      `json:"therapist_id"`
	Status       RequestStatus `json:"status"`
	CreatedAt    time.Time     `json:"created_at"`
}

// InviteRequest starts the workflow; the therapist names the accountant.
type InviteRequest struct {
	AccountantID string `json:"accountant_id"`
}
