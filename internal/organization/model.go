// Package organization implements the hierarchy side of the permission
// model: organizations, levels, positions, user bindings and per-level
// permission sets.
package organization

import (
	"time"

	"github.com/praxia-health/platform/internal/access"
	"github.com/praxia-health/platform/internal/shared/errors"
	"github.com/praxia-health/platform/internal/shared/types"
)

// Organization is the tenant boundary. Every level, position and permission
// set belongs to exactly one organization; resolution never crosses it.
type Organization struct {
	ID      types.ID   `json:"id"`
	LegalID types.CNPJ `json:"legal_id"`
	Name    string     `json:"name"`
	OwnerID types.ID   `json:"owner_id"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Level is a rung in an organization's hierarchy. Rank 1 is the top and is
// implicitly full-access; it never carries a permission set.
type Level struct {
	ID             types.ID  `json:"id"`
	OrganizationID types.ID  `json:"organization_id"`
	Rank           int       `json:"rank"`
	Name           string    `json:"name"`
	CreatedAt      time.Time `json:"created_at"`
}

// Position is a node in the tree rooted at a rank-1 position. A position's
// level rank must be strictly greater than its parent's.
type Position struct {
	ID        types.ID  `json:"id"`
	LevelID   types.ID  `json:"level_id"`
	ParentID  *types.ID `json:"parent_id,omitempty"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// UserPosition binds one user to one position. At most one active binding
// per (user, organization).
type UserPosition struct {
	ID             types.ID  `json:"id"`
	UserID         types.ID  `json:"user_id"`
	OrganizationID types.ID  `json:"organization_id"`
	PositionID     types.ID  `json:"position_id"`
	CreatedAt      time.Time `json:"created_at"`
}

// LevelPermission is one (level, domain) row of a level's permission set.
// Absence of a row resolves to access none.
type LevelPermission struct {
	ID                 types.ID            `json:"id"`
	LevelID            types.ID            `json:"level_id"`
	Domain             access.Domain       `json:"domain"`
	AccessLevel        access.Level        `json:"access_level"`
	ManagesOwnPatients bool                `json:"manages_own_patients"`
	HasFinancialAccess bool                `json:"has_financial_access"`
	EmissionMode       access.EmissionMode `json:"nfse_emission_mode"`
}

// Autonomy extracts the cascade flags from the row.
func (p *LevelPermission) Autonomy() access.Autonomy {
	return access.Autonomy{
		ManagesOwnPatients: p.ManagesOwnPatients,
		HasFinancialAccess: p.HasFinancialAccess,
		EmissionMode:       p.EmissionMode,
	}
}

// ValidatePlacement enforces hierarchy integrity for a new position: a root
// position must sit on rank 1; a child's level rank must be strictly greater
// than its parent's, within the same organization. Enforced at creation, so
// rank skips upward and cycles cannot enter the tree.
func ValidatePlacement(level *Level, parentLevel *Level) error {
	if parentLevel == nil {
		if level.Rank != 1 {
			return errors.RankViolation("a position without a parent must sit on rank 1")
		}
		return nil
	}
	if parentLevel.OrganizationID != level.OrganizationID {
		return errors.BadRequest("parent position belongs to another organization")
	}
	if parentLevel.Rank >= level.Rank {
		return errors.RankViolation("parent's level rank must be strictly above the position's")
	}
	return nil
}

// CreateOrganizationRequest is the request to create an organization
type CreateOrganizationRequest struct {
	LegalID string `json:"legal_id"`
	Name    string `json:"name"`
	OwnerID string `json:"owner_id"`
}

// CreateLevelRequest is the request to add a level to an organization
type CreateLevelRequest struct {
	Rank int    `json:"rank"`
	Name string `json:"name"`
}

// CreatePositionRequest is the request to add a position under a level
type CreatePositionRequest struct {
	LevelID  string  `json:"level_id"`
	ParentID *string `json:"parent_id,omitempty"`
	Name     string  `json:"name"`
}

// BindUserRequest binds a user to a position
type BindUserRequest struct {
	UserID     string `json:"user_id"`
	PositionID string `json:"position_id"`
}

// UpsertPermissionRequest sets one (level, domain) permission row
type UpsertPermissionRequest struct {
	Domain             string `json:"domain"`
	AccessLevel        string `json:"access_level"`
	ManagesOwnPatients bool   `json:"manages_own_patients"`
	HasFinancialAccess bool   `json:"has_financial_access"`
	EmissionMode       string `json:"nfse_emission_mode"`
}

// RegisterFiscalIdentityRequest registers a member's fiscal identity
type RegisterFiscalIdentityRequest struct {
	UserID string `json:"user_id"`
	CNPJ   string `json:"cnpj"`
}
