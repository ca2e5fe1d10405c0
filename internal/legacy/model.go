// Package legacy reads the previous generation of the product, which kept a
// flat manager/subordinate model in a SQL Server database. Once a user holds
// a position in the hierarchy these tables become read-only history for that
// user; until then they are authoritative.
package legacy

import (
	"github.com/praxia-health/platform/internal/access"
	"github.com/praxia-health/platform/internal/shared/types"
)

// TherapistAssignment links a subordinate to their manager. One manager per
// subordinate in the legacy model.
type TherapistAssignment struct {
	ManagerID     types.ID `json:"manager_id"`
	SubordinateID types.ID `json:"subordinate_id"`
}

// AutonomySettings carries the per-subordinate flags the legacy model used
// in place of level permission sets. They express exactly the cascade the
// hierarchy model captures per level.
type AutonomySettings struct {
	SubordinateID      types.ID            `json:"subordinate_id"`
	ManagesOwnPatients bool                `json:"manages_own_patients"`
	HasFinancialAccess bool                `json:"has_financial_access"`
	EmissionMode       access.EmissionMode `json:"nfse_emission_mode"`
}

// Autonomy extracts the cascade flags from the settings row.
func (s *AutonomySettings) Autonomy() access.Autonomy {
	return access.Autonomy{
		ManagesOwnPatients: s.ManagesOwnPatients,
		HasFinancialAccess: s.HasFinancialAccess,
		EmissionMode:       s.EmissionMode,
	}
}

// Config holds legacy adapter table names; the old schema is not ours to
// rename, so the names are configurable for staging copies.
type Config struct {
	AssignmentTable string `json:"assignment_table"`
	AutonomyTable   string `json:"autonomy_table"`
	FiscalTable     string `json:"fiscal_table"`
}

// DefaultConfig returns the production legacy table names
func DefaultConfig() Config {
	return Config{
		AssignmentTable: "dbo.TherapistAssignments",
		AutonomyTable:   "dbo.SubordinateAutonomySettings",
		FiscalTable:     "dbo.CompanyRegistrations",
	}
}
