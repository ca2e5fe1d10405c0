package legacy

import (
	"testing"

	"github.com/praxia-health/platform/internal/access"
	"github.com/praxia-health/platform/internal/shared/types"
)

func TestAutonomyExtraction(t *testing.T) {
	settings := &AutonomySettings{
		SubordinateID:      types.NewID(),
		ManagesOwnPatients: true,
		HasFinancialAccess: true,
		EmissionMode:       access.EmitManagerCompany,
	}

	flags := settings.Autonomy()
	if !flags.ManagesOwnPatients || !flags.HasFinancialAccess {
		t.Error("flags should carry over from the settings row")
	}
	if flags.EmissionMode != access.EmitManagerCompany {
		t.Errorf("EmissionMode = %v", flags.EmissionMode)
	}
}

// The legacy path and the hierarchy path intentionally share one cascade, so
// the flag translation here must match what resolve produces post-migration.
func TestLegacyCascadeParity(t *testing.T) {
	tests := []struct {
		name  string
		flags access.Autonomy
	}{
		{"no autonomy", access.Autonomy{}},
		{"own patients only", access.Autonomy{ManagesOwnPatients: true}},
		{"full autonomy", access.Autonomy{ManagesOwnPatients: true, HasFinancialAccess: true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, d := range access.Domains {
				direct := access.Cascade(tt.flags, d)
				// Migration snapshots the cascade output, then the hierarchy
				// path degrades the stored level against the cap; the result
				// must be the same level.
				snapshot := access.Cascade(tt.flags, d)
				viaHierarchy := access.Min(snapshot, access.CascadeCap(tt.flags, d))
				if direct != viaHierarchy {
					t.Errorf("domain %s: legacy %v != hierarchy %v", d, direct, viaHierarchy)
				}
			}
		})
	}
}

func TestDefaultConfigTables(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.AssignmentTable == "" || cfg.AutonomyTable == "" || cfg.FiscalTable == "" {
		t.Error("default config must name every legacy table")
	}
}
