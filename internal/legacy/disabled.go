package legacy

import (
	"context"

	"github.com/praxia-health/platform/internal/access"
	"github.com/praxia-health/platform/internal/shared/types"
)

// Disabled stands in for the adapter when no legacy database is configured.
// Every user looks like they never entered the old product.
type Disabled struct{}

func (Disabled) GetLegacyAccess(_ context.Context, _ types.ID, _ access.Domain) (access.Level, error) {
	return access.LevelNone, nil
}

func (Disabled) Assignment(context.Context, types.ID) (*TherapistAssignment, error) {
	return nil, nil
}

func (Disabled) Autonomy(context.Context, types.ID) (*AutonomySettings, error) {
	return nil, nil
}

func (Disabled) ManagerOf(context.Context, types.ID) (types.ID, bool, error) {
	return "", false, nil
}

func (Disabled) IsManager(context.Context, types.ID) (bool, error) {
	return false, nil
}

func (Disabled) HasRecord(context.Context, types.ID) (bool, error) {
	return false, nil
}

func (Disabled) HasFiscalIdentity(context.Context, types.ID) (bool, error) {
	return false, nil
}

func (Disabled) DeleteUserRows(context.Context, types.ID) error {
	return nil
}
