// Package migration moves users from the legacy flat model into the
// hierarchy, one at a time, managers before their subordinates. Migration
// state is never stored; it is recomputed from presence in the two stores
// so a flag can never drift from reality.
package migration

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/praxia-health/platform/internal/access"
	"github.com/praxia-health/platform/internal/legacy"
	"github.com/praxia-health/platform/internal/organization"
	"github.com/praxia-health/platform/internal/shared/errors"
	"github.com/praxia-health/platform/internal/shared/events"
	"github.com/praxia-health/platform/internal/shared/metrics"
	"github.com/praxia-health/platform/internal/shared/types"
)

// Status of a user relative to the two permission stores.
type Status string

const (
	StatusNone    Status = "none"
	StatusOldOnly Status = "old_only"
	StatusBoth    Status = "both"
	StatusNewOnly Status = "new_only"
)

// HierarchyStore is the subset of the organization repository the
// coordinator reads and writes.
type HierarchyStore interface {
	HasPosition(ctx context.Context, userID, orgID types.ID) (bool, error)
	LevelForUser(ctx context.Context, userID, orgID types.ID) (*organization.Level, error)
	PositionForUser(ctx context.Context, userID, orgID types.ID) (*organization.Position, error)
	LevelByRank(ctx context.Context, orgID types.ID, rank int) (*organization.Level, error)
	AdoptMigrated(ctx context.Context, plan *organization.MigrationPlan) error
}

// LegacyStore is the subset of the legacy adapter the coordinator uses.
type LegacyStore interface {
	HasRecord(ctx context.Context, userID types.ID) (bool, error)
	ManagerOf(ctx context.Context, userID types.ID) (types.ID, bool, error)
	Autonomy(ctx context.Context, userID types.ID) (*legacy.AutonomySettings, error)
	DeleteUserRows(ctx context.Context, userID types.ID) error
}

// Invalidator drops cached access maps after a store transition.
type Invalidator interface {
	Invalidate(userID types.ID)
}

// Coordinator drives per-user migration and retirement.
type Coordinator struct {
	hierarchy   HierarchyStore
	legacy      LegacyStore
	invalidator Invalidator
	bus         events.EventBus
	logger      *zap.Logger
}

func NewCoordinator(hierarchy HierarchyStore, legacyStore LegacyStore, invalidator Invalidator, bus events.EventBus, logger *zap.Logger) *Coordinator {
	return &Coordinator{
		hierarchy:   hierarchy,
		legacy:      legacyStore,
		invalidator: invalidator,
		bus:         bus,
		logger:      logger,
	}
}

// Status recomputes the user's migration state from store presence.
func (c *Coordinator) Status(ctx context.Context, userID, orgID types.ID) (Status, error) {
	inLegacy, err := c.legacy.HasRecord(ctx, userID)
	if err != nil {
		return "", err
	}
	inHierarchy, err := c.hierarchy.HasPosition(ctx, userID, orgID)
	if err != nil {
		return "", err
	}

	switch {
	case inLegacy && inHierarchy:
		return StatusBoth, nil
	case inLegacy:
		return StatusOldOnly, nil
	case inHierarchy:
		return StatusNewOnly, nil
	}
	return StatusNone, nil
}

// Migrate places the user in the hierarchy below their legacy manager and
// snapshots the autonomy flags into level permissions. Legacy rows are left
// in place; both stores stay readable until explicit retirement.
func (c *Coordinator) Migrate(ctx context.Context, userID, orgID types.ID) error {
	status, err := c.Status(ctx, userID, orgID)
	if err != nil {
		return err
	}
	if status != StatusOldOnly {
		metrics.RecordMigration("rejected")
		return errors.Conflict(fmt.Sprintf("user is %s, only old_only users can migrate", status))
	}

	plan, err := c.buildPlan(ctx, userID, orgID)
	if err != nil {
		metrics.RecordMigration("rejected")
		return err
	}

	if err := c.hierarchy.AdoptMigrated(ctx, plan); err != nil {
		metrics.RecordMigration("failed")
		return err
	}

	c.invalidator.Invalidate(userID)
	metrics.RecordMigration("migrated")

	event := events.NewEvent(events.TypeUserMigrated, "migration", map[string]string{
		"user_id":         userID.String(),
		"organization_id": orgID.String(),
	})
	if err := c.bus.Publish(ctx, event); err != nil {
		c.logger.Warn("publish user migrated", zap.Error(err))
	}

	c.logger.Info("user migrated",
		zap.String("user_id", userID.String()),
		zap.String("organization_id", orgID.String()))
	return nil
}

// buildPlan locates the manager's rung and prepares the rows one commit
// will write. A legacy top manager has no manager of their own and lands at
// rank 1.
func (c *Coordinator) buildPlan(ctx context.Context, userID, orgID types.ID) (*organization.MigrationPlan, error) {
	managerID, hasManager, err := c.legacy.ManagerOf(ctx, userID)
	if err != nil {
		return nil, err
	}

	targetRank := 1
	var parentPosition *organization.Position
	if hasManager {
		managerLevel, err := c.hierarchy.LevelForUser(ctx, managerID, orgID)
		if err != nil {
			return nil, err
		}
		if managerLevel == nil {
			return nil, errors.ManagerNotMigrated(managerID.String())
		}
		parentPosition, err = c.hierarchy.PositionForUser(ctx, managerID, orgID)
		if err != nil {
			return nil, err
		}
		targetRank = managerLevel.Rank + 1
	}

	level, err := c.hierarchy.LevelByRank(ctx, orgID, targetRank)
	if err != nil {
		return nil, err
	}

	plan := &organization.MigrationPlan{}
	if level == nil {
		level = &organization.Level{
			ID:             types.NewID(),
			OrganizationID: orgID,
			Rank:           targetRank,
			Name:           fmt.Sprintf("Nível %d", targetRank),
		}
		plan.NewLevel = level
		plan.Permissions = c.snapshotPermissions(ctx, userID, level)
	}

	position := &organization.Position{
		ID:      types.NewID(),
		LevelID: level.ID,
		Name:    "Migrado",
	}
	if parentPosition != nil {
		position.ParentID = &parentPosition.ID
	}
	plan.Position = position
	plan.Binding = &organization.UserPosition{
		ID:             types.NewID(),
		UserID:         userID,
		OrganizationID: orgID,
		PositionID:     position.ID,
	}
	return plan, nil
}

// snapshotPermissions translates the legacy autonomy flags into permission
// rows via the shared cascade. The snapshot is one-time; after it the level
// permissions are authoritative and later legacy edits are invisible.
// Rank 1 is implicitly full and never gets rows.
func (c *Coordinator) snapshotPermissions(ctx context.Context, userID types.ID, level *organization.Level) []organization.LevelPermission {
	if level.Rank == 1 {
		return nil
	}

	var flags access.Autonomy
	settings, err := c.legacy.Autonomy(ctx, userID)
	if err != nil {
		c.logger.Warn("read legacy autonomy, snapshotting without flags", zap.Error(err))
	} else if settings != nil {
		flags = settings.Autonomy()
	}
	if flags.EmissionMode == "" {
		flags.EmissionMode = access.EmitOwnCompany
	}

	perms := make([]organization.LevelPermission, 0, len(access.Domains))
	for _, d := range access.Domains {
		if !d.RequiresAuthorization() {
			continue
		}
		perms = append(perms, organization.LevelPermission{
			ID:                 types.NewID(),
			LevelID:            level.ID,
			Domain:             d,
			AccessLevel:        access.Cascade(flags, d),
			ManagesOwnPatients: flags.ManagesOwnPatients,
			HasFinancialAccess: flags.HasFinancialAccess,
			EmissionMode:       flags.EmissionMode,
		})
	}
	return perms
}

// Retire deletes the user's legacy rows, transitioning both to new_only.
// Admin triggered and irreversible.
func (c *Coordinator) Retire(ctx context.Context, userID, orgID types.ID) error {
	status, err := c.Status(ctx, userID, orgID)
	if err != nil {
		return err
	}
	if status != StatusBoth {
		metrics.RecordMigration("retire_rejected")
		return errors.Conflict(fmt.Sprintf("user is %s, only both users can retire", status))
	}

	if err := c.legacy.DeleteUserRows(ctx, userID); err != nil {
		metrics.RecordMigration("retire_failed")
		return err
	}

	c.invalidator.Invalidate(userID)
	metrics.RecordMigration("retired")

	event := events.NewEvent(events.TypeUserRetired, "migration", map[string]string{
		"user_id":         userID.String(),
		"organization_id": orgID.String(),
	})
	if err := c.bus.Publish(ctx, event); err != nil {
		c.logger.Warn("publish user retired", zap.Error(err))
	}
	return nil
}
