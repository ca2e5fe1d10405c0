package migration

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/praxia-health/platform/internal/access"
	"github.com/praxia-health/platform/internal/legacy"
	"github.com/praxia-health/platform/internal/organization"
	"github.com/praxia-health/platform/internal/shared/errors"
	"github.com/praxia-health/platform/internal/shared/events"
	"github.com/praxia-health/platform/internal/shared/types"
)

type fakeHierarchy struct {
	levels    map[int]*organization.Level
	positions map[types.ID]*organization.Position
	bindings  map[types.ID]*organization.UserPosition
	perms     map[types.ID][]organization.LevelPermission

	adopted []*organization.MigrationPlan
}

func newFakeHierarchy() *fakeHierarchy {
	return &fakeHierarchy{
		levels:    map[int]*organization.Level{},
		positions: map[types.ID]*organization.Position{},
		bindings:  map[types.ID]*organization.UserPosition{},
		perms:     map[types.ID][]organization.LevelPermission{},
	}
}

func (f *fakeHierarchy) HasPosition(_ context.Context, userID, _ types.ID) (bool, error) {
	_, ok := f.bindings[userID]
	return ok, nil
}

func (f *fakeHierarchy) LevelForUser(_ context.Context, userID, _ types.ID) (*organization.Level, error) {
	binding, ok := f.bindings[userID]
	if !ok {
		return nil, nil
	}
	pos := f.positions[binding.PositionID]
	for _, level := range f.levels {
		if level.ID == pos.LevelID {
			return level, nil
		}
	}
	return nil, nil
}

func (f *fakeHierarchy) PositionForUser(_ context.Context, userID, _ types.ID) (*organization.Position, error) {
	binding, ok := f.bindings[userID]
	if !ok {
		return nil, nil
	}
	return f.positions[binding.PositionID], nil
}

func (f *fakeHierarchy) LevelByRank(_ context.Context, _ types.ID, rank int) (*organization.Level, error) {
	return f.levels[rank], nil
}

func (f *fakeHierarchy) AdoptMigrated(_ context.Context, plan *organization.MigrationPlan) error {
	if plan.NewLevel != nil {
		f.levels[plan.NewLevel.Rank] = plan.NewLevel
	}
	f.positions[plan.Position.ID] = plan.Position
	f.bindings[plan.Binding.UserID] = plan.Binding
	if plan.NewLevel != nil {
		f.perms[plan.NewLevel.ID] = plan.Permissions
	}
	f.adopted = append(f.adopted, plan)
	return nil
}

type fakeLegacy struct {
	records  map[types.ID]bool
	managers map[types.ID]types.ID
	autonomy map[types.ID]*legacy.AutonomySettings
	deleted  []types.ID
}

func newFakeLegacy() *fakeLegacy {
	return &fakeLegacy{
		records:  map[types.ID]bool{},
		managers: map[types.ID]types.ID{},
		autonomy: map[types.ID]*legacy.AutonomySettings{},
	}
}

func (f *fakeLegacy) HasRecord(_ context.Context, userID types.ID) (bool, error) {
	return f.records[userID], nil
}

func (f *fakeLegacy) ManagerOf(_ context.Context, userID types.ID) (types.ID, bool, error) {
	id, ok := f.managers[userID]
	return id, ok, nil
}

func (f *fakeLegacy) Autonomy(_ context.Context, userID types.ID) (*legacy.AutonomySettings, error) {
	return f.autonomy[userID], nil
}

func (f *fakeLegacy) DeleteUserRows(_ context.Context, userID types.ID) error {
	f.records[userID] = false
	f.deleted = append(f.deleted, userID)
	return nil
}

type noopInvalidator struct{ calls []types.ID }

func (n *noopInvalidator) Invalidate(userID types.ID) { n.calls = append(n.calls, userID) }

func newCoordinator(h *fakeHierarchy, l *fakeLegacy) (*Coordinator, *noopInvalidator) {
	inv := &noopInvalidator{}
	return NewCoordinator(h, l, inv, events.NopBus{}, zap.NewNop()), inv
}

func TestStatus(t *testing.T) {
	org := types.NewID()
	h := newFakeHierarchy()
	l := newFakeLegacy()
	c, _ := newCoordinator(h, l)

	fresh := types.NewID()
	status, err := c.Status(context.Background(), fresh, org)
	require.NoError(t, err)
	assert.Equal(t, StatusNone, status)

	legacyUser := types.NewID()
	l.records[legacyUser] = true
	status, err = c.Status(context.Background(), legacyUser, org)
	require.NoError(t, err)
	assert.Equal(t, StatusOldOnly, status)

	hierarchyUser := types.NewID()
	h.bindings[hierarchyUser] = &organization.UserPosition{UserID: hierarchyUser}
	status, err = c.Status(context.Background(), hierarchyUser, org)
	require.NoError(t, err)
	assert.Equal(t, StatusNewOnly, status)

	l.records[hierarchyUser] = true
	status, err = c.Status(context.Background(), hierarchyUser, org)
	require.NoError(t, err)
	assert.Equal(t, StatusBoth, status)
}

func TestMigrateRequiresMigratedManager(t *testing.T) {
	org := types.NewID()
	h := newFakeHierarchy()
	l := newFakeLegacy()
	c, _ := newCoordinator(h, l)

	manager := types.NewID()
	subordinate := types.NewID()
	l.records[manager] = true
	l.records[subordinate] = true
	l.managers[subordinate] = manager

	err := c.Migrate(context.Background(), subordinate, org)
	assert.ErrorIs(t, err, errors.ErrManagerNotMigrated)

	// Manager first, then the subordinate succeeds.
	require.NoError(t, c.Migrate(context.Background(), manager, org))
	require.NoError(t, c.Migrate(context.Background(), subordinate, org))
}

func TestMigrateTopManagerLandsAtRankOne(t *testing.T) {
	org := types.NewID()
	h := newFakeHierarchy()
	l := newFakeLegacy()
	c, _ := newCoordinator(h, l)

	manager := types.NewID()
	l.records[manager] = true

	require.NoError(t, c.Migrate(context.Background(), manager, org))

	level := h.levels[1]
	require.NotNil(t, level)
	assert.Empty(t, h.perms[level.ID], "rank one carries no permission rows")

	pos, err := h.PositionForUser(context.Background(), manager, org)
	require.NoError(t, err)
	assert.Nil(t, pos.ParentID)
}

func TestMigrateSnapshotsCascade(t *testing.T) {
	org := types.NewID()
	h := newFakeHierarchy()
	l := newFakeLegacy()
	c, inv := newCoordinator(h, l)

	manager := types.NewID()
	subordinate := types.NewID()
	l.records[manager] = true
	l.records[subordinate] = true
	l.managers[subordinate] = manager
	l.autonomy[subordinate] = &legacy.AutonomySettings{
		SubordinateID:      subordinate,
		ManagesOwnPatients: true,
		HasFinancialAccess: false,
		EmissionMode:       access.EmitOwnCompany,
	}

	require.NoError(t, c.Migrate(context.Background(), manager, org))
	require.NoError(t, c.Migrate(context.Background(), subordinate, org))

	level := h.levels[2]
	require.NotNil(t, level, "subordinate lands one rank below the manager")

	byDomain := map[access.Domain]organization.LevelPermission{}
	for _, p := range h.perms[level.ID] {
		byDomain[p.Domain] = p
	}

	// The snapshot must equal the legacy cascade for every domain.
	flags := l.autonomy[subordinate].Autonomy()
	for _, d := range access.Domains {
		if !d.RequiresAuthorization() {
			continue
		}
		require.Contains(t, byDomain, d)
		assert.Equal(t, access.Cascade(flags, d), byDomain[d].AccessLevel, "domain %s", d)
	}

	// And resolving through the stored rows reproduces it too.
	for _, d := range access.Domains {
		if !d.RequiresAuthorization() {
			continue
		}
		p := byDomain[d]
		resolved := access.Min(p.AccessLevel, access.CascadeCap(p.Autonomy(), d))
		assert.Equal(t, access.Cascade(flags, d), resolved, "domain %s", d)
	}

	assert.Contains(t, inv.calls, subordinate)

	// The subordinate's position hangs off the manager's.
	subPos, err := h.PositionForUser(context.Background(), subordinate, org)
	require.NoError(t, err)
	mgrPos, err := h.PositionForUser(context.Background(), manager, org)
	require.NoError(t, err)
	require.NotNil(t, subPos.ParentID)
	assert.Equal(t, mgrPos.ID, *subPos.ParentID)
}

func TestMigrateReusesExistingLevel(t *testing.T) {
	org := types.NewID()
	h := newFakeHierarchy()
	l := newFakeLegacy()
	c, _ := newCoordinator(h, l)

	manager := types.NewID()
	first := types.NewID()
	second := types.NewID()
	for _, u := range []types.ID{manager, first, second} {
		l.records[u] = true
	}
	l.managers[first] = manager
	l.managers[second] = manager

	require.NoError(t, c.Migrate(context.Background(), manager, org))
	require.NoError(t, c.Migrate(context.Background(), first, org))

	levelID := h.levels[2].ID
	require.NoError(t, c.Migrate(context.Background(), second, org))
	assert.Equal(t, levelID, h.levels[2].ID, "second sibling reuses the level")

	// Only the plan that created the level carried permission rows.
	assert.Nil(t, h.adopted[2].NewLevel)
	assert.Empty(t, h.adopted[2].Permissions)
}

func TestMigrateRejectsWrongState(t *testing.T) {
	org := types.NewID()
	h := newFakeHierarchy()
	l := newFakeLegacy()
	c, _ := newCoordinator(h, l)

	user := types.NewID()
	err := c.Migrate(context.Background(), user, org)
	require.Error(t, err)
	appErr, ok := err.(*errors.AppError)
	require.True(t, ok)
	assert.Equal(t, "CONFLICT", appErr.Code)

	l.records[user] = true
	require.NoError(t, c.Migrate(context.Background(), user, org))

	// Already migrated; a second migrate must fail.
	err = c.Migrate(context.Background(), user, org)
	require.Error(t, err)
}

func TestRetire(t *testing.T) {
	org := types.NewID()
	h := newFakeHierarchy()
	l := newFakeLegacy()
	c, _ := newCoordinator(h, l)

	user := types.NewID()

	t.Run("rejects users not in both state", func(t *testing.T) {
		l.records[user] = true
		err := c.Retire(context.Background(), user, org)
		require.Error(t, err)
	})

	t.Run("deletes legacy rows after migration", func(t *testing.T) {
		require.NoError(t, c.Migrate(context.Background(), user, org))
		require.NoError(t, c.Retire(context.Background(), user, org))
		assert.Contains(t, l.deleted, user)

		status, err := c.Status(context.Background(), user, org)
		require.NoError(t, err)
		assert.Equal(t, StatusNewOnly, status)
	})
}
