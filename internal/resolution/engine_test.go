package resolution

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/praxia-health/platform/internal/access"
	"github.com/praxia-health/platform/internal/legacy"
	"github.com/praxia-health/platform/internal/organization"
	"github.com/praxia-health/platform/internal/shared/auth"
	"github.com/praxia-health/platform/internal/shared/errors"
	"github.com/praxia-health/platform/internal/shared/types"
)

type fakeHierarchy struct {
	levels      map[types.ID]*organization.Level
	permissions map[types.ID]map[access.Domain]*organization.LevelPermission
	owner       types.ID
	managers    map[types.ID]types.ID
	fiscal      map[types.ID]bool
}

func (f *fakeHierarchy) LevelForUser(_ context.Context, userID, _ types.ID) (*organization.Level, error) {
	return f.levels[userID], nil
}

func (f *fakeHierarchy) Permission(_ context.Context, levelID types.ID, domain access.Domain) (*organization.LevelPermission, error) {
	return f.permissions[levelID][domain], nil
}

func (f *fakeHierarchy) OrganizationOwner(_ context.Context, _ types.ID) (types.ID, error) {
	return f.owner, nil
}

func (f *fakeHierarchy) ManagerForUser(_ context.Context, userID, _ types.ID) (types.ID, bool, error) {
	id, ok := f.managers[userID]
	return id, ok, nil
}

func (f *fakeHierarchy) HasFiscalIdentity(_ context.Context, _, userID types.ID) (bool, error) {
	return f.fiscal[userID], nil
}

type fakeLegacy struct {
	autonomy map[types.ID]*legacy.AutonomySettings
	managers map[types.ID]types.ID
	isMgr    map[types.ID]bool
	fiscal   map[types.ID]bool
}

func (f *fakeLegacy) GetLegacyAccess(_ context.Context, userID types.ID, domain access.Domain) (access.Level, error) {
	if f.isMgr[userID] {
		return access.LevelFull, nil
	}
	_, assigned := f.managers[userID]
	if !assigned {
		if _, hasAutonomy := f.autonomy[userID]; !hasAutonomy {
			return access.LevelNone, nil
		}
	}
	var flags access.Autonomy
	if s := f.autonomy[userID]; s != nil {
		flags = s.Autonomy()
	}
	return access.Cascade(flags, domain), nil
}

func (f *fakeLegacy) Autonomy(_ context.Context, userID types.ID) (*legacy.AutonomySettings, error) {
	return f.autonomy[userID], nil
}

func (f *fakeLegacy) ManagerOf(_ context.Context, userID types.ID) (types.ID, bool, error) {
	id, ok := f.managers[userID]
	return id, ok, nil
}

func (f *fakeLegacy) HasFiscalIdentity(_ context.Context, userID types.ID) (bool, error) {
	return f.fiscal[userID], nil
}

type fakeSharing struct {
	shared map[types.ID]map[access.Domain]bool
}

func (f *fakeSharing) SharedDomains(_ context.Context, userID, _ types.ID) (map[access.Domain]bool, error) {
	if f.shared == nil {
		return map[access.Domain]bool{}, nil
	}
	m := f.shared[userID]
	if m == nil {
		m = map[access.Domain]bool{}
	}
	return m, nil
}

type fakeAccountants struct {
	approved map[types.ID]types.ID
}

func (f *fakeAccountants) HasApprovedAssignment(_ context.Context, accountantID, therapistID types.ID) (bool, error) {
	return f.approved[accountantID] == therapistID, nil
}

type fixture struct {
	hierarchy   *fakeHierarchy
	legacy      *fakeLegacy
	sharing     *fakeSharing
	accountants *fakeAccountants
	engine      *Engine
}

func newFixture() *fixture {
	f := &fixture{
		hierarchy: &fakeHierarchy{
			levels:      map[types.ID]*organization.Level{},
			permissions: map[types.ID]map[access.Domain]*organization.LevelPermission{},
			managers:    map[types.ID]types.ID{},
			fiscal:      map[types.ID]bool{},
		},
		legacy: &fakeLegacy{
			autonomy: map[types.ID]*legacy.AutonomySettings{},
			managers: map[types.ID]types.ID{},
			isMgr:    map[types.ID]bool{},
			fiscal:   map[types.ID]bool{},
		},
		sharing:     &fakeSharing{shared: map[types.ID]map[access.Domain]bool{}},
		accountants: &fakeAccountants{approved: map[types.ID]types.ID{}},
	}
	f.engine = NewEngine(f.hierarchy, f.legacy, f.sharing, f.accountants, zap.NewNop())
	return f
}

func eval(userID, orgID types.ID, flags auth.RoleFlags) Evaluation {
	return Evaluation{UserID: userID, OrganizationID: orgID, Flags: flags}
}

func TestResolveFailClosed(t *testing.T) {
	f := newFixture()
	user := types.NewID()
	org := types.NewID()

	for _, d := range access.Domains {
		level, err := f.engine.Resolve(context.Background(), eval(user, org, auth.RoleFlags{}), d)
		require.NoError(t, err)
		if d.RequiresAuthorization() {
			assert.Equal(t, access.LevelNone, level, "domain %s", d)
		} else {
			assert.Equal(t, access.LevelFull, level, "domain %s", d)
		}
	}
}

func TestResolveAdminDominates(t *testing.T) {
	f := newFixture()
	user := types.NewID()
	org := types.NewID()

	for _, d := range access.Domains {
		level, err := f.engine.Resolve(context.Background(), eval(user, org, auth.RoleFlags{IsAdmin: true}), d)
		require.NoError(t, err)
		assert.Equal(t, access.LevelFull, level, "domain %s", d)
	}
}

func TestResolveAccountant(t *testing.T) {
	f := newFixture()
	accountant := types.NewID()
	owner := types.NewID()
	org := types.NewID()
	f.hierarchy.owner = owner

	hardDenied := []access.Domain{
		access.DomainClinical, access.DomainAdministrative, access.DomainPatients,
		access.DomainSchedule, access.DomainMedia, access.DomainTeam,
	}
	served := []access.Domain{
		access.DomainFinancial, access.DomainNFSe, access.DomainReports, access.DomainStatistics,
	}

	flags := auth.RoleFlags{IsAccountant: true}

	t.Run("without approved assignment everything is none", func(t *testing.T) {
		for _, d := range append(hardDenied, served...) {
			level, err := f.engine.Resolve(context.Background(), eval(accountant, org, flags), d)
			require.NoError(t, err)
			assert.Equal(t, access.LevelNone, level, "domain %s", d)
		}
	})

	t.Run("approved assignment grants write on served domains only", func(t *testing.T) {
		f.accountants.approved[accountant] = owner
		for _, d := range served {
			level, err := f.engine.Resolve(context.Background(), eval(accountant, org, flags), d)
			require.NoError(t, err)
			assert.Equal(t, access.LevelWrite, level, "domain %s", d)
		}
		for _, d := range hardDenied {
			level, err := f.engine.Resolve(context.Background(), eval(accountant, org, flags), d)
			require.NoError(t, err)
			assert.Equal(t, access.LevelNone, level, "domain %s", d)
		}
	})

	t.Run("hard deny ignores sharing", func(t *testing.T) {
		f.sharing.shared[accountant] = map[access.Domain]bool{access.DomainClinical: true}
		level, err := f.engine.Resolve(context.Background(), eval(accountant, org, flags), access.DomainClinical)
		require.NoError(t, err)
		assert.Equal(t, access.LevelNone, level)
	})
}

func TestResolveHierarchyPath(t *testing.T) {
	f := newFixture()
	org := types.NewID()

	t.Run("rank one is implicitly full", func(t *testing.T) {
		owner := types.NewID()
		f.hierarchy.levels[owner] = &organization.Level{ID: types.NewID(), OrganizationID: org, Rank: 1}
		level, err := f.engine.Resolve(context.Background(), eval(owner, org, auth.RoleFlags{}), access.DomainFinancial)
		require.NoError(t, err)
		assert.Equal(t, access.LevelFull, level)
	})

	t.Run("stored grant degraded by autonomy cascade", func(t *testing.T) {
		user := types.NewID()
		levelID := types.NewID()
		f.hierarchy.levels[user] = &organization.Level{ID: levelID, OrganizationID: org, Rank: 2}
		f.hierarchy.permissions[levelID] = map[access.Domain]*organization.LevelPermission{
			access.DomainClinical: {
				LevelID:            levelID,
				Domain:             access.DomainClinical,
				AccessLevel:        access.LevelFull,
				ManagesOwnPatients: false,
			},
			access.DomainFinancial: {
				LevelID:            levelID,
				Domain:             access.DomainFinancial,
				AccessLevel:        access.LevelWrite,
				ManagesOwnPatients: true,
				HasFinancialAccess: true,
			},
		}

		// Stored full on clinical is crushed to none when the level does
		// not manage its own patients.
		level, err := f.engine.Resolve(context.Background(), eval(user, org, auth.RoleFlags{}), access.DomainClinical)
		require.NoError(t, err)
		assert.Equal(t, access.LevelNone, level)

		// Stored write on financial passes the gate untouched.
		level, err = f.engine.Resolve(context.Background(), eval(user, org, auth.RoleFlags{}), access.DomainFinancial)
		require.NoError(t, err)
		assert.Equal(t, access.LevelWrite, level)
	})

	t.Run("missing permission row resolves to none", func(t *testing.T) {
		user := types.NewID()
		levelID := types.NewID()
		f.hierarchy.levels[user] = &organization.Level{ID: levelID, OrganizationID: org, Rank: 3}
		level, err := f.engine.Resolve(context.Background(), eval(user, org, auth.RoleFlags{}), access.DomainReports)
		require.NoError(t, err)
		assert.Equal(t, access.LevelNone, level)
	})
}

func TestResolveLegacyPath(t *testing.T) {
	f := newFixture()
	org := types.NewID()
	manager := types.NewID()
	subordinate := types.NewID()

	f.legacy.managers[subordinate] = manager
	f.legacy.isMgr[manager] = true
	f.legacy.autonomy[subordinate] = &legacy.AutonomySettings{
		SubordinateID:      subordinate,
		ManagesOwnPatients: true,
		HasFinancialAccess: false,
		EmissionMode:       access.EmitOwnCompany,
	}

	t.Run("manager side sees full", func(t *testing.T) {
		level, err := f.engine.Resolve(context.Background(), eval(manager, org, auth.RoleFlags{}), access.DomainClinical)
		require.NoError(t, err)
		assert.Equal(t, access.LevelFull, level)
	})

	t.Run("subordinate cascade", func(t *testing.T) {
		cases := map[access.Domain]access.Level{
			access.DomainClinical:       access.LevelFull,
			access.DomainPatients:       access.LevelFull,
			access.DomainAdministrative: access.LevelRead,
			access.DomainSchedule:       access.LevelRead,
			access.DomainFinancial:      access.LevelNone,
			access.DomainNFSe:           access.LevelNone,
			access.DomainMedia:          access.LevelNone,
		}
		for d, want := range cases {
			level, err := f.engine.Resolve(context.Background(), eval(subordinate, org, auth.RoleFlags{}), d)
			require.NoError(t, err)
			assert.Equal(t, want, level, "domain %s", d)
		}
	})

	t.Run("hierarchy position wins over legacy record", func(t *testing.T) {
		levelID := types.NewID()
		f.hierarchy.levels[subordinate] = &organization.Level{ID: levelID, OrganizationID: org, Rank: 2}
		f.hierarchy.permissions[levelID] = map[access.Domain]*organization.LevelPermission{
			access.DomainClinical: {
				LevelID:     levelID,
				Domain:      access.DomainClinical,
				AccessLevel: access.LevelRead,
				// manages_own_patients false: the hierarchy row is
				// authoritative even though legacy says otherwise.
			},
		}
		level, err := f.engine.Resolve(context.Background(), eval(subordinate, org, auth.RoleFlags{}), access.DomainClinical)
		require.NoError(t, err)
		assert.Equal(t, access.LevelNone, level)
		delete(f.hierarchy.levels, subordinate)
	})
}

func TestSharingOverlayIsAdditive(t *testing.T) {
	f := newFixture()
	org := types.NewID()
	user := types.NewID()

	base, err := f.engine.Resolve(context.Background(), eval(user, org, auth.RoleFlags{}), access.DomainCharts)
	require.NoError(t, err)
	assert.Equal(t, access.LevelNone, base)

	f.sharing.shared[user] = map[access.Domain]bool{access.DomainCharts: true}

	withSharing, err := f.engine.Resolve(context.Background(), eval(user, org, auth.RoleFlags{}), access.DomainCharts)
	require.NoError(t, err)
	assert.Equal(t, access.LevelFull, withSharing)
	assert.True(t, withSharing.Satisfies(base), "overlay must never lower access")

	// Unshared domains are untouched.
	other, err := f.engine.Resolve(context.Background(), eval(user, org, auth.RoleFlags{}), access.DomainReports)
	require.NoError(t, err)
	assert.Equal(t, access.LevelNone, other)
}

func TestResolveEmissionMode(t *testing.T) {
	org := types.NewID()

	t.Run("own company passes through", func(t *testing.T) {
		f := newFixture()
		user := types.NewID()
		f.legacy.autonomy[user] = &legacy.AutonomySettings{
			SubordinateID: user,
			EmissionMode:  access.EmitOwnCompany,
		}
		mode, err := f.engine.ResolveEmissionMode(context.Background(), eval(user, org, auth.RoleFlags{}))
		require.NoError(t, err)
		assert.Equal(t, access.EmitOwnCompany, mode)
	})

	t.Run("manager company requires manager fiscal identity", func(t *testing.T) {
		f := newFixture()
		user := types.NewID()
		manager := types.NewID()
		f.legacy.autonomy[user] = &legacy.AutonomySettings{
			SubordinateID:      user,
			ManagesOwnPatients: true,
			HasFinancialAccess: true,
			EmissionMode:       access.EmitManagerCompany,
		}
		f.legacy.managers[user] = manager

		_, err := f.engine.ResolveEmissionMode(context.Background(), eval(user, org, auth.RoleFlags{}))
		assert.ErrorIs(t, err, errors.ErrEmissionModeUnavailable)

		f.legacy.fiscal[manager] = true
		mode, err := f.engine.ResolveEmissionMode(context.Background(), eval(user, org, auth.RoleFlags{}))
		require.NoError(t, err)
		assert.Equal(t, access.EmitManagerCompany, mode)
	})

	t.Run("manager company requires financial access", func(t *testing.T) {
		f := newFixture()
		user := types.NewID()
		manager := types.NewID()
		f.legacy.autonomy[user] = &legacy.AutonomySettings{
			SubordinateID:      user,
			ManagesOwnPatients: true,
			HasFinancialAccess: false,
			EmissionMode:       access.EmitManagerCompany,
		}
		f.legacy.managers[user] = manager
		f.legacy.fiscal[manager] = true

		_, err := f.engine.ResolveEmissionMode(context.Background(), eval(user, org, auth.RoleFlags{}))
		assert.ErrorIs(t, err, errors.ErrEmissionModeUnavailable)
	})

	t.Run("hierarchy path reads the nfse permission row", func(t *testing.T) {
		f := newFixture()
		user := types.NewID()
		manager := types.NewID()
		levelID := types.NewID()
		f.hierarchy.levels[user] = &organization.Level{ID: levelID, OrganizationID: org, Rank: 2}
		f.hierarchy.permissions[levelID] = map[access.Domain]*organization.LevelPermission{
			access.DomainNFSe: {
				LevelID:            levelID,
				Domain:             access.DomainNFSe,
				AccessLevel:        access.LevelFull,
				ManagesOwnPatients: true,
				HasFinancialAccess: true,
				EmissionMode:       access.EmitManagerCompany,
			},
		}
		f.hierarchy.managers[user] = manager

		_, err := f.engine.ResolveEmissionMode(context.Background(), eval(user, org, auth.RoleFlags{}))
		assert.ErrorIs(t, err, errors.ErrEmissionModeUnavailable)

		f.hierarchy.fiscal[manager] = true
		mode, err := f.engine.ResolveEmissionMode(context.Background(), eval(user, org, auth.RoleFlags{}))
		require.NoError(t, err)
		assert.Equal(t, access.EmitManagerCompany, mode)
	})

	t.Run("hierarchy row without financial access is unavailable", func(t *testing.T) {
		f := newFixture()
		user := types.NewID()
		manager := types.NewID()
		levelID := types.NewID()
		f.hierarchy.levels[user] = &organization.Level{ID: levelID, OrganizationID: org, Rank: 2}
		f.hierarchy.permissions[levelID] = map[access.Domain]*organization.LevelPermission{
			access.DomainNFSe: {
				LevelID:            levelID,
				Domain:             access.DomainNFSe,
				AccessLevel:        access.LevelFull,
				ManagesOwnPatients: true,
				EmissionMode:       access.EmitManagerCompany,
			},
		}
		f.hierarchy.managers[user] = manager
		f.hierarchy.fiscal[manager] = true

		_, err := f.engine.ResolveEmissionMode(context.Background(), eval(user, org, auth.RoleFlags{}))
		assert.ErrorIs(t, err, errors.ErrEmissionModeUnavailable)
	})
}

func TestCachedResolver(t *testing.T) {
	org := types.NewID()

	t.Run("serves from cache and rebuilds after invalidation", func(t *testing.T) {
		f := newFixture()
		user := types.NewID()
		resolver, err := NewCachedResolver(f.engine, 16, zap.NewNop())
		require.NoError(t, err)

		level, err := resolver.Resolve(context.Background(), eval(user, org, auth.RoleFlags{}), access.DomainCharts)
		require.NoError(t, err)
		assert.Equal(t, access.LevelNone, level)

		// A grant change alone is invisible until invalidation.
		f.sharing.shared[user] = map[access.Domain]bool{access.DomainCharts: true}
		level, err = resolver.Resolve(context.Background(), eval(user, org, auth.RoleFlags{}), access.DomainCharts)
		require.NoError(t, err)
		assert.Equal(t, access.LevelNone, level)

		resolver.Invalidate(user)
		level, err = resolver.Resolve(context.Background(), eval(user, org, auth.RoleFlags{}), access.DomainCharts)
		require.NoError(t, err)
		assert.Equal(t, access.LevelFull, level)
	})

	t.Run("organization switch forces re-resolution", func(t *testing.T) {
		f := newFixture()
		user := types.NewID()
		resolver, err := NewCachedResolver(f.engine, 16, zap.NewNop())
		require.NoError(t, err)

		_, err = resolver.Resolve(context.Background(), eval(user, org, auth.RoleFlags{}), access.DomainReports)
		require.NoError(t, err)

		otherOrg := types.NewID()
		resolver.SwitchOrganization(user)

		levelID := types.NewID()
		f.hierarchy.levels[user] = &organization.Level{ID: levelID, OrganizationID: otherOrg, Rank: 1}
		level, err := resolver.Resolve(context.Background(), eval(user, otherOrg, auth.RoleFlags{}), access.DomainReports)
		require.NoError(t, err)
		assert.Equal(t, access.LevelFull, level)
	})

	t.Run("admin results bypass the cache", func(t *testing.T) {
		f := newFixture()
		user := types.NewID()
		resolver, err := NewCachedResolver(f.engine, 16, zap.NewNop())
		require.NoError(t, err)

		level, err := resolver.Resolve(context.Background(), eval(user, org, auth.RoleFlags{IsAdmin: true}), access.DomainClinical)
		require.NoError(t, err)
		assert.Equal(t, access.LevelFull, level)

		level, err = resolver.Resolve(context.Background(), eval(user, org, auth.RoleFlags{}), access.DomainClinical)
		require.NoError(t, err)
		assert.Equal(t, access.LevelNone, level)
	})
}
