// Package resolution computes effective access for a (user, organization,
// domain) triple. It combines role overrides, the hierarchy store, the
// legacy store, and the sharing overlay into one decision; callers never
// consult the stores directly.
package resolution

import (
	"context"

	"go.uber.org/zap"

	"github.com/praxia-health/platform/internal/access"
	"github.com/praxia-health/platform/internal/legacy"
	"github.com/praxia-health/platform/internal/organization"
	"github.com/praxia-health/platform/internal/shared/auth"
	"github.com/praxia-health/platform/internal/shared/errors"
	"github.com/praxia-health/platform/internal/shared/metrics"
	"github.com/praxia-health/platform/internal/shared/types"
)

// accountantServed lists the domains an accountant may reach through an
// approved assignment. Everything else is hard-denied for the role.
var accountantServed = map[access.Domain]bool{
	access.DomainFinancial:  true,
	access.DomainNFSe:       true,
	access.DomainReports:    true,
	access.DomainStatistics: true,
}

// HierarchyStore reads the position-based permission model.
type HierarchyStore interface {
	LevelForUser(ctx context.Context, userID, orgID types.ID) (*organization.Level, error)
	Permission(ctx context.Context, levelID types.ID, domain access.Domain) (*organization.LevelPermission, error)
	OrganizationOwner(ctx context.Context, orgID types.ID) (types.ID, error)
	ManagerForUser(ctx context.Context, userID, orgID types.ID) (types.ID, bool, error)
	HasFiscalIdentity(ctx context.Context, orgID, userID types.ID) (bool, error)
}

// LegacyStore reads the flat assignment model from the old product.
// A nil LegacyStore behaves as a store with no records.
type LegacyStore interface {
	GetLegacyAccess(ctx context.Context, userID types.ID, domain access.Domain) (access.Level, error)
	Autonomy(ctx context.Context, userID types.ID) (*legacy.AutonomySettings, error)
	ManagerOf(ctx context.Context, userID types.ID) (types.ID, bool, error)
	HasFiscalIdentity(ctx context.Context, userID types.ID) (bool, error)
}

// SharingStore reads the additive overlay.
type SharingStore interface {
	SharedDomains(ctx context.Context, userID, orgID types.ID) (map[access.Domain]bool, error)
}

// AccountantStore answers whether an approved assignment links an
// accountant to a therapist.
type AccountantStore interface {
	HasApprovedAssignment(ctx context.Context, accountantID, therapistID types.ID) (bool, error)
}

// Evaluation carries everything resolution needs about the caller. Role
// flags come from the session layer; resolution never reads ambient state.
type Evaluation struct {
	UserID         types.ID
	OrganizationID types.ID
	Flags          auth.RoleFlags
}

// Engine is the concrete resolver over the four stores.
type Engine struct {
	hierarchy   HierarchyStore
	legacy      LegacyStore
	sharing     SharingStore
	accountants AccountantStore
	logger      *zap.Logger
}

func NewEngine(hierarchy HierarchyStore, legacyStore LegacyStore, sharing SharingStore, accountants AccountantStore, logger *zap.Logger) *Engine {
	return &Engine{
		hierarchy:   hierarchy,
		legacy:      legacyStore,
		sharing:     sharing,
		accountants: accountants,
		logger:      logger,
	}
}

// Resolve computes the effective access level. The first decisive rule
// wins; only the sharing overlay is additive on top of the base paths.
func (e *Engine) Resolve(ctx context.Context, eval Evaluation, domain access.Domain) (access.Level, error) {
	if !domain.RequiresAuthorization() {
		metrics.RecordResolution(domain.String(), "open", access.LevelFull.String())
		return access.LevelFull, nil
	}

	if eval.Flags.IsAdmin {
		metrics.RecordResolution(domain.String(), "admin", access.LevelFull.String())
		return access.LevelFull, nil
	}

	if eval.Flags.IsAccountant {
		level, err := e.resolveAccountant(ctx, eval, domain)
		if err != nil {
			return access.LevelNone, err
		}
		metrics.RecordResolution(domain.String(), "accountant", level.String())
		return level, nil
	}

	level, err := e.hierarchy.LevelForUser(ctx, eval.UserID, eval.OrganizationID)
	if err != nil {
		return access.LevelNone, err
	}

	var base access.Level
	path := "legacy"
	if level != nil {
		path = "hierarchy"
		base, err = e.resolveHierarchy(ctx, level, domain)
	} else {
		base, err = e.resolveLegacy(ctx, eval.UserID, domain)
	}
	if err != nil {
		return access.LevelNone, err
	}

	shared, err := e.sharing.SharedDomains(ctx, eval.UserID, eval.OrganizationID)
	if err != nil {
		return access.LevelNone, err
	}
	if shared[domain] {
		base = access.Max(base, access.LevelFull)
	}

	metrics.RecordResolution(domain.String(), path, base.String())
	return base, nil
}

// resolveAccountant applies the role's hard-deny list and the approved
// assignment check against the organization owner. Accountant results are
// decisive; the sharing overlay never applies to them.
func (e *Engine) resolveAccountant(ctx context.Context, eval Evaluation, domain access.Domain) (access.Level, error) {
	if !accountantServed[domain] {
		return access.LevelNone, nil
	}

	ownerID, err := e.hierarchy.OrganizationOwner(ctx, eval.OrganizationID)
	if err != nil {
		return access.LevelNone, err
	}

	approved, err := e.accountants.HasApprovedAssignment(ctx, eval.UserID, ownerID)
	if err != nil {
		return access.LevelNone, err
	}
	if !approved {
		return access.LevelNone, nil
	}
	return access.LevelWrite, nil
}

// resolveHierarchy reads the stored grant for the user's level and degrades
// it through the autonomy cascade. Rank 1 is implicitly full and carries no
// permission rows; a missing row on any other rank resolves to none.
func (e *Engine) resolveHierarchy(ctx context.Context, level *organization.Level, domain access.Domain) (access.Level, error) {
	if level.Rank == 1 {
		return access.LevelFull, nil
	}

	perm, err := e.hierarchy.Permission(ctx, level.ID, domain)
	if err != nil {
		return access.LevelNone, err
	}
	if perm == nil {
		return access.LevelNone, nil
	}

	gate := access.CascadeCap(perm.Autonomy(), domain)
	return access.Min(perm.AccessLevel, gate), nil
}

func (e *Engine) resolveLegacy(ctx context.Context, userID types.ID, domain access.Domain) (access.Level, error) {
	if e.legacy == nil {
		return access.LevelNone, nil
	}
	return e.legacy.GetLegacyAccess(ctx, userID, domain)
}

// ResolveEmissionMode determines which company the user's invoices are
// emitted under. Emitting under the manager's company requires a manager
// with a registered fiscal identity; when that fails the caller gets
// ErrEmissionModeUnavailable rather than a silent fallback.
func (e *Engine) ResolveEmissionMode(ctx context.Context, eval Evaluation) (access.EmissionMode, error) {
	flags, viaHierarchy, err := e.emissionModeFor(ctx, eval)
	if err != nil {
		return "", err
	}
	if flags.EmissionMode != access.EmitManagerCompany {
		return access.EmitOwnCompany, nil
	}

	// manager_company is only meaningful with effective financial access,
	// which the cascade grants when both autonomy flags are set.
	if !flags.ManagesOwnPatients || !flags.HasFinancialAccess {
		return "", errors.ErrEmissionModeUnavailable
	}

	if viaHierarchy {
		managerID, ok, err := e.hierarchy.ManagerForUser(ctx, eval.UserID, eval.OrganizationID)
		if err != nil {
			return "", err
		}
		if !ok {
			return "", errors.ErrEmissionModeUnavailable
		}
		registered, err := e.hierarchy.HasFiscalIdentity(ctx, eval.OrganizationID, managerID)
		if err != nil {
			return "", err
		}
		if !registered {
			return "", errors.ErrEmissionModeUnavailable
		}
		return access.EmitManagerCompany, nil
	}

	managerID, ok, err := e.legacy.ManagerOf(ctx, eval.UserID)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", errors.ErrEmissionModeUnavailable
	}
	registered, err := e.legacy.HasFiscalIdentity(ctx, managerID)
	if err != nil {
		return "", err
	}
	if !registered {
		return "", errors.ErrEmissionModeUnavailable
	}
	return access.EmitManagerCompany, nil
}

// emissionModeFor reads the configured autonomy flags from whichever store
// currently owns the user, mirroring the path selection in Resolve.
func (e *Engine) emissionModeFor(ctx context.Context, eval Evaluation) (access.Autonomy, bool, error) {
	ownCompany := access.Autonomy{EmissionMode: access.EmitOwnCompany}

	level, err := e.hierarchy.LevelForUser(ctx, eval.UserID, eval.OrganizationID)
	if err != nil {
		return access.Autonomy{}, false, err
	}

	if level != nil {
		if level.Rank == 1 {
			return ownCompany, true, nil
		}
		perm, err := e.hierarchy.Permission(ctx, level.ID, access.DomainNFSe)
		if err != nil {
			return access.Autonomy{}, false, err
		}
		if perm == nil {
			return ownCompany, true, nil
		}
		return perm.Autonomy(), true, nil
	}

	if e.legacy == nil {
		return ownCompany, false, nil
	}
	settings, err := e.legacy.Autonomy(ctx, eval.UserID)
	if err != nil {
		return access.Autonomy{}, false, err
	}
	if settings == nil {
		return ownCompany, false, nil
	}
	return settings.Autonomy(), false, nil
}

// AccessMap resolves every domain at once, for caching and for the profile
// payload the UI consumes.
func (e *Engine) AccessMap(ctx context.Context, eval Evaluation) (map[access.Domain]access.Level, error) {
	out := make(map[access.Domain]access.Level, len(access.Domains))
	for _, d := range access.Domains {
		level, err := e.Resolve(ctx, eval, d)
		if err != nil {
			return nil, err
		}
		out[d] = level
	}
	return out, nil
}
