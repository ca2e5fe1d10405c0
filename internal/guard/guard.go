// Package guard decides whether a user may enter a protected route. It is
// a pure decision layer over role lists and the resolution engine; it never
// writes to storage.
package guard

import (
	"context"
	"fmt"

	"github.com/praxia-health/platform/internal/access"
	"github.com/praxia-health/platform/internal/resolution"
	"github.com/praxia-health/platform/internal/shared/auth"
	"github.com/praxia-health/platform/internal/shared/metrics"
)

// RouteConfig is the static per-route policy owned by the application.
// Role lists short-circuit before any domain resolution runs.
type RouteConfig struct {
	Name           string
	AllowedFor     []auth.Role
	BlockedFor     []auth.Role
	RequiresDomain access.Domain
	MinimumAccess  access.Level
}

// Decision is the guard's verdict, with a reason and redirect on denial.
type Decision struct {
	Allowed    bool   `json:"allowed"`
	Reason     string `json:"reason,omitempty"`
	RedirectTo string `json:"redirect_to,omitempty"`
}

// Landings selects the denial redirect per role.
type Landings struct {
	Default    string
	Accountant string
}

// Guard evaluates route configurations against the resolver.
type Guard struct {
	resolver resolution.Resolver
	landings Landings
}

func New(resolver resolution.Resolver, landings Landings) *Guard {
	return &Guard{resolver: resolver, landings: landings}
}

// CheckAccess applies the role lists, then the domain requirement if the
// route has one.
func (g *Guard) CheckAccess(ctx context.Context, user *auth.User, route RouteConfig) (Decision, error) {
	if len(route.AllowedFor) > 0 && !auth.HasAnyRole(user.Roles, route.AllowedFor...) {
		return g.deny(user, route, "role is not allowed on this route"), nil
	}
	if len(route.BlockedFor) > 0 && auth.HasAnyRole(user.Roles, route.BlockedFor...) {
		return g.deny(user, route, "role is blocked on this route"), nil
	}

	if route.RequiresDomain != "" && route.MinimumAccess > access.LevelNone {
		eval := resolution.Evaluation{
			UserID:         user.ID,
			OrganizationID: user.OrganizationID,
			Flags:          user.Flags,
		}
		level, err := g.resolver.Resolve(ctx, eval, route.RequiresDomain)
		if err != nil {
			return Decision{}, err
		}
		if !level.Satisfies(route.MinimumAccess) {
			reason := fmt.Sprintf("requires %s access to %s, user has %s",
				route.MinimumAccess, route.RequiresDomain, level)
			return g.deny(user, route, reason), nil
		}
	}

	metrics.RecordGuardDecision(route.Name, true)
	return Decision{Allowed: true}, nil
}

func (g *Guard) deny(user *auth.User, route RouteConfig, reason string) Decision {
	metrics.RecordGuardDecision(route.Name, false)
	redirect := g.landings.Default
	if user.Flags.IsAccountant {
		redirect = g.landings.Accountant
	}
	return Decision{Allowed: false, Reason: reason, RedirectTo: redirect}
}
