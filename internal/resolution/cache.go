package resolution

import (
	"context"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/praxia-health/platform/internal/access"
	"github.com/praxia-health/platform/internal/shared/metrics"
	"github.com/praxia-health/platform/internal/shared/types"
)

// Resolver is what the guard and the HTTP layer depend on.
type Resolver interface {
	Resolve(ctx context.Context, eval Evaluation, domain access.Domain) (access.Level, error)
	ResolveEmissionMode(ctx context.Context, eval Evaluation) (access.EmissionMode, error)
}

// CachedResolver memoizes full access maps per (user, organization).
// Concurrent misses for the same user collapse into a single store round
// trip; an organization switch drops every entry for the user, since stale
// cross-organization results are a correctness bug.
type CachedResolver struct {
	engine *Engine
	cache  *lru.Cache[string, map[access.Domain]access.Level]
	group  singleflight.Group
	logger *zap.Logger
}

func NewCachedResolver(engine *Engine, size int, logger *zap.Logger) (*CachedResolver, error) {
	cache, err := lru.New[string, map[access.Domain]access.Level](size)
	if err != nil {
		return nil, err
	}
	return &CachedResolver{engine: engine, cache: cache, logger: logger}, nil
}

func cacheKey(userID, orgID types.ID) string {
	return userID.String() + "|" + orgID.String()
}

// Resolve serves from the cached access map, building it on miss.
func (c *CachedResolver) Resolve(ctx context.Context, eval Evaluation, domain access.Domain) (access.Level, error) {
	// Role overrides never touch the stores, so caching them buys nothing
	// and would key results on mutable role flags.
	if eval.Flags.IsAdmin || eval.Flags.IsAccountant {
		return c.engine.Resolve(ctx, eval, domain)
	}

	m, err := c.accessMap(ctx, eval)
	if err != nil {
		return access.LevelNone, err
	}
	return m[domain], nil
}

// AccessMap returns the cached full map, building it on miss. The profile
// payload the UI consumes is exactly this map.
func (c *CachedResolver) AccessMap(ctx context.Context, eval Evaluation) (map[access.Domain]access.Level, error) {
	if eval.Flags.IsAdmin || eval.Flags.IsAccountant {
		return c.engine.AccessMap(ctx, eval)
	}
	return c.accessMap(ctx, eval)
}

func (c *CachedResolver) accessMap(ctx context.Context, eval Evaluation) (map[access.Domain]access.Level, error) {
	key := cacheKey(eval.UserID, eval.OrganizationID)
	if m, ok := c.cache.Get(key); ok {
		metrics.RecordResolutionCacheHit()
		return m, nil
	}

	v, err, _ := c.group.Do(key, func() (any, error) {
		if m, ok := c.cache.Get(key); ok {
			return m, nil
		}
		m, err := c.engine.AccessMap(ctx, eval)
		if err != nil {
			return nil, err
		}
		c.cache.Add(key, m)
		return m, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(map[access.Domain]access.Level), nil
}

// ResolveEmissionMode is never cached; it is consulted only on invoice
// emission, which is rare next to access checks.
func (c *CachedResolver) ResolveEmissionMode(ctx context.Context, eval Evaluation) (access.EmissionMode, error) {
	return c.engine.ResolveEmissionMode(ctx, eval)
}

// Invalidate drops every cached map for the user, across organizations.
func (c *CachedResolver) Invalidate(userID types.ID) {
	prefix := userID.String() + "|"
	for _, key := range c.cache.Keys() {
		if strings.HasPrefix(key, prefix) {
			c.cache.Remove(key)
		}
	}
	metrics.RecordCacheInvalidation("grant_change")
}

// SwitchOrganization forces full re-resolution after the active
// organization changes.
func (c *CachedResolver) SwitchOrganization(userID types.ID) {
	prefix := userID.String() + "|"
	for _, key := range c.cache.Keys() {
		if strings.HasPrefix(key, prefix) {
			c.cache.Remove(key)
		}
	}
	metrics.RecordCacheInvalidation("org_switch")
	c.logger.Debug("access cache invalidated on organization switch",
		zap.String("user_id", userID.String()))
}
