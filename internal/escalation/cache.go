package escalation

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"

	"escalator/internal/types"
)

// OverrideStore persists per-tenant offset overrides, keyed by level.
type OverrideStore interface {
	GetOverrides(ctx context.Context, tenantID string, kind types.EntityKind) (map[int]int, error)
	PutOverrides(ctx context.Context, tenantID string, kind types.EntityKind, offsets map[int]int) error
}

type cacheKey struct {
	tenantID string
	kind     types.EntityKind
}

// PolicyCache resolves the effective policy for a tenant: the base ladder
// with the tenant's offset overrides applied. Entries live until Invalidate
// or SetOverrides for that tenant.
//
// An override may not move level 1 earlier than the base ladder's level 1.
// The base ladder's earliest offset is what tenant discovery scans for, so
// an earlier first level would never be reached.
type PolicyCache struct {
	base  map[types.EntityKind]*Policy
	store OverrideStore

	mu      sync.RWMutex
	entries map[cacheKey]*Policy
	// gens counts invalidations per tenant. A fill stores its result only
	// if no invalidation happened while it was reading.
	gens  map[string]uint64
	fills singleflight.Group
}

// NewPolicyCache creates a cache over the given base policies. store may be
// nil, in which case every tenant gets the base ladder.
func NewPolicyCache(store OverrideStore, base ...*Policy) *PolicyCache {
	c := &PolicyCache{
		base:    make(map[types.EntityKind]*Policy, len(base)),
		store:   store,
		entries: make(map[cacheKey]*Policy),
		gens:    make(map[string]uint64),
	}
	for _, p := range base {
		c.base[p.Kind()] = p
	}
	return c
}

// Base returns the base policy for kind.
func (c *PolicyCache) Base(kind types.EntityKind) (*Policy, bool) {
	p, ok := c.base[kind]
	return p, ok
}

// For returns the effective policy for a tenant. An override that produces
// an invalid ladder fails with config_policy_invalid and is not cached, so
// the tenant stays blocked until the override is fixed.
func (c *PolicyCache) For(ctx context.Context, tenantID string, kind types.EntityKind) (*Policy, error) {
	base, ok := c.base[kind]
	if !ok {
		return nil, types.NewAppError(types.ErrCodeConfigPolicyInvalid,
			fmt.Sprintf("no policy configured for %s", kind), nil)
	}
	if c.store == nil {
		return base, nil
	}

	key := cacheKey{tenantID: tenantID, kind: kind}
	c.mu.RLock()
	p, hit := c.entries[key]
	c.mu.RUnlock()
	if hit {
		return p, nil
	}

	v, err, _ := c.fills.Do(fillKey(tenantID, kind), func() (any, error) {
		c.mu.RLock()
		gen := c.gens[tenantID]
		c.mu.RUnlock()

		offsets, err := c.store.GetOverrides(ctx, tenantID, kind)
		if err != nil {
			return nil, fmt.Errorf("loading policy overrides for tenant %s: %w", tenantID, err)
		}
		p, err := applyOverrides(base, offsets)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		if c.gens[tenantID] == gen {
			c.entries[key] = p
		}
		c.mu.Unlock()
		return p, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Policy), nil
}

// SetOverrides validates and persists a tenant's overrides, then drops the
// cached entry. Invalid overrides are rejected before anything is written.
func (c *PolicyCache) SetOverrides(ctx context.Context, tenantID string, kind types.EntityKind, offsets map[int]int) (*Policy, error) {
	base, ok := c.base[kind]
	if !ok {
		return nil, types.NewAppError(types.ErrCodeConfigPolicyInvalid,
			fmt.Sprintf("no policy configured for %s", kind), nil)
	}
	p, err := applyOverrides(base, offsets)
	if err != nil {
		return nil, err
	}
	if c.store == nil {
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "policy overrides are not persisted in this deployment", nil)
	}
	if err := c.store.PutOverrides(ctx, tenantID, kind, offsets); err != nil {
		return nil, fmt.Errorf("saving policy overrides for tenant %s: %w", tenantID, err)
	}
	c.Invalidate(tenantID)
	return p, nil
}

// Invalidate drops every cached policy for tenantID. Fills already in
// flight for the tenant are detached so later lookups read the store again.
func (c *PolicyCache) Invalidate(tenantID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gens[tenantID]++
	for key := range c.entries {
		if key.tenantID == tenantID {
			delete(c.entries, key)
		}
	}
	for kind := range c.base {
		c.fills.Forget(fillKey(tenantID, kind))
	}
}

func fillKey(tenantID string, kind types.EntityKind) string {
	return tenantID + "/" + string(kind)
}

func applyOverrides(base *Policy, offsets map[int]int) (*Policy, error) {
	p, err := base.WithOverrides(offsets)
	if err != nil {
		return nil, err
	}
	if p.MinOffset() < base.MinOffset() {
		return nil, policyError(base.Kind(),
			fmt.Sprintf("level 1 offset %d is earlier than the lookahead limit %d", p.MinOffset(), base.MinOffset()),
			map[string]any{"level": 1, "min_offset_days": p.MinOffset(), "limit": base.MinOffset()})
	}
	return p, nil
}
