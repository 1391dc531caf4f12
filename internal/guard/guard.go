// Package guard is the only writer of escalation progress. A claim either
// performs the forward transition itself or reports that someone else did;
// callers dispatch only after a successful claim.
package guard

import (
	"context"
	"fmt"
	"sync"
	"time"

	"escalator/internal/types"
)

// ConditionalStore expresses each claim as one atomic conditional update.
// Both methods report whether this call changed the row.
type ConditionalStore interface {
	// AdvanceLevel sets the level to target only if the current level is
	// below target and the entity is still open.
	AdvanceLevel(ctx context.Context, tenantID, entityID string, target int, at time.Time) (bool, error)
	// MarkReminderSent flips the reminder flag only if it is still false.
	MarkReminderSent(ctx context.Context, tenantID, entityID string, at time.Time) (bool, error)
}

// StateStore is a plain read/write store with no compare-and-set. The reads
// also report whether the entity is still active: an open invoice or a
// scheduled appointment.
type StateStore interface {
	GetLevel(ctx context.Context, tenantID, entityID string) (level int, open bool, err error)
	SetLevel(ctx context.Context, tenantID, entityID string, level int, at time.Time) error
	GetReminderSent(ctx context.Context, tenantID, entityID string) (sent, scheduled bool, err error)
	SetReminderSent(ctx context.Context, tenantID, entityID string, at time.Time) error
}

// Mode names how a Guard makes claims atomic.
type Mode string

const (
	ModeAtomic     Mode = "atomic"
	ModeSerialized Mode = "serialized"
)

// Guard claims escalation steps.
type Guard struct {
	cond  ConditionalStore
	state StateStore
	locks *keyedMutex
	clock types.Clock
}

// NewGuard returns a Guard backed by store-level conditional updates. It is
// safe across processes.
func NewGuard(store ConditionalStore, clock types.Clock) *Guard {
	if clock == nil {
		clock = types.RealClock{}
	}
	return &Guard{cond: store, clock: clock}
}

// NewSerializedGuard returns a Guard for stores that cannot update
// conditionally. Claims on the same entity are serialized with a
// process-local mutex, so it only protects a single process.
func NewSerializedGuard(store StateStore, clock types.Clock) *Guard {
	if clock == nil {
		clock = types.RealClock{}
	}
	return &Guard{state: store, locks: newKeyedMutex(), clock: clock}
}

// Mode reports the claim strategy in use.
func (g *Guard) Mode() Mode {
	if g.cond != nil {
		return ModeAtomic
	}
	return ModeSerialized
}

// TryClaimLevel moves the entity to target if it is still below target.
// Losing the claim returns false with a nil error; that is the normal
// outcome of overlapping passes.
func (g *Guard) TryClaimLevel(ctx context.Context, tenantID, entityID string, target int) (bool, error) {
	if target < 1 {
		return false, types.NewAppError(types.ErrCodeValidationInvalidOffset,
			fmt.Sprintf("target level %d is not claimable", target), nil)
	}
	now := g.clock.Now()

	if g.cond != nil {
		claimed, err := g.cond.AdvanceLevel(ctx, tenantID, entityID, target, now)
		if err != nil {
			return false, fmt.Errorf("claiming level %d for %s: %w", target, entityID, err)
		}
		return claimed, nil
	}

	unlock := g.locks.lock(tenantID + "/" + entityID)
	defer unlock()

	current, open, err := g.state.GetLevel(ctx, tenantID, entityID)
	if err != nil {
		return false, fmt.Errorf("reading level for %s: %w", entityID, err)
	}
	// Paid or cancelled since the scan.
	if !open || current >= target {
		return false, nil
	}
	if err := g.state.SetLevel(ctx, tenantID, entityID, target, now); err != nil {
		return false, fmt.Errorf("claiming level %d for %s: %w", target, entityID, err)
	}
	return true, nil
}

// TryClaimReminder flips the single-step reminder flag from false to true.
func (g *Guard) TryClaimReminder(ctx context.Context, tenantID, entityID string) (bool, error) {
	now := g.clock.Now()

	if g.cond != nil {
		claimed, err := g.cond.MarkReminderSent(ctx, tenantID, entityID, now)
		if err != nil {
			return false, fmt.Errorf("claiming reminder for %s: %w", entityID, err)
		}
		return claimed, nil
	}

	unlock := g.locks.lock(tenantID + "/" + entityID)
	defer unlock()

	sent, scheduled, err := g.state.GetReminderSent(ctx, tenantID, entityID)
	if err != nil {
		return false, fmt.Errorf("reading reminder flag for %s: %w", entityID, err)
	}
	if sent || !scheduled {
		return false, nil
	}
	if err := g.state.SetReminderSent(ctx, tenantID, entityID, now); err != nil {
		return false, fmt.Errorf("claiming reminder for %s: %w", entityID, err)
	}
	return true, nil
}

// keyedMutex hands out one mutex per key and forgets it once nobody holds
// or waits on it.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*refMutex)}
}

func (k *keyedMutex) lock(key string) func() {
	k.mu.Lock()
	m, ok := k.locks[key]
	if !ok {
		m = &refMutex{}
		k.locks[key] = m
	}
	m.refs++
	k.mu.Unlock()

	m.Lock()
	return func() {
		m.Unlock()
		k.mu.Lock()
		m.refs--
		if m.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}

func (k *keyedMutex) size() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}
