// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

// Package quota implements the QuotaAwarenessEngine: per-key capacity
// tracking, threshold-derived capacity state, and the reset sweep. The
// per-key mutex-guarded map follows the concurrency shape of
// orchestrator/llm_router.go's ProviderMetricsTracker.
package quota

import (
	"context"
	"sync"
	"time"

	"apikeyrouter/domain"
	"apikeyrouter/keymanager"
	"apikeyrouter/observability"
	"apikeyrouter/store"
)

// recoveringWindow is how far ahead of reset_at a previously-Exhausted key
// is reported as Recovering rather than Exhausted, per spec.md §4.4.
const recoveringWindow = 5 * time.Minute

// Engine is the QuotaAwarenessEngine component.
type Engine struct {
	mu     sync.Mutex
	states map[string]*domain.QuotaState

	store    store.StateStore
	keys     *keymanager.Manager
	observer *observability.Observer
	redis    *RedisMirror
}

// New constructs an Engine.
func New(st store.StateStore, km *keymanager.Manager, obs *observability.Observer) *Engine {
	return &Engine{
		states:   make(map[string]*domain.QuotaState),
		store:    st,
		keys:     km,
		observer: obs,
	}
}

// AttachRedisMirror opts the Engine into cross-instance capacity sharing.
// It is optional: an Engine with no mirror attached behaves exactly as
// before, tracking capacity only for the requests it personally serves.
func (e *Engine) AttachRedisMirror(m *RedisMirror) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.redis = m
}

// EnsureState returns the quota state for keyID, creating an Abundant
// default (unbounded total) if none exists yet. When a RedisMirror is
// attached, a brand-new state first consults it so a freshly started
// replica picks up consumption recorded by its peers instead of resetting
// the key to full capacity.
func (e *Engine) EnsureState(keyID string) *domain.QuotaState {
	e.mu.Lock()
	if q, ok := e.states[keyID]; ok {
		e.mu.Unlock()
		return q
	}
	mirror := e.redis
	e.mu.Unlock()

	q := &domain.QuotaState{
		KeyID:         keyID,
		CapacityState: domain.CapacityAbundant,
		CapacityUnit:  domain.UnitTokens,
		TimeWindow:    domain.WindowHour,
		UpdatedAt:     time.Now().UTC(),
	}
	if mirror != nil {
		if used, total, found := mirror.Load(context.Background(), keyID); found {
			q.UsedCapacity = used
			q.TotalCapacity = total
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if existing, ok := e.states[keyID]; ok {
		return existing
	}
	e.states[keyID] = q
	return q
}

// mirrorSync best-effort syncs a snapshot to the attached RedisMirror, if
// any. Errors are swallowed: the cache is an optimization, never a
// dependency of the request path.
func (e *Engine) mirrorSync(ctx context.Context, q *domain.QuotaState) {
	e.mu.Lock()
	mirror := e.redis
	e.mu.Unlock()
	if mirror == nil {
		return
	}
	if err := mirror.Sync(ctx, q); err != nil && e.observer != nil {
		e.observer.Debug(q.KeyID, "", "redis quota mirror sync failed", map[string]interface{}{"error": err.Error()})
	}
}

// GetState returns the current quota state for a key, or nil if unknown.
func (e *Engine) GetState(keyID string) *domain.QuotaState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.states[keyID]
}

// UpdateCapacity records a successful execution's token consumption,
// re-derives capacity_state from the new remaining fraction, and persists
// the mutation. Updates to a single key's quota row are serialized by e.mu,
// satisfying spec.md §4.4's concurrency requirement.
func (e *Engine) UpdateCapacity(ctx context.Context, keyID string, unitsUsed int64) error {
	q := e.EnsureState(keyID)

	e.mu.Lock()
	wasExhausted := q.CapacityState == domain.CapacityExhausted
	q.UsedCapacity += unitsUsed
	now := time.Now().UTC()
	q.CapacityState = domain.DeriveCapacityState(q.RemainingFraction(), now, q.ResetAt, wasExhausted, recoveringWindow)
	q.UpdatedAt = now
	snapshot := *q
	e.mu.Unlock()

	if e.store != nil {
		if err := e.store.SaveQuotaState(ctx, &snapshot); err != nil {
			return err
		}
	}
	e.mirrorSync(ctx, &snapshot)
	return nil
}

// OnRateLimit applies a rate-limit signal: the key moves to Throttled with
// cooldown_until = now + retryAfter, and capacity_state degrades to
// Constrained or Critical depending on the current remaining fraction.
func (e *Engine) OnRateLimit(ctx context.Context, keyID string, retryAfter time.Duration) error {
	q := e.EnsureState(keyID)

	e.mu.Lock()
	remaining := q.RemainingFraction()
	if remaining > 0.2 {
		q.CapacityState = domain.CapacityConstrained
	} else {
		q.CapacityState = domain.CapacityCritical
	}
	q.UpdatedAt = time.Now().UTC()
	snapshot := *q
	e.mu.Unlock()

	if e.store != nil {
		if err := e.store.SaveQuotaState(ctx, &snapshot); err != nil {
			return err
		}
	}
	e.mirrorSync(ctx, &snapshot)
	if e.keys != nil {
		return e.keys.Transition(ctx, keyID, domain.KeyThrottled, domain.TriggerError, map[string]interface{}{
			"reason":      "rate_limit",
			"retry_after": retryAfter.String(),
			"cooldown":    retryAfter,
		})
	}
	return nil
}

// OnQuotaExceeded marks a key's quota (and the key itself) Exhausted.
func (e *Engine) OnQuotaExceeded(ctx context.Context, keyID string) error {
	q := e.EnsureState(keyID)

	e.mu.Lock()
	q.CapacityState = domain.CapacityExhausted
	q.UsedCapacity = q.TotalCapacity
	q.UpdatedAt = time.Now().UTC()
	snapshot := *q
	e.mu.Unlock()

	if e.store != nil {
		if err := e.store.SaveQuotaState(ctx, &snapshot); err != nil {
			return err
		}
	}
	e.mirrorSync(ctx, &snapshot)
	if e.keys != nil {
		return e.keys.Transition(ctx, keyID, domain.KeyExhausted, domain.TriggerError, map[string]interface{}{
			"reason": "quota_exceeded",
		})
	}
	return nil
}

// Sweep scans every tracked quota for reset_at <= now and resets
// used_capacity to 0, returning the owning key to Available if it was
// Exhausted or Recovering, per spec.md §4.4's Reset clause. proxyserver's
// build runs it every minute via robfig/cron, alongside the hourly
// cost.Controller.ResetPeriod budget rollover.
func (e *Engine) Sweep(ctx context.Context) {
	now := time.Now().UTC()

	e.mu.Lock()
	var toResume []string
	var toMirror []domain.QuotaState
	for keyID, q := range e.states {
		if !q.ResetAt.IsZero() && !q.ResetAt.After(now) {
			wasDepleted := q.CapacityState == domain.CapacityExhausted || q.CapacityState == domain.CapacityRecovering
			q.UsedCapacity = 0
			q.CapacityState = domain.CapacityAbundant
			q.UpdatedAt = now
			if wasDepleted {
				toResume = append(toResume, keyID)
			}
			if e.store != nil {
				snapshot := *q
				_ = e.store.SaveQuotaState(ctx, &snapshot)
			}
			toMirror = append(toMirror, *q)
		}
	}
	e.mu.Unlock()

	for i := range toMirror {
		e.mirrorSync(ctx, &toMirror[i])
	}

	for _, keyID := range toResume {
		if e.keys == nil {
			continue
		}
		key, err := e.keys.GetKey(keyID)
		if err != nil {
			continue
		}
		if key.State == domain.KeyExhausted || key.State == domain.KeyRecovering {
			_ = e.keys.Transition(ctx, keyID, domain.KeyAvailable, domain.TriggerAutomatic, map[string]interface{}{
				"reason": "quota_reset",
			})
		}
	}
}
