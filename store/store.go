// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

// Package store defines the StateStore contract (spec.md §4.1) and ships
// two implementations: an in-memory store with bounded audit collections
// (store/memory.go) and a Postgres-backed store (store/postgres.go),
// grounded on orchestrator/cost/postgres_repository.go and
// connectors/registry/postgres_storage.go's raw-SQL, CREATE-TABLE-IF-NOT-EXISTS
// idiom.
package store

import (
	"context"
	"time"

	"apikeyrouter/domain"
)

// StateQuery selects audit records by entity type, provider/key id, and an
// optional timestamp range.
type StateQuery struct {
	EntityType string // "decision" | "transition"
	ProviderID string
	KeyID      string
	Since      time.Time
	Until      time.Time
	Limit      int
}

// StateStore is the durable persistence contract every component depends
// on. Implementations must provide linearizable single-row upsert for keys
// and quota states (guarantee (1) in spec.md §4.1), and must treat audit
// records (decisions, transitions) as append-only.
type StateStore interface {
	SaveKey(ctx context.Context, key *domain.APIKey) error
	GetKey(ctx context.Context, id string) (*domain.APIKey, error)
	ListKeys(ctx context.Context, providerID string) ([]*domain.APIKey, error)

	SaveQuotaState(ctx context.Context, q *domain.QuotaState) error
	GetQuotaState(ctx context.Context, keyID string) (*domain.QuotaState, error)

	SaveRoutingDecision(ctx context.Context, d *domain.RoutingDecision) error
	SaveStateTransition(ctx context.Context, t *domain.StateTransition) error
	QueryState(ctx context.Context, q StateQuery) (decisions []*domain.RoutingDecision, transitions []*domain.StateTransition, err error)

	// EvictionCount reports how many audit records have been dropped by a
	// bounded implementation since startup (0 for unbounded/durable stores).
	EvictionCount() int64

	// Ping validates connectivity for health checks; durable implementations
	// hit the backing connection, in-memory always succeeds.
	Ping(ctx context.Context) error

	// Close releases any held resources (connections, etc).
	Close() error
}

// StateStoreError wraps a connectivity or integrity failure, matching
// spec.md §4.1's "StateStoreError on connectivity or integrity failures".
type StateStoreError struct {
	Op  string
	Err error
}

func (e *StateStoreError) Error() string { return "state store: " + e.Op + ": " + e.Err.Error() }
func (e *StateStoreError) Unwrap() error { return e.Err }
