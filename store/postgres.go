// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"apikeyrouter/domain"
	apkerrors "apikeyrouter/errors"
)

// PostgresStore implements StateStore over a *sql.DB, following the raw-SQL,
// CREATE-TABLE-IF-NOT-EXISTS idiom used by orchestrator/cost/postgres_repository.go
// and connectors/registry/postgres_storage.go. Linearizable per-key upsert
// (spec.md §4.1 guarantee (1)) is delegated to Postgres's own row-level
// locking via `INSERT ... ON CONFLICT (id) DO UPDATE`.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore opens dsn and creates the schema if it does not exist.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: opening postgres connection: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("store: pinging postgres: %w", err)
	}
	s := &PostgresStore{db: db}
	if err := s.migrate(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS keys (
			id TEXT PRIMARY KEY,
			key_material BYTEA NOT NULL,
			provider_id TEXT NOT NULL,
			state TEXT NOT NULL,
			state_updated_at TIMESTAMPTZ NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			last_used_at TIMESTAMPTZ,
			usage_count BIGINT NOT NULL DEFAULT 0,
			failure_count BIGINT NOT NULL DEFAULT 0,
			cooldown_until TIMESTAMPTZ,
			metadata JSONB
		)`,
		`CREATE INDEX IF NOT EXISTS idx_keys_provider ON keys(provider_id)`,
		`CREATE TABLE IF NOT EXISTS quota_states (
			key_id TEXT PRIMARY KEY,
			capacity_state TEXT NOT NULL,
			capacity_unit TEXT NOT NULL,
			used_capacity BIGINT NOT NULL,
			total_capacity BIGINT NOT NULL,
			uncertainty_high BIGINT NOT NULL DEFAULT 0,
			time_window TEXT NOT NULL,
			reset_at TIMESTAMPTZ,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS routing_decisions (
			id TEXT PRIMARY KEY,
			request_id TEXT NOT NULL,
			selected_key_id TEXT NOT NULL,
			selected_provider_id TEXT NOT NULL,
			objective JSONB,
			eligible_keys JSONB,
			evaluation_results JSONB,
			explanation TEXT NOT NULL,
			confidence DOUBLE PRECISION NOT NULL,
			alternatives JSONB,
			created_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_decisions_created_at ON routing_decisions(created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_decisions_key ON routing_decisions(selected_key_id)`,
		`CREATE TABLE IF NOT EXISTS state_transitions (
			id TEXT PRIMARY KEY,
			entity_type TEXT NOT NULL,
			entity_id TEXT NOT NULL,
			from_state TEXT NOT NULL,
			to_state TEXT NOT NULL,
			transition_timestamp TIMESTAMPTZ NOT NULL,
			trigger TEXT NOT NULL,
			context JSONB
		)`,
		`CREATE INDEX IF NOT EXISTS idx_transitions_entity ON state_transitions(entity_id, transition_timestamp)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("store: running migration: %w", err)
		}
	}
	return nil
}

func (s *PostgresStore) SaveKey(ctx context.Context, key *domain.APIKey) error {
	metadata, err := json.Marshal(key.Metadata)
	if err != nil {
		return fmt.Errorf("store: marshaling key metadata: %w", err)
	}
	query := `
		INSERT INTO keys (id, key_material, provider_id, state, state_updated_at,
			created_at, last_used_at, usage_count, failure_count, cooldown_until, metadata)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		ON CONFLICT (id) DO UPDATE SET
			key_material = EXCLUDED.key_material,
			state = EXCLUDED.state,
			state_updated_at = EXCLUDED.state_updated_at,
			last_used_at = EXCLUDED.last_used_at,
			usage_count = EXCLUDED.usage_count,
			failure_count = EXCLUDED.failure_count,
			cooldown_until = EXCLUDED.cooldown_until,
			metadata = EXCLUDED.metadata
	`
	_, err = s.db.ExecContext(ctx, query,
		key.ID, key.KeyMaterial, key.ProviderID, key.State, key.StateUpdatedAt,
		key.CreatedAt, key.LastUsedAt, key.UsageCount, key.FailureCount, key.CooldownUntil, metadata,
	)
	if err != nil {
		return fmt.Errorf("store: saving key: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetKey(ctx context.Context, id string) (*domain.APIKey, error) {
	query := `
		SELECT id, key_material, provider_id, state, state_updated_at, created_at,
			last_used_at, usage_count, failure_count, cooldown_until, metadata
		FROM keys WHERE id = $1
	`
	var key domain.APIKey
	var metadata []byte
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&key.ID, &key.KeyMaterial, &key.ProviderID, &key.State, &key.StateUpdatedAt,
		&key.CreatedAt, &key.LastUsedAt, &key.UsageCount, &key.FailureCount, &key.CooldownUntil, &metadata,
	)
	if err == sql.ErrNoRows {
		return nil, apkerrors.ErrKeyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: getting key: %w", err)
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &key.Metadata); err != nil {
			return nil, fmt.Errorf("store: unmarshaling key metadata: %w", err)
		}
	}
	return &key, nil
}

func (s *PostgresStore) ListKeys(ctx context.Context, providerID string) ([]*domain.APIKey, error) {
	query := `
		SELECT id, key_material, provider_id, state, state_updated_at, created_at,
			last_used_at, usage_count, failure_count, cooldown_until, metadata
		FROM keys
	`
	args := []interface{}{}
	if providerID != "" {
		query += " WHERE provider_id = $1"
		args = append(args, providerID)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: listing keys: %w", err)
	}
	defer rows.Close()

	var out []*domain.APIKey
	for rows.Next() {
		var key domain.APIKey
		var metadata []byte
		if err := rows.Scan(&key.ID, &key.KeyMaterial, &key.ProviderID, &key.State, &key.StateUpdatedAt,
			&key.CreatedAt, &key.LastUsedAt, &key.UsageCount, &key.FailureCount, &key.CooldownUntil, &metadata); err != nil {
			return nil, fmt.Errorf("store: scanning key row: %w", err)
		}
		if len(metadata) > 0 {
			_ = json.Unmarshal(metadata, &key.Metadata)
		}
		out = append(out, &key)
	}
	return out, rows.Err()
}

func (s *PostgresStore) SaveQuotaState(ctx context.Context, q *domain.QuotaState) error {
	query := `
		INSERT INTO quota_states (key_id, capacity_state, capacity_unit, used_capacity,
			total_capacity, uncertainty_high, time_window, reset_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		ON CONFLICT (key_id) DO UPDATE SET
			capacity_state = EXCLUDED.capacity_state,
			used_capacity = EXCLUDED.used_capacity,
			total_capacity = EXCLUDED.total_capacity,
			uncertainty_high = EXCLUDED.uncertainty_high,
			reset_at = EXCLUDED.reset_at,
			updated_at = EXCLUDED.updated_at
	`
	_, err := s.db.ExecContext(ctx, query,
		q.KeyID, q.CapacityState, q.CapacityUnit, q.UsedCapacity, q.TotalCapacity,
		q.UncertaintyHigh, q.TimeWindow, q.ResetAt, q.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("store: saving quota state: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetQuotaState(ctx context.Context, keyID string) (*domain.QuotaState, error) {
	query := `
		SELECT key_id, capacity_state, capacity_unit, used_capacity, total_capacity,
			uncertainty_high, time_window, reset_at, updated_at
		FROM quota_states WHERE key_id = $1
	`
	var q domain.QuotaState
	err := s.db.QueryRowContext(ctx, query, keyID).Scan(
		&q.KeyID, &q.CapacityState, &q.CapacityUnit, &q.UsedCapacity, &q.TotalCapacity,
		&q.UncertaintyHigh, &q.TimeWindow, &q.ResetAt, &q.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, apkerrors.ErrKeyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: getting quota state: %w", err)
	}
	return &q, nil
}

func (s *PostgresStore) SaveRoutingDecision(ctx context.Context, d *domain.RoutingDecision) error {
	objective, _ := json.Marshal(d.Objective)
	eligible, _ := json.Marshal(d.EligibleKeys)
	evaluations, _ := json.Marshal(d.EvaluationResults)
	alternatives, _ := json.Marshal(d.AlternativesConsidered)
	query := `
		INSERT INTO routing_decisions (id, request_id, selected_key_id, selected_provider_id,
			objective, eligible_keys, evaluation_results, explanation, confidence, alternatives, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		ON CONFLICT (id) DO NOTHING
	`
	_, err := s.db.ExecContext(ctx, query,
		d.ID, d.RequestID, d.SelectedKeyID, d.SelectedProviderID, objective,
		eligible, evaluations, d.Explanation, d.Confidence, alternatives, d.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("store: saving routing decision: %w", err)
	}
	return nil
}

func (s *PostgresStore) SaveStateTransition(ctx context.Context, t *domain.StateTransition) error {
	transitionContext, _ := json.Marshal(t.Context)
	query := `
		INSERT INTO state_transitions (id, entity_type, entity_id, from_state, to_state,
			transition_timestamp, trigger, context)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (id) DO NOTHING
	`
	_, err := s.db.ExecContext(ctx, query,
		t.ID, t.EntityType, t.EntityID, t.FromState, t.ToState, t.TransitionTimestamp, t.Trigger, transitionContext,
	)
	if err != nil {
		return fmt.Errorf("store: saving state transition: %w", err)
	}
	return nil
}

func (s *PostgresStore) QueryState(ctx context.Context, q StateQuery) ([]*domain.RoutingDecision, []*domain.StateTransition, error) {
	var decisions []*domain.RoutingDecision
	var transitions []*domain.StateTransition

	if q.EntityType == "" || q.EntityType == "decision" {
		query := `SELECT id, request_id, selected_key_id, selected_provider_id, explanation, confidence, created_at
			FROM routing_decisions WHERE ($1 = '' OR selected_provider_id = $1)
			AND ($2 = '' OR selected_key_id = $2)
			AND ($3::timestamptz IS NULL OR created_at >= $3)
			AND ($4::timestamptz IS NULL OR created_at <= $4)
			ORDER BY created_at ASC`
		rows, err := s.db.QueryContext(ctx, query, q.ProviderID, q.KeyID, nullTime(q.Since), nullTime(q.Until))
		if err != nil {
			return nil, nil, fmt.Errorf("store: querying decisions: %w", err)
		}
		for rows.Next() {
			var d domain.RoutingDecision
			if err := rows.Scan(&d.ID, &d.RequestID, &d.SelectedKeyID, &d.SelectedProviderID, &d.Explanation, &d.Confidence, &d.CreatedAt); err != nil {
				rows.Close()
				return nil, nil, fmt.Errorf("store: scanning decision row: %w", err)
			}
			decisions = append(decisions, &d)
		}
		rows.Close()
	}

	if q.EntityType == "" || q.EntityType == "transition" {
		query := `SELECT id, entity_type, entity_id, from_state, to_state, transition_timestamp, trigger
			FROM state_transitions WHERE ($1 = '' OR entity_id = $1)
			AND ($2::timestamptz IS NULL OR transition_timestamp >= $2)
			AND ($3::timestamptz IS NULL OR transition_timestamp <= $3)
			ORDER BY transition_timestamp ASC`
		rows, err := s.db.QueryContext(ctx, query, q.KeyID, nullTime(q.Since), nullTime(q.Until))
		if err != nil {
			return nil, nil, fmt.Errorf("store: querying transitions: %w", err)
		}
		for rows.Next() {
			var t domain.StateTransition
			if err := rows.Scan(&t.ID, &t.EntityType, &t.EntityID, &t.FromState, &t.ToState, &t.TransitionTimestamp, &t.Trigger); err != nil {
				rows.Close()
				return nil, nil, fmt.Errorf("store: scanning transition row: %w", err)
			}
			transitions = append(transitions, &t)
		}
		rows.Close()
	}

	return decisions, transitions, nil
}

// EvictionCount is always 0 for a durable Postgres-backed store.
func (s *PostgresStore) EvictionCount() int64 { return 0 }

func (s *PostgresStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }
func (s *PostgresStore) Close() error                   { return s.db.Close() }

func nullTime(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t
}
