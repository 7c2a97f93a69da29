// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package policy

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"apikeyrouter/domain"
)

// PostgresStore persists policies, mirroring dynamic_policy_engine.go's
// DB-backed policy loading (it reads DATABASE_URL and periodically reloads
// via reloadPoliciesRoutine); here exposed as an explicit Repository rather
// than a background-connecting singleton, so callers control lifecycle.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore opens the policies table, creating it if absent.
func NewPostgresStore(ctx context.Context, db *sql.DB) (*PostgresStore, error) {
	s := &PostgresStore{db: db}
	stmt := `CREATE TABLE IF NOT EXISTS policies (
		id TEXT PRIMARY KEY,
		type TEXT NOT NULL,
		scope TEXT,
		scope_id TEXT,
		rules JSONB NOT NULL,
		priority INT NOT NULL DEFAULT 0,
		enabled BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`
	if _, err := db.ExecContext(ctx, stmt); err != nil {
		return nil, fmt.Errorf("policy: running migration: %w", err)
	}
	return s, nil
}

// Upsert creates or updates a policy row.
func (s *PostgresStore) Upsert(ctx context.Context, p *domain.Policy) error {
	rules, err := json.Marshal(p.Rules)
	if err != nil {
		return fmt.Errorf("policy: marshaling rules: %w", err)
	}
	p.UpdatedAt = time.Now().UTC()
	query := `
		INSERT INTO policies (id, type, scope, scope_id, rules, priority, enabled, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		ON CONFLICT (id) DO UPDATE SET
			type = EXCLUDED.type, scope = EXCLUDED.scope, scope_id = EXCLUDED.scope_id,
			rules = EXCLUDED.rules, priority = EXCLUDED.priority, enabled = EXCLUDED.enabled,
			updated_at = EXCLUDED.updated_at
	`
	_, err = s.db.ExecContext(ctx, query, p.ID, p.Type, p.Scope, p.ScopeID, rules, p.Priority, p.Enabled, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("policy: upserting policy: %w", err)
	}
	return nil
}

// LoadAll reads every policy row, for use at startup and by a periodic
// reload loop (the caller is expected to drive the ticker, per
// DynamicPolicyEngine's reloadPoliciesRoutine pattern, and call
// Engine.AddPolicy with the results).
func (s *PostgresStore) LoadAll(ctx context.Context) ([]*domain.Policy, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, type, scope, scope_id, rules, priority, enabled, created_at, updated_at FROM policies`)
	if err != nil {
		return nil, fmt.Errorf("policy: loading policies: %w", err)
	}
	defer rows.Close()

	var out []*domain.Policy
	for rows.Next() {
		var p domain.Policy
		var scope, scopeID sql.NullString
		var rules []byte
		if err := rows.Scan(&p.ID, &p.Type, &scope, &scopeID, &rules, &p.Priority, &p.Enabled, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("policy: scanning policy row: %w", err)
		}
		p.Scope = scope.String
		p.ScopeID = scopeID.String
		if len(rules) > 0 {
			if err := json.Unmarshal(rules, &p.Rules); err != nil {
				return nil, fmt.Errorf("policy: unmarshaling rules: %w", err)
			}
		}
		out = append(out, &p)
	}
	return out, rows.Err()
}

// ReloadInto periodically reloads policies from Postgres into e, running
// until ctx is cancelled, mirroring reloadPoliciesRoutine's ticker shape.
// The caller runs it in its own goroutine; proxyserver does not start it.
func (s *PostgresStore) ReloadInto(ctx context.Context, e *Engine, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			policies, err := s.LoadAll(ctx)
			if err != nil {
				continue
			}
			for _, p := range policies {
				e.AddPolicy(p)
			}
		}
	}
}
