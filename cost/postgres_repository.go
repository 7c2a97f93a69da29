// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package cost

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"

	"apikeyrouter/domain"
)

// PostgresRepository implements Repository using PostgreSQL, following the
// exact raw-SQL shape of orchestrator/cost/postgres_repository.go.
type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository wraps an existing *sql.DB and ensures the budgets
// schema exists.
func NewPostgresRepository(ctx context.Context, db *sql.DB) (*PostgresRepository, error) {
	r := &PostgresRepository{db: db}
	if err := r.migrate(ctx); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *PostgresRepository) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS budgets (
			id TEXT PRIMARY KEY,
			scope TEXT NOT NULL,
			scope_id TEXT,
			limit_amount DOUBLE PRECISION NOT NULL,
			current_spend DOUBLE PRECISION NOT NULL DEFAULT 0,
			period TEXT NOT NULL,
			enforcement_mode TEXT NOT NULL,
			reset_at TIMESTAMPTZ,
			warning_count INT NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_budgets_scope ON budgets(scope, scope_id)`,
		`CREATE TABLE IF NOT EXISTS cost_reconciliations (
			request_id TEXT PRIMARY KEY,
			estimate DOUBLE PRECISION NOT NULL,
			actual DOUBLE PRECISION NOT NULL,
			error_amount DOUBLE PRECISION NOT NULL,
			error_percentage DOUBLE PRECISION NOT NULL,
			recorded_at TIMESTAMPTZ NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("cost: running migration: %w", err)
		}
	}
	return nil
}

func (r *PostgresRepository) CreateBudget(ctx context.Context, b *domain.Budget) error {
	query := `
		INSERT INTO budgets (id, scope, scope_id, limit_amount, current_spend, period,
			enforcement_mode, reset_at, warning_count, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
	`
	_, err := r.db.ExecContext(ctx, query, b.ID, b.Scope, nullString(b.ScopeID), b.LimitAmount,
		b.CurrentSpend, b.Period, b.EnforcementMode, b.ResetAt, b.WarningCount, b.CreatedAt, b.UpdatedAt)
	if err != nil {
		return fmt.Errorf("cost: creating budget: %w", err)
	}
	return nil
}

func (r *PostgresRepository) GetBudget(ctx context.Context, id string) (*domain.Budget, error) {
	query := `
		SELECT id, scope, scope_id, limit_amount, current_spend, period, enforcement_mode,
			reset_at, warning_count, created_at, updated_at
		FROM budgets WHERE id = $1
	`
	var b domain.Budget
	var scopeID sql.NullString
	err := r.db.QueryRowContext(ctx, query, id).Scan(&b.ID, &b.Scope, &scopeID, &b.LimitAmount,
		&b.CurrentSpend, &b.Period, &b.EnforcementMode, &b.ResetAt, &b.WarningCount, &b.CreatedAt, &b.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrBudgetNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("cost: getting budget: %w", err)
	}
	b.ScopeID = scopeID.String
	return &b, nil
}

func (r *PostgresRepository) UpdateBudget(ctx context.Context, b *domain.Budget) error {
	query := `
		UPDATE budgets SET scope = $2, scope_id = $3, limit_amount = $4, current_spend = $5,
			period = $6, enforcement_mode = $7, reset_at = $8, warning_count = $9, updated_at = $10
		WHERE id = $1
	`
	res, err := r.db.ExecContext(ctx, query, b.ID, b.Scope, nullString(b.ScopeID), b.LimitAmount,
		b.CurrentSpend, b.Period, b.EnforcementMode, b.ResetAt, b.WarningCount, b.UpdatedAt)
	if err != nil {
		return fmt.Errorf("cost: updating budget: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrBudgetNotFound
	}
	return nil
}

func (r *PostgresRepository) DeleteBudget(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM budgets WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("cost: deleting budget: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrBudgetNotFound
	}
	return nil
}

func (r *PostgresRepository) ListBudgets(ctx context.Context) ([]*domain.Budget, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, scope, scope_id, limit_amount, current_spend, period, enforcement_mode,
			reset_at, warning_count, created_at, updated_at FROM budgets`)
	if err != nil {
		return nil, fmt.Errorf("cost: listing budgets: %w", err)
	}
	defer rows.Close()
	return scanBudgets(rows)
}

func (r *PostgresRepository) GetBudgetsForScope(ctx context.Context, scope domain.BudgetScope, scopeID string) ([]*domain.Budget, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, scope, scope_id, limit_amount, current_spend, period, enforcement_mode,
			reset_at, warning_count, created_at, updated_at
		FROM budgets WHERE scope = $1 AND (scope = 'global' OR scope_id = $2)`, scope, scopeID)
	if err != nil {
		return nil, fmt.Errorf("cost: listing budgets for scope: %w", err)
	}
	defer rows.Close()
	return scanBudgets(rows)
}

func scanBudgets(rows *sql.Rows) ([]*domain.Budget, error) {
	var out []*domain.Budget
	for rows.Next() {
		var b domain.Budget
		var scopeID sql.NullString
		if err := rows.Scan(&b.ID, &b.Scope, &scopeID, &b.LimitAmount, &b.CurrentSpend, &b.Period,
			&b.EnforcementMode, &b.ResetAt, &b.WarningCount, &b.CreatedAt, &b.UpdatedAt); err != nil {
			return nil, fmt.Errorf("cost: scanning budget row: %w", err)
		}
		b.ScopeID = scopeID.String
		out = append(out, &b)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) SaveReconciliation(ctx context.Context, rec *Reconciliation) error {
	query := `
		INSERT INTO cost_reconciliations (request_id, estimate, actual, error_amount, error_percentage, recorded_at)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (request_id) DO NOTHING
	`
	_, err := r.db.ExecContext(ctx, query, rec.RequestID, rec.Estimate, rec.Actual, rec.ErrorAmount, rec.ErrorPercentage, rec.RecordedAt)
	if err != nil {
		return fmt.Errorf("cost: saving reconciliation: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Ping(ctx context.Context) error { return r.db.PingContext(ctx) }

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
