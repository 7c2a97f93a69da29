// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package cost

import (
	"context"

	"apikeyrouter/domain"
)

// Repository is the persistence contract for budgets and reconciliations,
// mirroring the interface-segregation shape of orchestrator/cost/repository.go.
type Repository interface {
	CreateBudget(ctx context.Context, b *domain.Budget) error
	GetBudget(ctx context.Context, id string) (*domain.Budget, error)
	UpdateBudget(ctx context.Context, b *domain.Budget) error
	DeleteBudget(ctx context.Context, id string) error
	ListBudgets(ctx context.Context) ([]*domain.Budget, error)
	GetBudgetsForScope(ctx context.Context, scope domain.BudgetScope, scopeID string) ([]*domain.Budget, error)

	SaveReconciliation(ctx context.Context, r *Reconciliation) error

	Ping(ctx context.Context) error
}
