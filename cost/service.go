// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package cost

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"apikeyrouter/domain"
	"apikeyrouter/observability"
)

// Controller is the CostController component: budget CRUD, the
// pre-execution gate, and post-execution reconciliation. Adapted from
// orchestrator/cost/service.go's Service, trimming the
// organization/team/agent/workflow/user alert-threshold machinery (out of
// scope for this spec). State lives in the Repository; side effects such as
// the soft-budget warning counter run synchronously on the calling goroutine.
type Controller struct {
	repo     Repository
	observer *observability.Observer

	mu sync.Mutex
}

// NewController constructs a CostController.
func NewController(repo Repository, obs *observability.Observer) *Controller {
	return &Controller{repo: repo, observer: obs}
}

// CreateBudget validates and persists a new budget.
func (c *Controller) CreateBudget(ctx context.Context, b *domain.Budget) error {
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	b.CreatedAt = now
	b.UpdatedAt = now
	if err := ValidateBudget(b); err != nil {
		return err
	}
	return c.repo.CreateBudget(ctx, b)
}

func (c *Controller) GetBudget(ctx context.Context, id string) (*domain.Budget, error) {
	return c.repo.GetBudget(ctx, id)
}

func (c *Controller) UpdateBudget(ctx context.Context, b *domain.Budget) error {
	b.UpdatedAt = time.Now().UTC()
	if err := ValidateBudget(b); err != nil {
		return err
	}
	return c.repo.UpdateBudget(ctx, b)
}

func (c *Controller) DeleteBudget(ctx context.Context, id string) error {
	return c.repo.DeleteBudget(ctx, id)
}

func (c *Controller) ListBudgets(ctx context.Context) ([]*domain.Budget, error) {
	return c.repo.ListBudgets(ctx)
}

// CheckBudget evaluates every budget whose scope matches the request,
// implementing spec.md §4.5's check_budget exactly: a budget is violated
// when current_spend + estimate > limit_amount; Hard mode makes any
// violation block the request, Soft mode allows it while incrementing a
// warning counter.
func (c *Controller) CheckBudget(ctx context.Context, providerID, keyID, routeID string, estimate float64) (*BudgetCheckResult, error) {
	all, err := c.repo.ListBudgets(ctx)
	if err != nil {
		return nil, fmt.Errorf("cost: listing budgets for check: %w", err)
	}

	result := &BudgetCheckResult{Allowed: true, RemainingBudget: -1}
	for _, b := range all {
		if !b.Matches(providerID, keyID, routeID) {
			continue
		}
		wouldExceed := b.CurrentSpend+estimate > b.LimitAmount
		if !wouldExceed {
			continue
		}
		result.WouldExceed = true
		result.ViolatedBudgets = append(result.ViolatedBudgets, b.ID)
		remaining := b.RemainingBudget()
		if result.RemainingBudget < 0 || remaining < result.RemainingBudget {
			result.RemainingBudget = remaining
		}
		if b.EnforcementMode == domain.EnforcementHard {
			result.Allowed = false
		} else {
			c.incrementWarning(ctx, b)
		}
	}
	if result.RemainingBudget < 0 {
		result.RemainingBudget = 0
	}
	return result, nil
}

func (c *Controller) incrementWarning(ctx context.Context, b *domain.Budget) {
	b.WarningCount++
	if err := c.repo.UpdateBudget(ctx, b); err != nil && c.observer != nil {
		c.observer.Warn("", "", "cost_warning_persist_failed", map[string]interface{}{"budget_id": b.ID, "error": err.Error()})
	}
}

// UpdateSpending adds amount to a budget's current_spend.
func (c *Controller) UpdateSpending(ctx context.Context, budgetID string, amount float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, err := c.repo.GetBudget(ctx, budgetID)
	if err != nil {
		return err
	}
	b.CurrentSpend += amount
	b.UpdatedAt = time.Now().UTC()
	return c.repo.UpdateBudget(ctx, b)
}

// Reconcile records the estimate-vs-actual delta for a completed request
// and applies the actual cost to every matching budget's current_spend,
// replacing the pre-execution estimate that was never actually charged.
func (c *Controller) Reconcile(ctx context.Context, requestID string, providerID, keyID, routeID string, estimate, actual float64) error {
	errAmount := actual - estimate
	errPct := 0.0
	if estimate != 0 {
		errPct = (errAmount / estimate) * 100
	}
	rec := &Reconciliation{
		RequestID:       requestID,
		Estimate:        estimate,
		Actual:          actual,
		ErrorAmount:     errAmount,
		ErrorPercentage: errPct,
		RecordedAt:      time.Now().UTC(),
	}
	if err := c.repo.SaveReconciliation(ctx, rec); err != nil {
		return fmt.Errorf("cost: saving reconciliation: %w", err)
	}

	budgets, err := c.repo.ListBudgets(ctx)
	if err != nil {
		return fmt.Errorf("cost: listing budgets for reconciliation: %w", err)
	}
	for _, b := range budgets {
		if !b.Matches(providerID, keyID, routeID) {
			continue
		}
		if err := c.UpdateSpending(ctx, b.ID, actual); err != nil && c.observer != nil {
			c.observer.Warn("", requestID, "reconcile_spend_failed", map[string]interface{}{"budget_id": b.ID, "error": err.Error()})
		}
	}
	return nil
}

// ResetPeriod zeros current_spend and advances reset_at by one period for
// every budget whose reset_at has elapsed. Intended to be driven by a
// periodic sweep (see the robfig/cron wiring in proxyserver's build), mirroring the
// teacher's getPeriodStart/getPeriodEnd boundary computation, generalized
// to spec.md's simpler hourly/daily/weekly/monthly period set.
func (c *Controller) ResetPeriod(ctx context.Context) error {
	budgets, err := c.repo.ListBudgets(ctx)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	for _, b := range budgets {
		if b.ResetAt.IsZero() || b.ResetAt.After(now) {
			continue
		}
		b.CurrentSpend = 0
		b.ResetAt = advancePeriod(b.ResetAt, b.Period)
		b.UpdatedAt = now
		if err := c.repo.UpdateBudget(ctx, b); err != nil && c.observer != nil {
			c.observer.Warn("", "", "budget_period_reset_failed", map[string]interface{}{"budget_id": b.ID, "error": err.Error()})
		}
	}
	return nil
}

func advancePeriod(t time.Time, p domain.BudgetPeriod) time.Time {
	switch p {
	case domain.PeriodHourly:
		return t.Add(time.Hour)
	case domain.PeriodDaily:
		return t.AddDate(0, 0, 1)
	case domain.PeriodWeekly:
		return t.AddDate(0, 0, 7)
	case domain.PeriodMonthly:
		return t.AddDate(0, 1, 0)
	default:
		return t.AddDate(0, 0, 1)
	}
}
