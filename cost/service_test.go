// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package cost

import (
	"context"
	"testing"
	"time"

	"apikeyrouter/domain"
	"apikeyrouter/observability"
)

func testController(t *testing.T) *Controller {
	t.Helper()
	return NewController(NewMemoryRepository(), observability.New("cost-test"))
}

func TestControllerCreateAndGetBudget(t *testing.T) {
	c := testController(t)
	ctx := context.Background()

	b := &domain.Budget{
		Scope:           domain.ScopePerProvider,
		ScopeID:         "openai",
		LimitAmount:     100,
		Period:          domain.PeriodDaily,
		EnforcementMode: domain.EnforcementHard,
	}
	if err := c.CreateBudget(ctx, b); err != nil {
		t.Fatalf("CreateBudget: %v", err)
	}
	if b.ID == "" {
		t.Fatal("expected CreateBudget to assign an id")
	}

	got, err := c.GetBudget(ctx, b.ID)
	if err != nil {
		t.Fatalf("GetBudget: %v", err)
	}
	if got.LimitAmount != 100 {
		t.Errorf("LimitAmount = %v, want 100", got.LimitAmount)
	}
}

func TestControllerCreateBudgetRejectsInvalid(t *testing.T) {
	c := testController(t)
	b := &domain.Budget{Scope: domain.ScopePerProvider, LimitAmount: 100}
	if err := c.CreateBudget(context.Background(), b); err == nil {
		t.Fatal("expected validation error: non-global scope requires scope_id")
	}
}

func TestControllerCheckBudgetHardModeBlocks(t *testing.T) {
	c := testController(t)
	ctx := context.Background()
	b := &domain.Budget{
		Scope:           domain.ScopeGlobal,
		LimitAmount:     10,
		CurrentSpend:    8,
		Period:          domain.PeriodDaily,
		EnforcementMode: domain.EnforcementHard,
	}
	if err := c.CreateBudget(ctx, b); err != nil {
		t.Fatalf("CreateBudget: %v", err)
	}

	result, err := c.CheckBudget(ctx, "openai", "key-1", "", 5)
	if err != nil {
		t.Fatalf("CheckBudget: %v", err)
	}
	if result.Allowed {
		t.Error("hard budget violation should not be allowed")
	}
	if !result.WouldExceed {
		t.Error("expected WouldExceed to be true")
	}
	if len(result.ViolatedBudgets) != 1 || result.ViolatedBudgets[0] != b.ID {
		t.Errorf("ViolatedBudgets = %v, want [%s]", result.ViolatedBudgets, b.ID)
	}
}

func TestControllerCheckBudgetSoftModeWarnsButAllows(t *testing.T) {
	c := testController(t)
	ctx := context.Background()
	b := &domain.Budget{
		Scope:           domain.ScopeGlobal,
		LimitAmount:     10,
		CurrentSpend:    8,
		Period:          domain.PeriodDaily,
		EnforcementMode: domain.EnforcementSoft,
	}
	if err := c.CreateBudget(ctx, b); err != nil {
		t.Fatalf("CreateBudget: %v", err)
	}

	result, err := c.CheckBudget(ctx, "openai", "key-1", "", 5)
	if err != nil {
		t.Fatalf("CheckBudget: %v", err)
	}
	if !result.Allowed {
		t.Error("soft budget violation should still be allowed")
	}
	if !result.WouldExceed {
		t.Error("expected WouldExceed to be true")
	}

	updated, err := c.GetBudget(ctx, b.ID)
	if err != nil {
		t.Fatalf("GetBudget: %v", err)
	}
	if updated.WarningCount != 1 {
		t.Errorf("WarningCount = %d, want 1", updated.WarningCount)
	}
}

func TestControllerCheckBudgetWithinLimitAllowsAndNoViolations(t *testing.T) {
	c := testController(t)
	ctx := context.Background()
	b := &domain.Budget{
		Scope:           domain.ScopeGlobal,
		LimitAmount:     100,
		CurrentSpend:    5,
		Period:          domain.PeriodDaily,
		EnforcementMode: domain.EnforcementHard,
	}
	if err := c.CreateBudget(ctx, b); err != nil {
		t.Fatalf("CreateBudget: %v", err)
	}

	result, err := c.CheckBudget(ctx, "openai", "key-1", "", 5)
	if err != nil {
		t.Fatalf("CheckBudget: %v", err)
	}
	if !result.Allowed || result.WouldExceed {
		t.Errorf("expected request within budget to be allowed with no violation, got %+v", result)
	}
}

func TestControllerUpdateSpending(t *testing.T) {
	c := testController(t)
	ctx := context.Background()
	b := &domain.Budget{Scope: domain.ScopeGlobal, LimitAmount: 100, Period: domain.PeriodDaily, EnforcementMode: domain.EnforcementHard}
	if err := c.CreateBudget(ctx, b); err != nil {
		t.Fatalf("CreateBudget: %v", err)
	}

	if err := c.UpdateSpending(ctx, b.ID, 12.5); err != nil {
		t.Fatalf("UpdateSpending: %v", err)
	}
	got, err := c.GetBudget(ctx, b.ID)
	if err != nil {
		t.Fatalf("GetBudget: %v", err)
	}
	if got.CurrentSpend != 12.5 {
		t.Errorf("CurrentSpend = %v, want 12.5", got.CurrentSpend)
	}
}

func TestControllerReconcileAppliesActualToMatchingBudgets(t *testing.T) {
	c := testController(t)
	ctx := context.Background()
	b := &domain.Budget{Scope: domain.ScopePerProvider, ScopeID: "openai", LimitAmount: 100, Period: domain.PeriodDaily, EnforcementMode: domain.EnforcementHard}
	if err := c.CreateBudget(ctx, b); err != nil {
		t.Fatalf("CreateBudget: %v", err)
	}

	if err := c.Reconcile(ctx, "req-1", "openai", "key-1", "", 1.0, 1.5); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}

	got, err := c.GetBudget(ctx, b.ID)
	if err != nil {
		t.Fatalf("GetBudget: %v", err)
	}
	if got.CurrentSpend != 1.5 {
		t.Errorf("CurrentSpend after reconcile = %v, want 1.5 (actual, not estimate)", got.CurrentSpend)
	}
}

func TestControllerResetPeriodAdvancesElapsedBudgets(t *testing.T) {
	c := testController(t)
	ctx := context.Background()
	b := &domain.Budget{
		Scope:           domain.ScopeGlobal,
		LimitAmount:     100,
		CurrentSpend:    50,
		Period:          domain.PeriodDaily,
		EnforcementMode: domain.EnforcementHard,
		ResetAt:         time.Now().UTC().Add(-time.Hour),
	}
	if err := c.CreateBudget(ctx, b); err != nil {
		t.Fatalf("CreateBudget: %v", err)
	}

	if err := c.ResetPeriod(ctx); err != nil {
		t.Fatalf("ResetPeriod: %v", err)
	}

	got, err := c.GetBudget(ctx, b.ID)
	if err != nil {
		t.Fatalf("GetBudget: %v", err)
	}
	if got.CurrentSpend != 0 {
		t.Errorf("CurrentSpend after reset = %v, want 0", got.CurrentSpend)
	}
	if !got.ResetAt.After(time.Now().UTC().Add(-time.Minute)) {
		t.Errorf("ResetAt should have advanced into the future, got %v", got.ResetAt)
	}
}

func TestControllerResetPeriodSkipsBudgetsNotYetDue(t *testing.T) {
	c := testController(t)
	ctx := context.Background()
	future := time.Now().UTC().Add(time.Hour)
	b := &domain.Budget{
		Scope:           domain.ScopeGlobal,
		LimitAmount:     100,
		CurrentSpend:    50,
		Period:          domain.PeriodDaily,
		EnforcementMode: domain.EnforcementHard,
		ResetAt:         future,
	}
	if err := c.CreateBudget(ctx, b); err != nil {
		t.Fatalf("CreateBudget: %v", err)
	}

	if err := c.ResetPeriod(ctx); err != nil {
		t.Fatalf("ResetPeriod: %v", err)
	}

	got, err := c.GetBudget(ctx, b.ID)
	if err != nil {
		t.Fatalf("GetBudget: %v", err)
	}
	if got.CurrentSpend != 50 {
		t.Errorf("CurrentSpend should be untouched before reset is due, got %v", got.CurrentSpend)
	}
}

func TestValidateBudget(t *testing.T) {
	tests := []struct {
		name    string
		budget  domain.Budget
		wantErr error
	}{
		{"missing id", domain.Budget{Scope: domain.ScopeGlobal, LimitAmount: 1}, ErrInvalidBudgetID},
		{"invalid scope", domain.Budget{ID: "b1", Scope: "bogus", LimitAmount: 1}, ErrInvalidBudgetScope},
		{"non-global missing scope id", domain.Budget{ID: "b1", Scope: domain.ScopePerKey, LimitAmount: 1}, ErrInvalidScopeID},
		{"zero limit", domain.Budget{ID: "b1", Scope: domain.ScopeGlobal, LimitAmount: 0}, ErrInvalidBudgetLimit},
		{"valid global budget", domain.Budget{ID: "b1", Scope: domain.ScopeGlobal, LimitAmount: 1}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateBudget(&tt.budget)
			if tt.wantErr == nil && err != nil {
				t.Errorf("expected no error, got %v", err)
			}
			if tt.wantErr != nil && err != tt.wantErr {
				t.Errorf("error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}
