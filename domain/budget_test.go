// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package domain

import "testing"

func TestBudgetIsExceeded(t *testing.T) {
	b := &Budget{LimitAmount: 100, CurrentSpend: 100}
	if !b.IsExceeded() {
		t.Error("spend == limit should be exceeded")
	}
	b.CurrentSpend = 99.99
	if b.IsExceeded() {
		t.Error("spend < limit should not be exceeded")
	}
}

func TestBudgetRemainingBudget(t *testing.T) {
	b := &Budget{LimitAmount: 100, CurrentSpend: 40}
	if got := b.RemainingBudget(); got != 60 {
		t.Errorf("RemainingBudget() = %v, want 60", got)
	}
	b.CurrentSpend = 150
	if got := b.RemainingBudget(); got != 0 {
		t.Errorf("RemainingBudget() over limit = %v, want 0", got)
	}
}

func TestBudgetUtilizationPercentage(t *testing.T) {
	b := &Budget{LimitAmount: 200, CurrentSpend: 50}
	if got := b.UtilizationPercentage(); got != 25 {
		t.Errorf("UtilizationPercentage() = %v, want 25", got)
	}
	zero := &Budget{LimitAmount: 0, CurrentSpend: 50}
	if got := zero.UtilizationPercentage(); got != 0 {
		t.Errorf("UtilizationPercentage() with zero limit = %v, want 0", got)
	}
}

func TestBudgetMatches(t *testing.T) {
	tests := []struct {
		name                       string
		budget                     Budget
		providerID, keyID, routeID string
		want                       bool
	}{
		{"global matches anything", Budget{Scope: ScopeGlobal}, "p1", "k1", "r1", true},
		{"per provider match", Budget{Scope: ScopePerProvider, ScopeID: "p1"}, "p1", "k1", "r1", true},
		{"per provider mismatch", Budget{Scope: ScopePerProvider, ScopeID: "p2"}, "p1", "k1", "r1", false},
		{"per key match", Budget{Scope: ScopePerKey, ScopeID: "k1"}, "p1", "k1", "r1", true},
		{"per route match", Budget{Scope: ScopePerRoute, ScopeID: "r1"}, "p1", "k1", "r1", true},
		{"per route no route id", Budget{Scope: ScopePerRoute, ScopeID: "r1"}, "p1", "k1", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.budget.Matches(tt.providerID, tt.keyID, tt.routeID); got != tt.want {
				t.Errorf("Matches() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCostEstimateTotalTokensEstimate(t *testing.T) {
	c := &CostEstimate{InputTokensEstimate: 100, OutputTokensEstimate: 50}
	if got := c.TotalTokensEstimate(); got != 150 {
		t.Errorf("TotalTokensEstimate() = %v, want 150", got)
	}
}
