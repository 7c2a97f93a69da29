// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package domain

import "time"

// BudgetScope is the level at which a budget applies, matching
// original_source's budget.py exactly (Global/PerProvider/PerKey/PerRoute),
// not the teacher cost package's organization/team/agent/workflow/user model.
type BudgetScope string

const (
	ScopeGlobal      BudgetScope = "global"
	ScopePerProvider BudgetScope = "per_provider"
	ScopePerKey      BudgetScope = "per_key"
	ScopePerRoute    BudgetScope = "per_route"
)

// EnforcementMode controls what happens when a budget is violated.
type EnforcementMode string

const (
	EnforcementHard EnforcementMode = "hard"
	EnforcementSoft EnforcementMode = "soft"
)

// BudgetPeriod is the renewal period for current_spend.
type BudgetPeriod string

const (
	PeriodHourly  BudgetPeriod = "hourly"
	PeriodDaily   BudgetPeriod = "daily"
	PeriodWeekly  BudgetPeriod = "weekly"
	PeriodMonthly BudgetPeriod = "monthly"
)

// Budget is a spend limit bound to a scope.
type Budget struct {
	ID              string
	Scope           BudgetScope
	ScopeID         string // required when Scope != ScopeGlobal
	LimitAmount     float64
	CurrentSpend    float64
	Period          BudgetPeriod
	EnforcementMode EnforcementMode
	ResetAt         time.Time
	WarningCount    int
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// IsExceeded reports current_spend >= limit_amount.
func (b *Budget) IsExceeded() bool {
	return b.CurrentSpend >= b.LimitAmount
}

// RemainingBudget returns max(0, limit-spend).
func (b *Budget) RemainingBudget() float64 {
	r := b.LimitAmount - b.CurrentSpend
	if r < 0 {
		return 0
	}
	return r
}

// UtilizationPercentage returns spend/limit * 100, 0 if limit is 0.
func (b *Budget) UtilizationPercentage() float64 {
	if b.LimitAmount <= 0 {
		return 0
	}
	return (b.CurrentSpend / b.LimitAmount) * 100
}

// Matches reports whether this budget governs a request against the given
// provider/key/route identifiers, per spec.md §4.5 ("Global always;
// PerProvider if id matches; PerKey if id matches; PerRoute if configured").
func (b *Budget) Matches(providerID, keyID, routeID string) bool {
	switch b.Scope {
	case ScopeGlobal:
		return true
	case ScopePerProvider:
		return b.ScopeID == providerID
	case ScopePerKey:
		return b.ScopeID == keyID
	case ScopePerRoute:
		return routeID != "" && b.ScopeID == routeID
	default:
		return false
	}
}

// CostEstimate is a pre-execution cost prediction.
type CostEstimate struct {
	Amount                float64
	Currency              string // default "USD"
	Confidence            float64
	EstimationMethod      string
	InputTokensEstimate   int64
	OutputTokensEstimate  int64
	Breakdown             map[string]float64
}

// TotalTokensEstimate returns input+output token estimates.
func (c *CostEstimate) TotalTokensEstimate() int64 {
	return c.InputTokensEstimate + c.OutputTokensEstimate
}
