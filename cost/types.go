// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

// Package cost implements the CostController: budget CRUD, the
// pre-execution budget gate, and post-execution spend reconciliation.
// Adapted from orchestrator/cost/{types,service,repository,errors}.go —
// the closest one-to-one match in the whole example corpus — with
// BudgetScope redefined from AxonFlow's organization/team/agent/workflow/user
// model to spec.md's Global/PerProvider/PerKey/PerRoute model.
package cost

import (
	"errors"
	"time"

	"apikeyrouter/domain"
)

// BudgetCheckResult is returned by CheckBudget.
type BudgetCheckResult struct {
	Allowed          bool
	RemainingBudget  float64
	WouldExceed      bool
	ViolatedBudgets  []string
}

// Reconciliation records the estimate-vs-actual accuracy of a completed
// request, per spec.md §4.5's CostReconciliation requirement, supplemented
// by original_source's cost_reconciliation.py pricing-accuracy use case.
type Reconciliation struct {
	RequestID       string
	Estimate        float64
	Actual          float64
	ErrorAmount     float64
	ErrorPercentage float64
	RecordedAt      time.Time
}

// Sentinel errors, mirroring orchestrator/cost/errors.go's flat var block.
var (
	ErrBudgetNotFound      = errors.New("budget not found")
	ErrBudgetExists        = errors.New("budget already exists")
	ErrInvalidBudgetID     = errors.New("invalid budget id")
	ErrInvalidBudgetScope  = errors.New("invalid budget scope")
	ErrInvalidBudgetLimit  = errors.New("invalid budget limit")
	ErrInvalidScopeID      = errors.New("scope_id required for non-global budget scope")
	ErrBudgetExceeded      = errors.New("budget exceeded")
)

func isValidScope(s domain.BudgetScope) bool {
	switch s {
	case domain.ScopeGlobal, domain.ScopePerProvider, domain.ScopePerKey, domain.ScopePerRoute:
		return true
	}
	return false
}

// ValidateBudget mirrors orchestrator/cost/types.go's Budget.Validate, with
// the added scope_id-required-unless-global rule from
// original_source/.../domain/models/budget.py.
func ValidateBudget(b *domain.Budget) error {
	if b.ID == "" {
		return ErrInvalidBudgetID
	}
	if !isValidScope(b.Scope) {
		return ErrInvalidBudgetScope
	}
	if b.Scope != domain.ScopeGlobal && b.ScopeID == "" {
		return ErrInvalidScopeID
	}
	if b.LimitAmount <= 0 {
		return ErrInvalidBudgetLimit
	}
	return nil
}
