// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package domain

import "time"

// PolicyType classifies what a policy governs.
type PolicyType string

const (
	PolicyRouting         PolicyType = "routing"
	PolicyCostControl     PolicyType = "cost_control"
	PolicyKeySelection    PolicyType = "key_selection"
	PolicyFailureHandling PolicyType = "failure_handling"
)

// Policy is a declarative rule set evaluated by PolicyEngine.
type Policy struct {
	ID        string
	Type      PolicyType
	Scope     string // e.g. provider id, or "" for global
	ScopeID   string
	Rules     map[string]interface{}
	Priority  int // higher wins
	Enabled   bool
	CreatedAt time.Time
	UpdatedAt time.Time
}
