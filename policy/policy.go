// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

// Package policy implements the PolicyEngine: evaluation of declarative
// Policy.Rules against a routing context. Adapted from
// orchestrator/dynamic_policy_engine.go's condition/priority/cache shape,
// with the rule-key vocabulary redefined per spec.md §4.6
// (max_cost/min_reliability/allowed_providers/blocked_providers/
// key_filters.*/budget_limit/max_cost_per_request) in place of AxonFlow's
// content-risk policy types.
package policy

import (
	"sort"
	"sync"

	"apikeyrouter/domain"
)

// Context is the routing context a policy is evaluated against.
type Context struct {
	EligibleKeys  []*domain.APIKey
	RequestIntent *domain.RequestIntent
	ProviderID    string
}

// Result is the outcome of evaluating all applicable policies.
type Result struct {
	Allowed         bool
	FilteredKeys    []*domain.APIKey
	Constraints     map[string]interface{}
	Reason          string
	AppliedPolicies []string
}

// Engine is the PolicyEngine component. Policies are cached in a plain
// slice guarded by a sync.RWMutex, following
// DynamicPolicyEngine's policyMutex/cache convention.
type Engine struct {
	mu       sync.RWMutex
	policies []*domain.Policy
}

// New constructs an empty Engine. Policies are added via AddPolicy or
// LoadSeed (see seed.go).
func New() *Engine {
	return &Engine{}
}

// AddPolicy registers or replaces a policy by id.
func (e *Engine) AddPolicy(p *domain.Policy) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i, existing := range e.policies {
		if existing.ID == p.ID {
			e.policies[i] = p
			return
		}
	}
	e.policies = append(e.policies, p)
}

// RemovePolicy deletes a policy by id.
func (e *Engine) RemovePolicy(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i, p := range e.policies {
		if p.ID == id {
			e.policies = append(e.policies[:i], e.policies[i+1:]...)
			return
		}
	}
}

// ListPolicies returns every registered policy (enabled or not), for
// inspection endpoints such as GET /admin/policies.
func (e *Engine) ListPolicies() []*domain.Policy {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]*domain.Policy, len(e.policies))
	copy(out, e.policies)
	return out
}

// sortedEnabled returns enabled policies ordered by descending priority,
// the conflict-resolution rule spec.md §4.6 mandates.
func (e *Engine) sortedEnabled() []*domain.Policy {
	e.mu.RLock()
	defer e.mu.RUnlock()
	var out []*domain.Policy
	for _, p := range e.policies {
		if p.Enabled {
			out = append(out, p)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Priority > out[j].Priority })
	return out
}

// Evaluate applies every enabled policy to ctx, filtering keys and
// accumulating constraints. Equal-priority conflicting max_cost values
// resolve to the tighter (lower) constraint, per DESIGN.md's Open Question
// (a) decision.
func (e *Engine) Evaluate(ctx Context) Result {
	result := Result{
		Allowed:      true,
		FilteredKeys: ctx.EligibleKeys,
		Constraints:  make(map[string]interface{}),
	}

	for _, p := range e.sortedEnabled() {
		if p.Scope != "" && p.Scope != ctx.ProviderID {
			continue
		}
		applied := false
		for key, rawValue := range p.Rules {
			if applyRule(&result, key, rawValue, ctx) {
				applied = true
			}
		}
		if applied {
			result.AppliedPolicies = append(result.AppliedPolicies, p.ID)
		}
	}

	if len(result.FilteredKeys) == 0 {
		result.Allowed = false
		result.Reason = "no keys remain after policy filtering"
	}
	return result
}

func applyRule(result *Result, ruleKey string, rawValue interface{}, ctx Context) bool {
	switch ruleKey {
	case "max_cost", "budget_limit", "max_cost_per_request":
		if v, ok := toFloat(rawValue); ok {
			if existing, has := result.Constraints[ruleKey].(float64); !has || v < existing {
				result.Constraints[ruleKey] = v
			}
			return true
		}
	case "min_reliability":
		if v, ok := toFloat(rawValue); ok {
			result.FilteredKeys = filterKeys(result.FilteredKeys, func(k *domain.APIKey) bool {
				return k.SuccessRate() >= v
			})
			return true
		}
	case "allowed_providers":
		if list, ok := toStringSlice(rawValue); ok {
			allowed := toSet(list)
			result.FilteredKeys = filterKeys(result.FilteredKeys, func(k *domain.APIKey) bool {
				return allowed[k.ProviderID]
			})
			return true
		}
	case "blocked_providers":
		if list, ok := toStringSlice(rawValue); ok {
			blocked := toSet(list)
			result.FilteredKeys = filterKeys(result.FilteredKeys, func(k *domain.APIKey) bool {
				return !blocked[k.ProviderID]
			})
			return true
		}
	case "key_filters.allowed_states":
		if list, ok := toStringSlice(rawValue); ok {
			allowed := toSet(list)
			result.FilteredKeys = filterKeys(result.FilteredKeys, func(k *domain.APIKey) bool {
				return allowed[string(k.State)]
			})
			return true
		}
	case "key_filters.blocked_keys":
		if list, ok := toStringSlice(rawValue); ok {
			blocked := toSet(list)
			result.FilteredKeys = filterKeys(result.FilteredKeys, func(k *domain.APIKey) bool {
				return !blocked[k.ID]
			})
			return true
		}
	}
	return false
}

func filterKeys(keys []*domain.APIKey, keep func(*domain.APIKey) bool) []*domain.APIKey {
	var out []*domain.APIKey
	for _, k := range keys {
		if keep(k) {
			out = append(out, k)
		}
	}
	return out
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

func toStringSlice(v interface{}) ([]string, bool) {
	switch s := v.(type) {
	case []string:
		return s, true
	case []interface{}:
		out := make([]string, 0, len(s))
		for _, item := range s {
			if str, ok := item.(string); ok {
				out = append(out, str)
			}
		}
		return out, true
	default:
		return nil, false
	}
}

func toSet(items []string) map[string]bool {
	m := make(map[string]bool, len(items))
	for _, item := range items {
		m[item] = true
	}
	return m
}
