// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package policy

import (
	"testing"

	"apikeyrouter/domain"
)

func keySet(ids ...string) []*domain.APIKey {
	out := make([]*domain.APIKey, len(ids))
	for i, id := range ids {
		out[i] = &domain.APIKey{ID: id, ProviderID: "openai", State: domain.KeyAvailable, UsageCount: 100}
	}
	return out
}

func TestEngineAddRemoveAndListPolicies(t *testing.T) {
	e := New()
	e.AddPolicy(&domain.Policy{ID: "p1", Enabled: true, Priority: 1})
	e.AddPolicy(&domain.Policy{ID: "p2", Enabled: false, Priority: 2})
	if got := len(e.ListPolicies()); got != 2 {
		t.Fatalf("ListPolicies() returned %d, want 2", got)
	}

	// Re-adding the same id replaces rather than duplicates.
	e.AddPolicy(&domain.Policy{ID: "p1", Enabled: true, Priority: 5})
	if got := len(e.ListPolicies()); got != 2 {
		t.Fatalf("ListPolicies() after replace returned %d, want 2", got)
	}

	e.RemovePolicy("p2")
	if got := len(e.ListPolicies()); got != 1 {
		t.Fatalf("ListPolicies() after remove returned %d, want 1", got)
	}
}

func TestEngineEvaluateNoPoliciesAllowsEverything(t *testing.T) {
	e := New()
	keys := keySet("k1", "k2")
	result := e.Evaluate(Context{EligibleKeys: keys, ProviderID: "openai"})
	if !result.Allowed {
		t.Error("expected Allowed with no policies configured")
	}
	if len(result.FilteredKeys) != 2 {
		t.Errorf("FilteredKeys = %d, want 2", len(result.FilteredKeys))
	}
}

func TestEngineEvaluateDisabledPolicyIgnored(t *testing.T) {
	e := New()
	e.AddPolicy(&domain.Policy{
		ID:      "block-all",
		Enabled: false,
		Rules:   map[string]interface{}{"blocked_providers": []string{"openai"}},
	})
	result := e.Evaluate(Context{EligibleKeys: keySet("k1"), ProviderID: "openai"})
	if !result.Allowed || len(result.FilteredKeys) != 1 {
		t.Error("disabled policy must not affect evaluation")
	}
}

func TestEngineEvaluateBlockedProvidersDeniesAll(t *testing.T) {
	e := New()
	e.AddPolicy(&domain.Policy{
		ID:      "block-openai",
		Enabled: true,
		Rules:   map[string]interface{}{"blocked_providers": []string{"openai"}},
	})
	result := e.Evaluate(Context{EligibleKeys: keySet("k1", "k2"), ProviderID: "openai"})
	if result.Allowed {
		t.Error("expected denial once all keys are filtered out")
	}
	if len(result.FilteredKeys) != 0 {
		t.Errorf("FilteredKeys = %d, want 0", len(result.FilteredKeys))
	}
	if len(result.AppliedPolicies) != 1 || result.AppliedPolicies[0] != "block-openai" {
		t.Errorf("AppliedPolicies = %v", result.AppliedPolicies)
	}
}

func TestEngineEvaluateMinReliabilityFiltersLowSuccessKeys(t *testing.T) {
	e := New()
	e.AddPolicy(&domain.Policy{
		ID:      "reliability",
		Enabled: true,
		Rules:   map[string]interface{}{"min_reliability": 0.99},
	})
	reliable := &domain.APIKey{ID: "reliable", ProviderID: "openai", State: domain.KeyAvailable, UsageCount: 100}
	unreliable := &domain.APIKey{ID: "unreliable", ProviderID: "openai", State: domain.KeyAvailable, UsageCount: 50, FailureCount: 50}

	result := e.Evaluate(Context{EligibleKeys: []*domain.APIKey{reliable, unreliable}, ProviderID: "openai"})
	if len(result.FilteredKeys) != 1 || result.FilteredKeys[0].ID != "reliable" {
		t.Fatalf("expected only the reliable key to survive, got %+v", result.FilteredKeys)
	}
}

func TestEngineEvaluateScopedPolicyIgnoredForOtherProviders(t *testing.T) {
	e := New()
	e.AddPolicy(&domain.Policy{
		ID:      "anthropic-only",
		Scope:   "anthropic",
		Enabled: true,
		Rules:   map[string]interface{}{"blocked_providers": []string{"openai"}},
	})
	result := e.Evaluate(Context{EligibleKeys: keySet("k1"), ProviderID: "openai"})
	if !result.Allowed || len(result.FilteredKeys) != 1 {
		t.Error("policy scoped to a different provider must not apply")
	}
	if len(result.AppliedPolicies) != 0 {
		t.Errorf("AppliedPolicies = %v, want none", result.AppliedPolicies)
	}
}

func TestEngineEvaluateEqualPriorityMaxCostTakesTighterConstraint(t *testing.T) {
	e := New()
	e.AddPolicy(&domain.Policy{ID: "loose", Enabled: true, Priority: 1, Rules: map[string]interface{}{"max_cost": 5.0}})
	e.AddPolicy(&domain.Policy{ID: "tight", Enabled: true, Priority: 1, Rules: map[string]interface{}{"max_cost": 2.0}})

	result := e.Evaluate(Context{EligibleKeys: keySet("k1"), ProviderID: "openai"})
	got, ok := result.Constraints["max_cost"].(float64)
	if !ok || got != 2.0 {
		t.Errorf("Constraints[max_cost] = %v, want the tighter value 2.0", result.Constraints["max_cost"])
	}
}

func TestEngineEvaluateKeyFiltersAllowedStates(t *testing.T) {
	e := New()
	e.AddPolicy(&domain.Policy{
		ID:      "only-available",
		Enabled: true,
		Rules:   map[string]interface{}{"key_filters.allowed_states": []string{"available"}},
	})
	available := &domain.APIKey{ID: "a", ProviderID: "openai", State: domain.KeyAvailable}
	throttled := &domain.APIKey{ID: "t", ProviderID: "openai", State: domain.KeyThrottled}

	result := e.Evaluate(Context{EligibleKeys: []*domain.APIKey{available, throttled}, ProviderID: "openai"})
	if len(result.FilteredKeys) != 1 || result.FilteredKeys[0].ID != "a" {
		t.Fatalf("expected only the available key to survive, got %+v", result.FilteredKeys)
	}
}
