// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

// Package routing implements the pluggable routing-objective scorer: a
// Strategy interface plus Cost, Reliability, and Fairness implementations,
// and an Engine that filters by quota state, scores, applies capacity-state
// multipliers, and selects a key — generalized from
// orchestrator/llm/routing_strategy.go's ProviderSelector (weighted /
// round-robin / failover provider selection) to the spec's richer
// per-objective key-scoring contract, with the Cost and Fairness scoring
// formulas carried over verbatim from the Python reference strategies.
package routing

import (
	"context"
	"sort"
	"sync"

	"apikeyrouter/domain"
	"apikeyrouter/provider"
	"apikeyrouter/quota"
)

// quotaMultiplier applies the capacity-state score adjustment shared by
// every strategy (spec.md §4.7): Abundant boosts 20%, Constrained penalizes
// 15%, Critical penalizes 30%, Recovering penalizes 5%, clamped to [0,1].
func quotaMultiplier(state domain.CapacityState) float64 {
	switch state {
	case domain.CapacityAbundant:
		return 1.20
	case domain.CapacityConstrained:
		return 0.85
	case domain.CapacityCritical:
		return 0.70
	case domain.CapacityRecovering:
		return 0.95
	default:
		return 1.0
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Strategy scores and selects among eligible keys for a single routing
// objective, mirroring the shape shared by CostOptimizedStrategy and
// FairnessStrategy in the Python reference: filter_by_quota_state,
// score_keys, select_key, generate_explanation.
type Strategy interface {
	Name() string
	FilterByQuotaState(ctx context.Context, keys []*domain.APIKey, q *quota.Engine) (kept []*domain.APIKey, filtered []*domain.APIKey)
	ScoreKeys(ctx context.Context, keys []*domain.APIKey, intent *domain.RequestIntent, providers *provider.Registry) map[string]float64
	SelectKey(scores map[string]float64, keys []*domain.APIKey, lastSelectedKeyID string) (keyID string, score float64, err error)
	GenerateExplanation(selectedKeyID string, keys []*domain.APIKey, eligibleCount, filteredCount int) string
}

// filterByQuotaStateDefault is the quota-state filtering every strategy
// shares: exclude Exhausted keys, keep everything else (including
// Critical/Constrained, so fairness doesn't starve them), with graceful
// degradation when the quota engine has no state for a key yet.
func filterByQuotaStateDefault(keys []*domain.APIKey, q *quota.Engine) (kept, filtered []*domain.APIKey) {
	if q == nil {
		return keys, nil
	}
	for _, k := range keys {
		state := q.GetState(k.ID)
		if state != nil && state.CapacityState == domain.CapacityExhausted {
			filtered = append(filtered, k)
			continue
		}
		kept = append(kept, k)
	}
	return kept, filtered
}

// selectByMaxScore implements the tie-break rule shared by Cost (first
// listed) and Fairness (round-robin relative to lastSelectedKeyID) — see
// DESIGN.md Open Question (b).
func selectByMaxScore(scores map[string]float64, keys []*domain.APIKey, lastSelectedKeyID string, roundRobinTieBreak bool) (string, float64, error) {
	if len(scores) == 0 {
		return "", 0, errNoScores
	}
	if len(keys) == 0 {
		return "", 0, errNoEligibleKeys
	}

	order := make([]string, 0, len(keys))
	for _, k := range keys {
		if _, ok := scores[k.ID]; ok {
			order = append(order, k.ID)
		}
	}

	var maxScore float64
	first := true
	for _, id := range order {
		if first || scores[id] > maxScore {
			maxScore = scores[id]
			first = false
		}
	}

	var tied []string
	for _, id := range order {
		if scores[id] == maxScore {
			tied = append(tied, id)
		}
	}

	if len(tied) == 1 || !roundRobinTieBreak {
		return tied[0], maxScore, nil
	}

	if lastSelectedKeyID != "" {
		for i, id := range tied {
			if id == lastSelectedKeyID {
				return tied[(i+1)%len(tied)], maxScore, nil
			}
		}
	}
	return tied[0], maxScore, nil
}

type routingError string

func (e routingError) Error() string { return string(e) }

const (
	errNoScores       routingError = "routing: no scores available for key selection"
	errNoEligibleKeys routingError = "routing: no eligible keys available for selection"
)

// normalizeMinMax applies the Python reference's min-max normalization: if
// every value is equal, every key scores 1.0 (so downstream ties resolve via
// the strategy's tie-break rule, enabling round-robin-like behavior).
func normalizeMinMax(values map[string]float64, invert bool) map[string]float64 {
	if len(values) == 0 {
		return map[string]float64{}
	}
	var ids []string
	for id := range values {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	min, max := values[ids[0]], values[ids[0]]
	for _, id := range ids {
		v := values[id]
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}

	out := make(map[string]float64, len(values))
	if max == min {
		for _, id := range ids {
			out[id] = 1.0
		}
		return out
	}
	for _, id := range ids {
		normalized := (values[id] - min) / (max - min)
		if invert {
			normalized = 1.0 - normalized
		}
		out[id] = clamp01(normalized)
	}
	return out
}

// lastSelected tracks the most recently selected key per routing scope, the
// state fairness's round-robin tie-break needs across calls.
type lastSelected struct {
	mu  sync.Mutex
	ids map[string]string
}

func newLastSelected() *lastSelected {
	return &lastSelected{ids: make(map[string]string)}
}

func (l *lastSelected) get(scope string) string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.ids[scope]
}

func (l *lastSelected) set(scope, keyID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ids[scope] = keyID
}
