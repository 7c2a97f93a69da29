// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package routing

import (
	"context"
	"fmt"

	"apikeyrouter/domain"
	"apikeyrouter/provider"
	"apikeyrouter/quota"
)

// ReliabilityStrategy implements spec.md §4.7's composite formula:
// 0.70×success_rate + 0.20×key_state_score + 0.10×quota_state_score, with a
// failure-ratio penalty when failure_count/(usage+failure) exceeds 0.10,
// then min-max normalized over the candidate set. There is no direct
// Python-reference file for this strategy in original_source (only cost and
// fairness ship there); its shape is modeled on CostOptimizedStrategy's
// filter/score/select/explain contract and the composite weights are taken
// verbatim from spec.md §4.7.
type ReliabilityStrategy struct{}

func NewReliabilityStrategy() *ReliabilityStrategy {
	return &ReliabilityStrategy{}
}

func (s *ReliabilityStrategy) Name() string { return "reliability" }

func (s *ReliabilityStrategy) FilterByQuotaState(ctx context.Context, keys []*domain.APIKey, q *quota.Engine) ([]*domain.APIKey, []*domain.APIKey) {
	return filterByQuotaStateDefault(keys, q)
}

func keyStateScore(state domain.KeyState) float64 {
	switch state {
	case domain.KeyAvailable:
		return 1.0
	case domain.KeyThrottled:
		return 0.7
	case domain.KeyRecovering:
		return 0.5
	default:
		return 0.0
	}
}

func quotaStateScore(state domain.CapacityState, known bool) float64 {
	if !known {
		return 0.8
	}
	switch state {
	case domain.CapacityAbundant:
		return 1.0
	case domain.CapacityConstrained:
		return 0.7
	case domain.CapacityCritical:
		return 0.4
	case domain.CapacityRecovering:
		return 0.6
	case domain.CapacityExhausted:
		return 0.0
	default:
		return 0.8
	}
}

func (s *ReliabilityStrategy) ScoreKeys(ctx context.Context, keys []*domain.APIKey, intent *domain.RequestIntent, providers *provider.Registry) map[string]float64 {
	if len(keys) == 0 {
		return map[string]float64{}
	}

	raw := make(map[string]float64, len(keys))
	for _, k := range keys {
		composite := 0.70*k.SuccessRate() + 0.20*keyStateScore(k.State) + 0.10*quotaStateScore("", false)

		total := k.UsageCount + k.FailureCount
		if total > 0 {
			failureRatio := float64(k.FailureCount) / float64(total)
			if failureRatio > 0.10 {
				composite *= 1 - 0.5*failureRatio
			}
		}
		raw[k.ID] = clamp01(composite)
	}

	return normalizeMinMax(raw, false)
}

// ScoreKeysWithQuota is the quota-state-aware scoring path the Engine uses
// once quota states have been resolved, applying the real
// quota_state_score instead of the "unknown" default ScoreKeys falls back
// to when called standalone (e.g. from tests).
func (s *ReliabilityStrategy) ScoreKeysWithQuota(keys []*domain.APIKey, quotaStates map[string]*domain.QuotaState) map[string]float64 {
	raw := make(map[string]float64, len(keys))
	for _, k := range keys {
		qs, known := quotaStates[k.ID]
		var capacityState domain.CapacityState
		if known {
			capacityState = qs.CapacityState
		}
		composite := 0.70*k.SuccessRate() + 0.20*keyStateScore(k.State) + 0.10*quotaStateScore(capacityState, known)

		total := k.UsageCount + k.FailureCount
		if total > 0 {
			failureRatio := float64(k.FailureCount) / float64(total)
			if failureRatio > 0.10 {
				composite *= 1 - 0.5*failureRatio
			}
		}
		raw[k.ID] = clamp01(composite)
	}
	return normalizeMinMax(raw, false)
}

func (s *ReliabilityStrategy) SelectKey(scores map[string]float64, keys []*domain.APIKey, lastSelectedKeyID string) (string, float64, error) {
	return selectByMaxScore(scores, keys, "", false)
}

func (s *ReliabilityStrategy) GenerateExplanation(selectedKeyID string, keys []*domain.APIKey, eligibleCount, filteredCount int) string {
	var successRate float64
	for _, k := range keys {
		if k.ID == selectedKeyID {
			successRate = k.SuccessRate()
		}
	}
	explanation := fmt.Sprintf("Selected key %s with %.1f%% success rate (highest composite reliability score among %d eligible keys)", selectedKeyID, successRate*100, eligibleCount)
	if filteredCount > 0 {
		explanation += fmt.Sprintf(" (%d key(s) excluded due to exhausted quota)", filteredCount)
	}
	return explanation
}
