// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package routing

import (
	"context"
	"fmt"
	"strconv"

	"apikeyrouter/domain"
	"apikeyrouter/provider"
	"apikeyrouter/quota"
)

// CostStrategy optimizes for lowest estimated cost, ported line-for-line
// from routing_strategies/cost_optimized.py's CostOptimizedStrategy:
// estimate cost per key (via the provider adapter, falling back to a
// metadata hint, then a $0.01 default), normalize so the lowest cost scores
// 1.0, and break ties by first-listed key.
type CostStrategy struct {
	last *lastSelected
}

func NewCostStrategy() *CostStrategy {
	return &CostStrategy{last: newLastSelected()}
}

func (s *CostStrategy) Name() string { return "cost" }

func (s *CostStrategy) FilterByQuotaState(ctx context.Context, keys []*domain.APIKey, q *quota.Engine) ([]*domain.APIKey, []*domain.APIKey) {
	return filterByQuotaStateDefault(keys, q)
}

func (s *CostStrategy) ScoreKeys(ctx context.Context, keys []*domain.APIKey, intent *domain.RequestIntent, providers *provider.Registry) map[string]float64 {
	if len(keys) == 0 {
		return map[string]float64{}
	}

	costs := make(map[string]float64, len(keys))
	for _, k := range keys {
		if providers != nil {
			if adapter, err := providers.Get(k.ProviderID); err == nil {
				costs[k.ID] = adapter.EstimateCost(intent).Amount
				continue
			}
		}
		if raw, ok := k.Metadata["estimated_cost_per_request"]; ok {
			if v, err := strconv.ParseFloat(raw, 64); err == nil {
				costs[k.ID] = v
				continue
			}
		}
		costs[k.ID] = 0.01
	}

	return normalizeMinMax(costs, true)
}

func (s *CostStrategy) SelectKey(scores map[string]float64, keys []*domain.APIKey, lastSelectedKeyID string) (string, float64, error) {
	return selectByMaxScore(scores, keys, "", false)
}

func (s *CostStrategy) GenerateExplanation(selectedKeyID string, keys []*domain.APIKey, eligibleCount, filteredCount int) string {
	explanation := fmt.Sprintf("Selected key %s with lowest estimated cost (highest score among %d eligible keys)", selectedKeyID, eligibleCount)
	if filteredCount > 0 {
		explanation += fmt.Sprintf(" (%d key(s) excluded due to exhausted quota)", filteredCount)
	}
	return explanation
}
