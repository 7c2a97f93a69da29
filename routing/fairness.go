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

// FairnessStrategy optimizes for even load distribution, ported from
// routing_strategies/fairness.py's FairnessStrategy: score by inverse
// normalized usage_count (less-used keys score higher; equal usage scores
// everyone 1.0), and on ties round-robin relative to the last selected key
// rather than always picking the first.
type FairnessStrategy struct {
	last *lastSelected
}

func NewFairnessStrategy() *FairnessStrategy {
	return &FairnessStrategy{last: newLastSelected()}
}

func (s *FairnessStrategy) Name() string { return "fairness" }

func (s *FairnessStrategy) FilterByQuotaState(ctx context.Context, keys []*domain.APIKey, q *quota.Engine) ([]*domain.APIKey, []*domain.APIKey) {
	return filterByQuotaStateDefault(keys, q)
}

func (s *FairnessStrategy) ScoreKeys(ctx context.Context, keys []*domain.APIKey, intent *domain.RequestIntent, providers *provider.Registry) map[string]float64 {
	if len(keys) == 0 {
		return map[string]float64{}
	}
	usage := make(map[string]float64, len(keys))
	for _, k := range keys {
		usage[k.ID] = float64(k.UsageCount)
	}
	return normalizeMinMax(usage, true)
}

// SelectKey looks up the per-scope last-selected key by the first key's
// provider ID as the tie-break scope — callers routing within one provider
// at a time get deterministic sequential round-robin among tied keys, per
// DESIGN.md Open Question (b).
func (s *FairnessStrategy) SelectKey(scores map[string]float64, keys []*domain.APIKey, lastSelectedKeyID string) (string, float64, error) {
	scope := fairnessScope(keys)
	if lastSelectedKeyID == "" {
		lastSelectedKeyID = s.last.get(scope)
	}
	id, score, err := selectByMaxScore(scores, keys, lastSelectedKeyID, true)
	if err == nil {
		s.last.set(scope, id)
	}
	return id, score, err
}

func fairnessScope(keys []*domain.APIKey) string {
	if len(keys) == 0 {
		return ""
	}
	return keys[0].ProviderID
}

func (s *FairnessStrategy) GenerateExplanation(selectedKeyID string, keys []*domain.APIKey, eligibleCount, filteredCount int) string {
	var usageCount int64
	var totalUsage int64
	for _, k := range keys {
		totalUsage += k.UsageCount
		if k.ID == selectedKeyID {
			usageCount = k.UsageCount
		}
	}
	explanation := fmt.Sprintf("Selected key %s with %d total requests", selectedKeyID, usageCount)
	if totalUsage > 0 {
		explanation += fmt.Sprintf(" (%.1f%% of total usage across %d keys)", 100*float64(usageCount)/float64(totalUsage), eligibleCount)
	}
	explanation += fmt.Sprintf(" (least used among %d eligible keys for fair load distribution)", eligibleCount)
	if filteredCount > 0 {
		explanation += fmt.Sprintf(" (%d key(s) excluded due to exhausted quota)", filteredCount)
	}
	return explanation
}
