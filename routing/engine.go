// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package routing

import (
	"context"
	"time"

	"github.com/google/uuid"

	"apikeyrouter/domain"
	apkerrors "apikeyrouter/errors"
	"apikeyrouter/keymanager"
	"apikeyrouter/observability"
	"apikeyrouter/policy"
	"apikeyrouter/provider"
	"apikeyrouter/quota"
	"apikeyrouter/store"
)

const maxAlternatives = 5

// Engine is the RoutingEngine component: spec.md §4.7's
// filter-by-quota-state → score → apply-quota-multipliers → select →
// explain pipeline, dispatched to the Strategy matching the objective's
// primary name. Generalized from orchestrator/llm/routing_strategy.go's
// ProviderSelector, whose single SelectProvider dispatch this Engine
// extends into a per-key, per-objective scoring contract.
type Engine struct {
	strategies map[string]Strategy
	keys       *keymanager.Manager
	quotaEng   *quota.Engine
	policyEng  *policy.Engine
	providers  *provider.Registry
	observer   *observability.Observer
	store      store.StateStore
}

func New(keys *keymanager.Manager, quotaEng *quota.Engine, policyEng *policy.Engine, providers *provider.Registry, observer *observability.Observer, st store.StateStore) *Engine {
	e := &Engine{
		keys:      keys,
		quotaEng:  quotaEng,
		policyEng: policyEng,
		providers: providers,
		observer:  observer,
		store:     st,
		strategies: map[string]Strategy{
			"cost":        NewCostStrategy(),
			"reliability": NewReliabilityStrategy(),
			"fairness":    NewFairnessStrategy(),
		},
	}
	return e
}

// RegisterStrategy allows callers to add or override a named objective
// (e.g. "quality", "latency" per spec.md §6's objective catalogue), while
// Route still rejects names with no registered strategy at call time.
func (e *Engine) RegisterStrategy(name string, s Strategy) {
	e.strategies[name] = s
}

// Route implements spec.md §4.7's contract: route(request_intent,
// objective) → RoutingDecision.
func (e *Engine) Route(ctx context.Context, intent *domain.RequestIntent, objective *domain.RoutingObjective, excludeKeyIDs map[string]bool, requestID string) (*domain.RoutingDecision, error) {
	if objective == nil {
		objective = &domain.RoutingObjective{Primary: "reliability"}
	}
	if !domain.KnownObjectives[objective.Primary] {
		return nil, apkerrors.Wrap(apkerrors.CategoryValidation, "unknown routing objective", apkerrors.ErrInvalidObjective)
	}
	strategy, ok := e.strategies[objective.Primary]
	if !ok {
		return nil, apkerrors.Wrap(apkerrors.CategoryValidation, "no strategy registered for objective "+objective.Primary, apkerrors.ErrInvalidObjective)
	}

	providerID := intent.Metadata["provider_id"]
	eligible, err := e.keys.GetEligibleKeys(ctx, providerID, excludeKeyIDs)
	if err != nil {
		return nil, err
	}
	if len(eligible) == 0 {
		return nil, apkerrors.ErrNoEligibleKeys
	}

	policyResult := e.policyEng.Evaluate(policy.Context{EligibleKeys: eligible, RequestIntent: intent, ProviderID: providerID})
	if !policyResult.Allowed || len(policyResult.FilteredKeys) == 0 {
		return nil, apkerrors.ErrNoEligibleKeys
	}
	candidates := policyResult.FilteredKeys

	kept, quotaFiltered := strategy.FilterByQuotaState(ctx, candidates, e.quotaEng)
	if len(kept) == 0 {
		return nil, apkerrors.ErrNoEligibleKeys
	}

	quotaStates := make(map[string]*domain.QuotaState, len(kept))
	for _, k := range kept {
		if st := e.quotaEng.GetState(k.ID); st != nil {
			quotaStates[k.ID] = st
		}
	}

	var scores map[string]float64
	if reliability, ok := strategy.(*ReliabilityStrategy); ok {
		scores = reliability.ScoreKeysWithQuota(kept, quotaStates)
	} else {
		scores = strategy.ScoreKeys(ctx, kept, intent, e.providers)
	}

	adjusted := make(map[string]float64, len(scores))
	for id, score := range scores {
		mult := 1.0
		if st, ok := quotaStates[id]; ok {
			mult = quotaMultiplier(st.CapacityState)
		}
		adjusted[id] = clamp01(score * mult)
	}

	selectedID, selectedScore, err := strategy.SelectKey(adjusted, kept, "")
	if err != nil {
		return nil, apkerrors.Wrap(apkerrors.CategoryValidation, "selecting key", err)
	}

	explanation := strategy.GenerateExplanation(selectedID, kept, len(eligible), len(quotaFiltered))

	decision := &domain.RoutingDecision{
		ID:            uuid.NewString(),
		RequestID:     requestID,
		SelectedKeyID: selectedID,
		Objective:     *objective,
		EligibleKeys:  keyIDs(eligible),
		Explanation:   explanation,
		Confidence:    selectedScore,
		CreatedAt:     time.Now().UTC(),
	}
	for _, k := range kept {
		mult := 1.0
		var capacityState domain.CapacityState
		if st, ok := quotaStates[k.ID]; ok {
			mult = quotaMultiplier(st.CapacityState)
			capacityState = st.CapacityState
		}
		decision.EvaluationResults = append(decision.EvaluationResults, domain.EvaluationResult{
			KeyID:           k.ID,
			RawScore:        scores[k.ID],
			QuotaMultiplier: mult,
			FinalScore:      adjusted[k.ID],
			CapacityState:   capacityState,
		})

		if k.ID == selectedID {
			decision.SelectedProviderID = k.ProviderID
			continue
		}
		if len(decision.AlternativesConsidered) >= maxAlternatives {
			continue
		}
		decision.AlternativesConsidered = append(decision.AlternativesConsidered, domain.AlternativeRoute{
			KeyID:             k.ID,
			Score:             adjusted[k.ID],
			ReasonNotSelected: "lower score than selected key for objective " + objective.Primary,
		})
	}

	if e.store != nil {
		_ = e.store.SaveRoutingDecision(ctx, decision)
	}
	if e.observer != nil {
		e.observer.EmitDecision(decision)
	}
	return decision, nil
}

func keyIDs(keys []*domain.APIKey) []string {
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k.ID)
	}
	return out
}
