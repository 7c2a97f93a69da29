// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

// Package router implements the Router (orchestrator) component, spec.md
// §4.8's end-to-end route(intent, objective?): budget gate → routing
// engine → decrypt → execute → update → retry loop on failure. Adapted
// from orchestrator/llm_router.go's RouteRequest — its
// select-then-query-then-failover-to-one-fallback shape is generalized
// into a bounded retry loop that excludes every failed key and re-enters
// the RoutingEngine rather than falling back to a single hardcoded
// alternate provider.
package router

import (
	"context"
	"sync/atomic"
	"time"

	"apikeyrouter/cost"
	"apikeyrouter/domain"
	apkerrors "apikeyrouter/errors"
	"apikeyrouter/keymanager"
	"apikeyrouter/observability"
	"apikeyrouter/provider"
	"apikeyrouter/quota"
	"apikeyrouter/routing"
)

// Router ties every component together behind the single Route entry
// point, mirroring LLMRouter's role as the orchestrator holding references
// to providers, metrics tracker, and routing config.
type Router struct {
	keys             *keymanager.Manager
	quotaEng         *quota.Engine
	costCtl          *cost.Controller
	routingEng       *routing.Engine
	providers        *provider.Registry
	observer         *observability.Observer
	maxRetryAttempts int
}

func New(keys *keymanager.Manager, quotaEng *quota.Engine, costCtl *cost.Controller, routingEng *routing.Engine, providers *provider.Registry, observer *observability.Observer, maxRetryAttempts int) *Router {
	if maxRetryAttempts <= 0 {
		maxRetryAttempts = 3
	}
	return &Router{
		keys:             keys,
		quotaEng:         quotaEng,
		costCtl:          costCtl,
		routingEng:       routingEng,
		providers:        providers,
		observer:         observer,
		maxRetryAttempts: maxRetryAttempts,
	}
}

// Route implements spec.md §4.8's six-step contract. objective may be nil,
// in which case the RoutingEngine defaults to "reliability".
func (r *Router) Route(ctx context.Context, intent *domain.RequestIntent, objective *domain.RoutingObjective) (*domain.SystemResponse, error) {
	if err := intent.Validate(); err != nil {
		return nil, apkerrors.Wrap(apkerrors.CategoryValidation, "invalid request intent", err)
	}

	requestID := newRequestID()
	providerID := intent.Metadata["provider_id"]
	routeID := intent.RouteID()

	estimate := estimateCost(intent, providerID, r.providers)
	checkResult, err := r.costCtl.CheckBudget(ctx, providerID, "", routeID, estimate.Amount)
	if err != nil {
		return nil, apkerrors.Wrap(apkerrors.CategoryProvider, "checking budget", err)
	}
	if !checkResult.Allowed {
		return nil, apkerrors.Wrap(apkerrors.CategoryBudgetExceeded, "budget exceeded", apkerrors.ErrBudgetExceeded).
			WithBudgetDetail(checkResult.RemainingBudget, checkResult.ViolatedBudgets, estimate)
	}

	excluded := make(map[string]bool)
	var lastErr error

	for attempt := 0; attempt <= r.maxRetryAttempts; attempt++ {
		decision, err := r.routingEng.Route(ctx, intent, objective, excluded, requestID)
		if err != nil {
			if lastErr != nil {
				return nil, lastErr
			}
			return nil, err
		}

		keyID := decision.SelectedKeyID
		key, err := r.keys.GetKey(keyID)
		if err != nil {
			return nil, err
		}

		keyMaterial, err := r.keys.GetKeyMaterial(ctx, keyID)
		if err != nil {
			return nil, err
		}

		adapter, err := r.providers.Get(key.ProviderID)
		if err != nil {
			return nil, apkerrors.Wrap(apkerrors.CategoryValidation, "resolving provider adapter", err)
		}

		requestEstimate := adapter.EstimateCost(intent)

		response, execErr := adapter.Execute(ctx, intent, keyMaterial)
		if execErr != nil {
			lastErr = r.handleFailure(ctx, key.ID, adapter.MapError(execErr))
			excluded[key.ID] = true
			if !isRetryable(execErr) || attempt == r.maxRetryAttempts {
				return nil, lastErr
			}
			continue
		}

		if err := r.quotaEng.UpdateCapacity(ctx, key.ID, response.Metadata.TokensUsed.Total); err != nil {
			if r.observer != nil {
				r.observer.Warn(key.ID, "", "quota update failed after successful execution", map[string]interface{}{"key_id": key.ID, "error": err.Error()})
			}
		}
		if err := r.keys.RecordSuccess(ctx, key.ID); err != nil {
			if r.observer != nil {
				r.observer.Warn(key.ID, "", "recording key success failed", map[string]interface{}{"key_id": key.ID, "error": err.Error()})
			}
		}

		actual := response.Metadata.TokensUsed
		actualCost := requestEstimate.Amount
		if response.Cost != nil {
			actualCost = response.Cost.Amount
		}
		if err := r.costCtl.Reconcile(ctx, requestID, key.ProviderID, key.ID, routeID, requestEstimate.Amount, actualCost); err != nil {
			if r.observer != nil {
				r.observer.Warn(key.ID, requestID, "cost reconciliation failed", map[string]interface{}{"key_id": key.ID, "error": err.Error()})
			}
		}
		_ = actual

		response.KeyUsed = key.ID
		response.RequestID = requestID
		response.Cost = requestEstimate
		return response, nil
	}

	if lastErr != nil {
		return nil, lastErr
	}
	return nil, apkerrors.ErrNoEligibleKeys
}

func estimateCost(intent *domain.RequestIntent, providerID string, providers *provider.Registry) *domain.CostEstimate {
	if providers != nil && providerID != "" {
		if adapter, err := providers.Get(providerID); err == nil {
			return adapter.EstimateCost(intent)
		}
	}
	input, output, confidence := provider.EstimateTokens(intent, 4096, 512)
	return &domain.CostEstimate{
		Amount:               float64(input+output) * 0.00001,
		Currency:             "USD",
		Confidence:           confidence,
		EstimationMethod:     "heuristic_char_length",
		InputTokensEstimate:  input,
		OutputTokensEstimate: output,
	}
}

// handleFailure mutates key state per spec.md §7's error-category →
// state-transition table and returns the classified error to surface if
// retries are exhausted.
func (r *Router) handleFailure(ctx context.Context, keyID string, se *apkerrors.SystemError) error {
	switch se.Category {
	case apkerrors.CategoryRateLimit:
		retryAfter := 30 * time.Second
		if se.RetryAfter != nil {
			retryAfter = *se.RetryAfter
		}
		_ = r.quotaEng.OnRateLimit(ctx, keyID, retryAfter)
	case apkerrors.CategoryQuotaExceeded:
		_ = r.quotaEng.OnQuotaExceeded(ctx, keyID)
	case apkerrors.CategoryAuthentication:
		_ = r.keys.Transition(ctx, keyID, domain.KeyInvalid, domain.TriggerError, map[string]interface{}{"reason": se.Message})
	default:
		_ = r.keys.RecordFailure(ctx, keyID)
	}
	return se
}

func isRetryable(err error) bool {
	if se, ok := err.(*apkerrors.SystemError); ok {
		return se.Retryable
	}
	return false
}

var requestIDCounter uint64

// newRequestID mirrors the atomic-counter idiom
// orchestrator/llm/routing_strategy.go uses for its round-robin index,
// applied here to produce a monotonically unique, lock-free request id.
func newRequestID() string {
	n := atomic.AddUint64(&requestIDCounter, 1)
	return "req-" + time.Now().UTC().Format("20060102T150405.000000000") + "-" + itoa(n)
}

func itoa(n uint64) string {
	if n == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}
