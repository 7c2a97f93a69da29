// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

// Package provider defines the Adapter contract (spec.md §4.2) and ships
// reference implementations for OpenAI, Anthropic, AWS Bedrock, Ollama, and
// a Mock adapter for tests — all generalized from
// orchestrator/llm_router.go's LLMProvider implementations to the richer
// Adapter contract the spec requires (normalize_response, map_error,
// get_capabilities, a TTL-cached health check, and estimate_cost with the
// spec's heuristic formula).
package provider

import (
	"context"
	"sync"
	"time"

	"apikeyrouter/domain"
	apkerrors "apikeyrouter/errors"
)

// HealthStatus is the coarse health classification for an adapter.
type HealthStatus string

const (
	Healthy  HealthStatus = "healthy"
	Degraded HealthStatus = "degraded"
	Down     HealthStatus = "down"
)

// Capabilities describes what an adapter's provider supports.
type Capabilities struct {
	Models          []string
	SupportsStream  bool
	SupportsTools   bool
	MaxInputTokens  int
	MaxOutputTokens int
}

// Adapter is the ProviderAdapter contract from spec.md §4.2.
type Adapter interface {
	Name() string
	Execute(ctx context.Context, intent *domain.RequestIntent, keyMaterial string) (*domain.SystemResponse, error)
	MapError(err error) *apkerrors.SystemError
	GetCapabilities() Capabilities
	EstimateCost(intent *domain.RequestIntent) *domain.CostEstimate
	GetHealth(ctx context.Context) HealthStatus
}

// PriceTable maps a model name to its per-1000-token input/output price in
// USD. Per spec.md §9, this is configuration data, not code; a default
// table ships with each adapter and may be overridden.
type PriceTable map[string]struct{ InputPer1K, OutputPer1K float64 }

// EstimateTokens implements the heuristic from spec.md §4.2: input estimate
// from message lengths (≈4 chars/token), output estimate =
// min(configuredMax, 0.8×intent.MaxTokens, default) with confidence 0.85
// when MaxTokens is given, 0.7 otherwise.
func EstimateTokens(intent *domain.RequestIntent, configuredMax, defaultOutput int64) (input, output int64, confidence float64) {
	var chars int
	for _, m := range intent.Messages {
		chars += len(m.Content)
	}
	input = int64(chars) / 4
	if input == 0 {
		input = 1
	}

	confidence = 0.7
	output = defaultOutput
	if intent.MaxTokens > 0 {
		candidate := int64(float64(intent.MaxTokens) * 0.8)
		if configuredMax > 0 && configuredMax < candidate {
			candidate = configuredMax
		}
		if defaultOutput > 0 && defaultOutput < candidate {
			candidate = defaultOutput
		}
		output = candidate
		confidence = 0.85
	} else if configuredMax > 0 && configuredMax < output {
		output = configuredMax
	}
	return input, output, confidence
}

// cachedHealth implements the TTL-bounded health cache every reference
// adapter shares, per spec.md §4.2's "cached with a configurable TTL
// (default ≈60s) to bound probe load".
type cachedHealth struct {
	mu       sync.Mutex
	ttl      time.Duration
	lastAt   time.Time
	lastStat HealthStatus
}

func (c *cachedHealth) get(ctx context.Context, probe func(context.Context) HealthStatus) HealthStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	if time.Since(c.lastAt) < c.ttl && c.lastStat != "" {
		return c.lastStat
	}
	c.lastStat = probe(ctx)
	c.lastAt = time.Now()
	return c.lastStat
}
