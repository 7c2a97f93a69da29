// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package provider

import (
	"context"
	"sync"
	"time"

	"apikeyrouter/domain"
	apkerrors "apikeyrouter/errors"
)

// MockProvider is a deterministic, network-free Adapter used by tests and
// by cmd/proxy when no credentials are configured for a provider, mirroring
// orchestrator/llm_router.go's MockProvider fallback (NewLLMRouter wires a
// mock whenever a provider's API key is absent, rather than failing
// startup).
type MockProvider struct {
	mu          sync.Mutex
	name        string
	fixedReply  string
	failNext    int
	failErr     *apkerrors.SystemError
	healthState HealthStatus
	calls       int
}

func NewMockProvider(name string) *MockProvider {
	return &MockProvider{name: name, fixedReply: "mock response", healthState: Healthy}
}

func (p *MockProvider) Name() string { return p.name }

// FailNextN configures the next n Execute calls to return err instead of a
// canned response — used by router/routing tests to exercise failover.
func (p *MockProvider) FailNextN(n int, err *apkerrors.SystemError) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failNext = n
	p.failErr = err
}

func (p *MockProvider) SetReply(reply string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.fixedReply = reply
}

func (p *MockProvider) SetHealth(h HealthStatus) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.healthState = h
}

func (p *MockProvider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func (p *MockProvider) Execute(ctx context.Context, intent *domain.RequestIntent, keyMaterial string) (*domain.SystemResponse, error) {
	p.mu.Lock()
	p.calls++
	if p.failNext > 0 {
		p.failNext--
		err := p.failErr
		p.mu.Unlock()
		if err == nil {
			err = apkerrors.New(apkerrors.CategoryProvider, "mock configured failure").WithRetryable(true)
		}
		return nil, err
	}
	reply := p.fixedReply
	p.mu.Unlock()

	input, output, _ := EstimateTokens(intent, 4096, 256)
	return &domain.SystemResponse{
		Content: reply,
		Metadata: domain.ResponseMetadata{
			ModelUsed:      intent.Model,
			TokensUsed:     domain.TokensUsed{Input: input, Output: output, Total: input + output},
			ResponseTimeMs: 1,
			ProviderID:     p.name,
			Timestamp:      time.Now().UTC(),
			FinishReason:   "stop",
		},
	}, nil
}

func (p *MockProvider) MapError(err error) *apkerrors.SystemError {
	if se, ok := err.(*apkerrors.SystemError); ok {
		return se
	}
	return apkerrors.Wrap(apkerrors.CategoryUnknown, "mock adapter error", err)
}

func (p *MockProvider) GetCapabilities() Capabilities {
	return Capabilities{
		Models:          []string{"mock-model"},
		SupportsStream:  false,
		SupportsTools:   false,
		MaxInputTokens:  100_000,
		MaxOutputTokens: 4_096,
	}
}

func (p *MockProvider) EstimateCost(intent *domain.RequestIntent) *domain.CostEstimate {
	input, output, confidence := EstimateTokens(intent, 4096, 256)
	return &domain.CostEstimate{
		Amount:               float64(input+output) * 0.000001,
		Currency:             "USD",
		Confidence:           confidence,
		EstimationMethod:     "heuristic_char_length",
		InputTokensEstimate:  input,
		OutputTokensEstimate: output,
		Breakdown:            map[string]float64{"input_cost": 0, "output_cost": 0},
	}
}

func (p *MockProvider) GetHealth(ctx context.Context) HealthStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.healthState
}
