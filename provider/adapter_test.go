// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package provider

import (
	"testing"

	"apikeyrouter/domain"
)

func TestEstimateTokensAppliesThreeWayMinWithMaxTokens(t *testing.T) {
	intent := &domain.RequestIntent{
		Messages:  []domain.Message{{Role: domain.RoleUser, Content: "hello there, this is a test message"}},
		MaxTokens: 2000,
	}

	_, output, confidence := EstimateTokens(intent, 4096, 256)
	if output != 256 {
		t.Errorf("output = %d, want 256 (default is the tightest bound)", output)
	}
	if confidence != 0.85 {
		t.Errorf("confidence = %v, want 0.85", confidence)
	}
}

func TestEstimateTokensConfiguredMaxIsTightestBound(t *testing.T) {
	intent := &domain.RequestIntent{
		Messages:  []domain.Message{{Role: domain.RoleUser, Content: "hi"}},
		MaxTokens: 2000,
	}

	_, output, _ := EstimateTokens(intent, 500, 4096)
	if output != 500 {
		t.Errorf("output = %d, want 500 (configured max is the tightest bound)", output)
	}
}

func TestEstimateTokensEightyPercentIsTightestBound(t *testing.T) {
	intent := &domain.RequestIntent{
		Messages:  []domain.Message{{Role: domain.RoleUser, Content: "hi"}},
		MaxTokens: 100,
	}

	_, output, _ := EstimateTokens(intent, 4096, 4096)
	if output != 80 {
		t.Errorf("output = %d, want 80 (0.8 x MaxTokens is the tightest bound)", output)
	}
}

func TestEstimateTokensNoMaxTokensUsesDefaultBoundedByConfigured(t *testing.T) {
	intent := &domain.RequestIntent{
		Messages: []domain.Message{{Role: domain.RoleUser, Content: "hi"}},
	}

	_, output, confidence := EstimateTokens(intent, 100, 4096)
	if output != 100 {
		t.Errorf("output = %d, want 100 (configured max caps the default)", output)
	}
	if confidence != 0.7 {
		t.Errorf("confidence = %v, want 0.7", confidence)
	}
}
