// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"apikeyrouter/domain"
	apkerrors "apikeyrouter/errors"
)

// AnthropicProvider is a reference HTTP adapter for the Anthropic Messages
// API, adapted from orchestrator/llm_router.go's EnhancedAnthropicProvider
// (raw net/http, x-api-key + anthropic-version headers).
type AnthropicProvider struct {
	apiKey     string
	model      string
	httpClient *http.Client
	prices     PriceTable
	health     cachedHealth
}

const anthropicVersion = "2023-06-01"

func NewAnthropicProvider(apiKey, model string, healthTTL time.Duration) *AnthropicProvider {
	return &AnthropicProvider{
		apiKey:     apiKey,
		model:      model,
		httpClient: &http.Client{Timeout: 60 * time.Second},
		prices: PriceTable{
			"claude-3-5-sonnet-20241022": {InputPer1K: 0.003, OutputPer1K: 0.015},
			"claude-3-opus-20240229":     {InputPer1K: 0.015, OutputPer1K: 0.075},
			"claude-3-haiku-20240307":    {InputPer1K: 0.00025, OutputPer1K: 0.00125},
		},
		health: cachedHealth{ttl: healthTTL},
	}
}

func (p *AnthropicProvider) Name() string { return "anthropic" }

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicRequest struct {
	Model       string             `json:"model"`
	Messages    []anthropicMessage `json:"messages"`
	System      string             `json:"system,omitempty"`
	MaxTokens   int                `json:"max_tokens"`
	Temperature float64            `json:"temperature,omitempty"`
}

type anthropicResponse struct {
	Content []struct {
		Text string `json:"text"`
	} `json:"content"`
	Model      string `json:"model"`
	StopReason string `json:"stop_reason"`
	Usage      struct {
		InputTokens  int64 `json:"input_tokens"`
		OutputTokens int64 `json:"output_tokens"`
	} `json:"usage"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

func (p *AnthropicProvider) Execute(ctx context.Context, intent *domain.RequestIntent, keyMaterial string) (*domain.SystemResponse, error) {
	start := time.Now()
	model := intent.Model
	if model == "" {
		model = p.model
	}

	var system string
	messages := make([]anthropicMessage, 0, len(intent.Messages))
	for _, m := range intent.Messages {
		if m.Role == domain.RoleSystem {
			system = m.Content
			continue
		}
		messages = append(messages, anthropicMessage{Role: string(m.Role), Content: m.Content})
	}

	maxTokens := intent.MaxTokens
	if maxTokens == 0 {
		maxTokens = 1024
	}

	reqBody, err := json.Marshal(anthropicRequest{
		Model:       model,
		Messages:    messages,
		System:      system,
		MaxTokens:   maxTokens,
		Temperature: intent.Temperature,
	})
	if err != nil {
		return nil, apkerrors.New(apkerrors.CategoryValidation, "encoding request").WithRetryable(false)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, "https://api.anthropic.com/v1/messages", bytes.NewReader(reqBody))
	if err != nil {
		return nil, apkerrors.Wrap(apkerrors.CategoryNetwork, "building request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", keyMaterial)
	httpReq.Header.Set("anthropic-version", anthropicVersion)

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, p.MapError(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apkerrors.Wrap(apkerrors.CategoryNetwork, "reading response body", err)
	}

	var parsed anthropicResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, apkerrors.Wrap(apkerrors.CategoryProvider, "decoding response", err)
	}

	if resp.StatusCode >= 400 {
		msg := "provider returned an error status"
		if parsed.Error != nil {
			msg = parsed.Error.Message
		}
		return nil, classifyHTTPStatus(resp.StatusCode, resp.Header.Get("Retry-After"), msg)
	}

	content := ""
	if len(parsed.Content) > 0 {
		content = parsed.Content[0].Text
	}

	return &domain.SystemResponse{
		Content: content,
		Metadata: domain.ResponseMetadata{
			ModelUsed: parsed.Model,
			TokensUsed: domain.TokensUsed{
				Input:  parsed.Usage.InputTokens,
				Output: parsed.Usage.OutputTokens,
				Total:  parsed.Usage.InputTokens + parsed.Usage.OutputTokens,
			},
			ResponseTimeMs: time.Since(start).Milliseconds(),
			ProviderID:     p.Name(),
			Timestamp:      time.Now().UTC(),
			FinishReason:   parsed.StopReason,
		},
	}, nil
}

func (p *AnthropicProvider) MapError(err error) *apkerrors.SystemError {
	if se, ok := err.(*apkerrors.SystemError); ok {
		return se
	}
	return apkerrors.Wrap(apkerrors.CategoryNetwork, "anthropic request failed", err)
}

func (p *AnthropicProvider) GetCapabilities() Capabilities {
	return Capabilities{
		Models:          []string{"claude-3-5-sonnet-20241022", "claude-3-opus-20240229", "claude-3-haiku-20240307"},
		SupportsStream:  true,
		SupportsTools:   true,
		MaxInputTokens:  200_000,
		MaxOutputTokens: 8_192,
	}
}

func (p *AnthropicProvider) EstimateCost(intent *domain.RequestIntent) *domain.CostEstimate {
	input, output, confidence := EstimateTokens(intent, int64(p.GetCapabilities().MaxOutputTokens), 1024)
	model := intent.Model
	if model == "" {
		model = p.model
	}
	price, ok := p.prices[model]
	if !ok {
		price = p.prices["claude-3-5-sonnet-20241022"]
	}
	amount := float64(input)/1000*price.InputPer1K + float64(output)/1000*price.OutputPer1K
	return &domain.CostEstimate{
		Amount:               amount,
		Currency:             "USD",
		Confidence:           confidence,
		EstimationMethod:     "heuristic_char_length",
		InputTokensEstimate:  input,
		OutputTokensEstimate: output,
		Breakdown: map[string]float64{
			"input_cost":  float64(input) / 1000 * price.InputPer1K,
			"output_cost": float64(output) / 1000 * price.OutputPer1K,
		},
	}
}

func (p *AnthropicProvider) GetHealth(ctx context.Context) HealthStatus {
	return p.health.get(ctx, func(ctx context.Context) HealthStatus {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, "https://api.anthropic.com/v1/messages", bytes.NewReader([]byte(`{"model":"claude-3-haiku-20240307","max_tokens":1,"messages":[{"role":"user","content":"ping"}]}`)))
		if err != nil {
			return Down
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("x-api-key", p.apiKey)
		httpReq.Header.Set("anthropic-version", anthropicVersion)
		resp, err := p.httpClient.Do(httpReq)
		if err != nil {
			return Down
		}
		defer resp.Body.Close()
		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			return Healthy
		case resp.StatusCode == 401 || resp.StatusCode == 403:
			return Down
		case resp.StatusCode == 429:
			return Degraded
		default:
			return Degraded
		}
	})
}
