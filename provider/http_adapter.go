// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"apikeyrouter/domain"
	apkerrors "apikeyrouter/errors"
)

// OpenAIProvider is a reference HTTP adapter for OpenAI's chat completions
// endpoint, adapted from orchestrator/llm_router.go's OpenAIProvider (raw
// net/http, no SDK — no example repo in the pack imports an OpenAI Go SDK).
type OpenAIProvider struct {
	apiKey     string
	model      string
	httpClient *http.Client
	prices     PriceTable
	health     cachedHealth
}

// NewOpenAIProvider constructs an OpenAI adapter. If apiKey is empty, the
// router should prefer MockProvider instead (per the teacher's own
// fallback-to-mock convention in NewLLMRouter).
func NewOpenAIProvider(apiKey, model string, healthTTL time.Duration) *OpenAIProvider {
	return &OpenAIProvider{
		apiKey:     apiKey,
		model:      model,
		httpClient: &http.Client{Timeout: 60 * time.Second},
		prices: PriceTable{
			"gpt-4o":      {InputPer1K: 0.005, OutputPer1K: 0.015},
			"gpt-4":       {InputPer1K: 0.03, OutputPer1K: 0.06},
			"gpt-3.5-turbo": {InputPer1K: 0.0005, OutputPer1K: 0.0015},
		},
		health: cachedHealth{ttl: healthTTL},
	}
}

func (p *OpenAIProvider) Name() string { return "openai" }

type openAIChatRequest struct {
	Model       string              `json:"model"`
	Messages    []map[string]string `json:"messages"`
	Temperature float64             `json:"temperature"`
	MaxTokens   int                 `json:"max_tokens,omitempty"`
	TopP        float64             `json:"top_p,omitempty"`
}

type openAIChatResponse struct {
	Choices []struct {
		Message      struct{ Content string `json:"content"` } `json:"message"`
		FinishReason string                                    `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
	Model string `json:"model"`
	Error *struct {
		Message string `json:"message"`
		Code    string `json:"code"`
		Type    string `json:"type"`
	} `json:"error"`
}

func (p *OpenAIProvider) Execute(ctx context.Context, intent *domain.RequestIntent, keyMaterial string) (*domain.SystemResponse, error) {
	start := time.Now()
	model := intent.Model
	if model == "" {
		model = p.model
	}

	messages := make([]map[string]string, 0, len(intent.Messages))
	for _, m := range intent.Messages {
		messages = append(messages, map[string]string{"role": string(m.Role), "content": m.Content})
	}

	reqBody, err := json.Marshal(openAIChatRequest{
		Model:       model,
		Messages:    messages,
		Temperature: intent.Temperature,
		MaxTokens:   intent.MaxTokens,
		TopP:        intent.TopP,
	})
	if err != nil {
		return nil, apkerrors.New(apkerrors.CategoryValidation, "encoding request").WithRetryable(false)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, "https://api.openai.com/v1/chat/completions", bytes.NewReader(reqBody))
	if err != nil {
		return nil, apkerrors.Wrap(apkerrors.CategoryNetwork, "building request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+keyMaterial)

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, p.MapError(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apkerrors.Wrap(apkerrors.CategoryNetwork, "reading response body", err)
	}

	var parsed openAIChatResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, apkerrors.Wrap(apkerrors.CategoryProvider, "decoding response", err)
	}

	if resp.StatusCode >= 400 {
		return nil, classifyHTTPStatus(resp.StatusCode, resp.Header.Get("Retry-After"), errorMessageOrDefault(parsed.Error))
	}

	content := ""
	finishReason := ""
	if len(parsed.Choices) > 0 {
		content = parsed.Choices[0].Message.Content
		finishReason = parsed.Choices[0].FinishReason
	}

	return &domain.SystemResponse{
		Content: content,
		Metadata: domain.ResponseMetadata{
			ModelUsed: parsed.Model,
			TokensUsed: domain.TokensUsed{
				Input:  int64(parsed.Usage.PromptTokens),
				Output: int64(parsed.Usage.CompletionTokens),
				Total:  int64(parsed.Usage.TotalTokens),
			},
			ResponseTimeMs: time.Since(start).Milliseconds(),
			ProviderID:     p.Name(),
			Timestamp:      time.Now().UTC(),
			FinishReason:   finishReason,
		},
	}, nil
}

func errorMessageOrDefault(e *struct {
	Message string `json:"message"`
	Code    string `json:"code"`
	Type    string `json:"type"`
}) string {
	if e == nil {
		return "provider returned an error status"
	}
	return e.Message
}

func (p *OpenAIProvider) MapError(err error) *apkerrors.SystemError {
	if se, ok := err.(*apkerrors.SystemError); ok {
		return se
	}
	return apkerrors.Wrap(apkerrors.CategoryNetwork, "openai request failed", err)
}

func (p *OpenAIProvider) GetCapabilities() Capabilities {
	return Capabilities{
		Models:          []string{"gpt-4o", "gpt-4", "gpt-3.5-turbo"},
		SupportsStream:  true,
		SupportsTools:   true,
		MaxInputTokens:  128_000,
		MaxOutputTokens: 16_384,
	}
}

func (p *OpenAIProvider) EstimateCost(intent *domain.RequestIntent) *domain.CostEstimate {
	input, output, confidence := EstimateTokens(intent, int64(p.GetCapabilities().MaxOutputTokens), 800)
	model := intent.Model
	if model == "" {
		model = p.model
	}
	price, ok := p.prices[model]
	if !ok {
		price = p.prices["gpt-4o"]
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

func (p *OpenAIProvider) GetHealth(ctx context.Context) HealthStatus {
	return p.health.get(ctx, func(ctx context.Context) HealthStatus {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, "https://api.openai.com/v1/models", nil)
		if err != nil {
			return Down
		}
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
		resp, err := p.httpClient.Do(req)
		if err != nil {
			return Down
		}
		defer resp.Body.Close()
		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			return Healthy
		case resp.StatusCode == 401 || resp.StatusCode == 403:
			return Down
		case resp.StatusCode >= 400 && resp.StatusCode < 500:
			return Degraded
		default:
			return Down
		}
	})
}

// classifyHTTPStatus maps an HTTP status code to the spec.md §7
// ErrorCategory table, matching the conventions each reference provider in
// llm_router.go applies ad hoc to resp.StatusCode.
func classifyHTTPStatus(status int, retryAfterHeader, message string) *apkerrors.SystemError {
	switch {
	case status == 401 || status == 403:
		return apkerrors.New(apkerrors.CategoryAuthentication, message).WithRetryable(false).WithProviderCode(fmt.Sprint(status))
	case status == 429:
		se := apkerrors.New(apkerrors.CategoryRateLimit, message).WithProviderCode(fmt.Sprint(status))
		if d, ok := parseRetryAfter(retryAfterHeader); ok {
			se = se.WithRetryAfter(d)
		} else {
			se = se.WithRetryAfter(30 * time.Second)
		}
		return se
	case status == 400:
		return apkerrors.New(apkerrors.CategoryValidation, message).WithRetryable(false).WithProviderCode(fmt.Sprint(status))
	case status >= 500:
		return apkerrors.New(apkerrors.CategoryProvider, message).WithRetryable(true).WithProviderCode(fmt.Sprint(status))
	default:
		return apkerrors.New(apkerrors.CategoryUnknown, message).WithRetryable(false).WithProviderCode(fmt.Sprint(status))
	}
}

func parseRetryAfter(header string) (time.Duration, bool) {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0, false
	}
	var seconds int
	if _, err := fmt.Sscanf(header, "%d", &seconds); err != nil || seconds <= 0 {
		return 0, false
	}
	return time.Duration(seconds) * time.Second, true
}
