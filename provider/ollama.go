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

// OllamaProvider fronts a self-hosted Ollama instance, adapted from
// orchestrator/llm_router.go's OllamaProvider. Ollama has no notion of API
// keys, so keyMaterial is accepted for interface symmetry but unused —
// eligibility/rotation for this adapter's "key" tracks the base URL's
// reachability rather than a secret.
type OllamaProvider struct {
	baseURL    string
	model      string
	httpClient *http.Client
	health     cachedHealth
}

func NewOllamaProvider(baseURL, model string, healthTTL time.Duration) *OllamaProvider {
	return &OllamaProvider{
		baseURL:    baseURL,
		model:      model,
		httpClient: &http.Client{Timeout: 120 * time.Second},
		health:     cachedHealth{ttl: healthTTL},
	}
}

func (p *OllamaProvider) Name() string { return "ollama" }

type ollamaChatRequest struct {
	Model    string                 `json:"model"`
	Messages []map[string]string    `json:"messages"`
	Stream   bool                   `json:"stream"`
	Options  map[string]interface{} `json:"options,omitempty"`
}

type ollamaChatResponse struct {
	Model   string `json:"model"`
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
	PromptEvalCount int  `json:"prompt_eval_count"`
	EvalCount       int  `json:"eval_count"`
	Done            bool `json:"done"`
}

func (p *OllamaProvider) Execute(ctx context.Context, intent *domain.RequestIntent, keyMaterial string) (*domain.SystemResponse, error) {
	start := time.Now()
	model := intent.Model
	if model == "" {
		model = p.model
	}

	messages := make([]map[string]string, 0, len(intent.Messages))
	for _, m := range intent.Messages {
		messages = append(messages, map[string]string{"role": string(m.Role), "content": m.Content})
	}

	options := map[string]interface{}{"temperature": intent.Temperature}
	if intent.MaxTokens > 0 {
		options["num_predict"] = intent.MaxTokens
	}
	if intent.TopP > 0 {
		options["top_p"] = intent.TopP
	}

	reqBody, err := json.Marshal(ollamaChatRequest{Model: model, Messages: messages, Stream: false, Options: options})
	if err != nil {
		return nil, apkerrors.New(apkerrors.CategoryValidation, "encoding request").WithRetryable(false)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/chat", bytes.NewReader(reqBody))
	if err != nil {
		return nil, apkerrors.Wrap(apkerrors.CategoryNetwork, "building request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, p.MapError(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apkerrors.Wrap(apkerrors.CategoryNetwork, "reading response body", err)
	}

	if resp.StatusCode >= 400 {
		return nil, classifyHTTPStatus(resp.StatusCode, "", string(raw))
	}

	var parsed ollamaChatResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, apkerrors.Wrap(apkerrors.CategoryProvider, "decoding response", err)
	}

	return &domain.SystemResponse{
		Content: parsed.Message.Content,
		Metadata: domain.ResponseMetadata{
			ModelUsed: parsed.Model,
			TokensUsed: domain.TokensUsed{
				Input:  int64(parsed.PromptEvalCount),
				Output: int64(parsed.EvalCount),
				Total:  int64(parsed.PromptEvalCount + parsed.EvalCount),
			},
			ResponseTimeMs: time.Since(start).Milliseconds(),
			ProviderID:     p.Name(),
			Timestamp:      time.Now().UTC(),
		},
	}, nil
}

func (p *OllamaProvider) MapError(err error) *apkerrors.SystemError {
	if se, ok := err.(*apkerrors.SystemError); ok {
		return se
	}
	return apkerrors.Wrap(apkerrors.CategoryNetwork, "ollama request failed", err)
}

func (p *OllamaProvider) GetCapabilities() Capabilities {
	return Capabilities{
		Models:          []string{p.model},
		SupportsStream:  true,
		SupportsTools:   false,
		MaxInputTokens:  32_768,
		MaxOutputTokens: 4_096,
	}
}

// EstimateCost is always zero for a self-hosted model — Ollama has no
// per-token billing — but still reports token estimates for capacity
// planning.
func (p *OllamaProvider) EstimateCost(intent *domain.RequestIntent) *domain.CostEstimate {
	input, output, confidence := EstimateTokens(intent, int64(p.GetCapabilities().MaxOutputTokens), 512)
	return &domain.CostEstimate{
		Amount:               0,
		Currency:             "USD",
		Confidence:           confidence,
		EstimationMethod:     "heuristic_char_length",
		InputTokensEstimate:  input,
		OutputTokensEstimate: output,
		Breakdown:            map[string]float64{"input_cost": 0, "output_cost": 0},
	}
}

func (p *OllamaProvider) GetHealth(ctx context.Context) HealthStatus {
	return p.health.get(ctx, func(ctx context.Context) HealthStatus {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/api/tags", nil)
		if err != nil {
			return Down
		}
		resp, err := p.httpClient.Do(req)
		if err != nil {
			return Down
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return Healthy
		}
		return Degraded
	})
}
