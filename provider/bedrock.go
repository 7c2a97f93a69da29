// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"

	"apikeyrouter/domain"
	apkerrors "apikeyrouter/errors"
)

// supportedBedrockFamilies and inferenceProfilePrefixes mirror
// orchestrator/llm_router.go's BedrockProvider exactly: a Bedrock model ID is
// dot-segmented, an optional cross-region inference-profile prefix
// (eu/us/apac/global) is stripped, and the remaining leading segment names
// the model family.
var supportedBedrockFamilies = []string{"anthropic", "amazon", "meta", "mistral"}
var inferenceProfilePrefixes = []string{"eu", "us", "apac", "global"}

func detectBedrockModelFamily(modelID string) (string, error) {
	segments := strings.Split(modelID, ".")
	if len(segments) == 0 {
		return "", fmt.Errorf("bedrock: empty model id")
	}
	first := segments[0]
	for _, prefix := range inferenceProfilePrefixes {
		if first == prefix && len(segments) > 1 {
			first = segments[1]
			break
		}
	}
	if err := validateBedrockFamily(first); err != nil {
		return "", err
	}
	return first, nil
}

func validateBedrockFamily(family string) error {
	for _, f := range supportedBedrockFamilies {
		if f == family {
			return nil
		}
	}
	return fmt.Errorf("bedrock: unsupported model family %q", family)
}

// BedrockProvider fronts AWS Bedrock's InvokeModel API, adapted from
// orchestrator/llm_router.go's BedrockProvider. Authentication rides the
// standard AWS credential chain rather than the router's routed key
// material — Bedrock access keys are provisioned per-region/per-account, not
// per-request, so keyMaterial here is accepted for interface symmetry but
// unused by Execute (it is still the managed credential whose lifecycle the
// keymanager tracks).
type BedrockProvider struct {
	client  *bedrockruntime.Client
	region  string
	model   string
	prices  PriceTable
	health  cachedHealth
	healthy bool
}

// NewBedrockProvider loads the default AWS config for region and constructs
// a bedrockruntime client, mirroring BedrockProvider's initialization.
func NewBedrockProvider(ctx context.Context, region, model string, healthTTL time.Duration) (*BedrockProvider, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("bedrock: loading aws config: %w", err)
	}
	return &BedrockProvider{
		client: bedrockruntime.NewFromConfig(cfg),
		region: region,
		model:  model,
		prices: PriceTable{
			"anthropic.claude-3-sonnet-20240229-v1:0": {InputPer1K: 0.003, OutputPer1K: 0.015},
			"anthropic.claude-3-haiku-20240307-v1:0":  {InputPer1K: 0.00025, OutputPer1K: 0.00125},
			"amazon.titan-text-express-v1":            {InputPer1K: 0.0002, OutputPer1K: 0.0006},
			"meta.llama3-70b-instruct-v1:0":            {InputPer1K: 0.00265, OutputPer1K: 0.0035},
			"mistral.mistral-large-2402-v1:0":          {InputPer1K: 0.004, OutputPer1K: 0.012},
		},
		health:  cachedHealth{ttl: healthTTL},
		healthy: true,
	}, nil
}

func (p *BedrockProvider) Name() string { return "bedrock" }

func (p *BedrockProvider) Execute(ctx context.Context, intent *domain.RequestIntent, keyMaterial string) (*domain.SystemResponse, error) {
	start := time.Now()
	model := intent.Model
	if model == "" {
		model = p.model
	}

	family, err := detectBedrockModelFamily(model)
	if err != nil {
		p.healthy = false
		return nil, apkerrors.Wrap(apkerrors.CategoryValidation, "unrecognized bedrock model family", err).WithRetryable(false)
	}

	body, err := buildBedrockRequestBody(family, intent)
	if err != nil {
		return nil, apkerrors.Wrap(apkerrors.CategoryValidation, "building bedrock request body", err).WithRetryable(false)
	}

	out, err := p.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(model),
		Body:        body,
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
	})
	if err != nil {
		p.healthy = false
		return nil, p.MapError(err)
	}
	p.healthy = true

	content, tokensUsed, err := parseBedrockResponseBody(family, out.Body)
	if err != nil {
		return nil, apkerrors.Wrap(apkerrors.CategoryProvider, "parsing bedrock response", err)
	}

	return &domain.SystemResponse{
		Content: content,
		Metadata: domain.ResponseMetadata{
			ModelUsed:      model,
			TokensUsed:     tokensUsed,
			ResponseTimeMs: time.Since(start).Milliseconds(),
			ProviderID:     p.Name(),
			Timestamp:      time.Now().UTC(),
		},
	}, nil
}

type bedrockAnthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

func buildBedrockRequestBody(family string, intent *domain.RequestIntent) ([]byte, error) {
	switch family {
	case "anthropic":
		messages := make([]bedrockAnthropicMessage, 0, len(intent.Messages))
		for _, m := range intent.Messages {
			messages = append(messages, bedrockAnthropicMessage{Role: string(m.Role), Content: m.Content})
		}
		maxTokens := intent.MaxTokens
		if maxTokens == 0 {
			maxTokens = 1024
		}
		return json.Marshal(map[string]interface{}{
			"anthropic_version": "bedrock-2023-05-31",
			"messages":          messages,
			"max_tokens":        maxTokens,
			"temperature":       intent.Temperature,
		})
	case "amazon":
		return json.Marshal(map[string]interface{}{
			"inputText": flattenMessages(intent.Messages),
			"textGenerationConfig": map[string]interface{}{
				"maxTokenCount": defaultInt(intent.MaxTokens, 1024),
				"temperature":   intent.Temperature,
			},
		})
	case "meta":
		return json.Marshal(map[string]interface{}{
			"prompt":      flattenMessages(intent.Messages),
			"max_gen_len": defaultInt(intent.MaxTokens, 512),
			"temperature": intent.Temperature,
		})
	case "mistral":
		return json.Marshal(map[string]interface{}{
			"prompt":      flattenMessages(intent.Messages),
			"max_tokens":  defaultInt(intent.MaxTokens, 1024),
			"temperature": intent.Temperature,
		})
	default:
		return nil, fmt.Errorf("bedrock: no request builder for family %q", family)
	}
}

func flattenMessages(messages []domain.Message) string {
	var sb strings.Builder
	for _, m := range messages {
		sb.WriteString(string(m.Role))
		sb.WriteString(": ")
		sb.WriteString(m.Content)
		sb.WriteString("\n")
	}
	return sb.String()
}

func defaultInt(v int, d int) int {
	if v <= 0 {
		return d
	}
	return v
}

func parseBedrockResponseBody(family string, raw []byte) (string, domain.TokensUsed, error) {
	switch family {
	case "anthropic":
		var resp struct {
			Content []struct {
				Text string `json:"text"`
			} `json:"content"`
			Usage struct {
				InputTokens  int64 `json:"input_tokens"`
				OutputTokens int64 `json:"output_tokens"`
			} `json:"usage"`
		}
		if err := json.Unmarshal(raw, &resp); err != nil {
			return "", domain.TokensUsed{}, err
		}
		text := ""
		if len(resp.Content) > 0 {
			text = resp.Content[0].Text
		}
		return text, domain.TokensUsed{
			Input:  resp.Usage.InputTokens,
			Output: resp.Usage.OutputTokens,
			Total:  resp.Usage.InputTokens + resp.Usage.OutputTokens,
		}, nil
	case "amazon":
		var resp struct {
			Results []struct {
				OutputText       string `json:"outputText"`
				TokenCount       int64  `json:"tokenCount"`
			} `json:"results"`
			InputTextTokenCount int64 `json:"inputTextTokenCount"`
		}
		if err := json.Unmarshal(raw, &resp); err != nil {
			return "", domain.TokensUsed{}, err
		}
		text := ""
		var outputTokens int64
		if len(resp.Results) > 0 {
			text = resp.Results[0].OutputText
			outputTokens = resp.Results[0].TokenCount
		}
		return text, domain.TokensUsed{
			Input:  resp.InputTextTokenCount,
			Output: outputTokens,
			Total:  resp.InputTextTokenCount + outputTokens,
		}, nil
	case "meta":
		var resp struct {
			Generation           string `json:"generation"`
			PromptTokenCount     int64  `json:"prompt_token_count"`
			GenerationTokenCount int64  `json:"generation_token_count"`
		}
		if err := json.Unmarshal(raw, &resp); err != nil {
			return "", domain.TokensUsed{}, err
		}
		return resp.Generation, domain.TokensUsed{
			Input:  resp.PromptTokenCount,
			Output: resp.GenerationTokenCount,
			Total:  resp.PromptTokenCount + resp.GenerationTokenCount,
		}, nil
	case "mistral":
		var resp struct {
			Outputs []struct {
				Text string `json:"text"`
			} `json:"outputs"`
		}
		if err := json.Unmarshal(raw, &resp); err != nil {
			return "", domain.TokensUsed{}, err
		}
		text := ""
		if len(resp.Outputs) > 0 {
			text = resp.Outputs[0].Text
		}
		// Mistral's Bedrock response carries no token usage; estimate from
		// length using the same heuristic EstimateTokens applies elsewhere.
		estimated := int64(len(text)) / 4
		return text, domain.TokensUsed{Output: estimated, Total: estimated}, nil
	default:
		return "", domain.TokensUsed{}, fmt.Errorf("bedrock: no response parser for family %q", family)
	}
}

func (p *BedrockProvider) MapError(err error) *apkerrors.SystemError {
	if se, ok := err.(*apkerrors.SystemError); ok {
		return se
	}
	msg := err.Error()
	lower := strings.ToLower(msg)
	switch {
	case strings.Contains(lower, "throttling") || strings.Contains(lower, "toomanyrequests"):
		return apkerrors.New(apkerrors.CategoryRateLimit, msg).WithRetryAfter(10 * time.Second).WithProviderCode("ThrottlingException")
	case strings.Contains(lower, "accessdenied") || strings.Contains(lower, "unauthorized"):
		return apkerrors.New(apkerrors.CategoryAuthentication, msg).WithRetryable(false).WithProviderCode("AccessDeniedException")
	case strings.Contains(lower, "validationexception"):
		return apkerrors.New(apkerrors.CategoryValidation, msg).WithRetryable(false).WithProviderCode("ValidationException")
	case strings.Contains(lower, "timeout") || strings.Contains(lower, "deadline"):
		return apkerrors.New(apkerrors.CategoryTimeout, msg).WithRetryable(true)
	case strings.Contains(lower, "modelnotreadyexception") || strings.Contains(lower, "serviceunavailable") || strings.Contains(lower, "internalserver"):
		return apkerrors.New(apkerrors.CategoryProvider, msg).WithRetryable(true)
	default:
		return apkerrors.Wrap(apkerrors.CategoryNetwork, "bedrock invocation failed", err)
	}
}

func (p *BedrockProvider) GetCapabilities() Capabilities {
	return Capabilities{
		Models: []string{
			"anthropic.claude-3-sonnet-20240229-v1:0",
			"anthropic.claude-3-haiku-20240307-v1:0",
			"amazon.titan-text-express-v1",
			"meta.llama3-70b-instruct-v1:0",
			"mistral.mistral-large-2402-v1:0",
		},
		SupportsStream:  false,
		SupportsTools:   false,
		MaxInputTokens:  100_000,
		MaxOutputTokens: 4_096,
	}
}

func (p *BedrockProvider) EstimateCost(intent *domain.RequestIntent) *domain.CostEstimate {
	input, output, confidence := EstimateTokens(intent, 4096, 512)
	model := intent.Model
	if model == "" {
		model = p.model
	}
	price, ok := p.prices[model]
	if !ok {
		price = p.prices["anthropic.claude-3-haiku-20240307-v1:0"]
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

// GetHealth reports the last observed Execute/InvokeModel outcome rather
// than issuing a synthetic probe call — Bedrock has no lightweight ping
// endpoint, matching BedrockProvider.IsHealthy's own region-set-and-no-prior-
// failure heuristic.
func (p *BedrockProvider) GetHealth(ctx context.Context) HealthStatus {
	return p.health.get(ctx, func(context.Context) HealthStatus {
		if p.healthy && p.region != "" {
			return Healthy
		}
		return Down
	})
}
