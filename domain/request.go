// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package domain

import (
	"fmt"
	"time"
)

// Role is the sender of a message within a RequestIntent.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

func validRole(r Role) bool {
	switch r {
	case RoleSystem, RoleUser, RoleAssistant, RoleTool:
		return true
	}
	return false
}

// Message is a single turn of a RequestIntent's conversation.
type Message struct {
	Role       Role
	Content    string
	ToolCallID string            `json:"tool_call_id,omitempty"`
	ToolName   string            `json:"tool_name,omitempty"`
	ToolArgs   map[string]string `json:"tool_args,omitempty"`
}

// RequestIntent is the provider-agnostic request a caller submits to
// Router.Route. Validate enforces the same invariants the source's
// validation-heavy dataclasses enforced (temperature range, non-empty
// messages, role membership) and returns a plain error on violation;
// Router.Route wraps that error in a Validation-category SystemError.
type RequestIntent struct {
	Model       string
	Messages    []Message
	Temperature float64
	MaxTokens   int
	TopP        float64
	Metadata    map[string]string
}

// Validate checks the field ranges mandated by spec.md §3: temperature in
// [0,2], max_tokens in [1,1_000_000], top_p in [0,1], messages non-empty
// with valid roles and content (unless the message carries a tool_call_id).
func (r *RequestIntent) Validate() error {
	if r.Model == "" {
		return fmt.Errorf("request intent: model is required")
	}
	if len(r.Messages) == 0 {
		return fmt.Errorf("request intent: messages must be non-empty")
	}
	for i, m := range r.Messages {
		if !validRole(m.Role) {
			return fmt.Errorf("request intent: message %d has invalid role %q", i, m.Role)
		}
		if m.Content == "" && m.ToolCallID == "" {
			return fmt.Errorf("request intent: message %d has empty content and no tool_call_id", i)
		}
	}
	if r.Temperature < 0 || r.Temperature > 2 {
		return fmt.Errorf("request intent: temperature %.2f out of range [0,2]", r.Temperature)
	}
	if r.MaxTokens < 1 || r.MaxTokens > 1_000_000 {
		return fmt.Errorf("request intent: max_tokens %d out of range [1,1000000]", r.MaxTokens)
	}
	if r.TopP < 0 || r.TopP > 1 {
		return fmt.Errorf("request intent: top_p %.2f out of range [0,1]", r.TopP)
	}
	return nil
}

// RouteID returns the caller-supplied route identity, if any, used to match
// PerRoute budgets (see DESIGN.md Open Question (c)).
func (r *RequestIntent) RouteID() string {
	if r.Metadata == nil {
		return ""
	}
	return r.Metadata["route_id"]
}

// TokensUsed is the input/output/total token accounting on a SystemResponse.
type TokensUsed struct {
	Input  int64 `json:"input"`
	Output int64 `json:"output"`
	Total  int64 `json:"total"`
}

// ResponseMetadata carries the non-content facts about how a response was
// produced.
type ResponseMetadata struct {
	ModelUsed      string     `json:"model_used"`
	TokensUsed     TokensUsed `json:"tokens_used"`
	ResponseTimeMs int64      `json:"response_time_ms"`
	ProviderID     string     `json:"provider_id"`
	Timestamp      time.Time  `json:"timestamp"`
	FinishReason   string     `json:"finish_reason,omitempty"`
	RequestID      string     `json:"request_id,omitempty"`
	CorrelationID  string     `json:"correlation_id,omitempty"`
}

// SystemResponse is the normalized result of a routed request.
type SystemResponse struct {
	Content   string            `json:"content"`
	Metadata  ResponseMetadata  `json:"metadata"`
	Cost      *CostEstimate     `json:"cost,omitempty"`
	KeyUsed   string            `json:"key_used"`
	RequestID string            `json:"request_id"`
}
