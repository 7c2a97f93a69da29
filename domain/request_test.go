// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package domain

import "testing"

func validIntent() *RequestIntent {
	return &RequestIntent{
		Model:       "gpt-4o",
		Messages:    []Message{{Role: RoleUser, Content: "hello"}},
		Temperature: 0.7,
		MaxTokens:   256,
		TopP:        1,
	}
}

func TestRequestIntentValidate(t *testing.T) {
	if err := validIntent().Validate(); err != nil {
		t.Fatalf("expected valid intent to pass, got %v", err)
	}

	tests := []struct {
		name   string
		modify func(*RequestIntent)
	}{
		{"missing model", func(r *RequestIntent) { r.Model = "" }},
		{"empty messages", func(r *RequestIntent) { r.Messages = nil }},
		{"invalid role", func(r *RequestIntent) { r.Messages[0].Role = "narrator" }},
		{"empty content without tool call", func(r *RequestIntent) { r.Messages[0].Content = "" }},
		{"temperature too high", func(r *RequestIntent) { r.Temperature = 2.1 }},
		{"temperature negative", func(r *RequestIntent) { r.Temperature = -0.1 }},
		{"max tokens zero", func(r *RequestIntent) { r.MaxTokens = 0 }},
		{"max tokens too large", func(r *RequestIntent) { r.MaxTokens = 2_000_000 }},
		{"top_p out of range", func(r *RequestIntent) { r.TopP = 1.5 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := validIntent()
			tt.modify(r)
			if err := r.Validate(); err == nil {
				t.Fatalf("expected validation error for %s", tt.name)
			}
		})
	}
}

func TestRequestIntentValidateToolMessage(t *testing.T) {
	r := validIntent()
	r.Messages[0].Content = ""
	r.Messages[0].ToolCallID = "call-1"
	if err := r.Validate(); err != nil {
		t.Fatalf("tool message with empty content but a tool_call_id should be valid: %v", err)
	}
}

func TestRequestIntentRouteID(t *testing.T) {
	r := validIntent()
	if got := r.RouteID(); got != "" {
		t.Errorf("RouteID() with nil metadata = %q, want empty", got)
	}
	r.Metadata = map[string]string{"route_id": "checkout"}
	if got := r.RouteID(); got != "checkout" {
		t.Errorf("RouteID() = %q, want checkout", got)
	}
}
