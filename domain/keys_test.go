// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package domain

import (
	"testing"
	"time"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		name string
		from KeyState
		to   KeyState
		want bool
	}{
		{"same state always legal", KeyAvailable, KeyAvailable, true},
		{"available to throttled", KeyAvailable, KeyThrottled, true},
		{"available to exhausted", KeyAvailable, KeyExhausted, true},
		{"available to recovering illegal", KeyAvailable, KeyRecovering, false},
		{"exhausted to recovering", KeyExhausted, KeyRecovering, true},
		{"recovering to available", KeyRecovering, KeyAvailable, true},
		{"disabled to available", KeyDisabled, KeyAvailable, true},
		{"invalid to disabled", KeyInvalid, KeyDisabled, true},
		{"invalid to available illegal", KeyInvalid, KeyAvailable, false},
		{"throttled to recovering illegal", KeyThrottled, KeyRecovering, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CanTransition(tt.from, tt.to); got != tt.want {
				t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
			}
		})
	}
}

func TestAPIKeyToSafeView(t *testing.T) {
	k := &APIKey{
		ID:          "key-1",
		KeyMaterial: []byte("super-secret-ciphertext"),
		ProviderID:  "openai",
		State:       KeyAvailable,
		UsageCount:  10,
	}
	view := k.ToSafeView()
	if view.ID != k.ID || view.ProviderID != k.ProviderID || view.State != k.State {
		t.Fatalf("safe view lost identifying fields: %+v", view)
	}
	// SafeView has no KeyMaterial field at all; String() must also omit it.
	if s := k.String(); s == "" {
		t.Fatal("String() returned empty")
	}
}

func TestAPIKeySuccessRate(t *testing.T) {
	k := &APIKey{}
	if got := k.SuccessRate(); got != 0.95 {
		t.Errorf("SuccessRate with no history = %v, want 0.95", got)
	}
	k.UsageCount = 9
	k.FailureCount = 1
	if got := k.SuccessRate(); got != 0.9 {
		t.Errorf("SuccessRate = %v, want 0.9", got)
	}
	if got := k.FailureRatio(); got != 0.1 {
		t.Errorf("FailureRatio = %v, want 0.1", got)
	}
}

func TestAPIKeyIsEligibleNow(t *testing.T) {
	now := time.Now()
	past := now.Add(-time.Minute)
	future := now.Add(time.Minute)

	tests := []struct {
		name string
		key  APIKey
		want bool
	}{
		{"available always eligible", APIKey{State: KeyAvailable}, true},
		{"throttled with no cooldown not eligible", APIKey{State: KeyThrottled}, false},
		{"throttled cooldown expired", APIKey{State: KeyThrottled, CooldownUntil: &past}, true},
		{"throttled cooldown active", APIKey{State: KeyThrottled, CooldownUntil: &future}, false},
		{"exhausted never eligible", APIKey{State: KeyExhausted}, false},
		{"disabled never eligible", APIKey{State: KeyDisabled}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.key.IsEligibleNow(now); got != tt.want {
				t.Errorf("IsEligibleNow() = %v, want %v", got, tt.want)
			}
		})
	}
}
