// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package domain

import (
	"testing"
	"time"
)

func TestQuotaStateRemaining(t *testing.T) {
	q := &QuotaState{TotalCapacity: 100, UsedCapacity: 30}
	if got := q.Remaining(); got != 70 {
		t.Errorf("Remaining() = %v, want 70", got)
	}
	q.UsedCapacity = 150
	if got := q.Remaining(); got != 0 {
		t.Errorf("Remaining() over capacity = %v, want 0", got)
	}
	unknown := &QuotaState{}
	if got := unknown.Remaining(); got != 0 {
		t.Errorf("Remaining() with unknown total = %v, want 0", got)
	}
}

func TestQuotaStateRemainingFraction(t *testing.T) {
	q := &QuotaState{TotalCapacity: 100, UsedCapacity: 25}
	if got := q.RemainingFraction(); got != 0.75 {
		t.Errorf("RemainingFraction() = %v, want 0.75", got)
	}
	unknown := &QuotaState{}
	if got := unknown.RemainingFraction(); got != 1.0 {
		t.Errorf("RemainingFraction() with unknown total = %v, want 1.0", got)
	}
}

func TestDeriveCapacityState(t *testing.T) {
	now := time.Now()
	zero := time.Time{}

	tests := []struct {
		name             string
		fraction         float64
		resetAt          time.Time
		wasExhausted     bool
		recoveringWindow time.Duration
		want             CapacityState
	}{
		{"abundant above 0.5", 0.8, zero, false, 0, CapacityAbundant},
		{"boundary at 0.5 is constrained", 0.5, zero, false, 0, CapacityConstrained},
		{"constrained above 0.2", 0.3, zero, false, 0, CapacityConstrained},
		{"boundary at 0.2 is critical", 0.2, zero, false, 0, CapacityCritical},
		{"critical above zero", 0.05, zero, false, 0, CapacityCritical},
		{"exhausted at zero", 0, zero, false, 0, CapacityExhausted},
		{"recovering within window", 0, now.Add(30 * time.Second), true, time.Minute, CapacityRecovering},
		{"exhausted outside window", 0, now.Add(5 * time.Minute), true, time.Minute, CapacityExhausted},
		{"exhausted when resetAt already passed", 0, now.Add(-time.Minute), true, time.Minute, CapacityExhausted},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DeriveCapacityState(tt.fraction, now, tt.resetAt, tt.wasExhausted, tt.recoveringWindow)
			if got != tt.want {
				t.Errorf("DeriveCapacityState() = %v, want %v", got, tt.want)
			}
		})
	}
}
