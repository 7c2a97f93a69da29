// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package domain

import "time"

// CapacityState is the coarse-grained bucket of a key's remaining quota.
type CapacityState string

const (
	CapacityAbundant    CapacityState = "abundant"
	CapacityConstrained CapacityState = "constrained"
	CapacityCritical    CapacityState = "critical"
	CapacityExhausted   CapacityState = "exhausted"
	CapacityRecovering  CapacityState = "recovering"
)

// CapacityUnit is the unit a quota is measured in.
type CapacityUnit string

const (
	UnitRequests CapacityUnit = "requests"
	UnitTokens   CapacityUnit = "tokens"
	UnitMixed    CapacityUnit = "mixed"
)

// TimeWindow is the quota's renewal period.
type TimeWindow string

const (
	WindowMinute  TimeWindow = "minute"
	WindowHour    TimeWindow = "hour"
	WindowDaily   TimeWindow = "daily"
	WindowMonthly TimeWindow = "monthly"
)

// QuotaState is the per-key capacity record owned by QuotaAwarenessEngine.
type QuotaState struct {
	KeyID           string
	CapacityState   CapacityState
	CapacityUnit    CapacityUnit
	UsedCapacity    int64
	TotalCapacity   int64 // 0 means unknown/unbounded
	UncertaintyHigh int64 // optional upper bound on UsedCapacity, 0 if unknown
	TimeWindow      TimeWindow
	ResetAt         time.Time
	UpdatedAt       time.Time
}

// Remaining returns total-used, clamped to 0, or 0 if total is unknown.
func (q *QuotaState) Remaining() int64 {
	if q.TotalCapacity <= 0 {
		return 0
	}
	r := q.TotalCapacity - q.UsedCapacity
	if r < 0 {
		return 0
	}
	return r
}

// RemainingFraction returns remaining/total in [0,1]; 1.0 if total unknown
// (treated as abundant until a real limit is observed).
func (q *QuotaState) RemainingFraction() float64 {
	if q.TotalCapacity <= 0 {
		return 1.0
	}
	return float64(q.Remaining()) / float64(q.TotalCapacity)
}

// DeriveCapacityState applies the default thresholds from spec.md §4.4:
// Abundant >0.5, Constrained >0.2, Critical >0, Exhausted =0. wasExhausted
// indicates the previous reading was Exhausted, which makes the pre-reset
// window Recovering instead of whatever the raw fraction implies.
func DeriveCapacityState(remainingFraction float64, now, resetAt time.Time, wasExhausted bool, recoveringWindow time.Duration) CapacityState {
	if wasExhausted && !resetAt.IsZero() && now.Before(resetAt) && resetAt.Sub(now) <= recoveringWindow {
		return CapacityRecovering
	}
	switch {
	case remainingFraction <= 0:
		return CapacityExhausted
	case remainingFraction > 0.5:
		return CapacityAbundant
	case remainingFraction > 0.2:
		return CapacityConstrained
	default:
		return CapacityCritical
	}
}
