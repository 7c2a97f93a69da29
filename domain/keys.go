// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

// Package domain defines the core value types shared by every component of
// the router: keys, quotas, budgets, policies, decisions, transitions,
// request intents, and responses. Nothing in this package performs I/O.
package domain

import "time"

// KeyState is the lifecycle state of a registered API key.
type KeyState string

const (
	KeyAvailable  KeyState = "available"
	KeyThrottled  KeyState = "throttled"
	KeyExhausted  KeyState = "exhausted"
	KeyRecovering KeyState = "recovering"
	KeyDisabled   KeyState = "disabled"
	KeyInvalid    KeyState = "invalid"
)

// allowedTransitions encodes the key state machine from the spec: which
// target states are reachable from a given source state. Disabled is
// reachable from every state except Disabled itself (manual override), so
// it is listed in every other entry.
var allowedTransitions = map[KeyState]map[KeyState]bool{
	KeyAvailable:  {KeyThrottled: true, KeyExhausted: true, KeyInvalid: true, KeyDisabled: true},
	KeyThrottled:  {KeyAvailable: true, KeyExhausted: true, KeyDisabled: true},
	KeyExhausted:  {KeyRecovering: true, KeyAvailable: true, KeyDisabled: true},
	KeyRecovering: {KeyAvailable: true, KeyExhausted: true, KeyDisabled: true},
	KeyDisabled:   {KeyAvailable: true},
	KeyInvalid:    {KeyDisabled: true},
}

// CanTransition reports whether moving from `from` to `to` is a legal edge
// in the key state machine.
func CanTransition(from, to KeyState) bool {
	if from == to {
		return true
	}
	edges, ok := allowedTransitions[from]
	if !ok {
		return false
	}
	return edges[to]
}

// APIKey is a managed credential. KeyMaterial holds the encrypted ciphertext
// only; plaintext is never stored on this struct outside KeyManager's
// decrypt boundary.
type APIKey struct {
	ID             string
	KeyMaterial    []byte // encrypted, base64-decoded ciphertext bytes
	ProviderID     string
	State          KeyState
	StateUpdatedAt time.Time
	CreatedAt      time.Time
	LastUsedAt     *time.Time
	UsageCount     int64
	FailureCount   int64
	CooldownUntil  *time.Time
	Metadata       map[string]string
}

// SafeView is the representation of an APIKey with key material omitted.
// Every boundary (logs, errors, to_safe_dict equivalents) must use this, or
// something built from it, to present a key.
type SafeView struct {
	ID             string            `json:"id"`
	ProviderID     string            `json:"provider_id"`
	State          KeyState          `json:"state"`
	StateUpdatedAt time.Time         `json:"state_updated_at"`
	CreatedAt      time.Time         `json:"created_at"`
	LastUsedAt     *time.Time        `json:"last_used_at,omitempty"`
	UsageCount     int64             `json:"usage_count"`
	FailureCount   int64             `json:"failure_count"`
	CooldownUntil  *time.Time        `json:"cooldown_until,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// ToSafeView returns the key with its material omitted, per spec.md §6's
// "to_safe_dict MUST omit key_material" requirement. This is the only
// representation of an APIKey that may cross a log, event, or API boundary.
func (k *APIKey) ToSafeView() SafeView {
	return SafeView{
		ID:             k.ID,
		ProviderID:     k.ProviderID,
		State:          k.State,
		StateUpdatedAt: k.StateUpdatedAt,
		CreatedAt:      k.CreatedAt,
		LastUsedAt:     k.LastUsedAt,
		UsageCount:     k.UsageCount,
		FailureCount:   k.FailureCount,
		CooldownUntil:  k.CooldownUntil,
		Metadata:       k.Metadata,
	}
}

// String implements fmt.Stringer without ever including KeyMaterial,
// mirroring the Python original's __repr__ override.
func (k *APIKey) String() string {
	return "APIKey{id=" + k.ID + ", provider=" + k.ProviderID + ", state=" + string(k.State) + "}"
}

// SuccessRate returns usage/(usage+failure), defaulting to 0.95 when there
// is no history, per spec.md §4.6's min_reliability rule definition.
func (k *APIKey) SuccessRate() float64 {
	total := k.UsageCount + k.FailureCount
	if total == 0 {
		return 0.95
	}
	return float64(k.UsageCount) / float64(total)
}

// FailureRatio returns failure/(usage+failure), 0 when there is no history.
func (k *APIKey) FailureRatio() float64 {
	total := k.UsageCount + k.FailureCount
	if total == 0 {
		return 0
	}
	return float64(k.FailureCount) / float64(total)
}

// IsEligibleNow reports whether k would be returned by get_eligible_keys at
// instant now: Available, or Throttled with an expired cooldown.
func (k *APIKey) IsEligibleNow(now time.Time) bool {
	switch k.State {
	case KeyAvailable:
		return true
	case KeyThrottled:
		return k.CooldownUntil != nil && !k.CooldownUntil.After(now)
	default:
		return false
	}
}
