// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package keymanager

import (
	"context"
	"testing"
	"time"

	"apikeyrouter/domain"
	"apikeyrouter/observability"
)

func testManager(t *testing.T) *Manager {
	t.Helper()
	enc, err := NewEncryptor("test-passphrase-not-used-in-prod", "test-salt")
	if err != nil {
		t.Fatalf("NewEncryptor: %v", err)
	}
	obs := observability.New("keymanager-test")
	return New(nil, enc, obs, 50*time.Millisecond)
}

func TestManagerRegisterKey(t *testing.T) {
	m := testManager(t)
	ctx := context.Background()

	key, err := m.RegisterKey(ctx, "sk-live-123", "openai", map[string]string{"owner": "team-a"})
	if err != nil {
		t.Fatalf("RegisterKey: %v", err)
	}
	if key.ID == "" {
		t.Fatal("expected a generated key id")
	}
	if key.State != domain.KeyAvailable {
		t.Errorf("new key state = %v, want Available", key.State)
	}
	if string(key.KeyMaterial) == "sk-live-123" {
		t.Fatal("key material must be encrypted, not stored in plaintext")
	}

	plaintext, err := m.GetKeyMaterial(ctx, key.ID)
	if err != nil {
		t.Fatalf("GetKeyMaterial: %v", err)
	}
	if plaintext != "sk-live-123" {
		t.Errorf("decrypted material = %q, want sk-live-123", plaintext)
	}
}

func TestManagerRegisterKeyRequiresProvider(t *testing.T) {
	m := testManager(t)
	if _, err := m.RegisterKey(context.Background(), "sk-live-123", "", nil); err == nil {
		t.Fatal("expected an error for empty provider id")
	}
}

func TestManagerTransitionLegalAndIllegalEdges(t *testing.T) {
	m := testManager(t)
	ctx := context.Background()
	key, err := m.RegisterKey(ctx, "sk-live-123", "openai", nil)
	if err != nil {
		t.Fatalf("RegisterKey: %v", err)
	}

	if err := m.Transition(ctx, key.ID, domain.KeyThrottled, domain.TriggerError, nil); err != nil {
		t.Fatalf("legal transition available->throttled failed: %v", err)
	}
	got, err := m.GetKey(key.ID)
	if err != nil {
		t.Fatalf("GetKey: %v", err)
	}
	if got.State != domain.KeyThrottled {
		t.Errorf("state = %v, want Throttled", got.State)
	}
	if got.CooldownUntil == nil {
		t.Error("expected CooldownUntil to be set on throttle")
	}

	if err := m.Transition(ctx, key.ID, domain.KeyRecovering, domain.TriggerAutomatic, nil); err == nil {
		t.Fatal("expected throttled->recovering to be illegal")
	}
}

func TestManagerTransitionUnknownKey(t *testing.T) {
	m := testManager(t)
	if err := m.Transition(context.Background(), "does-not-exist", domain.KeyThrottled, domain.TriggerError, nil); err == nil {
		t.Fatal("expected an error transitioning an unknown key")
	}
}

func TestManagerGetEligibleKeysFlipsExpiredCooldown(t *testing.T) {
	m := testManager(t)
	ctx := context.Background()
	key, err := m.RegisterKey(ctx, "sk-live-123", "openai", nil)
	if err != nil {
		t.Fatalf("RegisterKey: %v", err)
	}
	if err := m.Transition(ctx, key.ID, domain.KeyThrottled, domain.TriggerError,
		map[string]interface{}{"cooldown": time.Millisecond}); err != nil {
		t.Fatalf("Transition: %v", err)
	}

	eligible, err := m.GetEligibleKeys(ctx, "openai", nil)
	if err != nil {
		t.Fatalf("GetEligibleKeys: %v", err)
	}
	if len(eligible) != 0 {
		t.Fatal("key should not yet be eligible while cooldown is active")
	}

	time.Sleep(5 * time.Millisecond)

	eligible, err = m.GetEligibleKeys(ctx, "openai", nil)
	if err != nil {
		t.Fatalf("GetEligibleKeys: %v", err)
	}
	if len(eligible) != 1 || eligible[0].ID != key.ID {
		t.Fatalf("expected key to flip back to eligible after cooldown expiry, got %+v", eligible)
	}
	if eligible[0].State != domain.KeyAvailable {
		t.Errorf("key should have been flipped to Available, still %v", eligible[0].State)
	}
}

func TestManagerGetEligibleKeysExcludesGivenIDs(t *testing.T) {
	m := testManager(t)
	ctx := context.Background()
	a, _ := m.RegisterKey(ctx, "sk-a", "openai", nil)
	_, _ = m.RegisterKey(ctx, "sk-b", "openai", nil)

	eligible, err := m.GetEligibleKeys(ctx, "openai", map[string]bool{a.ID: true})
	if err != nil {
		t.Fatalf("GetEligibleKeys: %v", err)
	}
	for _, k := range eligible {
		if k.ID == a.ID {
			t.Fatal("excluded key id should not appear in eligible set")
		}
	}
}

func TestManagerRecordSuccessAndFailure(t *testing.T) {
	m := testManager(t)
	ctx := context.Background()
	key, _ := m.RegisterKey(ctx, "sk-live-123", "openai", nil)

	if err := m.RecordSuccess(ctx, key.ID); err != nil {
		t.Fatalf("RecordSuccess: %v", err)
	}
	if err := m.RecordFailure(ctx, key.ID); err != nil {
		t.Fatalf("RecordFailure: %v", err)
	}

	got, _ := m.GetKey(key.ID)
	if got.UsageCount != 1 {
		t.Errorf("UsageCount = %d, want 1", got.UsageCount)
	}
	if got.FailureCount != 1 {
		t.Errorf("FailureCount = %d, want 1", got.FailureCount)
	}
	if got.LastUsedAt == nil {
		t.Error("expected LastUsedAt to be set after RecordSuccess")
	}
}

func TestManagerRotateKey(t *testing.T) {
	m := testManager(t)
	ctx := context.Background()
	old, _ := m.RegisterKey(ctx, "sk-old", "openai", nil)

	newKey, err := m.RotateKey(ctx, old.ID, "sk-new", map[string]string{"reason": "scheduled"})
	if err != nil {
		t.Fatalf("RotateKey: %v", err)
	}
	if newKey.ProviderID != old.ProviderID {
		t.Errorf("rotated key provider = %q, want %q", newKey.ProviderID, old.ProviderID)
	}

	oldAfter, _ := m.GetKey(old.ID)
	if oldAfter.State != domain.KeyDisabled {
		t.Errorf("old key state after rotation = %v, want Disabled", oldAfter.State)
	}
}

func TestManagerListKeys(t *testing.T) {
	m := testManager(t)
	ctx := context.Background()
	_, _ = m.RegisterKey(ctx, "sk-1", "openai", nil)
	_, _ = m.RegisterKey(ctx, "sk-2", "anthropic", nil)

	if got := len(m.ListKeys("")); got != 2 {
		t.Errorf("ListKeys(\"\") returned %d keys, want 2", got)
	}
	if got := len(m.ListKeys("openai")); got != 1 {
		t.Errorf("ListKeys(openai) returned %d keys, want 1", got)
	}
}
