// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package quota

import (
	"context"
	"testing"
	"time"

	"apikeyrouter/domain"
	"apikeyrouter/keymanager"
	"apikeyrouter/observability"
)

func testKeyManager(t *testing.T) *keymanager.Manager {
	t.Helper()
	enc, err := keymanager.NewEncryptor("quota-test-passphrase", "quota-test-salt")
	if err != nil {
		t.Fatalf("NewEncryptor: %v", err)
	}
	return keymanager.New(nil, enc, observability.New("quota-test"), time.Minute)
}

func TestEngineEnsureStateDefaultsToAbundant(t *testing.T) {
	e := New(nil, nil, observability.New("quota-test"))
	q := e.EnsureState("key-1")
	if q.CapacityState != domain.CapacityAbundant {
		t.Errorf("default CapacityState = %v, want Abundant", q.CapacityState)
	}
	if e.GetState("key-1") != q {
		t.Error("GetState should return the same record EnsureState created")
	}
	if e.GetState("unknown-key") != nil {
		t.Error("GetState for an unknown key should return nil")
	}
}

func TestEngineUpdateCapacityDerivesState(t *testing.T) {
	e := New(nil, nil, observability.New("quota-test"))
	q := e.EnsureState("key-1")
	q.TotalCapacity = 100

	if err := e.UpdateCapacity(context.Background(), "key-1", 60); err != nil {
		t.Fatalf("UpdateCapacity: %v", err)
	}
	got := e.GetState("key-1")
	if got.UsedCapacity != 60 {
		t.Errorf("UsedCapacity = %d, want 60", got.UsedCapacity)
	}
	// remaining fraction 0.4 -> Constrained (between 0.2 and 0.5)
	if got.CapacityState != domain.CapacityConstrained {
		t.Errorf("CapacityState after 60%% usage = %v, want Constrained", got.CapacityState)
	}
}

func TestEngineOnRateLimitThrottlesKeyAndDegradesCapacity(t *testing.T) {
	km := testKeyManager(t)
	e := New(nil, km, observability.New("quota-test"))
	ctx := context.Background()

	key, err := km.RegisterKey(ctx, "sk-live", "openai", nil)
	if err != nil {
		t.Fatalf("RegisterKey: %v", err)
	}

	if err := e.OnRateLimit(ctx, key.ID, 30*time.Second); err != nil {
		t.Fatalf("OnRateLimit: %v", err)
	}

	got, err := km.GetKey(key.ID)
	if err != nil {
		t.Fatalf("GetKey: %v", err)
	}
	if got.State != domain.KeyThrottled {
		t.Errorf("key state = %v, want Throttled", got.State)
	}
	if got.CooldownUntil == nil {
		t.Fatal("expected cooldown to be set")
	}

	q := e.GetState(key.ID)
	// unbounded total capacity means remaining fraction is 1.0, above 0.2.
	if q.CapacityState != domain.CapacityConstrained {
		t.Errorf("CapacityState = %v, want Constrained", q.CapacityState)
	}
}

func TestEngineOnQuotaExceededExhaustsKey(t *testing.T) {
	km := testKeyManager(t)
	e := New(nil, km, observability.New("quota-test"))
	ctx := context.Background()

	key, err := km.RegisterKey(ctx, "sk-live", "openai", nil)
	if err != nil {
		t.Fatalf("RegisterKey: %v", err)
	}

	if err := e.OnQuotaExceeded(ctx, key.ID); err != nil {
		t.Fatalf("OnQuotaExceeded: %v", err)
	}

	got, err := km.GetKey(key.ID)
	if err != nil {
		t.Fatalf("GetKey: %v", err)
	}
	if got.State != domain.KeyExhausted {
		t.Errorf("key state = %v, want Exhausted", got.State)
	}

	q := e.GetState(key.ID)
	if q.CapacityState != domain.CapacityExhausted {
		t.Errorf("CapacityState = %v, want Exhausted", q.CapacityState)
	}
}

func TestEngineSweepResumesExhaustedKeysPastReset(t *testing.T) {
	km := testKeyManager(t)
	e := New(nil, km, observability.New("quota-test"))
	ctx := context.Background()

	key, err := km.RegisterKey(ctx, "sk-live", "openai", nil)
	if err != nil {
		t.Fatalf("RegisterKey: %v", err)
	}
	if err := e.OnQuotaExceeded(ctx, key.ID); err != nil {
		t.Fatalf("OnQuotaExceeded: %v", err)
	}

	q := e.GetState(key.ID)
	q.ResetAt = time.Now().UTC().Add(-time.Second)

	e.Sweep(ctx)

	got, err := km.GetKey(key.ID)
	if err != nil {
		t.Fatalf("GetKey: %v", err)
	}
	if got.State != domain.KeyAvailable {
		t.Errorf("key state after sweep = %v, want Available", got.State)
	}
	if q.CapacityState != domain.CapacityAbundant {
		t.Errorf("CapacityState after sweep = %v, want Abundant", q.CapacityState)
	}
	if q.UsedCapacity != 0 {
		t.Errorf("UsedCapacity after sweep = %d, want 0", q.UsedCapacity)
	}
}

func TestEngineSweepIgnoresStatesWithoutResetDeadline(t *testing.T) {
	e := New(nil, nil, observability.New("quota-test"))
	q := e.EnsureState("key-1")
	q.CapacityState = domain.CapacityExhausted
	// ResetAt left at zero value: Sweep must not touch this state.

	e.Sweep(context.Background())

	if q.CapacityState != domain.CapacityExhausted {
		t.Errorf("CapacityState = %v, want unchanged Exhausted", q.CapacityState)
	}
}
