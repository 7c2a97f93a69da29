// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package quota

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"apikeyrouter/domain"
)

func newTestMirror(t *testing.T) (*RedisMirror, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	m, err := NewRedisMirror(fmt.Sprintf("redis://%s", mr.Addr()))
	if err != nil {
		t.Fatalf("NewRedisMirror: %v", err)
	}
	t.Cleanup(func() { _ = m.Close() })
	return m, mr
}

func TestNewRedisMirrorRejectsUnparseableURL(t *testing.T) {
	if _, err := NewRedisMirror("not-a-redis-url"); err == nil {
		t.Fatal("expected an error for an unparseable redis URL")
	}
}

func TestNewRedisMirrorRejectsUnreachableServer(t *testing.T) {
	if _, err := NewRedisMirror("redis://127.0.0.1:1"); err == nil {
		t.Fatal("expected an error connecting to an unreachable redis server")
	}
}

func TestRedisMirrorSyncAndLoadRoundTrip(t *testing.T) {
	m, _ := newTestMirror(t)
	ctx := context.Background()

	q := &domain.QuotaState{
		KeyID:         "key-1",
		UsedCapacity:  250,
		TotalCapacity: 1000,
		CapacityState: domain.CapacityConstrained,
		UpdatedAt:     time.Now().UTC(),
	}
	if err := m.Sync(ctx, q); err != nil {
		t.Fatalf("Sync: %v", err)
	}

	used, total, ok := m.Load(ctx, "key-1")
	if !ok {
		t.Fatal("expected a cache hit after Sync")
	}
	if used != 250 || total != 1000 {
		t.Errorf("Load() = (%d, %d), want (250, 1000)", used, total)
	}
}

func TestRedisMirrorLoadMissReturnsNotOK(t *testing.T) {
	m, _ := newTestMirror(t)
	if _, _, ok := m.Load(context.Background(), "never-synced"); ok {
		t.Error("expected a cache miss for a key that was never synced")
	}
}

func TestRedisMirrorNilReceiverIsNoop(t *testing.T) {
	var m *RedisMirror
	if err := m.Sync(context.Background(), &domain.QuotaState{KeyID: "x"}); err != nil {
		t.Errorf("Sync on nil mirror should be a no-op, got %v", err)
	}
	if _, _, ok := m.Load(context.Background(), "x"); ok {
		t.Error("Load on nil mirror should always miss")
	}
	if err := m.Close(); err != nil {
		t.Errorf("Close on nil mirror should be a no-op, got %v", err)
	}
}

func TestEngineEnsureStateLoadsFromRedisMirrorOnFirstUse(t *testing.T) {
	m, _ := newTestMirror(t)
	ctx := context.Background()

	if err := m.Sync(ctx, &domain.QuotaState{KeyID: "shared-key", UsedCapacity: 400, TotalCapacity: 1000}); err != nil {
		t.Fatalf("Sync: %v", err)
	}

	km := testKeyManager(t)
	e := New(nil, km, nil)
	e.AttachRedisMirror(m)

	q := e.EnsureState("shared-key")
	if q.UsedCapacity != 400 || q.TotalCapacity != 1000 {
		t.Errorf("EnsureState did not pick up mirrored capacity: got used=%d total=%d", q.UsedCapacity, q.TotalCapacity)
	}
}
