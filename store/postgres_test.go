// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package store

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"apikeyrouter/domain"
	apkerrors "apikeyrouter/errors"
)

func newMockStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return &PostgresStore{db: db}, mock
}

func testKey() *domain.APIKey {
	now := time.Now().UTC()
	return &domain.APIKey{
		ID:             "key-1",
		KeyMaterial:    []byte("ciphertext"),
		ProviderID:     "openai",
		State:          domain.KeyAvailable,
		StateUpdatedAt: now,
		CreatedAt:      now,
		UsageCount:     3,
		FailureCount:   0,
	}
}

func TestPostgresStoreSaveKey(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec("INSERT INTO keys").WillReturnResult(sqlmock.NewResult(0, 1))

	if err := s.SaveKey(context.Background(), testKey()); err != nil {
		t.Fatalf("SaveKey: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestPostgresStoreGetKeyFound(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Now().UTC()
	rows := sqlmock.NewRows([]string{
		"id", "key_material", "provider_id", "state", "state_updated_at", "created_at",
		"last_used_at", "usage_count", "failure_count", "cooldown_until", "metadata",
	}).AddRow("key-1", []byte("ciphertext"), "openai", "available", now, now, nil, int64(3), int64(0), nil, []byte(`{}`))
	mock.ExpectQuery("SELECT id, key_material").WithArgs("key-1").WillReturnRows(rows)

	key, err := s.GetKey(context.Background(), "key-1")
	if err != nil {
		t.Fatalf("GetKey: %v", err)
	}
	if key.ID != "key-1" || key.ProviderID != "openai" {
		t.Errorf("unexpected key: %+v", key)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestPostgresStoreGetKeyNotFound(t *testing.T) {
	s, mock := newMockStore(t)
	rows := sqlmock.NewRows([]string{
		"id", "key_material", "provider_id", "state", "state_updated_at", "created_at",
		"last_used_at", "usage_count", "failure_count", "cooldown_until", "metadata",
	})
	mock.ExpectQuery("SELECT id, key_material").WithArgs("missing").WillReturnRows(rows)

	_, err := s.GetKey(context.Background(), "missing")
	if err != apkerrors.ErrKeyNotFound {
		t.Errorf("GetKey error = %v, want ErrKeyNotFound", err)
	}
}

func TestPostgresStoreListKeysFiltersByProvider(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Now().UTC()
	rows := sqlmock.NewRows([]string{
		"id", "key_material", "provider_id", "state", "state_updated_at", "created_at",
		"last_used_at", "usage_count", "failure_count", "cooldown_until", "metadata",
	}).AddRow("key-1", []byte("ct"), "openai", "available", now, now, nil, int64(1), int64(0), nil, nil)
	mock.ExpectQuery("SELECT id, key_material").WithArgs("openai").WillReturnRows(rows)

	keys, err := s.ListKeys(context.Background(), "openai")
	if err != nil {
		t.Fatalf("ListKeys: %v", err)
	}
	if len(keys) != 1 || keys[0].ID != "key-1" {
		t.Errorf("unexpected keys: %+v", keys)
	}
}

func TestPostgresStoreSaveQuotaState(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec("INSERT INTO quota_states").WillReturnResult(sqlmock.NewResult(0, 1))

	q := &domain.QuotaState{KeyID: "key-1", CapacityState: domain.CapacityAbundant, CapacityUnit: domain.UnitTokens, TimeWindow: domain.WindowHour, UpdatedAt: time.Now().UTC()}
	if err := s.SaveQuotaState(context.Background(), q); err != nil {
		t.Fatalf("SaveQuotaState: %v", err)
	}
}

func TestPostgresStoreGetQuotaStateNotFound(t *testing.T) {
	s, mock := newMockStore(t)
	rows := sqlmock.NewRows([]string{
		"key_id", "capacity_state", "capacity_unit", "used_capacity", "total_capacity",
		"uncertainty_high", "time_window", "reset_at", "updated_at",
	})
	mock.ExpectQuery("SELECT key_id, capacity_state").WithArgs("missing").WillReturnRows(rows)

	_, err := s.GetQuotaState(context.Background(), "missing")
	if err != apkerrors.ErrKeyNotFound {
		t.Errorf("GetQuotaState error = %v, want ErrKeyNotFound", err)
	}
}

func TestPostgresStorePing(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectPing()
	if err := s.Ping(context.Background()); err != nil {
		t.Errorf("Ping: %v", err)
	}
}

func TestPostgresStoreClose(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectClose()
	if err := s.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
}
