// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

// Package keymanager owns the API key state machine: registration,
// encryption/decryption of key material, eligibility queries, and emission
// of every state transition. The registry shape (in-memory map guarded by a
// RWMutex, looked up by id and indexed by provider) follows
// connectors/registry/registry.go's Registry type.
package keymanager

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"apikeyrouter/domain"
	apkerrors "apikeyrouter/errors"
	"apikeyrouter/observability"
	"apikeyrouter/store"
)

// Manager is the KeyManager component.
type Manager struct {
	mu         sync.RWMutex
	keys       map[string]*domain.APIKey
	byProvider map[string][]string // provider_id -> key ids, insertion order

	store     store.StateStore
	encryptor *Encryptor
	observer  *observability.Observer

	defaultCooldown time.Duration
}

// New constructs a Manager. store may be nil for a pure in-memory manager
// used in tests; encryptor and observer are required.
func New(st store.StateStore, enc *Encryptor, obs *observability.Observer, defaultCooldown time.Duration) *Manager {
	return &Manager{
		keys:            make(map[string]*domain.APIKey),
		byProvider:      make(map[string][]string),
		store:           st,
		encryptor:       enc,
		observer:        obs,
		defaultCooldown: defaultCooldown,
	}
}

// RegisterKey encrypts keyMaterial, assigns a stable id, and persists the
// new key in state Available.
func (m *Manager) RegisterKey(ctx context.Context, keyMaterial, providerID string, metadata map[string]string) (*domain.APIKey, error) {
	if providerID == "" {
		return nil, apkerrors.ErrInvalidProviderID
	}
	ciphertext, err := m.encryptor.Encrypt(keyMaterial)
	if err != nil {
		return nil, fmt.Errorf("keymanager: encrypting key material: %w", err)
	}

	now := time.Now().UTC()
	key := &domain.APIKey{
		ID:             uuid.NewString(),
		KeyMaterial:    ciphertext,
		ProviderID:     providerID,
		State:          domain.KeyAvailable,
		StateUpdatedAt: now,
		CreatedAt:      now,
		Metadata:       metadata,
	}

	m.mu.Lock()
	m.keys[key.ID] = key
	m.byProvider[providerID] = append(m.byProvider[providerID], key.ID)
	m.mu.Unlock()

	if m.store != nil {
		if err := m.store.SaveKey(ctx, key); err != nil {
			return nil, fmt.Errorf("keymanager: persisting new key: %w", apkerrors.ErrStateStoreFailure)
		}
	}
	return key, nil
}

// GetKeyMaterial decrypts a key's material. This is the only function in
// the system that produces plaintext; it always emits a key_access event,
// on both success and failure, per spec.md §4.3.
func (m *Manager) GetKeyMaterial(ctx context.Context, keyID string) (string, error) {
	key, err := m.getKey(keyID)
	if err != nil {
		m.observer.EmitKeyAccess(keyID, "decrypt", false, err)
		return "", err
	}
	plaintext, err := m.encryptor.Decrypt(key.KeyMaterial)
	if err != nil {
		m.observer.EmitKeyAccess(keyID, "decrypt", false, err)
		return "", err
	}
	m.observer.EmitKeyAccess(keyID, "decrypt", true, nil)
	return plaintext, nil
}

func (m *Manager) getKey(keyID string) (*domain.APIKey, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	key, ok := m.keys[keyID]
	if !ok {
		return nil, apkerrors.ErrKeyNotFound
	}
	return key, nil
}

// GetKey returns the key record (material included, ciphertext only) for
// callers that need non-secret fields; it never decrypts.
func (m *Manager) GetKey(keyID string) (*domain.APIKey, error) {
	return m.getKey(keyID)
}

// GetEligibleKeys returns keys in state Available, plus Throttled keys past
// their cooldown (which are opportunistically flipped back to Available),
// filtered by provider and excluding any id in exclude.
func (m *Manager) GetEligibleKeys(ctx context.Context, providerID string, exclude map[string]bool) ([]*domain.APIKey, error) {
	now := time.Now().UTC()

	m.mu.RLock()
	ids := append([]string(nil), m.byProvider[providerID]...)
	m.mu.RUnlock()

	var eligible []*domain.APIKey
	for _, id := range ids {
		if exclude[id] {
			continue
		}
		key, err := m.getKey(id)
		if err != nil {
			continue
		}
		if key.State == domain.KeyThrottled && key.CooldownUntil != nil && !key.CooldownUntil.After(now) {
			if err := m.Transition(ctx, id, domain.KeyAvailable, domain.TriggerAutomatic, map[string]interface{}{"reason": "cooldown_expired"}); err != nil {
				continue
			}
			key, _ = m.getKey(id)
		}
		if key.IsEligibleNow(now) {
			eligible = append(eligible, key)
		}
	}
	return eligible, nil
}

// Transition moves a key to a new state, validating the edge against the
// state machine, updating derived fields (cooldown_until, state_updated_at),
// persisting the mutation, and emitting a StateTransition event. Mutation of
// a single key's fields is serialized by m.mu, satisfying spec.md §5's
// per-row linearizability requirement.
func (m *Manager) Transition(ctx context.Context, keyID string, to domain.KeyState, trigger domain.Trigger, transitionContext map[string]interface{}) error {
	m.mu.Lock()
	key, ok := m.keys[keyID]
	if !ok {
		m.mu.Unlock()
		return apkerrors.ErrKeyNotFound
	}
	from := key.State
	if !domain.CanTransition(from, to) {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s -> %s", apkerrors.ErrInvalidTransition, from, to)
	}

	now := time.Now().UTC()
	key.State = to
	key.StateUpdatedAt = now
	if to == domain.KeyThrottled {
		cooldown := m.defaultCooldown
		if d, ok := transitionContext["cooldown"].(time.Duration); ok && d > 0 {
			cooldown = d
		}
		until := now.Add(cooldown)
		key.CooldownUntil = &until
	} else {
		key.CooldownUntil = nil
	}
	snapshot := *key
	m.mu.Unlock()

	if m.store != nil {
		if err := m.store.SaveKey(ctx, &snapshot); err != nil {
			return fmt.Errorf("keymanager: persisting transition: %w", apkerrors.ErrStateStoreFailure)
		}
	}

	transition := &domain.StateTransition{
		ID:                  uuid.NewString(),
		EntityType:          "key",
		EntityID:            keyID,
		FromState:           string(from),
		ToState:             string(to),
		TransitionTimestamp: now,
		Trigger:             trigger,
		Context:             transitionContext,
	}
	if m.store != nil {
		_ = m.store.SaveStateTransition(ctx, transition)
	}
	m.observer.EmitTransition(transition)
	return nil
}

// RecordSuccess increments usage_count and sets last_used_at after a
// successful execution. Router calls this; QuotaAwarenessEngine separately
// updates capacity.
func (m *Manager) RecordSuccess(ctx context.Context, keyID string) error {
	m.mu.Lock()
	key, ok := m.keys[keyID]
	if !ok {
		m.mu.Unlock()
		return apkerrors.ErrKeyNotFound
	}
	now := time.Now().UTC()
	key.UsageCount++
	key.LastUsedAt = &now
	snapshot := *key
	m.mu.Unlock()

	if m.store != nil {
		return m.store.SaveKey(ctx, &snapshot)
	}
	return nil
}

// RecordFailure increments failure_count without changing state (callers
// decide the state effect via Transition per the §7 error table).
func (m *Manager) RecordFailure(ctx context.Context, keyID string) error {
	m.mu.Lock()
	key, ok := m.keys[keyID]
	if !ok {
		m.mu.Unlock()
		return apkerrors.ErrKeyNotFound
	}
	key.FailureCount++
	snapshot := *key
	m.mu.Unlock()

	if m.store != nil {
		return m.store.SaveKey(ctx, &snapshot)
	}
	return nil
}

// RotateKey registers newMaterial as a fresh key for the same provider,
// disables oldID with trigger manual and a context recording the
// replacement, and returns the new key. Adapted from original_source's
// examples/key_rotation_example.py workflow.
func (m *Manager) RotateKey(ctx context.Context, oldID, newMaterial string, metadata map[string]string) (*domain.APIKey, error) {
	old, err := m.getKey(oldID)
	if err != nil {
		return nil, err
	}
	newKey, err := m.RegisterKey(ctx, newMaterial, old.ProviderID, metadata)
	if err != nil {
		return nil, err
	}
	if err := m.Transition(ctx, oldID, domain.KeyDisabled, domain.TriggerManual, map[string]interface{}{
		"reason":      "rotation",
		"replaced_by": newKey.ID,
	}); err != nil {
		return nil, err
	}
	return newKey, nil
}

// ListKeys returns all registered keys for a provider (empty string = all).
func (m *Manager) ListKeys(providerID string) []*domain.APIKey {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if providerID == "" {
		out := make([]*domain.APIKey, 0, len(m.keys))
		for _, k := range m.keys {
			out = append(out, k)
		}
		return out
	}
	ids := m.byProvider[providerID]
	out := make([]*domain.APIKey, 0, len(ids))
	for _, id := range ids {
		if k, ok := m.keys[id]; ok {
			out = append(out, k)
		}
	}
	return out
}
