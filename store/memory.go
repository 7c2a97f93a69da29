// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package store

import (
	"context"
	"sort"
	"sync"

	"apikeyrouter/domain"
	apkerrors "apikeyrouter/errors"
)

// MemoryStore is an in-process StateStore with bounded audit collections.
// When a cap is exceeded, the oldest record is evicted and the eviction
// counter incremented, per spec.md §4.1 guarantee (3). The bounded-queue /
// single-writer-lock shape follows orchestrator/audit_logger.go's
// BatchWriter, simplified to pure in-memory slices since there is no
// external sink here.
type MemoryStore struct {
	mu sync.Mutex

	keys       map[string]*domain.APIKey
	keysByProv map[string][]string

	quotas map[string]*domain.QuotaState

	decisions   []*domain.RoutingDecision
	transitions []*domain.StateTransition

	maxDecisions   int
	maxTransitions int
	evictions      int64
}

// NewMemoryStore constructs a bounded in-memory store.
func NewMemoryStore(maxDecisions, maxTransitions int) *MemoryStore {
	if maxDecisions <= 0 {
		maxDecisions = 10_000
	}
	if maxTransitions <= 0 {
		maxTransitions = 10_000
	}
	return &MemoryStore{
		keys:           make(map[string]*domain.APIKey),
		keysByProv:     make(map[string][]string),
		quotas:         make(map[string]*domain.QuotaState),
		maxDecisions:   maxDecisions,
		maxTransitions: maxTransitions,
	}
}

func (s *MemoryStore) SaveKey(_ context.Context, key *domain.APIKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *key
	if _, exists := s.keys[key.ID]; !exists {
		s.keysByProv[key.ProviderID] = append(s.keysByProv[key.ProviderID], key.ID)
	}
	s.keys[key.ID] = &cp
	return nil
}

func (s *MemoryStore) GetKey(_ context.Context, id string) (*domain.APIKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k, ok := s.keys[id]
	if !ok {
		return nil, apkerrors.ErrKeyNotFound
	}
	cp := *k
	return &cp, nil
}

func (s *MemoryStore) ListKeys(_ context.Context, providerID string) ([]*domain.APIKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.APIKey
	if providerID == "" {
		for _, k := range s.keys {
			cp := *k
			out = append(out, &cp)
		}
		return out, nil
	}
	for _, id := range s.keysByProv[providerID] {
		if k, ok := s.keys[id]; ok {
			cp := *k
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *MemoryStore) SaveQuotaState(_ context.Context, q *domain.QuotaState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *q
	s.quotas[q.KeyID] = &cp
	return nil
}

func (s *MemoryStore) GetQuotaState(_ context.Context, keyID string) (*domain.QuotaState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	q, ok := s.quotas[keyID]
	if !ok {
		return nil, apkerrors.ErrKeyNotFound
	}
	cp := *q
	return &cp, nil
}

func (s *MemoryStore) SaveRoutingDecision(_ context.Context, d *domain.RoutingDecision) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.decisions = append(s.decisions, d)
	if len(s.decisions) > s.maxDecisions {
		evict := len(s.decisions) - s.maxDecisions
		s.decisions = s.decisions[evict:]
		s.evictions += int64(evict)
	}
	return nil
}

func (s *MemoryStore) SaveStateTransition(_ context.Context, t *domain.StateTransition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transitions = append(s.transitions, t)
	if len(s.transitions) > s.maxTransitions {
		evict := len(s.transitions) - s.maxTransitions
		s.transitions = s.transitions[evict:]
		s.evictions += int64(evict)
	}
	return nil
}

func (s *MemoryStore) QueryState(_ context.Context, q StateQuery) ([]*domain.RoutingDecision, []*domain.StateTransition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var decisions []*domain.RoutingDecision
	var transitions []*domain.StateTransition

	if q.EntityType == "" || q.EntityType == "decision" {
		for _, d := range s.decisions {
			if q.ProviderID != "" && d.SelectedProviderID != q.ProviderID {
				continue
			}
			if q.KeyID != "" && d.SelectedKeyID != q.KeyID {
				continue
			}
			if !q.Since.IsZero() && d.CreatedAt.Before(q.Since) {
				continue
			}
			if !q.Until.IsZero() && d.CreatedAt.After(q.Until) {
				continue
			}
			decisions = append(decisions, d)
		}
		sort.Slice(decisions, func(i, j int) bool { return decisions[i].CreatedAt.Before(decisions[j].CreatedAt) })
	}

	if q.EntityType == "" || q.EntityType == "transition" {
		for _, t := range s.transitions {
			if q.KeyID != "" && t.EntityID != q.KeyID {
				continue
			}
			if !q.Since.IsZero() && t.TransitionTimestamp.Before(q.Since) {
				continue
			}
			if !q.Until.IsZero() && t.TransitionTimestamp.After(q.Until) {
				continue
			}
			transitions = append(transitions, t)
		}
		sort.Slice(transitions, func(i, j int) bool {
			return transitions[i].TransitionTimestamp.Before(transitions[j].TransitionTimestamp)
		})
	}

	if q.Limit > 0 {
		if len(decisions) > q.Limit {
			decisions = decisions[len(decisions)-q.Limit:]
		}
		if len(transitions) > q.Limit {
			transitions = transitions[len(transitions)-q.Limit:]
		}
	}
	return decisions, transitions, nil
}

func (s *MemoryStore) EvictionCount() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.evictions
}

func (s *MemoryStore) Ping(_ context.Context) error { return nil }
func (s *MemoryStore) Close() error                 { return nil }
