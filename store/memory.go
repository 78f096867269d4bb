// Package store provides purchase journal implementations.
package store

import (
	"context"
	"sort"
	"strings"
	"sync"

	clearsky "github.com/clearskynet/clearsky/go"
)

// MemoryStore is a process-local purchase journal
type MemoryStore struct {
	mu        sync.RWMutex
	purchases map[string]*clearsky.Purchase
}

// NewMemoryStore creates an empty MemoryStore
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		purchases: make(map[string]*clearsky.Purchase),
	}
}

func (s *MemoryStore) Save(_ context.Context, p *clearsky.Purchase) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.purchases[p.ID] = p.Clone()
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*clearsky.Purchase, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.purchases[id]
	if !ok {
		return nil, clearsky.ErrPurchaseNotFound
	}
	return p.Clone(), nil
}

func (s *MemoryStore) FindActive(_ context.Context, itemKey string) (*clearsky.Purchase, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest *clearsky.Purchase
	for _, p := range s.purchases {
		if p.State == clearsky.StateFailed || p.ItemKey() != itemKey {
			continue
		}
		if latest == nil || p.CreatedAt.After(latest.CreatedAt) {
			latest = p
		}
	}
	if latest == nil {
		return nil, nil
	}
	return latest.Clone(), nil
}

func (s *MemoryStore) ListPending(_ context.Context) ([]*clearsky.Purchase, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	pending := make([]*clearsky.Purchase, 0)
	for _, p := range s.purchases {
		if !p.State.IsTerminal() {
			pending = append(pending, p.Clone())
		}
	}
	sortByCreation(pending)
	return pending, nil
}

// List returns every purchase made by buyer, oldest first
func (s *MemoryStore) List(_ context.Context, buyer string) []*clearsky.Purchase {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*clearsky.Purchase, 0)
	for _, p := range s.purchases {
		if buyer == "" || strings.EqualFold(p.Buyer, buyer) {
			out = append(out, p.Clone())
		}
	}
	sortByCreation(out)
	return out
}

func sortByCreation(purchases []*clearsky.Purchase) {
	sort.Slice(purchases, func(i, j int) bool {
		return purchases[i].CreatedAt.Before(purchases[j].CreatedAt)
	})
}
