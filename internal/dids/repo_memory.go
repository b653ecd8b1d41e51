package dids

import (
	"context"
	"sync"
	"time"
)

type Repository interface {
	Put(ctx context.Context, s Subscription) error
	Get(ctx context.Context, didNumber string) (Subscription, error)
	Update(ctx context.Context, didNumber string, fn func(s *Subscription) error) (Subscription, error)
	// ListDue returns active subscriptions whose paid-through boundary has
	// passed.
	ListDue(ctx context.Context, now time.Time) ([]Subscription, error)
	ListByAccount(ctx context.Context, accountID string) ([]Subscription, error)
}

type MemoryRepo struct {
	mu   sync.RWMutex
	subs map[string]Subscription
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{subs: make(map[string]Subscription)}
}

func (r *MemoryRepo) Put(ctx context.Context, s Subscription) error {
	if err := s.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subs[s.DIDNumber] = s
	return nil
}

func (r *MemoryRepo) Get(ctx context.Context, didNumber string) (Subscription, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.subs[didNumber]
	if !ok {
		return Subscription{}, ErrSubscriptionNotFound
	}
	return s, nil
}

func (r *MemoryRepo) Update(ctx context.Context, didNumber string, fn func(s *Subscription) error) (Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.subs[didNumber]
	if !ok {
		return Subscription{}, ErrSubscriptionNotFound
	}
	if err := fn(&s); err != nil {
		return Subscription{}, err
	}
	r.subs[didNumber] = s
	return s, nil
}

func (r *MemoryRepo) ListDue(ctx context.Context, now time.Time) ([]Subscription, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var due []Subscription
	for _, s := range r.subs {
		if s.Status == StatusAssigned && !s.ExpiresAt.After(now) {
			due = append(due, s)
		}
	}
	return due, nil
}

func (r *MemoryRepo) ListByAccount(ctx context.Context, accountID string) ([]Subscription, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Subscription
	for _, s := range r.subs {
		if s.AccountID == accountID {
			out = append(out, s)
		}
	}
	return out, nil
}
