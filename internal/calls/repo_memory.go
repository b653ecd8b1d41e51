package calls

import (
	"context"
	"errors"
	"sync"
)

var ErrSessionNotFound = errors.New("calls: session not found")

// Repository abstracts call session persistence.
type Repository interface {
	Put(ctx context.Context, s Session) error
	Get(ctx context.Context, callID string) (Session, error)
	// Update applies fn to the stored session under the repository's lock.
	Update(ctx context.Context, callID string, fn func(s *Session) error) (Session, error)
}

// MemoryRepo is an in-memory session store for tests and local development.
type MemoryRepo struct {
	mu       sync.Mutex
	sessions map[string]Session
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{sessions: make(map[string]Session)}
}

func (r *MemoryRepo) Put(ctx context.Context, s Session) error {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[s.CallID] = s
	return nil
}

func (r *MemoryRepo) Get(ctx context.Context, callID string) (Session, error) {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[callID]
	if !ok {
		return Session{}, ErrSessionNotFound
	}
	return s, nil
}

func (r *MemoryRepo) Update(ctx context.Context, callID string, fn func(s *Session) error) (Session, error) {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[callID]
	if !ok {
		return Session{}, ErrSessionNotFound
	}
	if err := fn(&s); err != nil {
		return Session{}, err
	}
	r.sessions[callID] = s
	return s, nil
}
