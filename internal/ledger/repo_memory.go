package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore keeps accounts and entries in process memory. Per-account
// mutation is serialized with a per-account mutex held across the whole
// read-check-write sequence, mirroring the row lock the Postgres store takes.
// Used by tests and local development.
type MemoryStore struct {
	mu       sync.Mutex
	accounts map[string]*memAccount
	clock    func() time.Time
}

type memAccount struct {
	mu      sync.Mutex
	acct    Account
	entries []Entry
	byKey   map[string]int // entry kind + reference key -> index into entries
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts: make(map[string]*memAccount),
		clock:    time.Now,
	}
}

// SeedAccount installs or replaces an account. Entries are preserved.
func (s *MemoryStore) SeedAccount(a Account) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.accounts[a.ID]; ok {
		existing.mu.Lock()
		existing.acct = a
		existing.mu.Unlock()
		return
	}
	s.accounts[a.ID] = &memAccount{acct: a, byKey: make(map[string]int)}
}

func (s *MemoryStore) get(accountID string) (*memAccount, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.accounts[accountID]
	return m, ok
}

func (s *MemoryStore) GetAccount(ctx context.Context, accountID string) (Account, error) {
	_ = ctx
	m, ok := s.get(accountID)
	if !ok {
		return Account{}, ErrAccountNotFound
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.acct, nil
}

func (s *MemoryStore) ListEntries(ctx context.Context, accountID string) ([]Entry, error) {
	_ = ctx
	m, ok := s.get(accountID)
	if !ok {
		return nil, ErrAccountNotFound
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Entry, len(m.entries))
	copy(out, m.entries)
	return out, nil
}

func (s *MemoryStore) ListEntriesByReference(ctx context.Context, kind ReferenceKind, refID string) ([]Entry, error) {
	_ = ctx
	s.mu.Lock()
	all := make([]*memAccount, 0, len(s.accounts))
	for _, m := range s.accounts {
		all = append(all, m)
	}
	s.mu.Unlock()

	var out []Entry
	for _, m := range all {
		m.mu.Lock()
		for _, e := range m.entries {
			if e.Reference.Kind == kind && e.Reference.ID == refID {
				out = append(out, e)
			}
		}
		m.mu.Unlock()
	}
	return out, nil
}

func (s *MemoryStore) Post(ctx context.Context, accountID string, kind EntryKind, ref Reference, decide DecideFunc) (Entry, bool, error) {
	if err := ctx.Err(); err != nil {
		return Entry{}, false, err
	}
	m, ok := s.get(accountID)
	if !ok {
		return Entry{}, false, ErrAccountNotFound
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	key := string(kind) + "|" + ref.Key()
	if idx, ok := m.byKey[key]; ok {
		return m.entries[idx], true, nil
	}

	amount, err := decide(m.acct)
	if err != nil {
		return Entry{}, false, err
	}

	now := s.clock().UTC()
	entry := Entry{
		ID:            uuid.NewString(),
		AccountID:     accountID,
		Kind:          kind,
		Amount:        amount,
		BalanceBefore: m.acct.Balance,
		BalanceAfter:  m.acct.Balance.Add(amount),
		Reference:     ref,
		CreatedAt:     now,
	}

	m.acct.Balance = entry.BalanceAfter
	m.acct.UpdatedAt = now
	m.byKey[key] = len(m.entries)
	m.entries = append(m.entries, entry)
	return entry, false, nil
}
