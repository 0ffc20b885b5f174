// Package memory is an in-process implementation of the repository ports.
// It backs developer mode and unit tests.
package memory

import (
	"context"
	"sync"

	"github.com/jackc/pgx/v4"

	"content-batch/internal/domain"
	"content-batch/internal/domain/model"
	"content-batch/internal/domain/ports/repository"
)

// Store holds every table. A single mutex guards all of them; WithTx keeps
// it for the whole callback, which makes memory transactions serializable.
type Store struct {
	mu       sync.Mutex
	jobs     map[string]*model.Job
	items    map[string]*model.WorkItem
	accounts map[string]*model.QuotaAccount
	entries  map[string][]*model.LedgerEntry
}

func NewStore() *Store {
	return &Store{
		jobs:     map[string]*model.Job{},
		items:    map[string]*model.WorkItem{},
		accounts: map[string]*model.QuotaAccount{},
		entries:  map[string][]*model.LedgerEntry{},
	}
}

// memTx marks a call that already runs under the store mutex.
type memTx struct{ s *Store }

var _ repository.TransactionManager = (*TxManager)(nil)

type TxManager struct{ s *Store }

func NewTxManager(s *Store) *TxManager { return &TxManager{s: s} }

// WithTx runs fn while holding the store lock. Tables are snapshotted first
// and restored when fn returns an error, so a failed callback leaves no
// partial writes behind.
func (m *TxManager) WithTx(ctx context.Context, _ pgx.TxOptions, fn func(ctx context.Context, tx repository.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	snap := m.s.snapshot()
	if err := fn(ctx, &memTx{s: m.s}); err != nil {
		m.s.restore(snap)
		return err
	}
	return nil
}

type tables struct {
	jobs     map[string]*model.Job
	items    map[string]*model.WorkItem
	accounts map[string]*model.QuotaAccount
	entries  map[string][]*model.LedgerEntry
}

// snapshot deep-copies every table. Callers hold s.mu.
func (s *Store) snapshot() tables {
	t := tables{
		jobs:     make(map[string]*model.Job, len(s.jobs)),
		items:    make(map[string]*model.WorkItem, len(s.items)),
		accounts: make(map[string]*model.QuotaAccount, len(s.accounts)),
		entries:  make(map[string][]*model.LedgerEntry, len(s.entries)),
	}
	for k, v := range s.jobs {
		t.jobs[k] = v.Clone()
	}
	for k, v := range s.items {
		t.items[k] = cloneItem(v)
	}
	for k, v := range s.accounts {
		cp := *v
		t.accounts[k] = &cp
	}
	// entries are append-only; copying the slice headers is enough
	for k, v := range s.entries {
		t.entries[k] = append([]*model.LedgerEntry(nil), v...)
	}
	return t
}

func (s *Store) restore(t tables) {
	s.jobs, s.items, s.accounts, s.entries = t.jobs, t.items, t.accounts, t.entries
}

// lock acquires the store mutex unless tx shows it is already held.
func (s *Store) lock(tx repository.Tx) (func(), error) {
	switch v := tx.(type) {
	case nil:
		s.mu.Lock()
		return s.mu.Unlock, nil
	case *memTx:
		if v.s != s {
			return nil, domain.ErrInvalidExecContext
		}
		return func() {}, nil
	default:
		return nil, domain.ErrInvalidExecContext
	}
}
