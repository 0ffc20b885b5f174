package memory

import (
	"context"
	"sort"
	"time"

	"content-batch/internal/domain"
	"content-batch/internal/domain/model"
	"content-batch/internal/domain/ports/repository"
)

var (
	_ repository.QuotaAccountRepository = (*quotaAccountRepo)(nil)
	_ repository.LedgerRepository       = (*ledgerRepo)(nil)
)

type quotaAccountRepo struct{ s *Store }

func NewQuotaAccountRepo(s *Store) *quotaAccountRepo { return &quotaAccountRepo{s: s} }

func (r *quotaAccountRepo) Create(ctx context.Context, tx repository.Tx, acc *model.QuotaAccount) error {
	if acc == nil || acc.ID == "" {
		return domain.ErrInvalidArgument
	}
	unlock, err := r.s.lock(tx)
	if err != nil {
		return err
	}
	defer unlock()
	if _, ok := r.s.accounts[acc.ID]; ok {
		return domain.ErrAlreadyExists
	}
	cp := *acc
	r.s.accounts[acc.ID] = &cp
	return nil
}

func (r *quotaAccountRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.QuotaAccount, error) {
	unlock, err := r.s.lock(tx)
	if err != nil {
		return nil, err
	}
	defer unlock()
	a, ok := r.s.accounts[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *a
	return &cp, nil
}

// FindByIDForUpdate relies on the store lock held by WithTx.
func (r *quotaAccountRepo) FindByIDForUpdate(ctx context.Context, tx repository.Tx, id string) (*model.QuotaAccount, error) {
	if _, ok := tx.(*memTx); !ok {
		return nil, domain.ErrInvalidExecContext
	}
	return r.FindByID(ctx, tx, id)
}

func (r *quotaAccountRepo) UpdateBalances(ctx context.Context, tx repository.Tx, acc *model.QuotaAccount) error {
	unlock, err := r.s.lock(tx)
	if err != nil {
		return err
	}
	defer unlock()
	cur, ok := r.s.accounts[acc.ID]
	if !ok {
		return domain.ErrNotFound
	}
	cur.RecurringBalance = acc.RecurringBalance
	cur.ReserveBalance = acc.ReserveBalance
	cur.TotalConsumed = acc.TotalConsumed
	cur.TotalPurchased = acc.TotalPurchased
	cur.UpdatedAt = time.Now()
	return nil
}

type ledgerRepo struct{ s *Store }

func NewLedgerRepo(s *Store) *ledgerRepo { return &ledgerRepo{s: s} }

func (r *ledgerRepo) Append(ctx context.Context, tx repository.Tx, e *model.LedgerEntry) error {
	if e == nil || e.ID == "" || e.AccountID == "" {
		return domain.ErrInvalidArgument
	}
	unlock, err := r.s.lock(tx)
	if err != nil {
		return err
	}
	defer unlock()
	cp := *e
	r.s.entries[e.AccountID] = append(r.s.entries[e.AccountID], &cp)
	return nil
}

// ListByAccount returns newest entries first.
func (r *ledgerRepo) ListByAccount(ctx context.Context, tx repository.Tx, accountID string, limit int) ([]*model.LedgerEntry, error) {
	unlock, err := r.s.lock(tx)
	if err != nil {
		return nil, err
	}
	defer unlock()
	src := r.s.entries[accountID]
	out := make([]*model.LedgerEntry, 0, len(src))
	for _, e := range src {
		cp := *e
		out = append(out, &cp)
	}
	sort.SliceStable(out, func(a, b int) bool { return out[a].ID > out[b].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
