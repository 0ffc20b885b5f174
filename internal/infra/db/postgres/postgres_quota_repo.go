package postgres

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"content-batch/internal/domain"
	"content-batch/internal/domain/model"
	"content-batch/internal/domain/ports/repository"
)

var (
	_ repository.QuotaAccountRepository = (*quotaAccountRepo)(nil)
	_ repository.LedgerRepository       = (*ledgerRepo)(nil)
)

type quotaAccountRepo struct {
	pool *pgxpool.Pool
}

func NewQuotaAccountRepo(pool *pgxpool.Pool) *quotaAccountRepo {
	return &quotaAccountRepo{pool: pool}
}

const accountColumns = `id, recurring_balance, reserve_balance, total_consumed, total_purchased, unlimited, created_at, updated_at`

func (r *quotaAccountRepo) Create(ctx context.Context, tx repository.Tx, a *model.QuotaAccount) error {
	if a == nil || a.ID == "" {
		return domain.ErrInvalidArgument
	}
	const q = `INSERT INTO quota_accounts (` + accountColumns + `) VALUES ($1,$2,$3,$4,$5,$6,$7,$8);`
	_, err := execSQL(ctx, r.pool, tx, q, a.ID, a.RecurringBalance, a.ReserveBalance, a.TotalConsumed, a.TotalPurchased, a.Unlimited, a.CreatedAt, a.UpdatedAt)
	return mapErr(err)
}

func (r *quotaAccountRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.QuotaAccount, error) {
	const q = `SELECT ` + accountColumns + ` FROM quota_accounts WHERE id=$1;`
	row, err := pickRow(ctx, r.pool, tx, q, id)
	if err != nil {
		return nil, err
	}
	return scanAccount(row)
}

func (r *quotaAccountRepo) FindByIDForUpdate(ctx context.Context, tx repository.Tx, id string) (*model.QuotaAccount, error) {
	if _, ok := tx.(pgx.Tx); !ok {
		return nil, domain.ErrInvalidExecContext
	}
	const q = `SELECT ` + accountColumns + ` FROM quota_accounts WHERE id=$1 FOR UPDATE;`
	row, err := pickRow(ctx, r.pool, tx, q, id)
	if err != nil {
		return nil, err
	}
	return scanAccount(row)
}

// UpdateBalances is only called by the ledger inside its transaction.
// The CHECK constraints on the table reject negative balances as a last line.
func (r *quotaAccountRepo) UpdateBalances(ctx context.Context, tx repository.Tx, a *model.QuotaAccount) error {
	a.UpdatedAt = time.Now()
	const q = `
UPDATE quota_accounts
   SET recurring_balance=$2, reserve_balance=$3, total_consumed=$4, total_purchased=$5, updated_at=$6
 WHERE id=$1;`
	tag, err := execSQL(ctx, r.pool, tx, q, a.ID, a.RecurringBalance, a.ReserveBalance, a.TotalConsumed, a.TotalPurchased, a.UpdatedAt)
	if err != nil {
		return mapErr(err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func scanAccount(row pgx.Row) (*model.QuotaAccount, error) {
	var a model.QuotaAccount
	if err := row.Scan(&a.ID, &a.RecurringBalance, &a.ReserveBalance, &a.TotalConsumed, &a.TotalPurchased, &a.Unlimited, &a.CreatedAt, &a.UpdatedAt); err != nil {
		if err == pgx.ErrNoRows {
			return nil, domain.ErrNotFound
		}
		return nil, domain.ErrReadDatabaseRow
	}
	return &a, nil
}

type ledgerRepo struct {
	pool *pgxpool.Pool
}

func NewLedgerRepo(pool *pgxpool.Pool) *ledgerRepo {
	return &ledgerRepo{pool: pool}
}

func (r *ledgerRepo) Append(ctx context.Context, tx repository.Tx, e *model.LedgerEntry) error {
	if e == nil || e.ID == "" || e.AccountID == "" {
		return domain.ErrInvalidArgument
	}
	meta, err := json.Marshal(e.Metadata)
	if err != nil {
		return err
	}
	const q = `
INSERT INTO ledger_entries (id, account_id, amount, type, description, metadata, balance_after, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8);`
	_, err = execSQL(ctx, r.pool, tx, q, e.ID, e.AccountID, e.Amount, e.Type, e.Description, meta, e.BalanceAfter, e.CreatedAt)
	return mapErr(err)
}

func (r *ledgerRepo) ListByAccount(ctx context.Context, tx repository.Tx, accountID string, limit int) ([]*model.LedgerEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	const q = `
SELECT id, account_id, amount, type, description, metadata, balance_after, created_at
  FROM ledger_entries
 WHERE account_id=$1
 ORDER BY id DESC
 LIMIT $2;`
	rows, err := queryRows(ctx, r.pool, tx, q, accountID, limit)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()
	var out []*model.LedgerEntry
	for rows.Next() {
		var (
			e    model.LedgerEntry
			typ  string
			meta []byte
		)
		if err := rows.Scan(&e.ID, &e.AccountID, &e.Amount, &typ, &e.Description, &meta, &e.BalanceAfter, &e.CreatedAt); err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
		e.Type = model.EntryType(typ)
		if len(meta) > 0 {
			_ = json.Unmarshal(meta, &e.Metadata)
		}
		out = append(out, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.ErrReadDatabaseRow
	}
	return out, nil
}
