package repository

import (
	"context"

	"content-batch/internal/domain/model"
)

type QuotaAccountRepository interface {
	Create(ctx context.Context, tx Tx, acc *model.QuotaAccount) error
	FindByID(ctx context.Context, tx Tx, id string) (*model.QuotaAccount, error)
	// FindByIDForUpdate locks the account row until tx ends.
	FindByIDForUpdate(ctx context.Context, tx Tx, id string) (*model.QuotaAccount, error)
	UpdateBalances(ctx context.Context, tx Tx, acc *model.QuotaAccount) error
}

// LedgerRepository is append-only: there is no update or delete.
type LedgerRepository interface {
	Append(ctx context.Context, tx Tx, e *model.LedgerEntry) error
	ListByAccount(ctx context.Context, tx Tx, accountID string, limit int) ([]*model.LedgerEntry, error)
}
