package usecase

import (
	"context"

	"content-batch/internal/domain/model"
)

// QuotaManager is what metering callers, such as the batch orchestrator,
// need from the ledger.
type QuotaManager interface {
	HasEnough(ctx context.Context, accountID string, amount int64) (bool, error)
	Debit(ctx context.Context, accountID string, amount int64, description string, meta model.EntryMetadata) (int64, error)
	// Credit is used by the orchestrator to refund a debit it could not settle.
	Credit(ctx context.Context, accountID string, amount int64, typ model.EntryType, description string) (int64, error)
}
