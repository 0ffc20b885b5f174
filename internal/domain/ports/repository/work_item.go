package repository

import (
	"context"

	"content-batch/internal/domain/model"
)

type WorkItemRepository interface {
	Save(ctx context.Context, tx Tx, item *model.WorkItem) error
	FindByID(ctx context.Context, tx Tx, id string) (*model.WorkItem, error)
	FindByIDs(ctx context.Context, tx Tx, ids []string) ([]*model.WorkItem, error)
	ListByJob(ctx context.Context, tx Tx, jobID string) ([]*model.WorkItem, error)

	// SelectEligible returns up to limit items in pending or failed status.
	// It never returns an item that is in_progress.
	SelectEligible(ctx context.Context, tx Tx, scope model.ItemScope, limit int, order model.SortOrder) ([]*model.WorkItem, error)

	// UpdateStatus atomically moves one item to status together with the
	// given fields. Illegal transitions return domain.ErrInvalidTransition.
	UpdateStatus(ctx context.Context, tx Tx, id string, status model.WorkItemStatus, u model.ItemUpdate) (*model.WorkItem, error)

	// ResetFailed moves every failed item of jobID back to pending and
	// returns their IDs. It is the only path from failed to pending.
	ResetFailed(ctx context.Context, tx Tx, jobID string) ([]string, error)
}
