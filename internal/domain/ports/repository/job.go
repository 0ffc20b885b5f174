package repository

import (
	"context"

	"content-batch/internal/domain/model"
)

type JobRepository interface {
	// Save upserts the whole job row; readers only ever see complete rows.
	Save(ctx context.Context, tx Tx, job *model.Job) error
	FindByID(ctx context.Context, tx Tx, id string) (*model.Job, error)
	ListByAccount(ctx context.Context, tx Tx, accountID string, limit int) ([]*model.Job, error)
}
