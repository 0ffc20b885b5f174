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

var _ repository.JobRepository = (*jobRepo)(nil)

type jobRepo struct {
	pool *pgxpool.Pool
}

func NewJobRepo(pool *pgxpool.Pool) *jobRepo {
	return &jobRepo{pool: pool}
}

const jobColumns = `id, account_id, status, total_items, completed_items, failed_items, current_batch, total_batches,
  batch_size, progress_percentage, eta_minutes, error_log, error_log_cap, last_error, created_at, started_at, completed_at, updated_at`

// Save writes the full row in one statement so readers never observe a torn snapshot.
func (r *jobRepo) Save(ctx context.Context, tx repository.Tx, job *model.Job) error {
	if job == nil || job.ID == "" {
		return domain.ErrInvalidArgument
	}
	errLog, err := json.Marshal(job.ErrorLog)
	if err != nil {
		return err
	}
	job.UpdatedAt = time.Now()

	const q = `
INSERT INTO jobs (` + jobColumns + `)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)
ON CONFLICT (id) DO UPDATE SET
  status=EXCLUDED.status, completed_items=EXCLUDED.completed_items, failed_items=EXCLUDED.failed_items,
  current_batch=EXCLUDED.current_batch, progress_percentage=EXCLUDED.progress_percentage,
  eta_minutes=EXCLUDED.eta_minutes, error_log=EXCLUDED.error_log, last_error=EXCLUDED.last_error,
  started_at=EXCLUDED.started_at, completed_at=EXCLUDED.completed_at, updated_at=EXCLUDED.updated_at;`

	_, err = execSQL(ctx, r.pool, tx, q,
		job.ID, job.AccountID, job.Status, job.TotalItems, job.CompletedItems, job.FailedItems, job.CurrentBatch, job.TotalBatches,
		job.BatchSize, job.ProgressPercentage, job.EtaMinutes, errLog, job.ErrorLogCap, job.LastError, job.CreatedAt, job.StartedAt, job.CompletedAt, job.UpdatedAt)
	return mapErr(err)
}

func (r *jobRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Job, error) {
	const q = `SELECT ` + jobColumns + ` FROM jobs WHERE id=$1;`
	row, err := pickRow(ctx, r.pool, tx, q, id)
	if err != nil {
		return nil, err
	}
	return scanJob(row)
}

func (r *jobRepo) ListByAccount(ctx context.Context, tx repository.Tx, accountID string, limit int) ([]*model.Job, error) {
	if limit <= 0 {
		limit = 50
	}
	const q = `SELECT ` + jobColumns + ` FROM jobs WHERE ($1 = '' OR account_id=$1) ORDER BY created_at DESC LIMIT $2;`
	rows, err := queryRows(ctx, r.pool, tx, q, accountID, limit)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()
	var out []*model.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.ErrReadDatabaseRow
	}
	return out, nil
}

func scanJob(row pgx.Row) (*model.Job, error) {
	var (
		j      model.Job
		status string
		errLog []byte
	)
	err := row.Scan(&j.ID, &j.AccountID, &status, &j.TotalItems, &j.CompletedItems, &j.FailedItems, &j.CurrentBatch, &j.TotalBatches,
		&j.BatchSize, &j.ProgressPercentage, &j.EtaMinutes, &errLog, &j.ErrorLogCap, &j.LastError, &j.CreatedAt, &j.StartedAt, &j.CompletedAt, &j.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, domain.ErrNotFound
		}
		return nil, domain.ErrReadDatabaseRow
	}
	j.Status = model.JobStatus(status)
	if len(errLog) > 0 {
		if err := json.Unmarshal(errLog, &j.ErrorLog); err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
	}
	return &j, nil
}
