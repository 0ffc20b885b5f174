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

var _ repository.WorkItemRepository = (*workItemRepo)(nil)

type workItemRepo struct {
	pool *pgxpool.Pool
	tm   repository.TransactionManager
}

func NewWorkItemRepo(pool *pgxpool.Pool, tm repository.TransactionManager) *workItemRepo {
	return &workItemRepo{pool: pool, tm: tm}
}

const itemColumns = `id, job_id, account_id, spec, status, retry_count, last_error, priority, artifact_ref, checkpoint, created_at, updated_at`

func (r *workItemRepo) Save(ctx context.Context, tx repository.Tx, item *model.WorkItem) error {
	if item == nil || item.ID == "" {
		return domain.ErrInvalidArgument
	}
	spec, err := json.Marshal(item.Spec)
	if err != nil {
		return err
	}
	cp, err := json.Marshal(item.Checkpoint)
	if err != nil {
		return err
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now()
	}
	item.UpdatedAt = time.Now()

	const q = `
INSERT INTO work_items (` + itemColumns + `)
VALUES ($1, NULLIF($2,''), $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
ON CONFLICT (id) DO UPDATE SET
  job_id=EXCLUDED.job_id, spec=EXCLUDED.spec, status=EXCLUDED.status, retry_count=EXCLUDED.retry_count,
  last_error=EXCLUDED.last_error, priority=EXCLUDED.priority, artifact_ref=EXCLUDED.artifact_ref,
  checkpoint=EXCLUDED.checkpoint, updated_at=EXCLUDED.updated_at;`
	_, err = execSQL(ctx, r.pool, tx, q,
		item.ID, item.JobID, item.AccountID, spec, item.Status, item.RetryCount, item.LastError, item.Priority, item.ArtifactRef, cp, item.CreatedAt, item.UpdatedAt)
	return mapErr(err)
}

func (r *workItemRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.WorkItem, error) {
	q := `SELECT ` + itemColumns + ` FROM work_items WHERE id=$1`
	if _, ok := tx.(pgx.Tx); ok {
		q += " FOR UPDATE"
	}
	row, err := pickRow(ctx, r.pool, tx, q+";", id)
	if err != nil {
		return nil, err
	}
	return scanItem(row)
}

func (r *workItemRepo) FindByIDs(ctx context.Context, tx repository.Tx, ids []string) ([]*model.WorkItem, error) {
	const q = `SELECT ` + itemColumns + ` FROM work_items WHERE id = ANY($1);`
	out, err := r.list(ctx, tx, q, ids)
	if err != nil {
		return nil, err
	}
	if len(out) != len(ids) {
		return nil, domain.ErrNotFound
	}
	// keep caller order
	byID := make(map[string]*model.WorkItem, len(out))
	for _, w := range out {
		byID[w.ID] = w
	}
	ordered := make([]*model.WorkItem, 0, len(ids))
	for _, id := range ids {
		w, ok := byID[id]
		if !ok {
			return nil, domain.ErrNotFound
		}
		ordered = append(ordered, w)
	}
	return ordered, nil
}

func (r *workItemRepo) ListByJob(ctx context.Context, tx repository.Tx, jobID string) ([]*model.WorkItem, error) {
	const q = `SELECT ` + itemColumns + ` FROM work_items WHERE job_id=$1 ORDER BY created_at;`
	return r.list(ctx, tx, q, jobID)
}

// SelectEligible skips rows locked by a concurrent selector so two
// overlapping runs never pick the same item inside a transaction.
func (r *workItemRepo) SelectEligible(ctx context.Context, tx repository.Tx, scope model.ItemScope, limit int, order model.SortOrder) ([]*model.WorkItem, error) {
	if limit <= 0 {
		return nil, domain.ErrInvalidArgument
	}
	orderBy := "priority DESC, created_at ASC"
	if order == model.OrderCreatedAsc {
		orderBy = "created_at ASC"
	}
	q := `
SELECT ` + itemColumns + `
  FROM work_items
 WHERE status IN ('pending','failed')
   AND ($1 = '' OR account_id = $1)
   AND ($2 = '' OR job_id::text = $2)
   AND ($3 = '' OR spec->>'kind' = $3)
 ORDER BY ` + orderBy + `
 LIMIT $4`
	if _, ok := tx.(pgx.Tx); ok {
		q += " FOR UPDATE SKIP LOCKED"
	}
	return r.list(ctx, tx, q+";", scope.AccountID, scope.JobID, string(scope.Kind), limit)
}

// UpdateStatus locks the row, validates the transition in Go and writes the
// new state in the same transaction.
func (r *workItemRepo) UpdateStatus(ctx context.Context, tx repository.Tx, id string, status model.WorkItemStatus, u model.ItemUpdate) (*model.WorkItem, error) {
	var updated *model.WorkItem
	apply := func(ctx context.Context, tx repository.Tx) error {
		item, err := r.FindByID(ctx, tx, id)
		if err != nil {
			return err
		}
		if err := item.Apply(status, u); err != nil {
			return err
		}
		if err := r.Save(ctx, tx, item); err != nil {
			return err
		}
		updated = item
		return nil
	}
	if _, ok := tx.(pgx.Tx); ok {
		return updated, apply(ctx, tx)
	}
	if err := r.tm.WithTx(ctx, pgx.TxOptions{}, apply); err != nil {
		return nil, err
	}
	return updated, nil
}

func (r *workItemRepo) list(ctx context.Context, tx repository.Tx, q string, args ...interface{}) ([]*model.WorkItem, error) {
	rows, err := queryRows(ctx, r.pool, tx, q, args...)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()
	var out []*model.WorkItem
	for rows.Next() {
		w, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.ErrReadDatabaseRow
	}
	return out, nil
}

func scanItem(row pgx.Row) (*model.WorkItem, error) {
	var (
		w          model.WorkItem
		jobID      *string
		status     string
		spec, cpts []byte
	)
	err := row.Scan(&w.ID, &jobID, &w.AccountID, &spec, &status, &w.RetryCount, &w.LastError, &w.Priority, &w.ArtifactRef, &cpts, &w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, domain.ErrNotFound
		}
		return nil, domain.ErrReadDatabaseRow
	}
	if jobID != nil {
		w.JobID = *jobID
	}
	w.Status = model.WorkItemStatus(status)
	if err := json.Unmarshal(spec, &w.Spec); err != nil {
		return nil, domain.ErrReadDatabaseRow
	}
	if len(cpts) > 0 {
		if err := json.Unmarshal(cpts, &w.Checkpoint); err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
	}
	return &w, nil
}

func (r *workItemRepo) ResetFailed(ctx context.Context, tx repository.Tx, jobID string) ([]string, error) {
	const q = `
UPDATE work_items SET status='pending', updated_at=NOW()
 WHERE job_id=$1 AND status='failed'
 RETURNING id;`
	rows, err := queryRows(ctx, r.pool, tx, q, jobID)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.ErrReadDatabaseRow
	}
	return ids, nil
}
