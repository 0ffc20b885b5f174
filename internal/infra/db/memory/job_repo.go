package memory

import (
	"context"
	"sort"

	"content-batch/internal/domain"
	"content-batch/internal/domain/model"
	"content-batch/internal/domain/ports/repository"
)

var _ repository.JobRepository = (*jobRepo)(nil)

type jobRepo struct{ s *Store }

func NewJobRepo(s *Store) *jobRepo { return &jobRepo{s: s} }

func (r *jobRepo) Save(ctx context.Context, tx repository.Tx, job *model.Job) error {
	if job == nil || job.ID == "" {
		return domain.ErrInvalidArgument
	}
	unlock, err := r.s.lock(tx)
	if err != nil {
		return err
	}
	defer unlock()
	r.s.jobs[job.ID] = job.Clone()
	return nil
}

func (r *jobRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Job, error) {
	unlock, err := r.s.lock(tx)
	if err != nil {
		return nil, err
	}
	defer unlock()
	j, ok := r.s.jobs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return j.Clone(), nil
}

func (r *jobRepo) ListByAccount(ctx context.Context, tx repository.Tx, accountID string, limit int) ([]*model.Job, error) {
	unlock, err := r.s.lock(tx)
	if err != nil {
		return nil, err
	}
	defer unlock()
	var out []*model.Job
	for _, j := range r.s.jobs {
		if accountID == "" || j.AccountID == accountID {
			out = append(out, j.Clone())
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].CreatedAt.After(out[b].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
