package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"content-batch/internal/domain/model"
	"content-batch/internal/domain/ports/repository"
	"content-batch/internal/infra/metrics"
	red "content-batch/internal/infra/redis"
)

var _ repository.JobRepository = (*jobRepoCacheDecorator)(nil)

// jobRepoCacheDecorator serves progress polling from Redis. Saves outside a
// transaction write through; saves inside one only invalidate, since the
// transaction may still roll back.
type jobRepoCacheDecorator struct {
	inner repository.JobRepository
	cache red.RedisClient
	ttl   time.Duration
}

func NewJobRepoCacheDecorator(inner repository.JobRepository, cache red.RedisClient, ttl time.Duration) repository.JobRepository {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &jobRepoCacheDecorator{inner: inner, cache: cache, ttl: ttl}
}

func jobKey(id string) string { return fmt.Sprintf("job:%s", id) }

func (d *jobRepoCacheDecorator) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Job, error) {
	if tx == nil {
		val, err := d.cache.Get(ctx, jobKey(id))
		if err == nil {
			var job model.Job
			if json.Unmarshal([]byte(val), &job) == nil {
				metrics.IncCacheRequest("job", "hit")
				return &job, nil
			}
		} else if err != redis.Nil {
			metrics.IncCacheRequest("job", "error")
		}
	}

	metrics.IncCacheRequest("job", "miss")
	job, err := d.inner.FindByID(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if tx == nil {
		d.store(ctx, job)
	}
	return job, nil
}

func (d *jobRepoCacheDecorator) Save(ctx context.Context, tx repository.Tx, job *model.Job) error {
	if tx != nil {
		_ = d.cache.Del(ctx, jobKey(job.ID))
		return d.inner.Save(ctx, tx, job)
	}
	if err := d.inner.Save(ctx, tx, job); err != nil {
		_ = d.cache.Del(ctx, jobKey(job.ID))
		return err
	}
	d.store(ctx, job)
	return nil
}

// ListByAccount is not cached.
func (d *jobRepoCacheDecorator) ListByAccount(ctx context.Context, tx repository.Tx, accountID string, limit int) ([]*model.Job, error) {
	return d.inner.ListByAccount(ctx, tx, accountID, limit)
}

func (d *jobRepoCacheDecorator) store(ctx context.Context, job *model.Job) {
	b, err := json.Marshal(job)
	if err != nil {
		return
	}
	if err := d.cache.Set(ctx, jobKey(job.ID), b, d.ttl); err != nil {
		// a stale entry is worse than none
		_ = d.cache.Del(ctx, jobKey(job.ID))
	}
}
