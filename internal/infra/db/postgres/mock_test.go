//go:build !integration

package postgres

import (
	"context"
	"time"

	"content-batch/internal/domain/model"
	"content-batch/internal/domain/ports/repository"
	red "content-batch/internal/infra/redis"
)

// mockInnerJobRepo mocks the database repository that the job decorator wraps.
type mockInnerJobRepo struct {
	SaveFunc          func(ctx context.Context, tx repository.Tx, job *model.Job) error
	FindByIDFunc      func(ctx context.Context, tx repository.Tx, id string) (*model.Job, error)
	ListByAccountFunc func(ctx context.Context, tx repository.Tx, accountID string, limit int) ([]*model.Job, error)
}

func (m *mockInnerJobRepo) Save(ctx context.Context, tx repository.Tx, job *model.Job) error {
	return m.SaveFunc(ctx, tx, job)
}
func (m *mockInnerJobRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Job, error) {
	return m.FindByIDFunc(ctx, tx, id)
}
func (m *mockInnerJobRepo) ListByAccount(ctx context.Context, tx repository.Tx, accountID string, limit int) ([]*model.Job, error) {
	return m.ListByAccountFunc(ctx, tx, accountID, limit)
}

// mockRedisClient mocks our Redis client wrapper.
type mockRedisClient struct {
	GetFunc   func(ctx context.Context, key string) (string, error)
	SetFunc   func(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	DelFunc   func(ctx context.Context, keys ...string) error
	PingFunc  func(ctx context.Context) error
	IncrFunc  func(ctx context.Context, key string, window time.Duration) (int64, error)
	CloseFunc func() error
}

var _ red.RedisClient = &mockRedisClient{}

func (m *mockRedisClient) Get(ctx context.Context, key string) (string, error) {
	return m.GetFunc(ctx, key)
}
func (m *mockRedisClient) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	return m.SetFunc(ctx, key, value, expiration)
}
func (m *mockRedisClient) Del(ctx context.Context, keys ...string) error {
	if m.DelFunc == nil {
		return nil
	}
	return m.DelFunc(ctx, keys...)
}
func (m *mockRedisClient) Ping(ctx context.Context) error { return m.PingFunc(ctx) }
func (m *mockRedisClient) IncrWindow(ctx context.Context, key string, window time.Duration) (int64, error) {
	return m.IncrFunc(ctx, key, window)
}
func (m *mockRedisClient) Close() error { return m.CloseFunc() }
