//go:build integration

package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"content-batch/internal/domain"
	"content-batch/internal/domain/model"
)

func TestJobRepo(t *testing.T) {
	ctx := context.Background()
	repo := NewJobRepo(testPool)

	t.Run("should save and find a job with its error log", func(t *testing.T) {
		cleanup(t)
		job, _ := model.NewJob("01HJOBA", "acc-1", 10, 4, 2)
		if err := job.Start(); err != nil {
			t.Fatal(err)
		}
		job.RecordSuccess()
		job.RecordFailure("item-1", "timeout", time.Now())
		job.CompleteBatch(1, 30*time.Second)

		if err := repo.Save(ctx, nil, job); err != nil {
			t.Fatalf("Save failed: %v", err)
		}
		got, err := repo.FindByID(ctx, nil, job.ID)
		if err != nil {
			t.Fatalf("FindByID failed: %v", err)
		}
		if got.Status != model.JobStatusProcessing || got.CompletedItems != 1 || got.FailedItems != 1 {
			t.Errorf("unexpected counters: %+v", got)
		}
		if len(got.ErrorLog) != 1 || got.ErrorLog[0].ItemID != "item-1" {
			t.Errorf("error log not persisted: %+v", got.ErrorLog)
		}
		if got.StartedAt == nil || got.CompletedAt != nil {
			t.Error("timestamps not persisted correctly")
		}
	})

	t.Run("should overwrite the snapshot on a second save", func(t *testing.T) {
		cleanup(t)
		job, _ := model.NewJob("01HJOBB", "acc-1", 2, 2, 0)
		_ = repo.Save(ctx, nil, job)
		_ = job.Start()
		job.RecordSuccess()
		job.RecordSuccess()
		_ = job.Finish(model.JobStatusCompleted, "")
		if err := repo.Save(ctx, nil, job); err != nil {
			t.Fatalf("Save failed: %v", err)
		}
		got, _ := repo.FindByID(ctx, nil, job.ID)
		if got.Status != model.JobStatusCompleted || got.ProgressPercentage != 100 {
			t.Errorf("expected completed at 100%%, got %s at %d", got.Status, got.ProgressPercentage)
		}
	})

	t.Run("should return ErrNotFound for an unknown job", func(t *testing.T) {
		cleanup(t)
		_, err := repo.FindByID(ctx, nil, "missing")
		if !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})
}
