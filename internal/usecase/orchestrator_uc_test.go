//go:build !integration

package usecase_test

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"content-batch/internal/domain"
	"content-batch/internal/domain/model"
	"content-batch/internal/domain/ports/adapter"
	"content-batch/internal/usecase"
)

func TestOrchestrator_StartJob(t *testing.T) {
	ctx := context.Background()

	t.Run("47 items in batches of 20 should run three batches and complete", func(t *testing.T) {
		env := newTestEnv()
		_, _ = env.ledger.OpenAccount(ctx, "acc-1", 100, 0, false)
		uc := env.orchestrator()

		job, err := uc.StartJob(ctx, usecase.StartJobRequest{AccountID: "acc-1", Specs: articleSpecs(47), BatchSize: 20})
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if job.TotalBatches != 3 || job.Status != model.JobStatusQueued {
			t.Fatalf("unexpected job at start: %+v", job)
		}
		uc.Wait()

		snap, err := uc.GetJobStatus(ctx, job.ID)
		if err != nil {
			t.Fatal(err)
		}
		if snap.Status != model.JobStatusCompleted || snap.CompletedItems != 47 || snap.FailedItems != 0 {
			t.Errorf("unexpected final snapshot %+v", snap)
		}
		if snap.ProgressPercentage != 100 || snap.CurrentBatch != 3 || snap.EtaMinutes != 0 {
			t.Errorf("unexpected progress fields %+v", snap)
		}
		if snap.StartedAt == nil || snap.CompletedAt == nil {
			t.Error("expected StartedAt and CompletedAt to be set")
		}
		bal, _ := env.ledger.GetBalance(ctx, "acc-1")
		if bal.Total != 100-47 {
			t.Errorf("expected 47 credits debited, balance is %d", bal.Total)
		}
		items, _ := uc.ListItems(ctx, job.ID)
		for _, w := range items {
			if w.Status != model.WorkItemDone || w.ArtifactRef == "" {
				t.Fatalf("item not done with an artifact: %+v", w)
			}
		}
	})

	t.Run("failing items should be isolated and recorded", func(t *testing.T) {
		env := newTestEnv()
		_, _ = env.ledger.OpenAccount(ctx, "acc-1", 100, 0, false)
		env.gen.GenerateFunc = func(ctx context.Context, req adapter.GenerationRequest) (*model.Artifact, error) {
			if req.Spec.Topic == "topic-4" || req.Spec.Topic == "topic-7" {
				return nil, errors.New("backend exploded")
			}
			return &model.Artifact{Kind: req.Spec.Kind, Body: "ok"}, nil
		}
		uc := env.orchestrator()

		job, err := uc.StartJob(ctx, usecase.StartJobRequest{AccountID: "acc-1", Specs: articleSpecs(10), BatchSize: 3})
		if err != nil {
			t.Fatal(err)
		}
		uc.Wait()

		snap, _ := uc.GetJobStatus(ctx, job.ID)
		if snap.Status != model.JobStatusCompleted || snap.CompletedItems != 8 || snap.FailedItems != 2 {
			t.Errorf("expected completed 8/2, got %s %d/%d", snap.Status, snap.CompletedItems, snap.FailedItems)
		}
		if len(snap.ErrorLog) != 2 {
			t.Fatalf("expected 2 error log entries, got %d", len(snap.ErrorLog))
		}
		for _, e := range snap.ErrorLog {
			if !strings.Contains(e.Message, "backend exploded") || e.ItemID == "" {
				t.Errorf("unexpected error entry %+v", e)
			}
		}
		bal, _ := env.ledger.GetBalance(ctx, "acc-1")
		if bal.Total != 92 {
			t.Errorf("failed items must not be charged, balance is %d", bal.Total)
		}
		items, _ := uc.ListItems(ctx, job.ID)
		var failed int
		for _, w := range items {
			if w.Status == model.WorkItemFailed {
				failed++
				if w.RetryCount != 1 || w.LastError == "" {
					t.Errorf("failed item not annotated: %+v", w)
				}
			}
		}
		if failed != 2 {
			t.Errorf("expected 2 failed items, got %d", failed)
		}
	})

	t.Run("a job where every item failed should follow the configured outcome", func(t *testing.T) {
		for _, failWhenAll := range []bool{false, true} {
			env := newTestEnv()
			env.cfg.FailWhenAllFail = failWhenAll
			_, _ = env.ledger.OpenAccount(ctx, "acc-1", 100, 0, false)
			env.gen.GenerateFunc = func(ctx context.Context, req adapter.GenerationRequest) (*model.Artifact, error) {
				return nil, errors.New("nope")
			}
			uc := env.orchestrator()
			job, _ := uc.StartJob(ctx, usecase.StartJobRequest{AccountID: "acc-1", Specs: articleSpecs(3)})
			uc.Wait()

			snap, _ := uc.GetJobStatus(ctx, job.ID)
			want := model.JobStatusCompleted
			if failWhenAll {
				want = model.JobStatusFailed
			}
			if snap.Status != want {
				t.Errorf("fail_when_all=%v: expected %s, got %s", failWhenAll, want, snap.Status)
			}
		}
	})

	t.Run("should reject a job the account cannot pay for", func(t *testing.T) {
		env := newTestEnv()
		_, _ = env.ledger.OpenAccount(ctx, "acc-1", 2, 0, false)
		uc := env.orchestrator()

		_, err := uc.StartJob(ctx, usecase.StartJobRequest{AccountID: "acc-1", Specs: articleSpecs(3)})
		if !errors.Is(err, domain.ErrInsufficientBalance) {
			t.Fatalf("expected ErrInsufficientBalance, got %v", err)
		}
		if len(env.jobs.Snapshots()) != 0 {
			t.Error("no job should be created")
		}
	})

	t.Run("should validate the request", func(t *testing.T) {
		env := newTestEnv()
		_, _ = env.ledger.OpenAccount(ctx, "acc-1", 100, 0, false)
		uc := env.orchestrator()

		cases := []usecase.StartJobRequest{
			{AccountID: "acc-1"},
			{Specs: articleSpecs(1)},
			{AccountID: "acc-1", Specs: articleSpecs(1), BatchSize: -1},
			{AccountID: "acc-1", Specs: articleSpecs(1), BatchSize: 101},
			{AccountID: "acc-1", Specs: []model.ContentSpec{{Kind: "poem", Topic: "x"}}},
		}
		for _, req := range cases {
			if _, err := uc.StartJob(ctx, req); !errors.Is(err, domain.ErrInvalidArgument) {
				t.Errorf("request %+v: expected ErrInvalidArgument, got %v", req, err)
			}
		}
	})

	t.Run("persisted snapshots should never go backwards", func(t *testing.T) {
		env := newTestEnv()
		_, _ = env.ledger.OpenAccount(ctx, "acc-1", 1000, 0, false)
		env.gen.GenerateFunc = func(ctx context.Context, req adapter.GenerationRequest) (*model.Artifact, error) {
			if strings.HasSuffix(req.Spec.Topic, "3") {
				return nil, errors.New("flaky")
			}
			return &model.Artifact{Kind: req.Spec.Kind}, nil
		}
		uc := env.orchestrator()
		job, _ := uc.StartJob(ctx, usecase.StartJobRequest{AccountID: "acc-1", Specs: articleSpecs(60), BatchSize: 7})
		uc.Wait()

		prevProcessed, prevBatch := -1, -1
		for _, s := range env.jobs.Snapshots() {
			if s.ID != job.ID {
				continue
			}
			processed := s.CompletedItems + s.FailedItems
			if processed > s.TotalItems {
				t.Fatalf("counts exceed total: %+v", s)
			}
			if s.ProgressPercentage != model.Progress(s.CompletedItems, s.FailedItems, s.TotalItems) {
				t.Fatalf("progress not derived from counts: %+v", s)
			}
			if processed < prevProcessed || s.CurrentBatch < prevBatch {
				t.Fatalf("snapshot went backwards: processed %d->%d batch %d->%d", prevProcessed, processed, prevBatch, s.CurrentBatch)
			}
			prevProcessed, prevBatch = processed, s.CurrentBatch
		}
		if prevProcessed != 60 {
			t.Errorf("expected 60 processed at the end, got %d", prevProcessed)
		}
	})

	t.Run("a job record that cannot be written should fail the job", func(t *testing.T) {
		env := newTestEnv()
		_, _ = env.ledger.OpenAccount(ctx, "acc-1", 100, 0, false)
		env.jobs.FailAfter = 3
		uc := env.orchestrator()

		job, err := uc.StartJob(ctx, usecase.StartJobRequest{AccountID: "acc-1", Specs: articleSpecs(10), BatchSize: 1})
		if err != nil {
			t.Fatal(err)
		}
		uc.Wait()

		// the failing store keeps the last good snapshot, which is not terminal
		snap, _ := uc.GetJobStatus(ctx, job.ID)
		if snap.Status.Terminal() || snap.CompletedItems+snap.FailedItems >= 10 {
			t.Errorf("expected the run to stop early, got %+v", snap)
		}
		if env.gen.TotalCalls() >= 10 {
			t.Errorf("no further batches should run after a persistence error, got %d calls", env.gen.TotalCalls())
		}
	})
}

func TestOrchestrator_Enumeration(t *testing.T) {
	ctx := context.Background()

	t.Run("an item that is no longer eligible should fail the job from queued", func(t *testing.T) {
		env := newTestEnv()
		_, _ = env.ledger.OpenAccount(ctx, "acc-1", 100, 0, false)
		uc := env.orchestrator()
		items, _ := uc.EnqueueItems(ctx, "acc-1", articleSpecs(2), 0)
		done := items[1]
		_, _ = env.items.UpdateStatus(ctx, nil, done.ID, model.WorkItemInProgress, model.ItemUpdate{})

		job, err := uc.StartJob(ctx, usecase.StartJobRequest{AccountID: "acc-1", ItemIDs: []string{items[0].ID, done.ID}})
		if err != nil {
			t.Fatal(err)
		}
		uc.Wait()

		snap, _ := uc.GetJobStatus(ctx, job.ID)
		if snap.Status != model.JobStatusFailed || snap.StartedAt != nil {
			t.Errorf("expected queued->failed, got %s (started %v)", snap.Status, snap.StartedAt)
		}
		if !strings.Contains(snap.LastError, "enumerate") {
			t.Errorf("expected an enumeration reason, got %q", snap.LastError)
		}
		if env.gen.TotalCalls() != 0 {
			t.Error("no item should be generated")
		}
	})

	t.Run("StartFromBacklog should pick eligible items by priority", func(t *testing.T) {
		env := newTestEnv()
		_, _ = env.ledger.OpenAccount(ctx, "acc-1", 100, 0, false)
		uc := env.orchestrator()
		low, _ := uc.EnqueueItems(ctx, "acc-1", articleSpecs(3), 1)
		high, _ := uc.EnqueueItems(ctx, "acc-1", articleSpecs(2), 9)

		job, err := uc.StartFromBacklog(ctx, usecase.BacklogRequest{AccountID: "acc-1", Limit: 2})
		if err != nil {
			t.Fatal(err)
		}
		uc.Wait()

		for _, w := range high {
			if env.gen.Calls(w.ID) != 1 {
				t.Errorf("high priority item %s was not processed", w.ID)
			}
		}
		for _, w := range low {
			if env.gen.Calls(w.ID) != 0 {
				t.Errorf("low priority item %s should wait for the next sweep", w.ID)
			}
		}
		snap, _ := uc.GetJobStatus(ctx, job.ID)
		if snap.CompletedItems != 2 {
			t.Errorf("expected 2 completed, got %d", snap.CompletedItems)
		}
	})

	t.Run("StartFromBacklog with nothing eligible should return ErrNotFound", func(t *testing.T) {
		env := newTestEnv()
		_, _ = env.ledger.OpenAccount(ctx, "acc-1", 100, 0, false)
		if _, err := env.orchestrator().StartFromBacklog(ctx, usecase.BacklogRequest{AccountID: "acc-1"}); !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})
}

func TestOrchestrator_Retry(t *testing.T) {
	ctx := context.Background()

	t.Run("retrying should only rerun failed items and never double count", func(t *testing.T) {
		env := newTestEnv()
		_, _ = env.ledger.OpenAccount(ctx, "acc-1", 100, 0, false)
		var broken atomic.Bool
		broken.Store(true)
		env.gen.GenerateFunc = func(ctx context.Context, req adapter.GenerationRequest) (*model.Artifact, error) {
			if broken.Load() && (req.Spec.Topic == "topic-4" || req.Spec.Topic == "topic-7") {
				return nil, errors.New("timeout")
			}
			return &model.Artifact{Kind: req.Spec.Kind}, nil
		}
		uc := env.orchestrator()
		first, _ := uc.StartJob(ctx, usecase.StartJobRequest{AccountID: "acc-1", Specs: articleSpecs(10), BatchSize: 5})
		uc.Wait()

		broken.Store(false)
		second, err := uc.RetryFailed(ctx, first.ID)
		if err != nil {
			t.Fatalf("RetryFailed: %v", err)
		}
		if second.TotalItems != 2 {
			t.Fatalf("expected a retry job over 2 items, got %d", second.TotalItems)
		}
		uc.Wait()

		snap, _ := uc.GetJobStatus(ctx, second.ID)
		if snap.Status != model.JobStatusCompleted || snap.CompletedItems != 2 {
			t.Errorf("unexpected retry snapshot %+v", snap)
		}
		if env.gen.TotalCalls() != 12 {
			t.Errorf("expected 12 generator calls (10 + 2 retries), got %d", env.gen.TotalCalls())
		}
		bal, _ := env.ledger.GetBalance(ctx, "acc-1")
		if bal.Total != 90 {
			t.Errorf("expected exactly 10 debits, balance is %d", bal.Total)
		}

		if _, err := uc.RetryFailed(ctx, second.ID); !errors.Is(err, domain.ErrInvalidArgument) {
			t.Errorf("a retry with nothing left should fail with ErrInvalidArgument, got %v", err)
		}
	})

	t.Run("a retry should resume the pipeline after the last checkpoint", func(t *testing.T) {
		env := newTestEnv()
		_, _ = env.ledger.OpenAccount(ctx, "acc-1", 100, 0, false)
		var seen []model.PipelineStage
		env.gen.GenerateFunc = func(ctx context.Context, req adapter.GenerationRequest) (*model.Artifact, error) {
			seen = append(seen, req.Checkpoint.Stage)
			if req.Checkpoint.Stage == "" {
				_ = req.OnCheckpoint(ctx, model.Checkpoint{Stage: model.StageScript, Outputs: map[string]string{"script": "draft"}})
				return nil, errors.New("asset stage failed")
			}
			return &model.Artifact{Kind: req.Spec.Kind, Body: req.Checkpoint.Outputs["script"]}, nil
		}
		uc := env.orchestrator()
		first, _ := uc.StartJob(ctx, usecase.StartJobRequest{AccountID: "acc-1", Specs: articleSpecs(1)})
		uc.Wait()
		if _, err := uc.RetryFailed(ctx, first.ID); err != nil {
			t.Fatal(err)
		}
		uc.Wait()

		if len(seen) != 2 || seen[1] != model.StageScript {
			t.Errorf("expected the retry to start from the script checkpoint, got %v", seen)
		}
	})

	t.Run("retrying a running job should be refused", func(t *testing.T) {
		env := newTestEnv()
		_, _ = env.ledger.OpenAccount(ctx, "acc-1", 100, 0, false)
		release := make(chan struct{})
		env.gen.GenerateFunc = func(ctx context.Context, req adapter.GenerationRequest) (*model.Artifact, error) {
			<-release
			return &model.Artifact{}, nil
		}
		uc := env.orchestrator()
		job, _ := uc.StartJob(ctx, usecase.StartJobRequest{AccountID: "acc-1", Specs: articleSpecs(1)})

		_, err := uc.RetryFailed(ctx, job.ID)
		close(release)
		uc.Wait()
		if !errors.Is(err, domain.ErrInvalidTransition) {
			t.Errorf("expected ErrInvalidTransition, got %v", err)
		}
	})
}

func TestOrchestrator_Cancel(t *testing.T) {
	ctx := context.Background()

	t.Run("cancel should stop at the next boundary and leave unstarted items pending", func(t *testing.T) {
		env := newTestEnv()
		_, _ = env.ledger.OpenAccount(ctx, "acc-1", 100, 0, false)
		started := make(chan struct{}, 10)
		release := make(chan struct{})
		env.gen.GenerateFunc = func(ctx context.Context, req adapter.GenerationRequest) (*model.Artifact, error) {
			started <- struct{}{}
			<-release
			return &model.Artifact{Kind: req.Spec.Kind}, nil
		}
		uc := env.orchestrator()
		job, _ := uc.StartJob(ctx, usecase.StartJobRequest{AccountID: "acc-1", Specs: articleSpecs(6), BatchSize: 2})

		<-started
		<-started
		if err := uc.CancelJob(ctx, job.ID); err != nil {
			t.Fatalf("CancelJob: %v", err)
		}
		close(release)
		uc.Wait()

		snap, _ := uc.GetJobStatus(ctx, job.ID)
		if snap.Status != model.JobStatusCancelled {
			t.Fatalf("expected cancelled, got %s", snap.Status)
		}
		if snap.CompletedItems != 2 {
			t.Errorf("in-flight items should finish, got %d completed", snap.CompletedItems)
		}
		items, _ := uc.ListItems(ctx, job.ID)
		var pending int
		for _, w := range items {
			if w.Status == model.WorkItemPending {
				pending++
			}
			if w.Status == model.WorkItemInProgress {
				t.Errorf("item %s left in progress", w.ID)
			}
		}
		if pending != 4 {
			t.Errorf("expected 4 pending items, got %d", pending)
		}

		if err := uc.CancelJob(ctx, job.ID); !errors.Is(err, domain.ErrJobTerminal) {
			t.Errorf("cancelling a finished job: expected ErrJobTerminal, got %v", err)
		}
	})

	t.Run("shutdown should cancel running jobs and wait for them", func(t *testing.T) {
		env := newTestEnv()
		env.cfg.InterBatchDelay = time.Hour
		_, _ = env.ledger.OpenAccount(ctx, "acc-1", 100, 0, false)
		uc := env.orchestrator()
		job, _ := uc.StartJob(ctx, usecase.StartJobRequest{AccountID: "acc-1", Specs: articleSpecs(4), BatchSize: 1})

		deadline := time.Now().Add(2 * time.Second)
		for {
			snap, _ := uc.GetJobStatus(ctx, job.ID)
			if snap.CurrentBatch >= 1 || time.Now().After(deadline) {
				break
			}
			time.Sleep(5 * time.Millisecond)
		}

		sctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if err := uc.Shutdown(sctx); err != nil {
			t.Fatalf("Shutdown: %v", err)
		}
		snap, _ := uc.GetJobStatus(ctx, job.ID)
		if snap.Status != model.JobStatusCancelled {
			t.Errorf("expected cancelled after shutdown, got %s", snap.Status)
		}
		if _, err := uc.StartJob(ctx, usecase.StartJobRequest{AccountID: "acc-1", Specs: articleSpecs(1)}); err == nil {
			t.Error("StartJob after shutdown should fail")
		}
	})
}

func TestOrchestrator_ItemFailures(t *testing.T) {
	ctx := context.Background()

	t.Run("a generator call past the timeout should fail only its item", func(t *testing.T) {
		env := newTestEnv()
		env.cfg.CallTimeout = 50 * time.Millisecond
		_, _ = env.ledger.OpenAccount(ctx, "acc-1", 100, 0, false)
		env.gen.GenerateFunc = func(ctx context.Context, req adapter.GenerationRequest) (*model.Artifact, error) {
			if req.Spec.Topic == "topic-1" {
				<-ctx.Done()
				return nil, ctx.Err()
			}
			return &model.Artifact{Kind: req.Spec.Kind}, nil
		}
		uc := env.orchestrator()
		job, _ := uc.StartJob(ctx, usecase.StartJobRequest{AccountID: "acc-1", Specs: articleSpecs(2)})
		uc.Wait()

		snap, _ := uc.GetJobStatus(ctx, job.ID)
		if snap.Status != model.JobStatusCompleted || snap.CompletedItems != 1 || snap.FailedItems != 1 {
			t.Fatalf("unexpected snapshot %+v", snap)
		}
		if len(snap.ErrorLog) != 1 || !strings.Contains(snap.ErrorLog[0].Message, "deadline exceeded") {
			t.Errorf("expected a timeout in the error log, got %+v", snap.ErrorLog)
		}
		items, _ := uc.ListItems(ctx, job.ID)
		for _, w := range items {
			if w.Spec.Topic != "topic-1" {
				continue
			}
			if w.Status != model.WorkItemFailed || w.RetryCount != 1 {
				t.Errorf("timed out item should be failed with one retry, got %s/%d", w.Status, w.RetryCount)
			}
		}
		bal, _ := env.ledger.GetBalance(ctx, "acc-1")
		if bal.Total != 99 {
			t.Errorf("only the finished item should be charged, balance is %d", bal.Total)
		}
	})

	t.Run("an item that cannot be marked done should fail the job and refund its charge", func(t *testing.T) {
		env := newTestEnv()
		_, _ = env.ledger.OpenAccount(ctx, "acc-1", 100, 0, false)
		flaky := &flakyItemRepo{WorkItemRepository: env.items}
		flaky.breakStatus(model.WorkItemDone, true)
		env.items = flaky
		uc := env.orchestrator()

		job, _ := uc.StartJob(ctx, usecase.StartJobRequest{AccountID: "acc-1", Specs: articleSpecs(4), BatchSize: 2})
		uc.Wait()

		snap, _ := uc.GetJobStatus(ctx, job.ID)
		if snap.Status != model.JobStatusFailed || snap.CompletedItems != 0 || snap.FailedItems != 2 {
			t.Fatalf("expected the job to stop failed after the first batch, got %+v", snap)
		}
		if env.gen.TotalCalls() != 2 {
			t.Errorf("no batch should run after the failure, got %d generator calls", env.gen.TotalCalls())
		}
		bal, _ := env.ledger.GetBalance(ctx, "acc-1")
		if bal.Total != 100 {
			t.Errorf("charges for unrecorded items should be refunded, balance is %d", bal.Total)
		}
		hist, _ := env.ledger.GetHistory(ctx, "acc-1", 10)
		refunds := 0
		for _, e := range hist {
			if e.Type == model.EntryRefund {
				refunds++
			}
		}
		if refunds != 2 {
			t.Errorf("expected 2 refund entries, got %d", refunds)
		}
		items, _ := uc.ListItems(ctx, job.ID)
		for _, w := range items {
			if w.Status == model.WorkItemInProgress {
				t.Fatalf("item %s left in progress", w.ID)
			}
		}

		flaky.breakStatus(model.WorkItemDone, false)
		retry, err := uc.RetryFailed(ctx, job.ID)
		if err != nil {
			t.Fatalf("RetryFailed: %v", err)
		}
		uc.Wait()
		snap, _ = uc.GetJobStatus(ctx, retry.ID)
		if snap.Status != model.JobStatusCompleted || snap.CompletedItems != 4 {
			t.Errorf("retry should finish every item, got %+v", snap)
		}
		bal, _ = env.ledger.GetBalance(ctx, "acc-1")
		if bal.Total != 96 {
			t.Errorf("expected exactly 4 net charges, balance is %d", bal.Total)
		}
	})

	t.Run("an item that cannot be claimed should fail the job without charging", func(t *testing.T) {
		env := newTestEnv()
		_, _ = env.ledger.OpenAccount(ctx, "acc-1", 100, 0, false)
		flaky := &flakyItemRepo{WorkItemRepository: env.items}
		flaky.breakStatus(model.WorkItemInProgress, true)
		env.items = flaky
		uc := env.orchestrator()

		job, _ := uc.StartJob(ctx, usecase.StartJobRequest{AccountID: "acc-1", Specs: articleSpecs(2)})
		uc.Wait()

		snap, _ := uc.GetJobStatus(ctx, job.ID)
		if snap.Status != model.JobStatusFailed || !strings.Contains(snap.LastError, "mark item in progress") {
			t.Errorf("expected a failed job naming the store error, got %+v", snap)
		}
		if env.gen.TotalCalls() != 0 {
			t.Errorf("nothing should be generated, got %d calls", env.gen.TotalCalls())
		}
		bal, _ := env.ledger.GetBalance(ctx, "acc-1")
		if bal.Total != 100 {
			t.Errorf("balance must be untouched, got %d", bal.Total)
		}
	})
}
