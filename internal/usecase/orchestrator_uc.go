package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"content-batch/internal/domain"
	"content-batch/internal/domain/model"
	"content-batch/internal/domain/ports/adapter"
	"content-batch/internal/domain/ports/repository"
	ucport "content-batch/internal/domain/ports/usecase"
	"content-batch/internal/infra/logging"
	"content-batch/internal/infra/metrics"
)

// Compile-time check
var _ OrchestratorUseCase = (*orchestratorUC)(nil)

type OrchestratorUseCase interface {
	// StartJob persists a queued job and runs it in the background.
	StartJob(ctx context.Context, req StartJobRequest) (*model.Job, error)
	// StartFromBacklog selects eligible items and starts a job over them.
	StartFromBacklog(ctx context.Context, req BacklogRequest) (*model.Job, error)
	EnqueueItems(ctx context.Context, accountID string, specs []model.ContentSpec, priority int) ([]*model.WorkItem, error)
	CancelJob(ctx context.Context, jobID string) error
	// RetryFailed starts a new job over the failed and never-run items of a finished job.
	RetryFailed(ctx context.Context, jobID string) (*model.Job, error)
	GetJobStatus(ctx context.Context, jobID string) (model.JobSnapshot, error)
	ListItems(ctx context.Context, jobID string) ([]*model.WorkItem, error)
	GetItem(ctx context.Context, itemID string) (*model.WorkItem, error)
	Shutdown(ctx context.Context) error
}

type StartJobRequest struct {
	AccountID string
	// Specs become new work items; ItemIDs reference existing eligible ones.
	Specs     []model.ContentSpec
	ItemIDs   []string
	BatchSize int
	Priority  int
}

type BacklogRequest struct {
	AccountID string
	Kind      model.ContentKind
	Limit     int
	BatchSize int
}

type OrchestratorConfig struct {
	DefaultBatchSize int
	MaxBatchSize     int
	InterBatchDelay  time.Duration
	CallTimeout      time.Duration
	ErrorLogCap      int
	// FailWhenAllFail finalizes a job as failed when every item failed.
	// Off by default: such a job ends completed.
	FailWhenAllFail  bool
	BacklogPageLimit int
}

func (c *OrchestratorConfig) normalize() {
	if c.DefaultBatchSize < 1 {
		c.DefaultBatchSize = 20
	}
	if c.MaxBatchSize < c.DefaultBatchSize {
		c.MaxBatchSize = c.DefaultBatchSize
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = 2 * time.Minute
	}
	if c.ErrorLogCap <= 0 {
		c.ErrorLogCap = model.DefaultErrorLogCap
	}
	if c.BacklogPageLimit <= 0 {
		c.BacklogPageLimit = 200
	}
}

type orchestratorUC struct {
	jobs      repository.JobRepository
	items     repository.WorkItemRepository
	tm        repository.TransactionManager
	quota     ucport.QuotaManager
	generator adapter.ContentGenerator
	blobs     adapter.BlobStore
	costs     CostTable
	cfg       OrchestratorConfig
	log       *zerolog.Logger

	root     context.Context
	stop     context.CancelFunc
	wg       sync.WaitGroup
	mu       sync.Mutex
	running  map[string]context.CancelFunc
	shutdown bool
}

func NewOrchestratorUseCase(
	jobs repository.JobRepository,
	items repository.WorkItemRepository,
	tm repository.TransactionManager,
	quota ucport.QuotaManager,
	generator adapter.ContentGenerator,
	blobs adapter.BlobStore,
	costs CostTable,
	cfg OrchestratorConfig,
	logger *zerolog.Logger,
) *orchestratorUC {
	if logger == nil {
		logger = logging.Nop()
	}
	cfg.normalize()
	l := logger.With().Str("component", "orchestrator").Logger()
	root, stop := context.WithCancel(context.Background())
	return &orchestratorUC{
		jobs:      jobs,
		items:     items,
		tm:        tm,
		quota:     quota,
		generator: generator,
		blobs:     blobs,
		costs:     costs,
		cfg:       cfg,
		log:       &l,
		root:      root,
		stop:      stop,
		running:   map[string]context.CancelFunc{},
	}
}

func (u *orchestratorUC) EnqueueItems(ctx context.Context, accountID string, specs []model.ContentSpec, priority int) ([]*model.WorkItem, error) {
	if len(specs) == 0 {
		return nil, domain.ErrInvalidArgument
	}
	out := make([]*model.WorkItem, 0, len(specs))
	for _, spec := range specs {
		w, err := model.NewWorkItem(accountID, spec, priority)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	err := u.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		for _, w := range out {
			if err := u.items.Save(ctx, tx, w); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (u *orchestratorUC) StartJob(ctx context.Context, req StartJobRequest) (*model.Job, error) {
	total := len(req.Specs) + len(req.ItemIDs)
	if req.AccountID == "" || total == 0 {
		return nil, domain.ErrInvalidArgument
	}
	batchSize, err := u.batchSize(req.BatchSize)
	if err != nil {
		return nil, err
	}
	if u.closing() {
		return nil, errShuttingDown
	}

	specs := make([]model.ContentSpec, 0, total)
	for _, spec := range req.Specs {
		if err := spec.Validate(); err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrInvalidArgument, err)
		}
		specs = append(specs, spec)
	}
	if len(req.ItemIDs) > 0 {
		existing, err := u.items.FindByIDs(ctx, repository.NoTX, req.ItemIDs)
		if err != nil {
			return nil, err
		}
		for _, w := range existing {
			specs = append(specs, w.Spec)
		}
	}
	estimate := u.costs.Estimate(specs)
	ok, err := u.quota.HasEnough(ctx, req.AccountID, estimate)
	if err != nil {
		return nil, err
	}
	if !ok {
		metrics.IncInsufficientBalance()
		return nil, domain.ErrInsufficientBalance
	}

	job, err := model.NewJob(ulid.Make().String(), req.AccountID, total, batchSize, u.cfg.ErrorLogCap)
	if err != nil {
		return nil, err
	}
	if err := u.jobs.Save(ctx, repository.NoTX, job); err != nil {
		return nil, &domain.PersistenceError{Op: "create job", Err: err}
	}
	if err := u.launch(job, req); err != nil {
		_ = job.Finish(model.JobStatusFailed, err.Error())
		_ = u.jobs.Save(ctx, repository.NoTX, job)
		return nil, err
	}
	return job.Clone(), nil
}

func (u *orchestratorUC) StartFromBacklog(ctx context.Context, req BacklogRequest) (*model.Job, error) {
	if req.AccountID == "" {
		return nil, domain.ErrInvalidArgument
	}
	limit := req.Limit
	if limit <= 0 || limit > u.cfg.BacklogPageLimit {
		limit = u.cfg.BacklogPageLimit
	}
	scope := model.ItemScope{AccountID: req.AccountID, Kind: req.Kind}
	eligible, err := u.items.SelectEligible(ctx, repository.NoTX, scope, limit, model.OrderPriorityDesc)
	if err != nil {
		return nil, err
	}
	if len(eligible) == 0 {
		return nil, domain.ErrNotFound
	}
	ids := make([]string, len(eligible))
	for i, w := range eligible {
		ids[i] = w.ID
	}
	return u.StartJob(ctx, StartJobRequest{AccountID: req.AccountID, ItemIDs: ids, BatchSize: req.BatchSize})
}

func (u *orchestratorUC) CancelJob(ctx context.Context, jobID string) error {
	u.mu.Lock()
	cancel, ok := u.running[jobID]
	u.mu.Unlock()
	if ok {
		cancel()
		u.log.Info().Str("job_id", jobID).Msg("cancellation requested")
		return nil
	}
	job, err := u.jobs.FindByID(ctx, repository.NoTX, jobID)
	if err != nil {
		return err
	}
	if job.Status.Terminal() {
		return domain.ErrJobTerminal
	}
	return domain.ErrJobNotRunning
}

func (u *orchestratorUC) RetryFailed(ctx context.Context, jobID string) (*model.Job, error) {
	job, err := u.jobs.FindByID(ctx, repository.NoTX, jobID)
	if err != nil {
		return nil, err
	}
	if !job.Status.Terminal() {
		return nil, domain.ErrInvalidTransition
	}
	if _, err := u.items.ResetFailed(ctx, repository.NoTX, jobID); err != nil {
		return nil, err
	}
	items, err := u.items.ListByJob(ctx, repository.NoTX, jobID)
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, w := range items {
		if w.Status == model.WorkItemPending {
			ids = append(ids, w.ID)
		}
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("%w: job %s has nothing to retry", domain.ErrInvalidArgument, jobID)
	}
	return u.StartJob(ctx, StartJobRequest{AccountID: job.AccountID, ItemIDs: ids, BatchSize: job.BatchSize})
}

func (u *orchestratorUC) GetJobStatus(ctx context.Context, jobID string) (model.JobSnapshot, error) {
	job, err := u.jobs.FindByID(ctx, repository.NoTX, jobID)
	if err != nil {
		return model.JobSnapshot{}, err
	}
	return job.Snapshot(), nil
}

func (u *orchestratorUC) ListItems(ctx context.Context, jobID string) ([]*model.WorkItem, error) {
	if _, err := u.jobs.FindByID(ctx, repository.NoTX, jobID); err != nil {
		return nil, err
	}
	return u.items.ListByJob(ctx, repository.NoTX, jobID)
}

func (u *orchestratorUC) GetItem(ctx context.Context, itemID string) (*model.WorkItem, error) {
	return u.items.FindByID(ctx, repository.NoTX, itemID)
}

// Shutdown cancels every running job and waits for them to persist their
// final status or for ctx to end.
func (u *orchestratorUC) Shutdown(ctx context.Context) error {
	u.mu.Lock()
	u.shutdown = true
	u.mu.Unlock()
	u.stop()

	done := make(chan struct{})
	go func() {
		u.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Wait blocks until no job is running.
func (u *orchestratorUC) Wait() { u.wg.Wait() }

func (u *orchestratorUC) batchSize(requested int) (int, error) {
	switch {
	case requested == 0:
		return u.cfg.DefaultBatchSize, nil
	case requested < 1 || requested > u.cfg.MaxBatchSize:
		return 0, fmt.Errorf("%w: batch size must be within 1..%d", domain.ErrInvalidArgument, u.cfg.MaxBatchSize)
	}
	return requested, nil
}

var errShuttingDown = fmt.Errorf("%w: orchestrator is shutting down", domain.ErrOperationFailed)

func (u *orchestratorUC) closing() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.shutdown
}

func (u *orchestratorUC) launch(job *model.Job, req StartJobRequest) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.shutdown {
		return errShuttingDown
	}
	ctx := logging.WithAccountID(logging.WithJobID(u.root, job.ID), job.AccountID)
	ctx, cancel := context.WithCancel(ctx)
	u.running[job.ID] = cancel
	u.wg.Add(1)

	r := &jobRun{uc: u, job: job.Clone(), log: logging.With(ctx, u.log)}
	go func() {
		defer u.wg.Done()
		defer func() {
			u.mu.Lock()
			delete(u.running, job.ID)
			u.mu.Unlock()
			cancel()
		}()
		r.run(ctx, req)
	}()
	return nil
}

// jobRun owns the in-memory job of one run. Every mutation goes through
// update, which also persists, so saved snapshots are monotonic.
type jobRun struct {
	uc  *orchestratorUC
	mu  sync.Mutex
	job *model.Job
	log *zerolog.Logger
}

func (r *jobRun) update(ctx context.Context, fn func(j *model.Job) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := fn(r.job); err != nil {
		return err
	}
	if err := r.uc.jobs.Save(context.WithoutCancel(ctx), repository.NoTX, r.job); err != nil {
		return &domain.PersistenceError{Op: "save job", Err: err}
	}
	return nil
}

func (r *jobRun) finish(ctx context.Context, status model.JobStatus, reason string) {
	err := r.update(ctx, func(j *model.Job) error { return j.Finish(status, reason) })
	if err != nil {
		r.log.Error().Err(err).Str("status", string(status)).Msg("could not persist final job status")
		return
	}
	metrics.IncJobFinished(string(status))
	snap := r.snapshot()
	r.log.Info().
		Str("status", string(status)).
		Int("completed", snap.CompletedItems).
		Int("failed", snap.FailedItems).
		Int("total", snap.TotalItems).
		Msg("job finished")
}

func (r *jobRun) snapshot() model.JobSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.job.Snapshot()
}

func (r *jobRun) run(ctx context.Context, req StartJobRequest) {
	metrics.IncJobsRunning()
	defer metrics.DecJobsRunning()

	items, err := r.enumerate(ctx, req)
	if err != nil {
		r.log.Error().Err(err).Msg("enumeration failed")
		r.finish(ctx, model.JobStatusFailed, err.Error())
		return
	}
	if err := r.update(ctx, func(j *model.Job) error { return j.Start() }); err != nil {
		r.log.Error().Err(err).Msg("could not start job")
		r.finish(ctx, model.JobStatusFailed, err.Error())
		return
	}
	r.log.Info().Int("items", len(items)).Int("batch_size", r.job.BatchSize).Msg("job started")

	started := time.Now()
	batchSize := r.job.BatchSize
	totalBatches := model.TotalBatches(len(items), batchSize)
	for b := 0; b < totalBatches; b++ {
		if ctx.Err() != nil {
			r.finish(ctx, model.JobStatusCancelled, "cancelled")
			return
		}
		lo, hi := b*batchSize, (b+1)*batchSize
		if hi > len(items) {
			hi = len(items)
		}
		batchStart := time.Now()
		if err := r.runBatch(ctx, items[lo:hi]); err != nil {
			r.log.Error().Err(err).Int("batch", b+1).Msg("batch aborted")
			r.finish(ctx, model.JobStatusFailed, err.Error())
			return
		}
		metrics.ObserveBatchDuration(time.Since(batchStart).Seconds())
		batch := b + 1
		if err := r.update(ctx, func(j *model.Job) error {
			j.CompleteBatch(batch, time.Since(started))
			return nil
		}); err != nil {
			r.log.Error().Err(err).Msg("could not persist batch progress")
			r.finish(ctx, model.JobStatusFailed, err.Error())
			return
		}
		r.log.Debug().Int("batch", batch).Int("total_batches", totalBatches).Msg("batch done")

		if batch < totalBatches && r.uc.cfg.InterBatchDelay > 0 {
			select {
			case <-ctx.Done():
			case <-time.After(r.uc.cfg.InterBatchDelay):
			}
		}
	}
	if ctx.Err() != nil {
		r.finish(ctx, model.JobStatusCancelled, "cancelled")
		return
	}

	snap := r.snapshot()
	if r.uc.cfg.FailWhenAllFail && snap.FailedItems == snap.TotalItems {
		r.finish(ctx, model.JobStatusFailed, "all items failed")
		return
	}
	r.finish(ctx, model.JobStatusCompleted, "")
}

// enumerate claims every item of the job in one transaction. New specs are
// created; referenced items must be eligible and not held by another active job.
func (r *jobRun) enumerate(ctx context.Context, req StartJobRequest) ([]*model.WorkItem, error) {
	jobID := r.job.ID
	var out []*model.WorkItem
	err := r.uc.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		out = out[:0]
		for _, id := range req.ItemIDs {
			w, err := r.uc.items.FindByID(ctx, tx, id)
			if err != nil {
				return fmt.Errorf("item %s: %w", id, err)
			}
			if !w.Status.Eligible() {
				return fmt.Errorf("item %s is %s: %w", id, w.Status, domain.ErrInvalidTransition)
			}
			if w.AccountID != req.AccountID {
				return fmt.Errorf("item %s belongs to another account: %w", id, domain.ErrInvalidArgument)
			}
			if w.JobID != "" && w.JobID != jobID {
				owner, err := r.uc.jobs.FindByID(ctx, tx, w.JobID)
				if err == nil && !owner.Status.Terminal() {
					return fmt.Errorf("item %s is claimed by job %s: %w", id, w.JobID, domain.ErrAlreadyExists)
				}
			}
			if w.Status == model.WorkItemFailed {
				if err := w.Apply(model.WorkItemPending, model.ItemUpdate{}); err != nil {
					return err
				}
			}
			w.JobID = jobID
			if err := r.uc.items.Save(ctx, tx, w); err != nil {
				return err
			}
			out = append(out, w)
		}
		for _, spec := range req.Specs {
			w, err := model.NewWorkItem(req.AccountID, spec, req.Priority)
			if err != nil {
				return err
			}
			w.JobID = jobID
			if err := r.uc.items.Save(ctx, tx, w); err != nil {
				return err
			}
			out = append(out, w)
		}
		return nil
	})
	if err != nil {
		return nil, &domain.FatalEnumerationError{Err: err}
	}
	return out, nil
}

// runBatch processes items concurrently. Only persistence errors on the job
// record or on an item's status are returned; item errors are recorded on
// the job.
func (r *jobRun) runBatch(ctx context.Context, batch []*model.WorkItem) error {
	g := new(errgroup.Group)
	g.SetLimit(len(batch))
	for _, item := range batch {
		if ctx.Err() != nil {
			break
		}
		item := item
		g.Go(func() error { return r.processItem(ctx, item) })
	}
	return g.Wait()
}

func (r *jobRun) processItem(ctx context.Context, item *model.WorkItem) error {
	if ctx.Err() != nil {
		return nil
	}
	ctx = logging.WithItemID(ctx, item.ID)
	log := logging.With(ctx, r.log)
	store := context.WithoutCancel(ctx)

	jobID := r.job.ID
	current, err := r.uc.items.UpdateStatus(store, repository.NoTX, item.ID, model.WorkItemInProgress, model.ItemUpdate{JobID: &jobID})
	if err != nil {
		if errors.Is(err, domain.ErrInvalidTransition) {
			// claimed elsewhere since enumeration
			return r.recordFailure(ctx, item.ID, fmt.Errorf("mark in progress: %w", err))
		}
		return &domain.PersistenceError{Op: "mark item in progress", Err: err}
	}

	cost := r.uc.costs.Cost(current.Spec)
	ok, err := r.uc.quota.HasEnough(store, current.AccountID, cost)
	if err == nil && !ok {
		err = domain.ErrInsufficientBalance
	}
	if err != nil {
		return r.failItem(ctx, current, err)
	}

	artifact, err := r.generate(ctx, current)
	if err != nil {
		return r.failItem(ctx, current, err)
	}

	meta := model.EntryMetadata{
		Model:         artifact.Usage.Model,
		ResourceUnits: artifact.Usage.ResourceUnits,
		JobID:         jobID,
		ItemID:        current.ID,
	}
	desc := fmt.Sprintf("%s generation", current.Spec.Kind)
	if _, err := r.uc.quota.Debit(store, current.AccountID, cost, desc, meta); err != nil {
		return r.failItem(ctx, current, fmt.Errorf("debit: %w", err))
	}

	ref := artifact.Ref
	empty := ""
	if _, err := r.uc.items.UpdateStatus(store, repository.NoTX, current.ID, model.WorkItemDone, model.ItemUpdate{ArtifactRef: &ref, LastError: &empty}); err != nil {
		log.Error().Err(err).Msg("item debited but could not be marked done")
		return r.settleUnrecorded(ctx, current, cost, err)
	}
	metrics.IncWorkItem(string(model.WorkItemDone))
	log.Debug().Int64("cost", cost).Str("artifact_ref", ref).Msg("item done")
	return r.update(ctx, func(j *model.Job) error {
		j.RecordSuccess()
		return nil
	})
}

// generate calls the backend on a context that ignores job cancellation but
// is bounded by the per-call timeout, then stores the artifact.
func (r *jobRun) generate(ctx context.Context, item *model.WorkItem) (*model.Artifact, error) {
	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.uc.cfg.CallTimeout)
	defer cancel()

	artifact, err := r.uc.generator.Generate(callCtx, adapter.GenerationRequest{
		ItemID:     item.ID,
		Spec:       item.Spec,
		Checkpoint: item.Checkpoint,
		OnCheckpoint: func(ctx context.Context, cp model.Checkpoint) error {
			item.Checkpoint = cp
			return r.uc.items.Save(ctx, repository.NoTX, item)
		},
	})
	if err != nil {
		return nil, &domain.ItemGenerationError{ItemID: item.ID, Err: err}
	}
	if artifact == nil {
		return nil, &domain.ItemGenerationError{ItemID: item.ID, Err: errors.New("backend returned no artifact")}
	}
	artifact.ItemID = item.ID
	if artifact.Ref == "" && r.uc.blobs != nil {
		body, err := json.Marshal(artifact)
		if err != nil {
			return nil, err
		}
		ref, err := r.uc.blobs.Put(callCtx, "artifacts/"+item.ID+".json", "application/json", body)
		if err != nil {
			return nil, fmt.Errorf("store artifact: %w", err)
		}
		artifact.Ref = ref
	}
	return artifact, nil
}

// failItem marks the item failed. A store that cannot record the failure
// aborts the job, since the item would otherwise stay in_progress unseen.
func (r *jobRun) failItem(ctx context.Context, item *model.WorkItem, cause error) error {
	msg := cause.Error()
	store := context.WithoutCancel(ctx)
	if _, err := r.uc.items.UpdateStatus(store, repository.NoTX, item.ID, model.WorkItemFailed, model.ItemUpdate{LastError: &msg, IncRetry: true}); err != nil {
		if rerr := r.recordFailure(ctx, item.ID, cause); rerr != nil {
			return rerr
		}
		return &domain.PersistenceError{Op: "mark item failed", Err: err}
	}
	return r.recordFailure(ctx, item.ID, cause)
}

// settleUnrecorded handles an item that was debited but could not be marked
// done: the debit is refunded, the item is released as failed so a retry
// can reach it, and the job is aborted.
func (r *jobRun) settleUnrecorded(ctx context.Context, item *model.WorkItem, cost int64, cause error) error {
	store := context.WithoutCancel(ctx)
	log := logging.With(ctx, r.log)
	desc := fmt.Sprintf("refund %s generation %s", item.Spec.Kind, item.ID)
	if _, err := r.uc.quota.Credit(store, item.AccountID, cost, model.EntryRefund, desc); err != nil {
		log.Error().Err(err).Int64("cost", cost).Msg("refund failed; ledger holds a charge for an unfinished item")
	}
	msg := "mark done: " + cause.Error()
	if _, err := r.uc.items.UpdateStatus(store, repository.NoTX, item.ID, model.WorkItemFailed, model.ItemUpdate{LastError: &msg, IncRetry: true}); err != nil {
		log.Error().Err(err).Msg("could not release item")
	}
	if err := r.recordFailure(ctx, item.ID, errors.New(msg)); err != nil {
		return err
	}
	return &domain.PersistenceError{Op: "mark item done", Err: cause}
}

func (r *jobRun) recordFailure(ctx context.Context, itemID string, cause error) error {
	metrics.IncWorkItem(string(model.WorkItemFailed))
	logging.With(ctx, r.log).Warn().Err(cause).Msg("item failed")
	return r.update(ctx, func(j *model.Job) error {
		j.RecordFailure(itemID, cause.Error(), time.Now())
		return nil
	})
}
