//go:build !integration

package usecase_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"content-batch/internal/domain"
	"content-batch/internal/domain/model"
	"content-batch/internal/domain/ports/adapter"
	"content-batch/internal/domain/ports/repository"
	"content-batch/internal/infra/db/memory"
	"content-batch/internal/usecase"
)

// newTestLogger creates a silent zerolog.Logger for use in tests.
func newTestLogger() *zerolog.Logger {
	logger := zerolog.New(io.Discard)
	return &logger
}

// ---- Generator ----

// MockGenerator succeeds unless GenerateFunc says otherwise.
type MockGenerator struct {
	mu           sync.Mutex
	calls        map[string]int
	GenerateFunc func(ctx context.Context, req adapter.GenerationRequest) (*model.Artifact, error)
}

var _ adapter.ContentGenerator = (*MockGenerator)(nil)

func NewMockGenerator() *MockGenerator {
	return &MockGenerator{calls: map[string]int{}}
}

func (m *MockGenerator) Generate(ctx context.Context, req adapter.GenerationRequest) (*model.Artifact, error) {
	m.mu.Lock()
	m.calls[req.ItemID]++
	m.mu.Unlock()
	if m.GenerateFunc != nil {
		return m.GenerateFunc(ctx, req)
	}
	return &model.Artifact{
		Kind:  req.Spec.Kind,
		Title: req.Spec.Topic,
		Body:  "body of " + req.Spec.Topic,
		Usage: model.Usage{Model: "test-model", ResourceUnits: 10},
	}, nil
}

func (m *MockGenerator) Calls(itemID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[itemID]
}

func (m *MockGenerator) TotalCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		n += c
	}
	return n
}

// ---- Blob store ----

type MockBlobStore struct {
	mu   sync.Mutex
	objs map[string][]byte
}

var _ adapter.BlobStore = (*MockBlobStore)(nil)

func NewMockBlobStore() *MockBlobStore { return &MockBlobStore{objs: map[string][]byte{}} }

func (m *MockBlobStore) Put(ctx context.Context, key, contentType string, data []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objs[key] = append([]byte(nil), data...)
	return "mem://" + key, nil
}

func (m *MockBlobStore) Get(ctx context.Context, ref string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, v := range m.objs {
		if "mem://"+k == ref {
			return v, nil
		}
	}
	return nil, domain.ErrNotFound
}

// ---- Publisher ----

type MockPublisher struct {
	PublishFunc func(ctx context.Context, target model.PublishTarget, a *model.Artifact) (model.PublishResult, error)
}

func (m *MockPublisher) Publish(ctx context.Context, target model.PublishTarget, a *model.Artifact) (model.PublishResult, error) {
	return m.PublishFunc(ctx, target, a)
}

// ---- Job repository that records every saved snapshot ----

type recordingJobRepo struct {
	repository.JobRepository
	mu    sync.Mutex
	saves []model.JobSnapshot
	// FailAfter makes the N-th save (1-based) and every later one fail.
	FailAfter int
}

func (r *recordingJobRepo) Save(ctx context.Context, tx repository.Tx, job *model.Job) error {
	r.mu.Lock()
	r.saves = append(r.saves, job.Snapshot())
	n := len(r.saves)
	r.mu.Unlock()
	if r.FailAfter > 0 && n >= r.FailAfter {
		return errors.New("disk full")
	}
	return r.JobRepository.Save(ctx, tx, job)
}

func (r *recordingJobRepo) Snapshots() []model.JobSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.JobSnapshot(nil), r.saves...)
}

// ---- Test environment wired on the in-memory store ----

type testEnv struct {
	store   *memory.Store
	jobs    *recordingJobRepo
	items   repository.WorkItemRepository
	ledger  usecase.LedgerUseCase
	gen     *MockGenerator
	blobs   *MockBlobStore
	costs   usecase.CostTable
	cfg     usecase.OrchestratorConfig
	entries repository.LedgerRepository
}

func newTestEnv() *testEnv {
	s := memory.NewStore()
	tm := memory.NewTxManager(s)
	entries := memory.NewLedgerRepo(s)
	return &testEnv{
		store:   s,
		jobs:    &recordingJobRepo{JobRepository: memory.NewJobRepo(s)},
		items:   memory.NewWorkItemRepo(s),
		ledger:  usecase.NewLedgerUseCase(memory.NewQuotaAccountRepo(s), entries, tm, memory.NewKeyedLocker(), newTestLogger()),
		gen:     NewMockGenerator(),
		blobs:   NewMockBlobStore(),
		costs:   usecase.NewCostTable(5, 1, 20),
		cfg:     usecase.OrchestratorConfig{DefaultBatchSize: 20, MaxBatchSize: 100, CallTimeout: time.Second},
		entries: entries,
	}
}

type orchestrator interface {
	usecase.OrchestratorUseCase
	Wait()
}

func (e *testEnv) orchestrator() orchestrator {
	return usecase.NewOrchestratorUseCase(
		e.jobs, e.items, memory.NewTxManager(e.store), e.ledger, e.gen, e.blobs, e.costs, e.cfg, newTestLogger(),
	)
}

func articleSpecs(n int) []model.ContentSpec {
	out := make([]model.ContentSpec, n)
	for i := range out {
		out[i] = model.ContentSpec{Kind: model.ContentSocialPost, Topic: fmt.Sprintf("topic-%d", i+1)}
	}
	return out
}

// ---- Work item repository whose status writes can be broken ----

type flakyItemRepo struct {
	repository.WorkItemRepository
	mu sync.Mutex
	// failOn lists target statuses whose UpdateStatus calls fail.
	failOn map[model.WorkItemStatus]bool
}

func (r *flakyItemRepo) breakStatus(s model.WorkItemStatus, broken bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failOn == nil {
		r.failOn = map[model.WorkItemStatus]bool{}
	}
	r.failOn[s] = broken
}

func (r *flakyItemRepo) UpdateStatus(ctx context.Context, tx repository.Tx, id string, status model.WorkItemStatus, u model.ItemUpdate) (*model.WorkItem, error) {
	r.mu.Lock()
	broken := r.failOn[status]
	r.mu.Unlock()
	if broken {
		return nil, errors.New("db down")
	}
	return r.WorkItemRepository.UpdateStatus(ctx, tx, id, status, u)
}
