package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"content-batch/internal/domain"
	"content-batch/internal/domain/model"
	"content-batch/internal/usecase"
)

// BacklogStarter is the part of the orchestrator the sweeper drives.
type BacklogStarter interface {
	StartFromBacklog(ctx context.Context, req usecase.BacklogRequest) (*model.Job, error)
	GetJobStatus(ctx context.Context, jobID string) (model.JobSnapshot, error)
}

// BacklogSweeper periodically starts a job over the eligible backlog of one
// account. A sweep is skipped while the job started by the previous sweep
// is still running.
type BacklogSweeper struct {
	cron      *cron.Cron
	spec      string
	accountID string
	starter   BacklogStarter
	timeout   time.Duration
	log       *zerolog.Logger

	mu      sync.Mutex
	lastJob string
	entry   cron.EntryID
	started bool
}

// NewBacklogSweeper parses spec as a six-field cron expression (seconds first).
func NewBacklogSweeper(spec, accountID string, starter BacklogStarter, logger *zerolog.Logger) (*BacklogSweeper, error) {
	if spec == "" || accountID == "" {
		return nil, domain.ErrInvalidArgument
	}
	if _, err := cron.NewParser(cronFields).Parse(spec); err != nil {
		return nil, fmt.Errorf("backlog cron %q: %w", spec, err)
	}
	l := logger.With().Str("component", "BacklogSweeper").Logger()
	return &BacklogSweeper{
		cron: cron.New(
			cron.WithParser(cron.NewParser(cronFields)),
			cron.WithLogger(cronLogger{log: &l}),
			cron.WithChain(cron.Recover(cronLogger{log: &l}), cron.SkipIfStillRunning(cronLogger{log: &l})),
		),
		spec:      spec,
		accountID: accountID,
		starter:   starter,
		timeout:   30 * time.Second,
		log:       &l,
	}, nil
}

const cronFields = cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor

// Start registers the sweep and starts the cron loop. Calling Start twice has no effect.
func (s *BacklogSweeper) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return nil
	}
	id, err := s.cron.AddFunc(s.spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()
		s.Sweep(ctx)
	})
	if err != nil {
		return err
	}
	s.entry = id
	s.started = true
	s.cron.Start()
	s.log.Info().Str("spec", s.spec).Str("account_id", s.accountID).Msg("backlog sweeper started")
	return nil
}

// Stop halts scheduling and waits for a running sweep to return.
func (s *BacklogSweeper) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	s.cron.Remove(s.entry)
	s.mu.Unlock()

	<-s.cron.Stop().Done()
	s.log.Info().Msg("backlog sweeper stopped")
}

// Sweep runs one pass and returns the started job id, if any.
func (s *BacklogSweeper) Sweep(ctx context.Context) string {
	s.mu.Lock()
	last := s.lastJob
	s.mu.Unlock()

	if last != "" {
		snap, err := s.starter.GetJobStatus(ctx, last)
		if err == nil && !snap.Status.Terminal() {
			s.log.Debug().Str("job_id", last).Msg("previous backlog job still running; skipping")
			return ""
		}
	}

	job, err := s.starter.StartFromBacklog(ctx, usecase.BacklogRequest{AccountID: s.accountID})
	switch {
	case errors.Is(err, domain.ErrNotFound):
		s.log.Debug().Msg("backlog empty")
		return ""
	case errors.Is(err, domain.ErrInsufficientBalance):
		s.log.Warn().Str("account_id", s.accountID).Msg("backlog skipped: insufficient balance")
		return ""
	case err != nil:
		s.log.Error().Err(err).Msg("backlog sweep failed")
		return ""
	}

	s.mu.Lock()
	s.lastJob = job.ID
	s.mu.Unlock()
	s.log.Info().Str("job_id", job.ID).Int("items", job.TotalItems).Msg("backlog job started")
	return job.ID
}

// cronLogger adapts zerolog to cron.Logger.
type cronLogger struct {
	log *zerolog.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.log.Debug().Fields(keysAndValues).Msg(msg)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.log.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
