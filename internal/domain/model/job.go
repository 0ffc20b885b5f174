package model

import (
	"math"
	"time"

	"content-batch/internal/domain"
)

type JobStatus string

const (
	JobStatusQueued     JobStatus = "queued"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusCancelled  JobStatus = "cancelled"
)

// Terminal reports whether no further transition may leave s.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// DefaultErrorLogCap bounds Job.ErrorLog when no cap is configured.
const DefaultErrorLogCap = 50

type JobError struct {
	ItemID    string    `json:"item_id"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// Job is the tracked run of one orchestration request.
type Job struct {
	ID                 string
	AccountID          string
	Status             JobStatus
	TotalItems         int
	CompletedItems     int
	FailedItems        int
	CurrentBatch       int
	TotalBatches       int
	BatchSize          int
	ProgressPercentage int
	EtaMinutes         float64
	ErrorLog           []JobError
	ErrorLogCap        int
	LastError          string
	CreatedAt          time.Time
	StartedAt          *time.Time
	CompletedAt        *time.Time
	UpdatedAt          time.Time
}

// NewJob creates a queued job for total items split in batches of batchSize.
func NewJob(id, accountID string, total, batchSize, errorLogCap int) (*Job, error) {
	if id == "" || total <= 0 || batchSize < 1 {
		return nil, domain.ErrInvalidArgument
	}
	if errorLogCap <= 0 {
		errorLogCap = DefaultErrorLogCap
	}
	now := time.Now()
	return &Job{
		ID:           id,
		AccountID:    accountID,
		Status:       JobStatusQueued,
		TotalItems:   total,
		TotalBatches: TotalBatches(total, batchSize),
		BatchSize:    batchSize,
		ErrorLogCap:  errorLogCap,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

// TotalBatches returns ceil(total / batchSize).
func TotalBatches(total, batchSize int) int {
	if total <= 0 || batchSize < 1 {
		return 0
	}
	return (total + batchSize - 1) / batchSize
}

func (j *Job) transition(to JobStatus) error {
	if j.Status.Terminal() {
		return domain.ErrJobTerminal
	}
	switch {
	case j.Status == JobStatusQueued && (to == JobStatusProcessing || to.Terminal()):
	case j.Status == JobStatusProcessing && to.Terminal():
	default:
		return domain.ErrInvalidTransition
	}
	j.Status = to
	j.UpdatedAt = time.Now()
	return nil
}

// Start moves a queued job to processing.
func (j *Job) Start() error {
	if err := j.transition(JobStatusProcessing); err != nil {
		return err
	}
	now := j.UpdatedAt
	j.StartedAt = &now
	return nil
}

// Finish moves the job to a terminal status and stamps CompletedAt.
func (j *Job) Finish(status JobStatus, reason string) error {
	if !status.Terminal() {
		return domain.ErrInvalidTransition
	}
	if err := j.transition(status); err != nil {
		return err
	}
	now := j.UpdatedAt
	j.CompletedAt = &now
	j.LastError = reason
	if status == JobStatusCompleted {
		j.EtaMinutes = 0
	}
	return nil
}

// RecordSuccess counts one completed item.
func (j *Job) RecordSuccess() {
	if j.CompletedItems+j.FailedItems >= j.TotalItems {
		return
	}
	j.CompletedItems++
	j.recompute()
}

// RecordFailure counts one failed item and appends to the capped error log.
func (j *Job) RecordFailure(itemID, message string, at time.Time) {
	if j.CompletedItems+j.FailedItems >= j.TotalItems {
		return
	}
	j.FailedItems++
	j.appendError(JobError{ItemID: itemID, Message: message, Timestamp: at})
	j.recompute()
}

func (j *Job) appendError(e JobError) {
	limit := j.ErrorLogCap
	if limit <= 0 {
		limit = DefaultErrorLogCap
	}
	j.ErrorLog = append(j.ErrorLog, e)
	if over := len(j.ErrorLog) - limit; over > 0 {
		// keep the newest entries
		j.ErrorLog = append([]JobError(nil), j.ErrorLog[over:]...)
	}
}

// CompleteBatch records that batch index (1-based) finished and re-estimates
// the remaining time from the average batch duration so far.
func (j *Job) CompleteBatch(batch int, elapsed time.Duration) {
	if batch > j.CurrentBatch {
		j.CurrentBatch = batch
	}
	remaining := j.TotalBatches - j.CurrentBatch
	if j.CurrentBatch > 0 && remaining > 0 {
		avg := elapsed / time.Duration(j.CurrentBatch)
		j.EtaMinutes = math.Round(avg.Minutes()*float64(remaining)*100) / 100
	} else {
		j.EtaMinutes = 0
	}
	j.recompute()
}

// Processed returns completed + failed.
func (j *Job) Processed() int { return j.CompletedItems + j.FailedItems }

func (j *Job) recompute() {
	j.ProgressPercentage = Progress(j.CompletedItems, j.FailedItems, j.TotalItems)
	j.UpdatedAt = time.Now()
}

// Progress returns round((completed+failed)/total*100).
func Progress(completed, failed, total int) int {
	if total <= 0 {
		return 0
	}
	return int(math.Round(float64(completed+failed) / float64(total) * 100))
}

// Clone returns a deep copy safe to hand to readers.
func (j *Job) Clone() *Job {
	cp := *j
	cp.ErrorLog = append([]JobError(nil), j.ErrorLog...)
	if j.StartedAt != nil {
		t := *j.StartedAt
		cp.StartedAt = &t
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		cp.CompletedAt = &t
	}
	return &cp
}

// JobSnapshot is the read-only view exposed to observers.
type JobSnapshot struct {
	ID                 string     `json:"id"`
	AccountID          string     `json:"account_id"`
	Status             JobStatus  `json:"status"`
	TotalItems         int        `json:"total_items"`
	CompletedItems     int        `json:"completed_items"`
	FailedItems        int        `json:"failed_items"`
	ProgressPercentage int        `json:"progress_percentage"`
	CurrentBatch       int        `json:"current_batch"`
	TotalBatches       int        `json:"total_batches"`
	EtaMinutes         float64    `json:"eta_minutes"`
	ErrorLog           []JobError `json:"error_log"`
	LastError          string     `json:"last_error,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	StartedAt          *time.Time `json:"started_at,omitempty"`
	CompletedAt        *time.Time `json:"completed_at,omitempty"`
}

func (j *Job) Snapshot() JobSnapshot {
	c := j.Clone()
	return JobSnapshot{
		ID:                 c.ID,
		AccountID:          c.AccountID,
		Status:             c.Status,
		TotalItems:         c.TotalItems,
		CompletedItems:     c.CompletedItems,
		FailedItems:        c.FailedItems,
		ProgressPercentage: c.ProgressPercentage,
		CurrentBatch:       c.CurrentBatch,
		TotalBatches:       c.TotalBatches,
		EtaMinutes:         c.EtaMinutes,
		ErrorLog:           c.ErrorLog,
		LastError:          c.LastError,
		CreatedAt:          c.CreatedAt,
		StartedAt:          c.StartedAt,
		CompletedAt:        c.CompletedAt,
	}
}
