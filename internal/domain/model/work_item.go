package model

import (
	"time"

	"github.com/google/uuid"

	"content-batch/internal/domain"
)

type WorkItemStatus string

const (
	WorkItemPending    WorkItemStatus = "pending"
	WorkItemInProgress WorkItemStatus = "in_progress"
	WorkItemDone       WorkItemStatus = "done"
	WorkItemFailed     WorkItemStatus = "failed"
)

// CanTransition encodes the work item state machine:
// pending -> in_progress -> {done, failed}; failed -> pending (explicit retry).
func (s WorkItemStatus) CanTransition(to WorkItemStatus) bool {
	switch s {
	case WorkItemPending:
		return to == WorkItemInProgress
	case WorkItemInProgress:
		return to == WorkItemDone || to == WorkItemFailed
	case WorkItemFailed:
		return to == WorkItemPending
	}
	return false
}

// Eligible reports whether an item may be selected for a new run.
func (s WorkItemStatus) Eligible() bool {
	return s == WorkItemPending || s == WorkItemFailed
}

type ContentKind string

const (
	ContentArticle    ContentKind = "article"
	ContentSocialPost ContentKind = "social_post"
	ContentVideo      ContentKind = "video"
)

func (k ContentKind) Valid() bool {
	switch k {
	case ContentArticle, ContentSocialPost, ContentVideo:
		return true
	}
	return false
}

// ContentSpec describes what to generate. The orchestrator never looks inside.
type ContentSpec struct {
	Kind     ContentKind       `json:"kind"`
	Topic    string            `json:"topic"`
	Prompt   string            `json:"prompt,omitempty"`
	Model    string            `json:"model,omitempty"`
	Language string            `json:"language,omitempty"`
	Params   map[string]string `json:"params,omitempty"`
}

func (s ContentSpec) Validate() error {
	if !s.Kind.Valid() || s.Topic == "" {
		return domain.ErrInvalidArgument
	}
	return nil
}

// Checkpoint records pipeline progress so a retry resumes after the last
// completed stage.
type Checkpoint struct {
	Stage   PipelineStage     `json:"stage,omitempty"`
	Outputs map[string]string `json:"outputs,omitempty"`
}

type WorkItem struct {
	ID          string
	JobID       string
	AccountID   string
	Spec        ContentSpec
	Status      WorkItemStatus
	RetryCount  int
	LastError   string
	Priority    int
	ArtifactRef string
	Checkpoint  Checkpoint
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func NewWorkItem(accountID string, spec ContentSpec, priority int) (*WorkItem, error) {
	if accountID == "" {
		return nil, domain.ErrInvalidArgument
	}
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	now := time.Now()
	return &WorkItem{
		ID:        uuid.NewString(),
		AccountID: accountID,
		Spec:      spec,
		Status:    WorkItemPending,
		Priority:  priority,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// ItemUpdate carries the optional fields written together with a status change.
type ItemUpdate struct {
	JobID       *string
	LastError   *string
	ArtifactRef *string
	Checkpoint  *Checkpoint
	IncRetry    bool
}

// Apply moves the item to status and copies the non-nil update fields.
func (w *WorkItem) Apply(status WorkItemStatus, u ItemUpdate) error {
	if !w.Status.CanTransition(status) {
		return domain.ErrInvalidTransition
	}
	w.Status = status
	if u.JobID != nil {
		w.JobID = *u.JobID
	}
	if u.LastError != nil {
		w.LastError = *u.LastError
	}
	if u.ArtifactRef != nil {
		w.ArtifactRef = *u.ArtifactRef
	}
	if u.Checkpoint != nil {
		w.Checkpoint = *u.Checkpoint
	}
	if u.IncRetry {
		w.RetryCount++
	}
	w.UpdatedAt = time.Now()
	return nil
}

type SortOrder string

const (
	OrderPriorityDesc SortOrder = "priority_desc"
	OrderCreatedAsc   SortOrder = "created_asc"
)

// ItemScope narrows SelectEligible to a subset of the backlog.
type ItemScope struct {
	AccountID string
	JobID     string
	Kind      ContentKind
}

func (s ItemScope) Matches(w *WorkItem) bool {
	if s.AccountID != "" && w.AccountID != s.AccountID {
		return false
	}
	if s.JobID != "" && w.JobID != s.JobID {
		return false
	}
	if s.Kind != "" && w.Spec.Kind != s.Kind {
		return false
	}
	return true
}
