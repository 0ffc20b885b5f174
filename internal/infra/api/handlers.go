package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"content-batch/internal/domain"
	"content-batch/internal/domain/model"
	red "content-batch/internal/infra/redis"
	"content-batch/internal/usecase"
)

const maxBodyBytes = 4 << 20

type startJobRequest struct {
	AccountID string              `json:"account_id"`
	Items     []model.ContentSpec `json:"items"`
	ItemIDs   []string            `json:"item_ids"`
	BatchSize int                 `json:"batch_size"`
	Priority  int                 `json:"priority"`
}

type backlogRequest struct {
	AccountID string            `json:"account_id"`
	Kind      model.ContentKind `json:"kind"`
	Limit     int               `json:"limit"`
	BatchSize int               `json:"batch_size"`
}

type jobResponse struct {
	JobID        string          `json:"job_id"`
	Status       model.JobStatus `json:"status"`
	TotalItems   int             `json:"total_items"`
	TotalBatches int             `json:"total_batches"`
	BatchSize    int             `json:"batch_size"`
}

func newJobResponse(j *model.Job) jobResponse {
	return jobResponse{
		JobID:        j.ID,
		Status:       j.Status,
		TotalItems:   j.TotalItems,
		TotalBatches: j.TotalBatches,
		BatchSize:    j.BatchSize,
	}
}

type itemResponse struct {
	ID          string               `json:"id"`
	JobID       string               `json:"job_id,omitempty"`
	AccountID   string               `json:"account_id"`
	Spec        model.ContentSpec    `json:"spec"`
	Status      model.WorkItemStatus `json:"status"`
	RetryCount  int                  `json:"retry_count"`
	LastError   string               `json:"last_error,omitempty"`
	Priority    int                  `json:"priority"`
	ArtifactRef string               `json:"artifact_ref,omitempty"`
	Stage       model.PipelineStage  `json:"stage,omitempty"`
	CreatedAt   time.Time            `json:"created_at"`
	UpdatedAt   time.Time            `json:"updated_at"`
}

func newItemResponse(w *model.WorkItem) itemResponse {
	return itemResponse{
		ID:          w.ID,
		JobID:       w.JobID,
		AccountID:   w.AccountID,
		Spec:        w.Spec,
		Status:      w.Status,
		RetryCount:  w.RetryCount,
		LastError:   w.LastError,
		Priority:    w.Priority,
		ArtifactRef: w.ArtifactRef,
		Stage:       w.Checkpoint.Stage,
		CreatedAt:   w.CreatedAt,
		UpdatedAt:   w.UpdatedAt,
	}
}

func newItemResponses(items []*model.WorkItem) []itemResponse {
	out := make([]itemResponse, 0, len(items))
	for _, it := range items {
		out = append(out, newItemResponse(it))
	}
	return out
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

// authorize writes 403 and returns false when the caller may not act on accountID.
func authorize(w http.ResponseWriter, r *http.Request, accountID string) bool {
	if c := ClaimsFrom(r.Context()); c != nil && c.CanAccess(accountID) {
		return true
	}
	writeError(w, http.StatusForbidden, "forbidden")
	return false
}

func (s *Server) allowJobStart(w http.ResponseWriter, r *http.Request, accountID string) bool {
	if s.limiter == nil || s.opts.JobStartLimit <= 0 {
		return true
	}
	ok, err := s.limiter.Allow(r.Context(), red.JobStartKey(accountID), s.opts.JobStartLimit, s.opts.JobStartWindow)
	if err != nil {
		// fail open: throttling is best effort
		s.log.Warn().Err(err).Str("account_id", accountID).Msg("rate limiter unavailable")
		return true
	}
	if !ok {
		w.Header().Set("Retry-After", strconv.Itoa(int(s.opts.JobStartWindow.Seconds())))
		writeError(w, http.StatusTooManyRequests, "too many job starts")
		return false
	}
	return true
}

// jobFor loads the job snapshot and checks the caller owns it.
func (s *Server) jobFor(w http.ResponseWriter, r *http.Request) (model.JobSnapshot, bool) {
	snap, err := s.orch.GetJobStatus(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return snap, false
	}
	if !authorize(w, r, snap.AccountID) {
		return snap, false
	}
	return snap, true
}

func (s *Server) handleStartJob(w http.ResponseWriter, r *http.Request) {
	var req startJobRequest
	if !decode(w, r, &req) {
		return
	}
	if !authorize(w, r, req.AccountID) || !s.allowJobStart(w, r, req.AccountID) {
		return
	}
	job, err := s.orch.StartJob(r.Context(), usecase.StartJobRequest{
		AccountID: req.AccountID,
		Specs:     req.Items,
		ItemIDs:   req.ItemIDs,
		BatchSize: req.BatchSize,
		Priority:  req.Priority,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	w.Header().Set("Location", "/api/v1/jobs/"+job.ID)
	writeJSON(w, http.StatusAccepted, newJobResponse(job))
}

func (s *Server) handleStartBacklog(w http.ResponseWriter, r *http.Request) {
	var req backlogRequest
	if !decode(w, r, &req) {
		return
	}
	if !authorize(w, r, req.AccountID) || !s.allowJobStart(w, r, req.AccountID) {
		return
	}
	job, err := s.orch.StartFromBacklog(r.Context(), usecase.BacklogRequest{
		AccountID: req.AccountID,
		Kind:      req.Kind,
		Limit:     req.Limit,
		BatchSize: req.BatchSize,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	w.Header().Set("Location", "/api/v1/jobs/"+job.ID)
	writeJSON(w, http.StatusAccepted, newJobResponse(job))
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	snap, ok := s.jobFor(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleListJobItems(w http.ResponseWriter, r *http.Request) {
	snap, ok := s.jobFor(w, r)
	if !ok {
		return
	}
	items, err := s.orch.ListItems(r.Context(), snap.ID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newItemResponses(items))
}

func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	snap, ok := s.jobFor(w, r)
	if !ok {
		return
	}
	if err := s.orch.CancelJob(r.Context(), snap.ID); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"job_id": snap.ID, "status": "cancelling"})
}

func (s *Server) handleRetryJob(w http.ResponseWriter, r *http.Request) {
	snap, ok := s.jobFor(w, r)
	if !ok {
		return
	}
	if !s.allowJobStart(w, r, snap.AccountID) {
		return
	}
	job, err := s.orch.RetryFailed(r.Context(), snap.ID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	w.Header().Set("Location", "/api/v1/jobs/"+job.ID)
	writeJSON(w, http.StatusAccepted, newJobResponse(job))
}

type enqueueRequest struct {
	AccountID string              `json:"account_id"`
	Items     []model.ContentSpec `json:"items"`
	Priority  int                 `json:"priority"`
}

func (s *Server) handleEnqueueItems(w http.ResponseWriter, r *http.Request) {
	var req enqueueRequest
	if !decode(w, r, &req) {
		return
	}
	if !authorize(w, r, req.AccountID) {
		return
	}
	items, err := s.orch.EnqueueItems(r.Context(), req.AccountID, req.Items, req.Priority)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, newItemResponses(items))
}

func (s *Server) itemFor(w http.ResponseWriter, r *http.Request) (*model.WorkItem, bool) {
	item, err := s.orch.GetItem(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return nil, false
	}
	if !authorize(w, r, item.AccountID) {
		return nil, false
	}
	return item, true
}

func (s *Server) handleGetItem(w http.ResponseWriter, r *http.Request) {
	item, ok := s.itemFor(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, newItemResponse(item))
}

func (s *Server) handlePublishItem(w http.ResponseWriter, r *http.Request) {
	var target model.PublishTarget
	if !decode(w, r, &target) {
		return
	}
	item, ok := s.itemFor(w, r)
	if !ok {
		return
	}
	res, err := s.publish.Publish(r.Context(), item.ID, target)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type openAccountRequest struct {
	ID        string `json:"id"`
	Recurring int64  `json:"recurring"`
	Reserve   int64  `json:"reserve"`
	Unlimited bool   `json:"unlimited"`
}

func (s *Server) handleOpenAccount(w http.ResponseWriter, r *http.Request) {
	var req openAccountRequest
	if !decode(w, r, &req) {
		return
	}
	acc, err := s.ledger.OpenAccount(r.Context(), req.ID, req.Recurring, req.Reserve, req.Unlimited)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	w.Header().Set("Location", "/api/v1/accounts/"+acc.ID)
	writeJSON(w, http.StatusCreated, acc.Balance())
}

func (s *Server) handleGetBalance(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !authorize(w, r, id) {
		return
	}
	bal, err := s.ledger.GetBalance(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, bal)
}

func (s *Server) handleGetHistory(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !authorize(w, r, id) {
		return
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			s.fail(w, r, fmt.Errorf("limit: %w", domain.ErrInvalidArgument))
			return
		}
		limit = n
	}
	entries, err := s.ledger.GetHistory(r.Context(), id, limit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if entries == nil {
		entries = []*model.LedgerEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

type creditRequest struct {
	Amount      int64           `json:"amount"`
	Type        model.EntryType `json:"type"`
	Description string          `json:"description"`
}

func (s *Server) handleCredit(w http.ResponseWriter, r *http.Request) {
	var req creditRequest
	if !decode(w, r, &req) {
		return
	}
	id := chi.URLParam(r, "id")
	after, err := s.ledger.Credit(r.Context(), id, req.Amount, req.Type, req.Description)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"account_id": id, "balance_after": after})
}
