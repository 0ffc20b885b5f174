package memory

import (
	"context"
	"sort"

	"content-batch/internal/domain"
	"content-batch/internal/domain/model"
	"content-batch/internal/domain/ports/repository"
)

var _ repository.WorkItemRepository = (*workItemRepo)(nil)

type workItemRepo struct{ s *Store }

func NewWorkItemRepo(s *Store) *workItemRepo { return &workItemRepo{s: s} }

func cloneItem(w *model.WorkItem) *model.WorkItem {
	cp := *w
	if w.Spec.Params != nil {
		cp.Spec.Params = make(map[string]string, len(w.Spec.Params))
		for k, v := range w.Spec.Params {
			cp.Spec.Params[k] = v
		}
	}
	if w.Checkpoint.Outputs != nil {
		cp.Checkpoint.Outputs = make(map[string]string, len(w.Checkpoint.Outputs))
		for k, v := range w.Checkpoint.Outputs {
			cp.Checkpoint.Outputs[k] = v
		}
	}
	return &cp
}

func (r *workItemRepo) Save(ctx context.Context, tx repository.Tx, item *model.WorkItem) error {
	if item == nil || item.ID == "" {
		return domain.ErrInvalidArgument
	}
	unlock, err := r.s.lock(tx)
	if err != nil {
		return err
	}
	defer unlock()
	r.s.items[item.ID] = cloneItem(item)
	return nil
}

func (r *workItemRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.WorkItem, error) {
	unlock, err := r.s.lock(tx)
	if err != nil {
		return nil, err
	}
	defer unlock()
	w, ok := r.s.items[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return cloneItem(w), nil
}

func (r *workItemRepo) FindByIDs(ctx context.Context, tx repository.Tx, ids []string) ([]*model.WorkItem, error) {
	unlock, err := r.s.lock(tx)
	if err != nil {
		return nil, err
	}
	defer unlock()
	out := make([]*model.WorkItem, 0, len(ids))
	for _, id := range ids {
		w, ok := r.s.items[id]
		if !ok {
			return nil, domain.ErrNotFound
		}
		out = append(out, cloneItem(w))
	}
	return out, nil
}

func (r *workItemRepo) ListByJob(ctx context.Context, tx repository.Tx, jobID string) ([]*model.WorkItem, error) {
	unlock, err := r.s.lock(tx)
	if err != nil {
		return nil, err
	}
	defer unlock()
	var out []*model.WorkItem
	for _, w := range r.s.items {
		if w.JobID == jobID {
			out = append(out, cloneItem(w))
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].CreatedAt.Before(out[b].CreatedAt) })
	return out, nil
}

func (r *workItemRepo) SelectEligible(ctx context.Context, tx repository.Tx, scope model.ItemScope, limit int, order model.SortOrder) ([]*model.WorkItem, error) {
	unlock, err := r.s.lock(tx)
	if err != nil {
		return nil, err
	}
	defer unlock()
	var out []*model.WorkItem
	for _, w := range r.s.items {
		if w.Status.Eligible() && scope.Matches(w) {
			out = append(out, cloneItem(w))
		}
	}
	sort.SliceStable(out, func(a, b int) bool {
		if order != model.OrderCreatedAsc && out[a].Priority != out[b].Priority {
			return out[a].Priority > out[b].Priority
		}
		return out[a].CreatedAt.Before(out[b].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *workItemRepo) UpdateStatus(ctx context.Context, tx repository.Tx, id string, status model.WorkItemStatus, u model.ItemUpdate) (*model.WorkItem, error) {
	unlock, err := r.s.lock(tx)
	if err != nil {
		return nil, err
	}
	defer unlock()
	w, ok := r.s.items[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	next := cloneItem(w)
	if err := next.Apply(status, u); err != nil {
		return nil, err
	}
	r.s.items[id] = next
	return cloneItem(next), nil
}

func (r *workItemRepo) ResetFailed(ctx context.Context, tx repository.Tx, jobID string) ([]string, error) {
	unlock, err := r.s.lock(tx)
	if err != nil {
		return nil, err
	}
	defer unlock()
	var ids []string
	for id, w := range r.s.items {
		if w.JobID != jobID || w.Status != model.WorkItemFailed {
			continue
		}
		next := cloneItem(w)
		if err := next.Apply(model.WorkItemPending, model.ItemUpdate{}); err != nil {
			return nil, err
		}
		r.s.items[id] = next
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}
