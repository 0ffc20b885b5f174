package ai

import (
	"context"

	"content-batch/internal/domain/model"
	"content-batch/internal/domain/ports/adapter"
)

var _ adapter.TextModel = (*limitedModel)(nil)

// limitedModel caps in-flight completions across all running jobs.
type limitedModel struct {
	inner adapter.TextModel
	sem   chan struct{}
}

func NewLimitedModel(inner adapter.TextModel, maxConcurrent int) adapter.TextModel {
	if maxConcurrent <= 0 {
		return inner
	}
	return &limitedModel{
		inner: inner,
		sem:   make(chan struct{}, maxConcurrent),
	}
}

func (l *limitedModel) ListModels(ctx context.Context) ([]string, error) {
	return l.inner.ListModels(ctx)
}

func (l *limitedModel) Complete(ctx context.Context, modelName string, messages []adapter.Message) (string, model.Usage, error) {
	select {
	case l.sem <- struct{}{}:
	case <-ctx.Done():
		return "", model.Usage{}, ctx.Err()
	}
	defer func() { <-l.sem }()
	return l.inner.Complete(ctx, modelName, messages)
}
