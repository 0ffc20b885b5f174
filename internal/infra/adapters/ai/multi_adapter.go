package ai

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"content-batch/internal/domain"
	"content-batch/internal/domain/model"
	"content-batch/internal/domain/ports/adapter"
)

var _ adapter.TextModel = (*MultiModel)(nil)

// MultiModel routes each call to a provider chosen by model name.
type MultiModel struct {
	defaultProvider string
	byProvider      map[string]adapter.TextModel
	modelToProvider map[string]string
}

func NewMultiModel(defaultProvider string, byProvider map[string]adapter.TextModel, modelToProvider map[string]string) *MultiModel {
	return &MultiModel{
		defaultProvider: strings.ToLower(defaultProvider),
		byProvider:      byProvider,
		modelToProvider: modelToProvider,
	}
}

// resolveProvider checks the explicit map, then name prefixes, then the default.
func (m *MultiModel) resolveProvider(modelName string) string {
	if p := m.modelToProvider[modelName]; p != "" {
		return strings.ToLower(p)
	}
	l := strings.ToLower(modelName)
	switch {
	case strings.HasPrefix(l, "gemini"):
		return "gemini"
	case strings.HasPrefix(l, "gpt"), strings.HasPrefix(l, "o1"), strings.HasPrefix(l, "o3"):
		return "openai"
	default:
		return m.defaultProvider
	}
}

func (m *MultiModel) pick(modelName string) adapter.TextModel {
	if tm := m.byProvider[m.resolveProvider(modelName)]; tm != nil {
		return tm
	}
	if tm := m.byProvider[m.defaultProvider]; tm != nil {
		return tm
	}
	// stable last resort
	names := make([]string, 0, len(m.byProvider))
	for name, tm := range m.byProvider {
		if tm != nil {
			names = append(names, name)
		}
	}
	if len(names) == 0 {
		return nil
	}
	sort.Strings(names)
	return m.byProvider[names[0]]
}

func (m *MultiModel) ListModels(ctx context.Context) ([]string, error) {
	seen := map[string]struct{}{}
	out := make([]string, 0, len(m.modelToProvider)+4)
	add := func(name string) {
		if name == "" {
			return
		}
		if _, ok := seen[name]; !ok {
			seen[name] = struct{}{}
			out = append(out, name)
		}
	}
	for name := range m.modelToProvider {
		add(name)
	}
	for _, tm := range m.byProvider {
		list, _ := tm.ListModels(ctx)
		for _, name := range list {
			add(name)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (m *MultiModel) Complete(ctx context.Context, modelName string, messages []adapter.Message) (string, model.Usage, error) {
	tm := m.pick(modelName)
	if tm == nil {
		return "", model.Usage{}, fmt.Errorf("no provider for model %q: %w", modelName, domain.ErrOperationFailed)
	}
	return tm.Complete(ctx, modelName, messages)
}
