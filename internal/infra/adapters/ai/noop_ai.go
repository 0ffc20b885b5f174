package ai

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"content-batch/internal/domain/model"
	"content-batch/internal/domain/ports/adapter"
)

var _ adapter.TextModel = (*NoopModel)(nil)

const noopModelName = "noop-model"

// NoopModel answers every prompt with a deterministic echo. It is used in
// dev mode when no provider keys are configured.
type NoopModel struct {
	delay time.Duration
	log   *zerolog.Logger
}

func NewNoopModel(delay time.Duration, logger *zerolog.Logger) *NoopModel {
	l := logger.With().Str("component", "noop-model").Logger()
	return &NoopModel{delay: delay, log: &l}
}

func (a *NoopModel) ListModels(ctx context.Context) ([]string, error) {
	return []string{noopModelName}, nil
}

func (a *NoopModel) Complete(ctx context.Context, modelName string, messages []adapter.Message) (string, model.Usage, error) {
	if a.delay > 0 {
		select {
		case <-time.After(a.delay):
		case <-ctx.Done():
			return "", model.Usage{}, ctx.Err()
		}
	}
	modelName = modelOrDefault(modelName, noopModelName)
	prompt := ""
	if len(messages) > 0 {
		prompt = messages[len(messages)-1].Content
	}
	a.log.Debug().Str("model", modelName).Int("messages", len(messages)).Msg("noop completion")

	out := fmt.Sprintf("[%s] %s", modelName, prompt)
	u := model.Usage{
		Model:        modelName,
		PromptTokens: roughTokens(prompt),
		OutputTokens: roughTokens(out),
	}
	u.ResourceUnits = u.PromptTokens + u.OutputTokens
	return out, u, nil
}
