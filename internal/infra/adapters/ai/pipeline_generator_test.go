//go:build !integration

package ai_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"content-batch/internal/domain/model"
	"content-batch/internal/domain/ports/adapter"
	ai "content-batch/internal/infra/adapters/ai"
)

// scriptedModel answers with the stage keyword found in the last prompt.
type scriptedModel struct {
	mu      sync.Mutex
	prompts []string
	failOn  string
}

func (s *scriptedModel) ListModels(ctx context.Context) ([]string, error) { return nil, nil }

func (s *scriptedModel) Complete(ctx context.Context, modelName string, messages []adapter.Message) (string, model.Usage, error) {
	last := messages[len(messages)-1].Content
	s.mu.Lock()
	s.prompts = append(s.prompts, last)
	s.mu.Unlock()
	if s.failOn != "" && strings.Contains(last, s.failOn) {
		return "", model.Usage{}, errors.New("provider down")
	}
	var out string
	switch {
	case strings.Contains(last, "full draft"):
		out = "draft"
	case strings.Contains(last, "angle"):
		out = "Title: Great Idea\nangle text"
	case strings.Contains(last, "supporting assets"):
		out = "assets"
	default:
		out = "final piece"
	}
	return out, model.Usage{Model: modelName, PromptTokens: 2, OutputTokens: 3, ResourceUnits: 5}, nil
}

func TestPipelineGenerator(t *testing.T) {
	logger := zerolog.Nop()
	spec := model.ContentSpec{Kind: model.ContentArticle, Topic: "go generics"}

	t.Run("runs all stages and checkpoints after each", func(t *testing.T) {
		tm := &scriptedModel{}
		g := ai.NewPipelineGenerator(tm, "test-model", &logger)

		var stages []model.PipelineStage
		art, err := g.Generate(context.Background(), adapter.GenerationRequest{
			ItemID: "item-1",
			Spec:   spec,
			OnCheckpoint: func(ctx context.Context, cp model.Checkpoint) error {
				stages = append(stages, cp.Stage)
				return nil
			},
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(stages) != 4 || stages[3] != model.StageAssembly {
			t.Fatalf("checkpoints = %v", stages)
		}
		if art.Title != "Great Idea" || art.Body != "final piece" {
			t.Fatalf("artifact = %+v", art)
		}
		if art.Usage.ResourceUnits != 20 || art.Usage.Model != "test-model" {
			t.Fatalf("usage = %+v", art.Usage)
		}
		if art.ContentType != "text/markdown" || art.ItemID != "item-1" {
			t.Fatalf("artifact = %+v", art)
		}
	})

	t.Run("resumes after the checkpointed stage", func(t *testing.T) {
		tm := &scriptedModel{}
		g := ai.NewPipelineGenerator(tm, "test-model", &logger)

		art, err := g.Generate(context.Background(), adapter.GenerationRequest{
			ItemID: "item-2",
			Spec:   spec,
			Checkpoint: model.Checkpoint{
				Stage:   model.StageScript,
				Outputs: map[string]string{"idea": "Saved Title\nx", "script": "draft"},
			},
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(tm.prompts) != 2 {
			t.Fatalf("expected 2 stage calls after resume, got %d", len(tm.prompts))
		}
		if art.Title != "Saved Title" {
			t.Fatalf("title = %q", art.Title)
		}
	})

	t.Run("stage failure keeps the last good checkpoint", func(t *testing.T) {
		tm := &scriptedModel{failOn: "supporting assets"}
		g := ai.NewPipelineGenerator(tm, "test-model", &logger)

		var last model.Checkpoint
		_, err := g.Generate(context.Background(), adapter.GenerationRequest{
			ItemID: "item-3",
			Spec:   spec,
			OnCheckpoint: func(ctx context.Context, cp model.Checkpoint) error {
				last = cp
				return nil
			},
		})
		if err == nil {
			t.Fatal("expected error")
		}
		if last.Stage != model.StageScript || last.Outputs["script"] != "draft" {
			t.Fatalf("last checkpoint = %+v", last)
		}
	})

	t.Run("checkpoint error aborts generation", func(t *testing.T) {
		tm := &scriptedModel{}
		g := ai.NewPipelineGenerator(tm, "test-model", &logger)
		boom := errors.New("save failed")
		_, err := g.Generate(context.Background(), adapter.GenerationRequest{
			ItemID:       "item-4",
			Spec:         spec,
			OnCheckpoint: func(ctx context.Context, cp model.Checkpoint) error { return boom },
		})
		if !errors.Is(err, boom) {
			t.Fatalf("expected checkpoint error, got %v", err)
		}
		if len(tm.prompts) != 1 {
			t.Fatalf("expected to stop after first stage, got %d calls", len(tm.prompts))
		}
	})

	t.Run("works end to end with the noop model", func(t *testing.T) {
		g := ai.NewPipelineGenerator(ai.NewNoopModel(0, &logger), "", &logger)
		art, err := g.Generate(context.Background(), adapter.GenerationRequest{
			ItemID: "item-5",
			Spec:   model.ContentSpec{Kind: model.ContentSocialPost, Topic: "launch"},
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if art.Body == "" || art.ContentType != "text/plain" || art.Usage.ResourceUnits == 0 {
			t.Fatalf("artifact = %+v", art)
		}
	})
}

func TestLimitedModel(t *testing.T) {
	t.Run("returns the context error while waiting for a slot", func(t *testing.T) {
		block := make(chan struct{})
		inner := &blockingModel{release: block, started: make(chan struct{})}
		lm := ai.NewLimitedModel(inner, 1)

		done := make(chan struct{})
		go func() {
			_, _, _ = lm.Complete(context.Background(), "m", nil)
			close(done)
		}()
		<-inner.started

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		if _, _, err := lm.Complete(ctx, "m", nil); !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
		close(block)
		<-done
	})
}

type blockingModel struct {
	once    sync.Once
	started chan struct{}
	release chan struct{}
}

func (b *blockingModel) ListModels(ctx context.Context) ([]string, error) { return nil, nil }

func (b *blockingModel) Complete(ctx context.Context, modelName string, messages []adapter.Message) (string, model.Usage, error) {
	b.once.Do(func() { close(b.started) })
	<-b.release
	return "ok", model.Usage{}, nil
}
