package ai

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"content-batch/internal/domain"
	"content-batch/internal/domain/model"
	"content-batch/internal/domain/ports/adapter"
	"content-batch/internal/infra/metrics"
)

var _ adapter.ContentGenerator = (*PipelineGenerator)(nil)

// PipelineGenerator produces an artifact by running the idea, script, asset
// and assembly stages in order against a text model. Each stage sees the
// outputs of the stages before it.
type PipelineGenerator struct {
	text         adapter.TextModel
	defaultModel string
	log          *zerolog.Logger
}

func NewPipelineGenerator(text adapter.TextModel, defaultModel string, logger *zerolog.Logger) *PipelineGenerator {
	l := logger.With().Str("component", "pipeline-generator").Logger()
	return &PipelineGenerator{text: text, defaultModel: defaultModel, log: &l}
}

func (g *PipelineGenerator) Generate(ctx context.Context, req adapter.GenerationRequest) (*model.Artifact, error) {
	if err := req.Spec.Validate(); err != nil {
		return nil, err
	}
	modelName := modelOrDefault(req.Spec.Model, g.defaultModel)
	kind := string(req.Spec.Kind)

	cp := model.Checkpoint{Stage: req.Checkpoint.Stage, Outputs: map[string]string{}}
	for k, v := range req.Checkpoint.Outputs {
		cp.Outputs[k] = v
	}
	if cp.Stage != "" {
		g.log.Debug().Str("item_id", req.ItemID).Str("stage", string(cp.Stage)).Msg("resuming pipeline")
	}

	var usage model.Usage
	for _, stage := range model.StagesAfter(cp.Stage) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out, u, err := g.text.Complete(ctx, modelName, stageMessages(stage, req.Spec, cp.Outputs))
		metrics.IncGenerationStage(kind, string(stage), err == nil)
		if err != nil {
			return nil, fmt.Errorf("stage %s: %w", stage, err)
		}
		out = strings.TrimSpace(out)
		if out == "" {
			return nil, fmt.Errorf("stage %s returned no output: %w", stage, domain.ErrOperationFailed)
		}
		usage = usage.Add(u)
		cp.Stage = stage
		cp.Outputs[string(stage)] = out
		if req.OnCheckpoint != nil {
			if err := req.OnCheckpoint(ctx, cloneCheckpoint(cp)); err != nil {
				return nil, fmt.Errorf("checkpoint %s: %w", stage, err)
			}
		}
	}
	if usage.Model == "" {
		usage.Model = modelName
	}

	return &model.Artifact{
		ItemID:      req.ItemID,
		Kind:        req.Spec.Kind,
		Title:       titleFrom(cp.Outputs[string(model.StageIdea)], req.Spec.Topic),
		Body:        cp.Outputs[string(model.StageAssembly)],
		ContentType: contentTypeFor(req.Spec.Kind),
		Usage:       usage,
	}, nil
}

var stageInstructions = map[model.PipelineStage]string{
	model.StageIdea:     "Propose one concrete angle for the piece. First line: a title. Then two sentences describing the angle.",
	model.StageScript:   "Write the full draft following the chosen angle.",
	model.StageAsset:    "List the supporting assets the draft needs (images, b-roll, captions, hashtags), one per line.",
	model.StageAssembly: "Produce the final publish-ready piece combining the draft and the assets. Output only the piece.",
}

var kindGuidance = map[model.ContentKind]string{
	model.ContentArticle:    "You write long-form articles in markdown with headings.",
	model.ContentSocialPost: "You write short social media posts under 280 characters.",
	model.ContentVideo:      "You write short-form video scripts as numbered scenes with narration and on-screen text.",
}

func stageMessages(stage model.PipelineStage, spec model.ContentSpec, prev map[string]string) []adapter.Message {
	var sys strings.Builder
	sys.WriteString(kindGuidance[spec.Kind])
	if spec.Language != "" {
		fmt.Fprintf(&sys, " Write in %s.", spec.Language)
	}
	if len(spec.Params) > 0 {
		keys := make([]string, 0, len(spec.Params))
		for k := range spec.Params {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		sys.WriteString(" Constraints:")
		for _, k := range keys {
			fmt.Fprintf(&sys, " %s=%s;", k, spec.Params[k])
		}
	}

	msgs := []adapter.Message{{Role: "system", Content: sys.String()}}
	for _, s := range model.Stages {
		if s == stage {
			break
		}
		if out := prev[string(s)]; out != "" {
			msgs = append(msgs, adapter.Message{Role: "assistant", Content: out})
		}
	}

	var user strings.Builder
	fmt.Fprintf(&user, "Topic: %s\n", spec.Topic)
	if spec.Prompt != "" {
		fmt.Fprintf(&user, "Brief: %s\n", spec.Prompt)
	}
	user.WriteString(stageInstructions[stage])
	return append(msgs, adapter.Message{Role: "user", Content: user.String()})
}

func titleFrom(idea, topic string) string {
	line, _, _ := strings.Cut(strings.TrimSpace(idea), "\n")
	line = strings.Trim(strings.TrimSpace(line), "#*\" ")
	line = strings.TrimSpace(strings.TrimPrefix(line, "Title:"))
	if line == "" {
		return topic
	}
	return line
}

func contentTypeFor(k model.ContentKind) string {
	if k == model.ContentSocialPost {
		return "text/plain"
	}
	return "text/markdown"
}

func cloneCheckpoint(cp model.Checkpoint) model.Checkpoint {
	out := model.Checkpoint{Stage: cp.Stage, Outputs: make(map[string]string, len(cp.Outputs))}
	for k, v := range cp.Outputs {
		out.Outputs[k] = v
	}
	return out
}
