package adapter

import (
	"context"

	"content-batch/internal/domain/model"
)

// GenerationRequest is one call for one work item.
type GenerationRequest struct {
	ItemID     string
	Spec       model.ContentSpec
	Checkpoint model.Checkpoint

	// OnCheckpoint, when set, is called after every completed pipeline stage
	// so the caller can persist progress. A returned error aborts generation.
	OnCheckpoint func(ctx context.Context, cp model.Checkpoint) error
}

// ContentGenerator turns a work item's spec into a finished artifact.
// Implementations must be safe for concurrent use and must not retry
// internally; retry policy belongs to the orchestrator.
type ContentGenerator interface {
	Generate(ctx context.Context, req GenerationRequest) (*model.Artifact, error)
}
