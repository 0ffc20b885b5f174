package usecase

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"

	"content-batch/internal/domain"
	"content-batch/internal/domain/model"
	"content-batch/internal/domain/ports/adapter"
	"content-batch/internal/domain/ports/repository"
	"content-batch/internal/infra/logging"
)

// Compile-time check
var _ PublishUseCase = (*publishUC)(nil)

type PublishUseCase interface {
	// Publish sends the artifact of a done item to target.
	Publish(ctx context.Context, itemID string, target model.PublishTarget) (model.PublishResult, error)
}

type publishUC struct {
	items     repository.WorkItemRepository
	blobs     adapter.BlobStore
	publisher adapter.Publisher
	log       *zerolog.Logger
}

func NewPublishUseCase(items repository.WorkItemRepository, blobs adapter.BlobStore, publisher adapter.Publisher, logger *zerolog.Logger) *publishUC {
	if logger == nil {
		logger = logging.Nop()
	}
	l := logger.With().Str("component", "publish").Logger()
	return &publishUC{items: items, blobs: blobs, publisher: publisher, log: &l}
}

func (u *publishUC) Publish(ctx context.Context, itemID string, target model.PublishTarget) (model.PublishResult, error) {
	if err := target.Validate(); err != nil {
		return model.PublishResult{}, err
	}
	item, err := u.items.FindByID(ctx, repository.NoTX, itemID)
	if err != nil {
		return model.PublishResult{}, err
	}
	if item.Status != model.WorkItemDone || item.ArtifactRef == "" {
		return model.PublishResult{}, fmt.Errorf("%w: item %s has no finished artifact", domain.ErrInvalidArgument, itemID)
	}

	raw, err := u.blobs.Get(ctx, item.ArtifactRef)
	if err != nil {
		return model.PublishResult{}, fmt.Errorf("load artifact: %w", err)
	}
	var artifact model.Artifact
	if err := json.Unmarshal(raw, &artifact); err != nil {
		return model.PublishResult{}, fmt.Errorf("decode artifact: %w", err)
	}
	artifact.Ref = item.ArtifactRef

	res, err := u.publisher.Publish(ctx, target, &artifact)
	if err != nil {
		u.log.Warn().Err(err).Str("item_id", itemID).Str("platform", string(target.Platform)).Msg("publish failed")
		return model.PublishResult{}, err
	}
	u.log.Info().Str("item_id", itemID).Str("platform", string(res.Platform)).Str("external_id", res.ExternalID).Msg("published")
	return res, nil
}
