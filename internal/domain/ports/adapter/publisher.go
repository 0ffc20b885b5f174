package adapter

import (
	"context"

	"content-batch/internal/domain/model"
)

type Publisher interface {
	Publish(ctx context.Context, target model.PublishTarget, artifact *model.Artifact) (model.PublishResult, error)
}
