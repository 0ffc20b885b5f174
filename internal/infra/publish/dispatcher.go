package publish

import (
	"context"
	"fmt"

	"content-batch/internal/domain"
	"content-batch/internal/domain/model"
	"content-batch/internal/domain/ports/adapter"
)

var _ adapter.Publisher = (*Dispatcher)(nil)

// Dispatcher routes a publish call to the publisher registered for the
// target's platform.
type Dispatcher struct {
	byPlatform map[model.Platform]adapter.Publisher
}

func NewDispatcher(byPlatform map[model.Platform]adapter.Publisher) *Dispatcher {
	m := make(map[model.Platform]adapter.Publisher, len(byPlatform))
	for k, v := range byPlatform {
		if v != nil {
			m[k] = v
		}
	}
	return &Dispatcher{byPlatform: m}
}

func (d *Dispatcher) Publish(ctx context.Context, target model.PublishTarget, artifact *model.Artifact) (model.PublishResult, error) {
	p, ok := d.byPlatform[target.Platform]
	if !ok {
		return model.PublishResult{}, fmt.Errorf("platform %q: %w", target.Platform, domain.ErrUnsupportedPlatform)
	}
	return p.Publish(ctx, target, artifact)
}
