package publish

import (
	"context"
	"fmt"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"content-batch/internal/domain"
	"content-batch/internal/domain/model"
	"content-batch/internal/domain/ports/adapter"
)

var _ adapter.Publisher = (*LogPublisher)(nil)

// LogPublisher records the publish request in the log and returns a local
// id. It stands in for platforms without an API integration.
type LogPublisher struct {
	platform model.Platform
	log      *zerolog.Logger
}

func NewLogPublisher(platform model.Platform, logger *zerolog.Logger) *LogPublisher {
	l := logger.With().Str("component", "publisher").Str("platform", string(platform)).Logger()
	return &LogPublisher{platform: platform, log: &l}
}

func (p *LogPublisher) Publish(ctx context.Context, target model.PublishTarget, artifact *model.Artifact) (model.PublishResult, error) {
	if target.Platform != p.platform {
		return model.PublishResult{}, domain.ErrUnsupportedPlatform
	}
	if err := target.Validate(); err != nil {
		return model.PublishResult{}, err
	}
	if artifact == nil {
		return model.PublishResult{}, domain.ErrInvalidArgument
	}

	ev := p.log.Info().
		Str("item_id", artifact.ItemID).
		Str("kind", string(artifact.Kind)).
		Str("title", artifact.Title).
		Int("body_len", len(artifact.Body))
	switch p.platform {
	case model.PlatformInstagram:
		ev = ev.Str("account", target.Instagram.AccountHandle).Strs("hashtags", target.Instagram.Hashtags).Bool("share_to_feed", target.Instagram.ShareToFeed)
	case model.PlatformTikTok:
		ev = ev.Str("account", target.TikTok.AccountHandle).Str("privacy", target.TikTok.Privacy).Bool("allow_duet", target.TikTok.AllowDuet)
	case model.PlatformYouTube:
		ev = ev.Str("channel", target.YouTube.ChannelID).Strs("tags", target.YouTube.Tags).Bool("shorts", target.YouTube.Shorts).Str("privacy", target.YouTube.PrivacyType)
	}
	id := ulid.Make().String()
	ev.Str("external_id", id).Msg("publish recorded")

	return model.PublishResult{
		Platform:   p.platform,
		ExternalID: id,
		URL:        fmt.Sprintf("log://%s/%s", p.platform, id),
	}, nil
}
