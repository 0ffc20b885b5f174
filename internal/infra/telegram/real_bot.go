package telegram

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"content-batch/internal/domain"
	"content-batch/internal/domain/model"
	"content-batch/internal/domain/ports/adapter"
)

var _ adapter.Publisher = (*ChannelPublisher)(nil)

// maxMessageLen is Telegram's limit for one text message, in characters.
const maxMessageLen = 4096

// sender is the part of *tgbotapi.BotAPI the publisher needs.
type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// ChannelPublisher posts artifacts to a Telegram chat or public channel.
type ChannelPublisher struct {
	bot sender
	log *zerolog.Logger
}

func NewChannelPublisher(token string, logger *zerolog.Logger) (*ChannelPublisher, error) {
	if strings.TrimSpace(token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, err
	}
	return newChannelPublisher(bot, logger), nil
}

func newChannelPublisher(bot sender, logger *zerolog.Logger) *ChannelPublisher {
	l := logger.With().Str("component", "telegram-publisher").Logger()
	return &ChannelPublisher{bot: bot, log: &l}
}

// Publish sends the artifact as one or more text messages. Long bodies are
// split on line boundaries; the first message id identifies the post.
func (p *ChannelPublisher) Publish(ctx context.Context, target model.PublishTarget, artifact *model.Artifact) (model.PublishResult, error) {
	if target.Platform != model.PlatformTelegram {
		return model.PublishResult{}, domain.ErrUnsupportedPlatform
	}
	if err := target.Validate(); err != nil {
		return model.PublishResult{}, err
	}
	if artifact == nil {
		return model.PublishResult{}, domain.ErrInvalidArgument
	}
	params := target.Telegram

	text := artifact.Body
	if artifact.Title != "" {
		text = artifact.Title + "\n\n" + text
	}
	var first tgbotapi.Message
	for i, chunk := range splitMessage(text, maxMessageLen) {
		if err := ctx.Err(); err != nil {
			return model.PublishResult{}, err
		}
		msg := newMessage(params, chunk)
		sent, err := p.bot.Send(msg)
		if err != nil {
			return model.PublishResult{}, fmt.Errorf("telegram send part %d: %w", i+1, err)
		}
		if i == 0 {
			first = sent
		}
	}

	res := model.PublishResult{
		Platform:   model.PlatformTelegram,
		ExternalID: strconv.Itoa(first.MessageID),
	}
	if u := strings.TrimPrefix(params.ChannelUsername, "@"); u != "" {
		res.URL = fmt.Sprintf("https://t.me/%s/%d", u, first.MessageID)
	}
	p.log.Info().Str("item_id", artifact.ItemID).Str("external_id", res.ExternalID).Msg("published to telegram")
	return res, nil
}

func newMessage(params *model.TelegramParams, text string) tgbotapi.MessageConfig {
	var msg tgbotapi.MessageConfig
	if params.ChatID != 0 {
		msg = tgbotapi.NewMessage(params.ChatID, text)
	} else {
		username := params.ChannelUsername
		if !strings.HasPrefix(username, "@") {
			username = "@" + username
		}
		msg = tgbotapi.NewMessageToChannel(username, text)
	}
	msg.DisableNotification = params.Silent
	return msg
}

// splitMessage cuts text into chunks of at most limit runes, preferring
// newline boundaries.
func splitMessage(text string, limit int) []string {
	if utf8.RuneCountInString(text) <= limit {
		return []string{text}
	}
	var out []string
	runes := []rune(text)
	for len(runes) > limit {
		cut := limit
		for i := limit; i > limit/2; i-- {
			if runes[i-1] == '\n' {
				cut = i
				break
			}
		}
		out = append(out, strings.TrimRight(string(runes[:cut]), "\n"))
		runes = runes[cut:]
	}
	if len(runes) > 0 {
		out = append(out, string(runes))
	}
	return out
}
