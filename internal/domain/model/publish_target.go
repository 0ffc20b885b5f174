package model

import "content-batch/internal/domain"

type Platform string

const (
	PlatformInstagram Platform = "instagram"
	PlatformTikTok    Platform = "tiktok"
	PlatformYouTube   Platform = "youtube"
	PlatformTelegram  Platform = "telegram"
)

type InstagramParams struct {
	AccountHandle string   `json:"account_handle"`
	Hashtags      []string `json:"hashtags,omitempty"`
	ShareToFeed   bool     `json:"share_to_feed"`
}

type TikTokParams struct {
	AccountHandle string `json:"account_handle"`
	Privacy       string `json:"privacy"` // public | friends | private
	AllowDuet     bool   `json:"allow_duet"`
}

type YouTubeParams struct {
	ChannelID   string   `json:"channel_id"`
	Title       string   `json:"title,omitempty"`
	Tags        []string `json:"tags,omitempty"`
	Shorts      bool     `json:"shorts"`
	PrivacyType string   `json:"privacy_type"` // public | unlisted | private
}

type TelegramParams struct {
	ChatID          int64  `json:"chat_id,omitempty"`
	ChannelUsername string `json:"channel_username,omitempty"`
	Silent          bool   `json:"silent"`
}

// PublishTarget is a tagged variant: Platform selects which params field is set.
type PublishTarget struct {
	Platform  Platform         `json:"platform"`
	Instagram *InstagramParams `json:"instagram,omitempty"`
	TikTok    *TikTokParams    `json:"tiktok,omitempty"`
	YouTube   *YouTubeParams   `json:"youtube,omitempty"`
	Telegram  *TelegramParams  `json:"telegram,omitempty"`
}

func (t PublishTarget) Validate() error {
	var ok bool
	switch t.Platform {
	case PlatformInstagram:
		ok = t.Instagram != nil && t.Instagram.AccountHandle != ""
	case PlatformTikTok:
		ok = t.TikTok != nil && t.TikTok.AccountHandle != ""
	case PlatformYouTube:
		ok = t.YouTube != nil && t.YouTube.ChannelID != ""
	case PlatformTelegram:
		ok = t.Telegram != nil && (t.Telegram.ChatID != 0 || t.Telegram.ChannelUsername != "")
	default:
		return domain.ErrUnsupportedPlatform
	}
	if !ok {
		return domain.ErrInvalidArgument
	}
	return nil
}

type PublishResult struct {
	Platform   Platform `json:"platform"`
	ExternalID string   `json:"external_id"`
	URL        string   `json:"url,omitempty"`
}
