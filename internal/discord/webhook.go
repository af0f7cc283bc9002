package discord

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/bwmarrin/discordgo"

	"github.com/shohag/chatrelay/internal/models"
)

var ErrMissingWebhookID = errors.New("webhook response has no id")

// ParseWebhook turns the body of GET <webhook url> into an Endpoint.
// Name falls back to a placeholder and the avatar to defaultAvatar.
func ParseWebhook(body []byte, url, defaultAvatar string) (*models.Endpoint, error) {
	var wh discordgo.Webhook
	if err := json.Unmarshal(body, &wh); err != nil {
		return nil, fmt.Errorf("decoding webhook: %w", err)
	}
	if wh.ID == "" {
		return nil, ErrMissingWebhookID
	}

	ep := &models.Endpoint{
		ID:        wh.ID,
		Name:      wh.Name,
		AvatarURL: defaultAvatar,
		ChannelID: wh.ChannelID,
		GuildID:   wh.GuildID,
		URL:       url,
	}
	if ep.Name == "" {
		ep.Name = unknownWebhook
	}
	if wh.Avatar != "" {
		ep.AvatarURL = discordgo.EndpointUserAvatar(wh.ID, wh.Avatar)
	}
	return ep, nil
}
