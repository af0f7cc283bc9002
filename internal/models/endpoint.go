package models

import "time"

// Endpoint is a validated Discord webhook held by the registry.
type Endpoint struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	AvatarURL string    `json:"avatarUrl"`
	ChannelID string    `json:"channelId"`
	GuildID   string    `json:"guildId,omitempty"`
	URL       string    `json:"url"`
	CreatedAt time.Time `json:"createdAt"`
}
