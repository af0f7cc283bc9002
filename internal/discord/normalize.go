package discord

import (
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/shohag/chatrelay/internal/models"
)

const (
	unknownAuthor  = "Unknown"
	unknownWebhook = "Unknown Webhook"

	// ISO-8601 in UTC with millisecond precision.
	timestampLayout = "2006-01-02T15:04:05.000Z07:00"
)

// ToChannelMessage maps a Discord message onto the relay's output shape.
// Slices are always non-nil so they encode as [] rather than null.
func ToChannelMessage(m *discordgo.Message, defaultAvatar string) models.ChannelMessage {
	out := models.ChannelMessage{
		ID:          m.ID,
		Content:     m.Content,
		Author:      toAuthor(m.Author, defaultAvatar),
		Timestamp:   FormatTimestamp(m.Timestamp),
		Embeds:      make([]models.MessageEmbed, 0, len(m.Embeds)),
		Attachments: make([]models.MessageAttachment, 0, len(m.Attachments)),
	}

	for _, e := range m.Embeds {
		if e == nil {
			continue
		}
		out.Embeds = append(out.Embeds, toEmbed(e))
	}
	for _, a := range m.Attachments {
		if a == nil {
			continue
		}
		out.Attachments = append(out.Attachments, models.MessageAttachment{
			URL:         a.URL,
			Filename:    a.Filename,
			ContentType: a.ContentType,
		})
	}
	return out
}

func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}

func toAuthor(u *discordgo.User, defaultAvatar string) models.MessageAuthor {
	author := models.MessageAuthor{Username: unknownAuthor, AvatarURL: defaultAvatar}
	if u == nil {
		return author
	}
	if u.Username != "" {
		author.Username = u.Username
	}
	if u.Avatar != "" {
		author.AvatarURL = u.AvatarURL("")
	}
	return author
}

func toEmbed(e *discordgo.MessageEmbed) models.MessageEmbed {
	embed := models.MessageEmbed{
		Title:       e.Title,
		Description: e.Description,
		Fields:      make([]models.MessageEmbedField, 0, len(e.Fields)),
	}
	for _, f := range e.Fields {
		if f == nil {
			continue
		}
		embed.Fields = append(embed.Fields, models.MessageEmbedField{Name: f.Name, Value: f.Value})
	}
	if e.Thumbnail != nil {
		embed.Thumbnail = e.Thumbnail.URL
	}
	if e.Image != nil {
		embed.Image = e.Image.URL
	}
	return embed
}
