package discord

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/rs/zerolog"

	"github.com/shohag/chatrelay/internal/config"
)

// Session is the part of *discordgo.Session the bot reads through.
type Session interface {
	Channel(channelID string, options ...discordgo.RequestOption) (*discordgo.Channel, error)
	UserChannelPermissions(userID, channelID string, fetchOptions ...discordgo.RequestOption) (int64, error)
	ChannelMessages(channelID string, limit int, beforeID, afterID, aroundID string, options ...discordgo.RequestOption) ([]*discordgo.Message, error)
}

// Bot is the long-lived authenticated bot connection used for reading
// channels. Webhook posting never goes through it.
type Bot struct {
	session Session
	userID  string
	timeout time.Duration
	close   func() error
}

// Open authenticates with the bot token and connects to the gateway. An error
// here means the process cannot serve message history and should stop.
func Open(ctx context.Context, cfg config.DiscordConfig, log zerolog.Logger) (*Bot, error) {
	if cfg.Token == "" {
		return nil, errors.New("discord.token is not set")
	}

	s, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("creating discord session: %w", err)
	}
	s.Client = &http.Client{Timeout: cfg.Timeout}
	s.Identify.Intents = discordgo.IntentsGuilds | discordgo.IntentsGuildMessages
	s.ShouldReconnectOnError = true

	me, err := s.User("@me", discordgo.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("authenticating bot: %w", err)
	}

	if err := s.Open(); err != nil {
		return nil, fmt.Errorf("opening discord gateway: %w", err)
	}

	log.Info().
		Str("component", "discord").
		Str("bot_id", me.ID).
		Str("bot_username", me.Username).
		Msg("discord bot session ready")

	bot := NewBot(s, me.ID, cfg.Timeout)
	bot.close = s.Close
	return bot, nil
}

func NewBot(session Session, userID string, timeout time.Duration) *Bot {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Bot{session: session, userID: userID, timeout: timeout}
}

func (b *Bot) UserID() string { return b.userID }

func (b *Bot) Channel(ctx context.Context, channelID string) (*discordgo.Channel, error) {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()
	return b.session.Channel(channelID, discordgo.WithContext(ctx))
}

// Permissions returns the bot user's effective permission bits on a channel.
func (b *Bot) Permissions(ctx context.Context, channelID string) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()
	return b.session.UserChannelPermissions(b.userID, channelID, discordgo.WithContext(ctx))
}

// Messages returns up to limit of the newest messages, newest first.
func (b *Bot) Messages(ctx context.Context, channelID string, limit int) ([]*discordgo.Message, error) {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()
	return b.session.ChannelMessages(channelID, limit, "", "", "", discordgo.WithContext(ctx))
}

func (b *Bot) Close() error {
	if b.close == nil {
		return nil
	}
	return b.close()
}

// IsTextChannel reports whether messages can be read from a channel type.
func IsTextChannel(t discordgo.ChannelType) bool {
	switch t {
	case discordgo.ChannelTypeGuildText,
		discordgo.ChannelTypeDM,
		discordgo.ChannelTypeGroupDM,
		discordgo.ChannelTypeGuildNews,
		discordgo.ChannelTypeGuildVoice,
		discordgo.ChannelTypeGuildStageVoice,
		discordgo.ChannelTypeGuildNewsThread,
		discordgo.ChannelTypeGuildPublicThread,
		discordgo.ChannelTypeGuildPrivateThread:
		return true
	}
	return false
}

// IsNotFound reports whether a REST error means the resource does not exist
// or is invisible to the bot.
func IsNotFound(err error) bool {
	var restErr *discordgo.RESTError
	if !errors.As(err, &restErr) {
		return false
	}
	if restErr.Response != nil && restErr.Response.StatusCode == http.StatusNotFound {
		return true
	}
	return restErr.Message != nil && restErr.Message.Code == discordgo.ErrCodeUnknownChannel
}

// IsForbidden reports whether a REST error is a missing access/permission error.
func IsForbidden(err error) bool {
	var restErr *discordgo.RESTError
	if !errors.As(err, &restErr) {
		return false
	}
	if restErr.Response != nil && restErr.Response.StatusCode == http.StatusForbidden {
		return true
	}
	return restErr.Message != nil &&
		(restErr.Message.Code == discordgo.ErrCodeMissingAccess || restErr.Message.Code == discordgo.ErrCodeMissingPermissions)
}
