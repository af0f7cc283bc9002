package relay

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/rs/zerolog"

	"github.com/shohag/chatrelay/internal/config"
	"github.com/shohag/chatrelay/internal/delivery"
	"github.com/shohag/chatrelay/internal/discord"
	"github.com/shohag/chatrelay/internal/models"
	"github.com/shohag/chatrelay/internal/storage"
)

// PrivacyNotice is returned with every newly registered webhook.
const PrivacyNotice = "Messages you send through this webhook are forwarded to Discord and " +
	"are visible to everyone who can read the target channel. This relay keeps " +
	"registered webhooks in memory only and does not store message contents."

const (
	maxErrorBody   = 1024
	maxFetchLimit  = 100
	readPermission = discordgo.PermissionViewChannel | discordgo.PermissionReadMessageHistory
)

type Options struct {
	WebhookPrefixes   []string
	DefaultAvatar     string
	Cooldown          time.Duration
	ValidationTimeout time.Duration
	MaxRetryWait      time.Duration
	CacheTTL          time.Duration
	RelayTimeout      time.Duration
	MaxFileSize       int64
	MaxFiles          int
	FetchLimit        int
}

func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		WebhookPrefixes:   cfg.Discord.WebhookPrefix,
		DefaultAvatar:     cfg.Discord.DefaultAvatar,
		Cooldown:          cfg.Validation.Cooldown,
		ValidationTimeout: cfg.Validation.Timeout,
		MaxRetryWait:      cfg.Validation.MaxRetryWait,
		CacheTTL:          cfg.Validation.CacheTTL,
		RelayTimeout:      cfg.Relay.Timeout,
		MaxFileSize:       cfg.Relay.MaxFileSize,
		MaxFiles:          cfg.Relay.MaxFiles,
		FetchLimit:        cfg.Relay.FetchLimit,
	}
}

// ChannelReader reads channels through the bot session.
type ChannelReader interface {
	Channel(ctx context.Context, channelID string) (*discordgo.Channel, error)
	Permissions(ctx context.Context, channelID string) (int64, error)
	Messages(ctx context.Context, channelID string, limit int) ([]*discordgo.Message, error)
}

// Service owns the webhook registry, the validator state and the relay.
// It is constructed once and shared by all request handlers.
type Service struct {
	opts      Options
	store     storage.EndpointStore
	journal   storage.Journal
	sender    *delivery.Sender
	reader    ChannelReader
	validator *Validator
	log       zerolog.Logger
}

func NewService(opts Options, store storage.EndpointStore, journal storage.Journal, sender *delivery.Sender, reader ChannelReader, log zerolog.Logger) *Service {
	if journal == nil {
		journal = storage.NopJournal{}
	}
	if opts.FetchLimit <= 0 || opts.FetchLimit > maxFetchLimit {
		opts.FetchLimit = 50
	}
	log = log.With().Str("component", "relay").Logger()

	s := &Service{
		opts:    opts,
		store:   store,
		journal: journal,
		sender:  sender,
		reader:  reader,
		log:     log,
	}
	s.validator = newValidator(opts, sender, s, log)
	return s
}

// Register validates a webhook URL against Discord. It does not store it.
func (s *Service) Register(ctx context.Context, url string) (*models.Endpoint, error) {
	if !s.hasPrefix(url) {
		return nil, ErrInvalidFormat
	}
	return s.validator.Validate(ctx, url)
}

// Add stores a validated endpoint and returns it with the privacy notice.
func (s *Service) Add(ctx context.Context, ep *models.Endpoint) (*models.Endpoint, string, error) {
	stored := *ep
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now().UTC()
	}

	if err := s.store.Insert(ctx, &stored); err != nil {
		if errors.Is(err, storage.ErrDuplicateURL) {
			return nil, "", ErrDuplicateEndpoint
		}
		return nil, "", fmt.Errorf("storing endpoint: %w", err)
	}

	s.log.Info().Str("webhook_id", stored.ID).Str("channel_id", stored.ChannelID).Msg("webhook registered")
	return &stored, PrivacyNotice, nil
}

func (s *Service) Delete(ctx context.Context, id string) error {
	ep, err := s.store.Delete(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("deleting endpoint: %w", err)
	}
	s.validator.Forget(ep.URL)

	s.log.Info().Str("webhook_id", id).Msg("webhook deleted")
	return nil
}

func (s *Service) Lookup(ctx context.Context, id string) (*models.Endpoint, error) {
	ep, err := s.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("looking up endpoint: %w", err)
	}
	return ep, nil
}

func (s *Service) List(ctx context.Context) ([]models.Endpoint, error) {
	eps, err := s.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing endpoints: %w", err)
	}
	if eps == nil {
		eps = []models.Endpoint{}
	}
	return eps, nil
}

func (s *Service) Attempts(ctx context.Context, id string, limit int) ([]models.Attempt, error) {
	return s.journal.ListAttempts(ctx, id, limit)
}

// Send relays content and attachments to a registered endpoint.
func (s *Service) Send(ctx context.Context, endpointID, content string, files []models.Attachment) error {
	if strings.TrimSpace(content) == "" && len(files) == 0 {
		return ErrEmptyMessage
	}
	if len(files) > s.opts.MaxFiles {
		return &Error{Kind: KindTooManyAttachments, Detail: fmt.Sprintf("at most %d files", s.opts.MaxFiles)}
	}
	for _, f := range files {
		if int64(len(f.Data)) > s.opts.MaxFileSize {
			return &Error{Kind: KindAttachmentTooLarge, Detail: f.Filename}
		}
	}

	ep, err := s.Lookup(ctx, endpointID)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.RelayTimeout)
	defer cancel()

	res, err := s.sender.Send(ctx, ep.URL, content, files)
	if err != nil {
		s.record(ctx, ep.ID, models.OperationSend, 0, 0, err)
		return newError(KindRelayFailed, err)
	}
	s.record(ctx, ep.ID, models.OperationSend, res.StatusCode, res.LatencyMs, nil)

	if !delivery.IsSuccess(res.StatusCode) {
		body := string(res.Body)
		if len(body) > maxErrorBody {
			body = body[:maxErrorBody]
		}
		return &Error{Kind: KindRelayFailed, Status: res.StatusCode, Detail: body}
	}

	s.log.Debug().
		Str("webhook_id", ep.ID).
		Int("files", len(files)).
		Int64("latency_ms", res.LatencyMs).
		Msg("message relayed")
	return nil
}

// FetchRecent reads the newest messages of a channel through the bot session,
// in Discord's order (newest first).
func (s *Service) FetchRecent(ctx context.Context, channelID string) ([]models.ChannelMessage, error) {
	channelID = strings.TrimSpace(channelID)
	if !isSnowflake(channelID) {
		return nil, ErrInvalidChannel
	}
	if s.reader == nil {
		return nil, &Error{Kind: KindFetchFailed, Detail: "bot session unavailable"}
	}

	ch, err := s.reader.Channel(ctx, channelID)
	if err != nil {
		return nil, classifyBotError(err, KindChannelNotFound)
	}
	if ch == nil || !discord.IsTextChannel(ch.Type) {
		return nil, ErrChannelNotFound
	}

	perms, err := s.reader.Permissions(ctx, channelID)
	if err != nil {
		return nil, classifyBotError(err, KindFetchFailed)
	}
	if perms&readPermission != readPermission {
		return nil, ErrForbidden
	}

	msgs, err := s.reader.Messages(ctx, channelID, s.opts.FetchLimit)
	if err != nil {
		return nil, classifyBotError(err, KindFetchFailed)
	}
	if len(msgs) > s.opts.FetchLimit {
		msgs = msgs[:s.opts.FetchLimit]
	}

	out := make([]models.ChannelMessage, 0, len(msgs))
	for _, m := range msgs {
		if m == nil {
			continue
		}
		out = append(out, discord.ToChannelMessage(m, s.opts.DefaultAvatar))
	}
	return out, nil
}

func classifyBotError(err error, notFound Kind) error {
	switch {
	case discord.IsNotFound(err) && notFound == KindChannelNotFound:
		return newError(KindChannelNotFound, err)
	case discord.IsForbidden(err):
		return newError(KindForbidden, err)
	default:
		return newError(KindFetchFailed, err)
	}
}

func (s *Service) hasPrefix(url string) bool {
	for _, p := range s.opts.WebhookPrefixes {
		if p != "" && strings.HasPrefix(url, p) && len(url) > len(p) {
			return true
		}
	}
	return false
}

// record writes an attempt to the journal. Journal failures never fail the
// operation being recorded.
func (s *Service) record(ctx context.Context, endpointID string, op models.AttemptOperation, status int, latencyMs int64, callErr error) {
	a := &models.Attempt{
		ID:         models.NewID("att"),
		EndpointID: endpointID,
		Operation:  op,
		StatusCode: status,
		LatencyMs:  latencyMs,
		CreatedAt:  time.Now().UTC(),
	}
	if callErr != nil {
		a.Error = callErr.Error()
	}
	if err := s.journal.CreateAttempt(context.WithoutCancel(ctx), a); err != nil {
		s.log.Error().Err(err).Str("webhook_id", endpointID).Msg("failed to record attempt")
	}
}

func isSnowflake(id string) bool {
	if id == "" || len(id) > 20 {
		return false
	}
	for _, r := range id {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
