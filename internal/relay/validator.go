package relay

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/shohag/chatrelay/internal/delivery"
	"github.com/shohag/chatrelay/internal/discord"
	"github.com/shohag/chatrelay/internal/models"
)

// defaultRetryWait is used when a 429 carries no usable retry hint.
const defaultRetryWait = time.Second

type cacheEntry struct {
	endpoint models.Endpoint
	at       time.Time
}

// Validator checks candidate webhook URLs against Discord. Successful results
// are cached per URL; every uncached attempt stamps a per-URL cooldown.
type Validator struct {
	sender        *delivery.Sender
	journal       attemptRecorder
	defaultAvatar string
	cooldown      time.Duration
	timeout       time.Duration
	maxRetryWait  time.Duration
	cacheTTL      time.Duration
	log           zerolog.Logger

	mu        sync.Mutex
	attempted map[string]time.Time
	cache     map[string]cacheEntry
	inflight  singleflight.Group

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

type attemptRecorder interface {
	record(ctx context.Context, endpointID string, op models.AttemptOperation, status int, latencyMs int64, err error)
}

func newValidator(opts Options, sender *delivery.Sender, journal attemptRecorder, log zerolog.Logger) *Validator {
	return &Validator{
		sender:        sender,
		journal:       journal,
		defaultAvatar: opts.DefaultAvatar,
		cooldown:      opts.Cooldown,
		timeout:       opts.ValidationTimeout,
		maxRetryWait:  opts.MaxRetryWait,
		cacheTTL:      opts.CacheTTL,
		log:           log,
		attempted:     make(map[string]time.Time),
		cache:         make(map[string]cacheEntry),
		now:           time.Now,
		sleep:         sleepContext,
	}
}

// Validate resolves url to an Endpoint. A cached success is returned without
// a remote call; otherwise the cooldown is checked and stamped under one lock,
// and concurrent validations of the same URL share one remote call.
func (v *Validator) Validate(ctx context.Context, url string) (*models.Endpoint, error) {
	v.mu.Lock()
	now := v.now()
	if e, ok := v.cache[url]; ok {
		if v.cacheTTL <= 0 || now.Sub(e.at) < v.cacheTTL {
			v.mu.Unlock()
			ep := e.endpoint
			return &ep, nil
		}
		delete(v.cache, url)
	}
	if last, ok := v.attempted[url]; ok && v.cooldown > 0 {
		if elapsed := now.Sub(last); elapsed < v.cooldown {
			v.mu.Unlock()
			return nil, &Error{Kind: KindTooManyAttempts, RetryAfter: v.cooldown - elapsed}
		}
	}
	v.attempted[url] = now
	v.mu.Unlock()

	res, err, shared := v.inflight.Do(url, func() (any, error) {
		return v.validate(ctx, url)
	})
	if err != nil {
		return nil, err
	}
	if shared {
		v.log.Debug().Str("webhook_id", webhookIDFromURL(url)).Msg("joined in-flight validation")
	}
	ep := *res.(*models.Endpoint)
	return &ep, nil
}

// Forget drops the cached validation for url.
func (v *Validator) Forget(url string) {
	v.mu.Lock()
	delete(v.cache, url)
	v.mu.Unlock()
}

func (v *Validator) validate(ctx context.Context, url string) (*models.Endpoint, error) {
	id := webhookIDFromURL(url)

	// One bounded retry on 429, never more.
	for attempt := 0; ; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, v.timeout)
		res, err := v.sender.Probe(callCtx, url)
		cancel()
		if err != nil {
			v.journal.record(ctx, id, models.OperationValidate, 0, 0, err)
			return nil, &Error{Kind: KindInvalidWebhook, Err: fmt.Errorf("validating webhook: %w", err)}
		}
		v.journal.record(ctx, id, models.OperationValidate, res.StatusCode, res.LatencyMs, nil)

		if res.StatusCode == http.StatusTooManyRequests {
			wait, ok := delivery.RetryAfter(res.Header, res.Body)
			if !ok {
				wait = defaultRetryWait
			}
			if attempt > 0 || wait > v.maxRetryWait {
				return nil, &Error{Kind: KindRateLimited, Status: res.StatusCode, RetryAfter: wait}
			}

			v.log.Warn().
				Str("webhook_id", id).
				Dur("retry_after", wait).
				Msg("webhook validation rate limited, retrying once")
			if err := v.sleep(ctx, wait); err != nil {
				return nil, &Error{Kind: KindRateLimited, Status: res.StatusCode, RetryAfter: wait, Err: err}
			}
			continue
		}

		if !delivery.IsSuccess(res.StatusCode) {
			return nil, &Error{Kind: KindInvalidWebhook, Status: res.StatusCode}
		}

		ep, err := discord.ParseWebhook(res.Body, url, v.defaultAvatar)
		if err != nil {
			return nil, &Error{Kind: KindInvalidWebhook, Status: res.StatusCode, Err: err}
		}

		v.mu.Lock()
		v.cache[url] = cacheEntry{endpoint: *ep, at: v.now()}
		v.mu.Unlock()

		v.log.Info().
			Str("webhook_id", ep.ID).
			Str("channel_id", ep.ChannelID).
			Int("attempts", attempt+1).
			Msg("webhook validated")
		return ep, nil
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// webhookIDFromURL returns the id segment of .../webhooks/{id}/{token}. The
// token is a credential and is never logged.
func webhookIDFromURL(url string) string {
	_, rest, ok := strings.Cut(url, "/webhooks/")
	if !ok {
		return ""
	}
	id, _, _ := strings.Cut(rest, "/")
	return id
}
