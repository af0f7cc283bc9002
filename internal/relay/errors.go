package relay

import (
	"fmt"
	"strings"
	"time"
)

type Kind string

const (
	KindInvalidFormat      Kind = "invalid_format"
	KindTooManyAttempts    Kind = "too_many_attempts"
	KindDuplicateEndpoint  Kind = "duplicate_endpoint"
	KindInvalidWebhook     Kind = "invalid_webhook"
	KindRateLimited        Kind = "rate_limited"
	KindNotFound           Kind = "not_found"
	KindEmptyMessage       Kind = "empty_message"
	KindAttachmentTooLarge Kind = "attachment_too_large"
	KindTooManyAttachments Kind = "too_many_attachments"
	KindRelayFailed        Kind = "relay_failed"
	KindInvalidChannel     Kind = "invalid_channel"
	KindChannelNotFound    Kind = "channel_not_found"
	KindForbidden          Kind = "forbidden"
	KindFetchFailed        Kind = "fetch_failed"
)

var messages = map[Kind]string{
	KindInvalidFormat:      "invalid webhook url format",
	KindTooManyAttempts:    "too many validation attempts, try again shortly",
	KindDuplicateEndpoint:  "webhook already registered",
	KindInvalidWebhook:     "webhook validation failed",
	KindRateLimited:        "rate limited by discord",
	KindNotFound:           "webhook not found",
	KindEmptyMessage:       "message needs content or at least one attachment",
	KindAttachmentTooLarge: "attachment exceeds size limit",
	KindTooManyAttachments: "too many attachments",
	KindRelayFailed:        "failed to send message",
	KindInvalidChannel:     "invalid channel id",
	KindChannelNotFound:    "channel not found or not a text channel",
	KindForbidden:          "bot cannot read this channel",
	KindFetchFailed:        "failed to fetch messages",
}

// Error is the failure type of every relay operation. Match kinds with
// errors.Is against the Err* sentinels.
type Error struct {
	Kind       Kind
	Status     int           // remote HTTP status, when there was one
	RetryAfter time.Duration // suggested wait for throttling kinds
	Detail     string
	Err        error
}

var (
	ErrInvalidFormat      = &Error{Kind: KindInvalidFormat}
	ErrTooManyAttempts    = &Error{Kind: KindTooManyAttempts}
	ErrDuplicateEndpoint  = &Error{Kind: KindDuplicateEndpoint}
	ErrInvalidWebhook     = &Error{Kind: KindInvalidWebhook}
	ErrRateLimited        = &Error{Kind: KindRateLimited}
	ErrNotFound           = &Error{Kind: KindNotFound}
	ErrEmptyMessage       = &Error{Kind: KindEmptyMessage}
	ErrAttachmentTooLarge = &Error{Kind: KindAttachmentTooLarge}
	ErrTooManyAttachments = &Error{Kind: KindTooManyAttachments}
	ErrRelayFailed        = &Error{Kind: KindRelayFailed}
	ErrInvalidChannel     = &Error{Kind: KindInvalidChannel}
	ErrChannelNotFound    = &Error{Kind: KindChannelNotFound}
	ErrForbidden          = &Error{Kind: KindForbidden}
	ErrFetchFailed        = &Error{Kind: KindFetchFailed}
)

func (e *Error) Message() string {
	if msg, ok := messages[e.Kind]; ok {
		return msg
	}
	return string(e.Kind)
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Message())
	if e.Status != 0 {
		fmt.Fprintf(&b, " (status %d)", e.Status)
	}
	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

func newError(kind Kind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}
