package api

import (
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/shohag/chatrelay/internal/relay"
)

type errorResponse struct {
	Error      string `json:"error"`
	Code       string `json:"code,omitempty"`
	RetryAfter int    `json:"retryAfter,omitempty"`
	Status     int    `json:"status,omitempty"`
	Details    string `json:"details,omitempty"`
}

type successResponse struct {
	Success bool `json:"success"`
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// writeRelayError renders err with the status of its kind. Anything that is
// not a *relay.Error is logged and reported as a bare 500.
func writeRelayError(w http.ResponseWriter, log zerolog.Logger, err error) {
	var relayErr *relay.Error
	if !errors.As(err, &relayErr) {
		log.Error().Err(err).Msg("request failed")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	status := statusFor(relayErr.Kind)
	resp := errorResponse{
		Error:  relayErr.Message(),
		Code:   string(relayErr.Kind),
		Status: relayErr.Status,
	}
	if relayErr.Kind == relay.KindRelayFailed {
		resp.Details = relayErr.Detail
	}
	if relayErr.RetryAfter > 0 {
		resp.RetryAfter = retrySeconds(relayErr.RetryAfter)
	}
	if status == http.StatusTooManyRequests {
		secs := resp.RetryAfter
		if secs == 0 {
			secs = 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(secs))
	}
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Str("code", resp.Code).Msg("request failed")
	}
	writeJSON(w, status, resp)
}

func statusFor(kind relay.Kind) int {
	switch kind {
	case relay.KindInvalidFormat, relay.KindDuplicateEndpoint,
		relay.KindEmptyMessage, relay.KindInvalidChannel:
		return http.StatusBadRequest
	case relay.KindTooManyAttempts, relay.KindRateLimited, relay.KindInvalidWebhook:
		return http.StatusTooManyRequests
	case relay.KindNotFound, relay.KindChannelNotFound:
		return http.StatusNotFound
	case relay.KindAttachmentTooLarge, relay.KindTooManyAttachments:
		return http.StatusRequestEntityTooLarge
	case relay.KindForbidden:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

func retrySeconds(d time.Duration) int {
	return int(math.Ceil(d.Seconds()))
}
