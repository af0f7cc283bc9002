package delivery

import (
	"encoding/json"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"
)

func IsSuccess(statusCode int) bool {
	return statusCode >= 200 && statusCode < 300
}

// RetryAfter extracts the wait suggested by a rate-limited response. Discord
// sends whole seconds in Retry-After and fractional seconds in the JSON body.
func RetryAfter(h http.Header, body []byte) (time.Duration, bool) {
	if v := strings.TrimSpace(h.Get("Retry-After")); v != "" {
		if secs, err := strconv.ParseFloat(v, 64); err == nil && secs >= 0 {
			return seconds(secs), true
		}
		if at, err := http.ParseTime(v); err == nil {
			d := time.Until(at)
			if d < 0 {
				d = 0
			}
			return d, true
		}
	}

	if v := strings.TrimSpace(h.Get("X-RateLimit-Reset-After")); v != "" {
		if secs, err := strconv.ParseFloat(v, 64); err == nil && secs >= 0 {
			return seconds(secs), true
		}
	}

	var payload struct {
		RetryAfter *float64 `json:"retry_after"`
	}
	if len(body) > 0 && json.Unmarshal(body, &payload) == nil && payload.RetryAfter != nil && *payload.RetryAfter >= 0 {
		return seconds(*payload.RetryAfter), true
	}
	return 0, false
}

func seconds(s float64) time.Duration {
	return time.Duration(math.Ceil(s * float64(time.Second)))
}
