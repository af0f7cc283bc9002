package models

import "time"

type AttemptOperation string

const (
	OperationValidate AttemptOperation = "validate"
	OperationSend     AttemptOperation = "send"
)

// Attempt records one outbound call to a webhook.
type Attempt struct {
	ID         string           `json:"id"`
	EndpointID string           `json:"endpoint_id"`
	Operation  AttemptOperation `json:"operation"`
	StatusCode int              `json:"status_code"`
	LatencyMs  int64            `json:"latency_ms"`
	Error      string           `json:"error,omitempty"`
	CreatedAt  time.Time        `json:"created_at"`
}
