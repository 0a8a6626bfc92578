package domain

import "time"

type EndpointID string

// Endpoint is a monitored HTTP target. Definitions are owned by the store;
// the scheduler reads a fresh snapshot on every tick.
type Endpoint struct {
	ID             EndpointID        `json:"id"`
	Name           string            `json:"name"`
	URL            string            `json:"url"`
	Method         string            `json:"method"`
	Interval       time.Duration     `json:"interval"`
	Timeout        time.Duration     `json:"timeout"`
	ExpectedStatus int               `json:"expected_status"`
	Headers        map[string]string `json:"headers,omitempty"`
	Body           []byte            `json:"body,omitempty"`
	Active         bool              `json:"active"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

// FailureCategory classifies why a probe failed.
type FailureCategory string

const (
	FailureTimeout        FailureCategory = "timeout"
	FailureConnection     FailureCategory = "connection_error"
	FailureClient         FailureCategory = "client_error"
	FailureStatusMismatch FailureCategory = "status_mismatch"
	FailureUnexpected     FailureCategory = "unexpected"
)

// ProbeResult is the immutable outcome of one check. HTTPStatus is 0 when no
// response was received; Category is empty on success.
type ProbeResult struct {
	EndpointID EndpointID      `json:"endpoint_id"`
	Success    bool            `json:"success"`
	HTTPStatus int             `json:"http_status,omitempty"`
	LatencyMS  float64         `json:"latency_ms"`
	Category   FailureCategory `json:"category,omitempty"`
	Message    string          `json:"message,omitempty"`
	CheckedAt  time.Time       `json:"checked_at"`
}
