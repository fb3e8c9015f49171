// Package store persists the request/response/retry/provider-health records
// that back the dispatch pipeline's accounting, on top of internal/db.
package store

import "time"

// RequestStatus is the lifecycle state of a request row.
type RequestStatus string

const (
	StatusPending            RequestStatus = "pending"
	StatusProcessing         RequestStatus = "processing"
	StatusRetrying           RequestStatus = "retrying"
	StatusCompleted          RequestStatus = "completed"
	StatusFailed             RequestStatus = "failed"
	StatusPermanentlyFailed  RequestStatus = "permanently_failed"
)

// Request is the persistent record of one admitted SMS send.
type Request struct {
	ID                  int64
	MessageID           string
	Phone               string
	Text                string
	Status              RequestStatus
	ProviderUsed         *string
	RetryCount          int
	MaxRetries          int
	FailedProviders     []string
	IsPermanentlyFailed bool
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// Response is one upstream attempt's outcome, append-only.
type Response struct {
	ID           int64
	RequestID    int64
	ResponseData string
	StatusCode   int
	CreatedAt    time.Time
}

// Retry is one scheduled-retry decision, append-only.
type Retry struct {
	ID            int64
	RequestID     int64
	AttemptNumber int
	ProviderUsed  string
	ErrorMessage  string
	DelaySeconds  float64
	CreatedAt     time.Time
}

// ProviderHealthSummary is the coarse, longer-horizon health flag reported
// for observability; it is advisory and does not drive dispatch decisions
// (the sliding window in internal/health does that).
type ProviderHealthSummary struct {
	ProviderName string
	SuccessCount int64
	FailureCount int64
	LastChecked  time.Time
	IsHealthy    bool
}
