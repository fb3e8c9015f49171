// Package sender implements the Sender task: one outbound HTTP call to a
// provider, with success/failure accounting and retry-or-dead-letter
// decision on the way out.
package sender

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/arvancloud/sms-gateway/internal/deadletter"
	"github.com/arvancloud/sms-gateway/internal/health"
	"github.com/arvancloud/sms-gateway/internal/observability"
	"github.com/arvancloud/sms-gateway/internal/queue"
	"github.com/arvancloud/sms-gateway/internal/retrypolicy"
	"github.com/arvancloud/sms-gateway/internal/store"
	"go.uber.org/zap"
)

const sendTimeout = 10 * time.Second

// outcome is the result category the Sender reports as a metrics label.
type outcome string

const (
	outcomeSuccess outcome = "success"
	outcomeFailure outcome = "failure"
)

// RequestStore is the slice of store.RequestStore the Sender depends on.
type RequestStore interface {
	UpdateStatus(ctx context.Context, messageID string, status store.RequestStatus, providerUsed *string) error
	RecordRetryAttempt(ctx context.Context, messageID string, failedProvider string) error
	MarkPermanentlyFailed(ctx context.Context, messageID string) error
}

// ResponseStore is the slice of store.ResponseStore the Sender depends on.
type ResponseStore interface {
	Create(ctx context.Context, requestID int64, responseData string, statusCode int) error
}

// RetryStore is the slice of store.RetryStore the Sender depends on.
type RetryStore interface {
	Create(ctx context.Context, r *store.Retry) error
}

// HealthSummaryStore is the slice of store.HealthSummaryStore the Sender
// depends on.
type HealthSummaryStore interface {
	RecordSuccess(ctx context.Context, providerName string) error
	RecordFailure(ctx context.Context, providerName string) error
}

// Sender executes a single upstream HTTP call and decides whether to
// schedule a retry or dead-letter the request.
type Sender struct {
	httpClient    *http.Client
	health        *health.Tracker
	requests      RequestStore
	responses     ResponseStore
	retries       RetryStore
	healthSummary HealthSummaryStore
	deadLetter    *deadletter.List
	queue         queue.TaskQueue
	retryPolicy   *retrypolicy.Policy
	providerIDs   []string
	metrics       *observability.Metrics
	log           *zap.Logger
}

// New builds a Sender. providerIDs is the closed set of configured
// provider ids, used to check exclusion-set saturation.
func New(
	requests RequestStore,
	responses ResponseStore,
	retries RetryStore,
	healthSummary HealthSummaryStore,
	tracker *health.Tracker,
	deadLetter *deadletter.List,
	q queue.TaskQueue,
	retryPolicy *retrypolicy.Policy,
	providerIDs []string,
	metrics *observability.Metrics,
	log *zap.Logger,
) *Sender {
	return &Sender{
		httpClient:    &http.Client{Timeout: sendTimeout},
		health:        tracker,
		requests:      requests,
		responses:     responses,
		retries:       retries,
		healthSummary: healthSummary,
		deadLetter:    deadLetter,
		queue:         q,
		retryPolicy:   retryPolicy,
		providerIDs:   providerIDs,
		metrics:       metrics,
		log:           log,
	}
}

type sendPayload struct {
	Phone string `json:"phone"`
	Text  string `json:"text"`
}

// Run executes one Sender task.
func (s *Sender) Run(ctx context.Context, task queue.SendTask) error {
	statusCode, body, sendErr := s.call(ctx, task)

	if sendErr == nil && statusCode >= 200 && statusCode < 300 {
		return s.onSuccess(ctx, task, statusCode, body)
	}
	return s.onFailure(ctx, task, statusCode, body, sendErr)
}

func (s *Sender) call(ctx context.Context, task queue.SendTask) (int, string, error) {
	payload, err := json.Marshal(sendPayload{Phone: task.Phone, Text: task.Text})
	if err != nil {
		return 0, "", fmt.Errorf("marshal send payload: %w", err)
	}

	sendCtx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(sendCtx, http.MethodPost, task.ProviderURL, bytes.NewReader(payload))
	if err != nil {
		return 0, "", fmt.Errorf("build send request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		if sendCtx.Err() != nil {
			return 408, "request timed out", nil
		}
		return 500, err.Error(), nil
	}
	defer resp.Body.Close()

	data, readErr := io.ReadAll(resp.Body)
	if readErr != nil {
		return resp.StatusCode, "", fmt.Errorf("read send response body: %w", readErr)
	}
	return resp.StatusCode, string(data), nil
}

func (s *Sender) onSuccess(ctx context.Context, task queue.SendTask, statusCode int, body string) error {
	if err := s.health.RecordSuccess(ctx, task.ProviderID); err != nil {
		s.log.Error("failed to record success on health tracker", zap.String("provider", task.ProviderID), zap.Error(err))
	}
	if err := s.responses.Create(ctx, task.RequestID, body, statusCode); err != nil {
		s.log.Error("failed to persist success response", zap.Int64("request_id", task.RequestID), zap.Error(err))
	}

	providerID := task.ProviderID
	if err := s.requests.UpdateStatus(ctx, task.MessageID, store.StatusCompleted, &providerID); err != nil {
		s.log.Error("failed to mark request completed", zap.String("message_id", task.MessageID), zap.Error(err))
	}

	if err := s.healthSummary.RecordSuccess(ctx, task.ProviderID); err != nil {
		s.log.Error("failed to update provider health summary", zap.String("provider", task.ProviderID), zap.Error(err))
	}

	s.metrics.SendAttemptsTotal.WithLabelValues(task.ProviderID, string(outcomeSuccess)).Inc()
	return nil
}

func (s *Sender) onFailure(ctx context.Context, task queue.SendTask, statusCode int, body string, sendErr error) error {
	if statusCode == 0 {
		statusCode = 500
	}
	if sendErr != nil {
		body = sendErr.Error()
	}

	if err := s.responses.Create(ctx, task.RequestID, body, statusCode); err != nil {
		s.log.Error("failed to persist failure response", zap.Int64("request_id", task.RequestID), zap.Error(err))
	}
	if err := s.health.RecordFailure(ctx, task.ProviderID); err != nil {
		s.log.Error("failed to record failure on health tracker", zap.String("provider", task.ProviderID), zap.Error(err))
	}
	if err := s.healthSummary.RecordFailure(ctx, task.ProviderID); err != nil {
		s.log.Error("failed to update provider health summary", zap.String("provider", task.ProviderID), zap.Error(err))
	}

	s.metrics.SendAttemptsTotal.WithLabelValues(task.ProviderID, string(outcomeFailure)).Inc()

	excluded := retrypolicy.NewExclusionSet(task.Excluded)
	excluded.Add(task.ProviderID)

	if !s.retryPolicy.ExceedsMaxRetries(task.Attempt) && !excluded.Saturated(s.providerIDs) {
		return s.scheduleRetry(ctx, task, excluded, statusCode, body)
	}
	return s.deadLetterRequest(ctx, task, "Max retries exceeded")
}

func (s *Sender) scheduleRetry(ctx context.Context, task queue.SendTask, excluded *retrypolicy.ExclusionSet, statusCode int, errMsg string) error {
	delay := s.retryPolicy.Backoff(task.Attempt)
	nextAttempt := task.Attempt + 1

	if err := s.requests.RecordRetryAttempt(ctx, task.MessageID, task.ProviderID); err != nil {
		s.log.Error("failed to record retry attempt", zap.String("message_id", task.MessageID), zap.Error(err))
	}
	if err := s.retries.Create(ctx, &store.Retry{
		RequestID:     task.RequestID,
		AttemptNumber: nextAttempt,
		ProviderUsed:  task.ProviderID,
		ErrorMessage:  errMsg,
		DelaySeconds:  delay.Seconds(),
	}); err != nil {
		s.log.Error("failed to persist retry record", zap.Int64("request_id", task.RequestID), zap.Error(err))
	}

	nextTask := queue.DispatchTask{
		MessageID: task.MessageID,
		RequestID: task.RequestID,
		Excluded:  excluded.Slice(),
		Attempt:   nextAttempt,
	}

	s.metrics.RetryScheduledTotal.WithLabelValues(task.ProviderID).Inc()

	if err := s.queue.EnqueueDispatchAt(ctx, nextTask, delay); err != nil {
		s.log.Warn("scheduled retry enqueue failed, falling back to immediate enqueue", zap.String("message_id", task.MessageID), zap.Error(err))
		if fallbackErr := s.queue.EnqueueDispatch(ctx, nextTask); fallbackErr != nil {
			return fmt.Errorf("retry enqueue fallback also failed: %w", fallbackErr)
		}
	}
	return nil
}

func (s *Sender) deadLetterRequest(ctx context.Context, task queue.SendTask, reason string) error {
	if err := s.deadLetter.Push(ctx, task.RequestID, reason); err != nil {
		s.log.Error("failed to push dead letter entry", zap.String("message_id", task.MessageID), zap.Error(err))
	}
	if err := s.requests.MarkPermanentlyFailed(ctx, task.MessageID); err != nil {
		s.log.Error("failed to mark request permanently failed", zap.String("message_id", task.MessageID), zap.Error(err))
	}
	s.metrics.DeadLetterTotal.Inc()
	return nil
}
