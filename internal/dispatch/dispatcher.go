// Package dispatch implements the Dispatcher task: given a logical
// request, it selects a provider and hands off to a Sender task.
package dispatch

import (
	"context"

	"github.com/arvancloud/sms-gateway/internal/distribution"
	"github.com/arvancloud/sms-gateway/internal/observability"
	"github.com/arvancloud/sms-gateway/internal/queue"
	"github.com/arvancloud/sms-gateway/internal/store"
	"go.uber.org/zap"
)

// RequestStore is the slice of store.RequestStore the Dispatcher depends
// on, narrowed to an interface so tests can substitute a fake.
type RequestStore interface {
	UpdateStatus(ctx context.Context, messageID string, status store.RequestStatus, providerUsed *string) error
	GetByMessageID(ctx context.Context, messageID string) (*store.Request, error)
}

// Dispatcher holds the long-lived handles a Dispatcher task runs against.
// The selector's round-robin index and usage counters are per-process
// state, per the concurrency model: Dispatcher tasks share one Dispatcher
// instance per worker rather than building fresh selectors per task.
type Dispatcher struct {
	selector *distribution.Selector
	requests RequestStore
	queue    queue.TaskQueue
	metrics  *observability.Metrics
	log      *zap.Logger
}

// New builds a Dispatcher.
func New(selector *distribution.Selector, requests RequestStore, q queue.TaskQueue, metrics *observability.Metrics, log *zap.Logger) *Dispatcher {
	return &Dispatcher{selector: selector, requests: requests, queue: q, metrics: metrics, log: log}
}

// Run executes one Dispatcher task: select a provider, update the request
// row, and enqueue a Sender task. If no provider is available the request
// is left in its current status; the caller's sweep (internal/sweep) is
// the only thing that will ever revisit it.
func (d *Dispatcher) Run(ctx context.Context, task queue.DispatchTask) error {
	excluded := make(map[string]struct{}, len(task.Excluded))
	for _, id := range task.Excluded {
		excluded[id] = struct{}{}
	}

	providerID, providerURL, ok := d.selector.Select(ctx, excluded)
	if !ok {
		d.log.Warn("no provider available, request left in place",
			zap.String("message_id", task.MessageID),
			zap.Int64("request_id", task.RequestID),
			zap.Int("attempt", task.Attempt))
		return nil
	}

	d.metrics.ProviderSelectionsTotal.WithLabelValues(providerID, d.selector.Mode()).Inc()

	if err := d.requests.UpdateStatus(ctx, task.MessageID, store.StatusProcessing, &providerID); err != nil {
		d.log.Error("failed to update request to processing", zap.String("message_id", task.MessageID), zap.Error(err))
		return err
	}

	req, err := d.requests.GetByMessageID(ctx, task.MessageID)
	if err != nil {
		d.log.Error("failed to reload request before sending", zap.String("message_id", task.MessageID), zap.Error(err))
		return err
	}

	sendTask := queue.SendTask{
		MessageID:   task.MessageID,
		RequestID:   task.RequestID,
		ProviderID:  providerID,
		ProviderURL: providerURL,
		Phone:       req.Phone,
		Text:        req.Text,
		Attempt:     task.Attempt,
		Excluded:    task.Excluded,
	}

	if err := d.queue.EnqueueSend(ctx, sendTask); err != nil {
		d.log.Error("failed to enqueue send task", zap.String("message_id", task.MessageID), zap.Error(err))
		return err
	}

	return nil
}
