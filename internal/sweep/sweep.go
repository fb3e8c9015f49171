// Package sweep periodically requeues requests that have been stuck in
// processing or retrying for longer than a stall timeout, covering the case
// where a worker crashed between updating a request's status and enqueuing
// the next task. It is off by default.
package sweep

import (
	"context"
	"time"

	"github.com/arvancloud/sms-gateway/internal/queue"
	"github.com/arvancloud/sms-gateway/internal/store"
	"go.uber.org/zap"
)

// RequestStore is the slice of store.RequestStore the sweep depends on.
type RequestStore interface {
	ListStalledProcessing(ctx context.Context, cutoff time.Time, limit int) ([]*store.Request, error)
}

const batchLimit = 100

// Sweep periodically re-enqueues stalled requests.
type Sweep struct {
	requests RequestStore
	queue    queue.TaskQueue
	interval time.Duration
	timeout  time.Duration
	log      *zap.Logger

	now func() time.Time
}

// New builds a Sweep. interval controls how often it runs; timeout is how
// long a request may sit in processing/retrying before it is considered
// stalled.
func New(requests RequestStore, q queue.TaskQueue, interval, timeout time.Duration, log *zap.Logger) *Sweep {
	return &Sweep{requests: requests, queue: q, interval: interval, timeout: timeout, log: log, now: time.Now}
}

// Run blocks, sweeping on a ticker until ctx is cancelled.
func (s *Sweep) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runOnce(ctx)
		}
	}
}

func (s *Sweep) runOnce(ctx context.Context) {
	cutoff := s.now().Add(-s.timeout)
	stalled, err := s.requests.ListStalledProcessing(ctx, cutoff, batchLimit)
	if err != nil {
		s.log.Error("sweep failed to list stalled requests", zap.Error(err))
		return
	}
	if len(stalled) == 0 {
		return
	}

	s.log.Warn("requeuing stalled requests", zap.Int("count", len(stalled)))
	for _, req := range stalled {
		task := queue.DispatchTask{
			MessageID: req.MessageID,
			RequestID: req.ID,
			Excluded:  req.FailedProviders,
			Attempt:   req.RetryCount,
		}
		if err := s.queue.EnqueueDispatch(ctx, task); err != nil {
			s.log.Error("sweep failed to requeue stalled request",
				zap.String("message_id", req.MessageID), zap.Error(err))
		}
	}
}
