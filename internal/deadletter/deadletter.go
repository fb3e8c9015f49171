// Package deadletter records requests whose retries are exhausted. The KV
// list is the authoritative record (spec: "dead-letter list"); the queue's
// dead-letter subject is published for visibility only and has no reader
// that must see it for correctness.
package deadletter

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/arvancloud/sms-gateway/internal/kvstore"
	"github.com/arvancloud/sms-gateway/internal/queue"
	"go.uber.org/zap"
)

const listKey = "dead_letter_queue"

// Entry is one dead-lettered request.
type Entry struct {
	RequestID int64     `json:"request_id"`
	Reason    string    `json:"reason"`
	Timestamp time.Time `json:"timestamp"`
}

// List is the kvstore-backed dead-letter list.
type List struct {
	store kvstore.Store
	queue queue.TaskQueue
	log   *zap.Logger
}

// New builds a dead-letter List. queue may be nil if visibility publishing
// is not needed (e.g. in tests).
func New(store kvstore.Store, q queue.TaskQueue, log *zap.Logger) *List {
	return &List{store: store, queue: q, log: log}
}

// Push appends an entry to the head of the dead-letter list and, best
// effort, publishes it to the queue's dead-letter subject for visibility.
func (l *List) Push(ctx context.Context, requestID int64, reason string) error {
	entry := Entry{RequestID: requestID, Reason: reason, Timestamp: time.Now().UTC()}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal dead letter entry: %w", err)
	}
	if err := l.store.LPush(ctx, listKey, string(data)); err != nil {
		return fmt.Errorf("push dead letter entry: %w", err)
	}

	if l.queue != nil {
		if err := l.queue.PublishDeadLetter(ctx, strconv.FormatInt(requestID, 10), reason); err != nil {
			l.log.Warn("dead letter queue publish failed, list entry still recorded", zap.Int64("request_id", requestID), zap.Error(err))
		}
	}
	return nil
}

// List returns up to limit entries, most recently dead-lettered first.
func (l *List) List(ctx context.Context, limit int64) ([]Entry, error) {
	raw, err := l.store.LRange(ctx, listKey, 0, limit-1)
	if err != nil {
		return nil, fmt.Errorf("list dead letter entries: %w", err)
	}

	out := make([]Entry, 0, len(raw))
	for _, item := range raw {
		var entry Entry
		if err := json.Unmarshal([]byte(item), &entry); err != nil {
			l.log.Warn("skipping unparseable dead letter entry", zap.Error(err))
			continue
		}
		out = append(out, entry)
	}
	return out, nil
}
