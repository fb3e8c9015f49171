package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

const (
	subjectDispatch  = "sms.dispatch"
	subjectSend      = "sms.send"
	subjectDeadLetter = "sms.dlq"
)

// NATSQueue is the production TaskQueue backed by core NATS pub/sub.
// Scheduled delivery (EnqueueDispatchAt) has no native NATS primitive, so
// it is expressed as a goroutine+timer that publishes once the delay
// elapses; this keeps the Sender itself free of in-process sleeps.
type NATSQueue struct {
	conn *nats.Conn
	log  *zap.Logger
}

// NewNATSQueue connects to NATS with indefinite auto-reconnect.
func NewNATSQueue(natsURL string, log *zap.Logger) (*NATSQueue, error) {
	opts := []nats.Option{
		nats.Name("sms-gateway-core"),
		nats.Timeout(10 * time.Second),
		nats.ReconnectWait(5 * time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Error("nats disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("nats reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
	}

	conn, err := nats.Connect(natsURL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}

	log.Info("connected to nats", zap.String("url", conn.ConnectedUrl()))
	return &NATSQueue{conn: conn, log: log}, nil
}

func (q *NATSQueue) EnqueueDispatch(_ context.Context, task DispatchTask) error {
	return q.publish(subjectDispatch, task)
}

// EnqueueDispatchAt schedules a Dispatcher task for delivery after delay.
// If the delay has already elapsed (or is non-positive) it publishes
// immediately. The delayed publish is not tied to ctx: it still fires after
// the caller's task context has ended.
func (q *NATSQueue) EnqueueDispatchAt(ctx context.Context, task DispatchTask, delay time.Duration) error {
	if delay <= 0 {
		return q.EnqueueDispatch(ctx, task)
	}

	data, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("marshal dispatch task: %w", err)
	}

	go func() {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		<-timer.C
		if err := q.conn.Publish(subjectDispatch, data); err != nil {
			q.log.Error("scheduled dispatch publish failed", zap.String("message_id", task.MessageID), zap.Error(err))
		}
	}()

	return nil
}

func (q *NATSQueue) EnqueueSend(_ context.Context, task SendTask) error {
	return q.publish(subjectSend, task)
}

func (q *NATSQueue) PublishDeadLetter(_ context.Context, messageID, reason string) error {
	return q.publish(subjectDeadLetter, map[string]string{"message_id": messageID, "reason": reason})
}

func (q *NATSQueue) publish(subject string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal task for %s: %w", subject, err)
	}
	if err := q.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("publish to %s: %w", subject, err)
	}
	return nil
}

type natsSubscription struct {
	sub *nats.Subscription
}

func (s *natsSubscription) Unsubscribe() error { return s.sub.Unsubscribe() }

func (q *NATSQueue) SubscribeDispatch(handler func(DispatchTask)) (Subscription, error) {
	sub, err := q.conn.Subscribe(subjectDispatch, func(msg *nats.Msg) {
		var task DispatchTask
		if err := json.Unmarshal(msg.Data, &task); err != nil {
			q.log.Error("failed to unmarshal dispatch task", zap.Error(err))
			return
		}
		handler(task)
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe dispatch: %w", err)
	}
	return &natsSubscription{sub: sub}, nil
}

func (q *NATSQueue) SubscribeSend(handler func(SendTask)) (Subscription, error) {
	sub, err := q.conn.Subscribe(subjectSend, func(msg *nats.Msg) {
		var task SendTask
		if err := json.Unmarshal(msg.Data, &task); err != nil {
			q.log.Error("failed to unmarshal send task", zap.Error(err))
			return
		}
		handler(task)
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe send: %w", err)
	}
	return &natsSubscription{sub: sub}, nil
}

func (q *NATSQueue) HealthCheck(_ context.Context) error {
	if q.conn.Status() != nats.CONNECTED {
		return fmt.Errorf("nats not connected, status: %v", q.conn.Status())
	}
	return nil
}

func (q *NATSQueue) Close() error {
	q.conn.Close()
	return nil
}
