// Package queue is the durable task queue the Dispatcher and Sender tasks
// ride on: immediate or time-scheduled delivery of small JSON envelopes.
package queue

import (
	"context"
	"time"
)

// DispatchTask asks a worker to select a provider for a request and hand
// off to a SendTask.
type DispatchTask struct {
	MessageID string   `json:"message_id"`
	RequestID int64    `json:"request_id"`
	Excluded  []string `json:"excluded"`
	Attempt   int      `json:"attempt"`
}

// SendTask asks a worker to execute one upstream HTTP call.
type SendTask struct {
	MessageID     string   `json:"message_id"`
	RequestID     int64    `json:"request_id"`
	ProviderID    string   `json:"provider_id"`
	ProviderURL   string   `json:"provider_url"`
	Phone         string   `json:"phone"`
	Text          string   `json:"text"`
	Attempt       int      `json:"attempt"`
	Excluded      []string `json:"excluded"`
}

// TaskQueue is the boundary the dispatch engine depends on: enqueue now,
// enqueue after a delay, and subscribe to each task type.
type TaskQueue interface {
	EnqueueDispatch(ctx context.Context, task DispatchTask) error
	EnqueueDispatchAt(ctx context.Context, task DispatchTask, delay time.Duration) error
	EnqueueSend(ctx context.Context, task SendTask) error
	PublishDeadLetter(ctx context.Context, messageID, reason string) error

	SubscribeDispatch(handler func(DispatchTask)) (Subscription, error)
	SubscribeSend(handler func(SendTask)) (Subscription, error)

	HealthCheck(ctx context.Context) error
	Close() error
}

// Subscription is a handle a worker can use to stop receiving tasks.
type Subscription interface {
	Unsubscribe() error
}
