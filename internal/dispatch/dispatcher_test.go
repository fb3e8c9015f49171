package dispatch

import (
	"context"
	"testing"
	"time"

	"github.com/arvancloud/sms-gateway/internal/distribution"
	"github.com/arvancloud/sms-gateway/internal/health"
	"github.com/arvancloud/sms-gateway/internal/kvstore"
	"github.com/arvancloud/sms-gateway/internal/observability"
	"github.com/arvancloud/sms-gateway/internal/providers"
	"github.com/arvancloud/sms-gateway/internal/queue"
	"github.com/arvancloud/sms-gateway/internal/ratelimit"
	"github.com/arvancloud/sms-gateway/internal/store"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

type fakeRequestStore struct {
	requests map[string]*store.Request
}

func newFakeRequestStore() *fakeRequestStore {
	return &fakeRequestStore{requests: map[string]*store.Request{
		"msg-1": {ID: 1, MessageID: "msg-1", Phone: "15551234567", Text: "hello", Status: store.StatusPending},
	}}
}

func (f *fakeRequestStore) UpdateStatus(_ context.Context, messageID string, status store.RequestStatus, providerUsed *string) error {
	req := f.requests[messageID]
	req.Status = status
	if providerUsed != nil {
		req.ProviderUsed = providerUsed
	}
	return nil
}

func (f *fakeRequestStore) GetByMessageID(_ context.Context, messageID string) (*store.Request, error) {
	return f.requests[messageID], nil
}

type fakeQueue struct {
	sent []queue.SendTask
}

func (f *fakeQueue) EnqueueDispatch(context.Context, queue.DispatchTask) error { return nil }
func (f *fakeQueue) EnqueueDispatchAt(context.Context, queue.DispatchTask, time.Duration) error {
	return nil
}
func (f *fakeQueue) EnqueueSend(_ context.Context, task queue.SendTask) error {
	f.sent = append(f.sent, task)
	return nil
}
func (f *fakeQueue) PublishDeadLetter(context.Context, string, string) error { return nil }
func (f *fakeQueue) SubscribeDispatch(func(queue.DispatchTask)) (queue.Subscription, error) {
	return nil, nil
}
func (f *fakeQueue) SubscribeSend(func(queue.SendTask)) (queue.Subscription, error) { return nil, nil }
func (f *fakeQueue) HealthCheck(context.Context) error                              { return nil }
func (f *fakeQueue) Close() error                                                   { return nil }

func newTestDispatcher(t *testing.T) (*Dispatcher, *fakeQueue) {
	t.Helper()
	kv := kvstore.NewMemory()
	tracker := health.New(kv, 300*time.Second, 0.70, zap.NewNop())
	perProv := ratelimit.NewProvider(kv, 50, time.Second, zap.NewNop())
	global := ratelimit.NewGlobal(kv, 200, time.Second, zap.NewNop())
	registry := providers.NewRegistry(map[string]string{"provider1": "http://p1", "provider2": "http://p2"})
	selector := distribution.New(tracker, perProv, global, registry, 30*time.Second, zap.NewNop())

	metrics := observability.NewMetrics(prometheus.NewRegistry())
	q := &fakeQueue{}
	d := New(selector, newFakeRequestStore(), q, metrics, zap.NewNop())
	return d, q
}

func TestDispatcherSelectsAndEnqueuesSend(t *testing.T) {
	d, q := newTestDispatcher(t)
	ctx := context.Background()

	err := d.Run(ctx, queue.DispatchTask{MessageID: "msg-1", RequestID: 1, Attempt: 0})
	if err != nil {
		t.Fatalf("dispatcher run failed: %v", err)
	}
	if len(q.sent) != 1 {
		t.Fatalf("expected one send task enqueued, got %d", len(q.sent))
	}
	sent := q.sent[0]
	if sent.Phone != "15551234567" || sent.Text != "hello" {
		t.Fatalf("expected the send task to carry the request's phone/text, got %+v", sent)
	}
	if sent.ProviderID == "" || sent.ProviderURL == "" {
		t.Fatal("expected a provider to have been selected")
	}
}

func TestDispatcherDropsSilentlyWhenNoProviderAvailable(t *testing.T) {
	d, q := newTestDispatcher(t)
	ctx := context.Background()

	excluded := []string{"provider1", "provider2"}
	err := d.Run(ctx, queue.DispatchTask{MessageID: "msg-1", RequestID: 1, Attempt: 1, Excluded: excluded})
	if err != nil {
		t.Fatalf("expected a no-provider outcome to be handled without error, got %v", err)
	}
	if len(q.sent) != 0 {
		t.Fatal("expected no send task to be enqueued when every provider is excluded")
	}
}
