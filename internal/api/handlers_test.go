package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/arvancloud/sms-gateway/internal/deadletter"
	"github.com/arvancloud/sms-gateway/internal/distribution"
	"github.com/arvancloud/sms-gateway/internal/health"
	"github.com/arvancloud/sms-gateway/internal/kvstore"
	"github.com/arvancloud/sms-gateway/internal/observability"
	"github.com/arvancloud/sms-gateway/internal/providers"
	"github.com/arvancloud/sms-gateway/internal/queue"
	"github.com/arvancloud/sms-gateway/internal/ratelimit"
	"github.com/arvancloud/sms-gateway/internal/store"
	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

type fakeRequestStore struct {
	created []*store.Request
}

func (f *fakeRequestStore) Create(_ context.Context, r *store.Request) error {
	r.ID = int64(len(f.created) + 1)
	f.created = append(f.created, r)
	return nil
}
func (f *fakeRequestStore) UpdateStatus(context.Context, string, store.RequestStatus, *string) error {
	return nil
}
func (f *fakeRequestStore) GetByMessageID(_ context.Context, messageID string) (*store.Request, error) {
	for _, r := range f.created {
		if r.MessageID == messageID {
			return r, nil
		}
	}
	return nil, errors.New("request not found")
}
func (f *fakeRequestStore) ByStatusAndProvider(context.Context, string, string, int) ([]*store.Request, error) {
	return f.created, nil
}

type fakeHealthSummaryStore struct{}

func (fakeHealthSummaryStore) Get(context.Context, string) (*store.ProviderHealthSummary, error) {
	return &store.ProviderHealthSummary{IsHealthy: true}, nil
}
func (fakeHealthSummaryStore) All(context.Context) ([]*store.ProviderHealthSummary, error) {
	return nil, nil
}

type fakeQueue struct{ dispatched []queue.DispatchTask }

func (f *fakeQueue) EnqueueDispatch(_ context.Context, task queue.DispatchTask) error {
	f.dispatched = append(f.dispatched, task)
	return nil
}
func (f *fakeQueue) EnqueueDispatchAt(context.Context, queue.DispatchTask, time.Duration) error {
	return nil
}
func (f *fakeQueue) EnqueueSend(context.Context, queue.SendTask) error       { return nil }
func (f *fakeQueue) PublishDeadLetter(context.Context, string, string) error { return nil }
func (f *fakeQueue) SubscribeDispatch(func(queue.DispatchTask)) (queue.Subscription, error) {
	return nil, nil
}
func (f *fakeQueue) SubscribeSend(func(queue.SendTask)) (queue.Subscription, error) { return nil, nil }
func (f *fakeQueue) HealthCheck(context.Context) error                              { return nil }
func (f *fakeQueue) Close() error                                                   { return nil }

func newTestApp(t *testing.T) (*fiber.App, *fakeRequestStore, *fakeQueue) {
	app, reqs, q, _ := newTestAppWithStore(t)
	return app, reqs, q
}

func newTestAppWithStore(t *testing.T) (*fiber.App, *fakeRequestStore, *fakeQueue, *kvstore.MemoryStore) {
	t.Helper()
	kv := kvstore.NewMemory()
	tracker := health.New(kv, 300*time.Second, 0.70, zap.NewNop())
	perProv := ratelimit.NewProvider(kv, 50, time.Second, zap.NewNop())
	global := ratelimit.NewGlobal(kv, 200, time.Second, zap.NewNop())
	registry := providers.NewRegistry(map[string]string{"provider1": "http://p1", "provider2": "http://p2"})
	selector := distribution.New(tracker, perProv, global, registry, 30*time.Second, zap.NewNop())
	dl := deadletter.New(kv, nil, zap.NewNop())
	metrics := observability.NewMetrics(prometheus.NewRegistry())

	reqs := &fakeRequestStore{}
	q := &fakeQueue{}
	handlers := NewHandlers(reqs, q, global, perProv, tracker, fakeHealthSummaryStore{}, selector, dl, registry, metrics, zap.NewNop())

	app := fiber.New()
	app.Post("/api/sms/send", handlers.SendSMS)
	app.Get("/healthz", handlers.HealthCheck)
	return app, reqs, q, kv
}

func TestSendSMSAcceptsValidRequest(t *testing.T) {
	app, reqs, q := newTestApp(t)

	body, _ := json.Marshal(sendRequest{Phone: "01921317475", Text: "Hello"})
	req := httptest.NewRequest("POST", "/api/sms/send", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if len(reqs.created) != 1 {
		t.Fatalf("expected one request persisted, got %d", len(reqs.created))
	}
	if len(q.dispatched) != 1 {
		t.Fatalf("expected one dispatch task enqueued, got %d", len(q.dispatched))
	}
}

func TestSendSMSRejectsInvalidPhone(t *testing.T) {
	app, reqs, _ := newTestApp(t)

	body, _ := json.Marshal(sendRequest{Phone: "abc", Text: "Hello"})
	req := httptest.NewRequest("POST", "/api/sms/send", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", resp.StatusCode)
	}
	if len(reqs.created) != 0 {
		t.Fatal("expected no request persisted on validation failure")
	}
}

func TestSendSMSRejectsOversizedText(t *testing.T) {
	app, _, _ := newTestApp(t)

	longText := make([]byte, 161)
	for i := range longText {
		longText[i] = 'a'
	}
	body, _ := json.Marshal(sendRequest{Phone: "01921317475", Text: string(longText)})
	req := httptest.NewRequest("POST", "/api/sms/send", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", resp.StatusCode)
	}
}

func TestSendSMSAllowsMultipleAdmitsWithinLimit(t *testing.T) {
	app, reqs, _ := newTestApp(t)

	body, _ := json.Marshal(sendRequest{Phone: "01921317475", Text: "Hello"})
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest("POST", "/api/sms/send", bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		resp, err := app.Test(req)
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		if resp.StatusCode != fiber.StatusOK {
			t.Fatalf("expected 200 on admit %d, got %d", i, resp.StatusCode)
		}
	}
	if len(reqs.created) != 3 {
		t.Fatalf("expected three requests persisted, got %d", len(reqs.created))
	}
}

func TestSendSMSRejectsWhenGlobalLimitExceeded(t *testing.T) {
	app, reqs, _, kv := newTestAppWithStore(t)
	kv.SetForTest("global_rate_limit", 200, time.Minute)

	body, _ := json.Marshal(sendRequest{Phone: "01921317475", Text: "Hello"})
	req := httptest.NewRequest("POST", "/api/sms/send", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", resp.StatusCode)
	}
	if len(reqs.created) != 0 {
		t.Fatal("expected no request persisted when the global limit is exceeded")
	}

	var body429 map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body429); err != nil {
		t.Fatalf("decode response body: %v", err)
	}
	if body429["error"] != "Global rate limit exceeded" {
		t.Fatalf("unexpected error body: %v", body429)
	}
}
