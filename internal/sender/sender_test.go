package sender

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/arvancloud/sms-gateway/internal/deadletter"
	"github.com/arvancloud/sms-gateway/internal/health"
	"github.com/arvancloud/sms-gateway/internal/kvstore"
	"github.com/arvancloud/sms-gateway/internal/observability"
	"github.com/arvancloud/sms-gateway/internal/queue"
	"github.com/arvancloud/sms-gateway/internal/retrypolicy"
	"github.com/arvancloud/sms-gateway/internal/store"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

type fakeRequestStore struct {
	mu              sync.Mutex
	statuses        map[string]store.RequestStatus
	retries         map[string]int
	failed          map[string]bool
	failedProviders map[string][]string
}

func newFakeRequestStore() *fakeRequestStore {
	return &fakeRequestStore{
		statuses:        map[string]store.RequestStatus{},
		retries:         map[string]int{},
		failed:          map[string]bool{},
		failedProviders: map[string][]string{},
	}
}

func (f *fakeRequestStore) UpdateStatus(_ context.Context, messageID string, status store.RequestStatus, _ *string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses[messageID] = status
	return nil
}

func (f *fakeRequestStore) RecordRetryAttempt(_ context.Context, messageID string, failedProvider string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.retries[messageID]++
	f.failedProviders[messageID] = append(f.failedProviders[messageID], failedProvider)
	return nil
}

func (f *fakeRequestStore) MarkPermanentlyFailed(_ context.Context, messageID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failed[messageID] = true
	return nil
}

type fakeResponseStore struct{ count int }

func (f *fakeResponseStore) Create(context.Context, int64, string, int) error {
	f.count++
	return nil
}

type fakeRetryStore struct{ count int }

func (f *fakeRetryStore) Create(context.Context, *store.Retry) error {
	f.count++
	return nil
}

type fakeHealthSummaryStore struct{}

func (fakeHealthSummaryStore) RecordSuccess(context.Context, string) error { return nil }
func (fakeHealthSummaryStore) RecordFailure(context.Context, string) error { return nil }

type fakeQueue struct {
	mu        sync.Mutex
	dispatched []queue.DispatchTask
}

func (f *fakeQueue) EnqueueDispatch(_ context.Context, task queue.DispatchTask) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dispatched = append(f.dispatched, task)
	return nil
}
func (f *fakeQueue) EnqueueDispatchAt(_ context.Context, task queue.DispatchTask, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dispatched = append(f.dispatched, task)
	return nil
}
func (f *fakeQueue) EnqueueSend(context.Context, queue.SendTask) error          { return nil }
func (f *fakeQueue) PublishDeadLetter(context.Context, string, string) error    { return nil }
func (f *fakeQueue) SubscribeDispatch(func(queue.DispatchTask)) (queue.Subscription, error) {
	return nil, nil
}
func (f *fakeQueue) SubscribeSend(func(queue.SendTask)) (queue.Subscription, error) { return nil, nil }
func (f *fakeQueue) HealthCheck(context.Context) error                              { return nil }
func (f *fakeQueue) Close() error                                                   { return nil }

func newTestSender(t *testing.T, q *fakeQueue, reqs *fakeRequestStore) (*Sender, *fakeResponseStore, *deadletter.List) {
	t.Helper()
	kv := kvstore.NewMemory()
	tracker := health.New(kv, 300*time.Second, 0.70, zap.NewNop())
	dl := deadletter.New(kv, q, zap.NewNop())
	responses := &fakeResponseStore{}
	retries := &fakeRetryStore{}
	policy := retrypolicy.New(time.Millisecond, time.Second, 2, false)
	metrics := observability.NewMetrics(prometheus.NewRegistry())

	s := New(reqs, responses, retries, fakeHealthSummaryStore{}, tracker, dl, q, policy, []string{"provider1", "provider2"}, metrics, zap.NewNop())
	return s, responses, dl
}

func newTestSenderWithProviders(t *testing.T, q *fakeQueue, reqs *fakeRequestStore, providerIDs []string, maxRetries int) (*Sender, *deadletter.List) {
	t.Helper()
	kv := kvstore.NewMemory()
	tracker := health.New(kv, 300*time.Second, 0.70, zap.NewNop())
	dl := deadletter.New(kv, q, zap.NewNop())
	responses := &fakeResponseStore{}
	retries := &fakeRetryStore{}
	policy := retrypolicy.New(time.Millisecond, time.Second, maxRetries, false)
	metrics := observability.NewMetrics(prometheus.NewRegistry())

	s := New(reqs, responses, retries, fakeHealthSummaryStore{}, tracker, dl, q, policy, providerIDs, metrics, zap.NewNop())
	return s, dl
}

func TestSenderOnSuccessMarksCompleted(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	q := &fakeQueue{}
	reqs := newFakeRequestStore()
	s, responses, _ := newTestSender(t, q, reqs)

	task := queue.SendTask{MessageID: "msg-1", RequestID: 1, ProviderID: "provider1", ProviderURL: server.URL, Phone: "15551234567", Text: "hi", Attempt: 0}
	if err := s.Run(context.Background(), task); err != nil {
		t.Fatalf("sender run failed: %v", err)
	}

	if reqs.statuses["msg-1"] != store.StatusCompleted {
		t.Fatalf("expected request marked completed, got %v", reqs.statuses["msg-1"])
	}
	if responses.count != 1 {
		t.Fatalf("expected one response row persisted, got %d", responses.count)
	}
}

func TestSenderSchedulesRetryOnFailureWithinBudget(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	q := &fakeQueue{}
	reqs := newFakeRequestStore()
	s, _, _ := newTestSender(t, q, reqs)

	task := queue.SendTask{MessageID: "msg-1", RequestID: 1, ProviderID: "provider1", ProviderURL: server.URL, Phone: "15551234567", Text: "hi", Attempt: 0}
	if err := s.Run(context.Background(), task); err != nil {
		t.Fatalf("sender run failed: %v", err)
	}

	if len(q.dispatched) != 1 {
		t.Fatalf("expected a retry dispatch to be scheduled, got %d", len(q.dispatched))
	}
	next := q.dispatched[0]
	if next.Attempt != 1 {
		t.Fatalf("expected next attempt 1, got %d", next.Attempt)
	}
	found := false
	for _, id := range next.Excluded {
		if id == "provider1" {
			found = true
		}
	}
	if !found {
		t.Fatal("expected the failed provider to be added to the exclusion set")
	}
}

func TestSenderDeadLettersOnRetryExhaustion(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	q := &fakeQueue{}
	reqs := newFakeRequestStore()
	s, _, _ := newTestSender(t, q, reqs) // policy MaxRetries=2

	task := queue.SendTask{MessageID: "msg-1", RequestID: 1, ProviderID: "provider1", ProviderURL: server.URL, Phone: "15551234567", Text: "hi", Attempt: 2}
	if err := s.Run(context.Background(), task); err != nil {
		t.Fatalf("sender run failed: %v", err)
	}

	if !reqs.failed["msg-1"] {
		t.Fatal("expected the request to be marked permanently failed")
	}
	if len(q.dispatched) != 0 {
		t.Fatal("expected no further retry to be scheduled once the budget is exhausted")
	}
}

// TestSenderDeadLettersWithExactReasonAndFailedProviders exercises the
// exhaustion scenario end to end: two providers fail and are retried, a
// third terminal attempt also fails and exhausts the retry budget. It
// asserts the literal dead-letter reason, the numeric request id, and that
// failed_providers carries only the two retried providers, not the
// terminal attempt's provider.
func TestSenderDeadLettersWithExactReasonAndFailedProviders(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	q := &fakeQueue{}
	reqs := newFakeRequestStore()
	s, dl := newTestSenderWithProviders(t, q, reqs, []string{"provider1", "provider2", "provider3"}, 2)

	first := queue.SendTask{MessageID: "msg-1", RequestID: 42, ProviderID: "provider1", ProviderURL: server.URL, Phone: "15551234567", Text: "hi", Attempt: 0}
	if err := s.Run(context.Background(), first); err != nil {
		t.Fatalf("sender run failed: %v", err)
	}

	second := queue.SendTask{MessageID: "msg-1", RequestID: 42, ProviderID: "provider2", ProviderURL: server.URL, Phone: "15551234567", Text: "hi", Attempt: 1, Excluded: []string{"provider1"}}
	if err := s.Run(context.Background(), second); err != nil {
		t.Fatalf("sender run failed: %v", err)
	}

	third := queue.SendTask{MessageID: "msg-1", RequestID: 42, ProviderID: "provider3", ProviderURL: server.URL, Phone: "15551234567", Text: "hi", Attempt: 2, Excluded: []string{"provider1", "provider2"}}
	if err := s.Run(context.Background(), third); err != nil {
		t.Fatalf("sender run failed: %v", err)
	}

	if !reqs.failed["msg-1"] {
		t.Fatal("expected the request to be marked permanently failed")
	}

	wantFailed := []string{"provider1", "provider2"}
	if got := reqs.failedProviders["msg-1"]; !equalStrings(got, wantFailed) {
		t.Fatalf("expected failed_providers %v, got %v", wantFailed, got)
	}

	entries, err := dl.List(context.Background(), 10)
	if err != nil {
		t.Fatalf("list dead letter entries: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected one dead letter entry, got %d", len(entries))
	}
	if entries[0].RequestID != 42 {
		t.Fatalf("expected numeric request id 42, got %v", entries[0].RequestID)
	}
	if entries[0].Reason != "Max retries exceeded" {
		t.Fatalf("expected literal reason %q, got %q", "Max retries exceeded", entries[0].Reason)
	}
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
