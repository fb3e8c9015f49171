// Package api wires the admit and read/admin HTTP surface onto the
// dispatch core: validation, persistence of the initial request row,
// enqueuing the first Dispatcher task, and thin read-throughs for
// operational visibility.
package api

import (
	"context"
	"regexp"
	"strconv"
	"time"
	"unicode/utf8"

	"github.com/arvancloud/sms-gateway/internal/deadletter"
	"github.com/arvancloud/sms-gateway/internal/distribution"
	"github.com/arvancloud/sms-gateway/internal/health"
	"github.com/arvancloud/sms-gateway/internal/observability"
	"github.com/arvancloud/sms-gateway/internal/providers"
	"github.com/arvancloud/sms-gateway/internal/queue"
	"github.com/arvancloud/sms-gateway/internal/ratelimit"
	"github.com/arvancloud/sms-gateway/internal/store"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var phonePattern = regexp.MustCompile(`^\+?[0-9]{10,15}$`)

// RequestStore is the slice of store.RequestStore the API depends on.
type RequestStore interface {
	Create(ctx context.Context, r *store.Request) error
	UpdateStatus(ctx context.Context, messageID string, status store.RequestStatus, providerUsed *string) error
	GetByMessageID(ctx context.Context, messageID string) (*store.Request, error)
	ByStatusAndProvider(ctx context.Context, status, provider string, limit int) ([]*store.Request, error)
}

// Handlers holds every dependency the admit and read endpoints call
// through to. There is no business logic here beyond HTTP binding and
// validation: everything else delegates to the core components.
type Handlers struct {
	requests      RequestStore
	queue         queue.TaskQueue
	global        *ratelimit.GlobalLimiter
	perProv       *ratelimit.ProviderLimiter
	health        *health.Tracker
	healthSummary HealthSummaryStore
	selector      *distribution.Selector
	deadLetter    *deadletter.List
	registry      *providers.Registry
	metrics       *observability.Metrics
	log           *zap.Logger
}

// HealthSummaryStore is the slice of store.HealthSummaryStore the API
// depends on.
type HealthSummaryStore interface {
	Get(ctx context.Context, providerName string) (*store.ProviderHealthSummary, error)
	All(ctx context.Context) ([]*store.ProviderHealthSummary, error)
}

// NewHandlers builds a Handlers.
func NewHandlers(
	requests RequestStore,
	q queue.TaskQueue,
	global *ratelimit.GlobalLimiter,
	perProv *ratelimit.ProviderLimiter,
	tracker *health.Tracker,
	healthSummary HealthSummaryStore,
	selector *distribution.Selector,
	deadLetter *deadletter.List,
	registry *providers.Registry,
	metrics *observability.Metrics,
	log *zap.Logger,
) *Handlers {
	return &Handlers{
		requests:      requests,
		queue:         q,
		global:        global,
		perProv:       perProv,
		health:        tracker,
		healthSummary: healthSummary,
		selector:      selector,
		deadLetter:    deadLetter,
		registry:      registry,
		metrics:       metrics,
		log:           log,
	}
}

type sendRequest struct {
	Phone string `json:"phone"`
	Text  string `json:"text"`
}

func validateSendRequest(req sendRequest) string {
	if !phonePattern.MatchString(req.Phone) {
		return "phone must be 10-15 digits, optionally prefixed with +"
	}
	if n := utf8.RuneCountInString(req.Text); n < 1 || n > 160 {
		return "text must be between 1 and 160 characters"
	}
	return ""
}

// SendSMS handles POST /api/sms/send
//
//	@Summary		Admit an SMS request
//	@Description	Validate, rate-limit, persist, and enqueue one SMS for dispatch
//	@Tags			SMS
//	@Accept			json
//	@Produce		json
//	@Param			request	body		sendRequest			true	"SMS request"
//	@Success		200		{object}	map[string]interface{}	"Request accepted and queued"
//	@Failure		422		{object}	map[string]string		"Validation failed"
//	@Failure		429		{object}	map[string]interface{}	"Global rate limit exceeded"
//	@Router			/api/sms/send [post]
func (h *Handlers) SendSMS(c *fiber.Ctx) error {
	var req sendRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{"error": "invalid request body"})
	}
	if msg := validateSendRequest(req); msg != "" {
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{"error": msg})
	}

	ctx := c.Context()

	count := h.global.CurrentCount(ctx)
	if count >= int64(h.global.Limit()) {
		return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
			"error":            "Global rate limit exceeded",
			"current_count":    count,
			"limit":            h.global.Limit(),
			"reset_in_seconds": 1,
		})
	}

	messageID := uuid.NewString()
	record := &store.Request{
		MessageID:  messageID,
		Phone:      req.Phone,
		Text:       req.Text,
		Status:     store.StatusPending,
		MaxRetries: 5,
	}
	if err := h.requests.Create(ctx, record); err != nil {
		h.log.Error("failed to persist new request", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to admit request"})
	}

	task := queue.DispatchTask{MessageID: messageID, RequestID: record.ID, Attempt: 0}
	if err := h.queue.EnqueueDispatch(ctx, task); err != nil {
		h.log.Error("failed to enqueue dispatch task", zap.String("message_id", messageID), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to queue request"})
	}

	if err := h.requests.UpdateStatus(ctx, messageID, store.StatusProcessing, nil); err != nil {
		h.log.Error("failed to flip request to processing", zap.String("message_id", messageID), zap.Error(err))
	}

	return c.JSON(fiber.Map{
		"success":    true,
		"message_id": messageID,
		"queued":     true,
		"message":    "request accepted",
	})
}

// RateLimits handles GET /api/sms/rate-limits
//
//	@Summary		Current rate-limit usage
//	@Description	Report global and per-provider current counts against their configured limits
//	@Tags			SMS
//	@Produce		json
//	@Success		200	{object}	map[string]interface{}
//	@Router			/api/sms/rate-limits [get]
func (h *Handlers) RateLimits(c *fiber.Ctx) error {
	ctx := c.Context()
	globalCount := h.global.CurrentCount(ctx)

	perProvider := make(fiber.Map, h.registry.Len())
	for _, id := range h.registry.IDs() {
		perProvider[id] = fiber.Map{
			"current": h.perProv.CurrentCount(ctx, id),
			"limit":   h.perProv.Limit(),
		}
	}

	return c.JSON(fiber.Map{
		"global": fiber.Map{
			"current": globalCount,
			"limit":   h.global.Limit(),
		},
		"providers": perProvider,
	})
}

// Health is GET /api/sms/health.
func (h *Handlers) Health(c *fiber.Ctx) error {
	ctx := c.Context()
	out := make(fiber.Map, h.registry.Len())
	for _, id := range h.registry.IDs() {
		out[id] = statusToMap(h.health.GetStatus(ctx, id))
	}
	return c.JSON(out)
}

// HealthByProvider is GET /api/sms/health/{provider_id}.
func (h *Handlers) HealthByProvider(c *fiber.Ctx) error {
	providerID := c.Params("provider_id")
	if !h.registry.Exists(providerID) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "unknown provider"})
	}
	return c.JSON(statusToMap(h.health.GetStatus(c.Context(), providerID)))
}

func statusToMap(st health.Status) fiber.Map {
	m := fiber.Map{
		"provider_id":      st.ProviderID,
		"is_healthy":       st.IsHealthy,
		"total_requests":   st.TotalRequests,
		"success_count":    st.SuccessCount,
		"failure_count":    st.FailureCount,
		"failure_rate":     st.FailureRate,
		"current_success":  st.CurrentSuccess,
		"current_failure":  st.CurrentFailure,
		"previous_success": st.PreviousSuccess,
		"previous_failure": st.PreviousFailure,
	}
	if st.Err != nil {
		m["error"] = st.Err.Error()
	}
	return m
}

// ResetHealth is POST /api/sms/health/{provider_id}/reset.
func (h *Handlers) ResetHealth(c *fiber.Ctx) error {
	providerID := c.Params("provider_id")
	if !h.registry.Exists(providerID) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "unknown provider"})
	}
	if err := h.health.Reset(c.Context(), providerID); err != nil {
		h.log.Error("failed to reset provider health", zap.String("provider", providerID), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to reset health"})
	}
	return c.JSON(fiber.Map{"success": true})
}

// ListRequests is GET /api/sms/requests.
func (h *Handlers) ListRequests(c *fiber.Ctx) error {
	status := c.Query("status")
	provider := c.Query("provider")
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	requests, err := h.requests.ByStatusAndProvider(c.Context(), status, provider, limit)
	if err != nil {
		h.log.Error("failed to list requests", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to list requests"})
	}
	return c.JSON(requests)
}

// GetRequest handles GET /api/sms/requests/{id}
//
//	@Summary		Get one request by message id
//	@Tags			SMS
//	@Produce		json
//	@Param			id	path		string	true	"Message ID"
//	@Success		200	{object}	store.Request
//	@Failure		404	{object}	map[string]string
//	@Router			/api/sms/requests/{id} [get]
func (h *Handlers) GetRequest(c *fiber.Ctx) error {
	messageID := c.Params("id")
	req, err := h.requests.GetByMessageID(c.Context(), messageID)
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "request not found"})
	}
	return c.JSON(req)
}

// Stats is GET /api/sms/stats.
func (h *Handlers) Stats(c *fiber.Ctx) error {
	summaries, err := h.healthSummary.All(c.Context())
	if err != nil {
		h.log.Error("failed to load provider health summaries", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to load stats"})
	}
	return c.JSON(fiber.Map{"providers": summaries})
}

// DistributionStats is GET /api/sms/distribution-stats.
func (h *Handlers) DistributionStats(c *fiber.Ctx) error {
	stats := h.selector.Stats()
	return c.JSON(fiber.Map{
		"round_robin_index": stats.RoundRobinIndex,
		"usage_count":       stats.UsageCount,
		"mode":              h.selector.Mode(),
	})
}

// ResetDistributionStats is POST /api/sms/distribution-stats/reset.
func (h *Handlers) ResetDistributionStats(c *fiber.Ctx) error {
	h.selector.ResetStats()
	return c.JSON(fiber.Map{"success": true})
}

// QueueStatus is GET /api/sms/queue-status.
func (h *Handlers) QueueStatus(c *fiber.Ctx) error {
	if err := h.queue.HealthCheck(c.Context()); err != nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"healthy": false, "error": err.Error()})
	}
	return c.JSON(fiber.Map{"healthy": true})
}

// DeadLetter is GET /api/sms/dead-letter.
func (h *Handlers) DeadLetter(c *fiber.Ctx) error {
	limit := 100
	if raw := c.Query("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	entries, err := h.deadLetter.List(c.Context(), int64(limit))
	if err != nil {
		h.log.Error("failed to list dead-letter entries", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to list dead-letter entries"})
	}
	return c.JSON(entries)
}

// HealthCheck is the liveness probe, GET /healthz.
func (h *Handlers) HealthCheck(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "healthy", "timestamp": time.Now().UTC()})
}
