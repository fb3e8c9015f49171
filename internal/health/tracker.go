// Package health tracks provider success/failure counts over a sliding
// 5-minute window and reports a provider unhealthy once its failure rate
// crosses a configured threshold.
package health

import (
	"context"
	"fmt"
	"time"

	"github.com/arvancloud/sms-gateway/internal/kvstore"
	"go.uber.org/zap"
)

// Status is the health snapshot for a single provider.
type Status struct {
	ProviderID      string
	IsHealthy       bool
	TotalRequests   int64
	SuccessCount    int64
	FailureCount    int64
	FailureRate     float64
	CurrentSuccess  int64
	CurrentFailure  int64
	PreviousSuccess int64
	PreviousFailure int64
	WindowExpiresAt time.Time
	Err             error
}

// Tracker is a kvstore-backed sliding window health tracker.
type Tracker struct {
	store            kvstore.Store
	windowDuration   time.Duration
	failureThreshold float64
	log              *zap.Logger
	now              func() time.Time
}

// New builds a Tracker. windowDuration is the bucket width (spec default
// 300s); failureThreshold is the failure rate at or above which a provider
// is considered unhealthy (spec default 0.70).
func New(store kvstore.Store, windowDuration time.Duration, failureThreshold float64, log *zap.Logger) *Tracker {
	return &Tracker{
		store:            store,
		windowDuration:   windowDuration,
		failureThreshold: failureThreshold,
		log:              log,
		now:              time.Now,
	}
}

func (t *Tracker) windowStart(at time.Time) int64 {
	width := int64(t.windowDuration.Seconds())
	if width <= 0 {
		width = 1
	}
	return (at.Unix() / width) * width
}

func (t *Tracker) keys(providerID string, at time.Time) (curSuccess, curFailure, prevSuccess, prevFailure string) {
	current := t.windowStart(at)
	width := int64(t.windowDuration.Seconds())
	previous := current - width
	curSuccess = fmt.Sprintf("health:%s:success:%d", providerID, current)
	curFailure = fmt.Sprintf("health:%s:failure:%d", providerID, current)
	prevSuccess = fmt.Sprintf("health:%s:success:%d", providerID, previous)
	prevFailure = fmt.Sprintf("health:%s:failure:%d", providerID, previous)
	return
}

// RecordSuccess increments the current window's success counter.
func (t *Tracker) RecordSuccess(ctx context.Context, providerID string) error {
	curSuccess, _, _, _ := t.keys(providerID, t.now())
	if _, err := t.store.IncrWithExpire(ctx, curSuccess, t.windowDuration); err != nil {
		t.log.Error("failed to record success", zap.String("provider", providerID), zap.Error(err))
		return fmt.Errorf("record success for %s: %w", providerID, err)
	}
	return nil
}

// RecordFailure increments the current window's failure counter.
func (t *Tracker) RecordFailure(ctx context.Context, providerID string) error {
	_, curFailure, _, _ := t.keys(providerID, t.now())
	if _, err := t.store.IncrWithExpire(ctx, curFailure, t.windowDuration); err != nil {
		t.log.Error("failed to record failure", zap.String("provider", providerID), zap.Error(err))
		return fmt.Errorf("record failure for %s: %w", providerID, err)
	}
	return nil
}

// weightedTotals applies time-weighting to the previous window's counts:
// the fraction of the previous window still "inside" the sliding window
// shrinks linearly as the current window ages, and weighted counts are
// floored to whole requests.
func (t *Tracker) weightedTotals(at time.Time, curSuccess, curFailure, prevSuccess, prevFailure int64) (totalSuccess, totalFailure int64) {
	currentStart := t.windowStart(at)
	width := t.windowDuration.Seconds()
	fractionIntoWindow := float64(at.Unix()-currentStart) / width
	previousWeight := 1.0 - fractionIntoWindow
	if previousWeight < 0 {
		previousWeight = 0
	}

	weightedPrevSuccess := int64(float64(prevSuccess) * previousWeight)
	weightedPrevFailure := int64(float64(prevFailure) * previousWeight)

	totalSuccess = curSuccess + weightedPrevSuccess
	totalFailure = curFailure + weightedPrevFailure
	return
}

// GetStatus computes the current sliding-window health snapshot for a
// provider. On a kvstore error it defaults to healthy, since an observability
// failure must never itself block dispatch.
func (t *Tracker) GetStatus(ctx context.Context, providerID string) Status {
	now := t.now()
	curSuccessKey, curFailureKey, prevSuccessKey, prevFailureKey := t.keys(providerID, now)

	curSuccess, err1 := t.store.Get(ctx, curSuccessKey)
	curFailure, err2 := t.store.Get(ctx, curFailureKey)
	prevSuccess, err3 := t.store.Get(ctx, prevSuccessKey)
	prevFailure, err4 := t.store.Get(ctx, prevFailureKey)

	if err := firstErr(err1, err2, err3, err4); err != nil {
		t.log.Warn("health status defaulted to healthy due to kvstore error", zap.String("provider", providerID), zap.Error(err))
		return Status{ProviderID: providerID, IsHealthy: true, Err: err}
	}

	totalSuccess, totalFailure := t.weightedTotals(now, curSuccess, curFailure, prevSuccess, prevFailure)
	totalRequests := totalSuccess + totalFailure

	var failureRate float64
	isHealthy := true
	if totalRequests > 0 {
		failureRate = float64(totalFailure) / float64(totalRequests)
		isHealthy = failureRate < t.failureThreshold
	}

	width := int64(t.windowDuration.Seconds())
	expires := time.Unix(t.windowStart(now)+width, 0)

	return Status{
		ProviderID:      providerID,
		IsHealthy:       isHealthy,
		TotalRequests:   totalRequests,
		SuccessCount:    totalSuccess,
		FailureCount:    totalFailure,
		FailureRate:     failureRate,
		CurrentSuccess:  curSuccess,
		CurrentFailure:  curFailure,
		PreviousSuccess: prevSuccess,
		PreviousFailure: prevFailure,
		WindowExpiresAt: expires,
	}
}

// IsHealthy is a convenience wrapper around GetStatus.
func (t *Tracker) IsHealthy(ctx context.Context, providerID string) bool {
	return t.GetStatus(ctx, providerID).IsHealthy
}

// Reset clears all current and previous window keys for a provider.
func (t *Tracker) Reset(ctx context.Context, providerID string) error {
	curSuccess, curFailure, prevSuccess, prevFailure := t.keys(providerID, t.now())
	return t.store.Del(ctx, curSuccess, curFailure, prevSuccess, prevFailure)
}

func firstErr(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
