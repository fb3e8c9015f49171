// Package ratelimit implements the fixed-window request limiters that sit
// in front of provider dispatch: one counter per provider and one global
// counter, both backed by the kvstore boundary.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/arvancloud/sms-gateway/internal/kvstore"
	"go.uber.org/zap"
)

const globalKey = "global_rate_limit"

func providerKey(providerID string) string {
	return fmt.Sprintf("rate_limit:%s", providerID)
}

// Limiter is a fixed-window counter over the kvstore, used both for the
// per-provider and the global limit.
type Limiter struct {
	store  kvstore.Store
	limit  int
	window time.Duration
	log    *zap.Logger
}

// New builds a limiter with the given request ceiling per window.
func New(store kvstore.Store, limit int, window time.Duration, log *zap.Logger) *Limiter {
	return &Limiter{store: store, limit: limit, window: window, log: log}
}

// IsAllowed increments the counter for key and reports whether the
// resulting count is still within the limit, along with the count itself.
// A kvstore error fails open: the request is allowed and count 0 reported,
// so an outage of the KV store never blocks dispatch entirely.
func (l *Limiter) IsAllowed(ctx context.Context, key string) (bool, int64) {
	count, err := l.store.IncrWithExpire(ctx, key, l.window)
	if err != nil {
		l.log.Warn("rate limit check bypassed due to kvstore error", zap.String("key", key), zap.Error(err))
		return true, 0
	}
	return count <= int64(l.limit), count
}

// CurrentCount returns the current window count for key without mutating it.
func (l *Limiter) CurrentCount(ctx context.Context, key string) int64 {
	count, err := l.store.Get(ctx, key)
	if err != nil {
		l.log.Warn("rate limit count read failed", zap.String("key", key), zap.Error(err))
		return 0
	}
	return count
}

// Reset clears the counter for key.
func (l *Limiter) Reset(ctx context.Context, key string) error {
	return l.store.Del(ctx, key)
}

// Limit returns the configured ceiling for this limiter.
func (l *Limiter) Limit() int { return l.limit }

// ProviderLimiter wraps Limiter with the per-provider key convention.
type ProviderLimiter struct {
	*Limiter
}

// NewProvider builds the per-provider rate limiter.
func NewProvider(store kvstore.Store, limit int, window time.Duration, log *zap.Logger) *ProviderLimiter {
	return &ProviderLimiter{Limiter: New(store, limit, window, log)}
}

// IsAllowed checks and increments the provider's window counter.
func (p *ProviderLimiter) IsAllowed(ctx context.Context, providerID string) (bool, int64) {
	return p.Limiter.IsAllowed(ctx, providerKey(providerID))
}

// CurrentCount reads the provider's window counter without mutating it.
func (p *ProviderLimiter) CurrentCount(ctx context.Context, providerID string) int64 {
	return p.Limiter.CurrentCount(ctx, providerKey(providerID))
}

// Reset clears the provider's window counter.
func (p *ProviderLimiter) Reset(ctx context.Context, providerID string) error {
	return p.Limiter.Reset(ctx, providerKey(providerID))
}

// GlobalLimiter wraps Limiter with the single global key.
type GlobalLimiter struct {
	*Limiter
}

// NewGlobal builds the global rate limiter.
func NewGlobal(store kvstore.Store, limit int, window time.Duration, log *zap.Logger) *GlobalLimiter {
	return &GlobalLimiter{Limiter: New(store, limit, window, log)}
}

// IsAllowed checks and increments the global window counter.
func (g *GlobalLimiter) IsAllowed(ctx context.Context) (bool, int64) {
	return g.Limiter.IsAllowed(ctx, globalKey)
}

// CurrentCount reads the global window counter without mutating it. This
// mirrors the original's get_current_count, used by the selector to check
// the global limit non-mutating before a selection is made.
func (g *GlobalLimiter) CurrentCount(ctx context.Context) int64 {
	return g.Limiter.CurrentCount(ctx, globalKey)
}

// Reset clears the global window counter.
func (g *GlobalLimiter) Reset(ctx context.Context) error {
	return g.Limiter.Reset(ctx, globalKey)
}
