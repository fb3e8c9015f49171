// Package distribution chooses, for each dispatch attempt, which healthy
// and non-rate-limited provider should carry the request: round-robin while
// the whole fleet is clean, weighted by recent success rate once any
// provider has ever failed.
package distribution

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/arvancloud/sms-gateway/internal/health"
	"github.com/arvancloud/sms-gateway/internal/providers"
	"github.com/arvancloud/sms-gateway/internal/ratelimit"
	"go.uber.org/zap"
)

type providerStatus struct {
	isHealthy     bool
	isRateLimited bool
}

// Selector picks a provider for each dispatch attempt given the live
// health/rate-limit state and an accumulated exclusion set.
type Selector struct {
	health   *health.Tracker
	perProv  *ratelimit.ProviderLimiter
	global   *ratelimit.GlobalLimiter
	registry *providers.Registry
	log      *zap.Logger

	checkInterval time.Duration
	now           func() time.Time

	mu              sync.Mutex
	status          map[string]providerStatus
	lastStatusCheck time.Time
	roundRobinIndex int
	usageCount      map[string]int64
	everFailed      bool
	healthErrored   bool
}

// New builds a Selector over the given tracker, limiters, and registry.
func New(tracker *health.Tracker, perProv *ratelimit.ProviderLimiter, global *ratelimit.GlobalLimiter, registry *providers.Registry, checkInterval time.Duration, log *zap.Logger) *Selector {
	return &Selector{
		health:        tracker,
		perProv:       perProv,
		global:        global,
		registry:      registry,
		log:           log,
		checkInterval: checkInterval,
		now:           time.Now,
		status:        make(map[string]providerStatus),
		usageCount:    make(map[string]int64),
	}
}

func (s *Selector) refreshStatus(ctx context.Context) {
	s.mu.Lock()
	stale := s.now().Sub(s.lastStatusCheck) >= s.checkInterval
	s.mu.Unlock()
	if !stale && len(s.status) > 0 {
		return
	}

	fresh := make(map[string]providerStatus, s.registry.Len())
	anyFailed := false
	healthErrored := false
	for _, id := range s.registry.IDs() {
		st := s.health.GetStatus(ctx, id)
		if st.Err != nil {
			healthErrored = true
		}
		if st.FailureCount > 0 {
			anyFailed = true
		}
		allowed, _ := s.perProv.IsAllowed(ctx, id)
		fresh[id] = providerStatus{isHealthy: st.IsHealthy, isRateLimited: !allowed}
	}

	s.mu.Lock()
	s.status = fresh
	s.lastStatusCheck = s.now()
	s.healthErrored = healthErrored
	if anyFailed {
		s.everFailed = true
	}
	s.mu.Unlock()
}

// eligible returns the sorted set of healthy, non-rate-limited, non-excluded
// providers, per the live status cache.
func (s *Selector) eligible(excluded map[string]struct{}) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []string
	for id, st := range s.status {
		if _, isExcluded := excluded[id]; isExcluded {
			continue
		}
		if st.isHealthy && !st.isRateLimited {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// Select picks a provider, excluding any id in excluded. It returns
// ("", "", false) when no provider is available.
func (s *Selector) Select(ctx context.Context, excluded map[string]struct{}) (providerID, url string, ok bool) {
	globalCount := s.global.CurrentCount(ctx)
	if globalCount >= int64(s.global.Limit()) {
		s.log.Warn("global rate limit exceeded, no selection made", zap.Int64("count", globalCount))
		return "", "", false
	}

	s.refreshStatus(ctx)

	candidates := s.eligible(excluded)
	if len(candidates) == 0 {
		s.mu.Lock()
		healthErrored := s.healthErrored
		s.mu.Unlock()
		if healthErrored {
			// Degraded default: the health lookup itself failed, so fall
			// back to the first configured provider rather than shedding.
			for _, id := range s.registry.IDs() {
				if _, isExcluded := excluded[id]; !isExcluded {
					s.log.Warn("falling back to default provider due to health tracker error", zap.String("provider", id))
					s.mu.Lock()
					s.usageCount[id]++
					s.mu.Unlock()
					return id, s.registry.URL(id), true
				}
			}
		}
		return "", "", false
	}

	chosen := s.pick(ctx, candidates)
	if chosen == "" {
		return "", "", false
	}

	s.mu.Lock()
	st := s.status[chosen]
	s.mu.Unlock()

	if st.isRateLimited {
		alt := s.findAlternative(ctx, candidates, chosen)
		if alt == "" {
			return "", "", false
		}
		chosen = alt
	}

	s.mu.Lock()
	s.usageCount[chosen]++
	s.mu.Unlock()

	return chosen, s.registry.URL(chosen), true
}

func (s *Selector) pick(ctx context.Context, candidates []string) string {
	s.mu.Lock()
	useWeighted := s.everFailed
	s.mu.Unlock()

	if !useWeighted {
		return s.roundRobinPick(candidates)
	}
	return s.weightedPick(ctx, candidates)
}

func (s *Selector) roundRobinPick(candidates []string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(candidates) == 0 {
		return ""
	}
	idx := s.roundRobinIndex % len(candidates)
	s.roundRobinIndex++
	return candidates[idx]
}

func (s *Selector) weightedPick(ctx context.Context, candidates []string) string {
	best := ""
	bestScore := -1.0
	for _, id := range candidates {
		st := s.health.GetStatus(ctx, id)
		successRate := 1.0 - st.FailureRate
		weight := successRate
		if weight < 0.1 {
			weight = 0.1
		}
		s.mu.Lock()
		usage := s.usageCount[id]
		s.mu.Unlock()
		score := (weight * weight) / (float64(usage) + 1)
		if score > bestScore {
			bestScore = score
			best = id
		}
	}
	return best
}

func (s *Selector) findAlternative(ctx context.Context, candidates []string, excludeID string) string {
	alternatives := make([]string, 0, len(candidates))
	for _, id := range candidates {
		if id != excludeID {
			s.mu.Lock()
			st := s.status[id]
			s.mu.Unlock()
			if !st.isRateLimited {
				alternatives = append(alternatives, id)
			}
		}
	}
	if len(alternatives) == 0 {
		return ""
	}

	s.mu.Lock()
	useWeighted := s.everFailed
	s.mu.Unlock()
	if !useWeighted {
		return alternatives[0]
	}
	return s.weightedPick(ctx, alternatives)
}

// Mode reports whether the selector is currently picking round-robin or
// weighted, for metrics labeling.
func (s *Selector) Mode() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.everFailed {
		return "weighted"
	}
	return "round-robin"
}

// Stats is a snapshot of the selector's in-process counters, exposed for
// the distribution-stats admin endpoint.
type Stats struct {
	RoundRobinIndex int
	UsageCount      map[string]int64
}

// Stats returns a copy of the selector's current per-process counters.
func (s *Selector) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	usage := make(map[string]int64, len(s.usageCount))
	for k, v := range s.usageCount {
		usage[k] = v
	}
	return Stats{RoundRobinIndex: s.roundRobinIndex, UsageCount: usage}
}

// ResetStats clears the in-process round-robin index and usage counters.
func (s *Selector) ResetStats() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.roundRobinIndex = 0
	s.usageCount = make(map[string]int64)
}
