// Package retrypolicy computes retry backoff delays and tracks the
// provider-exclusion set that accumulates across a request's attempts.
package retrypolicy

import (
	"math"
	"math/rand"
	"time"
)

// Policy computes exponential backoff with an optional additive jitter.
type Policy struct {
	Base       time.Duration
	MaxDelay   time.Duration
	MaxRetries int
	Jitter     bool
}

// New builds a Policy from the configured tunables.
func New(base, maxDelay time.Duration, maxRetries int, jitter bool) *Policy {
	return &Policy{Base: base, MaxDelay: maxDelay, MaxRetries: maxRetries, Jitter: jitter}
}

// Backoff computes delay(attempt) = min(base * 2^attempt, maxDelay), with
// additive jitter of up to 25% of the computed value when enabled.
func (p *Policy) Backoff(attempt int) time.Duration {
	exponential := float64(p.Base) * math.Pow(2, float64(attempt))
	if exponential > float64(p.MaxDelay) {
		exponential = float64(p.MaxDelay)
	}

	delay := exponential
	if p.Jitter {
		delay += exponential * 0.25 * rand.Float64()
	}

	return time.Duration(delay)
}

// ExceedsMaxRetries reports whether attempt has used up the retry budget.
func (p *Policy) ExceedsMaxRetries(attempt int) bool {
	return attempt >= p.MaxRetries
}

// ExclusionSet tracks providers that have already failed for one request,
// accumulating across retries so the Dispatcher never re-selects them.
type ExclusionSet struct {
	members map[string]struct{}
}

// NewExclusionSet builds an exclusion set from an initial list of provider
// ids (may be nil or empty for a fresh request).
func NewExclusionSet(initial []string) *ExclusionSet {
	set := &ExclusionSet{members: make(map[string]struct{}, len(initial))}
	for _, id := range initial {
		set.members[id] = struct{}{}
	}
	return set
}

// Add marks providerID as excluded.
func (e *ExclusionSet) Add(providerID string) {
	e.members[providerID] = struct{}{}
}

// Contains reports whether providerID is already excluded.
func (e *ExclusionSet) Contains(providerID string) bool {
	_, ok := e.members[providerID]
	return ok
}

// Saturated reports whether every provider in universe has been excluded,
// meaning no further selection is possible for this request.
func (e *ExclusionSet) Saturated(universe []string) bool {
	for _, id := range universe {
		if !e.Contains(id) {
			return false
		}
	}
	return true
}

// Slice returns the excluded provider ids as a slice, for serialization
// onto a queued task.
func (e *ExclusionSet) Slice() []string {
	out := make([]string, 0, len(e.members))
	for id := range e.members {
		out = append(out, id)
	}
	return out
}

// AsSet returns the exclusion set in the map shape the selector expects.
func (e *ExclusionSet) AsSet() map[string]struct{} {
	return e.members
}
