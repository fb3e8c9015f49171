package retrypolicy

import (
	"testing"
	"time"
)

func TestBackoffGrowsExponentially(t *testing.T) {
	p := New(time.Second, 300*time.Second, 5, false)

	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 1 * time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
	}

	for _, c := range cases {
		got := p.Backoff(c.attempt)
		if got != c.want {
			t.Errorf("attempt %d: want %v, got %v", c.attempt, c.want, got)
		}
	}
}

func TestBackoffCapsAtMaxDelay(t *testing.T) {
	p := New(time.Second, 10*time.Second, 10, false)
	got := p.Backoff(10)
	if got != 10*time.Second {
		t.Fatalf("expected backoff capped at max delay, got %v", got)
	}
}

func TestBackoffJitterIsAdditiveNotBelowBase(t *testing.T) {
	p := New(time.Second, 300*time.Second, 5, true)
	for i := 0; i < 50; i++ {
		got := p.Backoff(2) // base exponential = 4s
		if got < 4*time.Second {
			t.Fatalf("jitter must be additive only, never below the computed exponential delay: got %v", got)
		}
		if got > 5*time.Second {
			t.Fatalf("jitter must not exceed 25%% of the computed delay: got %v", got)
		}
	}
}

func TestExceedsMaxRetries(t *testing.T) {
	p := New(time.Second, 300*time.Second, 5, false)
	if p.ExceedsMaxRetries(4) {
		t.Fatal("attempt 4 is within budget for MaxRetries=5")
	}
	if !p.ExceedsMaxRetries(5) {
		t.Fatal("attempt 5 should exceed the retry budget")
	}
}

func TestExclusionSetSaturation(t *testing.T) {
	universe := []string{"provider1", "provider2", "provider3"}
	set := NewExclusionSet(nil)
	if set.Saturated(universe) {
		t.Fatal("empty exclusion set should not be saturated")
	}

	set.Add("provider1")
	set.Add("provider2")
	if set.Saturated(universe) {
		t.Fatal("exclusion set missing provider3 should not be saturated")
	}

	set.Add("provider3")
	if !set.Saturated(universe) {
		t.Fatal("exclusion set covering the whole universe should be saturated")
	}
}

func TestExclusionSetAccumulatesFromInitial(t *testing.T) {
	set := NewExclusionSet([]string{"provider1"})
	if !set.Contains("provider1") {
		t.Fatal("initial members must be present")
	}
	set.Add("provider2")
	if !set.Contains("provider2") {
		t.Fatal("added members must be present")
	}
	if set.Contains("provider3") {
		t.Fatal("provider3 was never added")
	}
}
