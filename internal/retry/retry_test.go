package retry

import (
	"context"
	"testing"
	"time"
)

func TestExhausted(t *testing.T) {
	testCases := []struct {
		name     string
		budget   int
		attempts int
		want     bool
	}{
		{name: "first attempt within budget", budget: 3, attempts: 1, want: false},
		{name: "last attempt within budget", budget: 3, attempts: 2, want: false},
		{name: "budget reached", budget: 3, attempts: 3, want: true},
		{name: "over budget", budget: 3, attempts: 4, want: true},
		{name: "zero budget means no retries", budget: 0, attempts: 1, want: true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			p := Policy{Budget: tc.budget}
			if got := p.Exhausted(tc.attempts); got != tc.want {
				t.Errorf("Exhausted(%d) with budget %d = %v, want %v",
					tc.attempts, tc.budget, got, tc.want)
			}
		})
	}
}

func TestDelayGrowsAndCaps(t *testing.T) {
	p := Policy{Budget: 10, Base: time.Second, Cap: 8 * time.Second, Jitter: 0}

	testCases := []struct {
		attempt int
		want    time.Duration
	}{
		{attempt: 1, want: time.Second},
		{attempt: 2, want: 2 * time.Second},
		{attempt: 3, want: 4 * time.Second},
		{attempt: 4, want: 8 * time.Second},
		{attempt: 5, want: 8 * time.Second}, // capped
		{attempt: 10, want: 8 * time.Second},
	}

	for _, tc := range testCases {
		if got := p.Delay(tc.attempt); got != tc.want {
			t.Errorf("Delay(%d) = %v, want %v", tc.attempt, got, tc.want)
		}
	}
}

func TestDelayJitterBounds(t *testing.T) {
	p := Policy{Budget: 5, Base: time.Second, Cap: time.Minute, Jitter: 0.2}

	for i := 0; i < 100; i++ {
		d := p.Delay(2)
		min := time.Duration(float64(2*time.Second) * 0.8)
		max := time.Duration(float64(2*time.Second) * 1.2)
		if d < min || d > max {
			t.Fatalf("Delay(2) = %v, want within [%v, %v]", d, min, max)
		}
	}
}

func TestSleepRespectsCancellation(t *testing.T) {
	p := Policy{Budget: 3, Base: time.Hour, Cap: time.Hour, Jitter: 0}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	err := p.Sleep(ctx, 1)
	if err == nil {
		t.Fatal("Sleep should return the context error on cancellation")
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Sleep blocked for %v after cancellation", elapsed)
	}
}

func TestDefaultPolicy(t *testing.T) {
	p := DefaultPolicy()
	if p.Budget != 3 {
		t.Errorf("default budget = %d, want 3", p.Budget)
	}
	if p.Base <= 0 || p.Cap < p.Base {
		t.Errorf("default backoff window is invalid: base=%v cap=%v", p.Base, p.Cap)
	}
}
