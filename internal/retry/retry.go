// Package retry provides the exponential backoff policy shared by the
// harvest coordinator and the asset downloader.
package retry

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// Policy configures retry behavior for transient failures.
type Policy struct {
	// Budget is the maximum number of attempts per unit of work,
	// including the initial attempt.
	Budget int
	// Base is the delay before the first retry.
	Base time.Duration
	// Cap bounds the exponential growth of the delay.
	Cap time.Duration
	// Jitter is the relative jitter applied to each delay, e.g. 0.2 for +/-20%.
	Jitter float64
}

// DefaultPolicy returns the policy used when configuration is silent.
func DefaultPolicy() Policy {
	return Policy{
		Budget: 3,
		Base:   2 * time.Second,
		Cap:    60 * time.Second,
		Jitter: 0.2,
	}
}

// Exhausted reports whether attempts has consumed the budget.
func (p Policy) Exhausted(attempts int) bool {
	budget := p.Budget
	if budget <= 0 {
		budget = 1
	}
	return attempts >= budget
}

// Delay returns the backoff delay before retry number attempt (1-based).
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	base := p.Base
	if base <= 0 {
		base = time.Second
	}

	d := time.Duration(float64(base) * math.Pow(2, float64(attempt-1)))
	if p.Cap > 0 && d > p.Cap {
		d = p.Cap
	}

	if p.Jitter > 0 {
		// Spread retries so parallel workers do not hammer a recovering site
		// in lockstep.
		delta := (rand.Float64()*2 - 1) * p.Jitter * float64(d)
		d = time.Duration(float64(d) + delta)
		if d < 0 {
			d = 0
		}
	}

	return d
}

// Sleep waits for the backoff delay of the given attempt, or returns early
// with the context error if the run is cancelled.
func (p Policy) Sleep(ctx context.Context, attempt int) error {
	t := time.NewTimer(p.Delay(attempt))
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
