package executor

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/stackctl/stackctl/internal/domain/stackset"
)

// retryPolicy implements spec §4.6 "Retries": Throttled errors retry with
// exponential backoff (base 1s, factor 2, jitter ±20%, cap 30s, max 10
// attempts). ValidationError and PermissionDenied are immediately fatal.
type retryPolicy struct {
	Base       time.Duration
	Factor     float64
	Jitter     float64
	Cap        time.Duration
	MaxAttempts int
}

func defaultRetryPolicy() retryPolicy {
	return retryPolicy{
		Base:        time.Second,
		Factor:      2,
		Jitter:      0.2,
		Cap:         30 * time.Second,
		MaxAttempts: 10,
	}
}

func (r retryPolicy) backoff(attempt int) time.Duration {
	d := float64(r.Base) * pow(r.Factor, float64(attempt))
	if time.Duration(d) > r.Cap {
		d = float64(r.Cap)
	}
	jitterRange := d * r.Jitter
	delta := (rand.Float64()*2 - 1) * jitterRange
	result := time.Duration(d + delta)
	if result < 0 {
		result = 0
	}
	return result
}

func pow(base, exp float64) float64 {
	result := 1.0
	for i := 0; i < int(exp); i++ {
		result *= base
	}
	return result
}

// withRetry runs fn, retrying while it returns a Throttled DomainError, up
// to MaxAttempts, honoring ctx cancellation between attempts.
func withRetry(ctx context.Context, policy retryPolicy, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt < policy.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		var derr *stackset.DomainError
		if !errors.As(lastErr, &derr) || derr.Code != stackset.ErrCodeThrottled {
			return lastErr
		}
		if attempt == policy.MaxAttempts-1 {
			break
		}
		wait := policy.backoff(attempt)
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return lastErr
}
