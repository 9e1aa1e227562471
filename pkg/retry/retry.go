package retry

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/Vivekkumarprince1/vaani-sub000/pkg/logger"
)

// Policy describes a bounded retry schedule with exponential backoff
type Policy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Multiplier     float64
}

// DefaultPolicy returns the schedule used for optimistic-concurrency
// conflicts: 3 attempts, 50ms/100ms between them
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:    3,
		InitialBackoff: 50 * time.Millisecond,
		MaxBackoff:     time.Second,
		Multiplier:     2.0,
	}
}

// ProviderPolicy returns the schedule used around external provider calls:
// the initial attempt plus 2 retries with exponential backoff
func ProviderPolicy() Policy {
	return Policy{
		MaxAttempts:    3,
		InitialBackoff: 200 * time.Millisecond,
		MaxBackoff:     2 * time.Second,
		Multiplier:     2.0,
	}
}

// Do runs fn until it succeeds or attempts are exhausted, retrying every error
func Do(ctx context.Context, operation string, p Policy, fn func() error) error {
	return DoIf(ctx, operation, p, nil, fn)
}

// DoIf runs fn until it succeeds, attempts are exhausted, retryable rejects
// the error, or ctx is cancelled. A nil retryable retries every error.
func DoIf(ctx context.Context, operation string, p Policy, retryable func(error) bool, fn func() error) error {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	if p.Multiplier <= 1 {
		p.Multiplier = 2.0
	}

	var lastErr error
	backoff := p.InitialBackoff

	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if attempt > 1 {
			logger.Warn("retrying operation",
				zap.String("operation", operation),
				zap.Int("attempt", attempt),
				zap.Error(lastErr),
			)
		}

		lastErr = fn()
		if lastErr == nil {
			return nil
		}

		if retryable != nil && !retryable(lastErr) {
			return lastErr
		}
		if attempt == p.MaxAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}

		backoff = time.Duration(float64(backoff) * p.Multiplier)
		if p.MaxBackoff > 0 && backoff > p.MaxBackoff {
			backoff = p.MaxBackoff
		}
	}

	return lastErr
}
