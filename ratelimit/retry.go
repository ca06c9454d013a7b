package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"
)

// DefaultRetries is the number of attempts Execute makes before giving up.
const DefaultRetries = 3

var ErrRetriesExhausted = errors.New("retries exhausted")

// Backoff returns 2^attempt + attempt*0.1 seconds for a zero-based attempt.
func Backoff(attempt int) time.Duration {
	secs := math.Pow(2, float64(attempt)) + float64(attempt)*0.1
	return time.Duration(secs * float64(time.Second))
}

// Execute runs op under the channel's admission control. Every attempt, including
// retries, waits for admission first. The returned error wraps both
// ErrRetriesExhausted and the last failure.
func (l *Limiter) Execute(ctx context.Context, name string, op func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt < l.retries; attempt++ {
		if err := l.Wait(ctx, name); err != nil {
			return err
		}

		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if attempt < l.retries-1 {
			if err := l.sleep(ctx, l.backoff(attempt)); err != nil {
				return err
			}
		}
	}
	return fmt.Errorf("%s: %w after %d attempts: %w", name, ErrRetriesExhausted, l.retries, lastErr)
}
