package providers

import (
	"context"
	"log/slog"
	"time"
)

type retrying struct {
	next     Provider
	attempts int
	base     time.Duration
}

// Retry wraps p so transient failures (429/502/503/504) are retried with
// exponential backoff, up to attempts calls in total.
func Retry(p Provider, attempts int, base time.Duration) Provider {
	if attempts <= 1 {
		return p
	}
	return &retrying{next: p, attempts: attempts, base: base}
}

func (r *retrying) ExtractText(ctx context.Context, config Config) (string, error) {
	var lastErr error
	for attempt := 0; attempt < r.attempts; attempt++ {
		if attempt > 0 {
			delay := r.base << (attempt - 1)
			slog.Warn("Retrying provider call", "attempt", attempt+1, "delay", delay, "err", lastErr)
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return "", ctx.Err()
			case <-timer.C:
			}
		}

		text, err := r.next.ExtractText(ctx, config)
		if err == nil {
			return text, nil
		}
		lastErr = err
		if !IsTransient(err) {
			return "", err
		}
	}
	return "", lastErr
}
