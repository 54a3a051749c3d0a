package providers

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/sony/gobreaker/v2"
)

// StateFunc observes circuit breaker state changes.
type StateFunc func(name string, from, to gobreaker.State)

type breaker struct {
	next Provider
	cb   *gobreaker.CircuitBreaker[string]
}

// WithBreaker guards p with a circuit breaker that opens after repeated failures,
// so a dead upstream fails fast instead of holding sessions in processing.
func WithBreaker(name string, p Provider, onChange StateFunc) Provider {
	cb := gobreaker.NewCircuitBreaker[string](gobreaker.Settings{
		Name:        name,
		MaxRequests: 2,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < 5 {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= 0.6
		},
		IsSuccessful: func(err error) bool {
			// a caller giving up says nothing about the upstream
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("Circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
			if onChange != nil {
				onChange(name, from, to)
			}
		},
	})
	return &breaker{next: p, cb: cb}
}

func (b *breaker) ExtractText(ctx context.Context, config Config) (string, error) {
	return b.cb.Execute(func() (string, error) {
		return b.next.ExtractText(ctx, config)
	})
}
