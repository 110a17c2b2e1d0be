package ocr

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker/v2"

	"github.com/local/notesingest/internal/metrics"
)

// Instrumented records latency and outcome of every call to the wrapped
// gateway.
type Instrumented struct {
	next Gateway
}

func WithMetrics(next Gateway) *Instrumented { return &Instrumented{next: next} }

func (i *Instrumented) Name() string { return i.next.Name() }

func (i *Instrumented) Recognize(ctx context.Context, data []byte, pageRange string) (Result, error) {
	start := time.Now()
	res, err := i.next.Recognize(ctx, data, pageRange)
	metrics.ObserveOCR(i.next.Name(), outcome(err), time.Since(start))
	return res, err
}

func outcome(err error) string {
	var he *HTTPError
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return "breaker_open"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.As(err, &he):
		if he.StatusCode >= 500 {
			return "server_error"
		}
		return "client_error"
	default:
		return "error"
	}
}

// BreakerOptions configures WithBreaker.
type BreakerOptions struct {
	// ConsecutiveFailures trips the breaker. Zero selects 5.
	ConsecutiveFailures uint32
	// OpenTimeout is how long the breaker stays open before probing.
	OpenTimeout time.Duration
}

// Breaker fails fast while the wrapped backend keeps failing. It never
// retries; a rejected call surfaces gobreaker.ErrOpenState to the caller.
type Breaker struct {
	next Gateway
	cb   *gobreaker.CircuitBreaker[Result]
}

func WithBreaker(next Gateway, opts BreakerOptions) *Breaker {
	if opts.ConsecutiveFailures == 0 {
		opts.ConsecutiveFailures = 5
	}
	if opts.OpenTimeout <= 0 {
		opts.OpenTimeout = 30 * time.Second
	}
	threshold := opts.ConsecutiveFailures
	cb := gobreaker.NewCircuitBreaker[Result](gobreaker.Settings{
		Name:        next.Name(),
		MaxRequests: 1,
		Timeout:     opts.OpenTimeout,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= threshold
		},
		// Caller cancellations say nothing about backend health.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("backend", name).Str("from", from.String()).Str("to", to.String()).Msg("ocr circuit breaker state change")
			metrics.BreakerState(name, to.String())
		},
	})
	return &Breaker{next: next, cb: cb}
}

func (b *Breaker) Name() string { return b.next.Name() }

func (b *Breaker) Recognize(ctx context.Context, data []byte, pageRange string) (Result, error) {
	return b.cb.Execute(func() (Result, error) {
		return b.next.Recognize(ctx, data, pageRange)
	})
}

// State reports the breaker state, e.g. "closed" or "open".
func (b *Breaker) State() string { return b.cb.State().String() }
