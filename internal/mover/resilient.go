package mover

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/cenkalti/backoff/v4"
	gobreaker "github.com/sony/gobreaker/v2"

	"dtm-go/internal/dtm"
)

// breakerCooldown is how long an open breaker rejects moves before letting
// a trial move through.
const breakerCooldown = time.Minute

// ResilientMover retries failed moves with exponential backoff and stops
// trying altogether once the destination has failed too many times in a
// row. It is meant for destinations reached over a network.
type ResilientMover struct {
	dtm.Mover

	retries int
	delay   time.Duration
	breaker *gobreaker.CircuitBreaker[struct{}]
	logger  dtm.Logger
}

// NewResilientMover wraps inner. A move is attempted at most retries+1
// times, starting delay apart. After threshold consecutive failed attempts
// the breaker opens and moves fail fast for breakerCooldown.
func NewResilientMover(inner dtm.Mover, retries int, delay time.Duration, threshold uint32, logger dtm.Logger) *ResilientMover {
	if threshold == 0 {
		threshold = 1
	}
	r := &ResilientMover{
		Mover:   inner,
		retries: retries,
		delay:   delay,
		logger:  logger,
	}
	r.breaker = gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        "mover-" + inner.Name(),
		MaxRequests: 1,
		Timeout:     breakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("mover circuit breaker changed state", "mover", name, "from", from.String(), "to", to.String())
		},
	})
	return r
}

// Move retries the wrapped mover's Move while the source still exists.
func (r *ResilientMover) Move(ctx context.Context, src, dst string) error {
	attempt := 0
	op := func() error {
		attempt++
		if _, err := os.Stat(src); err != nil {
			return backoff.Permanent(fmt.Errorf("source no longer available: %w", err))
		}

		_, err := r.breaker.Execute(func() (struct{}, error) {
			return struct{}{}, r.Mover.Move(ctx, src, dst)
		})
		switch {
		case err == nil:
			return nil
		case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
			return backoff.Permanent(err)
		case ctx.Err() != nil:
			return backoff.Permanent(ctx.Err())
		}
		r.logger.Warn("move attempt failed", "src", src, "dst", dst, "attempt", attempt, "error", err)
		return err
	}

	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = r.delay
	exp.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(exp, uint64(r.retries)), ctx)

	return backoff.Retry(op, policy)
}

// State returns the breaker state, e.g. "closed" or "open".
func (r *ResilientMover) State() string {
	return r.breaker.State().String()
}

// Compile-time check that ResilientMover implements dtm.Mover interface
var _ dtm.Mover = (*ResilientMover)(nil)
