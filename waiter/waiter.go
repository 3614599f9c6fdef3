// Package waiter implements the bounded-interval polling primitive used by
// every subsystem that blocks on external state: stack status, volume
// status, server termination, port reachability (spec.md §4.6). Grounded on
// webhook.RetryManager's deliver loop (ctx-aware sleep between attempts via
// select/time.After), generalized from "retry a send" to "poll a predicate
// until terminal, cancellable, attempt-bounded."
package waiter

import (
	"context"
	"errors"
	"time"
)

// ErrAborted is returned when the wait stops because ctx was canceled or the
// caller signaled abort, as distinct from exhausting MaxAttempts (spec.md
// §4.6 "cancellation returns a distinguishable 'aborted' outcome, not a
// timeout").
var ErrAborted = errors.New("waiter: aborted")

// ErrMaxAttemptsExceeded is returned when the predicate never reports
// terminal within MaxAttempts polls.
var ErrMaxAttemptsExceeded = errors.New("waiter: max attempts exceeded")

// Outcome is what a single poll reported.
type Outcome struct {
	// Terminal stops the wait successfully when true.
	Terminal bool
	// Failed stops the wait with an error when true (e.g. CREATE_FAILED).
	Failed bool
	// Err, when Failed is true, is surfaced as the wait's error.
	Err error
}

// Config parameterizes one Wait call (spec.md §4.6 "{predicate, interval,
// max-attempts, on-terminal}"). MaxAttempts <= 0 means unbounded (spec.md
// §5 "server-termination wait: no bound but interrupted by ERROR").
type Config struct {
	Interval    time.Duration
	MaxAttempts int
	Poll        func(ctx context.Context) (Outcome, error)
}

// Wait polls cfg.Poll every cfg.Interval until it reports Terminal or
// Failed, ctx is done, or MaxAttempts is exhausted. It never busy-spins: the
// first poll happens immediately, subsequent polls wait a full interval.
func Wait(ctx context.Context, cfg Config) error {
	attempt := 0
	for {
		select {
		case <-ctx.Done():
			return ErrAborted
		default:
		}

		outcome, err := cfg.Poll(ctx)
		if err != nil {
			return err
		}
		if outcome.Failed {
			if outcome.Err != nil {
				return outcome.Err
			}
			return errors.New("waiter: predicate reported failure")
		}
		if outcome.Terminal {
			return nil
		}

		attempt++
		if cfg.MaxAttempts > 0 && attempt >= cfg.MaxAttempts {
			return ErrMaxAttemptsExceeded
		}

		select {
		case <-time.After(cfg.Interval):
		case <-ctx.Done():
			return ErrAborted
		}
	}
}
