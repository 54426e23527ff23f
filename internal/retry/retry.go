// Package retry provides an explicit retry policy for batch operations
// against the console API and Postgres: bounded attempts, per-error delays,
// and a retryable-error predicate.
package retry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

// ErrExhausted marks errors returned after the attempt budget ran out.
var ErrExhausted = errors.New("retry: attempts exhausted")

// Policy retries an operation on transient failure. The same unit of work is
// re-run until it succeeds, a non-retryable error occurs, or MaxAttempts is
// reached.
type Policy struct {
	// MaxAttempts bounds total executions, including the first.
	MaxAttempts int

	// Delay is the wait between attempts when DelayFor is nil.
	Delay time.Duration

	// DelayFor, when set, picks the wait based on the failure.
	DelayFor func(err error) time.Duration

	// Retryable reports whether a failure is transient. Nil means nothing
	// is retried.
	Retryable func(err error) bool

	Logger *slog.Logger
}

// Do runs fn under the policy. Context cancellation interrupts waits.
func (p Policy) Do(ctx context.Context, op string, fn func() error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		err = fn()
		if err == nil || p.Retryable == nil || !p.Retryable(err) {
			return err
		}
		if attempt == attempts {
			break
		}
		delay := p.Delay
		if p.DelayFor != nil {
			delay = p.DelayFor(err)
		}
		if p.Logger != nil {
			p.Logger.Warn("transient failure, retrying",
				"op", op, "attempt", attempt, "delay", delay, "error", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return fmt.Errorf("%w: %s after %d attempts: %w", ErrExhausted, op, attempts, err)
}

// SerializationConflict reports Postgres serialization failures and
// deadlocks, the transient conflicts worth re-running a batch for.
func SerializationConflict(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	switch pgErr.Code {
	case "40001": // serialization_failure
		return true
	case "40P01": // deadlock_detected
		return true
	default:
		return false
	}
}

// ConnectionError reports operational failures at the connection level:
// refused/reset connections, timeouts, and truncated streams.
func ConnectionError(err error) bool {
	if pgconn.SafeToRetry(err) || pgconn.Timeout(err) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF)
}

// Transient combines the two retryable classes for Postgres batch work.
func Transient(err error) bool {
	return SerializationConflict(err) || ConnectionError(err)
}

// PGDelays returns a DelayFor that waits the fixed connection backoff for
// connection errors and the configured pacing delay for serialization
// conflicts.
func PGDelays(conflictDelay, connectionDelay time.Duration) func(error) time.Duration {
	return func(err error) time.Duration {
		if ConnectionError(err) {
			return connectionDelay
		}
		return conflictDelay
	}
}
