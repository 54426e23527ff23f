package retry

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBoom = errors.New("boom")

func TestDoSucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	p := Policy{
		MaxAttempts: 5,
		Delay:       time.Millisecond,
		Retryable:   func(error) bool { return true },
	}

	err := p.Do(context.Background(), "flaky", func() error {
		calls++
		if calls < 3 {
			return errBoom
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDoStopsOnNonRetryable(t *testing.T) {
	calls := 0
	p := Policy{
		MaxAttempts: 5,
		Retryable:   func(err error) bool { return false },
	}

	err := p.Do(context.Background(), "fatal", func() error {
		calls++
		return errBoom
	})
	assert.ErrorIs(t, err, errBoom)
	assert.NotErrorIs(t, err, ErrExhausted)
	assert.Equal(t, 1, calls)
}

func TestDoExhaustsBudget(t *testing.T) {
	calls := 0
	p := Policy{
		MaxAttempts: 3,
		Delay:       time.Millisecond,
		Retryable:   func(error) bool { return true },
	}

	err := p.Do(context.Background(), "doomed", func() error {
		calls++
		return errBoom
	})
	assert.ErrorIs(t, err, ErrExhausted)
	assert.ErrorIs(t, err, errBoom)
	assert.Equal(t, 3, calls)
}

func TestDoNilRetryableNeverRetries(t *testing.T) {
	calls := 0
	p := Policy{MaxAttempts: 4}

	err := p.Do(context.Background(), "once", func() error {
		calls++
		return errBoom
	})
	assert.ErrorIs(t, err, errBoom)
	assert.Equal(t, 1, calls)
}

func TestDoHonorsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := Policy{
		MaxAttempts: 10,
		Delay:       time.Minute,
		Retryable:   func(error) bool { return true },
	}

	done := make(chan error, 1)
	go func() {
		done <- p.Do(ctx, "waiting", func() error { return errBoom })
	}()
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("retry loop ignored cancellation")
	}
}

func TestDoDelayFor(t *testing.T) {
	var seen []error
	p := Policy{
		MaxAttempts: 3,
		Retryable:   func(error) bool { return true },
		DelayFor: func(err error) time.Duration {
			seen = append(seen, err)
			return 0
		},
	}

	_ = p.Do(context.Background(), "custom-delay", func() error { return errBoom })
	require.Len(t, seen, 2) // no delay computed after the final attempt
	assert.ErrorIs(t, seen[0], errBoom)
}

func TestSerializationConflict(t *testing.T) {
	assert.True(t, SerializationConflict(&pgconn.PgError{Code: "40001"}))
	assert.True(t, SerializationConflict(&pgconn.PgError{Code: "40P01"}))
	assert.False(t, SerializationConflict(&pgconn.PgError{Code: "23505"}))
	assert.False(t, SerializationConflict(errBoom))
	assert.False(t, SerializationConflict(nil))
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestConnectionError(t *testing.T) {
	assert.True(t, ConnectionError(timeoutErr{}))
	assert.True(t, ConnectionError(io.EOF))
	assert.True(t, ConnectionError(io.ErrUnexpectedEOF))
	assert.False(t, ConnectionError(errBoom))
	assert.False(t, ConnectionError(&pgconn.PgError{Code: "40001"}))
}

func TestTransient(t *testing.T) {
	assert.True(t, Transient(&pgconn.PgError{Code: "40001"}))
	assert.True(t, Transient(io.EOF))
	assert.False(t, Transient(errBoom))
}

func TestPGDelays(t *testing.T) {
	delayFor := PGDelays(50*time.Millisecond, 2*time.Second)
	assert.Equal(t, 2*time.Second, delayFor(io.EOF))
	assert.Equal(t, 50*time.Millisecond, delayFor(&pgconn.PgError{Code: "40001"}))
}
