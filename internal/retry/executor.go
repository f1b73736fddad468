// Package retry provides a bounded retry-with-backoff policy for remote calls.
//
// Remote library calls are network-bound and intermittently flaky; bounding
// retries keeps latency predictable while still absorbing brief outages. The
// executor is stateless and safe to share across sessions.
package retry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Defaults applied when a Policy leaves a field unset.
const (
	DefaultMaxAttempts = 3
	DefaultDelay       = 2 * time.Second
)

// Policy describes how an operation is retried: how many total attempts are
// made, how long to wait between them (fixed, not exponential), and which
// failures count as transient.
type Policy struct {
	MaxAttempts int
	Delay       time.Duration
	Classify    func(error) bool
}

// Executor runs operations under a Policy.
type Executor struct {
	policy  Policy
	onRetry func(err error, delay time.Duration)
}

// Option configures an Executor.
type Option func(*Executor)

// WithRetryHook registers a callback invoked before each retry delay.
// Used for metrics; must not block.
func WithRetryHook(fn func(err error, delay time.Duration)) Option {
	return func(e *Executor) {
		e.onRetry = fn
	}
}

// NewExecutor creates an executor, filling unset policy fields with defaults.
func NewExecutor(policy Policy, opts ...Option) *Executor {
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = DefaultMaxAttempts
	}
	if policy.Delay <= 0 {
		policy.Delay = DefaultDelay
	}
	if policy.Classify == nil {
		policy.Classify = IsRetryable
	}

	e := &Executor{policy: policy}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Do runs op up to MaxAttempts times, sleeping Delay between attempts.
//
// A failure the policy classifies as transient is retried; any other failure
// aborts immediately and is returned unchanged. When every attempt fails
// transiently the last failure is returned wrapped in *TransientError, so
// callers observe exactly one classified outcome per invocation.
func (e *Executor) Do(ctx context.Context, op func() error) error {
	b := backoff.WithContext(
		backoff.WithMaxRetries(
			backoff.NewConstantBackOff(e.policy.Delay),
			// MaxRetries counts retries, not attempts.
			uint64(e.policy.MaxAttempts-1),
		),
		ctx,
	)

	attempts := 0
	err := backoff.RetryNotify(func() error {
		attempts++
		opErr := op()
		if opErr == nil {
			return nil
		}
		if !e.policy.Classify(opErr) {
			return backoff.Permanent(opErr)
		}
		return opErr
	}, b, e.onRetry)
	if err == nil {
		return nil
	}

	if e.policy.Classify(err) {
		return &TransientError{Attempts: attempts, Err: err}
	}
	return err
}

// TransientError reports a transient failure that survived every retry
// attempt. The last underlying failure is available via Unwrap.
type TransientError struct {
	Attempts int
	Err      error
}

// Error implements the error interface.
func (e *TransientError) Error() string {
	return fmt.Sprintf("operation still failing after %d attempts: %v", e.Attempts, e.Err)
}

// Unwrap returns the last underlying failure.
func (e *TransientError) Unwrap() error {
	return e.Err
}

// IsTransient reports whether err is a retry-exhausted transient failure.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// IsRetryable is the default failure classifier: network timeouts, connection
// resets, and truncated reads are transient; everything else, including caller
// cancellation, is not.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.EPIPE) {
		return true
	}
	if errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}

	var opErr *net.OpError
	return errors.As(err, &opErr)
}
