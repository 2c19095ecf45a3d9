package retry

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"k8s.io/apimachinery/pkg/util/wait"

	"github.com/sparkfly/pangolin-operator/internal/logging"
	"github.com/sparkfly/pangolin-operator/internal/metrics"
)

// Default policy values.
const (
	DefaultAttempts  = 3
	DefaultBaseDelay = time.Second
)

// ErrPermanent marks an error returned after the policy exhausted its attempts.
var ErrPermanent = errors.New("retries exhausted")

// Policy describes how often and how patiently an operation is retried.
type Policy struct {
	// Attempts is the total number of calls, including the first one.
	Attempts int

	// BaseDelay is the delay after the first failed attempt; it doubles after each failure.
	BaseDelay time.Duration

	metrics metrics.Collector
}

// NewPolicy creates a Policy. Non-positive values fall back to the defaults.
func NewPolicy(attempts int, baseDelay time.Duration, collector metrics.Collector) *Policy {
	if attempts <= 0 {
		attempts = DefaultAttempts
	}

	if baseDelay <= 0 {
		baseDelay = DefaultBaseDelay
	}

	if collector == nil {
		collector = metrics.NewNoopCollector()
	}

	return &Policy{
		Attempts:  attempts,
		BaseDelay: baseDelay,
		metrics:   collector,
	}
}

// Delay returns the sleep after the given zero-based failed attempt.
func (p *Policy) Delay(attempt int) time.Duration {
	return p.BaseDelay << attempt
}

func (p *Policy) backoff() wait.Backoff {
	return wait.Backoff{
		Duration: p.BaseDelay,
		Factor:   2,
		Steps:    p.Attempts,
	}
}

// Do runs fn under policy p. operation names the call in logs and metrics.
func Do[T any](ctx context.Context, p *Policy, operation string, fn func(context.Context) (T, error)) (T, error) {
	logger := logging.FromContext(ctx).With("operation", operation)

	var (
		result  T
		lastErr error
		attempt int
	)

	waitErr := wait.ExponentialBackoffWithContext(ctx, p.backoff(), func(ctx context.Context) (bool, error) {
		value, err := fn(ctx)
		if err == nil {
			result = value

			return true, nil
		}

		lastErr = err
		attempt++

		if attempt < p.Attempts {
			logger.Warn("pangolin call failed, retrying",
				"attempt", attempt,
				"maxAttempts", p.Attempts,
				"delay", p.Delay(attempt-1),
				"error", err,
			)
		}

		return false, nil
	})

	if waitErr == nil {
		return result, nil
	}

	var zero T

	if lastErr == nil || ctx.Err() != nil {
		return zero, errors.Wrapf(waitErr, "%s interrupted", operation)
	}

	p.metrics.RecordRetriesExhausted(ctx, operation, metrics.ClassifyAPIError(lastErr))
	logger.Error("pangolin call failed, giving up", "attempts", attempt, "error", lastErr)

	return zero, errors.Mark(
		errors.Wrapf(lastErr, "%s failed after %d attempts", operation, attempt),
		ErrPermanent,
	)
}

// IsPermanent reports whether err came from an exhausted policy.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrPermanent)
}
