// Package retry retries dataset downloads with jittered exponential backoff.
package retry

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math"
	"math/big"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/AlaingToul/mybinder-arrete-secheresse/internal/drought"
)

// ExponentialPolicy decides which errors are retried and how long to wait.
type ExponentialPolicy struct {
	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration
}

// NewExponentialPolicy builds a policy. Non-positive values fall back to
// 3 attempts, 250ms base delay and 5s max delay.
func NewExponentialPolicy(maxAttempts int, baseDelay, maxDelay time.Duration) *ExponentialPolicy {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	if baseDelay <= 0 {
		baseDelay = 250 * time.Millisecond
	}
	if maxDelay <= 0 {
		maxDelay = 5 * time.Second
	}
	return &ExponentialPolicy{maxAttempts: maxAttempts, baseDelay: baseDelay, maxDelay: maxDelay}
}

// ShouldRetry decides whether the error of the given attempt (1-based) is
// worth another try. Upstream statuses are retried only for 429 and 5xx.
func (p *ExponentialPolicy) ShouldRetry(err error, attempt int) bool {
	if err == nil {
		return false
	}
	if attempt >= p.maxAttempts {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Code >= 500 || statusErr.Code == 429
	}
	// Anything else is a transport failure: refused, reset, timed out.
	return true
}

// Backoff returns the wait before the attempt following attempt.
func (p *ExponentialPolicy) Backoff(attempt int) time.Duration {
	delay := float64(p.baseDelay) * math.Pow(2, float64(attempt-1))
	if delay > float64(p.maxDelay) {
		delay = float64(p.maxDelay)
	}
	jitter := randomJitter(time.Duration(delay) / 2)
	return time.Duration(delay/2) + jitter
}

func randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(limit)))
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}

// StatusError reports an HTTP error status returned by the upstream server.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d", e.Code)
}

// Fetcher wraps a drought.Fetcher and retries failed downloads.
type Fetcher struct {
	next   drought.Fetcher
	policy *ExponentialPolicy
	clock  clockwork.Clock
	logger *zap.Logger
}

// NewFetcher decorates next. A nil clock uses the real clock.
func NewFetcher(next drought.Fetcher, policy *ExponentialPolicy, clock clockwork.Clock, logger *zap.Logger) *Fetcher {
	if policy == nil {
		policy = NewExponentialPolicy(0, 0, 0)
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fetcher{next: next, policy: policy, clock: clock, logger: logger}
}

// Fetch implements drought.Fetcher. Error statuses count as failures.
func (f *Fetcher) Fetch(ctx context.Context, request drought.FetchRequest) (drought.FetchResponse, error) {
	for attempt := 1; ; attempt++ {
		resp, err := f.next.Fetch(ctx, request)
		if err == nil && resp.StatusCode >= 400 {
			err = &StatusError{Code: resp.StatusCode}
		}
		if err == nil {
			return resp, nil
		}
		if !f.policy.ShouldRetry(err, attempt) {
			return resp, fmt.Errorf("after %d attempt(s): %w", attempt, err)
		}
		wait := f.policy.Backoff(attempt)
		f.logger.Warn("download failed, retrying",
			zap.String("source", request.Source),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", wait),
			zap.Error(err),
		)
		select {
		case <-ctx.Done():
			return resp, fmt.Errorf("retry wait: %w", ctx.Err())
		case <-f.clock.After(wait):
		}
	}
}
