package llm

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/tareqmamari/rca-agent/internal/metrics"
)

// RetryClient wraps a Client and retries rate-limited completions with
// exponential backoff. It sits above the transport retry in HTTPClient:
// that one handles network failures and 5xx quickly, this one waits out
// quota exhaustion on a much slower schedule. WithTools re-wraps so the
// bound client keeps the same policy.
type RetryClient struct {
	inner       Client
	maxAttempts int
	waitMin     time.Duration
	waitMax     time.Duration
	logger      *zap.Logger
}

// NewRetryClient wraps inner with the default rate-limit policy of
// 3 attempts backing off from 5s up to 120s.
func NewRetryClient(inner Client, logger *zap.Logger) *RetryClient {
	return &RetryClient{
		inner:       inner,
		maxAttempts: 3,
		waitMin:     5 * time.Second,
		waitMax:     120 * time.Second,
		logger:      logger,
	}
}

// NewRetryClientWithPolicy wraps inner with an explicit policy.
func NewRetryClientWithPolicy(inner Client, maxAttempts int, waitMin, waitMax time.Duration, logger *zap.Logger) *RetryClient {
	return &RetryClient{
		inner:       inner,
		maxAttempts: maxAttempts,
		waitMin:     waitMin,
		waitMax:     waitMax,
		logger:      logger,
	}
}

// WithTools delegates to the inner client and re-wraps the result.
func (r *RetryClient) WithTools(tools []ToolSpec) Client {
	return &RetryClient{
		inner:       r.inner.WithTools(tools),
		maxAttempts: r.maxAttempts,
		waitMin:     r.waitMin,
		waitMax:     r.waitMax,
		logger:      r.logger,
	}
}

// Complete calls the inner client, retrying only RateLimitError. The last
// error is returned once the attempts are exhausted.
func (r *RetryClient) Complete(ctx context.Context, msgs []Message) (Message, error) {
	var lastErr error

	for attempt := 1; attempt <= r.maxAttempts; attempt++ {
		msg, err := r.inner.Complete(ctx, msgs)
		if err == nil {
			return msg, nil
		}

		var rateErr *RateLimitError
		if !errors.As(err, &rateErr) {
			return Message{}, err
		}
		lastErr = err

		if attempt == r.maxAttempts {
			break
		}

		wait := r.backoff(attempt, rateErr)
		metrics.RecordLLMRateLimitRetry()
		r.logger.Warn("LLM rate limited, backing off",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", r.maxAttempts),
			zap.Duration("wait", wait),
		)

		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return Message{}, ctx.Err()
		}
	}

	return Message{}, lastErr
}

// backoff doubles from waitMin per attempt, capped at waitMax. A server
// supplied Retry-After wins when it is longer.
func (r *RetryClient) backoff(attempt int, rateErr *RateLimitError) time.Duration {
	shift := min(attempt-1, 30)
	wait := r.waitMin * time.Duration(1<<shift)
	if wait > r.waitMax {
		wait = r.waitMax
	}
	if rateErr != nil && rateErr.RetryAfter > 0 {
		serverWait := time.Duration(rateErr.RetryAfter * float64(time.Second))
		if serverWait > wait && serverWait <= r.waitMax {
			wait = serverWait
		}
	}
	return wait
}
