package geo

import (
	"context"
	"time"
)

// RetryPolicy controls lookup retries. The zero value performs one attempt.
type RetryPolicy struct {
	MaxAttempts int `yaml:"max_attempts" json:"max_attempts"`
	BackoffMS   int `yaml:"backoff_ms" json:"backoff_ms"`
}

type attemptFunc func(ctx context.Context, attempt int) error

func runWithRetry(ctx context.Context, policy RetryPolicy, tool string, fn attemptFunc) (int, error) {
	normalized := normalizeRetryPolicy(policy)
	var lastErr error

	for attempt := 1; attempt <= normalized.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return attempt - 1, lastErr
			}
			return attempt, contextError(err)
		}

		lastErr = fn(ctx, attempt)
		if lastErr == nil {
			return attempt, nil
		}
		if attempt == normalized.MaxAttempts || !IsRetryable(lastErr) {
			return attempt, lastErr
		}
		emitRetryObservation(RetryObservation{
			Tool:      tool,
			Attempt:   attempt,
			ErrorCode: Code(lastErr),
		})

		wait := retryBackoffDuration(normalized, attempt)
		if wait <= 0 {
			continue
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return attempt, lastErr
		case <-timer.C:
		}
	}

	return normalized.MaxAttempts, lastErr
}

func normalizeRetryPolicy(policy RetryPolicy) RetryPolicy {
	out := policy
	if out.MaxAttempts <= 0 {
		out.MaxAttempts = 1
	}
	if out.BackoffMS < 0 {
		out.BackoffMS = 0
	}
	return out
}

func retryBackoffDuration(policy RetryPolicy, attempt int) time.Duration {
	if policy.BackoffMS <= 0 || attempt <= 0 {
		return 0
	}
	return time.Duration(policy.BackoffMS*attempt) * time.Millisecond
}
