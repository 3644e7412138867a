// Package llm provides the contract with the reasoning collaborator and
// its OpenAI-compatible implementation.
//
// The core treats the reasoning component as a best-effort, rate-limited,
// timeout-bound service: calls are blocking and cancellable, identical
// prompts may produce different output, and timeouts surface as
// ReasoningTimeoutError after a bounded number of backed-off retries.
package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MarwannAhmed/webbased-testing-agent/pkg/model"
)

// Config enumerates the recognized per-call options.
type Config struct {
	Temperature float64
	MaxTokens   int
	Model       string
}

// Completion is the result of one reasoning call, including the call
// metrics recorded for the session audit trail.
type Completion struct {
	Text     string
	Tokens   int
	Duration time.Duration
}

// Client is the reasoning collaborator contract.
type Client interface {
	// Complete sends a prompt and returns the full response text.
	// Determinism between calls with identical input is never assumed.
	Complete(ctx context.Context, prompt string, cfg Config) (*Completion, error)
}

// RetryOptions bounds the retry-with-backoff behavior around a reasoning
// call.
type RetryOptions struct {
	// MaxAttempts is the total number of attempts including the first.
	MaxAttempts int

	// Timeout applies per attempt.
	Timeout time.Duration

	// Backoff is the delay before the second attempt; it doubles per
	// subsequent attempt.
	Backoff time.Duration
}

// DefaultRetryOptions matches the orchestrator's bounded-retry policy.
func DefaultRetryOptions() RetryOptions {
	return RetryOptions{
		MaxAttempts: 3,
		Timeout:     60 * time.Second,
		Backoff:     2 * time.Second,
	}
}

// CompleteWithRetry calls the client with a per-attempt timeout, retrying
// with doubling backoff. A timed-out final attempt surfaces as a
// ReasoningTimeoutError naming the pipeline stage; cancellation is
// returned immediately without retrying.
func CompleteWithRetry(ctx context.Context, c Client, prompt string, cfg Config, stage string, opts RetryOptions) (*Completion, error) {
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 1
	}

	backoff := opts.Backoff
	var lastErr error
	for attempt := 1; attempt <= opts.MaxAttempts; attempt++ {
		attemptCtx := ctx
		var cancel context.CancelFunc
		if opts.Timeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, opts.Timeout)
		}

		completion, err := c.Complete(attemptCtx, prompt, cfg)
		if cancel != nil {
			cancel()
		}
		if err == nil {
			return completion, nil
		}

		// The caller canceled: stop immediately, do not mask it.
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		if errors.Is(err, context.DeadlineExceeded) {
			lastErr = &model.ReasoningTimeoutError{Stage: stage, Timeout: opts.Timeout.String()}
		} else {
			lastErr = err
		}

		if attempt < opts.MaxAttempts && backoff > 0 {
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			backoff *= 2
		}
	}
	return nil, fmt.Errorf("reasoning call failed after %d attempts: %w", opts.MaxAttempts, lastErr)
}
