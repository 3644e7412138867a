package llm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MarwannAhmed/webbased-testing-agent/pkg/model"
)

// flakyClient fails a fixed number of calls before succeeding.
type flakyClient struct {
	failures int
	err      error
	calls    int
}

func (c *flakyClient) Complete(ctx context.Context, prompt string, cfg Config) (*Completion, error) {
	c.calls++
	if c.calls <= c.failures {
		return nil, c.err
	}
	return &Completion{Text: "ok", Tokens: 3}, nil
}

func TestCompleteWithRetry_SucceedsAfterTransientFailure(t *testing.T) {
	c := &flakyClient{failures: 2, err: errors.New("rate limited")}
	opts := RetryOptions{MaxAttempts: 3, Backoff: time.Millisecond}

	completion, err := CompleteWithRetry(context.Background(), c, "prompt", Config{}, "design", opts)
	require.NoError(t, err)
	assert.Equal(t, "ok", completion.Text)
	assert.Equal(t, 3, c.calls)
}

func TestCompleteWithRetry_ExhaustedAttempts(t *testing.T) {
	c := &flakyClient{failures: 10, err: errors.New("rate limited")}
	opts := RetryOptions{MaxAttempts: 2, Backoff: time.Millisecond}

	_, err := CompleteWithRetry(context.Background(), c, "prompt", Config{}, "design", opts)
	require.Error(t, err)
	assert.Equal(t, 2, c.calls)
}

func TestCompleteWithRetry_TimeoutSurfacesStage(t *testing.T) {
	c := &flakyClient{failures: 10, err: context.DeadlineExceeded}
	opts := RetryOptions{MaxAttempts: 2, Timeout: time.Millisecond, Backoff: time.Millisecond}

	_, err := CompleteWithRetry(context.Background(), c, "prompt", Config{}, "exploration", opts)

	var timeout *model.ReasoningTimeoutError
	require.ErrorAs(t, err, &timeout)
	assert.Equal(t, "exploration", timeout.Stage)
}

func TestCompleteWithRetry_CancellationIsImmediate(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := &flakyClient{failures: 10, err: errors.New("rate limited")}
	opts := RetryOptions{MaxAttempts: 5, Backoff: time.Minute}

	_, err := CompleteWithRetry(ctx, c, "prompt", Config{}, "design", opts)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, c.calls, "no retries after the caller canceled")
}
