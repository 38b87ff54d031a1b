package pipeline

import (
	"context"
	"sync"

	"github.com/sells-group/autograder/pkg/anthropic"
)

// trackingClient wraps the LLM client and accumulates token usage split by
// kind, which the ledger does not keep. The cost report needs the split
// because cached input is billed at a different rate.
type trackingClient struct {
	inner anthropic.Client

	mu    sync.Mutex
	usage anthropic.TokenUsage
}

func newTrackingClient(inner anthropic.Client) *trackingClient {
	return &trackingClient{inner: inner}
}

func (t *trackingClient) CreateMessage(ctx context.Context, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
	resp, err := t.inner.CreateMessage(ctx, req)
	if err != nil {
		return nil, err
	}

	t.mu.Lock()
	t.usage.InputTokens += resp.Usage.InputTokens
	t.usage.OutputTokens += resp.Usage.OutputTokens
	t.usage.CacheCreationInputTokens += resp.Usage.CacheCreationInputTokens
	t.usage.CacheReadInputTokens += resp.Usage.CacheReadInputTokens
	t.mu.Unlock()

	return resp, nil
}

// Usage returns the accumulated totals.
func (t *trackingClient) Usage() anthropic.TokenUsage {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.usage
}
