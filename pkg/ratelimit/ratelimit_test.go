package ratelimit

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corteximus/agentcore/pkg/agenterr"
	"github.com/corteximus/agentcore/pkg/llm"
	"github.com/corteximus/agentcore/pkg/state"
)

func TestLimiter_UnlimitedByDefault(t *testing.T) {
	l := New(Config{})
	for i := 0; i < 10; i++ {
		assert.True(t, l.Allow("any-agent"))
	}
}

func TestLimiter_PerAgentBucketDeniesOverBurst(t *testing.T) {
	l := New(Config{})
	l.WithAgent("writer", Config{RequestsPerSecond: 1, Burst: 1})

	assert.True(t, l.Allow("writer"), "first call should consume the sole burst token")
	assert.False(t, l.Allow("writer"), "second immediate call should be denied")

	// An agent with no explicit Config still falls back to the unlimited default.
	assert.True(t, l.Allow("other"))
}

type fakeCapability struct {
	calls int
}

func (f *fakeCapability) Chat(ctx context.Context, model string, messages []state.Message, tools []llm.ToolSchema) (llm.Response, error) {
	f.calls++
	return llm.Response{Message: state.Message{Role: state.RoleAssistant, Content: "ok"}}, nil
}

func TestLimitedCapability_DeniedCallNeverReachesInner(t *testing.T) {
	l := New(Config{})
	l.WithAgent("writer", Config{RequestsPerSecond: 1, Burst: 1})

	inner := &fakeCapability{}
	wrapped := Limit(inner, l, "writer")

	_, err := wrapped.Chat(context.Background(), "gpt", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, inner.calls)

	_, err = wrapped.Chat(context.Background(), "gpt", nil, nil)
	require.Error(t, err)
	structured, ok := agenterr.Of(err)
	require.True(t, ok)
	assert.Equal(t, agenterr.KindTransient, structured.Kind)
	assert.Equal(t, agenterr.ReasonRateLimit, structured.Reason)
	assert.Equal(t, 1, inner.calls, "denied call must not invoke the wrapped capability")
}
