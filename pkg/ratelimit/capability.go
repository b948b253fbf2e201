package ratelimit

import (
	"context"

	"github.com/corteximus/agentcore/pkg/agenterr"
	"github.com/corteximus/agentcore/pkg/llm"
	"github.com/corteximus/agentcore/pkg/state"
)

// LimitedCapability wraps an llm.Capability with a per-agent-name rate
// limit. A denied call never reaches the wrapped Capability and surfaces
// as a KindTransient/ReasonRateLimit *agenterr.Error. The agent core does
// not retry LLM errors, so a denial ends that agent's run with this error.
type LimitedCapability struct {
	inner     llm.Capability
	limiter   *Limiter
	agentName string
}

// Limit wraps inner so every Chat call for agentName is gated by limiter.
func Limit(inner llm.Capability, limiter *Limiter, agentName string) llm.Capability {
	return &LimitedCapability{inner: inner, limiter: limiter, agentName: agentName}
}

// Chat implements llm.Capability.
func (c *LimitedCapability) Chat(ctx context.Context, model string, messages []state.Message, tools []llm.ToolSchema) (llm.Response, error) {
	if !c.limiter.Allow(c.agentName) {
		return llm.Response{}, agenterr.New(agenterr.KindTransient, agenterr.ReasonRateLimit, "rate limit exceeded for agent "+c.agentName)
	}
	return c.inner.Chat(ctx, model, messages, tools)
}
