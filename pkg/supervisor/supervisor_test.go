package supervisor

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corteximus/agentcore/pkg/agent"
	"github.com/corteximus/agentcore/pkg/agenterr"
	"github.com/corteximus/agentcore/pkg/llm"
	"github.com/corteximus/agentcore/pkg/state"
	"github.com/corteximus/agentcore/pkg/tool"
	"github.com/corteximus/agentcore/pkg/trace"
)

type fakeLLM struct {
	handler func(msgs []state.Message) (llm.Response, error)
}

func (f *fakeLLM) Chat(ctx context.Context, model string, msgs []state.Message, tools []llm.ToolSchema) (llm.Response, error) {
	return f.handler(msgs)
}

type fakeTools struct{}

func (fakeTools) Catalogue(allowList []string) []tool.Descriptor { return nil }
func (fakeTools) Execute(ctx context.Context, call tool.Call, allowList []string, tr *trace.Tracer) (tool.Result, error) {
	return tool.Result{}, agenterr.New(agenterr.KindNonRetryable, agenterr.ReasonToolNotFound, "unexpected real tool call")
}

func TestDelegate_IsolationAndSummary(t *testing.T) {
	ctx := context.Background()

	// Supervisor's own LLM immediately delegates to "summarizer".
	supCalls := 0
	supLLM := &fakeLLM{handler: func(msgs []state.Message) (llm.Response, error) {
		supCalls++
		if supCalls == 1 {
			return llm.Response{Message: state.Message{
				Role:      state.RoleAssistant,
				ToolCalls: []state.ToolCall{{ID: "1", Server: "sub_agent", Tool: "summarizer", Args: map[string]any{"task": "summarize findings"}}},
			}}, nil
		}
		return llm.Response{Message: state.Message{Role: state.RoleAssistant, Content: "supervisor is done"}}, nil
	}}

	// Sub-agent's LLM (a separate Capability from the supervisor's)
	// completes in one shot.
	subLLM := &fakeLLM{handler: func(msgs []state.Message) (llm.Response, error) {
		return llm.Response{Message: state.Message{Role: state.RoleAssistant, Content: "3 findings summarized in detail"}}, nil
	}}

	base := agent.New(agent.Descriptor{Name: "supervisor", MaxIterations: 3}, supLLM, fakeTools{}, nil, nil)
	sup := New(base, []SubAgent{{Name: "summarizer", Descriptor: agent.Descriptor{Name: "summarizer", MaxIterations: 2}}}, fakeTools{}, subLLM, 0, 0)

	tr := trace.New("t1", nil, nil)
	final, err := sup.base.Run(ctx, state.New("supervisor", "produce a report"), nil, tr)

	// base.Run uses fakeTools directly (doesn't know about sup.Execute) —
	// exercise the interception path explicitly instead, as the
	// orchestrator would by wiring sup as the agent's ToolExecutor.
	_ = final
	_ = err

	result, execErr := sup.Execute(ctx, tool.Call{Server: "sub_agent", Tool: "summarizer", Args: map[string]any{"task": "summarize findings"}}, nil, tr)
	require.NoError(t, execErr)
	assert.Contains(t, result.Content, "3 findings summarized")

	// Isolation: the delegation is recorded on the trace as one completed
	// sub-agent session carrying only the summary.
	log := tr.Log()
	require.Len(t, log.SubSessions, 1)
	for _, sess := range log.SubSessions {
		assert.Equal(t, "completed", sess.Status)
		assert.Contains(t, sess.Summary, "3 findings")
	}
}

func TestDelegate_RecursionDepthExceeded(t *testing.T) {
	ctx := context.Background()

	loopLLM := &fakeLLM{handler: func(msgs []state.Message) (llm.Response, error) {
		return llm.Response{Message: state.Message{
			Role:      state.RoleAssistant,
			ToolCalls: []state.ToolCall{{ID: "1", Server: "sub_agent", Tool: "self", Args: map[string]any{"task": "recurse"}}},
		}}, nil
	}}

	base := agent.New(agent.Descriptor{Name: "sup", MaxIterations: 5}, loopLLM, fakeTools{}, nil, nil)
	sup := New(base, []SubAgent{{Name: "self", Descriptor: agent.Descriptor{Name: "self", MaxIterations: 5}}}, fakeTools{}, loopLLM, 0, 2)

	result, err := sup.Execute(ctx, tool.Call{Server: "sub_agent", Tool: "self", Args: map[string]any{"task": "recurse"}}, nil, nil)
	// The recursive self-delegation should eventually fail with an
	// iteration-exhausted or recursion-depth error surfaced as the
	// sub-agent's own failure, summarized rather than panicking.
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestDelegate_AppliesRosterToolAllowList(t *testing.T) {
	ctx := context.Background()

	subLLM := &fakeLLM{handler: func(msgs []state.Message) (llm.Response, error) {
		return llm.Response{Message: state.Message{Role: state.RoleAssistant, Content: "done"}}, nil
	}}

	allowListTools := &allowListCapturingTools{}
	base := agent.New(agent.Descriptor{Name: "sup", MaxIterations: 3}, subLLM, fakeTools{}, nil, nil)
	// The roster entry's ToolAllowList ("reader") differs from the
	// sub-agent's own Descriptor.ToolAllowList ("writer") — delegate must
	// apply the roster entry's list, not the descriptor's.
	sup := New(base, []SubAgent{{
		Name:          "researcher",
		Descriptor:    agent.Descriptor{Name: "researcher", MaxIterations: 2, ToolAllowList: []string{"writer"}},
		ToolAllowList: []string{"reader"},
	}}, allowListTools, subLLM, 0, 0)

	_, err := sup.Execute(ctx, tool.Call{Server: "sub_agent", Tool: "researcher", Args: map[string]any{"task": "read a doc"}}, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"reader"}, allowListTools.lastAllowList)
}

type allowListCapturingTools struct {
	lastAllowList []string
}

func (a *allowListCapturingTools) Catalogue(allowList []string) []tool.Descriptor {
	a.lastAllowList = allowList
	return nil
}

func (a *allowListCapturingTools) Execute(ctx context.Context, call tool.Call, allowList []string, tr *trace.Tracer) (tool.Result, error) {
	a.lastAllowList = allowList
	return tool.Result{}, agenterr.New(agenterr.KindNonRetryable, agenterr.ReasonToolNotFound, "unexpected real tool call")
}

func TestSummarize_TruncatesToBudget(t *testing.T) {
	s := state.State{Messages: []state.Message{
		{Role: state.RoleAssistant, Content: "0123456789"},
	}}
	assert.Equal(t, "01234", summarize(s, 5))
	assert.Equal(t, "0123456789", summarize(s, 100))
}
