// Package agent implements the reasoning loop (spec §4.5): compose a
// prompt from State, call the LLM, dispatch any requested tool calls
// through the manager, and repeat until completion (no tool calls) or
// iteration exhaustion. Context-limit recovery progressively trims the
// working copy of the prompt, never the persisted State. Grounded on the
// teacher's general agent-loop shape
// (_examples/kadirpekel-hector/pkg/reasoning and pkg/runner — a bounded
// iterate-call-dispatch-apply cycle with a distinct iteration-exhausted
// failure), rewritten from scratch against this module's own
// state/tool/llm types since the teacher's loop is built around
// a2a.Message and its own session package.
package agent

import (
	"context"
	"fmt"

	"github.com/corteximus/agentcore/pkg/agenterr"
	"github.com/corteximus/agentcore/pkg/id"
	"github.com/corteximus/agentcore/pkg/llm"
	"github.com/corteximus/agentcore/pkg/state"
	"github.com/corteximus/agentcore/pkg/tokens"
	"github.com/corteximus/agentcore/pkg/tool"
	"github.com/corteximus/agentcore/pkg/trace"
)

// minMessageFloor is the progressive-trim floor: system + latest user
// (spec §4.5 context-limit recovery).
const minMessageFloor = 2

// ToolExecutor is the narrow tool-dispatch surface the agent loop calls
// through — satisfied by *manager.Manager, and swappable in tests or by
// the supervisor (which intercepts synthetic sub-agent tool names before
// delegating the rest to the real manager).
type ToolExecutor interface {
	Execute(ctx context.Context, call tool.Call, allowList []string, tr *trace.Tracer) (tool.Result, error)
	Catalogue(allowList []string) []tool.Descriptor
}

// Descriptor configures one agent's identity and bounds (spec §4.5).
type Descriptor struct {
	Name          string
	SystemPrompt  string
	Model         string
	MaxIterations int
	ToolAllowList []string
	ContextLimit  int // in tokens; not read by the loop, which trims only when the LLM returns a context-length error
}

// Agent runs the bounded reasoning loop for one Descriptor.
type Agent struct {
	desc    Descriptor
	llm     llm.Capability
	tools   ToolExecutor
	counter *tokens.Counter
	clock   id.Clock
}

// New builds an Agent.
func New(desc Descriptor, capability llm.Capability, tools ToolExecutor, counter *tokens.Counter, clock id.Clock) *Agent {
	if clock == nil {
		clock = id.SystemClock{}
	}
	if counter == nil {
		counter = tokens.NewCounter()
	}
	return &Agent{desc: desc, llm: capability, tools: tools, counter: counter, clock: clock}
}

// Run drives the reasoning loop from s to completion, returning the final
// State. tr may be nil (no tracing).
func (a *Agent) Run(ctx context.Context, s state.State, reg *state.Registry, tr *trace.Tracer) (state.State, error) {
	if reg == nil {
		reg = state.NewRegistry()
	}

	s = a.seedSystemPrompt(s, reg)

	for iter := 1; iter <= a.maxIterations(); iter++ {
		if err := ctx.Err(); err != nil {
			return s, agenterr.Wrap(agenterr.KindCancelled, agenterr.ReasonCancelled, "agent run cancelled", err)
		}

		if tr != nil {
			// Logged before tool dispatch so the manager's per-attempt
			// LogToolCall calls attach to this iteration's step.
			_, _ = tr.LogStep(ctx, "iteration", fmt.Sprintf("iteration %d", iter), a.desc.Name, trace.SeverityInfo, nil)
		}

		start := a.clock.Now()
		next, err := a.iterate(ctx, s, reg, tr)
		dur := a.clock.Now().Sub(start)

		if tr != nil {
			_ = tr.SetLastStepDuration(ctx, dur)
		}

		if err != nil {
			if tr != nil {
				_, _ = tr.LogStep(ctx, "iteration-error", err.Error(), a.desc.Name, trace.SeverityError, nil)
			}
			return s, err
		}
		s = next

		if len(s.Messages) > 0 && lastAssistant(s).Role == state.RoleAssistant && len(lastAssistant(s).ToolCalls) == 0 {
			return s, nil
		}
	}

	return s, agenterr.New(agenterr.KindNonRetryable, agenterr.ReasonIterationExhausted, "max iterations reached").WithNode(a.desc.Name)
}

func (a *Agent) maxIterations() int {
	if a.desc.MaxIterations <= 0 {
		return 1
	}
	return a.desc.MaxIterations
}

func (a *Agent) seedSystemPrompt(s state.State, reg *state.Registry) state.State {
	if a.desc.SystemPrompt == "" {
		return s
	}
	for _, m := range s.Messages {
		if m.Role == state.RoleSystem {
			return s
		}
	}
	sys := state.Message{Role: state.RoleSystem, Content: a.desc.SystemPrompt, Timestamp: a.clock.Now()}
	return state.State{
		Messages:   append([]state.Message{sys}, s.Messages...),
		NextAction: s.NextAction,
		AgentName:  s.AgentName,
		RoutingKey: s.RoutingKey,
		Metadata:   s.Metadata,
	}
}

// iterate runs one LLM call (with context-limit recovery) plus sequential
// tool dispatch, in call order, returning the new State (spec §4.5 steps
// 1-4).
func (a *Agent) iterate(ctx context.Context, s state.State, reg *state.Registry, tr *trace.Tracer) (state.State, error) {
	working := s.Messages
	toolSchema := catalogueToSchema(a.tools.Catalogue(a.desc.ToolAllowList))

	resp, err := a.callWithRecovery(ctx, working, toolSchema)
	if err != nil {
		return s, err
	}

	next := reg.AppendMessage(s, resp.Message)

	for _, tc := range resp.Message.ToolCalls {
		result, callErr := a.tools.Execute(ctx, tool.Call{Server: tc.Server, Tool: tc.Tool, Args: tc.Args}, a.desc.ToolAllowList, tr)

		var content string
		switch {
		case callErr != nil:
			content = callErr.Error()
		case result.IsError:
			content = result.Error
		default:
			content = fmt.Sprint(result.Content)
		}

		next = reg.AppendMessage(next, state.Message{
			Role:       state.RoleTool,
			Content:    content,
			ToolCallID: tc.ID,
			Timestamp:  a.clock.Now(),
		})
	}

	return next, nil
}

// callWithRecovery calls the LLM, progressively trimming the oldest
// non-system Message on a context-length error down to the floor of two
// Messages (spec §4.5). The original s passed to Run is never touched —
// only this local "working" copy is trimmed.
func (a *Agent) callWithRecovery(ctx context.Context, working []state.Message, tools []llm.ToolSchema) (llm.Response, error) {
	for {
		resp, err := a.llm.Chat(ctx, a.desc.Model, working, tools)
		if err == nil {
			return resp, nil
		}
		if !llm.IsContextLengthError(err) {
			return llm.Response{}, err
		}
		if len(working) <= minMessageFloor {
			return llm.Response{}, agenterr.Wrap(agenterr.KindNonRetryable, agenterr.ReasonContextExhausted, "context exhausted after progressive trim", err).WithNode(a.desc.Name)
		}
		working = trimOldestNonSystem(working)
	}
}

func trimOldestNonSystem(msgs []state.Message) []state.Message {
	for i, m := range msgs {
		if m.Role != state.RoleSystem {
			out := make([]state.Message, 0, len(msgs)-1)
			out = append(out, msgs[:i]...)
			out = append(out, msgs[i+1:]...)
			return out
		}
	}
	return msgs
}

func lastAssistant(s state.State) state.Message {
	for i := len(s.Messages) - 1; i >= 0; i-- {
		if s.Messages[i].Role == state.RoleAssistant {
			return s.Messages[i]
		}
	}
	return state.Message{}
}

func catalogueToSchema(descs []tool.Descriptor) []llm.ToolSchema {
	out := make([]llm.ToolSchema, 0, len(descs))
	for _, d := range descs {
		out = append(out, llm.ToolSchema{Server: d.Server, Name: d.Name, Description: d.Description, Parameters: d.Parameters})
	}
	return out
}
