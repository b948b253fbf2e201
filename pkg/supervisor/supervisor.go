// Package supervisor implements the sub-agent supervisor (spec §4.6): a
// supervisor is itself an agent (C7) whose LLM sees a roster of sub-agents
// as synthetic tools. When the tool manager would dispatch one of those
// synthetic names, the supervisor intercepts, runs the sub-agent to
// completion in total isolation, and returns only a truncated summary.
// Grounded on the teacher's tool-name-is-agent-name interception pattern
// (_examples/kadirpekel-hector/pkg/tool/agenttool/agenttool.go's
// createIsolatedSession/session-filtering and summary-only-surfacing
// design), rewritten against this module's own agent/state types.
package supervisor

import (
	"context"
	"strings"

	"github.com/corteximus/agentcore/pkg/agent"
	"github.com/corteximus/agentcore/pkg/agenterr"
	"github.com/corteximus/agentcore/pkg/llm"
	"github.com/corteximus/agentcore/pkg/state"
	"github.com/corteximus/agentcore/pkg/tool"
	"github.com/corteximus/agentcore/pkg/trace"
)

// DefaultMaxRecursionDepth bounds runaway sub-agent-of-sub-agent stacks
// (spec §4.6).
const DefaultMaxRecursionDepth = 3

// DefaultSummaryBudget is the default character budget a sub-agent's
// summary is truncated to.
const DefaultSummaryBudget = 2000

// SubAgent is one entry in the supervisor's roster: a name (exposed to the
// supervisor's LLM as a synthetic tool name), its own Descriptor, and its
// own tool allow-list (enforced independently of the supervisor's, per
// spec §4.6).
type SubAgent struct {
	Name          string
	Descriptor    agent.Descriptor
	ToolAllowList []string
}

// Supervisor wraps a base agent.Agent (the supervisor's own reasoning
// loop) plus a roster of sub-agents it may delegate to as synthetic tools.
type Supervisor struct {
	base          *agent.Agent
	roster        map[string]SubAgent
	tools         agent.ToolExecutor
	llmCap        llm.Capability
	summaryBudget int
	maxDepth      int
}

// New builds a Supervisor. tools is the real tool.Manager the supervisor
// delegates non-synthetic tool calls to.
func New(base *agent.Agent, roster []SubAgent, tools agent.ToolExecutor, capability llm.Capability, summaryBudget, maxDepth int) *Supervisor {
	if summaryBudget <= 0 {
		summaryBudget = DefaultSummaryBudget
	}
	if maxDepth <= 0 {
		maxDepth = DefaultMaxRecursionDepth
	}
	r := make(map[string]SubAgent, len(roster))
	for _, sa := range roster {
		r[sa.Name] = sa
	}
	return &Supervisor{base: base, roster: r, tools: tools, llmCap: capability, summaryBudget: summaryBudget, maxDepth: maxDepth}
}

// Catalogue exposes the real tool catalogue plus one synthetic Descriptor
// per sub-agent, named after the sub-agent (spec §4.6).
func (s *Supervisor) Catalogue(allowList []string) []tool.Descriptor {
	out := s.tools.Catalogue(allowList)
	for name, sa := range s.roster {
		out = append(out, tool.Descriptor{
			Server:      "sub_agent",
			Name:        name,
			Description: "Delegates a task to the " + sa.Name + " sub-agent.",
			Parameters: map[string]any{
				"type":       "object",
				"properties": map[string]any{"task": map[string]any{"type": "string"}},
				"required":   []string{"task"},
			},
		})
	}
	return out
}

// Execute intercepts calls addressed to a roster sub-agent; everything
// else is forwarded to the real tool manager.
func (s *Supervisor) Execute(ctx context.Context, call tool.Call, allowList []string, tr *trace.Tracer) (tool.Result, error) {
	sa, ok := s.roster[call.Tool]
	if !ok {
		return s.tools.Execute(ctx, call, allowList, tr)
	}
	return s.delegate(ctx, sa, call, tr, 1)
}

// delegate runs one sub-agent session in isolation (spec §4.6): a fresh
// State seeded only with the delegated task description, run to
// completion, summarized, and never merged back into the parent.
func (s *Supervisor) delegate(ctx context.Context, sa SubAgent, call tool.Call, tr *trace.Tracer, depth int) (tool.Result, error) {
	if depth > s.maxDepth {
		return tool.Result{}, agenterr.New(agenterr.KindNonRetryable, agenterr.ReasonRecursionDepthExceeded, "sub-agent recursion depth exceeded").WithNode(sa.Name)
	}

	task, _ := call.Args["task"].(string)

	var sessionID string
	if tr != nil {
		sid, err := tr.StartSubAgentSession(ctx, sa.Name, task)
		if err != nil {
			return tool.Result{}, err
		}
		sessionID = sid
	}

	childExecutor := &nestedExecutor{parent: s, depth: depth + 1}
	childAgent := agent.New(s.effectiveDescriptor(sa), s.llmCap, childExecutor, nil, nil)

	isolated := state.New(sa.Name, task)
	final, err := childAgent.Run(ctx, isolated, state.NewRegistry(), tr)

	status := "completed"
	if err != nil {
		status = "failed"
	}
	summary := summarize(final, s.summaryBudget)
	if err != nil {
		summary = err.Error()
	}

	if tr != nil && sessionID != "" {
		_ = tr.EndSubAgentSession(ctx, sessionID, summary, status)
	}

	if err != nil {
		return tool.Result{IsError: true, Error: summary, Content: summary}, nil
	}
	return tool.Result{Content: summary}, nil
}

// effectiveDescriptor returns sa's Descriptor with its roster-level
// ToolAllowList applied, if set — the roster entry's allow-list is the one
// spec §4.6 requires enforced, independently of whatever allow-list the
// sub-agent's own Descriptor happens to carry.
func (s *Supervisor) effectiveDescriptor(sa SubAgent) agent.Descriptor {
	d := sa.Descriptor
	if len(sa.ToolAllowList) > 0 {
		d.ToolAllowList = sa.ToolAllowList
	}
	return d
}

// nestedExecutor lets a sub-agent itself have sub-agents, tracking
// recursion depth independently of the top-level Supervisor's Execute
// entrypoint.
type nestedExecutor struct {
	parent *Supervisor
	depth  int
}

func (n *nestedExecutor) Catalogue(allowList []string) []tool.Descriptor {
	return n.parent.Catalogue(allowList)
}

func (n *nestedExecutor) Execute(ctx context.Context, call tool.Call, allowList []string, tr *trace.Tracer) (tool.Result, error) {
	sa, ok := n.parent.roster[call.Tool]
	if !ok {
		return n.parent.tools.Execute(ctx, call, allowList, tr)
	}
	return n.parent.delegate(ctx, sa, call, tr, n.depth)
}

// summarize returns the last assistant Message's content, truncated to
// budget characters (spec §4.6).
func summarize(s state.State, budget int) string {
	var last string
	for i := len(s.Messages) - 1; i >= 0; i-- {
		if s.Messages[i].Role == state.RoleAssistant {
			last = s.Messages[i].Content
			break
		}
	}
	if len(last) <= budget {
		return last
	}
	return strings.TrimSpace(last[:budget])
}
