// Package workflow implements the directed-graph workflow engine (spec
// §3, §4.7, §9): agent/tool/condition/human nodes, direct and
// routing-key-conditional edges, interrupt-before checkpointing, and
// checkpoint-based resume with a human-feedback delta applied through the
// State merger. Modeled as explicit step functions returning
// continue/done/interrupt, per spec §9's design note, which makes resume
// trivially expressible. Grounded loosely on the teacher's older DAG-style
// workflow executor (_examples/kadirpekel-hector/workflow/types.go) for
// general status-enum naming conventions, rewritten around an explicit
// node-kind/edge model since the teacher's workflow package predates (and
// does not implement) interrupt/checkpoint semantics.
package workflow

import (
	"context"

	"github.com/corteximus/agentcore/pkg/agenterr"
	"github.com/corteximus/agentcore/pkg/checkpoint"
	"github.com/corteximus/agentcore/pkg/state"
	"github.com/corteximus/agentcore/pkg/tool"
	"github.com/corteximus/agentcore/pkg/trace"
)

// NodeKind is a workflow node's behavior (spec §3).
type NodeKind string

const (
	NodeAgent     NodeKind = "agent"
	NodeTool      NodeKind = "tool"
	NodeCondition NodeKind = "condition"
	NodeHuman     NodeKind = "human"
)

// Node is one entry in a workflow definition's node map (spec §3).
type Node struct {
	Kind            NodeKind
	Agent           string // NodeAgent: agent name to run
	Tool            string // NodeTool: tool name to invoke
	InterruptBefore bool
}

// Edge is either a direct edge (To set) or a conditional edge (RoutingMap
// set, keyed by the source condition node's resulting routing_key) — spec
// §4.7 edge semantics: at most one applies per step, validated at load.
type Edge struct {
	From       string
	To         string            // direct edge target; empty if conditional
	RoutingMap map[string]string // routing-key value -> next node name
}

// Definition is a workflow definition (spec §3).
type Definition struct {
	Name              string
	Nodes             map[string]Node
	Edges             []Edge
	Entry             string
	Checkpoints       map[string]bool // checkpoint-eligible node set
	GlobalIterationCap int
}

// Validate checks the definition forms a DAG when conditional edges are
// collapsed, and that edges are unambiguous per source node (spec §3/§4.7
// "validated at load").
func (d Definition) Validate() error {
	if _, ok := d.Nodes[d.Entry]; !ok {
		return agenterr.New(agenterr.KindNonRetryable, agenterr.ReasonWorkflowValidation, "entry node not found").WithNode(d.Entry)
	}

	bySource := make(map[string][]Edge)
	for _, e := range d.Edges {
		if _, ok := d.Nodes[e.From]; !ok {
			return agenterr.New(agenterr.KindNonRetryable, agenterr.ReasonWorkflowValidation, "edge references unknown source node").WithNode(e.From)
		}
		bySource[e.From] = append(bySource[e.From], e)
	}
	for from, edges := range bySource {
		direct := 0
		routed := make(map[string]bool)
		for _, e := range edges {
			if e.To != "" {
				direct++
			}
			for key := range e.RoutingMap {
				if routed[key] {
					return agenterr.New(agenterr.KindNonRetryable, agenterr.ReasonWorkflowValidation, "routing key mapped by more than one edge from one node").WithNode(from)
				}
				routed[key] = true
			}
		}
		if direct > 1 {
			return agenterr.New(agenterr.KindNonRetryable, agenterr.ReasonWorkflowValidation, "multiple direct edges from one node").WithNode(from)
		}
		if direct == 1 && len(edges) > 1 {
			return agenterr.New(agenterr.KindNonRetryable, agenterr.ReasonWorkflowValidation, "direct edge alongside other edges from one node").WithNode(from)
		}
	}

	adjacency := make(map[string][]string)
	for _, e := range d.Edges {
		if e.To != "" {
			adjacency[e.From] = append(adjacency[e.From], e.To)
		}
		for _, to := range e.RoutingMap {
			adjacency[e.From] = append(adjacency[e.From], to)
		}
	}
	if cyclic(adjacency) {
		return agenterr.New(agenterr.KindNonRetryable, agenterr.ReasonCycleDetected, "workflow graph contains a cycle")
	}
	return nil
}

func cyclic(adj map[string][]string) bool {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int)
	var visit func(n string) bool
	visit = func(n string) bool {
		color[n] = gray
		for _, next := range adj[n] {
			switch color[next] {
			case gray:
				return true
			case white:
				if visit(next) {
					return true
				}
			}
		}
		color[n] = black
		return false
	}
	for n := range adj {
		if color[n] == white {
			if visit(n) {
				return true
			}
		}
	}
	return false
}

// AgentRunner runs a named agent's loop, used by NodeAgent steps.
type AgentRunner interface {
	RunAgent(ctx context.Context, agentName string, s state.State, tr *trace.Tracer) (state.State, error)
}

// ToolRunner invokes a named tool with arguments derived from State's
// metadata map, used by NodeTool steps.
type ToolRunner interface {
	RunTool(ctx context.Context, toolName string, args map[string]any, tr *trace.Tracer) (tool.Result, error)
}

// Outcome is what one Step returns (spec §9: continue, done, or
// interrupt(checkpoint)).
type Outcome string

const (
	OutcomeContinue  Outcome = "continue"
	OutcomeDone      Outcome = "done"
	OutcomeInterrupt Outcome = "interrupt"
)

// Engine runs a Definition against a State, node by node.
type Engine struct {
	def     Definition
	agents  AgentRunner
	toolRun ToolRunner
	cps     *checkpoint.Manager
	reg     *state.Registry
}

// New builds an Engine for def.
func New(def Definition, agents AgentRunner, toolRun ToolRunner, cps *checkpoint.Manager, reg *state.Registry) *Engine {
	if reg == nil {
		reg = state.NewRegistry()
	}
	return &Engine{def: def, agents: agents, toolRun: toolRun, cps: cps, reg: reg}
}

// Result is the outcome of Run/Resume.
type Result struct {
	State      state.State
	Done       bool
	Checkpoint *checkpoint.Checkpoint
}

// Run executes def starting at its entry node.
func (e *Engine) Run(ctx context.Context, taskID string, s state.State, tr *trace.Tracer) (Result, error) {
	return e.runFrom(ctx, taskID, e.def.Entry, s, tr)
}

// Resume reads the latest checkpoint for taskID, applies feedback as a
// State delta, and continues from the checkpointed node (spec §4.7 /
// §8 property: resume(checkpoint(X), empty) == continue_from(X)). A node
// that halted on interrupt-before now runs without halting again; after a
// human node, its successor runs next.
func (e *Engine) Resume(ctx context.Context, taskID string, feedback state.Delta, tr *trace.Tracer) (Result, error) {
	cp, err := e.cps.Latest(ctx, taskID)
	if err != nil {
		return Result{}, err
	}

	s := cp.State
	if len(feedback) > 0 {
		s = e.reg.Apply(s, feedback)
	}

	start := cp.CurrentNode
	switch cp.Phase {
	case checkpoint.PhaseHumanNode:
		start = e.successor(start, s)
	case checkpoint.PhaseInterruptBefore:
		next, outcome, err := e.step(ctx, taskID, start, e.def.Nodes[start], s, tr)
		if err != nil {
			return Result{State: s}, err
		}
		if outcome.kind == OutcomeInterrupt {
			return Result{State: next, Checkpoint: outcome.checkpoint}, nil
		}
		s, start = next, outcome.nextNode
	}

	return e.runFrom(ctx, taskID, start, s, tr)
}

func (e *Engine) runFrom(ctx context.Context, taskID, nodeName string, s state.State, tr *trace.Tracer) (Result, error) {
	iterations := 0
	iterCap := e.def.GlobalIterationCap
	if iterCap <= 0 {
		iterCap = 1000
	}

	for nodeName != "" {
		iterations++
		if iterations > iterCap {
			return Result{State: s}, agenterr.New(agenterr.KindNonRetryable, agenterr.ReasonIterationExhausted, "workflow global iteration cap exceeded").WithNode(nodeName)
		}
		if err := ctx.Err(); err != nil {
			return Result{State: s}, agenterr.Wrap(agenterr.KindCancelled, agenterr.ReasonCancelled, "workflow run cancelled", err).WithNode(nodeName)
		}

		node, ok := e.def.Nodes[nodeName]
		if !ok {
			return Result{State: s}, agenterr.New(agenterr.KindNonRetryable, agenterr.ReasonWorkflowValidation, "unknown node").WithNode(nodeName)
		}

		if e.shouldInterrupt(nodeName, node) {
			cp, err := e.cps.Save(ctx, taskID, nodeName, s, checkpoint.PhaseInterruptBefore, true)
			if err != nil {
				return Result{State: s}, err
			}
			return Result{State: s, Checkpoint: &cp}, nil
		}

		next, outcome, err := e.step(ctx, taskID, nodeName, node, s, tr)
		if err != nil {
			if e.cps != nil {
				_, _ = e.cps.Save(ctx, taskID, nodeName, s, checkpoint.PhaseError, false)
			}
			return Result{State: s}, err
		}
		s = next

		switch outcome.kind {
		case OutcomeDone:
			return Result{State: s, Done: true}, nil
		case OutcomeInterrupt:
			return Result{State: s, Checkpoint: outcome.checkpoint}, nil
		}

		nodeName = outcome.nextNode
	}

	return Result{State: s, Done: true}, nil
}

func (e *Engine) shouldInterrupt(name string, n Node) bool {
	if n.InterruptBefore {
		return true
	}
	return e.def.Checkpoints != nil && e.def.Checkpoints[name]
}

type stepOutcome struct {
	kind       Outcome
	nextNode   string
	checkpoint *checkpoint.Checkpoint
}

// step executes one node and determines the successor per spec §4.7's
// edge semantics.
func (e *Engine) step(ctx context.Context, taskID, name string, n Node, s state.State, tr *trace.Tracer) (state.State, stepOutcome, error) {
	switch n.Kind {
	case NodeAgent:
		next, err := e.agents.RunAgent(ctx, n.Agent, s, tr)
		if err != nil {
			return s, stepOutcome{}, err
		}
		return next, stepOutcome{kind: OutcomeContinue, nextNode: e.successor(name, next)}, nil

	case NodeTool:
		args, _ := s.Metadata["tool_args"].(map[string]any)
		res, err := e.toolRun.RunTool(ctx, n.Tool, args, tr)
		if err != nil {
			return s, stepOutcome{}, err
		}
		next := e.reg.Apply(s, state.Delta{"last_tool_result": res.Content})
		return next, stepOutcome{kind: OutcomeContinue, nextNode: e.successor(name, next)}, nil

	case NodeCondition:
		return s, stepOutcome{kind: OutcomeContinue, nextNode: e.successor(name, s)}, nil

	case NodeHuman:
		cp, err := e.cps.Save(ctx, taskID, name, s, checkpoint.PhaseHumanNode, true)
		if err != nil {
			return s, stepOutcome{}, err
		}
		return s, stepOutcome{kind: OutcomeInterrupt, checkpoint: &cp}, nil

	default:
		return s, stepOutcome{}, agenterr.New(agenterr.KindNonRetryable, agenterr.ReasonWorkflowValidation, "unknown node kind").WithNode(name)
	}
}

// successor resolves the next node name for name per edge semantics: a
// direct edge always applies; a conditional edge selects by the current
// State's routing_key.
func (e *Engine) successor(name string, s state.State) string {
	for _, edge := range e.def.Edges {
		if edge.From != name {
			continue
		}
		if edge.To != "" {
			return edge.To
		}
		if next, ok := edge.RoutingMap[s.RoutingKey]; ok {
			return next
		}
	}
	return ""
}
