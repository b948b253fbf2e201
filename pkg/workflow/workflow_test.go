package workflow

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corteximus/agentcore/pkg/agenterr"
	"github.com/corteximus/agentcore/pkg/checkpoint"
	"github.com/corteximus/agentcore/pkg/id"
	"github.com/corteximus/agentcore/pkg/state"
	"github.com/corteximus/agentcore/pkg/store"
	"github.com/corteximus/agentcore/pkg/tool"
	"github.com/corteximus/agentcore/pkg/trace"
)

type fakeAgents struct {
	run func(name string, s state.State) (state.State, error)
}

func (f fakeAgents) RunAgent(ctx context.Context, name string, s state.State, tr *trace.Tracer) (state.State, error) {
	return f.run(name, s)
}

type fakeToolRunner struct {
	run func(name string, args map[string]any) (tool.Result, error)
}

func (f fakeToolRunner) RunTool(ctx context.Context, name string, args map[string]any, tr *trace.Tracer) (tool.Result, error) {
	return f.run(name, args)
}

func newManager(t *testing.T) *checkpoint.Manager {
	t.Helper()
	fs, err := store.NewFileStore(t.TempDir())
	require.NoError(t, err)
	return checkpoint.NewManager(fs, id.SystemClock{})
}

func TestValidate_DetectsCycle(t *testing.T) {
	def := Definition{
		Entry: "a",
		Nodes: map[string]Node{
			"a": {Kind: NodeAgent, Agent: "a"},
			"b": {Kind: NodeAgent, Agent: "b"},
		},
		Edges: []Edge{
			{From: "a", To: "b"},
			{From: "b", To: "a"},
		},
	}
	err := def.Validate()
	require.Error(t, err)
	structured, ok := agenterr.Of(err)
	require.True(t, ok)
	assert.Equal(t, agenterr.ReasonCycleDetected, structured.Reason)
}

func TestValidate_RejectsAmbiguousDirectEdges(t *testing.T) {
	def := Definition{
		Entry: "a",
		Nodes: map[string]Node{
			"a": {Kind: NodeAgent, Agent: "a"},
			"b": {Kind: NodeAgent, Agent: "b"},
			"c": {Kind: NodeAgent, Agent: "c"},
		},
		Edges: []Edge{
			{From: "a", To: "b"},
			{From: "a", To: "c"},
		},
	}
	err := def.Validate()
	require.Error(t, err)
	structured, ok := agenterr.Of(err)
	require.True(t, ok)
	assert.Equal(t, agenterr.ReasonWorkflowValidation, structured.Reason)
}

func TestRun_LinearAgentChainCompletes(t *testing.T) {
	ctx := context.Background()
	def := Definition{
		Entry: "start",
		Nodes: map[string]Node{
			"start": {Kind: NodeAgent, Agent: "a"},
			"end":   {Kind: NodeAgent, Agent: "b"},
		},
		Edges: []Edge{{From: "start", To: "end"}, {From: "end", To: ""}},
	}
	require.NoError(t, def.Validate())

	agents := fakeAgents{run: func(name string, s state.State) (state.State, error) {
		return state.NewRegistry().AppendMessage(s, state.Message{Role: state.RoleAssistant, Content: name + " ran"}), nil
	}}

	eng := New(def, agents, fakeToolRunner{}, newManager(t), nil)
	result, err := eng.Run(ctx, "task-1", state.New("a", "go"), nil)
	require.NoError(t, err)
	assert.True(t, result.Done)
	assert.Len(t, result.State.Messages, 3) // seeded user msg + 2 agent runs
}

func TestRun_ConditionalEdgeRoutesByRoutingKey(t *testing.T) {
	ctx := context.Background()
	def := Definition{
		Entry: "classify",
		Nodes: map[string]Node{
			"classify": {Kind: NodeCondition},
			"left":     {Kind: NodeAgent, Agent: "left"},
			"right":    {Kind: NodeAgent, Agent: "right"},
		},
		Edges: []Edge{
			{From: "classify", RoutingMap: map[string]string{"go_left": "left", "go_right": "right"}},
		},
	}
	require.NoError(t, def.Validate())

	var ranWhich string
	agents := fakeAgents{run: func(name string, s state.State) (state.State, error) {
		ranWhich = name
		return s, nil
	}}

	s := state.New("c", "")
	s.RoutingKey = "go_right"

	eng := New(def, agents, fakeToolRunner{}, newManager(t), nil)
	result, err := eng.Run(ctx, "task-2", s, nil)
	require.NoError(t, err)
	assert.True(t, result.Done)
	assert.Equal(t, "right", ranWhich)
}

func TestRun_InterruptBeforeSavesCheckpointAndHalts(t *testing.T) {
	ctx := context.Background()
	def := Definition{
		Entry: "gate",
		Nodes: map[string]Node{
			"gate": {Kind: NodeAgent, Agent: "gate", InterruptBefore: true},
		},
	}
	require.NoError(t, def.Validate())

	called := false
	agents := fakeAgents{run: func(name string, s state.State) (state.State, error) {
		called = true
		return s, nil
	}}

	cps := newManager(t)
	eng := New(def, agents, fakeToolRunner{}, cps, nil)
	result, err := eng.Run(ctx, "task-3", state.New("gate", "wait"), nil)
	require.NoError(t, err)
	assert.False(t, result.Done)
	require.NotNil(t, result.Checkpoint)
	assert.Equal(t, checkpoint.PhaseInterruptBefore, result.Checkpoint.Phase)
	assert.True(t, result.Checkpoint.AwaitingHuman)
	assert.False(t, called)
}

func TestResume_AppliesFeedbackAndContinuesFromNode(t *testing.T) {
	ctx := context.Background()
	def := Definition{
		Entry: "human",
		Nodes: map[string]Node{
			"human": {Kind: NodeHuman},
			"after": {Kind: NodeAgent, Agent: "after"},
		},
		Edges: []Edge{{From: "human", To: "after"}},
	}
	require.NoError(t, def.Validate())

	var seenFeedback string
	agents := fakeAgents{run: func(name string, s state.State) (state.State, error) {
		if v, ok := s.Metadata["feedback"].(string); ok {
			seenFeedback = v
		}
		return s, nil
	}}

	cps := newManager(t)
	eng := New(def, agents, fakeToolRunner{}, cps, nil)

	first, err := eng.Run(ctx, "task-4", state.New("human", "ask"), nil)
	require.NoError(t, err)
	require.NotNil(t, first.Checkpoint)
	assert.Equal(t, checkpoint.PhaseHumanNode, first.Checkpoint.Phase)
	assert.True(t, first.Checkpoint.AwaitingHuman)

	result, err := eng.Resume(ctx, "task-4", state.Delta{"feedback": "looks good"}, nil)
	require.NoError(t, err)
	assert.True(t, result.Done)
	assert.Equal(t, "looks good", seenFeedback)
}

func TestRun_GlobalIterationCapFailsWorkflow(t *testing.T) {
	ctx := context.Background()
	def := Definition{
		Entry: "loop",
		Nodes: map[string]Node{
			"loop": {Kind: NodeAgent, Agent: "loop"},
		},
		Edges:              []Edge{{From: "loop", To: "loop"}},
		GlobalIterationCap: 3,
	}
	// A self-edge from an agent node to itself is a cycle, which Validate
	// rejects, so this fixture is run without validation to exercise the
	// runtime GlobalIterationCap.

	agents := fakeAgents{run: func(name string, s state.State) (state.State, error) {
		return s, nil
	}}

	eng := New(def, agents, fakeToolRunner{}, newManager(t), nil)
	_, err := eng.Run(ctx, "task-5", state.New("loop", ""), nil)
	require.Error(t, err)
	structured, ok := agenterr.Of(err)
	require.True(t, ok)
	assert.Equal(t, agenterr.ReasonIterationExhausted, structured.Reason)
}
