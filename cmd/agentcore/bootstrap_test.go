package main

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corteximus/agentcore/pkg/config"
	"github.com/corteximus/agentcore/pkg/llm"
	"github.com/corteximus/agentcore/pkg/state"
	"github.com/corteximus/agentcore/pkg/task"
)

// fakeCapability answers every Chat call with a single assistant message,
// never invoking a tool, so a built agent completes in one iteration.
type fakeCapability struct{ reply string }

func (f *fakeCapability) Chat(ctx context.Context, model string, msgs []state.Message, tools []llm.ToolSchema) (llm.Response, error) {
	return llm.Response{Message: state.Message{Role: state.RoleAssistant, Content: f.reply}}, nil
}

func oneAgentConfig() *config.Config {
	return &config.Config{
		Agents: []config.AgentDescriptor{
			{Name: "writer", SystemPrompt: "draft memos", Model: "test-model", MaxIterations: 3},
		},
		Orchestrator: config.OrchestratorConfig{Capacity: 2, DefaultRetention: "1h"},
	}
}

func TestBuildApp_WiresOneAgentRunner(t *testing.T) {
	ctx := context.Background()
	cfg := oneAgentConfig()

	a, err := buildApp(ctx, cfg, t.TempDir(), &fakeCapability{reply: "done"}, nil)
	require.NoError(t, err)

	assert.Equal(t, time.Hour, a.defaultRetention)
	assert.Contains(t, a.agentDescriptors, "writer")
}

func TestBuildApp_SubmitRunsAgentToCompletion(t *testing.T) {
	ctx := context.Background()
	cfg := oneAgentConfig()

	a, err := buildApp(ctx, cfg, t.TempDir(), &fakeCapability{reply: "the memo is drafted"}, nil)
	require.NoError(t, err)

	seed := state.New("writer", "draft a memo")
	id, err := a.orch.Submit(ctx, "draft a memo", "writer", seed, time.Hour)
	require.NoError(t, err)

	result, err := a.orch.GetResult(ctx, id, 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, task.StatusCompleted, result.Status)

	loaded, err := a.repo.Load(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, task.StatusCompleted, loaded.Status)
}

func TestBuildApp_SubmitUnknownAgentFails(t *testing.T) {
	ctx := context.Background()
	cfg := oneAgentConfig()

	a, err := buildApp(ctx, cfg, t.TempDir(), &fakeCapability{reply: "done"}, nil)
	require.NoError(t, err)

	_, err = a.orch.Submit(ctx, "desc", "missing-agent", state.New("missing-agent", "desc"), time.Hour)
	assert.Error(t, err)
}

func TestBuildApp_InvalidToolOverrideTimeoutFails(t *testing.T) {
	ctx := context.Background()
	cfg := oneAgentConfig()
	cfg.ToolOverrides = []config.ToolOverride{{Tool: "search", Timeout: "not-a-duration"}}

	_, err := buildApp(ctx, cfg, t.TempDir(), &fakeCapability{reply: "done"}, nil)
	assert.Error(t, err)
}

func TestBuildApp_UnknownSupervisorBaseFails(t *testing.T) {
	ctx := context.Background()
	cfg := oneAgentConfig()
	cfg.Supervisors = []config.SupervisorDescriptor{{Base: "missing"}}

	_, err := buildApp(ctx, cfg, t.TempDir(), &fakeCapability{reply: "done"}, nil)
	assert.Error(t, err)
}
