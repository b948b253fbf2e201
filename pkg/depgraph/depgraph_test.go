package depgraph

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corteximus/agentcore/pkg/agenterr"
	"github.com/corteximus/agentcore/pkg/llm"
	"github.com/corteximus/agentcore/pkg/state"
)

type fakeExtractor struct {
	byContent map[string]extraction
}

func (f fakeExtractor) Chat(ctx context.Context, model string, msgs []state.Message, tools []llm.ToolSchema) (llm.Response, error) {
	last := msgs[len(msgs)-1].Content
	for desc, ext := range f.byContent {
		if contains(last, "Task: "+desc+"\n") {
			return llm.Response{Message: state.Message{
				Role: state.RoleAssistant,
				ToolCalls: []state.ToolCall{{
					ID: "1", Tool: "extract_resources",
					Args: map[string]any{"produces": ext.Produces, "consumes": ext.Consumes},
				}},
			}}, nil
		}
	}
	return llm.Response{Message: state.Message{Role: state.RoleAssistant}}, nil
}

func contains(haystack, needle string) bool {
	return len(haystack) >= len(needle) && (needle == "" || indexOf(haystack, needle) >= 0)
}

func indexOf(haystack, needle string) int {
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			return i
		}
	}
	return -1
}

func TestAnalyze_BuildsEdgesFromProducesConsumes(t *testing.T) {
	ctx := context.Background()
	ex := fakeExtractor{byContent: map[string]extraction{
		"fetch data":   {Produces: []string{"Raw Data"}},
		"transform it": {Produces: []string{"clean data"}, Consumes: []string{"raw data"}},
		"report on it": {Consumes: []string{"clean data"}},
	}}

	tasks := []TaskSpec{
		{ID: "fetch", Description: "fetch data"},
		{ID: "transform", Description: "transform it"},
		{ID: "report", Description: "report on it"},
	}

	g, err := Analyze(ctx, ex, tasks)
	require.NoError(t, err)

	assert.Contains(t, g.Edges["fetch"], "transform")
	assert.Contains(t, g.Edges["transform"], "report")
	assert.NotContains(t, g.Edges["fetch"], "report")
}

func TestAnalyze_DetectsCycle(t *testing.T) {
	ctx := context.Background()
	ex := fakeExtractor{byContent: map[string]extraction{
		"a": {Produces: []string{"x"}, Consumes: []string{"y"}},
		"b": {Produces: []string{"y"}, Consumes: []string{"x"}},
	}}
	tasks := []TaskSpec{{ID: "a", Description: "a"}, {ID: "b", Description: "b"}}

	_, err := Analyze(ctx, ex, tasks)
	require.Error(t, err)
	structured, ok := agenterr.Of(err)
	require.True(t, ok)
	assert.Equal(t, agenterr.ReasonCycleDetected, structured.Reason)
}

func TestLayers_GroupsIndependentNodesTogether(t *testing.T) {
	g := Graph{
		Nodes: map[string]Node{
			"a": {}, "b": {}, "c": {},
		},
		Edges: map[string][]string{
			"a": {"c"},
			"b": {"c"},
		},
	}
	layers := Layers(g)
	require.Len(t, layers, 2)
	assert.ElementsMatch(t, []string{"a", "b"}, layers[0])
	assert.Equal(t, []string{"c"}, layers[1])
}

func TestSchedule_SkipsDescendantsOfFailedTask(t *testing.T) {
	ctx := context.Background()
	g := Graph{
		Nodes: map[string]Node{"a": {}, "b": {}, "c": {}},
		Edges: map[string][]string{"a": {"b"}, "b": {"c"}},
	}

	outcomes := Schedule(ctx, g, 2, func(ctx context.Context, taskID string) error {
		if taskID == "a" {
			return assert.AnError
		}
		return nil
	})

	assert.Equal(t, StatusFailed, outcomes["a"].Status)
	assert.Equal(t, StatusSkipped, outcomes["b"].Status)
	assert.Contains(t, outcomes["b"].Reason, "a")
	assert.Equal(t, StatusSkipped, outcomes["c"].Status)
}

func TestSchedule_IndependentTasksAllComplete(t *testing.T) {
	ctx := context.Background()
	g := Graph{Nodes: map[string]Node{"a": {}, "b": {}, "c": {}}}

	outcomes := Schedule(ctx, g, 3, func(ctx context.Context, taskID string) error {
		return nil
	})

	for _, id := range []string{"a", "b", "c"} {
		assert.Equal(t, StatusCompleted, outcomes[id].Status)
	}
}

// TestSchedule_SameLayerTasksRunConcurrently proves a layer's tasks overlap
// in wall-clock time rather than running one at a time: every submit blocks
// until all three of its layer-mates have also started, which can only
// unblock if all three are in flight together.
func TestSchedule_SameLayerTasksRunConcurrently(t *testing.T) {
	ctx := context.Background()
	g := Graph{Nodes: map[string]Node{"a": {}, "b": {}, "c": {}}}

	const layerSize = 3
	started := make(chan struct{}, layerSize)
	release := make(chan struct{})
	var once sync.Once

	outcomes := Schedule(ctx, g, layerSize, func(ctx context.Context, taskID string) error {
		started <- struct{}{}
		if len(started) == layerSize {
			once.Do(func() { close(release) })
		}
		select {
		case <-release:
			return nil
		case <-time.After(2 * time.Second):
			return fmt.Errorf("timed out waiting for layer-mates to start")
		}
	})

	for _, id := range []string{"a", "b", "c"} {
		assert.Equal(t, StatusCompleted, outcomes[id].Status)
	}
}

// TestSchedule_BoundsConcurrencyAcrossLayer checks maxConcurrency is
// actually enforced: with a cap of 1, no two submits ever overlap.
func TestSchedule_BoundsConcurrencyAcrossLayer(t *testing.T) {
	ctx := context.Background()
	g := Graph{Nodes: map[string]Node{"a": {}, "b": {}, "c": {}}}

	var mu sync.Mutex
	inFlight := 0
	maxObserved := 0

	outcomes := Schedule(ctx, g, 1, func(ctx context.Context, taskID string) error {
		mu.Lock()
		inFlight++
		if inFlight > maxObserved {
			maxObserved = inFlight
		}
		mu.Unlock()

		time.Sleep(10 * time.Millisecond)

		mu.Lock()
		inFlight--
		mu.Unlock()
		return nil
	})

	assert.Equal(t, 1, maxObserved)
	for _, id := range []string{"a", "b", "c"} {
		assert.Equal(t, StatusCompleted, outcomes[id].Status)
	}
}
