// Package depgraph implements the dependency-analyzer/DAG scheduler
// (spec §4.8): an LLM call extracts each task description's produced and
// consumed resource names, a directed edge runs A -> B whenever B consumes
// something A produces, and the resulting graph is validated acyclic and
// collapsed into topological layers for parallel submission. Grounded on
// the teacher's DAG-building workflow executor
// (_examples/kadirpekel-hector/workflow/dag.go's dependency-edge and
// topological-layer construction), rewritten around LLM-derived
// produces/consumes sets instead of the teacher's explicitly-declared
// static edges, since this spec's tasks arrive as free-form descriptions
// with no declared dependency graph of their own.
package depgraph

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/corteximus/agentcore/pkg/agenterr"
	"github.com/corteximus/agentcore/pkg/llm"
	"github.com/corteximus/agentcore/pkg/state"
)

// TaskSpec is one task submitted to the analyzer.
type TaskSpec struct {
	ID          string
	Description string
}

// Node is an analyzed task augmented with its extracted produces/consumes
// sets (normalized to lowercase per spec §4.8).
type Node struct {
	TaskSpec
	Produces []string
	Consumes []string
}

// Graph is the result of Analyze: nodes plus the dependency edges derived
// from produces/consumes intersection (edge Predecessor -> Successor iff
// Successor consumes something Predecessor produces).
type Graph struct {
	Nodes map[string]Node
	Edges map[string][]string // taskID -> successor taskIDs
}

const extractionModel = "" // analyzer uses whatever model the host Capability defaults to

// extractionSchema is the tool schema offered to the model so it returns
// structured produces/consumes rather than prose (spec §4.8 "an LLM call
// extracts ... resource names").
var extractionSchema = []llm.ToolSchema{{
	Name:        "extract_resources",
	Description: "Extracts the resource names a task produces and consumes.",
	Parameters: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"produces": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
			"consumes": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
		},
		"required": []string{"produces", "consumes"},
	},
}}

type extraction struct {
	Produces []string `json:"produces"`
	Consumes []string `json:"consumes"`
}

// Analyze runs produces/consumes extraction for every task and builds the
// dependency Graph. Extraction failures for an individual task are
// non-fatal to the batch: that task is treated as producing/consuming
// nothing (it still participates, just with no derived edges).
func Analyze(ctx context.Context, capability llm.Capability, tasks []TaskSpec) (Graph, error) {
	g := Graph{Nodes: make(map[string]Node, len(tasks)), Edges: make(map[string][]string)}

	for _, t := range tasks {
		ext, err := extractOne(ctx, capability, t.Description)
		if err != nil {
			ext = extraction{}
		}
		g.Nodes[t.ID] = Node{
			TaskSpec: t,
			Produces: normalizeAll(ext.Produces),
			Consumes: normalizeAll(ext.Consumes),
		}
	}

	for predID, pred := range g.Nodes {
		for succID, succ := range g.Nodes {
			if predID == succID {
				continue
			}
			if intersects(pred.Produces, succ.Consumes) {
				g.Edges[predID] = append(g.Edges[predID], succID)
			}
		}
	}

	if cyclic(g) {
		return Graph{}, agenterr.New(agenterr.KindNonRetryable, agenterr.ReasonCycleDetected, "dependency graph contains a cycle")
	}

	return g, nil
}

func extractOne(ctx context.Context, capability llm.Capability, description string) (extraction, error) {
	resp, err := capability.Chat(ctx, extractionModel, []state.Message{
		{Role: state.RoleUser, Content: fmt.Sprintf("Task: %s\nRespond by calling extract_resources with the resources this task produces and the resources it depends on (consumes).", description)},
	}, extractionSchema)
	if err != nil {
		return extraction{}, err
	}

	for _, tc := range resp.Message.ToolCalls {
		if tc.Tool != "extract_resources" {
			continue
		}
		return argsToExtraction(tc.Args), nil
	}

	// Some Capability implementations return the structured result as JSON
	// in the message content instead of a tool call; accept either shape.
	var ext extraction
	if err := json.Unmarshal([]byte(resp.Message.Content), &ext); err == nil {
		return ext, nil
	}
	return extraction{}, nil
}

func argsToExtraction(args map[string]any) extraction {
	var ext extraction
	raw, err := json.Marshal(args)
	if err != nil {
		return ext
	}
	_ = json.Unmarshal(raw, &ext)
	return ext
}

func normalizeAll(names []string) []string {
	out := make([]string, 0, len(names))
	for _, n := range names {
		n = strings.ToLower(strings.TrimSpace(n))
		if n != "" {
			out = append(out, n)
		}
	}
	return out
}

func intersects(a, b []string) bool {
	set := toSet(a)
	for _, v := range b {
		if set[v] {
			return true
		}
	}
	return false
}

func toSet(names []string) map[string]bool {
	set := make(map[string]bool, len(names))
	for _, n := range names {
		set[n] = true
	}
	return set
}

func cyclic(g Graph) bool {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(g.Nodes))
	var visit func(id string) bool
	visit = func(id string) bool {
		color[id] = gray
		for _, next := range g.Edges[id] {
			switch color[next] {
			case gray:
				return true
			case white:
				if visit(next) {
					return true
				}
			}
		}
		color[id] = black
		return false
	}
	for id := range g.Nodes {
		if color[id] == white {
			if visit(id) {
				return true
			}
		}
	}
	return false
}

// Layers returns g's nodes grouped into topological layers: layer 0 holds
// every node with no predecessor, layer 1 holds nodes whose only
// predecessors are in layer 0, and so on (spec §4.8 "nodes with no
// unfulfilled predecessors form a layer; remove and repeat").
func Layers(g Graph) [][]string {
	predecessors := make(map[string]map[string]bool, len(g.Nodes))
	for id := range g.Nodes {
		predecessors[id] = make(map[string]bool)
	}
	for from, tos := range g.Edges {
		for _, to := range tos {
			predecessors[to][from] = true
		}
	}

	remaining := make(map[string]bool, len(g.Nodes))
	for id := range g.Nodes {
		remaining[id] = true
	}

	var layers [][]string
	for len(remaining) > 0 {
		var layer []string
		for id := range remaining {
			ready := true
			for pred := range predecessors[id] {
				if remaining[pred] {
					ready = false
					break
				}
			}
			if ready {
				layer = append(layer, id)
			}
		}
		if len(layer) == 0 {
			// Defensive: Analyze already rejects cycles, so this should be
			// unreachable, but avoid an infinite loop if Layers is ever
			// called against an unvalidated Graph built by hand.
			for id := range remaining {
				layer = append(layer, id)
			}
		}
		for _, id := range layer {
			delete(remaining, id)
		}
		layers = append(layers, layer)
	}
	return layers
}
