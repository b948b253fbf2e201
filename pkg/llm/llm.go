// Package llm defines the narrow capability interface the agent core calls
// out through (spec §1 scope note: the core orchestrates; it does not ship
// a model-provider client). Grounded on the teacher's provider-agnostic
// `pkg/llms` registry shape (an interface any concrete provider
// implements, looked up by name) without depending on its registry or any
// specific provider SDK — this module never calls a model provider itself.
package llm

import (
	"context"

	"github.com/corteximus/agentcore/pkg/agenterr"
	"github.com/corteximus/agentcore/pkg/state"
)

// ToolSchema describes one callable tool offered to the model in a Chat
// call (spec §4.4/§4.5: the agent passes the tool manager's discovered
// tool set through to the LLM capability).
type ToolSchema struct {
	Server      string         `json:"server"`
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// Response is what a Chat call returns: the assistant's reply message,
// optionally carrying ToolCalls the agent core must dispatch next (spec
// §4.5).
type Response struct {
	Message state.Message
	Model   string
}

// Capability is the model-calling surface the agent core and the
// dependency analyzer depend on. A host process supplies a concrete
// implementation (wrapping whatever provider SDK it likes); this module
// ships none.
type Capability interface {
	// Chat sends messages (and the available tools, if any) to the model
	// and returns its reply. A context-length violation must be returned as
	// an *agenterr.Error with Kind == agenterr.KindContextLength so the
	// agent core's progressive-trim recovery (spec §4.5) can recognize it.
	Chat(ctx context.Context, model string, messages []state.Message, tools []ToolSchema) (Response, error)
}

// IsContextLengthError reports whether err signals that the prompt
// exceeded the model's context window.
func IsContextLengthError(err error) bool {
	return agenterr.IsKind(err, agenterr.KindContextLength)
}
