// Package tool defines the core types shared by both tool transports (spec
// §4.3): a server/tool descriptor pair, the wire-level ToolCall/ToolResult
// shape, and the narrow Transport interface the manager (C6) dispatches
// through. Grounded on the teacher's Tool/CallableTool interface hierarchy
// (_examples/kadirpekel-hector/pkg/tool/tool.go) — kept as a single
// synchronous Execute rather than the teacher's streaming iter.Seq2
// variant, since this spec's tool contract (§4.3) is request/response, not
// streaming.
package tool

import (
	"context"
	"time"
)

// Descriptor is a tool's static metadata as discovered from a server (spec
// §4.3 discovery).
type Descriptor struct {
	Server      string         `json:"server"`
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// Call is one invocation request (spec §4.3/§4.4).
type Call struct {
	Server string
	Tool   string
	Args   map[string]any
}

// Result is what a Transport returns for a Call.
type Result struct {
	Content any
	IsError bool
	Error   string
}

// Transport is the narrow interface both stdio and event-stream
// transports implement (spec §4.3). The manager (C6) never depends on
// transport-specific types.
type Transport interface {
	// Discover lists the tools a server currently exposes.
	Discover(ctx context.Context) ([]Descriptor, error)

	// Execute invokes one tool call and returns its result. Execute must
	// respect ctx cancellation: on cancellation it returns promptly with a
	// cancellation error rather than blocking until the server responds
	// (spec §5 cancellation semantics).
	Execute(ctx context.Context, call Call) (Result, error)

	// Close releases any held connection/process resources.
	Close() error
}

// DefaultToolTimeout is the per-tool call timeout (spec §5).
const DefaultToolTimeout = 300 * time.Second
