// Package config defines the declarative configuration surface for the
// orchestration core: agents, workflows, tool servers, and per-tool
// overrides, loaded from YAML via koanf (spec's ambient config stack).
// Grounded on the teacher's config.Config aggregate type
// (_examples/kadirpekel-hector/pkg/config/types.go), trimmed from its
// full RAG/plugin/database surface down to exactly the record types this
// spec's components need: agent descriptors (C7), workflow definitions
// (C9), tool server descriptors and fallback overrides (C5/C6).
package config

import "fmt"

// AgentDescriptor configures one agent.Agent instance (spec §4.5).
type AgentDescriptor struct {
	Name          string   `yaml:"name"`
	SystemPrompt  string   `yaml:"system_prompt"`
	Model         string   `yaml:"model"`
	MaxIterations int      `yaml:"max_iterations"`
	ToolAllowList []string `yaml:"tool_allow_list,omitempty"`
	ContextLimit  int      `yaml:"context_limit,omitempty"`
}

// SubAgentDescriptor configures one roster entry of a supervisor agent
// (spec §4.6).
type SubAgentDescriptor struct {
	Name          string   `yaml:"name"`
	Agent         string   `yaml:"agent"` // references an AgentDescriptor.Name
	ToolAllowList []string `yaml:"tool_allow_list,omitempty"`
}

// SupervisorDescriptor configures a supervisor.Supervisor (spec §4.6).
type SupervisorDescriptor struct {
	Base          string               `yaml:"base"` // references an AgentDescriptor.Name
	Roster        []SubAgentDescriptor `yaml:"roster"`
	SummaryBudget int                  `yaml:"summary_budget,omitempty"`
	MaxDepth      int                  `yaml:"max_depth,omitempty"`
}

// WorkflowNodeConfig configures one workflow.Node (spec §4.7).
type WorkflowNodeConfig struct {
	Kind            string `yaml:"kind"` // agent | tool | condition | human
	Agent           string `yaml:"agent,omitempty"`
	Tool            string `yaml:"tool,omitempty"`
	InterruptBefore bool   `yaml:"interrupt_before,omitempty"`
}

// WorkflowEdgeConfig configures one workflow.Edge (spec §4.7).
type WorkflowEdgeConfig struct {
	From       string            `yaml:"from"`
	To         string            `yaml:"to,omitempty"`
	RoutingMap map[string]string `yaml:"routing_map,omitempty"`
}

// WorkflowDefinition configures one workflow.Definition (spec §3, §4.7).
type WorkflowDefinition struct {
	Name               string                        `yaml:"name"`
	Nodes              map[string]WorkflowNodeConfig `yaml:"nodes"`
	Edges              []WorkflowEdgeConfig          `yaml:"edges"`
	Entry              string                        `yaml:"entry"`
	Checkpoints        []string                      `yaml:"checkpoints,omitempty"`
	GlobalIterationCap int                            `yaml:"global_iteration_cap,omitempty"`
}

// ServerDescriptor configures one tool transport to register with the
// manager (spec §4.3): a stdio (JSON-RPC over a spawned subprocess) or
// event-stream (SSE) MCP server.
type ServerDescriptor struct {
	Name      string            `yaml:"name"`
	Transport string            `yaml:"transport"` // stdio | eventstream
	Command   string            `yaml:"command,omitempty"`
	Args      []string          `yaml:"args,omitempty"`
	Env       map[string]string `yaml:"env,omitempty"`
	URL       string            `yaml:"url,omitempty"`
}

// ToolOverride configures a per-tool fallback list (spec §4.4's
// FallbackPolicy) and timeout (spec §4.3/§6). Timeout is parsed as a
// time.Duration string; empty means the manager falls back to
// tool.DefaultToolTimeout.
type ToolOverride struct {
	Tool      string   `yaml:"tool"`
	Fallbacks []string `yaml:"fallbacks,omitempty"`
	Timeout   string   `yaml:"timeout,omitempty"`
}

// OrchestratorConfig configures the bounded-concurrency orchestrator
// (spec §4.9).
type OrchestratorConfig struct {
	Capacity        int    `yaml:"capacity,omitempty"`
	DefaultRetention string `yaml:"default_retention,omitempty"` // parsed as a time.Duration string
}

// Config is the root configuration document.
type Config struct {
	Agents        []AgentDescriptor      `yaml:"agents"`
	Supervisors   []SupervisorDescriptor `yaml:"supervisors,omitempty"`
	Workflows     []WorkflowDefinition   `yaml:"workflows,omitempty"`
	Servers       []ServerDescriptor     `yaml:"servers,omitempty"`
	ToolOverrides []ToolOverride         `yaml:"tool_overrides,omitempty"`
	Orchestrator  OrchestratorConfig     `yaml:"orchestrator,omitempty"`
	LogLevel      string                 `yaml:"log_level,omitempty"`
	LogFormat     string                 `yaml:"log_format,omitempty"`
}

// Validate performs structural checks a YAML unmarshal can't catch on its
// own: agent and server names are non-empty and unique, and every
// cross-reference (a supervisor's base/roster agent names, a workflow's
// entry node and its edges' source, target and routing-map node names)
// resolves to something declared elsewhere in the document. Supervisor,
// roster-entry and workflow names are not checked.
func (c *Config) Validate() error {
	agentNames := make(map[string]bool, len(c.Agents))
	for _, a := range c.Agents {
		if a.Name == "" {
			return fmt.Errorf("agent with empty name")
		}
		if agentNames[a.Name] {
			return fmt.Errorf("duplicate agent name %q", a.Name)
		}
		agentNames[a.Name] = true
	}

	for _, s := range c.Supervisors {
		if !agentNames[s.Base] {
			return fmt.Errorf("supervisor references unknown base agent %q", s.Base)
		}
		for _, sa := range s.Roster {
			if !agentNames[sa.Agent] {
				return fmt.Errorf("supervisor roster entry %q references unknown agent %q", sa.Name, sa.Agent)
			}
		}
	}

	serverNames := make(map[string]bool, len(c.Servers))
	for _, s := range c.Servers {
		if s.Name == "" {
			return fmt.Errorf("server with empty name")
		}
		if serverNames[s.Name] {
			return fmt.Errorf("duplicate server name %q", s.Name)
		}
		serverNames[s.Name] = true
		if s.Transport != "stdio" && s.Transport != "eventstream" {
			return fmt.Errorf("server %q has unsupported transport %q", s.Name, s.Transport)
		}
	}

	for _, w := range c.Workflows {
		if _, ok := w.Nodes[w.Entry]; !ok {
			return fmt.Errorf("workflow %q entry node %q not declared", w.Name, w.Entry)
		}
		for _, e := range w.Edges {
			if _, ok := w.Nodes[e.From]; !ok {
				return fmt.Errorf("workflow %q edge references unknown source node %q", w.Name, e.From)
			}
			if _, ok := w.Nodes[e.To]; e.To != "" && !ok {
				return fmt.Errorf("workflow %q edge references unknown target node %q", w.Name, e.To)
			}
			for key, to := range e.RoutingMap {
				if _, ok := w.Nodes[to]; !ok {
					return fmt.Errorf("workflow %q edge routing key %q references unknown node %q", w.Name, key, to)
				}
			}
		}
	}

	return nil
}
