// Package stdio implements the stdio JSON-RPC 2.0 tool transport (spec
// §4.3): a subprocess speaking line-framed JSON-RPC over its stdin/stdout.
// Grounded directly on the teacher's stdio MCP client construction
// (_examples/kadirpekel-hector/pkg/tool/mcptoolset/mcptoolset.go
// connectStdio/callStdio): spawn via mark3labs/mcp-go's
// client.NewStdioMCPClient, Initialize, ListTools, CallTool.
package stdio

import (
	"context"
	"encoding/json"

	mcpclient "github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/corteximus/agentcore/pkg/agenterr"
	"github.com/corteximus/agentcore/pkg/tool"
)

// Config describes how to launch the subprocess (spec §4.3).
type Config struct {
	Server  string
	Command string
	Args    []string
	Env     map[string]string
}

// Transport is a tool.Transport over a subprocess's stdio, speaking MCP's
// JSON-RPC 2.0 framing via mark3labs/mcp-go.
type Transport struct {
	cfg    Config
	client *mcpclient.Client
}

// Connect spawns the subprocess and completes the MCP initialize handshake.
func Connect(ctx context.Context, cfg Config) (*Transport, error) {
	env := make([]string, 0, len(cfg.Env))
	for k, v := range cfg.Env {
		env = append(env, k+"="+v)
	}

	c, err := mcpclient.NewStdioMCPClient(cfg.Command, env, cfg.Args...)
	if err != nil {
		return nil, agenterr.Wrap(agenterr.KindTransient, agenterr.ReasonConnectionLost, "spawn stdio tool server", err)
	}
	if err := c.Start(ctx); err != nil {
		return nil, agenterr.Wrap(agenterr.KindTransient, agenterr.ReasonConnectionLost, "start stdio tool server", err)
	}

	initReq := mcp.InitializeRequest{}
	initReq.Params.ClientInfo = mcp.Implementation{Name: "agentcore", Version: "0.1.0"}
	initReq.Params.ProtocolVersion = "2024-11-05"
	if _, err := c.Initialize(ctx, initReq); err != nil {
		c.Close()
		return nil, agenterr.Wrap(agenterr.KindTransient, agenterr.ReasonConnectionLost, "initialize stdio tool server", err)
	}

	return &Transport{cfg: cfg, client: c}, nil
}

// Discover lists the tools the server currently exposes.
func (t *Transport) Discover(ctx context.Context) ([]tool.Descriptor, error) {
	resp, err := t.client.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return nil, agenterr.Wrap(agenterr.KindTransient, agenterr.ReasonConnectionLost, "list stdio tools", err)
	}

	out := make([]tool.Descriptor, 0, len(resp.Tools))
	for _, mt := range resp.Tools {
		out = append(out, tool.Descriptor{
			Server:      t.cfg.Server,
			Name:        mt.Name,
			Description: mt.Description,
			Parameters:  schemaToMap(mt.InputSchema),
		})
	}
	return out, nil
}

// Execute invokes one tool call over the subprocess connection.
func (t *Transport) Execute(ctx context.Context, call tool.Call) (tool.Result, error) {
	if err := ctx.Err(); err != nil {
		return tool.Result{}, agenterr.Wrap(agenterr.KindCancelled, agenterr.ReasonCancelled, "stdio call cancelled", err)
	}

	req := mcp.CallToolRequest{}
	req.Params.Name = call.Tool
	req.Params.Arguments = call.Args

	resp, err := t.client.CallTool(ctx, req)
	if err != nil {
		return tool.Result{}, agenterr.Wrap(agenterr.KindFallbackEligible, agenterr.ReasonToolExecutionFailed, "stdio tool call failed", err).WithTool(call.Tool)
	}

	if resp.IsError {
		return tool.Result{IsError: true, Error: extractText(resp), Content: extractText(resp)}, nil
	}
	return tool.Result{Content: extractText(resp)}, nil
}

// Close terminates the subprocess.
func (t *Transport) Close() error {
	return t.client.Close()
}

func extractText(resp *mcp.CallToolResult) string {
	var out string
	for _, c := range resp.Content {
		if tc, ok := c.(mcp.TextContent); ok {
			out += tc.Text
		}
	}
	return out
}

// schemaToMap round-trips the MCP schema through JSON to get a clean map,
// matching the teacher's own convertSchema (mcptoolset.go).
func schemaToMap(schema mcp.ToolInputSchema) map[string]any {
	data, err := json.Marshal(schema)
	if err != nil {
		return nil
	}
	var result map[string]any
	if err := json.Unmarshal(data, &result); err != nil {
		return nil
	}
	return result
}

var _ tool.Transport = (*Transport)(nil)
