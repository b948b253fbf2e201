// llmclient is this CLI's concrete llm.Capability implementation — the
// "host process" the core's interfaces describe as supplying one (spec
// §1/§6). Deliberately minimal and non-streaming against the OpenAI
// chat-completions wire format, loosely grounded on the teacher's
// model/openai client's configuration vocabulary
// (_examples/kadirpekel-hector/pkg/model/openai/openai.go's
// Config{APIKey, Model, MaxTokens, BaseURL, Timeout}) without porting its
// streaming/reasoning-effort/image-handling body, which depends on
// already-dropped teacher packages (a2a, httpclient) and the Responses API
// this module has no need to speak.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/corteximus/agentcore/pkg/agenterr"
	"github.com/corteximus/agentcore/pkg/llm"
	"github.com/corteximus/agentcore/pkg/state"
)

// OpenAIConfig configures the chat-completions client.
type OpenAIConfig struct {
	APIKey  string
	BaseURL string // default https://api.openai.com/v1
	Timeout time.Duration
}

// OpenAIClient implements llm.Capability against any server speaking the
// OpenAI chat-completions wire format (including self-hosted
// OpenAI-compatible gateways).
type OpenAIClient struct {
	cfg    OpenAIConfig
	client *http.Client
}

// NewOpenAIClient builds a client. An empty BaseURL defaults to OpenAI's
// public endpoint; Timeout defaults to 120s.
func NewOpenAIClient(cfg OpenAIConfig) *OpenAIClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 120 * time.Second
	}
	return &OpenAIClient{cfg: cfg, client: &http.Client{Timeout: cfg.Timeout}}
}

type chatRequest struct {
	Model    string     `json:"model"`
	Messages []wireMsg  `json:"messages"`
	Tools    []wireTool `json:"tools,omitempty"`
}

type wireMsg struct {
	Role       string         `json:"role"`
	Content    string         `json:"content"`
	ToolCalls  []wireToolCall `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
}

type wireToolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type wireTool struct {
	Type     string `json:"type"`
	Function struct {
		Name        string         `json:"name"`
		Description string         `json:"description"`
		Parameters  map[string]any `json:"parameters"`
	} `json:"function"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message      wireMsg `json:"message"`
		FinishReason string  `json:"finish_reason"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Code    string `json:"code"`
		Type    string `json:"type"`
	} `json:"error"`
}

// Chat implements llm.Capability.
func (c *OpenAIClient) Chat(ctx context.Context, model string, messages []state.Message, tools []llm.ToolSchema) (llm.Response, error) {
	req := chatRequest{Model: model, Messages: toWireMessages(messages), Tools: toWireTools(tools)}

	body, err := json.Marshal(req)
	if err != nil {
		return llm.Response{}, agenterr.Wrap(agenterr.KindNonRetryable, agenterr.ReasonSchemaViolation, "encode chat request", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return llm.Response{}, agenterr.Wrap(agenterr.KindFatal, agenterr.ReasonConnectionLost, "build chat request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return llm.Response{}, agenterr.Wrap(agenterr.KindTransient, agenterr.ReasonConnectionLost, "chat completions request failed", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return llm.Response{}, agenterr.Wrap(agenterr.KindTransient, agenterr.ReasonConnectionLost, "read chat completions response", err)
	}

	var parsed chatResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return llm.Response{}, agenterr.Wrap(agenterr.KindNonRetryable, agenterr.ReasonSchemaViolation, "parse chat completions response", err)
	}

	if parsed.Error != nil {
		if isContextLengthError(parsed.Error.Code, parsed.Error.Message) {
			return llm.Response{}, agenterr.New(agenterr.KindContextLength, agenterr.ReasonContextExhausted, parsed.Error.Message)
		}
		if resp.StatusCode == http.StatusTooManyRequests {
			return llm.Response{}, agenterr.New(agenterr.KindTransient, agenterr.ReasonRateLimit, parsed.Error.Message)
		}
		return llm.Response{}, agenterr.New(agenterr.KindFallbackEligible, agenterr.ReasonToolExecutionFailed, parsed.Error.Message)
	}
	if len(parsed.Choices) == 0 {
		return llm.Response{}, agenterr.New(agenterr.KindNonRetryable, agenterr.ReasonSchemaViolation, "chat completions returned no choices")
	}

	return llm.Response{Message: fromWireMessage(parsed.Choices[0].Message), Model: parsed.Model}, nil
}

func isContextLengthError(code, message string) bool {
	return code == "context_length_exceeded" || strings.Contains(strings.ToLower(message), "context length") ||
		strings.Contains(strings.ToLower(message), "maximum context")
}

func toWireMessages(msgs []state.Message) []wireMsg {
	out := make([]wireMsg, 0, len(msgs))
	for _, m := range msgs {
		wm := wireMsg{Role: string(m.Role), Content: m.Content, ToolCallID: m.ToolCallID}
		for _, tc := range m.ToolCalls {
			args, _ := json.Marshal(tc.Args)
			wtc := wireToolCall{ID: tc.ID, Type: "function"}
			wtc.Function.Name = tc.Tool
			wtc.Function.Arguments = string(args)
			wm.ToolCalls = append(wm.ToolCalls, wtc)
		}
		out = append(out, wm)
	}
	return out
}

func toWireTools(tools []llm.ToolSchema) []wireTool {
	out := make([]wireTool, 0, len(tools))
	for _, t := range tools {
		wt := wireTool{Type: "function"}
		wt.Function.Name = t.Name
		wt.Function.Description = t.Description
		wt.Function.Parameters = t.Parameters
		out = append(out, wt)
	}
	return out
}

func fromWireMessage(m wireMsg) state.Message {
	out := state.Message{
		Role:      state.Role(m.Role),
		Content:   m.Content,
		Timestamp: time.Now().UTC(),
	}
	for _, tc := range m.ToolCalls {
		var args map[string]any
		_ = json.Unmarshal([]byte(tc.Function.Arguments), &args)
		out.ToolCalls = append(out.ToolCalls, state.ToolCall{ID: tc.ID, Tool: tc.Function.Name, Args: args})
	}
	return out
}
