// Package manager implements the tool manager (spec §4.4): a server
// registry, a tool-name -> server discovery cache, per-agent allow-list
// filtering, fallback/retry policy, and trace recording of every attempt.
// Grounded on the teacher's toolset-registration/dispatch shape
// (_examples/kadirpekel-hector/pkg/tool/mcptoolset/mcptoolset.go's
// MaxRetries/fallback config and its connect-then-cache-tools pattern),
// generalized from one toolset per config entry to a registry of servers
// shared across tasks (spec §5 shared-resource policy: "mutation guarded
// by a mutex; steady-state execute uses only reads from an immutable
// snapshot").
package manager

import (
	"context"
	"errors"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/corteximus/agentcore/pkg/agenterr"
	"github.com/corteximus/agentcore/pkg/tool"
	"github.com/corteximus/agentcore/pkg/trace"
)

const (
	maxAttempts   = 3
	baseBackoff   = 1 * time.Second
	backoffFactor = 2
)

// FallbackPolicy maps a tool name to the ordered list of tool names to try
// next if it fails (spec §4.4).
type FallbackPolicy map[string][]string

// TimeoutPolicy maps a tool name to the deadline its calls are bounded by.
// A tool absent from the policy uses tool.DefaultToolTimeout (spec §4.3:
// "Request timeouts are enforced by the manager, not the transport").
type TimeoutPolicy map[string]time.Duration

// ToolRecorder observes every tool-call attempt's outcome and duration
// (spec §A.7). *observability.Metrics satisfies this interface; it is
// never imported here to keep this package dependency-free of the
// observability package.
type ToolRecorder interface {
	RecordToolCall(server, tool string, d time.Duration, err error)
}

// snapshot is the immutable registry view steady-state Execute reads from,
// swapped in wholesale by Register/Deregister under the write lock (spec §5
// shared-resource policy).
type snapshot struct {
	transports map[string]tool.Transport   // server name -> transport
	toolIndex  map[string]string           // tool name -> server name
	catalogue  map[string][]tool.Descriptor // server name -> tools
}

// Manager is the tool manager (C6).
type Manager struct {
	mu       sync.Mutex
	snap     snapshot
	fallback FallbackPolicy
	timeouts TimeoutPolicy
	recorder ToolRecorder
}

// SetRecorder installs a ToolRecorder that observes every call attempt
// from this point on.
func (m *Manager) SetRecorder(r ToolRecorder) {
	m.mu.Lock()
	m.recorder = r
	m.mu.Unlock()
}

// SetTimeouts installs the per-tool timeout policy Execute enforces from
// this point on.
func (m *Manager) SetTimeouts(t TimeoutPolicy) {
	m.mu.Lock()
	m.timeouts = t
	m.mu.Unlock()
}

// New builds an empty Manager.
func New(fallback FallbackPolicy) *Manager {
	if fallback == nil {
		fallback = FallbackPolicy{}
	}
	return &Manager{
		snap: snapshot{
			transports: make(map[string]tool.Transport),
			toolIndex:  make(map[string]string),
			catalogue:  make(map[string][]tool.Descriptor),
		},
		fallback: fallback,
	}
}

// Register connects to server (via an already-dialed Transport) and caches
// its discovered tools.
func (m *Manager) Register(ctx context.Context, server string, t tool.Transport) error {
	tools, err := t.Discover(ctx)
	if err != nil {
		return agenterr.Wrap(agenterr.KindTransient, agenterr.ReasonConnectionLost, "discover tools", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	next := snapshot{
		transports: cloneTransports(m.snap.transports),
		toolIndex:  cloneIndex(m.snap.toolIndex),
		catalogue:  cloneCatalogue(m.snap.catalogue),
	}
	next.transports[server] = t
	next.catalogue[server] = tools
	for _, d := range tools {
		next.toolIndex[d.Name] = server
	}
	m.snap = next
	return nil
}

// Deregister closes and removes a server.
func (m *Manager) Deregister(server string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.snap.transports[server]
	if !ok {
		return nil
	}

	next := snapshot{
		transports: cloneTransports(m.snap.transports),
		toolIndex:  cloneIndex(m.snap.toolIndex),
		catalogue:  cloneCatalogue(m.snap.catalogue),
	}
	delete(next.transports, server)
	delete(next.catalogue, server)
	for name, s := range next.toolIndex {
		if s == server {
			delete(next.toolIndex, name)
		}
	}
	m.snap = next

	return t.Close()
}

// Catalogue returns the current, flattened tool descriptor list, optionally
// filtered to allowList (nil/empty means no filtering) — used to build the
// LLM-facing tool schema for an agent (spec §4.5 step 2).
func (m *Manager) Catalogue(allowList []string) []tool.Descriptor {
	m.mu.Lock()
	snap := m.snap
	m.mu.Unlock()

	allowed := toSet(allowList)
	var out []tool.Descriptor
	for _, tools := range snap.catalogue {
		for _, d := range tools {
			if allowed != nil && !allowed[d.Name] {
				continue
			}
			out = append(out, d)
		}
	}
	return out
}

// Execute dispatches a tool call, applying allow-list filtering, automatic
// unknown-name correction, fallback, and retry (spec §4.4). Every attempt —
// including fallback attempts — is recorded on tr.
func (m *Manager) Execute(ctx context.Context, call tool.Call, allowList []string, tr *trace.Tracer) (tool.Result, error) {
	allowed := toSet(allowList)
	if allowed != nil && !allowed[call.Tool] {
		return tool.Result{}, agenterr.New(agenterr.KindNonRetryable, agenterr.ReasonAccessDenied, "tool not in agent allow-list").WithTool(call.Tool)
	}

	candidates, err := m.resolveCandidates(call.Tool, allowed)
	if err != nil {
		return tool.Result{}, err
	}

	var lastErr error
	for _, toolName := range candidates {
		attemptCall := call
		attemptCall.Tool = toolName

		res, err := m.executeWithRetry(ctx, attemptCall, tr)
		if err == nil {
			return res, nil
		}
		lastErr = err
		if !agenterr.IsFallbackEligible(err) {
			return tool.Result{}, err
		}
	}
	return tool.Result{}, lastErr
}

// resolveCandidates builds the ordered [primary, fallback...] tool-name
// list for call.Tool, performing automatic unique-match correction when
// the name is unknown to the discovery cache.
func (m *Manager) resolveCandidates(toolName string, allowed map[string]bool) ([]string, error) {
	m.mu.Lock()
	snap := m.snap
	m.mu.Unlock()

	name := toolName
	if _, ok := snap.toolIndex[name]; !ok {
		// Automatic correction: the caller may have qualified the name with
		// a server prefix ("server.tool" / "server/tool") that the
		// discovery cache doesn't key on. Search the full catalogue for a
		// unique tool whose bare name matches.
		matches := matchByUniqueName(snap.catalogue, normalizeToolName(name))
		switch len(matches) {
		case 0:
			return nil, agenterr.New(agenterr.KindNonRetryable, agenterr.ReasonToolNotFound, "unknown tool").WithTool(toolName)
		case 1:
			name = matches[0]
		default:
			return nil, agenterr.New(agenterr.KindNonRetryable, agenterr.ReasonToolNotFound, "ambiguous tool name, multiple matches").WithTool(toolName)
		}
	}

	out := []string{name}
	for _, fb := range m.fallback[toolName] {
		if allowed != nil && !allowed[fb] {
			continue
		}
		out = append(out, fb)
	}
	return out, nil
}

// executeWithRetry runs one candidate tool through the transient-error
// retry policy (spec §4.4: up to 3 attempts, 1s base backoff, factor 2,
// jitter +-20%).
func (m *Manager) executeWithRetry(ctx context.Context, call tool.Call, tr *trace.Tracer) (tool.Result, error) {
	m.mu.Lock()
	server, ok := m.snap.toolIndex[call.Tool]
	transport := m.snap.transports[server]
	timeout := m.timeouts[call.Tool]
	m.mu.Unlock()
	if !ok || transport == nil {
		return tool.Result{}, agenterr.New(agenterr.KindNonRetryable, agenterr.ReasonToolNotFound, "tool has no owning server").WithTool(call.Tool)
	}
	call.Server = server
	if timeout <= 0 {
		timeout = tool.DefaultToolTimeout
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, timeout)
		start := time.Now()
		res, err := transport.Execute(callCtx, call)
		dur := time.Since(start)
		cancel()

		if tr != nil {
			rec := trace.ToolCallRecord{Server: server, Tool: call.Tool, Args: call.Args, Duration: dur}
			if err != nil {
				rec.Error = err.Error()
			} else {
				rec.Result = res.Content
				if res.IsError {
					rec.Error = res.Error
				}
			}
			_ = tr.LogToolCall(ctx, rec)
		}

		if m.recorder != nil {
			recErr := err
			if recErr == nil && res.IsError {
				recErr = agenterr.New(agenterr.KindFallbackEligible, agenterr.ReasonToolExecutionFailed, res.Error)
			}
			m.recorder.RecordToolCall(server, call.Tool, dur, recErr)
		}

		if err == nil && !res.IsError {
			return res, nil
		}
		if err == nil && res.IsError {
			err = agenterr.New(agenterr.KindFallbackEligible, agenterr.ReasonToolExecutionFailed, res.Error).WithTool(call.Tool)
		}
		if errors.Is(err, context.DeadlineExceeded) {
			err = agenterr.Wrap(agenterr.KindTransient, agenterr.ReasonTimeout, "tool call timed out", err).WithTool(call.Tool)
		}
		if structured, ok := agenterr.Of(err); ok {
			lastErr = structured.WithAttempt(attempt)
		} else {
			lastErr = agenterr.Wrap(agenterr.KindNonRetryable, agenterr.ReasonToolExecutionFailed, "tool execution failed", err).WithTool(call.Tool).WithAttempt(attempt)
		}

		if !agenterr.IsRetryable(err) {
			return tool.Result{}, lastErr
		}
		if attempt == maxAttempts {
			break
		}

		select {
		case <-time.After(backoffDelay(attempt)):
		case <-ctx.Done():
			return tool.Result{}, agenterr.Wrap(agenterr.KindCancelled, agenterr.ReasonCancelled, "tool retry cancelled", ctx.Err())
		}
	}
	return tool.Result{}, lastErr
}

func backoffDelay(attempt int) time.Duration {
	d := baseBackoff
	for i := 1; i < attempt; i++ {
		d *= backoffFactor
	}
	jitter := time.Duration(float64(d) * (rand.Float64()*0.4 - 0.2))
	return d + jitter
}

// matchByUniqueName searches every server's catalogue for tools whose bare
// name equals name, returning every matching tool name found (duplicates
// included, so the caller can tell "exactly one match" from "ambiguous").
func matchByUniqueName(catalogue map[string][]tool.Descriptor, name string) []string {
	var matches []string
	for _, tools := range catalogue {
		for _, d := range tools {
			if d.Name == name {
				matches = append(matches, d.Name)
			}
		}
	}
	return matches
}

// normalizeToolName strips a "server." or "server/" qualifier prefix, if
// present, so a caller-qualified name can still resolve to the bare tool
// name the discovery cache keys on.
func normalizeToolName(name string) string {
	for _, sep := range []string{".", "/"} {
		if i := strings.LastIndex(name, sep); i >= 0 {
			return name[i+1:]
		}
	}
	return name
}

func toSet(names []string) map[string]bool {
	if len(names) == 0 {
		return nil
	}
	out := make(map[string]bool, len(names))
	for _, n := range names {
		out[n] = true
	}
	return out
}

func cloneTransports(m map[string]tool.Transport) map[string]tool.Transport {
	out := make(map[string]tool.Transport, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func cloneIndex(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func cloneCatalogue(m map[string][]tool.Descriptor) map[string][]tool.Descriptor {
	out := make(map[string][]tool.Descriptor, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
