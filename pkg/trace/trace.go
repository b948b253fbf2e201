// Package trace implements the append-only structured event log (spec §3,
// §4.2): step records in program order, nested tool-call records, and
// sub-agent session summaries. It is flushed incrementally to a durable
// Store after every step so a crash never loses more than the in-flight
// step.
package trace

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/corteximus/agentcore/pkg/agenterr"
	"github.com/corteximus/agentcore/pkg/id"
	"github.com/corteximus/agentcore/pkg/store"
)

// Severity of a step record.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// ToolCallRecord is one tool invocation attempt nested under a step.
type ToolCallRecord struct {
	Server   string        `json:"server"`
	Tool     string        `json:"tool"`
	Args     any           `json:"args"`
	Result   any           `json:"result,omitempty"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`
}

// Step is one entry in the trace's step log (spec §3).
type Step struct {
	Name      string           `json:"name"`
	Message   string           `json:"message"`
	Timestamp time.Time        `json:"timestamp"`
	Severity  Severity         `json:"severity"`
	Agent     string           `json:"agent"`
	ToolCalls []ToolCallRecord `json:"tool_calls,omitempty"`
	Duration  time.Duration    `json:"duration"`
}

// SubAgentSummary is what the tracer retains for a completed sub-agent
// session — the supervisor (C8) pushes these in; the tracer is the only
// consumer for trace-view purposes (spec §4.2).
type SubAgentSummary struct {
	SessionID   string    `json:"session_id"`
	AgentName   string    `json:"agent_name"`
	Task        string    `json:"task"`
	Summary     string    `json:"summary"`
	Status      string    `json:"status"`
	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at,omitempty"`
}

// Log is the durable representation of a task's trace (spec §3's "Trace
// log"): task id, ordered steps, and sub-agent session summaries.
type Log struct {
	TaskID      string                     `json:"task_id"`
	Steps       []Step                     `json:"steps"`
	SubSessions map[string]SubAgentSummary `json:"sub_sessions"`
}

// Tracer is the append-only, incrementally-flushed trace for one task.
// Safe for concurrent use; step order is preserved in program order per
// task (spec §5 ordering guarantees).
type Tracer struct {
	mu    sync.Mutex
	log   Log
	store store.Store
	clock id.Clock
}

// New creates a Tracer for taskID, flushing to st after every mutation.
func New(taskID string, st store.Store, clock id.Clock) *Tracer {
	if clock == nil {
		clock = id.SystemClock{}
	}
	return &Tracer{
		log: Log{
			TaskID:      taskID,
			SubSessions: make(map[string]SubAgentSummary),
		},
		store: st,
		clock: clock,
	}
}

// Load reconstructs a Tracer from a persisted Log (e.g. on checkpoint
// resume) so subsequent steps append after what's already there.
func Load(log Log, st store.Store, clock id.Clock) *Tracer {
	if log.SubSessions == nil {
		log.SubSessions = make(map[string]SubAgentSummary)
	}
	if clock == nil {
		clock = id.SystemClock{}
	}
	return &Tracer{log: log, store: st, clock: clock}
}

func (t *Tracer) flush(ctx context.Context) error {
	if t.store == nil {
		return nil
	}
	key := store.TaskKeys{TaskID: t.log.TaskID}.Trace()
	if err := t.store.Write(ctx, key, t.log); err != nil {
		return agenterr.Wrap(agenterr.KindFatal, agenterr.ReasonStoreIO, "flush trace", err)
	}
	return nil
}

// LogStep appends a new step (spec §4.2 log_step) and flushes it. Returns
// the assigned step.
func (t *Tracer) LogStep(ctx context.Context, name, message, agent string, sev Severity, toolCalls []ToolCallRecord) (Step, error) {
	t.mu.Lock()
	step := Step{
		Name:      name,
		Message:   message,
		Timestamp: t.clock.Now(),
		Severity:  sev,
		Agent:     agent,
		ToolCalls: toolCalls,
	}
	t.log.Steps = append(t.log.Steps, step)
	t.mu.Unlock()

	if err := t.flush(ctx); err != nil {
		return step, err
	}
	return step, nil
}

// LogToolCall records one tool-call attempt (spec §4.2 log_tool_call)
// against the most recently appended step. Every attempt — success or
// failure, including fallback/retry attempts — is recorded, in order (spec
// §8 testable property on fallback trace completeness).
func (t *Tracer) LogToolCall(ctx context.Context, rec ToolCallRecord) error {
	t.mu.Lock()
	if len(t.log.Steps) > 0 {
		last := &t.log.Steps[len(t.log.Steps)-1]
		last.ToolCalls = append(last.ToolCalls, rec)
	}
	t.mu.Unlock()
	return t.flush(ctx)
}

// SetLastStepDuration updates the duration of the most recently appended
// step — used when a step is logged before its real work (e.g. tool
// dispatch) completes, so tool-call records attach to the right step via
// LogToolCall before the final duration is known.
func (t *Tracer) SetLastStepDuration(ctx context.Context, dur time.Duration) error {
	t.mu.Lock()
	if len(t.log.Steps) > 0 {
		t.log.Steps[len(t.log.Steps)-1].Duration = dur
	}
	t.mu.Unlock()
	return t.flush(ctx)
}

// StartSubAgentSession records a new sub-agent session and returns its id
// (spec §4.2 start_sub_agent_session).
func (t *Tracer) StartSubAgentSession(ctx context.Context, agentName, task string) (string, error) {
	sid := id.New()

	t.mu.Lock()
	t.log.SubSessions[sid] = SubAgentSummary{
		SessionID: sid,
		AgentName: agentName,
		Task:      task,
		Status:    "running",
		StartedAt: t.clock.Now(),
	}
	t.mu.Unlock()

	return sid, t.flush(ctx)
}

// EndSubAgentSession closes a sub-agent session with its summary and final
// status (spec §4.2 end_sub_agent_session).
func (t *Tracer) EndSubAgentSession(ctx context.Context, sessionID, summary, status string) error {
	t.mu.Lock()
	sess, ok := t.log.SubSessions[sessionID]
	if ok {
		sess.Summary = summary
		sess.Status = status
		sess.CompletedAt = t.clock.Now()
		t.log.SubSessions[sessionID] = sess
	}
	t.mu.Unlock()

	return t.flush(ctx)
}

// Log returns a snapshot of the current trace log.
func (t *Tracer) Log() Log {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := Log{
		TaskID:      t.log.TaskID,
		Steps:       append([]Step(nil), t.log.Steps...),
		SubSessions: make(map[string]SubAgentSummary, len(t.log.SubSessions)),
	}
	for k, v := range t.log.SubSessions {
		out.SubSessions[k] = v
	}
	return out
}

// PrettyPrint renders the trace as a human-readable, multi-line report
// (spec §4.2 pretty_print) — grounded on the teacher's general preference
// for rich CLI trace views (SPEC_FULL §C).
func (t *Tracer) PrettyPrint() string {
	log := t.Log()

	var b strings.Builder
	fmt.Fprintf(&b, "Trace for task %s\n", log.TaskID)
	for i, step := range log.Steps {
		fmt.Fprintf(&b, "  %2d. [%s] %-5s %s — %s (%s)\n",
			i+1, step.Timestamp.Format(time.RFC3339), strings.ToUpper(string(step.Severity)),
			step.Agent, step.Message, step.Duration)
		for _, tc := range step.ToolCalls {
			status := "ok"
			if tc.Error != "" {
				status = "ERROR: " + tc.Error
			}
			fmt.Fprintf(&b, "       -> %s/%s (%s) [%s]\n", tc.Server, tc.Tool, tc.Duration, status)
		}
	}
	if len(log.SubSessions) > 0 {
		b.WriteString("  Sub-agent sessions:\n")
		for _, s := range log.SubSessions {
			fmt.Fprintf(&b, "    %s (%s) [%s]: %s\n", s.AgentName, s.SessionID, s.Status, s.Summary)
		}
	}
	return b.String()
}
