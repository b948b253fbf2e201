// Package agenterr defines the structured error taxonomy shared by every
// component of the orchestration core (spec §7). A bare error string is
// never enough to drive retry/fallback policy or to populate a trace step —
// every error that crosses a component boundary is an *Error carrying a
// Kind plus the structured fields needed to decide what happens next.
package agenterr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for retry/fallback/propagation policy.
type Kind string

const (
	// KindTransient errors are retried with exponential backoff: timeout,
	// connection-lost, rate-limit.
	KindTransient Kind = "transient"

	// KindFallbackEligible is tool-execution-failed: retried on the same
	// tool first, then on fallback tools in order.
	KindFallbackEligible Kind = "fallback_eligible"

	// KindContextLength is recovered inside the agent core via progressive
	// trim; it is never surfaced to callers if recovery succeeds.
	KindContextLength Kind = "context_length"

	// KindNonRetryable errors fail the owning task immediately: schema
	// violation, access denied, tool not found, cycle detected, workflow
	// validation, awaiting-human-timeout.
	KindNonRetryable Kind = "non_retryable"

	// KindFatal is unrecoverable infrastructure failure: durable-store I/O,
	// checkpoint corruption.
	KindFatal Kind = "fatal"

	// KindCancelled is terminal and is never retried.
	KindCancelled Kind = "cancelled"
)

// Reason enumerates the specific, stable error reasons tests and callers
// match on. Kind governs policy; Reason identifies the exact condition.
type Reason string

const (
	ReasonTimeout                Reason = "timeout"
	ReasonConnectionLost         Reason = "transport_connection_lost"
	ReasonRateLimit              Reason = "rate_limit"
	ReasonToolExecutionFailed    Reason = "tool_execution_failed"
	ReasonContextExhausted       Reason = "context_exhausted"
	ReasonIterationExhausted     Reason = "iteration_exhausted"
	ReasonSchemaViolation        Reason = "schema_violation"
	ReasonAccessDenied           Reason = "access_denied"
	ReasonToolNotFound           Reason = "tool_not_found"
	ReasonCycleDetected          Reason = "cycle_detected"
	ReasonWorkflowValidation     Reason = "workflow_validation"
	ReasonAwaitingHumanTimeout   Reason = "awaiting_human_timeout"
	ReasonStoreIO                Reason = "durable_store_io_failure"
	ReasonCheckpointCorruption   Reason = "checkpoint_corruption"
	ReasonCancelled              Reason = "cancelled"
	ReasonRecursionDepthExceeded Reason = "recursion_depth_exceeded"
)

// Error is the single structured error value propagated across component
// boundaries in the core.
type Error struct {
	Kind    Kind
	Reason  Reason
	Message string

	TaskID  string
	Node    string
	Tool    string
	Attempt int

	Cause error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("[%s/%s] %s", e.Kind, e.Reason, e.Message)
	if e.TaskID != "" {
		msg += fmt.Sprintf(" (task=%s)", e.TaskID)
	}
	if e.Node != "" {
		msg += fmt.Sprintf(" (node=%s)", e.Node)
	}
	if e.Tool != "" {
		msg += fmt.Sprintf(" (tool=%s)", e.Tool)
	}
	if e.Attempt > 0 {
		msg += fmt.Sprintf(" (attempt=%d)", e.Attempt)
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap allows errors.Is/errors.As to reach the underlying cause.
func (e *Error) Unwrap() error { return e.Cause }

// New builds a structured Error.
func New(kind Kind, reason Reason, message string) *Error {
	return &Error{Kind: kind, Reason: reason, Message: message}
}

// Wrap builds a structured Error around an existing cause.
func Wrap(kind Kind, reason Reason, message string, cause error) *Error {
	return &Error{Kind: kind, Reason: reason, Message: message, Cause: cause}
}

// WithTask returns a copy of e annotated with a task id.
func (e *Error) WithTask(taskID string) *Error {
	c := *e
	c.TaskID = taskID
	return &c
}

// WithNode returns a copy of e annotated with a workflow node name.
func (e *Error) WithNode(node string) *Error {
	c := *e
	c.Node = node
	return &c
}

// WithTool returns a copy of e annotated with a tool name.
func (e *Error) WithTool(tool string) *Error {
	c := *e
	c.Tool = tool
	return &c
}

// WithAttempt returns a copy of e annotated with an attempt number.
func (e *Error) WithAttempt(n int) *Error {
	c := *e
	c.Attempt = n
	return &c
}

// Of extracts the structured Error from err, if any, via errors.As.
func Of(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// IsKind reports whether err is a structured Error of the given Kind.
func IsKind(err error, kind Kind) bool {
	e, ok := Of(err)
	return ok && e.Kind == kind
}

// IsRetryable reports whether err should be retried by the tool manager's
// transient-error policy (spec §4.4, §7).
func IsRetryable(err error) bool {
	e, ok := Of(err)
	if !ok {
		return false
	}
	return e.Kind == KindTransient
}

// IsFallbackEligible reports whether err should trigger the fallback-tool
// sequence (spec §4.4, §7).
func IsFallbackEligible(err error) bool {
	e, ok := Of(err)
	if !ok {
		return false
	}
	return e.Kind == KindFallbackEligible
}
