// Package id provides identifier and time generation for the orchestration
// core: UUIDv4 identities and monotonic-friendly timestamps.
package id

import (
	"time"

	"github.com/google/uuid"
)

// New returns a lowercase, dashed UUIDv4 string.
func New() string {
	return uuid.New().String()
}

// Valid reports whether s parses as a UUID (any version).
func Valid(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}

// Clock supplies the current time. Production code uses SystemClock; tests
// substitute a fixed or stepped clock so ordering assertions don't race the
// wall clock.
type Clock interface {
	Now() time.Time
}

// SystemClock is the default Clock, backed by time.Now.
type SystemClock struct{}

// Now returns the current UTC time truncated to nothing extra; RFC 3339
// formatting downstream is what ultimately loses sub-second noise when it
// matters.
func (SystemClock) Now() time.Time { return time.Now().UTC() }

// FixedClock always returns the same instant. Useful for deterministic
// timestamp assertions in tests.
type FixedClock struct{ At time.Time }

// Now returns the fixed instant.
func (f FixedClock) Now() time.Time { return f.At }

// StepClock advances by Step on every call, starting at Start. Useful for
// asserting strict ordering (e.g. checkpoint sequence timestamps) without
// sleeping in tests.
type StepClock struct {
	Start   time.Time
	Step    time.Duration
	current time.Time
	started bool
}

// Now returns the next instant in the sequence.
func (s *StepClock) Now() time.Time {
	if !s.started {
		s.current = s.Start
		s.started = true
		return s.current
	}
	s.current = s.current.Add(s.Step)
	return s.current
}
