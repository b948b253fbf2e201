// Package task defines the Task record (spec §3) and its lifecycle, and a
// Store-backed repository for persisting it on every status transition
// (spec §5's "persisted on every status transition"). It is a fresh,
// purpose-built model — the teacher's own Task type
// (_examples/kadirpekel-hector/pkg/task/task.go) is built around the a2a
// protocol's Message type, which this core does not depend on — but keeps
// the teacher's general shape: an explicit Status enum, an in-memory
// service plus a pluggable persistence layer, and constructor-based
// transition methods rather than exported field mutation.
package task

import (
	"context"
	"strings"
	"time"

	"github.com/corteximus/agentcore/pkg/agenterr"
	"github.com/corteximus/agentcore/pkg/id"
	"github.com/corteximus/agentcore/pkg/store"
)

// Status is the Task lifecycle (spec §3).
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Task is the orchestrator's unit of work (spec §3). Mutated only by the
// orchestrator, via the transition methods below — callers never assign to
// its fields directly.
type Task struct {
	ID          string         `json:"id"`
	Description string         `json:"description"`
	AgentName   string         `json:"agent_name"`
	Status      Status         `json:"status"`
	ParentID    string         `json:"parent_id,omitempty"`
	Result      any            `json:"result,omitempty"`
	Error       *agenterr.Error `json:"error,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	StartedAt   time.Time      `json:"started_at,omitempty"`
	CompletedAt time.Time      `json:"completed_at,omitempty"`
	Retention   time.Duration  `json:"retention"`
}

// New builds a pending Task.
func New(clock id.Clock, description, agentName, parentID string, retention time.Duration) Task {
	if clock == nil {
		clock = id.SystemClock{}
	}
	return Task{
		ID:          id.New(),
		Description: description,
		AgentName:   agentName,
		Status:      StatusPending,
		ParentID:    parentID,
		CreatedAt:   clock.Now(),
		Retention:   retention,
	}
}

// Start transitions pending -> running, returning the updated Task. t is
// never mutated in place.
func (t Task) Start(clock id.Clock) Task {
	if clock == nil {
		clock = id.SystemClock{}
	}
	next := t
	next.Status = StatusRunning
	next.StartedAt = clock.Now()
	return next
}

// Complete transitions running -> completed with a result payload.
func (t Task) Complete(clock id.Clock, result any) Task {
	if clock == nil {
		clock = id.SystemClock{}
	}
	next := t
	next.Status = StatusCompleted
	next.Result = result
	next.CompletedAt = clock.Now()
	return next
}

// Fail transitions pending|running -> failed with a structured error.
func (t Task) Fail(clock id.Clock, err *agenterr.Error) Task {
	if clock == nil {
		clock = id.SystemClock{}
	}
	next := t
	next.Status = StatusFailed
	next.Error = err
	next.CompletedAt = clock.Now()
	return next
}

// Terminal reports whether the Task has reached a terminal status.
func (t Task) Terminal() bool {
	return t.Status == StatusCompleted || t.Status == StatusFailed
}

// Expired reports whether t's retention window has elapsed as of now, used
// by the cleanup-by-age CLI operation (spec §6).
func (t Task) Expired(now time.Time) bool {
	if t.Retention <= 0 || !t.Terminal() {
		return false
	}
	return now.After(t.CompletedAt.Add(t.Retention))
}

// Repository persists Tasks to a durable Store, keyed per spec §6's layout
// (tasks/<task-id>/task.json).
type Repository struct {
	store store.Store
}

// NewRepository wraps st as a Task repository.
func NewRepository(st store.Store) *Repository {
	return &Repository{store: st}
}

// Save persists t at its well-known key.
func (r *Repository) Save(ctx context.Context, t Task) error {
	return r.store.Write(ctx, store.TaskKeys{TaskID: t.ID}.Task(), t)
}

// Load reads a Task by id.
func (r *Repository) Load(ctx context.Context, id string) (Task, error) {
	var t Task
	err := r.store.Read(ctx, store.TaskKeys{TaskID: id}.Task(), &t)
	return t, err
}

// List returns the ids of every task known to the store. The store layout
// nests each task's files one directory level below "tasks" (tasks/<id>/),
// so this extracts the id from each task.json key rather than treating
// listed keys as ids directly.
func (r *Repository) List(ctx context.Context) ([]string, error) {
	keys, err := r.store.List(ctx, "tasks")
	if err != nil {
		return nil, err
	}

	var ids []string
	for _, k := range keys {
		id, ok := strings.CutSuffix(k, "/task.json")
		if !ok {
			continue
		}
		id = strings.TrimPrefix(id, "tasks/")
		ids = append(ids, id)
	}
	return ids, nil
}

// DeleteExpired removes the durable directory for every terminal task past
// its retention window, returning the ids removed (spec §6 cleanup-by-age).
// fs must be the same backend as the repository's store when it supports
// recursive directory deletion (FileStore); other backends should implement
// their own equivalent cleanup.
func DeleteExpired(ctx context.Context, fs *store.FileStore, tasks []Task, now time.Time) ([]string, error) {
	var removed []string
	for _, t := range tasks {
		if !t.Expired(now) {
			continue
		}
		if err := fs.DeleteDir(ctx, store.TaskKeys{TaskID: t.ID}.Dir()); err != nil {
			return removed, err
		}
		removed = append(removed, t.ID)
	}
	return removed, nil
}
