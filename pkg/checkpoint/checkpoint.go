// Package checkpoint implements the immutable, strictly-increasing
// checkpoint log the workflow engine (C9) uses for interrupt/resume (spec
// §3, §9). Grounded on the teacher's checkpoint manager
// (_examples/kadirpekel-hector/pkg/checkpoint/manager.go), which tags a
// Phase before saving from a set of lifecycle hooks (BeforeLLMCall,
// AfterToolExecution, OnIterationEnd, OnError, OnComplete, ...); this
// package keeps that "tag a phase, then save" shape but narrows the phase
// set to what the workflow engine actually needs, since the reasoning loop
// itself does not checkpoint (only workflow nodes do, per spec §4.6).
package checkpoint

import (
	"context"
	"strings"
	"sync"

	"github.com/corteximus/agentcore/pkg/agenterr"
	"github.com/corteximus/agentcore/pkg/id"
	"github.com/corteximus/agentcore/pkg/state"
	"github.com/corteximus/agentcore/pkg/store"
)

// Phase identifies why a checkpoint was taken — supplementary to the core
// spec's Checkpoint record, useful for the CLI's "list checkpoints" view
// and for debugging resume behavior.
type Phase string

const (
	PhaseInterruptBefore Phase = "interrupt_before"
	PhaseHumanNode       Phase = "human_node"
	PhaseError           Phase = "error"
)

// Checkpoint is an immutable, numbered snapshot of State and current
// workflow position (spec §3). Checkpoints are never modified after
// creation; only new ones are appended (spec §5 invariants).
type Checkpoint struct {
	ID             string      `json:"id"`
	TaskID         string      `json:"task_id"`
	State          state.State `json:"state"`
	CurrentNode    string      `json:"current_node"`
	Sequence       int         `json:"sequence"`
	Phase          Phase       `json:"phase"`
	AwaitingHuman  bool        `json:"awaiting_human"`
	Timestamp      string      `json:"timestamp"`
}

// Recorder observes every checkpoint write (spec §A.7).
// *observability.Metrics satisfies this interface; it is never imported
// here to keep this package dependency-free of the observability package.
type Recorder interface {
	RecordCheckpoint()
}

// Manager owns the strictly-increasing per-task sequence counter and
// persists each Checkpoint to the durable store at its well-known key
// (spec §6: tasks/<task-id>/checkpoint_<NNN>.json).
type Manager struct {
	store store.Store
	clock id.Clock

	mu       sync.Mutex
	next     map[string]int // taskID -> next sequence number
	recorder Recorder
}

// NewManager builds a checkpoint Manager writing through st.
func NewManager(st store.Store, clock id.Clock) *Manager {
	if clock == nil {
		clock = id.SystemClock{}
	}
	return &Manager{store: st, clock: clock, next: make(map[string]int)}
}

// SetRecorder installs a Recorder that observes every checkpoint write
// from this point on.
func (m *Manager) SetRecorder(r Recorder) {
	m.mu.Lock()
	m.recorder = r
	m.mu.Unlock()
}

// Save assigns the next sequence number for taskID and persists a new
// Checkpoint. Sequence numbers start at 0 and are strictly increasing with
// no gaps per task (spec §5 invariant).
func (m *Manager) Save(ctx context.Context, taskID, currentNode string, s state.State, phase Phase, awaitingHuman bool) (Checkpoint, error) {
	m.mu.Lock()
	seq := m.next[taskID]
	m.next[taskID] = seq + 1
	m.mu.Unlock()

	cp := Checkpoint{
		ID:            id.New(),
		TaskID:        taskID,
		State:         s,
		CurrentNode:   currentNode,
		Sequence:      seq,
		Phase:         phase,
		AwaitingHuman: awaitingHuman,
		Timestamp:     m.clock.Now().UTC().Format("2006-01-02T15:04:05.000Z07:00"),
	}

	key := store.TaskKeys{TaskID: taskID}.Checkpoint(seq)
	if err := m.store.Write(ctx, key, cp); err != nil {
		return cp, agenterr.Wrap(agenterr.KindFatal, agenterr.ReasonStoreIO, "save checkpoint", err).WithTask(taskID)
	}

	m.mu.Lock()
	recorder := m.recorder
	m.mu.Unlock()
	if recorder != nil {
		recorder.RecordCheckpoint()
	}

	return cp, nil
}

// Latest loads the highest-sequence checkpoint persisted for taskID, the
// one resume operates against. It lists the task's directory in the store
// and takes the lexically greatest checkpoint key, so a process that
// created the Manager fresh (e.g. a CLI invocation) still finds it; the
// in-memory next-sequence counter is then raised past that checkpoint.
func (m *Manager) Latest(ctx context.Context, taskID string) (Checkpoint, error) {
	keys, err := m.store.List(ctx, store.TaskKeys{TaskID: taskID}.Dir())
	if err != nil {
		return Checkpoint{}, agenterr.Wrap(agenterr.KindFatal, agenterr.ReasonStoreIO, "list checkpoints", err).WithTask(taskID)
	}

	var latestKey string
	for _, k := range keys {
		if !isCheckpointKey(k) {
			continue
		}
		if k > latestKey {
			latestKey = k
		}
	}
	if latestKey == "" {
		return Checkpoint{}, agenterr.New(agenterr.KindNonRetryable, agenterr.ReasonCheckpointCorruption, "no checkpoint found").WithTask(taskID)
	}

	var cp Checkpoint
	if err := m.store.Read(ctx, latestKey, &cp); err != nil {
		return Checkpoint{}, agenterr.Wrap(agenterr.KindFatal, agenterr.ReasonCheckpointCorruption, "read checkpoint", err).WithTask(taskID)
	}

	m.mu.Lock()
	if cp.Sequence+1 > m.next[taskID] {
		m.next[taskID] = cp.Sequence + 1
	}
	m.mu.Unlock()

	return cp, nil
}

// List returns every checkpoint persisted for taskID, in sequence order.
func (m *Manager) List(ctx context.Context, taskID string) ([]Checkpoint, error) {
	keys, err := m.store.List(ctx, store.TaskKeys{TaskID: taskID}.Dir())
	if err != nil {
		return nil, agenterr.Wrap(agenterr.KindFatal, agenterr.ReasonStoreIO, "list checkpoints", err).WithTask(taskID)
	}

	var out []Checkpoint
	for _, k := range keys {
		if !isCheckpointKey(k) {
			continue
		}
		var cp Checkpoint
		if err := m.store.Read(ctx, k, &cp); err != nil {
			return nil, agenterr.Wrap(agenterr.KindFatal, agenterr.ReasonCheckpointCorruption, "read checkpoint", err).WithTask(taskID)
		}
		out = append(out, cp)
	}
	return out, nil
}

func isCheckpointKey(key string) bool {
	return strings.Contains(key, "/checkpoint_") && strings.HasSuffix(key, ".json")
}
