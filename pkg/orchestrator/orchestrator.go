// Package orchestrator implements the bounded-concurrency task
// orchestrator (spec §4.9, C11): a FIFO admission queue gated by a
// semaphore-style capacity limit, a background dispatcher that admits the
// next queued task whenever capacity frees up, and task-result retrieval
// by blocking on a per-task completion signal. Grounded on the lane-based
// queue/dispatch shape in
// _examples/haasonsaas-nexus/internal/infra/queue.go (mutex+cond FIFO with
// a bounded "active" counter and a background drain goroutine), adapted
// from that package's anonymous-closure tasks to this spec's named,
// durable Task records with cancellation propagation and per-task result
// retrieval instead of a blocking Enqueue call.
package orchestrator

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/corteximus/agentcore/pkg/agenterr"
	"github.com/corteximus/agentcore/pkg/id"
	"github.com/corteximus/agentcore/pkg/state"
	"github.com/corteximus/agentcore/pkg/task"
)

// DefaultCapacity bounds how many tasks may run concurrently (spec §4.9).
const DefaultCapacity = 100

// Runner runs one task's unit of work (an agent, a supervisor, or a
// workflow engine) to completion, returning the final State or an error.
type Runner interface {
	Run(ctx context.Context, t task.Task, s state.State) (state.State, error)
}

// MetricsRecorder observes admission-queue depth and running-task count
// (spec §A.7) — the testable invariant of spec §8 is that running-task
// count never exceeds the configured capacity. *observability.Metrics
// satisfies this interface; it is never imported here to keep the
// orchestrator package dependency-free of the observability package.
type MetricsRecorder interface {
	SetQueueDepth(n int)
	SetRunningTasks(n int)
}

type entry struct {
	t        task.Task
	state    state.State
	done     chan struct{}
	cancel   context.CancelFunc
	inFlight bool
}

// Orchestrator admits tasks FIFO, runs up to Capacity of them
// concurrently, and persists every status transition via its Repository.
type Orchestrator struct {
	mu       sync.Mutex
	cond     *sync.Cond
	queue    []string
	active   int
	capacity int
	draining bool

	repo    *task.Repository
	clock   id.Clock
	runners map[string]Runner
	metrics MetricsRecorder

	entries map[string]*entry
}

// New builds an Orchestrator. runners maps an agent name (spec §3's
// AgentName) to the Runner that executes tasks for it.
func New(repo *task.Repository, clock id.Clock, capacity int, runners map[string]Runner) *Orchestrator {
	if clock == nil {
		clock = id.SystemClock{}
	}
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	o := &Orchestrator{
		capacity: capacity,
		repo:     repo,
		clock:    clock,
		runners:  runners,
		entries:  make(map[string]*entry),
	}
	o.cond = sync.NewCond(&o.mu)
	return o
}

// SetMetrics installs a MetricsRecorder that observes queue depth and
// running-task count from this point on.
func (o *Orchestrator) SetMetrics(m MetricsRecorder) {
	o.mu.Lock()
	o.metrics = m
	o.mu.Unlock()
}

// recordQueueDepth reports the current queue length. Callers must hold o.mu.
func (o *Orchestrator) recordQueueDepth() {
	if o.metrics != nil {
		o.metrics.SetQueueDepth(len(o.queue))
	}
}

// recordRunningTasks reports the current active count. Callers must hold o.mu.
func (o *Orchestrator) recordRunningTasks() {
	if o.metrics != nil {
		o.metrics.SetRunningTasks(o.active)
	}
}

// Submit enqueues a new pending Task and returns its id immediately; the
// task runs asynchronously once FIFO order and capacity admit it (spec
// §4.9).
func (o *Orchestrator) Submit(ctx context.Context, description, agentName string, seed state.State, retention time.Duration) (string, error) {
	if _, ok := o.runners[agentName]; !ok {
		return "", agenterr.New(agenterr.KindNonRetryable, agenterr.ReasonToolNotFound, "no runner registered for agent").WithNode(agentName)
	}

	t := task.New(o.clock, description, agentName, "", retention)
	if err := o.repo.Save(ctx, t); err != nil {
		return "", err
	}

	o.mu.Lock()
	o.entries[t.ID] = &entry{t: t, state: seed, done: make(chan struct{})}
	o.queue = append(o.queue, t.ID)
	o.recordQueueDepth()
	if !o.draining {
		o.draining = true
		go o.dispatchLoop()
	}
	o.mu.Unlock()

	return t.ID, nil
}

// dispatchLoop admits the next FIFO entry whenever capacity allows,
// running until the queue drains.
func (o *Orchestrator) dispatchLoop() {
	for {
		o.mu.Lock()
		for o.active >= o.capacity && len(o.queue) > 0 {
			o.cond.Wait()
		}
		if len(o.queue) == 0 {
			o.draining = false
			o.mu.Unlock()
			return
		}

		taskID := o.queue[0]
		o.queue = o.queue[1:]
		o.recordQueueDepth()
		e, ok := o.entries[taskID]
		if !ok {
			o.mu.Unlock()
			continue
		}
		o.active++
		o.recordRunningTasks()
		runCtx, cancel := context.WithCancel(context.Background())
		e.cancel = cancel
		e.inFlight = true
		o.mu.Unlock()

		go o.run(runCtx, e)
	}
}

func (o *Orchestrator) run(ctx context.Context, e *entry) {
	defer func() {
		o.mu.Lock()
		o.active--
		o.recordRunningTasks()
		e.inFlight = false
		o.cond.Broadcast()
		o.mu.Unlock()
	}()

	started := e.t.Start(o.clock)
	o.saveEntry(ctx, e, started)

	runner := o.runners[e.t.AgentName]
	finalState, err := runner.Run(ctx, started, e.state)

	o.mu.Lock()
	current := e.t
	o.mu.Unlock()

	var finished task.Task
	if err != nil {
		structured, ok := agenterr.Of(err)
		switch {
		case ok:
			// use as-is
		case errors.Is(err, context.Canceled):
			structured = agenterr.Wrap(agenterr.KindCancelled, agenterr.ReasonCancelled, "task run cancelled", err)
		default:
			structured = agenterr.Wrap(agenterr.KindFatal, agenterr.ReasonStoreIO, "unstructured runner error", err)
		}
		finished = current.Fail(o.clock, structured)
	} else {
		finished = current.Complete(o.clock, finalState)
	}

	o.mu.Lock()
	e.state = finalState
	o.mu.Unlock()
	o.saveEntry(ctx, e, finished)
	close(e.done)
}

func (o *Orchestrator) saveEntry(ctx context.Context, e *entry, t task.Task) {
	o.mu.Lock()
	e.t = t
	o.mu.Unlock()
	_ = o.repo.Save(ctx, t)
}

// GetResult blocks until taskID reaches a terminal status or timeout
// elapses (spec §4.9 get_task_result(id, timeout)). timeout <= 0 waits
// indefinitely (bounded only by ctx).
func (o *Orchestrator) GetResult(ctx context.Context, taskID string, timeout time.Duration) (task.Task, error) {
	o.mu.Lock()
	e, ok := o.entries[taskID]
	o.mu.Unlock()
	if !ok {
		return o.repo.Load(ctx, taskID)
	}

	var timeoutCh <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		timeoutCh = timer.C
	}

	select {
	case <-e.done:
		o.mu.Lock()
		t := e.t
		o.mu.Unlock()
		return t, nil
	case <-ctx.Done():
		return task.Task{}, agenterr.Wrap(agenterr.KindCancelled, agenterr.ReasonCancelled, "get_task_result cancelled", ctx.Err()).WithTask(taskID)
	case <-timeoutCh:
		return task.Task{}, agenterr.New(agenterr.KindTransient, agenterr.ReasonTimeout, "get_task_result timed out").WithTask(taskID)
	}
}

// Cancel drops a pending task as failed immediately, or propagates
// cancellation to a running one so in-flight tool calls abort at the next
// safe boundary (spec §4.9). Cancelling a task that has already reached a
// terminal status is a no-op: its done channel is already closed and its
// recorded result must not be overwritten.
func (o *Orchestrator) Cancel(ctx context.Context, taskID string) error {
	o.mu.Lock()
	e, ok := o.entries[taskID]
	if !ok {
		o.mu.Unlock()
		return agenterr.New(agenterr.KindNonRetryable, agenterr.ReasonToolNotFound, "unknown task").WithTask(taskID)
	}

	if e.t.Terminal() {
		o.mu.Unlock()
		return nil
	}

	if e.inFlight {
		cancel := e.cancel
		o.mu.Unlock()
		if cancel != nil {
			cancel()
		}
		return nil
	}

	// Still pending: remove from the FIFO queue and fail it directly —
	// dispatchLoop never gets a chance to admit it.
	for i, id := range o.queue {
		if id == taskID {
			o.queue = append(o.queue[:i], o.queue[i+1:]...)
			o.recordQueueDepth()
			break
		}
	}
	cancelled := e.t.Fail(o.clock, agenterr.New(agenterr.KindCancelled, agenterr.ReasonCancelled, "task cancelled before admission"))
	e.t = cancelled
	o.mu.Unlock()

	_ = o.repo.Save(ctx, cancelled)
	close(e.done)
	return nil
}
