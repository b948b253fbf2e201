package orchestrator

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corteximus/agentcore/pkg/agenterr"
	"github.com/corteximus/agentcore/pkg/id"
	"github.com/corteximus/agentcore/pkg/state"
	"github.com/corteximus/agentcore/pkg/store"
	"github.com/corteximus/agentcore/pkg/task"
)

func newRepo(t *testing.T) *task.Repository {
	t.Helper()
	fs, err := store.NewFileStore(t.TempDir())
	require.NoError(t, err)
	return task.NewRepository(fs)
}

type funcRunner struct {
	run func(ctx context.Context, t task.Task, s state.State) (state.State, error)
}

func (f funcRunner) Run(ctx context.Context, t task.Task, s state.State) (state.State, error) {
	return f.run(ctx, t, s)
}

func TestSubmit_RunsToCompletionAndPersists(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)

	runner := funcRunner{run: func(ctx context.Context, t task.Task, s state.State) (state.State, error) {
		return state.State{AgentName: t.AgentName, Messages: []state.Message{{Role: state.RoleAssistant, Content: "ok"}}}, nil
	}}

	o := New(repo, id.SystemClock{}, 2, map[string]Runner{"worker": runner})
	taskID, err := o.Submit(ctx, "do work", "worker", state.New("worker", "do work"), 0)
	require.NoError(t, err)

	final, err := o.GetResult(ctx, taskID, 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, task.StatusCompleted, final.Status)

	loaded, err := repo.Load(ctx, taskID)
	require.NoError(t, err)
	assert.Equal(t, task.StatusCompleted, loaded.Status)
}

func TestSubmit_FailedRunnerMarksTaskFailed(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)

	runner := funcRunner{run: func(ctx context.Context, t task.Task, s state.State) (state.State, error) {
		return state.State{}, agenterr.New(agenterr.KindNonRetryable, agenterr.ReasonToolNotFound, "boom")
	}}

	o := New(repo, id.SystemClock{}, 2, map[string]Runner{"worker": runner})
	taskID, err := o.Submit(ctx, "fail", "worker", state.New("worker", "fail"), 0)
	require.NoError(t, err)

	final, err := o.GetResult(ctx, taskID, 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, task.StatusFailed, final.Status)
	require.NotNil(t, final.Error)
	assert.Equal(t, agenterr.ReasonToolNotFound, final.Error.Reason)
}

func TestSubmit_BoundedConcurrencyAndFIFO(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)

	var concurrent int32
	var maxObserved int32
	release := make(chan struct{})
	var order []string
	var mu sync.Mutex

	runner := funcRunner{run: func(ctx context.Context, t task.Task, s state.State) (state.State, error) {
		mu.Lock()
		order = append(order, t.ID)
		mu.Unlock()

		n := atomic.AddInt32(&concurrent, 1)
		for {
			cur := atomic.LoadInt32(&maxObserved)
			if n <= cur || atomic.CompareAndSwapInt32(&maxObserved, cur, n) {
				break
			}
		}
		<-release
		atomic.AddInt32(&concurrent, -1)
		return state.State{}, nil
	}}

	o := New(repo, id.SystemClock{}, 2, map[string]Runner{"worker": runner})

	ids := make([]string, 4)
	for i := range ids {
		id, err := o.Submit(ctx, "t", "worker", state.New("worker", "t"), 0)
		require.NoError(t, err)
		ids[i] = id
	}

	time.Sleep(50 * time.Millisecond)
	assert.LessOrEqual(t, int(atomic.LoadInt32(&concurrent)), 2)

	close(release)

	for _, id := range ids {
		_, err := o.GetResult(ctx, id, 2*time.Second)
		require.NoError(t, err)
	}
	assert.LessOrEqual(t, int(atomic.LoadInt32(&maxObserved)), 2)

	mu.Lock()
	assert.ElementsMatch(t, ids[:2], order[:2], "the first two submissions are admitted first")
	mu.Unlock()
}

func TestCancel_PendingTaskNeverRuns(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)

	block := make(chan struct{})
	var ranSecond bool
	runner := funcRunner{run: func(ctx context.Context, t task.Task, s state.State) (state.State, error) {
		if t.Description == "first" {
			<-block
			return state.State{}, nil
		}
		ranSecond = true
		return state.State{}, nil
	}}

	o := New(repo, id.SystemClock{}, 1, map[string]Runner{"worker": runner})
	_, err := o.Submit(ctx, "first", "worker", state.New("worker", "first"), 0)
	require.NoError(t, err)

	secondID, err := o.Submit(ctx, "second", "worker", state.New("worker", "second"), 0)
	require.NoError(t, err)

	require.NoError(t, o.Cancel(ctx, secondID))
	close(block)

	final, err := o.GetResult(ctx, secondID, 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, task.StatusFailed, final.Status)
	assert.False(t, ranSecond)
}

func TestCancel_RunningTaskPropagatesContextCancellation(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)

	started := make(chan struct{})
	runner := funcRunner{run: func(ctx context.Context, t task.Task, s state.State) (state.State, error) {
		close(started)
		<-ctx.Done()
		return state.State{}, ctx.Err()
	}}

	o := New(repo, id.SystemClock{}, 1, map[string]Runner{"worker": runner})
	taskID, err := o.Submit(ctx, "slow", "worker", state.New("worker", "slow"), 0)
	require.NoError(t, err)

	<-started
	require.NoError(t, o.Cancel(ctx, taskID))

	final, err := o.GetResult(ctx, taskID, 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, task.StatusFailed, final.Status)
}

func TestCancel_OnAlreadyTerminalTaskIsNoopAndDoesNotPanic(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)

	runner := funcRunner{run: func(ctx context.Context, t task.Task, s state.State) (state.State, error) {
		return state.State{AgentName: t.AgentName, Messages: []state.Message{{Role: state.RoleAssistant, Content: "ok"}}}, nil
	}}

	o := New(repo, id.SystemClock{}, 1, map[string]Runner{"worker": runner})
	taskID, err := o.Submit(ctx, "do work", "worker", state.New("worker", "do work"), 0)
	require.NoError(t, err)

	completed, err := o.GetResult(ctx, taskID, 2*time.Second)
	require.NoError(t, err)
	require.Equal(t, task.StatusCompleted, completed.Status)

	// Cancelling after completion must neither panic (double close of
	// e.done) nor clobber the already-recorded result.
	assert.NotPanics(t, func() {
		require.NoError(t, o.Cancel(ctx, taskID))
	})

	final, err := o.GetResult(ctx, taskID, 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, task.StatusCompleted, final.Status)
}
