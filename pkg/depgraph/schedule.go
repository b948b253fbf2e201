package depgraph

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// Status is the terminal state of one task in a scheduled run.
type Status string

const (
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusSkipped   Status = "skipped"
)

// Outcome records one task's terminal Status, keyed by task ID.
type Outcome struct {
	Status Status
	Reason string
	Err    error
}

// Submitter runs one task to completion; used by Schedule to dispatch a
// task ID once its layer is released.
type Submitter func(ctx context.Context, taskID string) error

// Schedule submits g's tasks layer by layer, awaiting every task in a
// layer before releasing the next (spec §4.8), bounding in-flight
// concurrency with maxConcurrency via golang.org/x/sync/semaphore — the
// same package the teacher's pool-based dispatch uses
// (_examples/kadirpekel-hector/pkg/orchestrator or similar worker-pool
// code) for bounded parallel fan-out, adopted here because this spec's
// concurrency bound applies across, not just within, a layer. A task whose
// direct or transitive predecessor failed is marked Skipped (not Failed,
// spec §4.8) with a Reason naming the failed predecessor, and is never
// submitted.
func Schedule(ctx context.Context, g Graph, maxConcurrency int, submit Submitter) map[string]Outcome {
	if maxConcurrency <= 0 {
		maxConcurrency = len(g.Nodes)
		if maxConcurrency == 0 {
			maxConcurrency = 1
		}
	}

	layers := Layers(g)
	outcomes := make(map[string]Outcome, len(g.Nodes))
	var mu sync.Mutex

	predecessors := make(map[string][]string, len(g.Nodes))
	for from, tos := range g.Edges {
		for _, to := range tos {
			predecessors[to] = append(predecessors[to], from)
		}
	}

	sem := semaphore.NewWeighted(int64(maxConcurrency))

	for _, layer := range layers {
		grp, grpCtx := errgroup.WithContext(ctx)

		for _, taskID := range layer {
			taskID := taskID

			if failedPred, skip := failedPredecessor(taskID, predecessors, outcomes); skip {
				mu.Lock()
				outcomes[taskID] = Outcome{Status: StatusSkipped, Reason: fmt.Sprintf("predecessor %q failed", failedPred)}
				mu.Unlock()
				continue
			}

			grp.Go(func() error {
				if err := sem.Acquire(grpCtx, 1); err != nil {
					mu.Lock()
					outcomes[taskID] = Outcome{Status: StatusFailed, Err: err}
					mu.Unlock()
					return nil
				}
				defer sem.Release(1)

				err := submit(grpCtx, taskID)

				mu.Lock()
				if err != nil {
					outcomes[taskID] = Outcome{Status: StatusFailed, Err: err}
				} else {
					outcomes[taskID] = Outcome{Status: StatusCompleted}
				}
				mu.Unlock()
				return nil
			})
		}

		_ = grp.Wait()
	}

	return outcomes
}

// failedPredecessor reports whether taskID has a direct predecessor that
// already failed or was skipped, and if so, which one — used to propagate
// skip status transitively as later layers are reached.
func failedPredecessor(taskID string, predecessors map[string][]string, outcomes map[string]Outcome) (string, bool) {
	for _, pred := range predecessors[taskID] {
		if o, ok := outcomes[pred]; ok && (o.Status == StatusFailed || o.Status == StatusSkipped) {
			return pred, true
		}
	}
	return "", false
}
