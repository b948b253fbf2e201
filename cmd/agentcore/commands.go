package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/corteximus/agentcore/pkg/agenterr"
	"github.com/corteximus/agentcore/pkg/config"
	"github.com/corteximus/agentcore/pkg/depgraph"
	"github.com/corteximus/agentcore/pkg/state"
	"github.com/corteximus/agentcore/pkg/store"
	"github.com/corteximus/agentcore/pkg/task"
	"github.com/corteximus/agentcore/pkg/trace"
)

// errBadConfig and errUnknownID are spec §6's "user error" exit-code
// category (bad config, unknown id) when the failure never reached a
// structured *agenterr.Error.
var (
	errBadConfig = errors.New("invalid configuration")
	errUnknownID = errors.New("unknown id")
)

// newCapability builds the CLI's concrete llm.Capability from environment
// credentials (spec §6: the LLM capability is the only dependency on any
// LLM service, supplied by the host process — here, this CLI).
func newCapability(cli *CLI) *OpenAIClient {
	return NewOpenAIClient(OpenAIConfig{
		APIKey:  config.GetProviderAPIKey("openai"),
		BaseURL: cli.OpenAIBaseURL,
	})
}

// SubmitCmd enqueues a new task (spec §6 "submit").
type SubmitCmd struct {
	Agent       string `required:"" help:"Agent, supervisor base, or workflow name to run the task against."`
	Description string `required:"" help:"Task description, seeded as the initial user message."`
	Retention   string `help:"How long to retain the task after completion before it's eligible for cleanup (e.g. 24h). Defaults to the config's orchestrator.default_retention."`
}

func (c *SubmitCmd) Run(ctx context.Context, cli *CLI) error {
	cfg, err := loadConfig(cli.Config)
	if err != nil {
		return err
	}

	a, err := buildApp(ctx, cfg, cli.StoreRoot, newCapability(cli), buildObservability(cli))
	if err != nil {
		return err
	}

	retention := a.defaultRetention
	if c.Retention != "" {
		retention, err = time.ParseDuration(c.Retention)
		if err != nil {
			return fmt.Errorf("%w: invalid --retention: %v", errBadConfig, err)
		}
	}

	seed := state.New(c.Agent, c.Description)
	id, err := a.orch.Submit(ctx, c.Description, c.Agent, seed, retention)
	if err != nil {
		return err
	}

	fmt.Println(id)
	return nil
}

// SubmitBatchCmd analyzes a set of task descriptions into a dependency DAG
// and schedules them layer by layer against a single agent, bounding
// cross-layer concurrency (spec §4.8's dependency analyzer/DAG scheduler,
// given a CLI entry point alongside the other submit forms). Each
// description becomes its own orchestrator task; the scheduler only
// controls submission order and concurrency, not how any one task runs.
type SubmitBatchCmd struct {
	Agent          string   `required:"" help:"Agent, supervisor base, or workflow name to run every task against."`
	Task           []string `arg:"" help:"One or more task descriptions. The dependency analyzer infers produces/consumes edges between them."`
	Retention      string   `help:"Retention for every submitted task; defaults to the config's orchestrator.default_retention."`
	MaxConcurrency int      `help:"Bounds in-flight tasks across the whole batch, not just within a layer. Defaults to the orchestrator's configured capacity." default:"0"`
}

func (c *SubmitBatchCmd) Run(ctx context.Context, cli *CLI) error {
	cfg, err := loadConfig(cli.Config)
	if err != nil {
		return err
	}

	capability := newCapability(cli)
	a, err := buildApp(ctx, cfg, cli.StoreRoot, capability, buildObservability(cli))
	if err != nil {
		return err
	}

	retention := a.defaultRetention
	if c.Retention != "" {
		retention, err = time.ParseDuration(c.Retention)
		if err != nil {
			return fmt.Errorf("%w: invalid --retention: %v", errBadConfig, err)
		}
	}

	specs := make([]depgraph.TaskSpec, len(c.Task))
	descByID := make(map[string]string, len(c.Task))
	for i, desc := range c.Task {
		id := fmt.Sprintf("batch-%d", i)
		specs[i] = depgraph.TaskSpec{ID: id, Description: desc}
		descByID[id] = desc
	}

	graph, err := depgraph.Analyze(ctx, capability, specs)
	if err != nil {
		return err
	}

	maxConcurrency := c.MaxConcurrency
	if maxConcurrency <= 0 {
		maxConcurrency = cfg.Orchestrator.Capacity
	}

	submittedIDs := make(map[string]string, len(specs))
	var submitMu sync.Mutex
	outcomes := depgraph.Schedule(ctx, graph, maxConcurrency, func(ctx context.Context, batchID string) error {
		desc := descByID[batchID]
		seed := state.New(c.Agent, desc)
		taskID, err := a.orch.Submit(ctx, desc, c.Agent, seed, retention)
		if err != nil {
			return err
		}
		submitMu.Lock()
		submittedIDs[batchID] = taskID
		submitMu.Unlock()

		t, err := a.orch.GetResult(ctx, taskID, 0)
		if err != nil {
			return err
		}
		if t.Status == task.StatusFailed {
			if t.Error != nil {
				return t.Error
			}
			return fmt.Errorf("task %s failed", taskID)
		}
		return nil
	})

	report := make(map[string]any, len(outcomes))
	for batchID, outcome := range outcomes {
		entry := map[string]any{"status": outcome.Status, "reason": outcome.Reason}
		if outcome.Err != nil {
			entry["error"] = outcome.Err.Error()
		}
		if taskID, ok := submittedIDs[batchID]; ok {
			entry["task_id"] = taskID
		}
		report[descByID[batchID]] = entry
	}
	return printJSON(report)
}

// ListTasksCmd lists every known task id (spec §6 "list tasks").
type ListTasksCmd struct{}

func (c *ListTasksCmd) Run(ctx context.Context, cli *CLI) error {
	cfg, err := loadConfig(cli.Config)
	if err != nil {
		return err
	}
	a, err := buildApp(ctx, cfg, cli.StoreRoot, newCapability(cli), nil)
	if err != nil {
		return err
	}

	ids, err := a.repo.List(ctx)
	if err != nil {
		return err
	}
	for _, id := range ids {
		fmt.Println(id)
	}
	return nil
}

// ShowTaskCmd prints one task's record as JSON (spec §6 "show task").
type ShowTaskCmd struct {
	TaskID string `arg:"" help:"Task id."`
}

func (c *ShowTaskCmd) Run(ctx context.Context, cli *CLI) error {
	cfg, err := loadConfig(cli.Config)
	if err != nil {
		return err
	}
	a, err := buildApp(ctx, cfg, cli.StoreRoot, newCapability(cli), nil)
	if err != nil {
		return err
	}

	t, err := a.repo.Load(ctx, c.TaskID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("%w: task %q", errUnknownID, c.TaskID)
		}
		return err
	}

	return printJSON(t)
}

// ShowTraceCmd pretty-prints one task's trace log (spec §6 "show trace").
type ShowTraceCmd struct {
	TaskID string `arg:"" help:"Task id."`
}

func (c *ShowTraceCmd) Run(ctx context.Context, cli *CLI) error {
	cfg, err := loadConfig(cli.Config)
	if err != nil {
		return err
	}
	a, err := buildApp(ctx, cfg, cli.StoreRoot, newCapability(cli), nil)
	if err != nil {
		return err
	}

	var log trace.Log
	if err := a.fs.Read(ctx, store.TaskKeys{TaskID: c.TaskID}.Trace(), &log); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("%w: trace for task %q", errUnknownID, c.TaskID)
		}
		return err
	}

	tr := trace.Load(log, nil, a.clock)
	fmt.Print(tr.PrettyPrint())
	return nil
}

// ListCheckpointsCmd lists every checkpoint persisted for a task (spec §6
// "list checkpoints").
type ListCheckpointsCmd struct {
	TaskID string `arg:"" help:"Task id."`
}

func (c *ListCheckpointsCmd) Run(ctx context.Context, cli *CLI) error {
	cfg, err := loadConfig(cli.Config)
	if err != nil {
		return err
	}
	a, err := buildApp(ctx, cfg, cli.StoreRoot, newCapability(cli), nil)
	if err != nil {
		return err
	}

	cps, err := a.cps.List(ctx, c.TaskID)
	if err != nil {
		return err
	}
	return printJSON(cps)
}

// ResumeCmd resumes a checkpointed workflow task, applying a human
// feedback delta (spec §6 "resume checkpoint with feedback").
type ResumeCmd struct {
	TaskID   string `arg:"" help:"Task id."`
	Workflow string `required:"" help:"Workflow name the task was running."`
	Feedback string `help:"JSON object applied as a state.Delta before resuming (e.g. '{\"routing_key\":\"approved\"}')."`
}

func (c *ResumeCmd) Run(ctx context.Context, cli *CLI) error {
	cfg, err := loadConfig(cli.Config)
	if err != nil {
		return err
	}
	a, err := buildApp(ctx, cfg, cli.StoreRoot, newCapability(cli), buildObservability(cli))
	if err != nil {
		return err
	}

	wr, ok := a.workflowRunners[c.Workflow]
	if !ok {
		return fmt.Errorf("%w: workflow %q", errUnknownID, c.Workflow)
	}

	var delta state.Delta
	if c.Feedback != "" {
		if err := json.Unmarshal([]byte(c.Feedback), &delta); err != nil {
			return fmt.Errorf("%w: invalid --feedback JSON: %v", errBadConfig, err)
		}
	}

	result, err := wr.Resume(ctx, c.TaskID, delta)
	if err != nil {
		return err
	}

	t, loadErr := a.repo.Load(ctx, c.TaskID)
	if loadErr == nil {
		if result.Done {
			t = t.Complete(a.clock, result.State)
		}
		_ = a.repo.Save(ctx, t)
	}

	return printJSON(result)
}

// CleanupCmd deletes terminal tasks whose retention window has elapsed
// (spec §6 "cleanup by age").
type CleanupCmd struct{}

func (c *CleanupCmd) Run(ctx context.Context, cli *CLI) error {
	cfg, err := loadConfig(cli.Config)
	if err != nil {
		return err
	}
	a, err := buildApp(ctx, cfg, cli.StoreRoot, newCapability(cli), nil)
	if err != nil {
		return err
	}

	ids, err := a.repo.List(ctx)
	if err != nil {
		return err
	}

	tasks := make([]task.Task, 0, len(ids))
	for _, id := range ids {
		t, err := a.repo.Load(ctx, id)
		if err != nil {
			continue
		}
		tasks = append(tasks, t)
	}

	deleted, err := task.DeleteExpired(ctx, a.fs, tasks, a.clock.Now())
	if err != nil {
		return err
	}
	for _, id := range deleted {
		fmt.Println(id)
	}
	return nil
}

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return agenterr.Wrap(agenterr.KindFatal, agenterr.ReasonSchemaViolation, "encode output", err)
	}
	fmt.Println(string(data))
	return nil
}
