// Bootstrap wires a loaded config.Config into a running set of components:
// durable store, checkpoint manager, tool manager (with every configured
// server registered), per-agent and per-supervisor runners, and the
// bounded-concurrency orchestrator they run under. Grounded on the
// teacher's own serve-command wiring shape
// (_examples/kadirpekel-hector/cmd/hector/main.go's ServeCmd.Run, which
// builds a runtime.Runtime from a loaded config.Config step by step)
// without its A2A server/session machinery, since this CLI drives the
// core directly rather than fronting it with an HTTP service.
package main

import (
	"context"
	"fmt"
	"time"

	"github.com/corteximus/agentcore/pkg/agent"
	"github.com/corteximus/agentcore/pkg/checkpoint"
	"github.com/corteximus/agentcore/pkg/config"
	"github.com/corteximus/agentcore/pkg/id"
	"github.com/corteximus/agentcore/pkg/llm"
	"github.com/corteximus/agentcore/pkg/observability"
	"github.com/corteximus/agentcore/pkg/orchestrator"
	"github.com/corteximus/agentcore/pkg/ratelimit"
	"github.com/corteximus/agentcore/pkg/state"
	"github.com/corteximus/agentcore/pkg/store"
	"github.com/corteximus/agentcore/pkg/supervisor"
	"github.com/corteximus/agentcore/pkg/task"
	"github.com/corteximus/agentcore/pkg/tokens"
	"github.com/corteximus/agentcore/pkg/tool"
	"github.com/corteximus/agentcore/pkg/tool/eventstream"
	"github.com/corteximus/agentcore/pkg/tool/manager"
	"github.com/corteximus/agentcore/pkg/tool/stdio"
	"github.com/corteximus/agentcore/pkg/trace"
	"github.com/corteximus/agentcore/pkg/workflow"
)

// app bundles every long-lived component the CLI's commands operate
// against, built once per invocation from the loaded Config.
type app struct {
	cfg   *config.Config
	fs    *store.FileStore
	repo  *task.Repository
	cps   *checkpoint.Manager
	tools *manager.Manager
	clock id.Clock

	orch             *orchestrator.Orchestrator
	obs              *observability.Manager
	defaultRetention time.Duration

	agentDescriptors map[string]agent.Descriptor
	workflowRunners  map[string]*workflowRunner
}

// buildApp wires every component per cfg, registering tool servers and
// constructing one Runner per configured agent/supervisor/workflow name so
// the orchestrator (C11) can dispatch submitted tasks by agent name (spec
// §4.9).
func buildApp(ctx context.Context, cfg *config.Config, storeRoot string, capability llm.Capability, obsCfg *observability.Config) (*app, error) {
	fs, err := store.NewFileStore(storeRoot)
	if err != nil {
		return nil, fmt.Errorf("open store root %q: %w", storeRoot, err)
	}

	clock := id.SystemClock{}
	repo := task.NewRepository(fs)
	cps := checkpoint.NewManager(fs, clock)
	tools := manager.New(buildFallbackPolicy(cfg.ToolOverrides))
	timeouts, err := buildTimeoutPolicy(cfg.ToolOverrides)
	if err != nil {
		return nil, err
	}
	tools.SetTimeouts(timeouts)

	var obsMgr *observability.Manager
	if obsCfg != nil {
		obsMgr, err = observability.NewManager(ctx, *obsCfg)
		if err != nil {
			return nil, fmt.Errorf("build observability manager: %w", err)
		}
		tools.SetRecorder(obsMgr.Metrics)
		cps.SetRecorder(obsMgr.Metrics)
	}

	for _, sd := range cfg.Servers {
		t, err := connectServer(ctx, sd)
		if err != nil {
			return nil, fmt.Errorf("connect server %q: %w", sd.Name, err)
		}
		if err := tools.Register(ctx, sd.Name, t); err != nil {
			return nil, fmt.Errorf("register server %q: %w", sd.Name, err)
		}
	}

	limiter := ratelimit.New(ratelimit.Config{})

	descriptors := make(map[string]agent.Descriptor, len(cfg.Agents))
	for _, ad := range cfg.Agents {
		descriptors[ad.Name] = toAgentDescriptor(ad)
	}

	counter := tokens.NewCounter()
	runners := make(map[string]orchestrator.Runner, len(cfg.Agents)+len(cfg.Supervisors)+len(cfg.Workflows))

	for _, ad := range cfg.Agents {
		desc := descriptors[ad.Name]
		limitedCap := ratelimit.Limit(capability, limiter, ad.Name)
		a := agent.New(desc, limitedCap, tools, counter, clock)
		runners[ad.Name] = &agentRunner{agent: a, fs: fs, clock: clock}
	}

	for _, sd := range cfg.Supervisors {
		base, ok := descriptors[sd.Base]
		if !ok {
			return nil, fmt.Errorf("supervisor references unknown base agent %q", sd.Base)
		}
		roster := make([]supervisor.SubAgent, 0, len(sd.Roster))
		for _, ra := range sd.Roster {
			rdesc, ok := descriptors[ra.Agent]
			if !ok {
				return nil, fmt.Errorf("supervisor roster entry %q references unknown agent %q", ra.Name, ra.Agent)
			}
			roster = append(roster, supervisor.SubAgent{Name: ra.Name, Descriptor: rdesc, ToolAllowList: ra.ToolAllowList})
		}
		limitedCap := ratelimit.Limit(capability, limiter, sd.Base)

		// The base agent's ToolExecutor must be the Supervisor itself, so
		// its catalogue advertises the roster's synthetic sub-agent tools
		// and its dispatch intercepts them (spec §4.6) — but Supervisor.New
		// requires an already-built base Agent. proxy breaks that cycle: it
		// is handed to agent.New first and only points at the real
		// Supervisor once New returns.
		proxy := &supervisorExecutorProxy{}
		baseAgent := agent.New(base, limitedCap, proxy, counter, clock)
		sup := supervisor.New(baseAgent, roster, tools, limitedCap, sd.SummaryBudget, sd.MaxDepth)
		proxy.sup = sup

		runners[sd.Base] = &agentRunner{agent: baseAgent, fs: fs, clock: clock}
	}

	workflowRunners := make(map[string]*workflowRunner, len(cfg.Workflows))
	for _, wd := range cfg.Workflows {
		def := toWorkflowDefinition(wd)
		if err := def.Validate(); err != nil {
			return nil, fmt.Errorf("workflow %q: %w", wd.Name, err)
		}
		wr := &workflowRunner{def: def, tools: tools, agents: descriptors, capability: capability, limiter: limiter, cps: cps, fs: fs, clock: clock}
		runners[wd.Name] = wr
		workflowRunners[wd.Name] = wr
	}

	orch := orchestrator.New(repo, clock, cfg.Orchestrator.Capacity, runners)
	if obsMgr != nil {
		orch.SetMetrics(obsMgr.Metrics)
	}

	var defaultRetention time.Duration
	if cfg.Orchestrator.DefaultRetention != "" {
		defaultRetention, err = time.ParseDuration(cfg.Orchestrator.DefaultRetention)
		if err != nil {
			return nil, fmt.Errorf("parse orchestrator.default_retention: %w", err)
		}
	}

	return &app{
		cfg:              cfg,
		fs:               fs,
		repo:             repo,
		cps:              cps,
		tools:            tools,
		clock:            clock,
		orch:             orch,
		obs:              obsMgr,
		defaultRetention: defaultRetention,
		agentDescriptors: descriptors,
		workflowRunners:  workflowRunners,
	}, nil
}

func buildFallbackPolicy(overrides []config.ToolOverride) manager.FallbackPolicy {
	policy := make(manager.FallbackPolicy, len(overrides))
	for _, o := range overrides {
		policy[o.Tool] = o.Fallbacks
	}
	return policy
}

func buildTimeoutPolicy(overrides []config.ToolOverride) (manager.TimeoutPolicy, error) {
	policy := make(manager.TimeoutPolicy, len(overrides))
	for _, o := range overrides {
		if o.Timeout == "" {
			continue
		}
		d, err := time.ParseDuration(o.Timeout)
		if err != nil {
			return nil, fmt.Errorf("%w: tool %q timeout %q: %v", errBadConfig, o.Tool, o.Timeout, err)
		}
		policy[o.Tool] = d
	}
	return policy, nil
}

func toAgentDescriptor(ad config.AgentDescriptor) agent.Descriptor {
	return agent.Descriptor{
		Name:          ad.Name,
		SystemPrompt:  ad.SystemPrompt,
		Model:         ad.Model,
		MaxIterations: ad.MaxIterations,
		ToolAllowList: ad.ToolAllowList,
		ContextLimit:  ad.ContextLimit,
	}
}

func toWorkflowDefinition(wd config.WorkflowDefinition) workflow.Definition {
	nodes := make(map[string]workflow.Node, len(wd.Nodes))
	for name, n := range wd.Nodes {
		nodes[name] = workflow.Node{
			Kind:            workflow.NodeKind(n.Kind),
			Agent:           n.Agent,
			Tool:            n.Tool,
			InterruptBefore: n.InterruptBefore,
		}
	}
	edges := make([]workflow.Edge, 0, len(wd.Edges))
	for _, e := range wd.Edges {
		edges = append(edges, workflow.Edge{From: e.From, To: e.To, RoutingMap: e.RoutingMap})
	}
	checkpoints := make(map[string]bool, len(wd.Checkpoints))
	for _, c := range wd.Checkpoints {
		checkpoints[c] = true
	}
	return workflow.Definition{
		Name:               wd.Name,
		Nodes:              nodes,
		Edges:              edges,
		Entry:              wd.Entry,
		Checkpoints:        checkpoints,
		GlobalIterationCap: wd.GlobalIterationCap,
	}
}

// connectServer dials the transport named by sd.Transport (spec §6's
// "stdio"/"eventstream" whitelist — already enforced at config.Validate
// time).
func connectServer(ctx context.Context, sd config.ServerDescriptor) (tool.Transport, error) {
	switch sd.Transport {
	case "stdio":
		return stdio.Connect(ctx, stdio.Config{Server: sd.Name, Command: sd.Command, Args: sd.Args, Env: sd.Env})
	case "eventstream":
		return eventstream.Connect(ctx, eventstream.Config{Server: sd.Name, URL: sd.URL})
	default:
		return nil, fmt.Errorf("unsupported transport %q", sd.Transport)
	}
}

// supervisorExecutorProxy forwards agent.ToolExecutor calls to a
// Supervisor set after construction, breaking the base-agent/Supervisor
// initialization cycle (see buildApp).
type supervisorExecutorProxy struct {
	sup *supervisor.Supervisor
}

func (p *supervisorExecutorProxy) Catalogue(allowList []string) []tool.Descriptor {
	return p.sup.Catalogue(allowList)
}

func (p *supervisorExecutorProxy) Execute(ctx context.Context, call tool.Call, allowList []string, tr *trace.Tracer) (tool.Result, error) {
	return p.sup.Execute(ctx, call, allowList, tr)
}

// agentRunner adapts a single agent.Agent — whether a plain agent or a
// supervisor's base agent wired with a supervisorExecutorProxy — to the
// orchestrator's Runner interface, building a fresh per-task Tracer (spec
// §6's persisted trace key).
type agentRunner struct {
	agent *agent.Agent
	fs    *store.FileStore
	clock id.Clock
}

func (r *agentRunner) Run(ctx context.Context, t task.Task, s state.State) (state.State, error) {
	tr := trace.New(t.ID, r.fs, r.clock)
	return r.agent.Run(ctx, s, state.NewRegistry(), tr)
}

// workflowRunner adapts a workflow.Engine to the orchestrator's Runner
// interface (spec §4.9's Runner being "an agent, a supervisor, or a
// workflow engine").
type workflowRunner struct {
	def        workflow.Definition
	tools      *manager.Manager
	agents     map[string]agent.Descriptor
	capability llm.Capability
	limiter    *ratelimit.Limiter
	cps        *checkpoint.Manager
	fs         *store.FileStore
	clock      id.Clock
}

func (r *workflowRunner) Run(ctx context.Context, t task.Task, s state.State) (state.State, error) {
	tr := trace.New(t.ID, r.fs, r.clock)
	engine := workflow.New(r.def, &workflowAgentRunner{r: r}, &workflowToolRunner{tools: r.tools}, r.cps, state.NewRegistry())

	result, err := engine.Run(ctx, t.ID, s, tr)
	return result.State, err
}

// Resume continues a previously interrupted workflow run from its latest
// checkpoint (spec §6's "resume checkpoint with feedback" CLI operation).
func (r *workflowRunner) Resume(ctx context.Context, taskID string, feedback state.Delta) (workflow.Result, error) {
	engine := workflow.New(r.def, &workflowAgentRunner{r: r}, &workflowToolRunner{tools: r.tools}, r.cps, state.NewRegistry())

	var log trace.Log
	var tr *trace.Tracer
	if err := r.fs.Read(ctx, store.TaskKeys{TaskID: taskID}.Trace(), &log); err == nil {
		tr = trace.Load(log, r.fs, r.clock)
	} else {
		tr = trace.New(taskID, r.fs, r.clock)
	}

	return engine.Resume(ctx, taskID, feedback, tr)
}

type workflowAgentRunner struct {
	r *workflowRunner
}

func (w *workflowAgentRunner) RunAgent(ctx context.Context, agentName string, s state.State, tr *trace.Tracer) (state.State, error) {
	desc, ok := w.r.agents[agentName]
	if !ok {
		return s, fmt.Errorf("workflow node references unknown agent %q", agentName)
	}
	limitedCap := ratelimit.Limit(w.r.capability, w.r.limiter, agentName)
	a := agent.New(desc, limitedCap, w.r.tools, tokens.NewCounter(), w.r.clock)
	return a.Run(ctx, s, state.NewRegistry(), tr)
}

type workflowToolRunner struct {
	tools *manager.Manager
}

func (w *workflowToolRunner) RunTool(ctx context.Context, toolName string, args map[string]any, tr *trace.Tracer) (tool.Result, error) {
	return w.tools.Execute(ctx, tool.Call{Tool: toolName, Args: args}, nil, tr)
}
