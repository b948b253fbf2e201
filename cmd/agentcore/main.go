// Command agentcore is the CLI front-end for the orchestration core (spec
// §6 "Process-level controls exposed to the outer CLI"): submit, list
// tasks, show task, show trace, list checkpoints, resume checkpoint with
// feedback, cleanup by age. Grounded on the teacher's kong-based command
// structure (_examples/kadirpekel-hector/cmd/hector/main.go's CLI struct
// of `cmd:""`-tagged fields, each with its own Run(cli *CLI) error), with
// a far smaller flag surface than the teacher's ServeCmd since this core
// has no RAG/plugin/studio-mode surface to expose.
//
// Usage:
//
//	agentcore submit --agent writer --description "draft a memo"
//	agentcore list-tasks
//	agentcore show-task <task-id>
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"

	"github.com/corteximus/agentcore/pkg/agenterr"
	"github.com/corteximus/agentcore/pkg/config"
	"github.com/corteximus/agentcore/pkg/logger"
	"github.com/corteximus/agentcore/pkg/observability"
)

// Exit codes per spec §6.
const (
	exitSuccess     = 0
	exitUserError   = 1
	exitInternalErr = 2
	exitCancelled   = 3
)

// CLI is the top-level command set.
type CLI struct {
	Submit          SubmitCmd          `cmd:"" help:"Submit a new task to an agent, supervisor, or workflow."`
	SubmitBatch     SubmitBatchCmd     `cmd:"" help:"Analyze task descriptions into a dependency DAG and schedule them against one agent."`
	ListTasks       ListTasksCmd       `cmd:"" help:"List known task ids."`
	ShowTask        ShowTaskCmd        `cmd:"" help:"Show one task's record."`
	ShowTrace       ShowTraceCmd       `cmd:"" help:"Pretty-print one task's trace log."`
	ListCheckpoints ListCheckpointsCmd `cmd:"" help:"List checkpoints persisted for a task."`
	Resume          ResumeCmd          `cmd:"" help:"Resume a checkpointed workflow task with human feedback."`
	Cleanup         CleanupCmd         `cmd:"" help:"Delete terminal tasks older than a retention age."`

	Config    string `short:"c" help:"Path to YAML config file." type:"path" required:""`
	StoreRoot string `help:"Root directory for persisted task/trace/checkpoint state." type:"path" default:"./agentcore-data"`
	LogLevel  string `help:"Log level (debug, info, warn, error)." default:"info"`
	LogFormat string `help:"Log format (simple or verbose)." default:"simple"`

	OpenAIBaseURL string `help:"Base URL for the OpenAI-chat-completions-compatible endpoint." default:"https://api.openai.com/v1"`

	MetricsNamespace string `help:"Prometheus metrics namespace; empty disables observability wiring."`
}

func main() {
	var cli CLI
	parser := kong.Parse(&cli,
		kong.Name("agentcore"),
		kong.Description("CLI front-end for the bounded-concurrency multi-agent orchestration core."),
		kong.UsageOnError(),
	)

	level, err := logger.ParseLevel(cli.LogLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitUserError)
	}
	logger.Init(level, os.Stderr, cli.LogFormat)

	if err := config.LoadEnvFiles(); err != nil {
		slog.Warn("no .env file loaded", "error", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	err = parser.Run(ctx, &cli)
	if err == nil {
		os.Exit(exitSuccess)
	}
	os.Exit(exitCodeFor(err))
}

// exitCodeFor maps an error returned from a command's Run to spec §6's
// exit code contract: 0 success (handled above), 1 user error, 2 internal
// error, 3 cancellation.
func exitCodeFor(err error) int {
	slog.Error("command failed", "error", err)

	if structured, ok := agenterr.Of(err); ok {
		switch structured.Kind {
		case agenterr.KindCancelled:
			return exitCancelled
		case agenterr.KindNonRetryable:
			return exitUserError
		default:
			return exitInternalErr
		}
	}

	if errors.Is(err, errBadConfig) || errors.Is(err, errUnknownID) {
		return exitUserError
	}

	return exitInternalErr
}

// loadConfig reads and validates the YAML config at path (spec §6's
// "Configuration inputs (validated records supplied by an external
// loader)").
func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.LoadConfig(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errBadConfig, err)
	}
	return cfg, nil
}

// buildObservability returns nil (disabled) unless cli.MetricsNamespace is
// set — the CLI treats observability wiring as opt-in, matching
// pkg/observability's own zero-overhead-when-absent design.
func buildObservability(cli *CLI) *observability.Config {
	if cli.MetricsNamespace == "" {
		return nil
	}
	return &observability.Config{
		ServiceName:      "agentcore",
		SampleTraces:     false,
		MetricsNamespace: cli.MetricsNamespace,
	}
}
