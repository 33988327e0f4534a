package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/alecthomas/kong"
	"github.com/redis/go-redis/v9"

	"github.com/grunted/grunts/internal/config"
	"github.com/grunted/grunts/internal/conversation"
	"github.com/grunted/grunts/internal/dashboard"
	"github.com/grunted/grunts/internal/llm"
	. "github.com/grunted/grunts/internal/logging"
	"github.com/grunted/grunts/internal/orchestrator"
	"github.com/grunted/grunts/internal/pipeline"
	"github.com/grunted/grunts/internal/worker"
)

const version = "0.1.0"

type cli struct {
	Debug bool `help:"Enable debug logging."`

	Serve   serveCmd   `cmd:"" help:"Run the dashboard and tool API."`
	Run     runCmd     `cmd:"" help:"Execute one orchestration run."`
	Worker  workerCmd  `cmd:"" help:"Worker entrypoint (normally launched by run)."`
	Version versionCmd `cmd:"" help:"Print the version."`
}

func main() {
	var root cli
	k := kong.Parse(&root,
		kong.Name("grunts"),
		kong.Description("Multi-worker code generation orchestrator."),
		kong.UsageOnError(),
	)
	k.FatalIfErrorf(k.Run(&root))
}

func initLogging(root *cli, prefix string) {
	level := LevelInfo
	if root.Debug {
		level = LevelDebug
	}
	Init(&Config{Level: level, TimeFormat: "15:04:05", Prefix: prefix})
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func loadStack() (*config.Config, *llm.Registry, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	reg := llm.NewRegistry()
	if err := reg.Initialize(cfg); err != nil {
		return nil, nil, err
	}
	return cfg, reg, nil
}

type serveCmd struct {
	Listen string `help:"Dashboard listen address." placeholder:"HOST:PORT"`
}

func (c *serveCmd) Run(root *cli) error {
	initLogging(root, "")
	L_info("grunts %s serving", version)

	cfg, reg, err := loadStack()
	if err != nil {
		return err
	}

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("redis url: %w", err)
	}
	rdb := redis.NewClient(redisOpts)
	defer rdb.Close()

	store := conversation.NewStore(rdb, conversation.Options{
		TTL:      cfg.ConversationTTL(),
		MaxTurns: cfg.MaxConversationTurns,
	})
	pipe := pipeline.New(reg, store, cfg)
	orch := orchestrator.New(cfg, reg, &orchestrator.ProcessLauncher{})

	addr := c.Listen
	if addr == "" {
		addr = cfg.DashboardListen
	}

	ctx, stop := signalContext()
	defer stop()
	return dashboard.New(orch, reg, pipe, store).ListenAndServe(ctx, addr)
}

type runCmd struct {
	Tier         string   `help:"Worker tier." default:"medium" enum:"ultralight,light,medium,high"`
	Prompt       string   `help:"Task prompt." required:""`
	Technologies []string `help:"Technologies in play." sep:","`
	MaxSeconds   int      `help:"Hard run deadline in seconds."`
	InProcess    bool     `help:"Run workers as goroutines instead of child processes."`
}

func (c *runCmd) Run(root *cli) error {
	initLogging(root, "")
	L_info("grunts %s run starting", version)

	cfg, reg, err := loadStack()
	if err != nil {
		return err
	}

	var launcher orchestrator.Launcher = &orchestrator.ProcessLauncher{}
	if c.InProcess {
		completer, window, err := resolveCompleter(context.Background(), reg, "auto")
		if err != nil {
			return err
		}
		launcher = &orchestrator.InProcessLauncher{Completer: completer, ContextWindow: window}
	}
	orch := orchestrator.New(cfg, reg, launcher)

	ctx, stop := signalContext()
	defer stop()

	result, err := orch.Execute(ctx, orchestrator.Options{
		Tier:                c.Tier,
		Prompt:              c.Prompt,
		Technologies:        c.Technologies,
		MaxExecutionSeconds: c.MaxSeconds,
	})
	if err != nil {
		return err
	}

	out, _ := json.MarshalIndent(result, "", "  ")
	fmt.Println(string(out))
	if result.Outcome == orchestrator.OutcomeFailed {
		return fmt.Errorf("run %s failed", result.RunID)
	}
	return nil
}

type workerCmd struct {
	ID        int    `help:"Worker id." required:""`
	Port      int    `help:"Status port." required:""`
	Workspace string `help:"Workspace directory." required:"" type:"path"`
}

func (c *workerCmd) Run(root *cli) error {
	initLogging(root, fmt.Sprintf("worker-%d", c.ID))

	_, reg, err := loadStack()
	if err != nil {
		return err
	}

	spec, err := loadSpec(c)
	if err != nil {
		return err
	}

	ctx, stop := signalContext()
	defer stop()

	completer, window, err := resolveCompleter(ctx, reg, spec.ModelName)
	if err != nil && spec.FallbackModelName != "" {
		L_warn("worker: primary model unavailable, using fallback",
			"model", spec.ModelName, "fallback", spec.FallbackModelName, "error", err)
		spec.ModelName = spec.FallbackModelName
		completer, window, err = resolveCompleter(ctx, reg, spec.ModelName)
	}
	if err != nil {
		return err
	}

	w := worker.New(spec, completer, window)
	L_info("grunts %s worker ready", version)
	return worker.NewServer(w).ListenAndServe(ctx)
}

// loadSpec reads the launcher-written spec from the workspace; flags cover
// a worker started by hand.
func loadSpec(c *workerCmd) (worker.Spec, error) {
	spec := worker.Spec{
		WorkerID:      c.ID,
		ModelName:     "auto",
		WorkspaceDir:  c.Workspace,
		Port:          c.Port,
		MaxIterations: worker.DefaultMaxIterations,
	}

	data, err := os.ReadFile(filepath.Join(c.Workspace, "spec.json"))
	if err != nil {
		if os.IsNotExist(err) {
			return spec, nil
		}
		return spec, fmt.Errorf("read spec: %w", err)
	}
	if err := json.Unmarshal(data, &spec); err != nil {
		return spec, fmt.Errorf("parse spec: %w", err)
	}
	// Identity flags win over the file so the launcher and the child can
	// never disagree about the port.
	spec.WorkerID = c.ID
	spec.Port = c.Port
	spec.WorkspaceDir = c.Workspace
	return spec, nil
}

// resolveCompleter maps a model name ("auto" included) to a ready provider
// and the model's context window.
func resolveCompleter(ctx context.Context, reg *llm.Registry, model string) (worker.Completer, int, error) {
	if model == "" || model == "auto" {
		model = reg.Representative(llm.CategoryFast)
		if model == "" {
			return nil, 0, fmt.Errorf("no model available for auto selection")
		}
	}
	provider, canonical, err := reg.GetProviderForModel(ctx, model)
	if err != nil {
		return nil, 0, err
	}
	window := 0
	var constraint llm.TemperatureConstraint
	if caps, ok := provider.Capabilities(canonical); ok {
		window = caps.ContextWindow
		constraint = caps.Constraint()
	}
	return modelCompleter{provider: provider, model: canonical, constraint: constraint}, window, nil
}

// modelCompleter pins provider calls to the resolved canonical model and
// keeps the requested temperature inside the model's constraint. The loop
// asks for a low temperature unconditionally; fixed-temperature models
// (the o3 family) would reject it on every iteration otherwise.
type modelCompleter struct {
	provider   llm.Provider
	model      string
	constraint llm.TemperatureConstraint
}

func (m modelCompleter) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	req.Model = m.model
	if m.constraint != nil && !m.constraint.Validate(req.Temperature) {
		req.Temperature = m.constraint.Correct(req.Temperature)
	}
	return m.provider.Complete(ctx, req)
}

type versionCmd struct{}

func (versionCmd) Run(root *cli) error {
	fmt.Printf("grunts %s\n", version)
	return nil
}
