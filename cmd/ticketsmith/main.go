// Command ticketsmith runs the SMS feedback intake, the project lifecycle API and the
// coding agent in one process.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/pflag"

	"ticketsmith/pkg/agent"
	"ticketsmith/pkg/agent/llm"
	llmmetrics "ticketsmith/pkg/agent/middleware/metrics"
	"ticketsmith/pkg/coder"
	"ticketsmith/pkg/config"
	"ticketsmith/pkg/conversation"
	execpkg "ticketsmith/pkg/exec"
	"ticketsmith/pkg/feedback"
	"ticketsmith/pkg/lifecycle"
	"ticketsmith/pkg/logx"
	"ticketsmith/pkg/metrics"
	"ticketsmith/pkg/notify"
	"ticketsmith/pkg/persistence"
	"ticketsmith/pkg/planner"
	"ticketsmith/pkg/version"
	"ticketsmith/pkg/webui"
)

type options struct {
	configPath     string
	envFile        string
	secretsDir     string
	promptPassword bool
	showVersion    bool
}

func main() {
	var opts options
	flags := pflag.NewFlagSet("ticketsmith", pflag.ExitOnError)
	flags.StringVarP(&opts.configPath, "config", "c", "", "Path to a JSON or YAML config file")
	flags.StringVar(&opts.envFile, "env-file", ".env", "Environment file loaded before the config")
	flags.StringVar(&opts.secretsDir, "secrets-dir", ".", "Directory holding "+config.SecretsFileName)
	flags.BoolVar(&opts.promptPassword, "prompt-password", false, "Prompt for the secrets password instead of reading "+EnvPassword)
	flags.BoolVar(&opts.showVersion, "version", false, "Show version information")
	flags.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage:\n  ticketsmith [flags]\n  ticketsmith secrets set NAME\n  ticketsmith secrets list\n\nFlags:\n")
		flags.PrintDefaults()
	}
	_ = flags.Parse(os.Args[1:])

	if opts.showVersion {
		fmt.Println(version.String())
		return
	}

	if err := loadEnvFile(opts.envFile); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load %s: %v\n", opts.envFile, err)
		os.Exit(1)
	}

	if args := flags.Args(); len(args) > 0 {
		if err := runSecretsCommand(args, opts.secretsDir, opts.promptPassword, terminalPrompter{}); err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
			os.Exit(1)
		}
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, &opts); err != nil {
		fmt.Fprintf(os.Stderr, "ticketsmith failed: %v\n", err)
		os.Exit(1)
	}
}

// loadEnvFile loads path into the environment without overriding variables already set.
// A missing file is not an error.
func loadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load env file: %w", err)
	}
	return nil
}

func run(ctx context.Context, opts *options) error {
	logger := logx.NewLogger("main")
	logger.Info("⏳ Starting %s", version.String())

	if err := config.LoadConfig(opts.configPath); err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	cfg, err := config.GetConfig()
	if err != nil {
		return fmt.Errorf("failed to get config: %w", err)
	}
	if cfg.Debug.LLMMessages {
		logx.SetDebug(true)
		logx.SetDebugDomains([]string{"llm"})
	}

	if err := unlockSecrets(opts.secretsDir, opts.promptPassword, terminalPrompter{}); err != nil {
		return err
	}

	if err := persistence.Initialize(cfg.Database.Path); err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer func() {
		if err := persistence.Close(); err != nil {
			logger.Warn("Failed to close database: %v", err)
		}
	}()
	ops := persistence.Ops()

	app, err := wire(&cfg, ops)
	if err != nil {
		return err
	}

	logger.Info("🚀 ticketsmith ready (feedback=%s planner=%s coder=%s)", cfg.Models.Feedback, cfg.Models.Planner, cfg.Models.Coder)
	server := webui.NewServer(ops, app.controller, app.engine, app.registry)
	return server.StartServer(ctx, cfg.Server.Host, cfg.Server.Port)
}

// application is the wired process.
type application struct {
	registry   *prometheus.Registry
	engine     *feedback.Engine
	controller *lifecycle.Controller
}

// wire builds every component from cfg on top of the opened store.
func wire(cfg *config.Config, ops *persistence.DatabaseOperations) (*application, error) {
	logger := logx.NewLogger("main")

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	var recorder llmmetrics.Recorder = llmmetrics.Nop()
	var lifecycleMetrics *metrics.Lifecycle
	if cfg.Metrics.Enabled {
		recorder = llmmetrics.NewPrometheusRecorder(registry)
		lifecycleMetrics = metrics.NewLifecycle(registry)
	}

	factory := agent.NewLLMClientFactory(*cfg, recorder)
	clients := make(map[agent.Role]llm.LLMClient, 4)
	for _, role := range []agent.Role{agent.RoleFeedback, agent.RolePlanner, agent.RoleUtility, agent.RoleCoder} {
		client, err := factory.CreateClient(role)
		if err != nil {
			return nil, fmt.Errorf("failed to create %s client: %w", role, err)
		}
		clients[role] = client
	}

	var store conversation.Store
	switch cfg.Conversation.Backend {
	case config.ConversationBackendSQLite:
		store = conversation.NewSQLStore(ops.DB(), cfg.Conversation.LeaseTTL)
	default:
		store = conversation.NewMemoryStore()
	}

	var notifier *notify.Client
	if cfg.Notify.Enabled {
		key, err := config.GetSecret(config.EnvNotifyAPIKey)
		if err != nil {
			return nil, fmt.Errorf("notify enabled but %s is missing: %w", config.EnvNotifyAPIKey, err)
		}
		if notifier, err = notify.NewClient(cfg.Notify.URL, key, cfg.Notify.Timeout); err != nil {
			return nil, fmt.Errorf("failed to create notifier: %w", err)
		}
	}

	engine := feedback.NewEngine(clients[agent.RoleFeedback], store, ops, optionalNotifier(notifier)).
		WithMetrics(lifecycleMetrics)
	plans := planner.New(clients[agent.RolePlanner], clients[agent.RoleUtility])
	if cfg.Models.Temperature > 0 {
		engine.WithTemperature(float32(cfg.Models.Temperature))
		plans.WithTemperature(float32(cfg.Models.Temperature))
	}
	builder := coder.NewAgent(clients[agent.RoleCoder], execpkg.NewLocalExec(), cfg.Coder)

	lcOpts := lifecycle.Options{
		Store:     ops,
		Planner:   plans,
		Builder:   builder,
		Inspector: builder,
		Metrics:   lifecycleMetrics,
	}
	if notifier != nil {
		lcOpts.Notifier = notifier
	}
	if cfg.Metrics.PrometheusURL != "" {
		usage, err := metrics.NewQueryService(cfg.Metrics.PrometheusURL)
		if err != nil {
			logger.Warn("Token usage queries disabled: %v", err)
		} else {
			lcOpts.Usage = usage
		}
	}

	controller, err := lifecycle.NewController(lcOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to create lifecycle controller: %w", err)
	}

	return &application{registry: registry, engine: engine, controller: controller}, nil
}

// optionalNotifier keeps a nil *notify.Client from becoming a non-nil interface.
func optionalNotifier(n *notify.Client) feedback.Notifier {
	if n == nil {
		return nil
	}
	return n
}
