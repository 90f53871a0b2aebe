// Package main provides the browsepilot command. It runs one browser task to
// completion from flags or a YAML task file, or serves the task HTTP API.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/entrhq/browsepilot/pkg/api"
	appconfig "github.com/entrhq/browsepilot/pkg/config"
	"github.com/entrhq/browsepilot/pkg/executor"
	"github.com/entrhq/browsepilot/pkg/logging"
	"github.com/entrhq/browsepilot/pkg/orchestrator"
	"github.com/entrhq/browsepilot/pkg/planner"
	"github.com/entrhq/browsepilot/pkg/session"
	"github.com/entrhq/browsepilot/pkg/session/playwright"
	"github.com/entrhq/browsepilot/pkg/session/remote"
	"github.com/entrhq/browsepilot/pkg/store"
	"github.com/entrhq/browsepilot/pkg/telemetry"
)

const (
	version      = "0.1.0"
	defaultModel = "gpt-4o"
)

// CLIConfig holds command-line configuration
type CLIConfig struct {
	APIKey          string
	BaseURL         string
	Model           string
	ConfigFile      string
	SettingsFile    string
	Goal            string
	StartURL        string
	MaxSteps        int
	Variables       varFlags
	Provider        string
	Timeout         time.Duration
	KeepSessionOpen bool
	Serve           string
	Trace           bool
	LogLevel        string
	OutputFile      string
	Quiet           bool
	NoColor         bool
	ShowVersion     bool
}

func main() {
	config := parseFlags(os.Args[1:])

	if config.ShowVersion {
		fmt.Printf("browsepilot v%s\n", version)
		return
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	if err := run(ctx, config); err != nil {
		cancel()
		log.Printf("Execution failed: %v", err)
		os.Exit(1)
	}
	cancel()
}

// parseFlags parses command line flags
func parseFlags(args []string) *CLIConfig {
	config := &CLIConfig{Variables: varFlags{}}
	fs := flag.NewFlagSet("browsepilot", flag.ExitOnError)

	fs.StringVar(&config.APIKey, "api-key", "", "OpenAI API key (default $OPENAI_API_KEY)")
	fs.StringVar(&config.BaseURL, "base-url", "", "OpenAI API base URL (default $OPENAI_BASE_URL)")
	fs.StringVar(&config.Model, "model", defaultModel, "LLM model used for planning")
	fs.StringVar(&config.ConfigFile, "config", "", "Path to a task file (YAML)")
	fs.StringVar(&config.SettingsFile, "settings", "", "Path to the settings file (default ~/.browsepilot/config.json)")
	fs.StringVar(&config.Goal, "goal", "", "Task goal (required if no task file)")
	fs.StringVar(&config.StartURL, "start-url", "", "URL to open first")
	fs.IntVar(&config.MaxSteps, "max-steps", 0, "Step budget (default from settings)")
	fs.Var(config.Variables, "var", "Secret variable as name=value, referenced as %name% (repeatable)")
	fs.StringVar(&config.Provider, "provider", "", "Session provider: playwright or remote (default from settings)")
	fs.DurationVar(&config.Timeout, "timeout", 0, "Overall task timeout")
	fs.BoolVar(&config.KeepSessionOpen, "keep-open", false, "Leave the browser session open after the task")
	fs.StringVar(&config.Serve, "serve", "", "Serve the HTTP API on this address instead of running a task")
	fs.BoolVar(&config.Trace, "trace", false, "Export trace spans to stderr")
	fs.StringVar(&config.LogLevel, "log-level", "info", "Log level: debug, info, warn, error")
	fs.StringVar(&config.OutputFile, "output", "task-summary.json", "Output file for the task summary")
	fs.BoolVar(&config.Quiet, "quiet", false, "Only print errors and the final summary")
	fs.BoolVar(&config.NoColor, "no-color", false, "Disable colored output")
	fs.BoolVar(&config.ShowVersion, "version", false, "Show version and exit")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "browsepilot - Autonomous browser tasks\n\n")
		fmt.Fprintf(os.Stderr, "Usage: browsepilot [options]\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  # Run with an inline goal\n")
		fmt.Fprintf(os.Stderr, "  browsepilot -goal \"Find the price of the Pro plan\" -start-url https://example.com\n\n")
		fmt.Fprintf(os.Stderr, "  # Run with a task file and a secret\n")
		fmt.Fprintf(os.Stderr, "  browsepilot -config task.yaml -var password=hunter2\n\n")
		fmt.Fprintf(os.Stderr, "  # Serve the HTTP API\n")
		fmt.Fprintf(os.Stderr, "  browsepilot -serve :8080\n\n")
	}

	_ = fs.Parse(args)
	return config
}

// run executes one task or serves the API
func run(ctx context.Context, cli *CLIConfig) error {
	level, err := logging.ParseLevel(cli.LogLevel)
	if err != nil {
		return err
	}
	logging.SetLevel(level)

	if initErr := appconfig.Initialize(cli.SettingsFile); initErr != nil {
		return fmt.Errorf("failed to initialize configuration: %w", initErr)
	}
	orchSettings := appconfig.Orchestrator()
	browserSettings := appconfig.Browser()
	if cli.Provider != "" {
		browserSettings.Provider = cli.Provider
	}

	if cli.Trace {
		tp, traceErr := telemetry.Setup(telemetry.Config{
			ServiceName:    "browsepilot",
			ServiceVersion: version,
			Writer:         os.Stderr,
			PrettyPrint:    true,
		})
		if traceErr != nil {
			return traceErr
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			_ = tp.Shutdown(shutdownCtx)
		}()
	}

	llmProvider, err := appconfig.BuildProvider(cli.Model, cli.BaseURL, cli.APIKey, defaultModel)
	if err != nil {
		return err
	}
	plan, err := planner.NewLLMPlanner(llmProvider, planner.WithHistoryBudget(orchSettings.HistoryTokenBudget))
	if err != nil {
		return fmt.Errorf("failed to create planner: %w", err)
	}

	var task *TaskFile
	if cli.Serve == "" {
		task, err = loadTask(cli)
		if err != nil {
			return fmt.Errorf("failed to load task: %w", err)
		}
		if task.MaxSteps == 0 {
			task.MaxSteps = orchSettings.MaxSteps
		}
		browserSettings.AllowedURLs = append(browserSettings.AllowedURLs, task.AllowedURLs...)
	}

	provider, shutdown, err := newSessionProvider(browserSettings, orchSettings.StepTimeout)
	if err != nil {
		return err
	}
	defer shutdown()

	exec, err := executor.New(executor.Config{
		Provider:    provider,
		AllowedURLs: browserSettings.AllowedURLs,
		StepTimeout: orchSettings.StepTimeout,
	})
	if err != nil {
		return fmt.Errorf("failed to create executor: %w", err)
	}

	orchConfig := orchestrator.Config{
		Provider: provider,
		Planner:  plan,
		Executor: exec,
		SessionOptions: session.Options{
			Viewport: &session.Viewport{Width: browserSettings.ViewportWidth, Height: browserSettings.ViewportHeight},
			Timeout:  orchSettings.StepTimeout,
		},
		KeepSessionOpen: orchSettings.KeepSessionOpen,
	}

	if cli.Serve != "" {
		return serve(ctx, cli.Serve, orchConfig, cli.Timeout)
	}

	orchConfig.KeepSessionOpen = orchConfig.KeepSessionOpen || task.KeepSessionOpen
	return runTask(ctx, cli, task, orchConfig)
}

func runTask(ctx context.Context, cli *CLIConfig, task *TaskFile, cfg orchestrator.Config) error {
	reporter := NewReporter(os.Stdout, cli.Quiet, cli.NoColor)
	cfg.Observers = append(cfg.Observers, reporter.Observe)
	cfg.TaskID = task.ID

	o, err := orchestrator.New(cfg)
	if err != nil {
		return fmt.Errorf("failed to create orchestrator: %w", err)
	}

	if task.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, task.Timeout)
		defer cancel()
	}

	reporter.Header("browsepilot " + version)
	started := time.Now()
	res, runErr := o.Run(ctx, &task.Task)

	// Interrupted or failed runs must not leak a session.
	if closeErr := o.Close(ctx, "", orchestrator.CloseReasonCleanup); closeErr != nil {
		log.Printf("Failed to close session: %v", closeErr)
	}

	reporter.Summary(task.Goal, res)
	if cli.OutputFile != "" {
		if err := writeSummary(cli.OutputFile, newSummary(task.Goal, started, res, runErr)); err != nil {
			log.Printf("Warning: %v", err)
		}
	}

	return runErr
}

func serve(ctx context.Context, addr string, cfg orchestrator.Config, runTimeout time.Duration) error {
	registry := orchestrator.NewRegistry(orchestrator.NewFactory(cfg))
	srv, err := api.NewServer(api.Config{
		Registry:   registry,
		Store:      store.New(),
		RunTimeout: runTimeout,
	})
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}
	return srv.ListenAndServe(ctx, addr)
}

// newSessionProvider builds the configured provider and a shutdown func.
func newSessionProvider(settings appconfig.BrowserSettings, actionTimeout time.Duration) (session.Provider, func(), error) {
	switch settings.Provider {
	case appconfig.ProviderRemote:
		client, err := remote.New(remote.Config{
			Endpoint:          settings.Endpoint,
			APIKey:            settings.APIKey,
			ProjectID:         settings.ProjectID,
			RequestsPerSecond: settings.RequestsPerSecond,
			Logger:            logging.MustComponent("remote"),
		})
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create remote session client: %w", err)
		}
		return client, func() {}, nil

	case appconfig.ProviderPlaywright, "":
		p := playwright.New(playwright.Config{
			Headless: settings.Headless,
			Viewport: session.Viewport{Width: settings.ViewportWidth, Height: settings.ViewportHeight},
			Timeout:  actionTimeout,
			Logger:   logging.MustComponent("playwright"),
		})
		if err := p.Start(); err != nil {
			return nil, nil, fmt.Errorf("failed to start playwright: %w", err)
		}
		return p, func() {
			if err := p.Shutdown(); err != nil {
				log.Printf("Failed to stop playwright: %v", err)
			}
		}, nil

	default:
		return nil, nil, fmt.Errorf("unknown session provider %q (must be %q or %q)",
			settings.Provider, appconfig.ProviderPlaywright, appconfig.ProviderRemote)
	}
}
