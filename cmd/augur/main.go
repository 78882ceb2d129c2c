// Command augur is the main entry point for the augur MCP tool server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shuymn/augur/internal/audit"
	"github.com/shuymn/augur/internal/config"
	"github.com/shuymn/augur/internal/dispatch"
	"github.com/shuymn/augur/internal/health"
	"github.com/shuymn/augur/internal/observe"
	"github.com/shuymn/augur/internal/server"
	"github.com/shuymn/augur/internal/tools"
	"github.com/shuymn/augur/internal/tools/clirun"
	"github.com/shuymn/augur/internal/tools/demo"
	"github.com/shuymn/augur/internal/tools/github"
	"github.com/shuymn/augur/internal/tools/websearch"
	"github.com/shuymn/augur/pkg/provider/search"
	geminisearch "github.com/shuymn/augur/pkg/provider/search/gemini"
	mocksearch "github.com/shuymn/augur/pkg/provider/search/mock"
	oaisearch "github.com/shuymn/augur/pkg/provider/search/openai"
)

// version is set at build time via ldflags.
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "augur: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "augur: %v\n", err)
		}
		return 1
	}
	if err := config.ApplyEnv(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "augur: %v\n", err)
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	// Logging goes to stderr unconditionally: in stdio mode stdout carries the
	// MCP protocol stream. The level lives in a LevelVar so config reloads can
	// adjust it without restarting.
	levelVar := new(slog.LevelVar)
	levelVar.Set(slogLevel(cfg.Server.LogLevel))
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: levelVar}))
	slog.SetDefault(logger)

	slog.Info("augur starting",
		"version", version,
		"config", *configPath,
		"stdio", cfg.Server.Stdio,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Observability ─────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "augur",
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := otelShutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Search provider ───────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerSearchProviders(ctx, reg)

	searchProvider, err := buildSearchProvider(cfg, reg)
	if err != nil {
		slog.Error("failed to build search provider", "err", err)
		return 1
	}

	// ── Readiness checkers ────────────────────────────────────────────────────
	var checkers []health.Checker
	if name := cfg.Providers.Search.Name; name != "" {
		checkers = append(checkers, searchChecker(name, searchProvider))
	}

	// ── Audit store (optional) ────────────────────────────────────────────────
	var auditStore *audit.Store
	if cfg.Audit.PostgresDSN != "" {
		auditStore, err = audit.NewStore(ctx, cfg.Audit.PostgresDSN)
		if err != nil {
			slog.Error("failed to connect audit store", "err", err)
			return 1
		}
		defer auditStore.Close()
		checkers = append(checkers, health.Checker{Name: "audit", Check: auditStore.Ping})
		slog.Info("audit store connected")
	}

	// ── Tool assembly ─────────────────────────────────────────────────────────
	ts, err := buildTools(cfg, searchProvider)
	if err != nil {
		slog.Error("failed to assemble tools", "err", err)
		return 1
	}

	defs, handlers := tools.Split(ts)
	rt, err := dispatch.New(defs, handlers, cfg.Timeouts.Policy())
	if err != nil {
		slog.Error("failed to build dispatch runtime", "err", err)
		return 1
	}

	// ── Server ────────────────────────────────────────────────────────────────
	opts := []server.Option{
		server.WithVersion(version),
		server.WithHealthCheckers(checkers...),
	}
	if auditStore != nil {
		opts = append(opts, server.WithAudit(auditStore))
	}
	if cfg.Tools.GitHub.Enabled {
		apiBase := cfg.Tools.GitHub.APIBase
		if apiBase == "" {
			apiBase = github.DefaultAPIBase
		}
		opts = append(opts, server.WithGitHubDocs(apiBase, cfg.Tools.GitHub.Token != ""))
	}
	srv := server.New(rt, opts...)

	// ── Config watcher ────────────────────────────────────────────────────────
	// The log level applies live; anything else needs a restart.
	watcher, err := config.NewWatcher(*configPath, func(old, new *config.Config) {
		d := config.Diff(old, new)
		if d.LogLevelChanged {
			levelVar.Set(slogLevel(d.NewLogLevel))
			slog.Info("log level updated", "level", d.NewLogLevel)
		}
		if d.RestartRequired() {
			slog.Warn("config change requires a restart to take effect")
		}
	})
	if err != nil {
		slog.Warn("config watcher disabled", "err", err)
	} else {
		defer watcher.Stop()
	}

	// ── Startup summary ───────────────────────────────────────────────────────
	printStartupSummary(cfg, rt)

	slog.Info("server ready — press Ctrl+C to shut down", "tools", len(defs))

	if err := srv.Run(ctx, cfg.Server.Stdio, cfg.Server.ListenAddr); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}

	slog.Info("goodbye")
	return 0
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerSearchProviders wires the built-in search provider factories into
// reg. ctx is captured for providers whose client construction needs one.
func registerSearchProviders(ctx context.Context, reg *config.Registry) {
	reg.RegisterSearch("gemini", func(entry config.ProviderEntry) (search.Provider, error) {
		var opts []geminisearch.Option
		if entry.Model != "" {
			opts = append(opts, geminisearch.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, geminisearch.WithBaseURL(entry.BaseURL))
		}
		return geminisearch.New(ctx, entry.APIKey, opts...)
	})

	reg.RegisterSearch("openai", func(entry config.ProviderEntry) (search.Provider, error) {
		var opts []oaisearch.Option
		if entry.Model != "" {
			opts = append(opts, oaisearch.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, oaisearch.WithBaseURL(entry.BaseURL))
		}
		if size := optString(entry.Options, "search_context_size"); size != "" {
			opts = append(opts, oaisearch.WithSearchContextSize(size))
		}
		return oaisearch.New(entry.APIKey, opts...)
	})

	reg.RegisterSearch("mock", func(entry config.ProviderEntry) (search.Provider, error) {
		return &mocksearch.Provider{}, nil
	})
}

// searchChecker reports readiness of the configured search provider: it
// fails while the named provider has no constructed instance (the registered
// factory was skipped or missing), so /readyz exposes a server that cannot
// serve web_search yet.
func searchChecker(name string, p search.Provider) health.Checker {
	return health.Checker{
		Name: "search_provider",
		Check: func(context.Context) error {
			if p == nil {
				return fmt.Errorf("search provider %q configured but not constructed", name)
			}
			return nil
		},
	}
}

// buildSearchProvider instantiates the configured search provider, or returns
// nil when none is configured or the name has no registered factory yet.
func buildSearchProvider(cfg *config.Config, reg *config.Registry) (search.Provider, error) {
	name := cfg.Providers.Search.Name
	if name == "" {
		return nil, nil
	}
	p, err := reg.CreateSearch(cfg.Providers.Search)
	if errors.Is(err, config.ErrProviderNotRegistered) {
		slog.Debug("provider not yet implemented — skipping", "kind", "search", "name", name)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("create search provider %q: %w", name, err)
	}
	slog.Info("provider created", "kind", "search", "name", name)
	return p, nil
}

// buildTools assembles the enabled tool packages into one list.
func buildTools(cfg *config.Config, p search.Provider) ([]tools.Tool, error) {
	var ts []tools.Tool

	if cfg.Tools.Demo.Enabled {
		ts = append(ts, demo.Tools()...)
	}
	if p != nil {
		ts = append(ts, websearch.Tools(p,
			websearch.WithMetrics(observe.DefaultMetrics(), cfg.Providers.Search.Name))...)
	}
	if cfg.Tools.GitHub.Enabled {
		client := github.New(github.Config{
			APIBase: cfg.Tools.GitHub.APIBase,
			Token:   cfg.Tools.GitHub.Token,
		})
		ts = append(ts, client.Tools()...)
	}
	if cfg.Tools.CLI.Enabled {
		runner, err := clirun.New(clirun.Config{
			Command:        cfg.Tools.CLI.Command,
			Args:           cfg.Tools.CLI.Args,
			MaxOutputBytes: cfg.Tools.CLI.MaxOutputBytes,
		})
		if err != nil {
			return nil, fmt.Errorf("cli tool: %w", err)
		}
		ts = append(ts, runner.Tools()...)
	}

	if len(ts) == 0 {
		return nil, errors.New("no tools enabled — enable at least one tool or configure a search provider")
	}
	return ts, nil
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config, rt *dispatch.Runtime) {
	fmt.Fprintln(os.Stderr, "╔═══════════════════════════════════════╗")
	fmt.Fprintln(os.Stderr, "║          augur — startup summary      ║")
	fmt.Fprintln(os.Stderr, "╠═══════════════════════════════════════╣")
	printRow("Search", providerLabel(cfg.Providers.Search))
	printRow("Demo tools", enabledLabel(cfg.Tools.Demo.Enabled))
	printRow("GitHub tools", enabledLabel(cfg.Tools.GitHub.Enabled))
	printRow("CLI tool", enabledLabel(cfg.Tools.CLI.Enabled))
	printRow("Audit", enabledLabel(cfg.Audit.PostgresDSN != ""))
	printRow("Tools total", fmt.Sprintf("%d", len(rt.Definitions())))
	if cfg.Server.Stdio {
		printRow("Stdio", "enabled")
	}
	if cfg.Server.ListenAddr != "" {
		printRow("Listen addr", cfg.Server.ListenAddr)
	}
	fmt.Fprintln(os.Stderr, "╚═══════════════════════════════════════╝")
}

func printRow(label, value string) {
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Fprintf(os.Stderr, "║  %-15s : %-19s ║\n", label, value)
}

func providerLabel(entry config.ProviderEntry) string {
	if entry.Name == "" {
		return "(not configured)"
	}
	if entry.Model != "" {
		return entry.Name + " / " + entry.Model
	}
	return entry.Name
}

func enabledLabel(enabled bool) string {
	if enabled {
		return "enabled"
	}
	return "(disabled)"
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// optString extracts a string value from a provider Options map[string]any.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	if opts == nil {
		return ""
	}
	v, ok := opts[key]
	if !ok {
		return ""
	}
	s, ok := v.(string)
	if !ok {
		return ""
	}
	return s
}
