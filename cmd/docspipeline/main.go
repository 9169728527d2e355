package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	prom "github.com/prometheus/client_golang/prometheus"

	"github.com/ericharmeling/docs-pipeline/internal/build"
	"github.com/ericharmeling/docs-pipeline/internal/config"
	"github.com/ericharmeling/docs-pipeline/internal/discovery"
	"github.com/ericharmeling/docs-pipeline/internal/generation"
	"github.com/ericharmeling/docs-pipeline/internal/generative"
	"github.com/ericharmeling/docs-pipeline/internal/gitsync"
	"github.com/ericharmeling/docs-pipeline/internal/history"
	"github.com/ericharmeling/docs-pipeline/internal/logfields"
	"github.com/ericharmeling/docs-pipeline/internal/metrics"
	"github.com/ericharmeling/docs-pipeline/internal/notify"
	"github.com/ericharmeling/docs-pipeline/internal/render"
	"github.com/ericharmeling/docs-pipeline/internal/report"
	"github.com/ericharmeling/docs-pipeline/internal/testexec"
	"github.com/ericharmeling/docs-pipeline/internal/tracker"
	"github.com/ericharmeling/docs-pipeline/internal/validation"
	"github.com/ericharmeling/docs-pipeline/internal/watch"
	"github.com/ericharmeling/docs-pipeline/internal/workspace"
)

var CLI struct {
	Config  string `short:"c" help:"Configuration file path" default:"config.yaml"`
	Verbose bool   `short:"v" help:"Enable verbose logging"`

	Build struct {
		MetricsAddr string `help:"Serve Prometheus metrics on this address during the build"`
	} `cmd:"" help:"Run one documentation build for the configured repositories"`

	Init struct {
		Force bool `help:"Overwrite existing configuration file"`
	} `cmd:"" help:"Initialize a new configuration file"`

	Discover struct {
		Repository string `short:"r" help:"Limit discovery to one configured repository"`
	} `cmd:"" help:"List documentable units without building"`

	Cleanup struct{} `cmd:"" help:"Remove stale transient workspaces left by crashed builds"`

	History struct {
		Limit      int    `short:"n" help:"Number of records to show" default:"20"`
		Repository string `short:"r" help:"Only show builds for this repository"`
	} `cmd:"" help:"Show recent build history"`

	Watch struct {
		Interval time.Duration `short:"i" help:"Rebuild interval" default:"10m"`
	} `cmd:"" help:"Rebuild periodically and on configuration changes"`
}

func main() {
	kctx := kong.Parse(&CLI)

	logLevel := slog.LevelInfo
	if CLI.Verbose {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	var err error
	switch kctx.Command() {
	case "build":
		err = runBuild(logger)
	case "init":
		err = runInit()
	case "discover":
		err = runDiscover(logger)
	case "cleanup":
		err = runCleanup()
	case "history":
		err = runHistory()
	case "watch":
		err = runWatch(logger)
	}
	if err != nil {
		logger.Error("Command failed", logfields.Error(err))
		os.Exit(1)
	}
}

func runBuild(logger *slog.Logger) error {
	cfg, err := config.Load(CLI.Config)
	if err != nil {
		return err
	}

	recorder, shutdown := startMetrics(cfg, CLI.Build.MetricsAddr, logger)
	defer shutdown()

	ctx, cancel := signalContext()
	defer cancel()

	result, err := executeBuild(ctx, cfg, recorder, logger)
	if err != nil {
		return err
	}
	if !result.ValidationPassed || !result.TestsPassed {
		return fmt.Errorf("build %s failed: %s", result.BuildID, result.ErrorMessage)
	}
	return nil
}

// executeBuild wires the adapters, runs one build, and always tears the
// workspace down afterwards.
func executeBuild(ctx context.Context, cfg *config.Config, recorder metrics.Recorder, logger *slog.Logger) (build.Result, error) {
	ws := workspace.NewManager(cfg.Build.WorkspaceDir)
	if err := ws.Create(); err != nil {
		return build.Result{}, err
	}
	defer func() {
		if err := ws.Cleanup(); err != nil {
			logger.Warn("Failed to clean up workspace", logfields.Error(err))
		}
	}()

	cache, err := tracker.Open(cfg.Build.CacheDir)
	if err != nil {
		return build.Result{}, err
	}
	defer cache.Close()

	completer := generative.NewClient(cfg.Generation, "")
	builder := build.NewBuilder(
		cfg.Repositories,
		gitsync.NewClient(ws.GetPath()).WithShallowDepth(cfg.Build.ShallowDepth).WithLogger(logger),
		discovery.NewDiscovery().WithLogger(logger),
		generation.NewGenerator(completer).WithLogger(logger),
		validation.NewValidator(completer).WithLogger(logger),
		testexec.NewRunner(ws.GetPath()).WithLogger(logger),
		report.NewEmitter(cfg.Build.ReportsDir).WithLogger(logger),
		cache,
		ws,
	).
		WithLogger(logger).
		WithRecorder(recorder).
		WithRenderer(render.NewRenderer(filepath.Join(cfg.Build.ReportsDir, "html")).WithLogger(logger)).
		WithConcurrency(cfg.Build.Concurrency).
		WithTimeout(cfg.Build.Timeout)

	if cfg.Build.HistoryPath != "" {
		store, err := history.NewStore(cfg.Build.HistoryPath)
		if err != nil {
			logger.Warn("Build history disabled", logfields.Error(err))
		} else {
			defer store.Close()
			builder = builder.WithHistory(store)
		}
	}

	if cfg.Monitoring.NATSURL != "" {
		publisher, err := notify.NewPublisher(cfg.Monitoring.NATSURL, cfg.Monitoring.NATSSubject, logger)
		if err != nil {
			logger.Warn("Build notifications disabled", logfields.Error(err))
		} else {
			defer publisher.Close()
			builder = builder.WithNotifier(publisher)
		}
	}

	return builder.Run(ctx)
}

func runInit() error {
	return config.WriteDefault(CLI.Config, CLI.Init.Force)
}

func runDiscover(logger *slog.Logger) error {
	cfg, err := config.Load(CLI.Config)
	if err != nil {
		return err
	}

	repos := cfg.Repositories
	if CLI.Discover.Repository != "" {
		repos = nil
		for _, repo := range cfg.Repositories {
			if repo.Name == CLI.Discover.Repository {
				repos = append(repos, repo)
			}
		}
		if len(repos) == 0 {
			return fmt.Errorf("repository %q is not configured", CLI.Discover.Repository)
		}
	}

	ws := workspace.NewManager(cfg.Build.WorkspaceDir)
	if err := ws.Create(); err != nil {
		return err
	}
	defer func() {
		if err := ws.Cleanup(); err != nil {
			logger.Warn("Failed to clean up workspace", logfields.Error(err))
		}
	}()

	ctx, cancel := signalContext()
	defer cancel()

	syncer := gitsync.NewClient(ws.GetPath()).WithShallowDepth(cfg.Build.ShallowDepth).WithLogger(logger)
	disco := discovery.NewDiscovery().WithLogger(logger)

	for _, repo := range repos {
		root, err := syncer.Sync(ctx, repo)
		if err != nil {
			return err
		}
		units, err := disco.Discover(repo.Name, root, repo.Paths)
		if err != nil {
			return err
		}
		fmt.Printf("%s: %d documentable units\n", repo.Name, len(units))
		for _, unit := range units {
			fmt.Printf("  %s\t%s\n", unit.ID(), unit.Signature)
		}
	}
	return nil
}

func runCleanup() error {
	cfg, err := config.Load(CLI.Config)
	if err != nil {
		return err
	}
	removed, err := workspace.Sweep(cfg.Build.WorkspaceDir)
	if err != nil {
		return err
	}
	fmt.Printf("Removed %d stale workspace(s)\n", removed)
	return nil
}

func runHistory() error {
	cfg, err := config.Load(CLI.Config)
	if err != nil {
		return err
	}
	if cfg.Build.HistoryPath == "" {
		return fmt.Errorf("build history is not configured (build.history_path)")
	}

	store, err := history.NewStore(cfg.Build.HistoryPath)
	if err != nil {
		return err
	}
	defer store.Close()

	var records []history.Record
	if CLI.History.Repository != "" {
		records, err = store.ByRepository(context.Background(), CLI.History.Repository)
		if len(records) > CLI.History.Limit {
			records = records[:CLI.History.Limit]
		}
	} else {
		records, err = store.Recent(context.Background(), CLI.History.Limit)
	}
	if err != nil {
		return err
	}
	for _, r := range records {
		status := "ok"
		if !r.Succeeded {
			status = "failed"
		}
		fmt.Printf("%s  %-8s %s  units=%d/%d  %s\n",
			r.StartedAt.Format(time.RFC3339), status, r.Repository,
			r.UnitsBuilt, r.UnitsTotal, r.BuildID)
	}
	return nil
}

func runWatch(logger *slog.Logger) error {
	ctx, cancel := signalContext()
	defer cancel()

	watcher, err := watch.NewWatcher(CLI.Config, CLI.Watch.Interval)
	if err != nil {
		return err
	}

	// The configuration is reloaded per cycle so edits take effect without a
	// restart.
	err = watcher.WithLogger(logger).Run(ctx, func(ctx context.Context) error {
		cfg, err := config.Load(CLI.Config)
		if err != nil {
			return err
		}
		result, err := executeBuild(ctx, cfg, metrics.NoopRecorder{}, logger)
		if err != nil {
			return err
		}
		if !result.ValidationPassed || !result.TestsPassed {
			return fmt.Errorf("build %s failed: %s", result.BuildID, result.ErrorMessage)
		}
		return nil
	})
	if err == context.Canceled {
		return nil
	}
	return err
}

// startMetrics serves Prometheus metrics when an address is configured and
// returns the recorder plus a shutdown func.
func startMetrics(cfg *config.Config, override string, logger *slog.Logger) (metrics.Recorder, func()) {
	addr := cfg.Monitoring.MetricsAddr
	if override != "" {
		addr = override
	}
	if addr == "" {
		return metrics.NoopRecorder{}, func() {}
	}

	reg := prom.NewRegistry()
	recorder := metrics.NewPrometheusRecorder(reg)

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.HTTPHandler(reg))
	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		logger.Info("Serving metrics", slog.String("addr", addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Warn("Metrics server stopped", logfields.Error(err))
		}
	}()

	return recorder, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
