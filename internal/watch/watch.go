// Package watch triggers rebuilds on a fixed schedule and whenever the
// configuration file changes on disk.
package watch

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-co-op/gocron/v2"

	"github.com/ericharmeling/docs-pipeline/internal/logfields"
)

// BuildFunc runs one build cycle.
type BuildFunc func(ctx context.Context) error

// Watcher combines a periodic schedule with config file change detection.
type Watcher struct {
	configPath string
	interval   time.Duration
	debounce   time.Duration
	scheduler  gocron.Scheduler
	fsWatcher  *fsnotify.Watcher
	trigger    chan struct{}
	logger     *slog.Logger
}

// NewWatcher creates a watcher for configPath, rebuilding every interval.
func NewWatcher(configPath string, interval time.Duration) (*Watcher, error) {
	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}

	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		_ = scheduler.Shutdown()
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}

	absPath, err := filepath.Abs(configPath)
	if err != nil {
		_ = scheduler.Shutdown()
		_ = fsWatcher.Close()
		return nil, fmt.Errorf("failed to resolve config path: %w", err)
	}

	return &Watcher{
		configPath: absPath,
		interval:   interval,
		debounce:   2 * time.Second,
		scheduler:  scheduler,
		fsWatcher:  fsWatcher,
		trigger:    make(chan struct{}, 1),
		logger:     slog.Default(),
	}, nil
}

// WithLogger sets a custom logger.
func (w *Watcher) WithLogger(logger *slog.Logger) *Watcher {
	w.logger = logger
	return w
}

// Run blocks until ctx is cancelled, invoking build once per trigger.
// Triggers from the schedule and from config changes coalesce.
func (w *Watcher) Run(ctx context.Context, build BuildFunc) error {
	// Watching the directory survives editors that replace the file on save.
	if err := w.fsWatcher.Add(filepath.Dir(w.configPath)); err != nil {
		return fmt.Errorf("failed to watch config directory: %w", err)
	}

	if _, err := w.scheduler.NewJob(
		gocron.DurationJob(w.interval),
		gocron.NewTask(w.fire),
		gocron.WithName("periodic-build"),
	); err != nil {
		return fmt.Errorf("failed to schedule periodic build: %w", err)
	}
	w.scheduler.Start()
	defer func() {
		_ = w.scheduler.Shutdown()
		_ = w.fsWatcher.Close()
	}()

	go w.watchConfig(ctx)

	w.logger.Info("Watch mode started",
		logfields.Path(w.configPath),
		slog.Duration("interval", w.interval))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.trigger:
			if err := build(ctx); err != nil {
				w.logger.Error("Build cycle failed", logfields.Error(err))
			}
		}
	}
}

// fire requests a build without blocking. A pending trigger absorbs the new one.
func (w *Watcher) fire() {
	select {
	case w.trigger <- struct{}{}:
	default:
	}
}

func (w *Watcher) watchConfig(ctx context.Context) {
	var debounce *time.Timer
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			if event.Name != w.configPath {
				continue
			}
			if !event.Op.Has(fsnotify.Write) && !event.Op.Has(fsnotify.Create) {
				continue
			}
			w.logger.Info("Configuration change detected", logfields.Path(event.Name))
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(w.debounce, w.fire)
		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("File watcher error", logfields.Error(err))
		}
	}
}
