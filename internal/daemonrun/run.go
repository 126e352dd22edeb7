// Package daemonrun assembles a watcher process: logger, state store, sinks,
// telemetry, the optional status endpoint, and the run-once or loop driver.
package daemonrun

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"strings"
	"syscall"

	"walkwatcher/internal/config"
	"walkwatcher/internal/logging"
	"walkwatcher/internal/sink"
	"walkwatcher/internal/state"
	"walkwatcher/internal/statusapi"
	"walkwatcher/internal/telemetry"
	"walkwatcher/internal/watcher"
)

// Options configures process runtime behavior.
type Options struct {
	Loop  bool
	Debug bool
	// Logger overrides the logger built from cfg.
	Logger *slog.Logger
}

// Run executes one collect+emit, or the perpetual loop when opts.Loop is
// set. SIGINT and SIGTERM end the loop between actions.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger := opts.Logger
	if logger == nil {
		var err error
		logger, err = logging.NewFromConfig(cfg, opts.Debug)
		if err != nil {
			return fmt.Errorf("init logger: %w", err)
		}
	}
	logger = logger.With(logging.String(logging.FieldConfigName, cfg.System.ConfigName))

	store, err := state.Open(signalCtx, cfg.System.DatabasePath)
	if err != nil {
		logging.ErrorWithContext(logger, "open state store", "state_store_open_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check system.database_path"),
		)
		return fmt.Errorf("open state store: %w", err)
	}
	defer store.Close()

	sinks, err := sink.FromConfig(cfg, logger)
	if err != nil {
		return err
	}
	logStartupSnapshot(logger, cfg, sinks, opts)

	metrics := telemetry.New()
	w, err := watcher.New(cfg, store, sinks, logger, watcher.WithMetrics(metrics))
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer w.Close()

	if !opts.Loop {
		return w.RunOnce(signalCtx)
	}

	if bind := strings.TrimSpace(cfg.Status.Bind); bind != "" {
		server, err := statusapi.Listen(bind, statusapi.NewRouter(w, metrics.Registry), logger)
		if err != nil {
			return fmt.Errorf("start status endpoint: %w", err)
		}
		server.Serve()
		defer func() {
			if err := server.Shutdown(); err != nil {
				logger.Warn("status endpoint shutdown", logging.Error(err))
			}
		}()
	}

	err = w.RunLoop(signalCtx)
	logger.Info("walkwatcher shutting down")
	return err
}

func logStartupSnapshot(logger *slog.Logger, cfg *config.Config, sinks []sink.Sink, opts Options) {
	if logger == nil || cfg == nil {
		return
	}
	names := make([]string, 0, len(sinks))
	for _, s := range sinks {
		names = append(names, s.Name())
	}
	store := cfg.System.DatabasePath
	if config.IsPostgresDSN(store) {
		store = "postgres"
	}
	logger.Info("startup snapshot",
		logging.String(logging.FieldEventType, "startup_snapshot"),
		logging.Bool("loop", opts.Loop),
		logging.String("state_store", store),
		logging.Any("roots", cfg.Watcher.RootDirectories),
		logging.Any("sinks", names),
		logging.Bool("treat_files_as_new", cfg.System.TreatFilesAsNew),
		logging.Int("max_is_running_seconds", cfg.System.MaxIsRunningSeconds),
		logging.Int("max_emit_line_count", cfg.System.MaxEmitLineCount),
	)
}
