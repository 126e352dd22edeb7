// Package watcher drives the collect and emit cadences.
//
// A collect walks the configured roots, reconciles the walk against the state
// store, and queues one metric line per directory. An emit drains the queue to
// every sink in bounded batches. Each action runs under the run lock so two
// processes sharing a state store never mutate it at the same time.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"walkwatcher/internal/aggregate"
	"walkwatcher/internal/buffer"
	"walkwatcher/internal/config"
	"walkwatcher/internal/lock"
	"walkwatcher/internal/logging"
	"walkwatcher/internal/metric"
	"walkwatcher/internal/pathfilter"
	"walkwatcher/internal/scan"
	"walkwatcher/internal/sink"
	"walkwatcher/internal/state"
	"walkwatcher/internal/telemetry"
)

// Option customizes a Watcher.
type Option func(*Watcher)

// WithMetrics attaches Prometheus instrumentation.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(w *Watcher) { w.metrics = m }
}

// WithClock overrides time.Now for line timestamps and ages.
func WithClock(now func() time.Time) Option {
	return func(w *Watcher) {
		if now != nil {
			w.now = now
		}
	}
}

// Watcher owns the pipeline for one config.
type Watcher struct {
	cfg        *config.Config
	store      state.Store
	filter     *pathfilter.Filter
	builder    *metric.Builder
	buffer     *buffer.Buffer
	fanout     *sink.Fanout
	lock       *lock.Manager
	logger     *slog.Logger
	metrics    *telemetry.Metrics
	now        func() time.Time
	aggregator *aggregate.Aggregator

	mu     sync.RWMutex
	status Status
}

// New wires a Watcher. The store and sinks stay owned by the caller.
func New(cfg *config.Config, store state.Store, sinks []sink.Sink, logger *slog.Logger, opts ...Option) (*Watcher, error) {
	if cfg == nil || store == nil {
		return nil, errors.New("watcher requires config and store")
	}
	filter, err := pathfilter.New(cfg.Watcher.ExcludeDirectories, cfg.Watcher.ExcludeFiles)
	if err != nil {
		return nil, err
	}
	dims, err := cfg.ParsedDimensions()
	if err != nil {
		return nil, err
	}
	static := make([]metric.Pair, 0, len(dims))
	for _, d := range dims {
		static = append(static, metric.Pair{Key: d.Key, Value: d.Value})
	}

	w := &Watcher{
		cfg:     cfg,
		store:   store,
		filter:  filter,
		builder: metric.NewBuilder(cfg.Watcher.MetricName, static, cfg.Watcher.RemovePrefix),
		buffer:  buffer.New(),
		logger: logging.NewComponentLogger(logger, "watcher").With(
			logging.String(logging.FieldConfigName, cfg.System.ConfigName),
		),
		now: time.Now,
	}
	for _, opt := range opts {
		opt(w)
	}
	w.fanout = sink.NewFanout(sinks, logger, w.metrics)
	w.lock = lock.New(store, cfg.System.ConfigName, time.Duration(cfg.System.MaxIsRunningSeconds)*time.Second, logger)
	w.aggregator = aggregate.New(aggregate.PolicyFor(cfg.System.TreatFilesAsNew),
		aggregate.WithClock(w.now),
		aggregate.WithLogger(logger),
	)
	w.status = Status{
		ConfigName: cfg.System.ConfigName,
		Owner:      w.lock.Owner(),
		Roots:      append([]string(nil), cfg.Watcher.RootDirectories...),
		Sinks:      w.fanout.Names(),
	}
	if len(sinks) == 0 {
		w.logger.Info("no sinks enabled; emitted lines are discarded")
	}
	return w, nil
}

// Buffered reports how many lines wait for the next emit.
func (w *Watcher) Buffered() int { return w.buffer.Len() }

// Close releases sink connections.
func (w *Watcher) Close() error { return w.fanout.Close() }

// CollectReport summarizes one collect action.
type CollectReport struct {
	Ran         bool
	Cycle       int64
	Files       int
	Directories int
	Pruned      int
	Warnings    int
	Lines       int
	Dropped     int
}

// EmitReport summarizes one emit action.
type EmitReport struct {
	Ran      bool
	Lines    int
	Batches  int
	Failures int
}

// Collect runs one collect under its own lock scope. A busy lock returns a
// report with Ran false and no error.
func (w *Watcher) Collect(ctx context.Context) (CollectReport, error) {
	var report CollectReport
	start := time.Now()
	ran, err := w.lock.Do(ctx, func(ctx context.Context, lease *lock.Lease) error {
		var err error
		report, err = w.collect(ctx, lease)
		return err
	})
	report.Ran = ran
	w.recordCollect(start, report, err)
	return report, err
}

// Emit drains the buffer under its own lock scope.
func (w *Watcher) Emit(ctx context.Context) (EmitReport, error) {
	var report EmitReport
	start := time.Now()
	ran, err := w.lock.Do(ctx, func(ctx context.Context, _ *lock.Lease) error {
		var err error
		report, err = w.emit(ctx)
		return err
	})
	report.Ran = ran
	w.recordEmit(start, report, err)
	return report, err
}

// RunOnce collects and then emits everything under a single lock scope. A
// busy lock is logged and returns nil. Once the lock is taken the cycle runs
// to completion even if ctx is cancelled; a ctx already cancelled before the
// lock attempt is a clean shutdown and also returns nil.
func (w *Watcher) RunOnce(ctx context.Context) error {
	if ctx.Err() != nil {
		w.logger.Info("shutdown requested before cycle start")
		return nil
	}
	var (
		collected CollectReport
		emitted   EmitReport
	)
	start := time.Now()
	ran, err := w.lock.Do(context.WithoutCancel(ctx), func(ctx context.Context, lease *lock.Lease) error {
		var err error
		collected, err = w.collect(ctx, lease)
		collected.Ran = true
		w.recordCollect(start, collected, err)
		if err != nil {
			return err
		}
		emitStart := time.Now()
		emitted, err = w.emit(ctx)
		emitted.Ran = true
		w.recordEmit(emitStart, emitted, err)
		return err
	})
	if !ran {
		w.recordCollect(start, CollectReport{}, err)
		w.recordEmit(start, EmitReport{}, err)
	}
	return err
}

// RunLoop runs collect every collect_interval and emit every emit_interval
// until ctx is cancelled. Actions are never interrupted: each runs to
// completion on a context detached from ctx, and cancellation is noticed
// between actions. Failed actions are logged and the cadence continues.
func (w *Watcher) RunLoop(ctx context.Context) error {
	collectEvery := time.Duration(w.cfg.System.CollectInterval) * time.Second
	emitEvery := time.Duration(w.cfg.System.EmitInterval) * time.Second
	collectTicker := time.NewTicker(collectEvery)
	defer collectTicker.Stop()
	emitTicker := time.NewTicker(emitEvery)
	defer emitTicker.Stop()

	w.logger.Info("watch loop started",
		logging.Duration("collect_interval", collectEvery),
		logging.Duration("emit_interval", emitEvery),
		logging.Int("roots", len(w.cfg.Watcher.RootDirectories)),
	)
	for {
		select {
		case <-ctx.Done():
			w.logger.Info("watch loop stopped", logging.Int("buffered_lines", w.buffer.Len()))
			return nil
		case <-collectTicker.C:
			if ctx.Err() != nil {
				continue
			}
			_, _ = w.Collect(context.WithoutCancel(ctx))
		case <-emitTicker.C:
			if ctx.Err() != nil {
				continue
			}
			_, _ = w.Emit(context.WithoutCancel(ctx))
		}
	}
}

func (w *Watcher) collect(ctx context.Context, lease *lock.Lease) (CollectReport, error) {
	var warnings []scan.ScanWarning
	scanner := scan.New(w.cfg.Watcher.RootDirectories, w.filter,
		scan.WithLogger(w.logger),
		scan.WithWarningHandler(func(sw scan.ScanWarning) { warnings = append(warnings, sw) }),
	)
	now := w.now()
	// The walk finishes before the cycle transaction opens so the store's
	// write lock is held only for the reconcile writes.
	entries := slices.Collect(scanner.Scan(ctx))
	if err := ctx.Err(); err != nil {
		return CollectReport{}, fmt.Errorf("walk roots: %w", err)
	}

	cycle, err := w.store.Begin(ctx, w.cfg.System.ConfigName, lease.Owner())
	if err != nil {
		return CollectReport{}, fmt.Errorf("begin cycle: %w", err)
	}
	defer func() { _ = cycle.Rollback() }()

	result, err := w.aggregator.Reconcile(ctx, cycle, slices.Values(entries))
	if err != nil {
		return CollectReport{}, fmt.Errorf("reconcile cycle %d: %w", cycle.Number(), err)
	}
	result.Warnings = warnings
	if err := cycle.Commit(ctx); err != nil {
		return CollectReport{}, err
	}

	lines, errs := w.builder.BuildAll(result.Metrics, now.Unix())
	for _, verr := range errs {
		logging.WarnWithContext(w.logger, "metric line dropped", "metric_validation_failed",
			logging.Error(verr),
			logging.String(logging.FieldErrorHint, "check watcher.metric_name, dimensions and remove_prefix"),
			logging.String(logging.FieldImpact, "directory missing from this emit"),
		)
	}
	w.buffer.Append(lines...)

	report := CollectReport{
		Cycle:       cycle.Number(),
		Files:       result.Observed,
		Directories: len(result.Metrics),
		Pruned:      len(result.Pruned),
		Warnings:    len(result.Warnings),
		Lines:       len(lines),
		Dropped:     len(errs),
	}
	if w.metrics != nil {
		w.metrics.FilesObserved.Add(float64(report.Files))
		w.metrics.FilesPruned.Add(float64(report.Pruned))
		w.metrics.ScanWarnings.Add(float64(report.Warnings))
		w.metrics.LinesDropped.Add(float64(report.Dropped))
		w.metrics.BufferedLines.Set(float64(w.buffer.Len()))
	}
	w.logger.Info("collect complete",
		logging.Int64(logging.FieldCycle, report.Cycle),
		logging.Int("files", report.Files),
		logging.Int("directories", report.Directories),
		logging.Int("pruned", report.Pruned),
		logging.Int("warnings", report.Warnings),
		logging.Int("buffered_lines", w.buffer.Len()),
	)
	return report, nil
}

func (w *Watcher) emit(ctx context.Context) (EmitReport, error) {
	report := EmitReport{}
	batches, err := w.buffer.Flush(ctx, w.cfg.System.MaxEmitLineCount, func(ctx context.Context, batch []metric.Line) {
		report.Lines += len(batch)
		report.Failures += len(w.fanout.Deliver(ctx, batch))
	})
	report.Batches = batches
	if w.metrics != nil {
		w.metrics.BufferedLines.Set(float64(w.buffer.Len()))
	}
	if err != nil {
		return report, fmt.Errorf("emit: %w", err)
	}
	w.logger.Info("emit complete",
		logging.Int("lines", report.Lines),
		logging.Int("batches", report.Batches),
		logging.Int("failed_deliveries", report.Failures),
	)
	return report, nil
}
