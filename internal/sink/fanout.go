package sink

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"walkwatcher/internal/logging"
	"walkwatcher/internal/metric"
	"walkwatcher/internal/telemetry"
)

// Fanout delivers each batch to every sink in parallel and waits for all of
// them. It is not transactional: one sink failing does not undo or block
// another.
type Fanout struct {
	sinks   []Sink
	logger  *slog.Logger
	metrics *telemetry.Metrics
}

// NewFanout wraps sinks. metrics may be nil.
func NewFanout(sinks []Sink, logger *slog.Logger, metrics *telemetry.Metrics) *Fanout {
	return &Fanout{
		sinks:   append([]Sink(nil), sinks...),
		logger:  logging.NewComponentLogger(logger, "sink"),
		metrics: metrics,
	}
}

// Names lists the wrapped sinks in order.
func (f *Fanout) Names() []string {
	names := make([]string, 0, len(f.sinks))
	for _, s := range f.sinks {
		names = append(names, s.Name())
	}
	return names
}

// Deliver sends lines to every sink and returns one DeliveryError per
// failed sink, in sink order.
func (f *Fanout) Deliver(ctx context.Context, lines []metric.Line) []*DeliveryError {
	if len(lines) == 0 || len(f.sinks) == 0 {
		return nil
	}
	results := make([]error, len(f.sinks))
	var wg sync.WaitGroup
	for i, s := range f.sinks {
		wg.Add(1)
		go func() {
			defer wg.Done()
			start := time.Now()
			results[i] = s.Send(ctx, lines)
			f.metrics.Delivery(s.Name(), len(lines), results[i])
			if results[i] == nil {
				f.logger.Debug("batch delivered",
					logging.String(logging.FieldSink, s.Name()),
					logging.Int("lines", len(lines)),
					logging.Duration("elapsed", time.Since(start)),
				)
			}
		}()
	}
	wg.Wait()

	var failed []*DeliveryError
	for i, err := range results {
		if err == nil {
			continue
		}
		derr := &DeliveryError{Sink: f.sinks[i].Name(), Lines: len(lines), Err: err}
		logging.WarnWithContext(f.logger, "sink delivery failed", "sink_delivery_failed",
			logging.String(logging.FieldSink, derr.Sink),
			logging.Int("lines", derr.Lines),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check the sink endpoint and its logs"),
			logging.String(logging.FieldImpact, "batch dropped for this sink"),
		)
		failed = append(failed, derr)
	}
	return failed
}

// Close closes every sink that holds a connection or file handle.
func (f *Fanout) Close() error {
	var first error
	for _, s := range f.sinks {
		if c, ok := s.(io.Closer); ok {
			if err := c.Close(); err != nil && first == nil {
				first = err
			}
		}
	}
	return first
}
