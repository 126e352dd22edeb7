// Package telemetry holds walkwatcher's own Prometheus counters.
//
// Each Metrics value owns a private registry so tests and multiple watchers
// in one process do not collide on the default registerer.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Action labels.
const (
	ActionCollect = "collect"
	ActionEmit    = "emit"
)

// Outcome labels.
const (
	OutcomeOK      = "ok"
	OutcomeSkipped = "skipped"
	OutcomeFailed  = "failed"
	OutcomeLost    = "lock_lost"
)

// Metrics is the instrumentation surface shared by the watcher and sinks.
type Metrics struct {
	Registry *prometheus.Registry

	// Cycles counts collect and emit actions by outcome.
	Cycles *prometheus.CounterVec
	// FilesObserved counts files seen across collect cycles.
	FilesObserved prometheus.Counter
	// FilesPruned counts tracked files forgotten after leaving the tree.
	FilesPruned prometheus.Counter
	// ScanWarnings counts non-fatal walk problems.
	ScanWarnings prometheus.Counter
	// LinesDropped counts metric lines rejected by validation.
	LinesDropped prometheus.Counter
	// BufferedLines is the current emit buffer depth.
	BufferedLines prometheus.Gauge
	// SinkBatches counts batch deliveries per sink by outcome.
	SinkBatches *prometheus.CounterVec
	// SinkLines counts lines delivered successfully per sink.
	SinkLines *prometheus.CounterVec
}

// New registers every collector on a fresh registry, including the Go
// runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)
	return &Metrics{
		Registry: reg,
		Cycles: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "walkwatcher_cycles_total",
				Help: "Collect and emit actions by outcome",
			},
			[]string{"action", "outcome"},
		),
		FilesObserved: f.NewCounter(prometheus.CounterOpts{
			Name: "walkwatcher_files_observed_total",
			Help: "Files observed across collect cycles",
		}),
		FilesPruned: f.NewCounter(prometheus.CounterOpts{
			Name: "walkwatcher_files_pruned_total",
			Help: "Tracked files removed after they left the watched tree",
		}),
		ScanWarnings: f.NewCounter(prometheus.CounterOpts{
			Name: "walkwatcher_scan_warnings_total",
			Help: "Missing roots and unreadable entries encountered while walking",
		}),
		LinesDropped: f.NewCounter(prometheus.CounterOpts{
			Name: "walkwatcher_lines_dropped_total",
			Help: "Metric lines rejected by validation",
		}),
		BufferedLines: f.NewGauge(prometheus.GaugeOpts{
			Name: "walkwatcher_buffered_lines",
			Help: "Metric lines waiting for the next emit",
		}),
		SinkBatches: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "walkwatcher_sink_batches_total",
				Help: "Batch deliveries per sink by outcome",
			},
			[]string{"sink", "outcome"},
		),
		SinkLines: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "walkwatcher_sink_lines_total",
				Help: "Metric lines delivered per sink",
			},
			[]string{"sink"},
		),
	}
}

// Cycle records one action outcome. Safe on a nil receiver.
func (m *Metrics) Cycle(action, outcome string) {
	if m == nil {
		return
	}
	m.Cycles.WithLabelValues(action, outcome).Inc()
}

// Delivery records one sink batch. Safe on a nil receiver.
func (m *Metrics) Delivery(sink string, lines int, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.SinkBatches.WithLabelValues(sink, OutcomeFailed).Inc()
		return
	}
	m.SinkBatches.WithLabelValues(sink, OutcomeOK).Inc()
	m.SinkLines.WithLabelValues(sink).Add(float64(lines))
}
