// Package sink delivers batches of metric lines to their destinations.
//
// Every Sink is independent: a failure in one never blocks or cancels another,
// and a failed batch is neither retried nor requeued.
package sink

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"walkwatcher/internal/config"
	"walkwatcher/internal/metric"
)

// Sink names used in logs and telemetry labels.
const (
	NameStdout   = "stdout"
	NameFile     = "file"
	NameTelegraf = "telegraf"
	NameOneAgent = "oneagent"
	NameBeats    = "beats"
)

// Sink consumes one batch at a time.
type Sink interface {
	Name() string
	Send(ctx context.Context, lines []metric.Line) error
}

// DeliveryError describes one failed batch on one sink.
type DeliveryError struct {
	Sink  string
	Lines int
	Err   error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("sink %s: deliver %d lines: %v", e.Sink, e.Lines, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// FromConfig builds the enabled sinks in a fixed order. Nothing is dialed
// here; network sinks connect on their first batch.
func FromConfig(cfg *config.Config, logger *slog.Logger) ([]Sink, error) {
	var sinks []Sink
	emit := cfg.Emit
	timeout := time.Duration(emit.HTTPTimeoutSeconds) * time.Second
	if emit.Stdout {
		sinks = append(sinks, NewStdout(nil))
	}
	if emit.File {
		if err := os.MkdirAll(emit.FileDirectory, 0o755); err != nil {
			return nil, fmt.Errorf("file sink directory: %w", err)
		}
		sinks = append(sinks, NewFile(emit.FileDirectory, cfg.System.ConfigName))
	}
	if emit.Telegraf {
		sinks = append(sinks, NewTelegraf(endpointURL(emit.TelegrafHost, emit.TelegrafPort, emit.TelegrafPath), timeout))
	}
	if emit.OneAgent {
		sinks = append(sinks, NewOneAgent(endpointURL(emit.OneAgentHost, emit.OneAgentPort, emit.OneAgentPath), timeout))
	}
	if emit.Beats {
		sinks = append(sinks, NewBeats(emit.BeatsEndpoint, timeout, logger))
	}
	return sinks, nil
}

func endpointURL(host string, port int, path string) string {
	u := url.URL{
		Scheme: "http",
		Host:   net.JoinHostPort(host, strconv.Itoa(port)),
		Path:   path,
	}
	return u.String()
}

// payload joins rendered lines with a trailing newline.
func payload(rendered []string) []byte {
	if len(rendered) == 0 {
		return nil
	}
	var b strings.Builder
	for _, s := range rendered {
		b.WriteString(s)
		b.WriteByte('\n')
	}
	return []byte(b.String())
}

func render(lines []metric.Line) []string {
	out := make([]string, 0, len(lines))
	for _, l := range lines {
		out = append(out, l.String())
	}
	return out
}
