package sink

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	lumberjack "github.com/elastic/go-lumber/client/v2"

	"walkwatcher/internal/logging"
	"walkwatcher/internal/metric"
)

// Beats ships each batch as one lumberjack v2 window to a Logstash or Beats
// input. The connection is opened on first use and dropped after any error
// so the next batch redials.
type Beats struct {
	endpoint string
	timeout  time.Duration
	logger   *slog.Logger

	mu     sync.Mutex
	client *lumberjack.SyncClient
}

// NewBeats returns a Beats sink for host:port.
func NewBeats(endpoint string, timeout time.Duration, logger *slog.Logger) *Beats {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &Beats{
		endpoint: endpoint,
		timeout:  timeout,
		logger:   logging.NewComponentLogger(logger, "sink.beats"),
	}
}

func (b *Beats) Name() string { return NameBeats }

func (b *Beats) Send(ctx context.Context, lines []metric.Line) error {
	if len(lines) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.client == nil {
		client, err := lumberjack.SyncDial(b.endpoint,
			lumberjack.CompressionLevel(0),
			lumberjack.Timeout(b.timeout),
		)
		if err != nil {
			return fmt.Errorf("failed connection to beats server: %w", err)
		}
		b.client = client
		b.logger.Debug("beats connected", logging.String("endpoint", b.endpoint))
	}

	sent, err := b.client.Send(events(lines))
	if err != nil {
		_ = b.client.Close()
		b.client = nil
		return err
	}
	if sent != len(lines) {
		return fmt.Errorf("beats acknowledged %d of %d events", sent, len(lines))
	}
	return nil
}

// Close drops the connection, if any.
func (b *Beats) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.client == nil {
		return nil
	}
	err := b.client.Close()
	b.client = nil
	return err
}

func events(lines []metric.Line) []interface{} {
	out := make([]interface{}, 0, len(lines))
	for _, l := range lines {
		dims := make(map[string]interface{}, len(l.Dimensions))
		for _, d := range l.Dimensions {
			dims[d.Key] = d.Value
		}
		fields := make(map[string]interface{}, len(l.Fields))
		for _, f := range l.Fields {
			fields[f.Key] = f.Value
		}
		out = append(out, map[string]interface{}{
			"@timestamp": time.Unix(l.Timestamp, 0).UTC(),
			"message":    l.String(),
			"metric":     l.Name,
			"dimensions": dims,
			"fields":     fields,
		})
	}
	return out
}
