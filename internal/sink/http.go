package sink

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"walkwatcher/internal/metric"
)

// HTTP posts each batch as one text/plain request. Telegraf's http_listener
// and OneAgent's metric ingest differ only in how lines are rendered.
type HTTP struct {
	name   string
	url    string
	client *http.Client
	render func([]metric.Line) []string
}

// NewTelegraf posts full line-protocol lines.
func NewTelegraf(url string, timeout time.Duration) *HTTP {
	return &HTTP{name: NameTelegraf, url: url, client: &http.Client{Timeout: timeout}, render: render}
}

// NewOneAgent posts one line per field, keyed by the field name.
func NewOneAgent(url string, timeout time.Duration) *HTTP {
	return &HTTP{name: NameOneAgent, url: url, client: &http.Client{Timeout: timeout}, render: splitFields}
}

func splitFields(lines []metric.Line) []string {
	out := make([]string, 0, len(lines)*2)
	for _, l := range lines {
		out = append(out, l.SplitFields()...)
	}
	return out
}

func (h *HTTP) Name() string { return h.name }

// URL is the endpoint batches are posted to.
func (h *HTTP) URL() string { return h.url }

func (h *HTTP) Send(ctx context.Context, lines []metric.Line) error {
	if len(lines) == 0 {
		return nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.url, bytes.NewReader(payload(h.render(lines))))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")

	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("post %s: %w", h.url, err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("post %s: status %d: %s", h.url, resp.StatusCode, bytes.TrimSpace(body))
	}
	return nil
}
