package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestConsoleHandlerFormatsComponentAndAttrs(t *testing.T) {
	var buf bytes.Buffer
	lvl := new(slog.LevelVar)
	logger := slog.New(newConsoleHandler(&buf, lvl, false))

	NewComponentLogger(logger, "watcher").Info("cycle complete",
		String("directory", "/srv/queue in"),
		Int("files", 3),
	)

	line := buf.String()
	if !strings.Contains(line, " INFO watcher: cycle complete") {
		t.Fatalf("missing level/component prefix: %q", line)
	}
	if !strings.Contains(line, `directory="/srv/queue in"`) {
		t.Fatalf("expected quoted value with space: %q", line)
	}
	if !strings.Contains(line, "files=3") {
		t.Fatalf("expected int attr: %q", line)
	}
	if strings.Contains(line, "component=") {
		t.Fatalf("component should render as prefix only: %q", line)
	}
}

func TestConsoleHandlerRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	lvl := new(slog.LevelVar)
	lvl.Set(slog.LevelWarn)
	logger := slog.New(newConsoleHandler(&buf, lvl, false))

	logger.Info("hidden")
	if buf.Len() != 0 {
		t.Fatalf("expected info suppressed at warn level, got %q", buf.String())
	}
	WarnWithContext(logger, "shown", "test_warning")
	line := buf.String()
	for _, want := range []string{"event_type=test_warning", "error_hint=", "impact="} {
		if !strings.Contains(line, want) {
			t.Fatalf("expected %q in %q", want, line)
		}
	}
}

func TestNewWritesJSONCopyToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "walkwatcher.log")
	logger, err := New(Options{
		Level:       "info",
		Format:      "console",
		OutputPaths: []string{filepath.Join(t.TempDir(), "console.log")},
		FilePath:    path,
	})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	logger.Info("hello", String(FieldConfigName, "queue"))

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	var record map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(data), &record); err != nil {
		t.Fatalf("log file is not JSON: %v (%q)", err, data)
	}
	if record["msg"] != "hello" || record["config_name"] != "queue" || record["level"] != "info" {
		t.Fatalf("unexpected record: %v", record)
	}
	if _, ok := record["ts"]; !ok {
		t.Fatalf("expected ts key: %v", record)
	}
}

func TestNewRejectsUnknownFormat(t *testing.T) {
	if _, err := New(Options{Format: "xml"}); err == nil {
		t.Fatal("expected error for unsupported format")
	}
}

func TestFanoutHandlerCollapsesAndDuplicates(t *testing.T) {
	if _, ok := newFanoutHandler(nil, nil).(NoopHandler); !ok {
		t.Fatal("expected NoopHandler when no handlers remain")
	}

	var a, b bytes.Buffer
	ha := slog.NewTextHandler(&a, &slog.HandlerOptions{Level: slog.LevelInfo})
	hb := slog.NewTextHandler(&b, &slog.HandlerOptions{Level: slog.LevelError})
	if newFanoutHandler(nil, ha) != ha {
		t.Fatal("expected a single handler to be returned unwrapped")
	}

	logger := slog.New(newFanoutHandler(ha, hb)).With("config_name", "queue")
	logger.Info("only a")
	logger.Error("both")

	if strings.Count(a.String(), "config_name=queue") != 2 {
		t.Fatalf("expected two records with attrs in a, got %q", a.String())
	}
	if strings.Contains(b.String(), "only a") || !strings.Contains(b.String(), "both") {
		t.Fatalf("unexpected records in b: %q", b.String())
	}
	if !newFanoutHandler(ha, hb).Enabled(context.Background(), slog.LevelInfo) {
		t.Fatal("expected fanout enabled when any handler accepts the level")
	}
}
