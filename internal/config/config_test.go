package config_test

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"walkwatcher/internal/config"
)

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadTOMLAppliesDefaults(t *testing.T) {
	root := t.TempDir()
	path := writeConfig(t, "queue.toml", `
[system]
config_name = "queue"

[watcher]
root_directories = ["`+filepath.ToSlash(root)+`", "`+filepath.ToSlash(root)+`"]
exclude_directories = ["", "fixture$"]
dimensions = ["config.type=production", "region=eu"]
`)

	cfg, resolved, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !exists || resolved != path {
		t.Fatalf("unexpected resolution: %q exists=%v", resolved, exists)
	}
	if cfg.System.ConfigName != "queue" {
		t.Fatalf("unexpected config name: %q", cfg.System.ConfigName)
	}
	if !cfg.InMemory() {
		t.Fatalf("expected in-memory database by default, got %q", cfg.System.DatabasePath)
	}
	defaults := config.Default()
	if cfg.System.CollectInterval != defaults.System.CollectInterval || cfg.System.EmitInterval != defaults.System.EmitInterval {
		t.Fatalf("expected default intervals, got %d/%d", cfg.System.CollectInterval, cfg.System.EmitInterval)
	}
	if cfg.Watcher.MetricName != "walk_watcher" {
		t.Fatalf("unexpected metric name: %q", cfg.Watcher.MetricName)
	}
	if len(cfg.Watcher.RootDirectories) != 1 || cfg.Watcher.RootDirectories[0] != root {
		t.Fatalf("expected deduplicated root, got %v", cfg.Watcher.RootDirectories)
	}
	if len(cfg.Watcher.ExcludeDirectories) != 1 || cfg.Watcher.ExcludeDirectories[0] != "fixture$" {
		t.Fatalf("expected blank patterns dropped, got %v", cfg.Watcher.ExcludeDirectories)
	}
	if cfg.Emit.TelegrafPort != 8080 || cfg.Emit.OneAgentPath != "/metrics/ingest" {
		t.Fatalf("unexpected sink defaults: %+v", cfg.Emit)
	}

	dims, err := cfg.ParsedDimensions()
	if err != nil {
		t.Fatalf("ParsedDimensions: %v", err)
	}
	if len(dims) != 2 || dims[0].Key != "config.type" || dims[1].Key != "region" || dims[1].Value != "eu" {
		t.Fatalf("unexpected dimensions: %+v", dims)
	}
}

func TestLoadYAML(t *testing.T) {
	root := t.TempDir()
	path := writeConfig(t, "queue.yaml", `
system:
  config_name: yaml_queue
  treat_files_as_new: true
  max_emit_line_count: 2
watcher:
  root_directories:
    - `+root+`
emit:
  stdout: true
`)

	cfg, _, _, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.System.ConfigName != "yaml_queue" || !cfg.System.TreatFilesAsNew || cfg.System.MaxEmitLineCount != 2 {
		t.Fatalf("unexpected system section: %+v", cfg.System)
	}
	if !cfg.Emit.Stdout {
		t.Fatal("expected stdout sink enabled")
	}
	if cfg.System.MaxIsRunningSeconds != config.Default().System.MaxIsRunningSeconds {
		t.Fatalf("expected default lock ttl, got %d", cfg.System.MaxIsRunningSeconds)
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, _, exists, err := config.Load(filepath.Join(t.TempDir(), "absent.toml"))
	if err == nil {
		t.Fatal("expected error for missing config")
	}
	if exists {
		t.Fatal("expected exists=false for missing config")
	}
}

func TestLoadRejectsInvalidSettings(t *testing.T) {
	root := filepath.ToSlash(t.TempDir())
	cases := map[string]string{
		"bad pattern": `
[watcher]
root_directories = ["` + root + `"]
exclude_files = ["(unclosed"]
`,
		"no roots": `
[watcher]
root_directories = []
`,
		"zero interval": `
[system]
collect_interval = 0
[watcher]
root_directories = ["` + root + `"]
`,
		"bad dimension": `
[watcher]
root_directories = ["` + root + `"]
dimensions = ["missing-separator"]
`,
		"reserved dimension": `
[watcher]
root_directories = ["` + root + `"]
dimensions = ["root=override"]
`,
		"metric name with space": `
[watcher]
metric_name = "walk watcher"
root_directories = ["` + root + `"]
`,
		"unknown key": `
[watcher]
root_directory = "` + root + `"
`,
		"bad port": `
[watcher]
root_directories = ["` + root + `"]
[emit]
telegraf = true
telegraf_port = 70000
`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			path := writeConfig(t, "bad.toml", body)
			if _, _, _, err := config.Load(path); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}

func TestLoadKeepsPostgresDSN(t *testing.T) {
	root := filepath.ToSlash(t.TempDir())
	path := writeConfig(t, "pg.toml", `
[system]
database_path = "postgres://watcher:secret@db:5432/watcher"
[watcher]
root_directories = ["`+root+`"]
`)
	cfg, _, _, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.System.DatabasePath != "postgres://watcher:secret@db:5432/watcher" {
		t.Fatalf("dsn was rewritten: %q", cfg.System.DatabasePath)
	}
}

func TestCreateSampleRefusesOverwrite(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "inbox watcher.toml")

	if err := config.CreateSample(target); err != nil {
		t.Fatalf("CreateSample returned error: %v", err)
	}
	data, err := os.ReadFile(target)
	if err != nil {
		t.Fatalf("read sample: %v", err)
	}
	content := string(data)
	if !strings.Contains(content, `config_name = "inbox_watcher"`) {
		t.Fatalf("expected sanitized config name in sample, got:\n%s", content)
	}
	wantDB := filepath.ToSlash(filepath.Join(dir, "inbox watcher.db"))
	if !strings.Contains(content, wantDB) {
		t.Fatalf("expected database path %q in sample", wantDB)
	}

	cfg, _, _, err := config.Load(target)
	if err != nil {
		t.Fatalf("sample config does not load: %v", err)
	}
	if cfg.InMemory() {
		t.Fatal("expected sample to use a database file")
	}

	err = config.CreateSample(target)
	if !errors.Is(err, config.ErrConfigExists) {
		t.Fatalf("expected ErrConfigExists, got %v", err)
	}
}
