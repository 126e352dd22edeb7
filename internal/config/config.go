package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

//go:embed sample_config.toml
var sampleConfig string

// ErrConfigExists is returned by CreateSample when the target already exists.
var ErrConfigExists = errors.New("config file already exists")

// System holds identity, storage, and cadence settings.
type System struct {
	ConfigName          string `toml:"config_name" yaml:"config_name"`
	DatabasePath        string `toml:"database_path" yaml:"database_path"`
	MaxIsRunningSeconds int    `toml:"max_is_running_seconds" yaml:"max_is_running_seconds"`
	MaxEmitLineCount    int    `toml:"max_emit_line_count" yaml:"max_emit_line_count"`
	TreatFilesAsNew     bool   `toml:"treat_files_as_new" yaml:"treat_files_as_new"`
	CollectInterval     int    `toml:"collect_interval" yaml:"collect_interval"`
	EmitInterval        int    `toml:"emit_interval" yaml:"emit_interval"`
}

// Watcher describes what gets walked and how results are labelled.
type Watcher struct {
	MetricName         string   `toml:"metric_name" yaml:"metric_name"`
	RootDirectories    []string `toml:"root_directories" yaml:"root_directories"`
	RemovePrefix       string   `toml:"remove_prefix" yaml:"remove_prefix"`
	ExcludeDirectories []string `toml:"exclude_directories" yaml:"exclude_directories"`
	ExcludeFiles       []string `toml:"exclude_files" yaml:"exclude_files"`
	// Dimensions are "key=value" pairs attached to every line in the order given.
	Dimensions []string `toml:"dimensions" yaml:"dimensions"`
}

// Emit selects and addresses the sinks.
type Emit struct {
	Stdout             bool   `toml:"stdout" yaml:"stdout"`
	File               bool   `toml:"file" yaml:"file"`
	FileDirectory      string `toml:"file_directory" yaml:"file_directory"`
	Telegraf           bool   `toml:"telegraf" yaml:"telegraf"`
	TelegrafHost       string `toml:"telegraf_host" yaml:"telegraf_host"`
	TelegrafPort       int    `toml:"telegraf_port" yaml:"telegraf_port"`
	TelegrafPath       string `toml:"telegraf_path" yaml:"telegraf_path"`
	OneAgent           bool   `toml:"oneagent" yaml:"oneagent"`
	OneAgentHost       string `toml:"oneagent_host" yaml:"oneagent_host"`
	OneAgentPort       int    `toml:"oneagent_port" yaml:"oneagent_port"`
	OneAgentPath       string `toml:"oneagent_path" yaml:"oneagent_path"`
	Beats              bool   `toml:"beats" yaml:"beats"`
	BeatsEndpoint      string `toml:"beats_endpoint" yaml:"beats_endpoint"`
	HTTPTimeoutSeconds int    `toml:"http_timeout_seconds" yaml:"http_timeout_seconds"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format" yaml:"format"`
	Level  string `toml:"level" yaml:"level"`
	File   string `toml:"file" yaml:"file"`
}

// Status configures the optional HTTP status endpoint used in loop mode.
type Status struct {
	Bind string `toml:"bind" yaml:"bind"`
}

// Config encapsulates all configuration values for one watch target.
//
// Configuration sections:
//   - System: lock identity, state store, batch size, cadences
//   - Watcher: roots, exclusions, metric naming and dimensions
//   - Emit: sink selection and endpoints
//   - Logging: log format and level
//   - Status: HTTP status endpoint
type Config struct {
	System  System  `toml:"system" yaml:"system"`
	Watcher Watcher `toml:"watcher" yaml:"watcher"`
	Emit    Emit    `toml:"emit" yaml:"emit"`
	Logging Logging `toml:"logging" yaml:"logging"`
	Status  Status  `toml:"status" yaml:"status"`
}

// Load parses and validates the configuration file at path. The returned
// config has all path fields expanded. The boolean reports whether the file
// existed; a missing file is an error because a watch target has no usable
// defaults for its roots.
func Load(path string) (*Config, string, bool, error) {
	if strings.TrimSpace(path) == "" {
		return nil, "", false, errors.New("config path is required")
	}
	resolvedPath, err := expandPath(path)
	if err != nil {
		return nil, "", false, err
	}

	file, err := os.Open(resolvedPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, resolvedPath, false, fmt.Errorf("config file %s not found (create one with --new-config)", resolvedPath)
		}
		return nil, resolvedPath, false, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	cfg := Default()
	if err := decode(file, resolvedPath, &cfg); err != nil {
		return nil, resolvedPath, true, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.normalize(); err != nil {
		return nil, resolvedPath, true, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, resolvedPath, true, err
	}
	return &cfg, resolvedPath, true, nil
}

func decode(r io.Reader, path string, cfg *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		decoder := yaml.NewDecoder(r)
		decoder.KnownFields(true)
		if err := decoder.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
			return err
		}
		return nil
	default:
		decoder := toml.NewDecoder(r)
		decoder.DisallowUnknownFields()
		return decoder.Decode(cfg)
	}
}

// InMemory reports whether the state store lives only for this process.
func (c *Config) InMemory() bool {
	return c.System.DatabasePath == MemoryDatabase
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a default configuration to path. The database sits next
// to the config file and shares its base name. An existing file is never
// replaced.
func CreateSample(path string) error {
	target, err := expandPath(path)
	if err != nil {
		return err
	}
	if dir := filepath.Dir(target); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	stem := strings.TrimSuffix(filepath.Base(target), filepath.Ext(target))
	replacer := strings.NewReplacer(
		"@CONFIG_NAME@", sanitizeName(stem),
		"@DATABASE_PATH@", filepath.ToSlash(filepath.Join(filepath.Dir(target), stem+".db")),
	)
	body := replacer.Replace(sampleConfig)

	file, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return fmt.Errorf("%w: %s", ErrConfigExists, target)
		}
		return fmt.Errorf("create sample config: %w", err)
	}
	if _, err := file.WriteString(body); err != nil {
		_ = file.Close()
		return fmt.Errorf("write sample config: %w", err)
	}
	return file.Close()
}

func sanitizeName(value string) string {
	var b strings.Builder
	for _, r := range value {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	if b.Len() == 0 {
		return defaultConfigName
	}
	return b.String()
}
