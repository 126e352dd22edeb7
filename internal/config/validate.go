package config

import (
	"errors"
	"fmt"
	"net"
	"strings"

	"walkwatcher/internal/pathfilter"
)

// Dimension is one static key/value pair from watcher.dimensions.
type Dimension struct {
	Key   string
	Value string
}

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateSystem(); err != nil {
		return err
	}
	if err := c.validateWatcher(); err != nil {
		return err
	}
	if err := c.validateEmit(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validateSystem() error {
	if strings.ContainsAny(c.System.ConfigName, " \t,/\\") {
		return fmt.Errorf("system.config_name %q must not contain whitespace, commas, or path separators", c.System.ConfigName)
	}
	return ensurePositive(map[string]int{
		"system.max_is_running_seconds": c.System.MaxIsRunningSeconds,
		"system.max_emit_line_count":    c.System.MaxEmitLineCount,
		"system.collect_interval":       c.System.CollectInterval,
		"system.emit_interval":          c.System.EmitInterval,
	})
}

func (c *Config) validateWatcher() error {
	if len(c.Watcher.RootDirectories) == 0 {
		return errors.New("watcher.root_directories must include at least one directory")
	}
	if !validToken(c.Watcher.MetricName) {
		return fmt.Errorf("watcher.metric_name %q must not contain whitespace or commas", c.Watcher.MetricName)
	}
	if _, err := pathfilter.New(c.Watcher.ExcludeDirectories, c.Watcher.ExcludeFiles); err != nil {
		return fmt.Errorf("watcher exclusions: %w", err)
	}
	if _, err := c.ParsedDimensions(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateEmit() error {
	if c.Emit.Telegraf {
		if c.Emit.TelegrafHost == "" {
			return errors.New("emit.telegraf_host must be set when emit.telegraf is true")
		}
		if err := validatePort("emit.telegraf_port", c.Emit.TelegrafPort); err != nil {
			return err
		}
	}
	if c.Emit.OneAgent {
		if c.Emit.OneAgentHost == "" {
			return errors.New("emit.oneagent_host must be set when emit.oneagent is true")
		}
		if err := validatePort("emit.oneagent_port", c.Emit.OneAgentPort); err != nil {
			return err
		}
	}
	if c.Emit.Beats {
		if _, _, err := net.SplitHostPort(c.Emit.BeatsEndpoint); err != nil {
			return fmt.Errorf("emit.beats_endpoint %q must be host:port: %w", c.Emit.BeatsEndpoint, err)
		}
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format %q must be console or json", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level %q must be debug, info, warn, or error", c.Logging.Level)
	}
	if c.Status.Bind != "" {
		if _, _, err := net.SplitHostPort(c.Status.Bind); err != nil {
			return fmt.Errorf("status.bind %q must be host:port: %w", c.Status.Bind, err)
		}
	}
	return nil
}

// ParsedDimensions splits watcher.dimensions into ordered key/value pairs.
func (c *Config) ParsedDimensions() ([]Dimension, error) {
	dims := make([]Dimension, 0, len(c.Watcher.Dimensions))
	seen := make(map[string]struct{}, len(c.Watcher.Dimensions))
	for _, raw := range c.Watcher.Dimensions {
		key, value, ok := strings.Cut(raw, "=")
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		if !ok || key == "" || value == "" {
			return nil, fmt.Errorf("watcher.dimensions entry %q must be key=value", raw)
		}
		if !validToken(key) || strings.Contains(key, "=") || !validToken(value) {
			return nil, fmt.Errorf("watcher.dimensions entry %q must not contain whitespace, commas, or '=' in the key", raw)
		}
		if key == "root" || key == "directory" {
			return nil, fmt.Errorf("watcher.dimensions key %q is reserved", key)
		}
		if _, dup := seen[key]; dup {
			return nil, fmt.Errorf("watcher.dimensions key %q appears more than once", key)
		}
		seen[key] = struct{}{}
		dims = append(dims, Dimension{Key: key, Value: value})
	}
	return dims, nil
}

func validToken(value string) bool {
	return value != "" && !strings.ContainsAny(value, " \t\r\n,")
}

func validatePort(field string, port int) error {
	if port <= 0 || port > 65535 {
		return fmt.Errorf("%s must be between 1 and 65535", field)
	}
	return nil
}

func ensurePositive(values map[string]int) error {
	for key, value := range values {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
