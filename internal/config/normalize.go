package config

import (
	"fmt"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizeSystem(); err != nil {
		return err
	}
	if err := c.normalizeWatcher(); err != nil {
		return err
	}
	if err := c.normalizeEmit(); err != nil {
		return err
	}
	return c.normalizeLogging()
}

func (c *Config) normalizeSystem() error {
	c.System.ConfigName = strings.TrimSpace(c.System.ConfigName)
	if c.System.ConfigName == "" {
		c.System.ConfigName = defaultConfigName
	}
	c.System.DatabasePath = strings.TrimSpace(c.System.DatabasePath)
	switch {
	case c.System.DatabasePath == "":
		c.System.DatabasePath = defaultDatabasePath
	case c.System.DatabasePath == MemoryDatabase, IsPostgresDSN(c.System.DatabasePath):
	default:
		expanded, err := expandPath(c.System.DatabasePath)
		if err != nil {
			return fmt.Errorf("system.database_path: %w", err)
		}
		c.System.DatabasePath = expanded
	}
	return nil
}

func (c *Config) normalizeWatcher() error {
	c.Watcher.MetricName = strings.TrimSpace(c.Watcher.MetricName)
	if c.Watcher.MetricName == "" {
		c.Watcher.MetricName = defaultMetricName
	}

	roots := make([]string, 0, len(c.Watcher.RootDirectories))
	seen := make(map[string]struct{}, len(c.Watcher.RootDirectories))
	for _, root := range c.Watcher.RootDirectories {
		trimmed := strings.TrimSpace(root)
		if trimmed == "" {
			continue
		}
		expanded, err := expandPath(trimmed)
		if err != nil {
			return fmt.Errorf("watcher.root_directories: %w", err)
		}
		if _, ok := seen[expanded]; ok {
			continue
		}
		seen[expanded] = struct{}{}
		roots = append(roots, expanded)
	}
	c.Watcher.RootDirectories = roots

	c.Watcher.RemovePrefix = strings.TrimSpace(c.Watcher.RemovePrefix)
	c.Watcher.ExcludeDirectories = compact(c.Watcher.ExcludeDirectories)
	c.Watcher.ExcludeFiles = compact(c.Watcher.ExcludeFiles)
	c.Watcher.Dimensions = compact(c.Watcher.Dimensions)
	return nil
}

func (c *Config) normalizeEmit() error {
	c.Emit.FileDirectory = strings.TrimSpace(c.Emit.FileDirectory)
	if c.Emit.FileDirectory == "" {
		c.Emit.FileDirectory = defaultFileDirectory
	}
	expanded, err := expandPath(c.Emit.FileDirectory)
	if err != nil {
		return fmt.Errorf("emit.file_directory: %w", err)
	}
	c.Emit.FileDirectory = expanded

	c.Emit.TelegrafHost = strings.TrimSpace(c.Emit.TelegrafHost)
	c.Emit.TelegrafPath = normalizeURLPath(c.Emit.TelegrafPath)
	c.Emit.OneAgentHost = strings.TrimSpace(c.Emit.OneAgentHost)
	c.Emit.OneAgentPath = normalizeURLPath(c.Emit.OneAgentPath)
	c.Emit.BeatsEndpoint = strings.TrimSpace(c.Emit.BeatsEndpoint)
	if c.Emit.HTTPTimeoutSeconds <= 0 {
		c.Emit.HTTPTimeoutSeconds = defaultHTTPTimeoutSeconds
	}
	return nil
}

func (c *Config) normalizeLogging() error {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	if file := strings.TrimSpace(c.Logging.File); file != "" {
		expanded, err := expandPath(file)
		if err != nil {
			return fmt.Errorf("logging.file: %w", err)
		}
		c.Logging.File = expanded
	}
	c.Status.Bind = strings.TrimSpace(c.Status.Bind)
	return nil
}

// IsPostgresDSN reports whether value addresses a PostgreSQL server.
func IsPostgresDSN(value string) bool {
	lower := strings.ToLower(value)
	return strings.HasPrefix(lower, "postgres://") || strings.HasPrefix(lower, "postgresql://")
}

func compact(values []string) []string {
	out := make([]string, 0, len(values))
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func normalizeURLPath(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return "/"
	}
	if !strings.HasPrefix(value, "/") {
		value = "/" + value
	}
	return value
}
