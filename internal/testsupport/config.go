package testsupport

import (
	"path/filepath"
	"testing"

	"walkwatcher/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config whose single root, file sink directory and
// database live under a unique temp directory. The database defaults to
// ":memory:"; see WithDatabaseFile.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.System.ConfigName = "test_queue"
	cfgVal.Watcher.RootDirectories = []string{filepath.Join(base, "root")}
	cfgVal.Emit.FileDirectory = filepath.Join(base, "lines")
	cfgVal.Status.Bind = "127.0.0.1:0"

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	if err := builder.cfg.Validate(); err != nil {
		t.Fatalf("test config invalid: %v", err)
	}
	return builder.cfg
}

// WithDatabaseFile stores state in a SQLite file under the temp directory.
func WithDatabaseFile() ConfigOption {
	return func(b *configBuilder) {
		b.cfg.System.DatabasePath = filepath.Join(b.baseDir, "state.db")
	}
}

// WithRoots replaces the root list with directories under the temp
// directory.
func WithRoots(names ...string) ConfigOption {
	return func(b *configBuilder) {
		roots := make([]string, 0, len(names))
		for _, name := range names {
			roots = append(roots, filepath.Join(b.baseDir, name))
		}
		b.cfg.Watcher.RootDirectories = roots
	}
}

// WithObservedFirstSeen sets treat_files_as_new so ages start at the first
// collect rather than at file creation.
func WithObservedFirstSeen() ConfigOption {
	return func(b *configBuilder) {
		b.cfg.System.TreatFilesAsNew = true
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Emit.FileDirectory)
}

// Root returns the first configured root directory.
func Root(cfg *config.Config) string {
	return cfg.Watcher.RootDirectories[0]
}
