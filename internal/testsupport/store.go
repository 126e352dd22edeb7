package testsupport

import (
	"context"
	"testing"

	"walkwatcher/internal/config"
	"walkwatcher/internal/state"
)

// MustOpenStore opens the configured state store and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config, opts ...state.Option) state.Store {
	t.Helper()

	store, err := state.Open(context.Background(), cfg.System.DatabasePath, opts...)
	if err != nil {
		t.Fatalf("state.Open: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})
	return store
}

// TrackedPaths lists the tracked file paths for the config, failing the test
// on error.
func TrackedPaths(t testing.TB, store state.Store, configName string) []string {
	t.Helper()

	files, err := store.TrackedFiles(context.Background(), configName)
	if err != nil {
		t.Fatalf("TrackedFiles: %v", err)
	}
	paths := make([]string, 0, len(files))
	for _, f := range files {
		paths = append(paths, f.Path)
	}
	return paths
}
