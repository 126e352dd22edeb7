package scan_test

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"walkwatcher/internal/pathfilter"
	"walkwatcher/internal/scan"
)

func createFile(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
}

func collect(t *testing.T, s *scan.Scanner) (dirs, files []string) {
	t.Helper()
	for entry := range s.Scan(context.Background()) {
		if entry.IsDir {
			dirs = append(dirs, entry.Directory)
			continue
		}
		files = append(files, entry.File.Path)
	}
	sort.Strings(dirs)
	sort.Strings(files)
	return dirs, files
}

func TestScanHonoursExclusions(t *testing.T) {
	root := t.TempDir()
	createFile(t, filepath.Join(root, "top.csv"))
	createFile(t, filepath.Join(root, "tests", "fixture", "a.csv"))
	createFile(t, filepath.Join(root, "tests", "fixture", "nested", "b.csv"))
	createFile(t, filepath.Join(root, "tests", "fixture2", "c.csv"))
	createFile(t, filepath.Join(root, "tests", "fixture2", "skip.tmp"))

	filter, err := pathfilter.New([]string{"fixture$"}, []string{`\.tmp$`})
	require.NoError(t, err)

	dirs, files := collect(t, scan.New([]string{root}, filter))

	assert.Equal(t, []string{
		root,
		filepath.Join(root, "tests"),
		filepath.Join(root, "tests", "fixture", "nested"),
		filepath.Join(root, "tests", "fixture2"),
	}, dirs)
	assert.Equal(t, []string{
		filepath.Join(root, "tests", "fixture", "nested", "b.csv"),
		filepath.Join(root, "tests", "fixture2", "c.csv"),
		filepath.Join(root, "top.csv"),
	}, files)
}

func TestScanObservationMetadata(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "inbox", "job.csv")
	createFile(t, path)

	var got []scan.Observation
	for entry := range scan.New([]string{root}, nil).Scan(context.Background()) {
		if !entry.IsDir {
			got = append(got, entry.File)
		}
	}

	require.Len(t, got, 1)
	obs := got[0]
	assert.Equal(t, path, obs.Path)
	assert.Equal(t, filepath.Join(root, "inbox"), obs.Directory)
	assert.Equal(t, root, obs.Root)
	assert.False(t, obs.CreatedAt.IsZero())
	assert.False(t, obs.ModifiedAt.IsZero())
}

func TestScanMissingRootWarnsAndContinues(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "gone")
	present := t.TempDir()
	createFile(t, filepath.Join(present, "a.csv"))

	var warnings []scan.ScanWarning
	s := scan.New([]string{missing, present}, nil, scan.WithWarningHandler(func(w scan.ScanWarning) {
		warnings = append(warnings, w)
	}))

	_, files := collect(t, s)

	assert.Equal(t, []string{filepath.Join(present, "a.csv")}, files)
	require.Len(t, warnings, 1)
	assert.Equal(t, missing, warnings[0].Root)
	assert.ErrorIs(t, warnings[0], os.ErrNotExist)
}

func TestScanFollowsFileLinksAndSkipsDanglingOnes(t *testing.T) {
	root := t.TempDir()
	target := filepath.Join(t.TempDir(), "real.csv")
	createFile(t, target)
	if err := os.Symlink(target, filepath.Join(root, "link.csv")); err != nil {
		t.Skipf("symlinks unsupported: %v", err)
	}
	require.NoError(t, os.Symlink(filepath.Join(root, "nowhere"), filepath.Join(root, "dangling.csv")))

	var warnings int
	s := scan.New([]string{root}, nil, scan.WithWarningHandler(func(scan.ScanWarning) { warnings++ }))
	_, files := collect(t, s)

	assert.Equal(t, []string{filepath.Join(root, "link.csv")}, files)
	assert.Zero(t, warnings)
}

func TestScanStopsWhenConsumerBreaks(t *testing.T) {
	root := t.TempDir()
	for _, name := range []string{"a", "b", "c"} {
		createFile(t, filepath.Join(root, name, "f.csv"))
	}

	seen := 0
	for range scan.New([]string{root, root}, nil).Scan(context.Background()) {
		seen++
		if seen == 2 {
			break
		}
	}
	assert.Equal(t, 2, seen)
}

func TestScanCancelledContextYieldsNothing(t *testing.T) {
	root := t.TempDir()
	createFile(t, filepath.Join(root, "a.csv"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	count := 0
	for range scan.New([]string{root}, nil).Scan(ctx) {
		count++
	}
	assert.Zero(t, count)
}

func TestScanWalksSymlinkedRoot(t *testing.T) {
	target := t.TempDir()
	createFile(t, filepath.Join(target, "a.txt"))
	createFile(t, filepath.Join(target, "inbox", "b.txt"))
	root := filepath.Join(t.TempDir(), "queue")
	if err := os.Symlink(target, root); err != nil {
		t.Skipf("symlinks unsupported: %v", err)
	}

	filter, err := pathfilter.New([]string{`queue/inbox$`}, nil)
	require.NoError(t, err)

	var (
		warnings int
		roots    []string
	)
	s := scan.New([]string{root}, filter, scan.WithWarningHandler(func(scan.ScanWarning) { warnings++ }))
	var files, dirs []string
	for entry := range s.Scan(context.Background()) {
		roots = append(roots, entry.Root)
		if entry.IsDir {
			dirs = append(dirs, entry.Directory)
			continue
		}
		files = append(files, entry.File.Path)
	}

	assert.Zero(t, warnings)
	assert.Equal(t, []string{root}, dirs)
	assert.Equal(t, []string{filepath.Join(root, "a.txt")}, files)
	for _, r := range roots {
		assert.Equal(t, root, r)
	}
}
