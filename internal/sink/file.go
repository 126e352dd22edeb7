package sink

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"

	"walkwatcher/internal/metric"
)

const fileSuffix = "_metric_lines.txt"

// File appends batches to <dir>/<configName>_<YYYYMMDD>_metric_lines.txt.
// Appends from concurrent processes are serialized with a ".lock" sidecar.
type File struct {
	dir        string
	configName string
	now        func() time.Time
}

// NewFile returns a File sink writing under dir.
func NewFile(dir, configName string) *File {
	return &File{dir: dir, configName: configName, now: time.Now}
}

func (f *File) Name() string { return NameFile }

// Path is the file the next batch would be appended to.
func (f *File) Path() string {
	return filepath.Join(f.dir, fmt.Sprintf("%s_%s%s", f.configName, f.now().Format("20060102"), fileSuffix))
}

func (f *File) Send(ctx context.Context, lines []metric.Line) error {
	if len(lines) == 0 {
		return nil
	}
	if err := os.MkdirAll(f.dir, 0o755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}
	path := f.Path()

	lock := flock.New(path + ".lock")
	ok, err := lock.TryLockContext(ctx, 50*time.Millisecond)
	if err != nil {
		return fmt.Errorf("lock %s: %w", path, err)
	}
	if !ok {
		return fmt.Errorf("lock %s: not acquired", path)
	}
	defer func() { _ = lock.Unlock() }()

	out, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o640)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	if _, err := out.Write(payload(render(lines))); err != nil {
		_ = out.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return out.Close()
}
