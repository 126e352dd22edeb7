// Package scan walks configured root directories and reports the directories
// and files that survive path filtering.
//
// The walk is lazy and read-only. Missing roots and unreadable entries become
// ScanWarnings instead of failing the walk, so one bad subtree never hides
// the rest of the queue.
package scan

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"iter"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"walkwatcher/internal/logging"
	"walkwatcher/internal/pathfilter"
)

// Observation is the metadata of one file seen during a walk.
type Observation struct {
	Path       string
	Directory  string
	Root       string
	CreatedAt  time.Time
	ModifiedAt time.Time
}

// Entry is one item produced by Scan. Directory entries carry only Root and
// Directory; file entries also carry File.
type Entry struct {
	Root      string
	Directory string
	IsDir     bool
	File      Observation
}

// ScanWarning describes a non-fatal problem encountered during a walk.
type ScanWarning struct {
	Root string
	Path string
	Err  error
}

func (w ScanWarning) Error() string {
	return fmt.Sprintf("scan %s: %v", w.Path, w.Err)
}

func (w ScanWarning) Unwrap() error { return w.Err }

// Option customizes a Scanner.
type Option func(*Scanner)

// WithLogger routes scan diagnostics to logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Scanner) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithWarningHandler receives every ScanWarning in walk order.
func WithWarningHandler(fn func(ScanWarning)) Option {
	return func(s *Scanner) {
		s.onWarning = fn
	}
}

// Scanner walks a fixed set of roots.
type Scanner struct {
	roots     []string
	filter    *pathfilter.Filter
	logger    *slog.Logger
	onWarning func(ScanWarning)
}

// New builds a Scanner. A nil filter excludes nothing.
func New(roots []string, filter *pathfilter.Filter, opts ...Option) *Scanner {
	s := &Scanner{
		roots:  append([]string(nil), roots...),
		filter: filter,
		logger: logging.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = logging.NewComponentLogger(s.logger, "scan")
	return s
}

// Roots returns the configured roots in order.
func (s *Scanner) Roots() []string {
	return append([]string(nil), s.roots...)
}

// Scan yields every non-excluded directory and file under the roots. A
// directory that matches the exclusion set hides its own files but its
// subdirectories are still visited and judged on their own paths. Stopping
// the iteration or cancelling ctx ends the walk.
func (s *Scanner) Scan(ctx context.Context) iter.Seq[Entry] {
	return func(yield func(Entry) bool) {
		for _, root := range s.roots {
			if ctx.Err() != nil {
				return
			}
			if !s.walkRoot(ctx, root, yield) {
				return
			}
		}
	}
}

func (s *Scanner) walkRoot(ctx context.Context, root string, yield func(Entry) bool) bool {
	info, err := os.Stat(root)
	if err != nil {
		s.warn(ScanWarning{Root: root, Path: root, Err: err})
		return true
	}
	if !info.IsDir() {
		s.warn(ScanWarning{Root: root, Path: root, Err: errors.New("root is not a directory")})
		return true
	}

	// WalkDir does not descend into a root that is itself a symlink, so the
	// walk starts at the resolved target and paths are reported under root.
	start, err := filepath.EvalSymlinks(root)
	if err != nil {
		s.warn(ScanWarning{Root: root, Path: root, Err: err})
		return true
	}
	reported := func(path string) string {
		if start == root {
			return path
		}
		rel, err := filepath.Rel(start, path)
		if err != nil {
			return path
		}
		return filepath.Join(root, rel)
	}

	stopped := false
	walkErr := filepath.WalkDir(start, func(walked string, d fs.DirEntry, err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		path := reported(walked)
		if err != nil {
			s.warn(ScanWarning{Root: root, Path: path, Err: err})
			if d != nil && d.IsDir() && walked != start {
				return filepath.SkipDir
			}
			return nil
		}

		if d.IsDir() {
			if s.filter.IsDirectoryExcluded(path) {
				s.logger.Debug("directory excluded", logging.String("path", path))
				return nil
			}
			if !yield(Entry{Root: root, Directory: path, IsDir: true}) {
				stopped = true
				return filepath.SkipAll
			}
			return nil
		}

		dir := filepath.Dir(path)
		if s.filter.IsDirectoryExcluded(dir) || s.filter.IsFileExcluded(path) {
			return nil
		}

		obs, ok := s.observe(root, dir, path)
		if !ok {
			return nil
		}
		if !yield(Entry{Root: root, Directory: dir, File: obs}) {
			stopped = true
			return filepath.SkipAll
		}
		return nil
	})
	if walkErr != nil && !errors.Is(walkErr, context.Canceled) && !errors.Is(walkErr, context.DeadlineExceeded) {
		s.warn(ScanWarning{Root: root, Path: root, Err: walkErr})
	}
	return !stopped && ctx.Err() == nil
}

// observe stats path following symlinks. Entries without readable metadata,
// and links that resolve to directories, are skipped.
func (s *Scanner) observe(root, dir, path string) (Observation, bool) {
	info, err := os.Stat(path)
	if err != nil {
		s.logger.Debug("entry skipped",
			logging.String("path", path),
			logging.Error(err),
		)
		return Observation{}, false
	}
	if info.IsDir() {
		return Observation{}, false
	}
	return Observation{
		Path:       path,
		Directory:  dir,
		Root:       root,
		CreatedAt:  createdAt(path, info),
		ModifiedAt: info.ModTime(),
	}, true
}

func (s *Scanner) warn(w ScanWarning) {
	logging.WarnWithContext(s.logger, "scan warning", "scan_warning",
		logging.String("root", w.Root),
		logging.String("path", w.Path),
		logging.Error(w.Err),
		logging.String(logging.FieldErrorHint, "check that the path exists and is readable"),
		logging.String(logging.FieldImpact, "entry omitted from this cycle"),
	)
	if s.onWarning != nil {
		s.onWarning(w)
	}
}
