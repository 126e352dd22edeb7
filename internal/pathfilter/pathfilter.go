// Package pathfilter decides which directories and files a walk skips.
//
// Each configured fragment is compiled on its own and the composite matcher is
// the logical OR of the set, searched (unanchored) against the full path.
package pathfilter

import (
	"fmt"
	"regexp"
	"strings"
)

// ConfigError reports a pattern that does not compile.
type ConfigError struct {
	Class   string
	Pattern string
	Err     error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid %s exclude pattern %q: %v", e.Class, e.Pattern, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// Filter holds the compiled directory and file exclusion sets. The zero value
// excludes nothing.
type Filter struct {
	dirs  []*regexp.Regexp
	files []*regexp.Regexp
}

// New compiles the directory and file fragments. Blank fragments are ignored.
func New(dirPatterns, filePatterns []string) (*Filter, error) {
	dirs, err := compile("directory", dirPatterns)
	if err != nil {
		return nil, err
	}
	files, err := compile("file", filePatterns)
	if err != nil {
		return nil, err
	}
	return &Filter{dirs: dirs, files: files}, nil
}

func compile(class string, patterns []string) ([]*regexp.Regexp, error) {
	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, pattern := range patterns {
		if strings.TrimSpace(pattern) == "" {
			continue
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, &ConfigError{Class: class, Pattern: pattern, Err: err}
		}
		compiled = append(compiled, re)
	}
	return compiled, nil
}

// IsDirectoryExcluded reports whether any directory fragment matches path.
func (f *Filter) IsDirectoryExcluded(path string) bool {
	if f == nil {
		return false
	}
	return matchAny(f.dirs, path)
}

// IsFileExcluded reports whether any file fragment matches path.
func (f *Filter) IsFileExcluded(path string) bool {
	if f == nil {
		return false
	}
	return matchAny(f.files, path)
}

func matchAny(set []*regexp.Regexp, path string) bool {
	for _, re := range set {
		if re.MatchString(path) {
			return true
		}
	}
	return false
}
