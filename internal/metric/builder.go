package metric

import (
	"regexp"
	"strconv"
	"strings"

	"walkwatcher/internal/aggregate"
)

// Dimension keys added to every line after the static dimensions.
const (
	DimensionRoot      = "root"
	DimensionDirectory = "directory"
)

var (
	whitespace   = regexp.MustCompile(`\s+`)
	disallowed   = regexp.MustCompile(`[^A-Za-z0-9/\\_:.\-]`)
	rootFallback = "_"
)

// SanitizePath makes a filesystem path safe as a dimension value. Runs of
// whitespace become "_", backslashes are doubled, and any character outside
// [A-Za-z0-9/\_:.-] is dropped.
func SanitizePath(path string) string {
	path = whitespace.ReplaceAllString(path, "_")
	path = strings.ReplaceAll(path, `\`, `\\`)
	return disallowed.ReplaceAllString(path, "")
}

// Builder turns DirectoryMetrics into Lines.
type Builder struct {
	name         string
	static       []Pair
	removePrefix string
}

// NewBuilder returns a Builder. static is attached to every line in order.
func NewBuilder(name string, static []Pair, removePrefix string) *Builder {
	return &Builder{
		name:         name,
		static:       append([]Pair(nil), static...),
		removePrefix: removePrefix,
	}
}

// Build renders one DirectoryMetric at ts.
func (b *Builder) Build(m aggregate.DirectoryMetric, ts int64) (Line, error) {
	dims := make([]Pair, 0, len(b.static)+2)
	dims = append(dims, b.static...)
	dims = append(dims,
		Pair{Key: DimensionRoot, Value: b.pathValue(m.Root)},
		Pair{Key: DimensionDirectory, Value: b.pathValue(m.Directory)},
	)
	fields := []Pair{{Key: FieldFileCount, Value: strconv.Itoa(m.FileCount)}}
	if m.HasOldest {
		fields = append(fields, Pair{Key: FieldOldestAgeSeconds, Value: strconv.FormatInt(m.OldestAgeSeconds, 10)})
	}
	return NewLine(b.name, dims, fields, ts)
}

// BuildAll renders every metric, dropping only the lines that fail
// validation. The returned errors are all *ValidationError.
func (b *Builder) BuildAll(metrics []aggregate.DirectoryMetric, ts int64) ([]Line, []error) {
	lines := make([]Line, 0, len(metrics))
	var errs []error
	for _, m := range metrics {
		line, err := b.Build(m, ts)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		lines = append(lines, line)
	}
	return lines, errs
}

func (b *Builder) pathValue(path string) string {
	if b.removePrefix != "" {
		path = strings.TrimPrefix(path, b.removePrefix)
	}
	if v := SanitizePath(path); v != "" {
		return v
	}
	return rootFallback
}
