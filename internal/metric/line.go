// Package metric builds line-protocol records from directory metrics.
//
// A Line renders as
//
//	<name>,<k>=<v>,... <field>=<value>,... <unix_ts>
//
// Dimensions and fields keep their insertion order so the text is stable
// across runs.
package metric

import (
	"fmt"
	"strconv"
	"strings"
)

// Field names emitted for every directory.
const (
	FieldFileCount        = "file_count"
	FieldOldestAgeSeconds = "oldest_age_seconds"
)

// Pair is an ordered key/value element of a Line.
type Pair struct {
	Key   string
	Value string
}

// Line is one validated metric record.
type Line struct {
	Name       string
	Dimensions []Pair
	Fields     []Pair
	Timestamp  int64
}

// ValidationError reports a name, key, or value that cannot be rendered.
type ValidationError struct {
	Part  string
	Value string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid metric %s %q: must be non-empty without spaces, commas, or '='", e.Part, e.Value)
}

// NewLine validates its inputs and returns a Line.
func NewLine(name string, dims, fields []Pair, ts int64) (Line, error) {
	if !ValidToken(name) {
		return Line{}, &ValidationError{Part: "name", Value: name}
	}
	for _, d := range dims {
		if !ValidToken(d.Key) {
			return Line{}, &ValidationError{Part: "dimension key", Value: d.Key}
		}
		if !validValue(d.Value) {
			return Line{}, &ValidationError{Part: "dimension value", Value: d.Value}
		}
	}
	if len(fields) == 0 {
		return Line{}, &ValidationError{Part: "field set", Value: ""}
	}
	for _, f := range fields {
		if !ValidToken(f.Key) {
			return Line{}, &ValidationError{Part: "field key", Value: f.Key}
		}
		if !validValue(f.Value) {
			return Line{}, &ValidationError{Part: "field value", Value: f.Value}
		}
	}
	return Line{
		Name:       name,
		Dimensions: append([]Pair(nil), dims...),
		Fields:     append([]Pair(nil), fields...),
		Timestamp:  ts,
	}, nil
}

// String renders the line without a trailing newline.
func (l Line) String() string {
	var b strings.Builder
	b.WriteString(l.Name)
	writeDims(&b, l.Dimensions)
	b.WriteByte(' ')
	writePairs(&b, l.Fields)
	b.WriteByte(' ')
	b.WriteString(strconv.FormatInt(l.Timestamp, 10))
	return b.String()
}

// SplitFields renders one line per field, using the field key as the metric
// key: "<field>,<dims> <value> <ts>". Ingest endpoints that accept a single
// value per line consume this form.
func (l Line) SplitFields() []string {
	out := make([]string, 0, len(l.Fields))
	for _, f := range l.Fields {
		var b strings.Builder
		b.WriteString(f.Key)
		writeDims(&b, l.Dimensions)
		b.WriteByte(' ')
		b.WriteString(f.Value)
		b.WriteByte(' ')
		b.WriteString(strconv.FormatInt(l.Timestamp, 10))
		out = append(out, b.String())
	}
	return out
}

// Dimension returns the value for key.
func (l Line) Dimension(key string) (string, bool) {
	for _, d := range l.Dimensions {
		if d.Key == key {
			return d.Value, true
		}
	}
	return "", false
}

func writeDims(b *strings.Builder, dims []Pair) {
	for _, d := range dims {
		b.WriteByte(',')
		b.WriteString(d.Key)
		b.WriteByte('=')
		b.WriteString(d.Value)
	}
}

func writePairs(b *strings.Builder, pairs []Pair) {
	for i, p := range pairs {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(p.Key)
		b.WriteByte('=')
		b.WriteString(p.Value)
	}
}

// ValidToken reports whether s can be used as a name or key.
func ValidToken(s string) bool {
	return validValue(s) && !strings.Contains(s, "=")
}

func validValue(s string) bool {
	if s == "" {
		return false
	}
	return !strings.ContainsFunc(s, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t' || r == '\n' || r == '\r'
	})
}
