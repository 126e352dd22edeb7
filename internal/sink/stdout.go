package sink

import (
	"context"
	"io"
	"os"
	"sync"

	"walkwatcher/internal/metric"
)

// Stdout writes each batch to a writer, os.Stdout by default.
type Stdout struct {
	mu sync.Mutex
	w  io.Writer
}

// NewStdout returns a Stdout sink; a nil writer selects os.Stdout.
func NewStdout(w io.Writer) *Stdout {
	if w == nil {
		w = os.Stdout
	}
	return &Stdout{w: w}
}

func (s *Stdout) Name() string { return NameStdout }

func (s *Stdout) Send(_ context.Context, lines []metric.Line) error {
	if len(lines) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.w.Write(payload(render(lines)))
	return err
}
