// Package buffer holds metric lines between the collect and emit cadences.
package buffer

import (
	"context"
	"sync"

	"walkwatcher/internal/metric"
)

// Buffer is a mutex-guarded FIFO of metric lines.
type Buffer struct {
	mu    sync.Mutex
	lines []metric.Line
}

// New returns an empty Buffer.
func New() *Buffer {
	return &Buffer{}
}

// Append queues lines at the tail.
func (b *Buffer) Append(lines ...metric.Line) {
	if len(lines) == 0 {
		return
	}
	b.mu.Lock()
	b.lines = append(b.lines, lines...)
	b.mu.Unlock()
}

// Len reports the number of queued lines.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.lines)
}

// Flush hands the current contents to deliver in batches of at most max
// lines, in order. Every batch handed over is removed, whatever deliver
// returned. Lines appended while Flush runs stay queued. When ctx is
// cancelled between batches Flush stops, removes only the batches already
// handed over and returns ctx's error. It returns the number of batches
// delivered.
func (b *Buffer) Flush(ctx context.Context, max int, deliver func(context.Context, []metric.Line)) (int, error) {
	b.mu.Lock()
	snapshot := append([]metric.Line(nil), b.lines...)
	b.mu.Unlock()

	var (
		delivered int
		sent      int
		err       error
	)
	for _, batch := range Split(snapshot, max) {
		if err = ctx.Err(); err != nil {
			break
		}
		deliver(ctx, batch)
		delivered++
		sent += len(batch)
	}

	b.mu.Lock()
	b.lines = append([]metric.Line(nil), b.lines[sent:]...)
	b.mu.Unlock()
	return delivered, err
}

// Split partitions lines into consecutive batches of at most max. A max
// below one yields a single batch.
func Split(lines []metric.Line, max int) [][]metric.Line {
	if len(lines) == 0 {
		return nil
	}
	if max < 1 {
		max = len(lines)
	}
	batches := make([][]metric.Line, 0, (len(lines)+max-1)/max)
	for start := 0; start < len(lines); start += max {
		end := min(start+max, len(lines))
		batches = append(batches, lines[start:end:end])
	}
	return batches
}
