// Package sink holds the file and fan-out step sinks.
package sink

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/banshee-data/simstats/internal/monitoring"
	"github.com/banshee-data/simstats/internal/reconstruct"
)

// JSONLines writes one JSON object per completed step. It is safe for use
// by several workers.
type JSONLines struct {
	mu     sync.Mutex
	bw     *bufio.Writer
	enc    *json.Encoder
	closer io.Closer
	lines  int
}

// NewJSONLines writes to w. w is not closed by Close.
func NewJSONLines(w io.Writer) *JSONLines {
	bw := bufio.NewWriter(w)
	return &JSONLines{bw: bw, enc: json.NewEncoder(bw)}
}

// CreateJSONLines truncates or creates path.
func CreateJSONLines(path string) (*JSONLines, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create step file: %w", err)
	}
	j := NewJSONLines(f)
	j.closer = f
	return j, nil
}

// Emit writes out as a single line and flushes it.
func (j *JSONLines) Emit(_ context.Context, out *reconstruct.StepOutput) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if err := j.enc.Encode(out); err != nil {
		return fmt.Errorf("encode step %d: %w", out.Step, err)
	}
	j.lines++
	return j.bw.Flush()
}

// Lines returns the number of steps written.
func (j *JSONLines) Lines() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.lines
}

func (j *JSONLines) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	err := j.bw.Flush()
	if j.closer != nil {
		err = errors.Join(err, j.closer.Close())
	}
	return err
}

type named struct {
	name string
	sink reconstruct.Sink
}

// Multi fans each step out to every registered sink. A failing sink does
// not stop the others; their errors are joined.
type Multi struct {
	sinks []named
}

func NewMulti() *Multi { return &Multi{} }

// Add registers s under name, used to label errors and metrics.
func (m *Multi) Add(name string, s reconstruct.Sink) *Multi {
	m.sinks = append(m.sinks, named{name: name, sink: s})
	return m
}

// Len returns the number of registered sinks.
func (m *Multi) Len() int { return len(m.sinks) }

// Names lists the registered sinks in order.
func (m *Multi) Names() []string {
	names := make([]string, len(m.sinks))
	for i, s := range m.sinks {
		names[i] = s.name
	}
	return names
}

func (m *Multi) Emit(ctx context.Context, out *reconstruct.StepOutput) error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.sink.Emit(ctx, out); err != nil {
			monitoring.SinkErrors.WithLabelValues(s.name).Inc()
			errs = append(errs, fmt.Errorf("%s: %w", s.name, err))
		}
	}
	return errors.Join(errs...)
}
