// Package sink provides consumers for events leaving a pipeline.
package sink

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/msgpo/lumber-mill/internal/event"
	"github.com/msgpo/lumber-mill/internal/pipeline"
)

// Func adapts a function to the pipeline.Sink interface.
type Func func(ctx context.Context, e *event.Event) error

// Write calls f.
func (f Func) Write(ctx context.Context, e *event.Event) error {
	return f(ctx, e)
}

// Discard drops every event it is given.
var Discard pipeline.Sink = Func(func(context.Context, *event.Event) error {
	return nil
})

// Writer emits events as newline-delimited JSON. Writes are serialized,
// so a single Writer can take events from concurrent runs.
type Writer struct {
	mu sync.Mutex
	w  io.Writer
}

// NewWriter returns a sink writing NDJSON to w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// Write encodes e as JSON and appends it as one line.
func (s *Writer) Write(ctx context.Context, e *event.Event) error {
	data, err := event.EncodeJSON(e)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.w.Write(data); err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	if _, err := s.w.Write([]byte{'\n'}); err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	return nil
}
