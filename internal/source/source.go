// Package source builds the event streams pipelines consume.
package source

import (
	"context"
	"iter"

	"github.com/msgpo/lumber-mill/internal/event"
)

// FromSlice returns a stream yielding the given events in order.
func FromSlice(events ...*event.Event) iter.Seq2[*event.Event, error] {
	return func(yield func(*event.Event, error) bool) {
		for _, e := range events {
			if !yield(e, nil) {
				return
			}
		}
	}
}

// FromChan returns a stream pulling events from ch until it closes or
// ctx is cancelled. Cancellation ends the stream with the context's
// error as its final element.
func FromChan(ctx context.Context, ch <-chan *event.Event) iter.Seq2[*event.Event, error] {
	return func(yield func(*event.Event, error) bool) {
		for {
			select {
			case <-ctx.Done():
				yield(nil, ctx.Err())
				return
			case e, ok := <-ch:
				if !ok {
					return
				}
				if !yield(e, nil) {
					return
				}
			}
		}
	}
}
