// Package pipeline composes transform stages into an ordered, lazily
// applied chain over a stream of events.
//
// A stage maps one event to zero, one, or many events. The pipeline
// threads each input event through every stage, in order, before the
// next input is admitted, so relative event order is preserved except
// where a stage fans out or filters. Per-event failures abort only that
// event's traversal; the stream carries on.
//
// Each terminal run of a source event owns a Scope carried on the
// context: stages register resource cleanups there, and the driver
// closes the scope on every termination path.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"

	petname "github.com/dustinkirkland/golang-petname"
	"github.com/google/uuid"

	"github.com/msgpo/lumber-mill/internal/event"
	"github.com/msgpo/lumber-mill/internal/logging"
)

// Stage transforms one event into zero, one, or many events. Returning
// an empty slice drops the event; returning an error aborts this event's
// traversal without affecting the rest of the stream. Stages mutate the
// event they are handed; ownership is exclusive for the duration of
// Apply.
type Stage interface {
	Apply(ctx context.Context, e *event.Event) ([]*event.Event, error)
}

type stageFunc func(ctx context.Context, e *event.Event) ([]*event.Event, error)

func (f stageFunc) Apply(ctx context.Context, e *event.Event) ([]*event.Event, error) {
	return f(ctx, e)
}

// Map adapts a one-to-one transform into a Stage.
func Map(f func(ctx context.Context, e *event.Event) (*event.Event, error)) Stage {
	return stageFunc(func(ctx context.Context, e *event.Event) ([]*event.Event, error) {
		out, err := f(ctx, e)
		if err != nil {
			return nil, err
		}
		return []*event.Event{out}, nil
	})
}

// FlatMap adapts a fan-out transform into a Stage; the returned events
// keep the order f produced them in.
func FlatMap(f func(ctx context.Context, e *event.Event) ([]*event.Event, error)) Stage {
	return stageFunc(f)
}

// Filter keeps events for which pred returns true and drops the rest.
func Filter(pred func(ctx context.Context, e *event.Event) (bool, error)) Stage {
	return stageFunc(func(ctx context.Context, e *event.Event) ([]*event.Event, error) {
		keep, err := pred(ctx, e)
		if err != nil {
			return nil, err
		}
		if !keep {
			return nil, nil
		}
		return []*event.Event{e}, nil
	})
}

// Sink consumes events leaving a pipeline.
type Sink interface {
	Write(ctx context.Context, e *event.Event) error
}

// Config carries pipeline construction options.
type Config struct {
	Stages []Stage

	// Logger for run lifecycle events. Discard when nil.
	Logger *slog.Logger
}

// Pipeline is an immutable ordered stage chain, safe for concurrent runs.
type Pipeline struct {
	stages []Stage
	log    *slog.Logger
}

// New builds a pipeline from cfg.
func New(cfg Config) *Pipeline {
	return &Pipeline{
		stages: cfg.Stages,
		log:    logging.Default(cfg.Logger).With("component", "pipeline"),
	}
}

// Append returns a new pipeline running stages after the receiver's
// chain. The receiver is unchanged.
func (p *Pipeline) Append(stages ...Stage) *Pipeline {
	combined := make([]Stage, 0, len(p.stages)+len(stages))
	combined = append(combined, p.stages...)
	combined = append(combined, stages...)
	return &Pipeline{stages: combined, log: p.log}
}

// applyAll threads e through every stage in order. Fan-out is breadth
// first per stage: all events produced by stage K traverse stage K+1 in
// order. A failing event is dropped and its error collected; siblings
// continue. Context cancellation is terminal.
func (p *Pipeline) applyAll(ctx context.Context, e *event.Event) ([]*event.Event, error) {
	current := []*event.Event{e}
	var errs []error
	for i, st := range p.stages {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		next := make([]*event.Event, 0, len(current))
		for _, ev := range current {
			outs, err := st.Apply(ctx, ev)
			if err != nil {
				errs = append(errs, fmt.Errorf("stage %d (%T): %w", i+1, st, err))
				continue
			}
			next = append(next, outs...)
		}
		current = next
		if len(current) == 0 {
			break
		}
	}
	return current, errors.Join(errs...)
}

// Through lazily applies the pipeline to src. Events are pulled from src
// one at a time; each is fully threaded through all stages before the
// next is admitted. Per-event failures surface as error elements and the
// stream continues; context cancellation ends it.
func (p *Pipeline) Through(ctx context.Context, src iter.Seq2[*event.Event, error]) iter.Seq2[*event.Event, error] {
	return func(yield func(*event.Event, error) bool) {
		for e, err := range src {
			if cerr := ctx.Err(); cerr != nil {
				yield(nil, cerr)
				return
			}
			if err != nil {
				if !yield(nil, err) {
					return
				}
				continue
			}
			outs, err := p.applyAll(ctx, e)
			if err != nil {
				if !yield(nil, err) {
					return
				}
				if ctx.Err() != nil {
					return
				}
			}
			for _, out := range outs {
				if !yield(out, nil) {
					return
				}
			}
		}
	}
}

// Collect drains a stream into a slice, stopping at the first error.
func Collect(src iter.Seq2[*event.Event, error]) ([]*event.Event, error) {
	var out []*event.Event
	for e, err := range src {
		if err != nil {
			return out, err
		}
		out = append(out, e)
	}
	return out, nil
}

// RunOne threads a single source event through the pipeline and hands
// every derived event to sink, under a fresh run scope. The scope closes
// before RunOne returns: success actions fire only when every stage and
// every sink write succeeded, deferred actions fire regardless. The
// returned error joins whatever went wrong; nil means the run succeeded.
func (p *Pipeline) RunOne(ctx context.Context, e *event.Event, sink Sink) error {
	run := NewScope()
	log := p.log.With("run", uuid.Must(uuid.NewV7()).String(), "label", petname.Generate(2, "-"))
	ctx = WithScope(ctx, run)

	var errs []error
	outs, err := p.applyAll(ctx, e)
	if err != nil {
		errs = append(errs, err)
	}
	for _, out := range outs {
		if err := sink.Write(ctx, out); err != nil {
			errs = append(errs, fmt.Errorf("sink: %w", err))
		}
	}

	ok := len(errs) == 0 && ctx.Err() == nil
	run.Close(ok)
	if !ok {
		err := errors.Join(errs...)
		if err == nil {
			err = ctx.Err()
		}
		log.Warn("run failed", "error", err)
		return err
	}
	log.Debug("run finished", "emitted", len(outs))
	return nil
}

// Run drives src to exhaustion, giving each source event its own scoped
// run via RunOne. Per-event failures are logged and skipped; Run returns
// only the context's error, once cancelled, or nil when the source ends.
func (p *Pipeline) Run(ctx context.Context, src iter.Seq2[*event.Event, error], sink Sink) error {
	for e, err := range src {
		if cerr := ctx.Err(); cerr != nil {
			return cerr
		}
		if err != nil {
			p.log.Warn("source error", "error", err)
			continue
		}
		_ = p.RunOne(ctx, e, sink)
	}
	return ctx.Err()
}
