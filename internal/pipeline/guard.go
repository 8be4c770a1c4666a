package pipeline

import (
	"context"
	"errors"

	"github.com/msgpo/lumber-mill/internal/event"
	"github.com/msgpo/lumber-mill/internal/template"
)

// Predicate decides whether a guarded stage applies to an event.
type Predicate func(ctx context.Context, e *event.Event) (bool, error)

// When wraps inner so it runs only for events satisfying pred; other
// events pass through unchanged. This is how conditional transforms are
// expressed: one decorator instead of a conditional variant per stage.
// A predicate error aborts the event like any stage error.
func When(pred Predicate, inner Stage) Stage {
	return stageFunc(func(ctx context.Context, e *event.Event) ([]*event.Event, error) {
		ok, err := pred(ctx, e)
		if err != nil {
			return nil, err
		}
		if !ok {
			return []*event.Event{e}, nil
		}
		return inner.Apply(ctx, e)
	})
}

// Exists holds when the event carries the named field, in payload or
// metadata.
func Exists(field string) Predicate {
	return func(_ context.Context, e *event.Event) (bool, error) {
		return e.Has(field), nil
	}
}

// Absent holds when the event does not carry the named field.
func Absent(field string) Predicate {
	return func(_ context.Context, e *event.Event) (bool, error) {
		return !e.Has(field), nil
	}
}

// Matches holds when tmpl resolves against the event to exactly want.
// An unresolvable template means no match, not an error, so a guarded
// stage simply does not fire for events missing the field.
func Matches(tmpl *template.Template, want string, env template.Env) Predicate {
	return func(_ context.Context, e *event.Event) (bool, error) {
		got, err := tmpl.Resolve(e, env)
		if err != nil {
			if errors.Is(err, template.ErrUnresolved) {
				return false, nil
			}
			return false, err
		}
		return got == want, nil
	}
}
