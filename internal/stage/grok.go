package stage

import (
	"context"
	"fmt"

	"github.com/vjeantet/grok"

	"github.com/msgpo/lumber-mill/internal/event"
	"github.com/msgpo/lumber-mill/internal/pipeline"
)

// GrokConfig configures a Grok extraction stage.
type GrokConfig struct {
	// Field is the input field holding the text to match. Defaults to
	// "message".
	Field string

	// Pattern is the grok expression, e.g. "%{COMBINEDAPACHELOG}". The
	// bundled pattern catalog is always available.
	Pattern string

	// Patterns adds custom pattern definitions by name.
	Patterns map[string]string

	// DropOnFailure aborts events that do not match instead of the
	// default tag-and-continue.
	DropOnFailure bool

	// FailureTag is added to non-matching events when DropOnFailure is
	// off. Defaults to "_grokparsefailure".
	FailureTag string
}

// Grok matches a pattern against one field and merges the named captures
// into the payload. A non-match is recoverable by default: the event is
// tagged and continues downstream.
func Grok(cfg GrokConfig) (pipeline.Stage, error) {
	if cfg.Field == "" {
		cfg.Field = "message"
	}
	if cfg.FailureTag == "" {
		cfg.FailureTag = "_grokparsefailure"
	}

	g, err := grok.NewWithConfig(&grok.Config{NamedCapturesOnly: true})
	if err != nil {
		return nil, fmt.Errorf("grok: %w", err)
	}
	for name, p := range cfg.Patterns {
		if err := g.AddPattern(name, p); err != nil {
			return nil, fmt.Errorf("grok pattern %q: %w", name, err)
		}
	}
	// Force pattern compilation now so a bad pattern fails construction,
	// not the first event.
	if _, err := g.Parse(cfg.Pattern, ""); err != nil {
		return nil, fmt.Errorf("grok pattern %q: %w", cfg.Pattern, err)
	}

	noMatch := func(e *event.Event) ([]*event.Event, error) {
		if cfg.DropOnFailure {
			return nil, fmt.Errorf("grok field %q: %w", cfg.Field, ErrNoMatch)
		}
		if err := e.AddTag(cfg.FailureTag); err != nil {
			return nil, err
		}
		return []*event.Event{e}, nil
	}

	return pipeline.FlatMap(func(_ context.Context, e *event.Event) ([]*event.Event, error) {
		text, ok := e.Field(cfg.Field)
		if !ok {
			return noMatch(e)
		}
		matched, err := g.Match(cfg.Pattern, text)
		if err != nil {
			return nil, fmt.Errorf("grok: %w", err)
		}
		if !matched {
			return noMatch(e)
		}
		captures, err := g.ParseTyped(cfg.Pattern, text)
		if err != nil {
			return nil, fmt.Errorf("grok: %w", err)
		}
		for name, capture := range captures {
			v, err := event.FromInterface(capture)
			if err != nil {
				return nil, fmt.Errorf("grok capture %q: %w", name, err)
			}
			if err := e.Put(name, v); err != nil {
				return nil, err
			}
		}
		return []*event.Event{e}, nil
	}), nil
}
