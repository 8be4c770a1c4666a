package stage

import (
	"context"
	"fmt"

	"github.com/msgpo/lumber-mill/internal/event"
	"github.com/msgpo/lumber-mill/internal/pipeline"
	"github.com/msgpo/lumber-mill/internal/template"
)

// AddField resolves value against each event and stores the result as a
// string payload field. An unresolvable value aborts the event.
func AddField(name string, value *template.Template, env template.Env) pipeline.Stage {
	return pipeline.Map(func(_ context.Context, e *event.Event) (*event.Event, error) {
		s, err := value.Resolve(e, env)
		if err != nil {
			return nil, fmt.Errorf("add field %q: %w", name, err)
		}
		if err := e.PutString(name, s); err != nil {
			return nil, err
		}
		return e, nil
	})
}

// AddValue stores a fixed payload value under name, for non-string
// constants (numbers, booleans, prebuilt objects).
func AddValue(name string, v event.Value) pipeline.Stage {
	return pipeline.Map(func(_ context.Context, e *event.Event) (*event.Event, error) {
		if err := e.Put(name, v); err != nil {
			return nil, err
		}
		return e, nil
	})
}

// AddMeta resolves value against each event and stores the result in
// event metadata, leaving the payload alone.
func AddMeta(key string, value *template.Template, env template.Env) pipeline.Stage {
	return pipeline.Map(func(_ context.Context, e *event.Event) (*event.Event, error) {
		s, err := value.Resolve(e, env)
		if err != nil {
			return nil, fmt.Errorf("add meta %q: %w", key, err)
		}
		e.SetMeta(key, s)
		return e, nil
	})
}

// RemoveField deletes the named top-level payload fields; names not
// present are ignored.
func RemoveField(names ...string) pipeline.Stage {
	return pipeline.Map(func(_ context.Context, e *event.Event) (*event.Event, error) {
		e.Remove(names...)
		return e, nil
	})
}

// Rename moves a top-level payload field; a missing source is a no-op.
func Rename(from, to string) pipeline.Stage {
	return pipeline.Map(func(_ context.Context, e *event.Event) (*event.Event, error) {
		if err := e.Rename(from, to); err != nil {
			return nil, err
		}
		return e, nil
	})
}

// CopyField duplicates a top-level payload field under a second name; a
// missing source is a no-op.
func CopyField(from, to string) pipeline.Stage {
	return pipeline.Map(func(_ context.Context, e *event.Event) (*event.Event, error) {
		v, ok := e.Lookup(from)
		if !ok {
			return e, nil
		}
		if err := e.Put(to, v); err != nil {
			return nil, err
		}
		return e, nil
	})
}

// ExtractField replaces the event's content with the raw text of one
// payload field, turning a structured event into a bytes event. The
// field may be a nested path. A missing field aborts the event.
func ExtractField(path string) pipeline.Stage {
	return pipeline.Map(func(_ context.Context, e *event.Event) (*event.Event, error) {
		v, ok := lookupPath(e, path)
		if !ok {
			return nil, fmt.Errorf("extract %q: %w", path, template.ErrUnresolved)
		}
		e.SetRaw([]byte(v.Text()))
		return e, nil
	})
}
