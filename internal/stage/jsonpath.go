package stage

import (
	"context"
	"fmt"

	"github.com/theory/jsonpath"

	"github.com/msgpo/lumber-mill/internal/event"
	"github.com/msgpo/lumber-mill/internal/pipeline"
)

// JSONPathConfig configures a JSONPath extraction stage.
type JSONPathConfig struct {
	// Path is an RFC 9535 JSONPath query, e.g. "$.request.headers".
	Path string

	// Target is the field the selection lands in.
	Target string
}

// JSONPath runs a path query against the structured payload and stores
// the selection under the target field: the node itself for a single
// match, an array for several. Raw events and empty selections pass
// through unchanged.
func JSONPath(cfg JSONPathConfig) (pipeline.Stage, error) {
	p, err := jsonpath.Parse(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("jsonpath %q: %w", cfg.Path, err)
	}
	return pipeline.Map(func(_ context.Context, e *event.Event) (*event.Event, error) {
		if !e.Structured() {
			return e, nil
		}
		nodes := p.Select(e.Payload().Interface())
		if len(nodes) == 0 {
			return e, nil
		}
		items := make([]event.Value, len(nodes))
		for i, node := range nodes {
			v, err := event.FromInterface(node)
			if err != nil {
				return nil, fmt.Errorf("jsonpath %q: %w", cfg.Path, err)
			}
			items[i] = v
		}
		out := items[0]
		if len(items) > 1 {
			out = event.NewArray(items...)
		}
		if err := e.Put(cfg.Target, out); err != nil {
			return nil, err
		}
		return e, nil
	}), nil
}
