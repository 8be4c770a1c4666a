package stage

import (
	"context"
	"errors"

	"github.com/msgpo/lumber-mill/internal/event"
	"github.com/msgpo/lumber-mill/internal/lookup"
	"github.com/msgpo/lumber-mill/internal/pipeline"
	"github.com/msgpo/lumber-mill/internal/template"
)

// LookupConfig configures an enrichment table stage.
type LookupConfig struct {
	// Source resolves to the value to look up, typically an IP address.
	Source *template.Template
	Env    template.Env

	// Target is the field the attribute object is written to. Defaults
	// to "lookup".
	Target string

	// Fields limits the attributes written; empty means everything the
	// table offers (Table.Suffixes).
	Fields []string

	// Table is the shared enrichment table, typically one per process.
	Table lookup.Table
}

// Lookup enriches events with attributes resolved from an enrichment
// table, such as geographic data for an IP address. Events whose source
// value is missing or absent from the table pass through unchanged; a
// miss is not an error.
func Lookup(cfg LookupConfig) pipeline.Stage {
	if cfg.Target == "" {
		cfg.Target = "lookup"
	}
	return pipeline.Map(func(_ context.Context, e *event.Event) (*event.Event, error) {
		value, err := cfg.Source.Resolve(e, cfg.Env)
		if err != nil {
			if errors.Is(err, template.ErrUnresolved) {
				return e, nil
			}
			return nil, err
		}
		attrs, ok := cfg.Table.Lookup(value, cfg.Fields)
		if !ok {
			return e, nil
		}
		if err := e.Put(cfg.Target, attrs); err != nil {
			return nil, err
		}
		return e, nil
	})
}
