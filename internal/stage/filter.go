package stage

import (
	"context"
	"errors"
	"fmt"

	"github.com/msgpo/lumber-mill/internal/event"
	"github.com/msgpo/lumber-mill/internal/expr"
	"github.com/msgpo/lumber-mill/internal/pipeline"
	"github.com/msgpo/lumber-mill/internal/template"
)

// KeepWhen passes events through while the resolved expression evaluates
// true and drops the rest. An expression whose placeholders cannot be
// resolved counts as false. A malformed expression aborts the event.
func KeepWhen(tmpl *template.Template, env template.Env) pipeline.Stage {
	return filterWhen(tmpl, env, true)
}

// SkipWhen drops events while the resolved expression evaluates true and
// passes the rest through; the mirror of KeepWhen.
func SkipWhen(tmpl *template.Template, env template.Env) pipeline.Stage {
	return filterWhen(tmpl, env, false)
}

func filterWhen(tmpl *template.Template, env template.Env, keepOnTrue bool) pipeline.Stage {
	return pipeline.Filter(func(_ context.Context, e *event.Event) (bool, error) {
		src, err := tmpl.Resolve(e, env)
		if err != nil {
			if errors.Is(err, template.ErrUnresolved) {
				return !keepOnTrue, nil
			}
			return false, err
		}
		v, err := expr.Eval(src)
		if err != nil {
			return false, fmt.Errorf("filter expression %q: %w", src, err)
		}
		return v == keepOnTrue, nil
	})
}
