// Package stage is the library of transform stages pipelines are built
// from: field manipulation, codecs, filtering, pattern extraction, and
// enrichment. Every constructor returns a pipeline.Stage; stages that
// take templates resolve them per event against the supplied
// environment.
package stage

import (
	"errors"
	"strings"

	"github.com/msgpo/lumber-mill/internal/event"
)

// ErrNoMatch means a pattern stage found no match in its input. It is
// recoverable: the default policy tags the event and continues.
var ErrNoMatch = errors.New("pattern did not match")

// lookupPath reads a field off an event: a name containing a path
// separator is a nested payload lookup, anything else a top-level field
// with metadata fallback.
func lookupPath(e *event.Event, path string) (event.Value, bool) {
	if strings.ContainsRune(path, '/') {
		return e.Payload().Pointer(path)
	}
	return e.Lookup(path)
}
