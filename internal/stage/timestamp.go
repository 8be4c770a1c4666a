package stage

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/msgpo/lumber-mill/internal/event"
	"github.com/msgpo/lumber-mill/internal/pipeline"
	"github.com/msgpo/lumber-mill/internal/template"
)

// rfc3339Millis keeps millisecond precision and a literal Z for UTC.
const rfc3339Millis = "2006-01-02T15:04:05.000Z07:00"

// FormatTimestamp renders t the way the canonical timestamp field
// carries it.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(rfc3339Millis)
}

// TimestampFromMs reads a millisecond epoch from the named field (number
// or numeric string) and stores its RFC 3339 form in the canonical
// timestamp field. The source field is left in place; chain RemoveField
// to drop it. A missing or non-numeric source aborts the event.
func TimestampFromMs(field string) pipeline.Stage {
	return pipeline.Map(func(_ context.Context, e *event.Event) (*event.Event, error) {
		v, ok := e.Lookup(field)
		if !ok {
			return nil, fmt.Errorf("timestamp field %q: %w", field, template.ErrUnresolved)
		}
		ms, err := v.AsNumber()
		if err != nil {
			s, serr := v.AsString()
			if serr != nil {
				return nil, fmt.Errorf("timestamp field %q: %w", field, err)
			}
			ms, serr = strconv.ParseFloat(s, 64)
			if serr != nil {
				return nil, fmt.Errorf("timestamp field %q value %q: %w", field, s, template.ErrConversion)
			}
		}
		stamp := FormatTimestamp(time.UnixMilli(int64(ms)))
		if err := e.PutString(event.TimestampField, stamp); err != nil {
			return nil, err
		}
		return e, nil
	})
}

// TimestampNow stamps each event with the current time in the canonical
// timestamp field.
func TimestampNow() pipeline.Stage {
	return pipeline.Map(func(_ context.Context, e *event.Event) (*event.Event, error) {
		if err := e.PutString(event.TimestampField, FormatTimestamp(time.Now())); err != nil {
			return nil, err
		}
		return e, nil
	})
}
