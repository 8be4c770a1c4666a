// Package cloudwatch turns batched CloudWatch Logs push payloads into
// one event per contained log record.
//
// A push payload is a JSON envelope whose awslogs.data member holds a
// base64-encoded, gzip-compressed batch. The batch names its logGroup
// and logStream once and carries the records under logEvents, each
// with a millisecond timestamp.
package cloudwatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/msgpo/lumber-mill/internal/codec"
	"github.com/msgpo/lumber-mill/internal/event"
	"github.com/msgpo/lumber-mill/internal/pipeline"
	"github.com/msgpo/lumber-mill/internal/stage"
)

// Stages returns the fixed decode chain: extract the embedded base64
// blob, decode it, gunzip, parse the JSON batch, fan out one event per
// log record with the batch's logGroup and logStream stamped on, then
// normalize the millisecond timestamp into the canonical timestamp
// field and drop the original. A record without a usable timestamp
// fails alone; its siblings continue.
func Stages() []pipeline.Stage {
	return []pipeline.Stage{
		stage.ExtractField("/awslogs/data"),
		stage.Base64Decode(),
		stage.Decompress(codec.Gzip),
		stage.ParseJSON(),
		flatten(),
		stage.TimestampFromMs("timestamp"),
		stage.RemoveField("timestamp"),
	}
}

// New builds a decoder pipeline.
func New(logger *slog.Logger) *pipeline.Pipeline {
	return pipeline.New(pipeline.Config{Stages: Stages(), Logger: logger})
}

// Handle decodes one raw push payload through p, handing each record to
// sink under a fresh run scope.
func Handle(ctx context.Context, p *pipeline.Pipeline, payload []byte, sink pipeline.Sink) error {
	e, err := event.ParseJSON(payload)
	if err != nil {
		return fmt.Errorf("%w: %w", codec.ErrDecode, err)
	}
	return p.RunOne(ctx, e, sink)
}

// flatten fans a parsed batch into one child per log record,
// denormalizing the batch's logGroup and logStream onto each. An empty
// record sequence yields zero children, which is valid.
func flatten() pipeline.Stage {
	return pipeline.FlatMap(func(_ context.Context, e *event.Event) ([]*event.Event, error) {
		records, ok := e.Lookup("logEvents")
		if !ok {
			return nil, errors.New("batch has no logEvents")
		}
		if records.Kind() != event.Array {
			return nil, fmt.Errorf("batch logEvents is %s, want array", records.Kind())
		}
		logGroup, _ := e.Lookup("logGroup")
		logStream, _ := e.Lookup("logStream")

		var out []*event.Event
		for rec := range records.Items() {
			child := e.NewChild(rec)
			if err := child.Put("logGroup", logGroup); err != nil {
				return nil, fmt.Errorf("log record: %w", err)
			}
			if err := child.Put("logStream", logStream); err != nil {
				return nil, fmt.Errorf("log record: %w", err)
			}
			out = append(out, child)
		}
		return out, nil
	})
}
