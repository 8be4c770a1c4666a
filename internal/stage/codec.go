package stage

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/msgpo/lumber-mill/internal/codec"
	"github.com/msgpo/lumber-mill/internal/event"
	"github.com/msgpo/lumber-mill/internal/pipeline"
)

// Base64Decode decodes the event's raw bytes as base64. Surrounding
// whitespace is tolerated; anything else malformed aborts the event with
// a decode error.
func Base64Decode() pipeline.Stage {
	return pipeline.Map(func(_ context.Context, e *event.Event) (*event.Event, error) {
		raw, err := e.Raw()
		if err != nil {
			return nil, err
		}
		data, err := base64.StdEncoding.DecodeString(strings.TrimSpace(string(raw)))
		if err != nil {
			return nil, fmt.Errorf("base64: %w: %w", codec.ErrDecode, err)
		}
		e.SetRaw(data)
		return e, nil
	})
}

// Base64Encode encodes the event's raw bytes as base64 text.
func Base64Encode() pipeline.Stage {
	return pipeline.Map(func(_ context.Context, e *event.Event) (*event.Event, error) {
		raw, err := e.Raw()
		if err != nil {
			return nil, err
		}
		e.SetRaw([]byte(base64.StdEncoding.EncodeToString(raw)))
		return e, nil
	})
}

// Compress replaces the event's raw bytes with their compressed form.
func Compress(f codec.Format) pipeline.Stage {
	return pipeline.Map(func(_ context.Context, e *event.Event) (*event.Event, error) {
		raw, err := e.Raw()
		if err != nil {
			return nil, err
		}
		packed, err := codec.Compress(f, raw)
		if err != nil {
			return nil, err
		}
		e.SetRaw(packed)
		return e, nil
	})
}

// Decompress replaces the event's raw bytes with their decompressed
// form; malformed input aborts the event with a decode error.
func Decompress(f codec.Format) pipeline.Stage {
	return pipeline.Map(func(_ context.Context, e *event.Event) (*event.Event, error) {
		raw, err := e.Raw()
		if err != nil {
			return nil, err
		}
		data, err := codec.Decompress(f, raw)
		if err != nil {
			return nil, err
		}
		e.SetRaw(data)
		return e, nil
	})
}

// ParseJSON parses the event's raw bytes as a JSON document and makes it
// the structured payload, keeping metadata. Unparsable input aborts the
// event with a decode error.
func ParseJSON() pipeline.Stage {
	return pipeline.Map(func(_ context.Context, e *event.Event) (*event.Event, error) {
		raw, err := e.Raw()
		if err != nil {
			return nil, err
		}
		var v event.Value
		if err := v.UnmarshalJSON(raw); err != nil {
			return nil, fmt.Errorf("parse json: %w: %w", codec.ErrDecode, err)
		}
		e.SetPayload(v)
		return e, nil
	})
}

// ToText wraps the event's raw bytes as a text envelope: a structured
// payload carrying the bytes under "message" with an empty tags array,
// keeping metadata.
func ToText() pipeline.Stage {
	return pipeline.Map(func(_ context.Context, e *event.Event) (*event.Event, error) {
		raw, err := e.Raw()
		if err != nil {
			return nil, err
		}
		payload := event.NewObject()
		payload.Set("message", event.NewString(string(raw)))
		payload.Set(event.TagsField, event.NewArray())
		e.SetPayload(payload)
		return e, nil
	})
}
