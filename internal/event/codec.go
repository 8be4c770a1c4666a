package event

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// Text wraps a line of text in a structured event: the line under
// "message" plus an empty tags array.
func Text(line []byte) *Event {
	payload := NewObject()
	payload.Set("message", NewString(string(line)))
	payload.Set(TagsField, NewArray())
	return New(payload)
}

// ParseJSON decodes data as a JSON document and returns a structured
// event holding it.
func ParseJSON(data []byte) (*Event, error) {
	var v Value
	if err := v.UnmarshalJSON(data); err != nil {
		return nil, fmt.Errorf("parse json event: %w", err)
	}
	return New(v), nil
}

// EncodeJSON serializes an event for the wire: raw bytes verbatim, the
// payload as JSON otherwise.
func EncodeJSON(e *Event) ([]byte, error) {
	return e.Raw()
}

// EncodeMsgpack serializes an event's content as msgpack: the payload
// tree for structured events, a bin value for raw ones. Metadata is
// origin bookkeeping, not content, and is left to the transport (record
// headers and the like).
func EncodeMsgpack(e *Event) ([]byte, error) {
	if !e.Structured() {
		data, err := msgpack.Marshal(e.raw)
		if err != nil {
			return nil, fmt.Errorf("encode msgpack event: %w", err)
		}
		return data, nil
	}
	data, err := msgpack.Marshal(e.Payload().Interface())
	if err != nil {
		return nil, fmt.Errorf("encode msgpack event: %w", err)
	}
	return data, nil
}

// ParseMsgpack decodes msgpack data into a structured event.
func ParseMsgpack(data []byte) (*Event, error) {
	var x any
	if err := msgpack.Unmarshal(data, &x); err != nil {
		return nil, fmt.Errorf("parse msgpack event: %w", err)
	}
	v, err := FromInterface(x)
	if err != nil {
		return nil, fmt.Errorf("parse msgpack event: %w", err)
	}
	return New(v), nil
}
