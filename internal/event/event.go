package event

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"strings"
)

// Well-known payload fields.
const (
	// TagsField holds an event's tags.
	TagsField = "tags"

	// TimestampField is the canonical event timestamp, RFC 3339 UTC with
	// millisecond precision.
	TimestampField = "@timestamp"
)

// Event is the unit flowing through a pipeline. It carries either a
// structured payload (a Value tree) or opaque raw bytes, plus a flat
// string metadata map describing where the event came from (bucket,
// object key, log group, and the like).
//
// Metadata never shadows payload fields: lookups consult the payload
// first and fall back to metadata only when the payload has no such
// member.
type Event struct {
	payload    Value
	raw        []byte
	structured bool
	meta       map[string]string
}

// New returns a structured event with the given payload.
func New(payload Value) *Event {
	return &Event{payload: payload, structured: true}
}

// FromBytes returns a raw event carrying data verbatim.
func FromBytes(data []byte) *Event {
	return &Event{raw: data}
}

// Structured reports whether e carries a structured payload.
func (e *Event) Structured() bool { return e.structured }

// Payload returns the structured payload. Null for raw events.
func (e *Event) Payload() Value {
	if !e.structured {
		return Value{}
	}
	return e.payload
}

// SetPayload replaces the payload and marks the event structured. Any raw
// bytes are dropped.
func (e *Event) SetPayload(v Value) {
	e.payload = v
	e.raw = nil
	e.structured = true
}

// SetRaw replaces the event's content with opaque bytes. Any structured
// payload is dropped.
func (e *Event) SetRaw(data []byte) {
	e.raw = data
	e.payload = Value{}
	e.structured = false
}

// Raw returns the event's bytes: the raw content for raw events, the
// JSON-encoded payload for structured ones.
func (e *Event) Raw() ([]byte, error) {
	if !e.structured {
		return e.raw, nil
	}
	data, err := json.Marshal(e.payload)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	return data, nil
}

// Lookup returns the named top-level payload member. It does not consult
// metadata; use Field for the combined view.
func (e *Event) Lookup(name string) (Value, bool) {
	if !e.structured {
		return Value{}, false
	}
	return e.payload.Field(name)
}

// Field returns the string rendering of the named top-level payload
// member, falling back to metadata when the payload has no such member.
func (e *Event) Field(name string) (string, bool) {
	if v, ok := e.Lookup(name); ok {
		return v.Text(), true
	}
	v, ok := e.meta[name]
	return v, ok
}

// Has reports whether the payload or metadata carries the named field.
func (e *Event) Has(name string) bool {
	_, ok := e.Field(name)
	return ok
}

// Put stores a top-level payload member. It fails on raw events and on
// structured events whose payload is not an object.
func (e *Event) Put(name string, v Value) error {
	if !e.structured {
		return fmt.Errorf("put %q: event is raw", name)
	}
	if err := e.payload.Set(name, v); err != nil {
		return fmt.Errorf("put %q: %w", name, err)
	}
	return nil
}

// PutString stores a string payload member.
func (e *Event) PutString(name, s string) error { return e.Put(name, NewString(s)) }

// PutNumber stores a number payload member.
func (e *Event) PutNumber(name string, f float64) error { return e.Put(name, NewNumber(f)) }

// Remove deletes the named top-level payload members. Unknown names are
// ignored.
func (e *Event) Remove(names ...string) {
	if !e.structured {
		return
	}
	for _, name := range names {
		e.payload.Delete(name)
	}
}

// Rename moves a top-level payload member to a new name. It is a no-op
// when the source member does not exist.
func (e *Event) Rename(from, to string) error {
	v, ok := e.Lookup(from)
	if !ok {
		return nil
	}
	if err := e.Put(to, v); err != nil {
		return err
	}
	e.payload.Delete(from)
	return nil
}

// Tags returns the event's tags in payload order. For raw events the
// tags live in the "tags" metadata key, comma separated.
func (e *Event) Tags() []string {
	if !e.structured {
		if cur, ok := e.meta[TagsField]; ok && cur != "" {
			return strings.Split(cur, ",")
		}
		return nil
	}
	v, ok := e.Lookup(TagsField)
	if !ok {
		return nil
	}
	var tags []string
	for item := range v.Items() {
		if s, err := item.AsString(); err == nil {
			tags = append(tags, s)
		}
	}
	return tags
}

// HasTag reports whether the event carries the given tag.
func (e *Event) HasTag(tag string) bool {
	return slices.Contains(e.Tags(), tag)
}

// AddTag appends a tag to the event's tags array, creating the array when
// absent. Duplicate tags are kept out. Raw events carry tags in the
// "tags" metadata key instead.
func (e *Event) AddTag(tag string) error {
	if !e.structured {
		cur, ok := e.meta[TagsField]
		switch {
		case !ok || cur == "":
			e.SetMeta(TagsField, tag)
		case !slices.Contains(strings.Split(cur, ","), tag):
			e.SetMeta(TagsField, cur+","+tag)
		}
		return nil
	}
	v, ok := e.Lookup(TagsField)
	if !ok || v.Kind() != Array {
		v = NewArray()
	}
	for item := range v.Items() {
		if s, err := item.AsString(); err == nil && s == tag {
			return nil
		}
	}
	grown, err := v.Append(NewString(tag))
	if err != nil {
		return fmt.Errorf("add tag %q: %w", tag, err)
	}
	return e.Put(TagsField, grown)
}

// Meta returns the named metadata entry.
func (e *Event) Meta(key string) (string, bool) {
	v, ok := e.meta[key]
	return v, ok
}

// SetMeta stores a metadata entry.
func (e *Event) SetMeta(key, value string) {
	if e.meta == nil {
		e.meta = make(map[string]string)
	}
	e.meta[key] = value
}

// Metadata returns a copy of the event's metadata map.
func (e *Event) Metadata() map[string]string {
	if len(e.meta) == 0 {
		return nil
	}
	return maps.Clone(e.meta)
}

// NewChild returns a structured event with the given payload that inherits
// a copy of e's metadata. Denormalizing stages use it to stamp origin info
// onto the events they fan out.
func (e *Event) NewChild(payload Value) *Event {
	child := New(payload)
	if len(e.meta) > 0 {
		child.meta = maps.Clone(e.meta)
	}
	return child
}
