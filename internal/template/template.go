// Package template compiles strings with {placeholder} expressions and
// resolves them against an event and the process environment.
//
// A placeholder is {expr} or {expr || default}. A plain-name expr resolves
// through the chain payload field, event metadata, system property,
// environment variable, default. An expr containing a path separator is a
// nested lookup into the payload only: it never falls back to the
// environment, as nested paths are meaningless there.
package template

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/msgpo/lumber-mill/internal/event"
)

var (
	// ErrUnresolved means a placeholder had no value anywhere in its
	// resolution chain and no default.
	ErrUnresolved = errors.New("unresolved template reference")

	// ErrConversion means a typed read resolved to a string that does not
	// parse as the requested type.
	ErrConversion = errors.New("malformed value for typed read")
)

type segment struct {
	literal string

	// placeholder fields, used when literal is empty and expr is not
	expr    string
	pointer bool
	def     string
	hasDef  bool
}

// Template is the immutable compiled form of a placeholder string. It is
// safe for concurrent use.
type Template struct {
	src  string
	segs []segment
}

// Compile parses src into a Template. It fails on an unterminated or
// empty placeholder.
func Compile(src string) (*Template, error) {
	t := &Template{src: src}
	rest := src
	for {
		open := strings.IndexByte(rest, '{')
		if open < 0 {
			if rest != "" {
				t.segs = append(t.segs, segment{literal: rest})
			}
			return t, nil
		}
		if open > 0 {
			t.segs = append(t.segs, segment{literal: rest[:open]})
		}
		rest = rest[open+1:]
		end := strings.IndexByte(rest, '}')
		if end < 0 {
			return nil, fmt.Errorf("compile template %q: unterminated placeholder", src)
		}
		seg, err := parsePlaceholder(rest[:end])
		if err != nil {
			return nil, fmt.Errorf("compile template %q: %w", src, err)
		}
		t.segs = append(t.segs, seg)
		rest = rest[end+1:]
	}
}

func parsePlaceholder(body string) (segment, error) {
	var seg segment
	if i := strings.Index(body, "||"); i >= 0 {
		seg.def = strings.TrimSpace(body[i+2:])
		seg.hasDef = true
		body = body[:i]
	}
	seg.expr = strings.TrimSpace(body)
	if seg.expr == "" {
		return segment{}, errors.New("empty placeholder")
	}
	seg.pointer = strings.ContainsRune(seg.expr, '/')
	return seg, nil
}

// MustCompile is Compile for templates known good at build time; it
// panics on error.
func MustCompile(src string) *Template {
	t, err := Compile(src)
	if err != nil {
		panic(err)
	}
	return t
}

// String returns the source the template was compiled from.
func (t *Template) String() string { return t.src }

// Literal reports whether the template has no placeholders and resolves
// to its source unchanged.
func (t *Template) Literal() bool {
	for _, seg := range t.segs {
		if seg.expr != "" {
			return false
		}
	}
	return true
}

// Resolve substitutes every placeholder with its value for e, consulting
// env for the property and environment-variable fallbacks. Placeholders
// resolve independently, left to right.
func (t *Template) Resolve(e *event.Event, env Env) (string, error) {
	var b strings.Builder
	for _, seg := range t.segs {
		if seg.expr == "" {
			b.WriteString(seg.literal)
			continue
		}
		v, err := seg.resolve(e, env)
		if err != nil {
			return "", err
		}
		b.WriteString(v)
	}
	return b.String(), nil
}

func (seg segment) resolve(e *event.Event, env Env) (string, error) {
	if v, ok := seg.value(e, env); ok {
		return v, nil
	}
	if seg.hasDef {
		return seg.def, nil
	}
	return "", fmt.Errorf("placeholder %q: %w", seg.expr, ErrUnresolved)
}

func (seg segment) value(e *event.Event, env Env) (string, bool) {
	if seg.pointer {
		v, ok := e.Payload().Pointer(seg.expr)
		if !ok {
			return "", false
		}
		return v.Text(), true
	}
	if v, ok := e.Field(seg.expr); ok {
		return v, true
	}
	if env == nil {
		return "", false
	}
	if v, ok := env.LookupProperty(seg.expr); ok {
		return v, true
	}
	if v, ok := env.LookupEnv(seg.expr); ok {
		return v, true
	}
	return "", false
}

// ResolveInt resolves the template and parses the result as an integer.
func (t *Template) ResolveInt(e *event.Event, env Env) (int64, error) {
	s, err := t.Resolve(e, env)
	if err != nil {
		return 0, err
	}
	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("template %q value %q: %w", t.src, s, ErrConversion)
	}
	return n, nil
}

// ResolveFloat resolves the template and parses the result as a float.
func (t *Template) ResolveFloat(e *event.Event, env Env) (float64, error) {
	s, err := t.Resolve(e, env)
	if err != nil {
		return 0, err
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, fmt.Errorf("template %q value %q: %w", t.src, s, ErrConversion)
	}
	return f, nil
}

// ResolveBool resolves the template and parses the result as a boolean
// per strconv.ParseBool.
func (t *Template) ResolveBool(e *event.Event, env Env) (bool, error) {
	s, err := t.Resolve(e, env)
	if err != nil {
		return false, err
	}
	b, err := strconv.ParseBool(strings.TrimSpace(s))
	if err != nil {
		return false, fmt.Errorf("template %q value %q: %w", t.src, s, ErrConversion)
	}
	return b, nil
}

// ResolveDuration resolves the template and parses the result per
// time.ParseDuration.
func (t *Template) ResolveDuration(e *event.Event, env Env) (time.Duration, error) {
	s, err := t.Resolve(e, env)
	if err != nil {
		return 0, err
	}
	d, err := time.ParseDuration(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("template %q value %q: %w", t.src, s, ErrConversion)
	}
	return d, nil
}
