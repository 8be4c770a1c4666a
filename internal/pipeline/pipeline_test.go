package pipeline

import (
	"context"
	"errors"
	"strconv"
	"testing"

	"github.com/msgpo/lumber-mill/internal/event"
	"github.com/msgpo/lumber-mill/internal/source"
	"github.com/msgpo/lumber-mill/internal/template"
)

func evJSON(t *testing.T, src string) *event.Event {
	t.Helper()
	e, err := event.ParseJSON([]byte(src))
	if err != nil {
		t.Fatalf("parse %q: %v", src, err)
	}
	return e
}

type memSink struct {
	events []*event.Event
	err    error
}

func (s *memSink) Write(_ context.Context, e *event.Event) error {
	if s.err != nil {
		return s.err
	}
	s.events = append(s.events, e)
	return nil
}

func addField(name string, v float64) Stage {
	return Map(func(_ context.Context, e *event.Event) (*event.Event, error) {
		if err := e.PutNumber(name, v); err != nil {
			return nil, err
		}
		return e, nil
	})
}

func TestThroughOrderingAndFilter(t *testing.T) {
	p := New(Config{Stages: []Stage{
		addField("x", 1),
		Filter(func(_ context.Context, e *event.Event) (bool, error) {
			v, _ := e.Field("x")
			return v == "1", nil
		}),
	}})

	first := evJSON(t, `{"id":"a"}`)
	second := evJSON(t, `{"id":"b"}`)
	got, err := Collect(p.Through(context.Background(), source.FromSlice(first, second)))
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d events, want 2", len(got))
	}
	for i, want := range []string{"a", "b"} {
		if id, _ := got[i].Field("id"); id != want {
			t.Errorf("event %d id = %q, want %q", i, id, want)
		}
	}
}

func TestAppendExtendsChain(t *testing.T) {
	base := New(Config{Stages: []Stage{addField("x", 1)}})
	extended := base.Append(addField("y", 2))

	got, err := Collect(extended.Through(context.Background(), source.FromSlice(evJSON(t, `{}`))))
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if len(got) != 1 || !got[0].Has("x") || !got[0].Has("y") {
		t.Fatal("appended chain did not run both stages")
	}

	got, err = Collect(base.Through(context.Background(), source.FromSlice(evJSON(t, `{}`))))
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if len(got) != 1 || got[0].Has("y") {
		t.Error("Append mutated the receiver")
	}
}

func TestThroughFilterAll(t *testing.T) {
	p := New(Config{Stages: []Stage{
		Filter(func(context.Context, *event.Event) (bool, error) { return false, nil }),
	}})
	got, err := Collect(p.Through(context.Background(), source.FromSlice(evJSON(t, `{}`), evJSON(t, `{}`))))
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("got %d events, want 0", len(got))
	}
}

func TestThroughFanOut(t *testing.T) {
	split := FlatMap(func(_ context.Context, e *event.Event) ([]*event.Event, error) {
		var out []*event.Event
		items, _ := e.Lookup("items")
		for item := range items.Items() {
			child := event.NewObject()
			child.Set("item", item)
			out = append(out, e.NewChild(child))
		}
		return out, nil
	})
	p := New(Config{Stages: []Stage{split, addField("seen", 1)}})

	src := source.FromSlice(evJSON(t, `{"items":[10,20,30]}`), evJSON(t, `{"items":[]}`))
	got, err := Collect(p.Through(context.Background(), src))
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d events, want 3", len(got))
	}
	for i, want := range []string{"10", "20", "30"} {
		if v, _ := got[i].Field("item"); v != want {
			t.Errorf("event %d item = %q, want %q", i, v, want)
		}
		if !got[i].Has("seen") {
			t.Errorf("event %d skipped the stage after fan-out", i)
		}
	}
}

func TestThroughPerEventErrorIsolation(t *testing.T) {
	boom := errors.New("boom")
	failOn := Map(func(_ context.Context, e *event.Event) (*event.Event, error) {
		if id, _ := e.Field("id"); id == "bad" {
			return nil, boom
		}
		return e, nil
	})
	p := New(Config{Stages: []Stage{failOn}})

	src := source.FromSlice(evJSON(t, `{"id":"a"}`), evJSON(t, `{"id":"bad"}`), evJSON(t, `{"id":"c"}`))
	var got []string
	var errs []error
	for e, err := range p.Through(context.Background(), src) {
		if err != nil {
			errs = append(errs, err)
			continue
		}
		id, _ := e.Field("id")
		got = append(got, id)
	}
	if len(errs) != 1 || !errors.Is(errs[0], boom) {
		t.Fatalf("errs = %v, want one boom", errs)
	}
	if len(got) != 2 || got[0] != "a" || got[1] != "c" {
		t.Errorf("survivors = %v, want [a c]", got)
	}
}

func TestThroughLazy(t *testing.T) {
	produced := 0
	src := func(yield func(*event.Event, error) bool) {
		for i := 0; i < 100; i++ {
			produced++
			if !yield(evJSON(t, `{"n":`+strconv.Itoa(i)+`}`), nil) {
				return
			}
		}
	}
	p := New(Config{Stages: []Stage{addField("x", 1)}})

	taken := 0
	for range p.Through(context.Background(), src) {
		taken++
		if taken == 3 {
			break
		}
	}
	if produced != 3 {
		t.Errorf("source produced %d events for 3 taken; stream is not lazy", produced)
	}
}

func TestThroughCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	src := func(yield func(*event.Event, error) bool) {
		for i := 0; ; i++ {
			if !yield(evJSON(t, `{}`), nil) {
				return
			}
			if i == 1 {
				cancel()
			}
		}
	}
	p := New(Config{Stages: []Stage{addField("x", 1)}})

	var last error
	n := 0
	for _, err := range p.Through(ctx, src) {
		if err != nil {
			last = err
			continue
		}
		n++
	}
	if !errors.Is(last, context.Canceled) {
		t.Fatalf("final error = %v, want context.Canceled", last)
	}
	if n > 2 {
		t.Errorf("emitted %d events after cancellation", n)
	}
}

func TestScopeOrdering(t *testing.T) {
	var order []string
	s := NewScope()
	s.Defer(func() { order = append(order, "defer-1") })
	s.OnSuccess(func() { order = append(order, "success-1") })
	s.Defer(func() { order = append(order, "defer-2") })
	s.OnSuccess(func() { order = append(order, "success-2") })

	s.Close(true)
	want := []string{"success-2", "success-1", "defer-2", "defer-1"}
	if len(order) != len(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}

	// Second close is a no-op.
	s.Close(true)
	if len(order) != len(want) {
		t.Errorf("second Close reran actions: %v", order)
	}

	// Registration after close still releases the resource.
	ran := false
	s.Defer(func() { ran = true })
	if !ran {
		t.Error("Defer after Close did not run")
	}
	s.OnSuccess(func() { t.Error("OnSuccess after Close ran") })
}

func TestScopeFailureSkipsSuccessActions(t *testing.T) {
	var order []string
	s := NewScope()
	s.Defer(func() { order = append(order, "defer") })
	s.OnSuccess(func() { order = append(order, "success") })
	s.Close(false)
	if len(order) != 1 || order[0] != "defer" {
		t.Errorf("order = %v, want [defer]", order)
	}
}

func TestRunOneClosesScope(t *testing.T) {
	var deferred, succeeded bool
	register := Map(func(ctx context.Context, e *event.Event) (*event.Event, error) {
		s := ScopeFrom(ctx)
		if s == nil {
			return nil, errors.New("no scope on context")
		}
		s.Defer(func() { deferred = true })
		s.OnSuccess(func() { succeeded = true })
		return e, nil
	})

	t.Run("success", func(t *testing.T) {
		deferred, succeeded = false, false
		sink := &memSink{}
		p := New(Config{Stages: []Stage{register}})
		if err := p.RunOne(context.Background(), evJSON(t, `{}`), sink); err != nil {
			t.Fatalf("RunOne: %v", err)
		}
		if !deferred || !succeeded {
			t.Errorf("deferred=%v succeeded=%v, want both", deferred, succeeded)
		}
		if len(sink.events) != 1 {
			t.Errorf("sink got %d events", len(sink.events))
		}
	})

	t.Run("stage failure", func(t *testing.T) {
		deferred, succeeded = false, false
		boom := errors.New("boom")
		fail := Map(func(context.Context, *event.Event) (*event.Event, error) { return nil, boom })
		p := New(Config{Stages: []Stage{register, fail}})
		err := p.RunOne(context.Background(), evJSON(t, `{}`), &memSink{})
		if !errors.Is(err, boom) {
			t.Fatalf("RunOne err = %v, want boom", err)
		}
		if !deferred || succeeded {
			t.Errorf("deferred=%v succeeded=%v, want true/false", deferred, succeeded)
		}
	})

	t.Run("sink failure", func(t *testing.T) {
		deferred, succeeded = false, false
		sinkErr := errors.New("sink down")
		p := New(Config{Stages: []Stage{register}})
		err := p.RunOne(context.Background(), evJSON(t, `{}`), &memSink{err: sinkErr})
		if !errors.Is(err, sinkErr) {
			t.Fatalf("RunOne err = %v, want sink error", err)
		}
		if !deferred || succeeded {
			t.Errorf("deferred=%v succeeded=%v, want true/false", deferred, succeeded)
		}
	})

	t.Run("cancellation", func(t *testing.T) {
		deferred, succeeded = false, false
		ctx, cancel := context.WithCancel(context.Background())
		interrupt := Map(func(context.Context, *event.Event) (*event.Event, error) {
			cancel()
			return nil, ctx.Err()
		})
		p := New(Config{Stages: []Stage{register, interrupt}})
		if err := p.RunOne(ctx, evJSON(t, `{}`), &memSink{}); err == nil {
			t.Fatal("RunOne succeeded despite cancellation")
		}
		if !deferred || succeeded {
			t.Errorf("deferred=%v succeeded=%v, want true/false", deferred, succeeded)
		}
	})
}

func TestRunDrainsSource(t *testing.T) {
	sink := &memSink{}
	p := New(Config{Stages: []Stage{addField("x", 1)}})
	src := source.FromSlice(evJSON(t, `{"id":"a"}`), evJSON(t, `{"id":"b"}`))
	if err := p.Run(context.Background(), src, sink); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(sink.events) != 2 {
		t.Fatalf("sink got %d events, want 2", len(sink.events))
	}
}

func TestWhenGuard(t *testing.T) {
	mark := addField("marked", 1)

	tests := []struct {
		name     string
		pred     Predicate
		payload  string
		wantMark bool
	}{
		{"exists hit", Exists("ip"), `{"ip":"1.2.3.4"}`, true},
		{"exists miss", Exists("ip"), `{}`, false},
		{"absent hit", Absent("ip"), `{}`, true},
		{"absent miss", Absent("ip"), `{"ip":"x"}`, false},
		{"match hit", Matches(template.MustCompile("{env}"), "prod", template.MapEnv{}), `{"env":"prod"}`, true},
		{"match miss", Matches(template.MustCompile("{env}"), "prod", template.MapEnv{}), `{"env":"dev"}`, false},
		{"match unresolved", Matches(template.MustCompile("{env}"), "prod", template.MapEnv{}), `{}`, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := evJSON(t, tt.payload)
			outs, err := When(tt.pred, mark).Apply(context.Background(), e)
			if err != nil {
				t.Fatalf("apply: %v", err)
			}
			if len(outs) != 1 {
				t.Fatalf("got %d events, want 1", len(outs))
			}
			if outs[0].Has("marked") != tt.wantMark {
				t.Errorf("marked = %v, want %v", outs[0].Has("marked"), tt.wantMark)
			}
		})
	}
}

func TestWhenMetadataPredicate(t *testing.T) {
	e := event.FromBytes([]byte("raw"))
	e.SetMeta("suffix", ".gz")
	ok, err := Exists("suffix")(context.Background(), e)
	if err != nil || !ok {
		t.Errorf("Exists over metadata = %v, %v", ok, err)
	}
}
