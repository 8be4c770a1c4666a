package kafka

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/msgpo/lumber-mill/internal/event"
	"github.com/msgpo/lumber-mill/internal/template"
)

// newTestSink builds a sink without touching a broker; franz-go clients
// connect lazily.
func newTestSink(t *testing.T, cfg Config) *Sink {
	t.Helper()

	if cfg.Brokers == nil {
		cfg.Brokers = []string{"127.0.0.1:9092"}
	}
	if cfg.Topic == "" {
		cfg.Topic = "events"
	}

	s, err := New(cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	t.Cleanup(func() {
		if err := s.Close(context.Background()); err != nil {
			t.Errorf("Close failed: %v", err)
		}
	})
	return s
}

func TestNewValidation(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"no brokers", Config{Topic: "events"}},
		{"no topic", Config{Brokers: []string{"127.0.0.1:9092"}}},
		{"bad encoding", Config{Brokers: []string{"127.0.0.1:9092"}, Topic: "events", Encoding: "xml"}},
		{"bad sasl mechanism", Config{Brokers: []string{"127.0.0.1:9092"}, Topic: "events", SASL: &SASLConfig{Mechanism: "kerberos"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.cfg); err == nil {
				t.Fatal("expected error, got nil")
			}
		})
	}
}

func TestRecordJSONValue(t *testing.T) {
	s := newTestSink(t, Config{})

	payload := event.NewObject()
	payload.Set("id", event.NewString("e1"))
	e := event.New(payload)

	rec, err := s.record(e)
	if err != nil {
		t.Fatalf("record failed: %v", err)
	}
	if got, want := string(rec.Value), `{"id":"e1"}`; got != want {
		t.Errorf("value = %q, want %q", got, want)
	}
	if rec.Key != nil {
		t.Errorf("unexpected key %q", rec.Key)
	}
	if len(rec.Headers) != 0 {
		t.Errorf("unexpected headers %v", rec.Headers)
	}
}

func TestRecordMsgpackValue(t *testing.T) {
	s := newTestSink(t, Config{Encoding: EncodingMsgpack})

	payload := event.NewObject()
	payload.Set("id", event.NewString("e1"))
	e := event.New(payload)

	rec, err := s.record(e)
	if err != nil {
		t.Fatalf("record failed: %v", err)
	}
	want, err := event.EncodeMsgpack(e)
	if err != nil {
		t.Fatalf("EncodeMsgpack failed: %v", err)
	}
	if !bytes.Equal(rec.Value, want) {
		t.Errorf("value = %x, want %x", rec.Value, want)
	}
}

func TestRecordKeyAndHeaders(t *testing.T) {
	s := newTestSink(t, Config{Key: template.MustCompile("{id}")})

	payload := event.NewObject()
	payload.Set("id", event.NewString("e1"))
	e := event.New(payload)
	e.SetMeta("key", "2024/a.log")
	e.SetMeta("bucket", "inbox")

	rec, err := s.record(e)
	if err != nil {
		t.Fatalf("record failed: %v", err)
	}
	if got, want := string(rec.Key), "e1"; got != want {
		t.Errorf("key = %q, want %q", got, want)
	}

	// Headers carry metadata in key order.
	if len(rec.Headers) != 2 {
		t.Fatalf("expected 2 headers, got %v", rec.Headers)
	}
	if rec.Headers[0].Key != "bucket" || string(rec.Headers[0].Value) != "inbox" {
		t.Errorf("header 0 = %s=%s", rec.Headers[0].Key, rec.Headers[0].Value)
	}
	if rec.Headers[1].Key != "key" || string(rec.Headers[1].Value) != "2024/a.log" {
		t.Errorf("header 1 = %s=%s", rec.Headers[1].Key, rec.Headers[1].Value)
	}
}

func TestRecordKeyUnresolved(t *testing.T) {
	s := newTestSink(t, Config{Key: template.MustCompile("{missing}")})

	_, err := s.record(event.New(event.NewObject()))
	if !errors.Is(err, template.ErrUnresolved) {
		t.Fatalf("expected ErrUnresolved, got %v", err)
	}
}

func TestBuildSASLMechanism(t *testing.T) {
	tests := []struct {
		mechanism string
		wantName  string
	}{
		{"plain", "PLAIN"},
		{"scram-sha-256", "SCRAM-SHA-256"},
		{"scram-sha-512", "SCRAM-SHA-512"},
	}

	for _, tt := range tests {
		t.Run(tt.mechanism, func(t *testing.T) {
			mech, err := buildSASLMechanism(&SASLConfig{Mechanism: tt.mechanism, User: "u", Password: "p"})
			if err != nil {
				t.Fatalf("buildSASLMechanism failed: %v", err)
			}
			if got := mech.Name(); got != tt.wantName {
				t.Errorf("Name() = %q, want %q", got, tt.wantName)
			}
		})
	}

	if _, err := buildSASLMechanism(&SASLConfig{Mechanism: "kerberos"}); err == nil {
		t.Fatal("expected error for unknown mechanism")
	}
}
