package httpsrc

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/msgpo/lumber-mill/internal/codec"
	"github.com/msgpo/lumber-mill/internal/event"
)

// startReceiver runs a receiver on an ephemeral port and returns the
// ingest URL. Shutdown is checked during cleanup.
func startReceiver(t *testing.T, out chan *event.Event) string {
	t.Helper()

	recv := New(Config{Addr: "127.0.0.1:0"})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- recv.Run(ctx, out) }()

	deadline := time.Now().Add(2 * time.Second)
	for recv.Addr() == nil {
		if time.Now().After(deadline) {
			cancel()
			t.Fatal("receiver did not start")
		}
		time.Sleep(5 * time.Millisecond)
	}

	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("Run returned error: %v", err)
			}
		case <-time.After(2 * time.Second):
			t.Error("receiver did not stop")
		}
	})

	return "http://" + recv.Addr().String() + "/ingest"
}

func post(t *testing.T, url, contentType string, headers map[string]string, body []byte) *http.Response {
	t.Helper()

	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		t.Fatalf("NewRequest failed: %v", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("POST failed: %v", err)
	}
	return resp
}

func recvEvent(t *testing.T, out <-chan *event.Event) *event.Event {
	t.Helper()

	select {
	case e := <-out:
		return e
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return nil
	}
}

func TestReceiverPlainText(t *testing.T) {
	out := make(chan *event.Event, 10)
	url := startReceiver(t, out)

	resp := post(t, url, "text/plain", nil, []byte("hello world"))
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("expected 202, got %d: %s", resp.StatusCode, body)
	}
	if got := resp.Header.Get("X-Events-Received"); got != "1" {
		t.Errorf("X-Events-Received = %q, want %q", got, "1")
	}

	e := recvEvent(t, out)
	if msg, _ := e.Field("message"); msg != "hello world" {
		t.Errorf("message = %q, want %q", msg, "hello world")
	}
}

func TestReceiverPlainTextMultiline(t *testing.T) {
	out := make(chan *event.Event, 10)
	url := startReceiver(t, out)

	resp := post(t, url, "text/plain", nil, []byte("line1\r\nline2\nline3\n"))
	resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", resp.StatusCode)
	}

	want := []string{"line1", "line2", "line3"}
	for i, exp := range want {
		e := recvEvent(t, out)
		if msg, _ := e.Field("message"); msg != exp {
			t.Errorf("event %d: message = %q, want %q", i, msg, exp)
		}
	}
}

func TestReceiverJSONObject(t *testing.T) {
	out := make(chan *event.Event, 10)
	url := startReceiver(t, out)

	resp := post(t, url, "application/json", nil, []byte(`{"level":"error","message":"boom"}`))
	resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", resp.StatusCode)
	}

	e := recvEvent(t, out)
	if lvl, _ := e.Field("level"); lvl != "error" {
		t.Errorf("level = %q, want %q", lvl, "error")
	}
	if msg, _ := e.Field("message"); msg != "boom" {
		t.Errorf("message = %q, want %q", msg, "boom")
	}
}

func TestReceiverJSONArray(t *testing.T) {
	out := make(chan *event.Event, 10)
	url := startReceiver(t, out)

	resp := post(t, url, "application/json", nil, []byte(`[{"n":1},{"n":2}]`))
	resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", resp.StatusCode)
	}
	if got := resp.Header.Get("X-Events-Received"); got != "2" {
		t.Errorf("X-Events-Received = %q, want %q", got, "2")
	}

	for i, exp := range []string{"1", "2"} {
		e := recvEvent(t, out)
		if n, _ := e.Field("n"); n != exp {
			t.Errorf("event %d: n = %q, want %q", i, n, exp)
		}
	}
}

func TestReceiverNDJSON(t *testing.T) {
	out := make(chan *event.Event, 10)
	url := startReceiver(t, out)

	body := "{\"id\":\"a\"}\n{\"id\":\"b\"}\n"
	resp := post(t, url, "application/x-ndjson", nil, []byte(body))
	resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", resp.StatusCode)
	}

	for i, exp := range []string{"a", "b"} {
		e := recvEvent(t, out)
		if id, _ := e.Field("id"); id != exp {
			t.Errorf("event %d: id = %q, want %q", i, id, exp)
		}
	}
}

func TestReceiverNDJSONBadLine(t *testing.T) {
	out := make(chan *event.Event, 10)
	url := startReceiver(t, out)

	body := "{\"id\":\"a\"}\nnot json\n"
	resp := post(t, url, "application/x-ndjson", nil, []byte(body))
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
	msg, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(msg), "line 2") {
		t.Errorf("error %q does not name the bad line", msg)
	}

	// The request failed as a whole; nothing was queued.
	select {
	case e := <-out:
		t.Fatalf("unexpected event queued: %v", e)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestReceiverGzipBody(t *testing.T) {
	out := make(chan *event.Event, 10)
	url := startReceiver(t, out)

	compressed, err := codec.Compress(codec.Gzip, []byte(`{"message":"zipped"}`))
	if err != nil {
		t.Fatalf("Compress failed: %v", err)
	}

	resp := post(t, url, "application/json", map[string]string{"Content-Encoding": "gzip"}, compressed)
	resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", resp.StatusCode)
	}

	e := recvEvent(t, out)
	if msg, _ := e.Field("message"); msg != "zipped" {
		t.Errorf("message = %q, want %q", msg, "zipped")
	}
}

func TestReceiverZstdBody(t *testing.T) {
	out := make(chan *event.Event, 10)
	url := startReceiver(t, out)

	compressed, err := codec.Compress(codec.Zstd, []byte("one line\nanother line"))
	if err != nil {
		t.Fatalf("Compress failed: %v", err)
	}

	resp := post(t, url, "text/plain", map[string]string{"Content-Encoding": "zstd"}, compressed)
	resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", resp.StatusCode)
	}

	for i, exp := range []string{"one line", "another line"} {
		e := recvEvent(t, out)
		if msg, _ := e.Field("message"); msg != exp {
			t.Errorf("event %d: message = %q, want %q", i, msg, exp)
		}
	}
}

func TestReceiverCorruptGzip(t *testing.T) {
	out := make(chan *event.Event, 10)
	url := startReceiver(t, out)

	resp := post(t, url, "text/plain", map[string]string{"Content-Encoding": "gzip"}, []byte("definitely not gzip"))
	resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestReceiverUnsupportedEncoding(t *testing.T) {
	out := make(chan *event.Event, 10)
	url := startReceiver(t, out)

	resp := post(t, url, "text/plain", map[string]string{"Content-Encoding": "br"}, []byte("hello"))
	resp.Body.Close()

	if resp.StatusCode != http.StatusUnsupportedMediaType {
		t.Fatalf("expected 415, got %d", resp.StatusCode)
	}
}

func TestReceiverHeaderMeta(t *testing.T) {
	out := make(chan *event.Event, 10)
	url := startReceiver(t, out)

	headers := map[string]string{
		"X-Meta-Host":      "web1",
		"X-Meta-Source-Ip": "10.0.0.7",
	}
	resp := post(t, url, "text/plain", headers, []byte("hello"))
	resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", resp.StatusCode)
	}

	e := recvEvent(t, out)
	if host, _ := e.Meta("host"); host != "web1" {
		t.Errorf("meta host = %q, want %q", host, "web1")
	}
	if ip, _ := e.Meta("source-ip"); ip != "10.0.0.7" {
		t.Errorf("meta source-ip = %q, want %q", ip, "10.0.0.7")
	}
}

func TestReceiverQueueFull(t *testing.T) {
	out := make(chan *event.Event, 1)
	url := startReceiver(t, out)

	resp := post(t, url, "text/plain", nil, []byte("one\ntwo\nthree"))
	resp.Body.Close()

	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", resp.StatusCode)
	}
	if got := resp.Header.Get("X-Events-Received"); got != "1" {
		t.Errorf("X-Events-Received = %q, want %q", got, "1")
	}

	// Whatever fit before the refusal stays queued.
	e := recvEvent(t, out)
	if msg, _ := e.Field("message"); msg != "one" {
		t.Errorf("message = %q, want %q", msg, "one")
	}
}

func TestReceiverEmptyBody(t *testing.T) {
	out := make(chan *event.Event, 10)
	url := startReceiver(t, out)

	resp := post(t, url, "text/plain", nil, nil)
	resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestReceiverStops(t *testing.T) {
	out := make(chan *event.Event, 1)
	recv := New(Config{Addr: "127.0.0.1:0"})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- recv.Run(ctx, out) }()

	deadline := time.Now().Add(2 * time.Second)
	for recv.Addr() == nil {
		if time.Now().After(deadline) {
			t.Fatal("receiver did not start")
		}
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("receiver did not stop")
	}
}
