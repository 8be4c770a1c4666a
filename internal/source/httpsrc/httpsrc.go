// Package httpsrc accepts events pushed over HTTP POST.
package httpsrc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/msgpo/lumber-mill/internal/codec"
	"github.com/msgpo/lumber-mill/internal/event"
	"github.com/msgpo/lumber-mill/internal/logging"
)

// metaHeaderPrefix marks request headers carried into event metadata.
const metaHeaderPrefix = "X-Meta-"

var errUnsupportedEncoding = errors.New("unsupported content encoding")

// Receiver accepts events pushed over HTTP POST and queues them on an
// outbound channel.
//
// Endpoints:
//   - POST /ingest - accepts events (single or batch)
//
// Request body formats:
//   - application/json: JSON document, or array of documents (one event each)
//   - application/x-ndjson: one JSON document per line
//   - anything else: raw text, one event per line
//
// Request bodies may be compressed; Content-Encoding gzip and zstd are
// honored. Metadata can be passed via X-Meta-* headers (e.g.
// X-Meta-Host: web1 becomes metadata key "host").
//
// Delivery is fire-and-forget: events are queued and the request gets
// 202 Accepted. A full queue refuses the request with 429; events from
// the same request queued before the refusal stay queued.
type Receiver struct {
	addr    string
	maxBody int64
	out     chan<- *event.Event
	server  *http.Server
	logger  *slog.Logger

	mu       sync.Mutex
	listener net.Listener
}

// Config holds HTTP receiver configuration.
type Config struct {
	// Addr is the address to listen on (e.g., ":8080", "127.0.0.1:8080").
	Addr string

	// MaxBodySize caps a request body, before and after decompression.
	// Defaults to 10MB.
	MaxBodySize int64

	// Logger for structured logging.
	Logger *slog.Logger
}

// New creates a new HTTP receiver.
func New(cfg Config) *Receiver {
	maxBody := cfg.MaxBodySize
	if maxBody <= 0 {
		maxBody = 10 << 20
	}
	return &Receiver{
		addr:    cfg.Addr,
		maxBody: maxBody,
		logger:  logging.Default(cfg.Logger).With("component", "source", "type", "http"),
	}
}

// Run starts the HTTP server and blocks until ctx is cancelled. Queued
// events go to out; the channel stays open after Run returns, ownership
// remains with the caller.
func (r *Receiver) Run(ctx context.Context, out chan<- *event.Event) error {
	r.out = out

	mux := http.NewServeMux()
	mux.HandleFunc("POST /ingest", r.handleIngest)

	r.server = &http.Server{
		Handler: mux,
	}

	listener, err := net.Listen("tcp", r.addr)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.listener = listener
	r.mu.Unlock()

	r.logger.Info("http source starting", "addr", listener.Addr().String())

	// Run server in background.
	errCh := make(chan error, 1)
	go func() {
		if err := r.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for context cancellation or server error.
	select {
	case <-ctx.Done():
		r.logger.Info("http source stopping")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		r.server.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		return err
	}
}

// Addr returns the listener address. Nil until Run() has bound the port.
func (r *Receiver) Addr() net.Addr {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.listener == nil {
		return nil
	}
	return r.listener.Addr()
}

// handleIngest handles POST /ingest requests.
func (r *Receiver) handleIngest(w http.ResponseWriter, req *http.Request) {
	meta := headerMeta(req)

	body, err := r.readBody(req)
	if err != nil {
		if errors.Is(err, errUnsupportedEncoding) {
			http.Error(w, err.Error(), http.StatusUnsupportedMediaType)
			return
		}
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var events []*event.Event
	contentType, _, _ := strings.Cut(req.Header.Get("Content-Type"), ";")

	switch strings.TrimSpace(contentType) {
	case "application/json", "":
		events, err = parseJSON(body)
	case "application/x-ndjson":
		events, err = parseNDJSON(body)
	default:
		// Treat as plain text, one event per line.
		events = parseLines(body)
	}

	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if len(events) == 0 {
		http.Error(w, "no events in request", http.StatusBadRequest)
		return
	}

	for _, e := range events {
		for k, v := range meta {
			e.SetMeta(k, v)
		}
	}

	for i, e := range events {
		select {
		case r.out <- e:
		default:
			r.logger.Warn("queue full, refusing request", "queued", i, "dropped", len(events)-i)
			w.Header().Set("X-Events-Received", strconv.Itoa(i))
			http.Error(w, "queue full", http.StatusTooManyRequests)
			return
		}
	}

	w.Header().Set("X-Events-Received", strconv.Itoa(len(events)))
	w.WriteHeader(http.StatusAccepted)
}

// readBody reads the request body, honoring Content-Encoding. The size
// cap applies to the wire bytes and to the decompressed output.
func (r *Receiver) readBody(req *http.Request) ([]byte, error) {
	body := io.Reader(io.LimitReader(req.Body, r.maxBody))

	switch enc := req.Header.Get("Content-Encoding"); enc {
	case "", "identity":
	case "gzip":
		zr, err := codec.Reader(codec.Gzip, body)
		if err != nil {
			return nil, err
		}
		defer func() { _ = zr.Close() }()
		body = io.LimitReader(zr, r.maxBody)
	case "zstd":
		zr, err := codec.Reader(codec.Zstd, body)
		if err != nil {
			return nil, err
		}
		defer func() { _ = zr.Close() }()
		body = io.LimitReader(zr, r.maxBody)
	default:
		return nil, fmt.Errorf("%w %q", errUnsupportedEncoding, enc)
	}

	data, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return data, nil
}

// headerMeta extracts metadata from X-Meta-* headers. Keys are
// lowercased: X-Meta-Host becomes "host".
func headerMeta(req *http.Request) map[string]string {
	meta := make(map[string]string)
	for name, values := range req.Header {
		if len(name) > len(metaHeaderPrefix) && strings.HasPrefix(name, metaHeaderPrefix) && len(values) > 0 {
			meta[strings.ToLower(name[len(metaHeaderPrefix):])] = values[0]
		}
	}
	return meta
}

// parseJSON parses a JSON body into events. A top-level array fans out
// into one event per element; anything else is a single event.
func parseJSON(body []byte) ([]*event.Event, error) {
	if len(body) == 0 {
		return nil, nil
	}
	e, err := event.ParseJSON(body)
	if err != nil {
		return nil, err
	}
	if e.Payload().Kind() != event.Array {
		return []*event.Event{e}, nil
	}
	events := make([]*event.Event, 0, e.Payload().Len())
	for item := range e.Payload().Items() {
		events = append(events, event.New(item))
	}
	return events, nil
}

// parseNDJSON parses newline-delimited JSON, one event per non-empty
// line.
func parseNDJSON(body []byte) ([]*event.Event, error) {
	var events []*event.Event
	for i, line := range splitLines(body) {
		if len(line) == 0 {
			continue
		}
		e, err := event.ParseJSON(line)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", i+1, err)
		}
		events = append(events, e)
	}
	return events, nil
}

// parseLines wraps each non-empty line of body in a text event.
func parseLines(body []byte) []*event.Event {
	var events []*event.Event
	for _, line := range splitLines(body) {
		if len(line) == 0 {
			continue
		}
		events = append(events, event.Text(line))
	}
	return events
}

// splitLines splits body by newlines, handling \r\n and \n.
func splitLines(body []byte) [][]byte {
	var lines [][]byte
	start := 0
	for i := 0; i < len(body); i++ {
		if body[i] == '\n' {
			end := i
			if end > start && body[end-1] == '\r' {
				end--
			}
			lines = append(lines, body[start:end])
			start = i + 1
		}
	}
	if start < len(body) {
		lines = append(lines, body[start:])
	}
	return lines
}
