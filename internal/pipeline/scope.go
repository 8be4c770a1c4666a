package pipeline

import (
	"context"
	"sync"
)

// Scope collects cleanup actions for one pipeline run. Stages that
// acquire resources mid-run (temporary files, remote objects) register
// release actions at acquisition time; the run driver closes the scope
// exactly once when the run terminates, on every path: success, failure,
// or cancellation.
//
// Deferred actions always run, last registered first. Success actions
// run only when the run finished cleanly, before the deferred ones.
type Scope struct {
	mu        sync.Mutex
	deferred  []func()
	onSuccess []func()
	closed    bool
}

// NewScope returns an open scope.
func NewScope() *Scope { return &Scope{} }

// Defer registers f to run when the scope closes, whatever the outcome.
// Registering on an already closed scope runs f immediately, so the
// resource is never stranded.
func (s *Scope) Defer(f func()) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		f()
		return
	}
	s.deferred = append(s.deferred, f)
	s.mu.Unlock()
}

// OnSuccess registers f to run only when the scope closes successfully.
// Registering on an already closed scope drops f.
func (s *Scope) OnSuccess(f func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.onSuccess = append(s.onSuccess, f)
}

// Close fires the registered actions: success actions first (skipped
// unless ok), then every deferred action in reverse registration order.
// Only the first Close does anything.
func (s *Scope) Close(ok bool) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	success := s.onSuccess
	deferred := s.deferred
	s.onSuccess = nil
	s.deferred = nil
	s.mu.Unlock()

	if ok {
		for i := len(success) - 1; i >= 0; i-- {
			success[i]()
		}
	}
	for i := len(deferred) - 1; i >= 0; i-- {
		deferred[i]()
	}
}

type scopeKey struct{}

// WithScope returns a context carrying s for the duration of a run.
func WithScope(ctx context.Context, s *Scope) context.Context {
	return context.WithValue(ctx, scopeKey{}, s)
}

// ScopeFrom returns the run scope carried by ctx, or nil when ctx does
// not belong to a scoped run. Stages must tolerate nil: outside a run
// the caller owns any acquired resources.
func ScopeFrom(ctx context.Context) *Scope {
	s, _ := ctx.Value(scopeKey{}).(*Scope)
	return s
}
