// Package connector operates against a remote object store: scheduled
// polling for newly arrived objects, plus per-event download, upload,
// copy, and delete stages with run-scoped resource cleanup.
//
// A Connector holds no per-event mutable state. Store and logger are
// fixed at construction and shared read-only across concurrent runs;
// each run owns its own temporary file and bucket/key resolution.
// Failures are not retried here; transport-level retry belongs to the
// store client.
package connector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/msgpo/lumber-mill/internal/logging"
	"github.com/msgpo/lumber-mill/internal/objectstore"
)

// RemoteError reports a failed store operation against one object.
type RemoteError struct {
	Op     string
	Bucket string
	Key    string
	Err    error
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("remote %s %s/%s: %v", e.Op, e.Bucket, e.Key, e.Err)
}

func (e *RemoteError) Unwrap() error { return e.Err }

// Config carries connector construction options.
type Config struct {
	Store  objectstore.Store
	Logger *slog.Logger
}

// Connector provides object store operations as pipeline stages and
// pollers.
type Connector struct {
	store objectstore.Store
	log   *slog.Logger
}

// New builds a connector over the given store.
func New(cfg Config) (*Connector, error) {
	if cfg.Store == nil {
		return nil, errors.New("connector: store is required")
	}
	return &Connector{
		store: cfg.Store,
		log:   logging.Default(cfg.Logger).With("component", "connector"),
	}, nil
}

// Delete removes an object. Absence of the object is not an error.
func (c *Connector) Delete(ctx context.Context, bucket, key string) error {
	if err := c.store.Delete(ctx, bucket, key); err != nil {
		return &RemoteError{Op: "delete", Bucket: bucket, Key: key, Err: err}
	}
	return nil
}
