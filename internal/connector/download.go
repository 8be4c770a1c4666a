package connector

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"

	"github.com/msgpo/lumber-mill/internal/event"
	"github.com/msgpo/lumber-mill/internal/pipeline"
	"github.com/msgpo/lumber-mill/internal/template"
)

// DownloadConfig configures a Download stage.
type DownloadConfig struct {
	// Bucket and Key resolve the object location per event. The key is
	// URL-decoded after resolution; store notifications deliver keys
	// percent-encoded.
	Bucket *template.Template
	Key    *template.Template
	Env    template.Env

	// OutputField receives the local file path. Defaults to "path".
	OutputField string

	// RemoveOnSuccess deletes the remote object when the owning run
	// terminates successfully. Local cleanup is unconditional either way.
	RemoveOnSuccess bool
}

// Download fetches the resolved object into a fresh temporary file and
// writes that file's path into the output field. The temporary file is
// removed exactly once when the owning run terminates, whatever the
// outcome; the remote object is deleted only after a clean run, and
// only when RemoveOnSuccess is set.
func (c *Connector) Download(cfg DownloadConfig) pipeline.Stage {
	if cfg.OutputField == "" {
		cfg.OutputField = "path"
	}
	if cfg.Env == nil {
		cfg.Env = template.OS
	}
	return pipeline.Map(func(ctx context.Context, e *event.Event) (*event.Event, error) {
		bucket, err := cfg.Bucket.Resolve(e, cfg.Env)
		if err != nil {
			return nil, err
		}
		rawKey, err := cfg.Key.Resolve(e, cfg.Env)
		if err != nil {
			return nil, err
		}
		key, err := url.QueryUnescape(rawKey)
		if err != nil {
			return nil, fmt.Errorf("decode key %q: %w", rawKey, err)
		}

		body, err := c.store.Get(ctx, bucket, key)
		if err != nil {
			return nil, &RemoteError{Op: "get", Bucket: bucket, Key: key, Err: err}
		}
		defer func() { _ = body.Close() }()

		tmp, err := os.CreateTemp("", "lumbermill-*.log")
		if err != nil {
			return nil, fmt.Errorf("create temp file: %w", err)
		}
		name := tmp.Name()
		run := pipeline.ScopeFrom(ctx)
		if run != nil {
			run.Defer(func() { _ = os.Remove(name) })
		}

		if _, err := io.Copy(tmp, body); err != nil {
			_ = tmp.Close()
			_ = os.Remove(name)
			return nil, &RemoteError{Op: "get", Bucket: bucket, Key: key, Err: err}
		}
		if err := tmp.Close(); err != nil {
			_ = os.Remove(name)
			return nil, fmt.Errorf("close temp file: %w", err)
		}
		c.log.Debug("downloaded object", "bucket", bucket, "key", key, "path", name)

		if cfg.RemoveOnSuccess && run != nil {
			cleanupCtx := context.WithoutCancel(ctx)
			run.OnSuccess(func() {
				if err := c.store.Delete(cleanupCtx, bucket, key); err != nil {
					c.log.Warn("remove downloaded object failed", "bucket", bucket, "key", key, "error", err)
					return
				}
				c.log.Debug("removed downloaded object", "bucket", bucket, "key", key)
			})
		}

		if err := e.PutString(cfg.OutputField, name); err != nil {
			return nil, err
		}
		return e, nil
	})
}
