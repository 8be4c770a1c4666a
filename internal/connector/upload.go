package connector

import (
	"bytes"
	"context"

	"github.com/msgpo/lumber-mill/internal/event"
	"github.com/msgpo/lumber-mill/internal/pipeline"
	"github.com/msgpo/lumber-mill/internal/template"
)

// UploadConfig configures an Upload stage.
type UploadConfig struct {
	Bucket *template.Template
	Key    *template.Template
	Env    template.Env
}

// Upload writes the event's raw payload bytes to the resolved location.
// The content length is declared to the store before the write begins.
func (c *Connector) Upload(cfg UploadConfig) pipeline.Stage {
	if cfg.Env == nil {
		cfg.Env = template.OS
	}
	return pipeline.Map(func(ctx context.Context, e *event.Event) (*event.Event, error) {
		bucket, err := cfg.Bucket.Resolve(e, cfg.Env)
		if err != nil {
			return nil, err
		}
		key, err := cfg.Key.Resolve(e, cfg.Env)
		if err != nil {
			return nil, err
		}
		data, err := e.Raw()
		if err != nil {
			return nil, err
		}
		c.log.Debug("uploading object", "bucket", bucket, "key", key, "size", len(data))
		if err := c.store.Put(ctx, bucket, key, bytes.NewReader(data), int64(len(data))); err != nil {
			return nil, &RemoteError{Op: "put", Bucket: bucket, Key: key, Err: err}
		}
		return e, nil
	})
}

// CopyConfig configures a CopyObject stage.
type CopyConfig struct {
	SourceBucket *template.Template
	SourceKey    *template.Template
	DestBucket   *template.Template
	DestKey      *template.Template
	Env          template.Env
}

// CopyObject performs a server-side copy between the two resolved
// locations. Object bytes never transit this process.
func (c *Connector) CopyObject(cfg CopyConfig) pipeline.Stage {
	if cfg.Env == nil {
		cfg.Env = template.OS
	}
	return pipeline.Map(func(ctx context.Context, e *event.Event) (*event.Event, error) {
		srcBucket, err := cfg.SourceBucket.Resolve(e, cfg.Env)
		if err != nil {
			return nil, err
		}
		srcKey, err := cfg.SourceKey.Resolve(e, cfg.Env)
		if err != nil {
			return nil, err
		}
		dstBucket, err := cfg.DestBucket.Resolve(e, cfg.Env)
		if err != nil {
			return nil, err
		}
		dstKey, err := cfg.DestKey.Resolve(e, cfg.Env)
		if err != nil {
			return nil, err
		}
		c.log.Debug("copying object", "src_bucket", srcBucket, "src_key", srcKey, "dst_bucket", dstBucket, "dst_key", dstKey)
		if err := c.store.Copy(ctx, srcBucket, srcKey, dstBucket, dstKey); err != nil {
			return nil, &RemoteError{Op: "copy", Bucket: srcBucket, Key: srcKey, Err: err}
		}
		return e, nil
	})
}
