// Package objectstore abstracts a remote object store keyed by
// (bucket, key). Implementations cover AWS S3 and Google Cloud Storage,
// plus an in-memory store for tests. Credentials and transport-level
// retry are the client SDK's concern; callers see plain errors.
package objectstore

import (
	"context"
	"errors"
	"io"
	"iter"
	"time"
)

// ErrNotFound reports an absent object where presence was required.
var ErrNotFound = errors.New("object not found")

// ObjectInfo describes one listed object.
type ObjectInfo struct {
	Key     string
	Size    int64
	Created time.Time
}

// Store is the remote object store protocol.
// Delete is idempotent: removing an absent object is not an error.
// Copy is server-side and never transits local storage.
type Store interface {
	List(ctx context.Context, bucket, prefix string) iter.Seq2[ObjectInfo, error]
	Get(ctx context.Context, bucket, key string) (io.ReadCloser, error)
	Put(ctx context.Context, bucket, key string, r io.Reader, length int64) error
	Delete(ctx context.Context, bucket, key string) error
	Copy(ctx context.Context, srcBucket, srcKey, dstBucket, dstKey string) error
}
