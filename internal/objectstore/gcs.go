package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// GCS is a Store backed by Google Cloud Storage.
type GCS struct {
	client *storage.Client
}

// NewGCS builds a GCS store using application default credentials.
// Options pass through to the client, e.g. option.WithEndpoint for a
// local test server.
func NewGCS(ctx context.Context, opts ...option.ClientOption) (*GCS, error) {
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create gcs client: %w", err)
	}
	return &GCS{client: client}, nil
}

func (g *GCS) Close() error {
	return g.client.Close()
}

func (g *GCS) List(ctx context.Context, bucket, prefix string) iter.Seq2[ObjectInfo, error] {
	return func(yield func(ObjectInfo, error) bool) {
		it := g.client.Bucket(bucket).Objects(ctx, &storage.Query{Prefix: prefix})
		for {
			attrs, err := it.Next()
			if errors.Is(err, iterator.Done) {
				return
			}
			if err != nil {
				yield(ObjectInfo{}, fmt.Errorf("list gs://%s/%s: %w", bucket, prefix, err))
				return
			}
			info := ObjectInfo{
				Key:     attrs.Name,
				Size:    attrs.Size,
				Created: attrs.Created,
			}
			if !yield(info, nil) {
				return
			}
		}
	}
}

func (g *GCS) Get(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	r, err := g.client.Bucket(bucket).Object(key).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, fmt.Errorf("get gs://%s/%s: %w", bucket, key, ErrNotFound)
		}
		return nil, fmt.Errorf("get gs://%s/%s: %w", bucket, key, err)
	}
	return r, nil
}

func (g *GCS) Put(ctx context.Context, bucket, key string, r io.Reader, length int64) error {
	w := g.client.Bucket(bucket).Object(key).NewWriter(ctx)
	n, err := io.Copy(w, r)
	if err != nil {
		_ = w.Close()
		return fmt.Errorf("put gs://%s/%s: %w", bucket, key, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("put gs://%s/%s: %w", bucket, key, err)
	}
	if n != length {
		return fmt.Errorf("put gs://%s/%s: wrote %d bytes, declared %d", bucket, key, n, length)
	}
	return nil
}

func (g *GCS) Delete(ctx context.Context, bucket, key string) error {
	err := g.client.Bucket(bucket).Object(key).Delete(ctx)
	if err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("delete gs://%s/%s: %w", bucket, key, err)
	}
	return nil
}

func (g *GCS) Copy(ctx context.Context, srcBucket, srcKey, dstBucket, dstKey string) error {
	src := g.client.Bucket(srcBucket).Object(srcKey)
	dst := g.client.Bucket(dstBucket).Object(dstKey)
	if _, err := dst.CopierFrom(src).Run(ctx); err != nil {
		return fmt.Errorf("copy gs://%s/%s to gs://%s/%s: %w", srcBucket, srcKey, dstBucket, dstKey, err)
	}
	return nil
}

var _ Store = (*GCS)(nil)
