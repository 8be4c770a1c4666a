package objectstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"iter"
	"slices"
	"strings"
	"sync"
	"time"
)

type memObject struct {
	data    []byte
	created time.Time
}

// Memory is an in-memory Store for tests. It records every operation
// and supports forced per-operation failures for error-path tests.
type Memory struct {
	mu      sync.Mutex
	buckets map[string]map[string]memObject
	ops     []string

	// When set, the matching operation fails without touching state.
	ListErr   error
	GetErr    error
	PutErr    error
	DeleteErr error
	CopyErr   error
}

func NewMemory() *Memory {
	return &Memory{buckets: map[string]map[string]memObject{}}
}

// Seed stores an object directly, bypassing the op log. Tests use it to
// stage remote state with explicit creation times.
func (m *Memory) Seed(bucket, key string, data []byte, created time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.put(bucket, key, data, created)
}

func (m *Memory) put(bucket, key string, data []byte, created time.Time) {
	b, ok := m.buckets[bucket]
	if !ok {
		b = map[string]memObject{}
		m.buckets[bucket] = b
	}
	b[key] = memObject{data: slices.Clone(data), created: created}
}

func (m *Memory) List(ctx context.Context, bucket, prefix string) iter.Seq2[ObjectInfo, error] {
	return func(yield func(ObjectInfo, error) bool) {
		m.mu.Lock()
		m.ops = append(m.ops, fmt.Sprintf("list %s/%s", bucket, prefix))
		if m.ListErr != nil {
			err := m.ListErr
			m.mu.Unlock()
			yield(ObjectInfo{}, err)
			return
		}
		var infos []ObjectInfo
		for key, obj := range m.buckets[bucket] {
			if strings.HasPrefix(key, prefix) {
				infos = append(infos, ObjectInfo{Key: key, Size: int64(len(obj.data)), Created: obj.created})
			}
		}
		m.mu.Unlock()

		slices.SortFunc(infos, func(a, b ObjectInfo) int { return strings.Compare(a.Key, b.Key) })
		for _, info := range infos {
			if ctx.Err() != nil {
				yield(ObjectInfo{}, ctx.Err())
				return
			}
			if !yield(info, nil) {
				return
			}
		}
	}
}

func (m *Memory) Get(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ops = append(m.ops, fmt.Sprintf("get %s/%s", bucket, key))
	if m.GetErr != nil {
		return nil, m.GetErr
	}
	obj, ok := m.buckets[bucket][key]
	if !ok {
		return nil, fmt.Errorf("get %s/%s: %w", bucket, key, ErrNotFound)
	}
	return io.NopCloser(bytes.NewReader(slices.Clone(obj.data))), nil
}

func (m *Memory) Put(ctx context.Context, bucket, key string, r io.Reader, length int64) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("put %s/%s: %w", bucket, key, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.ops = append(m.ops, fmt.Sprintf("put %s/%s", bucket, key))
	if m.PutErr != nil {
		return m.PutErr
	}
	if int64(len(data)) != length {
		return fmt.Errorf("put %s/%s: wrote %d bytes, declared %d", bucket, key, len(data), length)
	}
	m.put(bucket, key, data, time.Now())
	return nil
}

func (m *Memory) Delete(ctx context.Context, bucket, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ops = append(m.ops, fmt.Sprintf("delete %s/%s", bucket, key))
	if m.DeleteErr != nil {
		return m.DeleteErr
	}
	delete(m.buckets[bucket], key)
	return nil
}

func (m *Memory) Copy(ctx context.Context, srcBucket, srcKey, dstBucket, dstKey string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ops = append(m.ops, fmt.Sprintf("copy %s/%s -> %s/%s", srcBucket, srcKey, dstBucket, dstKey))
	if m.CopyErr != nil {
		return m.CopyErr
	}
	obj, ok := m.buckets[srcBucket][srcKey]
	if !ok {
		return fmt.Errorf("copy %s/%s: %w", srcBucket, srcKey, ErrNotFound)
	}
	m.put(dstBucket, dstKey, obj.data, obj.created)
	return nil
}

// Exists reports whether the object is currently stored.
func (m *Memory) Exists(bucket, key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.buckets[bucket][key]
	return ok
}

// Data returns a copy of the stored object bytes.
func (m *Memory) Data(bucket, key string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	obj, ok := m.buckets[bucket][key]
	if !ok {
		return nil, false
	}
	return slices.Clone(obj.data), true
}

// Ops returns a copy of the operation log.
func (m *Memory) Ops() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.ops)
}

var _ Store = (*Memory)(nil)
