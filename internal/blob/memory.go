package blob

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/rotisserie/eris"
)

type memObject struct {
	data        []byte
	contentType string
}

// MemoryStore is an in-process Store for local runs and tests.
type MemoryStore struct {
	mu      sync.RWMutex
	bucket  string
	objects map[string]memObject
	now     func() time.Time
}

// NewMemory returns an empty in-memory store. URLs it presigns use the
// memory:// scheme and are only meaningful to fakes.
func NewMemory(bucket string) *MemoryStore {
	return &MemoryStore{bucket: bucket, objects: make(map[string]memObject), now: time.Now}
}

func (m *MemoryStore) GetObject(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	obj, ok := m.objects[key]
	if !ok {
		return nil, eris.Wrapf(ErrNotFound, "blob: get %s", key)
	}
	return append([]byte(nil), obj.data...), nil
}

func (m *MemoryStore) PutObject(_ context.Context, key string, data []byte, contentType string) error {
	obj := memObject{data: append([]byte(nil), data...), contentType: contentType}
	m.mu.Lock()
	m.objects[key] = obj
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) ObjectExists(_ context.Context, key string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.objects[key]
	return ok, nil
}

func (m *MemoryStore) PresignedGetURL(_ context.Context, key string, ttl time.Duration) (string, error) {
	m.mu.RLock()
	_, ok := m.objects[key]
	m.mu.RUnlock()
	if !ok {
		return "", eris.Wrapf(ErrNotFound, "blob: sign %s", key)
	}
	u := url.URL{
		Scheme:   "memory",
		Host:     m.bucket,
		Path:     "/" + key,
		RawQuery: fmt.Sprintf("expires=%d", m.now().Add(ttl).Unix()),
	}
	return u.String(), nil
}

func (m *MemoryStore) DeleteObject(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.objects[key]; !ok {
		return eris.Wrapf(ErrNotFound, "blob: delete %s", key)
	}
	delete(m.objects, key)
	return nil
}

// ContentType returns the stored content type of key.
func (m *MemoryStore) ContentType(key string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.objects[key].contentType
}

// Len returns the number of stored objects.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.objects)
}
