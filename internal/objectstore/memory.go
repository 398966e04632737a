package objectstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"
)

const chunkSize = 32 * 1024

// MemoryStore keeps objects in process and serves them over HTTP under its
// base URL, standing in for S3 when no endpoint is configured.
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string]memoryObject
	baseURL string
	now     func() time.Time
}

type memoryObject struct {
	data        []byte
	contentType string
	modified    time.Time
}

// MemoryOption configures a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithClock overrides the clock that stamps LastModified.
func WithClock(fn func() time.Time) MemoryOption {
	return func(m *MemoryStore) { m.now = fn }
}

// NewMemoryStore creates a store whose URLs start with baseURL.
func NewMemoryStore(baseURL string, opts ...MemoryOption) *MemoryStore {
	m := &MemoryStore{
		objects: make(map[string]memoryObject),
		baseURL: strings.TrimRight(baseURL, "/"),
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Put reads the body in chunks, reporting progress after each, and stores it
// only once the whole body arrived.
func (m *MemoryStore) Put(ctx context.Context, path string, r io.Reader, size int64, contentType string, progress ProgressFunc) error {
	if err := validPath(path); err != nil {
		return err
	}
	var buf bytes.Buffer
	counter := newProgressReader(size, progress)
	chunk := make([]byte, chunkSize)
	for {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("put object %s: %w", path, err)
		}
		n, err := r.Read(chunk)
		if n > 0 {
			buf.Write(chunk[:n])
			counter.add(int64(n))
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("put object %s: %w", path, err)
		}
	}
	if size >= 0 && int64(buf.Len()) != size {
		return fmt.Errorf("put object %s: read %d bytes, expected %d", path, buf.Len(), size)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[path] = memoryObject{data: buf.Bytes(), contentType: contentType, modified: m.now()}
	return nil
}

// Get returns a copy of the object bytes.
func (m *MemoryStore) Get(ctx context.Context, path string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	obj, ok := m.objects[path]
	if !ok {
		return nil, fmt.Errorf("%s: %w", path, ErrNotFound)
	}
	return bytes.Clone(obj.data), nil
}

// URL returns the retrieval URL of an existing object.
func (m *MemoryStore) URL(ctx context.Context, path string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.objects[path]; !ok {
		return "", fmt.Errorf("%s: %w", path, ErrNotFound)
	}
	return m.baseURL + "/" + escapePath(path), nil
}

// Delete removes an existing object.
func (m *MemoryStore) Delete(ctx context.Context, path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.objects[path]; !ok {
		return fmt.Errorf("%s: %w", path, ErrNotFound)
	}
	delete(m.objects, path)
	return nil
}

// List returns objects under prefix sorted by path.
func (m *MemoryStore) List(ctx context.Context, prefix string) ([]Object, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Object
	for path, obj := range m.objects {
		if strings.HasPrefix(path, prefix) {
			out = append(out, Object{
				Path:         path,
				Size:         int64(len(obj.data)),
				ContentType:  obj.contentType,
				LastModified: obj.modified,
			})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

// ServeHTTP serves objects by path relative to the mount point, which must
// be stripped by the caller. Responses are sandboxed so stored content
// cannot run script on the portal's origin.
func (m *MemoryStore) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	path := strings.TrimPrefix(r.URL.Path, "/")
	m.mu.RLock()
	obj, ok := m.objects[path]
	m.mu.RUnlock()
	if !ok {
		http.NotFound(w, r)
		return
	}
	h := w.Header()
	h.Set("Content-Type", obj.contentType)
	h.Set("X-Content-Type-Options", "nosniff")
	h.Set("Content-Security-Policy", "sandbox")
	http.ServeContent(w, r, path, obj.modified, bytes.NewReader(obj.data))
}
