// Package objectstore holds uploaded files: score PDFs and profile pictures.
package objectstore

import (
	"context"
	"errors"
	"io"
	"net/url"
	"strings"
	"time"
)

// ErrNotFound is returned for paths that hold no object.
var ErrNotFound = errors.New("object not found")

// ProgressFunc receives the bytes transferred so far and the expected total
// (-1 when unknown). Successive calls never report fewer bytes.
type ProgressFunc func(transferred, total int64)

// Object describes one stored file.
type Object struct {
	Path         string
	Size         int64
	ContentType  string
	LastModified time.Time
}

// Store is implemented by MinioStore and MemoryStore.
type Store interface {
	Put(ctx context.Context, path string, r io.Reader, size int64, contentType string, progress ProgressFunc) error
	Get(ctx context.Context, path string) ([]byte, error)
	URL(ctx context.Context, path string) (string, error)
	Delete(ctx context.Context, path string) error
	List(ctx context.Context, prefix string) ([]Object, error)
}

// progressReader is counted as the upload consumes the body.
type progressReader struct {
	transferred int64
	total       int64
	fn          ProgressFunc
}

func newProgressReader(total int64, fn ProgressFunc) *progressReader {
	return &progressReader{total: total, fn: fn}
}

// Read is called with each chunk already sent; it only counts.
func (p *progressReader) Read(b []byte) (int, error) {
	p.add(int64(len(b)))
	return len(b), nil
}

func (p *progressReader) add(n int64) {
	if n <= 0 {
		return
	}
	p.transferred += n
	if p.fn != nil {
		p.fn(p.transferred, p.total)
	}
}

func escapePath(p string) string {
	segments := strings.Split(strings.TrimPrefix(p, "/"), "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return strings.Join(segments, "/")
}

func validPath(p string) error {
	if p == "" || strings.HasPrefix(p, "/") || strings.Contains(p, "..") {
		return errors.New("invalid object path")
	}
	return nil
}
