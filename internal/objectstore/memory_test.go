package objectstore

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestMemoryPutReportsProgress(t *testing.T) {
	store := NewMemoryStore("http://localhost:8080/files/")
	body := bytes.Repeat([]byte("x"), 100*1024)
	var calls []int64
	err := store.Put(context.Background(), "scores/u1/a.pdf", bytes.NewReader(body), int64(len(body)), "application/pdf", func(n, total int64) {
		if total != int64(len(body)) {
			t.Fatalf("total = %d", total)
		}
		calls = append(calls, n)
	})
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if len(calls) < 2 {
		t.Fatalf("expected several progress callbacks, got %d", len(calls))
	}
	for i := 1; i < len(calls); i++ {
		if calls[i] < calls[i-1] {
			t.Fatalf("progress went backwards: %v", calls)
		}
	}
	if calls[len(calls)-1] != int64(len(body)) {
		t.Fatalf("final progress = %d", calls[len(calls)-1])
	}

	url, err := store.URL(context.Background(), "scores/u1/a.pdf")
	if err != nil {
		t.Fatalf("URL: %v", err)
	}
	if url != "http://localhost:8080/files/scores/u1/a.pdf" {
		t.Fatalf("url = %q", url)
	}
}

func TestMemoryPutSizeMismatch(t *testing.T) {
	store := NewMemoryStore("http://x")
	err := store.Put(context.Background(), "a", strings.NewReader("abc"), 10, "text/plain", nil)
	if err == nil {
		t.Fatalf("expected error for short body")
	}
	if _, err := store.Get(context.Background(), "a"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("partial object stored: %v", err)
	}
}

func TestMemoryPutCancelled(t *testing.T) {
	store := NewMemoryStore("http://x")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := store.Put(ctx, "a", strings.NewReader("abc"), 3, "text/plain", nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestMemoryRejectsBadPaths(t *testing.T) {
	store := NewMemoryStore("http://x")
	for _, p := range []string{"", "/abs", "a/../b"} {
		if err := store.Put(context.Background(), p, strings.NewReader(""), 0, "", nil); err == nil {
			t.Fatalf("path %q accepted", p)
		}
	}
}

func TestMemoryListDeleteAndServe(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore("http://x")
	for _, p := range []string{"scores/u1/b.pdf", "scores/u1/a.pdf", "profilePictures/u1"} {
		if err := store.Put(ctx, p, strings.NewReader("data"), 4, "application/pdf", nil); err != nil {
			t.Fatalf("Put: %v", err)
		}
	}
	objs, err := store.List(ctx, "scores/")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(objs) != 2 || objs[0].Path != "scores/u1/a.pdf" || objs[0].Size != 4 {
		t.Fatalf("list = %+v", objs)
	}

	rec := httptest.NewRecorder()
	store.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/scores/u1/a.pdf", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("serve status = %d", rec.Code)
	}
	got, _ := io.ReadAll(rec.Body)
	if string(got) != "data" || rec.Header().Get("Content-Type") != "application/pdf" {
		t.Fatalf("served %q (%s)", got, rec.Header().Get("Content-Type"))
	}
	if rec.Header().Get("X-Content-Type-Options") != "nosniff" || rec.Header().Get("Content-Security-Policy") != "sandbox" {
		t.Fatalf("served without sandbox headers: %v", rec.Header())
	}

	if err := store.Delete(ctx, "scores/u1/a.pdf"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := store.Delete(ctx, "scores/u1/a.pdf"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second delete: %v", err)
	}
	rec = httptest.NewRecorder()
	store.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/scores/u1/a.pdf", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("deleted object served with %d", rec.Code)
	}
}

func TestMemoryClockStampsLastModified(t *testing.T) {
	stamp := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	store := NewMemoryStore("http://x", WithClock(func() time.Time { return stamp }))
	if err := store.Put(context.Background(), "scores/u1/a.pdf", strings.NewReader("d"), 1, "application/pdf", nil); err != nil {
		t.Fatalf("Put: %v", err)
	}
	objs, err := store.List(context.Background(), "scores/")
	if err != nil || len(objs) != 1 || !objs[0].LastModified.Equal(stamp) {
		t.Fatalf("list = %+v, %v", objs, err)
	}
}
