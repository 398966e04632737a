package upload

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/hibiken/asynq"

	"github.com/kikuyu-catholic-sheets/sheets/internal/docstore"
	"github.com/kikuyu-catholic-sheets/sheets/internal/logging"
	"github.com/kikuyu-catholic-sheets/sheets/internal/model"
	"github.com/kikuyu-catholic-sheets/sheets/internal/objectstore"
	"github.com/kikuyu-catholic-sheets/sheets/internal/queue"
	"github.com/kikuyu-catholic-sheets/sheets/internal/repository"
)

// countingStore records each call that reaches object storage.
type countingStore struct {
	*objectstore.MemoryStore
	puts   int
	putErr error
}

func (c *countingStore) Put(ctx context.Context, path string, r io.Reader, size int64, contentType string, progress objectstore.ProgressFunc) error {
	c.puts++
	if c.putErr != nil {
		return c.putErr
	}
	return c.MemoryStore.Put(ctx, path, r, size, contentType, progress)
}

type failingRecorder struct{ calls int }

func (f *failingRecorder) Create(context.Context, repository.NewScore) (model.Score, error) {
	f.calls++
	return model.Score{}, errors.New("database unavailable")
}

type task struct {
	Type    string
	Payload any
}

type captureQueue struct {
	mu    sync.Mutex
	tasks []task
}

func (c *captureQueue) Enqueue(_ context.Context, taskType string, payload any, _ ...asynq.Option) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tasks = append(c.tasks, task{Type: taskType, Payload: payload})
	return nil
}

type fixture struct {
	objects *countingStore
	docs    *docstore.MemoryStore
	scores  *repository.ScoreRepository
	queue   *captureQueue
	flow    *Flow
}

func newFixture() *fixture {
	f := &fixture{
		objects: &countingStore{MemoryStore: objectstore.NewMemoryStore("http://localhost:8080/files")},
		docs:    docstore.NewMemoryStore(),
		queue:   &captureQueue{},
	}
	f.scores = repository.NewScoreRepository(f.docs, logging.Discard())
	f.flow = NewFlow(f.objects, f.scores, f.queue, logging.Discard())
	f.flow.newID = func() string { return "fixed" }
	return f
}

var u1 = &model.Identity{UID: "u1", DisplayName: "Wanjiru"}

func pdfFile(name string, data []byte) *File {
	return &File{Name: name, ContentType: "application/pdf", Size: int64(len(data)), Body: bytes.NewReader(data)}
}

func TestRunStoresFileAndRecord(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	data := []byte("%PDF-1.4 fake score body")
	var last int64
	score, err := f.flow.Run(ctx, u1, Request{
		Title:    "Mūthirigu",
		Composer: "Traditional",
		Category: "Kuingira (entrance)",
		File:     pdfFile("Mūthirigu.pdf", data),
	}, func(n, total int64) {
		if n < last {
			t.Fatalf("progress went backwards")
		}
		last = n
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if score.Title != "Mūthirigu" || score.Composer != "Traditional" || score.Category != "Kuingira (entrance)" || score.OwnerID != "u1" {
		t.Fatalf("score = %+v", score)
	}
	if score.FileURL == "" || score.FilePath != "scores/u1/fixed-Mūthirigu.pdf" {
		t.Fatalf("file fields = %q %q", score.FileURL, score.FilePath)
	}
	if last != int64(len(data)) {
		t.Fatalf("final progress = %d", last)
	}

	all, _ := f.scores.ListRecent(ctx)
	if len(all) != 1 {
		t.Fatalf("expected exactly one record, got %d", len(all))
	}
	stored, err := f.objects.Get(ctx, score.FilePath)
	if err != nil || !bytes.Equal(stored, data) {
		t.Fatalf("stored file = %q, %v", stored, err)
	}
	if len(f.queue.tasks) != 1 || f.queue.tasks[0].Type != queue.InspectScoreTask {
		t.Fatalf("tasks = %+v", f.queue.tasks)
	}
}

func TestValidationTouchesNothing(t *testing.T) {
	cases := []struct {
		name string
		id   *model.Identity
		req  Request
		want string
	}{
		{"anonymous", nil, Request{Title: "a", Composer: "b", Category: "Mass (MITHA)", File: pdfFile("a.pdf", []byte("x"))}, "Please sign in to upload scores."},
		{"empty title", u1, Request{Title: "  ", Composer: "b", Category: "Mass (MITHA)", File: pdfFile("a.pdf", []byte("x"))}, "Please enter the score name."},
		{"empty composer", u1, Request{Title: "a", Category: "Mass (MITHA)", File: pdfFile("a.pdf", []byte("x"))}, "Please enter the composer."},
		{"empty category", u1, Request{Title: "a", Composer: "b", File: pdfFile("a.pdf", []byte("x"))}, "Please select a category."},
		{"unknown category", u1, Request{Title: "a", Composer: "b", Category: "Rock", File: pdfFile("a.pdf", []byte("x"))}, "Please select a category from the list."},
		{"no file", u1, Request{Title: "a", Composer: "b", Category: "Mass (MITHA)"}, "Please choose a PDF file."},
		{"not a pdf", u1, Request{Title: "a", Composer: "b", Category: "Mass (MITHA)", File: &File{Name: "a.png", ContentType: "image/png", Size: 1, Body: strings.NewReader("x")}}, "Only PDF files can be uploaded."},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture()
			_, err := f.flow.Run(context.Background(), tc.id, tc.req, nil)
			if err == nil {
				t.Fatalf("expected error")
			}
			if got := Message(err); got != tc.want {
				t.Fatalf("Message = %q, want %q", got, tc.want)
			}
			if f.objects.puts != 0 || len(f.queue.tasks) != 0 {
				t.Fatalf("collaborators touched: puts=%d tasks=%d", f.objects.puts, len(f.queue.tasks))
			}
			if all, _ := f.scores.ListRecent(context.Background()); len(all) != 0 {
				t.Fatalf("record written on validation failure")
			}
		})
	}
}

func TestTransferFailureWritesNoRecord(t *testing.T) {
	f := newFixture()
	f.objects.putErr = errors.New("connection reset")
	_, err := f.flow.Run(context.Background(), u1, Request{Title: "a", Composer: "b", Category: "Mass (MITHA)", File: pdfFile("a.pdf", []byte("x"))}, nil)
	var terr *TransferError
	if !errors.As(err, &terr) {
		t.Fatalf("expected TransferError, got %v", err)
	}
	if Message(err) != "Failed to upload file. Please try again." {
		t.Fatalf("Message = %q", Message(err))
	}
	if all, _ := f.scores.ListRecent(context.Background()); len(all) != 0 {
		t.Fatalf("record written after failed transfer")
	}
}

func TestCancelledUploadWritesNoRecord(t *testing.T) {
	f := newFixture()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := f.flow.Run(ctx, u1, Request{Title: "a", Composer: "b", Category: "Mass (MITHA)", File: pdfFile("a.pdf", []byte("x"))}, nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
	if Message(err) != "Upload cancelled." {
		t.Fatalf("Message = %q", Message(err))
	}
	if all, _ := f.scores.ListRecent(context.Background()); len(all) != 0 {
		t.Fatalf("record written after cancel")
	}
}

func TestPartialFailureReclaimsFile(t *testing.T) {
	f := newFixture()
	rec := &failingRecorder{}
	f.flow.scores = rec
	_, err := f.flow.Run(context.Background(), u1, Request{Title: "a", Composer: "b", Category: "Mass (MITHA)", File: pdfFile("a.pdf", []byte("x"))}, nil)
	var perr *PartialError
	if !errors.As(err, &perr) {
		t.Fatalf("expected PartialError, got %v", err)
	}
	if perr.Path != "scores/u1/fixed-a.pdf" || rec.calls != 1 {
		t.Fatalf("partial error %+v after %d calls", perr, rec.calls)
	}
	if Message(err) != "File stored but details not saved. Please try again." {
		t.Fatalf("Message = %q", Message(err))
	}
	if len(f.queue.tasks) != 1 || f.queue.tasks[0].Type != queue.ReclaimObjectTask {
		t.Fatalf("tasks = %+v", f.queue.tasks)
	}
	if p := f.queue.tasks[0].Payload.(queue.ReclaimPayload); p.Path != perr.Path {
		t.Fatalf("reclaim path = %q", p.Path)
	}
}

func TestObjectPath(t *testing.T) {
	cases := map[string]string{
		"song.pdf":             "scores/u1/id-song.pdf",
		`C:\Users\me\song.pdf`: "scores/u1/id-song.pdf",
		"../../etc/passwd":     "scores/u1/id-passwd",
		"":                     "scores/u1/id-score.pdf",
	}
	for name, want := range cases {
		if got := ObjectPath("u1", "id", name); got != want {
			t.Fatalf("ObjectPath(%q) = %q, want %q", name, got, want)
		}
	}
}

func TestIsPDF(t *testing.T) {
	if !IsPDF("application/pdf") || !IsPDF("application/pdf; charset=binary") {
		t.Fatalf("pdf types rejected")
	}
	if IsPDF("application/x-pdf") || IsPDF("") || IsPDF("text/plain") {
		t.Fatalf("non pdf type accepted")
	}
}
