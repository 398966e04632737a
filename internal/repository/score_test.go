package repository

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/kikuyu-catholic-sheets/sheets/internal/docstore"
	"github.com/kikuyu-catholic-sheets/sheets/internal/logging"
	"github.com/kikuyu-catholic-sheets/sheets/internal/model"
)

func newRepo(t *testing.T) (*ScoreRepository, *docstore.MemoryStore) {
	t.Helper()
	clock := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	docs := docstore.NewMemoryStore(docstore.WithClock(func() time.Time {
		clock = clock.Add(time.Minute)
		return clock
	}))
	return NewScoreRepository(docs, logging.Discard()), docs
}

func newScore(owner, title string) NewScore {
	return NewScore{
		Title:    title,
		Composer: "Kamau",
		Category: "Mass (MITHA)",
		OwnerID:  owner,
		FileURL:  "http://files/" + title,
		FilePath: "scores/" + owner + "/" + title,
	}
}

// flakyDocs cancels the caller's context once a document is created and can
// fail every Get.
type flakyDocs struct {
	*docstore.MemoryStore
	afterCreate func()
	getErr      error
}

func (f *flakyDocs) Create(ctx context.Context, collection string, data map[string]any) (string, error) {
	id, err := f.MemoryStore.Create(ctx, collection, data)
	if err == nil && f.afterCreate != nil {
		f.afterCreate()
	}
	return id, err
}

func (f *flakyDocs) Get(ctx context.Context, collection, id string) (docstore.Document, error) {
	if f.getErr != nil {
		return docstore.Document{}, f.getErr
	}
	return f.MemoryStore.Get(ctx, collection, id)
}

func TestCreateSucceedsOnceWritten(t *testing.T) {
	docs := &flakyDocs{MemoryStore: docstore.NewMemoryStore()}
	repo := NewScoreRepository(docs, logging.Discard())

	// The request goes away right after the write.
	ctx, cancel := context.WithCancel(context.Background())
	docs.afterCreate = cancel
	s, err := repo.Create(ctx, newScore("u1", "Kīmuru"))
	if err != nil {
		t.Fatalf("Create after cancel: %v", err)
	}
	if s.ID == "" || s.CreatedAt.IsZero() || s.Title != "Kīmuru" {
		t.Fatalf("record = %+v", s)
	}

	docs.afterCreate = nil
	docs.getErr = errors.New("read replica down")
	s, err = repo.Create(context.Background(), newScore("u1", "Thaburi"))
	if err != nil {
		t.Fatalf("Create with failing read: %v", err)
	}
	if s.ID == "" || s.Title != "Thaburi" || s.FilePath != "scores/u1/Thaburi" || s.CreatedAt.IsZero() {
		t.Fatalf("fallback record = %+v", s)
	}
	docs.getErr = nil
	if stored, err := repo.Get(context.Background(), s.ID); err != nil || stored.Title != "Thaburi" {
		t.Fatalf("stored = %+v, %v", stored, err)
	}
}

func TestCreateGetUpdateDelete(t *testing.T) {
	ctx := context.Background()
	repo, _ := newRepo(t)
	s, err := repo.Create(ctx, newScore("u1", "Kīmuru"))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if s.ID == "" || s.CreatedAt.IsZero() || s.OwnerID != "u1" || s.Pages != 0 {
		t.Fatalf("unexpected record %+v", s)
	}
	if err := repo.Update(ctx, s.ID, "Kīmuru (Revised)", "Kamau"); err != nil {
		t.Fatalf("Update: %v", err)
	}
	got, err := repo.Get(ctx, s.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Title != "Kīmuru (Revised)" || got.UpdatedAt.IsZero() || !got.CreatedAt.Equal(s.CreatedAt) {
		t.Fatalf("update result %+v", got)
	}
	if err := repo.SetPages(ctx, s.ID, 4); err != nil {
		t.Fatalf("SetPages: %v", err)
	}
	if got, _ := repo.Get(ctx, s.ID); got.Pages != 4 {
		t.Fatalf("pages = %d", got.Pages)
	}
	if err := repo.Delete(ctx, s.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := repo.Get(ctx, s.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get after delete: %v", err)
	}
	if err := repo.Update(ctx, s.ID, "a", "b"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Update after delete: %v", err)
	}
}

func TestListsAreNewestFirstAndSkipMalformed(t *testing.T) {
	ctx := context.Background()
	repo, docs := newRepo(t)
	for i := range 3 {
		owner := "u1"
		if i == 1 {
			owner = "u2"
		}
		if _, err := repo.Create(ctx, newScore(owner, fmt.Sprintf("s%d", i))); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}
	if _, err := docs.Create(ctx, Collection, map[string]any{model.FieldOwner: "u1", model.FieldCreatedAt: docstore.ServerTimestamp}); err != nil {
		t.Fatalf("Create malformed: %v", err)
	}

	all, err := repo.ListRecent(ctx)
	if err != nil {
		t.Fatalf("ListRecent: %v", err)
	}
	if len(all) != 3 || all[0].Title != "s2" || all[2].Title != "s0" {
		t.Fatalf("recent = %+v", all)
	}
	mine, err := repo.ListByOwner(ctx, "u1")
	if err != nil {
		t.Fatalf("ListByOwner: %v", err)
	}
	if len(mine) != 2 || mine[0].Title != "s2" || mine[1].Title != "s0" {
		t.Fatalf("owner list = %+v", mine)
	}
	ok, err := repo.ReferencesPath(ctx, "scores/u2/s1")
	if err != nil || !ok {
		t.Fatalf("ReferencesPath = %v, %v", ok, err)
	}
	if ok, _ := repo.ReferencesPath(ctx, "scores/u2/nope"); ok {
		t.Fatalf("unknown path reported as referenced")
	}
}

func TestSubscribeOwner(t *testing.T) {
	ctx := context.Background()
	repo, _ := newRepo(t)
	sub, err := repo.SubscribeOwner(ctx, "u1")
	if err != nil {
		t.Fatalf("SubscribeOwner: %v", err)
	}
	defer sub.Close()

	recv := func() Snapshot {
		t.Helper()
		select {
		case snap := <-sub.Updates():
			return snap
		case <-time.After(time.Second):
			t.Fatalf("no snapshot")
		}
		return Snapshot{}
	}
	if snap := recv(); len(snap.Scores) != 0 || snap.Err != nil {
		t.Fatalf("initial snapshot %+v", snap)
	}
	if _, err := repo.Create(ctx, newScore("u2", "other")); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := repo.Create(ctx, newScore("u1", "mine")); err != nil {
		t.Fatalf("Create: %v", err)
	}
	// Every write to the collection publishes; read until ours shows up.
	deadline := time.After(time.Second)
	for {
		select {
		case snap := <-sub.Updates():
			if len(snap.Scores) == 1 && snap.Scores[0].Title == "mine" {
				sub.Close()
				for range sub.Updates() {
				}
				return
			}
		case <-deadline:
			t.Fatalf("owner record never delivered")
		}
	}
}
