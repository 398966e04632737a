// Package repository maps score documents to typed records.
package repository

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/kikuyu-catholic-sheets/sheets/internal/docstore"
	"github.com/kikuyu-catholic-sheets/sheets/internal/model"
)

// Collection holds the score documents.
const Collection = "scores"

// ErrNotFound is returned for unknown score ids.
var ErrNotFound = errors.New("score not found")

// NewScore carries the fields written when an upload completes.
type NewScore struct {
	Title    string
	Composer string
	Category model.Category
	OwnerID  string
	FileURL  string
	FilePath string
}

// ScoreRepository wraps every document store call the portal makes for scores.
type ScoreRepository struct {
	docs docstore.Store
	log  *log.Logger
}

// NewScoreRepository constructs a repository. Malformed documents found in
// query results are logged on logger and skipped.
func NewScoreRepository(docs docstore.Store, logger *log.Logger) *ScoreRepository {
	return &ScoreRepository{docs: docs, log: logger}
}

// Create writes one record with a store assigned creation timestamp. Once
// the write succeeds Create does not fail: if the record cannot be read back
// it is returned as written, stamped with the local clock.
func (r *ScoreRepository) Create(ctx context.Context, s NewScore) (model.Score, error) {
	id, err := r.docs.Create(ctx, Collection, map[string]any{
		model.FieldTitle:     s.Title,
		model.FieldComposer:  s.Composer,
		model.FieldCategory:  string(s.Category),
		model.FieldOwner:     s.OwnerID,
		model.FieldFileURL:   s.FileURL,
		model.FieldFilePath:  s.FilePath,
		model.FieldPages:     0,
		model.FieldCreatedAt: docstore.ServerTimestamp,
	})
	if err != nil {
		return model.Score{}, fmt.Errorf("create score: %w", err)
	}
	created, err := r.Get(context.WithoutCancel(ctx), id)
	if err != nil {
		r.log.Warn("created score not read back", "id", id, "err", err)
		return model.Score{
			ID:        id,
			Title:     s.Title,
			Composer:  s.Composer,
			Category:  s.Category,
			OwnerID:   s.OwnerID,
			FileURL:   s.FileURL,
			FilePath:  s.FilePath,
			CreatedAt: time.Now().UTC(),
		}, nil
	}
	return created, nil
}

// Get returns one record.
func (r *ScoreRepository) Get(ctx context.Context, id string) (model.Score, error) {
	doc, err := r.docs.Get(ctx, Collection, id)
	if err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return model.Score{}, fmt.Errorf("score %s: %w", id, ErrNotFound)
		}
		return model.Score{}, fmt.Errorf("get score: %w", err)
	}
	return model.ScoreFromDocument(doc.ID, doc.Data)
}

// Update rewrites title and composer and stamps updatedAt.
func (r *ScoreRepository) Update(ctx context.Context, id, title, composer string) error {
	err := r.docs.Update(ctx, Collection, id, map[string]any{
		model.FieldTitle:     title,
		model.FieldComposer:  composer,
		model.FieldUpdatedAt: docstore.ServerTimestamp,
	})
	return r.wrap("update", id, err)
}

// SetPages records the page count found by the inspect task.
func (r *ScoreRepository) SetPages(ctx context.Context, id string, pages int) error {
	err := r.docs.Update(ctx, Collection, id, map[string]any{model.FieldPages: pages})
	return r.wrap("set pages", id, err)
}

// Delete removes one record.
func (r *ScoreRepository) Delete(ctx context.Context, id string) error {
	return r.wrap("delete", id, r.docs.Delete(ctx, Collection, id))
}

// ListRecent returns every record, newest first. This is the snapshot the
// catalog filters.
func (r *ScoreRepository) ListRecent(ctx context.Context) ([]model.Score, error) {
	docs, err := r.docs.Query(ctx, docstore.Query{
		Collection: Collection,
		OrderBy:    model.FieldCreatedAt,
		Desc:       true,
	})
	if err != nil {
		return nil, fmt.Errorf("list scores: %w", err)
	}
	return r.decode(docs), nil
}

// ListByOwner returns the records uploaded by uid, newest first.
func (r *ScoreRepository) ListByOwner(ctx context.Context, uid string) ([]model.Score, error) {
	docs, err := r.docs.Query(ctx, ownerQuery(uid))
	if err != nil {
		return nil, fmt.Errorf("list scores for %s: %w", uid, err)
	}
	return r.decode(docs), nil
}

// ReferencesPath reports whether any record points at the stored file.
func (r *ScoreRepository) ReferencesPath(ctx context.Context, path string) (bool, error) {
	docs, err := r.docs.Query(ctx, docstore.Query{
		Collection: Collection,
		Where:      []docstore.Filter{{Field: model.FieldFilePath, Value: path}},
	})
	if err != nil {
		return false, fmt.Errorf("look up file path: %w", err)
	}
	return len(docs) > 0, nil
}

// Snapshot is one emission of an owner subscription.
type Snapshot struct {
	Scores []model.Score
	Err    error
}

// OwnerSubscription streams typed snapshots of one owner's records.
type OwnerSubscription struct {
	sub     *docstore.Subscription
	updates chan Snapshot
	done    chan struct{}
	once    sync.Once
}

// Updates is closed once the subscription ends.
func (s *OwnerSubscription) Updates() <-chan Snapshot { return s.updates }

// Close ends the subscription. Pending snapshots are discarded.
func (s *OwnerSubscription) Close() {
	s.once.Do(func() {
		close(s.done)
		s.sub.Close()
	})
}

// SubscribeOwner opens a live query of uid's records.
func (r *ScoreRepository) SubscribeOwner(ctx context.Context, uid string) (*OwnerSubscription, error) {
	sub, err := r.docs.Subscribe(ctx, ownerQuery(uid))
	if err != nil {
		return nil, fmt.Errorf("subscribe scores for %s: %w", uid, err)
	}
	out := &OwnerSubscription{sub: sub, updates: make(chan Snapshot), done: make(chan struct{})}
	go func() {
		defer close(out.updates)
		for snap := range sub.Updates() {
			typed := Snapshot{Err: snap.Err}
			if snap.Err == nil {
				typed.Scores = r.decode(snap.Documents)
			}
			select {
			case out.updates <- typed:
			case <-out.done:
				return
			case <-ctx.Done():
				out.Close()
				return
			}
		}
	}()
	return out, nil
}

func ownerQuery(uid string) docstore.Query {
	return docstore.Query{
		Collection: Collection,
		Where:      []docstore.Filter{{Field: model.FieldOwner, Value: uid}},
		OrderBy:    model.FieldCreatedAt,
		Desc:       true,
	}
}

func (r *ScoreRepository) decode(docs []docstore.Document) []model.Score {
	out := make([]model.Score, 0, len(docs))
	for _, doc := range docs {
		s, err := model.ScoreFromDocument(doc.ID, doc.Data)
		if err != nil {
			r.log.Warn("skipping malformed score", "id", doc.ID, "err", err)
			continue
		}
		out = append(out, s)
	}
	return out
}

func (r *ScoreRepository) wrap(op, id string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, docstore.ErrNotFound) {
		return fmt.Errorf("%s score %s: %w", op, id, ErrNotFound)
	}
	return fmt.Errorf("%s score %s: %w", op, id, err)
}
