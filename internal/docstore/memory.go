package docstore

import (
	"cmp"
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore keeps documents in process. RWMutex lets concurrent readers
// share the lock while writers, and the subscriber fan-out they trigger, run
// exclusively.
type MemoryStore struct {
	mu    sync.RWMutex
	colls map[string]map[string]*memoryDoc
	seq   int64
	subs  map[*Subscription]Query
	newID func() string
	now   func() time.Time
}

type memoryDoc struct {
	seq  int64
	data map[string]any
}

// MemoryOption configures a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithIDGenerator overrides the uuid based id generator.
func WithIDGenerator(fn func() string) MemoryOption {
	return func(m *MemoryStore) { m.newID = fn }
}

// WithClock overrides the clock used for ServerTimestamp.
func WithClock(fn func() time.Time) MemoryOption {
	return func(m *MemoryStore) { m.now = fn }
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	m := &MemoryStore{
		colls: make(map[string]map[string]*memoryDoc),
		subs:  make(map[*Subscription]Query),
		newID: uuid.NewString,
		now:   func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Create inserts data under a new id.
func (m *MemoryStore) Create(ctx context.Context, collection string, data map[string]any) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if collection == "" {
		return "", fmt.Errorf("create: collection is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	docs := m.colls[collection]
	if docs == nil {
		docs = make(map[string]*memoryDoc)
		m.colls[collection] = docs
	}
	id := m.newID()
	if _, exists := docs[id]; exists {
		return "", fmt.Errorf("create %s/%s: id already exists", collection, id)
	}
	m.seq++
	docs[id] = &memoryDoc{seq: m.seq, data: resolve(data, m.now())}
	m.notifyLocked(collection)
	return id, nil
}

// Get returns a copy of one document.
func (m *MemoryStore) Get(ctx context.Context, collection, id string) (Document, error) {
	if err := ctx.Err(); err != nil {
		return Document{}, err
	}
	if err := validateRef(collection, id); err != nil {
		return Document{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	doc, ok := m.colls[collection][id]
	if !ok {
		return Document{}, fmt.Errorf("%s/%s: %w", collection, id, ErrNotFound)
	}
	return Document{ID: id, Data: maps.Clone(doc.data)}, nil
}

// Update merges fields into an existing document.
func (m *MemoryStore) Update(ctx context.Context, collection, id string, fields map[string]any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := validateRef(collection, id); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.colls[collection][id]
	if !ok {
		return fmt.Errorf("%s/%s: %w", collection, id, ErrNotFound)
	}
	merged := maps.Clone(doc.data)
	for k, v := range resolve(fields, m.now()) {
		merged[k] = v
	}
	doc.data = merged
	m.notifyLocked(collection)
	return nil
}

// Delete removes one document.
func (m *MemoryStore) Delete(ctx context.Context, collection, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := validateRef(collection, id); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.colls[collection][id]; !ok {
		return fmt.Errorf("%s/%s: %w", collection, id, ErrNotFound)
	}
	delete(m.colls[collection], id)
	m.notifyLocked(collection)
	return nil
}

// Query runs q against the current documents.
func (m *MemoryStore) Query(ctx context.Context, q Query) ([]Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := validateQuery(q); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.queryLocked(q), nil
}

// Subscribe registers q and immediately delivers the current result.
func (m *MemoryStore) Subscribe(ctx context.Context, q Query) (*Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := validateQuery(q); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var sub *Subscription
	sub = newSubscription(ctx, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if _, ok := m.subs[sub]; ok {
			delete(m.subs, sub)
			close(sub.updates)
		}
	})
	m.subs[sub] = q
	sub.publish(Snapshot{Documents: m.queryLocked(q)})
	return sub, nil
}

func (m *MemoryStore) notifyLocked(collection string) {
	for sub, q := range m.subs {
		if q.Collection == collection {
			sub.publish(Snapshot{Documents: m.queryLocked(q)})
		}
	}
}

func (m *MemoryStore) queryLocked(q Query) []Document {
	type row struct {
		seq int64
		doc Document
	}
	var rows []row
	for id, doc := range m.colls[q.Collection] {
		if !matches(doc.data, q.Where) {
			continue
		}
		rows = append(rows, row{seq: doc.seq, doc: Document{ID: id, Data: maps.Clone(doc.data)}})
	}
	slices.SortFunc(rows, func(a, b row) int { return cmp.Compare(a.seq, b.seq) })
	if q.OrderBy != "" {
		slices.SortStableFunc(rows, func(a, b row) int {
			r := compareValues(a.doc.Data[q.OrderBy], b.doc.Data[q.OrderBy])
			if q.Desc {
				return -r
			}
			return r
		})
	}
	out := make([]Document, len(rows))
	for i, r := range rows {
		out[i] = r.doc
	}
	return out
}
