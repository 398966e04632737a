// Package docstore is the schemaless document database the portal keeps its
// records in. Documents are grouped in collections and carry loosely typed
// key/value data; typed mapping happens in the callers.
package docstore

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"time"
)

var (
	// ErrNotFound is returned when a document id does not exist.
	ErrNotFound = errors.New("document not found")
)

type serverTimestamp struct{}

// ServerTimestamp may be used as a field value on Create or Update; the store
// replaces it with its own clock reading.
var ServerTimestamp any = serverTimestamp{}

// Document is one stored record.
type Document struct {
	ID   string
	Data map[string]any
}

// Filter keeps documents whose Field equals Value.
type Filter struct {
	Field string
	Value any
}

// Query selects documents from a collection. OrderBy names a data field;
// documents with equal keys keep insertion order.
type Query struct {
	Collection string
	Where      []Filter
	OrderBy    string
	Desc       bool
}

// Snapshot is the full result of a subscribed query at one point in time.
type Snapshot struct {
	Documents []Document
	Err       error
}

// Store is implemented by PostgresStore and MemoryStore.
type Store interface {
	Create(ctx context.Context, collection string, data map[string]any) (string, error)
	Get(ctx context.Context, collection, id string) (Document, error)
	Update(ctx context.Context, collection, id string, fields map[string]any) error
	Delete(ctx context.Context, collection, id string) error
	Query(ctx context.Context, q Query) ([]Document, error)
	Subscribe(ctx context.Context, q Query) (*Subscription, error)
}

// Subscription delivers a fresh Snapshot whenever the documents behind its
// query change, until Close is called or the subscribing context ends.
// Only the latest snapshot is buffered; a slow reader skips stale ones.
type Subscription struct {
	updates   chan Snapshot
	stop      func()
	stopAfter func() bool
	once      sync.Once
}

func newSubscription(ctx context.Context, stop func()) *Subscription {
	s := &Subscription{updates: make(chan Snapshot, 1), stop: stop}
	s.stopAfter = context.AfterFunc(ctx, s.Close)
	return s
}

// Updates returns the snapshot channel. It is closed after Close.
func (s *Subscription) Updates() <-chan Snapshot {
	return s.updates
}

// Close tears the subscription down. It is safe to call more than once.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.stopAfter()
		s.stop()
	})
}

// publish replaces any unread snapshot with snap. Callers guarantee a single
// producer per subscription.
func (s *Subscription) publish(snap Snapshot) {
	for {
		select {
		case s.updates <- snap:
			return
		default:
		}
		select {
		case <-s.updates:
		default:
		}
	}
}

func validateQuery(q Query) error {
	if strings.TrimSpace(q.Collection) == "" {
		return errors.New("query requires a collection")
	}
	for _, f := range q.Where {
		if f.Field == "" {
			return errors.New("filter requires a field")
		}
	}
	return nil
}

func validateRef(collection, id string) error {
	if collection == "" {
		return errors.New("collection is required")
	}
	if id == "" {
		return fmt.Errorf("%s: %w", collection, ErrNotFound)
	}
	return nil
}

// resolve copies data, replacing ServerTimestamp with now.
func resolve(data map[string]any, now time.Time) map[string]any {
	out := make(map[string]any, len(data))
	for k, v := range data {
		if _, ok := v.(serverTimestamp); ok {
			out[k] = now
			continue
		}
		out[k] = v
	}
	return out
}

func matches(data map[string]any, where []Filter) bool {
	for _, f := range where {
		v, ok := data[f.Field]
		if !ok || !reflect.DeepEqual(v, f.Value) {
			return false
		}
	}
	return true
}

// compareValues orders field values of the same kind. Missing values sort
// first; mismatched kinds compare by their formatted text.
func compareValues(a, b any) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}
	switch av := a.(type) {
	case time.Time:
		if bv, ok := b.(time.Time); ok {
			return av.Compare(bv)
		}
	case string:
		if bv, ok := b.(string); ok {
			return strings.Compare(av, bv)
		}
	case int:
		if bv, ok := b.(int); ok {
			return compareFloat(float64(av), float64(bv))
		}
	case int64:
		if bv, ok := b.(int64); ok {
			return compareFloat(float64(av), float64(bv))
		}
	case float64:
		if bv, ok := b.(float64); ok {
			return compareFloat(av, bv)
		}
	}
	return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
}

func compareFloat(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}
