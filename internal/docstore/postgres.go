package docstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// notifyChannel is raised by the documents trigger with the collection name
// as payload.
const notifyChannel = "documents"

// timeLayout has a fixed width so timestamps stored as JSON text sort
// lexically in time order.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// PostgresStore keeps documents as JSONB rows and feeds subscriptions from
// LISTEN/NOTIFY.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore wraps a pool whose schema has been migrated.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Create inserts data under a new uuid.
func (s *PostgresStore) Create(ctx context.Context, collection string, data map[string]any) (string, error) {
	if collection == "" {
		return "", errors.New("create: collection is required")
	}
	id := uuid.NewString()
	_, err := s.pool.Exec(ctx, `
		INSERT INTO documents (collection, id, data) VALUES ($1, $2, $3)
	`, collection, id, encode(resolve(data, time.Now().UTC())))
	if err != nil {
		return "", fmt.Errorf("insert document: %w", err)
	}
	return id, nil
}

// Get returns one document.
func (s *PostgresStore) Get(ctx context.Context, collection, id string) (Document, error) {
	if err := validateRef(collection, id); err != nil {
		return Document{}, err
	}
	var data map[string]any
	err := s.pool.QueryRow(ctx, `
		SELECT data FROM documents WHERE collection=$1 AND id=$2
	`, collection, id).Scan(&data)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Document{}, fmt.Errorf("%s/%s: %w", collection, id, ErrNotFound)
		}
		return Document{}, fmt.Errorf("select document: %w", err)
	}
	return Document{ID: id, Data: data}, nil
}

// Update merges fields into the stored JSON object.
func (s *PostgresStore) Update(ctx context.Context, collection, id string, fields map[string]any) error {
	if err := validateRef(collection, id); err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE documents SET data = data || $3::jsonb, updated_at = now()
		WHERE collection=$1 AND id=$2
	`, collection, id, encode(resolve(fields, time.Now().UTC())))
	if err != nil {
		return fmt.Errorf("update document: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s/%s: %w", collection, id, ErrNotFound)
	}
	return nil
}

// Delete removes one document.
func (s *PostgresStore) Delete(ctx context.Context, collection, id string) error {
	if err := validateRef(collection, id); err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx, `DELETE FROM documents WHERE collection=$1 AND id=$2`, collection, id)
	if err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s/%s: %w", collection, id, ErrNotFound)
	}
	return nil
}

// Query runs q as a single SELECT.
func (s *PostgresStore) Query(ctx context.Context, q Query) ([]Document, error) {
	if err := validateQuery(q); err != nil {
		return nil, err
	}
	sql, args := buildSelect(q)
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query documents: %w", err)
	}
	defer rows.Close()
	var out []Document
	for rows.Next() {
		var doc Document
		if err := rows.Scan(&doc.ID, &doc.Data); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		out = append(out, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}
	return out, nil
}

// Subscribe holds a dedicated connection in LISTEN mode and re-runs q each
// time its collection changes.
func (s *PostgresStore) Subscribe(ctx context.Context, q Query) (*Subscription, error) {
	if err := validateQuery(q); err != nil {
		return nil, err
	}
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire listener: %w", err)
	}
	if _, err := conn.Exec(ctx, "LISTEN "+notifyChannel); err != nil {
		conn.Release()
		return nil, fmt.Errorf("listen: %w", err)
	}
	subCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	sub := newSubscription(ctx, func() {
		cancel()
		<-done
	})
	go func() {
		defer close(done)
		defer close(sub.updates)
		defer func() {
			// A cancelled wait leaves the connection unusable, so it is
			// closed rather than returned to the pool still listening.
			_ = conn.Conn().Close(context.Background())
			conn.Release()
		}()
		s.emit(subCtx, sub, q)
		for {
			n, err := conn.Conn().WaitForNotification(subCtx)
			if err != nil {
				if subCtx.Err() == nil {
					sub.publish(Snapshot{Err: fmt.Errorf("wait for notification: %w", err)})
				}
				return
			}
			if n.Payload == q.Collection {
				s.emit(subCtx, sub, q)
			}
		}
	}()
	return sub, nil
}

func (s *PostgresStore) emit(ctx context.Context, sub *Subscription, q Query) {
	docs, err := s.Query(ctx, q)
	if ctx.Err() != nil {
		return
	}
	sub.publish(Snapshot{Documents: docs, Err: err})
}

func buildSelect(q Query) (string, []any) {
	var b strings.Builder
	args := []any{q.Collection}
	b.WriteString("SELECT id, data FROM documents WHERE collection = $1")
	for _, f := range q.Where {
		args = append(args, f.Field, encodeText(f.Value))
		fmt.Fprintf(&b, " AND data ->> $%d = $%d", len(args)-1, len(args))
	}
	if q.OrderBy != "" {
		args = append(args, q.OrderBy)
		dir := "ASC NULLS FIRST"
		if q.Desc {
			dir = "DESC NULLS LAST"
		}
		fmt.Fprintf(&b, " ORDER BY data ->> $%d %s, seq", len(args), dir)
	} else {
		b.WriteString(" ORDER BY seq")
	}
	return b.String(), args
}

// encode converts values that JSON would otherwise render inconsistently.
func encode(data map[string]any) map[string]any {
	out := make(map[string]any, len(data))
	for k, v := range data {
		if t, ok := v.(time.Time); ok {
			out[k] = t.UTC().Format(timeLayout)
			continue
		}
		out[k] = v
	}
	return out
}

func encodeText(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case time.Time:
		return t.UTC().Format(timeLayout)
	case int:
		return strconv.Itoa(t)
	case bool:
		return strconv.FormatBool(t)
	default:
		return fmt.Sprint(t)
	}
}
