// Package model contains the typed records shared across packages.
package model

import (
	"fmt"
	"strings"
	"time"
)

// Document keys used by score records in the document store.
const (
	FieldTitle     = "title"
	FieldComposer  = "composer"
	FieldCategory  = "category"
	FieldOwner     = "userId"
	FieldFileURL   = "fileUrl"
	FieldFilePath  = "filePath"
	FieldPages     = "pages"
	FieldCreatedAt = "timestamp"
	FieldUpdatedAt = "updatedAt"
)

// Score is one catalog entry: metadata plus a reference to the stored PDF.
type Score struct {
	ID       string   `json:"id"`
	Title    string   `json:"title"`
	Composer string   `json:"composer"`
	Category Category `json:"category"`
	OwnerID  string   `json:"userId"`
	FileURL  string   `json:"fileUrl"`
	// FilePath is the object storage key and stays server side.
	FilePath  string    `json:"-"`
	Pages     int       `json:"pages,omitempty"`
	CreatedAt time.Time `json:"timestamp"`
	UpdatedAt time.Time `json:"updatedAt,omitempty"`
}

// MalformedError reports a stored document that cannot become a Score.
type MalformedError struct {
	ID    string
	Field string
	Cause string
}

func (e *MalformedError) Error() string {
	return fmt.Sprintf("document %s: field %q %s", e.ID, e.Field, e.Cause)
}

// ScoreFromDocument maps a loosely typed document onto a Score. Required
// fields that are missing, blank or of the wrong type produce a
// *MalformedError instead of a half-filled record.
func ScoreFromDocument(id string, data map[string]any) (Score, error) {
	s := Score{ID: id}
	if id == "" {
		return s, &MalformedError{ID: id, Field: "id", Cause: "is empty"}
	}
	var err error
	if s.Title, err = requiredString(id, data, FieldTitle); err != nil {
		return s, err
	}
	if s.Composer, err = requiredString(id, data, FieldComposer); err != nil {
		return s, err
	}
	category, err := requiredString(id, data, FieldCategory)
	if err != nil {
		return s, err
	}
	// Categories outside the current list are kept so older records stay visible.
	s.Category = Category(category)
	if s.OwnerID, err = requiredString(id, data, FieldOwner); err != nil {
		return s, err
	}
	if s.FileURL, err = requiredString(id, data, FieldFileURL); err != nil {
		return s, err
	}
	if v, ok := data[FieldFilePath].(string); ok {
		s.FilePath = v
	}
	if s.CreatedAt, err = requiredTime(id, data, FieldCreatedAt); err != nil {
		return s, err
	}
	if _, ok := data[FieldUpdatedAt]; ok {
		if s.UpdatedAt, err = requiredTime(id, data, FieldUpdatedAt); err != nil {
			return s, err
		}
	}
	switch v := data[FieldPages].(type) {
	case int:
		s.Pages = v
	case int64:
		s.Pages = int(v)
	case float64:
		s.Pages = int(v)
	}
	return s, nil
}

func requiredString(id string, data map[string]any, field string) (string, error) {
	raw, ok := data[field]
	if !ok {
		return "", &MalformedError{ID: id, Field: field, Cause: "is missing"}
	}
	v, ok := raw.(string)
	if !ok {
		return "", &MalformedError{ID: id, Field: field, Cause: fmt.Sprintf("has type %T", raw)}
	}
	if strings.TrimSpace(v) == "" {
		return "", &MalformedError{ID: id, Field: field, Cause: "is empty"}
	}
	return v, nil
}

func requiredTime(id string, data map[string]any, field string) (time.Time, error) {
	switch v := data[field].(type) {
	case time.Time:
		return v.UTC(), nil
	case string:
		t, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return time.Time{}, &MalformedError{ID: id, Field: field, Cause: "is not an RFC 3339 timestamp"}
		}
		return t.UTC(), nil
	case nil:
		return time.Time{}, &MalformedError{ID: id, Field: field, Cause: "is missing"}
	default:
		return time.Time{}, &MalformedError{ID: id, Field: field, Cause: fmt.Sprintf("has type %T", v)}
	}
}
