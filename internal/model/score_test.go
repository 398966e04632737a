package model

import (
	"errors"
	"testing"
	"time"
)

func validDoc() map[string]any {
	return map[string]any{
		FieldTitle:     "Mūthirigu",
		FieldComposer:  "J. Kamau",
		FieldCategory:  "Wamukiri (communion)",
		FieldOwner:     "u1",
		FieldFileURL:   "https://files.example/scores/u1/a.pdf",
		FieldFilePath:  "scores/u1/a.pdf",
		FieldPages:     float64(3),
		FieldCreatedAt: "2024-05-01T10:00:00Z",
	}
}

func TestScoreFromDocument(t *testing.T) {
	s, err := ScoreFromDocument("abc", validDoc())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.ID != "abc" || s.Title != "Mūthirigu" || s.OwnerID != "u1" || s.Pages != 3 {
		t.Fatalf("unexpected score %+v", s)
	}
	want := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	if !s.CreatedAt.Equal(want) {
		t.Fatalf("created at = %v, want %v", s.CreatedAt, want)
	}
	if !s.UpdatedAt.IsZero() {
		t.Fatalf("expected zero updatedAt, got %v", s.UpdatedAt)
	}
}

func TestScoreFromDocumentAcceptsTimeValues(t *testing.T) {
	doc := validDoc()
	now := time.Now()
	doc[FieldCreatedAt] = now
	doc[FieldUpdatedAt] = now
	s, err := ScoreFromDocument("abc", doc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !s.CreatedAt.Equal(now) || !s.UpdatedAt.Equal(now) {
		t.Fatalf("timestamps not kept: %+v", s)
	}
}

func TestScoreFromDocumentMalformed(t *testing.T) {
	cases := []struct {
		name  string
		edit  func(map[string]any)
		field string
	}{
		{"missing title", func(d map[string]any) { delete(d, FieldTitle) }, FieldTitle},
		{"blank composer", func(d map[string]any) { d[FieldComposer] = "  " }, FieldComposer},
		{"numeric category", func(d map[string]any) { d[FieldCategory] = 7 }, FieldCategory},
		{"missing owner", func(d map[string]any) { delete(d, FieldOwner) }, FieldOwner},
		{"missing timestamp", func(d map[string]any) { delete(d, FieldCreatedAt) }, FieldCreatedAt},
		{"bad timestamp", func(d map[string]any) { d[FieldCreatedAt] = "yesterday" }, FieldCreatedAt},
		{"bad updatedAt", func(d map[string]any) { d[FieldUpdatedAt] = true }, FieldUpdatedAt},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			doc := validDoc()
			tc.edit(doc)
			_, err := ScoreFromDocument("abc", doc)
			var merr *MalformedError
			if !errors.As(err, &merr) {
				t.Fatalf("expected MalformedError, got %v", err)
			}
			if merr.Field != tc.field {
				t.Fatalf("field = %q, want %q", merr.Field, tc.field)
			}
		})
	}
}

func TestParseCategory(t *testing.T) {
	if len(Categories) != 12 {
		t.Fatalf("expected 12 categories, got %d", len(Categories))
	}
	c, err := ParseCategory(" Thaburi (Psalms) ")
	if err != nil || c != "Thaburi (Psalms)" {
		t.Fatalf("ParseCategory = %q, %v", c, err)
	}
	if _, err := ParseCategory("Rock"); err == nil {
		t.Fatalf("expected unknown category to fail")
	}
}

func TestIdentityName(t *testing.T) {
	var nilID *Identity
	if nilID.Name() != "User" {
		t.Fatalf("nil identity should be called User")
	}
	if (&Identity{UID: "u1"}).Name() != "User" {
		t.Fatalf("empty display name should fall back to User")
	}
	if (&Identity{UID: "u1", DisplayName: "Wanjiru"}).Name() != "Wanjiru" {
		t.Fatalf("display name not used")
	}
}
