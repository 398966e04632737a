package signing

import (
	"errors"
	"testing"
	"time"
)

func TestSigner(t *testing.T) {
	secret := []byte("topsecret")
	s := NewSigner(secret)
	sig := s.Sign("session123", 1700000000)
	if len(sig) == 0 {
		t.Fatalf("expected signature")
	}
	if !s.Validate("session123", "1700000000", sig) {
		t.Fatalf("expected signature to validate")
	}
	// Negative cases ensure Validate is strict about every parameter.
	if s.Validate("wrong", "1700000000", sig) {
		t.Fatalf("expected validation to fail for wrong value")
	}
	if s.Validate("session123", "42", sig) {
		t.Fatalf("expected validation to fail for wrong expiry")
	}
	if NewSigner([]byte("other")).Validate("session123", "1700000000", sig) {
		t.Fatalf("expected validation to fail for wrong secret")
	}
}

func TestIssueVerify(t *testing.T) {
	s := NewSigner([]byte("topsecret"))
	now := time.Unix(1700000000, 0)
	token := s.Issue("u1.with.dots", now.Add(time.Hour))

	value, err := s.Verify(token, now)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if value != "u1.with.dots" {
		t.Fatalf("expected value u1.with.dots, got %q", value)
	}
	if _, err := s.Verify(token, now.Add(2*time.Hour)); !errors.Is(err, ErrExpired) {
		t.Fatalf("expected ErrExpired, got %v", err)
	}
	tampered := "u2" + token[len("u1.with.dots"):]
	if _, err := s.Verify(tampered, now); !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrInvalid for tampered token, got %v", err)
	}
	for _, bad := range []string{"", "nodots", ".1.2", "a..b"} {
		if _, err := s.Verify(bad, now); !errors.Is(err, ErrInvalid) {
			t.Fatalf("expected ErrInvalid for %q, got %v", bad, err)
		}
	}
}
