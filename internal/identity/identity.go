// Package identity is the portal's identity provider: password and Google
// sign-in, sign-up, password reset and profile updates, plus change
// notifications for the session layer.
package identity

import (
	"errors"
	"time"

	"github.com/kikuyu-catholic-sheets/sheets/internal/model"
)

// Typed failures. Message maps them to what the sign-in pages show.
var (
	ErrInvalidEmail         = errors.New("invalid email address")
	ErrUserNotFound         = errors.New("user not found")
	ErrWrongPassword        = errors.New("wrong password")
	ErrEmailInUse           = errors.New("email already in use")
	ErrWeakPassword         = errors.New("password should be at least 6 characters")
	ErrInvalidResetToken    = errors.New("invalid or expired password reset link")
	ErrFederatedUnavailable = errors.New("federated sign-in failed")
	ErrUnavailable          = errors.New("identity backend unavailable")
)

// MinPasswordLength is the shortest accepted password.
const MinPasswordLength = 6

// User is the stored account behind an Identity.
type User struct {
	ID            string
	Email         string
	DisplayName   string
	PhotoURL      string
	PasswordHash  string
	GoogleSubject string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Identity returns the read-only view handed to the rest of the portal.
func (u User) Identity() *model.Identity {
	return &model.Identity{
		UID:         u.ID,
		DisplayName: u.DisplayName,
		Email:       u.Email,
		PhotoURL:    u.PhotoURL,
	}
}

// ChangeKind classifies a change notification.
type ChangeKind int

const (
	// Updated means the identity's profile fields changed.
	Updated ChangeKind = iota
	// SignedOut means every session of the identity must end.
	SignedOut
	// Deleted means the account no longer exists.
	Deleted
)

// Change is delivered to watchers registered with Service.Watch.
type Change struct {
	Kind     ChangeKind
	UID      string
	Identity *model.Identity
}

// Message maps an identity error onto the short text shown to users.
func Message(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidEmail):
		return "Invalid email address."
	case errors.Is(err, ErrUserNotFound):
		return "No user found with this email."
	case errors.Is(err, ErrWrongPassword):
		return "Incorrect password."
	case errors.Is(err, ErrEmailInUse):
		return "An account with this email already exists."
	case errors.Is(err, ErrWeakPassword):
		return "Password should be at least 6 characters."
	case errors.Is(err, ErrInvalidResetToken):
		return "This password reset link is invalid or has expired."
	case errors.Is(err, ErrFederatedUnavailable):
		return "Failed to sign in with Google. Please try again."
	default:
		return "An error occurred. Please try again."
	}
}

func (k ChangeKind) String() string {
	switch k {
	case Updated:
		return "updated"
	case SignedOut:
		return "signed-out"
	case Deleted:
		return "deleted"
	default:
		return "unknown"
	}
}
