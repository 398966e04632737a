package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/kikuyu-catholic-sheets/sheets/internal/identity"
	"github.com/kikuyu-catholic-sheets/sheets/internal/profile"
	"github.com/kikuyu-catholic-sheets/sheets/internal/repository"
	"github.com/kikuyu-catholic-sheets/sheets/internal/upload"
)

// statusFor picks the response status for a failed action. The page is
// rendered either way.
func statusFor(err error) int {
	var (
		verr *upload.ValidationError
		terr *upload.TransferError
		perr *upload.PartialError
	)
	switch {
	case err == nil:
		return http.StatusOK
	case errors.As(err, &verr),
		errors.Is(err, identity.ErrInvalidEmail),
		errors.Is(err, identity.ErrWeakPassword),
		errors.Is(err, identity.ErrInvalidResetToken),
		errors.Is(err, profile.ErrBlankField),
		errors.Is(err, profile.ErrNotImage):
		return http.StatusBadRequest
	case errors.Is(err, identity.ErrWrongPassword),
		errors.Is(err, upload.ErrUnauthenticated),
		errors.Is(err, profile.ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, profile.ErrNotOwner):
		return http.StatusForbidden
	case errors.Is(err, identity.ErrUserNotFound), errors.Is(err, repository.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, identity.ErrEmailInUse):
		return http.StatusConflict
	case errors.Is(err, context.Canceled):
		// The client went away; nobody reads this status.
		return 499
	case errors.As(err, &terr), errors.As(err, &perr),
		errors.Is(err, identity.ErrFederatedUnavailable):
		return http.StatusBadGateway
	case errors.Is(err, identity.ErrUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
