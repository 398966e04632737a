// Package profile backs the profile page: the signed-in user's own scores,
// kept live, plus editing, deleting and the profile picture.
package profile

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/kikuyu-catholic-sheets/sheets/internal/identity"
	"github.com/kikuyu-catholic-sheets/sheets/internal/model"
	"github.com/kikuyu-catholic-sheets/sheets/internal/objectstore"
	"github.com/kikuyu-catholic-sheets/sheets/internal/queue"
	"github.com/kikuyu-catholic-sheets/sheets/internal/repository"
)

var (
	// ErrNotOwner is returned when a score belongs to someone else.
	ErrNotOwner = errors.New("score belongs to another user")
	// ErrBlankField is returned for an edit with an empty title or composer.
	ErrBlankField = errors.New("title and composer are required")
	// ErrNotImage is returned for a profile picture that is not a JPEG, PNG,
	// GIF or WebP image.
	ErrNotImage = errors.New("profile picture must be a JPEG, PNG, GIF or WebP image")
	// ErrUnauthenticated is returned when nobody is signed in.
	ErrUnauthenticated = errors.New("not signed in")
)

// Kind tells the page how to style a Notification.
type Kind string

const (
	Success Kind = "success"
	Failure Kind = "error"
)

// Notification is the banner shown after an action.
type Notification struct {
	Kind    Kind
	Message string
}

// Title is the banner heading.
func (n Notification) Title() string {
	if n.Kind == Failure {
		return "Error"
	}
	return "Success"
}

func success(msg string) Notification { return Notification{Kind: Success, Message: msg} }
func failure(msg string) Notification { return Notification{Kind: Failure, Message: msg} }

// PhotoUpdater changes the photo URL held by the identity provider.
type PhotoUpdater interface {
	UpdateProfile(ctx context.Context, uid string, upd identity.ProfileUpdate) (*model.Identity, error)
}

// Picture is an uploaded profile image. Size is -1 when unknown.
type Picture struct {
	ContentType string
	Size        int64
	Body        io.Reader
}

// Manager runs profile actions for the signed-in user.
type Manager struct {
	scores     *repository.ScoreRepository
	objects    objectstore.Store
	identities PhotoUpdater
	queue      queue.Enqueuer
	log        *log.Logger
}

// NewManager wires a Manager.
func NewManager(scores *repository.ScoreRepository, objects objectstore.Store, identities PhotoUpdater, q queue.Enqueuer, logger *log.Logger) *Manager {
	return &Manager{scores: scores, objects: objects, identities: identities, queue: q, log: logger}
}

// PicturePath is the fixed storage key of uid's profile picture.
func PicturePath(uid string) string {
	return "profilePictures/" + uid
}

// Open mounts a live view of id's scores. The view ends when ctx is done or
// Close is called.
func (m *Manager) Open(ctx context.Context, id *model.Identity) (*View, error) {
	if id == nil {
		return nil, ErrUnauthenticated
	}
	sub, err := m.scores.SubscribeOwner(ctx, id.UID)
	if err != nil {
		return nil, err
	}
	v := newView(sub, m.log.With("uid", id.UID))
	go v.run()
	return v, nil
}

// Edit changes the title and composer of one of id's scores.
func (m *Manager) Edit(ctx context.Context, id *model.Identity, scoreID, title, composer string) (Notification, error) {
	title, composer = strings.TrimSpace(title), strings.TrimSpace(composer)
	if title == "" || composer == "" {
		return failure("Failed to update score."), ErrBlankField
	}
	if _, err := m.owned(ctx, id, scoreID); err != nil {
		return failure("Failed to update score."), err
	}
	if err := m.scores.Update(ctx, scoreID, title, composer); err != nil {
		m.log.Warn("score update failed", "score", scoreID, "err", err)
		return failure("Failed to update score."), err
	}
	return success("Score updated successfully!"), nil
}

// Delete removes one of id's scores. Its file is reported for reclaiming.
func (m *Manager) Delete(ctx context.Context, id *model.Identity, scoreID string) (Notification, error) {
	score, err := m.owned(ctx, id, scoreID)
	if err != nil {
		return failure("Failed to delete score."), err
	}
	if err := m.scores.Delete(ctx, scoreID); err != nil {
		m.log.Warn("score delete failed", "score", scoreID, "err", err)
		return failure("Failed to delete score."), err
	}
	if score.FilePath != "" {
		err := m.queue.Enqueue(context.WithoutCancel(ctx), queue.ReclaimObjectTask, queue.ReclaimPayload{Path: score.FilePath})
		if err != nil {
			m.log.Warn("reclaim task not queued", "path", score.FilePath, "err", err)
		}
	}
	return success("Score deleted successfully!"), nil
}

func (m *Manager) owned(ctx context.Context, id *model.Identity, scoreID string) (model.Score, error) {
	if id == nil {
		return model.Score{}, ErrUnauthenticated
	}
	score, err := m.scores.Get(ctx, scoreID)
	if err != nil {
		return model.Score{}, err
	}
	if score.OwnerID != id.UID {
		return model.Score{}, fmt.Errorf("score %s: %w", scoreID, ErrNotOwner)
	}
	return score, nil
}

// pictureTypes are the raster formats accepted as profile pictures. SVG is
// excluded since it can carry script.
var pictureTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/gif":  true,
	"image/webp": true,
}

// ReplacePicture stores pic as id's profile picture and points the
// identity's photo URL at it.
func (m *Manager) ReplacePicture(ctx context.Context, id *model.Identity, pic Picture) (*model.Identity, Notification, error) {
	fail := failure("Failed to update profile picture.")
	if id == nil {
		return nil, fail, ErrUnauthenticated
	}
	mediaType, _, err := mime.ParseMediaType(pic.ContentType)
	if err != nil || !pictureTypes[mediaType] {
		return nil, fail, ErrNotImage
	}
	p := PicturePath(id.UID)
	if err := m.objects.Put(ctx, p, pic.Body, pic.Size, mediaType, nil); err != nil {
		m.log.Warn("profile picture upload failed", "uid", id.UID, "err", err)
		return nil, fail, err
	}
	url, err := m.objects.URL(ctx, p)
	if err != nil {
		return nil, fail, err
	}
	updated, err := m.identities.UpdateProfile(ctx, id.UID, identity.ProfileUpdate{PhotoURL: &url})
	if err != nil {
		m.log.Warn("photo url update failed", "uid", id.UID, "err", err)
		return nil, fail, err
	}
	return updated, success("Profile picture updated successfully!"), nil
}

// RemovePicture deletes id's profile picture and clears the photo URL.
func (m *Manager) RemovePicture(ctx context.Context, id *model.Identity) (*model.Identity, Notification, error) {
	fail := failure("Failed to remove profile picture.")
	if id == nil {
		return nil, fail, ErrUnauthenticated
	}
	err := m.objects.Delete(ctx, PicturePath(id.UID))
	if err != nil && !(errors.Is(err, objectstore.ErrNotFound) && id.PhotoURL != "") {
		return nil, fail, err
	}
	empty := ""
	updated, err := m.identities.UpdateProfile(ctx, id.UID, identity.ProfileUpdate{PhotoURL: &empty})
	if err != nil {
		return nil, fail, err
	}
	return updated, success("Profile picture removed successfully!"), nil
}
