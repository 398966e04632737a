package server

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/kikuyu-catholic-sheets/sheets/internal/model"
	"github.com/kikuyu-catholic-sheets/sheets/internal/profile"
)

const (
	firstSnapshotWait = 3 * time.Second
	keepAliveInterval = 25 * time.Second
)

type scoreList struct {
	Scores  []model.Score
	Loading bool
	Failed  bool
}

type profileData struct {
	List  scoreList
	Score *model.Score
}

// ownScores mounts a profile view just long enough to read its first
// emission.
func (s *Server) ownScores(ctx context.Context, id *model.Identity) (scoreList, error) {
	view, err := s.profiles.Open(ctx, id)
	if err != nil {
		return scoreList{}, err
	}
	defer view.Close()
	timer := time.NewTimer(firstSnapshotWait)
	defer timer.Stop()
	select {
	case <-view.Changes():
	case <-timer.C:
	case <-ctx.Done():
	}
	return scoreList{Scores: view.Scores(), Loading: view.Loading(), Failed: view.Err() != nil}, nil
}

func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request) {
	id := identityFrom(r)
	flash := s.takeFlash(w, r)
	list, err := s.ownScores(r.Context(), id)
	if err != nil {
		s.log.Warn("profile scores unavailable", "uid", id.UID, "err", err)
		list.Failed = true
	}
	s.render(w, r, http.StatusOK, "profile", pageData{
		Title:  "Profile",
		Active: "profile",
		Flash:  flash,
		Data:   profileData{List: list},
	})
}

// handleProfileEvents streams the rendered score list each time the user's
// scores change, until the client disconnects.
func (s *Server) handleProfileEvents(w http.ResponseWriter, r *http.Request) {
	id := identityFrom(r)
	if id == nil {
		http.Error(w, "not signed in", http.StatusUnauthorized)
		return
	}
	ctx := r.Context()
	view, err := s.profiles.Open(ctx, id)
	if err != nil {
		s.log.Warn("profile stream not opened", "uid", id.UID, "err", err)
		http.Error(w, "An error occurred. Please try again.", http.StatusServiceUnavailable)
		return
	}
	defer view.Close()

	rc := http.NewResponseController(w)
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	if err := rc.Flush(); err != nil {
		s.log.Warn("streaming not supported", "err", err)
		return
	}

	keepAlive := time.NewTicker(keepAliveInterval)
	defer keepAlive.Stop()
	var buf bytes.Buffer
	for {
		select {
		case <-ctx.Done():
			return
		case <-keepAlive.C:
			if _, err := io.WriteString(w, ": ping\n\n"); err != nil {
				return
			}
		case _, ok := <-view.Changes():
			if !ok {
				return
			}
			buf.Reset()
			list := scoreList{Scores: view.Scores(), Loading: view.Loading(), Failed: view.Err() != nil}
			if err := s.pages.fragment(&buf, "scoreList", list); err != nil {
				s.log.Error("render score list", "err", err)
				return
			}
			if err := writeEvent(w, "scores", buf.String()); err != nil {
				return
			}
		}
		if err := rc.Flush(); err != nil {
			return
		}
	}
}

// writeEvent writes one SSE event. Every line of data gets its own field.
func writeEvent(w io.Writer, event, data string) error {
	var b strings.Builder
	fmt.Fprintf(&b, "event: %s\n", event)
	for _, line := range strings.Split(data, "\n") {
		fmt.Fprintf(&b, "data: %s\n", line)
	}
	b.WriteString("\n")
	_, err := io.WriteString(w, b.String())
	return err
}

func (s *Server) ownedScore(w http.ResponseWriter, r *http.Request) (*model.Score, bool) {
	id := identityFrom(r)
	score, err := s.scores.Get(r.Context(), r.PathValue("id"))
	if err == nil && score.OwnerID != id.UID {
		err = profile.ErrNotOwner
	}
	if err != nil {
		status := statusFor(err)
		msg := "Score not found."
		if status == http.StatusForbidden {
			msg = "You can only change scores you uploaded."
		}
		s.fail(w, r, status, msg)
		return nil, false
	}
	return &score, true
}

func (s *Server) handleEditForm(w http.ResponseWriter, r *http.Request) {
	score, ok := s.ownedScore(w, r)
	if !ok {
		return
	}
	s.render(w, r, http.StatusOK, "edit", pageData{Title: "Edit Score", Active: "profile", Data: profileData{Score: score}})
}

func (s *Server) handleEdit(w http.ResponseWriter, r *http.Request) {
	n, err := s.profiles.Edit(r.Context(), identityFrom(r), r.PathValue("id"), r.PostFormValue("title"), r.PostFormValue("composer"))
	s.finish(w, r, n, err)
}

func (s *Server) handleDeleteConfirm(w http.ResponseWriter, r *http.Request) {
	score, ok := s.ownedScore(w, r)
	if !ok {
		return
	}
	s.render(w, r, http.StatusOK, "delete", pageData{Title: "Confirm Deletion", Active: "profile", Data: profileData{Score: score}})
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	n, err := s.profiles.Delete(r.Context(), identityFrom(r), r.PathValue("id"))
	s.finish(w, r, n, err)
}

func (s *Server) handlePicture(w http.ResponseWriter, r *http.Request) {
	pic, err := s.readPicture(w, r)
	if err != nil {
		s.log.Warn("profile picture rejected", "err", err)
		s.finish(w, r, profile.Notification{Kind: profile.Failure, Message: "Failed to update profile picture."}, err)
		return
	}
	_, n, err := s.profiles.ReplacePicture(r.Context(), identityFrom(r), pic)
	s.finish(w, r, n, err)
}

func (s *Server) handlePictureDelete(w http.ResponseWriter, r *http.Request) {
	_, n, err := s.profiles.RemovePicture(r.Context(), identityFrom(r))
	s.finish(w, r, n, err)
}

// finish stores the notification and sends the browser back to the profile.
func (s *Server) finish(w http.ResponseWriter, r *http.Request, n profile.Notification, err error) {
	if err != nil {
		s.log.Info("profile action failed", "path", r.URL.Path, "err", err)
	}
	s.setFlash(w, n)
	http.Redirect(w, r, "/profile", http.StatusSeeOther)
}

// readPicture buffers the picture part. Pictures are small enough to hold in
// memory, which also gives the store an exact size.
func (s *Server) readPicture(w http.ResponseWriter, r *http.Request) (profile.Picture, error) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxPictureSize+formOverhead)
	mr, err := r.MultipartReader()
	if err != nil {
		return profile.Picture{}, errNotMultipart
	}
	for {
		part, err := mr.NextPart()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return profile.Picture{}, errors.New("missing picture part")
			}
			return profile.Picture{}, err
		}
		if part.FormName() != "picture" {
			part.Close()
			continue
		}
		data, err := io.ReadAll(io.LimitReader(part, s.cfg.MaxPictureSize+1))
		part.Close()
		if err != nil {
			return profile.Picture{}, err
		}
		if int64(len(data)) > s.cfg.MaxPictureSize {
			return profile.Picture{}, errFileTooLarge
		}
		if len(data) == 0 {
			return profile.Picture{}, errEmptyFile
		}
		contentType := part.Header.Get("Content-Type")
		if contentType == "" || strings.HasPrefix(contentType, "application/octet-stream") {
			contentType = http.DetectContentType(data)
		}
		return profile.Picture{ContentType: contentType, Size: int64(len(data)), Body: bytes.NewReader(data)}, nil
	}
}
