// Package server hosts the portal's pages. Handlers render html/template
// pages and delegate every action to the catalog, upload, profile, identity
// and session packages.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"github.com/kikuyu-catholic-sheets/sheets/internal/config"
	"github.com/kikuyu-catholic-sheets/sheets/internal/identity"
	"github.com/kikuyu-catholic-sheets/sheets/internal/profile"
	"github.com/kikuyu-catholic-sheets/sheets/internal/repository"
	"github.com/kikuyu-catholic-sheets/sheets/internal/session"
	"github.com/kikuyu-catholic-sheets/sheets/internal/signing"
	"github.com/kikuyu-catholic-sheets/sheets/internal/upload"
)

// Deps are the collaborators the handlers call.
type Deps struct {
	Config   *config.Config
	Scores   *repository.ScoreRepository
	Uploads  *upload.Flow
	Tracker  *upload.Tracker
	Profiles *profile.Manager
	Identity *identity.Service
	Sessions *session.Store
	Signer   *signing.Signer
	// Files serves stored objects under /files/ when objects live in process.
	Files  http.Handler
	Logger *log.Logger
}

// Server hosts the HTTP handlers.
type Server struct {
	cfg       *config.Config
	scores    *repository.ScoreRepository
	uploads   *upload.Flow
	tracker   *upload.Tracker
	profiles  *profile.Manager
	identity  *identity.Service
	sessions  *session.Store
	signer    *signing.Signer
	files     http.Handler
	log       *log.Logger
	pages     *renderer
	uploadDir string
	now       func() time.Time
}

// New creates a configured server. It fails when the templates do not parse
// or the spool directory cannot be created.
func New(d Deps) (*Server, error) {
	dir := filepath.Join(os.TempDir(), "sheets-uploads")
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, err
	}
	pages, err := newRenderer()
	if err != nil {
		return nil, err
	}
	return &Server{
		cfg:       d.Config,
		scores:    d.Scores,
		uploads:   d.Uploads,
		tracker:   d.Tracker,
		profiles:  d.Profiles,
		identity:  d.Identity,
		sessions:  d.Sessions,
		signer:    d.Signer,
		files:     d.Files,
		log:       d.Logger,
		pages:     pages,
		uploadDir: dir,
		now:       time.Now,
	}, nil
}

// Serve listens on the configured address until ctx is cancelled, then
// shuts down gracefully.
func (s *Server) Serve(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:              s.cfg.Address,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()
	s.log.Info("listening", "addr", s.cfg.Address, "base_url", s.cfg.BaseURL)
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Handler returns the routed handler wrapped in the session and logging
// middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /{$}", s.handleHome)
	mux.HandleFunc("GET /browse", s.handleBrowse)
	mux.HandleFunc("GET /about", s.handleAbout)
	mux.HandleFunc("GET /static/app.js", s.handleScript)

	mux.HandleFunc("GET /upload", s.requireSession(s.handleUploadForm))
	mux.HandleFunc("POST /upload", s.requireSession(s.handleUpload))
	mux.HandleFunc("GET /upload/progress", s.handleUploadProgress)

	mux.HandleFunc("GET /signin", s.handleSignInForm)
	mux.HandleFunc("POST /signin", s.handleSignIn)
	mux.HandleFunc("GET /signin/google", s.handleGoogleStart)
	mux.HandleFunc("GET /signin/google/callback", s.handleGoogleCallback)
	mux.HandleFunc("GET /signup", s.handleSignUpForm)
	mux.HandleFunc("POST /signup", s.handleSignUp)
	mux.HandleFunc("/signout", s.handleSignOut)
	mux.HandleFunc("GET /forgotpassword", s.handleForgotForm)
	mux.HandleFunc("POST /forgotpassword", s.handleForgot)
	mux.HandleFunc("GET /resetpassword", s.handleResetForm)
	mux.HandleFunc("POST /resetpassword", s.handleReset)

	mux.HandleFunc("GET /profile", s.requireSession(s.handleProfile))
	mux.HandleFunc("GET /profile/events", s.handleProfileEvents)
	mux.HandleFunc("GET /profile/scores/{id}/edit", s.requireSession(s.handleEditForm))
	mux.HandleFunc("POST /profile/scores/{id}/edit", s.requireSession(s.handleEdit))
	mux.HandleFunc("GET /profile/scores/{id}/delete", s.requireSession(s.handleDeleteConfirm))
	mux.HandleFunc("POST /profile/scores/{id}/delete", s.requireSession(s.handleDelete))
	mux.HandleFunc("POST /profile/picture", s.requireSession(s.handlePicture))
	mux.HandleFunc("POST /profile/picture/delete", s.requireSession(s.handlePictureDelete))

	if s.files != nil {
		mux.Handle("GET /files/", http.StripPrefix("/files", s.files))
	}
	return recoverMiddleware(s.log, loggingMiddleware(s.log, s.sessions.Middleware(mux)))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// requireSession redirects anonymous visitors to the sign-in page.
func (s *Server) requireSession(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if session.FromContext(r.Context()) == nil {
			http.Redirect(w, r, "/signin", http.StatusSeeOther)
			return
		}
		next(w, r)
	}
}

func (s *Server) secureCookies() bool {
	return strings.HasPrefix(s.cfg.BaseURL, "https://")
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Unwrap lets http.ResponseController reach the Flusher of streaming
// responses.
func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

func loggingMiddleware(logger *log.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		logger.Info("request", "method", r.Method, "path", r.URL.Path, "status", rec.status, "duration", time.Since(start))
	})
}

func recoverMiddleware(logger *log.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if v := recover(); v != nil {
				if v == http.ErrAbortHandler {
					panic(v)
				}
				logger.Error("handler panic", "path", r.URL.Path, "panic", v)
				http.Error(w, "An error occurred. Please try again.", http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}
