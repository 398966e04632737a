// Package session keeps the signed-in identity of each browser. Sessions
// are created after a successful sign-in and are otherwise changed only by
// the identity provider's change notifications.
package session

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/kikuyu-catholic-sheets/sheets/internal/identity"
	"github.com/kikuyu-catholic-sheets/sheets/internal/model"
	"github.com/kikuyu-catholic-sheets/sheets/internal/signing"
)

// CookieName holds the signed session token.
const CookieName = "sheets_session"

// ErrClosed is returned by Create after Close.
var ErrClosed = errors.New("session store closed")

// Provider publishes identity changes.
type Provider interface {
	Watch(fn func(identity.Change)) (cancel func())
}

type entry struct {
	identity model.Identity
	expires  time.Time
}

// Store maps session ids to identities.
type Store struct {
	signer *signing.Signer
	ttl    time.Duration
	log    *log.Logger
	now    func() time.Time

	mu       sync.RWMutex
	sessions map[string]entry
	closed   bool
	cancel   func()
}

// NewStore subscribes to provider and returns an empty store.
func NewStore(provider Provider, signer *signing.Signer, ttl time.Duration, logger *log.Logger) *Store {
	s := &Store{
		signer:   signer,
		ttl:      ttl,
		log:      logger,
		now:      time.Now,
		sessions: make(map[string]entry),
	}
	s.cancel = provider.Watch(s.apply)
	return s
}

// SetClock replaces the time source. Tests only.
func (s *Store) SetClock(now func() time.Time) {
	s.now = now
}

func (s *Store) apply(c identity.Change) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, e := range s.sessions {
		if e.identity.UID != c.UID {
			continue
		}
		switch c.Kind {
		case identity.Updated:
			if c.Identity != nil {
				e.identity = *c.Identity
				s.sessions[id] = e
			}
		case identity.SignedOut, identity.Deleted:
			delete(s.sessions, id)
		}
	}
	s.log.Debug("identity change applied", "uid", c.UID, "kind", c.Kind)
}

// Create starts a session for id and returns its signed token and expiry.
func (s *Store) Create(id *model.Identity) (string, time.Time, error) {
	if id == nil || id.UID == "" {
		return "", time.Time{}, errors.New("session requires an identity")
	}
	expires := s.now().Add(s.ttl)
	sid := uuid.NewString()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return "", time.Time{}, ErrClosed
	}
	s.sessions[sid] = entry{identity: *id, expires: expires}
	return s.signer.Issue(sid, expires), expires, nil
}

// Lookup resolves a token. Expired sessions are dropped.
func (s *Store) Lookup(token string) (*model.Identity, bool) {
	sid, err := s.signer.Verify(token, s.now())
	if err != nil {
		return nil, false
	}
	s.mu.RLock()
	e, ok := s.sessions[sid]
	s.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if !s.now().Before(e.expires) {
		s.mu.Lock()
		delete(s.sessions, sid)
		s.mu.Unlock()
		return nil, false
	}
	id := e.identity
	return &id, true
}

// Destroy ends the session behind token, if any.
func (s *Store) Destroy(token string) {
	sid, err := s.signer.Verify(token, s.now())
	if err != nil {
		return
	}
	s.mu.Lock()
	delete(s.sessions, sid)
	s.mu.Unlock()
}

// Len returns the number of live sessions.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Close unsubscribes from the provider and drops every session.
func (s *Store) Close() {
	s.cancel()
	s.mu.Lock()
	s.closed = true
	clear(s.sessions)
	s.mu.Unlock()
}

type ctxKey struct{}

type state struct {
	identity *model.Identity
	token    string
}

// Middleware resolves the session cookie into the request context.
func (s *Store) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		st := state{}
		if c, err := r.Cookie(CookieName); err == nil {
			if id, ok := s.Lookup(c.Value); ok {
				st = state{identity: id, token: c.Value}
			}
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, st)))
	})
}

// FromContext returns the signed-in identity or nil.
func FromContext(ctx context.Context) *model.Identity {
	st, _ := ctx.Value(ctxKey{}).(state)
	return st.identity
}

// TokenFromContext returns the token of the current session, if any.
func TokenFromContext(ctx context.Context) string {
	st, _ := ctx.Value(ctxKey{}).(state)
	return st.token
}

// WithIdentity returns ctx carrying id as the signed-in identity.
func WithIdentity(ctx context.Context, id *model.Identity) context.Context {
	return context.WithValue(ctx, ctxKey{}, state{identity: id})
}

// SetCookie writes token to the response.
func SetCookie(w http.ResponseWriter, token string, expires time.Time, secure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    token,
		Path:     "/",
		Expires:  expires,
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// ClearCookie removes the session cookie.
func ClearCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}
