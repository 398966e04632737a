package identity

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	netmail "net/mail"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/tidwall/gjson"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/endpoints"

	"github.com/kikuyu-catholic-sheets/sheets/internal/model"
	"github.com/kikuyu-catholic-sheets/sheets/internal/queue"
	"github.com/kikuyu-catholic-sheets/sheets/internal/signing"
)

// GoogleUserInfoURL is queried with the exchanged token.
const GoogleUserInfoURL = "https://openidconnect.googleapis.com/v1/userinfo"

// Google holds the OAuth client registered with Google.
type Google struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	// UserInfoURL and Endpoint override the Google defaults in tests.
	UserInfoURL string
	Endpoint    *oauth2.Endpoint
}

// Options configures a Service.
type Options struct {
	Users    UserStore
	Signer   *signing.Signer
	Queue    queue.Enqueuer
	BaseURL  string
	ResetTTL time.Duration
	// Google is nil when federated sign-in is not configured.
	Google *Google
	Logger *log.Logger
	Now    func() time.Time
	// HashCost defaults to bcrypt.DefaultCost.
	HashCost int
}

// Service authenticates users and notifies watchers of identity changes.
type Service struct {
	users       UserStore
	signer      *signing.Signer
	queue       queue.Enqueuer
	baseURL     string
	resetTTL    time.Duration
	oauth       *oauth2.Config
	userInfoURL string
	log         *log.Logger
	now         func() time.Time
	cost        int

	mu       sync.Mutex
	watchers map[int]func(Change)
	nextID   int
}

// NewService builds a Service.
func NewService(opts Options) *Service {
	s := &Service{
		users:    opts.Users,
		signer:   opts.Signer,
		queue:    opts.Queue,
		baseURL:  strings.TrimRight(opts.BaseURL, "/"),
		resetTTL: opts.ResetTTL,
		log:      opts.Logger,
		now:      opts.Now,
		cost:     opts.HashCost,
		watchers: make(map[int]func(Change)),
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.resetTTL <= 0 {
		s.resetTTL = time.Hour
	}
	if s.cost == 0 {
		s.cost = bcrypt.DefaultCost
	}
	if g := opts.Google; g != nil {
		endpoint := endpoints.Google
		if g.Endpoint != nil {
			endpoint = *g.Endpoint
		}
		s.oauth = &oauth2.Config{
			ClientID:     g.ClientID,
			ClientSecret: g.ClientSecret,
			RedirectURL:  g.RedirectURL,
			Endpoint:     endpoint,
			Scopes:       []string{"openid", "email", "profile"},
		}
		s.userInfoURL = g.UserInfoURL
		if s.userInfoURL == "" {
			s.userInfoURL = GoogleUserInfoURL
		}
	}
	return s
}

// FederatedEnabled reports whether Google sign-in is available.
func (s *Service) FederatedEnabled() bool {
	return s.oauth != nil
}

// AuthCodeURL returns the Google consent page URL carrying state.
func (s *Service) AuthCodeURL(state string) (string, error) {
	if s.oauth == nil {
		return "", ErrFederatedUnavailable
	}
	return s.oauth.AuthCodeURL(state, oauth2.AccessTypeOnline), nil
}

// SignIn checks an email and password pair.
func (s *Service) SignIn(ctx context.Context, email, password string) (*model.Identity, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return nil, err
	}
	u, err := s.users.ByEmail(ctx, email)
	if err != nil {
		return nil, backend(err)
	}
	if u.PasswordHash == "" {
		// Account created through Google only.
		return nil, ErrWrongPassword
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return nil, ErrWrongPassword
	}
	s.log.Info("signed in", "uid", u.ID)
	return u.Identity(), nil
}

// SignUp creates a password account.
func (s *Service) SignUp(ctx context.Context, email, password, displayName string) (*model.Identity, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return nil, err
	}
	if len(password) < MinPasswordLength {
		return nil, ErrWeakPassword
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	now := s.now().UTC()
	u := User{
		ID:           uuid.NewString(),
		Email:        email,
		DisplayName:  strings.TrimSpace(displayName),
		PasswordHash: string(hash),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.users.Create(ctx, u); err != nil {
		return nil, backend(err)
	}
	s.log.Info("account created", "uid", u.ID)
	return u.Identity(), nil
}

// SignInFederated exchanges a Google authorization code and signs the
// matching account in, linking or creating it as needed.
func (s *Service) SignInFederated(ctx context.Context, code string) (*model.Identity, error) {
	if s.oauth == nil {
		return nil, ErrFederatedUnavailable
	}
	token, err := s.oauth.Exchange(ctx, code)
	if err != nil {
		s.log.Warn("google code exchange failed", "err", err)
		return nil, ErrFederatedUnavailable
	}
	info, err := s.fetchUserInfo(ctx, token)
	if err != nil {
		s.log.Warn("google userinfo failed", "err", err)
		return nil, ErrFederatedUnavailable
	}
	subject := info.Get("sub").String()
	email := strings.ToLower(info.Get("email").String())
	if subject == "" || email == "" {
		return nil, ErrFederatedUnavailable
	}

	u, err := s.users.ByGoogleSubject(ctx, subject)
	switch {
	case err == nil:
		return u.Identity(), nil
	case !errors.Is(err, ErrUserNotFound):
		return nil, backend(err)
	}

	now := s.now().UTC()
	u, err = s.users.ByEmail(ctx, email)
	switch {
	case err == nil:
		if !info.Get("email_verified").Bool() {
			return nil, fmt.Errorf("%w: unverified email for existing account", ErrFederatedUnavailable)
		}
		u.GoogleSubject = subject
		if u.PhotoURL == "" {
			u.PhotoURL = info.Get("picture").String()
		}
		u.UpdatedAt = now
		if err := s.users.Update(ctx, u); err != nil {
			return nil, backend(err)
		}
		s.log.Info("google account linked", "uid", u.ID)
	case errors.Is(err, ErrUserNotFound):
		u = User{
			ID:            uuid.NewString(),
			Email:         email,
			DisplayName:   info.Get("name").String(),
			PhotoURL:      info.Get("picture").String(),
			GoogleSubject: subject,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		if err := s.users.Create(ctx, u); err != nil {
			return nil, backend(err)
		}
		s.log.Info("account created from google", "uid", u.ID)
	default:
		return nil, backend(err)
	}
	return u.Identity(), nil
}

func (s *Service) fetchUserInfo(ctx context.Context, token *oauth2.Token) (gjson.Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.userInfoURL, nil)
	if err != nil {
		return gjson.Result{}, err
	}
	resp, err := s.oauth.Client(ctx, token).Do(req)
	if err != nil {
		return gjson.Result{}, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return gjson.Result{}, err
	}
	if resp.StatusCode != http.StatusOK {
		return gjson.Result{}, fmt.Errorf("userinfo status %d", resp.StatusCode)
	}
	if !gjson.ValidBytes(body) {
		return gjson.Result{}, errors.New("userinfo response is not json")
	}
	return gjson.ParseBytes(body), nil
}

// SignOutEverywhere ends every session of uid on every device. Signing out
// of one browser only destroys that session; this is for account level events.
func (s *Service) SignOutEverywhere(_ context.Context, uid string) {
	s.notify(Change{Kind: SignedOut, UID: uid})
}

// Get returns the current identity of uid.
func (s *Service) Get(ctx context.Context, uid string) (*model.Identity, error) {
	u, err := s.users.ByID(ctx, uid)
	if err != nil {
		return nil, backend(err)
	}
	return u.Identity(), nil
}

// SendPasswordReset schedules delivery of a reset link to email.
func (s *Service) SendPasswordReset(ctx context.Context, email string) error {
	email, err := normalizeEmail(email)
	if err != nil {
		return err
	}
	u, err := s.users.ByEmail(ctx, email)
	if err != nil {
		return backend(err)
	}
	token := s.signer.Issue(resetValue(u), s.now().Add(s.resetTTL))
	link := s.baseURL + "/resetpassword?token=" + url.QueryEscape(token)
	if err := s.queue.Enqueue(ctx, queue.PasswordResetTask, queue.PasswordResetPayload{Email: u.Email, Link: link}); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	s.log.Info("password reset requested", "uid", u.ID)
	return nil
}

// ResetPassword sets a new password using a token from SendPasswordReset.
// A token stops working once the password it was issued for has changed.
// Existing sessions of the account are ended.
func (s *Service) ResetPassword(ctx context.Context, token, password string) error {
	value, err := s.signer.Verify(token, s.now())
	if err != nil {
		return ErrInvalidResetToken
	}
	uid, _, ok := strings.Cut(value, ":")
	if !ok {
		return ErrInvalidResetToken
	}
	u, err := s.users.ByID(ctx, uid)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return ErrInvalidResetToken
		}
		return backend(err)
	}
	if resetValue(u) != value {
		return ErrInvalidResetToken
	}
	if len(password) < MinPasswordLength {
		return ErrWeakPassword
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	u.PasswordHash = string(hash)
	u.UpdatedAt = s.now().UTC()
	if err := s.users.Update(ctx, u); err != nil {
		return backend(err)
	}
	s.log.Info("password reset", "uid", u.ID)
	s.SignOutEverywhere(ctx, u.ID)
	return nil
}

// ProfileUpdate lists the identity fields to change. Nil fields are kept.
type ProfileUpdate struct {
	DisplayName *string
	PhotoURL    *string
}

// UpdateProfile changes the display name or photo URL of uid and notifies
// watchers with the new identity.
func (s *Service) UpdateProfile(ctx context.Context, uid string, upd ProfileUpdate) (*model.Identity, error) {
	u, err := s.users.ByID(ctx, uid)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			s.notify(Change{Kind: Deleted, UID: uid})
		}
		return nil, backend(err)
	}
	if upd.DisplayName != nil {
		u.DisplayName = strings.TrimSpace(*upd.DisplayName)
	}
	if upd.PhotoURL != nil {
		u.PhotoURL = *upd.PhotoURL
	}
	u.UpdatedAt = s.now().UTC()
	if err := s.users.Update(ctx, u); err != nil {
		return nil, backend(err)
	}
	id := u.Identity()
	s.notify(Change{Kind: Updated, UID: uid, Identity: id})
	return id, nil
}

// Watch registers fn for change notifications until cancel is called.
// fn runs synchronously on the goroutine that caused the change.
func (s *Service) Watch(fn func(Change)) (cancel func()) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.watchers[id] = fn
	s.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.watchers, id)
			s.mu.Unlock()
		})
	}
}

func (s *Service) notify(c Change) {
	s.mu.Lock()
	fns := make([]func(Change), 0, len(s.watchers))
	for _, fn := range s.watchers {
		fns = append(fns, fn)
	}
	s.mu.Unlock()
	for _, fn := range fns {
		fn(c)
	}
}

func normalizeEmail(email string) (string, error) {
	email = strings.TrimSpace(email)
	addr, err := netmail.ParseAddress(email)
	if err != nil || addr.Address != email || !strings.Contains(email[strings.LastIndex(email, "@")+1:], ".") {
		return "", ErrInvalidEmail
	}
	return strings.ToLower(email), nil
}

// resetValue ties a reset token to the password hash it was issued against.
func resetValue(u User) string {
	sum := sha256.Sum256([]byte(u.PasswordHash))
	return u.ID + ":" + hex.EncodeToString(sum[:8])
}

// backend passes typed failures through and marks everything else as the
// store being unavailable.
func backend(err error) error {
	switch {
	case errors.Is(err, ErrUserNotFound), errors.Is(err, ErrEmailInUse):
		return err
	default:
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
}
