package server

import (
	"crypto/hmac"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/kikuyu-catholic-sheets/sheets/internal/identity"
	"github.com/kikuyu-catholic-sheets/sheets/internal/model"
	"github.com/kikuyu-catholic-sheets/sheets/internal/session"
)

const (
	stateCookie = "sheets_oauth_state"
	stateTTL    = 10 * time.Minute
)

type authData struct {
	Email       string
	DisplayName string
	Google      bool
	Token       string
}

func (s *Server) handleSignInForm(w http.ResponseWriter, r *http.Request) {
	if identityFrom(r) != nil {
		http.Redirect(w, r, "/profile", http.StatusSeeOther)
		return
	}
	s.render(w, r, http.StatusOK, "signin", pageData{
		Title:  "Sign In",
		Active: "signin",
		Data:   authData{Google: s.identity.FederatedEnabled()},
	})
}

func (s *Server) handleSignIn(w http.ResponseWriter, r *http.Request) {
	email, password := r.PostFormValue("email"), r.PostFormValue("password")
	id, err := s.identity.SignIn(r.Context(), email, password)
	if err != nil {
		s.render(w, r, statusFor(err), "signin", pageData{
			Title:  "Sign In",
			Active: "signin",
			Error:  identity.Message(err),
			Data:   authData{Email: email, Google: s.identity.FederatedEnabled()},
		})
		return
	}
	s.startSession(w, r, id)
}

func (s *Server) handleSignUpForm(w http.ResponseWriter, r *http.Request) {
	s.render(w, r, http.StatusOK, "signup", pageData{Title: "Create Account", Active: "signin"})
}

func (s *Server) handleSignUp(w http.ResponseWriter, r *http.Request) {
	email, name := r.PostFormValue("email"), r.PostFormValue("displayName")
	id, err := s.identity.SignUp(r.Context(), email, r.PostFormValue("password"), name)
	if err != nil {
		s.render(w, r, statusFor(err), "signup", pageData{
			Title:  "Create Account",
			Active: "signin",
			Error:  identity.Message(err),
			Data:   authData{Email: email, DisplayName: name},
		})
		return
	}
	s.startSession(w, r, id)
}

func (s *Server) startSession(w http.ResponseWriter, r *http.Request, id *model.Identity) {
	token, expires, err := s.sessions.Create(id)
	if err != nil {
		s.log.Error("session not created", "uid", id.UID, "err", err)
		s.fail(w, r, http.StatusInternalServerError, identity.Message(err))
		return
	}
	session.SetCookie(w, token, expires, s.secureCookies())
	http.Redirect(w, r, "/profile", http.StatusSeeOther)
}

func (s *Server) handleGoogleStart(w http.ResponseWriter, r *http.Request) {
	nonce := uuid.NewString()
	state := s.signer.Issue(nonce, s.now().Add(stateTTL))
	target, err := s.identity.AuthCodeURL(state)
	if err != nil {
		s.render(w, r, http.StatusServiceUnavailable, "signin", pageData{
			Title:  "Sign In",
			Active: "signin",
			Error:  identity.Message(err),
		})
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     stateCookie,
		Value:    state,
		Path:     "/signin/google",
		MaxAge:   int(stateTTL.Seconds()),
		HttpOnly: true,
		Secure:   s.secureCookies(),
		SameSite: http.SameSiteLaxMode,
	})
	http.Redirect(w, r, target, http.StatusFound)
}

func (s *Server) handleGoogleCallback(w http.ResponseWriter, r *http.Request) {
	failed := func(status int) {
		s.render(w, r, status, "signin", pageData{
			Title:  "Sign In",
			Active: "signin",
			Error:  identity.Message(identity.ErrFederatedUnavailable),
			Data:   authData{Google: s.identity.FederatedEnabled()},
		})
	}
	cookie, err := r.Cookie(stateCookie)
	http.SetCookie(w, &http.Cookie{Name: stateCookie, Path: "/signin/google", MaxAge: -1})
	state := r.URL.Query().Get("state")
	if err != nil || !hmac.Equal([]byte(cookie.Value), []byte(state)) {
		failed(http.StatusBadRequest)
		return
	}
	if _, err := s.signer.Verify(state, s.now()); err != nil {
		failed(http.StatusBadRequest)
		return
	}
	code := r.URL.Query().Get("code")
	if code == "" {
		// The user declined consent.
		failed(http.StatusUnauthorized)
		return
	}
	id, err := s.identity.SignInFederated(r.Context(), code)
	if err != nil {
		failed(statusFor(err))
		return
	}
	s.startSession(w, r, id)
}

func (s *Server) handleSignOut(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	// Only this browser's session ends; other devices stay signed in.
	if identityFrom(r) != nil {
		s.sessions.Destroy(session.TokenFromContext(r.Context()))
	}
	session.ClearCookie(w)
	// Rendered without the identity the middleware resolved for this request.
	if err := s.pages.page(w, http.StatusOK, "signedout", pageData{Title: "Signed Out"}); err != nil {
		s.log.Error("render failed", "page", "signedout", "err", err)
	}
}

func (s *Server) handleForgotForm(w http.ResponseWriter, r *http.Request) {
	s.render(w, r, http.StatusOK, "forgotpassword", pageData{Title: "Forgot Password", Active: "signin"})
}

func (s *Server) handleForgot(w http.ResponseWriter, r *http.Request) {
	email := r.PostFormValue("email")
	data := pageData{Title: "Forgot Password", Active: "signin", Data: authData{Email: email}}
	status := http.StatusOK
	if err := s.identity.SendPasswordReset(r.Context(), email); err != nil {
		status = statusFor(err)
		data.Error = identity.Message(err)
	} else {
		data.Success = "Password reset email sent successfully."
	}
	s.render(w, r, status, "forgotpassword", data)
}

func (s *Server) handleResetForm(w http.ResponseWriter, r *http.Request) {
	s.render(w, r, http.StatusOK, "resetpassword", pageData{
		Title:  "Reset Password",
		Active: "signin",
		Data:   authData{Token: r.URL.Query().Get("token")},
	})
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	token := r.PostFormValue("token")
	data := pageData{Title: "Reset Password", Active: "signin", Data: authData{Token: token}}
	status := http.StatusOK
	if err := s.identity.ResetPassword(r.Context(), token, r.PostFormValue("password")); err != nil {
		status = statusFor(err)
		data.Error = identity.Message(err)
	} else {
		data.Success = "Your password has been reset. You can now sign in."
		data.Data = authData{}
	}
	s.render(w, r, status, "resetpassword", data)
}
