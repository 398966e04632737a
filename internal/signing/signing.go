// Package signing implements a minimal HMAC helper for signed, expiring
// tokens: session cookies, password reset links and OAuth state.
package signing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrInvalid is returned for tokens that are malformed or carry a bad signature.
	ErrInvalid = errors.New("invalid token")
	// ErrExpired is returned for well signed tokens past their expiry.
	ErrExpired = errors.New("token expired")
)

// Signer generates and validates HMAC based signatures.
type Signer struct {
	secret []byte
}

// NewSigner creates a Signer.
func NewSigner(secret []byte) *Signer {
	return &Signer{secret: secret}
}

// Sign returns the hex signature for inputs.
func (s *Signer) Sign(value string, expiresUnix int64) string {
	mac := hmac.New(sha256.New, s.secret)
	payload := fmt.Sprintf("%s:%d", value, expiresUnix)
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

// Validate compares the provided signature with the expected.
func (s *Signer) Validate(value, expires, signature string) bool {
	exp, err := strconv.ParseInt(expires, 10, 64)
	if err != nil {
		return false
	}
	expected := s.Sign(value, exp)
	// hmac.Equal performs constant-time comparison to avoid timing attacks.
	return hmac.Equal([]byte(expected), []byte(signature))
}

// Issue packs value, expiry and signature into one "value.expiry.sig" token.
func (s *Signer) Issue(value string, expires time.Time) string {
	exp := expires.Unix()
	return value + "." + strconv.FormatInt(exp, 10) + "." + s.Sign(value, exp)
}

// Verify checks a token produced by Issue and returns its value.
func (s *Signer) Verify(token string, now time.Time) (string, error) {
	sigAt := strings.LastIndex(token, ".")
	if sigAt <= 0 {
		return "", ErrInvalid
	}
	expAt := strings.LastIndex(token[:sigAt], ".")
	if expAt <= 0 {
		return "", ErrInvalid
	}
	value, expires, sig := token[:expAt], token[expAt+1:sigAt], token[sigAt+1:]
	if !s.Validate(value, expires, sig) {
		return "", ErrInvalid
	}
	exp, _ := strconv.ParseInt(expires, 10, 64)
	if !now.Before(time.Unix(exp, 0)) {
		return "", ErrExpired
	}
	return value, nil
}
