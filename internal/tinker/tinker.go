// Package tinker implements the signed per-user progression claim carried in
// the tinker-token cookie.
//
// A Tinker tracks how much a token has written (post and thread counts) and a
// "level" that grows at most once per 23 hours, capped at 20. The claim is
// signed with HMAC-SHA256 and expires after one year; it references its
// AuthedCookie by string value only, so verification is a lookup, not a
// pointer chase.
//
// SECURITY: the signing key comes from the base64 TINKER_SECRET environment
// value. Verification pins the algorithm to HMAC to rule out algorithm
// substitution, and a token minted for a different authed cookie is treated
// as absent rather than an error.
package tinker

import (
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	// MaxLevel caps progression.
	MaxLevel = 20
	// LevelUpGap is the minimum spacing between level increments.
	LevelUpGap = 23 * time.Hour
	// TokenLifetime is the claim expiry.
	TokenLifetime = 365 * 24 * time.Hour
)

// Tinker is the progression state carried in the token.
type Tinker struct {
	AuthedToken        string `json:"authed_token"`
	WroteCount         int    `json:"wrote_count"`
	CreatedThreadCount int    `json:"created_thread_count"`
	Level              int    `json:"level"`
	LastLevelUpAt      int64  `json:"last_level_up_at"`
	LastWroteAt        int64  `json:"last_wrote_at"`
}

// New returns a fresh Tinker bound to an authed cookie.
func New(authedToken string) *Tinker {
	return &Tinker{AuthedToken: authedToken}
}

// RecordWrite applies one successful write at now: counts are bumped, the
// write clock moves, and the level rises when the 23-hour gap has passed.
func (t *Tinker) RecordWrite(now time.Time, isThread bool) {
	t.WroteCount++
	t.LastWroteAt = now.Unix()
	if isThread {
		t.CreatedThreadCount++
	}
	if time.Unix(t.LastLevelUpAt, 0).Add(LevelUpGap).Before(now) && t.Level < MaxLevel {
		t.Level++
		t.LastLevelUpAt = now.Unix()
	}
}

type claims struct {
	Tinker
	jwt.RegisteredClaims
}

// Signer signs and verifies tinker tokens.
type Signer struct {
	key []byte
}

// NewSigner decodes the base64 HMAC key. An empty secret disables signing;
// callers get a nil Signer and skip the tinker flow entirely.
func NewSigner(base64Secret string) (*Signer, error) {
	if base64Secret == "" {
		return nil, nil
	}
	key, err := base64.StdEncoding.DecodeString(base64Secret)
	if err != nil {
		return nil, fmt.Errorf("failed to decode tinker secret: %w", err)
	}
	return &Signer{key: key}, nil
}

// Sign mints a signed token for t with a one-year expiry.
func (s *Signer) Sign(t *Tinker, now time.Time) (string, error) {
	c := claims{
		Tinker: *t,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(TokenLifetime)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(s.key)
	if err != nil {
		return "", fmt.Errorf("failed to sign tinker token: %w", err)
	}
	return signed, nil
}

// Verify parses a token and returns its Tinker. Expired, tampered or
// wrong-algorithm tokens are errors; binding to a specific cookie is the
// caller's job via AuthedToken.
func (s *Signer) Verify(token string) (*Tinker, error) {
	var c claims
	parsed, err := jwt.ParseWithClaims(token, &c, func(tok *jwt.Token) (interface{}, error) {
		if _, ok := tok.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", tok.Header["alg"])
		}
		return s.key, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to verify tinker token: %w", err)
	}
	if !parsed.Valid {
		return nil, errors.New("tinker token is not valid")
	}
	return &c.Tinker, nil
}

// Resolve returns the Tinker to use for a request: the presented token when
// it verifies and belongs to cookie, a fresh one otherwise.
func (s *Signer) Resolve(token, cookie string) *Tinker {
	if token != "" {
		if t, err := s.Verify(token); err == nil && t.AuthedToken == cookie {
			return t
		}
	}
	return New(cookie)
}
