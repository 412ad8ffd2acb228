package storage

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrBadUploadToken is returned when an upload token is missing, expired,
// forged or issued for a different chunk.
var ErrBadUploadToken = errors.New("bad upload token")

// nowFunc is the time source, replaceable in tests.
var nowFunc = time.Now

type uploadClaims struct {
	SessionID string `json:"sid"`
	Chunk     int    `json:"chunk"`
	jwt.RegisteredClaims
}

// Signer builds chunk upload URLs. With a secret the URL carries a signed,
// expiring token bound to the session and ordinal; without one the URL is
// bare and every upload is accepted.
type Signer struct {
	baseURL string
	secret  []byte
	ttl     time.Duration
}

// NewSigner creates a signer for URLs under baseURL.
func NewSigner(baseURL, secret string, ttl time.Duration) *Signer {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &Signer{baseURL: strings.TrimRight(baseURL, "/"), secret: []byte(secret), ttl: ttl}
}

// Enabled reports whether URLs are signed.
func (s *Signer) Enabled() bool { return len(s.secret) > 0 }

// UploadURL returns the URL a client PUTs a chunk to, and when it expires.
// The zero time is returned for unsigned URLs.
func (s *Signer) UploadURL(sessionID string, ordinal int) (string, time.Time, error) {
	u := fmt.Sprintf("%s/api/upload-chunk/%s/%d", s.baseURL, url.PathEscape(sessionID), ordinal)
	if !s.Enabled() {
		return u, time.Time{}, nil
	}

	now := nowFunc()
	exp := now.Add(s.ttl)
	claims := uploadClaims{
		SessionID: sessionID,
		Chunk:     ordinal,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			Subject:   "chunk-upload",
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign upload url: %w", err)
	}
	return u + "?token=" + url.QueryEscape(token), exp, nil
}

// Verify checks an upload token against the target chunk. Without a secret
// every token, including none, is accepted.
func (s *Signer) Verify(token, sessionID string, ordinal int) error {
	if !s.Enabled() {
		return nil
	}
	if token == "" {
		return fmt.Errorf("%w: missing", ErrBadUploadToken)
	}
	var claims uploadClaims
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(nowFunc))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBadUploadToken, err)
	}
	if claims.SessionID != sessionID || claims.Chunk != ordinal {
		return fmt.Errorf("%w: issued for %s/%d", ErrBadUploadToken, claims.SessionID, claims.Chunk)
	}
	return nil
}
