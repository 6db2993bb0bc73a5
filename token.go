package elmax

import (
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	// TokenScheme is the prefix the API puts in front of issued tokens and
	// expects in the Authorization header.
	TokenScheme = "JWT"

	// TokenRefreshWindow is how long before expiry a token is renewed.
	TokenRefreshWindow = 600 * time.Second
)

// Token is a decoded API token.
//
// The signature is not verified: the token is received over TLS from the
// API itself and is only decoded to read its expiry and identity claims.
type Token struct {
	// Raw is the encoded JWT without the scheme prefix.
	Raw string

	// Claims holds every claim of the token payload.
	Claims jwt.MapClaims

	// Expiration is the absolute expiry time. Zero if the token carries no exp claim.
	Expiration time.Time
}

// ParseToken decodes a raw JWT (without the "JWT " prefix) into a Token.
func ParseToken(raw string) (*Token, error) {
	if raw == "" {
		return nil, ErrEmptyToken
	}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
		return nil, fmt.Errorf("%w: decoding token: %w", ErrMalformedResponse, err)
	}

	t := &Token{Raw: raw, Claims: claims}
	exp, err := claims.GetExpirationTime()
	if err != nil {
		return nil, fmt.Errorf("%w: invalid exp claim: %w", ErrMalformedResponse, err)
	}
	if exp != nil {
		t.Expiration = exp.Time
	}
	return t, nil
}

// parseSchemeToken strips the scheme marker from a token returned by the
// login endpoint and decodes it.
func parseSchemeToken(value string) (*Token, error) {
	prefix := TokenScheme + " "
	if !strings.HasPrefix(value, prefix) {
		return nil, fmt.Errorf("%w: token is not a %s token", ErrMalformedResponse, TokenScheme)
	}
	return ParseToken(strings.TrimPrefix(value, prefix))
}

// Username returns the identity the token was issued to.
// The cloud API issues tokens with an email claim; the subject is used otherwise.
func (t *Token) Username() string {
	if t == nil {
		return ""
	}
	if email, ok := t.Claims["email"].(string); ok && email != "" {
		return email
	}
	sub, _ := t.Claims.GetSubject()
	return sub
}

// HasExpiration reports whether the token carries an exp claim.
func (t *Token) HasExpiration() bool {
	return t != nil && !t.Expiration.IsZero()
}

// ValidAt reports whether the token is still valid at the given time.
func (t *Token) ValidAt(now time.Time) bool {
	return t.HasExpiration() && t.Expiration.After(now)
}

// NeedsRefreshAt reports whether the token is missing, expired or inside
// the refresh window at the given time.
func (t *Token) NeedsRefreshAt(now time.Time) bool {
	if !t.HasExpiration() {
		return true
	}
	return t.Expiration.Sub(now) < TokenRefreshWindow
}

// authorization returns the Authorization header value for this token.
func (t *Token) authorization() string {
	return TokenScheme + " " + t.Raw
}
