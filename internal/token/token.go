// Package token issues and verifies the signed access and refresh tokens.
//
// Every token carries an explicit kind claim. Verify rejects a token whose
// kind differs from the one the caller expects, so an access token can never
// be replayed as a refresh token or the other way around.
package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Kind tells access tokens and refresh tokens apart.
type Kind string

const (
	KindAccess  Kind = "access"
	KindRefresh Kind = "refresh"
)

const defaultIssuer = "authgate"

var (
	// ErrInvalid is wrapped by every verification failure.
	ErrInvalid = errors.New("token expired or invalid")
	// ErrWrongKind marks a well-signed token presented at the wrong site.
	ErrWrongKind = errors.New("unexpected token kind")
)

type Claims struct {
	Email string `json:"email"`
	Kind  Kind   `json:"kind"`
	jwt.RegisteredClaims
}

// Codec is safe for concurrent use; its key and options never change after
// construction.
type Codec struct {
	secret []byte
	issuer string
	now    func() time.Time
}

type Option func(*Codec)

func WithIssuer(issuer string) Option {
	return func(c *Codec) { c.issuer = issuer }
}

// WithClock replaces time.Now for issuance and expiry checks.
func WithClock(now func() time.Time) Option {
	return func(c *Codec) { c.now = now }
}

func NewCodec(secret []byte, opts ...Option) (*Codec, error) {
	if len(secret) == 0 {
		return nil, errors.New("token: signing secret must not be empty")
	}
	c := &Codec{
		secret: append([]byte(nil), secret...),
		issuer: defaultIssuer,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Issue signs a token for subject that expires ttl from now.
func (c *Codec) Issue(subject string, kind Kind, ttl time.Duration) (string, time.Time, error) {
	if subject == "" {
		return "", time.Time{}, errors.New("token: subject must not be empty")
	}
	if ttl <= 0 {
		return "", time.Time{}, errors.New("token: ttl must be positive")
	}

	now := c.now()
	expiresAt := now.Add(ttl)
	claims := &Claims{
		Email: subject,
		Kind:  kind,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    c.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			// jti keeps two tokens minted in the same second distinct
			ID: uuid.NewString(),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("token: sign: %w", err)
	}
	return signed, expiresAt, nil
}

// Verify checks signature, expiry, issuer and kind. Every failure wraps
// ErrInvalid together with the underlying reason.
func (c *Codec) Verify(tokenString string, kind Kind) (*Claims, error) {
	if tokenString == "" {
		return nil, fmt.Errorf("%w: %w", ErrInvalid, jwt.ErrTokenMalformed)
	}

	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return c.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(c.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(c.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalid, err)
	}

	if claims.Kind != kind {
		return nil, fmt.Errorf("%w: %w: got %q, want %q", ErrInvalid, ErrWrongKind, claims.Kind, kind)
	}
	if claims.Subject == "" || claims.Subject != claims.Email {
		return nil, fmt.Errorf("%w: subject claim missing or inconsistent", ErrInvalid)
	}

	return claims, nil
}

// Reason strips the ErrInvalid prefix so callers can report the underlying
// cause on its own.
func Reason(err error) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	prefix := ErrInvalid.Error() + ": "
	if len(msg) > len(prefix) && msg[:len(prefix)] == prefix {
		return msg[len(prefix):]
	}
	return msg
}
