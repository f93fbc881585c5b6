// Package auth issues and verifies session tokens, manages accounts and
// single-use email tokens, and mints guest cart identities.
//
// Sessions are stateless: the signed token is the session. Verification
// failures of any kind are treated as "no session".
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"storefront/internal/model"
)

// MinSecretLength is the shortest accepted signing secret, in bytes.
const MinSecretLength = 32

// DefaultSessionTTL is the session lifetime when none is configured.
const DefaultSessionTTL = 7 * 24 * time.Hour

// ErrInvalidSession is returned by Verify for any unusable token.
var ErrInvalidSession = errors.New("invalid session token")

// Claims is the JWT payload.
type Claims struct {
	Email        string     `json:"email"`
	Role         model.Role `json:"role"`
	IsSubscriber bool       `json:"sub_active"`
	jwt.RegisteredClaims
}

// Issuer signs and verifies HS256 session tokens.
type Issuer struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

// NewIssuer creates an issuer. The secret must be at least MinSecretLength
// bytes.
func NewIssuer(secret []byte, issuer string, ttl time.Duration) (*Issuer, error) {
	if len(secret) < MinSecretLength {
		return nil, fmt.Errorf("session secret must be at least %d bytes", MinSecretLength)
	}
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &Issuer{
		secret: secret,
		issuer: issuer,
		ttl:    ttl,
		now:    time.Now,
	}, nil
}

// TTL returns the session lifetime.
func (i *Issuer) TTL() time.Duration {
	return i.ttl
}

// Issue signs a token for s and returns it with its expiry.
func (i *Issuer) Issue(s *model.Session) (string, time.Time, error) {
	if s == nil || s.UserID == "" {
		return "", time.Time{}, fmt.Errorf("session requires a user id")
	}
	now := i.now()
	exp := now.Add(i.ttl)
	claims := Claims{
		Email:        s.Email,
		Role:         s.Role,
		IsSubscriber: s.IsSubscriber,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   s.UserID,
			Issuer:    i.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("signing session: %w", err)
	}
	return token, exp, nil
}

// Verify checks signature, algorithm, issuer and expiry and returns the
// session. Every failure wraps ErrInvalidSession.
func (i *Issuer) Verify(token string) (*model.Session, error) {
	var claims Claims
	_, err := jwt.ParseWithClaims(token, &claims,
		func(*jwt.Token) (interface{}, error) { return i.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(i.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSession, err)
	}
	if claims.Subject == "" || !claims.Role.Valid() {
		return nil, fmt.Errorf("%w: missing subject or role", ErrInvalidSession)
	}
	return &model.Session{
		UserID:       claims.Subject,
		Email:        claims.Email,
		Role:         claims.Role,
		IsSubscriber: claims.IsSubscriber,
	}, nil
}
