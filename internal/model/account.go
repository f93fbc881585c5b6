package model

import "time"

// Role gates admin and account routes.
type Role string

const (
	RoleCustomer Role = "customer"
	RoleAdmin    Role = "admin"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleCustomer || r == RoleAdmin
}

// Session is the identity carried by the signed session token.
// It is stateless: nothing about it is stored server-side.
type Session struct {
	UserID       string `json:"user_id"`
	Email        string `json:"email"`
	Role         Role   `json:"role"`
	IsSubscriber bool   `json:"is_subscriber"`
}

// IsAdmin reports whether the session may use admin routes.
func (s *Session) IsAdmin() bool {
	return s != nil && s.Role == RoleAdmin
}

// Account is a persisted customer or admin record.
type Account struct {
	ID            string    `json:"id"`
	Email         string    `json:"email"`
	Name          string    `json:"name,omitempty"`
	PasswordHash  string    `json:"password_hash,omitempty"`
	Role          Role      `json:"role"`
	IsSubscriber  bool      `json:"is_subscriber"`
	EmailVerified bool      `json:"email_verified"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Session builds the session identity for this account.
func (a *Account) Session() *Session {
	return &Session{
		UserID:       a.ID,
		Email:        a.Email,
		Role:         a.Role,
		IsSubscriber: a.IsSubscriber,
	}
}

// TokenKind distinguishes single-use link tokens.
type TokenKind string

const (
	TokenMagicLink     TokenKind = "magic_link"
	TokenPasswordReset TokenKind = "password_reset"
)

// OneTimeToken is a single-use magic-link or password-reset token.
// The ID is the secret carried in the emailed link.
type OneTimeToken struct {
	ID        string     `json:"id"`
	Kind      TokenKind  `json:"kind"`
	AccountID string     `json:"account_id"`
	Email     string     `json:"email"`
	CreatedAt time.Time  `json:"created_at"`
	ExpiresAt time.Time  `json:"expires_at"`
	UsedAt    *time.Time `json:"used_at,omitempty"`
}

// Redeemable reports whether the token is unused and unexpired at now.
func (t *OneTimeToken) Redeemable(now time.Time) bool {
	return t.UsedAt == nil && now.Before(t.ExpiresAt)
}
