package auth

import (
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/sessions"
)

const (
	// GuestCookieName holds the signed guest cart identity.
	GuestCookieName = "guest_cart"

	guestIDKey    = "id"
	guestMaxAge   = 7 * 24 * 60 * 60
	guestIDPrefix = "guest-"
)

// GuestCookies reads and mints the guest cart identity cookie.
type GuestCookies struct {
	store *sessions.CookieStore
}

// NewGuestCookies creates a signed cookie store. secure sets the Secure
// attribute and should be true outside development.
func NewGuestCookies(secret []byte, secure bool) *GuestCookies {
	store := sessions.NewCookieStore(secret)
	store.MaxAge(guestMaxAge)
	store.Options.Path = "/"
	store.Options.HttpOnly = true
	store.Options.Secure = secure
	store.Options.SameSite = http.SameSiteStrictMode
	return &GuestCookies{store: store}
}

// ID returns the guest id carried by the request, or "" when there is none
// or the cookie does not verify.
func (g *GuestCookies) ID(r *http.Request) string {
	s, err := g.store.Get(r, GuestCookieName)
	if err != nil || s.IsNew {
		return ""
	}
	id, _ := s.Values[guestIDKey].(string)
	return id
}

// Ensure returns the request's guest id, minting one and setting the cookie
// when absent. The cookie lifetime restarts on every mint.
func (g *GuestCookies) Ensure(w http.ResponseWriter, r *http.Request) (string, error) {
	if id := g.ID(r); id != "" {
		return id, nil
	}
	// Get returns a fresh session alongside a decode error for tampered
	// cookies; a new id replaces it.
	s, _ := g.store.Get(r, GuestCookieName)
	id := guestIDPrefix + uuid.NewString()
	s.Values[guestIDKey] = id
	if err := s.Save(r, w); err != nil {
		return "", fmt.Errorf("saving guest cookie: %w", err)
	}
	return id, nil
}

// Clear expires the guest cookie, after its cart was merged into an account.
func (g *GuestCookies) Clear(w http.ResponseWriter, r *http.Request) {
	s, _ := g.store.Get(r, GuestCookieName)
	s.Options.MaxAge = -1
	_ = s.Save(r, w)
}
