package auth

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGuestCookies_MintAndRead(t *testing.T) {
	g := NewGuestCookies(testSecret, true)

	req := httptest.NewRequest(http.MethodPost, "/cart/add", nil)
	assert.Empty(t, g.ID(req))

	w := httptest.NewRecorder()
	id, err := g.Ensure(w, req)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(id, "guest-"))

	cookies := w.Result().Cookies()
	require.Len(t, cookies, 1)
	c := cookies[0]
	assert.Equal(t, GuestCookieName, c.Name)
	assert.True(t, c.HttpOnly)
	assert.True(t, c.Secure)
	assert.Equal(t, http.SameSiteStrictMode, c.SameSite)
	assert.Equal(t, 7*24*60*60, c.MaxAge)

	next := httptest.NewRequest(http.MethodGet, "/cart", nil)
	next.AddCookie(c)
	assert.Equal(t, id, g.ID(next))

	// Ensure on a request that already carries the cookie keeps the id and
	// does not set a new cookie.
	w2 := httptest.NewRecorder()
	again, err := g.Ensure(w2, next)
	require.NoError(t, err)
	assert.Equal(t, id, again)
	assert.Empty(t, w2.Result().Cookies())
}

func TestGuestCookies_RejectsForgedCookie(t *testing.T) {
	g := NewGuestCookies(testSecret, false)

	req := httptest.NewRequest(http.MethodGet, "/cart", nil)
	req.AddCookie(&http.Cookie{Name: GuestCookieName, Value: "forged-value"})
	assert.Empty(t, g.ID(req))

	other := NewGuestCookies([]byte(strings.Repeat("o", MinSecretLength)), false)
	w := httptest.NewRecorder()
	_, err := other.Ensure(w, httptest.NewRequest(http.MethodPost, "/cart/add", nil))
	require.NoError(t, err)

	req = httptest.NewRequest(http.MethodGet, "/cart", nil)
	req.AddCookie(w.Result().Cookies()[0])
	assert.Empty(t, g.ID(req))
}

func TestGuestCookies_Clear(t *testing.T) {
	g := NewGuestCookies(testSecret, false)
	w := httptest.NewRecorder()
	g.Clear(w, httptest.NewRequest(http.MethodPost, "/auth/login", nil))

	cookies := w.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, -1, cookies[0].MaxAge)
}
