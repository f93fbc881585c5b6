package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"storefront/internal/auth"
	"storefront/internal/middleware"
	"storefront/internal/model"
)

type signupRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type emailRequest struct {
	Email string `json:"email"`
}

type confirmResetRequest struct {
	Token    string `json:"token"`
	Password string `json:"password"`
}

// accountView is the account as shown to its owner, without the hash.
type accountView struct {
	ID            string     `json:"id"`
	Email         string     `json:"email"`
	Name          string     `json:"name,omitempty"`
	Role          model.Role `json:"role"`
	IsSubscriber  bool       `json:"is_subscriber"`
	EmailVerified bool       `json:"email_verified"`
	CreatedAt     time.Time  `json:"created_at"`
}

func viewAccount(a *model.Account) accountView {
	return accountView{
		ID:            a.ID,
		Email:         a.Email,
		Name:          a.Name,
		Role:          a.Role,
		IsSubscriber:  a.IsSubscriber,
		EmailVerified: a.EmailVerified,
		CreatedAt:     a.CreatedAt,
	}
}

type sessionResponse struct {
	Account   accountView `json:"account"`
	Token     string      `json:"token"`
	ExpiresAt time.Time   `json:"expiresAt"`
	EmailSent *bool       `json:"emailSent,omitempty"`
	Cart      *model.Cart `json:"cart,omitempty"`
}

type messageResponse struct {
	Message string `json:"message"`
}

// Same text whether or not the address is registered.
const (
	magicLinkSentMessage = "if an account exists for this email, a sign-in link has been sent"
	resetSentMessage     = "if an account exists for this email, a password reset link has been sent"
)

// handleSignup creates an account and signs it in.
// POST /auth/signup
func (h *Handler) handleSignup(w http.ResponseWriter, r *http.Request) {
	var req signupRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	res, err := h.accounts.Signup(r.Context(), req.Email, req.Password, req.Name)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	sent := res.EmailSent
	h.startSession(w, r, http.StatusCreated, res, &sent)
}

// handleLogin signs in with email and password.
// POST /auth/login
func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	res, err := h.accounts.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.startSession(w, r, http.StatusOK, res, nil)
}

// handleLogout clears the session cookie. Tokens are stateless, so a copied
// bearer token stays valid until it expires.
// POST /auth/logout
func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, h.sessionCookie("", -1, time.Unix(0, 0)))
	h.writeJSON(w, http.StatusOK, messageResponse{Message: "signed out"})
}

// handleMagicLink emails a sign-in link.
// POST /auth/magic-link
func (h *Handler) handleMagicLink(w http.ResponseWriter, r *http.Request) {
	var req emailRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.accounts.RequestMagicLink(r.Context(), req.Email); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, messageResponse{Message: magicLinkSentMessage})
}

// handleVerifyMagicLink redeems a sign-in link.
// GET /auth/verify/{token}
func (h *Handler) handleVerifyMagicLink(w http.ResponseWriter, r *http.Request) {
	res, err := h.accounts.VerifyMagicLink(r.Context(), r.PathValue("token"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.startSession(w, r, http.StatusOK, res, nil)
}

// handleResetPassword emails a password reset link. A reset that is
// already pending answers the same way as a fresh one.
// POST /auth/reset-password
func (h *Handler) handleResetPassword(w http.ResponseWriter, r *http.Request) {
	var req emailRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	err := h.accounts.RequestPasswordReset(r.Context(), req.Email)
	if err != nil && !errors.Is(err, auth.ErrResetPending) {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, messageResponse{Message: resetSentMessage})
}

// handleConfirmReset sets a new password from a reset link.
// POST /auth/reset-password/confirm
func (h *Handler) handleConfirmReset(w http.ResponseWriter, r *http.Request) {
	var req confirmResetRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.accounts.ConfirmPasswordReset(r.Context(), req.Token, req.Password); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, messageResponse{Message: "password updated, please sign in"})
}

// handleAccount returns the signed-in account.
// GET /account
func (h *Handler) handleAccount(w http.ResponseWriter, r *http.Request) {
	s := middleware.SessionFrom(r.Context())
	acct, err := h.accounts.Account(r.Context(), s.UserID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, viewAccount(acct))
}

// startSession sets the session cookie, folds any guest cart into the
// account's cart and writes the session response.
func (h *Handler) startSession(w http.ResponseWriter, r *http.Request, status int, res *auth.Result, emailSent *bool) {
	http.SetCookie(w, h.sessionCookie(res.Token, int(time.Until(res.ExpiresAt).Seconds()), res.ExpiresAt))

	resp := sessionResponse{
		Account:   viewAccount(res.Account),
		Token:     res.Token,
		ExpiresAt: res.ExpiresAt,
		EmailSent: emailSent,
	}

	if guestID := h.guests.ID(r); guestID != "" {
		merged, err := h.carts.Merge(r.Context(), guestID, res.Account.ID)
		if err != nil {
			// The guest cart survives; the next sign-in merges it.
			h.logger.WarnContext(r.Context(), "guest cart merge failed",
				slog.String("guest_id", guestID),
				slog.String("account_id", res.Account.ID),
				slog.String("error", err.Error()),
			)
		} else {
			h.guests.Clear(w, r)
			resp.Cart = merged
		}
	}

	h.writeJSON(w, status, resp)
}

func (h *Handler) sessionCookie(value string, maxAge int, expires time.Time) *http.Cookie {
	return &http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		Expires:  expires,
		HttpOnly: true,
		Secure:   h.production,
		SameSite: http.SameSiteLaxMode,
	}
}
