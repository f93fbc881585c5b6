// Package handler provides HTTP handlers for the storefront API.
package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"storefront/internal/auth"
	"storefront/internal/cart"
	"storefront/internal/catalog"
	"storefront/internal/middleware"
	"storefront/internal/model"
	"storefront/internal/order"
)

// Deps are the services the handlers call into.
type Deps struct {
	Cache    *catalog.Cache
	Syncer   *catalog.Syncer
	Carts    *cart.Store
	Accounts *auth.Service
	Sessions *auth.Issuer
	Guests   *auth.GuestCookies
	Orders   *order.Service
	Logger   *slog.Logger

	// WebhookSecret authenticates POST /webhook/sheets. Empty rejects
	// every webhook call.
	WebhookSecret string

	// Production hides error details and marks the session cookie Secure.
	Production bool

	// AuthLimiter throttles credential endpoints. Nil disables throttling.
	AuthLimiter *middleware.RateLimiter
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	cache         *catalog.Cache
	syncer        *catalog.Syncer
	carts         *cart.Store
	accounts      *auth.Service
	sessions      *auth.Issuer
	guests        *auth.GuestCookies
	orders        *order.Service
	logger        *slog.Logger
	webhookSecret string
	production    bool
	authLimiter   *middleware.RateLimiter
}

// New creates a Handler.
func New(d Deps) *Handler {
	return &Handler{
		cache:         d.Cache,
		syncer:        d.Syncer,
		carts:         d.Carts,
		accounts:      d.Accounts,
		sessions:      d.Sessions,
		guests:        d.Guests,
		orders:        d.Orders,
		logger:        d.Logger,
		webhookSecret: d.WebhookSecret,
		production:    d.Production,
		authLimiter:   d.AuthLimiter,
	}
}

// RegisterRoutes registers all HTTP routes with the given ServeMux.
// Uses Go 1.22+ method routing patterns.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	// Catalog
	mux.HandleFunc("GET /products", h.handleListProducts)
	mux.HandleFunc("GET /products/{sku}", h.handleGetProduct)
	mux.HandleFunc("GET /categories", h.handleCategories)

	// Cart
	mux.HandleFunc("GET /cart", h.handleGetCart)
	mux.HandleFunc("POST /cart/add", h.handleAddToCart)
	mux.HandleFunc("POST /cart/remove", h.handleRemoveFromCart)
	mux.HandleFunc("POST /cart/update", h.handleUpdateCart)
	mux.HandleFunc("DELETE /cart/items/{product_id}", h.handleDeleteCartItem)

	// Auth
	mux.Handle("POST /auth/signup", h.limited(h.handleSignup))
	mux.Handle("POST /auth/login", h.limited(h.handleLogin))
	mux.HandleFunc("POST /auth/logout", h.handleLogout)
	mux.Handle("POST /auth/magic-link", h.limited(h.handleMagicLink))
	mux.HandleFunc("GET /auth/verify/{token}", h.handleVerifyMagicLink)
	mux.Handle("POST /auth/reset-password", h.limited(h.handleResetPassword))
	mux.Handle("POST /auth/reset-password/confirm", h.limited(h.handleConfirmReset))
	mux.Handle("GET /account", middleware.RequireSession(http.HandlerFunc(h.handleAccount)))

	// Orders
	mux.HandleFunc("POST /orders", h.handleCreateOrder)
	mux.HandleFunc("GET /orders/{id}", h.handleGetOrder)

	// Admin
	mux.Handle("POST /admin/sync", admin(h.handleAdminSync))
	mux.Handle("GET /admin/sync/status", admin(h.handleSyncStatus))
	mux.Handle("GET /admin/orders", admin(h.handleListOrders))
	mux.Handle("POST /admin/orders/{id}/submit", admin(h.handleSubmitOrder))
	mux.Handle("POST /admin/orders/{id}/status", admin(h.handleOrderStatus))

	// Spreadsheet change notifications
	mux.HandleFunc("POST /webhook/sheets", h.handleSheetsWebhook)

	// MCP transport - read-only catalog tools using official MCP SDK
	mux.Handle("/mcp", h.NewMCPHandler())

	// Health check
	mux.HandleFunc("GET /health", h.handleHealth)
	mux.HandleFunc("GET /healthz", h.handleHealth)
}

func admin(fn http.HandlerFunc) http.Handler {
	return middleware.RequireAdmin(fn)
}

func (h *Handler) limited(fn http.HandlerFunc) http.Handler {
	if h.authLimiter == nil {
		return fn
	}
	return h.authLimiter.Middleware(fn)
}

// handleHealth returns a simple health check response.
// GET /health, GET /healthz
func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, healthResponse{Status: "ok"})
}

type healthResponse struct {
	Status string `json:"status"`
}

// === Response Helpers ===

// writeJSON sends a JSON response with the given status code.
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", slog.String("error", err.Error()))
	}
}

// writeError sends an error response, extracting status/code from APIError if present.
// Server-side failures are logged with the request id and, outside
// production, the wrapped cause is appended to the message.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) {
		apiErr = model.NewInternalError(err)
	}

	if !apiErr.Exposable() {
		h.logger.ErrorContext(r.Context(), "request failed",
			slog.String("code", apiErr.Code),
			slog.String("error", err.Error()),
			slog.String("path", r.URL.Path),
			slog.String("request_id", middleware.RequestIDFrom(r.Context())),
		)
		if !h.production && apiErr.Err != nil {
			detailed := *apiErr
			detailed.Message = apiErr.Message + ": " + apiErr.Err.Error()
			apiErr = &detailed
		}
	}

	middleware.WriteError(w, r, apiErr)
}

// MaxRequestBodySize limits JSON request bodies to 1MB to prevent DoS.
const MaxRequestBodySize = 1 << 20 // 1MB

// decodeJSON reads JSON from request body into v.
// Limits body size to MaxRequestBodySize to prevent memory exhaustion.
// Returns an APIError if decoding fails.
func decodeJSON(r *http.Request, v interface{}) error {
	// Limit request body size to prevent DoS
	r.Body = http.MaxBytesReader(nil, r.Body, MaxRequestBodySize)

	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		// Don't expose internal error details to client
		return model.NewValidationError("body", "invalid JSON")
	}
	return nil
}
