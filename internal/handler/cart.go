package handler

import (
	"fmt"
	"log/slog"
	"net/http"

	"storefront/internal/middleware"
	"storefront/internal/model"
)

type addToCartRequest struct {
	ProductID string `json:"productId"`
	Quantity  *int   `json:"quantity,omitempty"`
}

type cartItemRequest struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

// cartOwner resolves whose cart the request addresses: the signed-in user,
// otherwise the guest cookie. With mint set a guest id is issued when the
// request has none; without it an anonymous request yields "".
func (h *Handler) cartOwner(w http.ResponseWriter, r *http.Request, mint bool) (string, bool, error) {
	if s := middleware.SessionFrom(r.Context()); s != nil {
		return s.UserID, true, nil
	}
	if !mint {
		return h.guests.ID(r), false, nil
	}
	id, err := h.guests.Ensure(w, r)
	if err != nil {
		return "", false, model.NewInternalError(err)
	}
	return id, false, nil
}

// handleGetCart returns the caller's cart, empty when none exists yet.
// GET /cart
func (h *Handler) handleGetCart(w http.ResponseWriter, r *http.Request) {
	cartID, _, _ := h.cartOwner(w, r, false)
	if cartID == "" {
		h.writeJSON(w, http.StatusOK, &model.Cart{Items: []model.CartItem{}})
		return
	}
	c, err := h.carts.GetOrEmpty(r.Context(), cartID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, c)
}

// handleAddToCart adds a catalog variant to the cart. Name and price come
// from the catalog, never from the client.
// POST /cart/add
func (h *Handler) handleAddToCart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req addToCartRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if req.ProductID == "" {
		h.writeError(w, r, model.NewValidationError("productId", "required"))
		return
	}
	quantity := 1
	if req.Quantity != nil {
		quantity = *req.Quantity
	}

	group, variant, ok := h.cache.FindBySKU(req.ProductID)
	if !ok {
		h.writeError(w, r, model.NewNotFoundError("product"))
		return
	}
	if !variant.InStock {
		h.writeError(w, r, model.NewValidationError("productId", "out of stock"))
		return
	}

	cartID, authenticated, err := h.cartOwner(w, r, true)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	name := group.ProductName
	if variant.Format != "" {
		name = fmt.Sprintf("%s (%s)", group.ProductName, variant.Format)
	}

	c, err := h.carts.AddItem(ctx, cartID, variant.SKU, name, variant.Price, quantity, authenticated)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.logger.InfoContext(ctx, "item added to cart",
		slog.String("cart_id", cartID),
		slog.String("sku", variant.SKU),
		slog.Int("quantity", quantity),
	)
	h.writeJSON(w, http.StatusOK, c)
}

// handleRemoveFromCart deletes a cart line.
// POST /cart/remove
func (h *Handler) handleRemoveFromCart(w http.ResponseWriter, r *http.Request) {
	var req cartItemRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.removeItem(w, r, req.ProductID)
}

// handleDeleteCartItem is the REST form of cart removal.
// DELETE /cart/items/{product_id}
func (h *Handler) handleDeleteCartItem(w http.ResponseWriter, r *http.Request) {
	h.removeItem(w, r, r.PathValue("product_id"))
}

func (h *Handler) removeItem(w http.ResponseWriter, r *http.Request, productID string) {
	cartID, _, _ := h.cartOwner(w, r, false)
	if cartID == "" {
		h.writeError(w, r, model.NewNotFoundError("cart"))
		return
	}
	c, err := h.carts.RemoveItem(r.Context(), cartID, productID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, c)
}

// handleUpdateCart sets a line's quantity; zero removes the line.
// POST /cart/update
func (h *Handler) handleUpdateCart(w http.ResponseWriter, r *http.Request) {
	var req cartItemRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	cartID, _, _ := h.cartOwner(w, r, false)
	if cartID == "" {
		h.writeError(w, r, model.NewNotFoundError("cart"))
		return
	}
	c, err := h.carts.UpdateQuantity(r.Context(), cartID, req.ProductID, req.Quantity)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, c)
}
