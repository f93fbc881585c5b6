package handler

import (
	"log/slog"
	"net/http"

	"storefront/internal/middleware"
	"storefront/internal/model"
	"storefront/internal/order"
)

type ordersResponse struct {
	Orders []*model.Order `json:"orders"`
	Count  int            `json:"count"`
}

type statusRequest struct {
	Status model.OrderStatus `json:"status"`
	Reason string            `json:"reason,omitempty"`
}

// handleCreateOrder places an order from the caller's cart.
// POST /orders
func (h *Handler) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var in order.CreateInput
	if err := decodeJSON(r, &in); err != nil {
		h.writeError(w, r, err)
		return
	}

	cartID, _, _ := h.cartOwner(w, r, false)
	if cartID == "" {
		h.writeError(w, r, model.NewValidationError("cart", "cart is empty"))
		return
	}

	res, err := h.orders.CreateFromCart(ctx, middleware.SessionFrom(ctx), cartID, in)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, res)
}

// handleGetOrder returns an order to its owner or an admin.
// GET /orders/{id}
func (h *Handler) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	o, err := h.orders.GetFor(ctx, r.PathValue("id"), middleware.SessionFrom(ctx), h.guests.ID(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, o)
}

// handleListOrders lists orders, optionally by status or customer.
// GET /admin/orders?status=&user_id=
func (h *Handler) handleListOrders(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := order.ListFilter{
		Status: model.OrderStatus(q.Get("status")),
		UserID: q.Get("user_id"),
	}
	if filter.Status != "" && !order.ValidStatus(filter.Status) {
		h.writeError(w, r, model.NewValidationError("status", "unknown status"))
		return
	}

	orders, err := h.orders.List(r.Context(), filter)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, ordersResponse{Orders: orders, Count: len(orders)})
}

// handleSubmitOrder hands an order to the fulfillment partner.
// POST /admin/orders/{id}/submit
func (h *Handler) handleSubmitOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := r.PathValue("id")

	o, err := h.orders.Submit(ctx, id)
	if err != nil {
		if o != nil {
			h.logger.WarnContext(ctx, "order marked failed",
				slog.String("order_id", id),
				slog.String("request_id", middleware.RequestIDFrom(ctx)),
			)
		}
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, o)
}

// handleOrderStatus moves an order along its lifecycle.
// POST /admin/orders/{id}/status
func (h *Handler) handleOrderStatus(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	o, err := h.orders.Transition(r.Context(), r.PathValue("id"), req.Status, req.Reason)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, o)
}
