package model

import "time"

// OrderStatus is one state of the order lifecycle.
type OrderStatus string

const (
	OrderCreated    OrderStatus = "created"
	OrderSubmitted  OrderStatus = "submitted"
	OrderProcessing OrderStatus = "processing"
	OrderShipped    OrderStatus = "shipped"
	OrderDelivered  OrderStatus = "delivered"
	OrderCancelled  OrderStatus = "cancelled"
	OrderFailed     OrderStatus = "failed"
)

// Order is a persisted purchase built from a cart snapshot.
type Order struct {
	ID          string          `json:"id"`
	Status      OrderStatus     `json:"status"`
	Customer    Customer        `json:"customer"`
	Shipping    ShippingAddress `json:"shipping"`
	Items       []CartItem      `json:"items"`
	Totals      Totals          `json:"totals"`
	Fulfillment Fulfillment     `json:"fulfillment"`
	History     []StatusChange  `json:"history"`
	CartID      string          `json:"cart_id,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// Customer identifies who placed the order. UserID is empty for guests.
type Customer struct {
	UserID string `json:"user_id,omitempty"`
	Email  string `json:"email"`
	Name   string `json:"name"`
}

// ShippingAddress is where the fulfillment partner ships the order.
type ShippingAddress struct {
	Name       string `json:"name"`
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	Region     string `json:"region"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country"`
}

// Fulfillment records the hand-off to the fulfillment partner.
type Fulfillment struct {
	PartnerOrderID string     `json:"partner_order_id,omitempty"`
	TrackingNumber string     `json:"tracking_number,omitempty"`
	SubmittedAt    *time.Time `json:"submitted_at,omitempty"`
	LastError      string     `json:"last_error,omitempty"`
}

// StatusChange is one entry of the order's status history.
type StatusChange struct {
	From   OrderStatus `json:"from"`
	To     OrderStatus `json:"to"`
	At     time.Time   `json:"at"`
	Reason string      `json:"reason,omitempty"`
}
