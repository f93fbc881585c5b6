package model

import "time"

// Cart is a per-owner shopping cart. Owner is the authenticated user id or
// the guest id from the guest cart cookie.
type Cart struct {
	ID            string     `json:"id"`
	Owner         string     `json:"owner"`
	Authenticated bool       `json:"authenticated"`
	Items         []CartItem `json:"items"`
	Totals        Totals     `json:"totals"`
	Version       int64      `json:"version"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
	ExpiresAt     time.Time  `json:"expires_at"`
}

// CartItem is one cart line. Quantity is always at least 1; lines that would
// drop to zero are removed instead.
type CartItem struct {
	ProductID string `json:"product_id"`
	Name      string `json:"name"`
	Quantity  int    `json:"quantity"`
	BasePrice int64  `json:"base_price"`
	LineTotal int64  `json:"line_total"`
}

// Totals are always derived from the lines, never patched incrementally.
type Totals struct {
	Subtotal int64 `json:"subtotal"`
	Discount int64 `json:"discount"`
	Tax      int64 `json:"tax"`
	Shipping int64 `json:"shipping"`
	Total    int64 `json:"total"`
}

// ItemIndex returns the index of the line for productID, or -1.
func (c *Cart) ItemIndex(productID string) int {
	for i := range c.Items {
		if c.Items[i].ProductID == productID {
			return i
		}
	}
	return -1
}

// ItemCount returns the number of units across all lines.
func (c *Cart) ItemCount() int {
	n := 0
	for _, item := range c.Items {
		n += item.Quantity
	}
	return n
}

// Recompute rebuilds every line total and the cart totals from scratch.
// Discount, tax and shipping are kept as set; only the sums are derived.
func (c *Cart) Recompute() {
	var subtotal int64
	for i := range c.Items {
		c.Items[i].LineTotal = int64(c.Items[i].Quantity) * c.Items[i].BasePrice
		subtotal += c.Items[i].LineTotal
	}
	c.Totals.Subtotal = subtotal
	c.Totals.Total = subtotal - c.Totals.Discount + c.Totals.Tax + c.Totals.Shipping
}
