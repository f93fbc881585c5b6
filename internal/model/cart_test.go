package model

import "testing"

func TestCartRecompute(t *testing.T) {
	c := &Cart{
		Items: []CartItem{
			{ProductID: "A1", Quantity: 3, BasePrice: 1400, LineTotal: 1},
			{ProductID: "B2", Quantity: 1, BasePrice: 2250},
		},
	}
	c.Recompute()

	if c.Items[0].LineTotal != 4200 {
		t.Errorf("LineTotal = %d, want 4200", c.Items[0].LineTotal)
	}
	if c.Totals.Subtotal != 6450 {
		t.Errorf("Subtotal = %d, want 6450", c.Totals.Subtotal)
	}
	if c.Totals.Total != 6450 {
		t.Errorf("Total = %d, want 6450", c.Totals.Total)
	}

	c.Totals.Tax = 500
	c.Totals.Shipping = 800
	c.Totals.Discount = 450
	c.Recompute()
	if c.Totals.Total != 6450+500+800-450 {
		t.Errorf("Total = %d, want %d", c.Totals.Total, 6450+500+800-450)
	}
}

func TestCartItemIndex(t *testing.T) {
	c := &Cart{Items: []CartItem{{ProductID: "A1", Quantity: 2}, {ProductID: "B2", Quantity: 5}}}

	if got := c.ItemIndex("B2"); got != 1 {
		t.Errorf("ItemIndex(B2) = %d, want 1", got)
	}
	if got := c.ItemIndex("missing"); got != -1 {
		t.Errorf("ItemIndex(missing) = %d, want -1", got)
	}
	if got := c.ItemCount(); got != 7 {
		t.Errorf("ItemCount() = %d, want 7", got)
	}
}
