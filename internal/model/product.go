// Package model holds the domain types shared across the storefront:
// catalog products, carts, orders, accounts and sessions, plus the
// APIError taxonomy used by every layer.
package model

// RawProduct is one row of the product spreadsheet: a single purchasable
// SKU in one format. Rows are immutable once fetched and replaced wholesale
// on every sync.
type RawProduct struct {
	SKU         string `json:"sku"`
	ProductName string `json:"product_name"`
	Category    string `json:"category"`
	Format      string `json:"format"`
	Price       int64  `json:"price"` // minor units
	Description string `json:"description,omitempty"`
	ImageURL    string `json:"image_url,omitempty"`
	Featured    bool   `json:"featured"`
	InStock     bool   `json:"in_stock"`

	// Attributes keeps spreadsheet columns without a dedicated field
	// (origin, roast level, tasting notes, ...).
	Attributes map[string]string `json:"attributes,omitempty"`
}

// GroupedProduct is one logical product with all of its purchasable
// variants. Every variant shares the group's normalized name and category.
type GroupedProduct struct {
	ProductName      string       `json:"product_name"`
	Category         string       `json:"category"` // normalized slug
	Variants         []RawProduct `json:"variants"`
	AvailableFormats []string     `json:"available_formats"`
	Featured         bool         `json:"featured"`
	Description      string       `json:"description,omitempty"`
	ImageURL         string       `json:"image_url,omitempty"`
	MinPrice         int64        `json:"min_price"`
}

// Variant returns the variant with the given SKU, or nil.
func (g *GroupedProduct) Variant(sku string) *RawProduct {
	for i := range g.Variants {
		if g.Variants[i].SKU == sku {
			return &g.Variants[i]
		}
	}
	return nil
}
