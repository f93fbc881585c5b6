package handler

import (
	"net/http"
	"strconv"

	"storefront/internal/catalog"
	"storefront/internal/model"
)

type productsResponse struct {
	Products []model.GroupedProduct `json:"products"`
	Count    int                    `json:"count"`
	Sync     catalog.Status         `json:"sync"`
}

type productResponse struct {
	Product model.RawProduct      `json:"product"`
	Group   *model.GroupedProduct `json:"group"`
}

type categoriesResponse struct {
	Categories []catalog.Category `json:"categories"`
}

// handleListProducts serves the grouped catalog from the cache.
// GET /products?category=&format=&search=&featured=
func (h *Handler) handleListProducts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	query := catalog.Query{
		Category: q.Get("category"),
		Format:   q.Get("format"),
		Search:   q.Get("search"),
	}
	if v := q.Get("featured"); v != "" {
		featured, err := strconv.ParseBool(v)
		if err != nil {
			h.writeError(w, r, model.NewValidationError("featured", "must be true or false"))
			return
		}
		query.Featured = featured
	}

	products := query.Apply(h.cache.GroupedProducts(), h.cache.Taxonomy())
	h.writeJSON(w, http.StatusOK, productsResponse{
		Products: products,
		Count:    len(products),
		Sync:     h.cache.Status(),
	})
}

// handleGetProduct returns one variant with its group.
// GET /products/{sku}
func (h *Handler) handleGetProduct(w http.ResponseWriter, r *http.Request) {
	group, variant, ok := h.cache.FindBySKU(r.PathValue("sku"))
	if !ok {
		h.writeError(w, r, model.NewNotFoundError("product"))
		return
	}
	h.writeJSON(w, http.StatusOK, productResponse{Product: *variant, Group: group})
}

// handleCategories lists the canonical category taxonomy.
// GET /categories
func (h *Handler) handleCategories(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, categoriesResponse{Categories: h.cache.Taxonomy().Categories()})
}
