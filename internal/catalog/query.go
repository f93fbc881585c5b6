package catalog

import (
	"strings"
	"unicode/utf8"

	"storefront/internal/model"
)

// MaxSearchLength caps search terms, counted in runes after trimming.
const MaxSearchLength = 100

// The filters below never mutate their input and preserve its order.
// Each returns a freshly allocated slice, so results can be composed by
// sequential application in any order with the same final set.

// FilterByCategory keeps products whose normalized category matches.
// The synthetic "coffee" category matches the whole coffee family.
func FilterByCategory(products []model.GroupedProduct, category string, taxonomy *Taxonomy) []model.GroupedProduct {
	out := make([]model.GroupedProduct, 0, len(products))
	for _, p := range products {
		if taxonomy.Matches(p.Category, category) {
			out = append(out, p)
		}
	}
	return out
}

// FilterByFormat keeps products offered in the given format.
func FilterByFormat(products []model.GroupedProduct, format string) []model.GroupedProduct {
	want := collapse(format)
	out := make([]model.GroupedProduct, 0, len(products))
	for _, p := range products {
		for _, f := range p.AvailableFormats {
			if collapse(f) == want {
				out = append(out, p)
				break
			}
		}
	}
	return out
}

// Search keeps products whose name or description contains term,
// case-insensitively. An empty term matches everything.
func Search(products []model.GroupedProduct, term string) []model.GroupedProduct {
	needle := strings.ToLower(SanitizeTerm(term))
	out := make([]model.GroupedProduct, 0, len(products))
	for _, p := range products {
		if needle == "" ||
			strings.Contains(strings.ToLower(p.ProductName), needle) ||
			strings.Contains(strings.ToLower(p.Description), needle) {
			out = append(out, p)
		}
	}
	return out
}

// FilterFeatured keeps featured products.
func FilterFeatured(products []model.GroupedProduct) []model.GroupedProduct {
	out := make([]model.GroupedProduct, 0, len(products))
	for _, p := range products {
		if p.Featured {
			out = append(out, p)
		}
	}
	return out
}

// SanitizeTerm trims a search term and truncates it to MaxSearchLength runes.
func SanitizeTerm(term string) string {
	term = strings.TrimSpace(term)
	if utf8.RuneCountInString(term) <= MaxSearchLength {
		return term
	}
	runes := []rune(term)
	return strings.TrimSpace(string(runes[:MaxSearchLength]))
}

// Query is a set of optional filters. Zero-valued fields are not applied.
type Query struct {
	Category string
	Format   string
	Search   string
	Featured bool
}

// Apply runs the filters cheapest first: featured flag, category, format,
// then the substring search.
func (q Query) Apply(products []model.GroupedProduct, taxonomy *Taxonomy) []model.GroupedProduct {
	out := products
	filtered := false
	if q.Featured {
		out, filtered = FilterFeatured(out), true
	}
	if strings.TrimSpace(q.Category) != "" {
		out, filtered = FilterByCategory(out, q.Category, taxonomy), true
	}
	if strings.TrimSpace(q.Format) != "" {
		out, filtered = FilterByFormat(out, q.Format), true
	}
	if SanitizeTerm(q.Search) != "" {
		out, filtered = Search(out, q.Search), true
	}
	if !filtered {
		// hand back a copy so callers never alias the cache snapshot
		out = append(make([]model.GroupedProduct, 0, len(products)), products...)
	}
	return out
}
