// Package catalog turns spreadsheet rows into the sellable product catalog:
// category normalization, grouping of rows into multi-format products,
// the in-memory cache that serves them, and the query filters over it.
package catalog

import (
	"sort"
	"strings"
)

// CoffeeCategory is the synthetic parent category. Filtering by it matches
// every category in the coffee family.
const CoffeeCategory = "coffee"

// DefaultSynonyms maps spellings seen in the product sheet to canonical
// category slugs. Keys are compared after lower-casing, trimming, collapsing
// whitespace and treating '-' and '_' as spaces.
var DefaultSynonyms = map[string]string{
	"coffee":  CoffeeCategory,
	"coffees": CoffeeCategory,

	"single origin":  "single-origin",
	"single origins": "single-origin",
	"origin":         "single-origin",

	"blend":  "blends",
	"blends": "blends",

	"espresso":        "espresso",
	"espresso blend":  "espresso",
	"espresso blends": "espresso",

	"decaf":             "decaf",
	"decaffeinated":     "decaf",
	"swiss water decaf": "decaf",

	"mushroom":          "mushroom-coffee",
	"mushroom coffee":   "mushroom-coffee",
	"mushroom coffees":  "mushroom-coffee",
	"functional":        "mushroom-coffee",
	"functional coffee": "mushroom-coffee",

	"cold brew":  "cold-brew",
	"coldbrew":   "cold-brew",
	"cold brews": "cold-brew",

	"tea":  "tea",
	"teas": "tea",

	"merch":       "merch",
	"merchandise": "merch",
	"apparel":     "merch",

	"equipment":         "equipment",
	"gear":              "equipment",
	"brewing equipment": "equipment",

	"subscription":  "subscriptions",
	"subscriptions": "subscriptions",
}

// DefaultCoffeeFamily lists the slugs matched by the synthetic coffee filter.
var DefaultCoffeeFamily = []string{
	CoffeeCategory,
	"single-origin",
	"blends",
	"espresso",
	"decaf",
	"mushroom-coffee",
	"cold-brew",
}

// Taxonomy normalizes free-form category strings into slugs.
// It is immutable after construction and safe for concurrent use.
type Taxonomy struct {
	synonyms map[string]string
	coffee   map[string]bool
}

// Category describes one canonical category for listing endpoints.
type Category struct {
	Slug     string `json:"slug"`
	IsCoffee bool   `json:"is_coffee"`
}

// NewTaxonomy builds a taxonomy from a synonym table and the coffee family.
// Synonym keys and values are normalized the same way lookups are.
func NewTaxonomy(synonyms map[string]string, coffeeFamily []string) *Taxonomy {
	t := &Taxonomy{
		synonyms: make(map[string]string, len(synonyms)),
		coffee:   make(map[string]bool, len(coffeeFamily)),
	}
	for k, v := range synonyms {
		t.synonyms[lookupKey(k)] = slug(v)
	}
	for _, c := range coffeeFamily {
		t.coffee[slug(c)] = true
	}
	return t
}

// DefaultTaxonomy returns the built-in taxonomy.
func DefaultTaxonomy() *Taxonomy {
	return NewTaxonomy(DefaultSynonyms, DefaultCoffeeFamily)
}

// WithSynonyms returns a copy of t with extra synonyms layered on top.
func (t *Taxonomy) WithSynonyms(extra map[string]string) *Taxonomy {
	merged := make(map[string]string, len(t.synonyms)+len(extra))
	for k, v := range t.synonyms {
		merged[k] = v
	}
	for k, v := range extra {
		merged[lookupKey(k)] = slug(v)
	}
	coffee := make(map[string]bool, len(t.coffee))
	for k := range t.coffee {
		coffee[k] = true
	}
	return &Taxonomy{synonyms: merged, coffee: coffee}
}

// Normalize maps a raw category to its canonical slug. Unknown categories
// are returned lower-cased and trimmed with inner whitespace collapsed, never
// dropped.
func (t *Taxonomy) Normalize(category string) string {
	if canonical, ok := t.synonyms[lookupKey(category)]; ok {
		return canonical
	}
	return collapse(category)
}

// IsCoffee reports whether a normalized slug belongs to the coffee family.
func (t *Taxonomy) IsCoffee(slug string) bool {
	return t.coffee[slug]
}

// Matches reports whether a product in category productSlug satisfies a
// filter on the raw category filter. The synthetic coffee category matches
// the whole coffee family; anything else is an exact slug match.
func (t *Taxonomy) Matches(productSlug, filter string) bool {
	want := t.Normalize(filter)
	if want == CoffeeCategory {
		return t.IsCoffee(productSlug)
	}
	return productSlug == want
}

// Categories lists every canonical slug, sorted, coffee family first.
func (t *Taxonomy) Categories() []Category {
	seen := make(map[string]bool)
	var out []Category
	for _, v := range t.synonyms {
		if !seen[v] {
			seen[v] = true
			out = append(out, Category{Slug: v, IsCoffee: t.coffee[v]})
		}
	}
	for c := range t.coffee {
		if !seen[c] {
			seen[c] = true
			out = append(out, Category{Slug: c, IsCoffee: true})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].IsCoffee != out[j].IsCoffee {
			return out[i].IsCoffee
		}
		return out[i].Slug < out[j].Slug
	})
	return out
}

// collapse lower-cases s, trims it and collapses runs of whitespace.
func collapse(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

func lookupKey(s string) string {
	s = strings.NewReplacer("-", " ", "_", " ").Replace(s)
	return collapse(s)
}

func slug(s string) string {
	return strings.ReplaceAll(collapse(s), " ", "-")
}
