package catalog

import (
	"storefront/internal/model"
)

// Group partitions raw rows into grouped products.
//
// Rows share a group when their product names match case- and
// whitespace-insensitively and their categories normalize to the same slug.
// Groups appear in the order their first row appears; the first row's name
// spelling is kept. AvailableFormats holds each distinct format once, in
// first-seen order. The result depends only on the input, so grouping the
// same rows twice yields identical output.
func Group(raw []model.RawProduct, taxonomy *Taxonomy) []model.GroupedProduct {
	groups := make([]model.GroupedProduct, 0, len(raw))
	index := make(map[string]int, len(raw))
	formatsSeen := make([]map[string]bool, 0, len(raw))

	for _, row := range raw {
		category := taxonomy.Normalize(row.Category)
		key := collapse(row.ProductName) + "\x00" + category

		i, ok := index[key]
		if !ok {
			i = len(groups)
			index[key] = i
			groups = append(groups, model.GroupedProduct{
				ProductName: row.ProductName,
				Category:    category,
				MinPrice:    row.Price,
			})
			formatsSeen = append(formatsSeen, make(map[string]bool))
		}

		g := &groups[i]
		g.Variants = append(g.Variants, row)
		if row.Featured {
			g.Featured = true
		}
		if g.Description == "" {
			g.Description = row.Description
		}
		if g.ImageURL == "" {
			g.ImageURL = row.ImageURL
		}
		if row.Price < g.MinPrice {
			g.MinPrice = row.Price
		}

		if row.Format != "" {
			fk := collapse(row.Format)
			if !formatsSeen[i][fk] {
				formatsSeen[i][fk] = true
				g.AvailableFormats = append(g.AvailableFormats, row.Format)
			}
		}
	}

	for i := range groups {
		if groups[i].AvailableFormats == nil {
			groups[i].AvailableFormats = []string{}
		}
	}
	return groups
}
