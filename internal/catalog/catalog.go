// Package catalog owns the product and order data the assistant sells from.
// It is the single source of truth for filter semantics: category matches by
// slug exactly, price bounds are inclusive, and filters combine with AND.
package catalog

import (
	"strconv"
	"strings"
)

// Product types.
const (
	TypeSimple   = "simple"
	TypeVariable = "variable"
)

// Product statuses. Only published products are indexed or returned.
const (
	StatusPublish = "publish"
	StatusTrash   = "trash"
)

// Complexity bounds for variable products. Beyond these the per-variation
// enumeration is omitted from payloads to bound response size.
const (
	maxDistinguishingAttributes = 2
	maxEnumeratedVariations     = 30
)

// Attribute is a variation axis of a variable product.
type Attribute struct {
	Name    string   `json:"name"`
	Options []string `json:"options"`
}

// Variation is one purchasable combination of a variable product.
type Variation struct {
	ID           int64             `json:"id"`
	Attributes   map[string]string `json:"attributes"`
	Price        float64           `json:"price"`
	RegularPrice float64           `json:"regular_price"`
	SalePrice    *float64          `json:"sale_price,omitempty"`
	StockStatus  string            `json:"stock_status"`
	Image        string            `json:"image,omitempty"`
}

// Product is a catalog entry.
type Product struct {
	ID               int64
	Name             string
	Slug             string
	URL              string
	Type             string
	Status           string
	Price            float64
	RegularPrice     float64
	SalePrice        *float64
	ShortDescription string
	Description      string
	SKU              string
	StockStatus      string
	StockQuantity    int
	Image            string
	Categories       []Category
	Attributes       []Attribute
	Variations       []Variation
	Rating           float64
}

// Category groups products.
type Category struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Slug  string `json:"slug"`
	Count int    `json:"count"`
}

// OrderItem is a purchased line item.
type OrderItem struct {
	Name     string `json:"name"`
	Quantity int    `json:"quantity"`
	Total    string `json:"total"`
}

// Order is a placed order looked up by number.
type Order struct {
	Number         string
	BillingEmail   string
	Status         string
	Total          float64
	Currency       string
	Items          []OrderItem
	ShippingMethod string
	TrackingNumber string
	TrackingURL    string
}

// QueryParams are the shared filter semantics for catalog queries. IDs, when
// set, restricts the result to those products while preserving the given
// order, which lets the search index re-apply filters without losing its
// ranking.
type QueryParams struct {
	Search   string
	Category string
	MinPrice *float64
	MaxPrice *float64
	IDs      []int64
	Limit    int
}

// FormatPrice renders a price the way storefronts display it.
func FormatPrice(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}

// IsComplex reports whether a variable product has too many variation axes
// or combinations to enumerate: more than 2 distinguishing attributes, or 30
// or more total variations.
func (p *Product) IsComplex() bool {
	if p.Type != TypeVariable {
		return false
	}
	distinguishing := 0
	for _, a := range p.Attributes {
		if len(a.Options) > 1 {
			distinguishing++
		}
	}
	return distinguishing > maxDistinguishingAttributes || len(p.Variations) >= maxEnumeratedVariations
}

// IndexText derives the searchable text for a product: name, stripped
// descriptions, SKU, category names, and flattened variation attribute
// options for variable products.
func (p *Product) IndexText() string {
	parts := []string{p.Name, StripHTML(p.Description), StripHTML(p.ShortDescription), p.SKU}
	for _, c := range p.Categories {
		parts = append(parts, c.Name)
	}
	if p.Type == TypeVariable {
		for _, a := range p.Attributes {
			parts = append(parts, a.Options...)
		}
	}
	return strings.Join(parts, " ")
}

// StripHTML removes markup from rich description fields before indexing.
func StripHTML(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	inTag := false
	for _, r := range s {
		switch {
		case r == '<':
			inTag = true
			b.WriteRune(' ')
		case r == '>':
			inTag = false
		case !inTag:
			b.WriteRune(r)
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// Summary is the product payload returned by search results and /products.
func (p *Product) Summary() map[string]any {
	m := map[string]any{
		"id":                p.ID,
		"name":              p.Name,
		"url":               p.URL,
		"price":             FormatPrice(p.Price),
		"regular_price":     FormatPrice(p.RegularPrice),
		"sale_price":        nil,
		"short_description": StripHTML(p.ShortDescription),
		"add_to_cart_url":   p.URL + "?add-to-cart=" + strconv.FormatInt(p.ID, 10),
		"product_type":      p.Type,
	}
	if p.SalePrice != nil {
		m["sale_price"] = FormatPrice(*p.SalePrice)
	}
	if p.Image != "" {
		m["image"] = p.Image
	}
	if p.Type == TypeVariable {
		attrs := make([]map[string]any, 0, len(p.Attributes))
		for _, a := range p.Attributes {
			attrs = append(attrs, map[string]any{"name": a.Name, "options": a.Options})
		}
		m["attributes"] = attrs
		if p.IsComplex() {
			m["is_complex"] = true
		} else {
			m["is_complex"] = false
			variations := make([]map[string]any, 0, len(p.Variations))
			for _, v := range p.Variations {
				vm := map[string]any{
					"id":            v.ID,
					"attributes":    v.Attributes,
					"price":         FormatPrice(v.Price),
					"regular_price": FormatPrice(v.RegularPrice),
					"stock_status":  v.StockStatus,
				}
				if v.SalePrice != nil {
					vm["sale_price"] = FormatPrice(*v.SalePrice)
				}
				if v.Image != "" {
					vm["image"] = v.Image
				}
				variations = append(variations, vm)
			}
			m["variations"] = variations
		}
	}
	return m
}

// Detail is the full payload returned by get_product_details.
func (p *Product) Detail() map[string]any {
	m := p.Summary()
	m["description"] = StripHTML(p.Description)
	m["sku"] = p.SKU
	m["stock_status"] = p.StockStatus
	m["stock_quantity"] = p.StockQuantity
	names := make([]string, 0, len(p.Categories))
	for _, c := range p.Categories {
		names = append(names, c.Name)
	}
	m["categories"] = names
	return m
}
