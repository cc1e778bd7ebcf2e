// Package model defines the core data structures that flow from providers through
// standardization and validation into the cache.
package model

import (
	"fmt"
	"strings"
)

// Category identifies the kind of data requested for a symbol.
type Category string

// Supported data categories
const (
	CategoryQuote     Category = "quote"
	CategoryTechnical Category = "technical"
	CategoryFinancial Category = "financial"
	CategoryValuation Category = "valuation"
	CategoryVolume    Category = "volume"
)

// Categories lists every supported category in a stable order.
func Categories() []Category {
	return []Category{
		CategoryQuote,
		CategoryTechnical,
		CategoryFinancial,
		CategoryValuation,
		CategoryVolume,
	}
}

// ParseCategory converts a configuration or request string into a Category.
// Unknown names are rejected rather than mapped to a default.
func ParseCategory(s string) (Category, error) {
	c := Category(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Categories() {
		if c == known {
			return c, nil
		}
	}
	return "", fmt.Errorf("unknown category %q", s)
}

// ReportSensitive reports whether cached data of this category goes stale when
// quarterly reports are published.
func (c Category) ReportSensitive() bool {
	return c == CategoryFinancial || c == CategoryValuation
}

func (c Category) String() string { return string(c) }
