// Package pricing computes price options for items: the canonical currency
// decomposition, custom fixed/percent price lists, merchant modifiers, and
// affordability ceilings.
package pricing

import (
	"strings"

	"github.com/arkenvault/pileworks/internal/currency"
)

// Unlimited marks a price group or entry with no quantity ceiling.
const Unlimited = -1

// Entry is one denomination's contribution to a price: either a catalog
// currency or a custom attribute/item cost.
type Entry struct {
	ID           string           `json:"id,omitempty"`
	Name         string           `json:"name"`
	Img          string           `json:"img,omitempty"`
	Kind         string           `json:"type"` // "attribute" or "item"
	Abbreviation string           `json:"abbreviation"`
	ExchangeRate float64          `json:"exchangeRate,omitempty"`
	Primary      bool             `json:"primary,omitempty"`
	IsCurrency   bool             `json:"isCurrency"`
	Fixed        bool             `json:"fixed,omitempty"`
	Percent      bool             `json:"percent,omitempty"`
	Backing      currency.Backing `json:"-"`

	Cost            float64 `json:"cost"`     // Post-quantity
	BaseCost        float64 `json:"baseCost"` // Pre-quantity
	MaxCurrencyCost float64 `json:"maxCurrencyCost,omitempty"`
	String          string  `json:"string,omitempty"`

	// Settlement bookkeeping.
	Quantity      float64 `json:"quantity"`      // Units actually allocated as payment
	BuyerQuantity float64 `json:"buyerQuantity"` // The payer's current holding
	MaxQuantity   int     `json:"maxQuantity"`
}

// Matches reports whether two entries denote the same resource: same id, or
// the same name/img/kind fingerprint.
func (e Entry) Matches(other Entry) bool {
	if e.ID != "" && e.ID == other.ID {
		return true
	}
	return e.Name == other.Name && e.Img == other.Img && e.Kind == other.Kind
}

// Value returns the entry's allocated value in the catalog's base unit.
func (e Entry) Value() float64 {
	return e.Quantity * e.ExchangeRate
}

func backingKind(b currency.Backing) string {
	switch b.(type) {
	case currency.AttributeBacking:
		return "attribute"
	case currency.ItemBacking:
		return "item"
	default:
		return ""
	}
}

// Group is one selectable payment option for an item: either the primary
// currency decomposition, or a custom price list. Exactly one group is chosen
// per basket line.
type Group struct {
	Primary    bool    `json:"primary"` // Currency-catalog decomposition
	Free       bool    `json:"free"`
	Prices     []Entry `json:"prices"`
	BasePrices []Entry `json:"basePrices,omitempty"`

	PriceString     string  `json:"priceString"`
	BasePriceString string  `json:"basePriceString"`
	TotalCost       float64 `json:"totalCost"` // Post-quantity, base units
	BaseCost        float64 `json:"baseCost"`  // Pre-quantity, base units
	MaxQuantity     int     `json:"maxQuantity"`
	Quantity        int     `json:"quantity"`
}

// priceString joins the display strings of all non-zero entries.
func priceString(entries []Entry) string {
	parts := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.Cost != 0 && e.String != "" {
			parts = append(parts, e.String)
		}
	}
	return strings.Join(parts, " ")
}

// minQuantity treats Unlimited as positive infinity.
func minQuantity(a, b int) int {
	if a == Unlimited {
		return b
	}
	if b == Unlimited {
		return a
	}
	if b < a {
		return b
	}
	return a
}
