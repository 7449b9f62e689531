// Package actor provides the actor and item snapshot model the pricing and
// settlement engine computes against. Snapshots are read from the store per
// request and never mutated by computation code.
package actor

import (
	"github.com/arkenvault/pileworks/internal/currency"
)

// Item is one inventory entry on an actor.
type Item struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	Img      string    `json:"img,omitempty"`
	Type     string    `json:"type"`
	Quantity int       `json:"quantity"`
	Cost     string    `json:"cost"` // Numeric literal or currency expression, e.g. "12.34" or "2GP 5SP"
	Flags    ItemFlags `json:"flags"`
}

// Actor is a snapshot of an actor: attribute values, inventory, and pile
// configuration.
type Actor struct {
	ID         string             `json:"id"`
	Name       string             `json:"name"`
	Attributes map[string]float64 `json:"attributes"`
	Items      []Item             `json:"items"`
	Flags      PileFlags          `json:"flags"`
}

// SimilarItem returns the first inventory item matching the backing
// descriptor. Matching is by name and type, plus image when both sides carry
// one — never by pointer identity.
func SimilarItem(items []Item, desc currency.ItemBacking) *Item {
	for i := range items {
		it := &items[i]
		if it.Name != desc.Name || it.Type != desc.Type {
			continue
		}
		if desc.Img != "" && it.Img != "" && it.Img != desc.Img {
			continue
		}
		return it
	}
	return nil
}

// ItemByID looks up an inventory item by id.
func (a *Actor) ItemByID(id string) *Item {
	for i := range a.Items {
		if a.Items[i].ID == id {
			return &a.Items[i]
		}
	}
	return nil
}

// Holding reads the actor's current quantity of a backed resource: the value
// at an attribute path, or the quantity of the first similar inventory item.
func Holding(a *Actor, backing currency.Backing) float64 {
	if a == nil {
		return 0
	}
	switch b := backing.(type) {
	case currency.AttributeBacking:
		return a.Attributes[b.Path]
	case currency.ItemBacking:
		if it := SimilarItem(a.Items, b); it != nil {
			return float64(it.Quantity)
		}
		return 0
	default:
		return 0
	}
}

// CurrencyQuantity is one currency paired with an actor's current holding.
type CurrencyQuantity struct {
	Currency currency.Currency `json:"currency"`
	Quantity int               `json:"quantity"`
	ItemID   string            `json:"itemId,omitempty"` // Holding ref for item-backed currencies
	Index    int               `json:"index"`            // Position in the catalog
}

// Currencies resolves the actor's holdings for every currency in the catalog.
// Zero-quantity entries are excluded unless getAll is set.
func Currencies(a *Actor, cat *currency.Catalog, getAll bool) []CurrencyQuantity {
	out := make([]CurrencyQuantity, 0, cat.Len())
	for i, c := range cat.Entries() {
		cq := CurrencyQuantity{Currency: c, Index: i}
		switch b := c.Backing.(type) {
		case currency.AttributeBacking:
			if a != nil {
				cq.Quantity = int(a.Attributes[b.Path])
			}
		case currency.ItemBacking:
			if a != nil {
				if it := SimilarItem(a.Items, b); it != nil {
					cq.Quantity = it.Quantity
					cq.ItemID = it.ID
				}
			}
		}
		if !getAll && cq.Quantity == 0 {
			continue
		}
		out = append(out, cq)
	}
	return out
}

// PrimaryCurrency returns the actor's holding of the catalog's primary
// currency.
func PrimaryCurrency(a *Actor, cat *currency.Catalog) CurrencyQuantity {
	for _, cq := range Currencies(a, cat, true) {
		if cq.Currency.Primary {
			return cq
		}
	}
	return CurrencyQuantity{}
}

// CatalogFor resolves the catalog for an actor, honoring a per-pile currency
// override when one is configured.
func CatalogFor(a *Actor, defaults []currency.Currency) (*currency.Catalog, error) {
	if a != nil {
		return currency.Resolve(defaults, a.Flags.OverrideCurrencies)
	}
	return currency.NewCatalog(defaults)
}
