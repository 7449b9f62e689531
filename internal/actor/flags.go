package actor

import (
	"encoding/json"
	"fmt"

	"github.com/arkenvault/pileworks/internal/currency"
)

// PileFlags holds the pile configuration document attached to an actor.
type PileFlags struct {
	Enabled     bool `json:"enabled"`
	IsContainer bool `json:"isContainer"`
	IsMerchant  bool `json:"isMerchant"`

	// Container state.
	Closed bool `json:"closed"`
	Locked bool `json:"locked"`

	// "default" defers to the global setting; "true"/"false" force it.
	DeleteWhenEmpty string `json:"deleteWhenEmpty,omitempty"`

	// Merchant pricing.
	BuyPriceModifier       float64               `json:"buyPriceModifier"`
	SellPriceModifier      float64               `json:"sellPriceModifier"`
	ItemTypePriceModifiers []TypePriceModifier   `json:"itemTypePriceModifiers,omitempty"`
	ActorPriceModifiers    []ActorPriceModifier  `json:"actorPriceModifiers,omitempty"`
	OnlyAcceptBasePrice    bool                  `json:"onlyAcceptBasePrice"`
	InfiniteCurrencies     bool                  `json:"infiniteCurrencies"`
	InfiniteQuantity       bool                  `json:"infiniteQuantity"`

	// Per-pile overrides of the global configuration.
	OverrideCurrencies  []currency.Currency `json:"overrideCurrencies,omitempty"`
	OverrideItemFilters []ItemFilter        `json:"overrideItemFilters,omitempty"`
}

// TypePriceModifier adjusts merchant prices for one item type. When Override
// is set the modifier replaces the merchant's base modifier instead of
// composing with it.
type TypePriceModifier struct {
	Type     string  `json:"type"`
	Override bool    `json:"override"`
	Buy      float64 `json:"buyPriceModifier"`
	Sell     float64 `json:"sellPriceModifier"`
}

// ActorPriceModifier adjusts merchant prices for one specific trading partner.
type ActorPriceModifier struct {
	ActorID  string  `json:"actorId"`
	Override bool    `json:"override"`
	Buy      float64 `json:"buyPriceModifier"`
	Sell     float64 `json:"sellPriceModifier"`
}

// PriceModifiers composes the merchant's buy/sell modifiers for an item type
// and trading partner. Type and actor modifiers multiply onto the base unless
// flagged as overrides, in which case they replace it.
func (p PileFlags) PriceModifiers(itemType string, counterparty *Actor) (buy, sell float64) {
	buy = p.BuyPriceModifier
	sell = p.SellPriceModifier
	if buy == 0 && sell == 0 {
		buy, sell = 1, 1
	}

	if itemType != "" {
		for _, mod := range p.ItemTypePriceModifiers {
			if mod.Type != itemType {
				continue
			}
			if mod.Override {
				buy, sell = mod.Buy, mod.Sell
			} else {
				buy *= mod.Buy
				sell *= mod.Sell
			}
			break
		}
	}

	if counterparty != nil {
		for _, mod := range p.ActorPriceModifiers {
			if mod.ActorID != counterparty.ID {
				continue
			}
			if mod.Override {
				buy, sell = mod.Buy, mod.Sell
			} else {
				buy *= mod.Buy
				sell *= mod.Sell
			}
			break
		}
	}

	return buy, sell
}

// ItemFlags holds the pile configuration document attached to an item.
type ItemFlags struct {
	Free                  bool            `json:"free"`
	DisableNormalCost     bool            `json:"disableNormalCost"`
	CantBeSoldToMerchants bool            `json:"cantBeSoldToMerchants"`
	Prices                [][]CustomPrice `json:"prices,omitempty"`
}

// CustomPrice is one entry of a custom price list: a cost denominated in an
// attribute or an item rather than the currency catalog.
type CustomPrice struct {
	Name         string
	Img          string
	Abbreviation string
	Quantity     float64 // Per-unit cost
	Fixed        bool    // Ignore merchant modifiers
	Percent      bool    // Quantity is a percentage of the buyer's holding
	Backing      currency.Backing
}

type customPriceJSON struct {
	Name         string          `json:"name"`
	Img          string          `json:"img,omitempty"`
	Abbreviation string          `json:"abbreviation"`
	Quantity     float64         `json:"quantity"`
	Fixed        bool            `json:"fixed"`
	Percent      bool            `json:"percent"`
	Type         string          `json:"type"`
	Data         json.RawMessage `json:"data"`
}

// MarshalJSON writes the backing as a {type, data} pair.
func (p CustomPrice) MarshalJSON() ([]byte, error) {
	tag, data, err := currency.MarshalBacking(p.Backing)
	if err != nil {
		return nil, fmt.Errorf("custom price %q: %w", p.Name, err)
	}
	return json.Marshal(customPriceJSON{
		Name:         p.Name,
		Img:          p.Img,
		Abbreviation: p.Abbreviation,
		Quantity:     p.Quantity,
		Fixed:        p.Fixed,
		Percent:      p.Percent,
		Type:         tag,
		Data:         data,
	})
}

// UnmarshalJSON reads the {type, data} pair back into the tagged union.
func (p *CustomPrice) UnmarshalJSON(raw []byte) error {
	var in customPriceJSON
	if err := json.Unmarshal(raw, &in); err != nil {
		return err
	}
	backing, err := currency.UnmarshalBacking(in.Type, in.Data)
	if err != nil {
		return fmt.Errorf("custom price %q: %w", in.Name, err)
	}
	p.Name = in.Name
	p.Img = in.Img
	p.Abbreviation = in.Abbreviation
	p.Quantity = in.Quantity
	p.Fixed = in.Fixed
	p.Percent = in.Percent
	p.Backing = backing
	return nil
}

// ItemFilter excludes items from pile interaction by matching a named field
// against a set of disallowed values.
type ItemFilter struct {
	Path    string   `json:"path"`
	Filters []string `json:"filters"`
}
