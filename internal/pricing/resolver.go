package pricing

import (
	"math"
	"math/rand"
	"strconv"
	"strings"

	"github.com/arkenvault/pileworks/internal/actor"
	"github.com/arkenvault/pileworks/internal/currency"
)

// Request carries the trade context for a price query. Either side may be
// nil; the acting merchant is the seller if the seller is an enabled
// merchant, else the buyer if the buyer is one.
type Request struct {
	Seller   *actor.Actor
	Buyer    *actor.Actor
	Quantity int
	Defaults []currency.Currency // Default catalog when no override applies
	Rand     *rand.Rand          // Roll source for dice-based price strings
}

// Options computes every payment option for an item: the primary currency
// decomposition and any custom price lists, with merchant modifiers applied
// and affordability ceilings computed against the buyer's holdings.
func Options(item actor.Item, req Request) ([]Group, error) {
	quantity := req.Quantity
	if quantity <= 0 {
		quantity = 1
	}

	sellerMerchant := req.Seller != nil && req.Seller.Flags.Enabled && req.Seller.Flags.IsMerchant
	buyerMerchant := req.Buyer != nil && req.Buyer.Flags.Enabled && req.Buyer.Flags.IsMerchant

	var merchant *actor.Actor
	switch {
	case sellerMerchant:
		merchant = req.Seller
	case buyerMerchant:
		merchant = req.Buyer
	}

	// Selling to a merchant that this item refuses: one dead option.
	if buyerMerchant && merchant == req.Buyer && item.Flags.CantBeSoldToMerchants {
		return []Group{{Primary: true, MaxQuantity: 0, Quantity: quantity}}, nil
	}

	// No merchant on either side: free-form transfer, nothing to charge.
	if merchant == nil {
		return []Group{freeGroup(quantity)}, nil
	}

	cat, err := actor.CatalogFor(merchant, req.Defaults)
	if err != nil {
		return nil, err
	}
	merchantCurrencies := actor.Currencies(merchant, cat, true)
	smallest := cat.SmallestExchangeRate()

	modifier := 1.0
	if sellerMerchant {
		buy, _ := req.Seller.Flags.PriceModifiers(item.Type, req.Buyer)
		modifier = buy
	} else if buyerMerchant {
		_, sell := req.Buyer.Flags.PriceModifiers(item.Type, req.Seller)
		modifier = sell
	}

	overallCost := itemCost(item, cat, req.Rand)

	sellerOnlyBase := sellerMerchant && req.Seller.Flags.OnlyAcceptBasePrice
	buyerOnlyBase := buyerMerchant && merchant == req.Buyer && req.Buyer.Flags.OnlyAcceptBasePrice
	disableNormalCost := item.Flags.DisableNormalCost && !sellerOnlyBase
	hasOtherPrices := false
	for _, list := range item.Flags.Prices {
		if len(list) > 0 {
			hasOtherPrices = true
			break
		}
	}

	if item.Flags.Free ||
		(!disableNormalCost && (overallCost == 0 || overallCost < smallest) && !hasOtherPrices) ||
		modifier <= 0 {
		return []Group{freeGroup(quantity)}, nil
	}

	var groups []Group

	// Primary option: the item's normal cost decomposed across the catalog.
	if overallCost >= smallest && (!item.Flags.DisableNormalCost || buyerOnlyBase) {
		baseCost := cat.Round(overallCost * modifier)
		totalCost := cat.Round(overallCost * modifier * float64(quantity))

		basePrices := Decompose(baseCost, cat, merchantCurrencies)
		prices := Decompose(totalCost, cat, merchantCurrencies)

		if baseCost != 0 {
			groups = append(groups, Group{
				Primary:         true,
				Prices:          prices,
				BasePrices:      basePrices,
				PriceString:     priceString(prices),
				BasePriceString: priceString(basePrices),
				TotalCost:       totalCost,
				BaseCost:        baseCost,
				Quantity:        quantity,
			})
		}
	}

	// Custom options: fixed or percent price lists defined on the item.
	if hasOtherPrices && !buyerOnlyBase {
		for _, list := range item.Flags.Prices {
			if len(list) == 0 {
				continue
			}
			entries := make([]Entry, 0, len(list))
			for _, p := range list {
				itemModifier := modifier
				if p.Fixed {
					itemModifier = 1
				}
				cost := math.Round(p.Quantity * itemModifier * float64(quantity))
				baseCost := math.Round(p.Quantity * itemModifier)
				entries = append(entries, Entry{
					Name:         p.Name,
					Img:          p.Img,
					Kind:         backingKind(p.Backing),
					Abbreviation: p.Abbreviation,
					Fixed:        p.Fixed,
					Percent:      p.Percent,
					Backing:      p.Backing,
					Cost:         cost,
					BaseCost:     baseCost,
					String:       formatCustom(p.Abbreviation, cost),
				})
			}
			groups = append(groups, Group{
				Prices:          entries,
				PriceString:     priceString(entries),
				BasePriceString: basePriceString(entries),
				Quantity:        quantity,
			})
		}
	}

	if req.Buyer == nil {
		for i := range groups {
			groups[i].MaxQuantity = Unlimited
		}
		return groups, nil
	}

	applyAffordability(groups, req.Buyer, buyerMerchant, cat, quantity)
	return groups, nil
}

// applyAffordability computes the maximum purchasable quantity per group
// against the buyer's current holdings.
func applyAffordability(groups []Group, buyer *actor.Actor, buyerMerchant bool, cat *currency.Catalog, quantity int) {
	infiniteCurrencies := buyerMerchant && buyer.Flags.InfiniteCurrencies
	infiniteQuantity := buyerMerchant && buyer.Flags.InfiniteQuantity

	totalValue := 0.0
	for _, cq := range actor.Currencies(buyer, cat, false) {
		totalValue += float64(cq.Quantity) * cq.Currency.ExchangeRate
	}
	totalValue = cat.Round(totalValue)

	for i := range groups {
		g := &groups[i]
		g.MaxQuantity = Unlimited

		if g.Primary {
			if infiniteCurrencies || g.BaseCost <= 0 {
				continue
			}
			g.MaxQuantity = int(math.Floor(totalValue / g.BaseCost))
			for j := range g.Prices {
				g.Prices[j].MaxQuantity = g.MaxQuantity
			}
			continue
		}

		if infiniteQuantity {
			// A bottomless merchant can always cover non-currency costs; mark
			// the entries sufficient so downstream affordability checks pass.
			for j := range g.Prices {
				g.Prices[j].BuyerQuantity = math.Inf(1)
			}
			continue
		}

		for j := range g.Prices {
			e := &g.Prices[j]
			holding := actor.Holding(buyer, e.Backing)
			e.BuyerQuantity = holding

			if e.Percent {
				// Percent costs are recomputed against the live holding on
				// every query, never cached.
				percent := math.Min(1, e.BaseCost/100)
				percentQuantity := math.Max(0, math.Floor(holding*percent))
				if percentQuantity == 0 {
					e.MaxQuantity = 0
				} else {
					e.MaxQuantity = int(math.Floor(holding / percentQuantity))
				}
				e.BaseCost = percentQuantity
				e.Cost = percentQuantity * float64(quantity)
				e.String = formatCustom(e.Abbreviation, e.Cost)
			} else if e.BaseCost > 0 {
				e.MaxQuantity = int(math.Floor(holding / e.BaseCost))
			} else {
				e.MaxQuantity = 0
			}

			g.MaxQuantity = minQuantity(g.MaxQuantity, e.MaxQuantity)
		}
		g.PriceString = priceString(g.Prices)
	}
}

// itemCost resolves an item's scalar cost in catalog base units: a numeric
// literal, or a currency-string expression parsed against the catalog.
func itemCost(item actor.Item, cat *currency.Catalog, rng *rand.Rand) float64 {
	raw := strings.TrimSpace(item.Cost)
	if raw == "" {
		return 0
	}
	if v, err := strconv.ParseFloat(raw, 64); err == nil {
		return v
	}
	return ParsePriceString(raw, cat, rng).OverallCost
}

func freeGroup(quantity int) Group {
	return Group{Primary: true, Free: true, MaxQuantity: Unlimited, Quantity: quantity}
}

func formatCustom(abbrev string, v float64) string {
	if v == 0 {
		return ""
	}
	return strings.ReplaceAll(abbrev, "{#}", strconv.FormatFloat(v, 'f', -1, 64))
}

func basePriceString(entries []Entry) string {
	parts := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.BaseCost != 0 {
			parts = append(parts, formatCustom(e.Abbreviation, e.BaseCost))
		}
	}
	return strings.Join(parts, " ")
}
