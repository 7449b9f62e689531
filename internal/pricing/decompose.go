package pricing

import (
	"math"
	"sort"

	"github.com/arkenvault/pileworks/internal/actor"
	"github.com/arkenvault/pileworks/internal/currency"
)

// Decompose converts a scalar total (in catalog base units) into concrete
// per-denomination counts using a greedy largest-remainder split anchored to
// the primary currency. The result is sorted by descending exchange rate and
// carries the holder's current quantity of each denomination from holdings.
//
// The split is greedy, not optimal: it does not minimize coin count, but it is
// deterministic for a given catalog.
func Decompose(total float64, cat *currency.Catalog, holdings []actor.CurrencyQuantity) []Entry {
	held := make(map[string]actor.CurrencyQuantity, len(holdings))
	for _, h := range holdings {
		held[h.Currency.ID] = h
	}

	newEntry := func(c currency.Currency) Entry {
		h := held[c.ID]
		id := c.ID
		if h.ItemID != "" {
			id = h.ItemID
		}
		return Entry{
			ID:            id,
			Name:          c.Name,
			Img:           itemImg(c),
			Kind:          backingKind(c.Backing),
			Abbreviation:  c.Abbreviation,
			ExchangeRate:  c.ExchangeRate,
			Primary:       c.Primary,
			IsCurrency:    true,
			Backing:       c.Backing,
			BuyerQuantity: float64(h.Quantity),
		}
	}

	primary := cat.Primary()
	decimals := cat.DecimalPrecision()

	if cat.Len() == 1 {
		e := newEntry(primary)
		e.Cost = currency.RoundToDecimals(total, decimals)
		e.BaseCost = e.Cost
		e.MaxCurrencyCost = e.Cost
		e.String = primary.FormatAmount(e.Cost)
		return []Entry{e}
	}

	smallest := cat.SmallestExchangeRate()
	prices := make([]Entry, 0, cat.Len())

	if primary.ExchangeRate == smallest {
		// The primary already carries the smallest rate, so there is no
		// integer/fractional split: one greedy pass in catalog order.
		remainder := currency.RoundToDecimals(total, decimals)
		for _, c := range cat.Entries() {
			num := math.Floor(currency.RoundToDecimals(remainder/c.ExchangeRate, decimals))
			remainder = currency.RoundToDecimals(remainder-num*c.ExchangeRate, decimals)

			e := newEntry(c)
			e.Cost = num
			e.BaseCost = num
			e.MaxCurrencyCost = math.Ceil(total / c.ExchangeRate)
			e.String = c.FormatAmount(num)
			prices = append(prices, e)
		}
		sortByRate(prices)
		return prices
	}

	fraction := currency.RoundToDecimals(math.Mod(total, 1), decimals)
	cost := math.Round(total - fraction)

	skipPrimary := false
	if cost != 0 {
		// The integer part goes to the primary currency wholesale.
		skipPrimary = true
		e := newEntry(primary)
		e.Cost = cost
		e.BaseCost = cost
		e.MaxCurrencyCost = total
		e.String = primary.FormatAmount(cost)
		prices = append(prices, e)
	}

	for _, c := range cat.Entries() {
		if c.ID == primary.ID && skipPrimary {
			continue
		}
		num := math.Floor(currency.RoundToDecimals(fraction/c.ExchangeRate, decimals))
		fraction = currency.RoundToDecimals(fraction-num*c.ExchangeRate, decimals)

		e := newEntry(c)
		e.Cost = num
		e.BaseCost = num
		e.MaxCurrencyCost = math.Ceil(total / c.ExchangeRate)
		e.String = c.FormatAmount(num)
		prices = append(prices, e)
	}

	sortByRate(prices)
	return prices
}

func sortByRate(entries []Entry) {
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].ExchangeRate > entries[j].ExchangeRate
	})
}

func itemImg(c currency.Currency) string {
	if b, ok := c.Backing.(currency.ItemBacking); ok {
		return b.Img
	}
	return ""
}
