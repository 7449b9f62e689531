// Package trade computes settlements for market baskets and drives the
// transaction chain that applies them to actor records. Settlement itself is
// a pure computation over actor snapshots; nothing here mutates state.
package trade

import (
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/arkenvault/pileworks/internal/actor"
	"github.com/arkenvault/pileworks/internal/currency"
	"github.com/arkenvault/pileworks/internal/pricing"
)

// Line is one basket entry: an item, the chosen payment option, and how many
// to buy.
type Line struct {
	Item       actor.Item `json:"item"`
	GroupIndex int        `json:"groupIndex"`
	Quantity   int        `json:"quantity"`
}

// ItemReceipt describes an item the buyer receives.
type ItemReceipt struct {
	Kind     string `json:"type"`
	ItemID   string `json:"itemId,omitempty"`
	Name     string `json:"name"`
	Img      string `json:"img,omitempty"`
	Quantity int    `json:"quantity"`
}

// Result is the computed outcome of a purchase before anything is applied to
// records. Entry.Quantity on FinalPrices/BuyerChange/SellerReceive holds the
// concrete denomination counts.
type Result struct {
	TotalCurrencyCost float64         `json:"totalCurrencyCost"`
	CanBuy            bool            `json:"canBuy"`
	Primary           bool            `json:"primary"`
	FinalPrices       []pricing.Entry `json:"finalPrices"`
	BuyerChange       []pricing.Entry `json:"buyerChange"`
	SellerReceive     []pricing.Entry `json:"sellerReceive"`
	BuyerReceive      []ItemReceipt   `json:"buyerReceive"`
	BasePriceString   string          `json:"basePriceString"`

	// Residual is the base-unit amount that could not be covered when
	// change-making failed to converge; nonzero implies CanBuy is false.
	Residual float64 `json:"residual,omitempty"`
}

// Settle computes the settlement for a basket: what the buyer pays across
// their actual holdings, the change owed back, and the seller's rebalanced
// receipts. Unaffordable or disallowed lines are excluded; infeasibility is
// reported through CanBuy, never an error or a panic.
func Settle(basket []Line, req pricing.Request) (Result, error) {
	sellerMerchant := req.Seller != nil && req.Seller.Flags.Enabled && req.Seller.Flags.IsMerchant
	buyerMerchant := req.Buyer != nil && req.Buyer.Flags.Enabled && req.Buyer.Flags.IsMerchant

	var merchant *actor.Actor
	switch {
	case sellerMerchant:
		merchant = req.Seller
	case buyerMerchant:
		merchant = req.Buyer
	}

	cat, err := actor.CatalogFor(merchant, req.Defaults)
	if err != nil {
		return Result{}, err
	}

	merchantHoldings := actor.Currencies(merchant, cat, true)
	buyerHoldings := actor.Currencies(req.Buyer, cat, true)
	infiniteCurrencies := buyerMerchant && req.Buyer.Flags.InfiniteCurrencies

	res := Result{CanBuy: true}
	var otherPrices []pricing.Entry

	for _, line := range basket {
		lineReq := req
		lineReq.Quantity = line.Quantity
		groups, err := pricing.Options(line.Item, lineReq)
		if err != nil {
			return Result{}, err
		}
		if len(groups) == 0 {
			continue
		}
		idx := line.GroupIndex
		if idx < 0 || idx >= len(groups) {
			idx = 0
		}
		group := groups[idx]

		// Disallowed or unaffordable lines contribute nothing.
		if group.MaxQuantity == 0 {
			continue
		}

		if group.Primary {
			res.TotalCurrencyCost = cat.Round(res.TotalCurrencyCost + group.TotalCost)
			res.Primary = true
		} else {
			otherPrices = mergeOtherPrices(otherPrices, group.Prices, &res)
		}

		res.BuyerReceive = append(res.BuyerReceive, ItemReceipt{
			Kind:     "item",
			ItemID:   line.Item.ID,
			Name:     line.Item.Name,
			Img:      line.Item.Img,
			Quantity: group.Quantity,
		})
	}

	if res.TotalCurrencyCost > 0 {
		settleCurrency(&res, cat, buyerHoldings, merchantHoldings, infiniteCurrencies)
	}

	res.FinalPrices = append(res.FinalPrices, otherPrices...)
	res.SellerReceive = append(res.SellerReceive, otherPrices...)
	res.BasePriceString = finalPriceString(res.FinalPrices)

	return res, nil
}

// mergeOtherPrices folds one custom price group into the merged non-currency
// demand list, matching by id else name/img/kind fingerprint, and checks the
// accumulated demand against the buyer's holdings.
func mergeOtherPrices(merged []pricing.Entry, prices []pricing.Entry, res *Result) []pricing.Entry {
	for _, price := range prices {
		var existing *pricing.Entry
		for i := range merged {
			if merged[i].Matches(price) {
				existing = &merged[i]
				break
			}
		}
		if existing == nil {
			cp := price
			cp.Quantity = 0
			merged = append(merged, cp)
			existing = &merged[len(merged)-1]
		} else {
			existing.Cost += price.Cost
		}
		existing.Quantity += price.Cost
		existing.BuyerQuantity -= price.Cost
		if existing.BuyerQuantity < 0 {
			res.CanBuy = false
		}
	}
	return merged
}

// settleCurrency allocates the buyer's actual currency against the total,
// computes change, and rebalances the seller's receipts so change can be
// paid out.
func settleCurrency(res *Result, cat *currency.Catalog, buyerHoldings, merchantHoldings []actor.CurrencyQuantity, infiniteCurrencies bool) {
	prices := pricing.Decompose(res.TotalCurrencyCost, cat, buyerHoldings)
	priceLeft := res.TotalCurrencyCost
	single := cat.Len() == 1

	// First pass: smallest exchange rate first, so small change is used
	// before large denominations are broken.
	for i := len(prices) - 1; i >= 0; i-- {
		price := prices[i]
		payment := price
		payment.Quantity = 0
		if infiniteCurrencies {
			payment.BuyerQuantity = math.Inf(1)
		}

		if priceLeft <= 0 || price.Cost == 0 || single {
			if single {
				payment.Quantity = price.Cost
				priceLeft = 0
			}
			res.FinalPrices = append(res.FinalPrices, payment)
			continue
		}

		payment.Quantity = math.Min(payment.BuyerQuantity, price.Cost)

		if price.Primary {
			// Don't overshoot with primary currency the buyer could cover
			// the remainder with; ceil so fractional primary units can't
			// underpay.
			available := cat.Round(payment.BuyerQuantity * price.ExchangeRate)
			if available > priceLeft {
				payment.Quantity = math.Ceil(priceLeft / price.ExchangeRate)
			}
		}

		res.FinalPrices = append(res.FinalPrices, payment)
		priceLeft = cat.Round(priceLeft - payment.Quantity*price.ExchangeRate)
	}

	if single {
		return
	}

	// Additional passes pull from any denomination with leftover capacity,
	// bounded by the catalog size; exhaustion is surfaced as CanBuy=false
	// rather than looping forever.
	for pass := 0; priceLeft > 0 && pass < cat.Len(); pass++ {
		for i := range res.FinalPrices {
			payment := &res.FinalPrices[i]
			capacity := payment.BuyerQuantity - payment.Quantity
			if capacity <= 0 {
				continue
			}
			add := math.Ceil(math.Min(capacity, priceLeft/payment.ExchangeRate))
			payment.Quantity += add
			priceLeft = cat.Round(priceLeft - add*payment.ExchangeRate)
			if priceLeft <= 0 {
				break
			}
		}
		if priceLeft > 0 {
			sortEntriesByRate(res.FinalPrices)
		}
	}
	if priceLeft > 0 {
		res.CanBuy = false
		res.Residual = priceLeft
	}

	sortEntriesByRate(res.FinalPrices)

	// Overshoot becomes change: decompose it and net it against the payment
	// per denomination; whatever the netting can't absorb is owed back.
	if priceLeft < 0 {
		change := math.Abs(priceLeft)
		for _, c := range sortedByRate(cat) {
			if change == 0 {
				break
			}
			num := math.Floor(cat.Round(change / c.ExchangeRate))
			change = cat.Round(change - num*c.ExchangeRate)
			if num == 0 {
				continue
			}
			payment := findPayment(res.FinalPrices, c)
			if payment == nil {
				continue
			}
			if payment.Quantity-num >= 0 {
				payment.Quantity -= num
			} else {
				res.BuyerChange = append(res.BuyerChange, currencyEntry(c, num-payment.Quantity))
				payment.Quantity = 0
			}
		}
	}

	// The seller's receipts start as a copy of the payment, then get
	// rebalanced so every owed change denomination can actually be paid out.
	res.SellerReceive = make([]pricing.Entry, len(res.FinalPrices))
	copy(res.SellerReceive, res.FinalPrices)

	changeNeeded := 0.0
	for _, chg := range res.BuyerChange {
		held := holdingOf(merchantHoldings, chg)
		if held >= chg.Quantity {
			continue
		}
		changeNeeded += (chg.Quantity - held) * chg.ExchangeRate
	}
	changeNeeded = cat.Round(changeNeeded)
	if changeNeeded <= 0 {
		return
	}

	// Break one larger unit: the primary if it alone covers the gap, else
	// the biggest denomination with anything in it.
	var broken *pricing.Entry
	for i := range res.SellerReceive {
		e := &res.SellerReceive[i]
		if e.Primary && e.Quantity*e.ExchangeRate > changeNeeded {
			broken = e
			break
		}
	}
	if broken == nil {
		for i := range res.SellerReceive {
			e := &res.SellerReceive[i]
			if e.Quantity > 0 && e.Quantity*e.ExchangeRate > changeNeeded {
				broken = e
				break
			}
		}
	}
	if broken == nil {
		// No receipt denomination can cover the change either.
		res.CanBuy = false
		return
	}

	broken.Quantity--
	changeNeeded = cat.Round(math.Abs(changeNeeded - broken.ExchangeRate))

	// Redistribute the broken unit's value as smaller denominations.
	for i := range res.SellerReceive {
		if changeNeeded == 0 {
			break
		}
		e := &res.SellerReceive[i]
		num := math.Floor(cat.Round(changeNeeded / e.ExchangeRate))
		changeNeeded = cat.Round(changeNeeded - num*e.ExchangeRate)
		e.Quantity += num
	}
}

func sortEntriesByRate(entries []pricing.Entry) {
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].ExchangeRate > entries[j].ExchangeRate
	})
}

// sortedByRate returns the catalog's currencies in descending rate order.
func sortedByRate(cat *currency.Catalog) []currency.Currency {
	out := make([]currency.Currency, cat.Len())
	copy(out, cat.Entries())
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].ExchangeRate > out[j].ExchangeRate
	})
	return out
}

func findPayment(entries []pricing.Entry, c currency.Currency) *pricing.Entry {
	want := currencyEntry(c, 0)
	for i := range entries {
		if entries[i].Matches(want) {
			return &entries[i]
		}
	}
	return nil
}

func holdingOf(holdings []actor.CurrencyQuantity, e pricing.Entry) float64 {
	for _, h := range holdings {
		if currencyEntry(h.Currency, 0).Matches(e) {
			return float64(h.Quantity)
		}
	}
	return 0
}

func currencyEntry(c currency.Currency, quantity float64) pricing.Entry {
	e := pricing.Entry{
		ID:           c.ID,
		Name:         c.Name,
		Abbreviation: c.Abbreviation,
		ExchangeRate: c.ExchangeRate,
		Primary:      c.Primary,
		IsCurrency:   true,
		Backing:      c.Backing,
		Quantity:     quantity,
	}
	switch b := c.Backing.(type) {
	case currency.AttributeBacking:
		e.Kind = "attribute"
	case currency.ItemBacking:
		e.Kind = "item"
		e.Img = b.Img
	}
	return e
}

func finalPriceString(entries []pricing.Entry) string {
	parts := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.Cost == 0 {
			continue
		}
		abbrev := e.Abbreviation
		if e.Percent {
			abbrev = strings.ReplaceAll(abbrev, "%", "")
		}
		parts = append(parts, strings.ReplaceAll(abbrev, "{#}", strconv.FormatFloat(e.Cost, 'f', -1, 64)))
	}
	return strings.Join(parts, " ")
}
