package trade

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arkenvault/pileworks/internal/actor"
	"github.com/arkenvault/pileworks/internal/currency"
	"github.com/arkenvault/pileworks/internal/pricing"
)

func coinDefaults() []currency.Currency {
	return []currency.Currency{
		{ID: "gold", Name: "Gold Coins", Abbreviation: "{#}GP", ExchangeRate: 1, Primary: true,
			Backing: currency.AttributeBacking{Path: "currency.gp"}},
		{ID: "silver", Name: "Silver Coins", Abbreviation: "{#}SP", ExchangeRate: 0.1,
			Backing: currency.AttributeBacking{Path: "currency.sp"}},
		{ID: "copper", Name: "Copper Coins", Abbreviation: "{#}CP", ExchangeRate: 0.01,
			Backing: currency.AttributeBacking{Path: "currency.cp"}},
	}
}

func merchantSeller(items ...actor.Item) *actor.Actor {
	return &actor.Actor{
		ID:    "merchant",
		Name:  "Merchant",
		Items: items,
		Flags: actor.PileFlags{Enabled: true, IsMerchant: true},
	}
}

func buyerWith(gp, sp, cp float64) *actor.Actor {
	return &actor.Actor{
		ID:   "buyer",
		Name: "Buyer",
		Attributes: map[string]float64{
			"currency.gp": gp,
			"currency.sp": sp,
			"currency.cp": cp,
		},
	}
}

func entryByID(entries []pricing.Entry, id string) *pricing.Entry {
	for i := range entries {
		if entries[i].ID == id {
			return &entries[i]
		}
	}
	return nil
}

// netValue is what the buyer actually parts with: payment minus change, in
// base units.
func netValue(res Result) float64 {
	v := 0.0
	for _, e := range res.FinalPrices {
		v += e.Quantity * e.ExchangeRate
	}
	for _, e := range res.BuyerChange {
		v -= e.Quantity * e.ExchangeRate
	}
	return v
}

func TestSettle_ExactPayment(t *testing.T) {
	item := actor.Item{ID: "sword", Name: "Longsword", Type: "weapon", Cost: "15"}
	seller := merchantSeller(item)
	buyer := buyerWith(20, 0, 0)

	res, err := Settle([]Line{{Item: item, Quantity: 1}}, pricing.Request{
		Seller: seller, Buyer: buyer, Defaults: coinDefaults(),
	})
	require.NoError(t, err)

	assert.True(t, res.CanBuy)
	assert.Equal(t, 15.0, res.TotalCurrencyCost)
	assert.Equal(t, 15.0, netValue(res))

	gold := entryByID(res.FinalPrices, "gold")
	require.NotNil(t, gold)
	assert.Equal(t, 15.0, gold.Quantity)
	assert.Empty(t, res.BuyerChange)

	require.Len(t, res.BuyerReceive, 1)
	assert.Equal(t, "sword", res.BuyerReceive[0].ItemID)
}

func TestSettle_ChangeAndSellerRebalance(t *testing.T) {
	// The buyer holds only gold; a fractional price forces one coin to be
	// broken and the seller's receipts rebalanced so the change can be paid.
	item := actor.Item{ID: "potion", Name: "Potion", Type: "consumable", Cost: "1.5"}
	seller := merchantSeller(item)
	buyer := buyerWith(2, 0, 0)

	res, err := Settle([]Line{{Item: item, Quantity: 1}}, pricing.Request{
		Seller: seller, Buyer: buyer, Defaults: coinDefaults(),
	})
	require.NoError(t, err)

	require.True(t, res.CanBuy)
	assert.Equal(t, 1.5, res.TotalCurrencyCost)

	// Buyer pays 2 gold and gets 5 silver back.
	gold := entryByID(res.FinalPrices, "gold")
	require.NotNil(t, gold)
	assert.Equal(t, 2.0, gold.Quantity)
	require.Len(t, res.BuyerChange, 1)
	assert.Equal(t, "silver", res.BuyerChange[0].ID)
	assert.Equal(t, 5.0, res.BuyerChange[0].Quantity)

	assert.Equal(t, 1.5, netValue(res))

	// The seller keeps 1 gold and the broken coin's value in silver.
	recvGold := entryByID(res.SellerReceive, "gold")
	recvSilver := entryByID(res.SellerReceive, "silver")
	require.NotNil(t, recvGold)
	require.NotNil(t, recvSilver)
	assert.Equal(t, 1.0, recvGold.Quantity)
	assert.Equal(t, 5.0, recvSilver.Quantity)
}

func TestSettle_SmallChangeUsedFirst(t *testing.T) {
	// Copper and silver are spent before a gold coin is broken.
	item := actor.Item{ID: "rations", Name: "Rations", Type: "consumable", Cost: "0.34"}
	seller := merchantSeller(item)
	buyer := buyerWith(10, 3, 4)

	res, err := Settle([]Line{{Item: item, Quantity: 1}}, pricing.Request{
		Seller: seller, Buyer: buyer, Defaults: coinDefaults(),
	})
	require.NoError(t, err)

	require.True(t, res.CanBuy)
	assert.Equal(t, 0.34, netValue(res))

	gold := entryByID(res.FinalPrices, "gold")
	silver := entryByID(res.FinalPrices, "silver")
	copper := entryByID(res.FinalPrices, "copper")
	require.NotNil(t, gold)
	require.NotNil(t, silver)
	require.NotNil(t, copper)
	assert.Equal(t, 0.0, gold.Quantity)
	assert.Equal(t, 3.0, silver.Quantity)
	assert.Equal(t, 4.0, copper.Quantity)
	assert.Empty(t, res.BuyerChange)
}

func TestSettle_UnaffordableLineContributesNothing(t *testing.T) {
	item := actor.Item{ID: "crown", Name: "Crown", Type: "loot", Cost: "500"}
	seller := merchantSeller(item)
	buyer := buyerWith(5, 0, 0)

	res, err := Settle([]Line{{Item: item, Quantity: 1}}, pricing.Request{
		Seller: seller, Buyer: buyer, Defaults: coinDefaults(),
	})
	require.NoError(t, err)

	assert.True(t, res.CanBuy)
	assert.Equal(t, 0.0, res.TotalCurrencyCost)
	assert.Empty(t, res.BuyerReceive)
}

func TestSettle_BasketExceedsHoldings(t *testing.T) {
	// Each line is affordable on its own, but the combined total outruns the
	// buyer's coin; the top-up passes exhaust every denomination and the
	// shortfall is reported.
	sword := actor.Item{ID: "sword", Name: "Longsword", Type: "weapon", Cost: "10"}
	shield := actor.Item{ID: "shield", Name: "Shield", Type: "armor", Cost: "10"}
	seller := merchantSeller(sword, shield)
	buyer := buyerWith(15, 0, 0)

	res, err := Settle([]Line{
		{Item: sword, Quantity: 1},
		{Item: shield, Quantity: 1},
	}, pricing.Request{Seller: seller, Buyer: buyer, Defaults: coinDefaults()})
	require.NoError(t, err)

	assert.False(t, res.CanBuy)
	assert.Equal(t, 20.0, res.TotalCurrencyCost)
	assert.Equal(t, 5.0, res.Residual)
}

func TestSettle_MultiLineBasket(t *testing.T) {
	sword := actor.Item{ID: "sword", Name: "Longsword", Type: "weapon", Cost: "15"}
	rations := actor.Item{ID: "rations", Name: "Rations", Type: "consumable", Cost: "0.5"}
	seller := merchantSeller(sword, rations)
	buyer := buyerWith(30, 10, 0)

	res, err := Settle([]Line{
		{Item: sword, Quantity: 1},
		{Item: rations, Quantity: 4},
	}, pricing.Request{Seller: seller, Buyer: buyer, Defaults: coinDefaults()})
	require.NoError(t, err)

	require.True(t, res.CanBuy)
	assert.Equal(t, 17.0, res.TotalCurrencyCost)
	assert.Equal(t, 17.0, netValue(res))
	assert.Len(t, res.BuyerReceive, 2)
}

func TestSettle_MergedCustomPrices(t *testing.T) {
	// Two lines costing the same non-currency resource merge into one
	// accumulated demand checked against the buyer's holding.
	gemPrice := [][]actor.CustomPrice{{
		{Name: "Gem", Abbreviation: "{#} gems", Quantity: 2, Fixed: true,
			Backing: currency.ItemBacking{Name: "Gem", Type: "loot"}},
	}}
	blade := actor.Item{ID: "blade", Name: "Blade", Type: "weapon", Cost: "10",
		Flags: actor.ItemFlags{DisableNormalCost: true, Prices: gemPrice}}
	ring := actor.Item{ID: "ring", Name: "Ring", Type: "loot", Cost: "10",
		Flags: actor.ItemFlags{DisableNormalCost: true, Prices: gemPrice}}
	seller := merchantSeller(blade, ring)

	buyer := buyerWith(0, 0, 0)
	buyer.Items = []actor.Item{{ID: "gem-1", Name: "Gem", Type: "loot", Quantity: 5}}

	res, err := Settle([]Line{
		{Item: blade, Quantity: 1},
		{Item: ring, Quantity: 1},
	}, pricing.Request{Seller: seller, Buyer: buyer, Defaults: coinDefaults()})
	require.NoError(t, err)

	require.True(t, res.CanBuy)
	require.Len(t, res.FinalPrices, 1)
	assert.Equal(t, 4.0, res.FinalPrices[0].Quantity) // 2 gems per line

	// A third line would push demand past the 5 gems held.
	res, err = Settle([]Line{
		{Item: blade, Quantity: 1},
		{Item: ring, Quantity: 2},
	}, pricing.Request{Seller: seller, Buyer: buyer, Defaults: coinDefaults()})
	require.NoError(t, err)
	assert.False(t, res.CanBuy)
}

func TestSettle_InfiniteMerchantCurrencies(t *testing.T) {
	// A player sells to a merchant with bottomless coffers: the merchant pays
	// regardless of holdings.
	item := actor.Item{ID: "pelt", Name: "Wolf Pelt", Type: "loot", Cost: "3"}
	merchant := &actor.Actor{
		ID:   "merchant",
		Name: "Merchant",
		Flags: actor.PileFlags{
			Enabled: true, IsMerchant: true,
			SellPriceModifier: 0.5, BuyPriceModifier: 1,
			InfiniteCurrencies: true,
		},
	}
	pc := &actor.Actor{ID: "pc", Name: "Seller", Items: []actor.Item{item}}

	res, err := Settle([]Line{{Item: item, Quantity: 1}}, pricing.Request{
		Seller: pc, Buyer: merchant, Defaults: coinDefaults(),
	})
	require.NoError(t, err)

	assert.True(t, res.CanBuy)
	assert.Equal(t, 1.5, res.TotalCurrencyCost)
	assert.Equal(t, 1.5, netValue(res))
}

func TestSettle_InfiniteQuantityMerchantBuysCustomPriced(t *testing.T) {
	// A merchant with bottomless stock buys an item priced in gems it may not
	// hold; the non-currency cost is treated as always covered.
	pelt := actor.Item{ID: "pelt", Name: "Wolf Pelt", Type: "loot",
		Flags: actor.ItemFlags{Prices: [][]actor.CustomPrice{{
			{Name: "Gem", Abbreviation: "{#} gems", Quantity: 2,
				Backing: currency.ItemBacking{Name: "Gem", Type: "loot"}},
		}}}}
	merchant := &actor.Actor{
		ID:    "merchant",
		Name:  "Merchant",
		Flags: actor.PileFlags{Enabled: true, IsMerchant: true, InfiniteQuantity: true},
	}
	pc := &actor.Actor{ID: "pc", Name: "Seller", Items: []actor.Item{pelt}}

	res, err := Settle([]Line{{Item: pelt, Quantity: 1}}, pricing.Request{
		Seller: pc, Buyer: merchant, Defaults: coinDefaults(),
	})
	require.NoError(t, err)

	assert.True(t, res.CanBuy)
	require.Len(t, res.FinalPrices, 1)
	assert.Equal(t, 2.0, res.FinalPrices[0].Quantity)
}

func TestSettle_SingleCurrencyCatalog(t *testing.T) {
	defaults := []currency.Currency{{
		ID: "credit", Name: "Credits", Abbreviation: "{#}cr", ExchangeRate: 1, Primary: true,
		Backing: currency.AttributeBacking{Path: "credits"},
	}}
	item := actor.Item{ID: "chip", Name: "Data Chip", Type: "loot", Cost: "12.5"}
	seller := &actor.Actor{ID: "merchant", Flags: actor.PileFlags{Enabled: true, IsMerchant: true}}
	buyer := &actor.Actor{ID: "buyer", Attributes: map[string]float64{"credits": 40}}

	res, err := Settle([]Line{{Item: item, Quantity: 1}}, pricing.Request{
		Seller: seller, Buyer: buyer, Defaults: defaults,
	})
	require.NoError(t, err)

	require.True(t, res.CanBuy)
	require.Len(t, res.FinalPrices, 1)
	assert.Equal(t, 12.5, res.FinalPrices[0].Quantity)
	assert.Empty(t, res.BuyerChange)
}
