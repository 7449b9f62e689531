package currency

// DefaultCurrencies returns the stock four-denomination catalog used when no
// game-specific set is configured. Holdings live on actor attribute paths.
func DefaultCurrencies() []Currency {
	return []Currency{
		{
			ID:           "platinum",
			Name:         "Platinum Coins",
			Abbreviation: "{#}PP",
			ExchangeRate: 10,
			Backing:      AttributeBacking{Path: "system.currency.pp"},
		},
		{
			ID:           "gold",
			Name:         "Gold Coins",
			Abbreviation: "{#}GP",
			ExchangeRate: 1,
			Primary:      true,
			Backing:      AttributeBacking{Path: "system.currency.gp"},
		},
		{
			ID:           "silver",
			Name:         "Silver Coins",
			Abbreviation: "{#}SP",
			ExchangeRate: 0.1,
			Backing:      AttributeBacking{Path: "system.currency.sp"},
		},
		{
			ID:           "copper",
			Name:         "Copper Coins",
			Abbreviation: "{#}CP",
			ExchangeRate: 0.01,
			Backing:      AttributeBacking{Path: "system.currency.cp"},
		},
	}
}
