package pricing

import (
	"math/rand"
	"regexp"
	"strconv"
	"strings"

	"github.com/arkenvault/pileworks/internal/currency"
)

var diceExpr = regexp.MustCompile(`^(\d*)d(\d+)([+-]\d+)?$`)

// evalExpr evaluates a plain number or a dice expression like "2d4" or
// "1d6+2". Dice results are uniform per die using rng.
func evalExpr(s string, rng *rand.Rand) (float64, bool) {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" {
		return 0, false
	}
	if v, err := strconv.ParseFloat(s, 64); err == nil {
		return v, true
	}

	m := diceExpr.FindStringSubmatch(s)
	if m == nil {
		return 0, false
	}
	count := 1
	if m[1] != "" {
		count, _ = strconv.Atoi(m[1])
	}
	sides, _ := strconv.Atoi(m[2])
	if count <= 0 || sides <= 0 {
		return 0, false
	}
	total := 0
	for i := 0; i < count; i++ {
		if rng != nil {
			total += rng.Intn(sides) + 1
		} else {
			// No roll source: use the average so the result is stable.
			total += (sides + 1) / 2
		}
	}
	if m[3] != "" {
		mod, _ := strconv.Atoi(m[3])
		total += mod
	}
	return float64(total), true
}

// ParsedPrice is the outcome of parsing a currency-string expression.
type ParsedPrice struct {
	Quantities  map[string]float64 // Currency id -> rolled quantity
	OverallCost float64            // Total in catalog base units
}

// ParsePriceString evaluates a currency expression such as "2GP 5SP" or
// "1d4GP" against the catalog's abbreviations. Each matched quantity is
// converted to base units through the currency's exchange rate. A bare
// numeric or dice expression with no abbreviation falls back to the primary
// currency.
func ParsePriceString(s string, cat *currency.Catalog, rng *rand.Rand) ParsedPrice {
	out := ParsedPrice{Quantities: make(map[string]float64, cat.Len())}

	matchers := make([]*regexp.Regexp, cat.Len())
	for i, c := range cat.Entries() {
		pattern := regexp.QuoteMeta(strings.ToLower(c.Abbreviation))
		pattern = strings.Replace(pattern, regexp.QuoteMeta("{#}"), "(.+?)", 1)
		matchers[i] = regexp.MustCompile("^" + pattern + "$")
	}

	for _, part := range strings.Fields(strings.ToLower(s)) {
		for i, c := range cat.Entries() {
			m := matchers[i].FindStringSubmatch(part)
			if m == nil {
				continue
			}
			v, ok := evalExpr(m[1], rng)
			if !ok {
				continue
			}
			out.Quantities[c.ID] += v
			out.OverallCost += v * c.ExchangeRate
			break
		}
	}

	if out.OverallCost == 0 {
		if v, ok := evalExpr(s, rng); ok && v != 0 {
			primary := cat.Primary()
			out.Quantities[primary.ID] += v
			out.OverallCost = v * primary.ExchangeRate
		}
	}

	return out
}
