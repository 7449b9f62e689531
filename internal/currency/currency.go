// Package currency provides the currency catalog and exact decimal arithmetic
// that all pricing and settlement math is built on.
package currency

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// DefaultSmallestRate is the exchange-rate fallback used when a catalog has a
// single currency and therefore no second rate to derive decimal precision from.
const DefaultSmallestRate = 0.00001

// Backing describes where an actor's holdings of a currency live: either an
// attribute path on the actor, or an item in the actor's inventory.
type Backing interface {
	isBacking()
}

// AttributeBacking reads the holding from a named attribute path.
type AttributeBacking struct {
	Path string `json:"path"`
}

// ItemBacking matches an inventory item by name/type (and image, when both
// sides carry one) rather than by object identity.
type ItemBacking struct {
	Name string `json:"name"`
	Img  string `json:"img,omitempty"`
	Type string `json:"type"`
}

func (AttributeBacking) isBacking() {}
func (ItemBacking) isBacking()      {}

// Currency is one denomination in a catalog.
type Currency struct {
	ID           string  // Unique within a catalog
	Name         string
	Abbreviation string  // Template containing "{#}", e.g. "{#}GP"
	ExchangeRate float64 // Value of one unit in the catalog's common base unit
	Primary      bool
	Backing      Backing
}

// currencyJSON is the wire/storage form. The backing variant is flattened into
// a "type" tag plus a shape-per-branch "data" object, matching the document
// format the host persists.
type currencyJSON struct {
	ID           string          `json:"id"`
	Name         string          `json:"name"`
	Abbreviation string          `json:"abbreviation"`
	ExchangeRate float64         `json:"exchangeRate"`
	Primary      bool            `json:"primary"`
	Type         string          `json:"type"`
	Data         json.RawMessage `json:"data"`
}

// MarshalBacking flattens a backing into a "type" tag plus a shape-per-branch
// data object, the document format the host persists.
func MarshalBacking(b Backing) (tag string, data json.RawMessage, err error) {
	switch v := b.(type) {
	case AttributeBacking:
		data, err = json.Marshal(v)
		return "attribute", data, err
	case ItemBacking:
		data, err = json.Marshal(struct {
			Item ItemBacking `json:"item"`
		}{v})
		return "item", data, err
	default:
		return "", nil, fmt.Errorf("unknown backing %T", b)
	}
}

// UnmarshalBacking reads a {type, data} pair back into the tagged union.
func UnmarshalBacking(tag string, data json.RawMessage) (Backing, error) {
	switch tag {
	case "attribute":
		var b AttributeBacking
		if err := json.Unmarshal(data, &b); err != nil {
			return nil, err
		}
		return b, nil
	case "item":
		var wrapper struct {
			Item ItemBacking `json:"item"`
		}
		if err := json.Unmarshal(data, &wrapper); err != nil {
			return nil, err
		}
		return wrapper.Item, nil
	default:
		return nil, fmt.Errorf("unknown backing type %q", tag)
	}
}

// MarshalJSON writes the tagged-union backing as {type, data}.
func (c Currency) MarshalJSON() ([]byte, error) {
	tag, data, err := MarshalBacking(c.Backing)
	if err != nil {
		return nil, fmt.Errorf("currency %q: %w", c.ID, err)
	}
	return json.Marshal(currencyJSON{
		ID:           c.ID,
		Name:         c.Name,
		Abbreviation: c.Abbreviation,
		ExchangeRate: c.ExchangeRate,
		Primary:      c.Primary,
		Type:         tag,
		Data:         data,
	})
}

// UnmarshalJSON reads the {type, data} form back into the tagged union.
func (c *Currency) UnmarshalJSON(raw []byte) error {
	var in currencyJSON
	if err := json.Unmarshal(raw, &in); err != nil {
		return err
	}
	backing, err := UnmarshalBacking(in.Type, in.Data)
	if err != nil {
		return fmt.Errorf("currency %q: %w", in.ID, err)
	}
	c.ID = in.ID
	c.Name = in.Name
	c.Abbreviation = in.Abbreviation
	c.ExchangeRate = in.ExchangeRate
	c.Primary = in.Primary
	c.Backing = backing
	return nil
}

// FormatAmount renders an amount through the currency's abbreviation template.
func (c Currency) FormatAmount(amount float64) string {
	return strings.ReplaceAll(c.Abbreviation, "{#}", strconv.FormatFloat(amount, 'f', -1, 64))
}

// Catalog construction errors. These fail fast at resolution time so the
// pricing and settlement code never has to re-validate.
var (
	ErrEmptyCatalog    = errors.New("currency catalog is empty")
	ErrNoPrimary       = errors.New("currency catalog has no primary currency")
	ErrMultiplePrimary = errors.New("currency catalog has more than one primary currency")
	ErrNonPositiveRate = errors.New("currency exchange rate must be positive")
	ErrDuplicateID     = errors.New("duplicate currency id in catalog")
	ErrMissingBacking  = errors.New("currency has no backing")
)

// Catalog is an ordered, validated set of currencies with exactly one primary.
type Catalog struct {
	entries  []Currency
	byID     map[string]int
	primary  int
	smallest float64
	decimals int
}

// NewCatalog validates the entries and derives the smallest exchange rate and
// the decimal precision all downstream arithmetic rounds to.
func NewCatalog(entries []Currency) (*Catalog, error) {
	if len(entries) == 0 {
		return nil, ErrEmptyCatalog
	}

	cat := &Catalog{
		entries: make([]Currency, len(entries)),
		byID:    make(map[string]int, len(entries)),
		primary: -1,
	}
	copy(cat.entries, entries)

	for i, c := range cat.entries {
		if c.ExchangeRate <= 0 {
			return nil, fmt.Errorf("%w: %q has rate %v", ErrNonPositiveRate, c.ID, c.ExchangeRate)
		}
		if c.Backing == nil {
			return nil, fmt.Errorf("%w: %q", ErrMissingBacking, c.ID)
		}
		if _, dup := cat.byID[c.ID]; dup {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateID, c.ID)
		}
		cat.byID[c.ID] = i
		if c.Primary {
			if cat.primary >= 0 {
				return nil, ErrMultiplePrimary
			}
			cat.primary = i
		}
	}
	if cat.primary < 0 {
		return nil, ErrNoPrimary
	}

	cat.smallest = smallestExchangeRate(cat.entries)
	cat.decimals = exchangeRateDecimals(cat.smallest)

	return cat, nil
}

// Resolve applies a per-actor currency override if one is present, otherwise
// falls back to the given default list.
func Resolve(defaults, override []Currency) (*Catalog, error) {
	if len(override) > 0 {
		return NewCatalog(override)
	}
	return NewCatalog(defaults)
}

// Entries returns the catalog's currencies in configured order.
func (cat *Catalog) Entries() []Currency {
	return cat.entries
}

// Len returns the number of currencies in the catalog.
func (cat *Catalog) Len() int {
	return len(cat.entries)
}

// Primary returns the catalog's primary currency.
func (cat *Catalog) Primary() Currency {
	return cat.entries[cat.primary]
}

// ByID looks up a currency by id.
func (cat *Catalog) ByID(id string) (Currency, bool) {
	i, ok := cat.byID[id]
	if !ok {
		return Currency{}, false
	}
	return cat.entries[i], true
}

// SmallestExchangeRate returns the minimum exchange rate in the catalog, or
// DefaultSmallestRate for single-currency catalogs.
func (cat *Catalog) SmallestExchangeRate() float64 {
	return cat.smallest
}

// DecimalPrecision is the number of fractional digits in the smallest
// exchange rate. All currency math rounds to this precision.
func (cat *Catalog) DecimalPrecision() int {
	return cat.decimals
}

// Round rounds a value to the catalog's decimal precision.
func (cat *Catalog) Round(v float64) float64 {
	return RoundToDecimals(v, cat.decimals)
}

func smallestExchangeRate(entries []Currency) float64 {
	if len(entries) < 2 {
		return DefaultSmallestRate
	}
	smallest := entries[0].ExchangeRate
	for _, c := range entries[1:] {
		if c.ExchangeRate < smallest {
			smallest = c.ExchangeRate
		}
	}
	return smallest
}

func exchangeRateDecimals(rate float64) int {
	s := strconv.FormatFloat(rate, 'f', -1, 64)
	if i := strings.IndexByte(s, '.'); i >= 0 {
		return len(s) - i - 1
	}
	return 0
}
