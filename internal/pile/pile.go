// Package pile implements item-pile semantics on top of actor snapshots:
// validity, container state, emptiness, deletion policy, and item filtering.
package pile

import (
	"strings"

	"github.com/arkenvault/pileworks/internal/actor"
	"github.com/arkenvault/pileworks/internal/currency"
)

// Settings are the global defaults a pile defers to when its own flags say
// "default".
type Settings struct {
	DeleteEmptyPiles bool
	ItemFilters      []actor.ItemFilter
	Currencies       []currency.Currency
}

// IsValid reports whether the actor is an enabled item pile.
func IsValid(a *actor.Actor) bool {
	return a != nil && a.Flags.Enabled
}

// IsContainer reports whether the pile is a container.
func IsContainer(a *actor.Actor) bool {
	return IsValid(a) && a.Flags.IsContainer
}

// IsMerchant reports whether the pile is a merchant.
func IsMerchant(a *actor.Actor) bool {
	return IsValid(a) && a.Flags.IsMerchant
}

// IsClosed reports whether a container pile is closed. Non-containers are
// never closed.
func IsClosed(a *actor.Actor) bool {
	return IsContainer(a) && a.Flags.Closed
}

// IsLocked reports whether a container pile is locked.
func IsLocked(a *actor.Actor) bool {
	return IsContainer(a) && a.Flags.Locked
}

// IsEmpty reports whether a valid pile holds no lootable items and no
// nonzero currency.
func IsEmpty(a *actor.Actor, settings Settings) bool {
	if !IsValid(a) {
		return false
	}
	cat, err := actor.CatalogFor(a, settings.Currencies)
	if err != nil {
		return false
	}
	if len(actor.Currencies(a, cat, false)) > 0 {
		return false
	}
	return len(Items(a, cat, settings)) == 0
}

// ShouldBeDeleted resolves the pile's delete-when-empty policy against the
// global setting.
func ShouldBeDeleted(a *actor.Actor, settings Settings) bool {
	if !IsEmpty(a, settings) {
		return false
	}
	switch a.Flags.DeleteWhenEmpty {
	case "true":
		return true
	case "false":
		return false
	default:
		return settings.DeleteEmptyPiles
	}
}

// Items returns the pile's lootable items: inventory minus currency backing
// and minus anything excluded by the active item filters.
func Items(a *actor.Actor, cat *currency.Catalog, settings Settings) []actor.Item {
	filters := Filters(a, settings)
	var out []actor.Item
	for _, it := range a.Items {
		if IsItemCurrency(it, cat) {
			continue
		}
		if InvalidItemType(it, filters) != "" {
			continue
		}
		out = append(out, it)
	}
	return out
}

// Filters returns the pile's item filters, honoring a per-pile override.
func Filters(a *actor.Actor, settings Settings) []actor.ItemFilter {
	if a != nil && IsValid(a) && len(a.Flags.OverrideItemFilters) > 0 {
		return CleanFilters(a.Flags.OverrideItemFilters)
	}
	return CleanFilters(settings.ItemFilters)
}

// CleanFilters trims paths and splits comma-separated filter values.
func CleanFilters(filters []actor.ItemFilter) []actor.ItemFilter {
	out := make([]actor.ItemFilter, 0, len(filters))
	for _, f := range filters {
		clean := actor.ItemFilter{Path: strings.TrimSpace(f.Path)}
		for _, v := range f.Filters {
			for _, part := range strings.Split(v, ",") {
				if part = strings.TrimSpace(part); part != "" {
					clean.Filters = append(clean.Filters, part)
				}
			}
		}
		out = append(out, clean)
	}
	return out
}

// InvalidItemType returns the matched disallowed value if the item is
// excluded by a filter, or "" if the item is allowed.
func InvalidItemType(it actor.Item, filters []actor.ItemFilter) string {
	for _, f := range filters {
		value := itemField(it, f.Path)
		if value == "" {
			continue
		}
		for _, disallowed := range f.Filters {
			if value == disallowed {
				return value
			}
		}
	}
	return ""
}

// IsItemCurrency reports whether an inventory item backs one of the
// catalog's item-type currencies.
func IsItemCurrency(it actor.Item, cat *currency.Catalog) bool {
	for _, c := range cat.Entries() {
		b, ok := c.Backing.(currency.ItemBacking)
		if !ok {
			continue
		}
		if actor.SimilarItem([]actor.Item{it}, b) != nil {
			return true
		}
	}
	return false
}

func itemField(it actor.Item, path string) string {
	switch path {
	case "type":
		return it.Type
	case "name":
		return it.Name
	case "img":
		return it.Img
	default:
		return ""
	}
}
