package retail

import (
	"sort"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// Store is a single physical store location returned by a retailer's locator.
// It is re-fetched on every discovery cycle and never diffed against a prior
// sighting beyond the persisted check counters.
type Store struct {
	ID            string  `json:"id"`
	Retailer      string  `json:"retailer"`
	Name          string  `json:"name"`
	Address       string  `json:"address,omitempty"`
	City          string  `json:"city,omitempty"`
	State         string  `json:"state,omitempty"`
	Zip           string  `json:"zip,omitempty"`
	Phone         string  `json:"phone,omitempty"`
	Hours         string  `json:"hours,omitempty"`
	DistanceMiles float64 `json:"distanceMiles"`
}

// Key returns the persistence key for this store.
func (s Store) Key() string {
	return s.Retailer + ":" + s.ID
}

// ProductMatch is a single product extracted from a store inventory check.
type ProductMatch struct {
	Name         string `json:"name"`
	Price        string `json:"price,omitempty"`
	Availability string `json:"availability"`
	URL          string `json:"url,omitempty"`
	SKU          string `json:"sku,omitempty"`
}

// StockResult is the outcome of checking one store for one set of search terms.
type StockResult struct {
	Store       Store          `json:"store"`
	Products    []ProductMatch `json:"products"`
	HasStock    bool           `json:"hasStock"`
	LastChecked time.Time      `json:"lastChecked"`
}

// availabilityMarkers are the substrings that classify an availability string
// as purchasable right now.
var availabilityMarkers = []string{"available", "in stock", "pickup"}

// IsAvailable reports whether an availability string indicates stock.
func IsAvailable(availability string) bool {
	lower := strings.ToLower(availability)
	for _, marker := range availabilityMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// DeriveHasStock reports whether any product in the list is available.
func DeriveHasStock(products []ProductMatch) bool {
	for _, p := range products {
		if IsAvailable(p.Availability) {
			return true
		}
	}
	return false
}

// DedupeBySKU removes products whose SKU duplicates an earlier item's SKU,
// keeping the first occurrence. Products without a SKU are always kept.
func DedupeBySKU(products []ProductMatch) []ProductMatch {
	seen := make(map[string]bool, len(products))
	out := make([]ProductMatch, 0, len(products))
	for _, p := range products {
		if p.SKU != "" {
			if seen[p.SKU] {
				continue
			}
			seen[p.SKU] = true
		}
		out = append(out, p)
	}
	return out
}

// DefaultKeywords is the product family matched when the config supplies none.
var DefaultKeywords = []string{"pokemon", "pokémon", "elite trainer", "booster"}

// MatchesFamily reports whether a product name belongs to the monitored
// product family (case-insensitive substring match).
func MatchesFamily(name string, keywords []string) bool {
	if len(keywords) == 0 {
		keywords = DefaultKeywords
	}
	lower := strings.ToLower(name)
	for _, kw := range keywords {
		if strings.Contains(lower, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}

// SortStoresByDistance orders stores ascending by distance. A missing
// distance is zero and therefore sorts first; upstreams that omit it rank
// above genuinely close stores. Kept as-is on purpose.
func SortStoresByDistance(stores []Store) {
	sort.SliceStable(stores, func(i, j int) bool {
		return stores[i].DistanceMiles < stores[j].DistanceMiles
	})
}

// FirstString returns the first non-empty string among the given keys of a
// raw upstream record. Retailers disagree on field names, so each mapping
// supplies its alias list in priority order.
func FirstString(r gjson.Result, keys ...string) string {
	for _, k := range keys {
		if v := r.Get(k); v.Exists() && v.Type != gjson.Null {
			if s := v.String(); s != "" {
				return s
			}
		}
	}
	return ""
}

// FirstFloat returns the first numeric value among the given keys, or 0.
func FirstFloat(r gjson.Result, keys ...string) float64 {
	for _, k := range keys {
		if v := r.Get(k); v.Exists() {
			if f := v.Float(); f != 0 {
				return f
			}
		}
	}
	return 0
}
