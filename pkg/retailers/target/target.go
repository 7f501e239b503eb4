// Package target monitors Target store inventory through the redsky API
// surface, with an HTML scrape fallback.
package target

import (
	"context"
	"fmt"
	"net/url"

	"github.com/shelfwatch/shelfwatch/internal/utils"
	"github.com/shelfwatch/shelfwatch/pkg/parse"
	"github.com/shelfwatch/shelfwatch/pkg/retail"
	"github.com/shelfwatch/shelfwatch/pkg/retailers"
	"github.com/shelfwatch/shelfwatch/pkg/session"
	"github.com/tidwall/gjson"
)

const productBaseURL = "https://www.target.com"

// Monitor implements retailers.Retailer for Target.
type Monitor struct {
	mgr      *session.Manager
	clock    session.Clock
	keywords []string

	storeEndpoints  []string
	searchEndpoints []string
	scrapeEndpoints []string
}

// New builds a Target monitor.
func New(mgr *session.Manager, keywords []string) *Monitor {
	return &Monitor{
		mgr:      mgr,
		clock:    session.SystemClock(),
		keywords: keywords,
		storeEndpoints: []string{
			"https://redsky.target.com/redsky_aggregations/v1/web/nearby_stores_v1?place=%s&within=%d&limit=20",
			"https://www.target.com/store-locator/api/store_locations?zip=%s&radius=%d",
			"https://www.target.com/store-locator/find-stores/%s?radius=%d",
		},
		searchEndpoints: []string{
			"https://redsky.target.com/redsky_aggregations/v1/web/plp_search_v2?keyword=%s&store_id=%s&pricing_store_id=%s",
			"https://redsky.target.com/redsky_aggregations/v1/web/plp_search_v1?keyword=%s&store_id=%s&pricing_store_id=%s",
		},
		scrapeEndpoints: []string{
			"https://www.target.com/s?searchTerm=%s&storeId=%s",
		},
	}
}

// WithClock swaps the clock, for tests.
func (m *Monitor) WithClock(c session.Clock) *Monitor { m.clock = c; return m }

// SetStoreEndpoints overrides the store-locator candidates, for tests.
func (m *Monitor) SetStoreEndpoints(urls ...string) { m.storeEndpoints = urls }

// SetSearchEndpoints overrides the product-search candidates, for tests.
func (m *Monitor) SetSearchEndpoints(api []string, scrape []string) {
	m.searchEndpoints = api
	m.scrapeEndpoints = scrape
}

func (m *Monitor) Name() string { return "target" }

var storeChain = parse.Chain(
	parse.Array(),
	parse.Nested("data.nearby_stores.stores", "stores", "locations"),
	parse.Embedded(parse.Chain(
		parse.Array(),
		parse.Nested("stores", "__PRELOADED_QUERIES__.stores"),
	)),
)

var productChain = parse.Chain(
	parse.Nested("data.search.products", "data.search.search_response.items", "products", "items"),
	parse.Array(),
)

var scrapeChain = parse.Embedded(parse.Chain(
	parse.Array(),
	parse.Nested("data.search.products", "products", "items"),
))

// FindStores discovers stores near a ZIP, degrading to an empty list on any
// candidate or parse failure.
func (m *Monitor) FindStores(ctx context.Context, zip string, radiusMiles int) ([]retail.Store, error) {
	urls := make([]string, 0, len(m.storeEndpoints))
	for _, tmpl := range m.storeEndpoints {
		urls = append(urls, fmt.Sprintf(tmpl, url.QueryEscape(zip), radiusMiles))
	}
	body := retailers.ProbeCandidates(ctx, m.mgr, m.Name(), urls)
	if body == nil {
		utils.Log.Errorf("target: all store locator candidates failed for zip %s", zip)
		return []retail.Store{}, nil
	}
	records, ok := storeChain(body)
	if !ok {
		utils.Log.Errorf("target: store locator returned an unrecognizable payload for zip %s", zip)
		return []retail.Store{}, nil
	}
	stores := make([]retail.Store, 0, len(records))
	for _, r := range records {
		s := m.mapStore(r)
		if s.ID == "" {
			continue
		}
		stores = append(stores, s)
	}
	utils.Log.Infof("target: found %d stores near %s", len(stores), zip)
	return stores, nil
}

func (m *Monitor) mapStore(r gjson.Result) retail.Store {
	return retail.Store{
		ID:            retail.FirstString(r, "location_id", "store_id", "locationId", "id"),
		Retailer:      m.Name(),
		Name:          retail.FirstString(r, "location_name", "store_name", "name", "location_names.0.name"),
		Address:       retail.FirstString(r, "mailing_address.address_line1", "address.address_line1", "address1", "address"),
		City:          retail.FirstString(r, "mailing_address.city", "address.city", "city"),
		State:         retail.FirstString(r, "mailing_address.region", "address.region", "state"),
		Zip:           retail.FirstString(r, "mailing_address.postal_code", "address.postal_code", "zip"),
		Phone:         retail.FirstString(r, "main_voice_phone_number", "phone"),
		Hours:         retail.FirstString(r, "rolling_operating_hours.main_hours.days.0.hours.0.begin_time", "hours"),
		DistanceMiles: retail.FirstFloat(r, "distance", "distance_miles", "distanceInMiles"),
	}
}

// CheckStore searches every term at one store and normalizes the results.
func (m *Monitor) CheckStore(ctx context.Context, store retail.Store, terms []string) (retail.StockResult, error) {
	var products []retail.ProductMatch
	for _, term := range terms {
		for _, r := range m.searchProducts(ctx, store, term) {
			name := retail.FirstString(r, "item.product_description.title", "title", "name")
			if name == "" || !retail.MatchesFamily(name, m.keywords) {
				continue
			}
			products = append(products, retail.ProductMatch{
				Name:         name,
				Price:        m.price(r),
				Availability: classify(r),
				URL:          m.productURL(r),
				SKU:          retail.FirstString(r, "tcin", "item.tcin", "sku"),
			})
		}
	}
	products = retail.DedupeBySKU(products)
	return retail.StockResult{
		Store:       store,
		Products:    products,
		HasStock:    retail.DeriveHasStock(products),
		LastChecked: m.clock.Now(),
	}, nil
}

func (m *Monitor) searchProducts(ctx context.Context, store retail.Store, term string) []gjson.Result {
	urls := make([]string, 0, len(m.searchEndpoints))
	for _, tmpl := range m.searchEndpoints {
		urls = append(urls, fmt.Sprintf(tmpl, url.QueryEscape(term), url.QueryEscape(store.ID), url.QueryEscape(store.ID)))
	}
	if body := retailers.ProbeCandidates(ctx, m.mgr, m.Name(), urls); body != nil {
		if records, ok := productChain(body); ok {
			return records
		}
		utils.Log.Warnf("target: structured search payload unrecognizable for %q, trying scrape fallback", term)
	}

	scrapeURLs := make([]string, 0, len(m.scrapeEndpoints))
	for _, tmpl := range m.scrapeEndpoints {
		scrapeURLs = append(scrapeURLs, fmt.Sprintf(tmpl, url.QueryEscape(term), url.QueryEscape(store.ID)))
	}
	if body := retailers.ProbeCandidates(ctx, m.mgr, m.Name(), scrapeURLs); body != nil {
		if records, ok := scrapeChain(body); ok {
			return records
		}
	}
	utils.Log.Errorf("target: no product data for %q at store %s", term, store.ID)
	return nil
}

func (m *Monitor) price(r gjson.Result) string {
	if v := retail.FirstString(r, "price.formatted_current_price", "price.display"); v != "" {
		return v
	}
	if v := r.Get("price.current_retail"); v.Exists() {
		return fmt.Sprintf("$%.2f", v.Float())
	}
	return ""
}

func (m *Monitor) productURL(r gjson.Result) string {
	u := retail.FirstString(r, "item.enrichment.buy_url", "url")
	if u != "" && u[0] == '/' {
		return productBaseURL + u
	}
	return u
}

// classify walks the fulfillment options in priority order: in-store pickup,
// limited pickup, ship-to-store, shipping, then out of stock.
func classify(r gjson.Result) string {
	switch {
	case r.Get("fulfillment.store_pick_up.availability_status").Str == "AVAILABLE":
		return "Available for pickup today"
	case r.Get("fulfillment.store_pick_up.availability_status").Str == "LIMITED":
		return "Limited pickup stock"
	case r.Get("fulfillment.ship_to_store.availability_status").Str == "AVAILABLE":
		return "Available for ship to store"
	case r.Get("fulfillment.shipping_options.availability_status").Str == "AVAILABLE",
		r.Get("fulfillment.shipping.availability_status").Str == "AVAILABLE":
		return "Available for shipping"
	}
	return "Out of stock"
}
