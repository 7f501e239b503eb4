// Package bestbuy monitors Best Buy store inventory.
package bestbuy

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

const productBaseURL = "https://www.bestbuy.com"

// Monitor implements retailers.Retailer for Best Buy.
type Monitor struct {
	mgr      *session.Manager
	clock    session.Clock
	keywords []string

	// Ordered candidate endpoint templates. The store-locator API moves
	// around; each is tried until one answers with usable data.
	storeEndpoints  []string
	searchEndpoints []string
	scrapeEndpoints []string
}

// New builds a Best Buy monitor.
func New(mgr *session.Manager, keywords []string) *Monitor {
	return &Monitor{
		mgr:      mgr,
		clock:    session.SystemClock(),
		keywords: keywords,
		storeEndpoints: []string{
			"https://www.bestbuy.com/location/api/v1/stores?zipCode=%s&radius=%d",
			"https://www.bestbuy.com/site/store-locator/api/stores?zip=%s&radius=%d",
			"https://stores.bestbuy.com/search?q=%s&r=%d",
		},
		searchEndpoints: []string{
			"https://www.bestbuy.com/api/v1/search?st=%s&storeId=%s&pageSize=24",
			"https://www.bestbuy.com/location/api/v1/products/search?query=%s&storeId=%s",
		},
		scrapeEndpoints: []string{
			"https://www.bestbuy.com/site/searchpage.jsp?st=%s&sid=%s&intl=nosplash",
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

func (m *Monitor) Name() string { return "bestbuy" }

var storeChain = parse.Chain(
	parse.Array(),
	parse.Nested("stores", "response.stores", "data.stores", "locations"),
	parse.Embedded(parse.Chain(
		parse.Array(),
		parse.Nested("stores", "props.pageProps.stores"),
	)),
)

var productChain = parse.Chain(
	parse.Nested("products", "response.products", "data.products", "items"),
	parse.Array(),
)

var scrapeChain = parse.Embedded(parse.Chain(
	parse.Array(),
	parse.Nested("products", "props.pageProps.searchResults.products", "searchState.products"),
))

// FindStores discovers stores near a ZIP. Candidate or parse failure
// degrades to an empty list, logged, never an error crossing to the caller.
func (m *Monitor) FindStores(ctx context.Context, zip string, radiusMiles int) ([]retail.Store, error) {
	urls := make([]string, 0, len(m.storeEndpoints))
	for _, tmpl := range m.storeEndpoints {
		urls = append(urls, fmt.Sprintf(tmpl, url.QueryEscape(zip), radiusMiles))
	}
	body := retailers.ProbeCandidates(ctx, m.mgr, m.Name(), urls)
	if body == nil {
		utils.Log.Errorf("bestbuy: all store locator candidates failed for zip %s", zip)
		return []retail.Store{}, nil
	}
	records, ok := storeChain(body)
	if !ok {
		utils.Log.Errorf("bestbuy: store locator returned an unrecognizable payload for zip %s", zip)
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
	utils.Log.Infof("bestbuy: found %d stores near %s", len(stores), zip)
	return stores, nil
}

func (m *Monitor) mapStore(r gjson.Result) retail.Store {
	return retail.Store{
		ID:            retail.FirstString(r, "storeNumber", "storeId", "id"),
		Retailer:      m.Name(),
		Name:          retail.FirstString(r, "name", "longName", "storeName"),
		Address:       retail.FirstString(r, "address", "address1", "street"),
		City:          retail.FirstString(r, "city"),
		State:         retail.FirstString(r, "state", "region"),
		Zip:           retail.FirstString(r, "postalCode", "zipCode", "zip"),
		Phone:         retail.FirstString(r, "phone", "phoneNumber"),
		Hours:         retail.FirstString(r, "hoursSummary", "hours"),
		DistanceMiles: retail.FirstFloat(r, "distanceInMiles", "distance"),
	}
}

// CheckStore searches every term at one store, keeps products in the
// monitored family, classifies availability, and dedupes by SKU.
func (m *Monitor) CheckStore(ctx context.Context, store retail.Store, terms []string) (retail.StockResult, error) {
	var products []retail.ProductMatch
	for _, term := range terms {
		for _, r := range m.searchProducts(ctx, store, term) {
			name := retail.FirstString(r, "name", "title", "productName")
			if name == "" || !retail.MatchesFamily(name, m.keywords) {
				continue
			}
			products = append(products, retail.ProductMatch{
				Name:         name,
				Price:        m.price(r),
				Availability: classify(r),
				URL:          m.productURL(r),
				SKU:          retail.FirstString(r, "sku", "skuId", "id"),
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

// searchProducts probes the structured API candidates first and falls back
// to scraping the search-results page when they yield nothing.
func (m *Monitor) searchProducts(ctx context.Context, store retail.Store, term string) []gjson.Result {
	urls := make([]string, 0, len(m.searchEndpoints))
	for _, tmpl := range m.searchEndpoints {
		urls = append(urls, fmt.Sprintf(tmpl, url.QueryEscape(term), url.QueryEscape(store.ID)))
	}
	if body := retailers.ProbeCandidates(ctx, m.mgr, m.Name(), urls); body != nil {
		if records, ok := productChain(body); ok {
			return records
		}
		utils.Log.Warnf("bestbuy: structured search payload unrecognizable for %q, trying scrape fallback", term)
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
	utils.Log.Errorf("bestbuy: no product data for %q at store %s", term, store.ID)
	return nil
}

func (m *Monitor) price(r gjson.Result) string {
	if v := r.Get("priceBlock.regularPrice"); v.Exists() {
		return fmt.Sprintf("$%.2f", v.Float())
	}
	if v := r.Get("regularPrice"); v.Exists() && v.Type == gjson.Number {
		return fmt.Sprintf("$%.2f", v.Float())
	}
	return retail.FirstString(r, "price", "salePrice")
}

func (m *Monitor) productURL(r gjson.Result) string {
	u := retail.FirstString(r, "url", "productUrl", "links.web")
	if u != "" && u[0] == '/' {
		return productBaseURL + u
	}
	return u
}

// classify inspects fulfillment fields in priority order; the first match
// wins. Everything else is out of stock.
func classify(r gjson.Result) string {
	switch {
	case r.Get("fulfillment.inStorePickup.availabilityStatus").Str == "AVAILABLE",
		r.Get("inStoreAvailability.availablePickupToday").Bool():
		return "Available for pickup today"
	case r.Get("fulfillment.inStorePickup.availabilityStatus").Str == "LIMITED":
		return "Limited pickup stock"
	case r.Get("fulfillment.shipToStore.availabilityStatus").Str == "AVAILABLE":
		return "Available for ship to store"
	case r.Get("fulfillment.shipping.availabilityStatus").Str == "AVAILABLE",
		r.Get("onlineAvailability").Bool():
		return "Available for shipping"
	}
	return "Out of stock"
}
