package target

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shelfwatch/shelfwatch/pkg/retail"
	"github.com/shelfwatch/shelfwatch/pkg/session"
	"github.com/tidwall/gjson"
)

type fakeClock struct{ now time.Time }

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time        { return c.now }
func (c *fakeClock) Sleep(d time.Duration) { c.now = c.now.Add(d) }

func testManager() *session.Manager {
	return session.NewManager(session.Config{
		Clock:   newFakeClock(),
		Backoff: func(min, max time.Duration, attemptNum int, resp *http.Response) time.Duration { return 0 },
	})
}

func TestClassifyFulfillmentPriority(t *testing.T) {
	cases := []struct {
		name string
		body string
		want string
	}{
		{
			"pickup available",
			`{"fulfillment": {"store_pick_up": {"availability_status": "AVAILABLE"}}}`,
			"Available for pickup today",
		},
		{
			"pickup limited",
			`{"fulfillment": {"store_pick_up": {"availability_status": "LIMITED"}}}`,
			"Limited pickup stock",
		},
		{
			"ship to store",
			`{"fulfillment": {"store_pick_up": {"availability_status": "UNAVAILABLE"},
			                  "ship_to_store": {"availability_status": "AVAILABLE"}}}`,
			"Available for ship to store",
		},
		{
			"shipping only",
			`{"fulfillment": {"shipping_options": {"availability_status": "AVAILABLE"}}}`,
			"Available for shipping",
		},
		{
			"pickup beats shipping",
			`{"fulfillment": {"store_pick_up": {"availability_status": "AVAILABLE"},
			                  "shipping_options": {"availability_status": "AVAILABLE"}}}`,
			"Available for pickup today",
		},
		{
			"nothing available",
			`{"fulfillment": {"store_pick_up": {"availability_status": "UNAVAILABLE"}}}`,
			"Out of stock",
		},
		{
			"no fulfillment block",
			`{"tcin": "123"}`,
			"Out of stock",
		},
	}
	for _, c := range cases {
		if got := classify(gjson.Parse(c.body)); got != c.want {
			t.Errorf("%s: classify = %q, want %q", c.name, got, c.want)
		}
	}
}

func TestFindStoresNormalizesRedskyPayload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data": {"nearby_stores": {"stores": [
			{"location_id": 1077, "location_name": "Seattle West",
			 "mailing_address": {"address_line1": "2800 SW Barton St", "city": "Seattle",
			                     "region": "WA", "postal_code": "98126"},
			 "distance": 4.1},
			{"store_id": "2085", "store_name": "Renton", "distance": 8.9}
		]}}}`))
	}))
	defer srv.Close()

	m := New(testManager(), nil).WithClock(newFakeClock())
	m.SetStoreEndpoints(srv.URL + "/nearby?place=%s&within=%d")

	stores, err := m.FindStores(context.Background(), "98126", 25)
	if err != nil {
		t.Fatalf("store discovery must not error: %v", err)
	}
	if len(stores) != 2 {
		t.Fatalf("expected 2 stores, got %d", len(stores))
	}

	first := stores[0]
	if first.ID != "1077" || first.Name != "Seattle West" || first.City != "Seattle" ||
		first.State != "WA" || first.Zip != "98126" || first.DistanceMiles != 4.1 {
		t.Fatalf("redsky fields not mapped: %#v", first)
	}
	if first.Retailer != "target" {
		t.Fatalf("store must be tagged with the retailer, got %q", first.Retailer)
	}
	if stores[1].ID != "2085" || stores[1].Name != "Renton" {
		t.Fatalf("alias fields not mapped: %#v", stores[1])
	}
}

func TestCheckStoreDerivesStockFromFulfillment(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data": {"search": {"products": [
			{"tcin": "89542505",
			 "item": {"product_description": {"title": "Pokemon TCG: Prismatic Evolutions Booster Bundle"},
			          "enrichment": {"buy_url": "/p/pokemon-booster/-/A-89542505"}},
			 "price": {"formatted_current_price": "$26.99"},
			 "fulfillment": {"store_pick_up": {"availability_status": "AVAILABLE"}}},
			{"tcin": "12345678",
			 "item": {"product_description": {"title": "Monopoly Board Game"}},
			 "fulfillment": {"store_pick_up": {"availability_status": "AVAILABLE"}}}
		]}}}`))
	}))
	defer srv.Close()

	m := New(testManager(), nil).WithClock(newFakeClock())
	m.SetSearchEndpoints([]string{srv.URL + "/plp?keyword=%s&store_id=%s&pricing_store_id=%s"}, nil)

	res, err := m.CheckStore(context.Background(), retail.Store{ID: "1077", Retailer: "target"}, []string{"pokemon"})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Products) != 1 {
		t.Fatalf("expected the off-family product filtered out, got %#v", res.Products)
	}

	p := res.Products[0]
	if p.SKU != "89542505" {
		t.Fatalf("unexpected SKU: %q", p.SKU)
	}
	if p.Availability != "Available for pickup today" {
		t.Fatalf("unexpected classification: %q", p.Availability)
	}
	if p.Price != "$26.99" {
		t.Fatalf("unexpected price: %q", p.Price)
	}
	if p.URL != "https://www.target.com/p/pokemon-booster/-/A-89542505" {
		t.Fatalf("relative URL not absolutized: %q", p.URL)
	}
	if !res.HasStock {
		t.Fatal("available pickup must derive stock")
	}
}

func TestCheckStoreAllEndpointsDeadYieldsEmptyResult(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	m := New(testManager(), nil).WithClock(newFakeClock())
	m.SetSearchEndpoints([]string{srv.URL + "/plp?keyword=%s&store_id=%s&pricing_store_id=%s"}, nil)

	res, err := m.CheckStore(context.Background(), retail.Store{ID: "1077", Retailer: "target"}, []string{"pokemon"})
	if err != nil {
		t.Fatalf("dead endpoints must degrade, not error: %v", err)
	}
	if res.HasStock || len(res.Products) != 0 {
		t.Fatalf("expected an empty result, got %#v", res)
	}
}
