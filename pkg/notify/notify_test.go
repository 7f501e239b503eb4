package notify

import (
	"context"
	"strings"
	"testing"

	"github.com/shelfwatch/shelfwatch/pkg/retail"
)

func stockedResult() retail.StockResult {
	return retail.StockResult{
		Store: retail.Store{Retailer: "bestbuy", Name: "Bellevue", City: "Bellevue", State: "WA"},
		Products: []retail.ProductMatch{
			{Name: "Pokemon Booster Bundle", Price: "$26.99", Availability: "Available for pickup today",
				URL: "https://www.bestbuy.com/site/booster/111.p"},
			{Name: "Pokemon Plush", Availability: "Out of stock"},
		},
		HasStock: true,
	}
}

func TestRenderAlertIncludesOnlyAvailableProducts(t *testing.T) {
	out := renderAlert(stockedResult())
	if !strings.Contains(out, "BESTBUY - Bellevue (Bellevue, WA)") {
		t.Fatalf("store line missing:\n%s", out)
	}
	if !strings.Contains(out, "Pokemon Booster Bundle $26.99 [Available for pickup today]") {
		t.Fatalf("product line missing:\n%s", out)
	}
	if !strings.Contains(out, "https://www.bestbuy.com/site/booster/111.p") {
		t.Fatalf("product URL missing:\n%s", out)
	}
	if strings.Contains(out, "Pokemon Plush") {
		t.Fatalf("out-of-stock products must not appear in alerts:\n%s", out)
	}
}

func TestForConfig(t *testing.T) {
	ns := ForConfig(true, true, false)
	if len(ns) != 2 {
		t.Fatalf("expected 2 notifiers, got %d", len(ns))
	}
	if ns[0].Name() != "console" || ns[1].Name() != "email" {
		t.Fatalf("unexpected notifier set: %v, %v", ns[0].Name(), ns[1].Name())
	}
	if ns := ForConfig(false, false, false); len(ns) != 0 {
		t.Fatalf("expected no notifiers, got %d", len(ns))
	}
}

func TestStubChannelsNeverError(t *testing.T) {
	results := []retail.StockResult{stockedResult()}
	if err := (Email{}).Notify(context.Background(), results); err != nil {
		t.Fatalf("email stub must not error: %v", err)
	}
	if err := (Webhook{}).Notify(context.Background(), results); err != nil {
		t.Fatalf("webhook stub must not error: %v", err)
	}
}

func TestBroadcastSkipsWhenNothingStocked(t *testing.T) {
	called := false
	n := funcNotifier(func() { called = true })
	Broadcast(context.Background(), []Notifier{n}, []retail.StockResult{
		{Store: retail.Store{Retailer: "target"}, HasStock: false},
	})
	if called {
		t.Fatal("broadcast must be skipped when nothing has stock")
	}
}

type funcNotifier func()

func (f funcNotifier) Name() string { return "func" }

func (f funcNotifier) Notify(ctx context.Context, results []retail.StockResult) error {
	f()
	return nil
}
