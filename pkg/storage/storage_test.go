package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shelfwatch/shelfwatch/pkg/retail"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "history.sqlite"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

var checkTime = time.Date(2025, 6, 15, 10, 30, 0, 0, time.UTC)

func TestUpsertStoreCheckAccumulates(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	store := retail.Store{ID: "1423", Retailer: "bestbuy", Name: "Bellevue", City: "Bellevue", State: "WA"}

	if err := db.UpsertStoreCheck(ctx, store, false, checkTime); err != nil {
		t.Fatal(err)
	}
	if err := db.UpsertStoreCheck(ctx, store, true, checkTime.Add(time.Hour)); err != nil {
		t.Fatal(err)
	}

	stats, err := db.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(stats) != 1 {
		t.Fatalf("expected one retailer, got %d", len(stats))
	}
	if stats[0].Retailer != "bestbuy" || stats[0].StoreCount != 1 {
		t.Fatalf("unexpected stats: %+v", stats[0])
	}
}

func TestRecordAndRecentFinds(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	store := retail.Store{ID: "1077", Retailer: "target", Name: "Seattle West"}

	for i := 0; i < 3; i++ {
		rec := FindRecord{
			FoundAt: checkTime.Add(time.Duration(i) * time.Hour),
			Product: retail.ProductMatch{
				Name:         "Pokemon Booster Bundle",
				SKU:          "89542505",
				Price:        "$26.99",
				Availability: "Available for pickup today",
				URL:          "https://www.target.com/p/-/A-89542505",
			},
			Store: store,
		}
		if err := db.RecordFind(ctx, rec); err != nil {
			t.Fatal(err)
		}
	}

	finds, err := db.RecentFinds(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(finds) != 2 {
		t.Fatalf("expected limit respected, got %d", len(finds))
	}
	if finds[0].FoundAt.Before(finds[1].FoundAt) {
		t.Fatalf("finds must be newest first: %v, %v", finds[0].FoundAt, finds[1].FoundAt)
	}
	got := finds[0]
	if got.Product.SKU != "89542505" || got.Product.Price != "$26.99" || got.Store.Retailer != "target" {
		t.Fatalf("find round trip lost data: %+v", got)
	}
}

func TestRecentFindsEmptyDatabase(t *testing.T) {
	db := testDB(t)
	finds, err := db.RecentFinds(context.Background(), 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(finds) != 0 {
		t.Fatalf("expected no finds, got %d", len(finds))
	}
}

func TestStatsCountsFindsPerRetailer(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	bb := retail.Store{ID: "1", Retailer: "bestbuy"}
	tg := retail.Store{ID: "2", Retailer: "target"}
	if err := db.UpsertStoreCheck(ctx, bb, true, checkTime); err != nil {
		t.Fatal(err)
	}
	if err := db.UpsertStoreCheck(ctx, tg, false, checkTime); err != nil {
		t.Fatal(err)
	}
	if err := db.RecordFind(ctx, FindRecord{FoundAt: checkTime, Store: bb,
		Product: retail.ProductMatch{Name: "Pokemon Tin", Availability: "In stock"}}); err != nil {
		t.Fatal(err)
	}

	stats, err := db.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(stats) != 2 {
		t.Fatalf("expected stats for both retailers, got %d", len(stats))
	}
	// Ordered by retailer name.
	if stats[0].Retailer != "bestbuy" || stats[0].FindCount != 1 {
		t.Fatalf("unexpected bestbuy stats: %+v", stats[0])
	}
	if stats[1].Retailer != "target" || stats[1].FindCount != 0 {
		t.Fatalf("unexpected target stats: %+v", stats[1])
	}
}
