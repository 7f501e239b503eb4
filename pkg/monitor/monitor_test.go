package monitor

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/shelfwatch/shelfwatch/pkg/retail"
	"github.com/shelfwatch/shelfwatch/pkg/retailers"
	"github.com/shelfwatch/shelfwatch/pkg/tracker"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 15, 10, 30, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fakeRetailer struct {
	mu     sync.Mutex
	name   string
	stores []retail.Store
	checks int
	panics bool
}

func (f *fakeRetailer) Name() string { return f.name }

func (f *fakeRetailer) FindStores(ctx context.Context, zip string, radiusMiles int) ([]retail.Store, error) {
	return f.stores, nil
}

func (f *fakeRetailer) CheckStore(ctx context.Context, store retail.Store, terms []string) (retail.StockResult, error) {
	f.mu.Lock()
	f.checks++
	f.mu.Unlock()
	if f.panics {
		panic("upstream payload broke an assumption")
	}
	return retail.StockResult{
		Store:       store,
		Products:    []retail.ProductMatch{{Name: "Pokemon Booster", SKU: "1", Availability: "In stock"}},
		HasStock:    true,
		LastChecked: time.Date(2025, 6, 15, 10, 30, 0, 0, time.UTC),
	}, nil
}

func (f *fakeRetailer) checkCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.checks
}

func testMonitor(t *testing.T, rs ...retailers.Retailer) (*Monitor, *tracker.Tracker) {
	t.Helper()
	clock := newFakeClock()
	tr, err := tracker.New(t.TempDir(), tracker.WithClock(clock))
	if err != nil {
		t.Fatal(err)
	}
	cfg := Config{
		ZipCodes:      []string{"98052"},
		RadiusMiles:   25,
		CheckInterval: time.Hour,
	}
	m := New(cfg, rs, tr, nil,
		WithClock(clock),
		WithPacer(func() *retailers.Pacer {
			return retailers.NewPacer(clock, rand.New(rand.NewSource(1)))
		}),
	)
	return m, tr
}

func TestStartWhenRunningIsNoOp(t *testing.T) {
	r := &fakeRetailer{name: "bestbuy"}
	m, _ := testMonitor(t, r)

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("first start failed: %v", err)
	}
	defer m.Stop()

	if err := m.Start(context.Background()); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("second start must report already running, got %v", err)
	}
	if !m.Running() {
		t.Fatal("redundant start must leave the monitor running")
	}
}

func TestStopWhenStoppedIsNoOp(t *testing.T) {
	m, _ := testMonitor(t, &fakeRetailer{name: "bestbuy"})
	if err := m.Stop(); !errors.Is(err, ErrNotRunning) {
		t.Fatalf("stopping a stopped monitor must report not running, got %v", err)
	}
}

func TestStartStopLifecycle(t *testing.T) {
	r := &fakeRetailer{name: "bestbuy", stores: []retail.Store{
		{ID: "1423", Retailer: "bestbuy", Name: "Bellevue"},
	}}
	m, tr := testMonitor(t, r)

	if err := m.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	// The first cycle runs on start; wait for it to land in the tracker.
	deadline := time.After(5 * time.Second)
	for len(tr.StoreInfos()) == 0 {
		select {
		case <-deadline:
			t.Fatal("first cycle never recorded results")
		case <-time.After(10 * time.Millisecond):
		}
	}

	if err := m.Stop(); err != nil {
		t.Fatal(err)
	}
	if m.Running() {
		t.Fatal("monitor must report stopped after Stop")
	}

	infos := tr.StoreInfos()
	if len(infos) != 1 || infos[0].TotalChecks < 1 {
		t.Fatalf("cycle results missing from tracker: %+v", infos)
	}
}

func TestRunCycleChecksEveryDiscoveredStore(t *testing.T) {
	r := &fakeRetailer{name: "bestbuy", stores: []retail.Store{
		{ID: "1", Retailer: "bestbuy"},
		{ID: "2", Retailer: "bestbuy"},
		{ID: "3", Retailer: "bestbuy"},
	}}
	m, tr := testMonitor(t, r)

	m.RunCycle(context.Background())

	if r.checkCount() != 3 {
		t.Fatalf("expected all 3 stores checked, got %d", r.checkCount())
	}
	if len(tr.StoreInfos()) != 3 {
		t.Fatalf("expected 3 tracked stores, got %d", len(tr.StoreInfos()))
	}
	if finds := tr.RecentFinds(0); len(finds) != 3 {
		t.Fatalf("expected 3 recorded finds, got %d", len(finds))
	}
}

func TestRunCyclePartitionsStoresByRetailer(t *testing.T) {
	bb := &fakeRetailer{name: "bestbuy", stores: []retail.Store{{ID: "1", Retailer: "bestbuy"}}}
	tg := &fakeRetailer{name: "target", stores: []retail.Store{{ID: "2", Retailer: "target"}}}
	m, tr := testMonitor(t, bb, tg)

	m.RunCycle(context.Background())

	if bb.checkCount() != 1 || tg.checkCount() != 1 {
		t.Fatalf("each retailer must check only its own stores: bestbuy=%d target=%d",
			bb.checkCount(), tg.checkCount())
	}
	if len(tr.StoreInfos()) != 2 {
		t.Fatalf("expected 2 tracked stores, got %d", len(tr.StoreInfos()))
	}
}

func TestRunCycleAbsorbsPanics(t *testing.T) {
	r := &fakeRetailer{name: "bestbuy", panics: true, stores: []retail.Store{
		{ID: "1", Retailer: "bestbuy"},
	}}
	m, _ := testMonitor(t, r)

	// Must not propagate the panic.
	m.RunCycle(context.Background())

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("monitor must stay usable after an absorbed panic: %v", err)
	}
	m.Stop()
}

func TestRestartSwapsConfig(t *testing.T) {
	r := &fakeRetailer{name: "bestbuy"}
	m, _ := testMonitor(t, r)

	if err := m.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	fresh := Config{ZipCodes: []string{"10001"}, RadiusMiles: 50, CheckInterval: 2 * time.Hour}
	if err := m.Restart(context.Background(), fresh); err != nil {
		t.Fatalf("restart failed: %v", err)
	}
	defer m.Stop()

	if !m.Running() {
		t.Fatal("monitor must be running after restart")
	}
	m.mu.Lock()
	got := m.cfg
	m.mu.Unlock()
	if got.RadiusMiles != 50 || got.ZipCodes[0] != "10001" {
		t.Fatalf("restart did not apply the new config: %+v", got)
	}
}
