// Package tracker owns every piece of persisted monitor state: cumulative
// per-store check counters, product find history, the status snapshot, and
// the human-readable summary. Nothing else writes these files.
package tracker

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shelfwatch/shelfwatch/internal/utils"
	"github.com/shelfwatch/shelfwatch/pkg/retail"
	"github.com/shelfwatch/shelfwatch/pkg/session"
	"github.com/shelfwatch/shelfwatch/pkg/storage"
)

const (
	storesFile   = "stores.json"
	findsFile    = "products-found.json"
	statusFile   = "status.json"
	summaryFile  = "summary.txt"
	dayFilePre   = "products-"
	dayLayout    = "2006-01-02"
	defaultCap   = 100
	summaryFinds = 10
)

// StoreInfo is the cumulative record for one store, keyed by retailer:id.
// Created on first sighting, mutated every cycle, never deleted.
type StoreInfo struct {
	Retailer         string    `json:"retailer"`
	StoreID          string    `json:"storeId"`
	Name             string    `json:"name,omitempty"`
	City             string    `json:"city,omitempty"`
	State            string    `json:"state,omitempty"`
	TotalChecks      int       `json:"totalChecks"`
	SuccessfulChecks int       `json:"successfulChecks"`
	LastChecked      time.Time `json:"lastChecked"`
}

// ProductFind is one recorded product sighting.
type ProductFind struct {
	Timestamp time.Time           `json:"timestamp"`
	Product   retail.ProductMatch `json:"product"`
	Store     retail.Store        `json:"store"`
}

// Status is the singleton snapshot overwritten on every transition and cycle.
type Status struct {
	IsRunning            bool      `json:"isRunning"`
	LastCheck            time.Time `json:"lastCheck"`
	ZipCodes             []string  `json:"zipCodes"`
	RadiusMiles          int       `json:"radiusMiles"`
	CheckIntervalMinutes int       `json:"checkIntervalMinutes"`
	EnabledRetailers     []string  `json:"enabledRetailers"`
	Uptime               string    `json:"uptime"`
}

// Tracker aggregates check results into durable state. The mutex covers the
// stop path writing a final status while a ticker-driven cycle is mid-write.
type Tracker struct {
	mu      sync.Mutex
	dir     string
	cap     int
	clock   session.Clock
	history *storage.DB

	stores map[string]*StoreInfo
	finds  []ProductFind
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithClock injects a clock for tests.
func WithClock(c session.Clock) Option { return func(t *Tracker) { t.clock = c } }

// WithHistory mirrors every batch into the SQLite history store.
func WithHistory(db *storage.DB) Option { return func(t *Tracker) { t.history = db } }

// WithRollingCap overrides the rolling find-list cap.
func WithRollingCap(n int) Option { return func(t *Tracker) { t.cap = n } }

// New opens a tracker rooted at dir. A pre-existing stores.json or rolling
// finds file is loaded and merged so counters survive restarts.
func New(dir string, opts ...Option) (*Tracker, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	t := &Tracker{
		dir:    dir,
		cap:    defaultCap,
		clock:  session.SystemClock(),
		stores: make(map[string]*StoreInfo),
	}
	for _, opt := range opts {
		opt(t)
	}
	t.loadExisting()
	return t, nil
}

func (t *Tracker) loadExisting() {
	var infos []StoreInfo
	if err := readJSON(filepath.Join(t.dir, storesFile), &infos); err == nil {
		for i := range infos {
			info := infos[i]
			t.stores[info.Retailer+":"+info.StoreID] = &info
		}
	}
	var finds []ProductFind
	if err := readJSON(filepath.Join(t.dir, findsFile), &finds); err == nil {
		if len(finds) > t.cap {
			finds = finds[:t.cap]
		}
		t.finds = finds
	}
}

// RecordResults merges one cycle's batch into the running state and
// persists it. Record-level idempotent, but re-delivering a batch
// double-counts: callers must not submit a cycle's results twice.
func (t *Tracker) RecordResults(ctx context.Context, results []retail.StockResult) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	var newFinds []ProductFind
	for _, res := range results {
		t.upsertStore(res)
		success := res.HasStock || len(res.Products) > 0
		if t.history != nil {
			if err := t.history.UpsertStoreCheck(ctx, res.Store, success, res.LastChecked); err != nil {
				utils.Log.Warnf("history upsert failed for %s: %v", res.Store.Key(), err)
			}
		}
		if !res.HasStock {
			continue
		}
		for _, p := range res.Products {
			ts := res.LastChecked
			if ts.IsZero() {
				ts = t.clock.Now()
			}
			find := ProductFind{Timestamp: ts, Product: p, Store: res.Store}
			newFinds = append(newFinds, find)
			if t.history != nil {
				if err := t.history.RecordFind(ctx, storage.FindRecord{FoundAt: ts, Product: p, Store: res.Store}); err != nil {
					utils.Log.Warnf("history find insert failed: %v", err)
				}
			}
		}
	}

	for _, f := range newFinds {
		t.finds = append([]ProductFind{f}, t.finds...)
	}
	if len(t.finds) > t.cap {
		t.finds = t.finds[:t.cap]
	}

	if err := t.writeStores(); err != nil {
		return err
	}
	if err := writeJSON(filepath.Join(t.dir, findsFile), t.finds); err != nil {
		return err
	}
	if len(newFinds) > 0 {
		if err := t.appendDayFinds(newFinds); err != nil {
			return err
		}
	}
	return nil
}

func (t *Tracker) upsertStore(res retail.StockResult) {
	key := res.Store.Key()
	info, ok := t.stores[key]
	if !ok {
		info = &StoreInfo{
			Retailer: res.Store.Retailer,
			StoreID:  res.Store.ID,
			Name:     res.Store.Name,
			City:     res.Store.City,
			State:    res.Store.State,
		}
		t.stores[key] = info
	}
	info.TotalChecks++
	if res.HasStock || len(res.Products) > 0 {
		info.SuccessfulChecks++
	}
	if res.Store.Name != "" {
		info.Name = res.Store.Name
	}
	info.LastChecked = res.LastChecked
	if info.LastChecked.IsZero() {
		info.LastChecked = t.clock.Now()
	}
}

func (t *Tracker) writeStores() error {
	return writeJSON(filepath.Join(t.dir, storesFile), t.storeInfosLocked())
}

// appendDayFinds appends finds to their calendar-day accumulation files. A
// new day starts a new file; days are never merged.
func (t *Tracker) appendDayFinds(finds []ProductFind) error {
	byDay := make(map[string][]ProductFind)
	for _, f := range finds {
		day := f.Timestamp.Format(dayLayout)
		byDay[day] = append(byDay[day], f)
	}
	for day, dayFinds := range byDay {
		path := filepath.Join(t.dir, dayFilePre+day+".json")
		var existing []ProductFind
		_ = readJSON(path, &existing)
		existing = append(existing, dayFinds...)
		if err := writeJSON(path, existing); err != nil {
			return err
		}
	}
	return nil
}

// WriteStatus overwrites the status snapshot.
func (t *Tracker) WriteStatus(st Status) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return writeJSON(filepath.Join(t.dir, statusFile), st)
}

// StoreInfos returns the tracked stores sorted by key for stable output.
func (t *Tracker) StoreInfos() []StoreInfo {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.storeInfosLocked()
}

func (t *Tracker) storeInfosLocked() []StoreInfo {
	keys := make([]string, 0, len(t.stores))
	for k := range t.stores {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]StoreInfo, 0, len(keys))
	for _, k := range keys {
		out = append(out, *t.stores[k])
	}
	return out
}

// RecentFinds returns up to n finds, newest first.
func (t *Tracker) RecentFinds(n int) []ProductFind {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.recentFindsLocked(n)
}

func (t *Tracker) recentFindsLocked(n int) []ProductFind {
	if n <= 0 || n > len(t.finds) {
		n = len(t.finds)
	}
	out := make([]ProductFind, n)
	copy(out, t.finds[:n])
	return out
}

// Summary renders the digest. It is a pure projection of tracked state:
// identical state yields byte-identical output.
func (t *Tracker) Summary() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.summaryLocked()
}

func (t *Tracker) summaryLocked() string {
	var b strings.Builder
	b.WriteString("shelfwatch summary\n")
	b.WriteString("==================\n\n")

	perRetailer := make(map[string]struct{ stores, total, successful int })
	for _, info := range t.stores {
		agg := perRetailer[info.Retailer]
		agg.stores++
		agg.total += info.TotalChecks
		agg.successful += info.SuccessfulChecks
		perRetailer[info.Retailer] = agg
	}
	retailersSorted := make([]string, 0, len(perRetailer))
	for r := range perRetailer {
		retailersSorted = append(retailersSorted, r)
	}
	sort.Strings(retailersSorted)

	fmt.Fprintf(&b, "Stores tracked: %d\n", len(t.stores))
	for _, r := range retailersSorted {
		agg := perRetailer[r]
		fmt.Fprintf(&b, "  %s: %d stores, %d/%d successful checks\n", r, agg.stores, agg.successful, agg.total)
	}

	b.WriteString("\nRecent finds:\n")
	recent := t.recentFindsLocked(summaryFinds)
	if len(recent) == 0 {
		b.WriteString("  (none yet)\n")
	}
	for _, f := range recent {
		line := fmt.Sprintf("  %s [%s] %s", f.Timestamp.UTC().Format(time.RFC3339), f.Store.Retailer, f.Product.Name)
		if f.Product.Price != "" {
			line += " " + f.Product.Price
		}
		line += " - " + f.Product.Availability
		if f.Store.Name != "" {
			line += " @ " + f.Store.Name
		}
		b.WriteString(line + "\n")
	}
	return b.String()
}

// WriteSummary regenerates summary.txt.
func (t *Tracker) WriteSummary() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return os.WriteFile(filepath.Join(t.dir, summaryFile), []byte(t.summaryLocked()), 0o644)
}

func writeJSON(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", filepath.Base(path), err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	return nil
}

func readJSON(path string, v interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}
