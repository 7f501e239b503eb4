// Package retailers defines the common interface retail monitors implement
// and the cross-retailer discovery and batch-check operations.
package retailers

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/shelfwatch/shelfwatch/internal/utils"
	"github.com/shelfwatch/shelfwatch/pkg/retail"
	"github.com/shelfwatch/shelfwatch/pkg/session"
)

// Retailer abstracts one upstream chain: store discovery near a geography
// and per-store product checks.
type Retailer interface {
	Name() string
	FindStores(ctx context.Context, zip string, radiusMiles int) ([]retail.Store, error)
	CheckStore(ctx context.Context, store retail.Store, terms []string) (retail.StockResult, error)
}

// FindAllStores fans out store discovery across every retailer concurrently.
// The lookups target different domains and share no mutable state, so this
// is the one place the monitor parallelizes. Per-retailer failures are
// logged and contribute nothing; the merged result is sorted ascending by
// distance.
func FindAllStores(ctx context.Context, rs []Retailer, zip string, radiusMiles int) []retail.Store {
	var (
		mu  sync.Mutex
		all []retail.Store
		wg  sync.WaitGroup
	)
	for _, r := range rs {
		wg.Add(1)
		go func(r Retailer) {
			defer wg.Done()
			stores, err := r.FindStores(ctx, zip, radiusMiles)
			if err != nil {
				utils.Log.Errorf("store discovery failed for %s near %s: %v", r.Name(), zip, err)
				return
			}
			mu.Lock()
			all = append(all, stores...)
			mu.Unlock()
		}(r)
	}
	wg.Wait()

	retail.SortStoresByDistance(all)
	return all
}

// Pacer inserts a bounded random pause between sequential store checks to
// avoid tripping upstream burst-rate limits.
type Pacer struct {
	Clock session.Clock
	Rng   *rand.Rand
	Min   time.Duration
	Max   time.Duration
}

// NewPacer returns a Pacer with the default 2-5s bounds.
func NewPacer(clock session.Clock, rng *rand.Rand) *Pacer {
	if clock == nil {
		clock = session.SystemClock()
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Pacer{Clock: clock, Rng: rng, Min: 2 * time.Second, Max: 5 * time.Second}
}

// Pause sleeps for a random duration within the configured bounds.
func (p *Pacer) Pause() {
	d := p.Min
	if span := p.Max - p.Min; span > 0 {
		d += time.Duration(p.Rng.Int63n(int64(span)))
	}
	p.Clock.Sleep(d)
}

// CheckMultipleStores checks stores strictly sequentially, pausing between
// consecutive stores (count-1 pauses). A failing store yields an empty
// result and never aborts the batch.
func CheckMultipleStores(ctx context.Context, r Retailer, stores []retail.Store, terms []string, pacer *Pacer) []retail.StockResult {
	results := make([]retail.StockResult, 0, len(stores))
	for i, store := range stores {
		if i > 0 {
			pacer.Pause()
		}
		result, err := r.CheckStore(ctx, store, terms)
		if err != nil {
			utils.Log.Errorf("check failed for %s store %s (%s): %v", r.Name(), store.ID, store.Name, err)
			result = retail.StockResult{Store: store, LastChecked: pacer.Clock.Now()}
		}
		results = append(results, result)
	}
	return results
}

// ProbeCandidates walks an ordered list of candidate endpoint URLs and
// returns the body of the first one answering 200 with a non-empty body.
// Anything else, including exhausted retries inside the session manager,
// advances to the next candidate.
func ProbeCandidates(ctx context.Context, mgr *session.Manager, name string, urls []string) []byte {
	for _, u := range urls {
		resp, err := mgr.Do(ctx, &session.Request{URL: u})
		if err != nil {
			utils.Log.Warnf("%s candidate endpoint failed: %s: %v", name, u, err)
			continue
		}
		if resp.StatusCode != 200 || len(resp.Body) == 0 {
			if resp.Title != "" {
				utils.Log.Warnf("%s candidate endpoint rejected: %s status=%d title=%q", name, u, resp.StatusCode, resp.Title)
			} else {
				utils.Log.Warnf("%s candidate endpoint rejected: %s status=%d", name, u, resp.StatusCode)
			}
			continue
		}
		return resp.Body
	}
	return nil
}
