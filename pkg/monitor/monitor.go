// Package monitor runs the periodic check cycle: store discovery, sequential
// inventory checks, result recording, and notifications.
package monitor

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/shelfwatch/shelfwatch/internal/utils"
	"github.com/shelfwatch/shelfwatch/pkg/notify"
	"github.com/shelfwatch/shelfwatch/pkg/retail"
	"github.com/shelfwatch/shelfwatch/pkg/retailers"
	"github.com/shelfwatch/shelfwatch/pkg/session"
	"github.com/shelfwatch/shelfwatch/pkg/tracker"
)

// Config is the per-run monitor configuration.
type Config struct {
	ZipCodes      []string
	RadiusMiles   int
	CheckInterval time.Duration
	// SearchTerms maps a retailer name to the terms searched at each of its
	// stores. Retailers without an entry fall back to Keywords.
	SearchTerms map[string][]string
	Keywords    []string
}

func (c *Config) defaults() {
	if c.RadiusMiles <= 0 {
		c.RadiusMiles = 25
	}
	if c.CheckInterval <= 0 {
		c.CheckInterval = 30 * time.Minute
	}
	if len(c.Keywords) == 0 {
		c.Keywords = retail.DefaultKeywords
	}
}

// Monitor owns the check loop. One goroutine runs cycles; Start and Stop are
// safe to call from any goroutine but reject redundant transitions.
type Monitor struct {
	cfg       Config
	retailers []retailers.Retailer
	tracker   *tracker.Tracker
	notifiers []notify.Notifier
	clock     session.Clock
	pacer     func() *retailers.Pacer

	mu        sync.Mutex
	running   bool
	startedAt time.Time
	stop      chan struct{}
	done      sync.WaitGroup
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithClock injects a clock for tests.
func WithClock(c session.Clock) Option { return func(m *Monitor) { m.clock = c } }

// WithPacer overrides the inter-store pacer factory, for tests.
func WithPacer(f func() *retailers.Pacer) Option { return func(m *Monitor) { m.pacer = f } }

// New builds a Monitor.
func New(cfg Config, rs []retailers.Retailer, tr *tracker.Tracker, ns []notify.Notifier, opts ...Option) *Monitor {
	cfg.defaults()
	m := &Monitor{
		cfg:       cfg,
		retailers: rs,
		tracker:   tr,
		notifiers: ns,
		clock:     session.SystemClock(),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.pacer == nil {
		m.pacer = func() *retailers.Pacer { return retailers.NewPacer(m.clock, nil) }
	}
	return m
}

// ErrAlreadyRunning is returned by Start when the loop is active.
var ErrAlreadyRunning = errors.New("monitor already running")

// ErrNotRunning is returned by Stop when there is nothing to stop.
var ErrNotRunning = errors.New("monitor not running")

// Running reports whether the loop is active.
func (m *Monitor) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// Start launches the check loop. The first cycle runs immediately, then one
// cycle per interval. Starting a running monitor is a logged no-op error.
func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		utils.Log.Warn("start requested but the monitor is already running")
		return ErrAlreadyRunning
	}
	m.running = true
	m.startedAt = m.clock.Now()
	m.stop = make(chan struct{})
	stop := m.stop
	m.mu.Unlock()

	utils.Log.Infof("monitor started: zips=%v radius=%dmi interval=%s retailers=%d",
		m.cfg.ZipCodes, m.cfg.RadiusMiles, m.cfg.CheckInterval, len(m.retailers))
	m.writeStatus(true, time.Time{})

	m.done.Add(1)
	go m.loop(ctx, stop)
	return nil
}

func (m *Monitor) loop(ctx context.Context, stop <-chan struct{}) {
	defer m.done.Done()

	m.RunCycle(ctx)

	ticker := time.NewTicker(m.cfg.CheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.RunCycle(ctx)
		}
	}
}

// Stop halts the loop and flushes a final status and summary. The in-flight
// cycle, if any, runs to completion first. Stopping a stopped monitor is a
// logged no-op error.
func (m *Monitor) Stop() error {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		utils.Log.Warn("stop requested but the monitor is not running")
		return ErrNotRunning
	}
	m.running = false
	close(m.stop)
	m.mu.Unlock()

	m.done.Wait()

	m.writeStatus(false, time.Time{})
	if err := m.tracker.WriteSummary(); err != nil {
		utils.Log.Errorf("final summary write failed: %v", err)
	}
	utils.Log.Info("monitor stopped")
	return nil
}

// Restart applies a new configuration by stopping and starting the loop.
// Used when the config file changes on disk.
func (m *Monitor) Restart(ctx context.Context, cfg Config) error {
	if err := m.Stop(); err != nil && !errors.Is(err, ErrNotRunning) {
		return err
	}
	cfg.defaults()
	m.mu.Lock()
	m.cfg = cfg
	m.mu.Unlock()
	m.clock.Sleep(time.Second)
	return m.Start(ctx)
}

// RunCycle executes one full discovery-and-check pass. A panic inside the
// cycle is logged and absorbed; the loop keeps its schedule.
func (m *Monitor) RunCycle(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			utils.Log.Errorf("check cycle panicked, continuing on schedule: %v", r)
		}
	}()

	start := m.clock.Now()
	utils.Log.Info("check cycle starting")

	var all []retail.StockResult
	for _, zip := range m.cfg.ZipCodes {
		stores := retailers.FindAllStores(ctx, m.retailers, zip, m.cfg.RadiusMiles)
		utils.Log.Infof("zip %s: %d stores across %d retailers", zip, len(stores), len(m.retailers))

		byRetailer := make(map[string][]retail.Store)
		for _, s := range stores {
			byRetailer[s.Retailer] = append(byRetailer[s.Retailer], s)
		}

		for _, r := range m.retailers {
			group := byRetailer[r.Name()]
			if len(group) == 0 {
				continue
			}
			terms := m.cfg.SearchTerms[r.Name()]
			if len(terms) == 0 {
				terms = m.cfg.Keywords
			}
			results := retailers.CheckMultipleStores(ctx, r, group, terms, m.pacer())
			all = append(all, results...)
		}
	}

	if err := m.tracker.RecordResults(ctx, all); err != nil {
		utils.Log.Errorf("recording cycle results failed: %v", err)
	}
	notify.Broadcast(ctx, m.notifiers, all)

	m.writeStatus(m.Running(), m.clock.Now())
	if err := m.tracker.WriteSummary(); err != nil {
		utils.Log.Errorf("summary write failed: %v", err)
	}

	stocked := 0
	for _, res := range all {
		if res.HasStock {
			stocked++
		}
	}
	utils.Log.Infof("check cycle finished in %s: %d stores checked, %d with stock",
		m.clock.Now().Sub(start), len(all), stocked)
}

func (m *Monitor) writeStatus(running bool, lastCheck time.Time) {
	names := make([]string, 0, len(m.retailers))
	for _, r := range m.retailers {
		names = append(names, r.Name())
	}
	m.mu.Lock()
	startedAt := m.startedAt
	cfg := m.cfg
	m.mu.Unlock()

	uptime := ""
	if running && !startedAt.IsZero() {
		uptime = m.clock.Now().Sub(startedAt).Round(time.Second).String()
	}
	st := tracker.Status{
		IsRunning:            running,
		LastCheck:            lastCheck,
		ZipCodes:             cfg.ZipCodes,
		RadiusMiles:          cfg.RadiusMiles,
		CheckIntervalMinutes: int(cfg.CheckInterval / time.Minute),
		EnabledRetailers:     names,
		Uptime:               uptime,
	}
	if err := m.tracker.WriteStatus(st); err != nil {
		utils.Log.Errorf("status write failed: %v", err)
	}
}
