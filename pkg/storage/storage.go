// Package storage keeps a durable history of store checks and product finds
// in SQLite, surviving process restarts and queryable after the fact.
package storage

import (
	"context"
	"database/sql"
	"time"

	"github.com/shelfwatch/shelfwatch/pkg/retail"

	_ "modernc.org/sqlite"
)

type DB struct {
	sql *sql.DB
}

func Open(path string) (*DB, error) {
	dsn := "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	// Ensure schema exists for convenience.
	if _, err := db.Exec(`
CREATE TABLE IF NOT EXISTS store_checks (
  store_key         TEXT PRIMARY KEY,
  retailer          TEXT NOT NULL,
  store_id          TEXT NOT NULL,
  store_name        TEXT,
  city              TEXT,
  state             TEXT,
  total_checks      INTEGER NOT NULL DEFAULT 0,
  successful_checks INTEGER NOT NULL DEFAULT 0,
  last_checked      DATETIME
);
CREATE INDEX IF NOT EXISTS idx_checks_retailer ON store_checks(retailer);
CREATE TABLE IF NOT EXISTS product_finds (
  id           INTEGER PRIMARY KEY,
  found_at     DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
  retailer     TEXT NOT NULL,
  store_id     TEXT NOT NULL,
  store_name   TEXT,
  sku          TEXT,
  name         TEXT NOT NULL,
  price        TEXT,
  availability TEXT,
  url          TEXT
);
CREATE INDEX IF NOT EXISTS idx_finds_time ON product_finds(found_at);
CREATE INDEX IF NOT EXISTS idx_finds_retailer ON product_finds(retailer, found_at);
	`); err != nil {
		return nil, err
	}
	return &DB{sql: db}, nil
}

func (d *DB) Close() error {
	if d == nil || d.sql == nil {
		return nil
	}
	return d.sql.Close()
}

// UpsertStoreCheck bumps the cumulative counters for one store check.
func (d *DB) UpsertStoreCheck(ctx context.Context, store retail.Store, success bool, checkedAt time.Time) error {
	successInc := 0
	if success {
		successInc = 1
	}
	_, err := d.sql.ExecContext(ctx, `
INSERT INTO store_checks(store_key, retailer, store_id, store_name, city, state, total_checks, successful_checks, last_checked)
VALUES(?,?,?,?,?,?,1,?,?)
ON CONFLICT(store_key) DO UPDATE SET
  total_checks = total_checks + 1,
  successful_checks = successful_checks + excluded.successful_checks,
  store_name = excluded.store_name,
  last_checked = excluded.last_checked`,
		store.Key(), store.Retailer, store.ID, store.Name, store.City, store.State,
		successInc, checkedAt.UTC())
	return err
}

// FindRecord is one persisted product sighting.
type FindRecord struct {
	FoundAt time.Time
	Product retail.ProductMatch
	Store   retail.Store
}

// RecordFind appends one product sighting.
func (d *DB) RecordFind(ctx context.Context, rec FindRecord) error {
	_, err := d.sql.ExecContext(ctx, `
INSERT INTO product_finds(found_at, retailer, store_id, store_name, sku, name, price, availability, url)
VALUES(?,?,?,?,?,?,?,?,?)`,
		rec.FoundAt.UTC(), rec.Store.Retailer, rec.Store.ID, rec.Store.Name,
		nullIfEmpty(rec.Product.SKU), rec.Product.Name, nullIfEmpty(rec.Product.Price),
		rec.Product.Availability, nullIfEmpty(rec.Product.URL))
	return err
}

// RecentFinds returns the newest finds, newest first.
func (d *DB) RecentFinds(ctx context.Context, limit int) ([]FindRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := d.sql.QueryContext(ctx, `
SELECT found_at, retailer, store_id, store_name, sku, name, price, availability, url
FROM product_finds ORDER BY found_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	finds := []FindRecord{}
	for rows.Next() {
		var (
			rec                  FindRecord
			foundAtStr           string
			sku, price, urlField sql.NullString
			storeName            sql.NullString
		)
		if err := rows.Scan(&foundAtStr, &rec.Store.Retailer, &rec.Store.ID, &storeName,
			&sku, &rec.Product.Name, &price, &rec.Product.Availability, &urlField); err != nil {
			return nil, err
		}
		rec.FoundAt = parseTime(foundAtStr)
		rec.Store.Name = storeName.String
		rec.Product.SKU = sku.String
		rec.Product.Price = price.String
		rec.Product.URL = urlField.String
		finds = append(finds, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return finds, nil
}

type RetailerStats struct {
	Retailer   string
	StoreCount int
	FindCount  int
}

// Stats summarizes tracked stores and finds per retailer.
func (d *DB) Stats(ctx context.Context) ([]RetailerStats, error) {
	rows, err := d.sql.QueryContext(ctx, `
SELECT c.retailer,
       COUNT(DISTINCT c.store_key),
       (SELECT COUNT(*) FROM product_finds f WHERE f.retailer = c.retailer)
FROM store_checks c
GROUP BY c.retailer
ORDER BY c.retailer`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stats []RetailerStats
	for rows.Next() {
		var s RetailerStats
		if err := rows.Scan(&s.Retailer, &s.StoreCount, &s.FindCount); err != nil {
			return nil, err
		}
		stats = append(stats, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return stats, nil
}

// parseTime tolerates both SQLite CURRENT_TIMESTAMP and RFC3339 forms.
func parseTime(s string) time.Time {
	if t, err := time.Parse("2006-01-02 15:04:05", s); err == nil {
		return t
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t
	}
	if t, err := time.Parse("2006-01-02 15:04:05.999999999-07:00", s); err == nil {
		return t
	}
	return time.Time{}
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
