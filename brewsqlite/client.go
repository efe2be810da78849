// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

// Package brewsqlite keeps a coffee shop's drink list usable while the
// backend is unreachable. Drinks are cached in SQLite, mutations made
// offline are queued per shop, and the queue is replayed against the REST
// API once connectivity returns.
package brewsqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Client owns the local database and talks to the drinks API
type Client struct {
	DB      *sql.DB
	BaseURL string
	Token   func(context.Context) (string, error) // optional bearer token source
	HTTP    *http.Client
	config  *Config
	logger  *slog.Logger
	writeMu sync.Mutex // Serialize write operations to prevent SQLite locking issues

	reconciling atomic.Bool

	tempMu   sync.Mutex
	lastTemp int64
}

// Config holds client tunables
type Config struct {
	HealthTimeout  time.Duration    // bound on a single health check (5s)
	PollInterval   time.Duration    // periodic health check while online (30s)
	RequestTimeout time.Duration    // bound on each replayed request (30s)
	LockPath       string           // optional advisory lock file shared by processes using the same DB
	PageSize       int              // drinks per page (5)
	Now            func() time.Time // clock for temporary ids and queue timestamps
}

// DefaultConfig returns the default client configuration
func DefaultConfig() *Config {
	return &Config{
		HealthTimeout:  5 * time.Second,
		PollInterval:   30 * time.Second,
		RequestTimeout: 30 * time.Second,
		PageSize:       5,
		Now:            time.Now,
	}
}

// NewClient prepares db for caching and queueing and returns a client for baseURL
func NewClient(db *sql.DB, baseURL string, tok func(ctx context.Context) (string, error), config *Config) (*Client, error) {
	if db == nil {
		return nil, fmt.Errorf("db cannot be nil")
	}
	if baseURL == "" {
		return nil, fmt.Errorf("baseURL must be provided")
	}
	if config == nil {
		config = DefaultConfig()
	}
	def := DefaultConfig()
	if config.HealthTimeout <= 0 {
		config.HealthTimeout = def.HealthTimeout
	}
	if config.PollInterval <= 0 {
		config.PollInterval = def.PollInterval
	}
	if config.RequestTimeout <= 0 {
		config.RequestTimeout = def.RequestTimeout
	}
	if config.PageSize <= 0 {
		config.PageSize = def.PageSize
	}
	if config.Now == nil {
		config.Now = def.Now
	}

	if err := initializeDatabase(db); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	return &Client{
		DB:      db,
		BaseURL: strings.TrimRight(baseURL, "/"),
		Token:   tok,
		HTTP:    &http.Client{},
		config:  config,
		logger:  slog.Default(),
	}, nil
}

// SetLogger replaces the client's logger
func (c *Client) SetLogger(logger *slog.Logger) {
	if logger != nil {
		c.logger = logger
	}
}

// Config returns the effective configuration
func (c *Client) Config() Config { return *c.config }

// initializeDatabase creates the cache and queue tables
func initializeDatabase(db *sql.DB) error {
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		return fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := db.Exec(`PRAGMA busy_timeout=5000`); err != nil {
		return fmt.Errorf("failed to set busy timeout: %w", err)
	}

	tables := []string{
		// Last known drink list, one snapshot per shop
		`CREATE TABLE IF NOT EXISTS _drink_cache (
			shop_id      TEXT NOT NULL,
			position     INTEGER NOT NULL,
			drink_id     TEXT NOT NULL,
			sync_status  TEXT NOT NULL DEFAULT 'synced',
			payload      TEXT NOT NULL, -- wire JSON of the drink
			PRIMARY KEY (shop_id, position)
		)`,

		// Offline mutations in enqueue order, scoped by shop
		`CREATE TABLE IF NOT EXISTS _pending_ops (
			seq        INTEGER PRIMARY KEY AUTOINCREMENT,
			shop_id    TEXT NOT NULL,
			op         TEXT NOT NULL CHECK (op IN ('add','update','delete')),
			drink_id   TEXT NOT NULL,
			local      INTEGER NOT NULL DEFAULT 0, -- 1 while drink_id is a temporary id
			payload    TEXT,                       -- NULL for deletes
			queued_at  TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now'))
		)`,

		`CREATE INDEX IF NOT EXISTS _pending_ops_shop_idx ON _pending_ops(shop_id, seq)`,

		// Highest seq snapshotted by the reconciliation pass in flight, per shop
		`CREATE TABLE IF NOT EXISTS _replay_fence (
			shop_id  TEXT PRIMARY KEY,
			max_seq  INTEGER NOT NULL
		)`,
	}
	for _, stmt := range tables {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}
	return nil
}

// newTempID returns a fresh temp_<unix-millis> id, bumped past the last one issued
func (c *Client) newTempID() DrinkID {
	c.tempMu.Lock()
	defer c.tempMu.Unlock()
	ms := c.config.Now().UnixMilli()
	if ms <= c.lastTemp {
		ms = c.lastTemp + 1
	}
	c.lastTemp = ms
	return DrinkID(fmt.Sprintf("temp_%d", ms))
}

func (c *Client) url(path string) string {
	return c.BaseURL + "/" + strings.TrimLeft(path, "/")
}
