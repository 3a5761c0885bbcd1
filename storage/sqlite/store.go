// Package sqlite provides the durable SQLite-backed CacheStore and
// OutboxQueue. One database file holds both: the entity mirror and the
// pending-mutation queue share a single connection pool so a till survives
// restarts with its cache and outbox intact.
package sqlite

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	stdSync "sync"
	"time"

	syncErrors "github.com/tillsync/tillsync/errors"
	"github.com/tillsync/tillsync/logging"

	// SQLite driver
	_ "github.com/mattn/go-sqlite3"
)

const component = "storage/sqlite"

// ErrStoreClosed is returned by all operations after Close.
var ErrStoreClosed = errors.New("store is closed")

// Config holds configuration for the SQLite store.
//
// Production-ready defaults are applied by DefaultConfig() including WAL mode
// and a bounded connection pool.
type Config struct {
	// DataSourceName is the connection string for the SQLite database.
	// Example: "file:tillsync.db"
	DataSourceName string

	// EnableWAL enables Write-Ahead Logging mode for better concurrency.
	// When true, "?_journal_mode=WAL" is appended to DataSourceName.
	EnableWAL bool

	// Connection pool settings.
	// Defaults: MaxOpen=25, MaxIdle=5, Lifetime=1h, IdleTime=5m
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// setDefaults applies default values to the config
func (c *Config) setDefaults() {
	if c.MaxOpenConns == 0 {
		c.MaxOpenConns = 25
	}
	if c.MaxIdleConns == 0 {
		c.MaxIdleConns = 5
	}
	if c.ConnMaxLifetime == 0 {
		c.ConnMaxLifetime = time.Hour
	}
	if c.ConnMaxIdleTime == 0 {
		c.ConnMaxIdleTime = 5 * time.Minute
	}
	if c.EnableWAL {
		if !strings.Contains(c.DataSourceName, "?_journal_mode=") {
			c.DataSourceName += "?_journal_mode=WAL"
		}
	}
}

// DefaultConfig returns a Config with production-ready defaults.
func DefaultConfig(dataSourceName string) *Config {
	config := &Config{
		DataSourceName: dataSourceName,
		EnableWAL:      true,
	}
	config.setDefaults()
	return config
}

// Store owns the database handle shared by the Cache and Outbox views.
type Store struct {
	db     *sql.DB
	mu     stdSync.RWMutex
	closed bool
}

// Open opens (or creates) the database and prepares the schema.
// If config is nil an error is returned.
func Open(config *Config) (*Store, error) {
	if config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}

	config.setDefaults()

	if config.DataSourceName == "" {
		return nil, fmt.Errorf("DataSourceName is required")
	}

	logger := logging.WithComponent(logging.Component("sqlite-store"))
	logger.Info("opening sqlite database",
		"data_source", config.DataSourceName,
		"wal_enabled", config.EnableWAL,
	)

	db, err := sql.Open("sqlite3", config.DataSourceName)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to sqlite database: %w", err)
	}

	store := &Store{db: db}

	if err := store.setupSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to setup database schema: %w", err)
	}

	return store, nil
}

// OpenDataSource is a convenience constructor using DefaultConfig.
func OpenDataSource(dataSourceName string) (*Store, error) {
	return Open(DefaultConfig(dataSourceName))
}

// setupSchema creates the entity mirror and outbox tables.
// The outbox seq column relies on AUTOINCREMENT so sequence numbers are
// strictly increasing and never reused, which is what FIFO replay depends on.
func (s *Store) setupSchema() error {
	query := `
    CREATE TABLE IF NOT EXISTS entities (
        kind        TEXT NOT NULL,
        id          TEXT NOT NULL,
        scope_id    TEXT NOT NULL,
        data        TEXT NOT NULL,
        updated_at  TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
        PRIMARY KEY (kind, id)
    );
    CREATE INDEX IF NOT EXISTS idx_entities_scope ON entities (kind, scope_id);

    CREATE TABLE IF NOT EXISTS outbox (
        seq         INTEGER PRIMARY KEY AUTOINCREMENT,
        id          TEXT NOT NULL UNIQUE,
        op          TEXT NOT NULL,
        kind        TEXT NOT NULL,
        entity_id   TEXT NOT NULL,
        scope_id    TEXT NOT NULL,
        payload     TEXT,
        enqueued_at TIMESTAMP NOT NULL
    );
    CREATE INDEX IF NOT EXISTS idx_outbox_entity ON outbox (kind, entity_id);
    `
	_, err := s.db.Exec(query)
	return err
}

// Cache returns the CacheStore view over the store.
func (s *Store) Cache() *Cache {
	return &Cache{store: s}
}

// Outbox returns the OutboxQueue view over the store.
func (s *Store) Outbox() *Outbox {
	return &Outbox{store: s}
}

// checkOpen returns ErrStoreClosed after Close.
func (s *Store) checkOpen() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStoreClosed
	}
	return nil
}

// Close closes the underlying database. Safe to call more than once; the
// Cache and Outbox views are unusable afterwards.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if err := s.db.Close(); err != nil {
		return syncErrors.WrapOpComponent(err, syncErrors.OpClose, component)
	}
	return nil
}
