package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/sqlite3"
	lru "github.com/hashicorp/golang-lru/v2"
	_ "github.com/mattn/go-sqlite3"
	"github.com/maxpert/fieldsync/attachments"
	"github.com/maxpert/fieldsync/hlc"
	"github.com/maxpert/fieldsync/id"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/rs/zerolog/log"
)

const defaultColumnCacheSize = 128

// StoreConfig configures a Store. Zero values select defaults.
type StoreConfig struct {
	Path            string
	BusyTimeoutMS   int
	ColumnCacheSize int
	MaxIdleTime     time.Duration
	MaxLifetime     time.Duration

	Clock    *hlc.Clock
	IDs      id.Generator
	Purger   attachments.Purger
	Notifier Notifier
}

// Store is the local tabular store: user data tables plus the metadata
// tables describing them. All access is serialized through one connection.
type Store struct {
	db       *sql.DB
	path     string
	dialect  goqu.DialectWrapper
	clock    *hlc.Clock
	ids      id.Generator
	purger   attachments.Purger
	notifier Notifier

	columns  *lru.Cache[string, *OrderedColumns]
	security *xsync.MapOf[string, TableSecuritySettings]
}

// Open opens (creating if needed) the store at cfg.Path
func Open(cfg StoreConfig) (*Store, error) {
	if cfg.Path == "" {
		return nil, InvalidArgumentError{Op: "open", Reason: "database path is empty"}
	}
	if cfg.BusyTimeoutMS <= 0 {
		cfg.BusyTimeoutMS = 5000
	}
	if cfg.ColumnCacheSize <= 0 {
		cfg.ColumnCacheSize = defaultColumnCacheSize
	}
	if cfg.Clock == nil {
		cfg.Clock = hlc.NewClock()
	}
	if cfg.IDs == nil {
		cfg.IDs = id.NewUUIDGenerator()
	}
	if cfg.Purger == nil {
		cfg.Purger = attachments.NoopPurger{}
	}
	if cfg.Notifier == nil {
		cfg.Notifier = noopNotifier{}
	}

	dsn := cfg.Path
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	dsn += fmt.Sprintf("%s_journal_mode=WAL&_busy_timeout=%d&_txlock=immediate", sep, cfg.BusyTimeoutMS)

	sqlDB, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	sqlDB.SetConnMaxIdleTime(cfg.MaxIdleTime)
	sqlDB.SetConnMaxLifetime(cfg.MaxLifetime)

	for _, pragma := range []string{
		"PRAGMA synchronous=NORMAL",
		"PRAGMA cache_size=-16000",
		"PRAGMA temp_store=MEMORY",
	} {
		if _, err := sqlDB.Exec(pragma); err != nil {
			sqlDB.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	for _, stmt := range systemSchema {
		if _, err := sqlDB.Exec(stmt); err != nil {
			sqlDB.Close()
			return nil, fmt.Errorf("failed to create system schema: %w", err)
		}
	}

	cache, err := lru.New[string, *OrderedColumns](cfg.ColumnCacheSize)
	if err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to create column cache: %w", err)
	}

	log.Info().Str("path", cfg.Path).Msg("Opened field store")

	return &Store{
		db:       sqlDB,
		path:     cfg.Path,
		dialect:  goqu.Dialect("sqlite3"),
		clock:    cfg.Clock,
		ids:      cfg.IDs,
		purger:   cfg.Purger,
		notifier: cfg.Notifier,
		columns:  cache,
		security: xsync.NewMapOf[string, TableSecuritySettings](),
	}, nil
}

// Close closes the underlying database
func (s *Store) Close() error {
	s.columns.Purge()
	return s.db.Close()
}

// Path returns the database file path
func (s *Store) Path() string { return s.path }

// Clock returns the savepoint clock
func (s *Store) Clock() *hlc.Clock { return s.clock }

// now returns a fresh savepoint timestamp
func (s *Store) now() string {
	return s.clock.Now().String()
}

// Ping verifies the database is reachable
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
