package store

import (
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"sync"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"

	"github.com/roach88/relance/internal/clock"
)

// Schema version tracking:
// 0 - Empty database
// 1 - bookings, forms, contracts, tasks
const currentSchemaVersion = 1

// Driver names accepted by Open.
const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "pgx"
)

// Store is the SQL persistence adapter. It implements the engine's
// TaskStore, EntityStateProvider and TaskLinker contracts.
type Store struct {
	db     *sql.DB
	driver string
	clock  clock.Clock

	mu     sync.Mutex
	subs   map[int]func(ChangeEvent)
	nextID int
}

// Option configures a Store.
type Option func(*Store)

// WithClock sets the clock used for created/completed timestamps.
func WithClock(c clock.Clock) Option {
	return func(s *Store) {
		if c != nil {
			s.clock = c
		}
	}
}

// Open connects to the database and applies migrations.
//
// For sqlite3 the dsn is a file path; the database is created when missing
// and limited to a single connection. For pgx the dsn is a Postgres URL or
// keyword/value string.
//
// This function is idempotent - safe to call multiple times.
func Open(driver, dsn string, opts ...Option) (*Store, error) {
	switch driver {
	case DriverSQLite, DriverPostgres:
	default:
		return nil, fmt.Errorf("unsupported driver %q", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	s := &Store{
		db:     db,
		driver: driver,
		clock:  clock.System{},
		subs:   make(map[int]func(ChangeEvent)),
	}
	for _, opt := range opts {
		opt(s)
	}

	if driver == DriverSQLite {
		// SQLite only supports one writer at a time, so limit connections
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)

		if err := applyPragmas(db); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply pragmas: %w", err)
		}
	}

	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// DB returns the underlying sql.DB for direct queries.
// Use with caution - prefer using Store methods when available.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Driver returns the driver name the store was opened with.
func (s *Store) Driver() string {
	return s.driver
}

// applyPragmas sets required SQLite configuration.
func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	return nil
}

// runMigrations applies incremental schema migrations based on the stored
// schema version. SQLite keeps it in PRAGMA user_version, Postgres in a
// one-row relance_schema table.
func (s *Store) runMigrations() error {
	version, err := s.schemaVersion()
	if err != nil {
		return err
	}

	if version < 1 {
		for _, stmt := range schemaV1 {
			if _, err := s.db.Exec(stmt); err != nil {
				return fmt.Errorf("migrate to v1: %w", err)
			}
		}
	}

	return s.setSchemaVersion(currentSchemaVersion)
}

func (s *Store) schemaVersion() (int, error) {
	var version int
	if s.driver == DriverSQLite {
		if err := s.db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
			return 0, fmt.Errorf("get user_version: %w", err)
		}
		return version, nil
	}

	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS relance_schema (version INTEGER NOT NULL)`); err != nil {
		return 0, fmt.Errorf("create relance_schema: %w", err)
	}
	err := s.db.QueryRow(`SELECT version FROM relance_schema`).Scan(&version)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get schema version: %w", err)
	}
	return version, nil
}

func (s *Store) setSchemaVersion(v int) error {
	if s.driver == DriverSQLite {
		if _, err := s.db.Exec(fmt.Sprintf("PRAGMA user_version = %d", v)); err != nil {
			return fmt.Errorf("set user_version: %w", err)
		}
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("set schema version: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	if _, err := tx.Exec(`DELETE FROM relance_schema`); err != nil {
		return fmt.Errorf("set schema version: %w", err)
	}
	if _, err := tx.Exec(`INSERT INTO relance_schema (version) VALUES ($1)`, v); err != nil {
		return fmt.Errorf("set schema version: %w", err)
	}
	return tx.Commit()
}

// q rebinds "?" placeholders for the store's driver.
func (s *Store) q(query string) string {
	if s.driver != DriverPostgres {
		return query
	}
	return rebindDollar(query)
}

// rebindDollar rewrites "?" placeholders as $1, $2, ...
// Queries in this package never contain literal question marks.
func rebindDollar(query string) string {
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
