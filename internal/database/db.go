// Package database opens the SQLite files frontier reads prices from.
package database

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

//go:embed schemas/*.sql
var schemas embed.FS

// SchemaVersion is stored in PRAGMA user_version once a schema is applied.
const SchemaVersion = 1

// DatabaseProfile selects connection PRAGMAs and pool sizing
type DatabaseProfile string

const (
	// ProfileStandard opens a database this process may write (seed, migrate)
	ProfileStandard DatabaseProfile = "standard"
	// ProfileReadOnly opens a database owned by another process for queries only
	ProfileReadOnly DatabaseProfile = "readonly"
)

// ErrReadOnly is returned when a write is attempted through a read-only handle
var ErrReadOnly = errors.New("database opened read-only")

// DB wraps a SQLite connection pool
type DB struct {
	conn    *sql.DB
	path    string
	profile DatabaseProfile
	name    string
}

// Config holds database configuration
type Config struct {
	Path    string
	Profile DatabaseProfile
	Name    string // Used in errors and to find schemas/<name>_schema.sql
}

// Stats describes the state of an open database
type Stats struct {
	SchemaVersion int   `json:"schema_version"`
	SizeBytes     int64 `json:"size_bytes"`
}

// New opens a SQLite database and verifies the connection
func New(cfg Config) (*DB, error) {
	if cfg.Profile == "" {
		cfg.Profile = ProfileStandard
	}

	// file: URIs are passed through untouched (used for in-memory databases)
	if !strings.HasPrefix(cfg.Path, "file:") {
		absPath, err := filepath.Abs(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve database path %s: %w", cfg.Path, err)
		}
		if cfg.Profile == ProfileStandard {
			if err := os.MkdirAll(filepath.Dir(absPath), 0755); err != nil {
				return nil, fmt.Errorf("failed to create database directory: %w", err)
			}
		}
		cfg.Path = absPath
	}

	conn, err := sql.Open("sqlite", dsn(cfg.Path, cfg.Profile))
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", cfg.Name, err)
	}

	if cfg.Profile == ProfileStandard {
		// One writer; seeding and migration never contend for the lock
		conn.SetMaxOpenConns(1)
	} else {
		conn.SetMaxOpenConns(4)
	}
	conn.SetMaxIdleConns(1)
	conn.SetConnMaxIdleTime(10 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := conn.PingContext(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping %s database: %w", cfg.Name, err)
	}

	return &DB{
		conn:    conn,
		path:    cfg.Path,
		profile: cfg.Profile,
		name:    cfg.Name,
	}, nil
}

// dsn builds the modernc connection string with profile PRAGMAs
func dsn(path string, profile DatabaseProfile) string {
	pragmas := []string{"busy_timeout(5000)"}
	if profile == ProfileReadOnly {
		pragmas = append(pragmas, "query_only(1)")
	} else {
		pragmas = append(pragmas,
			"journal_mode(WAL)",
			"synchronous(NORMAL)",
			"temp_store(MEMORY)",
		)
	}

	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + "_pragma=" + strings.Join(pragmas, "&_pragma=")
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.conn.Close()
}

// Path returns the database file path
func (db *DB) Path() string {
	return db.path
}

// Migrate applies the embedded schema named after the database when the
// stored user_version is older than SchemaVersion. Databases without an
// embedded schema are left alone.
func (db *DB) Migrate() error {
	if db.profile == ProfileReadOnly {
		return fmt.Errorf("cannot migrate %s: %w", db.name, ErrReadOnly)
	}

	content, err := schemas.ReadFile("schemas/" + db.name + "_schema.sql")
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read schema for %s: %w", db.name, err)
	}

	ctx := context.Background()
	version, err := db.userVersion(ctx)
	if err != nil {
		return err
	}
	if version >= SchemaVersion {
		return nil
	}

	return db.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, string(content)); err != nil {
			return fmt.Errorf("failed to apply schema for %s: %w", db.name, err)
		}
		// PRAGMA does not accept bound parameters
		if _, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", SchemaVersion)); err != nil {
			return fmt.Errorf("failed to record schema version: %w", err)
		}
		return nil
	})
}

func (db *DB) userVersion(ctx context.Context) (int, error) {
	var version int
	if err := db.conn.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return 0, fmt.Errorf("failed to read schema version of %s: %w", db.name, err)
	}
	return version, nil
}

// WithTx runs fn in a transaction, committing on success and rolling back
// when fn returns an error or panics.
func (db *DB) WithTx(ctx context.Context, fn func(*sql.Tx) error) (err error) {
	if db.profile == ProfileReadOnly {
		return fmt.Errorf("cannot write to %s: %w", db.name, ErrReadOnly)
	}

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			err = fmt.Errorf("panic in transaction: %v", p)
			return
		}
		if err != nil {
			if rollbackErr := tx.Rollback(); rollbackErr != nil {
				err = fmt.Errorf("transaction failed: %w (rollback also failed: %v)", err, rollbackErr)
			}
			return
		}
		if commitErr := tx.Commit(); commitErr != nil {
			err = fmt.Errorf("failed to commit transaction: %w", commitErr)
		}
	}()

	return fn(tx)
}

// QueryContext executes a query with context
func (db *DB) QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	return db.conn.QueryContext(ctx, query, args...)
}

// QueryRowContext executes a query that returns at most one row
func (db *DB) QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row {
	return db.conn.QueryRowContext(ctx, query, args...)
}

// Stats reports the schema version and the on-disk size of the database.
// It doubles as a liveness check.
func (db *DB) Stats(ctx context.Context) (Stats, error) {
	version, err := db.userVersion(ctx)
	if err != nil {
		return Stats{}, err
	}

	var pages, pageSize int64
	if err := db.conn.QueryRowContext(ctx, "PRAGMA page_count").Scan(&pages); err != nil {
		return Stats{}, fmt.Errorf("failed to read page count: %w", err)
	}
	if err := db.conn.QueryRowContext(ctx, "PRAGMA page_size").Scan(&pageSize); err != nil {
		return Stats{}, fmt.Errorf("failed to read page size: %w", err)
	}

	return Stats{SchemaVersion: version, SizeBytes: pages * pageSize}, nil
}
