package library

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const driverName = "sqlite3"

// Database is the SQLite-backed Store. Every operation borrows a pooled
// connection for its own duration only.
type Database struct {
	db     *sqlx.DB
	logger Logger
}

// DatabaseOption configures a Database.
type DatabaseOption func(*Database)

// WithDatabaseLogger sets the logger used for migrations and SQL tracing.
func WithDatabaseLogger(logger Logger) DatabaseOption {
	return func(d *Database) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// NewDatabase opens (or creates) the SQLite database at dbPath and brings the
// schema up to date. Calling it repeatedly on the same file is safe.
func NewDatabase(ctx context.Context, dbPath string, opts ...DatabaseOption) (*Database, error) {
	d := &Database{logger: discardLogger}
	for _, opt := range opts {
		opt(d)
	}

	// Ensure directory exists so first-run succeeds.
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}

	db, err := sqlx.Open(driverName, dsn(dbPath))
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	if err := d.applyMigrations(db.DB); err != nil {
		db.Close()
		return nil, err
	}

	d.db = db
	return d, nil
}

// dsn enables WAL, foreign keys and a busy timeout on every pooled connection.
// _txlock=immediate makes each transaction take the write lock up front, so
// two borrows can never both see the last copy as available.
func dsn(dbPath string) string {
	return fmt.Sprintf("file:%s?_busy_timeout=5000&_foreign_keys=1&_journal_mode=WAL&_synchronous=NORMAL&_txlock=immediate", dbPath)
}

// Close closes the connection pool.
func (d *Database) Close() error { return d.db.Close() }

// Repo returns a repository that runs each call on its own pooled connection.
func (d *Database) Repo() Repository {
	return &sqlRepository{ext: d.db, logger: d.logger}
}

// WithinTx runs fn inside one transaction and commits only if fn succeeds.
func (d *Database) WithinTx(ctx context.Context, fn func(Repository) error) error {
	tx, err := d.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&sqlRepository{ext: tx, logger: d.logger}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			return errors.Join(err, fmt.Errorf("rollback: %w", rbErr))
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", translateStoreErr(err))
	}
	return nil
}

// ---------------------------------------------------------------------------
// Schema migration
// ---------------------------------------------------------------------------

func (d *Database) applyMigrations(db *sql.DB) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}
	defer src.Close()

	driver, err := migratesqlite.WithInstance(db, &migratesqlite.Config{})
	if err != nil {
		return fmt.Errorf("migration driver: %w", err)
	}

	// m.Close would close db as well, so the migrate instance is left to the GC.
	m, err := migrate.NewWithInstance("iofs", src, driverName, driver)
	if err != nil {
		return fmt.Errorf("migration setup: %w", err)
	}

	err = m.Up()
	if errors.Is(err, migrate.ErrNoChange) {
		d.logger.Debug(logMsgSchemaCurrent)
		return nil
	}
	if err != nil {
		return fmt.Errorf("apply migration: %w", err)
	}

	version, _, _ := m.Version()
	d.logger.Info(logMsgMigrated, logAttrVersion, version)
	return nil
}
