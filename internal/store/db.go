// Package store owns the control plane's single SQLite database: schema,
// connection setup, and the transaction helper every other package builds
// its persistence on.
package store

import (
	"database/sql"
	_ "embed"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// DB wraps the control plane's SQLite handle.
type DB struct {
	SQL  *sql.DB
	path string
}

// Open creates (if necessary) and opens the control plane database at path,
// applying the schema and running any pending migrations.
func Open(path string) (*DB, error) {
	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create store directory: %w", err)
		}
	}

	dsn := path + "?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on"
	sqlDB, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(5)

	db := &DB{SQL: sqlDB, path: path}
	if err := db.migrate(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to migrate store: %w", err)
	}

	return db, nil
}

func (d *DB) migrate() error {
	if _, err := d.SQL.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}

	var version int
	err := d.SQL.QueryRow("SELECT version FROM schema_version ORDER BY version DESC LIMIT 1").Scan(&version)
	if err != nil && err != sql.ErrNoRows {
		return fmt.Errorf("failed to check schema version: %w", err)
	}

	if version < 1 {
		log.Println("[MIGRATION] store initialized at schema v1")
	}

	return nil
}

// Close closes the underlying database handle.
func (d *DB) Close() error {
	if d.SQL != nil {
		return d.SQL.Close()
	}
	return nil
}

// AcquireLock takes the named advisory lease in control_plane_lock for
// holder, succeeding if the row is unheld, already expired, or already held
// by holder itself (a restart re-acquiring its own name). It's how a
// deployment with multiple acp-server processes agrees on a single active
// Surveillance Engine loop without a Windows-only process handle.
func (d *DB) AcquireLock(name, holder string, ttl time.Duration, now time.Time) (bool, error) {
	acquired := false
	err := d.WithTx(func(tx *sql.Tx) error {
		var currentHolder string
		var expiresAt time.Time
		err := tx.QueryRow(`SELECT holder, expires_at FROM control_plane_lock WHERE lock_name = ?`, name).
			Scan(&currentHolder, &expiresAt)
		switch {
		case err == sql.ErrNoRows:
			// fall through to insert below
		case err != nil:
			return err
		case currentHolder != holder && now.Before(expiresAt):
			return nil
		}

		expires := now.Add(ttl)
		_, err = tx.Exec(`
			INSERT INTO control_plane_lock (lock_name, holder, acquired_at, expires_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(lock_name) DO UPDATE SET holder = excluded.holder,
				acquired_at = excluded.acquired_at, expires_at = excluded.expires_at`,
			name, holder, now, expires)
		if err != nil {
			return err
		}
		acquired = true
		return nil
	})
	return acquired, err
}

// RenewLock extends name's expiry for holder, failing silently (returning
// false) if holder no longer owns the lease -- another process has already
// taken over, and this one should stop acting as leader.
func (d *DB) RenewLock(name, holder string, ttl time.Duration, now time.Time) (bool, error) {
	renewed := false
	err := d.WithTx(func(tx *sql.Tx) error {
		res, err := tx.Exec(`UPDATE control_plane_lock SET expires_at = ? WHERE lock_name = ? AND holder = ?`,
			now.Add(ttl), name, holder)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		renewed = n > 0
		return nil
	})
	return renewed, err
}

// ReleaseLock drops holder's lease on name, if still held, so a clean
// shutdown lets another process acquire it immediately instead of waiting
// out the TTL.
func (d *DB) ReleaseLock(name, holder string) error {
	_, err := d.SQL.Exec(`DELETE FROM control_plane_lock WHERE lock_name = ? AND holder = ?`, name, holder)
	return err
}

// WithTx runs fn inside a transaction, committing on success and rolling
// back on any error fn returns.
func (d *DB) WithTx(fn func(*sql.Tx) error) error {
	tx, err := d.SQL.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}
