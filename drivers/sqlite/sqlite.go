// Package sqlite stores cache records in a SQLite database file inside the cache directory.
package sqlite

import (
	"context"
	"database/sql"
	stderr "errors"
	"os"
	"path/filepath"

	_ "github.com/glebarez/go-sqlite" // sqlite driver
	"github.com/roadrunner-server/errors"
	"github.com/roadrunner-server/httpcache/storage"
)

// FileName is the database file created inside the cache directory
const FileName string = "httpcache.db"

type Driver struct {
	db *sql.DB
}

// Opener returns a storage.Opener creating (if needed) dir and the database in it.
func Opener(dir string) storage.Opener {
	return func(ctx context.Context) (storage.Driver, error) {
		return Open(ctx, dir)
	}
}

func Open(ctx context.Context, dir string) (*Driver, error) {
	const op = errors.Op("sqlite_driver_open")

	err := os.MkdirAll(dir, 0o755)
	if err != nil {
		return nil, errors.E(op, err)
	}

	db, err := sql.Open("sqlite", filepath.Join(dir, FileName))
	if err != nil {
		return nil, errors.E(op, err)
	}

	// a single writer, sqlite serializes writes anyway
	db.SetMaxOpenConns(1)

	stmts := []string{
		"PRAGMA journal_mode=WAL",
		`CREATE TABLE IF NOT EXISTS records (
			key TEXT PRIMARY KEY,
			value BLOB NOT NULL
		)`,
	}

	for _, stmt := range stmts {
		if _, err = db.ExecContext(ctx, stmt); err != nil {
			_ = db.Close()
			return nil, errors.E(op, err)
		}
	}

	return &Driver{db: db}, nil
}

func (d *Driver) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var value []byte
	err := d.db.QueryRowContext(ctx, "SELECT value FROM records WHERE key = ?", key).Scan(&value)
	if err != nil {
		if stderr.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, err
	}

	return value, true, nil
}

func (d *Driver) Put(ctx context.Context, key string, value []byte) error {
	_, err := d.db.ExecContext(ctx, "INSERT OR REPLACE INTO records (key, value) VALUES (?, ?)", key, value)
	return err
}

func (d *Driver) Remove(ctx context.Context, key string) error {
	_, err := d.db.ExecContext(ctx, "DELETE FROM records WHERE key = ?", key)
	return err
}

// Compact rebuilds the database file, reclaiming the space of removed records.
func (d *Driver) Compact(ctx context.Context) error {
	_, err := d.db.ExecContext(ctx, "VACUUM")
	return err
}

func (d *Driver) Close() error {
	return d.db.Close()
}
