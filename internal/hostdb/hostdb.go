// Package hostdb is the standalone host adapter: a SQLite-backed settings
// store and device registry implementing the facade contract. It stands in
// for the smart-home host when the runtime runs outside one.
package hostdb

import (
	"database/sql"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite" // pure-Go SQLite driver

	"github.com/halcyon-home/halcyon/internal/clock"
)

// Host implements facade.Facade on top of host.db.
type Host struct {
	db  *sql.DB
	clk clock.Clock

	// Serializes writes; reads go through database/sql directly.
	mu sync.Mutex
}

type hostCloser struct {
	db *sql.DB
}

func (c *hostCloser) Close() error { return c.db.Close() }

// Bootstrap opens (or creates) host.db under stateDir, applies migrations,
// and returns a ready Host plus a closer for the DB handle.
func Bootstrap(stateDir string, clk clock.Clock) (*Host, io.Closer, error) {
	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return nil, nil, fmt.Errorf("create state dir %s: %w", stateDir, err)
	}

	db, err := OpenDB(filepath.Join(stateDir, "host.db"))
	if err != nil {
		return nil, nil, fmt.Errorf("open host.db: %w", err)
	}
	if err := MigrateHostDB(db); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("migrate host.db: %w", err)
	}
	return &Host{db: db, clk: clk}, &hostCloser{db: db}, nil
}

// OpenDB opens a SQLite database with the recommended pragmas.
func OpenDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open db %s: %w", path, err)
	}

	// Single-writer: only one connection needed.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("exec %q on %s: %w", p, path, err)
		}
	}
	return db, nil
}
