package db

import (
	"context"
	"database/sql"
	"fmt"

	// Registers "libsql" with database/sql.
	// Handles remote URLs (libsql://, https://, wss://).
	_ "github.com/tursodatabase/libsql-client-go/libsql"

	// Import the pure-Go SQLite driver for local file: URLs.
	// libsql-client-go delegates file: URLs to this driver.
	_ "modernc.org/sqlite"
)

// driverName is the database/sql driver to use. Exported for testing only via
// package-level variable; production always uses "libsql".
var driverName = "libsql"

// Connect opens a libSQL database connection and verifies it with a ping.
//
// Supported URL schemes:
//
//	Local file:  "file:path/to/promotions.db"
//	Remote Turso: "libsql://[db-name].turso.io?authToken=[token]"
func Connect(dbURL string) (*sql.DB, error) {
	if dbURL == "" {
		return nil, fmt.Errorf("database URL must not be empty")
	}

	db, err := sql.Open(driverName, dbURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open libsql: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	return db, nil
}

// schema creates the promotions table. related holds a JSON object.
const schema = `
CREATE TABLE IF NOT EXISTS promotions (
	id         INTEGER PRIMARY KEY,
	country    TEXT NOT NULL,
	slug       TEXT NOT NULL,
	title      TEXT NOT NULL,
	content    TEXT NOT NULL DEFAULT '',
	start_date TEXT NOT NULL,
	end_date   TEXT NOT NULL DEFAULT '',
	related    TEXT NOT NULL DEFAULT '{}',
	UNIQUE (country, slug)
);
CREATE INDEX IF NOT EXISTS idx_promotions_country ON promotions (country);
`

// Migrate creates the catalog schema if it does not exist yet.
func Migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}
