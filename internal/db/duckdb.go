// Package db wraps the embedded DuckDB used for GeoParquet sources and ad
// hoc queries.
package db

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	_ "github.com/marcboeker/go-duckdb"
)

var (
	instance *sql.DB
	once     sync.Once
	initErr  error
)

// Config holds database configuration.
type Config struct {
	DataDir string
	DBName  string
	Logger  *slog.Logger
}

// Get returns the shared DuckDB connection, opening it on first use with
// the spatial and parquet extensions loaded.
func Get(cfg Config) (*sql.DB, error) {
	once.Do(func() {
		logger := cfg.Logger
		if logger == nil {
			logger = slog.New(slog.DiscardHandler)
		}
		if cfg.DBName == "" {
			cfg.DBName = "siteplan"
		}
		duckdbDir := filepath.Join(cfg.DataDir, "duckdb")
		if err := os.MkdirAll(duckdbDir, 0755); err != nil {
			initErr = fmt.Errorf("failed to create duckdb directory: %w", err)
			return
		}

		dbPath := filepath.Join(duckdbDir, cfg.DBName+".duckdb")
		instance, initErr = sql.Open("duckdb", dbPath)
		if initErr != nil {
			return
		}

		for _, ext := range []string{"spatial", "parquet"} {
			if _, err := instance.Exec(fmt.Sprintf("INSTALL %s; LOAD %s;", ext, ext)); err != nil {
				// Offline hosts may already have the extension cached.
				logger.Warn("duckdb extension not loaded", "extension", ext, "error", err)
			}
		}
	})
	return instance, initErr
}

// Close closes the database connection.
func Close() error {
	if instance != nil {
		return instance.Close()
	}
	return nil
}

// Query executes a query and returns rows.
func Query(db *sql.DB, query string, args ...any) (*sql.Rows, error) {
	return db.Query(query, args...)
}

// Exec executes a statement.
func Exec(db *sql.DB, query string, args ...any) (sql.Result, error) {
	return db.Exec(query, args...)
}
