// RacePulse - Race Event Analytics and Live Timing Ingestion
// Copyright 2026 J. Thom (jthom32)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jthom32/racepulse

// Package database provides DuckDB-backed storage for RacePulse: tracks,
// events, races, drivers, laps, weather samples, users, and ingest runs,
// plus the analytics queries behind /api/v1/analytics.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	_ "github.com/duckdb/duckdb-go/v2"

	"github.com/jthom32/racepulse/internal/config"
	"github.com/jthom32/racepulse/internal/logging"
)

// DB wraps the DuckDB connection and provides data access methods.
type DB struct {
	conn *sql.DB
	cfg  *config.DatabaseConfig

	// Prepared statement caching for hot-path inserts.
	stmtCache   map[string]*sql.Stmt
	stmtCacheMu sync.RWMutex
}

// New creates a database connection and initializes the schema.
func New(cfg *config.DatabaseConfig) (*DB, error) {
	numThreads := cfg.Threads
	if numThreads <= 0 {
		numThreads = runtime.NumCPU()
	}

	// Ensure parent directory exists for the database file.
	// 0750 per gosec G301.
	if dbDir := filepath.Dir(cfg.Path); dbDir != "" && dbDir != "." {
		if err := os.MkdirAll(dbDir, 0o750); err != nil {
			return nil, fmt.Errorf("failed to create database directory %s: %w", dbDir, err)
		}
	}

	// Disable auto-install/auto-load of extensions to prevent hangs in
	// restricted network environments.
	connStr := fmt.Sprintf("%s?access_mode=read_write&threads=%d&max_memory=%s&autoinstall_known_extensions=false&autoload_known_extensions=false",
		cfg.Path, numThreads, cfg.MaxMemory)

	conn, err := sql.Open("duckdb", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db := &DB{
		conn:      conn,
		cfg:       cfg,
		stmtCache: make(map[string]*sql.Stmt),
	}

	db.configureConnectionPool()

	if err := db.initialize(); err != nil {
		closeQuietly(conn)
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	return db, nil
}

// configureConnectionPool applies pool settings:
//   - max_open: NumCPU() for parallelism
//   - max_idle: 2 for connection reuse
//   - max_lifetime: 1h to prevent stale connections
func (db *DB) configureConnectionPool() {
	db.conn.SetMaxOpenConns(runtime.NumCPU())
	db.conn.SetMaxIdleConns(2)
	db.conn.SetConnMaxLifetime(time.Hour)
	db.conn.SetConnMaxIdleTime(5 * time.Minute)
}

// initialize creates tables, indexes, and optional demo data.
func (db *DB) initialize() error {
	if err := db.createTables(); err != nil {
		return err
	}
	if err := db.createIndexes(); err != nil {
		return err
	}
	if db.cfg.SeedDemo {
		ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
		defer cancel()
		if err := db.SeedDemoData(ctx); err != nil {
			return fmt.Errorf("failed to seed demo data: %w", err)
		}
	}
	return nil
}

// Conn returns the underlying SQL database connection. Used by packages
// that need direct access, such as the audit store.
func (db *DB) Conn() *sql.DB {
	return db.conn
}

// Ping checks if the database connection is alive.
func (db *DB) Ping(ctx context.Context) error {
	if db.conn == nil {
		return fmt.Errorf("database connection is nil")
	}
	return db.conn.PingContext(ctx)
}

// Checkpoint forces a WAL flush to the main database file.
func (db *DB) Checkpoint(ctx context.Context) error {
	_, err := db.conn.ExecContext(ctx, "CHECKPOINT")
	return err
}

// Close closes all prepared statements, checkpoints the WAL, and closes
// the connection.
func (db *DB) Close() error {
	db.stmtCacheMu.Lock()
	for _, stmt := range db.stmtCache {
		if stmt != nil {
			closeWithLog(stmt, "prepared statement")
		}
	}
	db.stmtCache = make(map[string]*sql.Stmt)
	db.stmtCacheMu.Unlock()

	if db.conn != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := db.Checkpoint(ctx); err != nil {
			logging.Warn().Err(err).Msg("Failed to checkpoint database before close")
		}
		return db.conn.Close()
	}
	return nil
}

// getCachedStmt returns a prepared statement for the query, preparing and
// caching it on first use.
func (db *DB) getCachedStmt(ctx context.Context, query string) (*sql.Stmt, error) {
	db.stmtCacheMu.RLock()
	stmt, ok := db.stmtCache[query]
	db.stmtCacheMu.RUnlock()
	if ok {
		return stmt, nil
	}

	db.stmtCacheMu.Lock()
	defer db.stmtCacheMu.Unlock()
	// Another goroutine may have prepared it while we waited for the lock.
	if stmt, ok := db.stmtCache[query]; ok {
		return stmt, nil
	}
	stmt, err := db.conn.PrepareContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare statement: %w", err)
	}
	db.stmtCache[query] = stmt
	return stmt, nil
}
