// Package sqlite implements the space ledger on an embedded SQLite
// database: WAL journaling, FTS5 search, short-id resolution, and the
// transactional contracts for agents, projects, decisions, insights,
// tasks, replies, citations, and spawn rows.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ncruces/go-sqlite3"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
	"github.com/tetratelabs/wazero"
)

const (
	busyTimeoutMS       = 5000
	contentionWarnAfter = 100 * time.Millisecond
	checkpointInterval  = 60 * time.Second
)

// Store is the embedded ledger store. All domain operations are methods on
// it; writers serialize through SQLite, readers run concurrently under WAL.
type Store struct {
	db          *sql.DB
	path        string
	snapshotDir string
	logger      *slog.Logger

	checkpointMu   sync.Mutex
	lastCheckpoint time.Time

	resolvers map[string]resolverSpec
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger. Defaults to a discard-level slog logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// WithSnapshotDir sets where pre-migration snapshots are written.
// Defaults to the directory the database lives in.
func WithSnapshotDir(dir string) Option {
	return func(s *Store) { s.snapshotDir = dir }
}

// wasmOnce installs a shared wazero compilation cache next to the first
// database opened, so later opens (and daemon restarts) skip recompiling
// the embedded SQLite wasm module.
var wasmOnce sync.Once

func setupRuntime(dbPath string) {
	wasmOnce.Do(func() {
		dir := filepath.Join(filepath.Dir(dbPath), ".wasm-cache")
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return
		}
		cache, err := wazero.NewCompilationCacheWithDir(dir)
		if err != nil {
			return
		}
		sqlite3.RuntimeConfig = wazero.NewRuntimeConfig().WithCompilationCache(cache)
	})
}

// New opens (creating if needed) the database at path, applies the schema
// and any pending migrations, and registers the short-id resolvers.
func New(ctx context.Context, path string, opts ...Option) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}
	setupRuntime(path)

	// Use file: prefix as required by ncruces/go-sqlite3 driver.
	dsn := fmt.Sprintf("file:%s?_txlock=immediate&_pragma=busy_timeout(%d)&_pragma=foreign_keys(ON)&_pragma=synchronous(NORMAL)",
		path, busyTimeoutMS)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &Store{
		db:             db,
		path:           path,
		logger:         slog.New(slog.DiscardHandler),
		lastCheckpoint: time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	if err := s.runMigrations(ctx); err != nil {
		db.Close()
		return nil, err
	}
	s.registerResolvers()
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string { return s.path }

// withTx runs fn inside a write transaction: commit on nil return,
// rollback otherwise. Acquisition slower than 100ms logs a contention
// warning. After a commit, the WAL is checkpointed opportunistically when
// the last checkpoint is older than a minute.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	start := time.Now()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if elapsed := time.Since(start); elapsed > contentionWarnAfter {
		s.logger.Warn("slow transaction acquisition", "elapsed", elapsed, "db", s.path)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && rbErr != sql.ErrTxDone {
			s.logger.Warn("rollback failed", "error", rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	s.maybeCheckpoint(ctx)
	return nil
}

// withSavepoint nests fn inside a named savepoint on an open transaction.
func withSavepoint(tx *sql.Tx, name string, fn func() error) error {
	if _, err := tx.Exec("SAVEPOINT " + name); err != nil {
		return fmt.Errorf("failed to open savepoint %s: %w", name, err)
	}
	if err := fn(); err != nil {
		_, _ = tx.Exec("ROLLBACK TO " + name)
		_, _ = tx.Exec("RELEASE " + name)
		return err
	}
	if _, err := tx.Exec("RELEASE " + name); err != nil {
		return fmt.Errorf("failed to release savepoint %s: %w", name, err)
	}
	return nil
}

func (s *Store) maybeCheckpoint(ctx context.Context) {
	s.checkpointMu.Lock()
	due := time.Since(s.lastCheckpoint) >= checkpointInterval
	if due {
		s.lastCheckpoint = time.Now()
	}
	s.checkpointMu.Unlock()
	if !due {
		return
	}
	if _, err := s.db.ExecContext(ctx, "PRAGMA wal_checkpoint(PASSIVE)"); err != nil {
		s.logger.Debug("wal checkpoint failed", "error", err)
	}
}

// now returns the canonical write timestamp: UTC, millisecond precision.
func now() time.Time {
	return time.Now().UTC().Truncate(time.Millisecond)
}

// timePtr converts a NullTime scan into the pointer form the types use.
func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

// strOrNull converts "" to NULL for columns where empty means absent.
func strOrNull(v string) any {
	if v == "" {
		return nil
	}
	return v
}
