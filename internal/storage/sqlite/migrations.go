package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/untoldecay/space/internal/types"
)

// Migration is one named schema evolution step beyond the baseline schema.
// Steps must be idempotent; applied names are recorded in
// schema_migrations and skipped on later opens.
type Migration struct {
	Name string
	Func func(ctx context.Context, conn *sql.Conn) error
}

// migrationsList is the ordered list of all migrations. Never reorder or
// remove entries; append only.
var migrationsList = []Migration{
	{"seed_global_project", migrateSeedGlobalProject},
	{"spawns_resumable_index", migrateSpawnsResumableIndex},
}

// runMigrations applies pending migrations under an EXCLUSIVE transaction
// so concurrent daemon and CLI opens cannot race. A pre-migration file
// snapshot is taken first; on failure it is restored and the open fails.
func (s *Store) runMigrations(ctx context.Context) error {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("failed to acquire connection for migrations: %w", err)
	}
	defer conn.Close()

	applied := make(map[string]bool)
	rows, err := conn.QueryContext(ctx, `SELECT name FROM schema_migrations`)
	if err != nil {
		return fmt.Errorf("failed to read applied migrations: %w", err)
	}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan migration name: %w", err)
		}
		applied[name] = true
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return fmt.Errorf("failed to iterate migrations: %w", err)
	}
	rows.Close()

	var pending []Migration
	for _, m := range migrationsList {
		if !applied[m.Name] {
			pending = append(pending, m)
		}
	}
	if len(pending) == 0 {
		return nil
	}

	snapshot, err := s.snapshotForMigration(ctx, conn)
	if err != nil {
		return err
	}

	// Foreign keys must be toggled outside any transaction; steps that
	// rebuild tables need them off to avoid cascading deletes.
	if _, err := conn.ExecContext(ctx, "PRAGMA foreign_keys = OFF"); err != nil {
		return fmt.Errorf("failed to disable foreign keys for migrations: %w", err)
	}
	defer func() { _, _ = conn.ExecContext(ctx, "PRAGMA foreign_keys = ON") }()

	if _, err := conn.ExecContext(ctx, "BEGIN EXCLUSIVE"); err != nil {
		return fmt.Errorf("failed to acquire exclusive lock for migrations: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_, _ = conn.ExecContext(ctx, "ROLLBACK")
		}
	}()

	for _, m := range pending {
		if err := m.Func(ctx, conn); err != nil {
			_, _ = conn.ExecContext(ctx, "ROLLBACK")
			committed = true
			if rerr := s.restoreSnapshot(snapshot); rerr != nil {
				return fmt.Errorf("migration %s failed: %v (snapshot restore also failed: %w)", m.Name, err, rerr)
			}
			return fmt.Errorf("migration %s failed, database restored from pre-migration snapshot: %w", m.Name, err)
		}
		if _, err := conn.ExecContext(ctx, `INSERT INTO schema_migrations (name, applied_at) VALUES (?, ?)`,
			m.Name, now()); err != nil {
			return fmt.Errorf("failed to record migration %s: %w", m.Name, err)
		}
	}

	if _, err := conn.ExecContext(ctx, "COMMIT"); err != nil {
		return fmt.Errorf("failed to commit migrations: %w", err)
	}
	committed = true
	s.logger.Info("applied migrations", "count", len(pending))
	_ = os.Remove(snapshot)
	return nil
}

// snapshotForMigration folds the WAL into the main file and copies it
// aside. Returns the snapshot path.
func (s *Store) snapshotForMigration(ctx context.Context, conn *sql.Conn) (string, error) {
	if _, err := conn.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		return "", fmt.Errorf("failed to checkpoint before snapshot: %w", err)
	}
	snapshot := s.path + ".premigration"
	if s.snapshotDir != "" {
		if err := os.MkdirAll(s.snapshotDir, 0o755); err == nil {
			snapshot = filepath.Join(s.snapshotDir, filepath.Base(s.path)+".premigration")
		} else {
			s.logger.Warn("snapshot dir unavailable, keeping snapshot next to database", "error", err)
		}
	}
	src, err := os.Open(s.path)
	if err != nil {
		return "", fmt.Errorf("failed to open database for snapshot: %w", err)
	}
	defer src.Close()
	dst, err := os.Create(snapshot)
	if err != nil {
		return "", fmt.Errorf("failed to create snapshot file: %w", err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return "", fmt.Errorf("failed to write snapshot: %w", err)
	}
	if err := dst.Close(); err != nil {
		return "", fmt.Errorf("failed to close snapshot: %w", err)
	}
	return snapshot, nil
}

func (s *Store) restoreSnapshot(snapshot string) error {
	src, err := os.Open(snapshot)
	if err != nil {
		return fmt.Errorf("failed to open snapshot: %w", err)
	}
	defer src.Close()
	dst, err := os.Create(s.path)
	if err != nil {
		return fmt.Errorf("failed to open database for restore: %w", err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return fmt.Errorf("failed to restore snapshot: %w", err)
	}
	if err := dst.Close(); err != nil {
		return fmt.Errorf("failed to finish restore: %w", err)
	}
	// Stale WAL and SHM files would shadow the restored image.
	_ = os.Remove(s.path + "-wal")
	_ = os.Remove(s.path + "-shm")
	return nil
}

func migrateSeedGlobalProject(ctx context.Context, conn *sql.Conn) error {
	_, err := conn.ExecContext(ctx, `
		INSERT INTO projects (id, name, type, tags, created_at)
		SELECT ?, ?, 'standard', '[]', ?
		WHERE NOT EXISTS (SELECT 1 FROM projects WHERE name = ?)`,
		types.NewID(), types.GlobalProject, now(), types.GlobalProject)
	if err != nil {
		return fmt.Errorf("failed to seed global project: %w", err)
	}
	return nil
}

func migrateSpawnsResumableIndex(ctx context.Context, conn *sql.Conn) error {
	_, err := conn.ExecContext(ctx, `
		CREATE INDEX IF NOT EXISTS idx_spawns_resumable ON spawns (agent_id, status)
		WHERE session_id IS NOT NULL AND deleted_at IS NULL`)
	if err != nil {
		return fmt.Errorf("failed to create resumable spawn index: %w", err)
	}
	return nil
}
