// Package backup takes periodic point-in-time snapshots of the SQLite
// database. Memories are slowly accumulated user state that cannot be
// re-derived from anywhere, so losing the store means the companion
// forgets everyone.
package backup

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// Config controls the snapshot service.
type Config struct {
	// SourcePath is the live SQLite database file.
	SourcePath string

	// Dir is where snapshots are written (created if missing).
	Dir string

	// Interval between snapshots (default: 24h).
	Interval time.Duration

	// Keep is how many snapshots to retain, newest first (default: 14).
	Keep int

	// Verify runs an integrity check on each new snapshot (default on
	// via NewService).
	Verify bool
}

// Snapshot describes one backup file on disk.
type Snapshot struct {
	Path      string
	CreatedAt time.Time
	Size      int64
}

// Service snapshots the database on a fixed interval.
type Service struct {
	config Config
}

// NewService creates a snapshot service.
func NewService(config Config) (*Service, error) {
	if config.SourcePath == "" {
		return nil, fmt.Errorf("backup: source path is required")
	}
	if config.Dir == "" {
		return nil, fmt.Errorf("backup: backup directory is required")
	}
	if config.Interval == 0 {
		config.Interval = 24 * time.Hour
	}
	if config.Keep == 0 {
		config.Keep = 14
	}
	if err := os.MkdirAll(config.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("backup: create backup directory: %w", err)
	}
	return &Service{config: config}, nil
}

// Run snapshots on the configured interval until ctx is cancelled. The
// first snapshot is taken immediately.
func (s *Service) Run(ctx context.Context) {
	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		if snap, err := s.RunOnce(ctx); err != nil {
			log.Printf("ERROR: Backup failed: %v", err)
		} else {
			log.Printf("Backup written: %s (%d bytes)", snap.Path, snap.Size)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// RunOnce takes a single snapshot, verifies it when configured, and
// prunes old snapshots past the retention count.
func (s *Service) RunOnce(ctx context.Context) (*Snapshot, error) {
	// Nanosecond precision keeps names unique even for back-to-back runs.
	name := fmt.Sprintf("soullink-%s.db", time.Now().UTC().Format("20060102-150405.000000000"))
	destPath := filepath.Join(s.config.Dir, name)

	if err := snapshotSQLite(ctx, s.config.SourcePath, destPath); err != nil {
		// A partial file would be picked up by List and retention.
		os.Remove(destPath)
		return nil, err
	}

	if s.config.Verify {
		if err := VerifySnapshot(ctx, destPath); err != nil {
			os.Remove(destPath)
			return nil, err
		}
	}

	if err := s.prune(); err != nil {
		log.Printf("WARNING: Backup retention: %v", err)
	}

	info, err := os.Stat(destPath)
	if err != nil {
		return nil, fmt.Errorf("backup: stat snapshot: %w", err)
	}
	return &Snapshot{Path: destPath, CreatedAt: info.ModTime(), Size: info.Size()}, nil
}

// List returns the snapshots on disk, newest first.
func (s *Service) List() ([]Snapshot, error) {
	entries, err := os.ReadDir(s.config.Dir)
	if err != nil {
		return nil, fmt.Errorf("backup: read backup directory: %w", err)
	}

	var snapshots []Snapshot
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".db") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		snapshots = append(snapshots, Snapshot{
			Path:      filepath.Join(s.config.Dir, entry.Name()),
			CreatedAt: info.ModTime(),
			Size:      info.Size(),
		})
	}

	sort.Slice(snapshots, func(i, j int) bool {
		return snapshots[i].CreatedAt.After(snapshots[j].CreatedAt)
	})
	return snapshots, nil
}

// prune deletes snapshots beyond the retention count, oldest first.
func (s *Service) prune() error {
	snapshots, err := s.List()
	if err != nil {
		return err
	}
	if len(snapshots) <= s.config.Keep {
		return nil
	}

	var lastErr error
	for _, snap := range snapshots[s.config.Keep:] {
		if err := os.Remove(snap.Path); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

// snapshotSQLite writes a consistent copy of the database. VACUUM INTO
// produces a point-in-time snapshot that is correct under WAL mode with
// concurrent writers.
func snapshotSQLite(ctx context.Context, sourcePath, destPath string) error {
	db, err := sql.Open("sqlite", fmt.Sprintf("file:%s?mode=ro", sourcePath))
	if err != nil {
		return fmt.Errorf("backup: open source database: %w", err)
	}
	defer db.Close()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("backup: ping source database: %w", err)
	}
	if _, err := db.ExecContext(ctx, fmt.Sprintf("VACUUM INTO '%s'", destPath)); err != nil {
		return fmt.Errorf("backup: vacuum into snapshot: %w", err)
	}
	return nil
}

// VerifySnapshot opens the snapshot and runs SQLite's integrity check.
func VerifySnapshot(ctx context.Context, path string) error {
	db, err := sql.Open("sqlite", fmt.Sprintf("file:%s?mode=ro", path))
	if err != nil {
		return fmt.Errorf("backup: open snapshot: %w", err)
	}
	defer db.Close()

	var result string
	if err := db.QueryRowContext(ctx, "PRAGMA integrity_check").Scan(&result); err != nil {
		return fmt.Errorf("backup: integrity check: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("backup: integrity check failed: %s", result)
	}
	return nil
}
