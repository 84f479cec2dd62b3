// Package backup takes point-in-time snapshots of the SQLite memory database
// so learned vendor memories survive a bad feedback batch or a lost disk.
package backup

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/log"
)

const (
	filePrefix      = "invoicemem-"
	fileSuffix      = ".db"
	timestampLayout = "20060102-150405.000000"

	// DefaultKeep is the number of snapshots retained when Config.Keep is unset.
	DefaultKeep = 10
)

// ErrNoDatabase is returned when the database file does not exist yet.
var ErrNoDatabase = errors.New("database file not found")

// Config configures a Snapshotter.
type Config struct {
	// DBPath is the SQLite database file to snapshot.
	DBPath string

	// Dir receives the snapshot files.
	Dir string

	// Keep is the number of newest snapshots retained after each Create.
	Keep int
}

// Snapshot describes one snapshot file.
type Snapshot struct {
	Path      string    `json:"path"`
	CreatedAt time.Time `json:"created_at"`
	Size      int64     `json:"size"`

	// ActiveMemories is the number of active memories in the snapshot. It is
	// only filled in by Create and Verify.
	ActiveMemories int `json:"active_memories,omitempty"`
}

// Snapshotter creates, lists, prunes and restores snapshots.
type Snapshotter struct {
	dbPath string
	dir    string
	keep   int
	logger *log.Logger
	now    func() time.Time
}

// New creates a Snapshotter and its snapshot directory.
func New(cfg Config, logger *log.Logger) (*Snapshotter, error) {
	if cfg.DBPath == "" {
		return nil, fmt.Errorf("database path is required")
	}
	if cfg.Dir == "" {
		return nil, fmt.Errorf("snapshot directory is required")
	}
	if cfg.Keep < 1 {
		cfg.Keep = DefaultKeep
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create snapshot directory: %w", err)
	}
	if logger == nil {
		logger = log.Default()
	}

	return &Snapshotter{
		dbPath: cfg.DBPath,
		dir:    cfg.Dir,
		keep:   cfg.Keep,
		logger: logger.WithPrefix("backup"),
		now:    time.Now,
	}, nil
}

// Create writes a verified snapshot and prunes old ones. A failed
// verification removes the partial file.
func (s *Snapshotter) Create(ctx context.Context) (*Snapshot, error) {
	if _, err := os.Stat(s.dbPath); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrNoDatabase, s.dbPath)
	}

	createdAt := s.now().UTC()
	path := filepath.Join(s.dir, filePrefix+createdAt.Format(timestampLayout)+fileSuffix)

	if err := vacuumInto(ctx, s.dbPath, path); err != nil {
		return nil, err
	}
	active, err := verify(ctx, path)
	if err != nil {
		_ = os.Remove(path)
		return nil, err
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat snapshot: %w", err)
	}

	snap := &Snapshot{Path: path, CreatedAt: createdAt, Size: info.Size(), ActiveMemories: active}
	s.logger.Info("snapshot created", "path", path, "size", snap.Size, "active_memories", active)

	if removed, err := s.prune(); err != nil {
		s.logger.Warn("failed to prune snapshots", "err", err)
	} else if removed > 0 {
		s.logger.Debug("pruned snapshots", "removed", removed)
	}
	return snap, nil
}

// List returns the snapshots in the directory, newest first. Files that do
// not follow the snapshot naming scheme are ignored.
func (s *Snapshotter) List() ([]Snapshot, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot directory: %w", err)
	}

	var snaps []Snapshot
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, filePrefix) || !strings.HasSuffix(name, fileSuffix) {
			continue
		}
		stamp := strings.TrimSuffix(strings.TrimPrefix(name, filePrefix), fileSuffix)
		createdAt, err := time.Parse(timestampLayout, stamp)
		if err != nil {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		snaps = append(snaps, Snapshot{
			Path:      filepath.Join(s.dir, name),
			CreatedAt: createdAt,
			Size:      info.Size(),
		})
	}

	sort.Slice(snaps, func(i, j int) bool {
		return snaps[i].CreatedAt.After(snaps[j].CreatedAt)
	})
	return snaps, nil
}

// Verify runs an integrity check on a snapshot and counts its active memories.
func (s *Snapshotter) Verify(ctx context.Context, path string) (*Snapshot, error) {
	active, err := verify(ctx, path)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	return &Snapshot{Path: path, CreatedAt: info.ModTime().UTC(), Size: info.Size(), ActiveMemories: active}, nil
}

// Restore replaces the database with a verified snapshot. Nothing may hold
// the database open while it runs.
func (s *Snapshotter) Restore(ctx context.Context, path string) error {
	if _, err := verify(ctx, path); err != nil {
		return fmt.Errorf("snapshot verification failed: %w", err)
	}
	if err := replaceFile(path, s.dbPath); err != nil {
		return err
	}
	// Stale WAL files would be replayed over the restored pages.
	for _, suffix := range []string{"-wal", "-shm"} {
		if err := os.Remove(s.dbPath + suffix); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove %s: %w", suffix, err)
		}
	}

	s.logger.Info("database restored", "from", path)
	return nil
}

// Run takes a snapshot every interval until ctx is done.
func (s *Snapshotter) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Create(ctx); err != nil && ctx.Err() == nil {
				s.logger.Error("scheduled snapshot failed", "err", err)
			}
		}
	}
}

// prune removes all but the newest keep snapshots.
func (s *Snapshotter) prune() (int, error) {
	snaps, err := s.List()
	if err != nil {
		return 0, err
	}
	if len(snaps) <= s.keep {
		return 0, nil
	}

	var errs []error
	removed := 0
	for _, snap := range snaps[s.keep:] {
		if err := os.Remove(snap.Path); err != nil {
			errs = append(errs, err)
			continue
		}
		removed++
	}
	return removed, errors.Join(errs...)
}
