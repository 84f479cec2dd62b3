package backup

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // SQLite driver
)

func openDB(ctx context.Context, path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}
	return db, nil
}

// vacuumInto writes a compacted, transactionally consistent copy of src to
// dst. Writers on other connections are not blocked for longer than the copy.
func vacuumInto(ctx context.Context, src, dst string) error {
	db, err := openDB(ctx, src)
	if err != nil {
		return err
	}
	defer db.Close()

	if _, err := db.ExecContext(ctx, "VACUUM INTO ?", dst); err != nil {
		_ = os.Remove(dst)
		return fmt.Errorf("failed to snapshot database: %w", err)
	}
	return nil
}

// verify checks the integrity of the database at path and returns the number
// of active memories it holds.
func verify(ctx context.Context, path string) (int, error) {
	// Opening a missing path would create an empty database.
	if _, err := os.Stat(path); err != nil {
		return 0, fmt.Errorf("snapshot not found: %w", err)
	}

	db, err := openDB(ctx, path)
	if err != nil {
		return 0, err
	}
	defer db.Close()

	var result string
	if err := db.QueryRowContext(ctx, "PRAGMA integrity_check").Scan(&result); err != nil {
		return 0, fmt.Errorf("integrity check failed: %w", err)
	}
	if result != "ok" {
		return 0, fmt.Errorf("integrity check failed: %s", result)
	}

	var active int
	if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM memories WHERE active = 1").Scan(&active); err != nil {
		return 0, fmt.Errorf("not a memory database: %w", err)
	}
	return active, nil
}

// replaceFile copies src over dst through a temporary file in dst's
// directory, so dst is either the old or the new database.
func replaceFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open snapshot: %w", err)
	}
	defer in.Close()

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".restore-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, in); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to copy snapshot: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return fmt.Errorf("failed to replace database: %w", err)
	}
	return nil
}
