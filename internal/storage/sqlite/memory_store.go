// Package sqlite provides a SQLite implementation of the storage interfaces.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	_ "modernc.org/sqlite" // SQLite driver

	"github.com/scrypster/invoice-memory/internal/storage"
	"github.com/scrypster/invoice-memory/pkg/types"
)

// MemoryStore implements storage.MemoryStore using SQLite.
type MemoryStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewMemoryStore creates a new SQLite memory store with WAL self-healing.
// If the initial open fails due to stale WAL files (left behind by a crashed
// process), it verifies no other process holds them and retries once after
// removing the stale -shm/-wal files.
func NewMemoryStore(dsn string) (*MemoryStore, error) {
	store, err := openMemoryStore(dsn)
	if err == nil {
		return store, nil
	}

	if !isRecoverableWALError(err) {
		return nil, err
	}

	dbPath := dbPathFromDSN(dsn)
	if dbPath == "" || !isWALStale(dbPath) {
		return nil, err
	}

	removeStaleWAL(dbPath)

	store, retryErr := openMemoryStore(dsn)
	if retryErr != nil {
		return nil, fmt.Errorf("failed after WAL recovery: %w (original: %v)", retryErr, err)
	}

	log.Info("sqlite: recovered from stale WAL files", "path", dbPath)
	return store, nil
}

// openMemoryStore opens a SQLite database, configures WAL mode, and creates the schema.
func openMemoryStore(dsn string) (*MemoryStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only supports one concurrent writer. A single connection
	// serialises writes and keeps ":memory:" databases on one handle.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys=ON",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", p, err)
		}
	}

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &MemoryStore{db: db, now: time.Now}, nil
}

// GetDB returns the underlying connection so other stores can share it.
func (s *MemoryStore) GetDB() *sql.DB {
	return s.db
}

// Save creates or updates a memory (upsert semantics).
func (s *MemoryStore) Save(ctx context.Context, memory *types.Memory) error {
	if err := storage.ValidateForSave(memory); err != nil {
		return err
	}

	payload, err := storage.EncodePayload(memory)
	if err != nil {
		return err
	}

	now := s.now().UTC()
	if memory.CreatedAt.IsZero() {
		memory.CreatedAt = now
	}
	if memory.UpdatedAt.IsZero() {
		memory.UpdatedAt = now
	}

	query := `
		INSERT INTO memories (
			id, type, vendor, confidence, usage_count,
			field_name, pattern, payload, active,
			created_at, last_used_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			type = excluded.type,
			vendor = excluded.vendor,
			confidence = excluded.confidence,
			usage_count = excluded.usage_count,
			field_name = excluded.field_name,
			pattern = excluded.pattern,
			payload = excluded.payload,
			active = excluded.active,
			last_used_at = excluded.last_used_at,
			updated_at = excluded.updated_at
	`

	_, err = s.db.ExecContext(ctx, query,
		memory.ID,
		string(memory.Type),
		memory.Vendor,
		types.ClampConfidence(memory.Confidence),
		memory.UsageCount,
		memory.FieldName(),
		memory.Pattern(),
		string(payload),
		memory.Active,
		memory.CreatedAt.UTC(),
		nullableTime(memory.LastUsedAt),
		memory.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("sqlite: failed to save memory: %w", err)
	}
	return nil
}

const selectColumns = `
	id, type, vendor, confidence, usage_count, payload, active,
	created_at, last_used_at, updated_at
`

// Get retrieves a memory by ID, including inactive memories.
func (s *MemoryStore) Get(ctx context.Context, id string) (*types.Memory, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: memory ID is required", storage.ErrInvalidInput)
	}

	row := s.db.QueryRowContext(ctx, "SELECT "+selectColumns+" FROM memories WHERE id = ?", id)
	memory, err := scanMemory(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to get memory: %w", err)
	}
	return memory, nil
}

// Query returns active memories matching filter, ordered by confidence then usage.
func (s *MemoryStore) Query(ctx context.Context, filter storage.QueryFilter) ([]*types.Memory, error) {
	filter.Normalize()

	where := []string{"active = 1", "confidence >= ?"}
	args := []any{filter.MinConfidence}

	if filter.Vendor != "" {
		where = append(where, "vendor = ?")
		args = append(args, filter.Vendor)
	}
	if filter.Type != "" {
		where = append(where, "type = ?")
		args = append(args, string(filter.Type))
	}
	if filter.FieldName != "" {
		where = append(where, "field_name = ?")
		args = append(args, filter.FieldName)
	}
	if filter.Pattern != "" {
		where = append(where, "instr(pattern, ?) > 0")
		args = append(args, filter.Pattern)
	}

	query := "SELECT " + selectColumns + " FROM memories WHERE " + strings.Join(where, " AND ") +
		" ORDER BY confidence DESC, usage_count DESC, id ASC LIMIT ?"
	args = append(args, filter.Limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to query memories: %w", err)
	}
	defer rows.Close()

	var memories []*types.Memory
	for rows.Next() {
		memory, err := scanMemory(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: failed to scan memory: %w", err)
		}
		memories = append(memories, memory)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: failed to iterate memories: %w", err)
	}
	return memories, nil
}

// UpdateConfidence overwrites the stored confidence, clamped to bounds.
func (s *MemoryStore) UpdateConfidence(ctx context.Context, id string, confidence float64) error {
	return s.execOne(ctx, "update confidence",
		"UPDATE memories SET confidence = ?, updated_at = ? WHERE id = ?",
		types.ClampConfidence(confidence), s.now().UTC(), id)
}

// TouchUsage increments usage_count and sets last_used_at.
func (s *MemoryStore) TouchUsage(ctx context.Context, id string) error {
	now := s.now().UTC()
	return s.execOne(ctx, "touch usage",
		"UPDATE memories SET usage_count = usage_count + 1, last_used_at = ?, updated_at = ? WHERE id = ?",
		now, now, id)
}

// Deactivate marks a memory inactive.
func (s *MemoryStore) Deactivate(ctx context.Context, id string) error {
	return s.execOne(ctx, "deactivate memory",
		"UPDATE memories SET active = 0, updated_at = ? WHERE id = ?",
		s.now().UTC(), id)
}

// Close closes the database connection.
func (s *MemoryStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// execOne runs a single-row update and maps zero affected rows to ErrNotFound.
func (s *MemoryStore) execOne(ctx context.Context, op, query string, args ...any) error {
	if id, _ := args[len(args)-1].(string); id == "" {
		return fmt.Errorf("%w: memory ID is required", storage.ErrInvalidInput)
	}

	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("sqlite: failed to %s: %w", op, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: failed to check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMemory(row rowScanner) (*types.Memory, error) {
	var (
		memory     types.Memory
		memType    string
		payload    string
		lastUsedAt sql.NullTime
	)

	err := row.Scan(
		&memory.ID,
		&memType,
		&memory.Vendor,
		&memory.Confidence,
		&memory.UsageCount,
		&payload,
		&memory.Active,
		&memory.CreatedAt,
		&lastUsedAt,
		&memory.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	memory.Type = types.MemoryType(memType)
	if lastUsedAt.Valid {
		memory.LastUsedAt = lastUsedAt.Time
	}
	if err := storage.DecodePayload(&memory, []byte(payload)); err != nil {
		return nil, err
	}
	return &memory, nil
}

// nullableTime converts a zero time to SQL NULL.
func nullableTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{Valid: false}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}
