package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/scrypster/invoice-memory/internal/storage"
	"github.com/scrypster/invoice-memory/pkg/types"
)

// InvoiceStore implements storage.InvoiceStore on a SQLite connection shared
// with the MemoryStore.
type InvoiceStore struct {
	db *sql.DB
}

// NewInvoiceStore creates an invoice store on db. The schema must already
// exist (NewMemoryStore creates it).
func NewInvoiceStore(db *sql.DB) *InvoiceStore {
	return &InvoiceStore{db: db}
}

// RecordInvoice upserts the processing record for an invoice.
func (s *InvoiceStore) RecordInvoice(ctx context.Context, record *storage.InvoiceRecord) error {
	if record == nil || record.ID == "" {
		return fmt.Errorf("%w: invoice ID is required", storage.ErrInvalidInput)
	}
	if record.Vendor == "" {
		return fmt.Errorf("%w: invoice vendor is required", storage.ErrInvalidInput)
	}
	if record.ProcessedAt.IsZero() {
		record.ProcessedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO invoices (id, vendor, decision, confidence_score, requires_review, correction_count, processed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			vendor = excluded.vendor,
			decision = excluded.decision,
			confidence_score = excluded.confidence_score,
			requires_review = excluded.requires_review,
			correction_count = excluded.correction_count,
			processed_at = excluded.processed_at
	`,
		record.ID,
		record.Vendor,
		string(record.Decision),
		record.ConfidenceScore,
		record.RequiresHumanReview,
		record.CorrectionCount,
		record.ProcessedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("sqlite: failed to record invoice: %w", err)
	}
	return nil
}

// GetInvoice retrieves a processing record by invoice ID.
func (s *InvoiceStore) GetInvoice(ctx context.Context, id string) (*storage.InvoiceRecord, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: invoice ID is required", storage.ErrInvalidInput)
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT id, vendor, decision, confidence_score, requires_review, correction_count, processed_at
		FROM invoices WHERE id = ?
	`, id)

	record, err := scanInvoice(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to get invoice: %w", err)
	}
	return record, nil
}

// ListInvoices returns processing records, newest first.
func (s *InvoiceStore) ListInvoices(ctx context.Context, opts storage.ListOptions) (*storage.PaginatedResult[storage.InvoiceRecord], error) {
	opts.Normalize()

	var where []string
	var args []any
	if opts.Vendor != "" {
		where = append(where, "vendor = ?")
		args = append(args, opts.Vendor)
	}
	if opts.RequiresReview != nil {
		where = append(where, "requires_review = ?")
		args = append(args, *opts.RequiresReview)
	}

	whereClause := ""
	if len(where) > 0 {
		whereClause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM invoices"+whereClause, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("sqlite: failed to count invoices: %w", err)
	}

	query := `SELECT id, vendor, decision, confidence_score, requires_review, correction_count, processed_at
		FROM invoices` + whereClause + ` ORDER BY processed_at DESC, id ASC LIMIT ? OFFSET ?`
	rows, err := s.db.QueryContext(ctx, query, append(args, opts.Limit, opts.Offset())...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to list invoices: %w", err)
	}
	defer rows.Close()

	items := []storage.InvoiceRecord{}
	for rows.Next() {
		record, err := scanInvoice(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: failed to scan invoice: %w", err)
		}
		items = append(items, *record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: failed to iterate invoices: %w", err)
	}

	return &storage.PaginatedResult[storage.InvoiceRecord]{
		Items:    items,
		Total:    total,
		Page:     opts.Page,
		PageSize: opts.Limit,
		HasMore:  opts.Offset()+len(items) < total,
	}, nil
}

func scanInvoice(row rowScanner) (*storage.InvoiceRecord, error) {
	var record storage.InvoiceRecord
	var decision string
	err := row.Scan(
		&record.ID,
		&record.Vendor,
		&decision,
		&record.ConfidenceScore,
		&record.RequiresHumanReview,
		&record.CorrectionCount,
		&record.ProcessedAt,
	)
	if err != nil {
		return nil, err
	}
	record.Decision = types.Decision(decision)
	return &record, nil
}
