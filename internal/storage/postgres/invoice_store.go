package postgres

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

// RecordInvoice upserts the processing record for an invoice.
func (s *MemoryStore) RecordInvoice(ctx context.Context, record *storage.InvoiceRecord) error {
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
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			vendor = EXCLUDED.vendor,
			decision = EXCLUDED.decision,
			confidence_score = EXCLUDED.confidence_score,
			requires_review = EXCLUDED.requires_review,
			correction_count = EXCLUDED.correction_count,
			processed_at = EXCLUDED.processed_at
	`, record.ID, record.Vendor, string(record.Decision), record.ConfidenceScore,
		record.RequiresHumanReview, record.CorrectionCount, record.ProcessedAt.UTC())
	if err != nil {
		return fmt.Errorf("postgres: failed to record invoice: %w", err)
	}
	return nil
}

// GetInvoice retrieves a processing record by invoice ID.
func (s *MemoryStore) GetInvoice(ctx context.Context, id string) (*storage.InvoiceRecord, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: invoice ID is required", storage.ErrInvalidInput)
	}

	record, err := scanInvoice(s.db.QueryRowContext(ctx, `
		SELECT id, vendor, decision, confidence_score, requires_review, correction_count, processed_at
		FROM invoices WHERE id = $1
	`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to get invoice: %w", err)
	}
	return record, nil
}

// ListInvoices returns processing records, newest first.
func (s *MemoryStore) ListInvoices(ctx context.Context, opts storage.ListOptions) (*storage.PaginatedResult[storage.InvoiceRecord], error) {
	opts.Normalize()

	var where []string
	var args []any
	if opts.Vendor != "" {
		args = append(args, opts.Vendor)
		where = append(where, fmt.Sprintf("vendor = $%d", len(args)))
	}
	if opts.RequiresReview != nil {
		args = append(args, *opts.RequiresReview)
		where = append(where, fmt.Sprintf("requires_review = $%d", len(args)))
	}

	whereClause := ""
	if len(where) > 0 {
		whereClause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM invoices"+whereClause, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("postgres: failed to count invoices: %w", err)
	}

	query := fmt.Sprintf(`SELECT id, vendor, decision, confidence_score, requires_review, correction_count, processed_at
		FROM invoices%s ORDER BY processed_at DESC, id ASC LIMIT $%d OFFSET $%d`,
		whereClause, len(args)+1, len(args)+2)
	rows, err := s.db.QueryContext(ctx, query, append(args, opts.Limit, opts.Offset())...)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to list invoices: %w", err)
	}
	defer rows.Close()

	items := []storage.InvoiceRecord{}
	for rows.Next() {
		record, err := scanInvoice(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: failed to scan invoice: %w", err)
		}
		items = append(items, *record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: failed to iterate invoices: %w", err)
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
	if err := row.Scan(
		&record.ID,
		&record.Vendor,
		&decision,
		&record.ConfidenceScore,
		&record.RequiresHumanReview,
		&record.CorrectionCount,
		&record.ProcessedAt,
	); err != nil {
		return nil, err
	}
	record.Decision = types.Decision(decision)
	return &record, nil
}
