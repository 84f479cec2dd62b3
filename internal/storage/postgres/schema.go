// Package postgres provides PostgreSQL implementations of storage interfaces.
package postgres

// Schema contains the SQL statements to create the database schema for PostgreSQL.
const Schema = `
CREATE TABLE IF NOT EXISTS memories (
    id TEXT PRIMARY KEY,
    type TEXT NOT NULL CHECK (type IN ('vendor', 'correction', 'resolution')),
    vendor TEXT NOT NULL,
    confidence DOUBLE PRECISION NOT NULL,
    usage_count INTEGER NOT NULL DEFAULT 0,
    field_name TEXT NOT NULL DEFAULT '',
    pattern TEXT NOT NULL DEFAULT '',
    payload JSONB NOT NULL,
    active BOOLEAN NOT NULL DEFAULT TRUE,
    created_at TIMESTAMPTZ NOT NULL,
    last_used_at TIMESTAMPTZ,
    updated_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_memories_recall ON memories(vendor, type, active, confidence DESC);
CREATE INDEX IF NOT EXISTS idx_memories_field ON memories(field_name);

CREATE TABLE IF NOT EXISTS invoices (
    id TEXT PRIMARY KEY,
    vendor TEXT NOT NULL,
    decision TEXT NOT NULL,
    confidence_score DOUBLE PRECISION NOT NULL,
    requires_review BOOLEAN NOT NULL DEFAULT FALSE,
    correction_count INTEGER NOT NULL DEFAULT 0,
    processed_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_invoices_vendor ON invoices(vendor);
CREATE INDEX IF NOT EXISTS idx_invoices_processed_at ON invoices(processed_at DESC);
`
