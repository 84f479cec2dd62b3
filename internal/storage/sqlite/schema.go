package sqlite

// Schema contains the SQL statements to create the database schema.
// Every statement is idempotent so it runs on each open.
const Schema = `
-- Memories table: base columns are indexed for recall, the variant payload
-- (vendor rule, correction rule, resolution rule) is stored as JSON.
CREATE TABLE IF NOT EXISTS memories (
    id TEXT PRIMARY KEY,
    type TEXT NOT NULL CHECK (type IN ('vendor', 'correction', 'resolution')),
    vendor TEXT NOT NULL,
    confidence REAL NOT NULL,
    usage_count INTEGER NOT NULL DEFAULT 0,

    -- Denormalised from the payload for filtering
    field_name TEXT NOT NULL DEFAULT '',
    pattern TEXT NOT NULL DEFAULT '',

    payload TEXT NOT NULL,
    active INTEGER NOT NULL DEFAULT 1,

    created_at DATETIME NOT NULL,
    last_used_at DATETIME,
    updated_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_memories_recall ON memories(vendor, type, active, confidence DESC);
CREATE INDEX IF NOT EXISTS idx_memories_field ON memories(field_name);

-- Invoices table: one row per processed invoice, used to resolve the vendor
-- when human feedback arrives.
CREATE TABLE IF NOT EXISTS invoices (
    id TEXT PRIMARY KEY,
    vendor TEXT NOT NULL,
    decision TEXT NOT NULL,
    confidence_score REAL NOT NULL,
    requires_review INTEGER NOT NULL DEFAULT 0,
    correction_count INTEGER NOT NULL DEFAULT 0,
    processed_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_invoices_vendor ON invoices(vendor);
CREATE INDEX IF NOT EXISTS idx_invoices_processed_at ON invoices(processed_at DESC);
`
