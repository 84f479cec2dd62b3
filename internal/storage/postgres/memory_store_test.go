package postgres_test

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/invoice-memory/internal/storage"
	"github.com/scrypster/invoice-memory/internal/storage/postgres"
	"github.com/scrypster/invoice-memory/pkg/types"
)

// Compile-time interface checks.
var (
	_ storage.MemoryStore  = (*postgres.MemoryStore)(nil)
	_ storage.InvoiceStore = (*postgres.MemoryStore)(nil)
)

// postgresTestDSN returns the DSN for the test database.
// If INVOICEMEM_TEST_POSTGRES_DSN is not set, tests are skipped.
func postgresTestDSN(t *testing.T) string {
	t.Helper()

	dsn := os.Getenv("INVOICEMEM_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("INVOICEMEM_TEST_POSTGRES_DSN not set; skipping PostgreSQL integration tests")
	}
	return dsn
}

func newTestStore(t *testing.T) *postgres.MemoryStore {
	t.Helper()

	store, err := postgres.NewMemoryStore(postgresTestDSN(t))
	require.NoError(t, err, "NewMemoryStore should succeed")
	require.NoError(t, store.TruncateForTest(context.Background()))

	t.Cleanup(func() {
		store.Close()
	})
	return store
}

func newCorrection(id string, confidence float64) *types.Memory {
	return &types.Memory{
		ID:         id,
		Type:       types.MemoryTypeCorrection,
		Vendor:     "Parts AG",
		Confidence: confidence,
		Active:     true,
		CorrectionRule: &types.CorrectionRule{
			FieldName:       "currency",
			OriginalPattern: types.HumanCorrectionPattern,
			CorrectedValue:  "EUR",
		},
	}
}

func TestPostgres_SaveQueryDeactivate(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, newCorrection("c-1", 0.8)))
	require.NoError(t, store.Save(ctx, newCorrection("c-2", 0.5)))

	got, err := store.Query(ctx, storage.QueryFilter{Vendor: "Parts AG", Type: types.MemoryTypeCorrection, FieldName: "currency", MinConfidence: 0.3})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "c-1", got[0].ID)
	assert.Equal(t, "EUR", got[0].CorrectionRule.CorrectedValue)

	require.NoError(t, store.Deactivate(ctx, "c-1"))
	got, err = store.Query(ctx, storage.QueryFilter{Vendor: "Parts AG"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "c-2", got[0].ID)
}

func TestPostgres_TouchUsageAndConfidence(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, newCorrection("c-1", 0.5)))
	require.NoError(t, store.TouchUsage(ctx, "c-1"))
	require.NoError(t, store.UpdateConfidence(ctx, "c-1", 2.0))

	got, err := store.Get(ctx, "c-1")
	require.NoError(t, err)
	assert.Equal(t, 1, got.UsageCount)
	assert.False(t, got.LastUsedAt.IsZero())
	assert.Equal(t, types.MaxConfidence, got.Confidence)

	assert.ErrorIs(t, store.TouchUsage(ctx, "missing"), storage.ErrNotFound)
}

func TestPostgres_InvoiceRecords(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.RecordInvoice(ctx, &storage.InvoiceRecord{
		ID:       "INV-1",
		Vendor:   "Parts AG",
		Decision: types.DecisionEscalate,
	}))

	rec, err := store.GetInvoice(ctx, "INV-1")
	require.NoError(t, err)
	assert.Equal(t, "Parts AG", rec.Vendor)

	list, err := store.ListInvoices(ctx, storage.ListOptions{Vendor: "Parts AG"})
	require.NoError(t, err)
	assert.Equal(t, 1, list.Total)
}
