package backup

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/invoice-memory/internal/logging"
	"github.com/scrypster/invoice-memory/internal/storage"
	"github.com/scrypster/invoice-memory/internal/storage/sqlite"
	"github.com/scrypster/invoice-memory/pkg/types"
)

func correction(id string) *types.Memory {
	return &types.Memory{
		ID:         id,
		Type:       types.MemoryTypeCorrection,
		Vendor:     "Parts AG",
		Confidence: 0.6,
		Active:     true,
		CorrectionRule: &types.CorrectionRule{
			FieldName:       types.FieldCurrency,
			OriginalPattern: types.HumanCorrectionPattern,
			CorrectedValue:  "EUR",
		},
	}
}

// newFixture opens a file-backed store holding one memory and a Snapshotter
// over it with a controllable clock.
func newFixture(t *testing.T, keep int) (*sqlite.MemoryStore, *Snapshotter, *time.Time) {
	t.Helper()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "memories.db")

	store, err := sqlite.NewMemoryStore(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	require.NoError(t, store.Save(context.Background(), correction("mem-1")))

	s, err := New(Config{DBPath: dbPath, Dir: filepath.Join(dir, "snapshots"), Keep: keep}, logging.Discard())
	require.NoError(t, err)

	clock := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return clock }
	return store, s, &clock
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Config{Dir: t.TempDir()}, nil)
	assert.Error(t, err)

	_, err = New(Config{DBPath: "x.db"}, nil)
	assert.Error(t, err)

	s, err := New(Config{DBPath: "x.db", Dir: t.TempDir()}, nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultKeep, s.keep)
}

func TestCreate(t *testing.T) {
	_, s, _ := newFixture(t, 3)

	snap, err := s.Create(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, snap.ActiveMemories)
	assert.Positive(t, snap.Size)
	assert.Equal(t, "invoicemem-20240301-120000.000000.db", filepath.Base(snap.Path))
	assert.FileExists(t, snap.Path)
}

func TestCreate_MissingDatabase(t *testing.T) {
	s, err := New(Config{DBPath: filepath.Join(t.TempDir(), "absent.db"), Dir: t.TempDir()}, logging.Discard())
	require.NoError(t, err)

	_, err = s.Create(context.Background())
	assert.True(t, errors.Is(err, ErrNoDatabase))
}

func TestCreate_PrunesToKeep(t *testing.T) {
	_, s, clock := newFixture(t, 2)

	var paths []string
	for i := 0; i < 4; i++ {
		snap, err := s.Create(context.Background())
		require.NoError(t, err)
		paths = append(paths, snap.Path)
		*clock = clock.Add(time.Minute)
	}

	snaps, err := s.List()
	require.NoError(t, err)
	require.Len(t, snaps, 2)
	assert.Equal(t, paths[3], snaps[0].Path)
	assert.Equal(t, paths[2], snaps[1].Path)
	assert.NoFileExists(t, paths[0])
}

func TestList_IgnoresForeignFiles(t *testing.T) {
	_, s, _ := newFixture(t, 5)

	_, err := s.Create(context.Background())
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(s.dir, "notes.txt"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(s.dir, "invoicemem-garbage.db"), []byte("x"), 0o644))

	snaps, err := s.List()
	require.NoError(t, err)
	require.Len(t, snaps, 1)
	assert.Equal(t, time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC), snaps[0].CreatedAt)
}

func TestVerify_RejectsNonDatabase(t *testing.T) {
	_, s, _ := newFixture(t, 5)

	bogus := filepath.Join(t.TempDir(), "bogus.db")
	require.NoError(t, os.WriteFile(bogus, []byte("definitely not sqlite"), 0o644))

	_, err := s.Verify(context.Background(), bogus)
	assert.Error(t, err)

	_, err = s.Verify(context.Background(), filepath.Join(t.TempDir(), "missing.db"))
	assert.Error(t, err)
}

func TestRestore(t *testing.T) {
	ctx := context.Background()
	store, s, _ := newFixture(t, 5)

	snap, err := s.Create(ctx)
	require.NoError(t, err)

	// Learn something after the snapshot, then roll it back.
	require.NoError(t, store.Save(ctx, correction("mem-2")))
	require.NoError(t, store.Deactivate(ctx, "mem-1"))
	require.NoError(t, store.Close())

	require.NoError(t, s.Restore(ctx, snap.Path))

	reopened, err := sqlite.NewMemoryStore(s.dbPath)
	require.NoError(t, err)
	defer func() { _ = reopened.Close() }()

	m, err := reopened.Get(ctx, "mem-1")
	require.NoError(t, err)
	assert.True(t, m.Active)

	_, err = reopened.Get(ctx, "mem-2")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestRun_StopsOnCancel(t *testing.T) {
	_, s, _ := newFixture(t, 5)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx, time.Hour)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
