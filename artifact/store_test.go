package artifact

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestFileStore(t *testing.T) *FileStore {
	t.Helper()
	store, err := NewFileStore(FileStoreConfig{
		BasePath: t.TempDir(),
		// No background sweeper in tests; SweepExpired is called directly.
	}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestFileStore_ContentAddressing(t *testing.T) {
	t.Parallel()
	store := newTestFileStore(t)
	ctx := context.Background()

	data := []byte("once upon a time")

	first, err := store.Write(ctx, data, MediaText)
	require.NoError(t, err)
	second, err := store.Write(ctx, data, MediaText)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID, "identical bytes must share an id")
	assert.Equal(t, Fingerprint(data), first.ID)

	// Exactly one copy is stored.
	all, err := store.List(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 1)

	got, err := store.Read(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestFileStore_DistinctContentDistinctIDs(t *testing.T) {
	t.Parallel()
	store := newTestFileStore(t)
	ctx := context.Background()

	a, err := store.Write(ctx, []byte("script v1"), MediaText)
	require.NoError(t, err)
	b, err := store.Write(ctx, []byte("script v2"), MediaText)
	require.NoError(t, err)

	assert.NotEqual(t, a.ID, b.ID)
}

func TestFileStore_ReloadPreservesIndex(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	ctx := context.Background()

	store, err := NewFileStore(FileStoreConfig{BasePath: dir}, zap.NewNop())
	require.NoError(t, err)
	art, err := store.Write(ctx, []byte("persisted frame"), MediaImage, WithTags("wf-1"))
	require.NoError(t, err)
	require.NoError(t, store.Close())

	reopened, err := NewFileStore(FileStoreConfig{BasePath: dir}, zap.NewNop())
	require.NoError(t, err)
	defer reopened.Close()

	got, err := reopened.Read(ctx, art.ID)
	require.NoError(t, err)
	assert.Equal(t, []byte("persisted frame"), got)

	tagged, err := reopened.List(ctx, "wf-1")
	require.NoError(t, err)
	assert.Len(t, tagged, 1)
}

func TestFileStore_ExpirySweep(t *testing.T) {
	t.Parallel()
	store := newTestFileStore(t)
	ctx := context.Background()

	expired, err := store.Write(ctx, []byte("short lived"), MediaText, WithTTL(time.Millisecond))
	require.NoError(t, err)
	keeper, err := store.Write(ctx, []byte("long lived"), MediaText, WithTTL(time.Hour))
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)

	// Expired artifacts are invisible even before the sweep runs.
	_, err = store.Read(ctx, expired.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	count, err := store.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	_, err = store.Read(ctx, keeper.ID)
	assert.NoError(t, err)
}

func TestFileStore_DeleteUnknown(t *testing.T) {
	t.Parallel()
	store := newTestFileStore(t)
	err := store.Delete(context.Background(), "no-such-id")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFileStore_InvalidMediaKind(t *testing.T) {
	t.Parallel()
	store := newTestFileStore(t)
	_, err := store.Write(context.Background(), []byte("x"), MediaKind("audio"))
	assert.Error(t, err)
}

func TestMemoryStore_ContentAddressing(t *testing.T) {
	t.Parallel()
	store := NewMemoryStore()
	ctx := context.Background()

	data := []byte("same bytes")
	a, err := store.Write(ctx, data, MediaText)
	require.NoError(t, err)
	b, err := store.Write(ctx, data, MediaText)
	require.NoError(t, err)

	assert.Equal(t, a.ID, b.ID)
	assert.Equal(t, 1, store.Len())
}

func TestMemoryStore_ClosedStore(t *testing.T) {
	t.Parallel()
	store := NewMemoryStore()
	require.NoError(t, store.Close())

	_, err := store.Write(context.Background(), []byte("x"), MediaText)
	assert.ErrorIs(t, err, ErrStoreClosed)
}
