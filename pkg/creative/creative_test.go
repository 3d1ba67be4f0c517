package creative

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileStoreRoundTrip(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	data := []byte("<h1>Fresh roasted coffee</h1>")
	digest, err := store.Put(ctx, data)
	require.NoError(t, err)
	assert.Equal(t, Digest(data), digest)

	got, err := store.Get(ctx, digest)
	require.NoError(t, err)
	assert.Equal(t, data, got)

	ok, err := store.Exists(ctx, digest)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestFileStorePutIsIdempotent(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	data := []byte("same bytes")
	d1, err := store.Put(ctx, data)
	require.NoError(t, err)
	d2, err := store.Put(ctx, data)
	require.NoError(t, err)
	assert.Equal(t, d1, d2)
}

func TestFileStoreMissingAndMalformedDigests(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	_, err = store.Get(ctx, Digest([]byte("never stored")))
	require.ErrorIs(t, err, ErrNotFound)

	_, err = store.Get(ctx, "md5:abcdef")
	require.Error(t, err)
	_, err = store.Get(ctx, "sha256:not-hex")
	require.Error(t, err)

	ok, err := store.Exists(ctx, Digest([]byte("never stored")))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFileStoreDelete(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	digest, err := store.Put(ctx, []byte("ephemeral"))
	require.NoError(t, err)
	require.NoError(t, store.Delete(ctx, digest))

	ok, err := store.Exists(ctx, digest)
	require.NoError(t, err)
	assert.False(t, ok)

	// Deleting a missing asset is not an error.
	require.NoError(t, store.Delete(ctx, digest))
}

func TestNewStoreFromEnvDefaultsToFS(t *testing.T) {
	t.Setenv("CREATIVE_STORAGE_TYPE", "")
	t.Setenv("DATA_DIR", t.TempDir())

	store, err := NewStoreFromEnv(context.Background())
	require.NoError(t, err)
	_, ok := store.(*FileStore)
	assert.True(t, ok)
}

func TestNewStoreFromEnvRejectsUnknownType(t *testing.T) {
	t.Setenv("CREATIVE_STORAGE_TYPE", "tape")
	_, err := NewStoreFromEnv(context.Background())
	require.Error(t, err)
}

func TestNewStoreFromEnvS3RequiresBucket(t *testing.T) {
	t.Setenv("CREATIVE_STORAGE_TYPE", "s3")
	t.Setenv("CREATIVE_S3_BUCKET", "")
	_, err := NewStoreFromEnv(context.Background())
	require.Error(t, err)
}
