package storage_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"

	"github.com/JakeFAU/bulk-fetcher/internal/config"
	"github.com/JakeFAU/bulk-fetcher/internal/storage"
	"github.com/JakeFAU/bulk-fetcher/internal/storage/gcs"
	"github.com/JakeFAU/bulk-fetcher/internal/storage/local"
	"github.com/JakeFAU/bulk-fetcher/internal/storage/memory"
)

func TestNewBlobStore(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	store, cleanup, err := storage.NewBlobStore(ctx, config.StorageConfig{Backend: config.BackendMemory})
	require.NoError(t, err)
	cleanup()
	require.IsType(t, &memory.BlobStore{}, store)

	store, cleanup, err = storage.NewBlobStore(ctx, config.StorageConfig{Backend: config.BackendLocal, LocalDir: t.TempDir()})
	require.NoError(t, err)
	cleanup()
	require.IsType(t, &local.BlobStore{}, store)

	store, cleanup, err = storage.NewBlobStore(ctx,
		config.StorageConfig{Backend: config.BackendGCS, GCSBucket: "bucket"},
		option.WithoutAuthentication(),
	)
	require.NoError(t, err)
	cleanup()
	require.IsType(t, &gcs.BlobStore{}, store)
}

func TestNewBlobStoreErrors(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	_, cleanup, err := storage.NewBlobStore(ctx, config.StorageConfig{Backend: "s3"})
	require.ErrorContains(t, err, "unsupported storage backend")
	require.NotNil(t, cleanup)

	_, _, err = storage.NewBlobStore(ctx, config.StorageConfig{Backend: config.BackendLocal})
	require.ErrorContains(t, err, "local blob store")

	_, _, err = storage.NewBlobStore(ctx, config.StorageConfig{Backend: config.BackendGCS}, option.WithoutAuthentication())
	require.ErrorContains(t, err, "gcs blob store")
}
