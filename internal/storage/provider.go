package storage

import (
	"context"
	"fmt"

	gcsclient "cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"github.com/JakeFAU/bulk-fetcher/internal/config"
	"github.com/JakeFAU/bulk-fetcher/internal/storage/gcs"
	"github.com/JakeFAU/bulk-fetcher/internal/storage/local"
	"github.com/JakeFAU/bulk-fetcher/internal/storage/memory"
)

// NewBlobStore builds the BlobStore selected by cfg.Backend. The returned
// cleanup releases any client the store owns and is never nil.
func NewBlobStore(ctx context.Context, cfg config.StorageConfig, opts ...option.ClientOption) (BlobStore, func(), error) {
	noop := func() {}
	switch cfg.Backend {
	case "", config.BackendMemory:
		return memory.NewBlobStore(), noop, nil
	case config.BackendLocal:
		store, err := local.New(local.Config{BaseDir: cfg.LocalDir})
		if err != nil {
			return nil, noop, fmt.Errorf("local blob store: %w", err)
		}
		return store, noop, nil
	case config.BackendGCS:
		client, err := gcsclient.NewClient(ctx, opts...)
		if err != nil {
			return nil, noop, fmt.Errorf("create gcs client: %w", err)
		}
		store, err := gcs.New(client, gcs.Config{Bucket: cfg.GCSBucket})
		if err != nil {
			_ = client.Close() //nolint:errcheck // construction already failed
			return nil, noop, fmt.Errorf("gcs blob store: %w", err)
		}
		return store, func() { _ = client.Close() }, nil //nolint:errcheck // shutdown path
	default:
		return nil, noop, fmt.Errorf("unsupported storage backend %q", cfg.Backend)
	}
}
