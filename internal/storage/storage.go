// Package storage defines where run exports are persisted and selects a
// backend from configuration.
package storage

import (
	"context"
	"io"
	"time"
)

// BlobStore persists an object and returns a URI that locates it.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// ResultRecord is one resolved URL as written to the result table.
type ResultRecord struct {
	RunID       string
	URL         string
	Code        int
	RawStatus   int
	BodyHash    string
	BodyBytes   int
	Pass        int
	CompletedAt time.Time
	BlobURI     string
}

// ResultStore writes result rows.
type ResultStore interface {
	StoreResult(ctx context.Context, rec ResultRecord) error
	Close()
}
