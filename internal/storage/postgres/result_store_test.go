package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/bulk-fetcher/internal/storage"
)

func TestStoreResultInsertsRow(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewResultStoreWithPool(mock, "fetch_results")
	require.NoError(t, err)

	rec := storage.ResultRecord{
		RunID:       "0190c8a4-0000-7000-8000-000000000001",
		URL:         "https://example.com",
		Code:        200,
		RawStatus:   200,
		BodyHash:    "abc123",
		BodyBytes:   42,
		Pass:        2,
		CompletedAt: time.Unix(1700000000, 0).UTC(),
		BlobURI:     "gs://bucket/runs/r/results.jsonl",
	}

	mock.ExpectExec("INSERT INTO fetch_results").
		WithArgs(
			rec.RunID,
			rec.URL,
			rec.Code,
			rec.RawStatus,
			rec.BodyHash,
			rec.BodyBytes,
			rec.Pass,
			rec.CompletedAt,
			rec.BlobURI,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.StoreResult(context.Background(), rec))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreResultWrapsExecError(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewResultStoreWithPool(mock, "")
	require.NoError(t, err)

	mock.ExpectExec("INSERT INTO fetch_results").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnError(errors.New("connection reset"))

	err = store.StoreResult(context.Background(), storage.ResultRecord{URL: "https://example.com"})
	require.ErrorContains(t, err, "insert result")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestResultStoreValidation(t *testing.T) {
	t.Parallel()

	_, err := NewResultStoreWithPool(nil, "t")
	require.ErrorContains(t, err, "pool is required")

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	_, err = NewResultStoreWithPool(mock, "results; DROP TABLE x")
	require.ErrorContains(t, err, "invalid table name")

	store, err := NewResultStoreWithPool(mock, "results")
	require.NoError(t, err)
	require.ErrorContains(t, store.StoreResult(context.Background(), storage.ResultRecord{}), "record url is required")

	var nilStore *ResultStore
	require.ErrorContains(t, nilStore.StoreResult(context.Background(), storage.ResultRecord{URL: "u"}), "not configured")
	nilStore.Close()

	_, err = NewResultStore(context.Background(), ResultStoreConfig{})
	require.ErrorContains(t, err, "db.dsn is required")
	_, err = NewResultStore(context.Background(), ResultStoreConfig{DSN: "postgres://localhost/db", Table: "bad-name"})
	require.ErrorContains(t, err, "invalid table name")
}
