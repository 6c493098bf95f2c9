package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/docverify/internal/document"
)

func newMockStore(t *testing.T) (*BlobStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	store, err := NewWithPool(mock, "")
	require.NoError(t, err)
	return store, mock
}

func TestNewWithPoolValidatesTable(t *testing.T) {
	t.Parallel()

	_, err := NewWithPool(nil, "")
	require.Error(t, err)

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	_, err = NewWithPool(mock, "bad-name; DROP")
	require.Error(t, err)
}

func TestEnsureSchema(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS doc_cache").
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, store.EnsureSchema(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPutUpsertsRow(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	now := time.Unix(1700000000, 0).UTC()
	blob := document.CachedBlob{
		Key:            "Sheet1/1/abc",
		Bytes:          []byte("%PDF"),
		SourceURL:      "https://example.com/a.pdf",
		SizeBytes:      4,
		ContentType:    "application/pdf",
		FetchedAt:      now,
		LastAccessedAt: now,
	}

	mock.ExpectExec("INSERT INTO doc_cache").
		WithArgs(blob.Key, blob.SourceURL, blob.ContentType, blob.SizeBytes, blob.FetchedAt, blob.LastAccessedAt, blob.Bytes).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.Put(context.Background(), blob))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetScansRow(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	now := time.Unix(1700000000, 0).UTC()
	rows := pgxmock.NewRows([]string{"cache_key", "source_url", "content_type", "size_bytes", "fetched_at", "last_accessed_at", "body"}).
		AddRow("k", "https://example.com/a.pdf", "application/pdf", int64(4), now, now, []byte("%PDF"))
	mock.ExpectQuery("SELECT cache_key").WithArgs("k").WillReturnRows(rows)

	blob, err := store.Get(context.Background(), "k")
	require.NoError(t, err)
	require.Equal(t, "k", blob.Key)
	require.Equal(t, []byte("%PDF"), blob.Bytes)
	require.Equal(t, int64(4), blob.SizeBytes)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetMissingRow(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery("SELECT cache_key").WithArgs("nope").
		WillReturnRows(pgxmock.NewRows([]string{"cache_key"}))

	_, err := store.Get(context.Background(), "nope")
	require.ErrorIs(t, err, document.ErrNotFound)
}

func TestTouchAndDeleteReportMissingRows(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	at := time.Unix(1700000100, 0).UTC()
	mock.ExpectExec("UPDATE doc_cache SET last_accessed_at").WithArgs(at, "k").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("UPDATE doc_cache SET last_accessed_at").WithArgs(at, "gone").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectExec("DELETE FROM doc_cache").WithArgs("gone").
		WillReturnResult(pgxmock.NewResult("DELETE", 0))

	ctx := context.Background()
	require.NoError(t, store.Touch(ctx, "k", at))
	require.ErrorIs(t, store.Touch(ctx, "gone", at), document.ErrNotFound)
	require.ErrorIs(t, store.Delete(ctx, "gone"), document.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListScansMetadata(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	now := time.Unix(1700000000, 0).UTC()
	rows := pgxmock.NewRows([]string{"cache_key", "source_url", "content_type", "size_bytes", "fetched_at", "last_accessed_at"}).
		AddRow("a", "https://example.com/a.pdf", "application/pdf", int64(10), now, now).
		AddRow("b", "https://example.com/b.pdf", "application/pdf", int64(20), now, now)
	mock.ExpectQuery("SELECT cache_key, source_url").WillReturnRows(rows)

	metas, err := store.List(context.Background())
	require.NoError(t, err)
	require.Len(t, metas, 2)
	require.Equal(t, int64(20), metas[1].SizeBytes)
	require.NoError(t, mock.ExpectationsWereMet())
}
