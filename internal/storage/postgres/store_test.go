package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/sitemirror/internal/crawler"
	"github.com/JakeFAU/sitemirror/internal/proxy"
)

func newMockStore(t *testing.T) (*Store, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	store, err := NewWithPool(mock, "")
	require.NoError(t, err)
	return store, mock
}

func TestNewWithPool(t *testing.T) {
	t.Parallel()

	_, err := NewWithPool(nil, "")
	assert.Error(t, err)

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	_, err = NewWithPool(mock, "bad-prefix;")
	assert.Error(t, err)

	store, err := NewWithPool(mock, "mirror_")
	require.NoError(t, err)
	assert.Equal(t, "mirror_items", store.items)
	assert.Equal(t, "mirror_proxies", store.proxies)
}

func TestNewRequiresDSN(t *testing.T) {
	t.Parallel()
	_, err := New(context.Background(), Config{})
	assert.Error(t, err)
}

func TestEnsureSchema(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS sitemirror_items").
		WillReturnResult(pgxmock.NewResult("CREATE", 0))
	require.NoError(t, store.EnsureSchema(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveCopiesItemsInTransaction(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)

	records := []crawler.Record{
		{ItemURI: "https://example.test/", Allow: true, StatusCode: 200, DownloadStatus: crawler.StatusSuccess},
		{ItemURI: "https://example.test/b.html", Allow: true},
	}
	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM sitemirror_items").WillReturnResult(pgxmock.NewResult("DELETE", 5))
	mock.ExpectCopyFrom(pgx.Identifier{"sitemirror_items"}, itemColumns).WillReturnResult(2)
	mock.ExpectCommit()

	require.NoError(t, store.Save(context.Background(), records))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveRollsBackOnCopyFailure(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM sitemirror_items").WillReturnResult(pgxmock.NewResult("DELETE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"sitemirror_items"}, itemColumns).WillReturnError(errors.New("boom"))
	mock.ExpectRollback()

	err := store.Save(context.Background(), []crawler.Record{{ItemURI: "https://example.test/"}})
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLoadMapsNullableColumns(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)

	yes := true
	newURI := "/index.html"
	exp := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	rows := mock.NewRows([]string{
		"item_uri", "allow", "status_code", "reason_phrase", "download_status", "process_status",
		"write_status", "content_type", "new_item_uri", "expires",
	}).
		AddRow("https://example.test/", true, 200, "OK", &yes, &yes, nil, "text/html", &newURI, &exp).
		AddRow("https://other.test/", false, 0, "", nil, nil, nil, "", nil, nil)
	mock.ExpectQuery("SELECT item_uri").WillReturnRows(rows)

	got, err := store.Load(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, crawler.StatusSuccess, got[0].DownloadStatus)
	assert.Equal(t, crawler.StatusSuccess, got[0].ProcessStatus)
	assert.Equal(t, crawler.StatusUnset, got[0].WriteStatus)
	assert.Equal(t, "/index.html", got[0].NewItemURI)
	require.NotNil(t, got[0].Expires)
	assert.True(t, exp.Equal(*got[0].Expires))
	assert.False(t, got[1].Allow)
	assert.Equal(t, crawler.StatusUnset, got[1].DownloadStatus)
	assert.Empty(t, got[1].NewItemURI)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestBody(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectExec("INSERT INTO sitemirror_bodies").
		WithArgs("https://example.test/", []byte("hello")).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	require.NoError(t, store.SaveBody(ctx, "https://example.test/", []byte("hello")))

	mock.ExpectQuery("SELECT body FROM sitemirror_bodies").
		WithArgs("https://example.test/").
		WillReturnRows(mock.NewRows([]string{"body"}).AddRow([]byte("hello")))
	body, ok, err := store.Body(ctx, "https://example.test/")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "hello", string(body))

	mock.ExpectQuery("SELECT body FROM sitemirror_bodies").
		WithArgs("https://example.test/missing").
		WillReturnError(pgx.ErrNoRows)
	_, ok, err = store.Body(ctx, "https://example.test/missing")
	require.NoError(t, err)
	assert.False(t, ok)

	mock.ExpectExec("TRUNCATE sitemirror_items, sitemirror_bodies").
		WillReturnResult(pgxmock.NewResult("TRUNCATE", 0))
	require.NoError(t, store.Clear(ctx))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestProxies(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)
	ctx := context.Background()

	p := proxy.Proxy{Type: proxy.TypeHTTP, Host: "p.test", Port: 8080, Active: true}
	mock.ExpectExec("INSERT INTO sitemirror_proxies").
		WithArgs(p.Key(), "http", "p.test", 8080, "", "", 0, true, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	require.NoError(t, store.SaveProxy(ctx, p))

	used := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rows := mock.NewRows([]string{"type", "host", "port", "user_name", "password", "attempts", "active", "last_use"}).
		AddRow("socks5", "s.test", 1080, "u", "pw", 2, false, &used)
	mock.ExpectQuery("SELECT type, host, port").WillReturnRows(rows)

	proxies, err := store.LoadProxies(ctx)
	require.NoError(t, err)
	require.Len(t, proxies, 1)
	assert.Equal(t, proxy.TypeSOCKS5, proxies[0].Type)
	assert.Equal(t, 2, proxies[0].Attempts)
	assert.False(t, proxies[0].Active)
	require.NotNil(t, proxies[0].LastUse)
	require.NoError(t, mock.ExpectationsWereMet())
}
