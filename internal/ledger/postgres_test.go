package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockLedger(t *testing.T) (*PostgresLedger, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewPostgresLedgerFromDB(sqlx.NewDb(db, "postgres")), mock
}

func TestMarkVisitedIdempotent(t *testing.T) {
	l, mock := newMockLedger(t)
	ctx := context.Background()

	mock.ExpectExec(`INSERT INTO scraped_articles`).
		WithArgs("https://example.com/b/123", "genshin", "coupon post", 2).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(`INSERT INTO scraped_articles`).
		WithArgs("https://example.com/b/123", "genshin", "coupon post", 2).
		WillReturnResult(sqlmock.NewResult(0, 0))

	created, err := l.MarkVisited(ctx, "https://example.com/b/123", "genshin", "coupon post", 2)
	require.NoError(t, err)
	assert.True(t, created)

	created, err = l.MarkVisited(ctx, "https://example.com/b/123", "genshin", "coupon post", 2)
	require.NoError(t, err)
	assert.False(t, created)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIsVisitedStripsQueryString(t *testing.T) {
	l, mock := newMockLedger(t)

	mock.ExpectQuery(`SELECT EXISTS`).
		WithArgs("https://example.com/b/123").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	visited, err := l.IsVisited(context.Background(), "https://example.com/b/123?p=2&mode=best")
	require.NoError(t, err)
	assert.True(t, visited)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveCodeDuplicate(t *testing.T) {
	l, mock := newMockLedger(t)
	ctx := context.Background()
	posted := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectExec(`INSERT INTO redeem_codes`).
		WithArgs("GENSHINGIFT2026", "genshin", "https://example.com/b/1", "post", &posted).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(`INSERT INTO redeem_codes`).
		WithArgs("GENSHINGIFT2026", "starrail", "https://example.com/b/2", "other", &posted).
		WillReturnError(&pq.Error{Code: "23505"})

	err := l.SaveCode(ctx, "GENSHINGIFT2026", "genshin", "https://example.com/b/1", "post", &posted)
	require.NoError(t, err)

	err = l.SaveCode(ctx, "GENSHINGIFT2026", "starrail", "https://example.com/b/2", "other", &posted)
	assert.ErrorIs(t, err, ErrCodeExists)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkInvalidUnknownCode(t *testing.T) {
	l, mock := newMockLedger(t)

	mock.ExpectExec(`UPDATE redeem_codes SET is_valid = false`).
		WithArgs("NOSUCHCODE123").
		WillReturnResult(sqlmock.NewResult(0, 0))

	updated, err := l.MarkInvalid(context.Background(), "NOSUCHCODE123")
	require.NoError(t, err)
	assert.False(t, updated)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStats(t *testing.T) {
	l, mock := newMockLedger(t)

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM redeem_codes`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(5))
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM redeem_codes WHERE is_valid`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(4))
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM scraped_articles`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(12))
	mock.ExpectQuery(`SELECT game, COUNT\(\*\) FROM redeem_codes GROUP BY game`).
		WillReturnRows(sqlmock.NewRows([]string{"game", "count"}).
			AddRow("genshin", 3).
			AddRow("starrail", 2))

	stats, err := l.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, stats.TotalCodes)
	assert.Equal(t, 4, stats.ValidCodes)
	assert.Equal(t, 12, stats.VisitedArticles)
	assert.Equal(t, map[string]int{"genshin": 3, "starrail": 2}, stats.ByGame)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBaseURL(t *testing.T) {
	assert.Equal(t, "https://a.com/b/1", baseURL("https://a.com/b/1?p=2"))
	assert.Equal(t, "https://a.com/b/1", baseURL("https://a.com/b/1"))
}
