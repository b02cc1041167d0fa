package history

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	store := NewPostgresStore(db)
	store.now = func() time.Time { return time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC) }
	return store, mock
}

var historyColumns = []string{"id", "question", "executed_sql", "template_name", "used_fallback", "row_count", "summary", "created_at"}

func TestRecord(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("INSERT INTO query_history").
		WithArgs(sqlmock.AnyArg(), "地域別の売上", "SELECT 1 FROM sales",
			sql.NullString{String: "region_sales", Valid: true}, true, 4, "• 4 件",
			sqlmock.AnyArg(), time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := store.Record(context.Background(), Entry{
		Question:     "地域別の売上",
		ExecutedSQL:  "SELECT 1 FROM sales",
		TemplateName: "region_sales",
		UsedFallback: true,
		RowCount:     4,
		Summary:      "• 4 件",
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordError(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectExec("INSERT INTO query_history").WillReturnError(errors.New("relation does not exist"))

	err := store.Record(context.Background(), Entry{Question: "q"})
	assert.ErrorContains(t, err, "failed to insert history entry")
}

func TestRecent(t *testing.T) {
	store, mock := newMockStore(t)
	created := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)

	mock.ExpectQuery("SELECT (.+) FROM query_history").
		WithArgs(100).
		WillReturnRows(sqlmock.NewRows(historyColumns).
			AddRow("id-1", "チャネル別", "SELECT 2 FROM sales", "channel_sales", true, 3, "s1", created).
			AddRow("id-2", "総売上", "SELECT 3 FROM sales", nil, false, 1, "s2", created))

	entries, err := store.Recent(context.Background(), 500)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "channel_sales", entries[0].TemplateName)
	assert.Equal(t, "", entries[1].TemplateName)
	assert.False(t, entries[1].UsedFallback)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFindSimilar(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("SELECT (.+) AS similarity FROM query_history").
		WithArgs(sqlmock.AnyArg(), MinSimilarity, 20).
		WillReturnRows(sqlmock.NewRows(append(historyColumns, "similarity")).
			AddRow("id-1", "地域別の売上を教えて", "SELECT 1 FROM sales", "region_sales", true, 4, "s", time.Now(), 0.93))

	entries, err := store.FindSimilar(context.Background(), "地域別の売上", 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, 0.93, entries[0].Similarity)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClampLimit(t *testing.T) {
	assert.Equal(t, 20, clampLimit(0))
	assert.Equal(t, 5, clampLimit(5))
	assert.Equal(t, 100, clampLimit(1000))
}
