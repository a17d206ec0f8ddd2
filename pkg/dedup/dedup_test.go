package dedup

import (
	"context"
	"database/sql"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"
)

func TestCompute_SameContentSameFingerprint(t *testing.T) {
	a := Compute([]byte("hello world"))
	b := Compute([]byte("hello world"))
	require.Equal(t, a, b)

	c := Compute([]byte("hello world!"))
	require.NotEqual(t, a, c)
}

func withTx(t *testing.T, fn func(tx *sql.Tx, mock sqlmock.Sqlmock)) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	tx, err := db.Begin()
	require.NoError(t, err)

	fn(tx, mock)
}

func TestLedger_Seen_Hit(t *testing.T) {
	withTx(t, func(tx *sql.Tx, mock sqlmock.Sqlmock) {
		mock.ExpectQuery("SELECT 1 FROM `edges_raw`\\.`processed_file`").
			WithArgs("deadbeef", int64(11)).
			WillReturnRows(sqlmock.NewRows([]string{"1"}).AddRow(1))

		l := NewLedger("edges_raw")
		seen, err := l.Seen(context.Background(), tx, Fingerprint{Hash: "deadbeef", Size: 11})
		require.NoError(t, err)
		require.True(t, seen)
		require.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestLedger_Seen_Miss(t *testing.T) {
	withTx(t, func(tx *sql.Tx, mock sqlmock.Sqlmock) {
		mock.ExpectQuery("SELECT 1 FROM `edges_raw`\\.`processed_file`").
			WithArgs("deadbeef", int64(11)).
			WillReturnRows(sqlmock.NewRows([]string{"1"}))

		l := NewLedger("edges_raw")
		seen, err := l.Seen(context.Background(), tx, Fingerprint{Hash: "deadbeef", Size: 11})
		require.NoError(t, err)
		require.False(t, seen)
		require.NoError(t, mock.ExpectationsWereMet())
	})
}
