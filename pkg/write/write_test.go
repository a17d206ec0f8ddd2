package write

import (
	"context"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/require"

	"github.com/loopworks/edgesync/pkg/normalize"
	"github.com/loopworks/edgesync/pkg/schema"
)

func contractTable(rows ...normalize.Row) normalize.Table {
	return normalize.Table{
		Spec: schema.TableSpec{
			TableName: "contract_creation",
			Columns: []schema.ColumnSpec{
				{DestinationColumn: "contract_id"},
				{DestinationColumn: "property_no"},
			},
		},
		Rows: rows,
	}
}

func TestWriter_Write_HappyPath(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	tx, err := db.Begin()
	require.NoError(t, err)

	mock.ExpectExec("INSERT INTO `edges_raw`\\.`processed_file`").
		WillReturnResult(sqlmock.NewResult(42, 1))
	mock.ExpectExec("INSERT INTO `edges_raw`\\.`contract_creation`").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	w := NewWriter("edges_raw")
	table := contractTable(normalize.Row{Values: map[string]any{"contract_id": "C001", "property_no": int64(123)}})

	id, err := w.Write(context.Background(), tx, ProcessedFile{FileName: "a.xlsx"}, []normalize.Table{table})
	require.NoError(t, err)
	require.Equal(t, int64(42), id)
	require.NoError(t, tx.Commit())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWriter_Write_DuplicateIsUniqueConstraintViolation(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	tx, err := db.Begin()
	require.NoError(t, err)

	mock.ExpectExec("INSERT INTO `edges_raw`\\.`processed_file`").
		WillReturnError(&mysql.MySQLError{Number: 1062, Message: "Duplicate entry for key 'file_hash_size'"})
	mock.ExpectRollback()

	w := NewWriter("edges_raw")
	table := contractTable(normalize.Row{Values: map[string]any{"contract_id": "C001", "property_no": int64(123)}})

	_, err = w.Write(context.Background(), tx, ProcessedFile{FileName: "a.xlsx"}, []normalize.Table{table})
	require.Error(t, err)
	require.NoError(t, tx.Rollback())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWriter_Write_SkipsEmptyTables(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	tx, err := db.Begin()
	require.NoError(t, err)

	mock.ExpectExec("INSERT INTO `edges_raw`\\.`processed_file`").
		WillReturnResult(sqlmock.NewResult(7, 1))
	mock.ExpectCommit()

	w := NewWriter("edges_raw")
	empty := contractTable()

	id, err := w.Write(context.Background(), tx, ProcessedFile{FileName: "b.xlsx"}, []normalize.Table{empty})
	require.NoError(t, err)
	require.Equal(t, int64(7), id)
	require.NoError(t, tx.Commit())
	require.NoError(t, mock.ExpectationsWereMet())
}
