package sync

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loopworks/edgesync/pkg/normalize"
	"github.com/loopworks/edgesync/pkg/schema"
	"github.com/loopworks/edgesync/pkg/source"
	"github.com/loopworks/edgesync/pkg/write"
)

// TestInvariant_LastProcessedCountEqualsSuccessfulPlusFailed covers spec.md
// §8 invariant 1 for one committed run whose three items are all skipped
// (ProcessFlag "No"), checking that last_processed_count equals
// successful_items plus failed_items.
func TestInvariant_LastProcessedCountEqualsSuccessfulPlusFailed(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT id, delta_link, last_processed_at, status, successful_items, failed_items, last_error FROM `edges_raw`\\.`processing_log`").
		WillReturnRows(sqlmock.NewRows([]string{"id", "delta_link", "last_processed_at", "status", "successful_items", "failed_items", "last_error"}))
	mock.ExpectExec("INSERT INTO `edges_raw`\\.`processing_log`").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	client := &fakeClient{
		deltaCursor: "D1",
		deltaIDs:    []string{"1", "2", "3"},
		listItems: map[string]source.ListItemFields{
			"1": {ProcessFlag: "No"},
			"2": {ProcessFlag: "No"},
			"3": {ProcessFlag: "No"},
		},
	}

	p := NewProcessor(db, "edges_raw", schema.DefaultRegistry(), client, "/Docs/Watched", 200, 10*time.Minute)
	result, err := p.FetchAndStoreDelta(context.Background(), "site-1", "list-1", 200)
	require.NoError(t, err)

	assert.Equal(t, result.Log.SuccessfulItems+result.Log.FailedItems, result.Log.LastProcessedCount)
	require.NoError(t, mock.ExpectationsWereMet())
}

// TestInvariant_CursorDiffersAcrossCommittedRunsUnlessZeroItems covers
// spec.md §8 invariant 2: two successive committed runs on the same
// (site,list) must not persist the same delta_link unless the later run
// processed zero items.
func TestInvariant_CursorDiffersAcrossCommittedRunsUnlessZeroItems(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	// Run 1: cursor "D1", one item skipped by its ProcessFlag, committed.
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT id, delta_link, last_processed_at, status, successful_items, failed_items, last_error FROM `edges_raw`\\.`processing_log`").
		WillReturnRows(sqlmock.NewRows([]string{"id", "delta_link", "last_processed_at", "status", "successful_items", "failed_items", "last_error"}))
	mock.ExpectExec("INSERT INTO `edges_raw`\\.`processing_log`").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	client1 := &fakeClient{
		deltaCursor: "D1",
		deltaIDs:    []string{"1"},
		listItems:   map[string]source.ListItemFields{"1": {ProcessFlag: "No"}},
	}
	p1 := NewProcessor(db, "edges_raw", schema.DefaultRegistry(), client1, "/Docs/Watched", 200, 10*time.Minute)
	run1, err := p1.FetchAndStoreDelta(context.Background(), "site-1", "list-1", 200)
	require.NoError(t, err)

	// Run 2: cursor advances to "D2" with a fresh delta of one more item.
	mock.ExpectBegin()
	lastRow := sqlmock.NewRows([]string{"id", "delta_link", "last_processed_at", "status", "successful_items", "failed_items", "last_error"}).
		AddRow(int64(1), run1.Log.DeltaLink, time.Now().UTC(), StatusCompleted, 0, 0, "")
	mock.ExpectQuery("SELECT id, delta_link, last_processed_at, status, successful_items, failed_items, last_error FROM `edges_raw`\\.`processing_log`").
		WillReturnRows(lastRow)
	mock.ExpectExec("INSERT INTO `edges_raw`\\.`processing_log`").
		WillReturnResult(sqlmock.NewResult(2, 1))
	mock.ExpectCommit()

	client2 := &fakeClient{
		deltaCursor: "D2",
		deltaIDs:    []string{"2"},
		listItems:   map[string]source.ListItemFields{"2": {ProcessFlag: "No"}},
	}
	p2 := NewProcessor(db, "edges_raw", schema.DefaultRegistry(), client2, "/Docs/Watched", 200, 10*time.Minute)
	run2, err := p2.FetchAndStoreDelta(context.Background(), "site-1", "list-1", 200)
	require.NoError(t, err)

	assert.NotEqual(t, run1.Log.DeltaLink, run2.Log.DeltaLink)
	require.NoError(t, mock.ExpectationsWereMet())
}

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

// TestInvariant_ProcessedFileUniqueOnHashAndSize covers spec.md §8 invariant
// 3: two successful ProcessedFile rows never share (file_hash,
// file_size_bytes). The ledger table enforces this with a unique
// constraint, so a second write of the same bytes must surface the
// database's duplicate-key error rather than silently succeeding.
func TestInvariant_ProcessedFileUniqueOnHashAndSize(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	tx, err := db.Begin()
	require.NoError(t, err)

	mock.ExpectExec("INSERT INTO `edges_raw`\\.`processed_file`").
		WillReturnError(&mysql.MySQLError{Number: 1062, Message: "Duplicate entry for key 'file_hash_size'"})
	mock.ExpectRollback()

	w := write.NewWriter("edges_raw")
	table := contractTable(normalize.Row{Values: map[string]any{"contract_id": "C001", "property_no": int64(123)}})

	_, err = w.Write(context.Background(), tx, write.ProcessedFile{FileName: "a.xlsx", FileHash: "deadbeef", FileSizeBytes: 10}, []normalize.Table{table})
	require.Error(t, err)
	require.NoError(t, tx.Rollback())
	require.NoError(t, mock.ExpectationsWereMet())
}

// TestInvariant_DestinationRowReferencesExistingProcessedFile covers
// spec.md §8 invariant 4: every destination row's processed_file_id
// references a ProcessedFile row that exists in the same transaction. The
// writer must insert the ProcessedFile row first, capture its surrogate id,
// and stamp that same id onto the destination rows' bulk insert.
func TestInvariant_DestinationRowReferencesExistingProcessedFile(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	tx, err := db.Begin()
	require.NoError(t, err)

	mock.ExpectExec("INSERT INTO `edges_raw`\\.`processed_file`").
		WillReturnResult(sqlmock.NewResult(42, 1))
	mock.ExpectExec("INSERT INTO `edges_raw`\\.`contract_creation` \\(`processed_file_id`, `contract_id`, `property_no`\\) VALUES \\(\\?, \\?, \\?\\)").
		WithArgs(int64(42), "C001", int64(123)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	w := write.NewWriter("edges_raw")
	table := contractTable(normalize.Row{Values: map[string]any{"contract_id": "C001", "property_no": int64(123)}})

	id, err := w.Write(context.Background(), tx, write.ProcessedFile{FileName: "a.xlsx"}, []normalize.Table{table})
	require.NoError(t, err)
	assert.Equal(t, int64(42), id)
	require.NoError(t, tx.Commit())
	require.NoError(t, mock.ExpectationsWereMet())
}
