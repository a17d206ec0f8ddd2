// Package write inserts normalized rows into destination tables inside a
// caller-supplied transaction. It is grounded on spirit's row.Copier: both
// build one multi-row INSERT per batch rather than issuing a statement per
// row, and both rely on the database's native bulk-insert path rather than
// a file-based loader: for a few hundred rows per file, a multi-row
// `INSERT ... VALUES (...),(...)...` is that path; `LOAD DATA INFILE`
// needs a file the server's filesystem can see, which this pipeline never
// has.
package write

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/loopworks/edgesync/pkg/dbconn"
	"github.com/loopworks/edgesync/pkg/metrics"
	"github.com/loopworks/edgesync/pkg/normalize"
	"github.com/loopworks/edgesync/pkg/syncerr"
)

// ProcessedFile is the ledger row C5 opens at the start of every write and
// stamps onto every destination row it inserts.
type ProcessedFile struct {
	FileName      string
	SourceItemID  string
	FileHash      string
	FileSizeBytes int64
	Status        string
	RecordCount   int
	ErrorMessage  string
}

// Writer performs the ordered write: (1) the ProcessedFile row, (2) each
// destination table in the order declared by the schema registry.
type Writer struct {
	schemaName  string
	metricsSink metrics.Sink
}

// NewWriter returns a Writer targeting the given ledger/destination
// schema.
func NewWriter(schemaName string) *Writer {
	return &Writer{schemaName: schemaName, metricsSink: &metrics.NoopSink{}}
}

// SetMetricsSink overrides the default no-op metrics sink.
func (w *Writer) SetMetricsSink(sink metrics.Sink) {
	w.metricsSink = sink
}

// Write opens the ProcessedFile row, captures its surrogate id, stamps it
// onto every row of every table in tables (iterated in the order given,
// which callers must pass in C1's registration order), and bulk-inserts
// them. Returning the surrogate id before commit is safe because the
// caller holds the same transaction. Any failure here is a WriteFailure;
// Write issues no rollback itself, matching C5's contract that only the
// caller owns the transaction's lifetime.
func (w *Writer) Write(ctx context.Context, tx *sql.Tx, pf ProcessedFile, tables []normalize.Table) (int64, error) {
	recordCount := 0
	for _, t := range tables {
		recordCount += len(t.Rows)
	}
	pf.RecordCount = recordCount

	id, err := w.insertProcessedFile(ctx, tx, pf)
	if err != nil {
		return 0, syncerr.Wrap(syncerr.KindWriteFailure, "failed to insert processed_file row", err)
	}

	for _, t := range tables {
		if len(t.Rows) == 0 {
			continue
		}
		if err := w.bulkInsert(ctx, tx, t, id); err != nil {
			return 0, syncerr.Wrap(syncerr.KindWriteFailure, fmt.Sprintf("failed to bulk insert table %q", t.Spec.TableName), err)
		}
		w.metricsSink.IncrArtifactsWritten(ctx, len(t.Rows))
	}
	return id, nil
}

func (w *Writer) insertProcessedFile(ctx context.Context, tx *sql.Tx, pf ProcessedFile) (int64, error) {
	res, err := dbconn.ExecResult(ctx, tx,
		"INSERT INTO %n.%n "+
			"(file_name, source_item_id, file_hash, file_size_bytes, status, record_count, error_message) "+
			"VALUES (%?, %?, %?, %?, %?, %?, %?)",
		w.schemaName, "processed_file", pf.FileName, pf.SourceItemID, pf.FileHash, pf.FileSizeBytes, pf.Status, pf.RecordCount, pf.ErrorMessage)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// bulkInsert builds one multi-row INSERT for t, columns in
// t.Spec.Columns order preceded by processed_file_id, one value tuple per
// row, and runs it as a single statement.
func (w *Writer) bulkInsert(ctx context.Context, tx *sql.Tx, t normalize.Table, processedFileID int64) error {
	cols := make([]string, 0, len(t.Spec.Columns)+1)
	cols = append(cols, "processed_file_id")
	for _, c := range t.Spec.Columns {
		cols = append(cols, c.DestinationColumn)
	}

	placeholders := make([]string, len(cols))
	for i := range placeholders {
		placeholders[i] = "%?"
	}
	rowTemplate := "(" + strings.Join(placeholders, ", ") + ")"

	var valueTuples []string
	args := make([]any, 0, len(t.Rows)*len(cols)+2)
	args = append(args, w.schemaName, t.Spec.TableName)
	for _, row := range t.Rows {
		valueTuples = append(valueTuples, rowTemplate)
		args = append(args, processedFileID)
		for _, c := range t.Spec.Columns {
			args = append(args, row.Values[c.DestinationColumn])
		}
	}

	query := fmt.Sprintf("INSERT INTO %%n.%%n (%s) VALUES %s",
		strings.Join(quoteEach(cols), ", "), strings.Join(valueTuples, ", "))

	return dbconn.Exec(ctx, tx, query, args...)
}

// quoteEach wraps each identifier so it can be spliced directly into the
// column list; dbconn's %n only handles one identifier per placeholder; the
// column list itself is not a bound value and is safe to splice because
// every name here comes from the schema registry, never from user input.
func quoteEach(names []string) []string {
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = "`" + strings.ReplaceAll(n, "`", "``") + "`"
	}
	return out
}
