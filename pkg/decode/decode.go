// Package decode turns a spreadsheet byte stream into an in-memory,
// untyped multi-table structure: one Table per sheet, first non-empty row
// as the header. No type coercion happens here; that is pkg/normalize's
// job once a TableSpec is known. This mirrors spirit's layering of
// concerns: the binlog event decoder never knows about destination
// schemas either, it just turns bytes into a row.Row.
package decode

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/loopworks/edgesync/pkg/syncerr"
)

// Null is the sentinel value used for an empty cell, distinguishing "cell
// present but blank" from "cell absent" is not needed at this layer: both
// normalize to Null and pkg/normalize decides what that means for a given
// column's nullability.
const Null = ""

// Table is a decoded sheet: Header is the first non-empty row, Rows holds
// the data rows below it. Every row in Rows has the same length as Header;
// short rows are padded with
// Null, matching how a spreadsheet library represents a row that ends
// before the sheet's last populated column.
type Table struct {
	Header []string
	Rows   [][]string
}

// Dataset maps sheet name to its decoded Table. Sheets with no non-empty
// rows are dropped entirely, per spec.
type Dataset map[string]Table

// Parse dispatches on filename's extension to the matching format reader
// and returns the decoded Dataset. A malformed or unsupported input
// returns a non-nil *syncerr.Error of kind KindDecode and a nil Dataset.
func Parse(data []byte, filename string) (Dataset, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	switch ext {
	case ".xlsx", ".xlsm":
		return parseOOXML(data)
	case ".xls":
		return parseLegacyXLS(data)
	case ".xlsb":
		return parseXLSB(data)
	default:
		return nil, syncerr.New(syncerr.KindDecode, fmt.Sprintf("unsupported spreadsheet extension %q", ext))
	}
}

// dropEmptySheets filters out any Table with no data rows, and also drops
// a Table whose header row is empty (nothing to map columns from).
func dropEmptySheets(in map[string]Table) Dataset {
	out := make(Dataset, len(in))
	for name, tbl := range in {
		if len(tbl.Header) == 0 || len(tbl.Rows) == 0 {
			continue
		}
		out[name] = tbl
	}
	return out
}

// padRow extends row with Null cells until it has width columns, or
// truncates it if it is somehow longer. Spreadsheet libraries sometimes
// report a short trailing run of cells when a row's later columns were
// never written.
func padRow(row []string, width int) []string {
	if len(row) >= width {
		return row[:width]
	}
	out := make([]string, width)
	copy(out, row)
	for i := len(row); i < width; i++ {
		out[i] = Null
	}
	return out
}

// firstNonEmptyRow returns the index of the first row in rows that has at
// least one non-blank cell, or -1 if every row is blank.
func firstNonEmptyRow(rows [][]string) int {
	for i, row := range rows {
		for _, cell := range row {
			if strings.TrimSpace(cell) != "" {
				return i
			}
		}
	}
	return -1
}
