// Package normalize validates a decoded sheet's headers against a
// TableSpec, remaps them to destination column names, and coerces every
// cell to the destination column's runtime type. No network or database
// access happens here; it is a pure function over decode.Table and
// schema.TableSpec, the same way spirit's table.Chunker operates purely
// over a table.TableInfo with no I/O of its own.
package normalize

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/shopspring/decimal"

	"github.com/loopworks/edgesync/pkg/decode"
	"github.com/loopworks/edgesync/pkg/schema"
	"github.com/loopworks/edgesync/pkg/syncerr"
)

// reservedKeywords is the closed set of destination SQL keywords an
// identifier may not collide with, case-insensitively.
var reservedKeywords = map[string]bool{}

func init() {
	for _, kw := range strings.Fields(`select from where insert update delete create drop alter table column
		index primary foreign key constraint null not unique default check references on cascade restrict
		set user order group having union join inner left right full outer cross natural using as distinct
		all any some exists in between like ilike similar is and or case when then else end`) {
		reservedKeywords[strings.ToLower(kw)] = true
	}
}

// ValidateHeader reports the relaxed CJK/parentheses/spaces-permitting
// policy from spec.md §4.3 step 1. It is the policy kept; the stricter
// ASCII-only validator described alongside it in the original is dead
// code and is not ported.
func ValidateHeader(header string) error {
	trimmed := strings.TrimSpace(header)
	if trimmed == "" {
		return syncerr.New(syncerr.KindSchemaMismatch, "column header is empty or whitespace")
	}
	if len([]rune(header)) > 63 {
		return syncerr.New(syncerr.KindSchemaMismatch, fmt.Sprintf("column header %q exceeds 63 characters", header))
	}
	first := []rune(trimmed)[0]
	if unicode.IsDigit(first) {
		return syncerr.New(syncerr.KindSchemaMismatch, fmt.Sprintf("column header %q begins with a digit", header))
	}
	for _, r := range header {
		if r < ' ' && r != '\t' {
			return syncerr.New(syncerr.KindSchemaMismatch, fmt.Sprintf("column header %q contains a control character", header))
		}
	}
	if reservedKeywords[strings.ToLower(trimmed)] {
		return syncerr.New(syncerr.KindSchemaMismatch, fmt.Sprintf("column header %q is a reserved destination keyword", header))
	}
	return nil
}

// Row is one coerced destination row, values keyed by destination column
// name in TableSpec.Columns order. ProcessedFileID is left zero here; C5
// stamps it once the ProcessedFile row exists inside the batch
// transaction.
type Row struct {
	ProcessedFileID int64
	Values          map[string]any
}

// Table is the normalized output: every row has exactly the destination
// columns declared by Spec, in Spec.Columns order.
type Table struct {
	Spec schema.TableSpec
	Rows []Row
}

// RowError describes a single row that failed coercion and was skipped;
// the batch continues with the remaining rows, per spec.md §4.3's
// "errors are aggregated" rule.
type RowError struct {
	RowIndex int
	Err      error
}

// Normalize validates raw's headers against spec, projects and reorders
// columns to spec's declared order, and coerces every cell. Structural
// failures (bad header syntax, an unmapped header, a missing required
// column) return immediately as the function's error return and abort the
// whole table; they are the schema-mismatch class. Per-cell coercion
// failures are collected in the returned []RowError; the offending rows
// are omitted from Table.Rows rather than aborting the batch.
func Normalize(spec schema.TableSpec, raw decode.Table) (Table, []RowError, error) {
	for _, h := range raw.Header {
		if err := ValidateHeader(h); err != nil {
			return Table{}, nil, err
		}
	}

	headerSet := make(map[string]int, len(raw.Header))
	for i, h := range raw.Header {
		headerSet[h] = i
	}

	declared := make(map[string]bool, len(spec.Columns))
	for _, c := range spec.Columns {
		declared[c.SourceHeader] = true
	}
	for h := range headerSet {
		if !declared[h] {
			return Table{}, nil, syncerr.New(syncerr.KindSchemaMismatch,
				fmt.Sprintf("invalid column %q for table %q: not declared in schema", h, spec.TableName))
		}
	}

	for _, c := range spec.Columns {
		if c.IsRequired {
			if _, ok := headerSet[c.SourceHeader]; !ok {
				return Table{}, nil, syncerr.New(syncerr.KindSchemaMismatch,
					fmt.Sprintf("required column %q missing from sheet for table %q", c.SourceHeader, spec.TableName))
			}
		}
	}

	var rowErrs []RowError
	var rows []Row
rowLoop:
	for ri, dataRow := range raw.Rows {
		values := make(map[string]any, len(spec.Columns))
		for _, c := range spec.Columns {
			var cell string
			if idx, ok := headerSet[c.SourceHeader]; ok && idx < len(dataRow) {
				cell = dataRow[idx]
			}
			v, err := coerce(c, cell)
			if err != nil {
				rowErrs = append(rowErrs, RowError{RowIndex: ri, Err: err})
				continue rowLoop
			}
			values[c.DestinationColumn] = v
		}
		rows = append(rows, Row{Values: values})
	}

	return Table{Spec: spec, Rows: rows}, rowErrs, nil
}

var decimalTypeRE = regexp.MustCompile(`^numeric\((\d+),\s*(\d+)\)$`)

// coerce converts one raw cell string to col's declared sql_type family.
func coerce(col schema.ColumnSpec, raw string) (any, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		if col.IsRequired {
			return nil, syncerr.New(syncerr.KindCoerce, fmt.Sprintf("column %q is required but empty", col.DestinationColumn))
		}
		return nil, nil
	}

	family := strings.ToLower(strings.TrimSpace(col.SQLType))
	switch {
	case family == "integer" || family == "int":
		n, err := strconv.ParseInt(trimmed, 10, 32)
		if err != nil {
			return nil, syncerr.Wrap(syncerr.KindCoerce, fmt.Sprintf("column %q: %q is not an integer", col.DestinationColumn, raw), err)
		}
		return n, nil
	case family == "bigint" || family == "big integer":
		n, err := strconv.ParseInt(trimmed, 10, 64)
		if err != nil {
			return nil, syncerr.Wrap(syncerr.KindCoerce, fmt.Sprintf("column %q: %q is not a big integer", col.DestinationColumn, raw), err)
		}
		return n, nil
	case decimalTypeRE.MatchString(family):
		m := decimalTypeRE.FindStringSubmatch(family)
		scale, _ := strconv.Atoi(m[2])
		d, err := decimal.NewFromString(trimmed)
		if err != nil {
			return nil, syncerr.Wrap(syncerr.KindCoerce, fmt.Sprintf("column %q: %q is not numeric", col.DestinationColumn, raw), err)
		}
		return d.Round(int32(scale)), nil
	case family == "date":
		t, err := parseDate(trimmed)
		if err != nil {
			return nil, syncerr.Wrap(syncerr.KindCoerce, fmt.Sprintf("column %q: %q is not a date", col.DestinationColumn, raw), err)
		}
		return t, nil
	case family == "timestamp" || family == "timestamp without time zone":
		t, err := parseTimestamp(trimmed)
		if err != nil {
			return nil, syncerr.Wrap(syncerr.KindCoerce, fmt.Sprintf("column %q: %q is not a timestamp", col.DestinationColumn, raw), err)
		}
		return t, nil
	case family == "boolean" || family == "bool":
		b, err := parseBool(trimmed)
		if err != nil {
			return nil, syncerr.Wrap(syncerr.KindCoerce, fmt.Sprintf("column %q: %q is not a boolean", col.DestinationColumn, raw), err)
		}
		return b, nil
	case family == "text" || family == "varchar" || strings.HasPrefix(family, "varchar("):
		if col.MaxLength > 0 && len([]rune(trimmed)) > col.MaxLength {
			return nil, syncerr.New(syncerr.KindCoerce, fmt.Sprintf("column %q: value exceeds max_length %d", col.DestinationColumn, col.MaxLength))
		}
		return trimmed, nil
	default:
		return trimmed, nil
	}
}

func parseBool(s string) (bool, error) {
	switch strings.ToLower(s) {
	case "true", "1":
		return true, nil
	case "false", "0":
		return false, nil
	default:
		return false, fmt.Errorf("not a recognized boolean literal")
	}
}

var dateLayouts = []string{"2006-01-02", "2006/01/02"}

func parseDate(s string) (time.Time, error) {
	var lastErr error
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		} else {
			lastErr = err
		}
	}
	return time.Time{}, lastErr
}

var timestampLayouts = []string{
	"2006-01-02T15:04:05",
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func parseTimestamp(s string) (time.Time, error) {
	var lastErr error
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		} else {
			lastErr = err
		}
	}
	return time.Time{}, lastErr
}
