package decode

import (
	"bytes"

	"github.com/extrame/xls"

	"github.com/loopworks/edgesync/pkg/syncerr"
)

// parseLegacyXLS decodes the pre-2007 binary .xls format via extrame/xls,
// the one library in the corpus for the OLE2/BIFF-family container format.
func parseLegacyXLS(data []byte) (Dataset, error) {
	wb, err := xls.OpenReader(bytes.NewReader(data), "utf-8")
	if err != nil {
		return nil, syncerr.Wrap(syncerr.KindDecode, "failed to open legacy xls workbook", err)
	}

	raw := make(map[string]Table)
	for i := 0; i < wb.NumSheets(); i++ {
		sheet := wb.GetSheet(i)
		if sheet == nil {
			continue
		}
		rows := collectXLSRows(sheet)
		headerIdx := firstNonEmptyRow(rows)
		if headerIdx == -1 {
			continue
		}
		header := rows[headerIdx]
		width := len(header)
		var dataRows [][]string
		for _, row := range rows[headerIdx+1:] {
			dataRows = append(dataRows, padRow(row, width))
		}
		raw[sheet.Name] = Table{Header: header, Rows: dataRows}
	}
	if len(raw) == 0 {
		return nil, syncerr.New(syncerr.KindDecode, "xls workbook has no sheets")
	}
	return dropEmptySheets(raw), nil
}

// collectXLSRows walks every row index up to sheet.MaxRow and reads every
// column up to that row's last populated column, producing a dense
// [][]string the same shape parseOOXML produces from excelize.GetRows.
func collectXLSRows(sheet *xls.WorkSheet) [][]string {
	var rows [][]string
	for r := 0; r <= int(sheet.MaxRow); r++ {
		row := sheet.Row(r)
		if row == nil {
			rows = append(rows, nil)
			continue
		}
		lastCol := row.LastCol()
		cells := make([]string, lastCol)
		for c := 0; c < lastCol; c++ {
			cells[c] = row.Col(c)
		}
		rows = append(rows, cells)
	}
	return rows
}
