package decode

import (
	"bytes"
	"fmt"

	"github.com/xuri/excelize/v2"

	"github.com/loopworks/edgesync/pkg/syncerr"
)

// parseOOXML decodes .xlsx and .xlsm payloads via excelize, which handles
// both extensions identically: an .xlsm is just an .xlsx with a macro part
// excelize ignores.
func parseOOXML(data []byte) (Dataset, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, syncerr.Wrap(syncerr.KindDecode, "failed to open OOXML workbook", err)
	}
	defer f.Close()

	raw := make(map[string]Table)
	for _, sheetName := range f.GetSheetList() {
		rows, err := f.GetRows(sheetName)
		if err != nil {
			return nil, syncerr.Wrap(syncerr.KindDecode, fmt.Sprintf("failed to read sheet %q", sheetName), err)
		}
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
		raw[sheetName] = Table{Header: header, Rows: dataRows}
	}
	return dropEmptySheets(raw), nil
}
