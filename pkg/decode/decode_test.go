package decode

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func buildXLSX(t *testing.T, sheet string, rows [][]string) []byte {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()
	f.SetSheetName("Sheet1", sheet)
	for r, row := range rows {
		for c, cell := range row {
			col, err := excelize.CoordinatesToCellName(c+1, r+1)
			require.NoError(t, err)
			require.NoError(t, f.SetCellValue(sheet, col, cell))
		}
	}
	var buf bytes.Buffer
	_, err := f.WriteTo(&buf)
	require.NoError(t, err)
	return buf.Bytes()
}

func TestParse_Xlsx_HappyPath(t *testing.T) {
	data := buildXLSX(t, "新規to業務管理", [][]string{
		{"契約ID", "物件No", "出力日時"},
		{"C001", "123", "2024-01-01T10:00:00"},
	})

	ds, err := Parse(data, "a.xlsx")
	require.NoError(t, err)
	require.Contains(t, ds, "新規to業務管理")

	tbl := ds["新規to業務管理"]
	assert.Equal(t, []string{"契約ID", "物件No", "出力日時"}, tbl.Header)
	require.Len(t, tbl.Rows, 1)
	assert.Equal(t, []string{"C001", "123", "2024-01-01T10:00:00"}, tbl.Rows[0])
}

func TestParse_Xlsx_EmptySheetDropped(t *testing.T) {
	data := buildXLSX(t, "Empty", nil)

	ds, err := Parse(data, "empty.xlsx")
	require.NoError(t, err)
	assert.Empty(t, ds)
}

func TestParse_UnsupportedExtension(t *testing.T) {
	_, err := Parse([]byte("whatever"), "file.csv")
	require.Error(t, err)
}

func TestParse_MalformedXlsx(t *testing.T) {
	_, err := Parse([]byte("not a zip file at all"), "broken.xlsx")
	require.Error(t, err)
}

func TestPadRow(t *testing.T) {
	assert.Equal(t, []string{"a", "b", Null}, padRow([]string{"a", "b"}, 3))
	assert.Equal(t, []string{"a", "b"}, padRow([]string{"a", "b", "c"}, 2))
}

func TestFirstNonEmptyRow(t *testing.T) {
	rows := [][]string{{"", ""}, {"", "x"}, {"y"}}
	assert.Equal(t, 1, firstNonEmptyRow(rows))
	assert.Equal(t, -1, firstNonEmptyRow([][]string{{"", ""}}))
}
