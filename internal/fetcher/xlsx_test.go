package fetcher

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"
)

func createTestXLSX(t *testing.T, sheets map[string][][]string) string {
	t.Helper()
	f := xlsx.NewFile()
	for name, rows := range sheets {
		sheet, err := f.AddSheet(name)
		require.NoError(t, err)
		for _, rowData := range rows {
			row := sheet.AddRow()
			for _, cellData := range rowData {
				cell := row.AddCell()
				cell.SetString(cellData)
			}
		}
	}
	path := filepath.Join(t.TempDir(), "test.xlsx")
	err := f.Save(path)
	require.NoError(t, err)
	return path
}

func TestReadXLSX_SkipRows(t *testing.T) {
	path := createTestXLSX(t, map[string][][]string{
		"Sheet1": {
			{"Title"},
			{"GRAPROES", "RAMPAS_C"},
			{"0.1", "0.2"},
		},
	})

	rows, err := ReadXLSX(path, XLSXOptions{SkipRows: 1})
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"GRAPROES", "RAMPAS_C"}, {"0.1", "0.2"}}, rows)
}

func TestReadXLSXTable(t *testing.T) {
	path := createTestXLSX(t, map[string][][]string{
		"Indicadores": {
			{"CVEGEO", "GRAPROES", "RAMPAS_C"},
			{"0900200010010", "0.5", "0.3"},
			{"0900200010027", "0.6", "0.4"},
		},
	})

	tbl, err := ReadXLSXTable(path, XLSXOptions{SheetName: "Indicadores"}, "CVEGEO")
	require.NoError(t, err)
	assert.Equal(t, []string{"GRAPROES", "RAMPAS_C"}, tbl.Columns)
	assert.Equal(t, []string{"0900200010010", "0900200010027"}, tbl.IDs)
	assert.Equal(t, "0.4", tbl.Rows[1]["RAMPAS_C"])
}

func TestReadXLSX_SheetNotFound(t *testing.T) {
	path := createTestXLSX(t, map[string][][]string{"Sheet1": {{"a"}}})

	_, err := ReadXLSX(path, XLSXOptions{SheetName: "Missing"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")

	_, err = ReadXLSX(path, XLSXOptions{SheetIndex: 3})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "out of range")
}

func TestReadXLSXTable_EmptySheet(t *testing.T) {
	path := createTestXLSX(t, map[string][][]string{"Sheet1": {}})

	_, err := ReadXLSXTable(path, XLSXOptions{}, "")
	assert.Error(t, err)
}

func TestReadXLSX_BadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.xlsx")
	require.NoError(t, writeTestFile(path, "not a zip"))

	_, err := ReadXLSX(path, XLSXOptions{})
	assert.Error(t, err)
}
