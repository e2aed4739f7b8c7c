// Package xlsxtest builds spreadsheet fixtures for tests.
package xlsxtest

import (
	"testing"

	"github.com/xuri/excelize/v2"
)

// Bytes returns an xlsx workbook whose first sheet holds rows.
func Bytes(t testing.TB, rows [][]string) []byte {
	t.Helper()

	f := excelize.NewFile()
	defer f.Close()

	sheet := f.GetSheetName(0)
	for i, row := range rows {
		values := make([]any, len(row))
		for j, v := range row {
			values[j] = v
		}

		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			t.Fatalf("cell name: %v", err)
		}

		if err := f.SetSheetRow(sheet, cell, &values); err != nil {
			t.Fatalf("set row: %v", err)
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		t.Fatalf("write workbook: %v", err)
	}

	return buf.Bytes()
}

// TaxpayerList returns a small workbook shaped like the published lists.
func TaxpayerList(t testing.TB) []byte {
	t.Helper()

	return Bytes(t, [][]string{
		{"NIU", "RAISON SOCIALE", "CENTRE DE RATTACHEMENT"},
		{"M012345678901A", "ACME SARL", "CIME DOUALA"},
		{"P098765432109B", "EXEMPLE SA", "DGE"},
	})
}
