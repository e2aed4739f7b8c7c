// Package xlsx checks that a downloaded file is a readable spreadsheet.
package xlsx

import (
	"errors"
	"fmt"

	"github.com/xuri/excelize/v2"
)

// ErrNoSheets is returned for workbooks without any sheet.
var ErrNoSheets = errors.New("workbook has no sheets")

// Info describes a verified workbook.
type Info struct {
	Sheets []string
	Rows   int // rows of the first sheet
}

// Verify opens the workbook at path and walks the rows of its first sheet. It
// fails for anything that is not an xlsx file, such as an HTML error page
// served with a 200 status.
func Verify(path string) (*Info, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open xlsx file %s: %w", path, err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("%s: %w", path, ErrNoSheets)
	}

	rows, err := f.Rows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("failed to read rows from sheet %s: %w", sheets[0], err)
	}
	defer rows.Close()

	info := &Info{Sheets: sheets}
	for rows.Next() {
		info.Rows++
	}

	if err := rows.Error(); err != nil {
		return nil, fmt.Errorf("error iterating rows in %s: %w", path, err)
	}

	return info, nil
}
