package rowsource

import (
	"bytes"
	"fmt"

	"github.com/xuri/excelize/v2"
)

// readXLSX returns the rows of the named sheet, or of the first sheet that
// has any non-blank row. A workbook without data yields no rows.
func readXLSX(data []byte, sheet string) ([][]string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSpreadsheet, err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if sheet != "" {
		if idx, err := f.GetSheetIndex(sheet); err != nil || idx < 0 {
			return nil, fmt.Errorf("%w: no sheet named %q", ErrInvalidSpreadsheet, sheet)
		}
		sheets = []string{sheet}
	}

	for _, name := range sheets {
		rows, err := f.GetRows(name)
		if err != nil {
			return nil, fmt.Errorf("%w: sheet %q: %v", ErrInvalidSpreadsheet, name, err)
		}
		for _, row := range rows {
			if !isEmptyRow(row) {
				return rows, nil
			}
		}
	}
	return nil, nil
}
