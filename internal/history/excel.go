package history

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"
)

// ExcelHeaders are the column titles of the exported workbook
var ExcelHeaders = []any{"Тип", "Файл", "Длительность, сек", "Количество людей", "Время"}

const excelSheet = "History"

// ExportXLSX writes entries as a single-sheet workbook to w.
func ExportXLSX(w io.Writer, entries []Entry) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", excelSheet); err != nil {
		return fmt.Errorf("history: rename sheet: %w", err)
	}

	sw, err := f.NewStreamWriter(excelSheet)
	if err != nil {
		return fmt.Errorf("history: stream writer: %w", err)
	}
	if err := sw.SetRow("A1", ExcelHeaders); err != nil {
		return fmt.Errorf("history: write header: %w", err)
	}

	for i, e := range entries {
		var duration any = ""
		if e.DurationSec != nil {
			duration = *e.DurationSec
		}
		row := []any{e.Type, e.Filename, duration, e.PeopleCount, e.Timestamp}

		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return fmt.Errorf("history: cell name: %w", err)
		}
		if err := sw.SetRow(cell, row); err != nil {
			return fmt.Errorf("history: write row %d: %w", i+1, err)
		}
	}
	if err := sw.Flush(); err != nil {
		return fmt.Errorf("history: flush rows: %w", err)
	}

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("history: write workbook: %w", err)
	}
	return nil
}
