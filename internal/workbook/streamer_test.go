package workbook

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/xuri/excelize/v2"
)

func newTestWorkbook(t *testing.T, sheetName string, rows [][]string) string {
	t.Helper()
	f := excelize.NewFile()
	t.Cleanup(func() { f.Close() })

	if sheetName != "Sheet1" {
		idx, err := f.NewSheet(sheetName)
		if err != nil {
			t.Fatalf("NewSheet: %v", err)
		}
		f.SetActiveSheet(idx)
		f.DeleteSheet("Sheet1")
	}
	for r, row := range rows {
		for c, v := range row {
			cell, err := excelize.CoordinatesToCellName(c+1, r+1)
			if err != nil {
				t.Fatalf("CoordinatesToCellName: %v", err)
			}
			if err := f.SetCellStr(sheetName, cell, v); err != nil {
				t.Fatalf("SetCellStr: %v", err)
			}
		}
	}

	path := filepath.Join(t.TempDir(), "workbook.xlsx")
	if err := f.SaveAs(path); err != nil {
		t.Fatalf("SaveAs: %v", err)
	}
	return path
}

func TestStreamSheetEmitsHeaderThenDataRows(t *testing.T) {
	path := newTestWorkbook(t, "Contracts", [][]string{
		{"ID", "Amount"},
		{"C1", "100"},
		{"C2", "200"},
	})
	h, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer h.Close()

	var got [][]string
	err = h.StreamSheet("Contracts", func(_ int, values []string) bool {
		got = append(got, append([]string(nil), values...))
		return true
	})
	if err != nil {
		t.Fatalf("StreamSheet: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d rows, want 3 (header + 2 data rows): %v", len(got), got)
	}
	if got[0][0] != "ID" || got[0][1] != "Amount" {
		t.Errorf("header row = %v, want [ID Amount]", got[0])
	}
	if got[1][0] != "C1" || got[2][0] != "C2" {
		t.Errorf("data rows = %v", got[1:])
	}
}

func TestStreamSheetEarlyTermination(t *testing.T) {
	path := newTestWorkbook(t, "Sheet1", [][]string{
		{"ID"}, {"1"}, {"2"}, {"3"},
	})
	h, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer h.Close()

	count := 0
	err = h.StreamSheet("Sheet1", func(_ int, _ []string) bool {
		count++
		return count < 2
	})
	if err != nil {
		t.Fatalf("StreamSheet: %v", err)
	}
	if count != 2 {
		t.Errorf("handler ran %d times, want exactly 2 (stop once handler returns false)", count)
	}
}

func TestStreamSheetMissingSheet(t *testing.T) {
	path := newTestWorkbook(t, "Sheet1", [][]string{{"ID"}})
	h, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer h.Close()

	err = h.StreamSheet("DoesNotExist", func(_ int, _ []string) bool { return true })
	var notFound *SheetNotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("err = %v, want *SheetNotFoundError", err)
	}
}

func TestOpenInvalidWorkbook(t *testing.T) {
	path := filepath.Join(t.TempDir(), "not-a-workbook.xlsx")
	if err := os.WriteFile(path, []byte("not a zip"), 0o644); err != nil {
		t.Fatalf("os.WriteFile: %v", err)
	}
	_, err := Open(path)
	var invalid *InvalidWorkbookError
	if !errors.As(err, &invalid) {
		t.Fatalf("err = %v, want *InvalidWorkbookError", err)
	}
}

func TestSheetDimension(t *testing.T) {
	path := newTestWorkbook(t, "Sheet1", [][]string{
		{"ID", "Name"},
		{"1", "Alice"},
		{"2", "Bob"},
	})
	h, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer h.Close()

	dim, err := h.SheetDimension("Sheet1")
	if err != nil {
		t.Fatalf("SheetDimension: %v", err)
	}
	if dim.DataRowCount != 2 {
		t.Errorf("DataRowCount = %d, want 2", dim.DataRowCount)
	}
	if len(dim.HeaderLabels) != 2 || dim.HeaderLabels[0] != "ID" {
		t.Errorf("HeaderLabels = %v, want [ID Name]", dim.HeaderLabels)
	}
}

func TestListSheets(t *testing.T) {
	path := newTestWorkbook(t, "Contracts", [][]string{{"ID"}})
	h, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer h.Close()

	sheets := h.ListSheets()
	if len(sheets) != 1 || sheets[0] != "Contracts" {
		t.Errorf("ListSheets() = %v, want [Contracts]", sheets)
	}
}
