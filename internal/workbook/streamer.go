// Package workbook implements the Workbook Streamer (C1): it opens a zipped
// XML spreadsheet and iterates sheets lazily, emitting rows as string arrays
// without ever materializing a full sheet in memory.
//
// Streaming is delegated to github.com/xuri/excelize/v2's own row cursor
// (*excelize.Rows), which already parses the shared-strings table once and
// walks each sheet's XML part row by row — the same "don't load the whole
// file" concern the teacher solves for CSV in internal/core/streaming.go,
// here solved by leaning on the library the retrieval pack reaches for
// whenever it touches xlsx (employee-management, unicode-excel-converter).
package workbook

import (
	"fmt"
	"io"
	"strings"

	"github.com/xuri/excelize/v2"
)

// Handle wraps an opened workbook. Not safe for concurrent streamSheet calls
// on the same Handle; open one Handle per concurrent sheet worker (the
// bytes may be shared, see Open).
type Handle struct {
	f    *excelize.File
	path string
}

// RowHandler receives one row's ordered cell values (row 0 is the header).
// Returning false from RowHandler requests early termination of the stream.
type RowHandler func(rowIndex int, values []string) (more bool)

// Open validates the zip structure and returns a Handle. Fails with
// KindInvalidWorkbook-classed error if the container is unreadable.
func Open(path string) (*Handle, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fault(err)
	}
	return &Handle{f: f, path: path}, nil
}

// OpenReader is like Open but reads from an io.Reader (e.g. a request body
// already copied to a temp file, or an in-memory buffer for small inputs).
// Multiple Handles may be derived from the same underlying bytes — open a
// fresh io.Reader per Handle, since excelize.OpenReader consumes its input.
func OpenReader(r io.Reader) (*Handle, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fault(err)
	}
	return &Handle{f: f}, nil
}

func fault(err error) error {
	return &InvalidWorkbookError{Err: err}
}

// InvalidWorkbookError wraps a malformed-container failure.
type InvalidWorkbookError struct{ Err error }

func (e *InvalidWorkbookError) Error() string { return fmt.Sprintf("INVALID_WORKBOOK: %v", e.Err) }
func (e *InvalidWorkbookError) Unwrap() error { return e.Err }

// SheetNotFoundError is returned when a requested sheet name is absent.
type SheetNotFoundError struct{ Name string }

func (e *SheetNotFoundError) Error() string {
	return fmt.Sprintf("SHEET_NOT_FOUND: %q", e.Name)
}

// ParserError wraps an XML-parse failure encountered mid-stream; rows
// already delivered to the caller's RowHandler before the failure are not
// retracted, per spec.md §4.1.
type ParserError struct {
	SheetName string
	RowIndex  int
	Err       error
}

func (e *ParserError) Error() string {
	return fmt.Sprintf("PARSER_ERROR: sheet %q at row %d: %v", e.SheetName, e.RowIndex, e.Err)
}
func (e *ParserError) Unwrap() error { return e.Err }

// Close releases the underlying zip reader.
func (h *Handle) Close() error {
	if h.f == nil {
		return nil
	}
	return h.f.Close()
}

// ListSheets enumerates sheet names in document order without parsing any
// sheet body.
func (h *Handle) ListSheets() []string {
	return h.f.GetSheetList()
}

func (h *Handle) hasSheet(name string) bool {
	for _, n := range h.ListSheets() {
		if n == name {
			return true
		}
	}
	return false
}

// Dimension is the cheap row-count estimate behind sheetDimension.
type Dimension struct {
	HeaderLabels []string
	DataRowCount int
}

// SheetDimension parses only the sheet's dimension reference to count data
// rows cheaply. If the reference is absent or unusable it falls back to a
// full streaming pass counting row-start events (still O(1) memory).
func (h *Handle) SheetDimension(sheetName string) (Dimension, error) {
	if !h.hasSheet(sheetName) {
		return Dimension{}, &SheetNotFoundError{Name: sheetName}
	}

	if dataRows, ok := h.dimensionRowCount(sheetName); ok {
		headers, err := h.headerRow(sheetName)
		if err != nil {
			return Dimension{}, err
		}
		return Dimension{HeaderLabels: headers, DataRowCount: dataRows}, nil
	}

	var headers []string
	dataRows := 0
	first := true

	err := h.streamRaw(sheetName, func(_ int, values []string) bool {
		if first {
			headers = append([]string(nil), values...)
			first = false
			return true
		}
		dataRows++
		return true
	})
	if err != nil {
		return Dimension{}, err
	}
	return Dimension{HeaderLabels: headers, DataRowCount: dataRows}, nil
}

// dimensionRowCount parses the sheet's dimension reference (e.g.
// "A1:Z10000") to count data rows without streaming the sheet body. ok is
// false if the reference is absent or unusable, telling the caller to fall
// back to a full streaming pass.
func (h *Handle) dimensionRowCount(sheetName string) (dataRows int, ok bool) {
	ref, err := h.f.GetSheetDimension(sheetName)
	if err != nil || ref == "" {
		return 0, false
	}
	parts := strings.Split(ref, ":")
	if len(parts) != 2 {
		return 0, false
	}
	_, endRow, err := excelize.CellNameToCoordinates(parts[1])
	if err != nil || endRow < 1 {
		return 0, false
	}
	if endRow == 1 {
		return 0, true
	}
	return endRow - 1, true
}

// headerRow reads just row 0 via the streaming cursor, the cheapest way to
// get header labels without counting the rest of the sheet.
func (h *Handle) headerRow(sheetName string) ([]string, error) {
	var headers []string
	err := h.streamRaw(sheetName, func(_ int, values []string) bool {
		headers = append([]string(nil), values...)
		return false
	})
	return headers, err
}

// StreamSheet emits row 0 (headers) first, then data rows in document
// order, invoking handler for each. Blank trailing cells are preserved as
// empty strings so column alignment is never lost, matching the fixed
// column-count contract C3 relies on for header-index lookups.
func (h *Handle) StreamSheet(sheetName string, handler RowHandler) error {
	if !h.hasSheet(sheetName) {
		return &SheetNotFoundError{Name: sheetName}
	}
	return h.streamRaw(sheetName, handler)
}

func (h *Handle) streamRaw(sheetName string, handler RowHandler) error {
	rows, err := h.f.Rows(sheetName)
	if err != nil {
		return &ParserError{SheetName: sheetName, RowIndex: 0, Err: err}
	}
	defer rows.Close()

	width := 0
	idx := 0
	for rows.Next() {
		cols, err := rows.Columns()
		if err != nil {
			return &ParserError{SheetName: sheetName, RowIndex: idx, Err: err}
		}
		if idx == 0 {
			width = len(cols)
		} else if len(cols) < width {
			padded := make([]string, width)
			copy(padded, cols)
			cols = padded
		}
		if !handler(idx, cols) {
			return nil
		}
		idx++
	}
	if err := rows.Error(); err != nil {
		return &ParserError{SheetName: sheetName, RowIndex: idx, Err: err}
	}
	return nil
}
