// Package presave implements the Pre-Save Validator (C2): four ordered
// checks run before an uploaded workbook is persisted to disk, using only
// the cheap listSheets/sheetDimension operations from internal/workbook so
// the whole pass stays within a few hundred milliseconds per spec.md §4.2.
package presave

import (
	"fmt"
	"strings"

	"github.com/JonMunkholm/sheetmigrate/internal/model"
	"github.com/JonMunkholm/sheetmigrate/internal/workbook"
)

// Policy configures the four validation phases.
type Policy struct {
	MaxPayloadBytes  int64    // default 100 MiB; see DefaultMaxPayloadBytes
	AllowedExt       []string // default {xlsx, xls}
	RequiredSheets   []string
	MaxRowsPerSheet  map[string]int // per-sheet cap; 0 or absent = unlimited
	ExpectedHeaders  map[string][]string // optional, for the template warning phase
}

const DefaultMaxPayloadBytes int64 = 100 * 1024 * 1024

// ValidationReport is the result contract from spec.md §4.2.
type ValidationReport struct {
	OK                bool
	Errors            []string
	Warnings          []string
	PerSheetRowCounts map[string]int
}

// Validate runs the four phases in order. On any Basic/Structure/Dimensions
// failure it stops early and returns OK=false; Template mismatches are
// warnings only and never flip OK to false.
func Validate(fileName string, size int64, open func() (*workbook.Handle, error), policy Policy) (ValidationReport, error) {
	report := ValidationReport{OK: true, PerSheetRowCounts: map[string]int{}}

	// Phase 1: Basic.
	if err := validateBasic(fileName, size, policy); err != nil {
		report.OK = false
		report.Errors = append(report.Errors, err.Error())
		return report, err
	}

	handle, err := open()
	if err != nil {
		report.OK = false
		msg := err.Error()
		report.Errors = append(report.Errors, msg)
		return report, model.NewFault(model.ClassInput, model.KindInvalidWorkbook, msg, err)
	}
	defer handle.Close()

	// Phase 2: Structure.
	present := handle.ListSheets()
	presentSet := make(map[string]bool, len(present))
	for _, s := range present {
		presentSet[s] = true
	}
	var missing []string
	for _, req := range policy.RequiredSheets {
		if !presentSet[req] {
			missing = append(missing, req)
		}
	}
	if len(missing) > 0 {
		msg := fmt.Sprintf("MISSING_SHEET: expected %v, found %v", policy.RequiredSheets, present)
		report.OK = false
		report.Errors = append(report.Errors, msg)
		return report, model.NewFault(model.ClassInput, model.KindMissingSheet, msg, nil)
	}

	// Phase 3: Dimensions.
	for _, sheetName := range policy.RequiredSheets {
		dim, err := handle.SheetDimension(sheetName)
		if err != nil {
			msg := err.Error()
			report.OK = false
			report.Errors = append(report.Errors, msg)
			return report, err
		}
		report.PerSheetRowCounts[sheetName] = dim.DataRowCount

		cap := policy.MaxRowsPerSheet[sheetName]
		if cap > 0 && dim.DataRowCount > cap {
			msg := fmt.Sprintf("EXCESSIVE_ROWS: sheet %q has %d data rows, exceeds cap %d", sheetName, dim.DataRowCount, cap)
			report.OK = false
			report.Errors = append(report.Errors, msg)
			return report, model.NewFault(model.ClassInput, model.KindExcessiveRows, msg, nil)
		}

		// Phase 4: Template (non-blocking).
		if expected, ok := policy.ExpectedHeaders[sheetName]; ok {
			if !headersMatch(dim.HeaderLabels, expected) {
				report.Warnings = append(report.Warnings, fmt.Sprintf(
					"sheet %q header mismatch: expected %v, found %v", sheetName, expected, dim.HeaderLabels))
			}
		}
	}

	return report, nil
}

func validateBasic(fileName string, size int64, policy Policy) error {
	if size <= 0 {
		return model.NewFault(model.ClassInput, model.KindOversizePayload, "empty payload", nil)
	}
	maxSize := policy.MaxPayloadBytes
	if maxSize <= 0 {
		maxSize = DefaultMaxPayloadBytes
	}
	if size > maxSize {
		return model.NewFault(model.ClassInput, model.KindOversizePayload,
			fmt.Sprintf("payload %d bytes exceeds limit %d", size, maxSize), nil)
	}

	allowed := policy.AllowedExt
	if len(allowed) == 0 {
		allowed = []string{"xlsx", "xls"}
	}
	ext := strings.TrimPrefix(strings.ToLower(extOf(fileName)), ".")
	for _, a := range allowed {
		if ext == strings.ToLower(a) {
			return nil
		}
	}
	return model.NewFault(model.ClassInput, model.KindBadExtension,
		fmt.Sprintf("extension %q not in %v", ext, allowed), nil)
}

func extOf(fileName string) string {
	idx := strings.LastIndexByte(fileName, '.')
	if idx < 0 {
		return ""
	}
	return fileName[idx+1:]
}

func headersMatch(actual, expected []string) bool {
	if len(actual) < len(expected) {
		return false
	}
	for i, e := range expected {
		if !strings.EqualFold(strings.TrimSpace(actual[i]), strings.TrimSpace(e)) {
			return false
		}
	}
	return true
}
