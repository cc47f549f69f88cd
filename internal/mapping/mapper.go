// Package mapping implements the Column Mapper & Normalizer (C3): header
// lookup, per-kind normalization, and business-key generation.
package mapping

import (
	"strings"
	"time"

	"github.com/JonMunkholm/sheetmigrate/internal/model"
)

// Mapper builds the headerLabel->index and index->canonical lookups for one
// SheetType from its actual header row, then normalizes data rows into
// canonical-column maps.
type Mapper struct {
	sheetType  model.SheetType
	labelToIdx map[string]int
	idxToCol   map[int]model.ColumnMapping
}

// NewMapper reads the header row once and builds both lookup structures.
func NewMapper(st model.SheetType, headerRow []string) *Mapper {
	m := &Mapper{
		sheetType:  st,
		labelToIdx: make(map[string]int, len(headerRow)),
		idxToCol:   make(map[int]model.ColumnMapping, len(st.Mapping)),
	}
	for i, label := range headerRow {
		m.labelToIdx[normalizeLabel(label)] = i
	}
	for _, cm := range st.Mapping {
		if idx, ok := m.labelToIdx[normalizeLabel(cm.HeaderLabel)]; ok {
			m.idxToCol[idx] = cm
		}
	}
	return m
}

func normalizeLabel(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// NormalizeRow maps one data row to canonical column values, applying the
// per-kind normalization rules from spec.md §4.3. Columns with no matching
// header are left absent from the result.
func (m *Mapper) NormalizeRow(row []string) map[string]string {
	out := make(map[string]string, len(m.idxToCol))
	for idx, cm := range m.idxToCol {
		var raw string
		if idx < len(row) {
			raw = row[idx]
		}
		out[cm.Column] = normalizeValue(raw, cm.Kind)
	}
	return out
}

// normalizeValue applies the rule for one NormKind. Null policy: empty and
// whitespace-only strings become "" (the validation engine treats "" as
// null for required-field checks).
func normalizeValue(raw string, kind model.NormKind) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return ""
	}

	switch kind {
	case model.NormText:
		return trimmed
	case model.NormNumber:
		return stripNumberNoise(trimmed)
	case model.NormDate:
		if t, ok := parseDate(trimmed); ok {
			return t.Format("2006-01-02")
		}
		return trimmed // pass through unchanged; validator rejects later
	case model.NormMonth:
		if t, ok := parseMonth(trimmed); ok {
			return t.Format("2006-01")
		}
		return trimmed
	default:
		return trimmed
	}
}

func stripNumberNoise(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r == ',' || r == ' ' || r == ' ' {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// dateLayouts is the ordered list of patterns spec.md §4.3 requires: ISO
// first (unambiguous), then local dd/MM/yyyy and slash/dash variants, with
// an optional time suffix tried last.
var dateLayouts = []string{
	"2006-01-02",
	"02/01/2006",
	"02-01-2006",
	"02.01.2006",
	"2006/01/02",
	"01/02/2006",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
}

func parseDate(s string) (time.Time, bool) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

var monthLayouts = []string{
	"2006-01",
	"01/2006",
	"2006/01",
}

func parseMonth(s string) (time.Time, bool) {
	for _, layout := range monthLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
