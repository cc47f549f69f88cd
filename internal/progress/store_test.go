package progress

import (
	"testing"

	"github.com/JonMunkholm/sheetmigrate/internal/model"
)

func TestWeightedPercentEmpty(t *testing.T) {
	if got := WeightedPercent(nil); got != 0 {
		t.Errorf("WeightedPercent(nil) = %d, want 0", got)
	}
}

func TestWeightedPercentWeighsByRowTotal(t *testing.T) {
	sheets := []model.SheetProgress{
		{Counters: model.Counters{Total: 9000}, Percent: 100},
		{Counters: model.Counters{Total: 1000}, Percent: 0},
	}
	// 9000 rows fully done, 1000 rows not started -> 90% overall.
	if got := WeightedPercent(sheets); got != 90 {
		t.Errorf("WeightedPercent() = %d, want 90", got)
	}
}

func TestWeightedPercentTreatsZeroTotalAsOneRow(t *testing.T) {
	sheets := []model.SheetProgress{
		{Counters: model.Counters{Total: 0}, Percent: 100},
	}
	if got := WeightedPercent(sheets); got != 100 {
		t.Errorf("WeightedPercent() = %d, want 100 (a zero-row sheet still counts as weight 1)", got)
	}
}

func TestWeightedPercentAllDone(t *testing.T) {
	sheets := []model.SheetProgress{
		{Counters: model.Counters{Total: 100}, Percent: 100},
		{Counters: model.Counters{Total: 50}, Percent: 100},
	}
	if got := WeightedPercent(sheets); got != 100 {
		t.Errorf("WeightedPercent() = %d, want 100", got)
	}
}

func TestNewDefaultsTableName(t *testing.T) {
	s := New(nil, "")
	if s.table != DefaultTable {
		t.Errorf("table = %q, want default %q", s.table, DefaultTable)
	}

	s = New(nil, "custom_progress")
	if s.table != "custom_progress" {
		t.Errorf("table = %q, want custom_progress", s.table)
	}
}
