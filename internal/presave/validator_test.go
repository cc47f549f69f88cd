package presave

import (
	"errors"
	"testing"

	"github.com/JonMunkholm/sheetmigrate/internal/model"
	"github.com/JonMunkholm/sheetmigrate/internal/workbook"
)

func TestValidateRejectsEmptyPayload(t *testing.T) {
	report, err := Validate("book.xlsx", 0, nil, Policy{})
	if report.OK {
		t.Fatal("expected OK=false for empty payload")
	}
	var f *model.Fault
	if !errors.As(err, &f) || f.Kind != model.KindOversizePayload {
		t.Fatalf("err = %v, want OVERSIZE_PAYLOAD fault", err)
	}
}

func TestValidateRejectsOversizePayload(t *testing.T) {
	policy := Policy{MaxPayloadBytes: 100}
	report, err := Validate("book.xlsx", 200, nil, policy)
	if report.OK {
		t.Fatal("expected OK=false for oversize payload")
	}
	var f *model.Fault
	if !errors.As(err, &f) || f.Kind != model.KindOversizePayload {
		t.Fatalf("err = %v, want OVERSIZE_PAYLOAD fault", err)
	}
}

func TestValidateRejectsBadExtension(t *testing.T) {
	report, err := Validate("book.csv", 10, nil, Policy{})
	if report.OK {
		t.Fatal("expected OK=false for disallowed extension")
	}
	var f *model.Fault
	if !errors.As(err, &f) || f.Kind != model.KindBadExtension {
		t.Fatalf("err = %v, want BAD_EXTENSION fault", err)
	}
}

func TestValidateStopsBeforeOpeningOnBasicFailure(t *testing.T) {
	opened := false
	open := func() (*workbook.Handle, error) {
		opened = true
		return nil, nil
	}
	_, _ = Validate("book.csv", 10, open, Policy{})
	if opened {
		t.Error("open() must not be called when Basic phase already failed")
	}
}

func TestValidateRejectsUnreadableWorkbook(t *testing.T) {
	open := func() (*workbook.Handle, error) {
		return nil, errors.New("corrupt zip")
	}
	report, err := Validate("book.xlsx", 10, open, Policy{})
	if report.OK {
		t.Fatal("expected OK=false when open() fails")
	}
	var f *model.Fault
	if !errors.As(err, &f) || f.Kind != model.KindInvalidWorkbook {
		t.Fatalf("err = %v, want INVALID_WORKBOOK fault", err)
	}
}

func TestHeadersMatch(t *testing.T) {
	cases := []struct {
		name     string
		actual   []string
		expected []string
		want     bool
	}{
		{"exact match", []string{"ID", "Name"}, []string{"ID", "Name"}, true},
		{"case and space insensitive", []string{" id ", "NAME"}, []string{"ID", "Name"}, true},
		{"actual has extra trailing columns", []string{"ID", "Name", "Extra"}, []string{"ID", "Name"}, true},
		{"actual shorter than expected", []string{"ID"}, []string{"ID", "Name"}, false},
		{"mismatched label", []string{"ID", "Other"}, []string{"ID", "Name"}, false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := headersMatch(c.actual, c.expected); got != c.want {
				t.Errorf("headersMatch(%v, %v) = %v, want %v", c.actual, c.expected, got, c.want)
			}
		})
	}
}

func TestExtOf(t *testing.T) {
	cases := map[string]string{
		"book.xlsx":       "xlsx",
		"archive.tar.gz":  "gz",
		"noextension":     "",
		"trailing.":       "",
	}
	for name, want := range cases {
		if got := extOf(name); got != want {
			t.Errorf("extOf(%q) = %q, want %q", name, got, want)
		}
	}
}
