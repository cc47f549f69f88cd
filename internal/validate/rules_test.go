package validate

import (
	"context"
	"testing"

	"github.com/JonMunkholm/sheetmigrate/internal/model"
)

func checkRule(t *testing.T, r Rule, row Row, lu Lookup, wantKind model.ErrorKind, wantValid bool) {
	t.Helper()
	details, err := r.Check(context.Background(), row, lu)
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if wantValid {
		if len(details) != 0 {
			t.Errorf("expected no error details, got %v", details)
		}
		return
	}
	if len(details) != 1 {
		t.Fatalf("expected exactly one error detail, got %v", details)
	}
	if details[0].Kind != wantKind {
		t.Errorf("Kind = %q, want %q", details[0].Kind, wantKind)
	}
}

func TestRequiredField(t *testing.T) {
	r := RequiredField("req", "name", 1)
	checkRule(t, r, Row{Values: map[string]string{"name": "Alice"}}, nil, "", true)
	checkRule(t, r, Row{Values: map[string]string{"name": ""}}, nil, model.ErrRequiredMissing, false)
	checkRule(t, r, Row{Values: map[string]string{"name": "   "}}, nil, model.ErrRequiredMissing, false)
}

func TestDataTypeNumber(t *testing.T) {
	r := DataTypeNumber("num", "amount", 1)
	checkRule(t, r, Row{Values: map[string]string{"amount": "123.45"}}, nil, "", true)
	checkRule(t, r, Row{Values: map[string]string{"amount": ""}}, nil, "", true)
	checkRule(t, r, Row{Values: map[string]string{"amount": "abc"}}, nil, model.ErrFieldValidation, false)
}

func TestDataTypeDate(t *testing.T) {
	r := DataTypeDate("date", "effective_date", 1)
	checkRule(t, r, Row{Values: map[string]string{"effective_date": "2024-01-02"}}, nil, "", true)
	checkRule(t, r, Row{Values: map[string]string{"effective_date": ""}}, nil, "", true)
	checkRule(t, r, Row{Values: map[string]string{"effective_date": "02/01/2024"}}, nil, model.ErrInvalidDate, false)
}

func TestPattern(t *testing.T) {
	r := Pattern("pat", "code", `^[A-Z]{3}-\d+$`, 1)
	checkRule(t, r, Row{Values: map[string]string{"code": "ABC-123"}}, nil, "", true)
	checkRule(t, r, Row{Values: map[string]string{"code": ""}}, nil, "", true)
	checkRule(t, r, Row{Values: map[string]string{"code": "abc-123"}}, nil, model.ErrInvalidPattern, false)
}

func TestEnum(t *testing.T) {
	r := Enum("en", "status", []string{"Active", "Inactive"}, 1)
	checkRule(t, r, Row{Values: map[string]string{"status": "active"}}, nil, "", true) // case-insensitive
	checkRule(t, r, Row{Values: map[string]string{"status": ""}}, nil, "", true)
	checkRule(t, r, Row{Values: map[string]string{"status": "Pending"}}, nil, model.ErrInvalidEnum, false)
}

func TestUniqueInDB(t *testing.T) {
	masterLookup := stubLookup{master: map[string]bool{"K1": true}}
	rMaster := UniqueInDB("dup_master", "customers", model.ScopeMaster, 1)
	checkRule(t, rMaster, Row{BusinessKey: "K2"}, masterLookup, "", true)
	checkRule(t, rMaster, Row{BusinessKey: "K1"}, masterLookup, model.ErrDupInDB, false)
	checkRule(t, rMaster, Row{BusinessKey: ""}, masterLookup, "", true)

	stagingLookup := stubLookup{validStaging: map[string]bool{"K1": true}}
	rStaging := UniqueInDB("dup_staging", "customers", model.ScopePriorValidStaging, 1)
	checkRule(t, rStaging, Row{BusinessKey: "K1"}, stagingLookup, model.ErrDupInDB, false)
	checkRule(t, rStaging, Row{BusinessKey: "K2"}, stagingLookup, "", true)
}

func TestReferenceExists(t *testing.T) {
	lu := stubLookup{references: map[string]bool{"CUST1": true}}
	r := ReferenceExists("ref", "customer_id", "customers", 1)
	checkRule(t, r, Row{Values: map[string]string{"customer_id": "CUST1"}}, lu, "", true)
	checkRule(t, r, Row{Values: map[string]string{"customer_id": ""}}, lu, "", true)
	checkRule(t, r, Row{Values: map[string]string{"customer_id": "MISSING"}}, lu, model.ErrRefNotFound, false)
}

func TestBusinessLogic(t *testing.T) {
	r := BusinessLogic("biz", 1, func(row Row) (bool, string, string, string) {
		amount := row.Values["amount"]
		if amount == "-1" {
			return false, "amount", amount, "amount must not be negative"
		}
		return true, "", "", ""
	})
	checkRule(t, r, Row{Values: map[string]string{"amount": "10"}}, nil, "", true)
	checkRule(t, r, Row{Values: map[string]string{"amount": "-1"}}, nil, model.ErrBusinessRule, false)
}
