// rules.go builds model.ErrorDetail-producing Rule values for the built-in
// rule kinds from spec.md §4.5, grounded on the teacher's
// core/validation.go FieldSpec checks (ValidateCell's switch over
// FieldNumeric/FieldDate/FieldBool/FieldEnum) generalized from a fixed
// table schema to an arbitrary SheetType's column list.
package validate

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/JonMunkholm/sheetmigrate/internal/model"
)

func newDetail(ruleID string, kind model.ErrorKind, field, value, message string) model.ErrorDetail {
	return model.ErrorDetail{RuleID: ruleID, Kind: kind, Field: field, Value: value, Message: message}
}

// RequiredField rejects rows where field is empty.
func RequiredField(id, field string, priority int) Rule {
	return Rule{
		ID: id, Kind: KindRequiredField, Priority: priority,
		Check: func(_ context.Context, row Row, _ Lookup) ([]model.ErrorDetail, error) {
			if strings.TrimSpace(row.Values[field]) == "" {
				return []model.ErrorDetail{newDetail(id, model.ErrRequiredMissing, field, "", "required field is empty")}, nil
			}
			return nil, nil
		},
	}
}

// DataTypeNumber rejects values that don't parse as a decimal number.
func DataTypeNumber(id, field string, priority int) Rule {
	return Rule{
		ID: id, Kind: KindDataType, Priority: priority,
		Check: func(_ context.Context, row Row, _ Lookup) ([]model.ErrorDetail, error) {
			v := row.Values[field]
			if v == "" {
				return nil, nil
			}
			if _, err := strconv.ParseFloat(v, 64); err != nil {
				return []model.ErrorDetail{newDetail(id, model.ErrFieldValidation, field, v, "invalid number format")}, nil
			}
			return nil, nil
		},
	}
}

// DataTypeDate rejects values not already normalized to YYYY-MM-DD by C3.
func DataTypeDate(id, field string, priority int) Rule {
	return Rule{
		ID: id, Kind: KindDataType, Priority: priority,
		Check: func(_ context.Context, row Row, _ Lookup) ([]model.ErrorDetail, error) {
			v := row.Values[field]
			if v == "" {
				return nil, nil
			}
			if _, err := time.Parse("2006-01-02", v); err != nil {
				return []model.ErrorDetail{newDetail(id, model.ErrInvalidDate, field, v, "invalid date format")}, nil
			}
			return nil, nil
		},
	}
}

// Pattern rejects values that don't match the given regexp.
func Pattern(id, field, expr string, priority int) Rule {
	re := regexp.MustCompile(expr)
	return Rule{
		ID: id, Kind: KindPattern, Priority: priority,
		Check: func(_ context.Context, row Row, _ Lookup) ([]model.ErrorDetail, error) {
			v := row.Values[field]
			if v == "" {
				return nil, nil
			}
			if !re.MatchString(v) {
				return []model.ErrorDetail{newDetail(id, model.ErrInvalidPattern, field, v, fmt.Sprintf("value does not match pattern %q", expr))}, nil
			}
			return nil, nil
		},
	}
}

// Enum rejects values outside the allowed set (case-insensitive).
func Enum(id, field string, allowed []string, priority int) Rule {
	set := make(map[string]bool, len(allowed))
	for _, a := range allowed {
		set[strings.ToLower(a)] = true
	}
	return Rule{
		ID: id, Kind: KindEnum, Priority: priority,
		Check: func(_ context.Context, row Row, _ Lookup) ([]model.ErrorDetail, error) {
			v := row.Values[field]
			if v == "" {
				return nil, nil
			}
			if !set[strings.ToLower(v)] {
				return []model.ErrorDetail{newDetail(id, model.ErrInvalidEnum, field, v, fmt.Sprintf("value must be one of: %s", strings.Join(allowed, ", ")))}, nil
			}
			return nil, nil
		},
	}
}

// UniqueInFile flags the business key as duplicate-in-file; the seen-set
// bookkeeping lives in Engine.checkUniqueInFile, this constructor only
// registers the rule in the chain at the right priority.
func UniqueInFile(id string, priority int) Rule {
	return Rule{ID: id, Kind: KindUniqueInFile, Priority: priority}
}

// UniqueInDB flags the business key as duplicate against either the
// SheetType's master table or a prior-valid-staging scope, resolving
// spec.md §9's Open Question on a per-rule basis.
func UniqueInDB(id, table string, scope model.DuplicateScope, priority int) Rule {
	return Rule{
		ID: id, Kind: KindUniqueInDB, Priority: priority,
		Check: func(ctx context.Context, row Row, lu Lookup) ([]model.ErrorDetail, error) {
			if row.BusinessKey == "" {
				return nil, nil
			}
			var exists bool
			var err error
			switch scope {
			case model.ScopeMaster:
				exists, err = lu.ExistsInMaster(ctx, table, row.BusinessKey)
			case model.ScopePriorValidStaging:
				exists, err = lu.ExistsInValidStaging(ctx, table, row.BusinessKey)
			}
			if err != nil {
				return nil, err
			}
			if exists {
				return []model.ErrorDetail{newDetail(id, model.ErrDupInDB, "business_key", row.BusinessKey, "business key already present in database")}, nil
			}
			return nil, nil
		},
	}
}

// ReferenceExists flags rows whose foreign-key field points at a business
// key absent from another sheet's already-inserted rows.
func ReferenceExists(id, field, refTable string, priority int) Rule {
	return Rule{
		ID: id, Kind: KindReference, Priority: priority,
		Check: func(ctx context.Context, row Row, lu Lookup) ([]model.ErrorDetail, error) {
			key := row.Values[field]
			if key == "" {
				return nil, nil
			}
			exists, err := lu.ReferenceExists(ctx, refTable, key)
			if err != nil {
				return nil, err
			}
			if !exists {
				return []model.ErrorDetail{newDetail(id, model.ErrRefNotFound, field, key, "referenced key not found")}, nil
			}
			return nil, nil
		},
	}
}

// BusinessLogic wraps an arbitrary row-level predicate for rules that don't
// fit the built-in kinds (e.g. cross-field comparisons).
func BusinessLogic(id string, priority int, check func(row Row) (ok bool, field, value, message string)) Rule {
	return Rule{
		ID: id, Kind: KindBusinessLogic, Priority: priority,
		Check: func(_ context.Context, row Row, _ Lookup) ([]model.ErrorDetail, error) {
			ok, field, value, msg := check(row)
			if !ok {
				return []model.ErrorDetail{newDetail(id, model.ErrBusinessRule, field, value, msg)}, nil
			}
			return nil, nil
		},
	}
}
