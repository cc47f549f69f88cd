// Package validate implements the Validation Engine (C5): an ordered chain
// of rules applied to each normalized row, classifying it as valid or
// error per spec.md §4.5.
//
// Rules are plain function values (model.BusinessKeyRecipe's sibling
// pattern), registered and dispatched the way the teacher's
// core/registry.go dispatches table handlers by name — no Rule interface
// hierarchy, just a Kind tag and a closure.
package validate

import (
	"context"
	"log/slog"
	"time"

	"github.com/JonMunkholm/sheetmigrate/internal/model"
)

// Kind identifies a built-in rule family.
type Kind string

const (
	KindRequiredField Kind = "required_field"
	KindDataType      Kind = "data_type"
	KindPattern       Kind = "pattern"
	KindEnum          Kind = "enum"
	KindUniqueInFile  Kind = "unique_in_file"
	KindUniqueInDB    Kind = "unique_in_db"
	KindReference     Kind = "reference_exists"
	KindBusinessLogic Kind = "business_logic"
)

// Row is one normalized data row awaiting validation.
type Row struct {
	RowNumber   int
	BusinessKey string
	Values      map[string]string
}

// Lookup resolves cross-row/cross-sheet facts a rule may need: whether a
// business key already exists in a master table (KindUniqueInDB with
// model.ScopeMaster), in valid-staging rows of any job, earlier batches of
// the current one included
// (model.ScopePriorValidStaging), or whether a referenced key exists in
// another sheet's already-inserted rows (KindReference).
type Lookup interface {
	ExistsInMaster(ctx context.Context, table, businessKey string) (bool, error)
	ExistsInValidStaging(ctx context.Context, table, businessKey string) (bool, error)
	ReferenceExists(ctx context.Context, table, key string) (bool, error)
}

// Rule is a function value: given one row plus the lookup surface, it
// returns zero or more error details. A nil/empty return means the row
// passed this rule.
type Rule struct {
	ID       string
	Kind     Kind
	Priority int // lower runs first
	Check    func(ctx context.Context, row Row, lu Lookup) ([]model.ErrorDetail, error)
}

// Engine runs an ordered set of rules over a batch, maintaining the
// per-batch seen-set KindUniqueInFile needs.
type Engine struct {
	rules  []Rule
	logger *slog.Logger
	seen   map[string]map[string]bool // ruleID -> businessKey -> seen
}

// New returns an Engine with rules sorted by Priority ascending, matching
// the "ordered rule chain" requirement in spec.md §4.5.
func New(rules []Rule, logger *slog.Logger) *Engine {
	sorted := append([]Rule(nil), rules...)
	for i := 1; i < len(sorted); i++ {
		for j := i; j > 0 && sorted[j].Priority < sorted[j-1].Priority; j-- {
			sorted[j], sorted[j-1] = sorted[j-1], sorted[j]
		}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{rules: sorted, logger: logger, seen: make(map[string]map[string]bool)}
}

// ResetBatch clears the dup-in-file seen-set; call once per batch, not once
// per job, so KindUniqueInFile only considers rows within the same batch
// plus whatever the caller folds into Lookup for cross-batch checks.
func (e *Engine) ResetBatch() {
	e.seen = make(map[string]map[string]bool)
}

// Classify runs every rule against one row and returns the accumulated
// error details (empty means the row is valid). Rule execution time over
// 100ms is logged at Warn, per spec.md §4.5's slow-rule diagnostic.
func (e *Engine) Classify(ctx context.Context, row Row, lu Lookup) ([]model.ErrorDetail, error) {
	var details []model.ErrorDetail
	for _, r := range e.rules {
		start := time.Now()
		var found []model.ErrorDetail
		var err error
		if r.Kind == KindUniqueInFile {
			found = e.checkUniqueInFile(r, row)
		} else {
			found, err = r.Check(ctx, row, lu)
		}
		elapsed := time.Since(start)
		if elapsed > 100*time.Millisecond {
			e.logger.Warn("slow validation rule", "rule_id", r.ID, "kind", r.Kind, "elapsed_ms", elapsed.Milliseconds())
		}
		if err != nil {
			return details, err
		}
		details = append(details, found...)
	}
	return details, nil
}

func (e *Engine) checkUniqueInFile(r Rule, row Row) []model.ErrorDetail {
	bucket := e.seen[r.ID]
	if bucket == nil {
		bucket = make(map[string]bool)
		e.seen[r.ID] = bucket
	}
	if bucket[row.BusinessKey] {
		return []model.ErrorDetail{{
			RuleID:  r.ID,
			Kind:    model.ErrDupInFile,
			Field:   "business_key",
			Value:   row.BusinessKey,
			Message: "duplicate business key within uploaded file",
		}}
	}
	bucket[row.BusinessKey] = true
	return nil
}

// ClassifyBatch splits a batch of rows into valid and error sets.
func (e *Engine) ClassifyBatch(ctx context.Context, jobID, sheetName string, rows []Row, lu Lookup) ([]model.ValidRecord, []model.ErrorRecord, error) {
	var valid []model.ValidRecord
	var errs []model.ErrorRecord
	for _, row := range rows {
		details, err := e.Classify(ctx, row, lu)
		if err != nil {
			return valid, errs, err
		}
		base := model.RawRecord{
			JobID:       jobID,
			SheetName:   sheetName,
			RowNumber:   row.RowNumber,
			BusinessKey: row.BusinessKey,
			Values:      row.Values,
		}
		if len(details) == 0 {
			valid = append(valid, model.ValidRecord{RawRecord: base})
		} else {
			errs = append(errs, model.ErrorRecord{RawRecord: base, Details: details})
		}
	}
	return valid, errs, nil
}
