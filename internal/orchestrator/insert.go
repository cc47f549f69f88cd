package orchestrator

// insert.go provides GenericInsert, an InsertFunc that persists a batch of
// valid rows into a SheetType's master table using its declared column
// mapping. Grounded on the teacher's core/upload.go insertBatch: COPY first
// for throughput, falling back to a per-batch SAVEPOINT and a row-by-row
// retry only on failure, so a business-key conflict in one row never loses
// the rest of the batch.

import (
	"context"
	"fmt"
	"strings"

	"github.com/JonMunkholm/sheetmigrate/internal/model"
	"github.com/jackc/pgx/v5"
)

// GenericInsert is the default InsertFunc: it writes "business_key" plus
// every ColumnMapping.Column from sheet.Mapping into sheet.MasterTable,
// upserting on the business key (ON CONFLICT DO UPDATE of the mapped
// columns), matching the idempotent-resubmission requirement from spec.md §4.9.
func GenericInsert(ctx context.Context, tx pgx.Tx, sheet model.SheetType, rows []model.ValidRecord) error {
	if len(rows) == 0 {
		return nil
	}

	columns := make([]string, 0, len(sheet.Mapping)+1)
	columns = append(columns, "business_key")
	for _, m := range sheet.Mapping {
		columns = append(columns, m.Column)
	}

	copyRows := make([][]any, len(rows))
	for i, r := range rows {
		vals := make([]any, 0, len(columns))
		vals = append(vals, r.BusinessKey)
		for _, m := range sheet.Mapping {
			vals = append(vals, r.Values[m.Column])
		}
		copyRows[i] = vals
	}

	if _, err := tx.Exec(ctx, "SAVEPOINT insert_batch_sp"); err != nil {
		return model.NewFault(model.ClassTransient, model.KindDBTimeout, "savepoint before insert", err)
	}

	if _, err := tx.CopyFrom(ctx, pgx.Identifier{sheet.MasterTable}, columns, pgx.CopyFromRows(copyRows)); err == nil {
		_, _ = tx.Exec(ctx, "RELEASE SAVEPOINT insert_batch_sp")
		return nil
	}

	// COPY aborts the whole batch on the first conflict; roll back to the
	// savepoint and retry row-by-row so conflicting rows update the existing
	// master row instead of failing the batch.
	if _, err := tx.Exec(ctx, "ROLLBACK TO SAVEPOINT insert_batch_sp"); err != nil {
		return model.NewFault(model.ClassTransient, model.KindDBTimeout, "rollback to savepoint", err)
	}
	_, _ = tx.Exec(ctx, "RELEASE SAVEPOINT insert_batch_sp")

	placeholders := make([]string, len(columns))
	for i := range columns {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}
	sets := make([]string, 0, len(sheet.Mapping))
	for _, m := range sheet.Mapping {
		sets = append(sets, fmt.Sprintf("%s = EXCLUDED.%s", m.Column, m.Column))
	}
	onConflict := "DO NOTHING"
	if len(sets) > 0 {
		onConflict = "DO UPDATE SET " + strings.Join(sets, ", ")
	}
	stmt := fmt.Sprintf(
		`INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (business_key) %s`,
		sheet.MasterTable, strings.Join(columns, ", "), strings.Join(placeholders, ", "), onConflict)

	for _, vals := range copyRows {
		if _, err := tx.Exec(ctx, stmt, vals...); err != nil {
			return model.NewFault(model.ClassTransient, model.KindDBTimeout, "insert master row", err)
		}
	}
	return nil
}
