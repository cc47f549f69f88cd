package orchestrator

import (
	"context"

	"github.com/JonMunkholm/sheetmigrate/internal/mapping"
	"github.com/JonMunkholm/sheetmigrate/internal/model"
	"github.com/JonMunkholm/sheetmigrate/internal/staging"
	"github.com/JonMunkholm/sheetmigrate/internal/validate"
	"github.com/JonMunkholm/sheetmigrate/internal/workbook"
)

// runIngest streams the sheet once, normalizes each row, computes its
// business key, and appends it to the raw relation inside one transaction
// per spec.md §4.6 (each phase is its own transaction, never shared across
// sheets or phases).
func (o *Orchestrator) runIngest(ctx context.Context, jobID string, sheet model.SheetType, wb *workbook.Handle) (int, error) {
	tx, err := o.pool.Begin(ctx)
	if err != nil {
		return 0, model.NewFault(model.ClassTransient, model.KindDBTimeout, "begin ingest tx", err)
	}
	defer tx.Rollback(ctx)

	store := staging.New(tx, sheet.RawTable, sheet.ValidTable, sheet.ErrorTable, "")

	var mapper *mapping.Mapper
	var batch []model.RawRecord
	var abortErr error
	total := 0
	batchSize := sheet.EffectiveBatchSize()

	streamErr := wb.StreamSheet(sheet.Name, func(rowIndex int, values []string) bool {
		if rowIndex == 0 {
			mapper = mapping.NewMapper(sheet, values)
			return true
		}
		if ctx.Err() != nil {
			return false
		}
		row := mapper.NormalizeRow(values)
		key := ""
		if sheet.KeyRecipe != nil {
			key = sheet.KeyRecipe(row)
		}
		batch = append(batch, model.RawRecord{
			JobID: jobID, SheetName: sheet.Name, RowNumber: rowIndex, BusinessKey: key, Values: row,
		})
		total++
		if len(batch) >= batchSize {
			if err := store.AppendRaw(ctx, batch); err != nil {
				abortErr = err
				return false
			}
			batch = batch[:0]
		}
		return true
	})
	if streamErr != nil {
		return 0, model.NewFault(model.ClassPermanent, model.KindParserError, "stream sheet", streamErr)
	}
	if abortErr != nil {
		return 0, abortErr
	}
	if ctx.Err() != nil {
		return 0, ctx.Err()
	}
	if len(batch) > 0 {
		if err := store.AppendRaw(ctx, batch); err != nil {
			return 0, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, model.NewFault(model.ClassTransient, model.KindDBTimeout, "commit ingest tx", err)
	}
	return total, nil
}

// runValidate reads raw rows in batches, classifies each through the rule
// chain resolved from sheet.RuleIDs, and writes valid/error rows — all
// inside one transaction for the whole phase.
func (o *Orchestrator) runValidate(ctx context.Context, jobID string, sheet model.SheetType) (int, int, error) {
	tx, err := o.pool.Begin(ctx)
	if err != nil {
		return 0, 0, model.NewFault(model.ClassTransient, model.KindDBTimeout, "begin validate tx", err)
	}
	defer tx.Rollback(ctx)

	readStore := staging.New(tx, sheet.RawTable, sheet.ValidTable, sheet.ErrorTable, "")
	writeStore := staging.New(tx, sheet.RawTable, sheet.ValidTable, sheet.ErrorTable, "")

	rules := make([]validate.Rule, 0, len(sheet.RuleIDs))
	for _, id := range sheet.RuleIDs {
		if r, ok := o.rules[id]; ok {
			rules = append(rules, r)
		}
	}
	engine := validate.New(rules, o.logger)

	validTotal, errTotal := 0, 0
	cursor := 0
	batchSize := sheet.EffectiveBatchSize()

	for {
		if ctx.Err() != nil {
			return validTotal, errTotal, ctx.Err()
		}
		rawBatch, err := readStore.ReadRaw(ctx, jobID, cursor, batchSize)
		if err != nil {
			return validTotal, errTotal, err
		}
		if len(rawBatch) == 0 {
			break
		}
		engine.ResetBatch()
		rows := make([]validate.Row, len(rawBatch))
		for i, r := range rawBatch {
			rows[i] = validate.Row{RowNumber: r.RowNumber, BusinessKey: r.BusinessKey, Values: r.Values}
			cursor = r.RowNumber
		}
		valid, errs, err := engine.ClassifyBatch(ctx, jobID, sheet.Name, rows, o.lookup)
		if err != nil {
			return validTotal, errTotal, err
		}
		if err := writeStore.MoveToValid(ctx, jobID, valid); err != nil {
			return validTotal, errTotal, err
		}
		if err := writeStore.MoveToError(ctx, jobID, errs); err != nil {
			return validTotal, errTotal, err
		}
		validTotal += len(valid)
		errTotal += len(errs)
		if len(rawBatch) < batchSize {
			break
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return validTotal, errTotal, model.NewFault(model.ClassTransient, model.KindDBTimeout, "commit validate tx", err)
	}
	return validTotal, errTotal, nil
}

// runInsert reads valid rows in batches and hands each batch to the
// caller-supplied InsertFunc, one transaction per batch per SPEC_FULL.md
// §4.9's resolution of the insert-phase transaction-boundary Open Question.
func (o *Orchestrator) runInsert(ctx context.Context, jobID string, sheet model.SheetType) (int, error) {
	inserted := 0
	cursor := 0
	batchSize := sheet.EffectiveBatchSize()

	for {
		if ctx.Err() != nil {
			return inserted, ctx.Err()
		}
		tx, err := o.pool.Begin(ctx)
		if err != nil {
			return inserted, model.NewFault(model.ClassTransient, model.KindDBTimeout, "begin insert batch tx", err)
		}

		readStore := staging.New(tx, sheet.RawTable, sheet.ValidTable, sheet.ErrorTable, "")
		batch, err := readStore.ReadValid(ctx, jobID, cursor, batchSize)
		if err != nil {
			tx.Rollback(ctx)
			return inserted, err
		}
		if len(batch) == 0 {
			tx.Rollback(ctx)
			break
		}

		if err := o.insert(ctx, tx, sheet, batch); err != nil {
			tx.Rollback(ctx)
			return inserted, err
		}
		if err := tx.Commit(ctx); err != nil {
			return inserted, model.NewFault(model.ClassTransient, model.KindDBTimeout, "commit insert batch tx", err)
		}

		inserted += len(batch)
		cursor = batch[len(batch)-1].RowNumber
		if len(batch) < batchSize {
			break
		}
	}
	return inserted, nil
}
