// Package staging implements the Staging Store (C4): batched writes to the
// three staging relations per SheetType (raw, valid, error) plus one
// cross-sheet error relation, and the reads back that validation and
// insertion need.
//
// Grounded in the teacher's internal/core/types.go DBTX interface and
// internal/core/upload.go batch/savepoint insert pattern: every write here
// goes through the phase's own pgx.Tx (see internal/orchestrator), never
// opens its own transaction, and batches rows to keep memory at
// O(batch-size) per spec.md §5.
package staging

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/JonMunkholm/sheetmigrate/internal/model"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DBTX is satisfied by both *pgxpool.Pool and pgx.Tx, exactly like the
// teacher's core.DBTX, extended with CopyFrom for bulk raw-row ingest.
type DBTX interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
	CopyFrom(context.Context, pgx.Identifier, []string, pgx.CopyFromSource) (int64, error)
}

const DefaultBatchSize = 5000

// Store reads and writes the raw/valid/error relations for one SheetType.
type Store struct {
	db          DBTX
	rawTable    string
	validTable  string
	errorTable  string
	crossErrTbl string
}

// New returns a Store bound to the given table names and the caller's
// current transactional scope (db). A fresh Store should be constructed per
// phase transaction, mirroring C6's "never share a transaction across
// sheets or phases" rule.
func New(db DBTX, rawTable, validTable, errorTable, crossSheetErrorTable string) *Store {
	return &Store{db: db, rawTable: rawTable, validTable: validTable, errorTable: errorTable, crossErrTbl: crossSheetErrorTable}
}

// AppendRaw idempotently inserts a batch of raw records, relying on the
// unique constraint (job_id, sheet_name, row_number) per spec.md §3 — a
// conflicting row is a no-op, giving R1 (re-running ingest is idempotent).
func (s *Store) AppendRaw(ctx context.Context, batch []model.RawRecord) error {
	for _, chunk := range chunkRaw(batch, DefaultBatchSize) {
		if err := s.appendRawChunk(ctx, chunk); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) appendRawChunk(ctx context.Context, chunk []model.RawRecord) error {
	if len(chunk) == 0 {
		return nil
	}
	rows := make([][]any, len(chunk))
	for i, r := range chunk {
		values, _ := json.Marshal(r.Values)
		rows[i] = []any{r.JobID, r.SheetName, r.RowNumber, r.BusinessKey, values}
	}
	if _, err := s.db.Exec(ctx, "SAVEPOINT append_raw_sp"); err != nil {
		return model.NewFault(model.ClassTransient, model.KindDBTimeout, "savepoint before raw copy", err)
	}
	_, err := s.db.CopyFrom(ctx, pgx.Identifier{s.rawTable},
		[]string{"job_id", "sheet_name", "row_number", "business_key", "raw_json"},
		pgx.CopyFromRows(rows))
	if err != nil {
		// CopyFrom aborts the whole chunk on the first constraint violation
		// (e.g. a re-ingested row colliding with the unique index); roll back
		// to the savepoint, then fall back to a per-row insert with
		// ON CONFLICT DO NOTHING so the retriable rows still land.
		if _, rbErr := s.db.Exec(ctx, "ROLLBACK TO SAVEPOINT append_raw_sp"); rbErr != nil {
			return model.NewFault(model.ClassTransient, model.KindDBTimeout, "rollback to savepoint", rbErr)
		}
		_, _ = s.db.Exec(ctx, "RELEASE SAVEPOINT append_raw_sp")
		return fallbackInsertRaw(ctx, s.db, s.rawTable, chunk)
	}
	_, _ = s.db.Exec(ctx, "RELEASE SAVEPOINT append_raw_sp")
	return nil
}

func fallbackInsertRaw(ctx context.Context, db DBTX, table string, chunk []model.RawRecord) error {
	for _, r := range chunk {
		values, _ := json.Marshal(r.Values)
		_, err := db.Exec(ctx, fmt.Sprintf(
			`INSERT INTO %s (job_id, sheet_name, row_number, business_key, raw_json)
			 VALUES ($1,$2,$3,$4,$5)
			 ON CONFLICT (job_id, sheet_name, row_number) DO NOTHING`, table),
			r.JobID, r.SheetName, r.RowNumber, r.BusinessKey, values)
		if err != nil {
			return model.NewFault(model.ClassTransient, model.KindDBTimeout, "insert raw row", err)
		}
	}
	return nil
}

func chunkRaw(batch []model.RawRecord, size int) [][]model.RawRecord {
	var out [][]model.RawRecord
	for size > 0 && len(batch) > 0 {
		if len(batch) <= size {
			out = append(out, batch)
			break
		}
		out = append(out, batch[:size])
		batch = batch[size:]
	}
	return out
}

// ReadRaw returns up to limit raw rows for jobId ordered by row-number,
// starting after cursor (the last row-number already consumed), supporting
// resumable iteration across retries.
func (s *Store) ReadRaw(ctx context.Context, jobID string, cursor, limit int) ([]model.RawRecord, error) {
	rows, err := s.db.Query(ctx, fmt.Sprintf(
		`SELECT row_number, business_key, raw_json FROM %s
		 WHERE job_id = $1 AND row_number > $2
		 ORDER BY row_number ASC LIMIT $3`, s.rawTable), jobID, cursor, limit)
	if err != nil {
		return nil, model.NewFault(model.ClassTransient, model.KindDBTimeout, "read raw batch", err)
	}
	defer rows.Close()

	var out []model.RawRecord
	for rows.Next() {
		var rec model.RawRecord
		var raw []byte
		if err := rows.Scan(&rec.RowNumber, &rec.BusinessKey, &raw); err != nil {
			return nil, err
		}
		rec.JobID = jobID
		_ = json.Unmarshal(raw, &rec.Values)
		rec.RawJSON = raw
		out = append(out, rec)
	}
	return out, rows.Err()
}

// MoveToValid atomically appends rows to the valid relation for one batch.
func (s *Store) MoveToValid(ctx context.Context, jobID string, rows []model.ValidRecord) error {
	for _, r := range rows {
		values, _ := json.Marshal(r.Values)
		_, err := s.db.Exec(ctx, fmt.Sprintf(
			`INSERT INTO %s (job_id, sheet_name, row_number, business_key, raw_json)
			 VALUES ($1,$2,$3,$4,$5)
			 ON CONFLICT (job_id, sheet_name, row_number) DO NOTHING`, s.validTable),
			jobID, r.SheetName, r.RowNumber, r.BusinessKey, values)
		if err != nil {
			return model.NewFault(model.ClassTransient, model.KindDBTimeout, "move to valid", err)
		}
	}
	return nil
}

// MoveToError atomically appends rows to the error relation and the
// cross-sheet error relation for one batch.
func (s *Store) MoveToError(ctx context.Context, jobID string, rows []model.ErrorRecord) error {
	for _, r := range rows {
		values, _ := json.Marshal(r.Values)
		for _, d := range r.Details {
			_, err := s.db.Exec(ctx, fmt.Sprintf(
				`INSERT INTO %s (job_id, sheet_name, row_number, business_key, raw_json, error_type, error_field, error_value, error_message, rule_id)
				 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
				 ON CONFLICT DO NOTHING`, s.errorTable),
				jobID, r.SheetName, r.RowNumber, r.BusinessKey, values,
				d.Kind, d.Field, d.Value, d.Message, d.RuleID)
			if err != nil {
				return model.NewFault(model.ClassTransient, model.KindDBTimeout, "move to error", err)
			}
			if s.crossErrTbl != "" {
				_, err := s.db.Exec(ctx, fmt.Sprintf(
					`INSERT INTO %s (job_id, sheet_name, row_number, rule_id, error_type, error_message)
					 VALUES ($1,$2,$3,$4,$5,$6)
					 ON CONFLICT (job_id, sheet_name, row_number, rule_id) DO NOTHING`, s.crossErrTbl),
					jobID, r.SheetName, r.RowNumber, d.RuleID, d.Kind, d.Message)
				if err != nil {
					return model.NewFault(model.ClassTransient, model.KindDBTimeout, "move to cross-sheet error", err)
				}
			}
		}
	}
	return nil
}

// ReadErrors returns up to limit error rows ordered by row-number, for the
// failed-row CSV export endpoint.
func (s *Store) ReadErrors(ctx context.Context, jobID string, cursor, limit int) ([]model.ErrorRecord, error) {
	rows, err := s.db.Query(ctx, fmt.Sprintf(
		`SELECT row_number, business_key, raw_json, error_type, error_field, error_value, error_message, rule_id
		 FROM %s WHERE job_id=$1 AND row_number > $2
		 ORDER BY row_number ASC LIMIT $3`, s.errorTable), jobID, cursor, limit)
	if err != nil {
		return nil, model.NewFault(model.ClassTransient, model.KindDBTimeout, "read error batch", err)
	}
	defer rows.Close()

	byRow := make(map[int]*model.ErrorRecord)
	var order []int
	for rows.Next() {
		var rowNum int
		var businessKey string
		var raw []byte
		var d model.ErrorDetail
		if err := rows.Scan(&rowNum, &businessKey, &raw, &d.Kind, &d.Field, &d.Value, &d.Message, &d.RuleID); err != nil {
			return nil, err
		}
		rec, ok := byRow[rowNum]
		if !ok {
			rec = &model.ErrorRecord{}
			rec.JobID = jobID
			rec.RowNumber = rowNum
			rec.BusinessKey = businessKey
			_ = json.Unmarshal(raw, &rec.Values)
			byRow[rowNum] = rec
			order = append(order, rowNum)
		}
		rec.Details = append(rec.Details, d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]model.ErrorRecord, 0, len(order))
	for _, rn := range order {
		out = append(out, *byRow[rn])
	}
	return out, nil
}

// Counts is the (raw, valid, error) row-count triple from countsByJob.
type Counts struct {
	Raw, Valid, Error int
}

// CountsByJob returns the current row counts for a job across all three
// relations.
func (s *Store) CountsByJob(ctx context.Context, jobID string) (Counts, error) {
	var c Counts
	row := s.db.QueryRow(ctx, fmt.Sprintf(
		`SELECT
			(SELECT count(*) FROM %s WHERE job_id=$1),
			(SELECT count(*) FROM %s WHERE job_id=$1),
			(SELECT count(*) FROM %s WHERE job_id=$1)`,
		s.rawTable, s.validTable, s.errorTable), jobID)
	if err := row.Scan(&c.Raw, &c.Valid, &c.Error); err != nil {
		return Counts{}, model.NewFault(model.ClassTransient, model.KindDBTimeout, "counts by job", err)
	}
	return c, nil
}

// Cleanup deletes raw and optionally valid rows for a job; error rows are
// kept unless keepErrors is false.
func (s *Store) Cleanup(ctx context.Context, jobID string, keepValid, keepErrors bool) error {
	if _, err := s.db.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE job_id=$1`, s.rawTable), jobID); err != nil {
		return err
	}
	if !keepValid {
		if _, err := s.db.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE job_id=$1`, s.validTable), jobID); err != nil {
			return err
		}
	}
	if !keepErrors {
		if _, err := s.db.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE job_id=$1`, s.errorTable), jobID); err != nil {
			return err
		}
	}
	return nil
}

// ExistsInMaster reports whether businessKey is already present in a
// master table's business_key column, backing KindUniqueInDB with
// model.ScopeMaster.
func (s *Store) ExistsInMaster(ctx context.Context, table, businessKey string) (bool, error) {
	return s.existsWhere(ctx, table, "business_key", businessKey)
}

// ExistsInValidStaging reports whether businessKey already appears in a
// valid-staging relation, backing KindUniqueInDB with
// model.ScopePriorValidStaging. The lookup is not filtered by job: rows of
// earlier jobs count as well as earlier batches of the current one.
func (s *Store) ExistsInValidStaging(ctx context.Context, table, businessKey string) (bool, error) {
	return s.existsWhere(ctx, table, "business_key", businessKey)
}

// ReferenceExists reports whether key is present in another sheet's
// relation, backing KindReference foreign-key checks.
func (s *Store) ReferenceExists(ctx context.Context, table, key string) (bool, error) {
	return s.existsWhere(ctx, table, "business_key", key)
}

func (s *Store) existsWhere(ctx context.Context, table, column, value string) (bool, error) {
	var exists bool
	row := s.db.QueryRow(ctx, fmt.Sprintf(`SELECT EXISTS(SELECT 1 FROM %s WHERE %s=$1)`, table, column), value)
	if err := row.Scan(&exists); err != nil {
		return false, model.NewFault(model.ClassTransient, model.KindDBTimeout, "lookup exists", err)
	}
	return exists, nil
}

// ReadValid returns up to limit valid rows ordered by row-number, for the
// insert phase to consume in batches.
func (s *Store) ReadValid(ctx context.Context, jobID string, cursor, limit int) ([]model.ValidRecord, error) {
	rows, err := s.db.Query(ctx, fmt.Sprintf(
		`SELECT row_number, business_key, raw_json FROM %s
		 WHERE job_id=$1 AND row_number > $2
		 ORDER BY row_number ASC LIMIT $3`, s.validTable), jobID, cursor, limit)
	if err != nil {
		return nil, model.NewFault(model.ClassTransient, model.KindDBTimeout, "read valid batch", err)
	}
	defer rows.Close()

	var out []model.ValidRecord
	for rows.Next() {
		var rec model.ValidRecord
		var raw []byte
		if err := rows.Scan(&rec.RowNumber, &rec.BusinessKey, &raw); err != nil {
			return nil, err
		}
		rec.JobID = jobID
		_ = json.Unmarshal(raw, &rec.Values)
		out = append(out, rec)
	}
	return out, rows.Err()
}
