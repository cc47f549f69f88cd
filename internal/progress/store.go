// Package progress implements the Job Progress Store (C8): single-row
// UPDATEs against one progress table per (job, sheet), read back by
// clients polling the GET /api/jobs/{jobID}/progress endpoint.
//
// Grounded on the teacher's core/service.go pattern of small, single
// purpose methods each issuing one statement against the pool, and on
// core/types.go's DBTX abstraction so the store works identically against
// *pgxpool.Pool or a pgx.Tx in tests.
package progress

import (
	"context"
	"fmt"

	"github.com/JonMunkholm/sheetmigrate/internal/model"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DBTX is satisfied by *pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

// Store reads and writes sheet progress rows.
type Store struct {
	db    DBTX
	table string // default "sheet_progress"
}

const DefaultTable = "sheet_progress"

// New returns a progress Store backed by table (DefaultTable if empty).
func New(db DBTX, table string) *Store {
	if table == "" {
		table = DefaultTable
	}
	return &Store{db: db, table: table}
}

// Init creates the progress row for a (job, sheet) pair, called once per
// sheet before the orchestrator starts its first phase.
func (s *Store) Init(ctx context.Context, jobID, sheetName string, order int) error {
	_, err := s.db.Exec(ctx, fmt.Sprintf(
		`INSERT INTO %s (job_id, sheet_name, sheet_order, status, current_phase, percent)
		 VALUES ($1,$2,$3,$4,'',0)
		 ON CONFLICT (job_id, sheet_name) DO NOTHING`, s.table),
		jobID, sheetName, order, model.SheetPending)
	if err != nil {
		return model.NewFault(model.ClassTransient, model.KindDBTimeout, "init sheet progress", err)
	}
	return nil
}

// SetStatus transitions a sheet's status, enforcing the monotonic ordering
// from spec.md §3 (P5) before issuing the UPDATE.
func (s *Store) SetStatus(ctx context.Context, jobID, sheetName string, status model.SheetStatus, phase string) error {
	current, err := s.getStatus(ctx, jobID, sheetName)
	if err != nil {
		return err
	}
	if current != "" && !model.IsForwardTransition(current, status) {
		return model.NewFault(model.ClassPermanent, model.KindConstraintViolation,
			fmt.Sprintf("illegal sheet status transition %s -> %s", current, status), nil)
	}
	_, err = s.db.Exec(ctx, fmt.Sprintf(
		`UPDATE %s SET status=$1, current_phase=$2 WHERE job_id=$3 AND sheet_name=$4`, s.table),
		status, phase, jobID, sheetName)
	if err != nil {
		return model.NewFault(model.ClassTransient, model.KindDBTimeout, "set sheet status", err)
	}
	return nil
}

func (s *Store) getStatus(ctx context.Context, jobID, sheetName string) (model.SheetStatus, error) {
	var status model.SheetStatus
	row := s.db.QueryRow(ctx, fmt.Sprintf(
		`SELECT status FROM %s WHERE job_id=$1 AND sheet_name=$2`, s.table), jobID, sheetName)
	if err := row.Scan(&status); err != nil {
		if err == pgx.ErrNoRows {
			return "", nil
		}
		return "", model.NewFault(model.ClassTransient, model.KindDBTimeout, "get sheet status", err)
	}
	return status, nil
}

// SetCounters overwrites the row/ingest/valid/error/insert counters for a
// sheet in one statement.
func (s *Store) SetCounters(ctx context.Context, jobID, sheetName string, c model.Counters) error {
	_, err := s.db.Exec(ctx, fmt.Sprintf(
		`UPDATE %s SET total=$1, ingested=$2, valid=$3, error=$4, inserted=$5
		 WHERE job_id=$6 AND sheet_name=$7`, s.table),
		c.Total, c.Ingested, c.Valid, c.Error, c.Inserted, jobID, sheetName)
	if err != nil {
		return model.NewFault(model.ClassTransient, model.KindDBTimeout, "set sheet counters", err)
	}
	return nil
}

// SetPercent overwrites the sheet's progress percent directly (the
// orchestrator calls this with 33/66/100 at each phase boundary).
func (s *Store) SetPercent(ctx context.Context, jobID, sheetName string, percent int) error {
	_, err := s.db.Exec(ctx, fmt.Sprintf(
		`UPDATE %s SET percent=$1 WHERE job_id=$2 AND sheet_name=$3`, s.table),
		percent, jobID, sheetName)
	if err != nil {
		return model.NewFault(model.ClassTransient, model.KindDBTimeout, "set sheet percent", err)
	}
	return nil
}

// SetError records a terminal error message for a sheet.
func (s *Store) SetError(ctx context.Context, jobID, sheetName, message string) error {
	_, err := s.db.Exec(ctx, fmt.Sprintf(
		`UPDATE %s SET error_message=$1 WHERE job_id=$2 AND sheet_name=$3`, s.table),
		message, jobID, sheetName)
	if err != nil {
		return model.NewFault(model.ClassTransient, model.KindDBTimeout, "set sheet error", err)
	}
	return nil
}

// GetSheetProgress returns one sheet's current progress row.
func (s *Store) GetSheetProgress(ctx context.Context, jobID, sheetName string) (model.SheetProgress, error) {
	var p model.SheetProgress
	p.JobID, p.SheetName = jobID, sheetName
	row := s.db.QueryRow(ctx, fmt.Sprintf(
		`SELECT sheet_order, status, current_phase, percent, total, ingested, valid, error, inserted, error_message
		 FROM %s WHERE job_id=$1 AND sheet_name=$2`, s.table), jobID, sheetName)
	err := row.Scan(&p.SheetOrder, &p.Status, &p.CurrentPhase, &p.Percent,
		&p.Counters.Total, &p.Counters.Ingested, &p.Counters.Valid, &p.Counters.Error, &p.Counters.Inserted,
		&p.ErrorMessage)
	if err != nil {
		return model.SheetProgress{}, model.NewFault(model.ClassTransient, model.KindDBTimeout, "get sheet progress", err)
	}
	return p, nil
}

// GetAggregateProgress rolls up every sheet's progress for a job, used by
// GET /api/jobs/{jobID}/progress.
func (s *Store) GetAggregateProgress(ctx context.Context, jobID string, jobStatus model.JobStatus) (model.AggregateProgress, error) {
	rows, err := s.db.Query(ctx, fmt.Sprintf(
		`SELECT sheet_name, sheet_order, status, current_phase, percent, total, ingested, valid, error, inserted, error_message
		 FROM %s WHERE job_id=$1 ORDER BY sheet_order ASC`, s.table), jobID)
	if err != nil {
		return model.AggregateProgress{}, model.NewFault(model.ClassTransient, model.KindDBTimeout, "get aggregate progress", err)
	}
	defer rows.Close()

	agg := model.AggregateProgress{JobID: jobID, OverallStatus: jobStatus}
	for rows.Next() {
		var p model.SheetProgress
		p.JobID = jobID
		if err := rows.Scan(&p.SheetName, &p.SheetOrder, &p.Status, &p.CurrentPhase, &p.Percent,
			&p.Counters.Total, &p.Counters.Ingested, &p.Counters.Valid, &p.Counters.Error, &p.Counters.Inserted,
			&p.ErrorMessage); err != nil {
			return model.AggregateProgress{}, err
		}
		agg.Sheets = append(agg.Sheets, p)
		agg.SumTotal += p.Counters.Total
		agg.SumIngested += p.Counters.Ingested
		agg.SumValid += p.Counters.Valid
		agg.SumError += p.Counters.Error
		agg.SumInserted += p.Counters.Inserted
		if p.Status != model.SheetCompleted && p.Status != model.SheetFailed && p.Status != model.SheetCancelled {
			agg.CurrentSheet = p.SheetName
		}
	}
	return agg, rows.Err()
}

// WeightedPercent computes the overall percent across sheets weighted by
// each sheet's row total, so a 10,000-row sheet counts more than a
// 10-row lookup sheet toward the job-wide figure shown alongside the
// per-sheet percents.
func WeightedPercent(sheets []model.SheetProgress) int {
	totalRows, weighted := 0, 0
	for _, s := range sheets {
		w := s.Counters.Total
		if w == 0 {
			w = 1
		}
		totalRows += w
		weighted += w * s.Percent
	}
	if totalRows == 0 {
		return 0
	}
	return weighted / totalRows
}
