// Package orchestrator implements the Phase Orchestrator (C6): it drives
// one sheet through Ingest -> Validate -> Insert, each phase its own
// transaction, with retry/backoff on transient faults and progress
// reporting at phase boundaries.
//
// Grounded on the teacher's core/service_upload.go transaction-per-stage
// pattern and core/upload_limiter.go's semaphore/drain idiom for
// cancellation checks; retry uses github.com/cenkalti/backoff/v4, promoted
// here from an indirect dependency of the correlator-io-correlator example
// to a direct one, since it is the pack's only exponential-backoff library.
package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/JonMunkholm/sheetmigrate/internal/model"
	"github.com/JonMunkholm/sheetmigrate/internal/progress"
	"github.com/JonMunkholm/sheetmigrate/internal/validate"
	"github.com/JonMunkholm/sheetmigrate/internal/workbook"
	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Timeouts bounds each phase; zero fields fall back to the defaults from
// spec.md §5.
type Timeouts struct {
	Ingest   time.Duration // default 5m
	Validate time.Duration // default 10m
	Insert   time.Duration // default 30m
}

func (t Timeouts) withDefaults() Timeouts {
	if t.Ingest <= 0 {
		t.Ingest = 5 * time.Minute
	}
	if t.Validate <= 0 {
		t.Validate = 10 * time.Minute
	}
	if t.Insert <= 0 {
		t.Insert = 30 * time.Minute
	}
	return t
}

// RetryPolicy configures the backoff between phase retries.
type RetryPolicy struct {
	MaxAttempts     int           // default 3
	InitialInterval time.Duration // default 5s, doubling
}

func (r RetryPolicy) withDefaults() RetryPolicy {
	if r.MaxAttempts <= 0 {
		r.MaxAttempts = 3
	}
	if r.InitialInterval <= 0 {
		r.InitialInterval = 5 * time.Second
	}
	return r
}

// InsertFunc persists one batch of valid rows into the SheetType's master
// table. Modeled as a function value, mirroring the teacher's
// BuildParamsFunc/InsertFunc pluggable-behavior pattern rather than an
// interface per destination table.
type InsertFunc func(ctx context.Context, tx pgx.Tx, sheet model.SheetType, rows []model.ValidRecord) error

// Orchestrator drives one sheet's three phases.
type Orchestrator struct {
	pool     *pgxpool.Pool
	progress *progress.Store
	rules    map[string]validate.Rule // ruleID -> Rule, resolved per sheet from SheetType.RuleIDs
	lookup   validate.Lookup
	insert   InsertFunc
	logger   *slog.Logger
	timeouts Timeouts
	retry    RetryPolicy
}

// New builds an Orchestrator. rules maps a rule ID to its Rule value so a
// SheetType's RuleIDs can be resolved into an ordered chain per sheet.
func New(pool *pgxpool.Pool, store *progress.Store, rules map[string]validate.Rule, lu validate.Lookup, insert InsertFunc, logger *slog.Logger, timeouts Timeouts, retry RetryPolicy) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		pool: pool, progress: store, rules: rules, lookup: lu, insert: insert,
		logger: logger, timeouts: timeouts.withDefaults(), retry: retry.withDefaults(),
	}
}

// RunSheet drives one sheet's full Ingest -> Validate -> Insert pipeline
// against an already-open workbook handle.
func (o *Orchestrator) RunSheet(ctx context.Context, jobID string, sheet model.SheetType, wb *workbook.Handle) error {
	if err := o.progress.SetStatus(ctx, jobID, sheet.Name, model.SheetIngesting, "ingest"); err != nil {
		return err
	}

	var total int
	if err := o.retryPhase(ctx, o.timeouts.Ingest, func(pctx context.Context) error {
		n, err := o.runIngest(pctx, jobID, sheet, wb)
		total = n
		return err
	}); err != nil {
		return o.fail(ctx, jobID, sheet.Name, err)
	}
	if err := o.progress.SetCounters(ctx, jobID, sheet.Name, model.Counters{Total: total, Ingested: total}); err != nil {
		return err
	}
	if err := o.progress.SetPercent(ctx, jobID, sheet.Name, 33); err != nil {
		return err
	}

	if err := o.progress.SetStatus(ctx, jobID, sheet.Name, model.SheetValidating, "validate"); err != nil {
		return err
	}
	var validCount, errCount int
	if err := o.retryPhase(ctx, o.timeouts.Validate, func(pctx context.Context) error {
		v, e, err := o.runValidate(pctx, jobID, sheet)
		validCount, errCount = v, e
		return err
	}); err != nil {
		return o.fail(ctx, jobID, sheet.Name, err)
	}
	if err := o.progress.SetCounters(ctx, jobID, sheet.Name, model.Counters{Total: total, Ingested: total, Valid: validCount, Error: errCount}); err != nil {
		return err
	}
	if err := o.progress.SetPercent(ctx, jobID, sheet.Name, 66); err != nil {
		return err
	}

	// spec.md §4.6: VALIDATE transitions to INSERTING iff valid-rows > 0,
	// else straight to COMPLETED with nothing left to insert.
	if validCount == 0 {
		return o.progress.SetStatus(ctx, jobID, sheet.Name, model.SheetCompleted, "done")
	}

	if err := o.progress.SetStatus(ctx, jobID, sheet.Name, model.SheetInserting, "insert"); err != nil {
		return err
	}
	var inserted int
	if err := o.retryPhase(ctx, o.timeouts.Insert, func(pctx context.Context) error {
		n, err := o.runInsert(pctx, jobID, sheet)
		inserted = n
		return err
	}); err != nil {
		return o.fail(ctx, jobID, sheet.Name, err)
	}
	if err := o.progress.SetCounters(ctx, jobID, sheet.Name, model.Counters{Total: total, Ingested: total, Valid: validCount, Error: errCount, Inserted: inserted}); err != nil {
		return err
	}
	if err := o.progress.SetPercent(ctx, jobID, sheet.Name, 100); err != nil {
		return err
	}
	return o.progress.SetStatus(ctx, jobID, sheet.Name, model.SheetCompleted, "done")
}

// fail transitions a sheet to its terminal non-COMPLETED state. A phase
// error rooted in context.Canceled means the job was cooperatively
// cancelled (spec.md §7, §4.9's cancel semantics), which is CANCELLED, not
// FAILED; everything else is a genuine phase failure. The final status
// write uses a detached context since the job's own ctx is what just ended
// (cancelled or its deadline exceeded), so it would refuse to make any
// further DB call.
func (o *Orchestrator) fail(ctx context.Context, jobID, sheetName string, err error) error {
	writeCtx := ctx
	if ctx.Err() != nil {
		var cancel context.CancelFunc
		writeCtx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
	}

	if errors.Is(err, context.Canceled) {
		o.logger.Warn("sheet cancelled", "job_id", jobID, "sheet", sheetName)
		_ = o.progress.SetStatus(writeCtx, jobID, sheetName, model.SheetCancelled, "cancelled")
		return err
	}

	o.logger.Error("sheet phase failed", "job_id", jobID, "sheet", sheetName, "error", err)
	_ = o.progress.SetError(writeCtx, jobID, sheetName, err.Error())
	_ = o.progress.SetStatus(writeCtx, jobID, sheetName, model.SheetFailed, "failed")
	return err
}

// retryPhase runs fn under a phase timeout, retrying transient faults with
// exponential backoff per spec.md §5 (3 attempts, 5s initial, doubling).
// Permanent faults and context cancellation abort immediately.
func (o *Orchestrator) retryPhase(ctx context.Context, timeout time.Duration, fn func(context.Context) error) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = o.retry.InitialInterval
	bo.Multiplier = 2
	bo.RandomizationFactor = 0
	policy := backoff.WithMaxRetries(bo, uint64(o.retry.MaxAttempts-1))

	return backoff.Retry(func() error {
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		pctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		err := fn(pctx)
		if err != nil && !model.IsTransient(err) {
			return backoff.Permanent(err)
		}
		return err
	}, policy)
}
