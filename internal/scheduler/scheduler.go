// Package scheduler implements the Sheet Scheduler (C7): it runs a job's
// SheetTypes in declared order, running ParallelSheet-marked sheets
// concurrently up to a bound, and sequential ones one at a time, either
// continuing past a sheet's failure or stopping dispatch at the first one,
// per spec.md §4.7's continue-on-failure policy.
//
// Grounded on the teacher's core/upload_limiter.go semaphore/WaitForDrain
// idiom, reimplemented with golang.org/x/sync/semaphore (promoted from an
// indirect teacher dependency) rather than a hand-rolled buffered channel,
// since the rest of the pack (correlator-io-correlator) reaches for
// golang.org/x/sync for the same bounded-worker-pool concern.
package scheduler

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/JonMunkholm/sheetmigrate/internal/model"
	"github.com/JonMunkholm/sheetmigrate/internal/orchestrator"
	"github.com/JonMunkholm/sheetmigrate/internal/workbook"
	"golang.org/x/sync/semaphore"
)

const DefaultMaxConcurrentSheets = 3
const DefaultSheetTimeout = 30 * time.Minute

// Result is one sheet's terminal outcome.
type Result struct {
	SheetName string
	Err       error
}

// Scheduler runs a job's sheets against one Orchestrator.
type Scheduler struct {
	orch               *orchestrator.Orchestrator
	logger             *slog.Logger
	sem                *semaphore.Weighted
	sheetTimeout       time.Duration
	maxConcurrentSheets int64
	continueOnFailure  bool

	mu     sync.RWMutex
	active int
}

// New builds a Scheduler with the given parallel-sheet concurrency bound.
// continueOnFailure implements spec.md §4.7's continue-on-failure policy:
// when false, RunJob stops dispatching further sheets as soon as one fails.
func New(orch *orchestrator.Orchestrator, maxConcurrentSheets int64, sheetTimeout time.Duration, continueOnFailure bool, logger *slog.Logger) *Scheduler {
	if maxConcurrentSheets <= 0 {
		maxConcurrentSheets = DefaultMaxConcurrentSheets
	}
	if sheetTimeout <= 0 {
		sheetTimeout = DefaultSheetTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		orch: orch, logger: logger,
		sem: semaphore.NewWeighted(maxConcurrentSheets),
		sheetTimeout: sheetTimeout, maxConcurrentSheets: maxConcurrentSheets,
		continueOnFailure: continueOnFailure,
	}
}

// RunJob runs every enabled SheetType in order. Sheets with the same
// Order value and ParallelSheet=true run concurrently (bounded by the
// scheduler's semaphore); everything else runs sequentially in Order. When
// continueOnFailure is true (the default), a sheet's failure does not stop
// later sheets from running, per spec.md §4.7; when false, RunJob stops
// dispatching further sheets/groups as soon as one fails. Every result
// observed before the stop is still reflected in the returned []Result.
func (s *Scheduler) RunJob(ctx context.Context, jobID string, sheets []model.SheetType, open func(sheetName string) (*workbook.Handle, error)) []Result {
	enabled := make([]model.SheetType, 0, len(sheets))
	for _, st := range sheets {
		if st.Enabled {
			enabled = append(enabled, st)
		}
	}
	sort.Slice(enabled, func(i, j int) bool { return enabled[i].Order < enabled[j].Order })

	var results []Result
	var resultsMu sync.Mutex
	failed := false
	addResult := func(r Result) {
		resultsMu.Lock()
		results = append(results, r)
		if r.Err != nil {
			failed = true
		}
		resultsMu.Unlock()
	}
	hasFailed := func() bool {
		resultsMu.Lock()
		defer resultsMu.Unlock()
		return failed
	}

	i := 0
	for i < len(enabled) {
		if !s.continueOnFailure && hasFailed() {
			break
		}
		if !enabled[i].ParallelSheet {
			addResult(s.runOne(ctx, jobID, enabled[i], open))
			i++
			continue
		}
		// Collect a contiguous run of parallel-eligible sheets at the same
		// Order bucket and fan them out together.
		order := enabled[i].Order
		var group []model.SheetType
		for i < len(enabled) && enabled[i].ParallelSheet && enabled[i].Order == order {
			group = append(group, enabled[i])
			i++
		}
		var wg sync.WaitGroup
		for _, st := range group {
			st := st
			if err := s.sem.Acquire(ctx, 1); err != nil {
				addResult(Result{SheetName: st.Name, Err: ctx.Err()})
				continue
			}
			wg.Add(1)
			s.incActive()
			go func() {
				defer wg.Done()
				defer s.sem.Release(1)
				defer s.decActive()
				addResult(s.runOne(ctx, jobID, st, open))
			}()
		}
		wg.Wait()
	}
	return results
}

func (s *Scheduler) runOne(ctx context.Context, jobID string, st model.SheetType, open func(string) (*workbook.Handle, error)) Result {
	sctx, cancel := context.WithTimeout(ctx, s.sheetTimeout)
	defer cancel()

	wb, err := open(st.Name)
	if err != nil {
		s.logger.Error("sheet open failed", "job_id", jobID, "sheet", st.Name, "error", err)
		return Result{SheetName: st.Name, Err: err}
	}
	defer wb.Close()

	if err := s.orch.RunSheet(sctx, jobID, st, wb); err != nil {
		s.logger.Error("sheet run failed", "job_id", jobID, "sheet", st.Name, "error", err)
		return Result{SheetName: st.Name, Err: err}
	}
	return Result{SheetName: st.Name}
}

func (s *Scheduler) incActive() {
	s.mu.Lock()
	s.active++
	s.mu.Unlock()
}

func (s *Scheduler) decActive() {
	s.mu.Lock()
	s.active--
	s.mu.Unlock()
}

// ActiveCount reports how many sheets are currently running in parallel.
func (s *Scheduler) ActiveCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active
}

// WaitForDrain blocks until no sheets are active, mirroring the teacher's
// UploadLimiter.WaitForDrain for graceful shutdown.
func (s *Scheduler) WaitForDrain(ctx context.Context) error {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if s.ActiveCount() == 0 {
				return nil
			}
		}
	}
}
