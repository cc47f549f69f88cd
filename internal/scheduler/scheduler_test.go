package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/JonMunkholm/sheetmigrate/internal/model"
	"github.com/JonMunkholm/sheetmigrate/internal/workbook"
	"golang.org/x/sync/semaphore"
)

func TestNewAppliesDefaults(t *testing.T) {
	s := New(nil, 0, 0, true, nil)
	if s.maxConcurrentSheets != DefaultMaxConcurrentSheets {
		t.Errorf("maxConcurrentSheets = %d, want default %d", s.maxConcurrentSheets, DefaultMaxConcurrentSheets)
	}
	if s.sheetTimeout != DefaultSheetTimeout {
		t.Errorf("sheetTimeout = %v, want default %v", s.sheetTimeout, DefaultSheetTimeout)
	}
	if s.logger == nil {
		t.Error("logger should default to a non-nil slog.Logger")
	}
}

func TestNewHonorsExplicitValues(t *testing.T) {
	s := New(nil, 7, time.Minute, false, nil)
	if s.maxConcurrentSheets != 7 {
		t.Errorf("maxConcurrentSheets = %d, want 7", s.maxConcurrentSheets)
	}
	if s.sheetTimeout != time.Minute {
		t.Errorf("sheetTimeout = %v, want 1m", s.sheetTimeout)
	}
	if s.continueOnFailure {
		t.Error("continueOnFailure = true, want false as explicitly passed")
	}
}

func TestActiveCountTracksIncDec(t *testing.T) {
	s := &Scheduler{sem: semaphore.NewWeighted(1)}
	if s.ActiveCount() != 0 {
		t.Fatalf("ActiveCount() = %d, want 0 initially", s.ActiveCount())
	}
	s.incActive()
	s.incActive()
	if got := s.ActiveCount(); got != 2 {
		t.Errorf("ActiveCount() = %d, want 2", got)
	}
	s.decActive()
	if got := s.ActiveCount(); got != 1 {
		t.Errorf("ActiveCount() = %d, want 1", got)
	}
}

func TestWaitForDrainReturnsOnceIdle(t *testing.T) {
	s := &Scheduler{sem: semaphore.NewWeighted(1)}
	s.incActive()

	done := make(chan error, 1)
	go func() { done <- s.WaitForDrain(context.Background()) }()

	select {
	case <-done:
		t.Fatal("WaitForDrain returned before the active count reached zero")
	case <-time.After(50 * time.Millisecond):
	}

	s.decActive()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("WaitForDrain() = %v, want nil once drained", err)
		}
	case <-time.After(time.Second):
		t.Fatal("WaitForDrain did not return after the active count reached zero")
	}
}

// failingOpen always fails before ever touching the orchestrator, letting
// RunJob's stop/continue dispatch policy be exercised without a real
// *orchestrator.Orchestrator or database.
func failingOpen(string) (*workbook.Handle, error) {
	return nil, errors.New("open failed")
}

func TestRunJobStopsOnFirstFailureWhenContinueOnFailureIsFalse(t *testing.T) {
	s := &Scheduler{sem: semaphore.NewWeighted(2), sheetTimeout: time.Second, logger: slog.Default(), continueOnFailure: false}
	sheets := []model.SheetType{
		{Name: "First", Order: 1, Enabled: true},
		{Name: "Second", Order: 2, Enabled: true},
	}
	results := s.RunJob(context.Background(), "job-1", sheets, failingOpen)
	if len(results) != 1 {
		t.Fatalf("got %d results, want 1 (dispatch should stop after the first failure)", len(results))
	}
	if results[0].SheetName != "First" || results[0].Err == nil {
		t.Errorf("results[0] = %+v, want First sheet's failure", results[0])
	}
}

func TestRunJobContinuesPastFailureWhenContinueOnFailureIsTrue(t *testing.T) {
	s := &Scheduler{sem: semaphore.NewWeighted(2), sheetTimeout: time.Second, logger: slog.Default(), continueOnFailure: true}
	sheets := []model.SheetType{
		{Name: "First", Order: 1, Enabled: true},
		{Name: "Second", Order: 2, Enabled: true},
	}
	results := s.RunJob(context.Background(), "job-1", sheets, failingOpen)
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2 (both sheets should run despite the first failing)", len(results))
	}
}

func TestWaitForDrainHonorsContextCancellation(t *testing.T) {
	s := &Scheduler{sem: semaphore.NewWeighted(1)}
	s.incActive()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := s.WaitForDrain(ctx)
	if err == nil {
		t.Fatal("expected WaitForDrain to return an error once the context is done")
	}
}
