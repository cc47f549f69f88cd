// Package jobmanager implements the Async Job Manager (C9): it submits a
// workbook job to run in the background, tracks it in memory for
// idempotent re-submission and cancellation, and trips a circuit breaker
// after repeated consecutive failures.
//
// Grounded on the teacher's core/service_upload.go activeUpload
// bookkeeping (in-memory map + cancel func + Done channel, guarded by a
// RWMutex, background goroutine with panic recovery) and
// core/upload_limiter.go's semaphore-based bounded concurrency, here
// split into a core pool, a burst ceiling, and a separate bounded queue
// per spec.md §4.9.
package jobmanager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/JonMunkholm/sheetmigrate/internal/model"
)

// ErrTooManyJobs is returned by Submit when every run slot is busy and the
// wait queue is already at capacity.
var ErrTooManyJobs = errors.New("too many queued jobs, please try again later")

// ErrJobNotFound is returned by Status/Cancel for an unknown job ID.
var ErrJobNotFound = errors.New("job not found")

// ErrCircuitOpen is returned by Submit while the circuit breaker is open.
var ErrCircuitOpen = errors.New("job submission temporarily suspended after repeated failures")

// ErrDuplicateJob is returned by Submit when jobID already names a
// tracked, non-terminal job, per spec.md §4.9's idempotency rule.
var ErrDuplicateJob = errors.New("job already submitted and still running")

// ErrTerminalJob is returned by Cancel for a job that has already reached
// a terminal status.
var ErrTerminalJob = errors.New("job already finished")

const (
	DefaultCorePoolSize      = 2
	DefaultMaxPoolSize       = 5
	DefaultQueueCapacity     = 100
	DefaultFailureThreshold  = 5
	DefaultCircuitOpenPeriod = 1 * time.Minute
)

// ErrCompletedWithErrors wraps the first sheet failure of a job that ran to
// completion under the continue-on-failure policy (spec.md §4.7): the run
// itself didn't abort, but at least one sheet failed, so the job's overall
// status is COMPLETED_WITH_ERRORS rather than FAILED. RunFunc implementations
// return this (via NewCompletedWithErrors) instead of the raw sheet error to
// tell finish() which status to record.
type ErrCompletedWithErrors struct {
	FailedSheets int
	Cause        error
}

func (e *ErrCompletedWithErrors) Error() string {
	return fmt.Sprintf("%d sheet(s) failed: %v", e.FailedSheets, e.Cause)
}
func (e *ErrCompletedWithErrors) Unwrap() error { return e.Cause }

// NewCompletedWithErrors builds an ErrCompletedWithErrors error.
func NewCompletedWithErrors(failedSheets int, cause error) error {
	return &ErrCompletedWithErrors{FailedSheets: failedSheets, Cause: cause}
}

// RunFunc executes one submitted job; it must respect ctx cancellation.
type RunFunc func(ctx context.Context, jobID string, inputPath string) error

type activeJob struct {
	id        string
	inputPath string
	status    model.JobStatus
	createdAt time.Time
	completed *time.Time
	errMsg    string
	cancel    context.CancelFunc
	done      chan struct{}
}

func isTerminal(status model.JobStatus) bool {
	switch status {
	case model.JobCompleted, model.JobCompletedWithErrors, model.JobFailed, model.JobCancelled:
		return true
	default:
		return false
	}
}

// Manager tracks and runs jobs with bounded background concurrency.
type Manager struct {
	run    RunFunc
	logger *slog.Logger

	corePoolSize int
	sem          chan struct{} // max-pool capacity (running slots)

	queueMu  sync.Mutex
	queued   int
	queueCap int

	mu   sync.RWMutex
	jobs map[string]*activeJob

	idMu   sync.Mutex
	idDate string
	idSeq  int

	cbMu                sync.Mutex
	consecutiveFailures int
	circuitOpenUntil    time.Time
	failureThreshold    int
	circuitOpenPeriod   time.Duration
}

// New builds a Manager. corePoolSize/maxPoolSize bound concurrently running
// jobs (maxPoolSize is the hard ceiling used for the semaphore; corePoolSize
// is reported via SystemInfo as the steady-state size per spec.md §4.9);
// queueCap bounds how many jobs may be waiting for a slot before Submit
// starts rejecting with ErrTooManyJobs; 0 allows no waiting and a negative
// value falls back to DefaultQueueCapacity. failureThreshold/circuitOpenPeriod
// tune the circuit breaker; zero values fall back to the package defaults.
func New(run RunFunc, corePoolSize, maxPoolSize, queueCap, failureThreshold int, circuitOpenPeriod time.Duration, logger *slog.Logger) *Manager {
	if corePoolSize <= 0 {
		corePoolSize = DefaultCorePoolSize
	}
	if maxPoolSize <= 0 {
		maxPoolSize = DefaultMaxPoolSize
	}
	if queueCap < 0 {
		queueCap = DefaultQueueCapacity
	}
	if failureThreshold <= 0 {
		failureThreshold = DefaultFailureThreshold
	}
	if circuitOpenPeriod <= 0 {
		circuitOpenPeriod = DefaultCircuitOpenPeriod
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		run: run, logger: logger,
		corePoolSize: corePoolSize,
		sem:          make(chan struct{}, maxPoolSize), queueCap: queueCap,
		jobs:              make(map[string]*activeJob),
		failureThreshold:  failureThreshold,
		circuitOpenPeriod: circuitOpenPeriod,
	}
}

// Submit starts a new job for inputPath and returns its ID immediately. If
// jobID is non-empty and already tracked, Submit enforces spec.md §4.9's
// idempotency rule: a non-terminal job returns ErrDuplicateJob (409), a
// terminal one returns its existing ID with a nil error (the stored
// result). The existence check and the placeholder insert happen under a
// single write-lock critical section so two concurrent Submits for the same
// jobID can never both pass the check (P6: exactly one accepted job per
// job-id).
func (m *Manager) Submit(ctx context.Context, jobID, inputPath string) (string, error) {
	m.mu.Lock()
	if jobID != "" {
		if existing, exists := m.jobs[jobID]; exists {
			terminal := isTerminal(existing.status)
			m.mu.Unlock()
			if terminal {
				return jobID, nil
			}
			return "", ErrDuplicateJob
		}
	} else {
		jobID = m.nextJobID()
	}
	runCtx, cancel := context.WithCancel(context.Background())
	job := &activeJob{
		id: jobID, inputPath: inputPath, status: model.JobPending,
		createdAt: time.Now(), cancel: cancel, done: make(chan struct{}),
	}
	m.jobs[jobID] = job
	m.mu.Unlock()

	reject := func(err error) (string, error) {
		cancel()
		m.mu.Lock()
		delete(m.jobs, jobID)
		m.mu.Unlock()
		return "", err
	}

	if m.circuitOpen() {
		return reject(ErrCircuitOpen)
	}

	select {
	case m.sem <- struct{}{}:
	default:
		// Every run slot is busy: wait in the bounded queue.
		if !m.reserveQueueSlot() {
			return reject(ErrTooManyJobs)
		}
		defer m.releaseQueueSlot()
		select {
		case m.sem <- struct{}{}:
		case <-ctx.Done():
			return reject(ctx.Err())
		}
	}

	go m.runJob(runCtx, job)

	return jobID, nil
}

// reserveQueueSlot claims one of queueCap waiting slots; it holds the slot
// until the caller either acquires a run slot or gives up, at which point
// releaseQueueSlot must be called. This is a bound distinct from sem (the
// running-pool semaphore): sem's own length always stays within maxPoolSize,
// which is why checking it against queueCap could never actually reject a
// submission.
func (m *Manager) reserveQueueSlot() bool {
	m.queueMu.Lock()
	defer m.queueMu.Unlock()
	if m.queued >= m.queueCap {
		return false
	}
	m.queued++
	return true
}

func (m *Manager) releaseQueueSlot() {
	m.queueMu.Lock()
	m.queued--
	m.queueMu.Unlock()
}

func (m *Manager) queueDepth() int {
	m.queueMu.Lock()
	defer m.queueMu.Unlock()
	return m.queued
}

// nextJobID generates an ID of the form JOB-YYYYMMDD-NNN per spec.md §3,
// NNN a zero-padded per-day sequence number. Must be called with m.mu held.
func (m *Manager) nextJobID() string {
	m.idMu.Lock()
	defer m.idMu.Unlock()
	today := time.Now().Format("20060102")
	if today != m.idDate {
		m.idDate = today
		m.idSeq = 0
	}
	m.idSeq++
	return fmt.Sprintf("JOB-%s-%03d", today, m.idSeq)
}

func (m *Manager) runJob(ctx context.Context, job *activeJob) {
	defer func() {
		<-m.sem
		close(job.done)
	}()
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("panic in job run", "job_id", job.id, "panic", r)
			m.finish(job, fmt.Errorf("internal error: %v", r))
		}
	}()

	m.setStatus(job, model.JobStarted)
	err := m.run(ctx, job.id, job.inputPath)
	m.finish(job, err)
}

// finish records a job's terminal status per spec.md §3: COMPLETED on a nil
// error, COMPLETED_WITH_ERRORS when err is an *ErrCompletedWithErrors
// (continue-on-failure policy absorbed at least one sheet failure), FAILED
// otherwise. A job already transitioned to CANCELLED by Cancel is left
// alone — the run's own error (typically ctx.Err()) must not overwrite it.
func (m *Manager) finish(job *activeJob, err error) {
	now := time.Now()

	m.mu.Lock()
	if job.status == model.JobCancelled {
		job.completed = &now
		m.mu.Unlock()
		return
	}

	job.completed = &now
	var withErrors *ErrCompletedWithErrors
	switch {
	case err == nil:
		job.status = model.JobCompleted
	case errors.As(err, &withErrors):
		job.status = model.JobCompletedWithErrors
		job.errMsg = err.Error()
	default:
		job.status = model.JobFailed
		job.errMsg = err.Error()
	}
	status := job.status
	m.mu.Unlock()

	// recordOutcome treats COMPLETED_WITH_ERRORS as a success for circuit-
	// breaker purposes: the run completed under its own policy, it is not a
	// system fault.
	m.recordOutcome(status != model.JobFailed)
}

// setStatus never downgrades a job already marked CANCELLED by Cancel —
// closes the race between Cancel and runJob's own "STARTED" transition.
func (m *Manager) setStatus(job *activeJob, status model.JobStatus) {
	m.mu.Lock()
	if job.status != model.JobCancelled {
		job.status = status
	}
	m.mu.Unlock()
}

// recordOutcome feeds the circuit breaker: failureThreshold consecutive
// failures trips the breaker open for circuitOpenPeriod, after which the
// next Submit is allowed through as a half-open probe.
func (m *Manager) recordOutcome(success bool) {
	m.cbMu.Lock()
	defer m.cbMu.Unlock()
	if success {
		m.consecutiveFailures = 0
		m.circuitOpenUntil = time.Time{}
		return
	}
	m.consecutiveFailures++
	if m.consecutiveFailures >= m.failureThreshold {
		m.circuitOpenUntil = time.Now().Add(m.circuitOpenPeriod)
	}
}

func (m *Manager) circuitOpen() bool {
	m.cbMu.Lock()
	defer m.cbMu.Unlock()
	if m.circuitOpenUntil.IsZero() {
		return false
	}
	if time.Now().After(m.circuitOpenUntil) {
		// half-open: let the next attempt through, reset the gate.
		m.circuitOpenUntil = time.Time{}
		return false
	}
	return true
}

// Status is the snapshot returned by GET /api/jobs/{jobID}.
type Status struct {
	ID          string
	InputPath   string
	Status      model.JobStatus
	CreatedAt   time.Time
	CompletedAt *time.Time
	Error       string
}

// Status returns the current status of a tracked job.
func (m *Manager) Status(jobID string) (Status, error) {
	m.mu.RLock()
	job, ok := m.jobs[jobID]
	m.mu.RUnlock()
	if !ok {
		return Status{}, ErrJobNotFound
	}
	return Status{
		ID: job.id, InputPath: job.inputPath, Status: job.status,
		CreatedAt: job.createdAt, CompletedAt: job.completed, Error: job.errMsg,
	}, nil
}

// Cancel requests cooperative cancellation of a running job. Per spec.md
// §4.9 it returns ErrTerminalJob for a job that has already reached a
// terminal status, and is a no-op success for one already CANCELLED.
func (m *Manager) Cancel(jobID string) error {
	m.mu.Lock()
	job, ok := m.jobs[jobID]
	if !ok {
		m.mu.Unlock()
		return ErrJobNotFound
	}
	if job.status == model.JobCancelled {
		m.mu.Unlock()
		return nil
	}
	if isTerminal(job.status) {
		m.mu.Unlock()
		return ErrTerminalJob
	}
	job.status = model.JobCancelled
	cancel := job.cancel
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	return nil
}

// Wait blocks until jobID finishes, for tests and the synchronous
// (async=false) path of the submit handler.
func (m *Manager) Wait(ctx context.Context, jobID string) error {
	m.mu.RLock()
	job, ok := m.jobs[jobID]
	m.mu.RUnlock()
	if !ok {
		return ErrJobNotFound
	}
	select {
	case <-job.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SystemInfo is the response for GET /api/system/info.
type SystemInfo struct {
	ActiveJobs   int
	QueuedJobs   int
	CorePoolSize int
	MaxPoolSize  int
	CircuitOpen  bool
}

// SystemInfo reports the manager's current load, backing spec.md §6's
// system/info endpoint.
func (m *Manager) SystemInfo() SystemInfo {
	return SystemInfo{
		ActiveJobs:   len(m.sem),
		QueuedJobs:   m.queueDepth(),
		CorePoolSize: m.corePoolSize,
		MaxPoolSize:  cap(m.sem),
		CircuitOpen:  m.circuitOpen(),
	}
}
