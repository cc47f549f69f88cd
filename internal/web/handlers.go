package web

// handlers.go implements spec.md §6's job-centric API: submit a workbook,
// poll job/sheet progress, fetch one sheet's failed rows as CSV, cancel a
// running job, and report system load. None of the teacher's CSV-upload
// handler bodies (table-scoped upload/preview/rollback/template endpoints)
// carry over — this pipeline has no per-table UI, so the surface is new,
// though it keeps the teacher's thin-handler style: parse, delegate to a
// component, writeJSON/writeError the result.

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/JonMunkholm/sheetmigrate/internal/jobmanager"
	"github.com/JonMunkholm/sheetmigrate/internal/model"
)

// submitResponse is the body returned by POST /api/jobs for an async
// (default) submission: spec.md §6's {jobId, status, progressUrl, cancelUrl}.
type submitResponse struct {
	JobID       string `json:"job_id"`
	Status      string `json:"status"`
	ProgressURL string `json:"progress_url"`
	CancelURL   string `json:"cancel_url"`
}

// handleSubmitJob accepts a multipart workbook upload, optionally reusing a
// caller-supplied job ID (header X-Job-ID) for idempotent resubmission per
// spec.md §4.9 (R2), stages it to disk, and starts the pipeline in the
// background. The async query param (default true, spec.md §6) controls
// whether the response is the 202-accepted envelope or, for async=false,
// blocks until the job reaches a terminal status and returns 200 with its
// final snapshot.
func (s *Server) handleSubmitJob(w http.ResponseWriter, r *http.Request) {
	async := true
	if v := r.URL.Query().Get("async"); v != "" {
		parsed, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid async query param: "+err.Error())
			return
		}
		async = parsed
	}

	if err := r.ParseMultipartForm(s.maxPayloadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart upload: "+err.Error())
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing file field: "+err.Error())
		return
	}
	defer file.Close()

	if header.Size > s.maxPayloadBytes {
		writeError(w, http.StatusRequestEntityTooLarge, "workbook exceeds maximum payload size")
		return
	}

	jobID := r.Header.Get("X-Job-ID")
	dest := filepath.Join(s.uploadDir, fmt.Sprintf("%d-%s", time.Now().UnixNano(), filepath.Base(header.Filename)))
	if jobID != "" {
		dest = filepath.Join(s.uploadDir, jobID+"-"+filepath.Base(header.Filename))
	}

	out, err := os.Create(dest)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "staging workbook: "+err.Error())
		return
	}
	if _, err := io.Copy(out, file); err != nil {
		out.Close()
		writeError(w, http.StatusInternalServerError, "staging workbook: "+err.Error())
		return
	}
	out.Close()

	id, err := s.jobs.Submit(r.Context(), jobID, dest)
	if err != nil {
		switch err {
		case jobmanager.ErrTooManyJobs, jobmanager.ErrCircuitOpen:
			writeError(w, http.StatusServiceUnavailable, err.Error())
		case jobmanager.ErrDuplicateJob:
			writeError(w, http.StatusConflict, err.Error())
		default:
			writeError(w, statusForError(err), err.Error())
		}
		return
	}

	if !async {
		if err := s.jobs.Wait(r.Context(), id); err != nil {
			writeError(w, statusForError(err), err.Error())
			return
		}
		st, err := s.jobs.Status(id)
		if err != nil {
			writeError(w, statusForError(err), err.Error())
			return
		}
		w.WriteHeader(http.StatusOK)
		writeJSON(w, statusResponse{
			ID: st.ID, InputPath: st.InputPath, Status: st.Status,
			CreatedAt: st.CreatedAt, CompletedAt: st.CompletedAt, Error: st.Error,
		})
		return
	}

	w.WriteHeader(http.StatusAccepted)
	writeJSON(w, submitResponse{
		JobID: id, Status: string(model.JobStarted),
		ProgressURL: fmt.Sprintf("/api/jobs/%s/progress", id),
		CancelURL:   fmt.Sprintf("/api/jobs/%s", id),
	})
}

// statusResponse is the body returned by GET /api/jobs/{jobID}.
type statusResponse struct {
	ID          string     `json:"id"`
	InputPath   string     `json:"input_path"`
	Status      model.JobStatus `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Error       string     `json:"error,omitempty"`
}

func (s *Server) handleJobStatus(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	st, err := s.jobs.Status(jobID)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, statusResponse{
		ID: st.ID, InputPath: st.InputPath, Status: st.Status,
		CreatedAt: st.CreatedAt, CompletedAt: st.CompletedAt, Error: st.Error,
	})
}

// handleJobProgress returns the job-wide aggregate progress rollup for
// polling clients (spec.md §6).
func (s *Server) handleJobProgress(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	st, err := s.jobs.Status(jobID)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	agg, err := s.progress.GetAggregateProgress(r.Context(), jobID, st.Status)
	if err != nil {
		writeError(w, statusForError(err), err.Error())
		return
	}
	writeJSON(w, agg)
}

// handleCancelJob requests cooperative cancellation of an in-flight job.
func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	err := s.jobs.Cancel(jobID)
	switch {
	case err == nil:
		w.WriteHeader(http.StatusOK)
	case errors.Is(err, jobmanager.ErrJobNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, jobmanager.ErrTerminalJob):
		writeError(w, http.StatusConflict, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

// handleListSheetProgress returns every sheet's progress row for one job.
func (s *Server) handleListSheetProgress(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	st, err := s.jobs.Status(jobID)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	agg, err := s.progress.GetAggregateProgress(r.Context(), jobID, st.Status)
	if err != nil {
		writeError(w, statusForError(err), err.Error())
		return
	}
	writeJSON(w, agg.Sheets)
}

// handleSheetDetail returns one sheet's progress row.
func (s *Server) handleSheetDetail(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	sheetName := chi.URLParam(r, "sheetName")
	p, err := s.progress.GetSheetProgress(r.Context(), jobID, sheetName)
	if err != nil {
		writeError(w, statusForError(err), err.Error())
		return
	}
	writeJSON(w, p)
}

// handleListSheetTypes reports the configured sheet catalog, letting a
// client discover sheet names/order before submitting a workbook.
func (s *Server) handleListSheetTypes(w http.ResponseWriter, r *http.Request) {
	type entry struct {
		Name    string `json:"name"`
		Order   int    `json:"order"`
		Enabled bool   `json:"enabled"`
	}
	out := make([]entry, 0, len(s.sheets))
	for _, st := range s.sheets {
		out = append(out, entry{Name: st.Name, Order: st.Order, Enabled: st.Enabled})
	}
	writeJSON(w, out)
}

// handleSystemInfo reports job-pool load for operational visibility.
func (s *Server) handleSystemInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.jobs.SystemInfo())
}

// handleFailedRowsCSV streams one sheet's error relation as CSV, the
// supplemented feature grounded in the teacher's handleExportFailedRows:
// an operator downloads exactly the rows that need fixing and re-upload,
// instead of re-deriving them from the raw workbook.
func (s *Server) handleFailedRowsCSV(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	sheetName := chi.URLParam(r, "sheetName")

	store, ok := s.staging(sheetName)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("sheet %q not found", sheetName))
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s-%s-errors.csv"`, jobID, sheetName))

	cw := csv.NewWriter(w)
	cw.Write([]string{"row_number", "business_key", "rule_id", "error_kind", "field", "value", "message"})

	const pageSize = 1000
	cursor := 0
	for {
		batch, err := store.ReadErrors(r.Context(), jobID, cursor, pageSize)
		if err != nil {
			cw.Flush()
			return
		}
		for _, rec := range batch {
			for _, d := range rec.Details {
				cw.Write([]string{
					strconv.Itoa(rec.RowNumber), rec.BusinessKey, d.RuleID,
					string(d.Kind), d.Field, d.Value, d.Message,
				})
			}
			if rec.RowNumber > cursor {
				cursor = rec.RowNumber
			}
		}
		if len(batch) < pageSize {
			break
		}
	}
	cw.Flush()
}
