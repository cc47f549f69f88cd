// Package web exposes the pipeline over HTTP: submit a workbook, poll job
// and per-sheet progress, fetch failed rows, cancel a running job, and
// report system load (spec.md §6). Auth and metrics export are explicitly
// out of scope.
//
// Grounded on the teacher's internal/web/server.go for the middleware chain
// (chi RequestID/Logger/Recoverer, a security-headers middleware, a
// per-IP token-bucket rate limiter) and its writeJSON/writeError JSON
// response helpers, and on internal/web/middleware for structured
// request logging and trusted-proxy IP extraction. The route table is new:
// the teacher's CSV-upload page/handler surface has no equivalent here,
// since this server is a JSON API with no HTML UI.
package web

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/JonMunkholm/sheetmigrate/internal/jobmanager"
	"github.com/JonMunkholm/sheetmigrate/internal/model"
	"github.com/JonMunkholm/sheetmigrate/internal/progress"
	"github.com/JonMunkholm/sheetmigrate/internal/staging"
	webmw "github.com/JonMunkholm/sheetmigrate/internal/web/middleware"
)

// StagingFactory returns the staging Store backing one sheet's error
// relation, so the server can export failed rows without holding open a
// Store per sheet for the life of the process.
type StagingFactory func(sheetName string) (*staging.Store, bool)

// Server wires the job manager, progress store, and sheet catalog behind a
// chi router.
type Server struct {
	jobs     *jobmanager.Manager
	progress *progress.Store
	sheets   []model.SheetType
	staging  StagingFactory
	logger   *slog.Logger

	uploadDir       string
	maxPayloadBytes int64

	router     *chi.Mux
	httpServer *http.Server
}

// NewServer builds a Server. uploadDir is where submitted workbooks are
// staged on disk before jobs.Submit hands the path to the orchestrator.
// trustedProxies configures which upstream proxies may set
// X-Real-IP/X-Forwarded-For (see internal/web/middleware).
func NewServer(jobs *jobmanager.Manager, prog *progress.Store, sheets []model.SheetType, stagingFor StagingFactory, uploadDir string, maxPayloadBytes int64, trustedProxies []string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		jobs: jobs, progress: prog, sheets: sheets, staging: stagingFor,
		uploadDir: uploadDir, maxPayloadBytes: maxPayloadBytes, logger: logger,
		router: chi.NewRouter(),
	}
	s.setupMiddleware(trustedProxies)
	s.setupRoutes()
	return s
}

func (s *Server) setupMiddleware(trustedProxies []string) {
	s.router.Use(chimw.RequestID)
	s.router.Use(webmw.TrustedRealIP(trustedProxies))
	s.router.Use(webmw.Logger)
	s.router.Use(chimw.Recoverer)
	s.router.Use(chimw.Timeout(60 * time.Second))
	s.router.Use(securityHeaders)
	s.router.Use(newRateLimiter(100, time.Minute).middleware)
}

func (s *Server) setupRoutes() {
	s.router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	s.router.Route("/api", func(r chi.Router) {
		r.Post("/jobs", s.handleSubmitJob)
		r.Get("/jobs/{jobID}", s.handleJobStatus)
		r.Get("/jobs/{jobID}/progress", s.handleJobProgress)
		r.Delete("/jobs/{jobID}", s.handleCancelJob)
		r.Get("/jobs/{jobID}/sheets", s.handleListSheetProgress)
		r.Get("/jobs/{jobID}/sheets/{sheetName}", s.handleSheetDetail)
		r.Get("/jobs/{jobID}/sheets/{sheetName}/failed-rows", s.handleFailedRowsCSV)
		r.Get("/sheets", s.handleListSheetTypes)
		r.Get("/system/info", s.handleSystemInfo)
	})
}

// Router returns the underlying chi router, mainly for tests.
func (s *Server) Router() *chi.Mux { return s.router }

// Start begins serving on addr; it blocks until the server stops.
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // polling/progress endpoints stay open
		IdleTimeout:  60 * time.Second,
	}
	s.logger.Info("web server listening", "addr", addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// securityHeaders sets a conservative baseline for a JSON-only API: no
// framing, no content sniffing.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		next.ServeHTTP(w, r)
	})
}

// rateLimiter is a per-IP token bucket, refilled once per window.
type rateLimiter struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	rate     int
	window   time.Duration
}

type visitor struct {
	tokens    int
	lastReset time.Time
}

func newRateLimiter(rate int, window time.Duration) *rateLimiter {
	rl := &rateLimiter{visitors: make(map[string]*visitor), rate: rate, window: window}
	go rl.cleanup()
	return rl
}

func (rl *rateLimiter) cleanup() {
	for {
		time.Sleep(time.Minute)
		rl.mu.Lock()
		for ip, v := range rl.visitors {
			if time.Since(v.lastReset) > rl.window*2 {
				delete(rl.visitors, ip)
			}
		}
		rl.mu.Unlock()
	}
}

func (rl *rateLimiter) allow(ip string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	v, exists := rl.visitors[ip]
	if !exists {
		rl.visitors[ip] = &visitor{tokens: rl.rate - 1, lastReset: time.Now()}
		return true
	}
	if time.Since(v.lastReset) > rl.window {
		v.tokens = rl.rate - 1
		v.lastReset = time.Now()
		return true
	}
	if v.tokens <= 0 {
		return false
	}
	v.tokens--
	return true
}

func (rl *rateLimiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := r.RemoteAddr
		if host, _, err := net.SplitHostPort(ip); err == nil {
			ip = host
		}
		if !rl.allow(ip) {
			w.Header().Set("Retry-After", "60")
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// writeError writes a JSON error response, logging the full message
// server-side via the request-scoped structured logger.
func writeError(w http.ResponseWriter, status int, message string) {
	slog.Error("request error", "status", status, "message", message)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	fmt.Fprintf(w, `{"error":%q}`, message)
}

// writeJSON encodes v as JSON and writes it to w.
func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("json encode error", "error", err)
	}
}
