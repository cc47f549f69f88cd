package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/JonMunkholm/sheetmigrate/internal/config"
	"github.com/JonMunkholm/sheetmigrate/internal/jobmanager"
	"github.com/JonMunkholm/sheetmigrate/internal/logging"
	"github.com/JonMunkholm/sheetmigrate/internal/orchestrator"
	"github.com/JonMunkholm/sheetmigrate/internal/progress"
	"github.com/JonMunkholm/sheetmigrate/internal/scheduler"
	"github.com/JonMunkholm/sheetmigrate/internal/sheetconfig"
	"github.com/JonMunkholm/sheetmigrate/internal/staging"
	"github.com/JonMunkholm/sheetmigrate/internal/validate"
	"github.com/JonMunkholm/sheetmigrate/internal/web"
	"github.com/JonMunkholm/sheetmigrate/internal/workbook"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
)

func main() {
	if err := godotenv.Overload(); err != nil {
		slog.Info("no .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "error", err)
		os.Exit(1)
	}
	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting", "config", cfg.String())

	ctx := context.Background()
	poolCfg, err := pgxpool.ParseConfig(cfg.Database.URL)
	if err != nil {
		slog.Error("parse database url failed", "error", err)
		os.Exit(1)
	}
	poolCfg.MaxConns = int32(cfg.Database.MaxConns)
	poolCfg.MinConns = int32(cfg.Database.MinConns)
	poolCfg.MaxConnLifetime = cfg.Database.MaxConnLifetime
	poolCfg.MaxConnIdleTime = cfg.Database.MaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		slog.Error("connect to database failed", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	if err := pool.Ping(ctx); err != nil {
		slog.Error("ping database failed", "error", err)
		os.Exit(1)
	}

	manifest, err := sheetconfig.Load(cfg.Sheets.ManifestPath)
	if err != nil {
		slog.Error("load sheet manifest failed", "error", err)
		os.Exit(1)
	}
	sheets, err := manifest.ToSheetTypes()
	if err != nil {
		slog.Error("resolve sheet types failed", "error", err)
		os.Exit(1)
	}
	rules, err := manifest.ToRules()
	if err != nil {
		slog.Error("resolve validation rules failed", "error", err)
		os.Exit(1)
	}
	registerBusinessRules(rules)

	progressStore := progress.New(pool, "")
	lookup := sheetLookup{pool: pool}

	orch := orchestrator.New(pool, progressStore, rules, lookup, orchestrator.GenericInsert, slog.Default(),
		orchestrator.Timeouts{Ingest: cfg.Scheduler.IngestTimeout, Validate: cfg.Scheduler.ValidateTimeout, Insert: cfg.Scheduler.InsertTimeout},
		orchestrator.RetryPolicy{MaxAttempts: cfg.Scheduler.RetryMaxAttempts, InitialInterval: cfg.Scheduler.RetryInitialBackoff})

	sched := scheduler.New(orch, int64(cfg.Scheduler.MaxConcurrentSheets), cfg.Scheduler.SheetTimeout, cfg.Scheduler.ContinueOnSheetFailure, slog.Default())

	// runFunc's return value drives jobmanager.finish's status classification
	// per spec.md §3: nil -> COMPLETED, a wrapped ErrCompletedWithErrors ->
	// COMPLETED_WITH_ERRORS (only reachable when the scheduler ran every
	// sheet under the continue-on-failure policy), any other error ->
	// FAILED (the policy-false case, where the scheduler stopped at the
	// first failure and that failure must abort the job outright).
	runFunc := func(ctx context.Context, jobID, inputPath string) error {
		for _, st := range sheets {
			if !st.Enabled {
				continue
			}
			if err := progressStore.Init(ctx, jobID, st.Name, st.Order); err != nil {
				return err
			}
		}
		open := func(string) (*workbook.Handle, error) { return workbook.Open(inputPath) }
		results := sched.RunJob(ctx, jobID, sheets, open)

		failed := 0
		var firstErr error
		for _, r := range results {
			if r.Err != nil {
				failed++
				if firstErr == nil {
					firstErr = r.Err
				}
			}
		}
		if firstErr == nil {
			return nil
		}
		if cfg.Scheduler.ContinueOnSheetFailure {
			return jobmanager.NewCompletedWithErrors(failed, firstErr)
		}
		return firstErr
	}

	jobs := jobmanager.New(runFunc, cfg.JobPool.CorePoolSize, cfg.JobPool.MaxPoolSize, cfg.JobPool.QueueCapacity,
		cfg.JobPool.FailureThreshold, cfg.JobPool.CircuitOpenPeriod, slog.Default())

	uploadDir := os.Getenv("UPLOAD_DIR")
	if uploadDir == "" {
		uploadDir = os.TempDir()
	}

	stagingFor := func(sheetName string) (*staging.Store, bool) {
		for _, st := range sheets {
			if st.Name == sheetName {
				return staging.New(pool, st.RawTable, st.ValidTable, st.ErrorTable, manifest.CrossSheetErrorTable), true
			}
		}
		return nil, false
	}

	server := web.NewServer(jobs, progressStore, sheets, stagingFor, uploadDir, cfg.Ingest.MaxPayloadBytes, cfg.Server.TrustedProxies, slog.Default())

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		slog.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
		if err := sched.WaitForDrain(shutdownCtx); err != nil {
			slog.Warn("drain timed out", "error", err)
		}
	}()

	if err := server.Start(cfg.Server.Addr()); err != nil {
		slog.Error("server stopped", "error", err)
	}
}

// sheetLookup adapts a *staging.Store-per-table lookup onto validate.Lookup
// by opening a Store against the same pool for whatever table a rule names;
// tables are caller-declared in sheets.yaml, not owned by one SheetType, so
// no single Store instance covers every lookup target.
type sheetLookup struct {
	pool interface {
		staging.DBTX
	}
}

func (l sheetLookup) ExistsInMaster(ctx context.Context, table, businessKey string) (bool, error) {
	return staging.New(l.pool, "", "", "", "").ExistsInMaster(ctx, table, businessKey)
}

func (l sheetLookup) ExistsInValidStaging(ctx context.Context, table, businessKey string) (bool, error) {
	return staging.New(l.pool, "", "", "", "").ExistsInValidStaging(ctx, table, businessKey)
}

func (l sheetLookup) ReferenceExists(ctx context.Context, table, key string) (bool, error) {
	return staging.New(l.pool, "", "", "", "").ReferenceExists(ctx, table, key)
}

var _ validate.Lookup = sheetLookup{}

// registerBusinessRules merges code-defined validate.BusinessLogic rules into
// the YAML-resolved rule set; BusinessLogic rules carry an arbitrary Go
// predicate and so have no YAML form (sheetconfig.Manifest.ToRules skips
// them). A sheet opts into one by listing its id in rule_ids, the same way
// it opts into any YAML-declared rule. No sheet ships with one by default;
// add entries here as domain-specific cross-field checks are needed.
func registerBusinessRules(rules map[string]validate.Rule) {
}
