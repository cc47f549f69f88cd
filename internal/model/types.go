// Package model provides the shared data types for the workbook migration
// engine: the declarative SheetType descriptor, raw/valid/error records, the
// Job and SheetProgress lifecycle types, and the fault taxonomy every
// component reports through.
//
// This package has no database or HTTP dependency and can be imported by any
// component (C1-C9) without creating import cycles.
package model

import "time"

// NormKind is the normalization applied to a mapped column value.
type NormKind string

const (
	NormText   NormKind = "text"
	NormDate   NormKind = "date"
	NormNumber NormKind = "number"
	NormMonth  NormKind = "month"
)

// ColumnMapping binds one localized header label to a canonical column name
// and the normalization to apply to its values.
type ColumnMapping struct {
	HeaderLabel string
	Column      string
	Kind        NormKind
}

// BusinessKeyRecipe computes a deterministic business key for a raw row.
// Implementations read from the row via the canonical column name; recipes
// that are conditional on a discriminator value branch internally (see
// SPEC_FULL.md §4.3). Modeled as a function value rather than an interface
// hierarchy, matching the teacher's Normalizer/BuildParamsFunc pattern.
type BusinessKeyRecipe func(row map[string]string) string

// DuplicateScope selects what a unique-in-db rule compares against.
type DuplicateScope string

const (
	ScopeMaster            DuplicateScope = "master"
	ScopePriorValidStaging DuplicateScope = "prior-valid-staging"
)

// SheetType is the declarative descriptor binding a workbook sheet name to
// its mapping, validation rules, and staging/master table names.
type SheetType struct {
	Name     string // must match the workbook sheet name
	Order    int    // execution order, 1..K
	Enabled  bool

	Mapping []ColumnMapping

	RawTable    string
	ValidTable  string
	ErrorTable  string
	MasterTable string

	BatchSize          int  // default 5000
	ParallelSheet       bool // default false

	RuleIDs []string

	KeyRecipe BusinessKeyRecipe

	// ForeignKeyOrder lists other SheetType names that must be inserted
	// before this one during the INSERT phase (spec.md §4.6).
	ForeignKeyOrder []string
}

func (st SheetType) EffectiveBatchSize() int {
	if st.BatchSize <= 0 {
		return 5000
	}
	return st.BatchSize
}

// RawRecord is a mapping from canonical column name to normalized, untyped
// string value, plus the identifying/staging metadata every raw row carries.
type RawRecord struct {
	JobID       string
	SheetName   string
	RowNumber   int // 1-based within data rows
	BusinessKey string
	Values      map[string]string
	RawJSON     []byte // raw_json as read back: JSON of Values after mapping and normalization; unmapped cells are not kept
	CreatedAt   time.Time
}

// ValidRecord is a RawRecord that passed every validation rule.
type ValidRecord struct {
	RawRecord
}

// ErrorKind enumerates the per-row data-fault classification (spec.md §7).
type ErrorKind string

const (
	ErrRequiredMissing  ErrorKind = "REQUIRED_MISSING"
	ErrInvalidDate      ErrorKind = "INVALID_DATE"
	ErrInvalidEnum      ErrorKind = "INVALID_ENUM"
	ErrInvalidPattern   ErrorKind = "INVALID_PATTERN"
	ErrDupInFile        ErrorKind = "DUP_IN_FILE"
	ErrDupInDB          ErrorKind = "DUP_IN_DB"
	ErrRefNotFound      ErrorKind = "REF_NOT_FOUND"
	ErrBusinessRule     ErrorKind = "BUSINESS_RULE"
	ErrFieldValidation  ErrorKind = "FIELD_VALIDATION"
)

// ErrorRecord is a raw record annotated with every rule violation found
// against it. A row may carry more than one ErrorDetail.
type ErrorRecord struct {
	RawRecord
	Details []ErrorDetail
}

// ErrorDetail is one rule violation against one field of one row.
type ErrorDetail struct {
	RuleID  string
	Kind    ErrorKind
	Field   string
	Value   string
	Message string
}

// JobStatus is the overall status of one workbook submission.
type JobStatus string

const (
	JobPending             JobStatus = "PENDING"
	JobStarted             JobStatus = "STARTED"
	JobCompleted           JobStatus = "COMPLETED"
	JobCompletedWithErrors JobStatus = "COMPLETED_WITH_ERRORS"
	JobFailed              JobStatus = "FAILED"
	JobCancelled           JobStatus = "CANCELLED"
)

// Job is one submission of one workbook through the pipeline.
type Job struct {
	ID          string // format JOB-YYYYMMDD-NNN
	InputPath   string
	Status      JobStatus
	CreatedAt   time.Time
	CompletedAt *time.Time
}

// SheetStatus is the per-sheet state machine defined in spec.md §4.6.
type SheetStatus string

const (
	SheetPending    SheetStatus = "PENDING"
	SheetIngesting  SheetStatus = "INGESTING"
	SheetValidating SheetStatus = "VALIDATING"
	SheetInserting  SheetStatus = "INSERTING"
	SheetCompleted  SheetStatus = "COMPLETED"
	SheetFailed     SheetStatus = "FAILED"
	SheetCancelled  SheetStatus = "CANCELLED"
)

// monotonicRank orders SheetStatus along the forward-only state graph in
// spec.md §3; FAILED and CANCELLED are terminal and reachable from any
// non-terminal state, so they are not part of the ordering check.
var monotonicRank = map[SheetStatus]int{
	SheetPending:    0,
	SheetIngesting:  1,
	SheetValidating: 2,
	SheetInserting:  3,
	SheetCompleted:  4,
}

// IsForwardTransition reports whether moving from `from` to `to` respects
// the monotonic status ordering in spec.md §3 (P5). FAILED and CANCELLED are
// always forward transitions since every state may jump to either.
func IsForwardTransition(from, to SheetStatus) bool {
	if to == SheetFailed || to == SheetCancelled {
		return true
	}
	if from == SheetFailed || from == SheetCancelled {
		return false
	}
	fromRank, fromOK := monotonicRank[from]
	toRank, toOK := monotonicRank[to]
	if !fromOK || !toOK {
		return false
	}
	return toRank >= fromRank
}

// Counters holds the per-sheet row counters from spec.md §3.
type Counters struct {
	Total    int
	Ingested int
	Valid    int
	Error    int
	Inserted int
}

// PhaseTimestamps records the six start/end timestamps for a sheet's three
// phases.
type PhaseTimestamps struct {
	IngestStart    *time.Time
	IngestEnd      *time.Time
	ValidateStart  *time.Time
	ValidateEnd    *time.Time
	InsertStart    *time.Time
	InsertEnd      *time.Time
}

// SheetProgress is the per-(job,sheet) progress row backing polling.
type SheetProgress struct {
	JobID        string
	SheetName    string
	SheetOrder   int
	Status       SheetStatus
	CurrentPhase string
	Percent      int
	Counters     Counters
	Timestamps   PhaseTimestamps
	ErrorMessage string
}

// AggregateProgress is the job-wide rollup of every sheet's SheetProgress.
type AggregateProgress struct {
	JobID          string
	OverallStatus  JobStatus
	CurrentSheet   string
	Sheets         []SheetProgress
	SumTotal       int
	SumIngested    int
	SumValid       int
	SumError       int
	SumInserted    int
}
