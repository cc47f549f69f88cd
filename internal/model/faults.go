package model

// faults.go carries the fault taxonomy from spec.md §7 as typed, wrapped
// errors, grounded on the teacher's error_messages.go: a small set of named
// kinds rather than one error type per failure mode, matched by a caller
// that needs to decide retry vs fail vs reject.

import (
	"errors"
	"fmt"
)

// FaultClass is the top-level bucket from spec.md §7.
type FaultClass string

const (
	ClassInput     FaultClass = "input"
	ClassData      FaultClass = "data"
	ClassTransient FaultClass = "transient"
	ClassPermanent FaultClass = "permanent"
	ClassSystem    FaultClass = "system"
)

// Input fault kinds (surfaced at submission; reject file).
const (
	KindInvalidWorkbook  = "INVALID_WORKBOOK"
	KindMissingSheet     = "MISSING_SHEET"
	KindExcessiveRows    = "EXCESSIVE_ROWS"
	KindBadExtension     = "BAD_EXTENSION"
	KindOversizePayload  = "OVERSIZE_PAYLOAD"
	KindSheetNotFound    = "SHEET_NOT_FOUND"
)

// Transient fault kinds (phase retries with backoff).
const (
	KindDBTimeout       = "DB_TIMEOUT"
	KindDeadlock        = "DEADLOCK"
	KindConnectionReset = "CONNECTION_RESET"
)

// Permanent phase fault kinds (mark sheet FAILED).
const (
	KindParserError     = "PARSER_ERROR"
	KindConstraintViolation = "CONSTRAINT_VIOLATION"
	KindSchemaMismatch  = "SCHEMA_MISMATCH"
)

// System fault kinds (surfaced to submitter with a 5xx).
const (
	KindPoolExhausted     = "POOL_EXHAUSTED"
	KindStorageUnavailable = "STORAGE_UNAVAILABLE"
)

// Fault is a classified error carrying one of the Kind constants above.
type Fault struct {
	Class FaultClass
	Kind  string
	Msg   string
	Err   error
}

func (f *Fault) Error() string {
	if f.Err != nil {
		return fmt.Sprintf("%s: %s: %v", f.Kind, f.Msg, f.Err)
	}
	return fmt.Sprintf("%s: %s", f.Kind, f.Msg)
}

func (f *Fault) Unwrap() error { return f.Err }

// NewFault constructs a classified Fault.
func NewFault(class FaultClass, kind, msg string, err error) *Fault {
	return &Fault{Class: class, Kind: kind, Msg: msg, Err: err}
}

// IsTransient reports whether a fault should be retried with backoff.
func IsTransient(err error) bool {
	var f *Fault
	if errors.As(err, &f) {
		return f.Class == ClassTransient
	}
	return false
}
