package web

// errors.go maps the fault taxonomy from internal/model/faults.go onto HTTP
// status codes, mirroring the teacher's errors.go (one place that turns an
// internal error into the response a caller sees) but keyed off
// model.FaultClass instead of core.MapError's CSV-import error codes.

import (
	"errors"
	"net/http"

	"github.com/JonMunkholm/sheetmigrate/internal/model"
)

// statusForError maps a classified Fault to an HTTP status; an
// unclassified error defaults to 500 since it signals a bug rather than an
// expected failure mode.
func statusForError(err error) int {
	var f *model.Fault
	if !errors.As(err, &f) {
		return http.StatusInternalServerError
	}
	switch f.Class {
	case model.ClassInput:
		return http.StatusBadRequest
	case model.ClassData:
		return http.StatusUnprocessableEntity
	case model.ClassTransient:
		return http.StatusServiceUnavailable
	case model.ClassPermanent:
		return http.StatusConflict
	case model.ClassSystem:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}
