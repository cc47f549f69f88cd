package web

import (
	"errors"
	"net/http"
	"testing"

	"github.com/JonMunkholm/sheetmigrate/internal/model"
)

func TestStatusForError(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"input fault", model.NewFault(model.ClassInput, model.KindBadExtension, "bad ext", nil), http.StatusBadRequest},
		{"data fault", model.NewFault(model.ClassData, model.KindSchemaMismatch, "schema mismatch", nil), http.StatusUnprocessableEntity},
		{"transient fault", model.NewFault(model.ClassTransient, model.KindDBTimeout, "timeout", nil), http.StatusServiceUnavailable},
		{"permanent fault", model.NewFault(model.ClassPermanent, model.KindConstraintViolation, "conflict", nil), http.StatusConflict},
		{"system fault", model.NewFault(model.ClassSystem, model.KindPoolExhausted, "pool exhausted", nil), http.StatusInternalServerError},
		{"unclassified error", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := statusForError(c.err); got != c.want {
				t.Errorf("statusForError(%v) = %d, want %d", c.err, got, c.want)
			}
		})
	}
}
