// Package form is the generic configuration form engine.
//
// A view declares a Map over one UCI package, attaches Sections (one record
// or every record of a type) and Options (one field each), and hands the
// Map to a renderer. The engine then drives load, render, edit, validate
// and save:
//
//	m := form.NewMap(store, "system", "System", "")
//	s := m.TypedSection("system", "", "")
//	s.Anonymous = true
//	o := s.Option(form.Value, "hostname", "Hostname")
//	o.Datatype = "hostname"
//
// Edits live in a per-user Session buffer until Save, which validates every
// visible option of every section and either commits everything or writes
// nothing.
package form

import (
	"errors"
	"fmt"
	"strings"
)

// Common errors
var (
	ErrNotLoaded   = errors.New("map not loaded")
	ErrNotAddable  = errors.New("section does not allow adding or removing records")
	ErrNotSortable = errors.New("section is not sortable")
	ErrMaxCount    = errors.New("section record limit reached")
	ErrPending     = errors.New("record is not saved yet")
)

// ValidationError is a rejected value of one option in one record.
type ValidationError struct {
	Section string `json:"section"`
	Option  string `json:"option"`
	Message string `json:"message"`

	cause error
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s.%s: %s", e.Section, e.Option, e.Message)
}

// ValidationErrors is returned by Save when any value is rejected.
type ValidationErrors []ValidationError

func (v ValidationErrors) Error() string {
	if len(v) == 0 {
		return "no validation errors"
	}
	msgs := make([]string, len(v))
	for i, e := range v {
		msgs[i] = e.Error()
	}
	return fmt.Sprintf("%d invalid value(s): %s", len(v), strings.Join(msgs, "; "))
}

// For returns the error recorded for one field, if any.
func (v ValidationErrors) For(sid, option string) (ValidationError, bool) {
	for _, e := range v {
		if e.Section == sid && e.Option == option {
			return e, true
		}
	}
	return ValidationError{}, false
}
