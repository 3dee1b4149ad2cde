package events

import (
	"fmt"
	"sort"
	"strings"
)

type FieldError struct {
	Field   string
	Message string
}

// ValidationError lists every field of a record that failed the validation
// gate. The record is skipped and never retried.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	if e == nil || len(e.Fields) == 0 {
		return "validation failed"
	}
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, fmt.Sprintf("%s: %s", f.Field, f.Message))
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func (e *ValidationError) Add(field, message string) {
	e.Fields = append(e.Fields, FieldError{Field: field, Message: message})
}

// FieldNames returns the failing field names in sorted order.
func (e *ValidationError) FieldNames() []string {
	names := make([]string, 0, len(e.Fields))
	seen := make(map[string]struct{}, len(e.Fields))
	for _, f := range e.Fields {
		if _, ok := seen[f.Field]; ok {
			continue
		}
		seen[f.Field] = struct{}{}
		names = append(names, f.Field)
	}
	sort.Strings(names)
	return names
}

// OrNil returns e when it holds at least one field error.
func (e *ValidationError) OrNil() error {
	if e == nil || len(e.Fields) == 0 {
		return nil
	}
	return e
}

// TransientIOError wraps a network failure that survived its retry budget.
type TransientIOError struct {
	Op       string
	URL      string
	Attempts int
	Err      error
}

func (e *TransientIOError) Error() string {
	return fmt.Sprintf("%s %s failed after %d attempt(s): %v", e.Op, e.URL, e.Attempts, e.Err)
}

func (e *TransientIOError) Unwrap() error { return e.Err }

// MalformedResponseError is returned when the text-analysis reply holds no
// decodable JSON object. Raw is kept for diagnosis.
type MalformedResponseError struct {
	Raw string
	Err error
}

func (e *MalformedResponseError) Error() string {
	if e.Err == nil {
		return "malformed text-analysis response"
	}
	return fmt.Sprintf("malformed text-analysis response: %v", e.Err)
}

func (e *MalformedResponseError) Unwrap() error { return e.Err }

// PersistenceConflictError reports a constraint violation on write together
// with the offending fields.
type PersistenceConflictError struct {
	Op     string
	Fields map[string]string
	Err    error
}

func (e *PersistenceConflictError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%q", k, e.Fields[k]))
	}
	return fmt.Sprintf("%s conflict (%s): %v", e.Op, strings.Join(parts, " "), e.Err)
}

func (e *PersistenceConflictError) Unwrap() error { return e.Err }
