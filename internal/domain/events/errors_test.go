package events

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestValidationErrorMessage(t *testing.T) {
	verr := &ValidationError{}
	require.NoError(t, verr.OrNil())

	verr.Add("title", "required")
	verr.Add("date_end", "must be on or after date_start")
	verr.Add("title", "duplicate entry")

	require.Equal(t, "validation failed: title: required; date_end: must be on or after date_start; title: duplicate entry", verr.Error())
	require.Equal(t, []string{"date_end", "title"}, verr.FieldNames())
}

func TestCanonicalValidate(t *testing.T) {
	day := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, Canonical{Title: "Jazz Night", DateStart: day, DateEnd: day}.Validate())

	err := Canonical{Title: "Jazz Night", Schedules: []Schedule{{}}}.Validate()
	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	require.Equal(t, []string{"date_end", "date_start", "schedule[0].date"}, verr.FieldNames())
}

func TestTypedErrorsUnwrap(t *testing.T) {
	root := errors.New("boom")

	require.ErrorIs(t, &TransientIOError{Op: "download", URL: "https://x", Attempts: 3, Err: root}, root)
	require.ErrorIs(t, &MalformedResponseError{Raw: "nope", Err: root}, root)
	require.ErrorIs(t, &PersistenceConflictError{Op: "insert event", Err: root}, root)

	msg := (&PersistenceConflictError{Op: "insert event", Fields: map[string]string{"title": "A", "site": "s"}, Err: root}).Error()
	require.Equal(t, `insert event conflict (site="s" title="A"): boom`, msg)
}

func TestDedupKey(t *testing.T) {
	day := time.Date(2025, 3, 1, 18, 30, 0, 0, time.UTC)
	id := int64(4)

	require.Equal(t, "Jazz Night|2025-03-01|-", DedupKey("Jazz Night", day, nil))
	require.Equal(t, "Jazz Night|2025-03-01|4", DedupKey("Jazz Night", day, &id))
}
