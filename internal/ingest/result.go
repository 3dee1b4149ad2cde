package ingest

import (
	"errors"
	"fmt"
	"strings"

	"github.com/Togather-Foundation/catalog/internal/domain/events"
)

// ErrNoRecordsProcessed is the batch-level failure: not a single record of
// the batch was persisted.
var ErrNoRecordsProcessed = errors.New("no records processed")

type Status string

const (
	StatusProcessed Status = "processed"
	// StatusSkipped marks records rejected on their content: validation,
	// malformed analysis output, constraint conflicts or unsupported sites.
	StatusSkipped Status = "skipped"
	// StatusFailed marks records lost to infrastructure errors.
	StatusFailed Status = "failed"
)

// Reasons recorded on outcomes and in the ingest_records_total metric.
const (
	ReasonValidation      = "validation"
	ReasonMalformed       = "malformed_response"
	ReasonConflict        = "conflict"
	ReasonTransient       = "transient_io"
	ReasonUnsupportedSite = "unsupported_site"
	ReasonVenue           = "venue"
	ReasonAssociations    = "associations"
	ReasonInternal        = "internal"
)

// RecordOutcome is the result of one raw record.
type RecordOutcome struct {
	Index   int
	Site    string
	Title   string
	Status  Status
	Reason  string
	EventID int64
	Created bool
	Err     error
}

type BatchResult struct {
	Site      string
	RunID     int64
	Received  int
	Processed int
	Skipped   int
	Failed    int
	Outcomes  []RecordOutcome
}

// Message is the human summary returned to the HTTP caller.
func (r BatchResult) Message() string {
	return fmt.Sprintf("Processed %d of %d events", r.Processed, r.Received)
}

func (r *BatchResult) add(o RecordOutcome) {
	switch o.Status {
	case StatusProcessed:
		r.Processed++
	case StatusSkipped:
		r.Skipped++
	default:
		r.Failed++
	}
	r.Outcomes = append(r.Outcomes, o)
}

// classify maps a per-record error onto its outcome status and reason.
func classify(err error) (Status, string) {
	var validation *events.ValidationError
	var malformed *events.MalformedResponseError
	var conflict *events.PersistenceConflictError
	var transient *events.TransientIOError
	switch {
	case errors.As(err, &validation):
		return StatusSkipped, ReasonValidation + ": " + strings.Join(validation.FieldNames(), ",")
	case errors.As(err, &malformed):
		return StatusSkipped, ReasonMalformed
	case errors.As(err, &conflict):
		return StatusSkipped, ReasonConflict
	case errors.As(err, &transient):
		return StatusFailed, ReasonTransient
	default:
		return StatusFailed, ReasonInternal
	}
}

// metricReason drops the field list from validation reasons to keep label
// cardinality bounded.
func metricReason(reason string) string {
	if i := strings.Index(reason, ":"); i >= 0 {
		return reason[:i]
	}
	return reason
}
