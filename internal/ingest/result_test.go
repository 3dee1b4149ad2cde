package ingest

import (
	"errors"
	"fmt"
	"testing"

	"github.com/Togather-Foundation/catalog/internal/domain/events"
)

func TestClassify(t *testing.T) {
	verr := &events.ValidationError{}
	verr.Add("title", "required")
	verr.Add("date_start", "required")

	tests := []struct {
		name   string
		err    error
		status Status
		reason string
	}{
		{"validation", verr, StatusSkipped, "validation: date_start,title"},
		{"wrapped malformed", fmt.Errorf("analyze: %w", &events.MalformedResponseError{Raw: "x", Err: errors.New("bad")}), StatusSkipped, ReasonMalformed},
		{"conflict", &events.PersistenceConflictError{Op: "insert event", Err: events.ErrConflict}, StatusSkipped, ReasonConflict},
		{"transient", &events.TransientIOError{Op: "text analysis", Attempts: 3, Err: errors.New("timeout")}, StatusFailed, ReasonTransient},
		{"other", errors.New("boom"), StatusFailed, ReasonInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, reason := classify(tt.err)
			if status != tt.status || reason != tt.reason {
				t.Errorf("classify() = (%s, %q), want (%s, %q)", status, reason, tt.status, tt.reason)
			}
		})
	}
}

func TestMetricReason(t *testing.T) {
	if got := metricReason("validation: title,date_start"); got != "validation" {
		t.Errorf("metricReason() = %q", got)
	}
	if got := metricReason(ReasonConflict); got != ReasonConflict {
		t.Errorf("metricReason() = %q", got)
	}
}
