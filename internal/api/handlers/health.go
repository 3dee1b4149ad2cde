package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

const (
	checkPass = "pass"
	checkFail = "fail"

	probeTimeout = 2 * time.Second
)

// HealthCheck is the body of /readyz.
type HealthCheck struct {
	Status    string                 `json:"status"`
	Version   string                 `json:"version"`
	Checks    map[string]CheckResult `json:"checks"`
	Timestamp string                 `json:"timestamp"`
}

type CheckResult struct {
	Status    string         `json:"status"`
	Message   string         `json:"message,omitempty"`
	LatencyMs int64          `json:"latency_ms,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
}

// Database is the storage surface the readiness probe inspects.
type Database interface {
	Ping(ctx context.Context) error
	MigrationState(ctx context.Context) (version int64, dirty bool, err error)
}

type HealthChecker struct {
	db      Database
	version string

	// schema is the migration version the binary expects; zero skips the
	// comparison.
	schema int64
}

func NewHealthChecker(db Database, version string, schema int64) *HealthChecker {
	return &HealthChecker{db: db, version: version, schema: schema}
}

// Healthz is the liveness probe; it never touches dependencies.
func Healthz() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
}

// Readyz answers 503 until the database answers and its schema is clean and
// current.
func (h *HealthChecker) Readyz() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Context().Err() != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "shutting_down"})
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		body := HealthCheck{
			Status:  "ready",
			Version: h.version,
			Checks: map[string]CheckResult{
				"database":   timed(ctx, h.checkDatabase),
				"migrations": timed(ctx, h.checkMigrations),
			},
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		}
		code := http.StatusOK
		for _, check := range body.Checks {
			if check.Status == checkFail {
				body.Status, code = "unavailable", http.StatusServiceUnavailable
			}
		}
		writeJSON(w, code, body)
	})
}

// timed runs one probe under its own deadline and stamps its latency.
func timed(ctx context.Context, probe func(context.Context) CheckResult) CheckResult {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	start := time.Now()
	result := probe(ctx)
	result.LatencyMs = time.Since(start).Milliseconds()
	return result
}

func (h *HealthChecker) checkDatabase(ctx context.Context) CheckResult {
	if h.db == nil {
		return CheckResult{Status: checkFail, Message: "Database not configured"}
	}
	if err := h.db.Ping(ctx); err != nil {
		msg := "Database ping failed"
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			msg = fmt.Sprintf("Database ping timed out after %s", probeTimeout)
		}
		return CheckResult{Status: checkFail, Message: msg, Details: map[string]any{"error": err.Error()}}
	}
	return CheckResult{Status: checkPass, Message: "PostgreSQL connection successful"}
}

func (h *HealthChecker) checkMigrations(ctx context.Context) CheckResult {
	if h.db == nil {
		return CheckResult{Status: checkFail, Message: "Database not configured"}
	}
	version, dirty, err := h.db.MigrationState(ctx)
	if err != nil {
		return CheckResult{
			Status:  checkFail,
			Message: "Failed to query migration version",
			Details: map[string]any{"error": err.Error(), "remediation": "Run: server migrate up"},
		}
	}

	details := map[string]any{"version": version, "dirty": dirty}
	if h.schema > 0 {
		details["expected"] = h.schema
	}
	switch {
	case dirty:
		return CheckResult{Status: checkFail, Message: "Database in dirty migration state, manual intervention required", Details: details}
	case h.schema > 0 && version < h.schema:
		details["remediation"] = "Run: server migrate up"
		return CheckResult{Status: checkFail, Message: fmt.Sprintf("Migrations pending (at %d, want %d)", version, h.schema), Details: details}
	}
	return CheckResult{Status: checkPass, Message: fmt.Sprintf("Migrations applied (version %d)", version), Details: details}
}
