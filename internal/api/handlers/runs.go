package handlers

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Togather-Foundation/catalog/internal/api/problem"
	"github.com/Togather-Foundation/catalog/internal/ingest"
)

const (
	defaultRunsLimit = 20
	maxRunsLimit     = 100
)

// RunLister reads the ingestion audit trail.
type RunLister interface {
	Recent(ctx context.Context, site string, limit int) ([]ingest.Run, error)
}

type RunsHandler struct {
	Runs RunLister
	Env  string
}

func NewRunsHandler(runs RunLister, env string) *RunsHandler {
	return &RunsHandler{Runs: runs, Env: env}
}

type runView struct {
	ID         int64  `json:"id"`
	Site       string `json:"site"`
	Received   int    `json:"received"`
	Processed  int    `json:"processed"`
	Skipped    int    `json:"skipped"`
	Failed     int    `json:"failed"`
	StartedAt  string `json:"started_at"`
	FinishedAt string `json:"finished_at,omitempty"`
}

// List serves GET /api/ingest/runs?site=&limit=.
func (h *RunsHandler) List(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.Runs == nil {
		problem.Write(w, r, http.StatusInternalServerError, "Server error", nil, "")
		return
	}

	limit := defaultRunsLimit
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > maxRunsLimit {
			problem.Write(w, r, http.StatusBadRequest, "Invalid request", nil, h.Env,
				problem.WithDetail("limit", "must be between 1 and "+strconv.Itoa(maxRunsLimit)))
			return
		}
		limit = parsed
	}

	runs, err := h.Runs.Recent(r.Context(), strings.TrimSpace(r.URL.Query().Get("site")), limit)
	if err != nil {
		problem.Write(w, r, http.StatusInternalServerError, "Server error", err, h.Env)
		return
	}

	items := make([]runView, 0, len(runs))
	for _, run := range runs {
		view := runView{
			ID:        run.ID,
			Site:      run.Site,
			Received:  run.Received,
			Processed: run.Processed,
			Skipped:   run.Skipped,
			Failed:    run.Failed,
			StartedAt: run.StartedAt.UTC().Format(time.RFC3339),
		}
		if run.FinishedAt != nil {
			view.FinishedAt = run.FinishedAt.UTC().Format(time.RFC3339)
		}
		items = append(items, view)
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}
