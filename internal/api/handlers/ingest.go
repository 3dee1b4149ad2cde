package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/Togather-Foundation/catalog/internal/api/problem"
	"github.com/Togather-Foundation/catalog/internal/ingest"
	"github.com/Togather-Foundation/catalog/internal/normalize"
	"github.com/Togather-Foundation/catalog/internal/validation"
)

// BatchIngester runs a batch to completion.
type BatchIngester interface {
	IngestBatch(ctx context.Context, site string, records []normalize.RawEvent) (ingest.BatchResult, error)
	IngestMulti(ctx context.Context, records []ingest.TaggedRecord) (ingest.BatchResult, error)
}

// BatchEnqueuer hands a batch to the background queue. An empty site means
// the records carry their own site tags.
type BatchEnqueuer interface {
	EnqueueBatch(ctx context.Context, site string, records []normalize.RawEvent) error
}

type IngestHandler struct {
	Service  BatchIngester
	Enqueuer BatchEnqueuer
	Env      string
	validate *validator.Validate
}

func NewIngestHandler(ingester BatchIngester, enqueuer BatchEnqueuer, env string) *IngestHandler {
	return &IngestHandler{Service: ingester, Enqueuer: enqueuer, Env: env, validate: newValidator()}
}

// IngestRequest is the body of POST /api/ingest. Without a site every
// record names its own through its "site" or "source" field.
type IngestRequest struct {
	Site   string               `json:"site" validate:"omitempty,max=128,site"`
	Events []normalize.RawEvent `json:"events" validate:"required,min=1,max=5000,dive,required"`
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name, _, _ := strings.Cut(field.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("site", func(fl validator.FieldLevel) bool {
		return validation.IsSiteTag(fl.Field().String())
	})
	return v
}

func (h *IngestHandler) Ingest(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.Service == nil {
		problem.Write(w, r, http.StatusInternalServerError, "Server error", nil, h.env())
		return
	}

	req, err := h.decode(r)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			problem.Write(w, r, http.StatusRequestEntityTooLarge, "Request body too large", err, h.Env,
				problem.WithDetail("limit_bytes", maxErr.Limit))
			return
		}
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			problem.Write(w, r, http.StatusBadRequest, "Invalid request", nil, h.Env,
				problem.WithDetails(validationDetails(verrs)))
			return
		}
		problem.Write(w, r, http.StatusBadRequest, "Invalid request", err, h.Env)
		return
	}

	if async, _ := strconv.ParseBool(r.URL.Query().Get("async")); async {
		if h.Enqueuer == nil {
			problem.Write(w, r, http.StatusBadRequest, "Asynchronous ingestion is disabled", nil, h.Env)
			return
		}
		if err := h.Enqueuer.EnqueueBatch(r.Context(), req.Site, req.Events); err != nil {
			problem.Write(w, r, http.StatusInternalServerError, "Server error", err, h.Env)
			return
		}
		writeJSON(w, http.StatusAccepted, batchResponse{Success: true, Message: "queued"})
		return
	}

	var result ingest.BatchResult
	if req.Site != "" {
		result, err = h.Service.IngestBatch(r.Context(), req.Site, req.Events)
	} else {
		tagged := make([]ingest.TaggedRecord, len(req.Events))
		for i, record := range req.Events {
			tagged[i] = ingest.TaggedRecord{Record: record}
		}
		result, err = h.Service.IngestMulti(r.Context(), tagged)
	}

	switch {
	case errors.Is(err, ingest.ErrNoRecordsProcessed):
		writeJSON(w, http.StatusUnprocessableEntity, batchResponse{Success: false, Message: result.Message()})
	case err != nil:
		problem.Write(w, r, http.StatusInternalServerError, "Server error", err, h.Env)
	default:
		writeJSON(w, http.StatusOK, batchResponse{Success: true, Message: result.Message()})
	}
}

func (h *IngestHandler) decode(r *http.Request) (IngestRequest, error) {
	var req IngestRequest
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	if err := dec.Decode(&req); err != nil {
		if errors.Is(err, io.EOF) {
			return req, fmt.Errorf("request body is empty")
		}
		return req, fmt.Errorf("decode request: %w", err)
	}
	if dec.More() {
		return req, fmt.Errorf("request body must hold a single JSON object")
	}
	req.Site = strings.TrimSpace(req.Site)

	validate := h.validate
	if validate == nil {
		validate = newValidator()
	}
	if err := validate.Struct(req); err != nil {
		return req, err
	}
	return req, nil
}

func (h *IngestHandler) env() string {
	if h == nil {
		return ""
	}
	return h.Env
}

// validationDetails maps each failing field to the rule it broke, e.g.
// {"events": "min=1", "site": "site"}.
func validationDetails(errs validator.ValidationErrors) map[string]any {
	details := make(map[string]any, len(errs))
	for _, fe := range errs {
		rule := fe.Tag()
		if fe.Param() != "" {
			rule += "=" + fe.Param()
		}
		details[fieldPath(fe)] = rule
	}
	return details
}

func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if _, rest, ok := strings.Cut(ns, "."); ok {
		return rest
	}
	return ns
}
