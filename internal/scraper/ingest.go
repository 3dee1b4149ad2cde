package scraper

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/Togather-Foundation/catalog/internal/ingest"
	"github.com/Togather-Foundation/catalog/internal/normalize"
)

// Submitter hands one site's scraped records to the ingestion pipeline.
type Submitter interface {
	SubmitBatch(ctx context.Context, site string, records []normalize.RawEvent) (IngestResult, error)
}

// IngestResult is the {success, message} body of the ingest endpoint.
type IngestResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Status  int    `json:"-"`
}

// IngestClient posts scraped batches to a running catalog server.
type IngestClient struct {
	baseURL    string
	httpClient *http.Client
	userAgent  string
}

var _ Submitter = (*IngestClient)(nil)

// NewIngestClient targets baseURL. A zero timeout defaults to 30 seconds.
func NewIngestClient(baseURL, userAgent string, timeout time.Duration) *IngestClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &IngestClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		userAgent:  userAgent,
	}
}

// SubmitBatch POSTs {"site": site, "events": records} to {baseURL}/api/ingest.
// A 422 answer means nothing in the batch was stored; it is reported through
// IngestResult.Success rather than as an error.
func (c *IngestClient) SubmitBatch(ctx context.Context, site string, records []normalize.RawEvent) (IngestResult, error) {
	payload, err := json.Marshal(map[string]any{"site": site, "events": records})
	if err != nil {
		return IngestResult{}, fmt.Errorf("marshal batch: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/ingest", bytes.NewReader(payload))
	if err != nil {
		return IngestResult{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return IngestResult{}, fmt.Errorf("send request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return IngestResult{}, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusUnprocessableEntity && (resp.StatusCode < 200 || resp.StatusCode >= 300) {
		return IngestResult{Status: resp.StatusCode}, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, bodySnippet(body))
	}

	var result IngestResult
	if err := json.Unmarshal(body, &result); err != nil {
		return IngestResult{Status: resp.StatusCode}, fmt.Errorf("parse response: %w", err)
	}
	result.Status = resp.StatusCode
	return result, nil
}

// BatchIngester is the in-process ingestion entry point.
type BatchIngester interface {
	IngestBatch(ctx context.Context, site string, records []normalize.RawEvent) (ingest.BatchResult, error)
}

// ServiceSubmitter submits directly to an ingest service without HTTP.
type ServiceSubmitter struct {
	Service BatchIngester
}

var _ Submitter = ServiceSubmitter{}

func (s ServiceSubmitter) SubmitBatch(ctx context.Context, site string, records []normalize.RawEvent) (IngestResult, error) {
	result, err := s.Service.IngestBatch(ctx, site, records)
	switch {
	case err == nil:
		return IngestResult{Success: true, Message: result.Message(), Status: http.StatusOK}, nil
	case errors.Is(err, ingest.ErrNoRecordsProcessed):
		return IngestResult{Success: false, Message: result.Message(), Status: http.StatusUnprocessableEntity}, nil
	default:
		return IngestResult{}, err
	}
}

// bodySnippet returns up to 200 characters of body as a string.
func bodySnippet(body []byte) string {
	if len(body) > 200 {
		return string(body[:200])
	}
	return string(body)
}
