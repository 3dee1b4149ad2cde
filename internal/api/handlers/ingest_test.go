package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Togather-Foundation/catalog/internal/ingest"
	"github.com/Togather-Foundation/catalog/internal/normalize"
)

type fakeIngester struct {
	result     ingest.BatchResult
	err        error
	batchSite  string
	batch      []normalize.RawEvent
	multi      []ingest.TaggedRecord
	multiCalls int
}

func (f *fakeIngester) IngestBatch(_ context.Context, site string, records []normalize.RawEvent) (ingest.BatchResult, error) {
	f.batchSite = site
	f.batch = records
	res := f.result
	res.Site = site
	res.Received = len(records)
	return res, f.err
}

func (f *fakeIngester) IngestMulti(_ context.Context, records []ingest.TaggedRecord) (ingest.BatchResult, error) {
	f.multiCalls++
	f.multi = records
	res := f.result
	res.Site = ingest.MultiSiteLabel
	res.Received = len(records)
	return res, f.err
}

type fakeEnqueuer struct {
	site    string
	records []normalize.RawEvent
	err     error
}

func (f *fakeEnqueuer) EnqueueBatch(_ context.Context, site string, records []normalize.RawEvent) error {
	f.site = site
	f.records = records
	return f.err
}

func postIngest(t *testing.T, h *IngestHandler, target, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	res := httptest.NewRecorder()
	h.Ingest(res, req)

	var payload map[string]any
	require.NoError(t, json.Unmarshal(res.Body.Bytes(), &payload), res.Body.String())
	return res, payload
}

func TestIngestHandler_Success(t *testing.T) {
	fake := &fakeIngester{result: ingest.BatchResult{Processed: 4, Skipped: 1}}
	h := NewIngestHandler(fake, nil, "test")

	res, payload := postIngest(t, h, "/api/ingest", `{"site":"bluenote","events":[{"title":"a"},{"title":"b"},{"title":"c"},{"title":"d"},{}]}`)

	require.Equal(t, http.StatusOK, res.Code)
	require.Equal(t, true, payload["success"])
	require.Equal(t, "Processed 4 of 5 events", payload["message"])
	require.Equal(t, "bluenote", fake.batchSite)
	require.Len(t, fake.batch, 5)
}

func TestIngestHandler_NumbersStayExact(t *testing.T) {
	fake := &fakeIngester{result: ingest.BatchResult{Processed: 1}}
	h := NewIngestHandler(fake, nil, "test")

	res, _ := postIngest(t, h, "/api/ingest", `{"site":"bluenote","events":[{"title":"a","price":12345678901234567890}]}`)

	require.Equal(t, http.StatusOK, res.Code)
	require.Equal(t, json.Number("12345678901234567890"), fake.batch[0]["price"])
}

func TestIngestHandler_NothingProcessedIs422(t *testing.T) {
	fake := &fakeIngester{
		result: ingest.BatchResult{Skipped: 2},
		err:    ingest.ErrNoRecordsProcessed,
	}
	h := NewIngestHandler(fake, nil, "test")

	res, payload := postIngest(t, h, "/api/ingest", `{"site":"bluenote","events":[{},{}]}`)

	require.Equal(t, http.StatusUnprocessableEntity, res.Code)
	require.Equal(t, false, payload["success"])
	require.Equal(t, "Processed 0 of 2 events", payload["message"])
}

func TestIngestHandler_MultiSourceForm(t *testing.T) {
	fake := &fakeIngester{result: ingest.BatchResult{Processed: 2}}
	h := NewIngestHandler(fake, nil, "test")

	res, _ := postIngest(t, h, "/api/ingest", `{"events":[{"site":"bluenote","title":"a"},{"source":"quattro","title":"b"}]}`)

	require.Equal(t, http.StatusOK, res.Code)
	require.Equal(t, 1, fake.multiCalls)
	require.Len(t, fake.multi, 2)
	require.Equal(t, "bluenote", fake.multi[0].Record.Site())
	require.Equal(t, "quattro", fake.multi[1].Record.Site())
}

func TestIngestHandler_ValidationErrors(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		wantField string
	}{
		{name: "missing events", body: `{"site":"bluenote"}`, wantField: "events"},
		{name: "empty events", body: `{"site":"bluenote","events":[]}`, wantField: "events"},
		{name: "null record", body: `{"site":"bluenote","events":[null]}`, wantField: "events[0]"},
		{name: "bad site", body: `{"site":"../etc","events":[{}]}`, wantField: "site"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := &fakeIngester{}
			h := NewIngestHandler(fake, nil, "test")

			res, payload := postIngest(t, h, "/api/ingest", tt.body)

			require.Equal(t, http.StatusBadRequest, res.Code)
			require.Equal(t, "Invalid request", payload["error"])
			details, ok := payload["details"].(map[string]any)
			require.True(t, ok, "details should be an object: %v", payload)
			require.Contains(t, details, tt.wantField)
			require.Nil(t, fake.batch)
		})
	}
}

func TestIngestHandler_MalformedJSON(t *testing.T) {
	h := NewIngestHandler(&fakeIngester{}, nil, "test")

	res, payload := postIngest(t, h, "/api/ingest", `{"site":`)

	require.Equal(t, http.StatusBadRequest, res.Code)
	require.Equal(t, "Invalid request", payload["error"])
}

func TestIngestHandler_BodyTooLarge(t *testing.T) {
	h := NewIngestHandler(&fakeIngester{}, nil, "test")

	body := `{"site":"bluenote","events":[{"description":"` + strings.Repeat("x", 512) + `"}]}`
	req := httptest.NewRequest(http.MethodPost, "/api/ingest", bytes.NewReader([]byte(body)))
	res := httptest.NewRecorder()
	req.Body = http.MaxBytesReader(res, req.Body, 64)
	h.Ingest(res, req)

	require.Equal(t, http.StatusRequestEntityTooLarge, res.Code)
}

func TestIngestHandler_Async(t *testing.T) {
	fake := &fakeIngester{}
	queue := &fakeEnqueuer{}
	h := NewIngestHandler(fake, queue, "test")

	res, payload := postIngest(t, h, "/api/ingest?async=true", `{"site":"bluenote","events":[{"title":"a"}]}`)

	require.Equal(t, http.StatusAccepted, res.Code)
	require.Equal(t, true, payload["success"])
	require.Equal(t, "queued", payload["message"])
	require.Equal(t, "bluenote", queue.site)
	require.Len(t, queue.records, 1)
	require.Nil(t, fake.batch, "async requests must not run inline")
}

func TestIngestHandler_AsyncDisabled(t *testing.T) {
	h := NewIngestHandler(&fakeIngester{}, nil, "test")

	res, _ := postIngest(t, h, "/api/ingest?async=true", `{"site":"bluenote","events":[{"title":"a"}]}`)

	require.Equal(t, http.StatusBadRequest, res.Code)
}

func TestIngestHandler_ServiceError(t *testing.T) {
	fake := &fakeIngester{err: errors.New("ingest: normalizer not configured")}
	h := NewIngestHandler(fake, nil, "production")

	res, payload := postIngest(t, h, "/api/ingest", `{"site":"bluenote","events":[{"title":"a"}]}`)

	require.Equal(t, http.StatusInternalServerError, res.Code)
	require.Equal(t, "Server error", payload["error"])
	require.NotContains(t, res.Body.String(), "normalizer")
}
