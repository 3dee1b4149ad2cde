// Package ingest runs batches of raw scraped records through normalization,
// venue resolution, event upsert, association sync and image caching.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Togather-Foundation/catalog/internal/domain/events"
	"github.com/Togather-Foundation/catalog/internal/domain/venues"
	"github.com/Togather-Foundation/catalog/internal/imagecache"
	"github.com/Togather-Foundation/catalog/internal/metrics"
	"github.com/Togather-Foundation/catalog/internal/normalize"
	"github.com/Togather-Foundation/catalog/internal/telemetry"
)

const (
	tracerName = "github.com/Togather-Foundation/catalog/internal/ingest"

	// MultiSiteLabel names the audit row of a multi-source batch.
	MultiSiteLabel = "multi"

	maxLoggedResponse = 2000
)

type Normalizer interface {
	Normalize(ctx context.Context, site string, raw normalize.RawEvent) (events.Canonical, error)
}

type VenueResolver interface {
	Resolve(ctx context.Context, in venues.Input) (*int64, error)
}

type EventWriter interface {
	Upsert(ctx context.Context, c events.Canonical, venueID *int64) (events.UpsertResult, error)
	AttachImage(ctx context.Context, eventID int64, image events.Image) error
}

type AssociationSyncer interface {
	Sync(ctx context.Context, eventID int64, categories, tags []string) (events.SyncResult, error)
}

var (
	_ Normalizer        = (*normalize.Normalizer)(nil)
	_ VenueResolver     = (*venues.Resolver)(nil)
	_ EventWriter       = (*events.Engine)(nil)
	_ AssociationSyncer = (*events.Associations)(nil)
)

// Dependencies are the collaborators of a Service. Runs is optional.
type Dependencies struct {
	Normalizer   Normalizer
	Venues       VenueResolver
	Events       EventWriter
	Associations AssociationSyncer
	Images       *imagecache.Cache
	Runs         RunRecorder
}

// TaggedRecord is one entry of the multi-source request form.
type TaggedRecord struct {
	Site   string
	Record normalize.RawEvent
}

type Service struct {
	deps             Dependencies
	allowed          map[string]struct{}
	imageConcurrency int
	logger           zerolog.Logger
	tracer           trace.Tracer
}

type Option func(*Service)

// WithAllowedSites restricts the multi-source form. An empty list allows
// every site.
func WithAllowedSites(sites []string) Option {
	return func(s *Service) {
		for _, site := range sites {
			if site = strings.TrimSpace(site); site != "" {
				s.allowed[site] = struct{}{}
			}
		}
	}
}

func WithImageConcurrency(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.imageConcurrency = n
		}
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func NewService(deps Dependencies, opts ...Option) *Service {
	s := &Service{
		deps:             deps,
		allowed:          make(map[string]struct{}),
		imageConcurrency: imagecache.DefaultConcurrency,
		logger:           zerolog.Nop(),
		tracer:           telemetry.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SiteAllowed reports whether site may appear in a multi-source batch.
func (s *Service) SiteAllowed(site string) bool {
	if len(s.allowed) == 0 {
		return true
	}
	_, ok := s.allowed[site]
	return ok
}

type item struct {
	site        string
	raw         normalize.RawEvent
	unsupported bool
}

// IngestBatch processes records from one site. Record-level problems never
// abort the batch; they are logged and reported in the outcomes. The error
// is ErrNoRecordsProcessed when nothing was persisted.
func (s *Service) IngestBatch(ctx context.Context, site string, records []normalize.RawEvent) (BatchResult, error) {
	items := make([]item, len(records))
	for i, raw := range records {
		items[i] = item{site: site, raw: raw}
	}
	return s.run(ctx, site, items)
}

// IngestMulti processes records that each carry their own site tag. Records
// whose site is missing or not allowed are skipped with a warning.
func (s *Service) IngestMulti(ctx context.Context, records []TaggedRecord) (BatchResult, error) {
	items := make([]item, len(records))
	for i, rec := range records {
		site := strings.TrimSpace(rec.Site)
		if site == "" {
			site = strings.TrimSpace(rec.Record.Site())
		}
		items[i] = item{site: site, raw: rec.Record, unsupported: site == "" || !s.SiteAllowed(site)}
	}
	return s.run(ctx, MultiSiteLabel, items)
}

func (s *Service) run(ctx context.Context, label string, items []item) (BatchResult, error) {
	if err := s.configured(); err != nil {
		return BatchResult{}, err
	}

	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "ingest.batch", trace.WithAttributes(
		attribute.String("ingest.site", label),
		attribute.Int("ingest.received", len(items)),
	))
	defer span.End()

	logger := s.logger.With().Str("site", label).Int("received", len(items)).Logger()
	result := BatchResult{Site: label, Received: len(items)}

	if s.deps.Runs != nil {
		id, err := s.deps.Runs.StartRun(ctx, label, len(items))
		if err != nil {
			logger.Warn().Err(err).Msg("failed to record ingestion run start")
		} else {
			result.RunID = id
		}
	}

	// Image work and its row updates outlive a caller that disconnects;
	// every sub-step is idempotent so partial batches are safe.
	background := context.WithoutCancel(ctx)
	pool := s.deps.Images.NewPool(background, s.imageConcurrency)
	for i, it := range items {
		outcome := s.record(ctx, background, pool, i, it)
		result.add(outcome)
		metrics.IngestRecordsTotal.WithLabelValues(outcome.Site, string(outcome.Status), metricReason(outcome.Reason)).Inc()
	}
	pool.Wait()

	if s.deps.Runs != nil && result.RunID != 0 {
		if err := s.deps.Runs.FinishRun(background, result.RunID, result.Processed, result.Skipped, result.Failed); err != nil {
			logger.Warn().Err(err).Int64("run_id", result.RunID).Msg("failed to record ingestion run finish")
		}
	}

	span.SetAttributes(
		attribute.Int("ingest.processed", result.Processed),
		attribute.Int("ingest.skipped", result.Skipped),
		attribute.Int("ingest.failed", result.Failed),
	)
	metrics.IngestBatchDuration.WithLabelValues(label).Observe(time.Since(start).Seconds())

	if result.Processed == 0 {
		metrics.IngestBatchesTotal.WithLabelValues(label, "failure").Inc()
		span.SetStatus(codes.Error, ErrNoRecordsProcessed.Error())
		logger.Warn().Int("skipped", result.Skipped).Int("failed", result.Failed).Msg("batch produced no events")
		return result, ErrNoRecordsProcessed
	}

	metrics.IngestBatchesTotal.WithLabelValues(label, "success").Inc()
	logger.Info().
		Int("processed", result.Processed).
		Int("skipped", result.Skipped).
		Int("failed", result.Failed).
		Dur("duration", time.Since(start)).
		Msg("batch ingested")
	return result, nil
}

func (s *Service) configured() error {
	switch {
	case s == nil:
		return fmt.Errorf("ingest: service not configured")
	case s.deps.Normalizer == nil:
		return fmt.Errorf("ingest: normalizer not configured")
	case s.deps.Venues == nil:
		return fmt.Errorf("ingest: venue resolver not configured")
	case s.deps.Events == nil:
		return fmt.Errorf("ingest: event writer not configured")
	case s.deps.Associations == nil:
		return fmt.Errorf("ingest: association syncer not configured")
	case s.deps.Images == nil:
		return fmt.Errorf("ingest: image cache not configured")
	}
	return nil
}

// record runs every persistence step for one raw record in sequence.
func (s *Service) record(ctx, background context.Context, pool *imagecache.Pool, idx int, it item) RecordOutcome {
	ctx, span := s.tracer.Start(ctx, "ingest.record", trace.WithAttributes(
		attribute.Int("ingest.index", idx),
		attribute.String("ingest.site", it.site),
	))
	defer span.End()

	out := RecordOutcome{Index: idx, Site: it.site, Title: it.raw.Title()}
	logger := s.logger.With().Str("site", it.site).Int("index", idx).Str("title", out.Title).Logger()

	if it.unsupported {
		out.Status, out.Reason = StatusSkipped, ReasonUnsupportedSite
		logger.Warn().Msg("skipping record from unsupported site")
		return out
	}

	c, err := s.deps.Normalizer.Normalize(ctx, it.site, it.raw)
	if err != nil {
		return s.reject(span, logger, out, err, "")
	}
	out.Title = c.Title

	venueID, err := s.deps.Venues.Resolve(ctx, venues.Input{
		Name:       c.Venue.Name,
		Address:    c.Venue.Address,
		City:       c.Venue.City,
		PostalCode: c.Venue.PostalCode,
		Country:    c.Venue.Country,
	})
	if err != nil {
		return s.reject(span, logger, out, err, ReasonVenue)
	}

	res, err := s.deps.Events.Upsert(ctx, c, venueID)
	if err != nil {
		return s.reject(span, logger, out, err, "")
	}
	out.EventID = res.Event.ID
	out.Created = res.Created

	if _, err := s.deps.Associations.Sync(ctx, res.Event.ID, c.Categories, c.Tags); err != nil {
		return s.reject(span, logger, out, err, ReasonAssociations)
	}

	s.scheduleImage(background, pool, logger, c, res)

	out.Status = StatusProcessed
	logger.Debug().
		Int64("event_id", res.Event.ID).
		Bool("created", res.Created).
		Msg("record processed")
	return out
}

// reject converts a per-record error into an outcome and a log line. A
// non-empty fallback reason replaces ReasonInternal for untyped errors.
func (s *Service) reject(span trace.Span, logger zerolog.Logger, out RecordOutcome, err error, fallback string) RecordOutcome {
	out.Err = err
	out.Status, out.Reason = classify(err)
	if out.Reason == ReasonInternal && fallback != "" {
		out.Reason = fallback
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, out.Reason)

	var event *zerolog.Event
	if out.Status == StatusSkipped {
		event = logger.Warn()
	} else {
		event = logger.Error()
	}
	event = event.Err(err).Str("status", string(out.Status)).Str("reason", out.Reason)

	var malformed *events.MalformedResponseError
	if errors.As(err, &malformed) {
		event = event.Str("raw_response", truncate(malformed.Raw, maxLoggedResponse))
	}
	var conflict *events.PersistenceConflictError
	if errors.As(err, &conflict) {
		event = event.Interface("conflict_fields", conflict.Fields)
	}
	event.Msg("record not ingested")
	return out
}

// scheduleImage points the event at a placeholder right away and lets the
// pool swap in the cached image once it resolves.
func (s *Service) scheduleImage(ctx context.Context, pool *imagecache.Pool, logger zerolog.Logger, c events.Canonical, res events.UpsertResult) {
	eventID := res.Event.ID
	hadImage := !res.Created && res.Event.ImageURL != ""
	fallbackKey := c.Title

	if !hadImage {
		placeholder, err := s.deps.Images.Placeholder(c.Site, fallbackKey)
		if err != nil {
			logger.Warn().Err(err).Int64("event_id", eventID).Msg("failed to write placeholder image")
		} else if err := s.deps.Events.AttachImage(ctx, eventID, events.Image{URL: placeholder.PublicURL, IsPlaceholder: true}); err != nil {
			logger.Warn().Err(err).Int64("event_id", eventID).Msg("failed to attach placeholder image")
		}
	}

	if strings.TrimSpace(c.ImageURL) == "" {
		return
	}
	pool.Submit(imagecache.Task{
		Site:        c.Site,
		URL:         c.ImageURL,
		BaseURL:     c.PageURL,
		FallbackKey: fallbackKey,
		Done: func(img imagecache.Result, err error) {
			if err != nil {
				logger.Warn().Err(err).Int64("event_id", eventID).Msg("image resolution failed")
				return
			}
			if img.Placeholder && (hadImage || img.PublicURL == "") {
				return
			}
			if err := s.deps.Events.AttachImage(ctx, eventID, events.Image{
				URL:           img.PublicURL,
				SourceURL:     img.SourceURL,
				IsPlaceholder: img.Placeholder,
			}); err != nil {
				logger.Warn().Err(err).Int64("event_id", eventID).Msg("failed to attach cached image")
			}
		},
	})
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
