// Package normalize maps heterogeneous scraped records onto the canonical
// event representation.
package normalize

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/Togather-Foundation/catalog/internal/domain/events"
	"github.com/Togather-Foundation/catalog/internal/sanitize"
	"github.com/Togather-Foundation/catalog/internal/validation"
)

// RawEvent is one loosely-typed record as posted by a scraper.
type RawEvent map[string]any

// Shape classifies which adapter a raw record goes through.
type Shape int

const (
	ShapeUnknown Shape = iota
	ShapeDirect
	ShapeFreeText
)

func (s Shape) String() string {
	switch s {
	case ShapeDirect:
		return "direct"
	case ShapeFreeText:
		return "free_text"
	default:
		return "unknown"
	}
}

// DetectShape reports ShapeDirect when a structured start date is present,
// ShapeFreeText when only free-text date/schedule/price fields are present.
func DetectShape(raw RawEvent) Shape {
	if _, ok := raw.lookup(dateStartKeys); ok {
		return ShapeDirect
	}
	if _, ok := raw.lookup(rawDateKeys); ok {
		return ShapeFreeText
	}
	if _, ok := raw.lookup(rawScheduleKeys); ok {
		return ShapeFreeText
	}
	if _, ok := raw.lookup(rawPriceTextKeys); ok {
		return ShapeFreeText
	}
	return ShapeUnknown
}

// Completer is the external text-analysis collaborator.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

type Normalizer struct {
	completer Completer
	fallback  fallbackDateParser
	logger    zerolog.Logger
}

type Option func(*Normalizer)

// WithCompleter enables the free-text collaborator path.
func WithCompleter(c Completer) Option {
	return func(n *Normalizer) {
		n.completer = c
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(n *Normalizer) {
		n.logger = logger
	}
}

func WithClock(now func() time.Time) Option {
	return func(n *Normalizer) {
		n.fallback.now = now
	}
}

func New(opts ...Option) *Normalizer {
	n := &Normalizer{
		fallback: fallbackDateParser{now: time.Now},
		logger:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Normalize produces the canonical record for raw or a typed failure:
// *events.ValidationError or *events.MalformedResponseError.
func (n *Normalizer) Normalize(ctx context.Context, site string, raw RawEvent) (events.Canonical, error) {
	c := base(raw)
	c.Site = site
	verr := &events.ValidationError{}

	switch DetectShape(raw) {
	case ShapeDirect:
		n.fromDirect(raw, &c, verr)
	case ShapeFreeText:
		if err := n.fromFreeText(ctx, raw, &c); err != nil {
			return events.Canonical{}, err
		}
	}

	if err := c.Validate(); err != nil {
		var gate *events.ValidationError
		if errors.As(err, &gate) {
			reported := make(map[string]bool, len(verr.Fields))
			for _, f := range verr.Fields {
				reported[f.Field] = true
			}
			for _, f := range gate.Fields {
				if !reported[f.Field] {
					verr.Fields = append(verr.Fields, f)
				}
			}
		}
	}
	if err := verr.OrNil(); err != nil {
		return events.Canonical{}, err
	}
	return c, nil
}

// base maps the fields every shape shares.
func base(raw RawEvent) events.Canonical {
	c := events.Canonical{
		Title:        sanitize.Text(raw.str(titleKeys)),
		Organization: sanitize.Text(raw.str(organizationKeys)),
		Description:  sanitize.Description(raw.str(descriptionKeys)),
		Address:      sanitize.Text(raw.str(addressKeys)),
		ExternalID:   raw.str(externalIDKeys),
		ImageURL:     raw.str(imageKeys),
		PageURL:      raw.str(pageURLKeys),
		Venue: events.VenueRef{
			Name:       sanitize.Text(raw.str(venueKeys)),
			Address:    sanitize.Text(raw.str(addressKeys)),
			City:       sanitize.Text(raw.str(cityKeys)),
			PostalCode: raw.str(postalKeys),
			Country:    raw.str(countryKeys),
		},
		Categories: sanitize.TextSlice(raw.list(categoryKeys)),
		Tags:       sanitize.TextSlice(raw.list(tagKeys)),
	}
	c.Links = links(raw, c.PageURL)
	return c
}

// links collects page, ticket and listed links. Anything that is not an
// absolute http(s) URL is dropped.
func links(raw RawEvent, pageURL string) []events.Link {
	var out []events.Link
	if pageURL != "" {
		out = append(out, events.Link{URL: pageURL, Type: events.DefaultLinkType})
	}
	if ticket := raw.str(ticketURLKeys); ticket != "" {
		out = append(out, events.Link{URL: ticket, Type: "ticket"})
	}
	if v, ok := raw.lookup(linkKeys); ok {
		for _, obj := range objects(v) {
			u := stringValue(obj["url"])
			if u == "" {
				continue
			}
			kind := stringValue(obj["link_type"])
			if kind == "" {
				kind = stringValue(obj["type"])
			}
			out = append(out, events.Link{URL: u, Type: kind})
		}
		if items, isList := v.([]any); isList {
			for _, item := range items {
				if s, isString := item.(string); isString && strings.TrimSpace(s) != "" {
					out = append(out, events.Link{URL: strings.TrimSpace(s)})
				}
			}
		}
	}

	kept := out[:0]
	for _, l := range out {
		if validation.IsWebURL(l.URL) {
			kept = append(kept, l)
		}
	}
	return kept
}

func (n *Normalizer) fromDirect(raw RawEvent, c *events.Canonical, verr *events.ValidationError) {
	startText := raw.str(dateStartKeys)
	start, ok := ParseDate(startText)
	if !ok {
		verr.Add("date_start", "unrecognized date "+strconv.Quote(startText))
		return
	}
	c.DateStart = start
	c.DateEnd = start
	if endText := raw.str(dateEndKeys); endText != "" {
		end, ok := ParseDate(endText)
		if !ok {
			verr.Add("date_end", "unrecognized date "+strconv.Quote(endText))
			return
		}
		c.DateEnd = end
	}

	if v, ok := raw.lookup(scheduleKeys); ok {
		if text, isText := v.(string); isText {
			if s, ok := ParseScheduleText(text, c.DateStart); ok {
				c.Schedules = append(c.Schedules, s)
			}
		}
		for _, obj := range objects(v) {
			s, ok := scheduleFromObject(obj)
			if !ok {
				n.logger.Debug().Str("title", c.Title).Interface("schedule", obj).Msg("dropping schedule entry without a date")
				continue
			}
			c.Schedules = append(c.Schedules, s)
		}
	}

	if v, ok := raw.lookup(priceKeys); ok {
		c.Prices = append(c.Prices, pricesFromValue(v)...)
	}
	if text := raw.str(rawPriceTextKeys); text != "" && len(c.Prices) == 0 {
		c.Prices = ParsePriceText(text)
	}
	if text := raw.str(rawScheduleKeys); text != "" && len(c.Schedules) == 0 && c.DateStart.Equal(c.DateEnd) {
		if s, ok := ParseScheduleText(text, c.DateStart); ok {
			c.Schedules = append(c.Schedules, s)
		}
	}
}

// fromFreeText applies the local date-range rule first and consults the
// collaborator when dates are still missing or schedule/price text needs
// structuring. Transport failures degrade to the local result.
func (n *Normalizer) fromFreeText(ctx context.Context, raw RawEvent, c *events.Canonical) error {
	dateText := raw.str(rawDateKeys)
	scheduleText := raw.str(rawScheduleKeys)
	priceText := raw.str(rawPriceTextKeys)

	start, end, localOK := ParseDateRange(dateText)
	if localOK {
		c.DateStart, c.DateEnd = start, end
	}

	needsAnalysis := !localOK || scheduleText != "" || priceText != ""
	if n.completer != nil && needsAnalysis {
		analyzed, err := n.analyze(ctx, raw)
		switch {
		case err == nil:
			n.merge(c, analyzed, localOK)
			return nil
		case isMalformed(err):
			return err
		default:
			n.logger.Warn().Err(err).Str("title", c.Title).Msg("text analysis unavailable, using local rules")
		}
	}

	if !localOK {
		if d, ok := n.fallback.Parse(dateText); ok {
			c.DateStart, c.DateEnd = d, d
		}
	}
	if priceText != "" {
		c.Prices = ParsePriceText(priceText)
	}
	if scheduleText != "" && !c.DateStart.IsZero() && c.DateStart.Equal(c.DateEnd) {
		if s, ok := ParseScheduleText(scheduleText, c.DateStart); ok {
			c.Schedules = append(c.Schedules, s)
		}
	}
	return nil
}

func (n *Normalizer) analyze(ctx context.Context, raw RawEvent) (analysisEvent, error) {
	prompt, err := BuildDirective(raw)
	if err != nil {
		return analysisEvent{}, err
	}
	text, err := n.completer.Complete(ctx, prompt)
	if err != nil {
		return analysisEvent{}, err
	}
	reply, err := DecodeReply(text)
	if err != nil {
		n.logger.Error().Err(err).Str("raw_response", text).Msg("malformed text-analysis response")
		return analysisEvent{}, err
	}
	if len(reply.Events) == 0 {
		return analysisEvent{}, &events.MalformedResponseError{Raw: text, Err: errors.New("reply contains no events")}
	}
	return reply.Events[0], nil
}

func (n *Normalizer) merge(c *events.Canonical, a analysisEvent, keepLocalDates bool) {
	if c.Title == "" {
		c.Title = sanitize.Text(a.Title)
	}
	if !keepLocalDates {
		if d, ok := ParseDate(a.DateStart); ok {
			c.DateStart = d
			c.DateEnd = d
		}
		if d, ok := ParseDate(a.DateEnd); ok {
			c.DateEnd = d
		}
	}
	for _, s := range a.Schedule {
		d, ok := ParseDate(s.Date)
		if !ok {
			continue
		}
		sched := events.Schedule{
			Date:         d,
			TimeStart:    clock(s.TimeStart),
			SpecialNotes: strings.TrimSpace(s.SpecialNotes),
			Status:       strings.TrimSpace(s.Status),
		}
		if end := clock(s.TimeEnd); end != "" {
			sched.TimeEnd = &end
		}
		c.Schedules = append(c.Schedules, sched)
	}
	c.Categories = events.CleanNames(append(c.Categories, restrictVocabulary(a.Categories, CategoryVocabulary)...))
	c.Tags = events.CleanNames(append(c.Tags, restrictVocabulary(a.Tags, TagVocabulary)...))
	for _, p := range a.Prices {
		c.Prices = append(c.Prices, events.Price{
			Tier:         strings.TrimSpace(p.PriceTier),
			Amount:       string(p.Amount),
			Currency:     strings.TrimSpace(p.Currency),
			DiscountInfo: strings.TrimSpace(p.DiscountInfo),
		})
	}
}

func scheduleFromObject(obj map[string]any) (events.Schedule, bool) {
	r := RawEvent(obj)
	d, ok := ParseDate(r.str([]string{"date", "day"}))
	if !ok {
		return events.Schedule{}, false
	}
	s := events.Schedule{
		Date:         d,
		TimeStart:    clock(r.str([]string{"time_start", "start_time", "start"})),
		SpecialNotes: sanitize.Text(r.str([]string{"special_notes", "notes", "note"})),
		Status:       r.str([]string{"status"}),
	}
	if end := clock(r.str([]string{"time_end", "end_time", "end"})); end != "" {
		s.TimeEnd = &end
	}
	return s, true
}

func pricesFromValue(v any) []events.Price {
	if text, ok := v.(string); ok {
		return ParsePriceText(text)
	}
	if n := stringValue(v); n != "" {
		if _, isMap := v.(map[string]any); !isMap {
			return []events.Price{{Amount: n}}
		}
	}
	var out []events.Price
	for _, obj := range objects(v) {
		r := RawEvent(obj)
		out = append(out, events.Price{
			Tier:         r.str([]string{"price_tier", "tier", "name", "label"}),
			Amount:       r.str([]string{"amount", "price", "value"}),
			Currency:     r.str([]string{"currency"}),
			DiscountInfo: r.str([]string{"discount_info", "discount", "note"}),
		})
	}
	if items, ok := v.([]any); ok {
		for _, item := range items {
			if text, isText := item.(string); isText {
				out = append(out, ParsePriceText(text)...)
			}
		}
	}
	return out
}

func isMalformed(err error) bool {
	var malformed *events.MalformedResponseError
	return errors.As(err, &malformed)
}
