package scraper

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/rs/zerolog"

	"github.com/Togather-Foundation/catalog/internal/normalize"
)

// CollyExtractor scrapes tier 1 sources with CSS selectors.
type CollyExtractor struct {
	userAgent string
	delay     time.Duration
	timeout   time.Duration
	logger    zerolog.Logger
}

// NewCollyExtractor returns an extractor that waits one second between
// requests to the same host.
func NewCollyExtractor(userAgent string, timeout time.Duration, logger zerolog.Logger) *CollyExtractor {
	return &CollyExtractor{userAgent: userAgent, delay: time.Second, timeout: timeout, logger: logger}
}

// ScrapeWithSelectors visits config.URL and follows pagination for up to
// config.MaxPages pages, turning every event card into a raw record.
// robots.txt is honoured. A cancelled ctx ends the crawl early and returns
// what was collected.
func (e *CollyExtractor) ScrapeWithSelectors(ctx context.Context, config SourceConfig) ([]normalize.RawEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	start, err := url.Parse(config.URL)
	if err != nil {
		return nil, fmt.Errorf("parse source url: %w", err)
	}

	cr := &crawl{ctx: ctx, sel: config.Selectors, maxPages: config.MaxPages, logger: e.logger}
	if cr.maxPages <= 0 {
		cr.maxPages = defaultMaxPages
	}

	c := colly.NewCollector(colly.UserAgent(e.userAgent), colly.AllowedDomains(start.Hostname()))
	if e.timeout > 0 {
		c.SetRequestTimeout(e.timeout)
	}
	if err := c.Limit(&colly.LimitRule{DomainGlob: "*", Delay: e.delay}); err != nil {
		e.logger.Warn().Err(err).Msg("colly: rate limit rule rejected")
	}
	c.OnRequest(cr.onRequest)
	c.OnError(cr.onError)
	c.OnHTML(cr.sel.EventList, cr.onCard)
	if cr.sel.Pagination != "" {
		c.OnHTML(cr.sel.Pagination, cr.onNextPage)
	}

	if err := c.Visit(config.URL); err != nil && ctx.Err() == nil {
		return nil, err
	}
	c.Wait()
	return cr.records(), nil
}

// crawl is the state of one ScrapeWithSelectors call. Colly callbacks may
// run concurrently, so counters and results sit behind mu.
type crawl struct {
	ctx      context.Context
	sel      SelectorConfig
	maxPages int
	logger   zerolog.Logger

	mu      sync.Mutex
	pages   int
	results []normalize.RawEvent
}

func (cr *crawl) records() []normalize.RawEvent {
	cr.mu.Lock()
	defer cr.mu.Unlock()
	return cr.results
}

func (cr *crawl) onRequest(r *colly.Request) {
	if cr.ctx.Err() != nil {
		r.Abort()
		return
	}
	cr.mu.Lock()
	cr.pages++
	page := cr.pages
	cr.mu.Unlock()

	if page > cr.maxPages {
		r.Abort()
		return
	}
	cr.logger.Debug().Str("url", r.URL.String()).Int("page", page).Msg("colly: visiting page")
}

func (cr *crawl) onError(r *colly.Response, err error) {
	if cr.ctx.Err() != nil {
		return
	}
	cr.logger.Warn().Err(err).
		Str("url", r.Request.URL.String()).
		Int("status", r.StatusCode).
		Msg("colly: request error")
}

func (cr *crawl) onCard(h *colly.HTMLElement) {
	if cr.ctx.Err() != nil {
		return
	}
	raw := cardRecord(h, cr.sel)
	if raw["title"] == nil {
		return
	}
	cr.mu.Lock()
	cr.results = append(cr.results, raw)
	cr.mu.Unlock()
}

func (cr *crawl) onNextPage(h *colly.HTMLElement) {
	if cr.ctx.Err() != nil {
		return
	}
	cr.mu.Lock()
	full := cr.pages >= cr.maxPages
	cr.mu.Unlock()
	if full {
		return
	}

	href := h.Attr("href")
	if href == "" {
		href = h.ChildAttr("a", "href")
	}
	next := h.Request.AbsoluteURL(href)
	if href == "" || next == "" {
		return
	}
	if err := h.Request.Visit(next); err != nil {
		cr.logger.Debug().Err(err).Str("url", next).Msg("colly: pagination URL not queued")
	}
}

// cardRecord reads one event card into the keys the normalizer's direct
// adapter understands. Empty values are left out.
func cardRecord(h *colly.HTMLElement, sel SelectorConfig) normalize.RawEvent {
	raw := normalize.RawEvent{}
	set := func(key, value string) {
		if value = strings.TrimSpace(value); value != "" {
			raw[key] = value
		}
	}

	for key, selector := range map[string]string{
		"title":         sel.Name,
		"venue":         sel.Venue,
		"address":       sel.Address,
		"organization":  sel.Organizer,
		"description":   sel.Description,
		"price_text":    sel.Price,
		"schedule_text": sel.Time,
	} {
		if selector != "" {
			set(key, h.ChildText(selector))
		}
	}
	if sel.Date != "" {
		set("date", dateFromElement(h, sel.Date))
	}
	if sel.EndDate != "" {
		set("date_end", dateFromElement(h, sel.EndDate))
	}
	if sel.URL != "" {
		if href := h.ChildAttr(sel.URL, "href"); href != "" {
			set("url", h.Request.AbsoluteURL(href))
		}
	}
	if sel.Image != "" {
		if src := imageSource(h, sel.Image); src != "" {
			set("image", h.Request.AbsoluteURL(src))
		}
	}
	return raw
}

// imageSource takes src, then the lazy-loading data-src, then the first
// candidate of srcset.
func imageSource(h *colly.HTMLElement, selector string) string {
	for _, attr := range []string{"src", "data-src"} {
		if v := strings.TrimSpace(h.ChildAttr(selector, attr)); v != "" {
			return v
		}
	}
	first, _, _ := strings.Cut(strings.TrimSpace(h.ChildAttr(selector, "srcset")), ",")
	candidate, _, _ := strings.Cut(strings.TrimSpace(first), " ")
	return candidate
}

// dateFromElement prefers the datetime attribute of a <time> element.
func dateFromElement(h *colly.HTMLElement, selector string) string {
	if dt := h.ChildAttr(selector, "datetime"); dt != "" {
		return strings.TrimSpace(dt)
	}
	return strings.TrimSpace(h.ChildText(selector))
}
