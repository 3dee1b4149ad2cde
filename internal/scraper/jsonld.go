package scraper

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"
	"github.com/rs/zerolog"
	"github.com/temoto/robotstxt"

	"github.com/Togather-Foundation/catalog/internal/validation"
)

const (
	maxPageBytes   = 10 << 20
	maxRobotsBytes = 512 << 10

	// maxLDDepth bounds how far the walker descends into nested containers.
	maxLDDepth = 8
)

// Fetcher downloads event pages. It honours robots.txt, caching one
// verdict set per host for its lifetime, and never follows redirects.
type Fetcher struct {
	client    *http.Client
	userAgent string
	logger    zerolog.Logger

	mu     sync.Mutex
	robots map[string]*robotstxt.RobotsData // nil entry: allow all
}

func NewFetcher(client *http.Client, userAgent string, logger zerolog.Logger) *Fetcher {
	if client == nil {
		client = &http.Client{}
	}
	c := *client
	c.CheckRedirect = func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }
	return &Fetcher{
		client:    &c,
		userAgent: userAgent,
		logger:    logger,
		robots:    make(map[string]*robotstxt.RobotsData),
	}
}

// FetchJSONLD returns the raw schema.org event objects found in the JSON-LD
// blocks of the page at rawURL.
func (f *Fetcher) FetchJSONLD(ctx context.Context, rawURL string) ([]json.RawMessage, error) {
	if err := validation.ValidateURL(rawURL, "url"); err != nil || rawURL == "" {
		return nil, fmt.Errorf("invalid URL %q", rawURL)
	}

	allowed, err := f.RobotsAllowed(ctx, rawURL)
	if err != nil {
		f.logger.Warn().Err(err).Str("url", rawURL).Msg("robots.txt unavailable, fetching anyway")
		allowed = true
	}
	if !allowed {
		return nil, fmt.Errorf("robots.txt disallows %q", rawURL)
	}

	body, status, err := f.get(ctx, rawURL, maxPageBytes)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d fetching %q", status, rawURL)
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse %q: %w", rawURL, err)
	}

	var found []json.RawMessage
	doc.Find(`script[type="application/ld+json"]`).Each(func(i int, s *goquery.Selection) {
		block := bytes.TrimSpace([]byte(s.Text()))
		if len(block) == 0 {
			return
		}
		events, err := findEvents(block)
		if err != nil {
			f.logger.Debug().Err(err).Int("block", i).Str("url", rawURL).Msg("skipping malformed JSON-LD")
			return
		}
		found = append(found, events...)
	})
	return found, nil
}

// RobotsAllowed reports whether rawURL may be fetched with the fetcher's
// user agent. A host without robots.txt allows everything.
func (f *Fetcher) RobotsAllowed(ctx context.Context, rawURL string) (bool, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false, fmt.Errorf("parse %q: %w", rawURL, err)
	}
	host := u.Scheme + "://" + u.Host

	f.mu.Lock()
	data, cached := f.robots[host]
	f.mu.Unlock()

	if !cached {
		data, err = f.loadRobots(ctx, host)
		if err != nil {
			return false, err
		}
		f.mu.Lock()
		f.robots[host] = data
		f.mu.Unlock()
	}
	if data == nil {
		return true, nil
	}

	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}
	return data.TestAgent(path, f.userAgent), nil
}

func (f *Fetcher) loadRobots(ctx context.Context, host string) (*robotstxt.RobotsData, error) {
	body, status, err := f.get(ctx, host+"/robots.txt", maxRobotsBytes)
	if err != nil {
		return nil, fmt.Errorf("robots.txt: %w", err)
	}
	if status == http.StatusNotFound || status == http.StatusGone {
		return nil, nil
	}
	data, err := robotstxt.FromStatusAndBytes(status, body)
	if err != nil {
		// Unparseable rules are treated like a missing file.
		return nil, nil
	}
	return data, nil
}

func (f *Fetcher) get(ctx context.Context, rawURL string, limit int64) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("User-Agent", f.userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("fetch %q: %w", rawURL, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, limit))
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("read %q: %w", rawURL, err)
	}
	return body, resp.StatusCode, nil
}

var errLDTooDeep = errors.New("JSON-LD nested too deeply")

// findEvents walks one JSON-LD block. Events are returned as found; other
// nodes are searched through @graph, itemListElement, item and mainEntity.
func findEvents(block []byte) ([]json.RawMessage, error) {
	var found []json.RawMessage
	err := walkLD(block, 0, &found)
	return found, err
}

func walkLD(node json.RawMessage, depth int, found *[]json.RawMessage) error {
	if depth > maxLDDepth {
		return errLDTooDeep
	}
	node = bytes.TrimSpace(node)
	if len(node) == 0 {
		return nil
	}

	switch node[0] {
	case '[':
		var items []json.RawMessage
		if err := json.Unmarshal(node, &items); err != nil {
			return err
		}
		for _, item := range items {
			if err := walkLD(item, depth+1, found); err != nil {
				return err
			}
		}
	case '{':
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(node, &fields); err != nil {
			return err
		}
		if isEventNode(fields["@type"]) {
			*found = append(*found, node)
			return nil
		}
		for _, key := range []string{"@graph", "itemListElement", "item", "mainEntity"} {
			if child, ok := fields[key]; ok {
				if err := walkLD(child, depth+1, found); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// isEventNode accepts @type as a string or an array; any schema.org event
// type in it qualifies.
func isEventNode(raw json.RawMessage) bool {
	if len(raw) == 0 {
		return false
	}
	var types []string
	var one string
	if err := json.Unmarshal(raw, &one); err == nil {
		types = []string{one}
	} else if err := json.Unmarshal(raw, &types); err != nil {
		return false
	}
	for _, t := range types {
		t = strings.TrimPrefix(strings.TrimPrefix(t, "https://schema.org/"), "http://schema.org/")
		if eventTypes[t] {
			return true
		}
	}
	return false
}

var eventTypes = map[string]bool{
	"Event": true, "EventSeries": true, "MusicEvent": true, "TheaterEvent": true,
	"ComedyEvent": true, "DanceEvent": true, "ExhibitionEvent": true, "Festival": true,
	"LiteraryEvent": true, "ScreeningEvent": true, "SocialEvent": true, "EducationEvent": true,
}
