// Package imagecache stores remote event images on disk under a key derived
// from their normalized source URL.
package imagecache

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/Togather-Foundation/catalog/internal/domain/events"
	"github.com/Togather-Foundation/catalog/internal/metrics"
)

const (
	DefaultTimeout      = 15 * time.Second
	DefaultMaxAttempts  = 3
	DefaultRetryDelay   = 500 * time.Millisecond
	DefaultPerHostRate  = 4
	DefaultPublicPrefix = "/images/events"
	DefaultExtension    = ".jpg"

	maxImageBytes = 20 << 20
	userAgent     = "CatalogImageFetcher/1.0"
)

var knownExtensions = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".gif": true,
	".webp": true, ".svg": true, ".avif": true, ".bmp": true,
}

var contentTypeExtensions = map[string]string{
	"image/jpeg":    ".jpg",
	"image/jpg":     ".jpg",
	"image/pjpeg":   ".jpg",
	"image/png":     ".png",
	"image/gif":     ".gif",
	"image/webp":    ".webp",
	"image/svg+xml": ".svg",
	"image/avif":    ".avif",
	"image/bmp":     ".bmp",
}

var unsafeSegment = regexp.MustCompile(`[^a-z0-9_-]+`)

// Result is the local reference for one image.
type Result struct {
	// File is the path on disk.
	File string
	// PublicURL is the path served to consumers, /images/events/<site>/<file>.
	PublicURL string
	// SourceURL is the normalized remote URL; empty when none was supplied.
	SourceURL   string
	Placeholder bool
	// Downloaded is true only when this call performed the network transfer.
	Downloaded bool
}

type Cache struct {
	root         string
	publicPrefix string
	httpClient   *http.Client
	maxAttempts  int
	retryDelay   time.Duration
	perHostRate  rate.Limit
	maxBytes     int64
	placeholder  []byte
	logger       zerolog.Logger

	group    singleflight.Group
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

type Option func(*Cache)

func WithHTTPClient(client *http.Client) Option {
	return func(c *Cache) {
		c.httpClient = client
	}
}

func WithTimeout(timeout time.Duration) Option {
	return func(c *Cache) {
		if timeout > 0 {
			c.httpClient.Timeout = timeout
		}
	}
}

func WithMaxAttempts(n int) Option {
	return func(c *Cache) {
		if n > 0 {
			c.maxAttempts = n
		}
	}
}

func WithRetryDelay(d time.Duration) Option {
	return func(c *Cache) {
		c.retryDelay = d
	}
}

// WithPerHostRate limits requests per second to any single host.
func WithPerHostRate(rps float64) Option {
	return func(c *Cache) {
		if rps > 0 {
			c.perHostRate = rate.Limit(rps)
		}
	}
}

// WithMaxBytes caps the size of a downloaded image. Larger bodies are
// rejected and the record gets a placeholder.
func WithMaxBytes(n int64) Option {
	return func(c *Cache) {
		if n > 0 {
			c.maxBytes = n
		}
	}
}

// WithPlaceholder replaces the built-in 1x1 PNG used for placeholder files.
func WithPlaceholder(data []byte) Option {
	return func(c *Cache) {
		if len(data) > 0 {
			c.placeholder = data
		}
	}
}

func WithPublicPrefix(prefix string) Option {
	return func(c *Cache) {
		if prefix != "" {
			c.publicPrefix = strings.TrimRight(prefix, "/")
		}
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(c *Cache) {
		c.logger = logger
	}
}

func New(root string, opts ...Option) *Cache {
	c := &Cache{
		root:         root,
		publicPrefix: DefaultPublicPrefix,
		httpClient:   &http.Client{Timeout: DefaultTimeout},
		maxAttempts:  DefaultMaxAttempts,
		retryDelay:   DefaultRetryDelay,
		perHostRate:  DefaultPerHostRate,
		maxBytes:     maxImageBytes,
		placeholder:  defaultPlaceholderPNG,
		logger:       zerolog.Nop(),
		limiters:     make(map[string]*rate.Limiter),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// LoadPlaceholder reads a placeholder asset from disk for WithPlaceholder.
func LoadPlaceholder(path string) ([]byte, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read placeholder: %w", err)
	}
	return data, nil
}

func (c *Cache) Root() string { return c.root }

// Resolve returns the local reference for rawURL. Relative URLs resolve
// against baseURL. An existing cached file is returned without any network
// call. Download failures and empty URLs map to a placeholder derived from
// fallbackKey. The error is non-nil only when the local filesystem fails.
func (c *Cache) Resolve(ctx context.Context, site, rawURL, baseURL, fallbackKey string) (Result, error) {
	siteDir := SiteDir(site)
	logger := c.logger.With().Str("site", siteDir).Logger()

	if strings.TrimSpace(rawURL) == "" {
		return c.placeholderFor(siteDir, fallbackKey)
	}

	source, err := NormalizeURL(rawURL, baseURL)
	if err != nil {
		logger.Warn().Err(err).Str("image_url", rawURL).Msg("unusable image url, using placeholder")
		return c.placeholderFor(siteDir, fallbackKey)
	}
	key := Key(source.String())
	dir := filepath.Join(c.root, siteDir)

	if file, ok := c.existing(dir, key, source.Path); ok {
		metrics.ImageCacheTotal.WithLabelValues("hit").Inc()
		return c.result(siteDir, file, source.String(), false, false), nil
	}

	v, err, _ := c.group.Do(siteDir+"/"+key, func() (any, error) {
		if file, ok := c.existing(dir, key, source.Path); ok {
			return fetchOutcome{file: file}, nil
		}
		file, err := c.download(ctx, dir, key, source)
		return fetchOutcome{file: file, downloaded: true}, err
	})
	if err != nil {
		logger.Warn().Err(err).Str("image_url", source.String()).Msg("image download failed, using placeholder")
		res, perr := c.placeholderFor(siteDir, fallbackKey)
		res.SourceURL = source.String()
		return res, perr
	}
	outcome := v.(fetchOutcome)
	if outcome.downloaded {
		metrics.ImageCacheTotal.WithLabelValues("download").Inc()
	} else {
		metrics.ImageCacheTotal.WithLabelValues("hit").Inc()
	}
	return c.result(siteDir, outcome.file, source.String(), false, outcome.downloaded), nil
}

type fetchOutcome struct {
	file       string
	downloaded bool
}

// NormalizeURL resolves raw against base and reduces it to
// scheme://host/path, dropping query and fragment.
func NormalizeURL(raw, base string) (*url.URL, error) {
	ref, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, fmt.Errorf("parse image url: %w", err)
	}
	if !ref.IsAbs() {
		baseURL, err := url.Parse(strings.TrimSpace(base))
		if err != nil || baseURL.Host == "" {
			if ref.Host == "" {
				return nil, fmt.Errorf("relative image url %q without base", raw)
			}
			baseURL = &url.URL{Scheme: "https"}
		}
		ref = baseURL.ResolveReference(ref)
	}
	scheme := strings.ToLower(ref.Scheme)
	if scheme != "http" && scheme != "https" {
		return nil, fmt.Errorf("unsupported image url scheme %q", ref.Scheme)
	}
	if ref.Host == "" {
		return nil, fmt.Errorf("image url %q has no host", raw)
	}
	return &url.URL{Scheme: scheme, Host: strings.ToLower(ref.Host), Path: ref.Path, RawPath: ref.RawPath}, nil
}

// Key is the hex SHA-256 of a normalized URL.
func Key(normalized string) string {
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}

// SiteDir maps a site identifier to a safe directory name.
func SiteDir(site string) string {
	cleaned := unsafeSegment.ReplaceAllString(strings.ToLower(strings.TrimSpace(site)), "_")
	cleaned = strings.Trim(cleaned, "_")
	if cleaned == "" {
		return "unknown"
	}
	return cleaned
}

// PlaceholderName is the deterministic placeholder file for fallbackKey.
func PlaceholderName(fallbackKey string) string {
	return "placeholder-" + Key(fallbackKey)[:16] + ".png"
}

func extensionFromPath(p string) string {
	ext := strings.ToLower(path.Ext(p))
	if knownExtensions[ext] {
		return ext
	}
	return ""
}

func extensionFromContentType(ct string) string {
	mediaType, _, err := mime.ParseMediaType(ct)
	if err != nil {
		return ""
	}
	return contentTypeExtensions[strings.ToLower(mediaType)]
}

// existing finds a cached file for key. When the URL path carries a known
// extension only that name is checked; otherwise any known extension is
// accepted so extensionless URLs avoid a repeat HEAD probe.
func (c *Cache) existing(dir, key, urlPath string) (string, bool) {
	if ext := extensionFromPath(urlPath); ext != "" {
		file := filepath.Join(dir, key+ext)
		if fileExists(file) {
			return file, true
		}
		return "", false
	}
	matches, err := filepath.Glob(filepath.Join(dir, key+".*"))
	if err != nil {
		return "", false
	}
	for _, m := range matches {
		if knownExtensions[strings.ToLower(filepath.Ext(m))] {
			return m, true
		}
	}
	return "", false
}

func (c *Cache) download(ctx context.Context, dir, key string, source *url.URL) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create image dir: %w", err)
	}

	ext := extensionFromPath(source.Path)
	if ext == "" {
		ext = c.probeExtension(ctx, source)
	}
	target := filepath.Join(dir, key+ext)

	var lastErr error
	attempts := 0
	for attempt := 0; attempt < c.maxAttempts; attempt++ {
		if attempt > 0 {
			delay := c.retryDelay * time.Duration(1<<uint(attempt-1))
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return "", &events.TransientIOError{Op: "image download", URL: source.String(), Attempts: attempts, Err: ctx.Err()}
			}
		}
		attempts++
		start := time.Now()
		err := c.fetchOnce(ctx, source, target)
		if err == nil {
			metrics.ImageDownloadDuration.Observe(time.Since(start).Seconds())
			return target, nil
		}
		lastErr = err
		var perm permanentError
		if errors.As(err, &perm) {
			break
		}
	}
	return "", &events.TransientIOError{Op: "image download", URL: source.String(), Attempts: attempts, Err: lastErr}
}

// permanentError marks responses that retrying cannot fix.
type permanentError struct{ error }

func (c *Cache) fetchOnce(ctx context.Context, source *url.URL, target string) error {
	if err := c.limiter(source.Host).Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, source.String(), nil)
	if err != nil {
		return permanentError{fmt.Errorf("create request: %w", err)}
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.ImageDownloadFailuresTotal.WithLabelValues("network").Inc()
		return fmt.Errorf("http request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		metrics.ImageDownloadFailuresTotal.WithLabelValues("status").Inc()
		err := fmt.Errorf("unexpected status %d", resp.StatusCode)
		if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone {
			return permanentError{err}
		}
		return err
	}

	if resp.ContentLength > c.maxBytes {
		metrics.ImageDownloadFailuresTotal.WithLabelValues("too_large").Inc()
		return permanentError{fmt.Errorf("%w: content length %d", errImageTooLarge, resp.ContentLength)}
	}
	if err := writeAtomic(target, &cappedReader{r: resp.Body, left: c.maxBytes}); err != nil {
		if errors.Is(err, errImageTooLarge) {
			metrics.ImageDownloadFailuresTotal.WithLabelValues("too_large").Inc()
			return permanentError{err}
		}
		metrics.ImageDownloadFailuresTotal.WithLabelValues("write").Inc()
		return err
	}
	return nil
}

var errImageTooLarge = errors.New("image exceeds size limit")

// cappedReader fails once more than left bytes have been read, so a body
// over the limit never lands in the cache truncated.
type cappedReader struct {
	r    io.Reader
	left int64
}

func (c *cappedReader) Read(p []byte) (int, error) {
	if c.left < 0 {
		return 0, errImageTooLarge
	}
	if int64(len(p)) > c.left+1 {
		p = p[:c.left+1]
	}
	n, err := c.r.Read(p)
	c.left -= int64(n)
	if c.left < 0 {
		return n, errImageTooLarge
	}
	return n, err
}

// probeExtension issues a HEAD request and maps Content-Type to an
// extension, defaulting to .jpg.
func (c *Cache) probeExtension(ctx context.Context, source *url.URL) string {
	if err := c.limiter(source.Host).Wait(ctx); err != nil {
		return DefaultExtension
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, source.String(), nil)
	if err != nil {
		return DefaultExtension
	}
	req.Header.Set("User-Agent", userAgent)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return DefaultExtension
	}
	_ = resp.Body.Close()
	if ext := extensionFromContentType(resp.Header.Get("Content-Type")); ext != "" {
		return ext
	}
	return DefaultExtension
}

func (c *Cache) limiter(host string) *rate.Limiter {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.limiters[host]
	if !ok {
		l = rate.NewLimiter(c.perHostRate, 1)
		c.limiters[host] = l
	}
	return l
}

// Placeholder returns the deterministic placeholder for fallbackKey without
// touching the network.
func (c *Cache) Placeholder(site, fallbackKey string) (Result, error) {
	return c.placeholderFor(SiteDir(site), fallbackKey)
}

func (c *Cache) placeholderFor(siteDir, fallbackKey string) (Result, error) {
	if strings.TrimSpace(fallbackKey) == "" {
		fallbackKey = "default"
	}
	dir := filepath.Join(c.root, siteDir)
	file := filepath.Join(dir, PlaceholderName(fallbackKey))
	metrics.ImageCacheTotal.WithLabelValues("placeholder").Inc()
	if fileExists(file) {
		return c.result(siteDir, file, "", true, false), nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Result{}, fmt.Errorf("create image dir: %w", err)
	}
	if err := writeAtomic(file, bytes.NewReader(c.placeholder)); err != nil {
		return Result{}, err
	}
	return c.result(siteDir, file, "", true, false), nil
}

func (c *Cache) result(siteDir, file, source string, placeholder, downloaded bool) Result {
	return Result{
		File:        file,
		PublicURL:   c.publicPrefix + "/" + siteDir + "/" + filepath.Base(file),
		SourceURL:   source,
		Placeholder: placeholder,
		Downloaded:  downloaded,
	}
}

// writeAtomic streams r into a temp file beside target and renames it into
// place so readers never observe a partial image.
func writeAtomic(target string, r io.Reader) error {
	tmp, err := os.CreateTemp(filepath.Dir(target), ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := io.Copy(tmp, r); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("write image: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		cleanup()
		return fmt.Errorf("chmod image: %w", err)
	}
	if err := os.Rename(tmpName, target); err != nil {
		cleanup()
		return fmt.Errorf("rename image: %w", err)
	}
	return nil
}

func fileExists(p string) bool {
	info, err := os.Stat(p)
	return err == nil && info.Mode().IsRegular()
}
