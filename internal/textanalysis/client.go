package textanalysis

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/Togather-Foundation/catalog/internal/domain/events"
	"github.com/Togather-Foundation/catalog/internal/metrics"
)

const (
	// DefaultTimeout bounds one request to the completion endpoint.
	DefaultTimeout = 60 * time.Second
	// DefaultRateLimit is requests per second against the endpoint.
	DefaultRateLimit = rate.Limit(2)
	DefaultMaxTokens = 2000
	// MaxRetries for transient errors.
	MaxRetries = 2
	// RetryBaseDelay is the initial backoff delay.
	RetryBaseDelay = 1 * time.Second

	breakerName = "text-analysis"
	maxBodySize = 4 << 20
)

var ErrEmptyPrompt = errors.New("prompt cannot be empty")

// Client calls a chat-completion style text-analysis endpoint.
type Client struct {
	httpClient  *http.Client
	endpoint    string
	apiKey      string
	model       string
	maxTokens   int
	temperature float64
	limiter     *rate.Limiter
	breaker     *gobreaker.CircuitBreaker[string]
	retryDelay  time.Duration
	logger      zerolog.Logger
}

// Option configures a Client.
type Option func(*Client)

func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.httpClient = client
	}
}

func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.httpClient.Timeout = timeout
		}
	}
}

// WithRateLimit sets a custom rate limit (requests per second).
func WithRateLimit(rps float64) Option {
	return func(c *Client) {
		if rps > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(rps), 1)
		}
	}
}

func WithModel(model string) Option {
	return func(c *Client) {
		if model != "" {
			c.model = model
		}
	}
}

func WithMaxTokens(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxTokens = n
		}
	}
}

func WithTemperature(t float64) Option {
	return func(c *Client) {
		c.temperature = t
	}
}

func WithRetryDelay(d time.Duration) Option {
	return func(c *Client) {
		c.retryDelay = d
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// NewClient creates a client for endpoint, authenticating with apiKey as a
// bearer token.
func NewClient(endpoint, apiKey string, opts ...Option) *Client {
	client := &Client{
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
		endpoint:   endpoint,
		apiKey:     apiKey,
		model:      "gpt-4o-mini",
		maxTokens:  DefaultMaxTokens,
		limiter:    rate.NewLimiter(DefaultRateLimit, 1),
		retryDelay: RetryBaseDelay,
		logger:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(client)
	}
	client.breaker = newBreaker(client.logger)
	return client
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type completionRequest struct {
	Model       string    `json:"model"`
	Messages    []message `json:"messages"`
	MaxTokens   int       `json:"max_tokens"`
	Temperature float64   `json:"temperature"`
}

type completionResponse struct {
	Choices []struct {
		Message message `json:"message"`
	} `json:"choices"`
}

// Complete sends prompt as a single user message and returns the text of
// the first choice. Failures that survive the retry budget are reported as
// *events.TransientIOError.
func (c *Client) Complete(ctx context.Context, prompt string) (string, error) {
	if prompt == "" {
		return "", ErrEmptyPrompt
	}
	body, err := json.Marshal(completionRequest{
		Model:       c.model,
		Messages:    []message{{Role: "user", Content: prompt}},
		MaxTokens:   c.maxTokens,
		Temperature: c.temperature,
	})
	if err != nil {
		return "", fmt.Errorf("encode request: %w", err)
	}

	start := time.Now()
	content, err := c.breaker.Execute(func() (string, error) {
		return c.doWithRetry(ctx, body)
	})
	metrics.TextAnalysisLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			metrics.TextAnalysisRequestsTotal.WithLabelValues("rejected").Inc()
			return "", &events.TransientIOError{Op: "text analysis", URL: c.endpoint, Attempts: 0, Err: err}
		}
		metrics.TextAnalysisRequestsTotal.WithLabelValues("failure").Inc()
		return "", err
	}
	metrics.TextAnalysisRequestsTotal.WithLabelValues("success").Inc()
	return content, nil
}

// doWithRetry executes the POST with exponential backoff retry logic.
func (c *Client) doWithRetry(ctx context.Context, body []byte) (string, error) {
	var lastErr error
	attempts := 0

	for attempt := 0; attempt <= MaxRetries; attempt++ {
		if attempt > 0 {
			// Exponential backoff: 1s, 2s, ...
			delay := c.retryDelay * time.Duration(1<<uint(attempt-1))
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}

		if err := c.limiter.Wait(ctx); err != nil {
			return "", fmt.Errorf("rate limiter: %w", err)
		}
		attempts++

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
		if err != nil {
			return "", fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+c.apiKey)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("http request: %w", err)
			continue
		}

		payload, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
		_ = resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("read response: %w", err)
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			lastErr = fmt.Errorf("unexpected status %d", resp.StatusCode)
			continue
		}
		if resp.StatusCode != http.StatusOK {
			return "", fmt.Errorf("text analysis returned status %d: %s", resp.StatusCode, truncate(string(payload), 200))
		}

		var decoded completionResponse
		if err := json.Unmarshal(payload, &decoded); err != nil {
			return "", &events.MalformedResponseError{Raw: truncate(string(payload), 2000), Err: fmt.Errorf("decode envelope: %w", err)}
		}
		if len(decoded.Choices) == 0 {
			return "", &events.MalformedResponseError{Raw: truncate(string(payload), 2000), Err: errors.New("no choices in response")}
		}
		return decoded.Choices[0].Message.Content, nil
	}

	return "", &events.TransientIOError{Op: "text analysis", URL: c.endpoint, Attempts: attempts, Err: lastErr}
}

func newBreaker(logger zerolog.Logger) *gobreaker.CircuitBreaker[string] {
	metrics.CircuitBreakerState.WithLabelValues(breakerName).Set(0)
	return gobreaker.NewCircuitBreaker[string](gobreaker.Settings{
		Name:        breakerName,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		// A malformed reply means the service answered; it must not open the circuit.
		IsSuccessful: func(err error) bool {
			var malformed *events.MalformedResponseError
			return err == nil || errors.As(err, &malformed) || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state change")
			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateValue(to))
			metrics.CircuitBreakerTransitions.WithLabelValues(name, from.String(), to.String()).Inc()
		},
	})
}

func stateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
