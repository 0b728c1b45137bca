// Package source reads customer records from the paginated users endpoint.
package source

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/crmsync/backend/internal/domain/customer"
	"github.com/crmsync/backend/internal/infrastructure/retry"
)

const maxResponseSize = 50 * 1024 * 1024

var errMissingCount = fmt.Errorf("%w: count missing from count response", customer.ErrMalformedResponse)

// Page is one page of the users endpoint.
type Page struct {
	Items []customer.ExternalRecord
	// Count is the total record count when the endpoint reports it.
	Count *int64
}

// PageFetcher fetches a single page.
type PageFetcher interface {
	FetchPage(ctx context.Context, skip, limit int) (*Page, error)
}

// Client calls the users endpoint.
type Client struct {
	cfg        Config
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *zap.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = hc }
}

// NewClient creates a source client. cfg is validated and defaulted.
func NewClient(cfg Config, logger *zap.Logger, opts ...ClientOption) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger.Named("source"),
	}
	if cfg.RateLimitSleep > 0 {
		c.limiter = rate.NewLimiter(rate.Every(cfg.RateLimitSleep), 1)
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Config returns the effective configuration.
func (c *Client) Config() Config {
	return c.cfg
}

// FetchPage fetches one page, retrying transient and malformed responses.
func (c *Client) FetchPage(ctx context.Context, skip, limit int) (*Page, error) {
	policy := c.cfg.RetryPolicy()
	policy.OnRetry = func(attempt int, err error, wait time.Duration) {
		c.logger.Warn("Page request failed, retrying",
			zap.Int("skip", skip),
			zap.Int("limit", limit),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", policy.MaxAttempts),
			zap.Duration("wait", wait),
			zap.Error(err),
		)
	}

	page, err := retry.Run(ctx, policy, func(ctx context.Context) (*Page, error) {
		body, err := c.doRequest(ctx, skip, limit)
		if err != nil {
			return nil, err
		}
		return decodePage(body)
	})
	if err != nil {
		return nil, err
	}

	c.logger.Debug("Page fetched",
		zap.Int("skip", skip),
		zap.Int("limit", limit),
		zap.Int("items", len(page.Items)),
	)
	return page, nil
}

// CountRecords asks for the total record count with a zero-limit request.
func CountRecords(ctx context.Context, f PageFetcher) (int64, error) {
	page, err := f.FetchPage(ctx, 0, 0)
	if err != nil {
		return 0, err
	}
	if page.Count == nil {
		return 0, errMissingCount
	}
	return *page.Count, nil
}

// ---------------------------------------------------------------------------
// Helper Methods
// ---------------------------------------------------------------------------

func (c *Client) doRequest(ctx context.Context, skip, limit int) ([]byte, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	params := url.Values{}
	params.Set("userlogin", c.cfg.Login)
	params.Set("userpsw", c.cfg.Password)
	params.Set("limit", strconv.Itoa(limit))
	params.Set("skip", strconv.Itoa(skip))
	params.Set("format", c.cfg.Format)

	reqURL := c.cfg.BaseURL
	if strings.Contains(reqURL, "?") {
		reqURL += "&" + params.Encode()
	} else {
		reqURL += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: source: failed to create request: %v", customer.ErrConfiguration, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", customer.ErrTransientNetwork, redact(err.Error(), c.cfg.Password))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("%w: source: failed to read response: %v", customer.ErrTransientNetwork, err)
	}

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("%w: source: HTTP %d", customer.ErrTransientNetwork, resp.StatusCode)
	}
	return body, nil
}

func decodePage(body []byte) (*Page, error) {
	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(body, &envelope); err != nil || envelope == nil {
		return nil, fmt.Errorf("%w: source: expected JSON object, got %s", customer.ErrMalformedResponse, shape(body))
	}

	page := &Page{}
	if raw, ok := envelope["items"]; ok && !isNull(raw) {
		items, err := customer.DecodeRecords(raw)
		if err != nil {
			return nil, fmt.Errorf("source: items: %w", err)
		}
		page.Items = items
	}
	if raw, ok := envelope["count"]; ok && !isNull(raw) {
		count, err := parseCount(raw)
		if err != nil {
			return nil, err
		}
		page.Count = &count
	}
	return page, nil
}

func parseCount(raw json.RawMessage) (int64, error) {
	text := strings.Trim(strings.TrimSpace(string(raw)), `"`)
	n, err := strconv.ParseInt(text, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: source: count is not an integer: %s", customer.ErrMalformedResponse, shape(raw))
	}
	return n, nil
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

// shape describes a payload for logs without dumping it.
func shape(body []byte) string {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return "empty body"
	}
	kind := "scalar"
	switch trimmed[0] {
	case '[':
		kind = "array"
	case '{':
		kind = "object"
	case '<':
		kind = "html"
	case '"':
		kind = "string"
	}
	return fmt.Sprintf("%s (%d bytes)", kind, len(trimmed))
}

func redact(s, secret string) string {
	if secret == "" {
		return s
	}
	s = strings.ReplaceAll(s, url.QueryEscape(secret), "***")
	return strings.ReplaceAll(s, secret, "***")
}
