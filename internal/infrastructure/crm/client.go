// Package crm is the adapter for the downstream CRM REST webhook.
//
// Every call is a JSON POST to <webhook>/<method>. A response is either
// {"result": ...} or {"error": ..., "error_description": ...}; the latter is a
// failure even on HTTP 200.
package crm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/crmsync/backend/internal/domain/customer"
	"github.com/crmsync/backend/internal/infrastructure/retry"
)

const maxResponseSize = 10 * 1024 * 1024

// Method names.
const (
	MethodContactList   = "crm.contact.list"
	MethodContactAdd    = "crm.contact.add"
	MethodContactUpdate = "crm.contact.update"
	MethodDealAdd       = "crm.deal.add"
)

// ErrCircuitOpen is returned while the breaker rejects calls.
var ErrCircuitOpen = fmt.Errorf("%w: %w: circuit open", customer.ErrUnavailable, customer.ErrTransientNetwork)

// Response is a decoded CRM response.
type Response struct {
	Result json.RawMessage
}

// Client calls the CRM.
type Client struct {
	cfg        Config
	httpClient *http.Client
	limiter    *rate.Limiter
	breaker    *gobreaker.CircuitBreaker[*Response]
	logger     *zap.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = hc }
}

// NewClient creates a CRM client. cfg is validated and defaulted.
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
		logger:     logger.Named("crm"),
	}
	if cfg.RateLimitSleep > 0 {
		c.limiter = rate.NewLimiter(rate.Every(cfg.RateLimitSleep), 1)
	}
	if cfg.Breaker.Enabled {
		c.breaker = newBreaker(cfg.Breaker, c.logger)
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

var _ customer.CRMGateway = (*Client)(nil)

// Call invokes method with params. Transport failures and 5xx responses are
// retried; error envelopes are returned at once as *APIError.
func (c *Client) Call(ctx context.Context, method string, params any) (*Response, error) {
	body, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("%w: crm: encode %s params: %v", customer.ErrValidation, method, err)
	}

	policy := c.cfg.RetryPolicy()
	policy.OnRetry = func(attempt int, err error, wait time.Duration) {
		c.logger.Warn("CRM call failed, retrying",
			zap.String("method", method),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", policy.MaxAttempts),
			zap.Duration("wait", wait),
			zap.Error(err),
		)
	}

	return retry.Run(ctx, policy, func(ctx context.Context) (*Response, error) {
		resp, err := c.execute(ctx, method, body)
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.HTTPStatus < 500 {
			return nil, retry.Permanent(err)
		}
		return resp, err
	})
}

func (c *Client) execute(ctx context.Context, method string, body []byte) (*Response, error) {
	if c.breaker == nil {
		return c.doRequest(ctx, method, body)
	}
	resp, err := c.breaker.Execute(func() (*Response, error) {
		return c.doRequest(ctx, method, body)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, retry.Permanent(fmt.Errorf("%w: %s: %v", ErrCircuitOpen, method, err))
	}
	return resp, err
}

// ---------------------------------------------------------------------------
// Helper Methods
// ---------------------------------------------------------------------------

func (c *Client) doRequest(ctx context.Context, method string, body []byte) (*Response, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	url := strings.TrimRight(c.cfg.WebhookURL, "/") + "/" + method
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: crm: failed to create request: %v", customer.ErrConfiguration, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// the webhook path carries the secret
		return nil, fmt.Errorf("%w: crm: %s: request failed", customer.ErrTransientNetwork, method)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("%w: crm: failed to read response: %v", customer.ErrTransientNetwork, err)
	}

	var envelope map[string]json.RawMessage
	decodeErr := json.Unmarshal(raw, &envelope)
	if decodeErr != nil {
		envelope = nil
	}

	if resp.StatusCode >= 400 {
		apiErr := &APIError{Method: method, HTTPStatus: resp.StatusCode}
		if envelope != nil {
			apiErr.Code = stringValue(envelope["error"])
			apiErr.Description = stringValue(envelope["error_description"])
		}
		if apiErr.Description == "" {
			apiErr.Description = http.StatusText(resp.StatusCode)
		}
		return nil, apiErr
	}

	if envelope == nil {
		return nil, fmt.Errorf("%w: crm: %s: expected JSON object", customer.ErrMalformedResponse, method)
	}
	if errRaw, ok := envelope["error"]; ok {
		return nil, &APIError{
			Method:      method,
			Code:        stringValue(errRaw),
			Description: stringValue(envelope["error_description"]),
		}
	}
	return &Response{Result: envelope["result"]}, nil
}

// stringValue renders a JSON scalar as text.
func stringValue(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return strings.TrimSpace(string(raw))
}

// ResultID reads an int-like result. Booleans and non-numeric values are
// rejected with a validation error.
func (r *Response) ResultID() (string, error) {
	return intLike(r.Result)
}

func intLike(raw json.RawMessage) (string, error) {
	text := strings.TrimSpace(string(raw))
	if text == "" || text == "null" || text == "true" || text == "false" {
		return "", fmt.Errorf("%w: expected int-like CRM result, got %q", customer.ErrValidation, text)
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		text = strings.TrimSpace(s)
	}
	n, err := strconv.ParseInt(text, 10, 64)
	if err != nil {
		return "", fmt.Errorf("%w: expected int-like CRM result, got %q", customer.ErrValidation, text)
	}
	return strconv.FormatInt(n, 10), nil
}
