package source

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/crmsync/backend/internal/domain/customer"
	"github.com/crmsync/backend/internal/infrastructure/retry"
)

const (
	// DefaultPageSize is the page size used when none is configured.
	DefaultPageSize = 500
	// DefaultSafeguardPages bounds the changed-today scans.
	DefaultSafeguardPages = 20
	// DefaultFormat is the response format requested from the users endpoint.
	DefaultFormat = "p"
	// DefaultTimeout is the HTTP request timeout.
	DefaultTimeout = 20 * time.Second
	// DefaultRetries is the number of attempts per page request.
	DefaultRetries = 3
	// DefaultRetryBackoff is the linear backoff unit.
	DefaultRetryBackoff = 1500 * time.Millisecond
)

// Errors for source configuration
var (
	ErrConfigMissingBaseURL  = errors.New("source: base url is required")
	ErrConfigMissingLogin    = errors.New("source: login is required")
	ErrConfigMissingPassword = errors.New("source: password is required")
)

// Config holds configuration for the paginated users endpoint.
type Config struct {
	// BaseURL is the users endpoint, e.g. https://host/cp/users
	BaseURL string
	// Login and Password are sent as query parameters. Password is never logged.
	Login    string
	Password string
	// Format is the value of the format query parameter.
	Format string
	// PageSize is the limit used for every page request.
	PageSize int
	// MaxPages caps a full scan. Zero means unbounded.
	MaxPages int
	// SafeguardPages caps the backward and fallback forward scans.
	SafeguardPages int
	// Timeout is the per-request HTTP timeout.
	Timeout time.Duration
	// Retries is the number of attempts per request.
	Retries int
	// RetryBackoff is the linear backoff unit between attempts.
	RetryBackoff time.Duration
	// RateLimitSleep is the minimum pause between two requests.
	RateLimitSleep time.Duration
}

// Validate validates the configuration and applies defaults.
func (c *Config) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("%w: %w", customer.ErrConfiguration, ErrConfigMissingBaseURL)
	}
	if c.Login == "" {
		return fmt.Errorf("%w: %w", customer.ErrConfiguration, ErrConfigMissingLogin)
	}
	if c.Password == "" {
		return fmt.Errorf("%w: %w", customer.ErrConfiguration, ErrConfigMissingPassword)
	}
	if c.Format == "" {
		c.Format = DefaultFormat
	}
	if c.PageSize <= 0 {
		c.PageSize = DefaultPageSize
	}
	if c.MaxPages < 0 {
		c.MaxPages = 0
	}
	if c.SafeguardPages <= 0 {
		c.SafeguardPages = DefaultSafeguardPages
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.Retries <= 0 {
		c.Retries = DefaultRetries
	}
	if c.RetryBackoff < 0 {
		c.RetryBackoff = DefaultRetryBackoff
	}
	if c.RateLimitSleep < 0 {
		c.RateLimitSleep = 0
	}
	return nil
}

// RetryPolicy returns the retry policy for page requests.
func (c *Config) RetryPolicy() retry.Policy {
	return retry.Policy{MaxAttempts: c.Retries, Backoff: c.RetryBackoff}
}

// MaskSecret keeps the first and last two characters of a secret.
func MaskSecret(secret string) string {
	if secret == "" {
		return ""
	}
	if len(secret) <= 4 {
		return strings.Repeat("*", len(secret))
	}
	return secret[:2] + "***" + secret[len(secret)-2:]
}
