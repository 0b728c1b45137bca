package crm

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/crmsync/backend/internal/domain/customer"
	"github.com/crmsync/backend/internal/infrastructure/retry"
)

const (
	// DefaultTimeout is the HTTP request timeout.
	DefaultTimeout = 20 * time.Second
	// DefaultRetries is the number of attempts per call.
	DefaultRetries = 3
	// DefaultBreakerThreshold is the number of consecutive failures that opens the breaker.
	DefaultBreakerThreshold = 5
	// DefaultBreakerTimeout is how long the breaker stays open.
	DefaultBreakerTimeout = 60 * time.Second
	// DefaultContactTaxIDField is the contact custom field holding the tax id.
	DefaultContactTaxIDField = "UF_CRM_1759218031"
)

// Errors for CRM configuration
var (
	ErrConfigMissingWebhook = errors.New("crm: webhook url is required")
	ErrConfigInvalidWebhook = errors.New("crm: webhook url is invalid")
)

// BreakerConfig configures the circuit breaker around CRM calls.
type BreakerConfig struct {
	Enabled          bool
	FailureThreshold uint32
	Timeout          time.Duration
}

// Config holds configuration for the CRM REST webhook.
type Config struct {
	// WebhookURL is the base endpoint; method names are appended to it.
	WebhookURL string
	// ContactTaxIDField is the contact custom field for a valid tax id.
	ContactTaxIDField string
	Timeout           time.Duration
	Retries           int
	RetryBackoff      time.Duration
	// RateLimitSleep is the minimum pause between two calls.
	RateLimitSleep time.Duration
	Breaker        BreakerConfig
}

// Validate validates the configuration and applies defaults.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.WebhookURL) == "" {
		return fmt.Errorf("%w: %w", customer.ErrConfiguration, ErrConfigMissingWebhook)
	}
	u, err := url.Parse(c.WebhookURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("%w: %w", customer.ErrConfiguration, ErrConfigInvalidWebhook)
	}
	if c.ContactTaxIDField == "" {
		c.ContactTaxIDField = DefaultContactTaxIDField
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.Retries <= 0 {
		c.Retries = DefaultRetries
	}
	if c.RetryBackoff < 0 {
		c.RetryBackoff = 0
	}
	if c.RateLimitSleep < 0 {
		c.RateLimitSleep = 0
	}
	if c.Breaker.FailureThreshold == 0 {
		c.Breaker.FailureThreshold = DefaultBreakerThreshold
	}
	if c.Breaker.Timeout <= 0 {
		c.Breaker.Timeout = DefaultBreakerTimeout
	}
	return nil
}

// RetryPolicy returns the retry policy for CRM calls.
func (c *Config) RetryPolicy() retry.Policy {
	return retry.Policy{MaxAttempts: c.Retries, Backoff: c.RetryBackoff}
}

// DescribeWebhook renders the webhook without its secret path segments,
// e.g. "https://example.bitrix24.ru/rest/*/* (segments=3)".
func DescribeWebhook(webhook string) string {
	u, err := url.Parse(strings.TrimSpace(webhook))
	if err != nil || u.Host == "" {
		return "<invalid>"
	}
	segments := 0
	for _, s := range strings.Split(u.Path, "/") {
		if s != "" {
			segments++
		}
	}
	return fmt.Sprintf("%s://%s/rest/*/* (segments=%d)", u.Scheme, u.Host, segments)
}
