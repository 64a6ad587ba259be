// Package provider implements the OAuth token-endpoint client shared by all
// registered providers.
package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/avisanghavi/keyvault/internal/common"
	"github.com/avisanghavi/keyvault/internal/interfaces"
	"github.com/avisanghavi/keyvault/internal/models"
)

const (
	DefaultTimeout   = 10 * time.Second
	DefaultRateLimit = 10 // requests per second
)

// Client posts authorization-code and refresh grants to provider token URLs.
type Client struct {
	httpClient *http.Client
	logger     *common.Logger
	limiter    *rate.Limiter
}

// ClientOption configures the client
type ClientOption func(*Client)

// WithLogger sets the logger
func WithLogger(logger *common.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithRateLimit sets the rate limit
func WithRateLimit(requestsPerSecond int) ClientOption {
	return func(c *Client) {
		c.limiter = rate.NewLimiter(rate.Limit(requestsPerSecond), requestsPerSecond)
	}
}

// WithTimeout sets the HTTP timeout
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		c.httpClient.Timeout = timeout
	}
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// NewClient creates a new provider client
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
		limiter: rate.NewLimiter(rate.Limit(DefaultRateLimit), DefaultRateLimit),
		logger:  common.NewSilentLogger(),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// APIError represents a provider token-endpoint error
type APIError struct {
	StatusCode int
	Message    string
	Endpoint   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("provider API error: %s (status: %d, endpoint: %s)", e.Message, e.StatusCode, e.Endpoint)
}

// Unwrap maps all provider errors onto the vault error taxonomy.
func (e *APIError) Unwrap() error {
	return models.ErrProviderFailure
}

// ExchangeCode swaps an authorization code for tokens.
func (c *Client) ExchangeCode(ctx context.Context, svc *models.ServiceConfig, code string) (*models.TokenResponse, error) {
	form := url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {code},
		"client_id":     {svc.ClientID},
		"client_secret": {svc.ClientSecret},
		"redirect_uri":  {svc.RedirectURI},
	}
	return c.post(ctx, svc, form)
}

// RefreshToken exchanges a refresh token for a fresh access token.
func (c *Client) RefreshToken(ctx context.Context, svc *models.ServiceConfig, refreshToken string) (*models.TokenResponse, error) {
	form := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {refreshToken},
		"client_id":     {svc.ClientID},
		"client_secret": {svc.ClientSecret},
	}
	return c.post(ctx, svc, form)
}

// post performs a rate-limited form POST against the service's token URL.
func (c *Client) post(ctx context.Context, svc *models.ServiceConfig, form url.Values) (*models.TokenResponse, error) {
	if svc.TokenURL == "" {
		return nil, fmt.Errorf("service %s has no token URL: %w", svc.ServiceID, models.ErrValidation)
	}

	// Wait for rate limiter
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, svc.TokenURL,
		strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	c.logger.Debug().
		Str("service_id", svc.ServiceID).
		Str("grant_type", form.Get("grant_type")).
		Msg("Provider token request")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("token request failed: %w: %w", err, models.ErrProviderFailure)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return nil, &APIError{
			StatusCode: resp.StatusCode,
			Message:    truncate(string(body), 512),
			Endpoint:   svc.TokenURL,
		}
	}

	var token models.TokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&token); err != nil {
		return nil, fmt.Errorf("failed to decode token response: %w: %w", err, models.ErrProviderFailure)
	}
	if token.AccessToken == "" {
		return nil, fmt.Errorf("token response missing access_token: %w", models.ErrProviderFailure)
	}
	return &token, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// Compile-time check
var _ interfaces.ProviderClient = (*Client)(nil)
