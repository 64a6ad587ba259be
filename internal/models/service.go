package models

// RateLimitPolicy caps requests per user over a rolling window.
// A zero MaxRequests disables the check.
type RateLimitPolicy struct {
	MaxRequests int `json:"max_requests" toml:"max_requests"`
	WindowHours int `json:"window_hours" toml:"window_hours"`
}

// ServiceConfig is the registry's per-service metadata. Immutable at runtime
// except through the registry's administrative update.
type ServiceConfig struct {
	ServiceID      string            `json:"service_id" toml:"service_id"`
	DisplayName    string            `json:"display_name" toml:"display_name"`
	OAuthEnabled   bool              `json:"oauth_enabled" toml:"oauth_enabled"`
	AuthorizeURL   string            `json:"authorize_url,omitempty" toml:"authorize_url"`
	TokenURL       string            `json:"token_url,omitempty" toml:"token_url"`
	Scopes         []string          `json:"scopes,omitempty" toml:"scopes"`
	AuthParams     map[string]string `json:"auth_params,omitempty" toml:"auth_params"` // extra authorize-URL query params
	RequiredFields []string          `json:"required_fields,omitempty" toml:"required_fields"`
	RateLimit      RateLimitPolicy   `json:"rate_limit" toml:"rate_limit"`

	// OAuth client credentials, injected from config at startup.
	// Never serialized into API responses.
	ClientID     string `json:"-" toml:"client_id"`
	ClientSecret string `json:"-" toml:"client_secret"`
	RedirectURI  string `json:"-" toml:"redirect_uri"`
}
