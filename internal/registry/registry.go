// Package registry holds the catalogue of external services the vault can
// store credentials for, and the OAuth endpoints of those that support it.
package registry

import (
	"fmt"
	"strings"
	"sync"

	"github.com/avisanghavi/keyvault/internal/common"
	"github.com/avisanghavi/keyvault/internal/interfaces"
	"github.com/avisanghavi/keyvault/internal/models"
)

// Registry is a concurrency-safe in-memory service catalogue seeded with the
// built-in providers and optionally extended from configuration.
type Registry struct {
	mu       sync.RWMutex
	services map[string]*models.ServiceConfig
}

var _ interfaces.ServiceRegistry = (*Registry)(nil)

// builtins returns the provider catalogue the vault ships with.
func builtins() []*models.ServiceConfig {
	return []*models.ServiceConfig{
		{
			ServiceID:    "google",
			DisplayName:  "Google",
			OAuthEnabled: true,
			AuthorizeURL: "https://accounts.google.com/o/oauth2/v2/auth",
			TokenURL:     "https://oauth2.googleapis.com/token",
			Scopes: []string{
				"https://www.googleapis.com/auth/gmail.send",
				"https://www.googleapis.com/auth/gmail.readonly",
			},
			// Google only issues a refresh token with these parameters.
			AuthParams: map[string]string{
				"access_type": "offline",
				"prompt":      "consent",
			},
		},
		{
			ServiceID:    "hubspot",
			DisplayName:  "HubSpot",
			OAuthEnabled: true,
			AuthorizeURL: "https://app.hubspot.com/oauth/authorize",
			TokenURL:     "https://api.hubapi.com/oauth/v1/token",
			Scopes: []string{
				"crm.objects.contacts.read",
				"crm.objects.contacts.write",
			},
		},
		{
			ServiceID:    "linkedin",
			DisplayName:  "LinkedIn",
			OAuthEnabled: true,
			AuthorizeURL: "https://www.linkedin.com/oauth/v2/authorization",
			TokenURL:     "https://www.linkedin.com/oauth/v2/accessToken",
			Scopes: []string{
				"r_liteprofile",
				"w_member_social",
			},
		},
		{
			ServiceID:      "openai",
			DisplayName:    "OpenAI",
			OAuthEnabled:   false,
			RequiredFields: []string{"api_key"},
		},
	}
}

// New builds a registry from the built-in catalogue, merged with config
// overrides and with OAuth client credentials injected per provider.
func New(config *common.Config) (*Registry, error) {
	r := &Registry{services: make(map[string]*models.ServiceConfig)}

	for _, svc := range builtins() {
		r.services[svc.ServiceID] = svc
	}

	if config != nil {
		for _, svc := range config.Services {
			if err := validateService(svc); err != nil {
				return nil, err
			}
			if existing, ok := r.services[svc.ServiceID]; ok {
				merge(existing, svc)
			} else {
				r.services[svc.ServiceID] = svc
			}
		}

		for id, creds := range config.OAuth.Providers {
			svc, ok := r.services[id]
			if !ok {
				continue
			}
			svc.ClientID = creds.ClientID
			svc.ClientSecret = creds.ClientSecret
			if creds.RedirectURI != "" {
				svc.RedirectURI = creds.RedirectURI
			}
		}

		for _, svc := range r.services {
			if svc.OAuthEnabled && svc.RedirectURI == "" {
				svc.RedirectURI = config.OAuth.RedirectURI
			}
		}
	}

	return r, nil
}

// Get returns a copy of the service config, or models.ErrNotFound for
// unknown identifiers.
func (r *Registry) Get(serviceID string) (*models.ServiceConfig, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	svc, ok := r.services[normalize(serviceID)]
	if !ok {
		return nil, fmt.Errorf("unknown service %q: %w", serviceID, models.ErrNotFound)
	}
	return clone(svc), nil
}

// IsOAuth reports whether the service supports the OAuth flow. False for
// unknown services.
func (r *Registry) IsOAuth(serviceID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	svc, ok := r.services[normalize(serviceID)]
	return ok && svc.OAuthEnabled
}

// List returns copies of all registered services, in no particular order.
func (r *Registry) List() []*models.ServiceConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*models.ServiceConfig, 0, len(r.services))
	for _, svc := range r.services {
		out = append(out, clone(svc))
	}
	return out
}

// Update registers or replaces a service definition at runtime.
func (r *Registry) Update(cfg *models.ServiceConfig) error {
	if err := validateService(cfg); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.services[cfg.ServiceID] = clone(cfg)
	return nil
}

func validateService(svc *models.ServiceConfig) error {
	if svc == nil || strings.TrimSpace(svc.ServiceID) == "" {
		return fmt.Errorf("service_id is required: %w", models.ErrValidation)
	}
	svc.ServiceID = normalize(svc.ServiceID)
	if svc.OAuthEnabled {
		if svc.AuthorizeURL == "" || svc.TokenURL == "" {
			return fmt.Errorf("oauth service %q requires authorize_url and token_url: %w",
				svc.ServiceID, models.ErrValidation)
		}
	}
	return nil
}

// merge overlays non-zero override fields onto an existing definition.
func merge(dst, src *models.ServiceConfig) {
	if src.DisplayName != "" {
		dst.DisplayName = src.DisplayName
	}
	if src.AuthorizeURL != "" {
		dst.AuthorizeURL = src.AuthorizeURL
	}
	if src.TokenURL != "" {
		dst.TokenURL = src.TokenURL
	}
	if len(src.Scopes) > 0 {
		dst.Scopes = src.Scopes
	}
	if len(src.AuthParams) > 0 {
		dst.AuthParams = src.AuthParams
	}
	if len(src.RequiredFields) > 0 {
		dst.RequiredFields = src.RequiredFields
	}
	if src.RateLimit.MaxRequests > 0 {
		dst.RateLimit = src.RateLimit
	}
	if src.ClientID != "" {
		dst.ClientID = src.ClientID
	}
	if src.ClientSecret != "" {
		dst.ClientSecret = src.ClientSecret
	}
	if src.RedirectURI != "" {
		dst.RedirectURI = src.RedirectURI
	}
}

func clone(svc *models.ServiceConfig) *models.ServiceConfig {
	cp := *svc
	cp.Scopes = append([]string(nil), svc.Scopes...)
	cp.RequiredFields = append([]string(nil), svc.RequiredFields...)
	if svc.AuthParams != nil {
		cp.AuthParams = make(map[string]string, len(svc.AuthParams))
		for k, v := range svc.AuthParams {
			cp.AuthParams[k] = v
		}
	}
	return &cp
}

func normalize(serviceID string) string {
	return strings.ToLower(strings.TrimSpace(serviceID))
}
