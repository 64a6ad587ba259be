package interfaces

import (
	"context"

	"github.com/avisanghavi/keyvault/internal/models"
)

// ServiceRegistry resolves service identifiers to their configuration.
type ServiceRegistry interface {
	Get(serviceID string) (*models.ServiceConfig, error)
	IsOAuth(serviceID string) bool
	List() []*models.ServiceConfig
	Update(cfg *models.ServiceConfig) error
}

// OAuthFlow drives the authorization-code dance with external providers.
type OAuthFlow interface {
	Initiate(ctx context.Context, userID, serviceID string) (*models.OAuthInitiation, error)
	HandleCallback(ctx context.Context, code, state string) (*models.CallbackResult, error)
}

// TokenRefresher keeps OAuth credentials fresh. EnsureFresh decrypts the
// credential and, with autoRefresh, transparently refreshes it when expiry is
// within the configured margin; Drain retries previously failed refreshes.
type TokenRefresher interface {
	EnsureFresh(ctx context.Context, cred *models.Credential, autoRefresh bool) (*models.DecryptedCredential, error)
	Drain(ctx context.Context)
}

// VaultService is the single entry point callers use. Every method records
// an audit event and enforces the service registry.
type VaultService interface {
	StoreAPIKey(ctx context.Context, userID, serviceID, apiKey string, metadata map[string]string) error
	GetCredentials(ctx context.Context, userID, serviceID string, autoRefresh bool) (*models.DecryptedCredential, error)
	InitiateOAuth(ctx context.Context, userID, serviceID string) (*models.OAuthInitiation, error)
	HandleOAuthCallback(ctx context.Context, code, state string) (*models.CallbackResult, error)
	Revoke(ctx context.Context, userID, serviceID string) error
	ListServices(ctx context.Context, userID string) ([]*models.CredentialSummary, error)
	GetUsage(ctx context.Context, filter models.UsageFilter) ([]*models.UsageCounter, error)
	GetAuditTrail(ctx context.Context, filter models.AuditFilter) ([]*models.AuditEvent, error)
}
