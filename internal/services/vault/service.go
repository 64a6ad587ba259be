// Package vault is the facade every caller goes through: registry checks,
// rate limits, encryption, auditing, and usage accounting in one place.
package vault

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/avisanghavi/keyvault/internal/common"
	"github.com/avisanghavi/keyvault/internal/crypto"
	"github.com/avisanghavi/keyvault/internal/interfaces"
	"github.com/avisanghavi/keyvault/internal/models"
)

// Service implements interfaces.VaultService.
type Service struct {
	registry  interfaces.ServiceRegistry
	storage   interfaces.StorageManager
	cipher    *crypto.Cipher
	flow      interfaces.OAuthFlow
	refresher interfaces.TokenRefresher
	logger    *common.Logger
	now       func() time.Time
}

var _ interfaces.VaultService = (*Service)(nil)

// NewService wires the vault facade.
func NewService(
	registry interfaces.ServiceRegistry,
	storage interfaces.StorageManager,
	cipher *crypto.Cipher,
	flow interfaces.OAuthFlow,
	refresher interfaces.TokenRefresher,
	logger *common.Logger,
) *Service {
	return &Service{
		registry:  registry,
		storage:   storage,
		cipher:    cipher,
		flow:      flow,
		refresher: refresher,
		logger:    logger,
		now:       time.Now,
	}
}

// StoreAPIKey seals and stores a static API key for a registered service,
// replacing any previous credential for the same (user, service).
func (s *Service) StoreAPIKey(ctx context.Context, userID, serviceID, apiKey string, metadata map[string]string) error {
	if strings.TrimSpace(userID) == "" {
		return fmt.Errorf("user id is required: %w", models.ErrValidation)
	}
	if strings.TrimSpace(apiKey) == "" {
		return fmt.Errorf("api key is required: %w", models.ErrValidation)
	}

	svc, err := s.registry.Get(serviceID)
	if err != nil {
		return err
	}
	if svc.OAuthEnabled {
		return fmt.Errorf("service %q uses the oauth flow, not api keys: %w",
			svc.ServiceID, models.ErrValidation)
	}

	payload := models.SecretPayload{APIKey: apiKey, Metadata: metadata}
	plaintext, err := json.Marshal(&payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}
	sealed, err := s.cipher.Encrypt(plaintext)
	if err != nil {
		return fmt.Errorf("failed to encrypt payload: %w", err)
	}

	cred := &models.Credential{
		UserID:           userID,
		ServiceID:        svc.ServiceID,
		Kind:             models.KindAPIKey,
		EncryptedPayload: sealed,
	}
	if err := s.storage.Credentials().Put(ctx, cred); err != nil {
		s.audit(ctx, userID, svc.ServiceID, models.ActionStoreCredential, false, err.Error())
		return fmt.Errorf("failed to store credential: %w", err)
	}

	s.audit(ctx, userID, svc.ServiceID, models.ActionStoreCredential, true, "")
	s.countUsage(ctx, userID, svc.ServiceID, models.ActionStoreCredential)
	s.logger.Info().
		Str("user_id", userID).
		Str("service_id", svc.ServiceID).
		Msg("API key stored")
	return nil
}

// GetCredentials returns the decrypted credential, transparently refreshing
// near-expiry OAuth tokens when autoRefresh is set. Reads are rate limited
// per the service policy.
func (s *Service) GetCredentials(ctx context.Context, userID, serviceID string, autoRefresh bool) (*models.DecryptedCredential, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, fmt.Errorf("user id is required: %w", models.ErrValidation)
	}

	svc, err := s.registry.Get(serviceID)
	if err != nil {
		return nil, err
	}

	if err := s.checkRateLimit(ctx, userID, svc); err != nil {
		s.audit(ctx, userID, svc.ServiceID, models.ActionGetCredential, false, err.Error())
		return nil, err
	}

	cred, err := s.storage.Credentials().Get(ctx, userID, svc.ServiceID)
	if err != nil {
		s.audit(ctx, userID, svc.ServiceID, models.ActionGetCredential, false, err.Error())
		return nil, err
	}

	dec, err := s.refresher.EnsureFresh(ctx, cred, autoRefresh)
	if err != nil {
		s.audit(ctx, userID, svc.ServiceID, models.ActionGetCredential, false, err.Error())
		return nil, err
	}

	s.audit(ctx, userID, svc.ServiceID, models.ActionGetCredential, true, "")
	s.countUsage(ctx, userID, svc.ServiceID, models.ActionGetCredential)
	return dec, nil
}

// InitiateOAuth starts the authorization flow for an OAuth-enabled service.
func (s *Service) InitiateOAuth(ctx context.Context, userID, serviceID string) (*models.OAuthInitiation, error) {
	return s.flow.Initiate(ctx, userID, serviceID)
}

// HandleOAuthCallback completes the authorization flow.
func (s *Service) HandleOAuthCallback(ctx context.Context, code, state string) (*models.CallbackResult, error) {
	result, err := s.flow.HandleCallback(ctx, code, state)
	if err != nil {
		return nil, err
	}
	s.countUsage(ctx, result.UserID, result.ServiceID, models.ActionOAuthCallback)
	return result, nil
}

// Revoke deletes the stored credential for (user, service). Revoking a
// credential that does not exist is still a success, and still audited.
func (s *Service) Revoke(ctx context.Context, userID, serviceID string) error {
	if strings.TrimSpace(userID) == "" {
		return fmt.Errorf("user id is required: %w", models.ErrValidation)
	}

	svc, err := s.registry.Get(serviceID)
	if err != nil {
		return err
	}

	existed := true
	if err := s.storage.Credentials().Delete(ctx, userID, svc.ServiceID); err != nil {
		if !errors.Is(err, models.ErrNotFound) {
			s.audit(ctx, userID, svc.ServiceID, models.ActionRevoke, false, err.Error())
			return err
		}
		existed = false
	}

	s.audit(ctx, userID, svc.ServiceID, models.ActionRevoke, true, "")
	s.logger.Info().
		Str("user_id", userID).
		Str("service_id", svc.ServiceID).
		Bool("existed", existed).
		Msg("Credential revoked")
	return nil
}

// ListServices returns the user's stored credentials as secret-free summaries.
func (s *Service) ListServices(ctx context.Context, userID string) ([]*models.CredentialSummary, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, fmt.Errorf("user id is required: %w", models.ErrValidation)
	}

	creds, err := s.storage.Credentials().ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	summaries := make([]*models.CredentialSummary, 0, len(creds))
	for _, cred := range creds {
		summary := &models.CredentialSummary{
			ServiceID: cred.ServiceID,
			Kind:      cred.Kind,
			ExpiresAt: cred.ExpiresAt,
			UpdatedAt: cred.UpdatedAt,
			IsExpired: cred.IsExpired(now),
		}
		if svc, err := s.registry.Get(cred.ServiceID); err == nil {
			summary.DisplayName = svc.DisplayName
			summary.OAuthEnabled = svc.OAuthEnabled
		}
		summaries = append(summaries, summary)
	}
	return summaries, nil
}

// GetUsage returns usage counters matching the filter.
func (s *Service) GetUsage(ctx context.Context, filter models.UsageFilter) ([]*models.UsageCounter, error) {
	return s.storage.Usage().Query(ctx, filter)
}

// GetAuditTrail returns audit events matching the filter.
func (s *Service) GetAuditTrail(ctx context.Context, filter models.AuditFilter) ([]*models.AuditEvent, error) {
	return s.storage.Audit().Query(ctx, filter)
}

// checkRateLimit enforces the service's rolling-window read policy.
func (s *Service) checkRateLimit(ctx context.Context, userID string, svc *models.ServiceConfig) error {
	policy := svc.RateLimit
	if policy.MaxRequests <= 0 {
		return nil
	}
	windowHours := policy.WindowHours
	if windowHours <= 0 {
		windowHours = 24
	}

	now := s.now().UTC()
	from := now.Add(-time.Duration(windowHours) * time.Hour)
	total, err := s.storage.Usage().SumWindow(ctx, userID, svc.ServiceID, models.ActionGetCredential, from, now)
	if err != nil {
		// Counting problems should not take reads down.
		s.logger.Warn().Err(err).
			Str("user_id", userID).
			Str("service_id", svc.ServiceID).
			Msg("Rate limit window query failed")
		return nil
	}
	if total >= int64(policy.MaxRequests) {
		return fmt.Errorf("%d requests in %dh window (limit %d): %w",
			total, windowHours, policy.MaxRequests, models.ErrRateLimited)
	}
	return nil
}

func (s *Service) countUsage(ctx context.Context, userID, serviceID, action string) {
	key := models.UsageKeyAt(userID, serviceID, action, s.now().UTC())
	if err := s.storage.Usage().Increment(ctx, key); err != nil {
		s.logger.Warn().Err(err).
			Str("user_id", userID).
			Str("service_id", serviceID).
			Msg("Failed to record usage")
	}
}

func (s *Service) audit(ctx context.Context, userID, serviceID, action string, success bool, errMsg string) {
	event := &models.AuditEvent{
		UserID:    userID,
		Action:    action,
		ServiceID: serviceID,
		Success:   success,
		Error:     errMsg,
		Timestamp: s.now().UTC(),
	}
	if err := s.storage.Audit().Append(ctx, event); err != nil {
		s.logger.Warn().Err(err).Str("action", action).Msg("Failed to record audit event")
	}
}
