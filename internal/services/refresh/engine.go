// Package refresh keeps OAuth access tokens ahead of their expiry.
package refresh

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/avisanghavi/keyvault/internal/common"
	"github.com/avisanghavi/keyvault/internal/crypto"
	"github.com/avisanghavi/keyvault/internal/interfaces"
	"github.com/avisanghavi/keyvault/internal/models"
)

// Engine implements interfaces.TokenRefresher. A token is refreshed once its
// expiry falls within the configured margin; transient provider failures are
// retried with exponential backoff and, if still failing, parked on a bounded
// retry queue for the background drain.
type Engine struct {
	registry interfaces.ServiceRegistry
	client   interfaces.ProviderClient
	storage  interfaces.StorageManager
	cipher   *crypto.Cipher
	logger   *common.Logger

	margin      time.Duration
	maxAttempts int
	backoffBase time.Duration
	backoffCap  time.Duration
	now         func() time.Time
	sleep       func(ctx context.Context, d time.Duration) error

	queue *retryQueue
}

var _ interfaces.TokenRefresher = (*Engine)(nil)

// Options configures an Engine. Zero values fall back to defaults.
type Options struct {
	Margin      time.Duration
	MaxAttempts int
	BackoffBase time.Duration
	BackoffCap  time.Duration
	QueueSize   int
	Now         func() time.Time                               // test hook
	Sleep       func(ctx context.Context, d time.Duration) error // test hook
}

// NewEngine wires the refresh engine.
func NewEngine(
	registry interfaces.ServiceRegistry,
	client interfaces.ProviderClient,
	storage interfaces.StorageManager,
	cipher *crypto.Cipher,
	logger *common.Logger,
	opts Options,
) *Engine {
	if opts.Margin <= 0 {
		opts.Margin = 5 * time.Minute
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.BackoffBase <= 0 {
		opts.BackoffBase = 500 * time.Millisecond
	}
	if opts.BackoffCap <= 0 {
		opts.BackoffCap = 5 * time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Sleep == nil {
		opts.Sleep = func(ctx context.Context, d time.Duration) error {
			timer := time.NewTimer(d)
			defer timer.Stop()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-timer.C:
				return nil
			}
		}
	}
	return &Engine{
		registry:    registry,
		client:      client,
		storage:     storage,
		cipher:      cipher,
		logger:      logger,
		margin:      opts.Margin,
		maxAttempts: opts.MaxAttempts,
		backoffBase: opts.BackoffBase,
		backoffCap:  opts.BackoffCap,
		now:         opts.Now,
		sleep:       opts.Sleep,
		queue:       newRetryQueue(opts.QueueSize),
	}
}

// EnsureFresh decrypts the credential and refreshes it first when its expiry
// is inside the margin. With autoRefresh false a near-expiry or expired token
// is returned as stored; re-running the flow is then the caller's call.
func (e *Engine) EnsureFresh(ctx context.Context, cred *models.Credential, autoRefresh bool) (*models.DecryptedCredential, error) {
	secret, err := e.decrypt(cred)
	if err != nil {
		return nil, err
	}

	now := e.now().UTC()
	if cred.Kind != models.KindOAuth || !cred.ExpiresWithin(now, e.margin) {
		return decrypted(cred, secret), nil
	}

	if !autoRefresh {
		return decrypted(cred, secret), nil
	}

	if secret.RefreshToken == "" {
		if cred.IsExpired(now) {
			return nil, fmt.Errorf("token for %s/%s expired and no refresh token available: %w",
				cred.UserID, cred.ServiceID, models.ErrRefreshFailed)
		}
		e.logger.Warn().
			Str("user_id", cred.UserID).
			Str("service_id", cred.ServiceID).
			Msg("Token near expiry but no refresh token available")
		return decrypted(cred, secret), nil
	}

	updated, err := e.refreshWithRetries(ctx, cred, secret)
	if err != nil {
		// The caller gets the failure immediately; the queued pair is
		// retried by the background drain.
		e.audit(ctx, cred.UserID, cred.ServiceID, false, err.Error())
		e.enqueue(cred)
		return nil, err
	}
	return updated, nil
}

// refreshWithRetries runs the provider refresh up to maxAttempts times and
// persists the new token on success.
func (e *Engine) refreshWithRetries(ctx context.Context, cred *models.Credential, secret *models.SecretPayload) (*models.DecryptedCredential, error) {
	svc, err := e.registry.Get(cred.ServiceID)
	if err != nil {
		return nil, err
	}

	var lastErr error
	for attempt := 1; attempt <= e.maxAttempts; attempt++ {
		token, err := e.client.RefreshToken(ctx, svc, secret.RefreshToken)
		if err == nil {
			return e.store(ctx, cred, secret, token)
		}
		lastErr = err
		e.logger.Debug().Err(err).
			Str("user_id", cred.UserID).
			Str("service_id", cred.ServiceID).
			Int("attempt", attempt).
			Msg("Token refresh attempt failed")

		if attempt < e.maxAttempts {
			if err := e.sleep(ctx, e.backoff(attempt)); err != nil {
				return nil, err
			}
		}
	}
	return nil, fmt.Errorf("refresh for %s/%s failed after %d attempts: %w: %w",
		cred.UserID, cred.ServiceID, e.maxAttempts, lastErr, models.ErrRefreshFailed)
}

// store seals the refreshed payload and replaces the stored credential.
// Providers that omit a refresh token on refresh keep the previous one.
func (e *Engine) store(ctx context.Context, cred *models.Credential, old *models.SecretPayload, token *models.TokenResponse) (*models.DecryptedCredential, error) {
	payload := models.SecretPayload{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		Scope:        token.Scope,
		TokenType:    token.TokenType,
		Metadata:     old.Metadata,
	}
	if payload.RefreshToken == "" {
		payload.RefreshToken = old.RefreshToken
	}
	if payload.Scope == "" {
		payload.Scope = old.Scope
	}
	if payload.TokenType == "" {
		payload.TokenType = old.TokenType
	}

	plaintext, err := json.Marshal(&payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal refreshed payload: %w", err)
	}
	sealed, err := e.cipher.Encrypt(plaintext)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt refreshed payload: %w", err)
	}

	cred.EncryptedPayload = sealed
	cred.ExpiresAt = token.ExpiryAt(e.now().UTC())
	if err := e.storage.Credentials().Put(ctx, cred); err != nil {
		return nil, fmt.Errorf("failed to store refreshed credential: %w", err)
	}

	e.audit(ctx, cred.UserID, cred.ServiceID, true, "")
	key := models.UsageKeyAt(cred.UserID, cred.ServiceID, models.ActionRefreshToken, e.now().UTC())
	if err := e.storage.Usage().Increment(ctx, key); err != nil {
		e.logger.Warn().Err(err).Msg("Failed to record refresh usage")
	}
	e.logger.Info().
		Str("user_id", cred.UserID).
		Str("service_id", cred.ServiceID).
		Msg("Token refreshed")

	return decrypted(cred, &payload), nil
}

// Drain retries every queued refresh once. Called periodically by the
// application scheduler.
func (e *Engine) Drain(ctx context.Context) {
	for _, k := range e.queue.PopAll() {
		cred, err := e.storage.Credentials().Get(ctx, k.UserID, k.ServiceID)
		if err != nil {
			// Revoked since it was queued; nothing to do.
			continue
		}
		if _, err := e.EnsureFresh(ctx, cred, true); err != nil {
			e.logger.Warn().Err(err).
				Str("user_id", k.UserID).
				Str("service_id", k.ServiceID).
				Msg("Queued refresh retry failed")
		}
	}
}

// SweepExpiring proactively refreshes every stored credential whose expiry
// falls inside the margin, so tokens stay fresh without read traffic.
func (e *Engine) SweepExpiring(ctx context.Context) {
	cutoff := e.now().UTC().Add(e.margin)
	creds, err := e.storage.Credentials().ListExpiring(ctx, cutoff)
	if err != nil {
		e.logger.Warn().Err(err).Msg("Expiring-credential scan failed")
		return
	}
	for _, cred := range creds {
		if _, err := e.EnsureFresh(ctx, cred, true); err != nil {
			e.logger.Warn().Err(err).
				Str("user_id", cred.UserID).
				Str("service_id", cred.ServiceID).
				Msg("Proactive refresh failed")
		}
	}
}

// QueueLen reports the retry backlog, for health reporting.
func (e *Engine) QueueLen() int {
	return e.queue.Len()
}

func (e *Engine) enqueue(cred *models.Credential) {
	if e.queue.Push(key{UserID: cred.UserID, ServiceID: cred.ServiceID}) {
		e.logger.Debug().
			Str("user_id", cred.UserID).
			Str("service_id", cred.ServiceID).
			Msg("Refresh queued for retry")
	}
}

func (e *Engine) decrypt(cred *models.Credential) (*models.SecretPayload, error) {
	plaintext, err := e.cipher.Decrypt(cred.EncryptedPayload)
	if err != nil {
		return nil, fmt.Errorf("credential for %s/%s: %w", cred.UserID, cred.ServiceID, err)
	}
	var payload models.SecretPayload
	if err := json.Unmarshal(plaintext, &payload); err != nil {
		return nil, fmt.Errorf("credential payload for %s/%s is malformed: %w",
			cred.UserID, cred.ServiceID, models.ErrDecryptionFailed)
	}
	return &payload, nil
}

func (e *Engine) audit(ctx context.Context, userID, serviceID string, success bool, errMsg string) {
	event := &models.AuditEvent{
		UserID:    userID,
		Action:    models.ActionRefreshToken,
		ServiceID: serviceID,
		Success:   success,
		Error:     errMsg,
		Timestamp: e.now().UTC(),
	}
	if err := e.storage.Audit().Append(ctx, event); err != nil {
		e.logger.Warn().Err(err).Msg("Failed to record refresh audit event")
	}
}

func (e *Engine) backoff(attempt int) time.Duration {
	d := e.backoffBase << (attempt - 1)
	if d > e.backoffCap {
		return e.backoffCap
	}
	return d
}

func decrypted(cred *models.Credential, secret *models.SecretPayload) *models.DecryptedCredential {
	return &models.DecryptedCredential{
		UserID:    cred.UserID,
		ServiceID: cred.ServiceID,
		Kind:      cred.Kind,
		Secret:    *secret,
		ExpiresAt: cred.ExpiresAt,
		UpdatedAt: cred.UpdatedAt,
	}
}
