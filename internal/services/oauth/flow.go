// Package oauth drives the authorization-code flow: signed state tokens out,
// provider callbacks in, sealed credentials written to storage.
package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/avisanghavi/keyvault/internal/common"
	"github.com/avisanghavi/keyvault/internal/crypto"
	"github.com/avisanghavi/keyvault/internal/interfaces"
	"github.com/avisanghavi/keyvault/internal/models"
)

// stateClaims is the payload of a signed state token. The nonce makes every
// state single-use even before expiry.
type stateClaims struct {
	UserID    string `json:"uid"`
	ServiceID string `json:"svc"`
	Nonce     string `json:"nonce"`
	jwt.RegisteredClaims
}

// Flow implements interfaces.OAuthFlow.
type Flow struct {
	registry interfaces.ServiceRegistry
	client   interfaces.ProviderClient
	storage  interfaces.StorageManager
	cipher   *crypto.Cipher
	logger   *common.Logger

	stateSecret []byte
	stateTTL    time.Duration
	now         func() time.Time

	// consumed holds nonces of redeemed states until their natural expiry.
	mu       sync.Mutex
	consumed map[string]time.Time
}

var _ interfaces.OAuthFlow = (*Flow)(nil)

// Options configures a Flow.
type Options struct {
	StateSecret []byte
	StateTTL    time.Duration
	Now         func() time.Time // test hook
}

// NewFlow wires the flow controller.
func NewFlow(
	registry interfaces.ServiceRegistry,
	client interfaces.ProviderClient,
	storage interfaces.StorageManager,
	cipher *crypto.Cipher,
	logger *common.Logger,
	opts Options,
) (*Flow, error) {
	if len(opts.StateSecret) == 0 {
		return nil, fmt.Errorf("oauth flow requires a state secret")
	}
	if opts.StateTTL <= 0 {
		opts.StateTTL = 10 * time.Minute
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Flow{
		registry:    registry,
		client:      client,
		storage:     storage,
		cipher:      cipher,
		logger:      logger,
		stateSecret: opts.StateSecret,
		stateTTL:    opts.StateTTL,
		now:         opts.Now,
		consumed:    make(map[string]time.Time),
	}, nil
}

// Initiate mints a signed state and builds the provider authorization URL.
func (f *Flow) Initiate(ctx context.Context, userID, serviceID string) (*models.OAuthInitiation, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, fmt.Errorf("user id is required: %w", models.ErrValidation)
	}

	svc, err := f.registry.Get(serviceID)
	if err != nil {
		return nil, err
	}
	if !svc.OAuthEnabled {
		return nil, fmt.Errorf("service %s does not support oauth: %w", svc.ServiceID, models.ErrValidation)
	}
	if svc.ClientID == "" {
		return nil, fmt.Errorf("service %s has no oauth client configured: %w", svc.ServiceID, models.ErrValidation)
	}

	now := f.now().UTC()
	expiresAt := now.Add(f.stateTTL)
	claims := stateClaims{
		UserID:    userID,
		ServiceID: svc.ServiceID,
		Nonce:     uuid.NewString(),
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	state, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(f.stateSecret)
	if err != nil {
		return nil, fmt.Errorf("failed to sign state: %w", err)
	}

	query := url.Values{
		"client_id":     {svc.ClientID},
		"redirect_uri":  {svc.RedirectURI},
		"response_type": {"code"},
		"state":         {state},
	}
	if len(svc.Scopes) > 0 {
		query.Set("scope", strings.Join(svc.Scopes, " "))
	}
	for k, v := range svc.AuthParams {
		query.Set(k, v)
	}

	authorizeURL := svc.AuthorizeURL
	if strings.Contains(authorizeURL, "?") {
		authorizeURL += "&" + query.Encode()
	} else {
		authorizeURL += "?" + query.Encode()
	}

	f.audit(ctx, userID, svc.ServiceID, models.ActionOAuthInitiate, true, "")
	f.logger.Info().
		Str("user_id", userID).
		Str("service_id", svc.ServiceID).
		Time("state_expires", expiresAt).
		Msg("OAuth flow initiated")

	return &models.OAuthInitiation{
		AuthorizeURL: authorizeURL,
		State:        state,
		ExpiresAt:    expiresAt,
	}, nil
}

// HandleCallback verifies the returned state, exchanges the code, and stores
// the sealed tokens. Each state is accepted at most once.
func (f *Flow) HandleCallback(ctx context.Context, code, state string) (*models.CallbackResult, error) {
	if code == "" || state == "" {
		return nil, fmt.Errorf("code and state are required: %w", models.ErrValidation)
	}

	claims, err := f.verifyState(state)
	if err != nil {
		f.audit(ctx, "", "", models.ActionOAuthCallback, false, err.Error())
		return nil, err
	}

	if err := f.consumeNonce(claims.Nonce, claims.ExpiresAt.Time); err != nil {
		f.audit(ctx, claims.UserID, claims.ServiceID, models.ActionOAuthCallback, false, err.Error())
		return nil, err
	}

	svc, err := f.registry.Get(claims.ServiceID)
	if err != nil {
		f.audit(ctx, claims.UserID, claims.ServiceID, models.ActionOAuthCallback, false, err.Error())
		return nil, err
	}

	token, err := f.client.ExchangeCode(ctx, svc, code)
	if err != nil {
		f.audit(ctx, claims.UserID, claims.ServiceID, models.ActionOAuthCallback, false, err.Error())
		return nil, fmt.Errorf("code exchange with %s failed: %w", svc.ServiceID, err)
	}

	payload := models.SecretPayload{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		Scope:        token.Scope,
		TokenType:    token.TokenType,
		Metadata:     map[string]string{"provider": svc.ServiceID},
	}
	plaintext, err := json.Marshal(&payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal token payload: %w", err)
	}
	sealed, err := f.cipher.Encrypt(plaintext)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt token payload: %w", err)
	}

	expiresAt := token.ExpiryAt(f.now().UTC())
	cred := &models.Credential{
		UserID:           claims.UserID,
		ServiceID:        svc.ServiceID,
		Kind:             models.KindOAuth,
		EncryptedPayload: sealed,
		ExpiresAt:        expiresAt,
	}
	if err := f.storage.Credentials().Put(ctx, cred); err != nil {
		f.audit(ctx, claims.UserID, svc.ServiceID, models.ActionOAuthCallback, false, err.Error())
		return nil, fmt.Errorf("failed to store oauth credential: %w", err)
	}

	f.audit(ctx, claims.UserID, svc.ServiceID, models.ActionOAuthCallback, true, "")
	f.logger.Info().
		Str("user_id", claims.UserID).
		Str("service_id", svc.ServiceID).
		Msg("OAuth tokens stored")

	return &models.CallbackResult{
		UserID:    claims.UserID,
		ServiceID: svc.ServiceID,
		ExpiresAt: expiresAt,
	}, nil
}

// verifyState checks signature, algorithm, and expiry of a state token.
func (f *Flow) verifyState(state string) (*stateClaims, error) {
	var claims stateClaims
	token, err := jwt.ParseWithClaims(state, &claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return f.stateSecret, nil
	}, jwt.WithTimeFunc(f.now), jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("state expired: %w", models.ErrValidation)
		}
		return nil, fmt.Errorf("invalid state: %w", models.ErrValidation)
	}
	if !token.Valid || claims.Nonce == "" || claims.UserID == "" || claims.ServiceID == "" {
		return nil, fmt.Errorf("invalid state: %w", models.ErrValidation)
	}
	return &claims, nil
}

// consumeNonce marks a state nonce as used. Already-used nonces are replays.
func (f *Flow) consumeNonce(nonce string, expiry time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	now := f.now().UTC()
	for n, exp := range f.consumed {
		if exp.Before(now) {
			delete(f.consumed, n)
		}
	}

	if _, used := f.consumed[nonce]; used {
		return fmt.Errorf("state already used: %w", models.ErrValidation)
	}
	f.consumed[nonce] = expiry
	return nil
}

func (f *Flow) audit(ctx context.Context, userID, serviceID, action string, success bool, errMsg string) {
	event := &models.AuditEvent{
		UserID:    userID,
		Action:    action,
		ServiceID: serviceID,
		Success:   success,
		Error:     errMsg,
		Timestamp: f.now().UTC(),
	}
	if err := f.storage.Audit().Append(ctx, event); err != nil {
		f.logger.Warn().Err(err).Str("action", action).Msg("Failed to record audit event")
	}
}
