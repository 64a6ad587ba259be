package refresh

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avisanghavi/keyvault/internal/common"
	"github.com/avisanghavi/keyvault/internal/crypto"
	"github.com/avisanghavi/keyvault/internal/interfaces"
	"github.com/avisanghavi/keyvault/internal/models"
	"github.com/avisanghavi/keyvault/internal/registry"
	"github.com/avisanghavi/keyvault/internal/storage/badger"
)

// scriptedProvider fails a set number of refresh calls before succeeding.
type scriptedProvider struct {
	failures int
	calls    int
	token    *models.TokenResponse
}

func (s *scriptedProvider) ExchangeCode(_ context.Context, _ *models.ServiceConfig, _ string) (*models.TokenResponse, error) {
	return nil, fmt.Errorf("not used: %w", models.ErrProviderFailure)
}

func (s *scriptedProvider) RefreshToken(_ context.Context, _ *models.ServiceConfig, _ string) (*models.TokenResponse, error) {
	s.calls++
	if s.calls <= s.failures {
		return nil, fmt.Errorf("upstream 503: %w", models.ErrProviderFailure)
	}
	return s.token, nil
}

var _ interfaces.ProviderClient = (*scriptedProvider)(nil)

type engineFixture struct {
	engine   *Engine
	storage  interfaces.StorageManager
	cipher   *crypto.Cipher
	provider *scriptedProvider
	now      time.Time
	sleeps   []time.Duration
}

func newEngineFixture(t *testing.T, failures int) *engineFixture {
	t.Helper()

	logger := common.NewSilentLogger()
	manager, err := badger.NewManager(logger, filepath.Join(t.TempDir(), "badger"))
	require.NoError(t, err)
	t.Cleanup(func() { manager.Close() })

	cipherKey, err := crypto.GenerateKey()
	require.NoError(t, err)
	cipher, err := crypto.NewCipher([][]byte{cipherKey})
	require.NoError(t, err)

	config := common.NewDefaultConfig()
	config.OAuth.Providers = map[string]common.ProviderCredentials{
		"google": {ClientID: "cid", ClientSecret: "cs"},
	}
	reg, err := registry.New(config)
	require.NoError(t, err)

	fx := &engineFixture{
		storage: manager,
		cipher:  cipher,
		provider: &scriptedProvider{
			failures: failures,
			token: &models.TokenResponse{
				AccessToken: "at-new",
				TokenType:   "Bearer",
				ExpiresIn:   3600,
			},
		},
		now: time.Now(),
	}
	fx.engine = NewEngine(reg, fx.provider, manager, cipher, logger, Options{
		Margin:      5 * time.Minute,
		MaxAttempts: 3,
		BackoffBase: 500 * time.Millisecond,
		BackoffCap:  5 * time.Second,
		QueueSize:   4,
		Now:         func() time.Time { return fx.now },
		Sleep: func(_ context.Context, d time.Duration) error {
			fx.sleeps = append(fx.sleeps, d)
			return nil
		},
	})
	return fx
}

// seed seals a payload and stores an oauth credential expiring at exp.
func (fx *engineFixture) seed(t *testing.T, userID string, payload models.SecretPayload, exp *time.Time) *models.Credential {
	t.Helper()
	plaintext, err := json.Marshal(&payload)
	require.NoError(t, err)
	sealed, err := fx.cipher.Encrypt(plaintext)
	require.NoError(t, err)

	cred := &models.Credential{
		UserID:           userID,
		ServiceID:        "google",
		Kind:             models.KindOAuth,
		EncryptedPayload: sealed,
		ExpiresAt:        exp,
	}
	require.NoError(t, fx.storage.Credentials().Put(context.Background(), cred))
	return cred
}

func timePtr(t time.Time) *time.Time { return &t }

func TestEnsureFreshOutsideMargin(t *testing.T) {
	fx := newEngineFixture(t, 0)
	exp := fx.now.UTC().Add(2 * time.Hour)
	cred := fx.seed(t, "alice", models.SecretPayload{AccessToken: "at-old", RefreshToken: "rt"}, &exp)

	got, err := fx.engine.EnsureFresh(context.Background(), cred, true)
	require.NoError(t, err)
	assert.Equal(t, "at-old", got.Secret.AccessToken)
	assert.Zero(t, fx.provider.calls, "no refresh expected outside margin")
}

func TestEnsureFreshAPIKeyPassthrough(t *testing.T) {
	fx := newEngineFixture(t, 0)

	plaintext, err := json.Marshal(&models.SecretPayload{APIKey: "sk-123"})
	require.NoError(t, err)
	sealed, err := fx.cipher.Encrypt(plaintext)
	require.NoError(t, err)
	cred := &models.Credential{
		UserID:           "alice",
		ServiceID:        "openai",
		Kind:             models.KindAPIKey,
		EncryptedPayload: sealed,
	}
	require.NoError(t, fx.storage.Credentials().Put(context.Background(), cred))

	got, err := fx.engine.EnsureFresh(context.Background(), cred, true)
	require.NoError(t, err)
	assert.Equal(t, "sk-123", got.Secret.APIKey)
	assert.Zero(t, fx.provider.calls)
}

func TestEnsureFreshRefreshesWithinMargin(t *testing.T) {
	fx := newEngineFixture(t, 0)
	ctx := context.Background()
	exp := fx.now.UTC().Add(2 * time.Minute)
	cred := fx.seed(t, "alice", models.SecretPayload{
		AccessToken:  "at-old",
		RefreshToken: "rt-keep",
		Metadata:     map[string]string{"provider": "google"},
	}, &exp)

	got, err := fx.engine.EnsureFresh(ctx, cred, true)
	require.NoError(t, err)
	assert.Equal(t, "at-new", got.Secret.AccessToken)
	assert.Equal(t, "rt-keep", got.Secret.RefreshToken, "refresh token must survive when provider omits it")
	assert.Equal(t, "google", got.Secret.Metadata["provider"])
	require.NotNil(t, got.ExpiresAt)
	assert.Equal(t, fx.now.UTC().Add(time.Hour).Unix(), got.ExpiresAt.Unix())

	// Persisted credential carries the new sealed payload.
	stored, err := fx.storage.Credentials().Get(ctx, "alice", "google")
	require.NoError(t, err)
	plaintext, err := fx.cipher.Decrypt(stored.EncryptedPayload)
	require.NoError(t, err)
	var payload models.SecretPayload
	require.NoError(t, json.Unmarshal(plaintext, &payload))
	assert.Equal(t, "at-new", payload.AccessToken)

	// Success is audited.
	events, err := fx.storage.Audit().Query(ctx, models.AuditFilter{Action: models.ActionRefreshToken})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.True(t, events[0].Success)
}

func TestEnsureFreshWithoutAutoRefreshServesStale(t *testing.T) {
	fx := newEngineFixture(t, 0)
	exp := fx.now.UTC().Add(-time.Minute)
	cred := fx.seed(t, "alice", models.SecretPayload{AccessToken: "at-old", RefreshToken: "rt"}, &exp)

	got, err := fx.engine.EnsureFresh(context.Background(), cred, false)
	require.NoError(t, err)
	assert.Equal(t, "at-old", got.Secret.AccessToken, "stale token returned unchanged")
	assert.Zero(t, fx.provider.calls)
	assert.Zero(t, fx.engine.QueueLen())
}

func TestEnsureFreshRetriesWithBackoff(t *testing.T) {
	fx := newEngineFixture(t, 2) // two transient failures, then success
	exp := fx.now.UTC().Add(time.Minute)
	cred := fx.seed(t, "alice", models.SecretPayload{AccessToken: "at-old", RefreshToken: "rt"}, &exp)

	got, err := fx.engine.EnsureFresh(context.Background(), cred, true)
	require.NoError(t, err)
	assert.Equal(t, "at-new", got.Secret.AccessToken)
	assert.Equal(t, 3, fx.provider.calls)
	assert.Equal(t, []time.Duration{500 * time.Millisecond, time.Second}, fx.sleeps)
}

func TestEnsureFreshFailsAfterRetryBudget(t *testing.T) {
	fx := newEngineFixture(t, 99) // never succeeds
	exp := fx.now.UTC().Add(2 * time.Minute)
	cred := fx.seed(t, "alice", models.SecretPayload{AccessToken: "at-old", RefreshToken: "rt"}, &exp)

	_, err := fx.engine.EnsureFresh(context.Background(), cred, true)
	assert.ErrorIs(t, err, models.ErrRefreshFailed)
	assert.Equal(t, 3, fx.provider.calls, "retry budget respected")
	assert.Equal(t, 1, fx.engine.QueueLen(), "failed refresh should be queued")

	// A second failed attempt must not queue the pair twice.
	fx.provider.calls = 0
	_, err = fx.engine.EnsureFresh(context.Background(), cred, true)
	assert.ErrorIs(t, err, models.ErrRefreshFailed)
	assert.Equal(t, 1, fx.engine.QueueLen())
}

func TestEnsureFreshFailsWhenExpired(t *testing.T) {
	fx := newEngineFixture(t, 99)
	exp := fx.now.UTC().Add(-time.Minute)
	cred := fx.seed(t, "alice", models.SecretPayload{AccessToken: "at-old", RefreshToken: "rt"}, &exp)

	_, err := fx.engine.EnsureFresh(context.Background(), cred, true)
	assert.ErrorIs(t, err, models.ErrRefreshFailed)

	// Failure is audited.
	events, qerr := fx.storage.Audit().Query(context.Background(), models.AuditFilter{Action: models.ActionRefreshToken})
	require.NoError(t, qerr)
	require.Len(t, events, 1)
	assert.False(t, events[0].Success)
}

func TestEnsureFreshExpiredWithoutRefreshToken(t *testing.T) {
	fx := newEngineFixture(t, 0)
	exp := fx.now.UTC().Add(-time.Minute)
	cred := fx.seed(t, "alice", models.SecretPayload{AccessToken: "at-old"}, &exp)

	_, err := fx.engine.EnsureFresh(context.Background(), cred, true)
	assert.ErrorIs(t, err, models.ErrRefreshFailed)
	assert.Zero(t, fx.provider.calls)
}

func TestEnsureFreshDecryptionFailure(t *testing.T) {
	fx := newEngineFixture(t, 0)
	exp := fx.now.UTC().Add(time.Hour)
	cred := &models.Credential{
		UserID:           "alice",
		ServiceID:        "google",
		Kind:             models.KindOAuth,
		EncryptedPayload: []byte("garbage-ciphertext-not-sealed"),
		ExpiresAt:        &exp,
	}
	require.NoError(t, fx.storage.Credentials().Put(context.Background(), cred))

	_, err := fx.engine.EnsureFresh(context.Background(), cred, true)
	assert.ErrorIs(t, err, models.ErrDecryptionFailed)
}

func TestDrainRetriesQueuedRefreshes(t *testing.T) {
	fx := newEngineFixture(t, 3) // exhausts the first EnsureFresh budget exactly
	ctx := context.Background()
	exp := fx.now.UTC().Add(2 * time.Minute)
	cred := fx.seed(t, "alice", models.SecretPayload{AccessToken: "at-old", RefreshToken: "rt"}, &exp)

	_, err := fx.engine.EnsureFresh(ctx, cred, true)
	require.ErrorIs(t, err, models.ErrRefreshFailed)
	require.Equal(t, 1, fx.engine.QueueLen())

	// Provider has recovered; the drain should succeed and empty the queue.
	fx.engine.Drain(ctx)
	assert.Zero(t, fx.engine.QueueLen())

	stored, err := fx.storage.Credentials().Get(ctx, "alice", "google")
	require.NoError(t, err)
	plaintext, err := fx.cipher.Decrypt(stored.EncryptedPayload)
	require.NoError(t, err)
	var payload models.SecretPayload
	require.NoError(t, json.Unmarshal(plaintext, &payload))
	assert.Equal(t, "at-new", payload.AccessToken)
}

func TestDrainSkipsRevokedCredentials(t *testing.T) {
	fx := newEngineFixture(t, 99)
	ctx := context.Background()
	exp := fx.now.UTC().Add(2 * time.Minute)
	cred := fx.seed(t, "alice", models.SecretPayload{AccessToken: "at", RefreshToken: "rt"}, &exp)

	_, err := fx.engine.EnsureFresh(ctx, cred, true)
	require.ErrorIs(t, err, models.ErrRefreshFailed)
	require.Equal(t, 1, fx.engine.QueueLen())

	require.NoError(t, fx.storage.Credentials().Delete(ctx, "alice", "google"))
	fx.engine.Drain(ctx) // must not panic or re-queue
	assert.Zero(t, fx.engine.QueueLen())
}

func TestSweepExpiring(t *testing.T) {
	fx := newEngineFixture(t, 0)
	ctx := context.Background()

	fx.seed(t, "near", models.SecretPayload{AccessToken: "at", RefreshToken: "rt"},
		timePtr(fx.now.UTC().Add(2*time.Minute)))
	fx.seed(t, "far", models.SecretPayload{AccessToken: "at", RefreshToken: "rt"},
		timePtr(fx.now.UTC().Add(3*time.Hour)))

	fx.engine.SweepExpiring(ctx)
	assert.Equal(t, 1, fx.provider.calls, "only the near-expiry credential should refresh")

	stored, err := fx.storage.Credentials().Get(ctx, "near", "google")
	require.NoError(t, err)
	require.NotNil(t, stored.ExpiresAt)
	assert.Equal(t, fx.now.UTC().Add(time.Hour).Unix(), stored.ExpiresAt.Unix())
}

func TestRetryQueueBoundsAndDedup(t *testing.T) {
	q := newRetryQueue(2)

	assert.True(t, q.Push(key{"a", "google"}))
	assert.False(t, q.Push(key{"a", "google"}), "duplicate must be rejected")
	assert.True(t, q.Push(key{"b", "google"}))
	assert.False(t, q.Push(key{"c", "google"}), "queue is full")
	assert.Equal(t, 2, q.Len())

	items := q.PopAll()
	require.Len(t, items, 2)
	assert.Equal(t, key{"a", "google"}, items[0])
	assert.Zero(t, q.Len())

	// Reusable after drain.
	assert.True(t, q.Push(key{"c", "google"}))
}
