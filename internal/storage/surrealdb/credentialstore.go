package surrealdb

import (
	"context"
	"fmt"
	"time"

	"github.com/surrealdb/surrealdb.go"
	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"

	"github.com/avisanghavi/keyvault/internal/common"
	"github.com/avisanghavi/keyvault/internal/models"
)

type CredentialStore struct {
	db     *surrealdb.DB
	logger *common.Logger
}

func NewCredentialStore(db *surrealdb.DB, logger *common.Logger) *CredentialStore {
	return &CredentialStore{
		db:     db,
		logger: logger,
	}
}

// credentialID format: credential:<userID>_<serviceID>
func credentialID(userID, serviceID string) string {
	return userID + "_" + serviceID
}

func (s *CredentialStore) Put(ctx context.Context, cred *models.Credential) error {
	now := time.Now().UTC()
	cred.UpdatedAt = now
	if cred.CreatedAt.IsZero() {
		cred.CreatedAt = now
	}

	sql := "UPSERT $rid CONTENT $cred"
	vars := map[string]any{
		"rid":  surrealmodels.NewRecordID("credential", credentialID(cred.UserID, cred.ServiceID)),
		"cred": cred,
	}

	var lastErr error
	for attempt := 1; attempt <= 3; attempt++ {
		_, err := surrealdb.Query[[]models.Credential](ctx, s.db, sql, vars)
		if err == nil {
			s.logger.Debug().
				Str("user_id", cred.UserID).
				Str("service_id", cred.ServiceID).
				Str("kind", string(cred.Kind)).
				Msg("Credential saved")
			return nil
		}
		lastErr = err
	}
	return fmt.Errorf("failed to put credential after retries: %w", lastErr)
}

func (s *CredentialStore) Get(ctx context.Context, userID, serviceID string) (*models.Credential, error) {
	rid := surrealmodels.NewRecordID("credential", credentialID(userID, serviceID))
	cred, err := surrealdb.Select[models.Credential](ctx, s.db, rid)
	if err != nil {
		if isNotFoundError(err) {
			return nil, fmt.Errorf("credential for %s/%s: %w", userID, serviceID, models.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to select credential: %w", err)
	}
	if cred == nil || cred.UserID == "" {
		return nil, fmt.Errorf("credential for %s/%s: %w", userID, serviceID, models.ErrNotFound)
	}
	return cred, nil
}

func (s *CredentialStore) Delete(ctx context.Context, userID, serviceID string) error {
	rid := surrealmodels.NewRecordID("credential", credentialID(userID, serviceID))

	// Select first so a missing row is reported to the caller.
	existing, err := surrealdb.Select[models.Credential](ctx, s.db, rid)
	if err != nil && !isNotFoundError(err) {
		return fmt.Errorf("failed to check credential: %w", err)
	}
	if existing == nil || existing.UserID == "" {
		return fmt.Errorf("credential for %s/%s: %w", userID, serviceID, models.ErrNotFound)
	}

	if _, err := surrealdb.Delete[models.Credential](ctx, s.db, rid); err != nil && !isNotFoundError(err) {
		return fmt.Errorf("failed to delete credential: %w", err)
	}
	s.logger.Debug().Str("user_id", userID).Str("service_id", serviceID).Msg("Credential deleted")
	return nil
}

func (s *CredentialStore) ListByUser(ctx context.Context, userID string) ([]*models.Credential, error) {
	sql := "SELECT * FROM credential WHERE user_id = $user_id"
	vars := map[string]any{"user_id": userID}

	results, err := surrealdb.Query[[]models.Credential](ctx, s.db, sql, vars)
	if err != nil {
		return nil, fmt.Errorf("failed to list credentials: %w", err)
	}

	if results != nil && len(*results) > 0 {
		var mapped []*models.Credential
		for i := range (*results)[0].Result {
			mapped = append(mapped, &(*results)[0].Result[i])
		}
		return mapped, nil
	}
	return nil, nil
}

func (s *CredentialStore) ListExpiring(ctx context.Context, cutoff time.Time) ([]*models.Credential, error) {
	sql := "SELECT * FROM credential WHERE kind = $kind"
	vars := map[string]any{"kind": string(models.KindOAuth)}

	results, err := surrealdb.Query[[]models.Credential](ctx, s.db, sql, vars)
	if err != nil {
		return nil, fmt.Errorf("failed to scan oauth credentials: %w", err)
	}

	var out []*models.Credential
	if results != nil && len(*results) > 0 {
		for i := range (*results)[0].Result {
			c := &(*results)[0].Result[i]
			if c.ExpiresAt != nil && !c.ExpiresAt.After(cutoff) {
				out = append(out, c)
			}
		}
	}
	return out, nil
}

func (s *CredentialStore) Close() error {
	return nil
}
