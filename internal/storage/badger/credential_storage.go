package badger

import (
	"context"
	"fmt"
	"time"

	"github.com/timshannon/badgerhold/v4"

	"github.com/avisanghavi/keyvault/internal/common"
	"github.com/avisanghavi/keyvault/internal/models"
)

type credentialStorage struct {
	store  *Store
	logger *common.Logger
}

// NewCredentialStorage creates a CredentialStore backed by BadgerHold.
func NewCredentialStorage(store *Store, logger *common.Logger) *credentialStorage {
	return &credentialStorage{store: store, logger: logger}
}

// credentialKey builds the composite key for one (user, service) pair.
func credentialKey(userID, serviceID string) string {
	return userID + "\x00" + serviceID
}

func (s *credentialStorage) Put(_ context.Context, cred *models.Credential) error {
	now := time.Now().UTC()
	cred.UpdatedAt = now
	if cred.CreatedAt.IsZero() {
		cred.CreatedAt = now
	}

	key := credentialKey(cred.UserID, cred.ServiceID)
	if err := s.store.db.Upsert(key, cred); err != nil {
		return fmt.Errorf("failed to save credential: %w", err)
	}
	s.logger.Debug().
		Str("user_id", cred.UserID).
		Str("service_id", cred.ServiceID).
		Str("kind", string(cred.Kind)).
		Msg("Credential saved")
	return nil
}

func (s *credentialStorage) Get(_ context.Context, userID, serviceID string) (*models.Credential, error) {
	var cred models.Credential
	err := s.store.db.Get(credentialKey(userID, serviceID), &cred)
	if err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, fmt.Errorf("credential for %s/%s: %w", userID, serviceID, models.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get credential for %s/%s: %w", userID, serviceID, err)
	}
	return &cred, nil
}

func (s *credentialStorage) Delete(_ context.Context, userID, serviceID string) error {
	err := s.store.db.Delete(credentialKey(userID, serviceID), models.Credential{})
	if err != nil {
		if err == badgerhold.ErrNotFound {
			return fmt.Errorf("credential for %s/%s: %w", userID, serviceID, models.ErrNotFound)
		}
		return fmt.Errorf("failed to delete credential for %s/%s: %w", userID, serviceID, err)
	}
	s.logger.Debug().Str("user_id", userID).Str("service_id", serviceID).Msg("Credential deleted")
	return nil
}

func (s *credentialStorage) ListByUser(_ context.Context, userID string) ([]*models.Credential, error) {
	var creds []models.Credential
	if err := s.store.db.Find(&creds, badgerhold.Where("UserID").Eq(userID)); err != nil {
		return nil, fmt.Errorf("failed to list credentials for %s: %w", userID, err)
	}
	out := make([]*models.Credential, len(creds))
	for i := range creds {
		out[i] = &creds[i]
	}
	return out, nil
}

func (s *credentialStorage) ListExpiring(_ context.Context, cutoff time.Time) ([]*models.Credential, error) {
	var creds []models.Credential
	if err := s.store.db.Find(&creds, badgerhold.Where("Kind").Eq(models.KindOAuth)); err != nil {
		return nil, fmt.Errorf("failed to scan oauth credentials: %w", err)
	}
	var out []*models.Credential
	for i := range creds {
		c := &creds[i]
		if c.ExpiresAt != nil && !c.ExpiresAt.After(cutoff) {
			out = append(out, c)
		}
	}
	return out, nil
}
