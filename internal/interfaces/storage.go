// Package interfaces defines the contracts between keyvault's layers.
package interfaces

import (
	"context"
	"time"

	"github.com/avisanghavi/keyvault/internal/models"
)

// StorageManager owns the backend connection and hands out typed stores.
type StorageManager interface {
	Credentials() CredentialStore
	Audit() AuditStore
	Usage() UsageStore

	Ping(ctx context.Context) error
	Close() error
}

// CredentialStore persists encrypted credentials keyed by (user, service).
// Put replaces any existing row for the same key.
type CredentialStore interface {
	Put(ctx context.Context, cred *models.Credential) error
	Get(ctx context.Context, userID, serviceID string) (*models.Credential, error)
	Delete(ctx context.Context, userID, serviceID string) error
	ListByUser(ctx context.Context, userID string) ([]*models.Credential, error)

	// ListExpiring returns credentials whose expiry falls at or before cutoff.
	ListExpiring(ctx context.Context, cutoff time.Time) ([]*models.Credential, error)
}

// AuditStore is the append-only audit trail.
type AuditStore interface {
	Append(ctx context.Context, event *models.AuditEvent) error
	Query(ctx context.Context, filter models.AuditFilter) ([]*models.AuditEvent, error)

	// Purge removes events older than cutoff and returns the removed count.
	Purge(ctx context.Context, cutoff time.Time) (int, error)
}

// UsageStore tracks per-bucket request counters. Increment is atomic with
// respect to concurrent callers for the same bucket.
type UsageStore interface {
	Increment(ctx context.Context, key models.UsageKey) error
	Get(ctx context.Context, key models.UsageKey) (*models.UsageCounter, error)
	Query(ctx context.Context, filter models.UsageFilter) ([]*models.UsageCounter, error)

	// SumWindow totals counts for (user, service, action) buckets whose hour
	// falls within [from, to]. Used by rolling-window rate limit checks.
	SumWindow(ctx context.Context, userID, serviceID, action string, from, to time.Time) (int64, error)
}
