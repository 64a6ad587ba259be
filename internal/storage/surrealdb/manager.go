// Package surrealdb provides SurrealDB-backed storage for the vault, used
// when multiple replicas need to share one credential store.
package surrealdb

import (
	"context"
	"fmt"
	"strings"

	"github.com/surrealdb/surrealdb.go"

	"github.com/avisanghavi/keyvault/internal/common"
	"github.com/avisanghavi/keyvault/internal/interfaces"
)

// Manager implements interfaces.StorageManager using SurrealDB.
type Manager struct {
	db     *surrealdb.DB
	logger *common.Logger

	credentialStore *CredentialStore
	auditStore      *AuditStore
	usageStore      *UsageStore
}

// NewManager creates a new StorageManager connected to SurrealDB.
func NewManager(logger *common.Logger, config *common.Config) (*Manager, error) {
	ctx := context.Background()

	db, err := surrealdb.New(config.Storage.Address)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to SurrealDB: %w", err)
	}

	if _, err := db.SignIn(ctx, map[string]interface{}{
		"user": config.Storage.Username,
		"pass": config.Storage.Password,
	}); err != nil {
		return nil, fmt.Errorf("failed to sign in to SurrealDB: %w", err)
	}

	if err := db.Use(ctx, config.Storage.Namespace, config.Storage.Database); err != nil {
		return nil, fmt.Errorf("failed to select namespace/database: %w", err)
	}

	m, err := newManagerWithDB(db, logger)
	if err != nil {
		return nil, err
	}

	logger.Info().
		Str("address", config.Storage.Address).
		Str("namespace", config.Storage.Namespace).
		Str("database", config.Storage.Database).
		Msg("SurrealDB storage manager initialized")

	return m, nil
}

// newManagerWithDB wires stores onto an already-connected session.
func newManagerWithDB(db *surrealdb.DB, logger *common.Logger) (*Manager, error) {
	ctx := context.Background()

	// Define tables up front (SurrealDB v3 errors on querying non-existent tables)
	tables := []string{"credential", "audit_event", "usage_counter"}
	for _, table := range tables {
		sql := fmt.Sprintf("DEFINE TABLE IF NOT EXISTS %s SCHEMALESS", table)
		if _, err := surrealdb.Query[any](ctx, db, sql, nil); err != nil {
			return nil, fmt.Errorf("failed to define table %s: %w", table, err)
		}
	}

	m := &Manager{
		db:     db,
		logger: logger,
	}
	m.credentialStore = NewCredentialStore(db, logger)
	m.auditStore = NewAuditStore(db, logger)
	m.usageStore = NewUsageStore(db, logger)
	return m, nil
}

func (m *Manager) Credentials() interfaces.CredentialStore {
	return m.credentialStore
}

func (m *Manager) Audit() interfaces.AuditStore {
	return m.auditStore
}

func (m *Manager) Usage() interfaces.UsageStore {
	return m.usageStore
}

// Ping verifies the session can still run queries.
func (m *Manager) Ping(ctx context.Context) error {
	if _, err := surrealdb.Query[any](ctx, m.db, "RETURN 1", nil); err != nil {
		return fmt.Errorf("surrealdb ping failed: %w", err)
	}
	return nil
}

func (m *Manager) Close() error {
	m.db.Close(context.Background())
	return nil
}

// isNotFoundError matches SurrealDB's record-not-found responses.
func isNotFoundError(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "not found")
}

// Compile-time check
var _ interfaces.StorageManager = (*Manager)(nil)
