// Package badger provides BadgerHold-based embedded storage for the vault.
package badger

import (
	"context"
	"fmt"
	"os"

	"github.com/timshannon/badgerhold/v4"

	"github.com/avisanghavi/keyvault/internal/common"
	"github.com/avisanghavi/keyvault/internal/interfaces"
)

// Store wraps a BadgerHold database connection.
type Store struct {
	db     *badgerhold.Store
	logger *common.Logger
}

// NewStore creates a new BadgerHold store at the given directory path.
func NewStore(logger *common.Logger, path string) (*Store, error) {
	if err := os.MkdirAll(path, 0755); err != nil {
		return nil, fmt.Errorf("failed to create badger directory %s: %w", path, err)
	}

	options := badgerhold.DefaultOptions
	options.Dir = path
	options.ValueDir = path
	options.Logger = nil // Disable default badger logger

	db, err := badgerhold.Open(options)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger database: %w", err)
	}

	logger.Debug().Str("path", path).Msg("BadgerHold store opened")

	return &Store{
		db:     db,
		logger: logger,
	}, nil
}

// DB returns the underlying badgerhold store.
func (s *Store) DB() *badgerhold.Store {
	return s.db
}

// Close closes the BadgerHold database.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Manager implements interfaces.StorageManager on the embedded store.
type Manager struct {
	store       *Store
	logger      *common.Logger
	credentials *credentialStorage
	audit       *auditStorage
	usage       *usageStorage
}

// NewManager opens the embedded database and wires up the typed stores.
func NewManager(logger *common.Logger, path string) (*Manager, error) {
	store, err := NewStore(logger, path)
	if err != nil {
		return nil, err
	}

	m := &Manager{
		store:       store,
		logger:      logger,
		credentials: NewCredentialStorage(store, logger),
		audit:       NewAuditStorage(store, logger),
		usage:       NewUsageStorage(store, logger),
	}

	logger.Info().Str("path", path).Msg("Badger storage manager initialized")
	return m, nil
}

func (m *Manager) Credentials() interfaces.CredentialStore {
	return m.credentials
}

func (m *Manager) Audit() interfaces.AuditStore {
	return m.audit
}

func (m *Manager) Usage() interfaces.UsageStore {
	return m.usage
}

// Ping reports readiness. The embedded store is ready once opened.
func (m *Manager) Ping(_ context.Context) error {
	if m.store == nil || m.store.db == nil {
		return fmt.Errorf("badger store not open")
	}
	return nil
}

func (m *Manager) Close() error {
	return m.store.Close()
}

// Compile-time check
var _ interfaces.StorageManager = (*Manager)(nil)
