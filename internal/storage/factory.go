// Package storage selects the vault's persistence backend.
package storage

import (
	"fmt"

	"github.com/avisanghavi/keyvault/internal/common"
	"github.com/avisanghavi/keyvault/internal/interfaces"
	"github.com/avisanghavi/keyvault/internal/storage/badger"
	"github.com/avisanghavi/keyvault/internal/storage/surrealdb"
)

// Backend type constants.
const (
	BackendBadger    = "badger"
	BackendSurrealDB = "surrealdb"
)

// NewManager creates a storage manager based on the configuration.
// Supported backends: "badger" (default, embedded), "surrealdb".
func NewManager(logger *common.Logger, config *common.Config) (interfaces.StorageManager, error) {
	backend := config.Storage.Backend
	if backend == "" {
		backend = BackendBadger
	}

	switch backend {
	case BackendBadger:
		return badger.NewManager(logger, config.Storage.Path)

	case BackendSurrealDB:
		return surrealdb.NewManager(logger, config)

	default:
		return nil, fmt.Errorf("unknown storage backend: %s (supported: badger, surrealdb)", backend)
	}
}
