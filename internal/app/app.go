// Package app wires configuration, storage, and services into one runnable
// application core shared by the server binary and tests.
package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/avisanghavi/keyvault/internal/clients/provider"
	"github.com/avisanghavi/keyvault/internal/common"
	"github.com/avisanghavi/keyvault/internal/crypto"
	"github.com/avisanghavi/keyvault/internal/interfaces"
	"github.com/avisanghavi/keyvault/internal/registry"
	"github.com/avisanghavi/keyvault/internal/services/oauth"
	"github.com/avisanghavi/keyvault/internal/services/refresh"
	"github.com/avisanghavi/keyvault/internal/services/vault"
	"github.com/avisanghavi/keyvault/internal/storage"
)

// App holds all initialized services and storage.
type App struct {
	Config      *common.Config
	Logger      *common.Logger
	Storage     interfaces.StorageManager
	Registry    interfaces.ServiceRegistry
	Vault       interfaces.VaultService
	Refresher   *refresh.Engine
	StartupTime time.Time

	schedulerCancel context.CancelFunc
}

// getBinaryDir returns the directory containing the executable.
func getBinaryDir() string {
	exe, err := os.Executable()
	if err != nil {
		return "."
	}
	return filepath.Dir(exe)
}

// NewApp initializes storage, the cipher, and all services.
// configPath may be empty, in which case the default resolution logic is used.
func NewApp(configPath string) (*App, error) {
	// Load version from .version file (fallback if ldflags not set)
	common.LoadVersionFromFile()

	binDir := getBinaryDir()

	// Load configuration - check provided path, KEYVAULT_CONFIG, then binary dir, then fallback
	if configPath == "" {
		configPath = os.Getenv("KEYVAULT_CONFIG")
	}
	if configPath == "" {
		configPath = filepath.Join(binDir, "keyvault.toml")
		if _, err := os.Stat(configPath); os.IsNotExist(err) {
			configPath = "config/keyvault.toml" // fallback for development
		}
	}

	config, err := common.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// Resolve relative storage path to binary directory
	if config.Storage.Path != "" && !filepath.IsAbs(config.Storage.Path) {
		config.Storage.Path = filepath.Join(binDir, config.Storage.Path)
	}

	logger := common.NewLogger(config.Logging.Level)

	return NewAppWithConfig(config, logger)
}

// NewAppWithConfig builds the application from an already-loaded config.
func NewAppWithConfig(config *common.Config, logger *common.Logger) (*App, error) {
	startupStart := time.Now()

	keys, err := config.Encryption.DecodeKeys()
	if err != nil {
		return nil, fmt.Errorf("failed to load encryption keys: %w", err)
	}
	cipher, err := crypto.NewCipher(keys)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize cipher: %w", err)
	}

	storageManager, err := storage.NewManager(logger, config)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	reg, err := registry.New(config)
	if err != nil {
		return nil, fmt.Errorf("failed to build service registry: %w", err)
	}

	providerClient := provider.NewClient(
		provider.WithLogger(logger),
		provider.WithTimeout(config.OAuth.GetProviderTimeout()),
		provider.WithRateLimit(config.OAuth.GetRateLimit()),
	)

	flow, err := oauth.NewFlow(reg, providerClient, storageManager, cipher, logger, oauth.Options{
		StateSecret: []byte(config.OAuth.StateSecret),
		StateTTL:    config.OAuth.GetStateTTL(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize oauth flow: %w", err)
	}

	refresher := refresh.NewEngine(reg, providerClient, storageManager, cipher, logger, refresh.Options{
		Margin:      config.Refresh.GetMargin(),
		MaxAttempts: config.Refresh.GetMaxAttempts(),
		BackoffBase: config.Refresh.GetBackoffBase(),
		BackoffCap:  config.Refresh.GetBackoffCap(),
		QueueSize:   config.Refresh.GetQueueSize(),
	})

	vaultService := vault.NewService(reg, storageManager, cipher, flow, refresher, logger)

	a := &App{
		Config:      config,
		Logger:      logger,
		Storage:     storageManager,
		Registry:    reg,
		Vault:       vaultService,
		Refresher:   refresher,
		StartupTime: startupStart,
	}

	a.startScheduler()

	logger.Info().
		Dur("startup", time.Since(startupStart)).
		Str("storage_backend", config.Storage.Backend).
		Msg("Application initialized")

	return a, nil
}

// startScheduler launches the background refresh and retention loops.
func (a *App) startScheduler() {
	ctx, cancel := context.WithCancel(context.Background())
	a.schedulerCancel = cancel

	go startRefreshScheduler(ctx, a.Refresher, a.Logger, a.Config.Refresh.GetDrainInterval())
	if retention := a.Config.Audit.GetRetention(); retention > 0 {
		go startAuditRetention(ctx, a.Storage, a.Logger, retention)
	}
}

// Close stops background work and releases storage.
func (a *App) Close() error {
	if a.schedulerCancel != nil {
		a.schedulerCancel()
	}
	if a.Storage != nil {
		return a.Storage.Close()
	}
	return nil
}
