package app

import (
	"context"
	"time"

	"github.com/avisanghavi/keyvault/internal/common"
	"github.com/avisanghavi/keyvault/internal/interfaces"
	"github.com/avisanghavi/keyvault/internal/services/refresh"
)

// startRefreshScheduler drains the retry queue and proactively refreshes
// near-expiry tokens on a fixed interval.
func startRefreshScheduler(ctx context.Context, engine *refresh.Engine, logger *common.Logger, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("Refresh scheduler: stopped")
			return
		case <-ticker.C:
			engine.Drain(ctx)
			engine.SweepExpiring(ctx)
		}
	}
}

// auditRetentionInterval is how often expired audit events are purged.
const auditRetentionInterval = time.Hour

// startAuditRetention removes audit events older than the retention window.
func startAuditRetention(ctx context.Context, storage interfaces.StorageManager, logger *common.Logger, retention time.Duration) {
	ticker := time.NewTicker(auditRetentionInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("Audit retention: stopped")
			return
		case <-ticker.C:
			cutoff := time.Now().UTC().Add(-retention)
			count, err := storage.Audit().Purge(ctx, cutoff)
			if err != nil {
				logger.Warn().Err(err).Msg("Audit retention: purge failed")
				continue
			}
			if count > 0 {
				logger.Info().Int("count", count).Time("cutoff", cutoff).Msg("Audit retention: events purged")
			}
		}
	}
}
