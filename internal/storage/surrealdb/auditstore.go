package surrealdb

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/surrealdb/surrealdb.go"

	"github.com/avisanghavi/keyvault/internal/common"
	"github.com/avisanghavi/keyvault/internal/models"
)

// defaultAuditLimit caps unbounded audit queries.
const defaultAuditLimit = 100

type AuditStore struct {
	db     *surrealdb.DB
	logger *common.Logger
}

func NewAuditStore(db *surrealdb.DB, logger *common.Logger) *AuditStore {
	return &AuditStore{
		db:     db,
		logger: logger,
	}
}

func (s *AuditStore) Append(ctx context.Context, event *models.AuditEvent) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	sql := "CREATE type::record('audit_event', $id) CONTENT $event"
	vars := map[string]any{"id": event.ID, "event": event}

	if _, err := surrealdb.Query[[]models.AuditEvent](ctx, s.db, sql, vars); err != nil {
		return fmt.Errorf("failed to append audit event: %w", err)
	}
	return nil
}

func (s *AuditStore) Query(ctx context.Context, filter models.AuditFilter) ([]*models.AuditEvent, error) {
	sql := "SELECT * FROM audit_event"
	vars := map[string]any{}

	var where []string
	if filter.UserID != "" {
		where = append(where, "user_id = $user_id")
		vars["user_id"] = filter.UserID
	}
	if filter.ServiceID != "" {
		where = append(where, "service_id = $service_id")
		vars["service_id"] = filter.ServiceID
	}
	if filter.Action != "" {
		where = append(where, "action = $action")
		vars["action"] = filter.Action
	}
	if !filter.Since.IsZero() {
		where = append(where, "timestamp >= $since")
		vars["since"] = filter.Since
	}
	if !filter.Until.IsZero() {
		where = append(where, "timestamp <= $until")
		vars["until"] = filter.Until
	}
	for i, clause := range where {
		if i == 0 {
			sql += " WHERE " + clause
		} else {
			sql += " AND " + clause
		}
	}

	sql += " ORDER BY timestamp DESC"

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultAuditLimit
	}
	sql += fmt.Sprintf(" LIMIT %d", limit)

	results, err := surrealdb.Query[[]models.AuditEvent](ctx, s.db, sql, vars)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit events: %w", err)
	}

	if results != nil && len(*results) > 0 {
		var mapped []*models.AuditEvent
		for i := range (*results)[0].Result {
			mapped = append(mapped, &(*results)[0].Result[i])
		}
		return mapped, nil
	}
	return nil, nil
}

func (s *AuditStore) Purge(ctx context.Context, cutoff time.Time) (int, error) {
	sql := "DELETE audit_event WHERE timestamp < $cutoff RETURN BEFORE"
	vars := map[string]any{"cutoff": cutoff}

	results, err := surrealdb.Query[[]models.AuditEvent](ctx, s.db, sql, vars)
	if err != nil {
		return 0, fmt.Errorf("failed to purge audit events: %w", err)
	}

	count := 0
	if results != nil && len(*results) > 0 {
		count = len((*results)[0].Result)
	}
	if count > 0 {
		s.logger.Debug().Int("count", count).Time("cutoff", cutoff).Msg("Audit events purged")
	}
	return count, nil
}

func (s *AuditStore) Close() error {
	return nil
}
