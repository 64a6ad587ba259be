package badger

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/timshannon/badgerhold/v4"

	"github.com/avisanghavi/keyvault/internal/common"
	"github.com/avisanghavi/keyvault/internal/models"
)

// defaultAuditLimit caps unbounded audit queries.
const defaultAuditLimit = 100

type auditStorage struct {
	store  *Store
	logger *common.Logger
}

// NewAuditStorage creates an AuditStore backed by BadgerHold.
func NewAuditStorage(store *Store, logger *common.Logger) *auditStorage {
	return &auditStorage{store: store, logger: logger}
}

func (s *auditStorage) Append(_ context.Context, event *models.AuditEvent) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if err := s.store.db.Insert(event.ID, event); err != nil {
		return fmt.Errorf("failed to append audit event: %w", err)
	}
	return nil
}

func (s *auditStorage) Query(_ context.Context, filter models.AuditFilter) ([]*models.AuditEvent, error) {
	var query *badgerhold.Query
	if filter.UserID != "" {
		query = badgerhold.Where("UserID").Eq(filter.UserID)
	}

	var events []models.AuditEvent
	if err := s.store.db.Find(&events, query); err != nil {
		return nil, fmt.Errorf("failed to query audit events: %w", err)
	}

	out := make([]*models.AuditEvent, 0, len(events))
	for i := range events {
		e := &events[i]
		if filter.ServiceID != "" && e.ServiceID != filter.ServiceID {
			continue
		}
		if filter.Action != "" && e.Action != filter.Action {
			continue
		}
		if !filter.Since.IsZero() && e.Timestamp.Before(filter.Since) {
			continue
		}
		if !filter.Until.IsZero() && e.Timestamp.After(filter.Until) {
			continue
		}
		out = append(out, e)
	}

	// Newest first
	sort.Slice(out, func(i, j int) bool {
		return out[i].Timestamp.After(out[j].Timestamp)
	})

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultAuditLimit
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *auditStorage) Purge(_ context.Context, cutoff time.Time) (int, error) {
	var events []models.AuditEvent
	if err := s.store.db.Find(&events, badgerhold.Where("Timestamp").Lt(cutoff)); err != nil {
		return 0, fmt.Errorf("failed to scan audit events for purge: %w", err)
	}

	count := 0
	for i := range events {
		if err := s.store.db.Delete(events[i].ID, models.AuditEvent{}); err != nil {
			if err == badgerhold.ErrNotFound {
				continue
			}
			return count, fmt.Errorf("failed to purge audit event %s: %w", events[i].ID, err)
		}
		count++
	}
	if count > 0 {
		s.logger.Debug().Int("count", count).Time("cutoff", cutoff).Msg("Audit events purged")
	}
	return count, nil
}
