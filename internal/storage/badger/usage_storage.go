package badger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/timshannon/badgerhold/v4"

	"github.com/avisanghavi/keyvault/internal/common"
	"github.com/avisanghavi/keyvault/internal/models"
)

type usageStorage struct {
	store  *Store
	logger *common.Logger

	// Serializes read-modify-write increments. Badger transactions are
	// optimistic; a plain mutex is enough for a single-process store.
	mu sync.Mutex
}

// NewUsageStorage creates a UsageStore backed by BadgerHold.
func NewUsageStorage(store *Store, logger *common.Logger) *usageStorage {
	return &usageStorage{store: store, logger: logger}
}

func (s *usageStorage) Increment(_ context.Context, key models.UsageKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var counter models.UsageCounter
	err := s.store.db.Get(key.String(), &counter)
	if err == badgerhold.ErrNotFound {
		counter = models.UsageCounter{UsageKey: key}
	} else if err != nil {
		return fmt.Errorf("failed to read usage counter: %w", err)
	}

	counter.Count++
	counter.UpdatedAt = time.Now().UTC()
	if err := s.store.db.Upsert(key.String(), &counter); err != nil {
		return fmt.Errorf("failed to save usage counter: %w", err)
	}
	return nil
}

func (s *usageStorage) Get(_ context.Context, key models.UsageKey) (*models.UsageCounter, error) {
	var counter models.UsageCounter
	err := s.store.db.Get(key.String(), &counter)
	if err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, fmt.Errorf("usage counter %s: %w", key.String(), models.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get usage counter: %w", err)
	}
	return &counter, nil
}

func (s *usageStorage) Query(_ context.Context, filter models.UsageFilter) ([]*models.UsageCounter, error) {
	var query *badgerhold.Query
	if filter.UserID != "" {
		query = badgerhold.Where("UserID").Eq(filter.UserID)
	}

	var counters []models.UsageCounter
	if err := s.store.db.Find(&counters, query); err != nil {
		return nil, fmt.Errorf("failed to query usage counters: %w", err)
	}

	var out []*models.UsageCounter
	for i := range counters {
		c := &counters[i]
		if filter.ServiceID != "" && c.ServiceID != filter.ServiceID {
			continue
		}
		if filter.Action != "" && c.Action != filter.Action {
			continue
		}
		if filter.FromDate != "" && c.Date < filter.FromDate {
			continue
		}
		if filter.ToDate != "" && c.Date > filter.ToDate {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

func (s *usageStorage) SumWindow(_ context.Context, userID, serviceID, action string, from, to time.Time) (int64, error) {
	var counters []models.UsageCounter
	query := badgerhold.Where("UserID").Eq(userID)
	if err := s.store.db.Find(&counters, query); err != nil {
		return 0, fmt.Errorf("failed to scan usage counters: %w", err)
	}

	var total int64
	for i := range counters {
		c := &counters[i]
		if c.ServiceID != serviceID || c.Action != action {
			continue
		}
		bucket := c.BucketTime()
		if bucket.Before(from.Truncate(time.Hour)) || bucket.After(to) {
			continue
		}
		total += c.Count
	}
	return total, nil
}
