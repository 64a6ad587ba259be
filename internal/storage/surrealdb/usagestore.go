package surrealdb

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/surrealdb/surrealdb.go"
	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"

	"github.com/avisanghavi/keyvault/internal/common"
	"github.com/avisanghavi/keyvault/internal/models"
)

type UsageStore struct {
	db     *surrealdb.DB
	logger *common.Logger
}

func NewUsageStore(db *surrealdb.DB, logger *common.Logger) *UsageStore {
	return &UsageStore{
		db:     db,
		logger: logger,
	}
}

// usageID format: usage_counter:<user>_<service>_<action>_<date>_<hour>
func usageID(key models.UsageKey) string {
	return strings.Join([]string{
		key.UserID, key.ServiceID, key.Action, key.Date, fmt.Sprintf("%02d", key.Hour),
	}, "_")
}

// Increment bumps the bucket counter atomically on the server, so concurrent
// replicas never lose counts.
func (s *UsageStore) Increment(ctx context.Context, key models.UsageKey) error {
	sql := "UPSERT type::record('usage_counter', $id) SET " +
		"user_id = $user_id, service_id = $service_id, action = $action, " +
		"date = $date, hour = $hour, count += 1, updated_at = $now"
	vars := map[string]any{
		"id":         usageID(key),
		"user_id":    key.UserID,
		"service_id": key.ServiceID,
		"action":     key.Action,
		"date":       key.Date,
		"hour":       key.Hour,
		"now":        time.Now().UTC(),
	}

	var lastErr error
	for attempt := 1; attempt <= 3; attempt++ {
		_, err := surrealdb.Query[[]models.UsageCounter](ctx, s.db, sql, vars)
		if err == nil {
			return nil
		}
		lastErr = err
	}
	return fmt.Errorf("failed to increment usage counter after retries: %w", lastErr)
}

func (s *UsageStore) Get(ctx context.Context, key models.UsageKey) (*models.UsageCounter, error) {
	rid := surrealmodels.NewRecordID("usage_counter", usageID(key))
	counter, err := surrealdb.Select[models.UsageCounter](ctx, s.db, rid)
	if err != nil {
		if isNotFoundError(err) {
			return nil, fmt.Errorf("usage counter: %w", models.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to select usage counter: %w", err)
	}
	if counter == nil || counter.UserID == "" {
		return nil, fmt.Errorf("usage counter: %w", models.ErrNotFound)
	}
	return counter, nil
}

func (s *UsageStore) Query(ctx context.Context, filter models.UsageFilter) ([]*models.UsageCounter, error) {
	sql := "SELECT * FROM usage_counter"
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
	if filter.FromDate != "" {
		where = append(where, "date >= $from_date")
		vars["from_date"] = filter.FromDate
	}
	if filter.ToDate != "" {
		where = append(where, "date <= $to_date")
		vars["to_date"] = filter.ToDate
	}
	for i, clause := range where {
		if i == 0 {
			sql += " WHERE " + clause
		} else {
			sql += " AND " + clause
		}
	}

	results, err := surrealdb.Query[[]models.UsageCounter](ctx, s.db, sql, vars)
	if err != nil {
		return nil, fmt.Errorf("failed to query usage counters: %w", err)
	}

	if results != nil && len(*results) > 0 {
		var mapped []*models.UsageCounter
		for i := range (*results)[0].Result {
			mapped = append(mapped, &(*results)[0].Result[i])
		}
		return mapped, nil
	}
	return nil, nil
}

func (s *UsageStore) SumWindow(ctx context.Context, userID, serviceID, action string, from, to time.Time) (int64, error) {
	counters, err := s.Query(ctx, models.UsageFilter{
		UserID:    userID,
		ServiceID: serviceID,
		Action:    action,
	})
	if err != nil {
		return 0, err
	}

	var total int64
	for _, c := range counters {
		bucket := c.BucketTime()
		if bucket.Before(from.Truncate(time.Hour)) || bucket.After(to) {
			continue
		}
		total += c.Count
	}
	return total, nil
}

func (s *UsageStore) Close() error {
	return nil
}
