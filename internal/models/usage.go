package models

import (
	"fmt"
	"time"
)

// UsageKey identifies one rate-limit counting bucket: a (user, service,
// action) triple within a single UTC clock hour.
type UsageKey struct {
	UserID    string `json:"user_id"`
	ServiceID string `json:"service_id"`
	Action    string `json:"action"`
	Date      string `json:"date"` // YYYY-MM-DD, UTC
	Hour      int    `json:"hour"` // 0-23, UTC
}

// UsageKeyAt builds the bucket key for time t (truncated to the UTC hour).
func UsageKeyAt(userID, serviceID, action string, t time.Time) UsageKey {
	t = t.UTC()
	return UsageKey{
		UserID:    userID,
		ServiceID: serviceID,
		Action:    action,
		Date:      t.Format("2006-01-02"),
		Hour:      t.Hour(),
	}
}

// String renders a stable composite key for keyed stores.
func (k UsageKey) String() string {
	return fmt.Sprintf("%s\x00%s\x00%s\x00%s\x00%02d", k.UserID, k.ServiceID, k.Action, k.Date, k.Hour)
}

// BucketTime returns the start of the bucket's clock hour in UTC.
// The zero time is returned for malformed dates.
func (k UsageKey) BucketTime() time.Time {
	day, err := time.ParseInLocation("2006-01-02", k.Date, time.UTC)
	if err != nil {
		return time.Time{}
	}
	return day.Add(time.Duration(k.Hour) * time.Hour)
}

// UsageCounter is a monotonically incremented request counter for one bucket.
type UsageCounter struct {
	UsageKey
	Count     int64     `json:"count"`
	UpdatedAt time.Time `json:"updated_at"`
}

// UsageFilter selects usage counters for queries. Zero-value fields match
// everything; dates are YYYY-MM-DD (UTC) and inclusive.
type UsageFilter struct {
	UserID    string
	ServiceID string
	Action    string
	FromDate  string
	ToDate    string
}
