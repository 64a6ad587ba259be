package models

import "time"

// Audit actions. Every vault operation that touches a credential records
// exactly one of these.
const (
	ActionStoreCredential = "store_credential"
	ActionGetCredential   = "get_credential"
	ActionRefreshToken    = "refresh_token"
	ActionRevoke          = "revoke"
	ActionOAuthInitiate   = "oauth_initiate"
	ActionOAuthCallback   = "oauth_callback"
)

// AuditFilter selects audit events for queries. Zero-value fields match
// everything; Limit of 0 means the store default.
type AuditFilter struct {
	UserID    string
	ServiceID string
	Action    string
	Since     time.Time
	Until     time.Time
	Limit     int
}

// AuditEvent is one append-only audit trail entry. Events are never updated
// or deleted by normal operation; only the retention cleanup removes old rows.
type AuditEvent struct {
	ID        string            `json:"id"`
	UserID    string            `json:"user_id"`
	Action    string            `json:"action"`
	ServiceID string            `json:"service_id"`
	Success   bool              `json:"success"`
	Error     string            `json:"error,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}
