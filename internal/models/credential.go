package models

import "time"

// CredentialKind distinguishes stored secret types.
type CredentialKind string

const (
	KindAPIKey CredentialKind = "api_key"
	KindOAuth  CredentialKind = "oauth"
)

// Credential is the stored (encrypted) form of a user's secret for one
// external service. At most one live credential exists per (UserID,
// ServiceID); storing a new one replaces the prior row atomically.
// EncryptedPayload is opaque ciphertext of a SecretPayload — the storage
// layer never sees plaintext.
type Credential struct {
	UserID           string         `json:"user_id"`
	ServiceID        string         `json:"service_id"`
	Kind             CredentialKind `json:"kind"`
	EncryptedPayload []byte         `json:"encrypted_payload"`
	ExpiresAt        *time.Time     `json:"expires_at,omitempty"` // oauth only
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
}

// IsExpired reports whether the credential's expiry has passed at t.
// API keys never expire.
func (c *Credential) IsExpired(t time.Time) bool {
	return c.ExpiresAt != nil && !c.ExpiresAt.After(t)
}

// ExpiresWithin reports whether the credential expires within d of t
// (the refresh-margin check). False for credentials without an expiry.
func (c *Credential) ExpiresWithin(t time.Time, d time.Duration) bool {
	return c.ExpiresAt != nil && !c.ExpiresAt.After(t.Add(d))
}

// SecretPayload is the plaintext structure sealed inside
// Credential.EncryptedPayload. Exactly one of APIKey or AccessToken is set,
// matching the credential kind.
type SecretPayload struct {
	APIKey       string            `json:"api_key,omitempty"`
	AccessToken  string            `json:"access_token,omitempty"`
	RefreshToken string            `json:"refresh_token,omitempty"`
	Scope        string            `json:"scope,omitempty"`
	TokenType    string            `json:"token_type,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// DecryptedCredential is the in-memory, never-persisted view returned to
// callers of GetCredentials. It pairs the row bookkeeping with the
// decrypted secret.
type DecryptedCredential struct {
	UserID    string         `json:"user_id"`
	ServiceID string         `json:"service_id"`
	Kind      CredentialKind `json:"kind"`
	Secret    SecretPayload  `json:"secret"`
	ExpiresAt *time.Time     `json:"expires_at,omitempty"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// CredentialSummary is one row of a per-user service listing. The secret is
// deliberately absent.
type CredentialSummary struct {
	ServiceID    string         `json:"service_id"`
	DisplayName  string         `json:"display_name,omitempty"`
	Kind         CredentialKind `json:"kind"`
	OAuthEnabled bool           `json:"oauth_enabled"`
	ExpiresAt    *time.Time     `json:"expires_at,omitempty"`
	UpdatedAt    time.Time      `json:"updated_at"`
	IsExpired    bool           `json:"is_expired"`
}
