package models

import "time"

// TokenResponse is the normalised token endpoint response from an OAuth
// provider, for both authorization-code exchange and refresh.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	TokenType    string `json:"token_type,omitempty"`
	Scope        string `json:"scope,omitempty"`
	ExpiresIn    int64  `json:"expires_in,omitempty"` // seconds
}

// ExpiryAt converts the relative ExpiresIn into an absolute expiry.
// Nil when the provider did not report a lifetime.
func (t *TokenResponse) ExpiryAt(now time.Time) *time.Time {
	if t.ExpiresIn <= 0 {
		return nil
	}
	at := now.Add(time.Duration(t.ExpiresIn) * time.Second)
	return &at
}

// OAuthInitiation is the result of starting an authorization flow: the URL
// the user's browser must visit and the signed state that will come back.
type OAuthInitiation struct {
	AuthorizeURL string    `json:"authorize_url"`
	State        string    `json:"state"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// CallbackResult reports a completed authorization callback.
type CallbackResult struct {
	UserID    string     `json:"user_id"`
	ServiceID string     `json:"service_id"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}
