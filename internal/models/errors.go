package models

import "errors"

// Sentinel errors forming the vault's error taxonomy. Components wrap these
// with fmt.Errorf("...: %w", err) so callers can classify with errors.Is.
var (
	// ErrNotFound indicates no credential or state matched the request.
	ErrNotFound = errors.New("not found")

	// ErrDecryptionFailed indicates ciphertext could not be authenticated or
	// decrypted with any configured key. Never treated as ErrNotFound: a row
	// exists but its contents cannot be trusted, which warrants an alert.
	ErrDecryptionFailed = errors.New("decryption failed")

	// ErrValidation indicates a malformed request, unknown service, or a
	// credential-kind/service mismatch. Rejected before any store mutation.
	ErrValidation = errors.New("validation failed")

	// ErrProviderFailure indicates an OAuth provider returned an error or a
	// malformed response during code exchange or token refresh.
	ErrProviderFailure = errors.New("provider request failed")

	// ErrRefreshFailed indicates the refresh retry budget was exhausted, or
	// the credential has no refresh token to retry with.
	ErrRefreshFailed = errors.New("token refresh failed")

	// ErrRateLimited indicates the usage counter exceeded the service's
	// rate-limit policy. The request is rejected before reaching the provider.
	ErrRateLimited = errors.New("rate limit exceeded")
)

// ErrorClass returns the coarse taxonomy label for err, used in audit
// metadata and API error codes. Unclassified errors report as "internal".
func ErrorClass(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrDecryptionFailed):
		return "decryption_failed"
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, ErrRefreshFailed):
		return "refresh_failed"
	case errors.Is(err, ErrProviderFailure):
		return "provider_failure"
	default:
		return "internal"
	}
}
