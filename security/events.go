package security

// Event type constants for security audit logging.
// These constants ensure consistency across the codebase and prevent typos
// when logging security-relevant events.
const (
	// Token lifecycle events

	// EventTokenIssued is logged when a new access token is issued to a client
	EventTokenIssued = "token_issued"

	// EventTokenRefreshed is logged when an access token is refreshed using a refresh token
	EventTokenRefreshed = "token_refreshed"

	// EventTokenRevoked is logged when a token is revoked by the user or client
	EventTokenRevoked = "token_revoked"

	// Authorization flow events

	// EventAuthorizationCodeIssued is logged when an authorization code is issued
	EventAuthorizationCodeIssued = "authorization_code_issued"

	// EventAuthorizationCodeReuseDetected is logged when an authorization code is reused (attack)
	EventAuthorizationCodeReuseDetected = "authorization_code_reuse_detected"

	// EventConsentDecision is logged when a resource owner grants or denies consent
	EventConsentDecision = "consent_decision"

	// Client registration events

	// EventClientRegistered is logged when a new OAuth client application is registered
	EventClientRegistered = "client_registered"

	// Security violation events

	// EventAuthFailure is logged when client authentication fails (wrong credentials, etc.)
	EventAuthFailure = "auth_failure"

	// EventRateLimitExceeded is logged when a rate limit is exceeded
	EventRateLimitExceeded = "rate_limit_exceeded"

	// EventPKCEValidationFailed is logged when PKCE code_verifier validation fails
	EventPKCEValidationFailed = "pkce_validation_failed"

	// EventTokenReuseDetected is logged when refresh token reuse is detected (theft)
	EventTokenReuseDetected = "token_reuse_detected" //nolint:gosec // G101: False positive - this is an event type name, not a credential

	// EventInvalidRedirect is logged when an invalid redirect URI is used
	EventInvalidRedirect = "invalid_redirect"

	// EventScopeEscalationAttempt is logged when a client tries to escalate scopes
	EventScopeEscalationAttempt = "scope_escalation_attempt"
)
