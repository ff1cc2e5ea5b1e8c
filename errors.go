package oauth

import (
	"fmt"
	"net/http"
)

// OAuth error codes as constants
const (
	ErrorCodeInvalidRequest          = "invalid_request"
	ErrorCodeInvalidGrant            = "invalid_grant"
	ErrorCodeInvalidClient           = "invalid_client"
	ErrorCodeInvalidScope            = "invalid_scope"
	ErrorCodeInvalidToken            = "invalid_token"
	ErrorCodeUnauthorizedClient      = "unauthorized_client"
	ErrorCodeUnsupportedGrantType    = "unsupported_grant_type"
	ErrorCodeUnsupportedResponseType = "unsupported_response_type"
	ErrorCodeServerError             = "server_error"
	ErrorCodeAccessDenied            = "access_denied"
	ErrorCodeTemporarilyUnavailable  = "temporarily_unavailable"
	ErrorCodeRateLimitExceeded       = "rate_limit_exceeded"

	// OpenID Connect Core request-object error codes
	ErrorCodeInvalidRequestURI      = "invalid_request_uri"
	ErrorCodeInvalidRequestObject   = "invalid_request_object"
	ErrorCodeRequestNotSupported    = "request_not_supported"
	ErrorCodeRequestURINotSupported = "request_uri_not_supported"
)

// OAuthError represents an OAuth 2.0 error response
type OAuthError struct {
	Code        string // OAuth error code (e.g., "invalid_request", "invalid_grant")
	Description string // Human-readable error description
	URI         string // Optional error_uri pointing at documentation
	Status      int    // HTTP status code
}

// Error implements the error interface
func (e *OAuthError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

// WithStatus returns a copy of the error carrying a different HTTP status.
// Used for the invalid_client 401/403 split: 401 when an Authorization
// header was attempted, 403 when credentials were never presented.
func (e *OAuthError) WithStatus(status int) *OAuthError {
	clone := *e
	clone.Status = status
	return &clone
}

// WithURI returns a copy of the error carrying an error_uri
func (e *OAuthError) WithURI(uri string) *OAuthError {
	clone := *e
	clone.URI = uri
	return &clone
}

// NewOAuthError creates a new OAuth error
func NewOAuthError(code, description string, status int) *OAuthError {
	return &OAuthError{
		Code:        code,
		Description: description,
		Status:      status,
	}
}

// sprintf keeps plain descriptions untouched and formats only when
// arguments are supplied, so literal '%' in static messages stays safe.
func sprintf(format string, args []any) string {
	if len(args) == 0 {
		return format
	}
	return fmt.Sprintf(format, args...)
}

// Common OAuth errors as reusable constructors. Each takes an optional
// printf argument list.
var (
	// ErrInvalidRequest indicates the request is malformed or missing required parameters
	ErrInvalidRequest = func(format string, args ...any) *OAuthError {
		return NewOAuthError(ErrorCodeInvalidRequest, sprintf(format, args), http.StatusBadRequest)
	}

	// ErrInvalidGrant indicates the presented grant is invalid or expired.
	// Defaults to 400; code and refresh redemption misses upgrade to 403
	// via WithStatus.
	ErrInvalidGrant = func(format string, args ...any) *OAuthError {
		return NewOAuthError(ErrorCodeInvalidGrant, sprintf(format, args), http.StatusBadRequest)
	}

	// ErrInvalidClient indicates client authentication failed.
	// Defaults to 401; callers downgrade to 403 via WithStatus when no
	// credential was ever attempted.
	ErrInvalidClient = func(format string, args ...any) *OAuthError {
		return NewOAuthError(ErrorCodeInvalidClient, sprintf(format, args), http.StatusUnauthorized)
	}

	// ErrInvalidScope indicates the requested scope is invalid, unknown, or needs consent
	ErrInvalidScope = func(format string, args ...any) *OAuthError {
		return NewOAuthError(ErrorCodeInvalidScope, sprintf(format, args), http.StatusBadRequest)
	}

	// ErrInvalidToken indicates the access token is invalid or expired
	ErrInvalidToken = func(format string, args ...any) *OAuthError {
		return NewOAuthError(ErrorCodeInvalidToken, sprintf(format, args), http.StatusUnauthorized)
	}

	// ErrUnauthorizedClient indicates the client is not authorized for the requested grant or flow
	ErrUnauthorizedClient = func(format string, args ...any) *OAuthError {
		return NewOAuthError(ErrorCodeUnauthorizedClient, sprintf(format, args), http.StatusForbidden)
	}

	// ErrUnsupportedGrantType indicates the grant type is not supported
	ErrUnsupportedGrantType = func(format string, args ...any) *OAuthError {
		return NewOAuthError(ErrorCodeUnsupportedGrantType, sprintf(format, args), http.StatusBadRequest)
	}

	// ErrUnsupportedResponseType indicates the response type is not supported
	ErrUnsupportedResponseType = func(format string, args ...any) *OAuthError {
		return NewOAuthError(ErrorCodeUnsupportedResponseType, sprintf(format, args), http.StatusBadRequest)
	}

	// ErrServerError indicates an internal server error occurred
	ErrServerError = func(format string, args ...any) *OAuthError {
		return NewOAuthError(ErrorCodeServerError, sprintf(format, args), http.StatusInternalServerError)
	}

	// ErrAccessDenied indicates the resource owner or authorization server denied the request
	ErrAccessDenied = func(format string, args ...any) *OAuthError {
		return NewOAuthError(ErrorCodeAccessDenied, sprintf(format, args), http.StatusForbidden)
	}

	// ErrTemporarilyUnavailable indicates a required collaborator (such as the
	// resource-owner authentication policy) is missing or unusable
	ErrTemporarilyUnavailable = func(format string, args ...any) *OAuthError {
		return NewOAuthError(ErrorCodeTemporarilyUnavailable, sprintf(format, args), http.StatusServiceUnavailable)
	}

	// ErrInvalidRequestURI indicates the request_uri parameter could not be resolved
	ErrInvalidRequestURI = func(format string, args ...any) *OAuthError {
		return NewOAuthError(ErrorCodeInvalidRequestURI, sprintf(format, args), http.StatusBadRequest)
	}

	// ErrInvalidRequestObject indicates the JAR request object failed validation
	ErrInvalidRequestObject = func(format string, args ...any) *OAuthError {
		return NewOAuthError(ErrorCodeInvalidRequestObject, sprintf(format, args), http.StatusBadRequest)
	}

	// ErrRequestNotSupported indicates the request parameter is not supported
	ErrRequestNotSupported = func(format string, args ...any) *OAuthError {
		return NewOAuthError(ErrorCodeRequestNotSupported, sprintf(format, args), http.StatusBadRequest)
	}

	// ErrRequestURINotSupported indicates the request_uri parameter is not supported
	ErrRequestURINotSupported = func(format string, args ...any) *OAuthError {
		return NewOAuthError(ErrorCodeRequestURINotSupported, sprintf(format, args), http.StatusBadRequest)
	}
)

// AsOAuthError normalizes any error into an *OAuthError. Errors that are
// already OAuth errors pass through unchanged; everything else becomes a
// server_error with a minimized description.
func AsOAuthError(err error) *OAuthError {
	if err == nil {
		return nil
	}
	if oe, ok := err.(*OAuthError); ok {
		return oe
	}
	return ErrServerError("unexpected error occurred")
}
