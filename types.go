package oauth

import "encoding/json"

// ErrorResponse represents an OAuth error response body
type ErrorResponse struct {
	// Error is the error code
	Error string `json:"error"`

	// ErrorDescription provides additional information
	ErrorDescription string `json:"error_description,omitempty"`

	// ErrorURI points to error documentation
	ErrorURI string `json:"error_uri,omitempty"`
}

// AuthorizationServerMetadata represents OAuth 2.0 Authorization Server Metadata (RFC 8414)
type AuthorizationServerMetadata struct {
	// Issuer is the authorization server's issuer identifier URL
	Issuer string `json:"issuer"`

	// AuthorizationEndpoint is the URL of the authorization endpoint
	AuthorizationEndpoint string `json:"authorization_endpoint"`

	// TokenEndpoint is the URL of the token endpoint
	TokenEndpoint string `json:"token_endpoint"`

	// JWKSURI is the URL of the server's JSON Web Key Set document
	JWKSURI string `json:"jwks_uri,omitempty"`

	// ScopesSupported lists the OAuth scopes supported
	ScopesSupported []string `json:"scopes_supported,omitempty"`

	// ResponseTypesSupported lists the OAuth response types supported
	ResponseTypesSupported []string `json:"response_types_supported"`

	// ResponseModesSupported lists the response modes supported
	ResponseModesSupported []string `json:"response_modes_supported,omitempty"`

	// GrantTypesSupported lists the OAuth grant types supported
	GrantTypesSupported []string `json:"grant_types_supported,omitempty"`

	// TokenEndpointAuthMethodsSupported lists the client authentication methods supported at the token endpoint
	TokenEndpointAuthMethodsSupported []string `json:"token_endpoint_auth_methods_supported,omitempty"`

	// CodeChallengeMethodsSupported lists the PKCE code challenge methods supported
	CodeChallengeMethodsSupported []string `json:"code_challenge_methods_supported,omitempty"`

	// RequestParameterSupported indicates JAR request object support
	RequestParameterSupported bool `json:"request_parameter_supported,omitempty"`

	// RequestURIParameterSupported indicates request_uri support
	RequestURIParameterSupported bool `json:"request_uri_parameter_supported,omitempty"`
}

// TokenResponse represents an OAuth 2.0 token response.
//
// State is populated only when the response is delivered through an
// authorize-endpoint redirect. IssuedTokenType is populated only for the
// RFC8693 token-exchange grant.
type TokenResponse struct {
	// AccessToken is the access token
	AccessToken string `json:"access_token"`

	// TokenType is the type of token (usually "Bearer"; "N_A" for
	// non-access issued token types in token exchange)
	TokenType string `json:"token_type"`

	// ExpiresIn is the lifetime in seconds of the access token
	ExpiresIn int64 `json:"expires_in,omitempty"`

	// RefreshToken is the refresh token (optional)
	RefreshToken string `json:"refresh_token,omitempty"`

	// Scope is the scope of the access token
	Scope string `json:"scope,omitempty"`

	// IDToken is the OpenID Connect ID token (optional)
	IDToken string `json:"id_token,omitempty"`

	// State echoes the client's state parameter (authorize redirect only)
	State string `json:"state,omitempty"`

	// IssuedTokenType identifies the issued token's type (token exchange only)
	IssuedTokenType string `json:"issued_token_type,omitempty"`

	// Extra carries whitelisted public additional-information fields.
	// Serialized inline beside the declared fields.
	Extra map[string]string `json:"-"`
}

// MarshalJSON serializes the declared fields and merges Extra inline.
// Extra entries never shadow a declared field name.
func (t TokenResponse) MarshalJSON() ([]byte, error) {
	type plain TokenResponse
	raw, err := json.Marshal(plain(t))
	if err != nil {
		return nil, err
	}
	if len(t.Extra) == 0 {
		return raw, nil
	}

	merged := make(map[string]json.RawMessage, len(t.Extra)+8)
	if err := json.Unmarshal(raw, &merged); err != nil {
		return nil, err
	}
	for k, v := range t.Extra {
		if _, declared := merged[k]; declared {
			continue
		}
		encoded, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		merged[k] = encoded
	}
	return json.Marshal(merged)
}
