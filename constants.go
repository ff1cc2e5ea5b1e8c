// Package oauth carries the wire-level vocabulary of an OAuth 2.0 / OpenID
// Connect authorization server: protocol constants, response types, and the
// error taxonomy. The protocol state machine and HTTP adapter live in the
// server package.
package oauth

// Grant types (RFC6749, RFC7523, RFC8693)
const (
	GrantTypeAuthorizationCode = "authorization_code"
	GrantTypeClientCredentials = "client_credentials"
	GrantTypePassword          = "password"
	GrantTypeRefreshToken      = "refresh_token"
	GrantTypeJWTBearer         = "urn:ietf:params:oauth:grant-type:jwt-bearer"
	GrantTypeSAML2Bearer       = "urn:ietf:params:oauth:grant-type:saml2-bearer"
	GrantTypeTokenExchange     = "urn:ietf:params:oauth:grant-type:token-exchange"
)

// Response types (RFC6749, OIDC Core)
const (
	ResponseTypeNone    = "none"
	ResponseTypeCode    = "code"
	ResponseTypeIDToken = "id_token"
	ResponseTypeToken   = "token"
)

// Response modes (OAuth 2.0 Multiple Response Type Encoding Practices)
const (
	ResponseModeQuery    = "query"
	ResponseModeFragment = "fragment"
	ResponseModeFormPost = "form_post"
)

// Token type identifiers for RFC8693 token exchange
const (
	TokenTypeAccessToken  = "urn:ietf:params:oauth:token-type:access_token"
	TokenTypeRefreshToken = "urn:ietf:params:oauth:token-type:refresh_token"
	TokenTypeIDToken      = "urn:ietf:params:oauth:token-type:id_token"
	TokenTypeJWT          = "urn:ietf:params:oauth:token-type:jwt"
	TokenTypeSAML1        = "urn:ietf:params:oauth:token-type:saml1"
	TokenTypeSAML2        = "urn:ietf:params:oauth:token-type:saml2"
)

// Client assertion types (RFC7521, RFC7523)
const (
	ClientAssertionTypeJWTBearer   = "urn:ietf:params:oauth:client-assertion-type:jwt-bearer"
	ClientAssertionTypeSAML2Bearer = "urn:ietf:params:oauth:client-assertion-type:saml2-bearer"
)

// Token endpoint client authentication methods (RFC7591)
const (
	AuthMethodNone              = "none"
	AuthMethodClientSecretBasic = "client_secret_basic"
	AuthMethodClientSecretPost  = "client_secret_post"
	AuthMethodClientSecretJWT   = "client_secret_jwt"
	AuthMethodPrivateKeyJWT     = "private_key_jwt"
)

// PKCE code challenge methods (RFC7636)
const (
	PKCEMethodPlain = "plain"
	PKCEMethodS256  = "S256"
)

// OutOfBandRedirectURI is the copy/paste redirect sentinel. It is compared
// literally against registered redirect URIs, never URI-normalized.
const OutOfBandRedirectURI = "urn:ietf:wg:oauth:2.0:oob"
