package storage

import (
	"context"
	"net/url"
	"time"
)

// TokenStore persists access and refresh tokens and the authentication each
// token is bound to. All methods accept context.Context for tracing and
// cancellation.
type TokenStore interface {
	// StoreAccessToken persists an access token bound to an authentication
	StoreAccessToken(ctx context.Context, token *AccessToken, auth *Authentication) error

	// StoreRefreshToken persists a refresh token bound to an authentication
	StoreRefreshToken(ctx context.Context, token *RefreshToken, auth *Authentication) error

	// ReadAccessToken retrieves a live access token by value.
	// Returns ErrNotFound for unknown or expired values.
	ReadAccessToken(ctx context.Context, value string) (*AccessToken, error)

	// ReadRefreshToken retrieves a live refresh token by value
	ReadRefreshToken(ctx context.Context, value string) (*RefreshToken, error)

	// RemoveRefreshToken deletes a refresh token
	RemoveRefreshToken(ctx context.Context, value string) error

	// RedeemRefreshToken atomically retrieves and deletes a refresh token.
	// SECURITY: this operation MUST be atomic to prevent concurrent
	// rotation of the same token.
	RedeemRefreshToken(ctx context.Context, value string) (*RefreshToken, error)

	// ReadAuthenticationForRefreshToken retrieves the authentication a
	// refresh token was issued under
	ReadAuthenticationForRefreshToken(ctx context.Context, value string) (*Authentication, error)

	// ReadAuthenticationFromToken retrieves the authentication an access
	// token was issued under
	ReadAuthenticationFromToken(ctx context.Context, value string) (*Authentication, error)
}

// AuthorizationCodeStore persists single-use authorization codes.
type AuthorizationCodeStore interface {
	// Add persists a freshly minted authorization code
	Add(ctx context.Context, code *AuthorizationCode) error

	// Get retrieves a live code by value without consuming it
	Get(ctx context.Context, value string) (*AuthorizationCode, error)

	// RedeemAuthorizationCode atomically retrieves and deletes a code.
	// Returns ErrNotFound for unknown, expired, or already-redeemed codes.
	// SECURITY: this operation MUST be atomic so two concurrent
	// redemptions of the same code cannot both succeed.
	RedeemAuthorizationCode(ctx context.Context, value string) (*AuthorizationCode, error)

	// Remove deletes a code
	Remove(ctx context.Context, value string) error
}

// ApplicationDirectory resolves registered OAuth clients by client id.
// Implementations typically cache lookups.
type ApplicationDirectory interface {
	// GetByClientID retrieves a registered client.
	// Returns ErrNotFound for unknown client ids.
	GetByClientID(ctx context.Context, clientID string) (*ApplicationDetails, error)

	// SaveApplication registers or updates a client
	SaveApplication(ctx context.Context, app *ApplicationDetails) error
}

// ConsentStore persists resource-owner scope grants per application and
// subject, plus application-level pre-authorized scope exceptions.
type ConsentStore interface {
	// GetConsent retrieves the remembered grant for an application+subject
	// pair, or nil when none exists
	GetConsent(ctx context.Context, applicationID, subject string) (*Consent, error)

	// SaveConsent persists or replaces a remembered grant
	SaveConsent(ctx context.Context, consent *Consent) error

	// ApplicationPreAuthorizedScopes returns scopes every subject is
	// considered to have approved for the application
	ApplicationPreAuthorizedScopes(ctx context.Context, applicationID string) ([]string, error)
}

// ApplicationDetails is a registered OAuth client. Read-only per request.
type ApplicationDetails struct {
	// ApplicationID identifies the owning application record; consent is
	// keyed by it. Often equal to ClientID.
	ApplicationID string

	ClientID string

	// ClientSecretHash is the bcrypt hash of the client secret. Empty for
	// public clients without a secret.
	ClientSecretHash string

	// ClientType is "public" or "confidential"
	ClientType string

	RedirectURIs []string

	// DefaultScopes are granted when a request carries no scope parameter
	DefaultScopes []string

	// RegisteredScopes are the scopes the client may request
	RegisteredScopes []string

	// OpenIDScopes are additional OIDC scopes accepted when requested
	OpenIDScopes []string

	// GrantTypes, AuthMethods and ResponseTypes narrow what the client may
	// use. An empty slice means the corresponding filter rejects
	// everything when the filter is enabled.
	GrantTypes    []string
	AuthMethods   []string
	ResponseTypes []string

	ClientName string
	CreatedAt  time.Time
}

// AllowsGrantType reports whether the client's registration permits the
// grant type.
func (a *ApplicationDetails) AllowsGrantType(grantType string) bool {
	allowed := false
	for _, g := range a.GrantTypes {
		allowed = allowed || g == grantType
	}
	return allowed
}

// AllowsAuthMethod reports whether any of the used authentication methods is
// registered for the client. An empty used set checks for the "none" method.
func (a *ApplicationDetails) AllowsAuthMethod(used map[string]bool) bool {
	allowed := false
	if len(used) == 0 {
		for _, m := range a.AuthMethods {
			allowed = allowed || m == "none"
		}
		return allowed
	}
	for _, m := range a.AuthMethods {
		allowed = allowed || used[m]
	}
	return allowed
}

// AllowsResponseTypes reports whether every requested response type is
// registered for the client.
func (a *ApplicationDetails) AllowsResponseTypes(requested []string) bool {
	if len(requested) == 0 {
		return false
	}
	registered := make(map[string]bool, len(a.ResponseTypes))
	for _, r := range a.ResponseTypes {
		registered[r] = true
	}
	for _, r := range requested {
		if !registered[r] {
			return false
		}
	}
	return true
}

// Authentication binds an issued token to the request it was issued under.
type Authentication struct {
	// Subject is the authenticated resource owner. Empty for client-only
	// authentications (client_credentials style).
	Subject string

	ClientID string

	// Request is the effective authorization request the grant was issued
	// for, as query-string values.
	Request url.Values
}

// ClientOnly reports whether the authentication carries no resource owner.
func (a *Authentication) ClientOnly() bool {
	return a.Subject == "" || a.Subject == a.ClientID
}

// RequestedScopes returns the scope tokens of the bound request.
func (a *Authentication) RequestedScopes() []string {
	if a.Request == nil {
		return nil
	}
	scope := a.Request.Get("scope")
	if scope == "" {
		return nil
	}
	var out []string
	seen := make(map[string]bool)
	for _, s := range splitFields(scope) {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

func splitFields(s string) []string {
	var out []string
	start := -1
	for i, r := range s {
		if r == ' ' || r == '\t' {
			if start >= 0 {
				out = append(out, s[start:i])
				start = -1
			}
			continue
		}
		if start < 0 {
			start = i
		}
	}
	if start >= 0 {
		out = append(out, s[start:])
	}
	return out
}

// AuthorizationCode is a single-use grant minted by the authorization
// endpoint and consumed exactly once by the token endpoint.
type AuthorizationCode struct {
	Code        string
	ClientID    string
	RedirectURI string
	Scopes      []string
	Subject     string
	State       string

	// AdditionalInformation carries PKCE material, nonce, resource and the
	// pending id_token. See the Info* key constants.
	AdditionalInformation map[string]string

	CreatedAt time.Time
	ExpiresAt time.Time
	Used      bool
}

// Expired reports whether the code is past its expiry at the given instant.
func (c *AuthorizationCode) Expired(now time.Time) bool {
	return !c.ExpiresAt.IsZero() && now.After(c.ExpiresAt)
}

// AccessToken is an issued access token. A refresh token is optionally
// attached at issuance and independently persisted.
type AccessToken struct {
	Value         string
	TokenType     string
	Scopes        []string
	ClientID      string
	ApplicationID string
	Subject       string

	AdditionalInformation map[string]string

	// RefreshToken is the refresh token attached at issuance, nil when
	// none was generated.
	RefreshToken *RefreshToken

	CreatedAt time.Time
	ExpiresAt time.Time
}

// Expired reports whether the token is past its expiry at the given instant.
func (t *AccessToken) Expired(now time.Time) bool {
	return !t.ExpiresAt.IsZero() && now.After(t.ExpiresAt)
}

// ExpiresIn returns the remaining lifetime in whole seconds at the given
// instant, never negative.
func (t *AccessToken) ExpiresIn(now time.Time) int64 {
	if t.ExpiresAt.IsZero() {
		return 0
	}
	remaining := int64(t.ExpiresAt.Sub(now).Seconds())
	if remaining < 0 {
		return 0
	}
	return remaining
}

// HasScope reports membership of a scope token.
func (t *AccessToken) HasScope(scope string) bool {
	for _, s := range t.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// RefreshToken is an issued refresh token.
type RefreshToken struct {
	Value         string
	ApplicationID string

	// FamilyID identifies the rotation lineage. It is minted at first
	// issuance and carried across rotations, so reuse of a retired value
	// can be traced back to its family.
	FamilyID string

	AdditionalInformation map[string]string

	CreatedAt time.Time
	ExpiresAt time.Time
}

// Expired reports whether the token is past its expiry at the given instant.
func (t *RefreshToken) Expired(now time.Time) bool {
	return !t.ExpiresAt.IsZero() && now.After(t.ExpiresAt)
}

// Consent is a remembered resource-owner scope grant.
type Consent struct {
	ApplicationID string
	Subject       string
	Scopes        []string
	GrantedAt     time.Time
}
