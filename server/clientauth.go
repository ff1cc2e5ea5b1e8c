package server

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"

	oauth "github.com/oauthware/oauth-server"
	"github.com/oauthware/oauth-server/params"
	"github.com/oauthware/oauth-server/policy"
	"github.com/oauthware/oauth-server/storage"
)

// dummyBcryptHash keeps secret comparison constant-work for unknown clients
// (bcrypt hash of "test").
const dummyBcryptHash = "$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy"

// clientCredentials is the raw credential material extracted from a token
// request before client resolution.
type clientCredentials struct {
	// Basic auth pair, when the Authorization header carried Basic
	basicClientID string
	basicSecret   string

	// Custom scheme material delegated to the signature validator policy
	customScheme bool

	// Form/JSON credentials
	bodyClientID string
	bodySecret   string

	// Client assertion material
	assertion     string
	assertionType string

	// attempted records whether any credential was presented. The
	// invalid_client status split (401 when credentials were attempted,
	// 403 when none ever were) depends on it.
	attempted bool

	// queryHasSecret flags a client_secret arriving on the query string
	queryHasSecret bool
}

// invalidClient builds the invalid_client error with the status split
// applied: 401 when a credential was attempted, 403 when none was.
func invalidClient(attempted bool, format string, args ...interface{}) *oauth.OAuthError {
	err := oauth.ErrInvalidClient(format, args...)
	if !attempted {
		return err.WithStatus(http.StatusForbidden)
	}
	return err
}

// authenticateClient resolves and authenticates the calling OAuth client
// from the Authorization header, body credentials, or a client assertion.
// On success the resolved application is returned and rc carries the
// authentication methods that were actually used.
func (s *Server) authenticateClient(ctx context.Context, r *http.Request, set *params.Set, rc *policy.RequestContext) (*storage.ApplicationDetails, error) {
	// Credential parameters must be resolved before extraction; the set
	// only exposes parsed values. Already-parsed names are left alone,
	// re-parsing would consume them.
	for _, name := range params.ClientAuthParameters {
		if set.Parsed(name) {
			continue
		}
		if _, err := set.Parse(name, nil); err != nil {
			return nil, err
		}
	}

	creds, err := s.extractClientCredentials(ctx, r, set, rc)
	if err != nil {
		return nil, err
	}

	// client_id from the Basic header and from the body must agree
	if creds.basicClientID != "" && creds.bodyClientID != "" && creds.basicClientID != creds.bodyClientID {
		return nil, oauth.ErrInvalidRequest("client_id mismatch between Authorization header and request body")
	}

	clientID := creds.basicClientID
	if clientID == "" {
		clientID = creds.bodyClientID
	}

	secret := creds.basicSecret
	if secret == "" {
		secret = creds.bodySecret
	}

	policyAuthenticated := rc.Subject != ""

	if creds.assertion != "" {
		if secret != "" {
			return nil, oauth.ErrInvalidRequest("client_assertion is mutually exclusive with client_secret")
		}
		subject, err := s.validateClientAssertion(ctx, creds, rc)
		if err != nil {
			return nil, err
		}
		// RFC 7521 section 4.2: the assertion subject must identify the
		// client making the request
		if clientID == "" {
			clientID = subject
		} else if clientID != subject {
			return nil, oauth.ErrInvalidRequest("client_assertion subject does not match client_id")
		}
		policyAuthenticated = true
	} else if creds.assertionType != "" {
		return nil, oauth.ErrInvalidRequest("client_assertion_type requires client_assertion")
	}

	if clientID == "" && policyAuthenticated {
		clientID = rc.Subject
	}
	if clientID == "" {
		return nil, oauth.ErrInvalidRequest("client_id is required")
	}
	rc.ClientID = clientID

	app, err := s.applications.GetByClientID(ctx, clientID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			// Constant-work comparison even when the client is unknown
			_ = bcrypt.CompareHashAndPassword([]byte(dummyBcryptHash), []byte(secret))
			s.auditAuthFailure(clientID, "unknown_client")
			return nil, invalidClient(creds.attempted, "unknown client")
		}
		return nil, oauth.ErrServerError("client lookup failed")
	}

	if s.Config.EnforceAuthMethods {
		if !app.AllowsAuthMethod(rc.AuthMethods) {
			s.auditAuthFailure(clientID, "auth_method_not_allowed")
			return nil, invalidClient(creds.attempted, "authentication method not allowed for client")
		}
	}

	hasCredential := secret != "" || policyAuthenticated
	confidential := app.ClientType == "confidential"
	if !hasCredential {
		if confidential || s.Config.ForceClientSecret {
			s.auditAuthFailure(clientID, "missing_client_credentials")
			return nil, invalidClient(creds.attempted, "client authentication required")
		}
		return app, nil
	}

	if secret != "" {
		hash := app.ClientSecretHash
		if hash == "" {
			hash = dummyBcryptHash
		}
		compareErr := bcrypt.CompareHashAndPassword([]byte(hash), []byte(secret))
		if app.ClientSecretHash == "" || compareErr != nil {
			s.auditAuthFailure(clientID, "invalid_client_secret")
			return nil, invalidClient(creds.attempted, "invalid client credentials")
		}
	}

	return app, nil
}

// extractClientCredentials pulls credential material out of the request
// without resolving the client.
func (s *Server) extractClientCredentials(ctx context.Context, r *http.Request, set *params.Set, rc *policy.RequestContext) (*clientCredentials, error) {
	creds := &clientCredentials{
		bodyClientID:  set.Get(params.ClientID),
		bodySecret:    set.Get(params.ClientSecret),
		assertion:     set.Get(params.ClientAssertion),
		assertionType: set.Get(params.ClientAssertionType),
	}

	if r != nil {
		if r.URL != nil && r.URL.Query().Get(params.ClientSecret) != "" {
			creds.queryHasSecret = true
		}

		header := r.Header.Get("Authorization")
		if header != "" {
			creds.attempted = true
			if err := s.parseAuthorizationHeader(ctx, header, creds, rc); err != nil {
				return nil, err
			}
		}
	}

	if creds.queryHasSecret && !s.Config.AllowClientSecretInQuery {
		return nil, oauth.ErrInvalidRequest("client_secret must not be sent in the query string")
	}

	if creds.basicSecret != "" && creds.bodySecret != "" {
		return nil, oauth.ErrInvalidRequest("client_secret present in both Authorization header and request body")
	}

	if creds.bodySecret != "" {
		creds.attempted = true
		rc.SetAuthMethod(oauth.AuthMethodClientSecretPost)
	}
	if creds.assertion != "" {
		creds.attempted = true
	}

	return creds, nil
}

// parseAuthorizationHeader handles the Basic scheme inline and delegates
// every other non-empty scheme to the signature validator policy.
func (s *Server) parseAuthorizationHeader(ctx context.Context, header string, creds *clientCredentials, rc *policy.RequestContext) error {
	scheme, value, _ := strings.Cut(header, " ")
	value = strings.TrimSpace(value)
	if scheme == "" {
		return oauth.ErrInvalidRequest("malformed Authorization header")
	}

	if strings.EqualFold(scheme, "Basic") {
		decoded, err := base64.StdEncoding.DecodeString(value)
		if err != nil {
			return oauth.ErrInvalidRequest("malformed Basic authorization value").WithStatus(http.StatusUnauthorized)
		}
		login, password, found := strings.Cut(string(decoded), ":")
		if !found || login == "" || password == "" {
			return oauth.ErrInvalidRequest("Basic authorization requires a non-empty login and password").WithStatus(http.StatusUnauthorized)
		}
		creds.basicClientID = login
		creds.basicSecret = password
		rc.SetAuthMethod(oauth.AuthMethodClientSecretBasic)
		return nil
	}

	// Custom scheme: a signature validator policy must authenticate the
	// caller and populate the subject
	if !policy.Configured(s.SignatureValidator) {
		return oauth.ErrInvalidRequest("unsupported authorization scheme '%s'", scheme)
	}
	creds.customScheme = true
	rc.AuthorizationHeader = header
	ok, err := s.SignatureValidator.Invoke(ctx, rc)
	if err != nil {
		return oauth.AsOAuthError(err)
	}
	if !ok || rc.Subject == "" {
		return oauth.ErrInvalidClient("signature validation failed")
	}
	return nil
}

// validateClientAssertion runs the assertion validator policy and returns
// the authenticated subject.
func (s *Server) validateClientAssertion(ctx context.Context, creds *clientCredentials, rc *policy.RequestContext) (string, error) {
	if creds.assertionType == "" {
		return "", oauth.ErrInvalidRequest("client_assertion_type is required")
	}
	if !policy.Configured(s.AssertionValidator) {
		return "", oauth.ErrInvalidRequest("client assertions are not supported")
	}

	rc.ClientAssertion = creds.assertion
	rc.ClientAssertionType = creds.assertionType

	ok, err := s.AssertionValidator.Invoke(ctx, rc)
	if err != nil {
		return "", oauth.AsOAuthError(err)
	}
	if !ok || rc.Subject == "" {
		return "", oauth.ErrInvalidClient("client assertion validation failed")
	}
	return rc.Subject, nil
}
