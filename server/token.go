package server

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"

	oauth "github.com/oauthware/oauth-server"
	"github.com/oauthware/oauth-server/params"
	"github.com/oauthware/oauth-server/policy"
	"github.com/oauthware/oauth-server/storage"
)

// grantParameterWhitelist maps each grant type to the parameters it accepts
// beyond the client authentication set. Unknown grant types, when accepted
// by the extended-grant predicate, get only the default set.
var grantParameterWhitelist = map[string][]string{
	oauth.GrantTypeAuthorizationCode: {params.Code, params.RedirectURI, params.CodeVerifier},
	oauth.GrantTypeClientCredentials: {params.Scope, params.Resource, params.Audience},
	oauth.GrantTypePassword:          {params.Username, params.Password, params.Scope},
	oauth.GrantTypeJWTBearer:         {params.Assertion, params.Scope},
	oauth.GrantTypeSAML2Bearer:       {params.Assertion, params.Scope},
	oauth.GrantTypeRefreshToken:      {params.RefreshToken, params.Scope},
	oauth.GrantTypeTokenExchange: {
		params.SubjectToken, params.SubjectTokenType,
		params.ActorToken, params.ActorTokenType,
		params.RequestedTokenType, params.Audience, params.Resource, params.Scope,
	},
}

// Token processes a token request and returns the token response. The token
// endpoint is a pure JSON API: errors are returned as values, never
// redirected.
func (s *Server) Token(ctx context.Context, r *http.Request) (*oauth.TokenResponse, error) {
	set, err := s.mergeRequest(r, params.ClientAuthParameters)
	if err != nil {
		return nil, err
	}

	grantType, err := set.Parse(params.GrantType, nil)
	if err != nil {
		return nil, err
	}
	if grantType == "" {
		return nil, oauth.ErrInvalidRequest("grant_type is required")
	}

	whitelist, known := grantParameterWhitelist[grantType]
	if !known {
		if s.Config.ExtendedGrants == nil || !s.Config.ExtendedGrants(grantType) {
			return nil, oauth.ErrUnsupportedGrantType("unsupported grant_type '%s'", grantType)
		}
		whitelist = nil
	}
	set.Register(whitelist...)

	rc := policy.NewRequestContext()
	rc.GrantType = grantType

	app, err := s.authenticateClient(ctx, r, set, rc)
	if err != nil {
		return nil, err
	}

	if err := set.ParseRemaining(); err != nil {
		return nil, err
	}

	if s.Config.EnforceGrantTypes && !app.AllowsGrantType(grantType) {
		return nil, oauth.ErrUnauthorizedClient("grant type not allowed for client")
	}

	for _, name := range []string{params.Resource, params.Audience} {
		if v := set.Get(name); v != "" {
			rc.Parameters[name] = v
		}
	}

	switch grantType {
	case oauth.GrantTypeAuthorizationCode:
		return s.grantAuthorizationCode(ctx, app, set, rc)
	case oauth.GrantTypeClientCredentials:
		return s.grantClientCredentials(ctx, app, set, rc)
	case oauth.GrantTypePassword, oauth.GrantTypeJWTBearer, oauth.GrantTypeSAML2Bearer:
		return s.grantPolicyAuthenticated(ctx, app, set, rc)
	case oauth.GrantTypeRefreshToken:
		return s.grantRefreshToken(ctx, app, set, rc)
	case oauth.GrantTypeTokenExchange:
		return s.grantTokenExchange(ctx, app, set, rc)
	default:
		return s.grantExtension(ctx, app, set, rc)
	}
}

// grantAuthorizationCode redeems a single-use authorization code.
func (s *Server) grantAuthorizationCode(ctx context.Context, app *storage.ApplicationDetails, set *params.Set, rc *policy.RequestContext) (*oauth.TokenResponse, error) {
	codeValue := set.Get(params.Code)
	if codeValue == "" {
		return nil, oauth.ErrInvalidRequest("code is required")
	}

	// Atomic redemption: concurrent attempts on the same code cannot both
	// get past this call
	code, err := s.codes.RedeemAuthorizationCode(ctx, codeValue)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.auditAuthFailure(app.ClientID, "code_redemption_miss")
			return nil, oauth.ErrInvalidGrant("authorization code is invalid or expired").WithStatus(http.StatusForbidden)
		}
		return nil, oauth.ErrServerError("code redemption failed")
	}

	if code.ClientID != app.ClientID {
		s.auditAuthFailure(app.ClientID, "code_client_mismatch")
		return nil, oauth.ErrInvalidGrant("authorization code was issued to another client").WithStatus(http.StatusForbidden)
	}

	if !redeemedRedirectURIMatches(code.RedirectURI, set.Get(params.RedirectURI)) {
		return nil, oauth.ErrInvalidGrant("redirect_uri does not match the authorization request")
	}

	challenge := code.AdditionalInformation[storage.InfoCodeChallenge]
	method := code.AdditionalInformation[storage.InfoCodeChallengeMethod]
	if err := verifyPKCE(set.Get(params.CodeVerifier), challenge, method); err != nil {
		if s.instrumentation != nil {
			s.instrumentation.Metrics().RecordPKCEValidationFailed(ctx, method)
		}
		return nil, err
	}

	rc.Subject = code.Subject
	rc.RequestedScopes = append([]string(nil), code.Scopes...)
	if nonce := code.AdditionalInformation[storage.InfoNonce]; nonce != "" {
		rc.Parameters[params.Nonce] = nonce
	}
	if resource := code.AdditionalInformation[storage.InfoResource]; resource != "" {
		rc.Parameters[params.Resource] = resource
	}
	rc.IDToken = code.AdditionalInformation[storage.InfoIDToken]

	auth := &storage.Authentication{
		Subject:  code.Subject,
		ClientID: app.ClientID,
		Request:  requestValues(set),
	}
	// The exchange request carries no scope parameter; the granted scopes
	// travel with the code and must bind to the authentication so a later
	// refresh can recover them.
	auth.Request.Set(params.Scope, strings.Join(code.Scopes, " "))

	opts := issueOptions{}
	token, err := s.issueAccessToken(ctx, app, rc, auth, opts)
	if err != nil {
		return nil, err
	}

	if s.instrumentation != nil {
		s.instrumentation.Metrics().RecordCodeExchange(ctx, app.ClientID, method)
	}

	return s.buildTokenResponse(token, rc, opts), nil
}

// grantClientCredentials issues a token for the client itself. Confidential
// clients only, unless public clients are explicitly allowed.
func (s *Server) grantClientCredentials(ctx context.Context, app *storage.ApplicationDetails, set *params.Set, rc *policy.RequestContext) (*oauth.TokenResponse, error) {
	if app.ClientType != "confidential" && !s.Config.AllowPublicClientCredentials {
		return nil, oauth.ErrUnauthorizedClient("client_credentials requires a confidential client")
	}

	// Client acts on its own behalf; there is no resource owner
	rc.Subject = app.ClientID

	if err := s.resolveRequestScopes(ctx, app, set, rc); err != nil {
		return nil, err
	}

	auth := &storage.Authentication{
		Subject:  app.ClientID,
		ClientID: app.ClientID,
		Request:  requestValues(set),
	}

	opts := issueOptions{SuppressRefresh: !s.Config.RefreshForClientCredentials}
	token, err := s.issueAccessToken(ctx, app, rc, auth, opts)
	if err != nil {
		return nil, err
	}
	return s.buildTokenResponse(token, rc, opts), nil
}

// grantPolicyAuthenticated covers password, jwt-bearer, and saml2-bearer:
// resource owner authentication is delegated to the grant authenticator
// policy, which must produce a non-empty subject.
func (s *Server) grantPolicyAuthenticated(ctx context.Context, app *storage.ApplicationDetails, set *params.Set, rc *policy.RequestContext) (*oauth.TokenResponse, error) {
	if !policy.Configured(s.GrantAuthenticator) {
		return nil, oauth.ErrUnsupportedGrantType("grant '%s' requires an authentication policy", rc.GrantType)
	}

	for _, name := range []string{params.Username, params.Password, params.Assertion} {
		if v := set.Get(name); v != "" {
			rc.Parameters[name] = v
		}
	}

	ok, err := s.GrantAuthenticator.Invoke(ctx, rc)
	if err != nil {
		return nil, oauth.AsOAuthError(err)
	}
	if !ok || rc.Subject == "" {
		s.auditAuthFailure(app.ClientID, "owner_authentication_failed")
		return nil, oauth.ErrInvalidGrant("resource owner authentication failed")
	}

	if err := s.resolveRequestScopes(ctx, app, set, rc); err != nil {
		return nil, err
	}
	if err := s.applyOwnerConsent(ctx, app, rc, s.ConsentAuthorizer); err != nil {
		return nil, err
	}

	auth := &storage.Authentication{
		Subject:  rc.Subject,
		ClientID: app.ClientID,
		Request:  requestValues(set),
	}

	opts := issueOptions{}
	token, err := s.issueAccessToken(ctx, app, rc, auth, opts)
	if err != nil {
		return nil, err
	}
	return s.buildTokenResponse(token, rc, opts), nil
}

// grantRefreshToken redeems a refresh token, applying the configured
// rotation choice and the scope narrowing rule.
func (s *Server) grantRefreshToken(ctx context.Context, app *storage.ApplicationDetails, set *params.Set, rc *policy.RequestContext) (*oauth.TokenResponse, error) {
	value := set.Get(params.RefreshToken)
	if value == "" {
		return nil, oauth.ErrInvalidRequest("refresh_token is required")
	}

	rotation := s.Config.RefreshRotation

	var refresh *storage.RefreshToken
	var err error
	if rotation == RotationPreserve {
		refresh, err = s.tokens.ReadRefreshToken(ctx, value)
	} else {
		// Atomic consume: concurrent redemptions cannot both succeed.
		// This runs before the client-ownership check, so a token
		// presented by the wrong authenticated client is destroyed
		// rather than surviving for its rightful holder. Burn on touch
		// is intentional: a value in a second party's hands is already
		// compromised.
		refresh, err = s.tokens.RedeemRefreshToken(ctx, value)
	}
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.auditAuthFailure(app.ClientID, "refresh_redemption_miss")
			return nil, oauth.ErrInvalidGrant("refresh token is invalid or expired").WithStatus(http.StatusForbidden)
		}
		return nil, oauth.ErrServerError("refresh token lookup failed")
	}

	// Re-derive the authentication the token was issued under. A missing
	// record is a data consistency violation, not a client error.
	auth, err := s.tokens.ReadAuthenticationForRefreshToken(ctx, value)
	if err != nil {
		return nil, oauth.ErrServerError("no authentication bound to refresh token")
	}
	if auth.ClientID != app.ClientID {
		reason := "refresh_client_mismatch"
		if rotation != RotationPreserve {
			// The redemption above already burned the presented value.
			reason = "refresh_client_mismatch_burned"
		}
		s.auditAuthFailure(app.ClientID, reason)
		return nil, oauth.ErrInvalidGrant("refresh token was issued to another client").WithStatus(http.StatusForbidden)
	}

	granted := auth.RequestedScopes()
	requested, err := params.SplitScopes(set.Get(params.Scope))
	if err != nil {
		return nil, err
	}
	if len(requested) > 0 {
		if !scopesSubset(requested, granted) {
			return nil, oauth.ErrInvalidScope("requested scope exceeds the original grant")
		}
		rc.RequestedScopes = requested
	} else {
		rc.RequestedScopes = granted
	}
	rc.Subject = auth.Subject

	opts := issueOptions{
		ForceRefresh:    true,
		Rotation:        rotation,
		PreviousRefresh: refresh,
	}
	token, err := s.issueAccessToken(ctx, app, rc, auth, opts)
	if err != nil {
		return nil, err
	}

	if s.instrumentation != nil {
		s.instrumentation.Metrics().RecordTokenRefresh(ctx, app.ClientID, rotation != RotationPreserve)
	}

	return s.buildTokenResponse(token, rc, opts), nil
}

// grantTokenExchange implements the RFC8693 token exchange grant.
func (s *Server) grantTokenExchange(ctx context.Context, app *storage.ApplicationDetails, set *params.Set, rc *policy.RequestContext) (*oauth.TokenResponse, error) {
	subjectToken := set.Get(params.SubjectToken)
	subjectTokenType := set.Get(params.SubjectTokenType)
	if subjectToken == "" || subjectTokenType == "" {
		return nil, oauth.ErrInvalidRequest("subject_token and subject_token_type are required")
	}

	subjectAuth, matched, err := s.resolveExchangeToken(ctx, subjectToken, subjectTokenType)
	if err != nil {
		return nil, err
	}
	if !matched {
		// Unrecognized internal type: fall back to policy authentication
		if !policy.Configured(s.GrantAuthenticator) {
			return nil, oauth.ErrInvalidGrant("unsupported subject_token_type '%s'", subjectTokenType)
		}
		rc.Parameters[params.SubjectToken] = subjectToken
		rc.Parameters[params.SubjectTokenType] = subjectTokenType
		ok, err := s.GrantAuthenticator.Invoke(ctx, rc)
		if err != nil {
			return nil, oauth.AsOAuthError(err)
		}
		if !ok || rc.Subject == "" {
			return nil, oauth.ErrInvalidGrant("subject token authentication failed")
		}
	} else if subjectAuth != nil {
		if subjectAuth.ClientOnly() {
			// Client-only subject tokens carry no resource owner binding
			rc.Subject = app.ClientID
		} else {
			rc.Subject = subjectAuth.Subject
		}
	}

	// Actor token, when present, follows the identical validation shape
	if actorToken := set.Get(params.ActorToken); actorToken != "" {
		actorTokenType := set.Get(params.ActorTokenType)
		if actorTokenType == "" {
			return nil, oauth.ErrInvalidRequest("actor_token_type is required with actor_token")
		}
		if _, actorMatched, err := s.resolveExchangeToken(ctx, actorToken, actorTokenType); err != nil {
			return nil, err
		} else if !actorMatched {
			return nil, oauth.ErrInvalidGrant("unsupported actor_token_type '%s'", actorTokenType)
		}
	}

	requestedType := set.Get(params.RequestedTokenType)
	issuedType := oauth.TokenTypeAccessToken
	forceRefresh := false
	if requestedType == oauth.TokenTypeRefreshToken {
		// A refresh-shaped exchange overrides the refresh issuance policy
		issuedType = oauth.TokenTypeRefreshToken
		forceRefresh = true
	}

	if err := s.resolveRequestScopes(ctx, app, set, rc); err != nil {
		return nil, err
	}
	if err := s.applyOwnerConsent(ctx, app, rc, s.ConsentAuthorizer); err != nil {
		return nil, err
	}

	auth := &storage.Authentication{
		Subject:  rc.Subject,
		ClientID: app.ClientID,
		Request:  requestValues(set),
	}

	opts := issueOptions{
		ForceRefresh:       forceRefresh,
		RequestedTokenType: requestedType,
		IssuedTokenType:    issuedType,
	}
	token, err := s.issueAccessToken(ctx, app, rc, auth, opts)
	if err != nil {
		return nil, err
	}
	return s.buildTokenResponse(token, rc, opts), nil
}

// resolveExchangeToken resolves an RFC8693 subject or actor token of an
// internally recognized type. matched reports whether the type was
// recognized at all; a recognized type that fails to resolve to a live
// token is invalid_grant.
func (s *Server) resolveExchangeToken(ctx context.Context, value, tokenType string) (*storage.Authentication, bool, error) {
	switch tokenType {
	case oauth.TokenTypeAccessToken:
		if _, err := s.tokens.ReadAccessToken(ctx, value); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return nil, true, oauth.ErrInvalidGrant("subject token is invalid or expired")
			}
			return nil, true, oauth.ErrServerError("subject token lookup failed")
		}
		auth, err := s.tokens.ReadAuthenticationFromToken(ctx, value)
		if err != nil {
			return nil, true, oauth.ErrServerError("no authentication bound to subject token")
		}
		return auth, true, nil

	case oauth.TokenTypeRefreshToken:
		if _, err := s.tokens.ReadRefreshToken(ctx, value); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return nil, true, oauth.ErrInvalidGrant("subject token is invalid or expired")
			}
			return nil, true, oauth.ErrServerError("subject token lookup failed")
		}
		auth, err := s.tokens.ReadAuthenticationForRefreshToken(ctx, value)
		if err != nil {
			return nil, true, oauth.ErrServerError("no authentication bound to subject token")
		}
		return auth, true, nil

	default:
		return nil, false, nil
	}
}

// grantExtension handles grant types admitted by the extended-grant
// predicate: a grant decoder and a grant authenticator policy run in that
// order, and both must succeed.
func (s *Server) grantExtension(ctx context.Context, app *storage.ApplicationDetails, set *params.Set, rc *policy.RequestContext) (*oauth.TokenResponse, error) {
	if !policy.Configured(s.GrantDecoder) || !policy.Configured(s.GrantAuthenticator) {
		return nil, oauth.ErrUnsupportedGrantType("extension grant '%s' has no decoder or authenticator", rc.GrantType)
	}

	for name, value := range set.Values() {
		rc.Parameters[name] = value
	}

	ok, err := s.GrantDecoder.Invoke(ctx, rc)
	if err != nil {
		return nil, oauth.AsOAuthError(err)
	}
	if !ok {
		return nil, oauth.ErrInvalidGrant("grant decoding failed")
	}

	ok, err = s.GrantAuthenticator.Invoke(ctx, rc)
	if err != nil {
		return nil, oauth.AsOAuthError(err)
	}
	if !ok || rc.Subject == "" {
		return nil, oauth.ErrInvalidGrant("grant authentication failed")
	}

	if err := s.resolveRequestScopes(ctx, app, set, rc); err != nil {
		return nil, err
	}
	if err := s.applyOwnerConsent(ctx, app, rc, s.ConsentAuthorizer); err != nil {
		return nil, err
	}

	auth := &storage.Authentication{
		Subject:  rc.Subject,
		ClientID: app.ClientID,
		Request:  requestValues(set),
	}

	opts := issueOptions{}
	token, err := s.issueAccessToken(ctx, app, rc, auth, opts)
	if err != nil {
		return nil, err
	}
	return s.buildTokenResponse(token, rc, opts), nil
}

// resolveRequestScopes splits the scope parameter and runs scope
// resolution.
func (s *Server) resolveRequestScopes(ctx context.Context, app *storage.ApplicationDetails, set *params.Set, rc *policy.RequestContext) error {
	scopes, err := params.SplitScopes(set.Get(params.Scope))
	if err != nil {
		return err
	}
	rc.RequestedScopes = scopes
	return s.resolveScopes(ctx, app, rc)
}

// requestValues snapshots the parsed parameters as url.Values for the
// authentication record, omitting credential material.
func requestValues(set *params.Set) url.Values {
	values := url.Values{}
	for name, value := range set.Values() {
		switch name {
		case params.ClientSecret, params.Password, params.ClientAssertion:
			continue
		}
		values.Set(name, value)
	}
	return values
}
