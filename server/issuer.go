package server

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/ksuid"

	oauth "github.com/oauthware/oauth-server"
	"github.com/oauthware/oauth-server/params"
	"github.com/oauthware/oauth-server/policy"
	"github.com/oauthware/oauth-server/storage"
)

// RotationChoice selects the refresh-token rotation behavior for one
// issuance. Exactly one choice applies per request.
type RotationChoice int

const (
	// RotationNew removes the old refresh token and mints a completely
	// new one. The default.
	RotationNew RotationChoice = iota

	// RotationPreserve keeps the existing refresh value and does not
	// touch the store.
	RotationPreserve

	// RotationSliding reissues the refresh token but keeps the old value,
	// rotating metadata while the identifier stays stable.
	RotationSliding
)

// issueOptions carries the per-issuance knobs into token generation.
type issueOptions struct {
	// ForceRefresh mints a refresh token regardless of policy
	ForceRefresh bool

	// SuppressRefresh prevents refresh issuance (implicit grant)
	SuppressRefresh bool

	// Rotation applies when PreviousRefresh is set
	Rotation        RotationChoice
	PreviousRefresh *storage.RefreshToken

	// AdditionalData is caller-supplied additional information, filtered
	// against the reserved keys before merging
	AdditionalData map[string]string

	// RequestedTokenType is the token-exchange requested_token_type, when
	// present
	RequestedTokenType string

	// IssuedTokenType marks exchange-minted tokens
	IssuedTokenType string
}

// resolveScopes performs scope resolution for the request, either through
// the scope validator policy or from the application's registration.
func (s *Server) resolveScopes(ctx context.Context, app *storage.ApplicationDetails, rc *policy.RequestContext) error {
	if policy.Configured(s.ScopeValidator) {
		ok, err := s.ScopeValidator.Invoke(ctx, rc)
		if err != nil {
			return oauth.AsOAuthError(err)
		}
		if !ok {
			return oauth.ErrInvalidScope("scope validation failed")
		}
		if rc.OverrideScopes {
			rc.RequestedScopes = rc.ScopeOverride
			rc.OverrideScopes = false
			rc.ScopeOverride = nil
		}
		return nil
	}

	if s.Config.RequireScopeValidator {
		return oauth.ErrInvalidScope("no scope validator is configured")
	}

	// Application mode: scope-empty requests fall back to the client's
	// default scopes
	if len(rc.RequestedScopes) == 0 {
		rc.RequestedScopes = append([]string(nil), app.DefaultScopes...)
		return nil
	}

	allowed := append([]string(nil), app.RegisteredScopes...)
	if containsScope(rc.RequestedScopes, "openid") {
		allowed = unionScopes(allowed, app.OpenIDScopes)
	}

	switch s.Config.ScopeMatchPolicy {
	case ScopeMatchSubset:
		if !scopesSubset(rc.RequestedScopes, allowed) {
			return oauth.ErrInvalidScope("requested scopes exceed the client registration")
		}
	default: // ScopeMatchIntersect
		granted := intersectScopes(rc.RequestedScopes, allowed)
		rc.AdditionalScopes = subtractScopes(rc.RequestedScopes, granted)
		rc.RequestedScopes = granted
	}
	return nil
}

// issueAccessToken mints, persists, and returns a fresh access token for
// the authenticated request. Refresh rotation, when applicable, happens
// before the new access token is persisted.
func (s *Server) issueAccessToken(ctx context.Context, app *storage.ApplicationDetails, rc *policy.RequestContext, auth *storage.Authentication, opts issueOptions) (*storage.AccessToken, error) {
	if policy.Configured(s.GrantValidator) {
		ok, err := s.GrantValidator.Invoke(ctx, rc)
		if err != nil {
			return nil, oauth.AsOAuthError(err)
		}
		if !ok {
			return nil, oauth.ErrInvalidGrant("grant validation failed")
		}
	}

	if s.Config.AccessTokenLength < minTokenLength {
		return nil, oauth.ErrServerError("configured access token length below minimum")
	}
	if s.Config.AccessTokenTTL <= 0 {
		return nil, oauth.ErrServerError("configured access token lifetime must be positive")
	}

	value, err := storage.NewTokenValue(s.Config.AccessTokenLength)
	if err != nil {
		return nil, oauth.ErrServerError("token generation failed")
	}

	now := time.Now()
	token := &storage.AccessToken{
		Value:         value,
		TokenType:     "Bearer",
		Scopes:        append([]string(nil), rc.RequestedScopes...),
		ClientID:      app.ClientID,
		ApplicationID: app.ApplicationID,
		Subject:       rc.Subject,
		CreatedAt:     now,
		ExpiresAt:     now.Add(s.Config.AccessTokenTTL),
	}

	token.AdditionalInformation = storage.MergeCallerInfo(nil, opts.AdditionalData)
	s.bindEngineInfo(token, rc, opts)

	if err := s.attachRefreshToken(ctx, token, rc, opts); err != nil {
		return nil, err
	}

	if err := s.transformTokenType(ctx, rc, opts); err != nil {
		return nil, err
	}

	// Rotation and refresh persistence precede the access token write
	if err := s.persistRefreshToken(ctx, token, auth, opts); err != nil {
		return nil, err
	}

	if err := s.tokens.StoreAccessToken(ctx, token, auth); err != nil {
		return nil, oauth.ErrServerError("failed to persist access token")
	}

	if s.instrumentation != nil {
		s.instrumentation.Metrics().RecordTokenIssued(ctx, app.ClientID, rc.GrantType)
	}

	return token, nil
}

// bindEngineInfo writes the engine-owned additional-information entries.
func (s *Server) bindEngineInfo(token *storage.AccessToken, rc *policy.RequestContext, opts issueOptions) {
	put := func(key, value string) {
		if value == "" {
			return
		}
		if token.AdditionalInformation == nil {
			token.AdditionalInformation = make(map[string]string)
		}
		token.AdditionalInformation[key] = value
	}

	put(storage.InfoNonce, rc.Parameters["nonce"])
	put(storage.InfoResource, rc.Parameters["resource"])
	put(storage.InfoAudience, rc.Parameters["audience"])
	put(storage.InfoIDToken, rc.IDToken)
	put(storage.InfoIssuedTokenType, opts.IssuedTokenType)

	if len(rc.AdditionalScopes) > 0 {
		if encoded, err := json.Marshal(rc.AdditionalScopes); err == nil {
			put(storage.InfoAdditionalScopes, string(encoded))
		}
	}
}

// attachRefreshToken decides whether a refresh token accompanies the access
// token, applies the rotation choice, and persists the result. Rotation
// store writes happen here, before the access token itself is stored.
func (s *Server) attachRefreshToken(ctx context.Context, token *storage.AccessToken, rc *policy.RequestContext, opts issueOptions) error {
	generate := opts.ForceRefresh
	if !generate {
		if !s.Config.AllowRefreshToken || opts.SuppressRefresh {
			return nil
		}
		if s.Config.RequireOfflineAccessScope && !token.HasScope("offline_access") {
			return nil
		}
		generate = true
	}
	if !generate {
		return nil
	}

	if opts.PreviousRefresh != nil && opts.Rotation == RotationPreserve {
		// Keep the existing value, do not touch the store
		token.RefreshToken = opts.PreviousRefresh
		return nil
	}

	if s.Config.RefreshTokenLength < minTokenLength {
		return oauth.ErrServerError("configured refresh token length below minimum")
	}
	if s.Config.RefreshTokenTTL <= s.Config.AccessTokenTTL {
		return oauth.ErrServerError("refresh token lifetime must exceed access token lifetime")
	}

	value, err := storage.NewTokenValue(s.Config.RefreshTokenLength)
	if err != nil {
		return oauth.ErrServerError("token generation failed")
	}

	familyID := ksuid.New().String()
	if opts.PreviousRefresh != nil {
		// Sliding keeps the identifier stable across the reissue
		if opts.Rotation == RotationSliding {
			value = opts.PreviousRefresh.Value
		}
		if opts.PreviousRefresh.FamilyID != "" {
			familyID = opts.PreviousRefresh.FamilyID
		}
		if err := s.tokens.RemoveRefreshToken(ctx, opts.PreviousRefresh.Value); err != nil {
			return oauth.ErrServerError("failed to rotate refresh token")
		}
	}

	now := time.Now()
	refresh := &storage.RefreshToken{
		Value:         value,
		ApplicationID: token.ApplicationID,
		FamilyID:      familyID,
		CreatedAt:     now,
		ExpiresAt:     now.Add(s.Config.RefreshTokenTTL),
	}
	// Refresh tokens inherit the access token's additional information
	if len(token.AdditionalInformation) > 0 {
		refresh.AdditionalInformation = make(map[string]string, len(token.AdditionalInformation))
		for k, v := range token.AdditionalInformation {
			refresh.AdditionalInformation[k] = v
		}
	}

	token.RefreshToken = refresh
	return nil
}

// transformTokenType runs the token transform policy when configured. The
// policy may substitute the issued token type; a decision inconsistent with
// the requested type fails the whole operation.
func (s *Server) transformTokenType(ctx context.Context, rc *policy.RequestContext, opts issueOptions) error {
	if !policy.Configured(s.TokenTransform) {
		return nil
	}

	ok, err := s.TokenTransform.Invoke(ctx, rc)
	if err != nil {
		return oauth.AsOAuthError(err)
	}
	if !ok {
		return oauth.ErrInvalidRequest("token transform rejected the request")
	}
	if opts.RequestedTokenType != "" && rc.IssuedTokenType != "" && rc.IssuedTokenType != opts.RequestedTokenType {
		// Fail closed rather than silently issuing the wrong type
		return oauth.ErrInvalidRequest("token transform produced a token type inconsistent with requested_token_type")
	}
	return nil
}

// persistRefreshToken stores the refresh token attached to an access token
// under the given authentication. Preserve rotation leaves the store
// untouched.
func (s *Server) persistRefreshToken(ctx context.Context, token *storage.AccessToken, auth *storage.Authentication, opts issueOptions) error {
	if token.RefreshToken == nil {
		return nil
	}
	if opts.PreviousRefresh != nil && opts.Rotation == RotationPreserve {
		return nil
	}
	if err := s.tokens.StoreRefreshToken(ctx, token.RefreshToken, auth); err != nil {
		return oauth.ErrServerError("failed to persist refresh token")
	}
	return nil
}

// buildTokenResponse shapes the public token response. Internal
// additional-information keys never appear in the output.
func (s *Server) buildTokenResponse(token *storage.AccessToken, rc *policy.RequestContext, opts issueOptions) *oauth.TokenResponse {
	resp := &oauth.TokenResponse{
		AccessToken: token.Value,
		TokenType:   token.TokenType,
		ExpiresIn:   token.ExpiresIn(time.Now()),
	}

	if token.RefreshToken != nil {
		resp.RefreshToken = token.RefreshToken.Value
	}
	if len(token.Scopes) > 0 {
		resp.Scope = params.JoinScopes(token.Scopes)
	}

	public := storage.PublicInfo(token.AdditionalInformation)
	if rc != nil && rc.ClaimFilter != nil {
		// The filter sees every public claim, id_token included, so a
		// policy can suppress it outright.
		for name := range public {
			if !rc.ClaimFilter(name) {
				delete(public, name)
			}
		}
	}
	if idToken, ok := public[storage.InfoIDToken]; ok {
		resp.IDToken = idToken
		delete(public, storage.InfoIDToken)
	}
	if len(public) > 0 {
		resp.Extra = public
	}

	switch opts.IssuedTokenType {
	case "":
	case oauth.TokenTypeRefreshToken:
		resp.IssuedTokenType = opts.IssuedTokenType
		resp.TokenType = "N_A"
	default:
		resp.IssuedTokenType = opts.IssuedTokenType
	}

	return resp
}

// minTokenLength is the entropy floor, in bytes, for access and refresh
// token values.
const minTokenLength = 8
