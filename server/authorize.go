package server

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwt"

	oauth "github.com/oauthware/oauth-server"
	"github.com/oauthware/oauth-server/params"
	"github.com/oauthware/oauth-server/policy"
	"github.com/oauthware/oauth-server/storage"
)

// authorizeState is the accumulating state of one authorization request.
// app and redirectURI, once resolved, make later errors redirectable.
type authorizeState struct {
	set *params.Set
	rc  *policy.RequestContext

	app           *storage.ApplicationDetails
	redirectURI   string
	responseMode  string
	responseTypes []string
	state         string
}

// Authorize processes an authorization request end to end and returns
// either a redirect response or an error.
//
// Errors raised after the client and redirect target have been resolved are
// delivered to the client through the redirect path; earlier errors surface
// directly to the caller.
func (s *Server) Authorize(ctx context.Context, r *http.Request) (*redirectResponse, error) {
	set, err := s.mergeRequest(r, params.AuthorizeParameters)
	if err != nil {
		return nil, err
	}

	st := &authorizeState{
		set: set,
		rc:  policy.NewRequestContext(),
	}

	resp, ferr := s.authorize(ctx, r, st)
	if ferr == nil {
		return resp, nil
	}

	oerr := oauth.AsOAuthError(ferr)
	if oerr.Status >= http.StatusInternalServerError {
		s.Logger.Error("Authorization request failed", "error", ferr)
	}

	// Downgrade to an error redirect only when both a registered client
	// and a usable redirect target were resolved
	if st.app == nil || st.redirectURI == "" {
		return nil, oerr
	}

	mode := st.responseMode
	if mode == "" {
		mode = defaultResponseMode(st.responseTypes)
	}
	redirect, rerr := s.assembleRedirect(ctx, st.redirectURI, mode, st.state, errorResult(oerr), st.rc)
	if rerr != nil {
		return nil, oerr
	}
	return redirect, nil
}

func (s *Server) authorize(ctx context.Context, r *http.Request, st *authorizeState) (*redirectResponse, error) {
	set, rc := st.set, st.rc

	if s.instrumentation != nil {
		s.instrumentation.Metrics().RecordAuthorizationStarted(ctx, set.Get(params.ClientID))
	}

	// Early parse so later errors can still redirect
	clientID, err := set.Parse(params.ClientID, nil)
	if err != nil {
		return nil, err
	}
	requestedRedirect, err := set.Parse(params.RedirectURI, nil)
	if err != nil {
		return nil, err
	}
	if clientID == "" {
		return nil, oauth.ErrInvalidRequest("client_id is required")
	}

	app, err := s.applications.GetByClientID(ctx, clientID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, oauth.ErrInvalidRequest("unknown client")
		}
		return nil, oauth.ErrServerError("client lookup failed")
	}
	rc.ClientID = clientID

	redirectURI, err := resolveRedirectURI(app, requestedRedirect)
	if err != nil {
		return nil, err
	}
	// Redirectable from here on
	st.app = app
	st.redirectURI = redirectURI

	if _, err := set.Parse(params.ResponseMode, nil); err != nil {
		return nil, err
	}
	if _, err := set.Parse(params.ResponseType, nil); err != nil {
		return nil, err
	}

	if err := s.applyRequestObject(ctx, set, rc); err != nil {
		return nil, err
	}

	// Sweep every registered-but-unparsed parameter; the first failure is
	// deferred until the whole sweep completes
	if err := set.ParseRemaining(); err != nil {
		return nil, err
	}

	st.state = set.Get(params.State)
	st.responseMode = set.Get(params.ResponseMode)

	responseType := set.Get(params.ResponseType)
	if responseType == "" {
		return nil, oauth.ErrInvalidRequest("response_type is required")
	}
	responseTypes, err := params.SplitResponseTypes(responseType)
	if err != nil {
		return nil, err
	}
	st.responseTypes = responseTypes

	if err := requireNonce(set, responseTypes); err != nil {
		return nil, err
	}

	if s.Config.EnforceResponseTypes && !app.AllowsResponseTypes(responseTypes) {
		return nil, oauth.ErrUnauthorizedClient("response type not allowed for client")
	}

	wantsCode := containsScope(responseTypes, oauth.ResponseTypeCode)
	challenge := set.Get(params.CodeChallenge)
	challengeMethod := set.Get(params.CodeChallengeMethod)
	if wantsCode && s.Config.ForcePKCE && challenge == "" {
		return nil, oauth.ErrInvalidRequest("code_challenge is required")
	}
	if challenge != "" && challengeMethod == "" {
		challengeMethod = oauth.PKCEMethodPlain
	}
	if challengeMethod == oauth.PKCEMethodPlain && challenge != "" && !s.Config.AllowPKCEPlain {
		return nil, oauth.ErrInvalidRequest("code_challenge_method 'plain' is not accepted, use S256")
	}

	scopes, err := params.SplitScopes(set.Get(params.Scope))
	if err != nil {
		return nil, err
	}
	rc.RequestedScopes = scopes
	if err := s.resolveScopes(ctx, app, rc); err != nil {
		return nil, err
	}
	for _, name := range []string{params.Nonce, params.Resource, params.Audience, params.Prompt, params.Display} {
		if v := set.Get(name); v != "" {
			rc.Parameters[name] = v
		}
	}

	// Resource owner authentication. A false return with a prepared
	// response is a legitimate interactive step (login form), propagated
	// verbatim.
	if !policy.Configured(s.OwnerAuthenticator) {
		return nil, oauth.ErrTemporarilyUnavailable("resource owner authentication is not available")
	}
	ok, err := s.OwnerAuthenticator.Invoke(ctx, rc)
	if err != nil {
		return nil, oauth.AsOAuthError(err)
	}
	if !ok {
		if rc.Prepared != nil {
			return &redirectResponse{Prepared: rc.Prepared}, nil
		}
		return nil, oauth.ErrAccessDenied("resource owner authentication failed")
	}
	if rc.Subject == "" {
		return nil, oauth.ErrAccessDenied("no authenticated resource owner")
	}

	if err := s.applyOwnerConsent(ctx, app, rc, s.ConsentAuthorizer); err != nil {
		return nil, err
	}

	result := &authorizeResult{}

	if idTokenRequested(responseTypes) {
		if err := s.generateIDToken(ctx, rc); err != nil {
			return nil, err
		}
	}

	if wantsCode {
		code, err := s.issueAuthorizationCode(ctx, st, challenge, challengeMethod)
		if err != nil {
			return nil, err
		}
		result.add("code", code.Code)
	}

	if containsScope(responseTypes, oauth.ResponseTypeToken) {
		auth := s.newAuthentication(st)
		// Implicit grant must never produce a refresh token
		token, err := s.issueAccessToken(ctx, app, rc, auth, issueOptions{SuppressRefresh: true})
		if err != nil {
			return nil, err
		}
		result.add("access_token", token.Value)
		result.add("token_type", token.TokenType)
		result.add("expires_in", strconv.FormatInt(token.ExpiresIn(time.Now()), 10))
		if len(token.Scopes) > 0 {
			result.add("scope", params.JoinScopes(token.Scopes))
		}
	}

	if idTokenRequested(responseTypes) {
		result.add("id_token", rc.IDToken)
	}

	mode := st.responseMode
	if mode == "" {
		mode = defaultResponseMode(responseTypes)
	}
	return s.assembleRedirect(ctx, st.redirectURI, mode, st.state, result, rc)
}

// generateIDToken runs the id_token generation policy and checks the
// produced value parses as a signed object. A missing or unparseable
// id_token is a server fault, not a client error.
func (s *Server) generateIDToken(ctx context.Context, rc *policy.RequestContext) error {
	if !policy.Configured(s.IDTokenGenerator) {
		return oauth.ErrServerError("id_token generation is not available")
	}
	ok, err := s.IDTokenGenerator.Invoke(ctx, rc)
	if err != nil {
		return oauth.AsOAuthError(err)
	}
	if !ok || rc.IDToken == "" {
		return oauth.ErrServerError("id_token generation failed")
	}
	if _, err := jwt.ParseInsecure([]byte(rc.IDToken)); err != nil {
		return oauth.ErrServerError("generated id_token is not a signed object")
	}
	return nil
}

// issueAuthorizationCode mints and stores a single-use code with the PKCE,
// nonce, resource, and pending id_token material bound into its
// additional-information map.
func (s *Server) issueAuthorizationCode(ctx context.Context, st *authorizeState, challenge, challengeMethod string) (*storage.AuthorizationCode, error) {
	if s.Config.AuthCodeLength < minTokenLength {
		return nil, oauth.ErrServerError("configured authorization code length below minimum")
	}

	value, err := storage.NewTokenValue(s.Config.AuthCodeLength)
	if err != nil {
		return nil, oauth.ErrServerError("code generation failed")
	}

	info := make(map[string]string)
	if challenge != "" {
		info[storage.InfoCodeChallenge] = challenge
		info[storage.InfoCodeChallengeMethod] = challengeMethod
	}
	if nonce := st.set.Get(params.Nonce); nonce != "" {
		info[storage.InfoNonce] = nonce
	}
	if resource := st.set.Get(params.Resource); resource != "" {
		info[storage.InfoResource] = resource
	}
	if st.rc.IDToken != "" {
		info[storage.InfoIDToken] = st.rc.IDToken
	}

	now := time.Now()
	code := &storage.AuthorizationCode{
		Code:                  value,
		ClientID:              st.app.ClientID,
		RedirectURI:           st.redirectURI,
		Scopes:                append([]string(nil), st.rc.RequestedScopes...),
		Subject:               st.rc.Subject,
		State:                 st.state,
		AdditionalInformation: info,
		CreatedAt:             now,
		ExpiresAt:             now.Add(s.Config.AuthCodeTTL),
	}

	if err := s.codes.Add(ctx, code); err != nil {
		return nil, oauth.ErrServerError("failed to persist authorization code")
	}
	return code, nil
}

// newAuthentication binds the current request to issued tokens.
func (s *Server) newAuthentication(st *authorizeState) *storage.Authentication {
	request := url.Values{}
	for name, value := range st.set.Values() {
		request.Set(name, value)
	}
	return &storage.Authentication{
		Subject:  st.rc.Subject,
		ClientID: st.app.ClientID,
		Request:  request,
	}
}
