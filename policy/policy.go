// Package policy defines the collaborator contract used by the authorization
// server for every pluggable decision point: client assertion validation,
// resource-owner authentication, consent authorization, request-object
// retrieval and validation, id_token generation, redirect generation, token
// transformation, and extension-grant decoding.
//
// A policy reports whether it is configured and, when invoked, returns a
// boolean outcome. Side-channel outputs (authenticated subject, scope
// decisions, generated tokens, a prepared interactive response) are written
// into the typed RequestContext shared between the engine and the policy.
// Returning (false, nil) with a prepared response means "stop processing and
// deliver this response to the caller" (e.g. a login-form redirect);
// returning an error aborts the request.
package policy

import (
	"context"
	"net/http"
	"net/url"
)

// Policy is the capability interface for all collaborator slots.
type Policy interface {
	// IsConfigured reports whether the policy can be invoked.
	IsConfigured() bool

	// Invoke runs the policy against the request context.
	Invoke(ctx context.Context, rc *RequestContext) (bool, error)
}

// Func adapts a function to a configured Policy.
type Func func(ctx context.Context, rc *RequestContext) (bool, error)

// IsConfigured always reports true for a non-nil Func.
func (f Func) IsConfigured() bool { return f != nil }

// Invoke runs the function.
func (f Func) Invoke(ctx context.Context, rc *RequestContext) (bool, error) {
	return f(ctx, rc)
}

// Configured reports whether a policy slot is usable. Nil-safe.
func Configured(p Policy) bool {
	return p != nil && p.IsConfigured()
}

// ClaimFilter reports whether a named public claim may appear in the token
// response. A policy installs one on the request context to redact claims
// past the internal-key stripping the engine always performs.
type ClaimFilter func(name string) bool

// Response is a prepared HTTP response a policy hands back when it takes
// over the interaction (login form, identity-provider redirect, consent
// page). The engine delivers it verbatim.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// RequestContext is the typed state shared between the engine and policy
// invocations for one request. It replaces the string-keyed message bag of
// classic gateway engines: every side channel is an explicit field.
type RequestContext struct {
	// ClientID is the resolved OAuth client, once known.
	ClientID string

	// GrantType is the grant being processed (token endpoint only).
	GrantType string

	// Parameters holds the parsed request parameters by name.
	Parameters map[string]string

	// ClientAssertion and ClientAssertionType carry the RFC7521 assertion
	// credential for the assertion-validation policy.
	ClientAssertion     string
	ClientAssertionType string

	// AuthorizationHeader is the raw Authorization header value, for
	// custom-scheme validation policies.
	AuthorizationHeader string

	// Subject is the authenticated subject produced by authentication
	// policies (resource owner or client assertion subject).
	Subject string

	// AuthMethods collects the client authentication methods established
	// so far. Assertion policies add the method they validated.
	AuthMethods map[string]bool

	// RequestedScopes is the working scope set for consent policies.
	RequestedScopes []string

	// AdditionalScopes lists scopes that were requested but not granted,
	// kept as consent-pending bookkeeping on the issued token.
	AdditionalScopes []string

	// MissingScopes lists the scopes still needing owner authorization
	// when the consent policy runs.
	MissingScopes []string

	// PersistentScopes, TransientScopes and DiscardedScopes are the
	// consent policy's decisions: remembered grants, session-only grants,
	// and explicit refusals.
	PersistentScopes []string
	TransientScopes  []string
	DiscardedScopes  []string

	// ScopeOverride, when OverrideScopes is set, replaces the requested
	// scope set after a scope-validation policy runs.
	ScopeOverride  []string
	OverrideScopes bool

	// RequestObject receives the raw JWT retrieved by the request_uri
	// retriever policy.
	RequestObject string

	// IDToken receives the signed id_token produced by the id_token
	// generation policy.
	IDToken string

	// IssuedTokenType receives the token-type decision of the token
	// transform policy.
	IssuedTokenType string

	// ClaimFilter, when set by a policy, restricts which public
	// additional-information claims appear in the token response.
	// Internal keys are always stripped regardless of the filter.
	ClaimFilter ClaimFilter

	// RedirectTarget, RedirectMode and RedirectParams are inputs to the
	// redirect-generation policy when direct URI construction does not
	// apply (form_post, out-of-band).
	RedirectTarget string
	RedirectMode   string
	RedirectParams url.Values

	// Prepared is the response to deliver when a policy returns false.
	Prepared *Response
}

// NewRequestContext creates an empty request context.
func NewRequestContext() *RequestContext {
	return &RequestContext{
		Parameters:  make(map[string]string),
		AuthMethods: make(map[string]bool),
	}
}

// SetAuthMethod records a client authentication method as used.
func (rc *RequestContext) SetAuthMethod(method string) {
	if rc.AuthMethods == nil {
		rc.AuthMethods = make(map[string]bool)
	}
	rc.AuthMethods[method] = true
}
