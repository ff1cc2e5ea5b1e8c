package server

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	oauth "github.com/oauthware/oauth-server"
	"github.com/oauthware/oauth-server/policy"
)

// resultField is one entry of the authorize result payload. Order is
// significant: state is always appended last when present.
type resultField struct {
	name  string
	value string
}

// authorizeResult collects the authorize-endpoint outcome before redirect
// assembly.
type authorizeResult struct {
	fields []resultField
}

func (r *authorizeResult) add(name, value string) {
	if value == "" {
		return
	}
	r.fields = append(r.fields, resultField{name: name, value: value})
}

// redirectResponse is the assembled authorize-endpoint response: either a
// Location redirect or a policy-prepared body.
type redirectResponse struct {
	Location string
	Prepared *policy.Response
}

// defaultResponseMode returns the response mode mandated by the response
// types when the request did not select one: query for code-or-none flows,
// fragment whenever a token or id_token travels in the response.
func defaultResponseMode(responseTypes []string) string {
	for _, rt := range responseTypes {
		if rt != oauth.ResponseTypeCode && rt != oauth.ResponseTypeNone {
			return oauth.ResponseModeFragment
		}
	}
	return oauth.ResponseModeQuery
}

// assembleRedirect builds the redirect for a query or fragment response
// mode, or defers to the redirect-generation policy for anything else
// (form_post, out-of-band target).
//
// The result fields are copied in order onto the query or fragment, and
// state, when present, is always appended last. A state is never
// synthesized.
func (s *Server) assembleRedirect(ctx context.Context, target, mode, state string, result *authorizeResult, rc *policy.RequestContext) (*redirectResponse, error) {
	directMode := mode == oauth.ResponseModeQuery || mode == oauth.ResponseModeFragment
	if !directMode || target == oauth.OutOfBandRedirectURI {
		return s.policyRedirect(ctx, target, mode, state, result, rc)
	}

	base, err := url.Parse(target)
	if err != nil {
		return nil, oauth.ErrInvalidRequest("redirect_uri is not a valid URI")
	}

	var pairs []string
	if mode == oauth.ResponseModeQuery && base.RawQuery != "" {
		pairs = append(pairs, base.RawQuery)
	}
	for _, f := range result.fields {
		pairs = append(pairs, url.QueryEscape(f.name)+"="+url.QueryEscape(f.value))
	}
	if state != "" {
		pairs = append(pairs, "state="+url.QueryEscape(state))
	}
	encoded := strings.Join(pairs, "&")

	switch mode {
	case oauth.ResponseModeQuery:
		base.RawQuery = encoded
		base.Fragment = ""
	case oauth.ResponseModeFragment:
		base.Fragment = ""
		base.RawFragment = ""
		return &redirectResponse{Location: base.String() + "#" + encoded}, nil
	}
	return &redirectResponse{Location: base.String()}, nil
}

// policyRedirect hands response delivery to the redirect-generation policy.
// The original request headers and body are not exposed to the policy; it
// only sees the assembled result parameters.
func (s *Server) policyRedirect(ctx context.Context, target, mode, state string, result *authorizeResult, rc *policy.RequestContext) (*redirectResponse, error) {
	if !policy.Configured(s.RedirectGenerator) {
		return nil, oauth.ErrServerError("no redirect generator available for response_mode '%s'", mode)
	}

	values := url.Values{}
	for _, f := range result.fields {
		values.Set(f.name, f.value)
	}
	if state != "" {
		values.Set("state", state)
	}

	rc.RedirectTarget = target
	rc.RedirectMode = mode
	rc.RedirectParams = values

	ok, err := s.RedirectGenerator.Invoke(ctx, rc)
	if err != nil {
		return nil, oauth.AsOAuthError(err)
	}
	if !ok || rc.Prepared == nil {
		return nil, oauth.ErrServerError("redirect generation failed")
	}
	return &redirectResponse{Prepared: rc.Prepared}, nil
}

// errorResult converts an OAuth error into the redirect result payload.
func errorResult(oerr *oauth.OAuthError) *authorizeResult {
	result := &authorizeResult{}
	result.add("error", oerr.Code)
	result.add("error_description", oerr.Description)
	result.add("error_uri", oerr.URI)
	return result
}

// FormPostRedirect is a built-in redirect-generation policy implementing
// the OAuth 2.0 form_post response mode: an auto-submitting HTML form
// carrying the result parameters to the redirect target.
type FormPostRedirect struct{}

// IsConfigured reports the policy as always usable.
func (FormPostRedirect) IsConfigured() bool { return true }

// Invoke renders the auto-submitting form into the prepared response.
func (FormPostRedirect) Invoke(ctx context.Context, rc *policy.RequestContext) (bool, error) {
	var b strings.Builder
	b.WriteString("<!DOCTYPE html><html><head><title>Submit</title></head>")
	b.WriteString("<body onload=\"document.forms[0].submit()\">")
	b.WriteString("<form method=\"post\" action=\"")
	b.WriteString(htmlEscape(rc.RedirectTarget))
	b.WriteString("\">")
	for name, values := range rc.RedirectParams {
		for _, value := range values {
			b.WriteString("<input type=\"hidden\" name=\"")
			b.WriteString(htmlEscape(name))
			b.WriteString("\" value=\"")
			b.WriteString(htmlEscape(value))
			b.WriteString("\"/>")
		}
	}
	b.WriteString("</form></body></html>")

	header := http.Header{}
	header.Set("Content-Type", "text/html;charset=UTF-8")
	header.Set("Cache-Control", "no-store")
	header.Set("Pragma", "no-cache")

	rc.Prepared = &policy.Response{
		Status: http.StatusOK,
		Header: header,
		Body:   []byte(b.String()),
	}
	return true, nil
}

func htmlEscape(s string) string {
	replacer := strings.NewReplacer(
		"&", "&amp;",
		"<", "&lt;",
		">", "&gt;",
		`"`, "&quot;",
		"'", "&#39;",
	)
	return replacer.Replace(s)
}
