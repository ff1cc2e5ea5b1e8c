package server

import (
	"context"
	"time"

	oauth "github.com/oauthware/oauth-server"
	"github.com/oauthware/oauth-server/policy"
	"github.com/oauthware/oauth-server/storage"
)

// applyOwnerConsent checks whether the working scope set needs resource
// owner authorization and, when it does, runs the consent policy and
// applies its persistent/transient/discarded decisions.
//
// A client acting on its own behalf (no resource owner, or subject equal
// to the client) skips consent entirely. The re-check after the policy runs
// happens exactly once; scopes still unauthorized after it fail the request.
func (s *Server) applyOwnerConsent(ctx context.Context, app *storage.ApplicationDetails, rc *policy.RequestContext, authorizer policy.Policy) error {
	if rc.Subject == "" || rc.Subject == app.ClientID {
		return nil
	}

	granted, err := s.grantedScopes(ctx, app, rc.Subject)
	if err != nil {
		return oauth.ErrServerError("consent lookup failed")
	}

	missing := s.scopesNeedingAuthorization(rc, granted)
	if len(missing) == 0 {
		return nil
	}

	if !policy.Configured(authorizer) {
		return oauth.ErrInvalidScope("requested scopes require resource owner authorization")
	}

	rc.MissingScopes = missing
	ok, err := authorizer.Invoke(ctx, rc)
	if err != nil {
		return oauth.AsOAuthError(err)
	}
	if !ok {
		return oauth.ErrInvalidScope("resource owner denied the requested scopes")
	}

	s.applyConsentDecisions(rc)

	if len(rc.PersistentScopes) > 0 && s.consents != nil {
		consent := &storage.Consent{
			ApplicationID: app.ApplicationID,
			Subject:       rc.Subject,
			Scopes:        unionScopes(granted, rc.PersistentScopes),
			GrantedAt:     time.Now(),
		}
		if err := s.consents.SaveConsent(ctx, consent); err != nil {
			s.Logger.Warn("Failed to persist consent decision", "error", err)
		}
	}

	// Single re-check, no recursion
	granted = unionScopes(granted, rc.PersistentScopes)
	granted = unionScopes(granted, rc.TransientScopes)
	if remaining := s.scopesNeedingAuthorization(rc, granted); len(remaining) > 0 {
		return oauth.ErrInvalidScope("scopes not authorized by resource owner: %v", remaining)
	}
	return nil
}

// grantedScopes is the union of remembered consent and the application's
// pre-authorized scope exception.
func (s *Server) grantedScopes(ctx context.Context, app *storage.ApplicationDetails, subject string) ([]string, error) {
	var granted []string
	if s.consents == nil {
		return nil, nil
	}

	consent, err := s.consents.GetConsent(ctx, app.ApplicationID, subject)
	if err != nil {
		return nil, err
	}
	if consent != nil {
		granted = append(granted, consent.Scopes...)
	}

	pre, err := s.consents.ApplicationPreAuthorizedScopes(ctx, app.ApplicationID)
	if err != nil {
		return nil, err
	}
	granted = unionScopes(granted, pre)

	return granted, nil
}

// scopesNeedingAuthorization returns the members of requested+additional
// not covered by an existing grant.
func (s *Server) scopesNeedingAuthorization(rc *policy.RequestContext, granted []string) []string {
	var missing []string
	working := unionScopes(rc.RequestedScopes, rc.AdditionalScopes)
	for _, scope := range working {
		if !containsScope(granted, scope) {
			missing = append(missing, scope)
		}
	}
	return missing
}

// applyConsentDecisions removes discarded scopes from every working set.
// After it runs, requested and discarded are disjoint.
func (s *Server) applyConsentDecisions(rc *policy.RequestContext) {
	if len(rc.DiscardedScopes) == 0 {
		return
	}
	rc.RequestedScopes = subtractScopes(rc.RequestedScopes, rc.DiscardedScopes)
	rc.AdditionalScopes = subtractScopes(rc.AdditionalScopes, rc.DiscardedScopes)
	rc.PersistentScopes = subtractScopes(rc.PersistentScopes, rc.DiscardedScopes)
	rc.TransientScopes = subtractScopes(rc.TransientScopes, rc.DiscardedScopes)
	rc.MissingScopes = subtractScopes(rc.MissingScopes, rc.DiscardedScopes)
}

func unionScopes(a, b []string) []string {
	out := make([]string, 0, len(a)+len(b))
	seen := make(map[string]bool, len(a)+len(b))
	for _, s := range a {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	for _, s := range b {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

func subtractScopes(from, remove []string) []string {
	if len(from) == 0 || len(remove) == 0 {
		return from
	}
	removeSet := make(map[string]bool, len(remove))
	for _, s := range remove {
		removeSet[s] = true
	}
	out := from[:0:0]
	for _, s := range from {
		if !removeSet[s] {
			out = append(out, s)
		}
	}
	return out
}

func intersectScopes(a, b []string) []string {
	bSet := make(map[string]bool, len(b))
	for _, s := range b {
		bSet[s] = true
	}
	var out []string
	for _, s := range a {
		if bSet[s] {
			out = append(out, s)
		}
	}
	return out
}
