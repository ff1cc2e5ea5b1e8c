package server

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"net/url"
	"strings"

	oauth "github.com/oauthware/oauth-server"
	"github.com/oauthware/oauth-server/params"
	"github.com/oauthware/oauth-server/storage"
)

// verifyPKCE checks a code_verifier against the challenge bound into an
// authorization code. Comparison is constant-time in both branches; any
// decoding problem rejects rather than erroring out past the caller.
func verifyPKCE(verifier, challenge, method string) error {
	if challenge == "" {
		// No challenge bound at authorize time, nothing to verify
		if verifier != "" {
			return oauth.ErrInvalidGrant("code_verifier provided but no challenge was bound to the code")
		}
		return nil
	}
	if verifier == "" {
		return oauth.ErrInvalidGrant("code_verifier is required")
	}

	switch method {
	case "", oauth.PKCEMethodPlain:
		if subtle.ConstantTimeCompare([]byte(verifier), []byte(challenge)) != 1 {
			return oauth.ErrInvalidGrant("PKCE verification failed")
		}
	case oauth.PKCEMethodS256:
		sum := sha256.Sum256([]byte(verifier))
		decoded, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(challenge, "="))
		if err != nil {
			return oauth.ErrInvalidGrant("PKCE verification failed")
		}
		if subtle.ConstantTimeCompare(sum[:], decoded) != 1 {
			return oauth.ErrInvalidGrant("PKCE verification failed")
		}
	default:
		return oauth.ErrInvalidGrant("unsupported code_challenge_method '%s'", method)
	}
	return nil
}

// resolveRedirectURI validates a requested redirect_uri against the client's
// registration and returns the effective target.
//
// The out-of-band sentinel is compared literally. Other URIs match on
// scheme, lowercased authority, and path; query and fragment are ignored.
// An empty request selects the sole registered URI when the registration
// has exactly one entry.
func resolveRedirectURI(app *storage.ApplicationDetails, requested string) (string, error) {
	if requested == "" {
		if len(app.RedirectURIs) == 1 {
			return app.RedirectURIs[0], nil
		}
		return "", oauth.ErrInvalidRequest("redirect_uri is required")
	}

	for _, registered := range app.RedirectURIs {
		if redirectURIMatches(registered, requested) {
			return requested, nil
		}
	}
	return "", oauth.ErrInvalidRequest("redirect_uri does not match a registered URI")
}

func redirectURIMatches(registered, requested string) bool {
	if registered == oauth.OutOfBandRedirectURI || requested == oauth.OutOfBandRedirectURI {
		return registered == requested
	}

	ru, err := url.Parse(registered)
	if err != nil {
		return false
	}
	qu, err := url.Parse(requested)
	if err != nil {
		return false
	}
	if ru.Opaque != "" || qu.Opaque != "" {
		return registered == requested
	}

	return strings.EqualFold(ru.Scheme, qu.Scheme) &&
		strings.EqualFold(ru.Host, qu.Host) &&
		ru.Path == qu.Path
}

// redeemedRedirectURIMatches is the token-endpoint check: the redirect_uri
// presented at redemption must equal the one bound at authorize time, both
// sides URI-normalized for the non-opaque case.
func redeemedRedirectURIMatches(bound, presented string) bool {
	if bound == presented {
		return true
	}
	return redirectURIMatches(bound, presented)
}

// idTokenRequested reports whether the response types will produce an
// id_token, which makes nonce mandatory.
func idTokenRequested(responseTypes []string) bool {
	for _, rt := range responseTypes {
		switch rt {
		case oauth.ResponseTypeCode, oauth.ResponseTypeToken, oauth.ResponseTypeNone:
			continue
		default:
			return true
		}
	}
	return false
}

// requireNonce enforces the OIDC nonce rule against the parsed parameters.
func requireNonce(set *params.Set, responseTypes []string) error {
	if !idTokenRequested(responseTypes) {
		return nil
	}
	if set.Get(params.Nonce) == "" {
		return oauth.ErrInvalidRequest("nonce is required when an id_token is requested")
	}
	return nil
}

// containsScope reports membership in a scope slice.
func containsScope(scopes []string, scope string) bool {
	for _, s := range scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// scopesSubset reports whether every member of requested appears in granted.
func scopesSubset(requested, granted []string) bool {
	for _, s := range requested {
		if !containsScope(granted, s) {
			return false
		}
	}
	return true
}
