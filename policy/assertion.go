package policy

import (
	"context"
	"fmt"

	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jwt"
)

// AssertionValidator is a built-in client-assertion validation policy for
// the urn:ietf:params:oauth:client-assertion-type:jwt-bearer type (RFC7523
// section 3). It verifies the assertion signature against a key set, checks
// issuer/subject agreement and audience, and publishes the subject and the
// private_key_jwt authentication method into the request context.
type AssertionValidator struct {
	// Keys is the key set trusted for assertion signatures.
	Keys jwk.Set

	// Audience is the expected assertion audience, typically the token
	// endpoint URL. Empty skips the audience check.
	Audience string

	// Method is the authentication method recorded on success.
	// Defaults to private_key_jwt.
	Method string
}

// IsConfigured reports whether a trusted key set is present.
func (v *AssertionValidator) IsConfigured() bool {
	return v != nil && v.Keys != nil && v.Keys.Len() > 0
}

// Invoke validates the client assertion from the request context.
func (v *AssertionValidator) Invoke(ctx context.Context, rc *RequestContext) (bool, error) {
	if rc.ClientAssertion == "" {
		return false, nil
	}

	options := []jwt.ParseOption{
		jwt.WithContext(ctx),
		jwt.WithKeySet(v.Keys),
		jwt.WithValidate(true),
	}
	if v.Audience != "" {
		options = append(options, jwt.WithAudience(v.Audience))
	}

	token, err := jwt.Parse([]byte(rc.ClientAssertion), options...)
	if err != nil {
		return false, nil
	}

	subject := token.Subject()
	if subject == "" || (token.Issuer() != "" && token.Issuer() != subject) {
		// RFC7523 section 3: for client authentication the issuer must
		// be the client, i.e. match the subject.
		return false, nil
	}

	method := v.Method
	if method == "" {
		method = "private_key_jwt"
	}

	rc.Subject = subject
	rc.AuthMethods[method] = true
	return true, nil
}

// StaticSubject is a trivial authentication policy that always succeeds with
// a fixed subject. Useful as a resource-owner authenticator in tests and in
// deployments where authentication happened upstream.
type StaticSubject struct {
	Subject string
}

// IsConfigured reports whether a subject is set.
func (p *StaticSubject) IsConfigured() bool {
	return p != nil && p.Subject != ""
}

// Invoke publishes the fixed subject.
func (p *StaticSubject) Invoke(_ context.Context, rc *RequestContext) (bool, error) {
	if p.Subject == "" {
		return false, fmt.Errorf("static subject policy has no subject")
	}
	rc.Subject = p.Subject
	return true, nil
}
