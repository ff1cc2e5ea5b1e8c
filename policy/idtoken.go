package policy

import (
	"context"
	"fmt"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jwt"
)

// IDTokenGenerator is a built-in id_token generation policy. It mints a
// signed OpenID Connect ID token for the authenticated subject and publishes
// it into the request context. The authorization endpoint parses the result
// as a signed object before binding it into codes and tokens, so the output
// must be a compact-serialized JWS.
type IDTokenGenerator struct {
	// Issuer is the id_token iss claim.
	Issuer string

	// Key is the signing key.
	Key jwk.Key

	// Algorithm is the signature algorithm. Defaults to ES256.
	Algorithm jwa.SignatureAlgorithm

	// TTL is the id_token lifetime. Defaults to 5 minutes.
	TTL time.Duration

	// Now allows tests to pin the clock.
	Now func() time.Time
}

// IsConfigured reports whether issuer and signing key are present.
func (g *IDTokenGenerator) IsConfigured() bool {
	return g != nil && g.Issuer != "" && g.Key != nil
}

// Invoke builds and signs the id_token for the context's subject.
func (g *IDTokenGenerator) Invoke(ctx context.Context, rc *RequestContext) (bool, error) {
	if rc.Subject == "" {
		return false, fmt.Errorf("id_token generation requires an authenticated subject")
	}

	now := time.Now()
	if g.Now != nil {
		now = g.Now()
	}
	ttl := g.TTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}

	builder := jwt.NewBuilder().
		Issuer(g.Issuer).
		Subject(rc.Subject).
		IssuedAt(now).
		Expiration(now.Add(ttl))
	if rc.ClientID != "" {
		builder = builder.Audience([]string{rc.ClientID})
	}
	if nonce := rc.Parameters["nonce"]; nonce != "" {
		builder = builder.Claim("nonce", nonce)
	}

	token, err := builder.Build()
	if err != nil {
		return false, fmt.Errorf("building id_token claims: %w", err)
	}

	alg := g.Algorithm
	if alg == "" {
		alg = jwa.ES256
	}

	signed, err := jwt.Sign(token, jwt.WithKey(alg, g.Key))
	if err != nil {
		return false, fmt.Errorf("signing id_token: %w", err)
	}

	rc.IDToken = string(signed)
	return true, nil
}
