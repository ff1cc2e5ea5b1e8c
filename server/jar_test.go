package server

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"testing"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jwt"

	oauth "github.com/oauthware/oauth-server"
	"github.com/oauthware/oauth-server/policy"
)

// signRequestObject builds a compact-serialized signed request object
// carrying the given authorization claims.
func signRequestObject(t *testing.T, key jwk.Key, claims map[string]interface{}) string {
	t.Helper()
	builder := jwt.NewBuilder()
	for name, value := range claims {
		builder = builder.Claim(name, value)
	}
	token, err := builder.Build()
	if err != nil {
		t.Fatalf("building request object: %v", err)
	}
	signed, err := jwt.Sign(token, jwt.WithKey(jwa.ES256, key))
	if err != nil {
		t.Fatalf("signing request object: %v", err)
	}
	return string(signed)
}

func newJARKey(t *testing.T) jwk.Key {
	t.Helper()
	raw, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generating key: %v", err)
	}
	key, err := jwk.FromRaw(raw)
	if err != nil {
		t.Fatalf("importing key: %v", err)
	}
	return key
}

// acceptRequestObjects trusts every request object; signature verification
// is the validator policy's concern and is covered by the policy tests.
func acceptRequestObjects() policy.Policy {
	return policy.Func(func(ctx context.Context, rc *policy.RequestContext) (bool, error) {
		return rc.RequestObject != "", nil
	})
}

func assertRedirectError(t *testing.T, resp *redirectResponse, err error, code string) {
	t.Helper()
	if err != nil {
		t.Fatalf("Authorize() error = %v, want error redirect", err)
	}
	values := redirectValues(t, resp.Location)
	if values.Get("error") != code {
		t.Errorf("error = %q, want %q", values.Get("error"), code)
	}
}

func TestAuthorize_RequestObjectNotSupported(t *testing.T) {
	srv, _ := newAuthorizeEngine(t, nil)
	key := newJARKey(t)

	q := baseAuthorizeQuery()
	q.Set("request", signRequestObject(t, key, map[string]interface{}{"state": "from-jar"}))
	resp, err := getAuthorize(t, srv, q)
	assertRedirectError(t, resp, err, oauth.ErrorCodeRequestNotSupported)
}

func TestAuthorize_RequestURINotSupported(t *testing.T) {
	srv, _ := newAuthorizeEngine(t, nil)

	q := baseAuthorizeQuery()
	q.Set("request_uri", "https://client.example.com/request.jwt")
	resp, err := getAuthorize(t, srv, q)
	assertRedirectError(t, resp, err, oauth.ErrorCodeRequestURINotSupported)
}

func TestAuthorize_RequestAndRequestURIExclusive(t *testing.T) {
	srv, _ := newAuthorizeEngine(t, nil)
	srv.RequestValidator = acceptRequestObjects()
	key := newJARKey(t)

	q := baseAuthorizeQuery()
	q.Set("request", signRequestObject(t, key, map[string]interface{}{"state": "from-jar"}))
	q.Set("request_uri", "https://client.example.com/request.jwt")
	resp, err := getAuthorize(t, srv, q)
	assertRedirectError(t, resp, err, oauth.ErrorCodeInvalidRequest)
}

func TestAuthorize_RequestObjectOverrides(t *testing.T) {
	srv, store := newAuthorizeEngine(t, nil)
	srv.RequestValidator = acceptRequestObjects()
	key := newJARKey(t)

	q := baseAuthorizeQuery()
	q.Set("scope", "openid")
	q.Set("request", signRequestObject(t, key, map[string]interface{}{
		"scope": "read",
		"state": "from-jar",
	}))
	resp, err := getAuthorize(t, srv, q)
	if err != nil {
		t.Fatalf("Authorize() error = %v", err)
	}
	values := redirectValues(t, resp.Location)
	if values.Get("state") != "from-jar" {
		t.Errorf("state = %q, want the request object value", values.Get("state"))
	}

	code, err := store.Get(context.Background(), values.Get("code"))
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !containsScope(code.Scopes, "read") || containsScope(code.Scopes, "openid") {
		t.Errorf("Scopes = %v, want the request object scope", code.Scopes)
	}
}

func TestAuthorize_RequestObjectClientIDMismatch(t *testing.T) {
	srv, _ := newAuthorizeEngine(t, nil)
	srv.RequestValidator = acceptRequestObjects()
	key := newJARKey(t)

	q := baseAuthorizeQuery()
	q.Set("request", signRequestObject(t, key, map[string]interface{}{
		"client_id": "someone-else",
	}))
	resp, err := getAuthorize(t, srv, q)
	assertRedirectError(t, resp, err, oauth.ErrorCodeInvalidRequestObject)
}

func TestAuthorize_RequestObjectResponseTypeMismatch(t *testing.T) {
	srv, _ := newAuthorizeEngine(t, nil)
	srv.RequestValidator = acceptRequestObjects()
	key := newJARKey(t)

	q := baseAuthorizeQuery()
	q.Set("request", signRequestObject(t, key, map[string]interface{}{
		"response_type": "token",
	}))
	resp, err := getAuthorize(t, srv, q)
	assertRedirectError(t, resp, err, oauth.ErrorCodeInvalidRequestObject)
}

func TestAuthorize_RequestObjectNested(t *testing.T) {
	srv, _ := newAuthorizeEngine(t, nil)
	srv.RequestValidator = acceptRequestObjects()
	key := newJARKey(t)

	nested := signRequestObject(t, key, map[string]interface{}{"state": "inner"})
	q := baseAuthorizeQuery()
	q.Set("request", signRequestObject(t, key, map[string]interface{}{
		"request": nested,
	}))
	resp, err := getAuthorize(t, srv, q)
	assertRedirectError(t, resp, err, oauth.ErrorCodeInvalidRequestObject)
}

func TestAuthorize_RequestObjectRejected(t *testing.T) {
	srv, _ := newAuthorizeEngine(t, nil)
	srv.RequestValidator = policy.Func(func(ctx context.Context, rc *policy.RequestContext) (bool, error) {
		return false, nil
	})
	key := newJARKey(t)

	q := baseAuthorizeQuery()
	q.Set("request", signRequestObject(t, key, map[string]interface{}{"state": "from-jar"}))
	resp, err := getAuthorize(t, srv, q)
	assertRedirectError(t, resp, err, oauth.ErrorCodeInvalidRequestObject)
}

func TestAuthorize_RequestURIRetriever(t *testing.T) {
	srv, _ := newAuthorizeEngine(t, nil)
	srv.RequestValidator = acceptRequestObjects()
	key := newJARKey(t)

	object := signRequestObject(t, key, map[string]interface{}{"state": "from-uri"})
	srv.RequestURIRetriever = policy.Func(func(ctx context.Context, rc *policy.RequestContext) (bool, error) {
		if rc.Parameters["request_uri"] != "https://client.example.com/request.jwt" {
			t.Errorf("request_uri not forwarded: %v", rc.Parameters)
		}
		rc.RequestObject = object
		return true, nil
	})

	q := baseAuthorizeQuery()
	q.Set("request_uri", "https://client.example.com/request.jwt")
	resp, err := getAuthorize(t, srv, q)
	if err != nil {
		t.Fatalf("Authorize() error = %v", err)
	}
	values := redirectValues(t, resp.Location)
	if values.Get("state") != "from-uri" {
		t.Errorf("state = %q, want from-uri", values.Get("state"))
	}
	if values.Get("code") == "" {
		t.Errorf("no code on the redirect: %s", resp.Location)
	}
}

func TestAuthorize_RequestObjectMalformedPayload(t *testing.T) {
	srv, _ := newAuthorizeEngine(t, nil)
	srv.RequestValidator = acceptRequestObjects()

	q := baseAuthorizeQuery()
	q.Set("request", "not.a.jwt")
	resp, err := getAuthorize(t, srv, q)
	assertRedirectError(t, resp, err, oauth.ErrorCodeInvalidRequestObject)
}
