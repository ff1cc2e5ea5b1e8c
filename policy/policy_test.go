package policy

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"testing"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jwt"
)

func TestFunc_IsConfigured(t *testing.T) {
	var nilFunc Func
	if nilFunc.IsConfigured() {
		t.Error("nil Func reports configured")
	}

	f := Func(func(ctx context.Context, rc *RequestContext) (bool, error) {
		return true, nil
	})
	if !f.IsConfigured() {
		t.Error("non-nil Func reports unconfigured")
	}
}

func TestFunc_Invoke(t *testing.T) {
	called := false
	f := Func(func(ctx context.Context, rc *RequestContext) (bool, error) {
		called = true
		rc.Subject = "from-func"
		return true, nil
	})

	rc := NewRequestContext()
	ok, err := f.Invoke(context.Background(), rc)
	if err != nil || !ok {
		t.Fatalf("Invoke() = (%v, %v), want (true, nil)", ok, err)
	}
	if !called {
		t.Error("function was not called")
	}
	if rc.Subject != "from-func" {
		t.Errorf("Subject = %q, want from-func", rc.Subject)
	}
}

func TestConfigured(t *testing.T) {
	if Configured(nil) {
		t.Error("Configured(nil) = true")
	}
	if Configured((*StaticSubject)(nil)) {
		t.Error("Configured(nil *StaticSubject) = true")
	}
	if Configured(&StaticSubject{}) {
		t.Error("Configured(empty StaticSubject) = true")
	}
	if !Configured(&StaticSubject{Subject: "alice"}) {
		t.Error("Configured(StaticSubject{alice}) = false")
	}
}

func TestRequestContext_SetAuthMethod(t *testing.T) {
	rc := NewRequestContext()
	rc.SetAuthMethod("client_secret_basic")
	if !rc.AuthMethods["client_secret_basic"] {
		t.Error("auth method not recorded")
	}

	// Nil map is lazily created
	rc = &RequestContext{}
	rc.SetAuthMethod("none")
	if !rc.AuthMethods["none"] {
		t.Error("auth method not recorded on nil map")
	}
}

func TestStaticSubject(t *testing.T) {
	p := &StaticSubject{Subject: "alice"}
	if !p.IsConfigured() {
		t.Fatal("IsConfigured() = false")
	}

	rc := NewRequestContext()
	ok, err := p.Invoke(context.Background(), rc)
	if err != nil || !ok {
		t.Fatalf("Invoke() = (%v, %v), want (true, nil)", ok, err)
	}
	if rc.Subject != "alice" {
		t.Errorf("Subject = %q, want alice", rc.Subject)
	}

	empty := &StaticSubject{}
	if empty.IsConfigured() {
		t.Error("empty StaticSubject reports configured")
	}
	if _, err := empty.Invoke(context.Background(), NewRequestContext()); err == nil {
		t.Error("Invoke() with no subject succeeded")
	}
}

func newTestKeyPair(t *testing.T) (jwk.Key, jwk.Set) {
	t.Helper()

	raw, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generating test key: %v", err)
	}
	key, err := jwk.FromRaw(raw)
	if err != nil {
		t.Fatalf("wrapping test key: %v", err)
	}
	if err := key.Set(jwk.KeyIDKey, "test-key"); err != nil {
		t.Fatalf("setting kid: %v", err)
	}
	if err := key.Set(jwk.AlgorithmKey, jwa.ES256); err != nil {
		t.Fatalf("setting alg: %v", err)
	}

	public, err := key.PublicKey()
	if err != nil {
		t.Fatalf("deriving public key: %v", err)
	}
	set := jwk.NewSet()
	if err := set.AddKey(public); err != nil {
		t.Fatalf("building key set: %v", err)
	}
	return key, set
}

func signAssertion(t *testing.T, key jwk.Key, issuer, subject, audience string) string {
	t.Helper()

	builder := jwt.NewBuilder().
		Subject(subject).
		IssuedAt(time.Now()).
		Expiration(time.Now().Add(time.Minute))
	if issuer != "" {
		builder = builder.Issuer(issuer)
	}
	if audience != "" {
		builder = builder.Audience([]string{audience})
	}
	token, err := builder.Build()
	if err != nil {
		t.Fatalf("building assertion: %v", err)
	}
	signed, err := jwt.Sign(token, jwt.WithKey(jwa.ES256, key))
	if err != nil {
		t.Fatalf("signing assertion: %v", err)
	}
	return string(signed)
}

func TestAssertionValidator_IsConfigured(t *testing.T) {
	var nilValidator *AssertionValidator
	if nilValidator.IsConfigured() {
		t.Error("nil validator reports configured")
	}
	if (&AssertionValidator{}).IsConfigured() {
		t.Error("validator without keys reports configured")
	}
	if (&AssertionValidator{Keys: jwk.NewSet()}).IsConfigured() {
		t.Error("validator with empty key set reports configured")
	}

	_, set := newTestKeyPair(t)
	if !(&AssertionValidator{Keys: set}).IsConfigured() {
		t.Error("validator with keys reports unconfigured")
	}
}

func TestAssertionValidator_Invoke(t *testing.T) {
	key, set := newTestKeyPair(t)
	otherKey, _ := newTestKeyPair(t)
	ctx := context.Background()

	tests := []struct {
		name       string
		validator  *AssertionValidator
		assertion  string
		wantOK     bool
		wantSub    string
		wantMethod string
	}{
		{
			name:       "valid assertion",
			validator:  &AssertionValidator{Keys: set},
			assertion:  signAssertion(t, key, "client-1", "client-1", ""),
			wantOK:     true,
			wantSub:    "client-1",
			wantMethod: "private_key_jwt",
		},
		{
			name:       "custom method",
			validator:  &AssertionValidator{Keys: set, Method: "self_signed_tls_client_auth"},
			assertion:  signAssertion(t, key, "client-1", "client-1", ""),
			wantOK:     true,
			wantSub:    "client-1",
			wantMethod: "self_signed_tls_client_auth",
		},
		{
			name:      "audience match",
			validator: &AssertionValidator{Keys: set, Audience: "https://as.example.com/token"},
			assertion: signAssertion(t, key, "client-1", "client-1", "https://as.example.com/token"),
			wantOK:    true,
			wantSub:   "client-1",
		},
		{
			name:      "audience mismatch",
			validator: &AssertionValidator{Keys: set, Audience: "https://as.example.com/token"},
			assertion: signAssertion(t, key, "client-1", "client-1", "https://other.example.com"),
			wantOK:    false,
		},
		{
			name:      "issuer subject mismatch",
			validator: &AssertionValidator{Keys: set},
			assertion: signAssertion(t, key, "someone-else", "client-1", ""),
			wantOK:    false,
		},
		{
			name:      "missing subject",
			validator: &AssertionValidator{Keys: set},
			assertion: signAssertion(t, key, "client-1", "", ""),
			wantOK:    false,
		},
		{
			name:      "untrusted signature",
			validator: &AssertionValidator{Keys: set},
			assertion: signAssertion(t, otherKey, "client-1", "client-1", ""),
			wantOK:    false,
		},
		{
			name:      "garbage assertion",
			validator: &AssertionValidator{Keys: set},
			assertion: "not.a.jwt",
			wantOK:    false,
		},
		{
			name:      "no assertion",
			validator: &AssertionValidator{Keys: set},
			assertion: "",
			wantOK:    false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rc := NewRequestContext()
			rc.ClientAssertion = tt.assertion

			ok, err := tt.validator.Invoke(ctx, rc)
			if err != nil {
				t.Fatalf("Invoke() error = %v", err)
			}
			if ok != tt.wantOK {
				t.Fatalf("Invoke() = %v, want %v", ok, tt.wantOK)
			}
			if tt.wantSub != "" && rc.Subject != tt.wantSub {
				t.Errorf("Subject = %q, want %q", rc.Subject, tt.wantSub)
			}
			if tt.wantMethod != "" && !rc.AuthMethods[tt.wantMethod] {
				t.Errorf("auth method %q not recorded", tt.wantMethod)
			}
			if !tt.wantOK && rc.Subject != "" {
				t.Errorf("failed validation still published subject %q", rc.Subject)
			}
		})
	}
}

func TestIDTokenGenerator_IsConfigured(t *testing.T) {
	var nilGen *IDTokenGenerator
	if nilGen.IsConfigured() {
		t.Error("nil generator reports configured")
	}
	if (&IDTokenGenerator{Issuer: "https://as.example.com"}).IsConfigured() {
		t.Error("generator without key reports configured")
	}

	key, _ := newTestKeyPair(t)
	if (&IDTokenGenerator{Key: key}).IsConfigured() {
		t.Error("generator without issuer reports configured")
	}
	if !(&IDTokenGenerator{Issuer: "https://as.example.com", Key: key}).IsConfigured() {
		t.Error("complete generator reports unconfigured")
	}
}

func TestIDTokenGenerator_Invoke(t *testing.T) {
	key, _ := newTestKeyPair(t)
	public, err := key.PublicKey()
	if err != nil {
		t.Fatalf("deriving public key: %v", err)
	}

	gen := &IDTokenGenerator{
		Issuer:    "https://as.example.com",
		Key:       key,
		Algorithm: jwa.ES256,
		TTL:       10 * time.Minute,
	}

	rc := NewRequestContext()
	rc.Subject = "alice"
	rc.ClientID = "my-client"
	rc.Parameters["nonce"] = "n-0S6_WzA2Mj"

	ok, err := gen.Invoke(context.Background(), rc)
	if err != nil || !ok {
		t.Fatalf("Invoke() = (%v, %v), want (true, nil)", ok, err)
	}
	if rc.IDToken == "" {
		t.Fatal("no id_token published")
	}

	token, err := jwt.Parse([]byte(rc.IDToken),
		jwt.WithKey(jwa.ES256, public),
		jwt.WithValidate(true),
		jwt.WithIssuer("https://as.example.com"),
		jwt.WithAudience("my-client"),
	)
	if err != nil {
		t.Fatalf("parsing issued id_token: %v", err)
	}
	if token.Subject() != "alice" {
		t.Errorf("sub = %q, want alice", token.Subject())
	}
	nonce, _ := token.Get("nonce")
	if nonce != "n-0S6_WzA2Mj" {
		t.Errorf("nonce = %v, want n-0S6_WzA2Mj", nonce)
	}
	if remaining := time.Until(token.Expiration()); remaining <= 9*time.Minute {
		t.Errorf("id_token expiry too close: %v remaining", remaining)
	}
}

func TestIDTokenGenerator_RequiresSubject(t *testing.T) {
	key, _ := newTestKeyPair(t)
	gen := &IDTokenGenerator{Issuer: "https://as.example.com", Key: key}

	if _, err := gen.Invoke(context.Background(), NewRequestContext()); err == nil {
		t.Error("Invoke() without subject succeeded")
	}
}
