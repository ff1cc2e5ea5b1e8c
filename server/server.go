package server

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"net/url"

	oauth "github.com/oauthware/oauth-server"
	"github.com/oauthware/oauth-server/instrumentation"
	"github.com/oauthware/oauth-server/params"
	"github.com/oauthware/oauth-server/policy"
	"github.com/oauthware/oauth-server/security"
	"github.com/oauthware/oauth-server/storage"
)

// Server implements the authorization-server engine: the authorization and
// token endpoints, client authentication, and token issuance. Deployment
// specific behavior is injected through policy slots; persistence through
// the storage contracts.
type Server struct {
	tokens       storage.TokenStore
	codes        storage.AuthorizationCodeStore
	applications storage.ApplicationDirectory
	consents     storage.ConsentStore

	// Policy slots. Unconfigured slots disable the behavior they guard;
	// slots the engine requires (owner authentication on /authorize)
	// produce protocol errors when missing.
	SignatureValidator  policy.Policy // custom Authorization scheme validation
	AssertionValidator  policy.Policy // client_assertion validation
	OwnerAuthenticator  policy.Policy // resource owner authentication (/authorize)
	GrantAuthenticator  policy.Policy // owner authentication for password/bearer/extension grants
	GrantDecoder        policy.Policy // extension grant decoding
	GrantValidator      policy.Policy // pre-issuance grant validation
	ConsentAuthorizer   policy.Policy // resource owner consent
	ScopeValidator      policy.Policy // circuit-style scope resolution
	TokenTransform      policy.Policy // requested-token-type substitution
	RequestValidator    policy.Policy // JAR request object signature validation
	RequestURIRetriever policy.Policy // JAR request_uri retrieval
	RedirectGenerator   policy.Policy // non-query/fragment response delivery
	IDTokenGenerator    policy.Policy // id_token minting

	Auditor                  *security.Auditor
	RateLimiter              *security.RateLimiter
	SecurityEventRateLimiter *security.RateLimiter
	Logger                   *slog.Logger
	Config                   *Config

	instrumentation *instrumentation.Instrumentation
}

// New creates a new authorization server engine.
func New(
	tokens storage.TokenStore,
	codes storage.AuthorizationCodeStore,
	applications storage.ApplicationDirectory,
	consents storage.ConsentStore,
	config *Config,
	logger *slog.Logger,
) (*Server, error) {
	if tokens == nil {
		return nil, fmt.Errorf("token store is required")
	}
	if codes == nil {
		return nil, fmt.Errorf("authorization code store is required")
	}
	if applications == nil {
		return nil, fmt.Errorf("application directory is required")
	}
	if config == nil {
		config = &Config{}
	}
	if logger == nil {
		logger = slog.Default()
	}

	config = applySecureDefaults(config, logger)

	return &Server{
		tokens:       tokens,
		codes:        codes,
		applications: applications,
		consents:     consents,
		Config:       config,
		Logger:       logger,
	}, nil
}

// SetAuditor sets the security auditor
func (s *Server) SetAuditor(aud *security.Auditor) {
	s.Auditor = aud
}

// SetRateLimiter sets the IP-based rate limiter
func (s *Server) SetRateLimiter(rl *security.RateLimiter) {
	s.RateLimiter = rl
}

// SetSecurityEventRateLimiter sets the rate limiter for security event
// logging, preventing log flooding from repeated failures
func (s *Server) SetSecurityEventRateLimiter(rl *security.RateLimiter) {
	s.SecurityEventRateLimiter = rl
}

// SetInstrumentation wires OpenTelemetry instrumentation into the engine
// and, when supported, into the storage backend.
func (s *Server) SetInstrumentation(inst *instrumentation.Instrumentation) {
	s.instrumentation = inst

	type instrumentationSetter interface {
		SetInstrumentation(*instrumentation.Instrumentation)
	}
	if setter, ok := s.tokens.(instrumentationSetter); ok {
		setter.SetInstrumentation(inst)
	}
}

// auditAuthFailure logs an authentication failure through the auditor,
// rate limited to keep a credential-stuffing run from flooding the log.
func (s *Server) auditAuthFailure(clientID, reason string) {
	if s.Auditor == nil {
		return
	}
	if s.SecurityEventRateLimiter != nil && !s.SecurityEventRateLimiter.Allow(clientID) {
		return
	}
	s.Auditor.LogAuthFailure("", clientID, "", reason)
}

// mergeRequest merges the query string, form body, and, when enabled, a
// JSON object body into a parameter set with the given names registered.
//
// Merge precedence: form body first, query string overrides colliding
// names, and JSON-body fields override both.
func (s *Server) mergeRequest(r *http.Request, names []string) (*params.Set, error) {
	var form url.Values
	var jsonBody url.Values

	if r.Method == http.MethodPost || r.Method == http.MethodPut {
		contentType := r.Header.Get("Content-Type")
		mediaType := contentType
		if parsed, _, err := mime.ParseMediaType(contentType); err == nil {
			mediaType = parsed
		}

		switch mediaType {
		case "application/x-www-form-urlencoded":
			if err := r.ParseForm(); err != nil {
				return nil, oauthInvalidBody()
			}
			form = r.PostForm
		case "application/json":
			if !s.Config.AllowJSONRequests {
				return nil, oauthInvalidBody()
			}
			decoded, err := decodeJSONBody(r)
			if err != nil {
				return nil, err
			}
			jsonBody = decoded
		}
	}

	merged := params.MergeValues(form, r.URL.Query())

	set := params.NewSet(jsonBody, merged)
	set.Register(names...)
	return set, nil
}

func oauthInvalidBody() error {
	return oauth.ErrInvalidRequest("malformed request body")
}

// decodeJSONBody flattens a JSON object body into url.Values. Non-scalar
// members are rejected.
func decodeJSONBody(r *http.Request) (url.Values, error) {
	var payload map[string]interface{}
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(&payload); err != nil {
		return nil, oauthInvalidBody()
	}

	values := url.Values{}
	for name, raw := range payload {
		switch v := raw.(type) {
		case string:
			values.Set(name, v)
		case bool:
			values.Set(name, fmt.Sprintf("%t", v))
		case float64:
			values.Set(name, fmt.Sprintf("%v", v))
		case nil:
		default:
			return nil, oauthInvalidBody()
		}
	}
	return values, nil
}
