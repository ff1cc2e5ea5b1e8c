// Package params implements the merged OAuth request parameter collection.
//
// An authorization or token request arrives as up to three layers: the query
// string, a form-urlencoded body, and an optional JSON body. The layers are
// merged into a single Set with JSON values taking precedence over the
// form/query merge. Every parameter name expected by the current operation
// is registered with a descriptor that knows how to decode and validate it;
// duplicate values for a single-valued parameter are a hard invalid_request
// error, and decoding failures during the final sweep are deferred so one
// parse error cannot mask another.
package params

import (
	"fmt"
	"net/url"
	"regexp"
	"strconv"

	oauth "github.com/oauthware/oauth-server"
)

// Decoder optionally transforms or rejects a raw value during parsing.
// Returning an empty string drops the value; returning an error aborts the
// parse with that error.
type Decoder func(name, value string) (string, error)

// Descriptor decodes and validates a single named parameter.
type Descriptor struct {
	// Validate checks a decoded value. Nil means any VSCHAR value is accepted.
	Validate func(name, value string) error

	// Canonicalize rewrites the merged value into its canonical form
	// (e.g. sorted response types, de-duplicated scopes). Nil keeps the
	// merged value as-is.
	Canonicalize func(value string) (string, error)

	// Multi marks space-delimited set parameters (scope, response_type,
	// prompt, ui_locales). Multiple occurrences of a Multi parameter are
	// joined; multiple occurrences of a single-valued parameter with
	// distinct values are an error.
	Multi bool
}

var vschar = regexp.MustCompile(`^[\x20-\x7e]+$`)

// Set is the merged, descriptor-driven parameter collection for one request.
type Set struct {
	values      map[string]string
	descriptors map[string]*Descriptor
	parsedNames map[string]bool

	jsonBody url.Values // JSON object body flattened to string values
	merged   url.Values // form body merged with query string
}

// NewSet creates an empty parameter set over the given request layers.
// Both layers may be nil. The merged layer is cleaned: empty keys, empty
// values and duplicate values per key are removed.
func NewSet(jsonBody, merged url.Values) *Set {
	return &Set{
		values:      make(map[string]string),
		descriptors: make(map[string]*Descriptor),
		parsedNames: make(map[string]bool),
		jsonBody:    cleanupValues(jsonBody),
		merged:      cleanupValues(merged),
	}
}

// MergeValues merges the form body and query string into one url.Values.
// Later sources win nothing here: all values are appended, and the
// single-value check happens at parse time.
func MergeValues(sources ...url.Values) url.Values {
	merged := url.Values{}
	for _, src := range sources {
		for key, values := range src {
			for _, v := range values {
				merged.Add(key, v)
			}
		}
	}
	return merged
}

func cleanupValues(in url.Values) url.Values {
	out := url.Values{}
	for key, values := range in {
		if key == "" {
			continue
		}
		seen := make(map[string]bool, len(values))
		for _, v := range values {
			if v == "" || seen[v] {
				continue
			}
			seen[v] = true
			out.Add(key, v)
		}
	}
	return out
}

// Register declares an expected parameter by name using the standard
// descriptor table. Unknown names are ignored, matching the behavior of a
// registry lookup miss.
func (s *Set) Register(names ...string) {
	for _, name := range names {
		if d, ok := standardDescriptors[name]; ok {
			s.descriptors[name] = d
		}
	}
}

// RegisterAs declares an expected parameter with an explicit descriptor.
// Used by extension grants that carry custom parameters.
func (s *Set) RegisterAs(name string, d *Descriptor) {
	s.descriptors[name] = d
}

// Descriptors returns the registered parameter names.
func (s *Set) Descriptors() []string {
	names := make([]string, 0, len(s.descriptors))
	for name := range s.descriptors {
		names = append(names, name)
	}
	return names
}

// Parsed reports whether a parameter has already been parsed.
func (s *Set) Parsed(name string) bool {
	return s.parsedNames[name]
}

// Parse resolves a registered parameter from the request layers, applying
// JSON-over-form precedence, the optional decoder, and the descriptor's
// validation. The parameter is consumed from both layers and recorded as
// parsed. Returns the resolved value ("" when absent).
func (s *Set) Parse(name string, decoder Decoder) (string, error) {
	d, ok := s.descriptors[name]
	if !ok {
		return "", nil
	}
	s.parsedNames[name] = true
	delete(s.values, name)

	// JSON body first, then the form/query merge. Order matters: the
	// first candidate wins for single-valued parameters, so JSON takes
	// precedence.
	candidates := make([]string, 0, 2)
	candidates = appendCandidates(candidates, s.jsonBody[name])
	candidates = appendCandidates(candidates, s.merged[name])
	s.jsonBody.Del(name)
	s.merged.Del(name)

	if decoder != nil {
		decoded := candidates[:0]
		for _, v := range candidates {
			out, err := decoder(name, v)
			if err != nil {
				return "", err
			}
			if out != "" {
				decoded = append(decoded, out)
			}
		}
		candidates = dedupe(decoded)
	}

	if len(candidates) == 0 {
		return "", nil
	}

	var value string
	if d.Multi {
		joined := candidates[0]
		for _, v := range candidates[1:] {
			joined += " " + v
		}
		value = joined
	} else {
		if len(candidates) > 1 {
			return "", oauth.ErrInvalidRequest(fmt.Sprintf("duplicate parameter '%s'", name))
		}
		value = candidates[0]
	}

	if d.Validate != nil {
		if err := d.Validate(name, value); err != nil {
			return "", err
		}
	} else if !vschar.MatchString(value) {
		return "", oauth.ErrInvalidRequest(fmt.Sprintf("parameter '%s' contains invalid characters", name))
	}
	if d.Canonicalize != nil {
		canonical, err := d.Canonicalize(value)
		if err != nil {
			return "", err
		}
		value = canonical
	}

	if value != "" {
		s.values[name] = value
	}
	return value, nil
}

func appendCandidates(dst, src []string) []string {
	for _, v := range src {
		if v == "" {
			continue
		}
		dup := false
		for _, existing := range dst {
			if existing == v {
				dup = true
				break
			}
		}
		if !dup {
			dst = append(dst, v)
		}
	}
	return dst
}

func dedupe(in []string) []string {
	out := in[:0]
	seen := make(map[string]bool, len(in))
	for _, v := range in {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	return out
}

// ParseRemaining parses every registered-but-unparsed parameter with default
// decoding. The first error encountered is remembered and returned only
// after all remaining parameters have been attempted.
func (s *Set) ParseRemaining() error {
	var deferred error
	for name := range s.descriptors {
		if s.parsedNames[name] {
			continue
		}
		if _, err := s.Parse(name, nil); err != nil && deferred == nil {
			deferred = err
		}
	}
	return deferred
}

// Get returns the parsed value for a parameter ("" when absent).
func (s *Set) Get(name string) string {
	return s.values[name]
}

// Has reports whether a parsed value is present for the parameter.
func (s *Set) Has(name string) bool {
	_, ok := s.values[name]
	return ok
}

// Put stores a value directly, bypassing the request layers. Used when a
// request-object override or an authentication layer resolves a parameter
// out of band. The parameter is recorded as parsed.
func (s *Set) Put(name, value string) {
	s.parsedNames[name] = true
	if value == "" {
		delete(s.values, name)
		return
	}
	s.values[name] = value
}

// Remove deletes a parsed value and returns it.
func (s *Set) Remove(name string) string {
	value := s.values[name]
	delete(s.values, name)
	return value
}

// Values returns a copy of all parsed values keyed by parameter name.
func (s *Set) Values() map[string]string {
	out := make(map[string]string, len(s.values))
	for k, v := range s.values {
		out[k] = v
	}
	return out
}

// QueryString encodes all parsed values as a query string in url.Values form.
// Used to bind the effective authorization request into issued codes and
// tokens.
func (s *Set) QueryString() url.Values {
	out := url.Values{}
	for k, v := range s.values {
		out.Set(k, v)
	}
	return out
}

// Parameter names from the IANA OAuth parameters registry.
const (
	ClientID            = "client_id"
	ClientSecret        = "client_secret"
	ClientAssertion     = "client_assertion"
	ClientAssertionType = "client_assertion_type"
	GrantType           = "grant_type"
	Scope               = "scope"
	Code                = "code"
	RedirectURI         = "redirect_uri"
	CodeVerifier        = "code_verifier"
	CodeChallenge       = "code_challenge"
	CodeChallengeMethod = "code_challenge_method"
	Username            = "username"
	Password            = "password"
	Assertion           = "assertion"
	Resource            = "resource"
	Audience            = "audience"
	RequestedTokenType  = "requested_token_type"
	SubjectToken        = "subject_token"
	SubjectTokenType    = "subject_token_type"
	ActorToken          = "actor_token"
	ActorTokenType      = "actor_token_type"
	RefreshToken        = "refresh_token"
	ResponseType        = "response_type"
	ResponseMode        = "response_mode"
	State               = "state"
	Nonce               = "nonce"
	Display             = "display"
	Prompt              = "prompt"
	MaxAge              = "max_age"
	UILocales           = "ui_locales"
	ClaimsLocales       = "claims_locales"
	IDTokenHint         = "id_token_hint"
	LoginHint           = "login_hint"
	Claims              = "claims"
	Registration        = "registration"
	Request             = "request"
	RequestURI          = "request_uri"
	IDToken             = "id_token"
	IssuedTokenType     = "issued_token_type"
)

var (
	displayPattern      = regexp.MustCompile(`^(page|popup|touch|wap)$`)
	responseModePattern = regexp.MustCompile(`^(query|fragment|form_post)$`)
)

// pkceMethods lists the challenge methods the token endpoint can verify.
// The IANA registry also names S384 and S512; accepting them here would
// bind challenges no verifier can check.
var pkceMethods = map[string]bool{
	"plain": true,
	"S256":  true,
}

func vscharValidator(context string) func(name, value string) error {
	return func(name, value string) error {
		if !vschar.MatchString(value) {
			return oauth.ErrInvalidRequest(fmt.Sprintf("'%s' is not a valid %s (%s)", value, name, context))
		}
		return nil
	}
}

var standardDescriptors = map[string]*Descriptor{
	ClientID:     {Validate: vscharValidator("RFC6749 appendix A.1")},
	ClientSecret: {Validate: vscharValidator("RFC6749 appendix A.2")},
	State:        {Validate: vscharValidator("RFC6749 appendix A.5")},

	ClientAssertion:     {},
	ClientAssertionType: {},
	GrantType:           {},
	Code:                {},
	RedirectURI:         {},
	CodeVerifier:        {},
	CodeChallenge:       {},
	Username:            {},
	Password:            {},
	Assertion:           {},
	Resource:            {},
	Audience:            {},
	RequestedTokenType:  {},
	SubjectToken:        {},
	SubjectTokenType:    {},
	ActorToken:          {},
	ActorTokenType:      {},
	RefreshToken:        {},
	Nonce:               {},
	ClaimsLocales:       {},
	IDTokenHint:         {},
	LoginHint:           {},
	Claims:              {},
	Registration:        {},
	Request:             {},
	RequestURI:          {},

	CodeChallengeMethod: {
		Validate: func(name, value string) error {
			if !pkceMethods[value] {
				return oauth.ErrInvalidRequest(fmt.Sprintf("'%s' is not a supported code challenge method", value))
			}
			return nil
		},
	},

	Display: {
		Validate: func(name, value string) error {
			if !displayPattern.MatchString(value) {
				return oauth.ErrInvalidRequest(fmt.Sprintf("'%s' is not a valid display (OpenID Connect Core section 3.1.2.1)", value))
			}
			return nil
		},
	},

	ResponseMode: {
		Validate: func(name, value string) error {
			if !responseModePattern.MatchString(value) {
				return oauth.ErrInvalidRequest(fmt.Sprintf("'%s' is not a valid response mode", value))
			}
			return nil
		},
	},

	MaxAge: {
		Validate: func(name, value string) error {
			if _, err := strconv.ParseInt(value, 10, 64); err != nil {
				return oauth.ErrInvalidRequest(fmt.Sprintf("can't parse integer for parameter '%s'", name))
			}
			return nil
		},
	},

	Scope: {
		Multi:        true,
		Canonicalize: CanonicalScopes,
	},
	ResponseType: {
		Multi:        true,
		Canonicalize: CanonicalResponseTypes,
	},
	Prompt: {
		Multi:        true,
		Canonicalize: CanonicalPrompts,
	},
	UILocales: {
		Multi:        true,
		Canonicalize: CanonicalLocales,
	},
}

// AuthorizeParameters is the full OIDC parameter set registered by the
// authorization endpoint.
var AuthorizeParameters = []string{
	ClientID, ResponseType, RedirectURI, Scope, State, Nonce,
	Display, Prompt, MaxAge, UILocales, ClaimsLocales,
	IDTokenHint, LoginHint, Claims, Registration,
	Request, RequestURI, CodeChallenge, CodeChallengeMethod,
	Resource, ResponseMode,
}

// ClientAuthParameters is the client authentication parameter set registered
// by every token-endpoint grant.
var ClientAuthParameters = []string{
	GrantType, ClientID, ClientSecret, ClientAssertion, ClientAssertionType,
}
