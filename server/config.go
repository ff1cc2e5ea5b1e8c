package server

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Scope match policies for application-mode scope resolution.
const (
	// ScopeMatchIntersect grants the intersection of requested and
	// registered scopes, recording the rest as consent-pending.
	ScopeMatchIntersect = "intersect"

	// ScopeMatchSubset requires every requested scope to be registered.
	ScopeMatchSubset = "subset"
)

// Rotation policy names accepted in configuration files.
const (
	rotationNameNew      = "new"
	rotationNamePreserve = "preserve"
	rotationNameSliding  = "sliding"
)

// Config holds the engine configuration. Zero values are replaced with
// secure defaults at server construction.
type Config struct {
	// Issuer is the authorization server's issuer identifier URL, used in
	// RFC8414 metadata.
	Issuer string `yaml:"issuer" validate:"omitempty,url"`

	// Realm is the WWW-Authenticate Basic realm announced on 401
	// responses from the token endpoint.
	Realm string `yaml:"realm"`

	// Token material sizing. Lengths are in random bytes before base64url
	// encoding; the engine rejects values below 8.
	AccessTokenLength  int `yaml:"access_token_length" validate:"omitempty,min=8"`
	RefreshTokenLength int `yaml:"refresh_token_length" validate:"omitempty,min=8"`
	AuthCodeLength     int `yaml:"auth_code_length" validate:"omitempty,min=8"`

	AccessTokenTTL  time.Duration `yaml:"-"`
	RefreshTokenTTL time.Duration `yaml:"-"`
	AuthCodeTTL     time.Duration `yaml:"-"`

	// Refresh token issuance
	AllowRefreshToken           bool `yaml:"allow_refresh_token"`
	RequireOfflineAccessScope   bool `yaml:"require_offline_access_scope"`
	RefreshForClientCredentials bool `yaml:"refresh_for_client_credentials"`

	// RotationPolicy selects the refresh rotation behavior: new,
	// preserve, or sliding.
	RotationPolicy string `yaml:"rotation_policy" validate:"omitempty,oneof=new preserve sliding"`

	// RefreshRotation is the resolved rotation choice.
	RefreshRotation RotationChoice `yaml:"-"`

	// PKCE enforcement
	ForcePKCE      bool `yaml:"force_pkce"`
	AllowPKCEPlain bool `yaml:"allow_pkce_plain"`

	// Client authentication
	ForceClientSecret            bool `yaml:"force_client_secret"`
	AllowClientSecretInQuery     bool `yaml:"allow_client_secret_in_query"`
	AllowPublicClientCredentials bool `yaml:"allow_public_client_credentials"`

	// Registration filters
	EnforceAuthMethods   bool `yaml:"enforce_auth_methods"`
	EnforceGrantTypes    bool `yaml:"enforce_grant_types"`
	EnforceResponseTypes bool `yaml:"enforce_response_types"`

	// Scope resolution
	ScopeMatchPolicy      string `yaml:"scope_match_policy" validate:"omitempty,oneof=intersect subset"`
	RequireScopeValidator bool   `yaml:"require_scope_validator"`

	// Request surface
	AllowJSONRequests bool `yaml:"allow_json_requests"`
	AllowGETToken     bool `yaml:"allow_get_token"`

	// ExtendedGrants admits grant types outside the dispatch table.
	// Programmatic only.
	ExtendedGrants func(grantType string) bool `yaml:"-" validate:"-"`

	// Rate limiting for the HTTP surface
	RateLimitRPS   float64 `yaml:"rate_limit_rps" validate:"omitempty,gt=0"`
	RateLimitBurst int     `yaml:"rate_limit_burst" validate:"omitempty,gt=0"`
}

// fileConfig mirrors Config for YAML decoding. Durations arrive as
// time.ParseDuration strings ("30m", "720h").
type fileConfig struct {
	Config `yaml:",inline"`

	AccessTokenTTL  string `yaml:"access_token_ttl"`
	RefreshTokenTTL string `yaml:"refresh_token_ttl"`
	AuthCodeTTL     string `yaml:"auth_code_ttl"`
}

// LoadConfig reads and validates a YAML configuration file.
func LoadConfig(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var file fileConfig
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg := file.Config
	durations := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"access_token_ttl", file.AccessTokenTTL, &cfg.AccessTokenTTL},
		{"refresh_token_ttl", file.RefreshTokenTTL, &cfg.RefreshTokenTTL},
		{"auth_code_ttl", file.AuthCodeTTL, &cfg.AuthCodeTTL},
	}
	for _, d := range durations {
		if d.raw == "" {
			continue
		}
		parsed, err := time.ParseDuration(d.raw)
		if err != nil {
			return nil, fmt.Errorf("parse config: %s: %w", d.name, err)
		}
		*d.dst = parsed
	}

	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// applySecureDefaults fills zero values with secure defaults and resolves
// derived fields. Returns the same config for chaining.
func applySecureDefaults(cfg *Config, logger *slog.Logger) *Config {
	applyTimeDefaults(cfg)
	applySizeDefaults(cfg)

	if cfg.Realm == "" {
		cfg.Realm = "oauth"
	}
	if cfg.ScopeMatchPolicy == "" {
		cfg.ScopeMatchPolicy = ScopeMatchIntersect
	}

	switch cfg.RotationPolicy {
	case rotationNamePreserve:
		cfg.RefreshRotation = RotationPreserve
	case rotationNameSliding:
		cfg.RefreshRotation = RotationSliding
	case "", rotationNameNew:
		cfg.RefreshRotation = RotationNew
	}

	if cfg.RateLimitRPS == 0 {
		cfg.RateLimitRPS = 10
	}
	if cfg.RateLimitBurst == 0 {
		cfg.RateLimitBurst = 20
	}

	logSecurityWarnings(cfg, logger)
	return cfg
}

func applyTimeDefaults(cfg *Config) {
	if cfg.AccessTokenTTL == 0 {
		cfg.AccessTokenTTL = time.Hour
	}
	if cfg.RefreshTokenTTL == 0 {
		cfg.RefreshTokenTTL = 30 * 24 * time.Hour
	}
	if cfg.AuthCodeTTL == 0 {
		cfg.AuthCodeTTL = 10 * time.Minute
	}
}

func applySizeDefaults(cfg *Config) {
	if cfg.AccessTokenLength == 0 {
		cfg.AccessTokenLength = 32
	}
	if cfg.RefreshTokenLength == 0 {
		cfg.RefreshTokenLength = 32
	}
	if cfg.AuthCodeLength == 0 {
		cfg.AuthCodeLength = 32
	}
}

// logSecurityWarnings surfaces configuration choices that weaken the
// default posture.
func logSecurityWarnings(cfg *Config, logger *slog.Logger) {
	if logger == nil {
		return
	}
	if !cfg.ForcePKCE {
		logger.Warn("PKCE is not enforced; public clients can omit code_challenge")
	}
	if cfg.AllowPKCEPlain {
		logger.Warn("Plain PKCE method allowed; S256 is recommended")
	}
	if cfg.AllowClientSecretInQuery {
		logger.Warn("client_secret accepted in query strings; secrets may leak into access logs")
	}
	if cfg.AllowPublicClientCredentials {
		logger.Warn("Public clients may use the client_credentials grant")
	}
	if cfg.AllowGETToken {
		logger.Warn("GET requests accepted on the token endpoint; credentials may leak into access logs")
	}
}
