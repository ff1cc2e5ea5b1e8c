package server

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("writing config file: %v", err)
	}
	return path
}

func TestLoadConfig(t *testing.T) {
	path := writeConfigFile(t, `
issuer: https://as.example.com
realm: api
access_token_ttl: 30m
refresh_token_ttl: 720h
rotation_policy: sliding
force_pkce: true
allow_refresh_token: true
scope_match_policy: subset
rate_limit_rps: 50
rate_limit_burst: 100
`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.Issuer != "https://as.example.com" {
		t.Errorf("Issuer = %q", cfg.Issuer)
	}
	if cfg.Realm != "api" {
		t.Errorf("Realm = %q", cfg.Realm)
	}
	if cfg.AccessTokenTTL != 30*time.Minute {
		t.Errorf("AccessTokenTTL = %v", cfg.AccessTokenTTL)
	}
	if cfg.RotationPolicy != "sliding" {
		t.Errorf("RotationPolicy = %q", cfg.RotationPolicy)
	}
	if !cfg.ForcePKCE {
		t.Error("ForcePKCE = false")
	}
	if cfg.ScopeMatchPolicy != ScopeMatchSubset {
		t.Errorf("ScopeMatchPolicy = %q", cfg.ScopeMatchPolicy)
	}
	if cfg.RateLimitRPS != 50 {
		t.Errorf("RateLimitRPS = %v", cfg.RateLimitRPS)
	}
}

func TestLoadConfig_MissingFile(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("LoadConfig() of missing file succeeded")
	}
}

func TestLoadConfig_MalformedYAML(t *testing.T) {
	path := writeConfigFile(t, "issuer: [unclosed")
	if _, err := LoadConfig(path); err == nil {
		t.Error("LoadConfig() of malformed YAML succeeded")
	}
}

func TestLoadConfig_ValidationFailures(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"bad issuer", "issuer: not-a-url"},
		{"token length below floor", "access_token_length: 4"},
		{"unknown rotation policy", "rotation_policy: weekly"},
		{"bad scope policy", "scope_match_policy: overlap"},
		{"negative rate limit", "rate_limit_rps: -1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfigFile(t, tt.content)
			if _, err := LoadConfig(path); err == nil {
				t.Error("LoadConfig() accepted invalid configuration")
			}
		})
	}
}

func TestApplySecureDefaults(t *testing.T) {
	cfg := applySecureDefaults(&Config{}, testLogger())

	if cfg.AccessTokenTTL != time.Hour {
		t.Errorf("AccessTokenTTL = %v, want 1h", cfg.AccessTokenTTL)
	}
	if cfg.RefreshTokenTTL != 30*24*time.Hour {
		t.Errorf("RefreshTokenTTL = %v, want 720h", cfg.RefreshTokenTTL)
	}
	if cfg.AuthCodeTTL != 10*time.Minute {
		t.Errorf("AuthCodeTTL = %v, want 10m", cfg.AuthCodeTTL)
	}
	if cfg.AccessTokenLength != 32 || cfg.RefreshTokenLength != 32 || cfg.AuthCodeLength != 32 {
		t.Errorf("token lengths = %d/%d/%d, want 32 each",
			cfg.AccessTokenLength, cfg.RefreshTokenLength, cfg.AuthCodeLength)
	}
	if cfg.Realm != "oauth" {
		t.Errorf("Realm = %q, want oauth", cfg.Realm)
	}
	if cfg.ScopeMatchPolicy != ScopeMatchIntersect {
		t.Errorf("ScopeMatchPolicy = %q, want intersect", cfg.ScopeMatchPolicy)
	}
	if cfg.RefreshRotation != RotationNew {
		t.Errorf("RefreshRotation = %v, want RotationNew", cfg.RefreshRotation)
	}
	if cfg.RateLimitRPS != 10 || cfg.RateLimitBurst != 20 {
		t.Errorf("rate limits = %v/%d, want 10/20", cfg.RateLimitRPS, cfg.RateLimitBurst)
	}
}

func TestApplySecureDefaults_RotationResolution(t *testing.T) {
	tests := []struct {
		name string
		want RotationChoice
	}{
		{"", RotationNew},
		{"new", RotationNew},
		{"preserve", RotationPreserve},
		{"sliding", RotationSliding},
	}
	for _, tt := range tests {
		cfg := applySecureDefaults(&Config{RotationPolicy: tt.name}, testLogger())
		if cfg.RefreshRotation != tt.want {
			t.Errorf("rotation_policy %q resolved to %v, want %v", tt.name, cfg.RefreshRotation, tt.want)
		}
	}
}

func TestApplySecureDefaults_KeepsExplicitValues(t *testing.T) {
	cfg := applySecureDefaults(&Config{
		Realm:             "custom",
		AccessTokenTTL:    5 * time.Minute,
		AccessTokenLength: 64,
	}, testLogger())

	if cfg.Realm != "custom" {
		t.Errorf("Realm = %q, want custom", cfg.Realm)
	}
	if cfg.AccessTokenTTL != 5*time.Minute {
		t.Errorf("AccessTokenTTL = %v, want 5m", cfg.AccessTokenTTL)
	}
	if cfg.AccessTokenLength != 64 {
		t.Errorf("AccessTokenLength = %d, want 64", cfg.AccessTokenLength)
	}
}
