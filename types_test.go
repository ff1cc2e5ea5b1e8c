package oauth

import (
	"encoding/json"
	"testing"
)

func TestErrorResponse_JSON(t *testing.T) {
	tests := []struct {
		name string
		err  ErrorResponse
	}{
		{
			name: "complete error",
			err: ErrorResponse{
				Error:            "invalid_request",
				ErrorDescription: "The request is missing a required parameter",
				ErrorURI:         "https://example.com/docs/errors#invalid_request",
			},
		},
		{
			name: "minimal error",
			err: ErrorResponse{
				Error: "server_error",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := json.Marshal(tt.err)
			if err != nil {
				t.Fatalf("Marshal() error = %v", err)
			}

			var got ErrorResponse
			if err := json.Unmarshal(data, &got); err != nil {
				t.Fatalf("Unmarshal() error = %v", err)
			}

			if got != tt.err {
				t.Errorf("round trip = %+v, want %+v", got, tt.err)
			}
		})
	}

	t.Run("omits empty optional fields", func(t *testing.T) {
		data, err := json.Marshal(ErrorResponse{Error: "access_denied"})
		if err != nil {
			t.Fatalf("Marshal() error = %v", err)
		}
		var raw map[string]json.RawMessage
		if err := json.Unmarshal(data, &raw); err != nil {
			t.Fatalf("Unmarshal() error = %v", err)
		}
		if _, ok := raw["error_description"]; ok {
			t.Error("empty error_description was serialized")
		}
		if _, ok := raw["error_uri"]; ok {
			t.Error("empty error_uri was serialized")
		}
	})
}

func TestTokenResponse_MarshalJSON(t *testing.T) {
	t.Run("declared fields only", func(t *testing.T) {
		resp := TokenResponse{
			AccessToken: "at-123",
			TokenType:   "Bearer",
			ExpiresIn:   3600,
			Scope:       "openid profile",
		}
		data, err := json.Marshal(resp)
		if err != nil {
			t.Fatalf("Marshal() error = %v", err)
		}

		var raw map[string]json.RawMessage
		if err := json.Unmarshal(data, &raw); err != nil {
			t.Fatalf("Unmarshal() error = %v", err)
		}
		if string(raw["access_token"]) != `"at-123"` {
			t.Errorf("access_token = %s", raw["access_token"])
		}
		if _, ok := raw["refresh_token"]; ok {
			t.Error("empty refresh_token was serialized")
		}
	})

	t.Run("extra fields merge inline", func(t *testing.T) {
		resp := TokenResponse{
			AccessToken: "at-123",
			TokenType:   "Bearer",
			Extra: map[string]string{
				"tenant": "acme",
				"region": "eu-west",
			},
		}
		data, err := json.Marshal(resp)
		if err != nil {
			t.Fatalf("Marshal() error = %v", err)
		}

		var raw map[string]json.RawMessage
		if err := json.Unmarshal(data, &raw); err != nil {
			t.Fatalf("Unmarshal() error = %v", err)
		}
		if string(raw["tenant"]) != `"acme"` {
			t.Errorf("tenant = %s", raw["tenant"])
		}
		if string(raw["region"]) != `"eu-west"` {
			t.Errorf("region = %s", raw["region"])
		}
	})

	t.Run("extra never shadows declared fields", func(t *testing.T) {
		resp := TokenResponse{
			AccessToken: "real-token",
			TokenType:   "Bearer",
			Extra: map[string]string{
				"access_token": "spoofed",
				"token_type":   "spoofed",
			},
		}
		data, err := json.Marshal(resp)
		if err != nil {
			t.Fatalf("Marshal() error = %v", err)
		}

		var raw map[string]json.RawMessage
		if err := json.Unmarshal(data, &raw); err != nil {
			t.Fatalf("Unmarshal() error = %v", err)
		}
		if string(raw["access_token"]) != `"real-token"` {
			t.Errorf("access_token = %s, extra entry shadowed a declared field", raw["access_token"])
		}
		if string(raw["token_type"]) != `"Bearer"` {
			t.Errorf("token_type = %s", raw["token_type"])
		}
	})
}

func TestAuthorizationServerMetadata_JSON(t *testing.T) {
	meta := AuthorizationServerMetadata{
		Issuer:                 "https://auth.example.com",
		AuthorizationEndpoint:  "https://auth.example.com/authorize",
		TokenEndpoint:          "https://auth.example.com/token",
		ResponseTypesSupported: []string{"code", "token"},
		GrantTypesSupported:    []string{"authorization_code", "refresh_token"},
	}

	data, err := json.Marshal(meta)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}

	var got AuthorizationServerMetadata
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if got.Issuer != meta.Issuer {
		t.Errorf("Issuer = %q, want %q", got.Issuer, meta.Issuer)
	}
	if got.TokenEndpoint != meta.TokenEndpoint {
		t.Errorf("TokenEndpoint = %q, want %q", got.TokenEndpoint, meta.TokenEndpoint)
	}
}
