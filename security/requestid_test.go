package security

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestGenerateRequestID(t *testing.T) {
	first := GenerateRequestID()
	second := GenerateRequestID()

	if len(first) != 22 {
		t.Errorf("len = %d, want 22 (16 bytes base64url, unpadded)", len(first))
	}
	if first == second {
		t.Error("consecutive IDs identical")
	}
	if !isValidRequestID(first) {
		t.Errorf("generated ID %q fails its own validation", first)
	}
}

func TestRequestIDContext(t *testing.T) {
	ctx := WithRequestID(context.Background(), "req-42")
	if got := GetRequestID(ctx); got != "req-42" {
		t.Errorf("GetRequestID() = %q, want req-42", got)
	}
	if got := GetRequestID(context.Background()); got != "" {
		t.Errorf("GetRequestID(empty) = %q, want empty", got)
	}
}

func TestRequestIDMiddleware(t *testing.T) {
	tests := []struct {
		name     string
		upstream string
		keep     bool
	}{
		{name: "no upstream ID", upstream: "", keep: false},
		{name: "valid upstream ID", upstream: "alb-1234_abcd", keep: true},
		{name: "injection attempt", upstream: "evil\r\nSet-Cookie: x", keep: false},
		{name: "oversized upstream ID", upstream: strings.Repeat("a", 129), keep: false},
		{name: "unsafe characters", upstream: "id with spaces", keep: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var seenInContext string
			handler := RequestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				seenInContext = GetRequestID(r.Context())
			}))

			r := httptest.NewRequest("GET", "/token", nil)
			if tt.upstream != "" {
				r.Header.Set(RequestIDHeader, tt.upstream)
			}
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, r)

			echoed := w.Header().Get(RequestIDHeader)
			if echoed == "" {
				t.Fatal("no request ID on response")
			}
			if !isValidRequestID(echoed) {
				t.Errorf("response ID %q is not valid", echoed)
			}
			if tt.keep && echoed != tt.upstream {
				t.Errorf("upstream ID %q replaced with %q", tt.upstream, echoed)
			}
			if !tt.keep && echoed == tt.upstream {
				t.Errorf("unsafe upstream ID %q kept", tt.upstream)
			}
			if seenInContext != echoed {
				t.Errorf("context ID %q != response ID %q", seenInContext, echoed)
			}
		})
	}
}
