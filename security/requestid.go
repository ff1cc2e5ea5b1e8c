package security

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"net/http"
	"regexp"
)

type requestIDContextKey struct{}

// RequestIDHeader carries the request correlation ID.
const RequestIDHeader = "X-Request-ID"

// Upstream IDs outside this shape are replaced: the bound blocks CRLF
// header injection and oversized values, while still accepting the formats
// common load balancers emit.
var requestIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,128}$`)

// GenerateRequestID returns a fresh 128-bit random correlation ID, encoded
// as unpadded base64url. Panics only when the system RNG is broken.
func GenerateRequestID() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		panic(fmt.Sprintf("crypto/rand.Read failed: %v", err))
	}
	return base64.RawURLEncoding.EncodeToString(b)
}

// WithRequestID stores the request ID on the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDContextKey{}, requestID)
}

// GetRequestID returns the context's request ID, or "".
func GetRequestID(ctx context.Context) string {
	if requestID, ok := ctx.Value(requestIDContextKey{}).(string); ok {
		return requestID
	}
	return ""
}

func isValidRequestID(requestID string) bool {
	return requestIDPattern.MatchString(requestID)
}

// RequestIDMiddleware tags every request with a correlation ID. A valid
// upstream ID is kept so proxy logs and audit entries line up; anything
// else is replaced with a generated one. The ID is echoed on the response
// and propagated through the request context.
func RequestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get(RequestIDHeader)
		if requestID == "" || !isValidRequestID(requestID) {
			requestID = GenerateRequestID()
		}

		w.Header().Set(RequestIDHeader, requestID)
		ctx := WithRequestID(r.Context(), requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
