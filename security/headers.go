package security

import (
	"net/http"
	"net/url"
)

// SetSecurityHeaders applies the response headers every protocol endpoint
// carries. The CSP is deliberately absolute: the endpoints serve JSON,
// redirects, and self-submitting forms, never third-party content.
func SetSecurityHeaders(w http.ResponseWriter, issuer string) {
	h := w.Header()
	h.Set("X-Frame-Options", "DENY")
	h.Set("X-Content-Type-Options", "nosniff")
	h.Set("X-XSS-Protection", "1; mode=block")
	h.Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
	h.Set("Referrer-Policy", "no-referrer")

	// HSTS only when the issuer itself is https, so plain-http local
	// setups keep working
	if parsed, err := url.Parse(issuer); err == nil && parsed.Scheme == "https" {
		h.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
	}

	// Credentials and codes move through these responses; nothing on the
	// path may cache them
	h.Set("Cache-Control", "no-store, no-cache, must-revalidate, private")
	h.Set("Pragma", "no-cache")
}
