package server

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	oauth "github.com/oauthware/oauth-server"
	"github.com/oauthware/oauth-server/security"
)

// Handler is the HTTP adapter over the engine: routing, rate limiting,
// security headers, and the JSON/redirect response encoding.
type Handler struct {
	server *Server
	logger *slog.Logger
}

// NewHandler creates an HTTP handler for the server engine.
func NewHandler(server *Server, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{server: server, logger: logger}
}

// RegisterRoutes registers the OAuth endpoints on the mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.Handle("/authorize", security.RequestIDMiddleware(http.HandlerFunc(h.HandleAuthorize)))
	mux.Handle("/token", security.RequestIDMiddleware(http.HandlerFunc(h.HandleToken)))
	mux.HandleFunc("/.well-known/oauth-authorization-server", h.ServeMetadata)
}

// HandleAuthorize serves GET and form POST authorization requests.
func (h *Handler) HandleAuthorize(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	security.SetSecurityHeaders(w, h.server.Config.Issuer)

	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		h.writeError(w, oauth.ErrInvalidRequest("method not allowed").WithStatus(http.StatusMethodNotAllowed))
		return
	}
	if !h.allowRequest(w, r) {
		return
	}

	resp, err := h.server.Authorize(r.Context(), r)
	h.recordHTTP(r, "/authorize", start, err)
	if err != nil {
		h.writeError(w, oauth.AsOAuthError(err))
		return
	}

	h.writeRedirect(w, resp)
}

// HandleToken serves token requests. GET is accepted only when explicitly
// enabled; responses are always JSON.
func (h *Handler) HandleToken(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	security.SetSecurityHeaders(w, h.server.Config.Issuer)

	switch r.Method {
	case http.MethodPost:
	case http.MethodGet:
		if !h.server.Config.AllowGETToken {
			h.writeError(w, oauth.ErrInvalidRequest("method not allowed").WithStatus(http.StatusMethodNotAllowed))
			return
		}
	default:
		h.writeError(w, oauth.ErrInvalidRequest("method not allowed").WithStatus(http.StatusMethodNotAllowed))
		return
	}
	if !h.allowRequest(w, r) {
		return
	}

	resp, err := h.server.Token(r.Context(), r)
	h.recordHTTP(r, "/token", start, err)
	if err != nil {
		h.writeError(w, oauth.AsOAuthError(err))
		return
	}

	h.writeJSON(w, http.StatusOK, resp)
}

// ServeMetadata serves the RFC8414 authorization server metadata document.
func (h *Handler) ServeMetadata(w http.ResponseWriter, r *http.Request) {
	security.SetSecurityHeaders(w, h.server.Config.Issuer)
	if r.Method != http.MethodGet {
		h.writeError(w, oauth.ErrInvalidRequest("method not allowed").WithStatus(http.StatusMethodNotAllowed))
		return
	}

	issuer := h.server.Config.Issuer
	metadata := &oauth.AuthorizationServerMetadata{
		Issuer:                issuer,
		AuthorizationEndpoint: issuer + "/authorize",
		TokenEndpoint:         issuer + "/token",
		ResponseTypesSupported: []string{
			oauth.ResponseTypeCode,
			oauth.ResponseTypeToken,
			oauth.ResponseTypeIDToken,
			oauth.ResponseTypeNone,
		},
		ResponseModesSupported: []string{
			oauth.ResponseModeQuery,
			oauth.ResponseModeFragment,
			oauth.ResponseModeFormPost,
		},
		GrantTypesSupported: []string{
			oauth.GrantTypeAuthorizationCode,
			oauth.GrantTypeClientCredentials,
			oauth.GrantTypePassword,
			oauth.GrantTypeRefreshToken,
			oauth.GrantTypeJWTBearer,
			oauth.GrantTypeSAML2Bearer,
			oauth.GrantTypeTokenExchange,
		},
		TokenEndpointAuthMethodsSupported: []string{
			oauth.AuthMethodClientSecretBasic,
			oauth.AuthMethodClientSecretPost,
			oauth.AuthMethodPrivateKeyJWT,
			oauth.AuthMethodNone,
		},
		CodeChallengeMethodsSupported: pkceMethods(h.server.Config.AllowPKCEPlain),
		RequestParameterSupported:    h.server.RequestValidator != nil,
		RequestURIParameterSupported: h.server.RequestURIRetriever != nil,
	}

	w.Header().Set("Cache-Control", "public, max-age=3600")
	h.writeJSON(w, http.StatusOK, metadata)
}

// allowRequest applies the IP rate limit.
func (h *Handler) allowRequest(w http.ResponseWriter, r *http.Request) bool {
	if h.server.RateLimiter == nil {
		return true
	}
	ip := security.GetClientIP(r, false, 0)
	if h.server.RateLimiter.Allow(ip) {
		return true
	}
	if h.server.Auditor != nil {
		h.server.Auditor.LogRateLimitExceeded(ip, "")
	}
	w.Header().Set("Retry-After", "1")
	h.writeError(w, oauth.ErrInvalidRequest("rate limit exceeded").WithStatus(http.StatusTooManyRequests))
	return false
}

// writeRedirect encodes an authorize-endpoint result: either a Location
// redirect or a policy-prepared response body.
func (h *Handler) writeRedirect(w http.ResponseWriter, resp *redirectResponse) {
	if resp.Prepared != nil {
		for name, values := range resp.Prepared.Header {
			for _, value := range values {
				w.Header().Add(name, value)
			}
		}
		status := resp.Prepared.Status
		if status == 0 {
			status = http.StatusOK
		}
		w.WriteHeader(status)
		if len(resp.Prepared.Body) > 0 {
			if _, err := w.Write(resp.Prepared.Body); err != nil {
				h.logger.Warn("Failed to write prepared response", "error", err)
			}
		}
		return
	}

	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Pragma", "no-cache")
	w.Header().Set("Location", resp.Location)
	w.WriteHeader(http.StatusFound)
}

// writeError encodes an OAuth error as the RFC6749 JSON body. 401
// responses additionally announce the Basic challenge.
func (h *Handler) writeError(w http.ResponseWriter, oerr *oauth.OAuthError) {
	if oerr.Status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", fmt.Sprintf("Basic realm=%q", h.server.Config.Realm))
	}

	body := &oauth.ErrorResponse{
		Error:            oerr.Code,
		ErrorDescription: oerr.Description,
		ErrorURI:         oerr.URI,
	}
	// Server faults keep their detail in the log, not the response
	if oerr.Status >= http.StatusInternalServerError {
		body.ErrorDescription = ""
	}

	h.writeJSON(w, oerr.Status, body)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	// no-store is the default for token material; metadata sets its own
	// caching policy before calling here
	if w.Header().Get("Cache-Control") == "" {
		w.Header().Set("Cache-Control", "no-store")
		w.Header().Set("Pragma", "no-cache")
	}
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.logger.Warn("Failed to encode response", "error", err)
	}
}

func (h *Handler) recordHTTP(r *http.Request, endpoint string, start time.Time, err error) {
	if h.server.instrumentation == nil {
		return
	}
	status := http.StatusOK
	if err != nil {
		status = oauth.AsOAuthError(err).Status
	}
	durationMs := float64(time.Since(start).Milliseconds())
	h.server.instrumentation.Metrics().RecordHTTPRequest(r.Context(), r.Method, endpoint, status, durationMs)
}

// pkceMethods advertises only the challenge methods the server will
// actually accept at the authorization endpoint.
func pkceMethods(allowPlain bool) []string {
	methods := []string{oauth.PKCEMethodS256}
	if allowPlain {
		methods = append(methods, oauth.PKCEMethodPlain)
	}
	return methods
}
