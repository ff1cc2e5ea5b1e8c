// Package instrumentation provides OpenTelemetry (OTEL) instrumentation for the authorization server.
//
// This package enables observability across all server layers through:
// - Metrics: Counters, histograms, and gauges for monitoring OAuth operations
// - Traces: Distributed tracing for request flows across components
// - Logging: Structured logs with trace context integration
//
// # Quick Start
//
//	import "github.com/oauthware/oauth-server/instrumentation"
//
//	// Initialize instrumentation
//	inst, err := instrumentation.New(instrumentation.Config{
//		ServiceName:    "my-auth-server",
//		ServiceVersion: "1.0.0",
//	})
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer inst.Shutdown(context.Background())
//
//	// Pass to server configuration
//	srv.SetInstrumentation(inst)
//
// # Available Metrics
//
// HTTP Layer:
//   - oauth.http.requests.total{method, endpoint, status} - Total HTTP requests
//   - oauth.http.request.duration{endpoint} - Request duration in milliseconds
//
// OAuth Flows:
//   - oauth.authorization.started{client_id} - Authorization requests started
//   - oauth.token.issued{client_id, grant_type} - Access tokens issued
//   - oauth.code.exchanged{client_id, pkce_method} - Authorization codes exchanged
//   - oauth.token.refreshed{client_id, rotated} - Tokens refreshed
//   - oauth.token.revoked{client_id} - Tokens revoked
//   - oauth.client.registered{client_type} - Client applications registered
//
// Security:
//   - oauth.rate_limit.exceeded{limiter_type} - Rate limit violations
//   - oauth.pkce.validation_failed{method} - PKCE validation failures
//   - oauth.code.reuse_detected - Authorization code reuse attempts
//   - oauth.token.reuse_detected - Refresh token reuse attempts
//   - oauth.audit.events.total{event_type} - Audit events
//
// Storage:
//   - storage.operation.total{operation, result} - Storage operations
//   - storage.operation.duration{operation} - Operation duration in milliseconds
//   - storage.access_tokens.count - Current access token count
//   - storage.refresh_tokens.count - Current refresh token count
//   - storage.auth_codes.count - Pending authorization code count
//   - storage.applications.count - Registered application count
//
// # Performance
//
// When instrumentation is not configured or disabled:
//   - Zero overhead (uses no-op providers)
//   - No allocations or latency impact
//
// # Thread Safety
//
// All instrumentation operations are thread-safe and can be called concurrently from multiple goroutines.
//
// # Metric Cardinality Considerations
//
// Metric cardinality refers to the number of unique label combinations for a metric.
// High cardinality can cause memory pressure and slow queries in monitoring systems.
//
// Label cardinality in this library:
//   - client_id: One value per registered OAuth client (typically 1-1000s)
//   - endpoint: Fixed set (a handful of endpoints)
//   - grant_type, operation, status: Fixed sets
//
// At high scale (>10,000 clients), remove client_id labels from high-frequency
// metrics via recording rules or aggregation, and use traces for per-client
// debugging instead of metrics.
//
// # Security Considerations
//
// IMPORTANT: This package is designed to collect observability data, not sensitive credentials.
//
// When instrumenting OAuth flows, you MUST:
//   - NEVER log actual token values (access tokens, refresh tokens, authorization codes)
//   - NEVER log client secrets or PKCE verifiers
//   - ONLY log metadata (token types, expiry times, validation results, grant types)
//
// Data collected in traces and metrics may be:
//   - Persisted for extended periods in observability backends
//   - Accessible to operations teams and potentially wider audiences
//   - Subject to compliance requirements (GDPR, PCI-DSS, SOC 2, etc.)
//
// Privacy considerations:
//   - Client IP addresses may be considered PII in some jurisdictions
//   - Subject identifiers may be subject to privacy regulations
//   - Configure appropriate retention policies and access controls
package instrumentation
