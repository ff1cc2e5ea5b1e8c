package instrumentation

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds all metric instruments for the authorization server
type Metrics struct {
	// HTTP Layer Metrics
	HTTPRequestsTotal   metric.Int64Counter
	HTTPRequestDuration metric.Float64Histogram

	// OAuth Flow Metrics
	AuthorizationStarted metric.Int64Counter
	TokenIssued          metric.Int64Counter
	CodeExchanged        metric.Int64Counter
	TokenRefreshed       metric.Int64Counter
	TokenRevoked         metric.Int64Counter
	ClientRegistered     metric.Int64Counter

	// Security Metrics
	RateLimitExceeded    metric.Int64Counter
	PKCEValidationFailed metric.Int64Counter
	CodeReuseDetected    metric.Int64Counter
	TokenReuseDetected   metric.Int64Counter

	// Storage Metrics
	StorageOperationTotal     metric.Int64Counter
	StorageOperationDuration  metric.Float64Histogram
	StorageAccessTokensCount  metric.Int64ObservableGauge
	StorageRefreshTokensCount metric.Int64ObservableGauge
	StorageAuthCodesCount     metric.Int64ObservableGauge
	StorageApplicationsCount  metric.Int64ObservableGauge

	// Audit Metrics
	AuditEventsTotal metric.Int64Counter
}

// newMetrics creates and registers all metric instruments
func newMetrics(inst *Instrumentation) (*Metrics, error) {
	m := &Metrics{}

	httpMeter := inst.Meter("http")
	serverMeter := inst.Meter("server")
	securityMeter := inst.Meter("security")
	storageMeter := inst.Meter("storage")

	// HTTP Layer Metrics
	var err error
	m.HTTPRequestsTotal, err = httpMeter.Int64Counter(
		"oauth.http.requests.total",
		metric.WithDescription("Total number of HTTP requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create http.requests.total counter: %w", err)
	}

	m.HTTPRequestDuration, err = httpMeter.Float64Histogram(
		"oauth.http.request.duration",
		metric.WithDescription("HTTP request duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create http.request.duration histogram: %w", err)
	}

	// OAuth Flow Metrics
	m.AuthorizationStarted, err = serverMeter.Int64Counter(
		"oauth.authorization.started",
		metric.WithDescription("Number of authorization requests started"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create authorization.started counter: %w", err)
	}

	m.TokenIssued, err = serverMeter.Int64Counter(
		"oauth.token.issued",
		metric.WithDescription("Number of access tokens issued"),
		metric.WithUnit("{token}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create token.issued counter: %w", err)
	}

	m.CodeExchanged, err = serverMeter.Int64Counter(
		"oauth.code.exchanged",
		metric.WithDescription("Number of authorization codes exchanged for tokens"),
		metric.WithUnit("{exchange}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create code.exchanged counter: %w", err)
	}

	m.TokenRefreshed, err = serverMeter.Int64Counter(
		"oauth.token.refreshed",
		metric.WithDescription("Number of tokens refreshed"),
		metric.WithUnit("{refresh}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create token.refreshed counter: %w", err)
	}

	m.TokenRevoked, err = serverMeter.Int64Counter(
		"oauth.token.revoked",
		metric.WithDescription("Number of tokens revoked"),
		metric.WithUnit("{revocation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create token.revoked counter: %w", err)
	}

	m.ClientRegistered, err = serverMeter.Int64Counter(
		"oauth.client.registered",
		metric.WithDescription("Number of client applications registered"),
		metric.WithUnit("{client}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create client.registered counter: %w", err)
	}

	// Security Metrics
	m.RateLimitExceeded, err = securityMeter.Int64Counter(
		"oauth.rate_limit.exceeded",
		metric.WithDescription("Number of rate limit violations"),
		metric.WithUnit("{violation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create rate_limit.exceeded counter: %w", err)
	}

	m.PKCEValidationFailed, err = securityMeter.Int64Counter(
		"oauth.pkce.validation_failed",
		metric.WithDescription("Number of PKCE validation failures"),
		metric.WithUnit("{failure}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create pkce.validation_failed counter: %w", err)
	}

	m.CodeReuseDetected, err = securityMeter.Int64Counter(
		"oauth.code.reuse_detected",
		metric.WithDescription("Number of authorization code reuse attempts detected"),
		metric.WithUnit("{attempt}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create code.reuse_detected counter: %w", err)
	}

	m.TokenReuseDetected, err = securityMeter.Int64Counter(
		"oauth.token.reuse_detected",
		metric.WithDescription("Number of refresh token reuse attempts detected"),
		metric.WithUnit("{attempt}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create token.reuse_detected counter: %w", err)
	}

	// Storage Metrics
	m.StorageOperationTotal, err = storageMeter.Int64Counter(
		"storage.operation.total",
		metric.WithDescription("Total number of storage operations"),
		metric.WithUnit("{operation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage.operation.total counter: %w", err)
	}

	m.StorageOperationDuration, err = storageMeter.Float64Histogram(
		"storage.operation.duration",
		metric.WithDescription("Storage operation duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage.operation.duration histogram: %w", err)
	}

	m.StorageAccessTokensCount, err = storageMeter.Int64ObservableGauge(
		"storage.access_tokens.count",
		metric.WithDescription("Current number of stored access tokens"),
		metric.WithUnit("{token}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage.access_tokens.count gauge: %w", err)
	}

	m.StorageRefreshTokensCount, err = storageMeter.Int64ObservableGauge(
		"storage.refresh_tokens.count",
		metric.WithDescription("Current number of stored refresh tokens"),
		metric.WithUnit("{token}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage.refresh_tokens.count gauge: %w", err)
	}

	m.StorageAuthCodesCount, err = storageMeter.Int64ObservableGauge(
		"storage.auth_codes.count",
		metric.WithDescription("Current number of pending authorization codes"),
		metric.WithUnit("{code}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage.auth_codes.count gauge: %w", err)
	}

	m.StorageApplicationsCount, err = storageMeter.Int64ObservableGauge(
		"storage.applications.count",
		metric.WithDescription("Current number of registered applications"),
		metric.WithUnit("{application}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage.applications.count gauge: %w", err)
	}

	// Audit Metrics
	m.AuditEventsTotal, err = securityMeter.Int64Counter(
		"oauth.audit.events.total",
		metric.WithDescription("Total number of audit events"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create audit.events.total counter: %w", err)
	}

	return m, nil
}

// Helper methods for common metric recording patterns

// RecordHTTPRequest records an HTTP request metric
func (m *Metrics) RecordHTTPRequest(ctx context.Context, method, endpoint string, statusCode int, durationMs float64) {
	attrs := []attribute.KeyValue{
		attribute.String("method", method),
		attribute.String("endpoint", endpoint),
		attribute.Int("status", statusCode),
	}

	m.HTTPRequestsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.HTTPRequestDuration.Record(ctx, durationMs, metric.WithAttributes(attribute.String("endpoint", endpoint)))
}

// RecordAuthorizationStarted records an authorization request start
func (m *Metrics) RecordAuthorizationStarted(ctx context.Context, clientID string) {
	m.AuthorizationStarted.Add(ctx, 1, metric.WithAttributes(
		attribute.String("client_id", clientID),
	))
}

// RecordTokenIssued records an access token issuance
func (m *Metrics) RecordTokenIssued(ctx context.Context, clientID, grantType string) {
	m.TokenIssued.Add(ctx, 1, metric.WithAttributes(
		attribute.String("client_id", clientID),
		attribute.String("grant_type", grantType),
	))
}

// RecordCodeExchange records an authorization code exchange
func (m *Metrics) RecordCodeExchange(ctx context.Context, clientID, pkceMethod string) {
	m.CodeExchanged.Add(ctx, 1, metric.WithAttributes(
		attribute.String("client_id", clientID),
		attribute.String("pkce_method", pkceMethod),
	))
}

// RecordTokenRefresh records a token refresh operation
func (m *Metrics) RecordTokenRefresh(ctx context.Context, clientID string, rotated bool) {
	m.TokenRefreshed.Add(ctx, 1, metric.WithAttributes(
		attribute.String("client_id", clientID),
		attribute.Bool("rotated", rotated),
	))
}

// RecordTokenRevocation records a token revocation
func (m *Metrics) RecordTokenRevocation(ctx context.Context, clientID string) {
	m.TokenRevoked.Add(ctx, 1, metric.WithAttributes(
		attribute.String("client_id", clientID),
	))
}

// RecordClientRegistration records a client application registration
func (m *Metrics) RecordClientRegistration(ctx context.Context, clientType string) {
	m.ClientRegistered.Add(ctx, 1, metric.WithAttributes(
		attribute.String("client_type", clientType),
	))
}

// RecordRateLimitExceeded records a rate limit violation
func (m *Metrics) RecordRateLimitExceeded(ctx context.Context, limiterType string) {
	m.RateLimitExceeded.Add(ctx, 1, metric.WithAttributes(
		attribute.String("limiter_type", limiterType),
	))
}

// RecordPKCEValidationFailed records a PKCE validation failure
func (m *Metrics) RecordPKCEValidationFailed(ctx context.Context, method string) {
	m.PKCEValidationFailed.Add(ctx, 1, metric.WithAttributes(
		attribute.String("method", method),
	))
}

// RecordCodeReuseDetected records an authorization code reuse attempt
func (m *Metrics) RecordCodeReuseDetected(ctx context.Context) {
	m.CodeReuseDetected.Add(ctx, 1)
}

// RecordTokenReuseDetected records a refresh token reuse attempt
func (m *Metrics) RecordTokenReuseDetected(ctx context.Context) {
	m.TokenReuseDetected.Add(ctx, 1)
}

// RecordStorageOperation records a storage operation
func (m *Metrics) RecordStorageOperation(ctx context.Context, operation, result string, durationMs float64) {
	attrs := []attribute.KeyValue{
		attribute.String("operation", operation),
		attribute.String("result", result),
	}

	m.StorageOperationTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.StorageOperationDuration.Record(ctx, durationMs, metric.WithAttributes(
		attribute.String("operation", operation),
	))
}

// RecordAuditEvent records an audit event
func (m *Metrics) RecordAuditEvent(ctx context.Context, eventType string) {
	m.AuditEventsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("event_type", eventType),
	))
}
