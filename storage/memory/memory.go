package memory

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/oauthware/oauth-server/instrumentation"
	"github.com/oauthware/oauth-server/security"
	"github.com/oauthware/oauth-server/storage"
)

const (
	// tokenLogLength is the number of characters to include when logging
	// token values. Enough uniqueness for debugging without leaking the
	// full credential.
	tokenLogLength = 8

	// maxAuthCodeEntries is the warning threshold for pending
	// authorization codes. Sustained growth past it suggests codes are
	// minted but never redeemed.
	maxAuthCodeEntries = 10000
)

// Store is an in-memory implementation of all storage interfaces.
type Store struct {
	mu sync.RWMutex

	accessTokens  map[string]*storage.AccessToken
	refreshTokens map[string]*storage.RefreshToken

	// Authentications keyed by the token value they were issued under
	accessAuth  map[string]*storage.Authentication
	refreshAuth map[string]*storage.Authentication

	authCodes map[string]*storage.AuthorizationCode

	applications map[string]*storage.ApplicationDetails

	// Consent keyed by applicationID + "\x00" + subject
	consents           map[string]*storage.Consent
	preAuthorizedScope map[string][]string

	// Instrumentation
	instrumentation *instrumentation.Instrumentation
	tracer          trace.Tracer
	meter           metric.Meter

	// Atomic counters for metrics (lock-free access during collection)
	accessTokensCountAtomic  atomic.Int64
	refreshTokensCountAtomic atomic.Int64
	authCodesCountAtomic     atomic.Int64
	applicationsCountAtomic  atomic.Int64

	cleanupInterval time.Duration
	stopCleanup     chan struct{}
	logger          *slog.Logger
}

// Compile-time interface checks
var (
	_ storage.TokenStore             = (*Store)(nil)
	_ storage.AuthorizationCodeStore = (*Store)(nil)
	_ storage.ApplicationDirectory   = (*Store)(nil)
	_ storage.ConsentStore           = (*Store)(nil)
)

// New creates a new in-memory store with the default cleanup interval
// (1 minute).
func New() *Store {
	return NewWithInterval(time.Minute)
}

// NewWithInterval creates a new in-memory store with a custom cleanup
// interval. The cleanup goroutine runs until Stop is called.
func NewWithInterval(cleanupInterval time.Duration) *Store {
	s := &Store{
		accessTokens:       make(map[string]*storage.AccessToken),
		refreshTokens:      make(map[string]*storage.RefreshToken),
		accessAuth:         make(map[string]*storage.Authentication),
		refreshAuth:        make(map[string]*storage.Authentication),
		authCodes:          make(map[string]*storage.AuthorizationCode),
		applications:       make(map[string]*storage.ApplicationDetails),
		consents:           make(map[string]*storage.Consent),
		preAuthorizedScope: make(map[string][]string),
		cleanupInterval:    cleanupInterval,
		stopCleanup:        make(chan struct{}),
		logger:             slog.Default(),
	}

	go s.cleanupLoop()

	return s
}

// SetLogger sets a custom logger
func (s *Store) SetLogger(logger *slog.Logger) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logger = logger
}

// SetInstrumentation sets OpenTelemetry instrumentation for the store
func (s *Store) SetInstrumentation(inst *instrumentation.Instrumentation) {
	s.mu.Lock()
	s.instrumentation = inst
	if inst != nil {
		s.tracer = inst.Tracer("storage")
		s.meter = inst.Meter("storage")
	}

	s.accessTokensCountAtomic.Store(int64(len(s.accessTokens)))
	s.refreshTokensCountAtomic.Store(int64(len(s.refreshTokens)))
	s.authCodesCountAtomic.Store(int64(len(s.authCodes)))
	s.applicationsCountAtomic.Store(int64(len(s.applications)))
	s.mu.Unlock()

	if inst != nil {
		err := inst.RegisterStorageSizeCallbacks(
			func() int64 { return s.accessTokensCountAtomic.Load() },
			func() int64 { return s.refreshTokensCountAtomic.Load() },
			func() int64 { return s.authCodesCountAtomic.Load() },
			func() int64 { return s.applicationsCountAtomic.Load() },
		)
		if err != nil {
			s.logger.Warn("Failed to register storage size callbacks", "error", err)
		}
	}
}

// Stop gracefully stops the cleanup goroutine
func (s *Store) Stop() {
	close(s.stopCleanup)
}

// ============================================================
// TokenStore Implementation
// ============================================================

// StoreAccessToken persists an access token and the authentication it was
// issued under
func (s *Store) StoreAccessToken(ctx context.Context, token *storage.AccessToken, auth *storage.Authentication) error {
	ctx, span := s.startStorageSpan(ctx, "store_access_token")
	defer span.End()

	startTime := time.Now()
	var err error
	defer func() {
		s.recordStorageOperation(ctx, span, "store_access_token", err, startTime)
	}()

	if token == nil || token.Value == "" {
		err = fmt.Errorf("access token value cannot be empty")
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, existed := s.accessTokens[token.Value]
	s.accessTokens[token.Value] = token
	if auth != nil {
		s.accessAuth[token.Value] = auth
	}
	if !existed {
		s.accessTokensCountAtomic.Add(1)
	}

	s.logger.Debug("Stored access token",
		"token_prefix", truncate(token.Value, tokenLogLength),
		"client_id", token.ClientID)
	return nil
}

// StoreRefreshToken persists a refresh token and the authentication it was
// issued under
func (s *Store) StoreRefreshToken(ctx context.Context, token *storage.RefreshToken, auth *storage.Authentication) error {
	ctx, span := s.startStorageSpan(ctx, "store_refresh_token")
	defer span.End()

	startTime := time.Now()
	var err error
	defer func() {
		s.recordStorageOperation(ctx, span, "store_refresh_token", err, startTime)
	}()

	if token == nil || token.Value == "" {
		err = fmt.Errorf("refresh token value cannot be empty")
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, existed := s.refreshTokens[token.Value]
	s.refreshTokens[token.Value] = token
	if auth != nil {
		s.refreshAuth[token.Value] = auth
	}
	if !existed {
		s.refreshTokensCountAtomic.Add(1)
	}

	s.logger.Debug("Stored refresh token",
		"token_prefix", truncate(token.Value, tokenLogLength),
		"application_id", token.ApplicationID)
	return nil
}

// ReadAccessToken retrieves a live access token by value
func (s *Store) ReadAccessToken(ctx context.Context, value string) (*storage.AccessToken, error) {
	ctx, span := s.startStorageSpan(ctx, "read_access_token")
	defer span.End()

	startTime := time.Now()
	var err error
	defer func() {
		s.recordStorageOperation(ctx, span, "read_access_token", err, startTime)
	}()

	s.mu.RLock()
	token, ok := s.accessTokens[value]
	s.mu.RUnlock()

	if !ok {
		err = fmt.Errorf("%w: access token", storage.ErrNotFound)
		return nil, err
	}

	// Clock skew grace period prevents false expiry on freshly synced nodes
	if security.IsTokenExpired(token.ExpiresAt) {
		err = fmt.Errorf("%w: access token expired", storage.ErrNotFound)
		return nil, err
	}

	return token, nil
}

// ReadRefreshToken retrieves a live refresh token by value
func (s *Store) ReadRefreshToken(ctx context.Context, value string) (*storage.RefreshToken, error) {
	ctx, span := s.startStorageSpan(ctx, "read_refresh_token")
	defer span.End()

	startTime := time.Now()
	var err error
	defer func() {
		s.recordStorageOperation(ctx, span, "read_refresh_token", err, startTime)
	}()

	s.mu.RLock()
	token, ok := s.refreshTokens[value]
	s.mu.RUnlock()

	if !ok {
		err = fmt.Errorf("%w: refresh token", storage.ErrNotFound)
		return nil, err
	}

	if security.IsTokenExpired(token.ExpiresAt) {
		err = fmt.Errorf("%w: refresh token expired", storage.ErrNotFound)
		return nil, err
	}

	return token, nil
}

// RemoveRefreshToken deletes a refresh token and its authentication
func (s *Store) RemoveRefreshToken(ctx context.Context, value string) error {
	ctx, span := s.startStorageSpan(ctx, "remove_refresh_token")
	defer span.End()

	startTime := time.Now()
	defer func() {
		s.recordStorageOperation(ctx, span, "remove_refresh_token", nil, startTime)
	}()

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.refreshTokens[value]; ok {
		delete(s.refreshTokens, value)
		delete(s.refreshAuth, value)
		s.refreshTokensCountAtomic.Add(-1)
	}
	return nil
}

// RedeemRefreshToken atomically retrieves and deletes a refresh token.
//
// SECURITY: check and delete happen under a single write lock so two
// concurrent redemptions of the same token cannot both succeed.
func (s *Store) RedeemRefreshToken(ctx context.Context, value string) (*storage.RefreshToken, error) {
	ctx, span := s.startStorageSpan(ctx, "redeem_refresh_token")
	defer span.End()

	startTime := time.Now()
	var err error
	defer func() {
		s.recordStorageOperation(ctx, span, "redeem_refresh_token", err, startTime)
	}()

	s.mu.Lock()
	defer s.mu.Unlock()

	token, ok := s.refreshTokens[value]
	if !ok {
		err = fmt.Errorf("%w: refresh token", storage.ErrNotFound)
		return nil, err
	}

	delete(s.refreshTokens, value)
	s.refreshTokensCountAtomic.Add(-1)

	if security.IsTokenExpired(token.ExpiresAt) {
		delete(s.refreshAuth, value)
		err = fmt.Errorf("%w: refresh token expired", storage.ErrNotFound)
		return nil, err
	}

	return token, nil
}

// ReadAuthenticationForRefreshToken retrieves the authentication a refresh
// token was issued under. The authentication survives RedeemRefreshToken so
// rotation can rebind it to the replacement token.
func (s *Store) ReadAuthenticationForRefreshToken(ctx context.Context, value string) (*storage.Authentication, error) {
	ctx, span := s.startStorageSpan(ctx, "read_refresh_authentication")
	defer span.End()

	startTime := time.Now()
	var err error
	defer func() {
		s.recordStorageOperation(ctx, span, "read_refresh_authentication", err, startTime)
	}()

	s.mu.RLock()
	auth, ok := s.refreshAuth[value]
	s.mu.RUnlock()

	if !ok {
		err = fmt.Errorf("%w: refresh token authentication", storage.ErrNotFound)
		return nil, err
	}
	return auth, nil
}

// ReadAuthenticationFromToken retrieves the authentication an access token
// was issued under
func (s *Store) ReadAuthenticationFromToken(ctx context.Context, value string) (*storage.Authentication, error) {
	ctx, span := s.startStorageSpan(ctx, "read_access_authentication")
	defer span.End()

	startTime := time.Now()
	var err error
	defer func() {
		s.recordStorageOperation(ctx, span, "read_access_authentication", err, startTime)
	}()

	s.mu.RLock()
	auth, ok := s.accessAuth[value]
	s.mu.RUnlock()

	if !ok {
		err = fmt.Errorf("%w: access token authentication", storage.ErrNotFound)
		return nil, err
	}
	return auth, nil
}

// ============================================================
// AuthorizationCodeStore Implementation
// ============================================================

// Add persists a freshly minted authorization code
func (s *Store) Add(ctx context.Context, code *storage.AuthorizationCode) error {
	ctx, span := s.startStorageSpan(ctx, "add_authorization_code")
	defer span.End()

	startTime := time.Now()
	var err error
	defer func() {
		s.recordStorageOperation(ctx, span, "add_authorization_code", err, startTime)
	}()

	if code == nil || code.Code == "" {
		err = fmt.Errorf("authorization code value cannot be empty")
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, existed := s.authCodes[code.Code]
	s.authCodes[code.Code] = code
	if !existed {
		s.authCodesCountAtomic.Add(1)
	}

	if len(s.authCodes) > maxAuthCodeEntries {
		s.logger.Warn("Pending authorization codes above threshold",
			"current_count", len(s.authCodes),
			"max_threshold", maxAuthCodeEntries)
	}

	s.logger.Debug("Stored authorization code",
		"code_prefix", truncate(code.Code, tokenLogLength),
		"client_id", code.ClientID)
	return nil
}

// Get retrieves a live code by value without consuming it
func (s *Store) Get(ctx context.Context, value string) (*storage.AuthorizationCode, error) {
	ctx, span := s.startStorageSpan(ctx, "get_authorization_code")
	defer span.End()

	startTime := time.Now()
	var err error
	defer func() {
		s.recordStorageOperation(ctx, span, "get_authorization_code", err, startTime)
	}()

	s.mu.RLock()
	code, ok := s.authCodes[value]
	s.mu.RUnlock()

	if !ok || code.Used {
		err = fmt.Errorf("%w: authorization code", storage.ErrNotFound)
		return nil, err
	}
	if security.IsTokenExpired(code.ExpiresAt) {
		err = fmt.Errorf("%w: authorization code expired", storage.ErrNotFound)
		return nil, err
	}
	return code, nil
}

// RedeemAuthorizationCode atomically retrieves and deletes a code.
//
// SECURITY: the used check, the mark, and the delete happen under a single
// write lock. Two concurrent redemptions of the same code cannot both
// succeed; the loser observes ErrNotFound and the caller should treat it as
// a possible replay.
func (s *Store) RedeemAuthorizationCode(ctx context.Context, value string) (*storage.AuthorizationCode, error) {
	ctx, span := s.startStorageSpan(ctx, "redeem_authorization_code")
	defer span.End()

	startTime := time.Now()
	var err error
	defer func() {
		s.recordStorageOperation(ctx, span, "redeem_authorization_code", err, startTime)
	}()

	s.mu.Lock()
	defer s.mu.Unlock()

	code, ok := s.authCodes[value]
	if !ok || code.Used {
		if ok && s.instrumentation != nil {
			s.instrumentation.Metrics().RecordCodeReuseDetected(ctx)
		}
		err = fmt.Errorf("%w: authorization code", storage.ErrNotFound)
		return nil, err
	}

	code.Used = true
	delete(s.authCodes, value)
	s.authCodesCountAtomic.Add(-1)

	if security.IsTokenExpired(code.ExpiresAt) {
		err = fmt.Errorf("%w: authorization code expired", storage.ErrNotFound)
		return nil, err
	}

	return code, nil
}

// Remove deletes a code
func (s *Store) Remove(ctx context.Context, value string) error {
	ctx, span := s.startStorageSpan(ctx, "remove_authorization_code")
	defer span.End()

	startTime := time.Now()
	defer func() {
		s.recordStorageOperation(ctx, span, "remove_authorization_code", nil, startTime)
	}()

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.authCodes[value]; ok {
		delete(s.authCodes, value)
		s.authCodesCountAtomic.Add(-1)
	}
	return nil
}

// ============================================================
// ApplicationDirectory Implementation
// ============================================================

// GetByClientID retrieves a registered client
func (s *Store) GetByClientID(ctx context.Context, clientID string) (*storage.ApplicationDetails, error) {
	ctx, span := s.startStorageSpan(ctx, "get_application")
	defer span.End()

	startTime := time.Now()
	var err error
	defer func() {
		s.recordStorageOperation(ctx, span, "get_application", err, startTime)
	}()

	s.mu.RLock()
	app, ok := s.applications[clientID]
	s.mu.RUnlock()

	if !ok {
		err = fmt.Errorf("%w: client %s", storage.ErrNotFound, clientID)
		return nil, err
	}
	return app, nil
}

// SaveApplication registers or updates a client
func (s *Store) SaveApplication(ctx context.Context, app *storage.ApplicationDetails) error {
	ctx, span := s.startStorageSpan(ctx, "save_application")
	defer span.End()

	startTime := time.Now()
	var err error
	defer func() {
		s.recordStorageOperation(ctx, span, "save_application", err, startTime)
	}()

	if app == nil || app.ClientID == "" {
		err = fmt.Errorf("client_id cannot be empty")
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, existed := s.applications[app.ClientID]
	s.applications[app.ClientID] = app
	if !existed {
		s.applicationsCountAtomic.Add(1)
	}

	s.logger.Debug("Saved application", "client_id", app.ClientID, "client_type", app.ClientType)
	return nil
}

// ============================================================
// ConsentStore Implementation
// ============================================================

func consentKey(applicationID, subject string) string {
	return applicationID + "\x00" + subject
}

// GetConsent retrieves the remembered grant for an application+subject pair
func (s *Store) GetConsent(ctx context.Context, applicationID, subject string) (*storage.Consent, error) {
	ctx, span := s.startStorageSpan(ctx, "get_consent")
	defer span.End()

	startTime := time.Now()
	defer func() {
		s.recordStorageOperation(ctx, span, "get_consent", nil, startTime)
	}()

	s.mu.RLock()
	consent := s.consents[consentKey(applicationID, subject)]
	s.mu.RUnlock()

	return consent, nil
}

// SaveConsent persists or replaces a remembered grant
func (s *Store) SaveConsent(ctx context.Context, consent *storage.Consent) error {
	ctx, span := s.startStorageSpan(ctx, "save_consent")
	defer span.End()

	startTime := time.Now()
	var err error
	defer func() {
		s.recordStorageOperation(ctx, span, "save_consent", err, startTime)
	}()

	if consent == nil || consent.ApplicationID == "" || consent.Subject == "" {
		err = fmt.Errorf("consent requires application id and subject")
		return err
	}

	s.mu.Lock()
	s.consents[consentKey(consent.ApplicationID, consent.Subject)] = consent
	s.mu.Unlock()

	s.logger.Debug("Saved consent",
		"application_id", consent.ApplicationID,
		"scope_count", len(consent.Scopes))
	return nil
}

// ApplicationPreAuthorizedScopes returns scopes every subject is considered
// to have approved for the application
func (s *Store) ApplicationPreAuthorizedScopes(ctx context.Context, applicationID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.preAuthorizedScope[applicationID], nil
}

// SetPreAuthorizedScopes configures the pre-authorized scope exception for
// an application
func (s *Store) SetPreAuthorizedScopes(applicationID string, scopes []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.preAuthorizedScope[applicationID] = scopes
}

// ============================================================
// Cleanup
// ============================================================

func (s *Store) cleanupLoop() {
	ticker := time.NewTicker(s.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCleanup:
			return
		case <-ticker.C:
			s.cleanup()
		}
	}
}

func (s *Store) cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()

	cleaned := 0

	for value, token := range s.accessTokens {
		if security.IsTokenExpired(token.ExpiresAt) {
			delete(s.accessTokens, value)
			delete(s.accessAuth, value)
			s.accessTokensCountAtomic.Add(-1)
			cleaned++
		}
	}

	for value, token := range s.refreshTokens {
		if security.IsTokenExpired(token.ExpiresAt) {
			delete(s.refreshTokens, value)
			delete(s.refreshAuth, value)
			s.refreshTokensCountAtomic.Add(-1)
			cleaned++
		}
	}

	for value, code := range s.authCodes {
		if code.Used || security.IsTokenExpired(code.ExpiresAt) {
			delete(s.authCodes, value)
			s.authCodesCountAtomic.Add(-1)
			cleaned++
		}
	}

	// Orphaned authentications can occur if the process races a delete.
	// Expected for in-memory storage; persistent backends should delete
	// transactionally.
	for value := range s.accessAuth {
		if _, ok := s.accessTokens[value]; !ok {
			delete(s.accessAuth, value)
			cleaned++
		}
	}

	if cleaned > 0 {
		s.logger.Debug("Cleaned up expired entries", "count", cleaned)
	}
}

// ============================================================
// Instrumentation helpers
// ============================================================

func (s *Store) startStorageSpan(ctx context.Context, operation string) (context.Context, trace.Span) {
	if s.tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}

	ctx, span := s.tracer.Start(ctx, fmt.Sprintf("storage.%s", operation),
		trace.WithAttributes(
			attribute.String("operation", operation),
		))

	return ctx, span
}

// recordStorageOperation records metrics for a storage operation and sets
// span status
func (s *Store) recordStorageOperation(ctx context.Context, span trace.Span, operation string, err error, startTime time.Time) {
	if s.instrumentation == nil {
		return
	}

	durationMs := float64(time.Since(startTime).Milliseconds())
	if err != nil {
		if span != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		s.instrumentation.Metrics().RecordStorageOperation(ctx, operation, "error", durationMs)
		return
	}
	if span != nil {
		span.SetStatus(codes.Ok, "")
	}
	s.instrumentation.Metrics().RecordStorageOperation(ctx, operation, "success", durationMs)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
