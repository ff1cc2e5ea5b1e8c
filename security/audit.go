package security

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"time"

	"github.com/segmentio/ksuid"
)

// Auditor handles security event logging with PII protection.
type Auditor struct {
	logger  *slog.Logger
	enabled bool
}

// NewAuditor creates a new security auditor
func NewAuditor(logger *slog.Logger, enabled bool) *Auditor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Auditor{
		logger:  logger,
		enabled: enabled,
	}
}

// Event represents a security audit event
type Event struct {
	ID        string
	Type      string
	Subject   string
	ClientID  string
	IPAddress string
	Details   map[string]any
	Timestamp time.Time
}

// LogEvent logs a security event with hashed PII. Each event gets a
// sortable unique identifier for correlation across log sinks.
func (a *Auditor) LogEvent(event Event) {
	if !a.enabled {
		return
	}

	if event.ID == "" {
		event.ID = ksuid.New().String()
	}
	event.Timestamp = time.Now()

	a.logger.Info("security_audit",
		"event_id", event.ID,
		"event_type", event.Type,
		"subject_hash", hashForLogging(event.Subject),
		"client_id", event.ClientID,
		"ip_address", event.IPAddress,
		"details", event.Details,
		"timestamp", event.Timestamp,
	)
}

// LogTokenIssued logs when a token is issued
func (a *Auditor) LogTokenIssued(subject, clientID, ipAddress, scope string) {
	a.LogEvent(Event{
		Type:      EventTokenIssued,
		Subject:   subject,
		ClientID:  clientID,
		IPAddress: ipAddress,
		Details: map[string]any{
			"scope": scope,
		},
	})
}

// LogTokenRefreshed logs when a token is refreshed
func (a *Auditor) LogTokenRefreshed(subject, clientID, ipAddress string, rotated bool) {
	a.LogEvent(Event{
		Type:      EventTokenRefreshed,
		Subject:   subject,
		ClientID:  clientID,
		IPAddress: ipAddress,
		Details: map[string]any{
			"rotated": rotated,
		},
	})
}

// LogTokenRevoked logs when a token is revoked
func (a *Auditor) LogTokenRevoked(subject, clientID, ipAddress, tokenType string) {
	a.LogEvent(Event{
		Type:      EventTokenRevoked,
		Subject:   subject,
		ClientID:  clientID,
		IPAddress: ipAddress,
		Details: map[string]any{
			"token_type": tokenType,
		},
	})
}

// LogCodeIssued logs when an authorization code is issued
func (a *Auditor) LogCodeIssued(subject, clientID, ipAddress string) {
	a.LogEvent(Event{
		Type:      EventAuthorizationCodeIssued,
		Subject:   subject,
		ClientID:  clientID,
		IPAddress: ipAddress,
	})
}

// LogCodeReuse logs an attempted redemption of an already used authorization code
func (a *Auditor) LogCodeReuse(clientID, ipAddress string) {
	a.LogEvent(Event{
		Type:      EventAuthorizationCodeReuseDetected,
		ClientID:  clientID,
		IPAddress: ipAddress,
	})
}

// LogAuthFailure logs an authentication failure
func (a *Auditor) LogAuthFailure(subject, clientID, ipAddress, reason string) {
	a.LogEvent(Event{
		Type:      EventAuthFailure,
		Subject:   subject,
		ClientID:  clientID,
		IPAddress: ipAddress,
		Details: map[string]any{
			"reason": reason,
		},
	})
}

// LogConsentDecision logs a resource owner consent decision
func (a *Auditor) LogConsentDecision(subject, clientID string, granted bool, scopes string) {
	a.LogEvent(Event{
		Type:      EventConsentDecision,
		Subject:   subject,
		ClientID:  clientID,
		Details: map[string]any{
			"granted": granted,
			"scopes":  scopes,
		},
	})
}

// LogRateLimitExceeded logs a rate limit violation
func (a *Auditor) LogRateLimitExceeded(ipAddress, subject string) {
	a.LogEvent(Event{
		Type:      EventRateLimitExceeded,
		Subject:   subject,
		IPAddress: ipAddress,
	})
}

// LogClientRegistered logs when a new client application is registered
func (a *Auditor) LogClientRegistered(clientID, clientType, ipAddress string) {
	a.LogEvent(Event{
		Type:      EventClientRegistered,
		ClientID:  clientID,
		IPAddress: ipAddress,
		Details: map[string]any{
			"client_type": clientType,
		},
	})
}

// hashForLogging creates a SHA256 hash of sensitive data for logging
func hashForLogging(sensitive string) string {
	if sensitive == "" {
		return "<empty>"
	}
	hash := sha256.Sum256([]byte(sensitive))
	return hex.EncodeToString(hash[:])[:16]
}
