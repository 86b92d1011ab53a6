package auth

import (
	"context"
	"errors"
	"time"
)

// AuditEventType enumerates the security events we record
type AuditEventType string

const (
	EventLoginSuccess         AuditEventType = "auth.login.success"
	EventLoginFailure         AuditEventType = "auth.login.failure"
	EventAccountLocked        AuditEventType = "auth.account.locked"
	EventAccountUnlocked      AuditEventType = "auth.account.unlocked"
	EventSessionExpired       AuditEventType = "auth.session.expired"
	EventUnauthorizedAccess   AuditEventType = "auth.access.unauthorized"
	EventAccessDenied         AuditEventType = "auth.access.denied"
	EventAccessGranted        AuditEventType = "auth.access.granted"
	EventPasswordChanged      AuditEventType = "auth.password.changed"
	EventPasswordChangeFailed AuditEventType = "auth.password.change_failed"
	EventAccountCreated       AuditEventType = "auth.account.created"
	EventAccountStatusChanged AuditEventType = "auth.account.status_changed"
	EventAccountUpdated       AuditEventType = "auth.account.updated"
	EventTokenRefreshed       AuditEventType = "auth.token.refreshed"
	EventLogout               AuditEventType = "auth.logout"
	EventPasswordReset        AuditEventType = "auth.password.reset"
)

// Failure reasons attached to login and access events
const (
	ReasonNotFound      = "not_found"
	ReasonBadCredential = "bad_credential"
	ReasonLocked        = "locked"
	ReasonDisabled      = "disabled"
	ReasonExpired       = "expired"
	ReasonInvalidToken  = "invalid_token"
	ReasonUnknownUser   = "unknown_subject"
	ReasonWrongPassword = "wrong_password"
	ReasonWeakPassword  = "weak_password"
	ReasonRole          = "role"
	ReasonLogout        = "logout"
	ReasonLockExpired   = "lockout_expired"
	ReasonAdmin         = "admin"
	ReasonRevoked       = "revoked"
)

// AuditEvent is a single security relevant fact. Detail must never carry
// secrets: no passwords, digests or tokens.
type AuditEvent struct {
	Type          AuditEventType `json:"event"`
	Subject       string         `json:"subject,omitempty"`
	SourceAddress string         `json:"source,omitempty"`
	Reason        string         `json:"reason,omitempty"`
	Detail        map[string]any `json:"detail,omitempty"`
	OccurredAt    time.Time      `json:"time"`
}

// AuditSink consumes audit events. Callers in this package log and swallow
// sink errors, a failing sink never changes an auth outcome.
type AuditSink interface {
	Record(ctx context.Context, event AuditEvent) error
}

// AuditSinkFunc adapts a function to the AuditSink interface.
type AuditSinkFunc func(ctx context.Context, event AuditEvent) error

// Record implements AuditSink.
func (f AuditSinkFunc) Record(ctx context.Context, event AuditEvent) error {
	if f == nil {
		return nil
	}
	return f(ctx, event)
}

type noopAuditSink struct{}

func (noopAuditSink) Record(context.Context, AuditEvent) error {
	return nil
}

func normalizeAuditSink(s AuditSink) AuditSink {
	if s == nil {
		return noopAuditSink{}
	}
	return s
}

// MultiSink fans an event out to every sink and joins their errors
type MultiSink []AuditSink

// NewMultiSink drops nil sinks
func NewMultiSink(sinks ...AuditSink) MultiSink {
	out := make(MultiSink, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	return out
}

// Record implements AuditSink.
func (m MultiSink) Record(ctx context.Context, event AuditEvent) error {
	var errs []error
	for _, s := range m {
		if err := s.Record(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
