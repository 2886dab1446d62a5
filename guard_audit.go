package sessguard

import (
	"context"
	"errors"
	"time"
)

const (
	auditEventLoginSuccess      = "login_success"
	auditEventLoginFailure      = "login_failure"
	auditEventLoginThrottled    = "login_throttled"
	auditEventLoginUnavailable  = "login_provider_unavailable"
	auditEventRefreshSuccess    = "refresh_success"
	auditEventRefreshFailure    = "refresh_failure"
	auditEventLogout            = "logout"
	auditEventSessionTerminated = "session_terminated"
	auditEventSessionTampered   = "session_tampered"
	auditEventIdleWarning       = "idle_warning"
	auditEventIdleTimeout       = "idle_timeout"
)

// AuditErrorCode is the stable error classification carried on audit
// events.
type AuditErrorCode string

const (
	auditErrInvalidCredentials AuditErrorCode = "invalid_credentials"
	auditErrThrottled          AuditErrorCode = "throttled"
	auditErrUnavailable        AuditErrorCode = "provider_unavailable"
	auditErrNotAuthenticated   AuditErrorCode = "not_authenticated"
	auditErrIntegrity          AuditErrorCode = "integrity_failure"
	auditErrRefreshRejected    AuditErrorCode = "refresh_rejected"
	auditErrInternal           AuditErrorCode = "internal_error"
)

func (g *Guard) emitAudit(
	ctx context.Context,
	eventType string,
	severity Severity,
	key string,
	success bool,
	err error,
	metadata map[string]string,
) {
	if g == nil || g.audit == nil {
		return
	}

	event := AuditEvent{
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		Severity:  severity,
		Key:       key,
		Success:   success,
		Metadata:  metadata,
	}
	if code := auditErrorCode(err); code != "" {
		event.Error = string(code)
	}

	g.audit.Emit(ctx, event)
}

func auditErrorCode(err error) AuditErrorCode {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, ErrInvalidCredentials):
		return auditErrInvalidCredentials
	case errors.Is(err, ErrThrottled):
		return auditErrThrottled
	case errors.Is(err, ErrProviderUnavailable):
		return auditErrUnavailable
	case errors.Is(err, ErrNotAuthenticated):
		return auditErrNotAuthenticated
	case errors.Is(err, ErrSessionIntegrity):
		return auditErrIntegrity
	case errors.Is(err, ErrRefreshRejected):
		return auditErrRefreshRejected
	default:
		return auditErrInternal
	}
}
