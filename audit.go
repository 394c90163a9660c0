package authhero

import (
	"io"

	"github.com/MrEthical07/authhero/internal/audit"
	"github.com/rs/zerolog"
)

// AuditEvent is one security-relevant outcome. Type is one of the
// AuditEvent* constants.
type AuditEvent = audit.Event

// AuditSink receives audit events from the engine's dispatcher goroutine.
type AuditSink = audit.Sink

type (
	NoOpSink       = audit.NoOpSink
	ChannelSink    = audit.ChannelSink
	JSONWriterSink = audit.JSONWriterSink
	LogSink        = audit.LogSink
	MultiSink      = audit.MultiSink
)

const (
	AuditEventLoginSuccess         = audit.LoginSuccess
	AuditEventLoginFailed          = audit.LoginFailed
	AuditEventLoginMFARequired     = audit.LoginMFARequired
	AuditEventRefreshRotated       = audit.RefreshRotated
	AuditEventRefreshReuseDetected = audit.RefreshReuseDetected
	AuditEventRefreshExpired       = audit.RefreshExpired
	AuditEventLogout               = audit.Logout
	AuditEventLogoutAll            = audit.LogoutAll
	AuditEventRegistered           = audit.Registered
	AuditEventEmailVerified        = audit.EmailVerified
	AuditEventVerificationResent   = audit.VerificationResent
	AuditEventPasswordResetRequest = audit.PasswordResetRequest
	AuditEventPasswordReset        = audit.PasswordReset
	AuditEventPasswordChanged      = audit.PasswordChanged
	AuditEventMFAEnrolled          = audit.MFAEnrolled
	AuditEventMFAConfirmed         = audit.MFAConfirmed
	AuditEventMFAChallenge         = audit.MFAChallenge
	AuditEventMFABackupCodeUsed    = audit.MFABackupCodeUsed
	AuditEventFederatedLogin       = audit.FederatedLogin
	AuditEventFederatedLinked      = audit.FederatedLinked
)

// NewChannelSink buffers up to buffer events for a consumer of Events().
func NewChannelSink(buffer int) *ChannelSink {
	return audit.NewChannelSink(buffer)
}

// NewJSONWriterSink writes one JSON object per line to w.
func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return audit.NewJSONWriterSink(w)
}

// NewLogSink writes events through logger.
func NewLogSink(logger zerolog.Logger) LogSink {
	return LogSink{Logger: logger}
}
