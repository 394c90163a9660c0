package authhero

import (
	"time"

	"github.com/MrEthical07/authhero/internal/metrics"
)

// MetricID names one engine counter or latency histogram.
type MetricID = metrics.ID

// MetricsSnapshot is a point-in-time copy returned by Engine.MetricsSnapshot.
type MetricsSnapshot = metrics.Snapshot

const (
	MetricLoginSuccess             = metrics.LoginSuccess
	MetricLoginFailure             = metrics.LoginFailure
	MetricLoginRateLimited         = metrics.LoginRateLimited
	MetricLoginUnverified          = metrics.LoginUnverified
	MetricMFALoginRequired         = metrics.MFALoginRequired
	MetricMFALoginSuccess          = metrics.MFALoginSuccess
	MetricMFALoginFailure          = metrics.MFALoginFailure
	MetricSessionCreated           = metrics.SessionCreated
	MetricRefreshSuccess           = metrics.RefreshSuccess
	MetricRefreshFailure           = metrics.RefreshFailure
	MetricRefreshReuseDetected     = metrics.RefreshReuseDetected
	MetricRefreshExpired           = metrics.RefreshExpired
	MetricLogout                   = metrics.Logout
	MetricLogoutAll                = metrics.LogoutAll
	MetricSessionsRevoked          = metrics.SessionsRevoked
	MetricAuthenticateSuccess      = metrics.AuthenticateSuccess
	MetricAuthenticateFailure      = metrics.AuthenticateFailure
	MetricRegistered               = metrics.Registered
	MetricRegisterConflict         = metrics.RegisterConflict
	MetricEmailVerified            = metrics.EmailVerified
	MetricEmailVerificationFailure = metrics.EmailVerificationFailure
	MetricVerificationResent       = metrics.VerificationResent
	MetricPasswordResetRequest     = metrics.PasswordResetRequest
	MetricPasswordResetSuccess     = metrics.PasswordResetSuccess
	MetricPasswordResetFailure     = metrics.PasswordResetFailure
	MetricPasswordChangeSuccess    = metrics.PasswordChangeSuccess
	MetricPasswordChangeFailure    = metrics.PasswordChangeFailure
	MetricMFAEnrolled              = metrics.MFAEnrolled
	MetricMFAConfirmed             = metrics.MFAConfirmed
	MetricMFAChallengeSuccess      = metrics.MFAChallengeSuccess
	MetricMFAChallengeFailure      = metrics.MFAChallengeFailure
	MetricMFABackupCodeUsed        = metrics.MFABackupCodeUsed
	MetricMFARateLimited           = metrics.MFARateLimited
	MetricFederatedLogin           = metrics.FederatedLogin
	MetricFederatedLinked          = metrics.FederatedLinked
	MetricFederatedCreated         = metrics.FederatedCreated
	MetricFederationFailure        = metrics.FederationFailure
	MetricNotificationFailure      = metrics.NotificationFailure
	MetricAuthenticateLatency      = metrics.AuthenticateLatency
	MetricLoginLatency             = metrics.LoginLatency
)

// MetricNames maps every MetricID to its exported name, e.g.
// "refresh_reuse_detected". Exporters prefix it with "authhero_".
var MetricNames = map[MetricID]string{
	MetricLoginSuccess:             "login_success",
	MetricLoginFailure:             "login_failure",
	MetricLoginRateLimited:         "login_rate_limited",
	MetricLoginUnverified:          "login_unverified",
	MetricMFALoginRequired:         "mfa_login_required",
	MetricMFALoginSuccess:          "mfa_login_success",
	MetricMFALoginFailure:          "mfa_login_failure",
	MetricSessionCreated:           "session_created",
	MetricRefreshSuccess:           "refresh_success",
	MetricRefreshFailure:           "refresh_failure",
	MetricRefreshReuseDetected:     "refresh_reuse_detected",
	MetricRefreshExpired:           "refresh_expired",
	MetricLogout:                   "logout",
	MetricLogoutAll:                "logout_all",
	MetricSessionsRevoked:          "sessions_revoked",
	MetricAuthenticateSuccess:      "authenticate_success",
	MetricAuthenticateFailure:      "authenticate_failure",
	MetricRegistered:               "registered",
	MetricRegisterConflict:         "register_conflict",
	MetricEmailVerified:            "email_verified",
	MetricEmailVerificationFailure: "email_verification_failure",
	MetricVerificationResent:       "verification_resent",
	MetricPasswordResetRequest:     "password_reset_request",
	MetricPasswordResetSuccess:     "password_reset_success",
	MetricPasswordResetFailure:     "password_reset_failure",
	MetricPasswordChangeSuccess:    "password_change_success",
	MetricPasswordChangeFailure:    "password_change_failure",
	MetricMFAEnrolled:              "mfa_enrolled",
	MetricMFAConfirmed:             "mfa_confirmed",
	MetricMFAChallengeSuccess:      "mfa_challenge_success",
	MetricMFAChallengeFailure:      "mfa_challenge_failure",
	MetricMFABackupCodeUsed:        "mfa_backup_code_used",
	MetricMFARateLimited:           "mfa_rate_limited",
	MetricFederatedLogin:           "federated_login",
	MetricFederatedLinked:          "federated_linked",
	MetricFederatedCreated:         "federated_created",
	MetricFederationFailure:        "federation_failure",
	MetricNotificationFailure:      "notification_failure",
	MetricAuthenticateLatency:      "authenticate_latency",
	MetricLoginLatency:             "login_latency",
}

// LatencyBucketBounds returns the upper bounds of the histogram buckets;
// the last bucket is unbounded.
func LatencyBucketBounds() []time.Duration {
	return append([]time.Duration(nil), metrics.BucketBounds...)
}
