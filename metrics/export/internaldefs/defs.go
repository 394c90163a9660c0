package internaldefs

import (
	"github.com/MrEthical07/authhero"
)

// CounterDef names one exported counter.
type CounterDef struct {
	ID   authhero.MetricID
	Name string
	Help string
}

// HistogramDef names one exported latency histogram.
type HistogramDef struct {
	ID   authhero.MetricID
	Name string
	Help string
}

func counter(id authhero.MetricID, help string) CounterDef {
	return CounterDef{ID: id, Name: "authhero_" + authhero.MetricNames[id] + "_total", Help: help}
}

func histogram(id authhero.MetricID, help string) HistogramDef {
	return HistogramDef{ID: id, Name: "authhero_" + authhero.MetricNames[id] + "_seconds", Help: help}
}

// CounterDefs lists every counter in export order.
var CounterDefs = []CounterDef{
	counter(authhero.MetricLoginSuccess, "Successful password logins."),
	counter(authhero.MetricLoginFailure, "Failed password logins."),
	counter(authhero.MetricLoginRateLimited, "Logins rejected by the attempt limiter."),
	counter(authhero.MetricLoginUnverified, "Logins rejected because the email is unverified."),
	counter(authhero.MetricMFALoginRequired, "Logins that stopped at the second factor."),
	counter(authhero.MetricMFALoginSuccess, "Completed second-factor logins."),
	counter(authhero.MetricMFALoginFailure, "Failed second-factor logins."),
	counter(authhero.MetricSessionCreated, "Created sessions."),
	counter(authhero.MetricRefreshSuccess, "Successful refresh rotations."),
	counter(authhero.MetricRefreshFailure, "Failed refresh attempts."),
	counter(authhero.MetricRefreshReuseDetected, "Presented refresh secrets that had already been rotated."),
	counter(authhero.MetricRefreshExpired, "Refresh attempts against expired sessions."),
	counter(authhero.MetricLogout, "Single-session logouts."),
	counter(authhero.MetricLogoutAll, "Logout-all operations."),
	counter(authhero.MetricSessionsRevoked, "Sessions revoked in bulk."),
	counter(authhero.MetricAuthenticateSuccess, "Accepted bearer tokens."),
	counter(authhero.MetricAuthenticateFailure, "Rejected bearer tokens."),
	counter(authhero.MetricRegistered, "Registered principals."),
	counter(authhero.MetricRegisterConflict, "Registrations rejected for a taken email."),
	counter(authhero.MetricEmailVerified, "Verified email addresses."),
	counter(authhero.MetricEmailVerificationFailure, "Failed email verifications."),
	counter(authhero.MetricVerificationResent, "Resent verification emails."),
	counter(authhero.MetricPasswordResetRequest, "Password reset requests."),
	counter(authhero.MetricPasswordResetSuccess, "Completed password resets."),
	counter(authhero.MetricPasswordResetFailure, "Failed password resets."),
	counter(authhero.MetricPasswordChangeSuccess, "Successful password changes."),
	counter(authhero.MetricPasswordChangeFailure, "Failed password changes."),
	counter(authhero.MetricMFAEnrolled, "Started MFA enrollments."),
	counter(authhero.MetricMFAConfirmed, "Confirmed MFA enrollments."),
	counter(authhero.MetricMFAChallengeSuccess, "Accepted MFA codes."),
	counter(authhero.MetricMFAChallengeFailure, "Rejected MFA codes."),
	counter(authhero.MetricMFABackupCodeUsed, "Consumed backup codes."),
	counter(authhero.MetricMFARateLimited, "MFA attempts rejected by the attempt limiter."),
	counter(authhero.MetricFederatedLogin, "Federated logins of linked identities."),
	counter(authhero.MetricFederatedLinked, "Federated identities linked to existing principals."),
	counter(authhero.MetricFederatedCreated, "Principals created through federation."),
	counter(authhero.MetricFederationFailure, "Failed federated callbacks."),
	counter(authhero.MetricNotificationFailure, "Notifications that could not be handed to the sender."),
}

// HistogramDefs lists the latency histograms.
var HistogramDefs = []HistogramDef{
	histogram(authhero.MetricAuthenticateLatency, "Bearer authentication latency."),
	histogram(authhero.MetricLoginLatency, "Password login latency."),
}

// HistogramBounds are the Prometheus le labels, matching
// authhero.LatencyBucketBounds plus +Inf.
var HistogramBounds = []string{
	"0.005",
	"0.01",
	"0.025",
	"0.05",
	"0.1",
	"0.25",
	"0.5",
	"+Inf",
}

// HistogramBoundSuffix are HistogramBounds spelled for instrument names.
var HistogramBoundSuffix = []string{
	"0_005",
	"0_01",
	"0_025",
	"0_05",
	"0_1",
	"0_25",
	"0_5",
	"inf",
}

// NormalizeBuckets copies raw into a fixed 8-bucket array, zero-filling.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets turns per-bucket counts into running totals.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
