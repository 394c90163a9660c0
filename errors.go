package authhero

import (
	"errors"
	"net/http"

	"github.com/MrEthical07/authhero/internal/flows"
)

var (
	// ErrConflict is returned when an email or identity is already taken.
	ErrConflict = errors.New("conflict")
	// ErrInvalidCredentials is returned by Login for any wrong email or password.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrUnauthorized is returned for failed authentication of a request.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrEmailNotVerified is returned by Login until the email is verified. A
	// fresh verification email has been queued.
	ErrEmailNotVerified = errors.New("email not verified")
	// ErrInvalidOrExpiredToken is returned for unknown or expired one-time tokens.
	ErrInvalidOrExpiredToken = errors.New("invalid or expired token")
	// ErrTokenAlreadyUsed is returned for consumed one-time tokens.
	ErrTokenAlreadyUsed = errors.New("token already used")
	// ErrInvalidRefreshToken is returned for refresh secrets that match no session.
	ErrInvalidRefreshToken = errors.New("invalid refresh token")
	// ErrReuseDetected is returned when a rotated-away refresh secret is
	// presented. Every session of the principal has been revoked.
	ErrReuseDetected = errors.New("refresh token reuse detected")
	// ErrRefreshExpired is returned for refresh secrets of expired sessions.
	ErrRefreshExpired = errors.New("refresh token expired")
	// ErrInvalidSession is returned by Logout for unknown or ended sessions.
	ErrInvalidSession = errors.New("invalid session")
	ErrMFANotInitialized = errors.New("mfa not initialized")
	ErrInvalidMFACode    = errors.New("invalid mfa code")
	ErrMFARateLimited    = errors.New("mfa rate limited")
	ErrLoginRateLimited  = errors.New("login rate limited")
	// ErrFederationProfile is returned when a provider is unknown or its
	// profile cannot be obtained.
	ErrFederationProfile = errors.New("federation profile error")
	// ErrNotificationFailure marks email delivery failures.
	ErrNotificationFailure = errors.New("notification failure")
	// ErrDependencyFailure wraps store, cache and crypto failures. The cause
	// is kept for errors.Is and logs but never shown to clients.
	ErrDependencyFailure = errors.New("dependency failure")
	ErrPasswordPolicy = errors.New("password policy violation")
	ErrEngineNotReady = errors.New("engine not initialized")
)

// AuthError is returned by Authenticate. It wraps ErrUnauthorized and
// carries the internal reason.
type AuthError = flows.AuthError

// AuthReason explains an AuthError.
type AuthReason = flows.AuthReason

const (
	ReasonMalformed      = flows.ReasonMalformed
	ReasonBearerExpired  = flows.ReasonBearerExpired
	ReasonSessionMissing = flows.ReasonSessionMissing
	ReasonSessionRevoked = flows.ReasonSessionRevoked
	ReasonSessionExpired = flows.ReasonSessionExpired
)

// ErrorKind is the stable, client-safe classification of an engine error.
type ErrorKind string

const (
	KindConflict              ErrorKind = "conflict"
	KindInvalidCredentials    ErrorKind = "invalid_credentials"
	KindUnauthorized          ErrorKind = "unauthorized"
	KindEmailNotVerified      ErrorKind = "email_not_verified"
	KindInvalidOrExpiredToken ErrorKind = "invalid_or_expired_token"
	KindTokenAlreadyUsed      ErrorKind = "token_already_used"
	KindInvalidRefreshToken   ErrorKind = "invalid_refresh_token"
	KindReuseDetected         ErrorKind = "reuse_detected"
	KindRefreshExpired        ErrorKind = "refresh_expired"
	KindInvalidSession        ErrorKind = "invalid_session"
	KindMFANotInitialized     ErrorKind = "mfa_not_initialized"
	KindInvalidMFACode        ErrorKind = "invalid_mfa_code"
	KindRateLimited           ErrorKind = "rate_limited"
	KindFederationProfile     ErrorKind = "federation_profile_error"
	KindNotificationFailure   ErrorKind = "notification_failure"
	KindPasswordPolicy        ErrorKind = "password_policy"
	KindDependencyFailure     ErrorKind = "dependency_failure"
	KindInternal              ErrorKind = "internal"
)

type errorClass struct {
	err     error
	kind    ErrorKind
	status  int
	message string
}

// errorTable is matched in order; the first errors.Is hit wins.
var errorTable = []errorClass{
	{ErrConflict, KindConflict, http.StatusConflict, "Resource already exists."},
	{ErrInvalidCredentials, KindInvalidCredentials, http.StatusUnauthorized, "Invalid email or password."},
	{ErrUnauthorized, KindUnauthorized, http.StatusUnauthorized, "Unauthorized."},
	{ErrEmailNotVerified, KindEmailNotVerified, http.StatusForbidden, "Email not verified. A new verification link has been sent."},
	{ErrInvalidOrExpiredToken, KindInvalidOrExpiredToken, http.StatusBadRequest, "Invalid or expired token."},
	{ErrTokenAlreadyUsed, KindTokenAlreadyUsed, http.StatusBadRequest, "Token has already been used."},
	{ErrInvalidRefreshToken, KindInvalidRefreshToken, http.StatusUnauthorized, "Invalid refresh token."},
	{ErrReuseDetected, KindReuseDetected, http.StatusUnauthorized, "Invalid refresh token."},
	{ErrRefreshExpired, KindRefreshExpired, http.StatusUnauthorized, "Refresh token expired."},
	{ErrInvalidSession, KindInvalidSession, http.StatusUnauthorized, "Invalid session."},
	{ErrMFANotInitialized, KindMFANotInitialized, http.StatusBadRequest, "MFA is not set up."},
	{ErrInvalidMFACode, KindInvalidMFACode, http.StatusUnauthorized, "Invalid MFA code."},
	{ErrMFARateLimited, KindRateLimited, http.StatusTooManyRequests, "Too many attempts. Try again later."},
	{ErrLoginRateLimited, KindRateLimited, http.StatusTooManyRequests, "Too many attempts. Try again later."},
	{ErrFederationProfile, KindFederationProfile, http.StatusBadGateway, "Could not sign in with this provider."},
	{ErrNotificationFailure, KindNotificationFailure, http.StatusBadGateway, "Could not send email."},
	{ErrPasswordPolicy, KindPasswordPolicy, http.StatusBadRequest, "Password does not meet the requirements."},
	{ErrDependencyFailure, KindDependencyFailure, http.StatusServiceUnavailable, "Service temporarily unavailable."},
	{ErrEngineNotReady, KindInternal, http.StatusInternalServerError, "Internal server error."},
}

func classify(err error) errorClass {
	for _, c := range errorTable {
		if errors.Is(err, c.err) {
			return c
		}
	}
	return errorClass{kind: KindInternal, status: http.StatusInternalServerError, message: "Internal server error."}
}

// Kind maps any error returned by the engine to its ErrorKind. Unknown
// errors are KindInternal.
func Kind(err error) ErrorKind {
	return classify(err).kind
}

// HTTPStatus maps err to the status code a boundary should answer with.
func HTTPStatus(err error) int {
	return classify(err).status
}

// SafeMessage is the client-facing text for err. It never includes causes,
// identifiers or which factor failed.
func SafeMessage(err error) string {
	return classify(err).message
}

// IsClientError reports whether err is an expected outcome of bad input
// rather than a failure of the engine or its dependencies.
func IsClientError(err error) bool {
	if err == nil {
		return false
	}
	k := Kind(err)
	return k != KindDependencyFailure && k != KindInternal
}

func flowErrors() flows.Errors {
	return flows.Errors{
		EngineNotReady:        ErrEngineNotReady,
		Conflict:              ErrConflict,
		InvalidCredentials:    ErrInvalidCredentials,
		Unauthorized:          ErrUnauthorized,
		EmailNotVerified:      ErrEmailNotVerified,
		InvalidOrExpiredToken: ErrInvalidOrExpiredToken,
		TokenAlreadyUsed:      ErrTokenAlreadyUsed,
		InvalidRefreshToken:   ErrInvalidRefreshToken,
		ReuseDetected:         ErrReuseDetected,
		RefreshExpired:        ErrRefreshExpired,
		InvalidSession:        ErrInvalidSession,
		MFANotInitialized:     ErrMFANotInitialized,
		InvalidMFACode:        ErrInvalidMFACode,
		MFARateLimited:        ErrMFARateLimited,
		LoginRateLimited:      ErrLoginRateLimited,
		FederationProfile:     ErrFederationProfile,
		NotificationFailure:   ErrNotificationFailure,
		DependencyFailure:     ErrDependencyFailure,
		PasswordPolicy:        ErrPasswordPolicy,
	}
}
