package audit

// Event types emitted by the engine.
const (
	LoginSuccess         = "login_success"
	LoginFailed          = "login_failed"
	LoginMFARequired     = "login_mfa_required"
	RefreshRotated       = "refresh_rotated"
	RefreshReuseDetected = "refresh_reuse_detected"
	RefreshExpired       = "refresh_expired"
	Logout               = "logout"
	LogoutAll            = "logout_all"
	Registered           = "registered"
	EmailVerified        = "email_verified"
	VerificationResent   = "verification_resent"
	PasswordResetRequest = "password_reset_request"
	PasswordReset        = "password_reset"
	PasswordChanged      = "password_changed"
	MFAEnrolled          = "mfa_enrolled"
	MFAConfirmed         = "mfa_confirmed"
	MFAChallenge         = "mfa_challenge"
	MFABackupCodeUsed    = "mfa_backup_code_used"
	FederatedLogin       = "federated_login"
	FederatedLinked      = "federated_linked"
)
