package authhero

import "github.com/MrEthical07/authhero/internal/flows"

// ClientMeta is the request metadata (user agent and IP) recorded on new
// sessions and audit events.
type ClientMeta = flows.ClientMeta

// Tokens is a bearer token plus the refresh secret that renews it. The
// refresh secret is not marshalled to JSON; boundaries deliver it in a
// cookie.
type Tokens = flows.Tokens

// LoginResult is returned by Login, CompleteMFALogin and
// HandleFederatedCallback.
type LoginResult = flows.LoginResult

// Identity is the authenticated caller returned by Authenticate.
type Identity = flows.Identity

// Account is the public view of a principal.
type Account = flows.Account

type RegisterResult = flows.RegisterResult

// SessionInfo describes one active session.
type SessionInfo = flows.SessionInfo

// MFAEnrollment is shown to the user once at enrollment.
type MFAEnrollment = flows.MFAEnrollment

type ChangePasswordRequest = flows.ChangePasswordRequest
