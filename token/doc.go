// Package token issues and verifies the credentials handed to clients.
//
// Bearer tokens are compact JWTs carrying exactly the principal id, the
// session id, iat and exp. Refresh, verification and reset secrets are
// opaque random hex strings; the server keeps only [HashOpaqueSecret] of
// them.
//
// Key material is parsed once by [NewManager] and never reloaded.
package token
