// Package httpapi exposes an authhero.Engine over JSON/HTTP.
//
// Refresh secrets travel only in an HttpOnly, SameSite=Strict cookie scoped
// to the refresh route; response bodies never carry them. Bearer tokens are
// returned in the body and presented in the Authorization header. Errors
// use the envelope written by middleware.WriteError.
//
// Routes:
//
//	POST /auth/register               {email, password}           201
//	POST /auth/verify-email           {token} or ?token=
//	GET  /auth/verify-email           ?token=
//	POST /auth/resend-verification    bearer                      202
//	POST /auth/login                  {email, password}
//	POST /auth/login/mfa              {mfa_token, code}
//	POST /auth/refresh                cookie, or {refresh_token}
//	POST /auth/logout                 bearer                      204
//	POST /auth/logout-all             bearer
//	GET  /auth/me                     bearer
//	GET  /auth/sessions               bearer
//	POST /auth/password/forgot        {email}                     202
//	POST /auth/password/reset         {token, password}
//	POST /auth/password/change        bearer, {current_password, new_password}
//	POST /auth/mfa/enroll             bearer
//	POST /auth/mfa/confirm            bearer, {code}
//	POST /auth/mfa/challenge          bearer, {code}
//	GET  /auth/oauth/providers
//	GET  /auth/oauth/{provider}                                   302
//	GET  /auth/oauth/{provider}/callback
//	GET  /healthz
package httpapi
