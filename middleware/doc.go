// Package middleware adapts the engine to net/http.
//
// [RequireSession] reads the Authorization bearer token, calls
// Engine.Authenticate and stores the resulting identity in the request
// context. [ClientMeta] captures user agent and IP for session creation and
// [RequestLogger] attaches a zerolog logger to every request.
//
// Authentication decisions stay in the engine; this package only
// translates them into HTTP responses through [WriteError], which exposes
// the error kind and safe message and never the cause.
package middleware
