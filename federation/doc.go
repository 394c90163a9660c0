// Package federation exchanges third-party authorization codes for a
// standardized [Profile].
//
// Google, GitHub and Facebook share one authorization-code implementation on
// golang.org/x/oauth2 and differ only in endpoints and in how the profile
// and email are fetched. A [Registry] holds the providers configured at
// startup; the set never changes afterwards.
//
// Only verified email addresses are returned, since the engine links
// accounts by email.
package federation
