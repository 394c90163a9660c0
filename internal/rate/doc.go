// Package rate implements the Redis-backed attempt counters that throttle
// password guessing at login and code guessing at the MFA challenge.
//
// # Window semantics
//
// Fixed-window counters: INCR plus EXPIRE on the first hit. Key prefixes:
//   - ah:login:    failed logins per normalized email
//   - ah:login:ip: failed logins per client IP
//   - ah:mfa:      failed MFA codes per principal
//
// Emails are stored hashed so the keyspace does not list addresses.
package rate
