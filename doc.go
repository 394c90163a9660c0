// Package authhero is the credential and session engine of an identity
// provider: email and password accounts, rotating refresh sessions with
// reuse detection, email verification and password recovery, TOTP MFA with
// backup codes, and federated sign-in through OAuth providers.
//
// Build an [Engine] once with [Builder] and share it; its methods are safe
// for concurrent use.
//
//	engine, err := authhero.New().
//		WithConfig(cfg).
//		WithStore(postgresStore).
//		WithRedis(redisClient).
//		WithSender(notify.NewQueue(redisClient, "")).
//		Build()
//
// # Architecture boundaries
//
// authhero is the public surface: [Engine], [Builder], [Config], the
// sentinel errors and the value types. Flow orchestration, attempt
// limiting, audit dispatch and counters live under internal/. Persistence
// is behind [store.Store], with memory, sqlite and postgres backends.
// HTTP concerns belong to the httpapi and middleware packages.
//
// # Error handling
//
// Every operation returns one of the Err* sentinels, possibly wrapped. Use
// errors.Is to branch, and [Kind], [HTTPStatus] and [SafeMessage] to answer
// clients without leaking causes. Failures of the store, Redis or crypto
// wrap [ErrDependencyFailure].
package authhero
