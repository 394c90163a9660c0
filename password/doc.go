// Package password implements the slow password hashes used by authhero.
//
// Two [Hasher] implementations are provided: [Argon2] (default, PHC string
// format) and [Bcrypt] for deployments migrating existing bcrypt hashes.
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
//
// Password policy such as minimum length is enforced by the engine, not here.
package password
