package password

import "errors"

// ErrMismatchedHash is returned by Verify implementations that cannot parse
// or recognize the stored hash format.
var ErrMismatchedHash = errors.New("password: unrecognized hash format")

// Hasher is the slow one-way function applied to passwords.
//
// Verify must take the same time for a wrong password as for a right one;
// the engine relies on this and on a dummy hash to keep unknown accounts
// indistinguishable from wrong passwords.
type Hasher interface {
	Hash(password string) (string, error)
	Verify(password, encodedHash string) (bool, error)
}

// Kind names a hashing algorithm for configuration.
type Kind string

const (
	KindArgon2id Kind = "argon2id"
	KindBcrypt   Kind = "bcrypt"
)

// New builds the hasher named by kind. Zero-valued parameters take the
// package defaults.
func New(kind Kind, argon Config, bcryptCost int) (Hasher, error) {
	switch kind {
	case KindArgon2id, "":
		if argon == (Config{}) {
			argon = DefaultConfig()
		}
		return NewArgon2(argon)
	case KindBcrypt:
		return NewBcrypt(bcryptCost)
	default:
		return nil, errors.New("password: unsupported hasher kind " + string(kind))
	}
}
