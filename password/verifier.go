package password

import (
	"errors"
	"sync"
)

// ErrUnsupportedHash is returned for hashes in a format no verifier handles.
var ErrUnsupportedHash = errors.New("unsupported password hash format")

// Verifier checks a plaintext password against a stored hash, choosing the
// algorithm from the hash prefix. New hashes are always argon2id.
type Verifier struct {
	argon2 *Argon2
	bcrypt Bcrypt

	dummyOnce sync.Once
	dummy     string
}

// NewVerifier returns a Verifier that hashes with a and also accepts bcrypt.
func NewVerifier(a *Argon2) *Verifier {
	return &Verifier{argon2: a}
}

// Hash produces a new argon2id hash.
func (v *Verifier) Hash(plain string) (string, error) {
	return v.argon2.Hash(plain)
}

// Verify reports whether plain matches encoded.
func (v *Verifier) Verify(plain, encoded string) (bool, error) {
	switch {
	case len(encoded) > len(argon2Prefix) && encoded[:len(argon2Prefix)] == argon2Prefix:
		return v.argon2.Verify(plain, encoded)
	case isBcrypt(encoded):
		return v.bcrypt.Verify(plain, encoded)
	default:
		return false, ErrUnsupportedHash
	}
}

// NeedsRehash reports whether encoded should be replaced by a fresh argon2id
// hash after a successful login.
func (v *Verifier) NeedsRehash(encoded string) bool {
	if isBcrypt(encoded) {
		return true
	}
	return v.argon2.NeedsRehash(encoded)
}

// Burn spends the same work as a real verification. Login calls it when the
// account does not exist so response timing does not reveal valid usernames.
func (v *Verifier) Burn(plain string) {
	v.dummyOnce.Do(func() {
		v.dummy, _ = v.argon2.Hash("dummy-password-for-timing")
	})
	if v.dummy != "" {
		_, _ = v.argon2.Verify(plain, v.dummy)
	}
}
