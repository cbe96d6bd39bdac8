// Package password verifies stored password hashes. New hashes are argon2id in
// PHC format; legacy bcrypt hashes are still accepted and flagged for rehash.
//
// The package never stores passwords and never logs plaintext or hash
// parameters.
package password
