// Package password implements credential hashing and verification on bcrypt.
//
// # Output format
//
// Digests are standard modular-crypt bcrypt strings:
//
//	$2a$12$<22-char salt><31-char hash>
//
// The work factor defaults to [DefaultCost] (12). [Hasher.NeedsRehash] reports
// digests produced with a lower cost so callers can upgrade them after a
// successful login.
//
// # Policy
//
// The minimum-length rule is checked before any bcrypt work is scheduled, so a
// short password never costs a hash computation. Inputs longer than bcrypt's
// 72-byte limit are rejected instead of being silently truncated.
//
// # What this package must NOT do
//
//   - Store or retrieve passwords; callers supply plaintext and receive digests.
//   - Import any other authcore package.
//   - Log plaintext passwords.
package password
