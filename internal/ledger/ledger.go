// Package ledger computes and verifies tamper-evident hashes over governance
// records. Serialization is order-stable: two logically identical records
// always hash identically, regardless of how they were assembled.
package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Record is any record that can be sealed. CanonicalFields must return the
// record's core fields in a fixed order, excluding the stored hash itself.
// Implementations are responsible for normalizing types: timestamps as
// RFC 3339 nanosecond UTC, numbers base-10, lists joined with a stable
// separator.
type Record interface {
	CanonicalFields() []string
}

// Hash computes the SHA-256 hex digest over the pipe-joined fields.
func Hash(fields []string) string {
	digest := sha256.Sum256([]byte(strings.Join(fields, "|")))
	return hex.EncodeToString(digest[:])
}

// Seal computes the integrity hash for a record.
func Seal(r Record) string {
	return Hash(r.CanonicalFields())
}

// Verify recomputes the record's hash and compares it against the stored one.
// A false return means the record was altered after sealing; callers surface
// it as an integrity mismatch, never auto-correct.
func Verify(r Record, storedHash string) bool {
	return storedHash != "" && Seal(r) == storedHash
}
