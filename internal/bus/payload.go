package bus

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// Canonicalize marshals v as JSON with sorted keys and no insignificant
// whitespace — the canonical form §6.2 requires before hashing. Go's
// encoding/json already sorts map keys and emits no extraneous
// whitespace with a plain Marshal, so canonicalization and marshaling
// are the same operation here; this function exists as the single named
// call site so "canonicalize" isn't reimplemented ad hoc elsewhere.
func Canonicalize(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("bus: canonicalize: %w", err)
	}
	return string(b), nil
}

// HashPayload returns the lowercase hex SHA-256 of a canonical JSON
// payload, as embedded in every SignalRow (§3.2, §8.1).
func HashPayload(canonicalJSON string) string {
	sum := sha256.Sum256([]byte(canonicalJSON))
	return hex.EncodeToString(sum[:])
}

// VerifyPayload recomputes the hash of canonicalJSON and reports whether
// it matches wantHash — the consumer-side half of §4.6's payload
// integrity check.
func VerifyPayload(canonicalJSON, wantHash string) bool {
	return HashPayload(canonicalJSON) == wantHash
}
