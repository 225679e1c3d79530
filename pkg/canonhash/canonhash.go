// Package canonhash binds off-ledger order context to receipts: it reduces a
// structured record to a canonical 32-byte digest that any party can recompute
// without knowing the field insertion order the producer used.
package canonhash

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// Size is the digest length stored in a receipt's context_hash field.
const Size = 32

// Sum canonicalizes v and returns its sha256 digest. Canonical form is JSON
// with object keys sorted lexicographically at every nesting level; two
// logically identical records hash identically regardless of construction
// order. Not a MAC — this is a non-secret integrity binding.
func Sum(v any) ([Size]byte, error) {
	b, err := canonicalize(v)
	if err != nil {
		return [Size]byte{}, err
	}
	return sha256.Sum256(b), nil
}

// SumHex returns the digest of v as lowercase hex.
func SumHex(v any) (string, error) {
	sum, err := Sum(v)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(sum[:]), nil
}

// Verify recomputes the digest of v and compares it to claimed.
func Verify(v any, claimed [Size]byte) bool {
	sum, err := Sum(v)
	if err != nil {
		return false
	}
	return sum == claimed
}

// canonicalize marshals v, then round-trips it through generic JSON values so
// struct field order and numeric representation collapse to one form before
// the final marshal (encoding/json writes map keys sorted).
func canonicalize(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("context data not serializable: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var generic any
	if err := dec.Decode(&generic); err != nil {
		return nil, fmt.Errorf("context data not canonicalizable: %w", err)
	}
	return json.Marshal(generic)
}
