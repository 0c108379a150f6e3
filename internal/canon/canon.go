// Package canon provides canonical JSON serialization, content hashing,
// and deterministic id derivation. Every payload hash and replay digest
// in the system goes through this package, so its output must never
// depend on map iteration order or struct field order.
package canon

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
)

// JSON serializes v to canonical JSON: object keys sorted, compact
// separators, HTML escaping off. Structs are round-tripped through a
// generic value so key order comes from the sort, not field order.
func JSON(v any) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("canonicalize: %w", err)
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return "", fmt.Errorf("canonicalize: %w", err)
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(generic); err != nil {
		return "", fmt.Errorf("canonicalize: %w", err)
	}
	return strings.TrimSuffix(buf.String(), "\n"), nil
}

// MustJSON is JSON for values that cannot fail to serialize
// (maps/structs of plain data). It panics otherwise.
func MustJSON(v any) string {
	s, err := JSON(v)
	if err != nil {
		panic(err)
	}
	return s
}

// SHA256Hex returns the hex sha256 digest of text.
func SHA256Hex(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// ID derives a stable id of the form prefix_<16 hex chars> from the
// given parts. Identical parts always yield the identical id, which is
// what makes replayed reducers reproduce the same rows.
func ID(prefix string, parts ...string) string {
	return prefix + "_" + SHA256Hex(strings.Join(parts, "|"))[:16]
}
