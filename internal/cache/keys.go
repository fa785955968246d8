package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
)

// hashPrefixLen is the number of hex characters kept from the argument
// hash. 40 bits is enough given the small cardinality per
// (address, name, function, network).
const hashPrefixLen = 10

// KeyBuilder derives deterministic, collision-resistant cache keys for a
// route's namespace.
type KeyBuilder struct {
	prefix string
}

// NewKeyBuilder creates a KeyBuilder with the given namespace prefix.
func NewKeyBuilder(prefix string) *KeyBuilder {
	return &KeyBuilder{prefix: prefix}
}

// Endpoint builds a key for a simple path-based cache entry:
// the route prefix plus the path with slashes replaced by underscores.
func (b *KeyBuilder) Endpoint(path string) string {
	return b.prefix + strings.ReplaceAll(path, "/", "_")
}

// ContractCall builds a key for a read-only contract call. The argument
// hash is the first 10 hex characters of SHA-256 over a stable JSON
// serialization of the arguments.
func (b *KeyBuilder) ContractCall(address, name, fn, network string, args json.RawMessage) (string, error) {
	h, err := hashArgs(args)
	if err != nil {
		return "", err
	}
	return b.prefix + "_call_" + address + "_" + name + "_" + fn + "_" + network + "_" + h, nil
}

// hashArgs canonicalizes the argument JSON (sorted object keys, numbers
// preserved verbatim via json.Number) and hashes it.
func hashArgs(args json.RawMessage) (string, error) {
	canonical, err := canonicalJSON(args)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:])[:hashPrefixLen], nil
}

// canonicalJSON re-serializes a JSON document deterministically. Go's
// encoding/json emits object keys in sorted order for maps, which gives
// the stable form; json.Number keeps large integers intact.
func canonicalJSON(raw json.RawMessage) ([]byte, error) {
	if len(raw) == 0 {
		raw = json.RawMessage("[]")
	}
	v, err := decodeNumberSafe(raw)
	if err != nil {
		return nil, err
	}
	return json.Marshal(v)
}
