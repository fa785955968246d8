package clarity

import (
	"crypto/sha256"
	"fmt"
	"strings"
)

// c32 is the Crockford-style alphabet used by Stacks addresses.
const c32Alphabet = "0123456789ABCDEFGHJKMNPQRSTVWXYZ"

// Address version bytes. The second address character encodes the
// version: SP/SM are mainnet, ST/SN are testnet.
const (
	versionMainnetSingle = 22 // 'P'
	versionMainnetMulti  = 20 // 'M'
	versionTestnetSingle = 26 // 'T'
	versionTestnetMulti  = 21 // 'N'
)

var c32Lookup = func() map[byte]int {
	m := make(map[byte]int, 32)
	for i := 0; i < len(c32Alphabet); i++ {
		m[c32Alphabet[i]] = i
	}
	// Permissive homoglyphs, per the c32check spec.
	m['O'] = 0
	m['L'] = 1
	m['I'] = 1
	return m
}()

// c32Encode encodes bytes in base32 with the c32 alphabet. Leading zero
// bytes are preserved as leading '0' characters.
func c32Encode(data []byte) string {
	if len(data) == 0 {
		return ""
	}
	// Collect 5-bit groups from the least significant end.
	var out []byte
	carry := 0
	carryBits := 0
	for i := len(data) - 1; i >= 0; i-- {
		carry |= int(data[i]) << carryBits
		carryBits += 8
		for carryBits >= 5 {
			out = append(out, c32Alphabet[carry&0x1f])
			carry >>= 5
			carryBits -= 5
		}
	}
	if carryBits > 0 {
		out = append(out, c32Alphabet[carry&0x1f])
	}
	// Trim the redundant leading zeros the grouping produced, then restore
	// one '0' per leading zero byte of the input.
	for len(out) > 0 && out[len(out)-1] == '0' {
		out = out[:len(out)-1]
	}
	for i := 0; i < len(data) && data[i] == 0; i++ {
		out = append(out, '0')
	}
	// Reverse into most-significant-first order.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return string(out)
}

// c32Decode decodes a c32 string back into bytes.
func c32Decode(s string) ([]byte, error) {
	s = strings.ToUpper(s)
	var out []byte
	carry := 0
	carryBits := 0
	for i := len(s) - 1; i >= 0; i-- {
		v, ok := c32Lookup[s[i]]
		if !ok {
			return nil, fmt.Errorf("invalid c32 character %q", s[i])
		}
		carry |= v << carryBits
		carryBits += 5
		for carryBits >= 8 {
			out = append(out, byte(carry&0xff))
			carry >>= 8
			carryBits -= 8
		}
	}
	if carryBits > 0 && carry != 0 {
		out = append(out, byte(carry&0xff))
	}
	for len(out) > 0 && out[len(out)-1] == 0 {
		out = out[:len(out)-1]
	}
	for i := 0; i < len(s) && s[i] == '0'; i++ {
		out = append(out, 0)
	}
	// Reverse into big-endian order.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// c32Checksum is the first four bytes of a double SHA-256 over the
// version byte followed by the payload.
func c32Checksum(version byte, data []byte) []byte {
	buf := append([]byte{version}, data...)
	first := sha256.Sum256(buf)
	second := sha256.Sum256(first[:])
	return second[:4]
}

// EncodeAddress renders a version byte and 20-byte hash160 as a Stacks
// address ("S" + version char + c32(payload||checksum)).
func EncodeAddress(version byte, hash160 []byte) (string, error) {
	if len(hash160) != 20 {
		return "", fmt.Errorf("hash160 must be 20 bytes, got %d", len(hash160))
	}
	if int(version) >= len(c32Alphabet) {
		return "", fmt.Errorf("invalid address version %d", version)
	}
	payload := append(append([]byte{}, hash160...), c32Checksum(version, hash160)...)
	return "S" + string(c32Alphabet[version]) + c32Encode(payload), nil
}

// DecodeAddress parses and checksum-verifies a Stacks address, returning
// the version byte and 20-byte hash160.
func DecodeAddress(addr string) (byte, []byte, error) {
	if len(addr) < 6 || addr[0] != 'S' {
		return 0, nil, fmt.Errorf("invalid address %q", addr)
	}
	version, ok := c32Lookup[addr[1]]
	if !ok {
		return 0, nil, fmt.Errorf("invalid address version character %q", addr[1])
	}
	payload, err := c32Decode(addr[2:])
	if err != nil {
		return 0, nil, err
	}
	if len(payload) != 24 {
		return 0, nil, fmt.Errorf("invalid address payload length %d", len(payload))
	}
	hash160, checksum := payload[:20], payload[20:]
	want := c32Checksum(byte(version), hash160)
	for i := range want {
		if want[i] != checksum[i] {
			return 0, nil, fmt.Errorf("address checksum mismatch")
		}
	}
	return byte(version), hash160, nil
}

// Network names recognized across the proxy.
const (
	NetworkMainnet = "mainnet"
	NetworkTestnet = "testnet"
)

// NetworkOf reports which network an address version belongs to.
func NetworkOf(version byte) (string, error) {
	switch version {
	case versionMainnetSingle, versionMainnetMulti:
		return NetworkMainnet, nil
	case versionTestnetSingle, versionTestnetMulti:
		return NetworkTestnet, nil
	default:
		return "", fmt.Errorf("unknown address version %d", version)
	}
}

// ValidNetwork reports whether name is a recognized network.
func ValidNetwork(name string) bool {
	return name == NetworkMainnet || name == NetworkTestnet
}
