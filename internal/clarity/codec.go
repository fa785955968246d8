package clarity

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"
	"math/big"
	"sort"
	"strings"
)

// Wire type tags, per the Clarity serialization format.
const (
	tagInt               byte = 0x00
	tagUInt              byte = 0x01
	tagBuffer            byte = 0x02
	tagBoolTrue          byte = 0x03
	tagBoolFalse         byte = 0x04
	tagStandardPrincipal byte = 0x05
	tagContractPrincipal byte = 0x06
	tagResponseOk        byte = 0x07
	tagResponseErr       byte = 0x08
	tagOptionalNone      byte = 0x09
	tagOptionalSome      byte = 0x0a
	tagList              byte = 0x0b
	tagTuple             byte = 0x0c
	tagStringASCII       byte = 0x0d
	tagStringUTF8        byte = 0x0e
)

// maxNesting caps recursion while deserializing untrusted payloads.
const maxNesting = 64

// SerializeHex renders v in the wire format as 0x-prefixed hex, the form
// accepted by read-only call endpoints.
func SerializeHex(v Value) (string, error) {
	var buf bytes.Buffer
	if err := serialize(&buf, v); err != nil {
		return "", err
	}
	return "0x" + hex.EncodeToString(buf.Bytes()), nil
}

// DeserializeHex parses a 0x-prefixed hex wire value.
func DeserializeHex(s string) (Value, error) {
	s = strings.TrimPrefix(s, "0x")
	raw, err := hex.DecodeString(s)
	if err != nil {
		return Value{}, fmt.Errorf("invalid hex value: %w", err)
	}
	r := bytes.NewReader(raw)
	v, err := deserialize(r, 0)
	if err != nil {
		return Value{}, err
	}
	if r.Len() != 0 {
		return Value{}, fmt.Errorf("trailing bytes after value")
	}
	return v, nil
}

func serialize(buf *bytes.Buffer, v Value) error {
	switch v.Type {
	case TypeInt:
		buf.WriteByte(tagInt)
		return writeInt128(buf, v.Int, true)
	case TypeUInt:
		buf.WriteByte(tagUInt)
		return writeInt128(buf, v.Int, false)
	case TypeBuffer:
		buf.WriteByte(tagBuffer)
		writeU32(buf, uint32(len(v.Buffer)))
		buf.Write(v.Buffer)
		return nil
	case TypeBool:
		if v.Bool {
			buf.WriteByte(tagBoolTrue)
		} else {
			buf.WriteByte(tagBoolFalse)
		}
		return nil
	case TypePrincipal:
		return serializePrincipal(buf, v.Principal)
	case TypeResponseOk:
		buf.WriteByte(tagResponseOk)
		return serialize(buf, *v.Inner)
	case TypeResponseErr:
		buf.WriteByte(tagResponseErr)
		return serialize(buf, *v.Inner)
	case TypeOptionalNone:
		buf.WriteByte(tagOptionalNone)
		return nil
	case TypeOptionalSome:
		buf.WriteByte(tagOptionalSome)
		return serialize(buf, *v.Inner)
	case TypeList:
		buf.WriteByte(tagList)
		writeU32(buf, uint32(len(v.List)))
		for _, e := range v.List {
			if err := serialize(buf, e); err != nil {
				return err
			}
		}
		return nil
	case TypeTuple:
		buf.WriteByte(tagTuple)
		writeU32(buf, uint32(len(v.Tuple)))
		for _, name := range sortedTupleKeys(v.Tuple) {
			if err := writeClarityName(buf, name); err != nil {
				return err
			}
			if err := serialize(buf, v.Tuple[name]); err != nil {
				return err
			}
		}
		return nil
	case TypeStringASCII:
		buf.WriteByte(tagStringASCII)
		writeU32(buf, uint32(len(v.Str)))
		buf.WriteString(v.Str)
		return nil
	case TypeStringUTF8:
		buf.WriteByte(tagStringUTF8)
		writeU32(buf, uint32(len(v.Str)))
		buf.WriteString(v.Str)
		return nil
	default:
		return fmt.Errorf("cannot serialize value of type %q", v.Type)
	}
}

func serializePrincipal(buf *bytes.Buffer, principal string) error {
	addr := principal
	name := ""
	if i := strings.IndexByte(principal, '.'); i >= 0 {
		addr, name = principal[:i], principal[i+1:]
	}
	version, hash160, err := DecodeAddress(addr)
	if err != nil {
		return err
	}
	if name == "" {
		buf.WriteByte(tagStandardPrincipal)
		buf.WriteByte(version)
		buf.Write(hash160)
		return nil
	}
	buf.WriteByte(tagContractPrincipal)
	buf.WriteByte(version)
	buf.Write(hash160)
	return writeClarityName(buf, name)
}

func deserialize(r *bytes.Reader, depth int) (Value, error) {
	if depth > maxNesting {
		return Value{}, fmt.Errorf("value nesting exceeds %d", maxNesting)
	}
	tag, err := r.ReadByte()
	if err != nil {
		return Value{}, fmt.Errorf("truncated value")
	}
	switch tag {
	case tagInt:
		n, err := readInt128(r, true)
		if err != nil {
			return Value{}, err
		}
		return Value{Type: TypeInt, Int: n}, nil
	case tagUInt:
		n, err := readInt128(r, false)
		if err != nil {
			return Value{}, err
		}
		return Value{Type: TypeUInt, Int: n}, nil
	case tagBuffer:
		b, err := readLenPrefixed(r)
		if err != nil {
			return Value{}, err
		}
		return Value{Type: TypeBuffer, Buffer: b}, nil
	case tagBoolTrue:
		return Bool(true), nil
	case tagBoolFalse:
		return Bool(false), nil
	case tagStandardPrincipal:
		addr, err := readPrincipalAddress(r)
		if err != nil {
			return Value{}, err
		}
		return Value{Type: TypePrincipal, Principal: addr}, nil
	case tagContractPrincipal:
		addr, err := readPrincipalAddress(r)
		if err != nil {
			return Value{}, err
		}
		name, err := readClarityName(r)
		if err != nil {
			return Value{}, err
		}
		return Value{Type: TypePrincipal, Principal: addr + "." + name}, nil
	case tagResponseOk, tagResponseErr, tagOptionalSome:
		inner, err := deserialize(r, depth+1)
		if err != nil {
			return Value{}, err
		}
		switch tag {
		case tagResponseOk:
			return Ok(inner), nil
		case tagResponseErr:
			return ErrOf(inner), nil
		default:
			return Some(inner), nil
		}
	case tagOptionalNone:
		return None(), nil
	case tagList:
		n, err := readU32(r)
		if err != nil {
			return Value{}, err
		}
		if int(n) > r.Len() {
			return Value{}, fmt.Errorf("list length %d exceeds payload", n)
		}
		list := make([]Value, 0, n)
		for i := uint32(0); i < n; i++ {
			e, err := deserialize(r, depth+1)
			if err != nil {
				return Value{}, err
			}
			list = append(list, e)
		}
		return List(list), nil
	case tagTuple:
		n, err := readU32(r)
		if err != nil {
			return Value{}, err
		}
		if int(n) > r.Len() {
			return Value{}, fmt.Errorf("tuple length %d exceeds payload", n)
		}
		tuple := make(map[string]Value, n)
		for i := uint32(0); i < n; i++ {
			name, err := readClarityName(r)
			if err != nil {
				return Value{}, err
			}
			e, err := deserialize(r, depth+1)
			if err != nil {
				return Value{}, err
			}
			tuple[name] = e
		}
		return TupleOf(tuple), nil
	case tagStringASCII:
		b, err := readLenPrefixed(r)
		if err != nil {
			return Value{}, err
		}
		return StringASCII(string(b)), nil
	case tagStringUTF8:
		b, err := readLenPrefixed(r)
		if err != nil {
			return Value{}, err
		}
		return StringUTF8(string(b)), nil
	default:
		return Value{}, fmt.Errorf("unknown value tag 0x%02x", tag)
	}
}

func sortedTupleKeys(m map[string]Value) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func writeU32(buf *bytes.Buffer, n uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], n)
	buf.Write(b[:])
}

func readU32(r *bytes.Reader) (uint32, error) {
	var b [4]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, fmt.Errorf("truncated length")
	}
	return binary.BigEndian.Uint32(b[:]), nil
}

func readLenPrefixed(r *bytes.Reader) ([]byte, error) {
	n, err := readU32(r)
	if err != nil {
		return nil, err
	}
	if int(n) > r.Len() {
		return nil, fmt.Errorf("length %d exceeds payload", n)
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, fmt.Errorf("truncated bytes")
	}
	return b, nil
}

func writeClarityName(buf *bytes.Buffer, name string) error {
	if err := ValidateContractName(name); err != nil {
		return err
	}
	buf.WriteByte(byte(len(name)))
	buf.WriteString(name)
	return nil
}

func readClarityName(r *bytes.Reader) (string, error) {
	n, err := r.ReadByte()
	if err != nil {
		return "", fmt.Errorf("truncated name")
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return "", fmt.Errorf("truncated name")
	}
	return string(b), nil
}

func readPrincipalAddress(r *bytes.Reader) (string, error) {
	version, err := r.ReadByte()
	if err != nil {
		return "", fmt.Errorf("truncated principal")
	}
	hash160 := make([]byte, 20)
	if _, err := io.ReadFull(r, hash160); err != nil {
		return "", fmt.Errorf("truncated principal")
	}
	return EncodeAddress(version, hash160)
}

// writeInt128 encodes a 128-bit integer big-endian; signed values use
// two's complement.
func writeInt128(buf *bytes.Buffer, n *big.Int, signed bool) error {
	if n == nil {
		return fmt.Errorf("nil integer value")
	}
	v := new(big.Int).Set(n)
	if signed {
		if v.Cmp(minInt128) < 0 || v.Cmp(maxInt128) > 0 {
			return fmt.Errorf("int out of range: %s", n)
		}
		if v.Sign() < 0 {
			v.Add(v, new(big.Int).Lsh(big.NewInt(1), 128))
		}
	} else if n.Sign() < 0 || n.Cmp(maxUint128) > 0 {
		return fmt.Errorf("uint out of range: %s", n)
	}
	b := v.Bytes()
	pad := make([]byte, 16-len(b))
	buf.Write(pad)
	buf.Write(b)
	return nil
}

func readInt128(r *bytes.Reader, signed bool) (*big.Int, error) {
	b := make([]byte, 16)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, fmt.Errorf("truncated integer")
	}
	n := new(big.Int).SetBytes(b)
	if signed && b[0]&0x80 != 0 {
		n.Sub(n, new(big.Int).Lsh(big.NewInt(1), 128))
	}
	return n, nil
}
