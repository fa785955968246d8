package clarity

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"
)

// FromSimplified converts one argument in the simplified JSON form into
// a Value. An argument is either an already-serialized "0x…" hex string
// or a {"type": …, "value": …} object; type names are matched
// case-insensitively and containers convert recursively.
func FromSimplified(arg any) (Value, error) {
	switch a := arg.(type) {
	case string:
		if strings.HasPrefix(a, "0x") {
			return DeserializeHex(a)
		}
		return Value{}, fmt.Errorf("string argument must be 0x-prefixed hex, got %q", a)
	case map[string]any:
		return fromTyped(a)
	default:
		return Value{}, fmt.Errorf("argument must be a hex string or {type, value} object, got %T", arg)
	}
}

// FromSimplifiedList converts a full argument array.
func FromSimplifiedList(args []any) ([]Value, error) {
	out := make([]Value, 0, len(args))
	for i, a := range args {
		v, err := FromSimplified(a)
		if err != nil {
			return nil, fmt.Errorf("argument %d: %w", i, err)
		}
		out = append(out, v)
	}
	return out, nil
}

func fromTyped(obj map[string]any) (Value, error) {
	rawType, ok := obj["type"].(string)
	if !ok {
		return Value{}, fmt.Errorf("argument object missing string \"type\" field")
	}
	val := obj["value"]

	switch normalizeTypeName(rawType) {
	case "uint":
		n, err := bigintValue(val)
		if err != nil {
			return Value{}, fmt.Errorf("uint: %w", err)
		}
		return Uint(n)
	case "int":
		n, err := bigintValue(val)
		if err != nil {
			return Value{}, fmt.Errorf("int: %w", err)
		}
		return Int128(n)
	case "bool":
		b, err := boolValue(val)
		if err != nil {
			return Value{}, err
		}
		return Bool(b), nil
	case "principal":
		s, ok := val.(string)
		if !ok {
			return Value{}, fmt.Errorf("principal value must be a string")
		}
		return PrincipalFrom(s)
	case "buffer":
		s, ok := val.(string)
		if !ok {
			return Value{}, fmt.Errorf("buffer value must be a hex string")
		}
		b, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
		if err != nil {
			return Value{}, fmt.Errorf("buffer: %w", err)
		}
		return Buffer(b), nil
	case "string", "stringascii":
		s, ok := val.(string)
		if !ok {
			return Value{}, fmt.Errorf("string value must be a string")
		}
		return StringASCII(s), nil
	case "stringutf8":
		s, ok := val.(string)
		if !ok {
			return Value{}, fmt.Errorf("string-utf8 value must be a string")
		}
		return StringUTF8(s), nil
	case "list":
		items, ok := val.([]any)
		if !ok {
			return Value{}, fmt.Errorf("list value must be an array")
		}
		vs, err := FromSimplifiedList(items)
		if err != nil {
			return Value{}, err
		}
		return List(vs), nil
	case "tuple":
		fields, ok := val.(map[string]any)
		if !ok {
			return Value{}, fmt.Errorf("tuple value must be an object")
		}
		m := make(map[string]Value, len(fields))
		for name, f := range fields {
			if err := ValidateContractName(name); err != nil {
				return Value{}, fmt.Errorf("tuple field %q: %w", name, err)
			}
			v, err := FromSimplified(f)
			if err != nil {
				return Value{}, fmt.Errorf("tuple field %q: %w", name, err)
			}
			m[name] = v
		}
		return TupleOf(m), nil
	case "none":
		return None(), nil
	case "optional", "some":
		if val == nil {
			return None(), nil
		}
		inner, err := FromSimplified(val)
		if err != nil {
			return Value{}, err
		}
		return Some(inner), nil
	case "ok", "responseok":
		inner, err := FromSimplified(val)
		if err != nil {
			return Value{}, err
		}
		return Ok(inner), nil
	case "err", "responseerr":
		inner, err := FromSimplified(val)
		if err != nil {
			return Value{}, err
		}
		return ErrOf(inner), nil
	default:
		return Value{}, fmt.Errorf("unrecognized argument type %q", rawType)
	}
}

// normalizeTypeName lowercases and strips separators so "string-ascii",
// "StringAscii" and "string_ascii" all match.
func normalizeTypeName(s string) string {
	s = strings.ToLower(s)
	s = strings.ReplaceAll(s, "-", "")
	s = strings.ReplaceAll(s, "_", "")
	return s
}

// bigintValue accepts JSON numbers, decimal strings, and the legacy
// "123n" bigint-suffixed string form.
func bigintValue(val any) (*big.Int, error) {
	switch v := val.(type) {
	case json.Number:
		n, ok := new(big.Int).SetString(v.String(), 10)
		if !ok {
			return nil, fmt.Errorf("not an integer: %q", v.String())
		}
		return n, nil
	case string:
		s := strings.TrimSuffix(v, "n")
		n, ok := new(big.Int).SetString(s, 10)
		if !ok {
			return nil, fmt.Errorf("not an integer: %q", v)
		}
		return n, nil
	case float64:
		if v != float64(int64(v)) {
			return nil, fmt.Errorf("not an integer: %v", v)
		}
		return big.NewInt(int64(v)), nil
	default:
		return nil, fmt.Errorf("expected integer, got %T", val)
	}
}

func boolValue(val any) (bool, error) {
	switch v := val.(type) {
	case bool:
		return v, nil
	case string:
		switch strings.ToLower(v) {
		case "true":
			return true, nil
		case "false":
			return false, nil
		}
	}
	return false, fmt.Errorf("expected boolean, got %v", val)
}
