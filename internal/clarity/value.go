// Package clarity models Clarity values as a tagged-variant tree, with
// the binary wire codec used by read-only call executors, c32 principal
// addresses, conversion from the simplified JSON argument form, and
// recursive decoding into JSON-ready output.
package clarity

import (
	"fmt"
	"math/big"
)

// Type tags a Value variant.
type Type string

const (
	TypeInt          Type = "int"
	TypeUInt         Type = "uint"
	TypeBool         Type = "bool"
	TypePrincipal    Type = "principal"
	TypeBuffer       Type = "buffer"
	TypeStringASCII  Type = "string-ascii"
	TypeStringUTF8   Type = "string-utf8"
	TypeList         Type = "list"
	TypeTuple        Type = "tuple"
	TypeOptionalNone Type = "none"
	TypeOptionalSome Type = "some"
	TypeResponseOk   Type = "ok"
	TypeResponseErr  Type = "err"
)

// Value is one node of a Clarity value tree. Exactly the fields relevant
// to Type are populated.
type Value struct {
	Type Type

	Int       *big.Int // TypeInt, TypeUInt
	Bool      bool
	Principal string // standard or contract principal ("ADDR" or "ADDR.name")
	Buffer    []byte
	Str       string // TypeStringASCII, TypeStringUTF8

	List  []Value          // TypeList
	Tuple map[string]Value // TypeTuple
	Inner *Value           // TypeOptionalSome, TypeResponseOk, TypeResponseErr
}

// Bounds of Clarity's 128-bit integer types.
var (
	maxUint128 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 128), big.NewInt(1))
	maxInt128  = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 127), big.NewInt(1))
	minInt128  = new(big.Int).Neg(new(big.Int).Lsh(big.NewInt(1), 127))
)

// Uint builds a uint value. Returns an error outside [0, 2^128).
func Uint(v *big.Int) (Value, error) {
	if v.Sign() < 0 || v.Cmp(maxUint128) > 0 {
		return Value{}, fmt.Errorf("uint out of range: %s", v)
	}
	return Value{Type: TypeUInt, Int: new(big.Int).Set(v)}, nil
}

// Int128 builds an int value. Returns an error outside [-2^127, 2^127).
func Int128(v *big.Int) (Value, error) {
	if v.Cmp(minInt128) < 0 || v.Cmp(maxInt128) > 0 {
		return Value{}, fmt.Errorf("int out of range: %s", v)
	}
	return Value{Type: TypeInt, Int: new(big.Int).Set(v)}, nil
}

func Bool(b bool) Value { return Value{Type: TypeBool, Bool: b} }

// PrincipalFrom builds a principal value after validating the address
// part (and optional ".contract-name" suffix).
func PrincipalFrom(s string) (Value, error) {
	if err := ValidatePrincipal(s); err != nil {
		return Value{}, err
	}
	return Value{Type: TypePrincipal, Principal: s}, nil
}

func Buffer(b []byte) Value { return Value{Type: TypeBuffer, Buffer: b} }
func StringASCII(s string) Value { return Value{Type: TypeStringASCII, Str: s} }
func StringUTF8(s string) Value { return Value{Type: TypeStringUTF8, Str: s} }
func List(vs []Value) Value { return Value{Type: TypeList, List: vs} }
func TupleOf(m map[string]Value) Value {
	return Value{Type: TypeTuple, Tuple: m}
}
func None() Value { return Value{Type: TypeOptionalNone} }
func Some(v Value) Value { return Value{Type: TypeOptionalSome, Inner: &v} }
func Ok(v Value) Value { return Value{Type: TypeResponseOk, Inner: &v} }
func ErrOf(v Value) Value { return Value{Type: TypeResponseErr, Inner: &v} }

// String renders the value in Clarity-like notation, for logs and errors.
func (v Value) String() string {
	switch v.Type {
	case TypeUInt:
		return "u" + v.Int.String()
	case TypeInt:
		return v.Int.String()
	case TypeBool:
		if v.Bool {
			return "true"
		}
		return "false"
	case TypePrincipal:
		return "'" + v.Principal
	case TypeBuffer:
		return fmt.Sprintf("0x%x", v.Buffer)
	case TypeStringASCII:
		return fmt.Sprintf("%q", v.Str)
	case TypeStringUTF8:
		return fmt.Sprintf("u%q", v.Str)
	case TypeList:
		return fmt.Sprintf("(list %d)", len(v.List))
	case TypeTuple:
		return fmt.Sprintf("(tuple %d)", len(v.Tuple))
	case TypeOptionalNone:
		return "none"
	case TypeOptionalSome:
		return "(some " + v.Inner.String() + ")"
	case TypeResponseOk:
		return "(ok " + v.Inner.String() + ")"
	case TypeResponseErr:
		return "(err " + v.Inner.String() + ")"
	default:
		return "<invalid>"
	}
}
