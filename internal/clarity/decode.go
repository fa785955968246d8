package clarity

import "encoding/hex"

// DecodeOptions controls how a Value tree becomes JSON-ready output.
//
// StrictJSONCompat renders 128-bit integers as decimal strings so no
// precision is lost in JSON transit; when false they come back as
// json-marshalable *big.Int. PreserveContainers keeps {type, value}
// wrappers around optionals and responses instead of unwrapping them.
type DecodeOptions struct {
	StrictJSONCompat   bool
	PreserveContainers bool
}

// DefaultDecodeOptions is what the decode endpoint uses when the caller
// does not override.
func DefaultDecodeOptions() DecodeOptions {
	return DecodeOptions{StrictJSONCompat: true, PreserveContainers: false}
}

// Decode converts a Value tree into plain Go values suitable for
// json.Marshal: tuples become objects, lists arrays, buffers hex
// strings.
func Decode(v Value, opts DecodeOptions) any {
	switch v.Type {
	case TypeInt, TypeUInt:
		if opts.StrictJSONCompat {
			return v.Int.String()
		}
		return v.Int
	case TypeBool:
		return v.Bool
	case TypePrincipal:
		return v.Principal
	case TypeBuffer:
		return "0x" + hex.EncodeToString(v.Buffer)
	case TypeStringASCII, TypeStringUTF8:
		return v.Str
	case TypeList:
		out := make([]any, 0, len(v.List))
		for _, e := range v.List {
			out = append(out, Decode(e, opts))
		}
		return out
	case TypeTuple:
		out := make(map[string]any, len(v.Tuple))
		for name, e := range v.Tuple {
			out[name] = Decode(e, opts)
		}
		return out
	case TypeOptionalNone:
		if opts.PreserveContainers {
			return map[string]any{"type": "none", "value": nil}
		}
		return nil
	case TypeOptionalSome:
		inner := Decode(*v.Inner, opts)
		if opts.PreserveContainers {
			return map[string]any{"type": "some", "value": inner}
		}
		return inner
	case TypeResponseOk:
		inner := Decode(*v.Inner, opts)
		if opts.PreserveContainers {
			return map[string]any{"type": "ok", "value": inner}
		}
		return inner
	case TypeResponseErr:
		inner := Decode(*v.Inner, opts)
		if opts.PreserveContainers {
			return map[string]any{"type": "err", "value": inner}
		}
		return inner
	default:
		return nil
	}
}
