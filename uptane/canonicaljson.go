// Package uptane implements the role-based signed-metadata verifier that
// gates the atomic commit protocol: threshold signature checking, version
// monotonicity, and expiry, against the canonical JSON encoding TUF roles
// are signed over.
package uptane

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
)

// CanonicalJSON serializes v the way Uptane/TUF roles are signed: object
// keys in lexical order, no whitespace, numbers emitted in the smallest
// signed/unsigned integer form that round-trips exactly, strings escaped
// per the standard JSON rules. No library in this codebase's dependency
// tree implements this (the nearest relative signs over CBOR, a different
// wire format), so it is hand-rolled on top of encoding/json's decoder,
// which already gives us conformant string escaping and numeric parsing.
func CanonicalJSON(v interface{}) ([]byte, error) {
	// Round-trip through encoding/json first so that v (a struct, a
	// map[string]interface{}, or raw json.RawMessage) becomes a generic
	// value tree we can walk deterministically.
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonical json: marshal: %w", err)
	}
	var generic interface{}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&generic); err != nil {
		return nil, fmt.Errorf("canonical json: decode: %w", err)
	}
	var buf bytes.Buffer
	if err := writeCanonical(&buf, generic); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeCanonical(buf *bytes.Buffer, v interface{}) error {
	switch val := v.(type) {
	case nil:
		buf.WriteString("null")
	case bool:
		if val {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case json.Number:
		return writeCanonicalNumber(buf, val)
	case string:
		b, err := json.Marshal(val)
		if err != nil {
			return err
		}
		buf.Write(b)
	case []interface{}:
		buf.WriteByte('[')
		for i, elem := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeCanonical(buf, elem); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case map[string]interface{}:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			kb, err := json.Marshal(k)
			if err != nil {
				return err
			}
			buf.Write(kb)
			buf.WriteByte(':')
			if err := writeCanonical(buf, val[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	default:
		return fmt.Errorf("canonical json: unsupported type %T", v)
	}
	return nil
}

// writeCanonicalNumber emits n in the smallest form that reproduces it
// exactly: a bare integer (signed or unsigned) when n has no fractional
// part and fits in an int64/uint64, otherwise the shortest decimal form
// encoding/json already produces.
func writeCanonicalNumber(buf *bytes.Buffer, n json.Number) error {
	if i, err := n.Int64(); err == nil {
		fmt.Fprintf(buf, "%d", i)
		return nil
	}
	if u, err := strconv.ParseUint(n.String(), 10, 64); err == nil {
		fmt.Fprintf(buf, "%d", u)
		return nil
	}
	f, err := n.Float64()
	if err != nil {
		return fmt.Errorf("canonical json: invalid number %q", n)
	}
	if math.IsInf(f, 0) || math.IsNaN(f) {
		return fmt.Errorf("canonical json: non-finite number %q", n)
	}
	buf.WriteString(n.String())
	return nil
}
