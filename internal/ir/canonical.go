package ir

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"

	"golang.org/x/text/unicode/norm"
)

// MarshalCanonical produces RFC 8785 canonical JSON for hashing and storage.
// This is the ONLY serialization that may feed content-addressed identity
// computation.
//
// Differences from standard json.Marshal:
//  1. Object keys sorted by UTF-16 code units (not UTF-8 bytes)
//  2. No HTML escaping (< > & are NOT escaped)
//  3. Strings are NFC normalized
//  4. No floats (ArgDecimal carries the lexeme as a tagged string)
//  5. No null
func MarshalCanonical(v any) ([]byte, error) {
	return marshalCanonical(v)
}

func marshalCanonical(v any) ([]byte, error) {
	switch val := v.(type) {
	case nil:
		return nil, fmt.Errorf("null is forbidden in canonical JSON")
	case ArgString:
		return marshalCanonicalString(string(val))
	case ArgInt:
		return strconv.AppendInt(nil, int64(val), 10), nil
	case ArgBool:
		if val {
			return []byte("true"), nil
		}
		return []byte("false"), nil
	case ArgDecimal:
		return marshalTagged(tagDecimal, string(val))
	case ArgKeyword:
		return marshalTagged(tagKeyword, string(val))
	case AttrRef:
		if val.Semantic != "" {
			return marshalTagged(tagAttr, val.Semantic)
		}
		return marshalTagged(tagAttrID, val.ID.String())
	case DocRef:
		return marshalTagged(tagDoc, val.ID.String())
	case AliasRef:
		return marshalTagged(tagAlias, val.Name)
	case ArgList:
		return marshalCanonicalList(val)
	case ArgMap:
		return marshalCanonicalMap(val)
	case string:
		return marshalCanonicalString(val)
	case int:
		return strconv.AppendInt(nil, int64(val), 10), nil
	case int64:
		return strconv.AppendInt(nil, val, 10), nil
	case bool:
		if val {
			return []byte("true"), nil
		}
		return []byte("false"), nil
	case []string:
		// Common for write sets. Encoded as a plain JSON array of strings.
		sorted := append([]string(nil), val...)
		sort.Strings(sorted)
		list := make(ArgList, len(sorted))
		for i, s := range sorted {
			list[i] = ArgString(s)
		}
		return marshalCanonicalList(list)
	case float32, float64:
		return nil, fmt.Errorf("floats are forbidden in canonical JSON: %v", val)
	default:
		return nil, fmt.Errorf("unsupported type for canonical JSON: %T", v)
	}
}

// marshalTagged encodes the single-key tagged object form, e.g.
// {"$alias":"e"}. The tag is ASCII so no normalization is needed for it.
func marshalTagged(tag, value string) ([]byte, error) {
	vb, err := marshalCanonicalString(value)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	buf.WriteByte('{')
	buf.WriteByte('"')
	buf.WriteString(tag)
	buf.WriteString(`":`)
	buf.Write(vb)
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func marshalCanonicalList(list ArgList) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('[')
	for i, elem := range list {
		if i > 0 {
			buf.WriteByte(',')
		}
		b, err := marshalCanonical(elem)
		if err != nil {
			return nil, fmt.Errorf("[%d]: %w", i, err)
		}
		buf.Write(b)
	}
	buf.WriteByte(']')
	return buf.Bytes(), nil
}

func marshalCanonicalMap(m ArgMap) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range m.SortedKeys() {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := marshalCanonicalString(k)
		if err != nil {
			return nil, fmt.Errorf("key %q: %w", k, err)
		}
		buf.Write(kb)
		buf.WriteByte(':')
		vb, err := marshalCanonical(m[k])
		if err != nil {
			return nil, fmt.Errorf("%q: %w", k, err)
		}
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// marshalCanonicalString produces a canonical JSON string with NFC
// normalization. RFC 8785 requires that < > & and U+2028/U+2029 are NOT
// escaped; only control characters, backslash, and quote are.
func marshalCanonicalString(s string) ([]byte, error) {
	normalized := norm.NFC.String(s)

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(normalized); err != nil {
		return nil, err
	}

	// json.Encoder appends a trailing newline.
	result := bytes.TrimSuffix(buf.Bytes(), []byte("\n"))

	// Go's encoder escapes U+2028/U+2029 for JavaScript embedding, which
	// RFC 8785 forbids. Unescape them, leaving literal "\\u2028" text
	// (escaped backslash followed by u2028) intact.
	return unescapeLineSeparators(result), nil
}

// unescapeLineSeparators rewrites   and   escape sequences back to
// the literal characters. A sequence is only a real escape when preceded by
// an odd run of backslashes would make it literal text; since the input is
// valid encoder output, a '\' starting the sequence is the escape itself
// unless it is the second half of an escaped backslash pair.
func unescapeLineSeparators(data []byte) []byte {
	if !bytes.Contains(data, []byte(`\u202`)) {
		return data
	}

	var out bytes.Buffer
	out.Grow(len(data))
	i := 0
	for i < len(data) {
		c := data[i]
		if c == '\\' && i+1 < len(data) {
			next := data[i+1]
			if next == '\\' {
				// Escaped backslash: copy the pair so the following
				// characters are never misread as an escape.
				out.WriteString(`\\`)
				i += 2
				continue
			}
			if next == 'u' && i+6 <= len(data) {
				seq := string(data[i+2 : i+6])
				if seq == "2028" {
					out.WriteString(" ")
					i += 6
					continue
				}
				if seq == "2029" {
					out.WriteString(" ")
					i += 6
					continue
				}
			}
		}
		out.WriteByte(c)
		i++
	}
	return out.Bytes()
}
