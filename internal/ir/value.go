package ir

import (
	"encoding/json"
	"fmt"
	"slices"
	"strconv"
	"unicode/utf16"

	"github.com/google/uuid"
)

// ArgValue is a sealed interface over the forms an entry argument can take.
// Only the Arg* and *Ref types in this file implement it.
//
// There is intentionally no float variant. Non-integral numeric literals are
// carried as ArgDecimal, which preserves the source lexeme. Floats break
// deterministic hashing and therefore cannot appear in compiled artifacts.
type ArgValue interface {
	argValue()
}

// ArgString is a quoted string literal.
type ArgString string

func (ArgString) argValue() {}

// ArgInt is an integral numeric literal. Always int64.
type ArgInt int64

func (ArgInt) argValue() {}

// ArgDecimal is a non-integral numeric literal, kept as its source lexeme
// (e.g. "12.5") so that serialization is exact and hashable.
type ArgDecimal string

func (ArgDecimal) argValue() {}

// ArgBool is a boolean literal.
type ArgBool bool

func (ArgBool) argValue() {}

// ArgKeyword is a bare identifier value, e.g. the DIRECTOR in
// (entity.assign-role :role DIRECTOR).
type ArgKeyword string

func (ArgKeyword) argValue() {}

// ArgList is an ordered list of values.
type ArgList []ArgValue

func (ArgList) argValue() {}

// ArgMap is a string-keyed map of values. Use SortedKeys for deterministic
// iteration.
type ArgMap map[string]ArgValue

func (ArgMap) argValue() {}

// AttrRef addresses a dictionary attribute, either by its stable semantic
// path ("identity.first_name") or by its opaque UUID. Exactly one of the two
// fields is populated; both forms resolve to the same underlying attribute.
type AttrRef struct {
	Semantic string
	ID       uuid.UUID
}

func (AttrRef) argValue() {}

// DocRef addresses a catalogued document by UUID.
type DocRef struct {
	ID uuid.UUID
}

func (DocRef) argValue() {}

// AliasRef is a reference to the output of an earlier entry, declared with
// ":as @name". Resolved at compile time when the producer's output is known,
// otherwise at execution time from the runtime binding table.
type AliasRef struct {
	Name string
}

func (AliasRef) argValue() {}

// Tag keys for the JSON encoding of reference and special-form values.
// Entry argument keys are parsed identifiers and can never start with '$',
// so these tags cannot collide with user data.
const (
	tagAttr    = "$attr"
	tagAttrID  = "$attr-id"
	tagDoc     = "$doc"
	tagAlias   = "$alias"
	tagKeyword = "$kw"
	tagDecimal = "$dec"
)

// SortedKeys returns map keys in RFC 8785 canonical order (UTF-16 code
// units). Go's sort.Strings compares UTF-8 bytes, which produces a different
// order for strings outside the BMP.
func (m ArgMap) SortedKeys() []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, compareKeysRFC8785)
	return keys
}

// compareKeysRFC8785 compares strings by UTF-16 code units as RFC 8785
// requires. utf16.Encode handles surrogate pairs correctly.
func compareKeysRFC8785(a, b string) int {
	a16 := utf16.Encode([]rune(a))
	b16 := utf16.Encode([]rune(b))

	n := min(len(a16), len(b16))
	for i := 0; i < n; i++ {
		if a16[i] != b16[i] {
			if a16[i] < b16[i] {
				return -1
			}
			return 1
		}
	}
	switch {
	case len(a16) < len(b16):
		return -1
	case len(a16) > len(b16):
		return 1
	default:
		return 0
	}
}

// MarshalJSON implements json.Marshaler for AttrRef using the tagged form.
func (r AttrRef) MarshalJSON() ([]byte, error) {
	if r.Semantic != "" {
		return json.Marshal(map[string]string{tagAttr: r.Semantic})
	}
	return json.Marshal(map[string]string{tagAttrID: r.ID.String()})
}

// MarshalJSON implements json.Marshaler for DocRef using the tagged form.
func (r DocRef) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]string{tagDoc: r.ID.String()})
}

// MarshalJSON implements json.Marshaler for AliasRef using the tagged form.
func (r AliasRef) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]string{tagAlias: r.Name})
}

// MarshalJSON implements json.Marshaler for ArgKeyword using the tagged form.
func (k ArgKeyword) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]string{tagKeyword: string(k)})
}

// MarshalJSON implements json.Marshaler for ArgDecimal using the tagged form.
func (d ArgDecimal) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]string{tagDecimal: string(d)})
}

// UnmarshalArgMap parses the JSON encoding produced by MarshalCanonical (or
// plain json.Marshal of these types) back into an ArgMap.
func UnmarshalArgMap(data []byte) (ArgMap, error) {
	if len(data) == 0 || string(data) == "{}" {
		return ArgMap{}, nil
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("unmarshal arg map: %w", err)
	}
	m := make(ArgMap, len(raw))
	for k, v := range raw {
		val, err := unmarshalArgValue(v)
		if err != nil {
			return nil, fmt.Errorf("arg %q: %w", k, err)
		}
		m[k] = val
	}
	return m, nil
}

// UnmarshalArgValue decodes one JSON value into an ArgValue.
func UnmarshalArgValue(data []byte) (ArgValue, error) {
	return unmarshalArgValue(data)
}

// unmarshalArgValue decodes one JSON value into an ArgValue. Objects with a
// single $-tagged key decode to the corresponding reference or special form;
// all other objects decode to ArgMap. JSON floats are rejected.
func unmarshalArgValue(data json.RawMessage) (ArgValue, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty JSON value")
	}

	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return nil, err
		}
		return ArgString(s), nil

	case 't', 'f':
		var b bool
		if err := json.Unmarshal(data, &b); err != nil {
			return nil, err
		}
		return ArgBool(b), nil

	case 'n':
		return nil, fmt.Errorf("null is not a valid argument value")

	case '[':
		var raw []json.RawMessage
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, err
		}
		list := make(ArgList, len(raw))
		for i, elem := range raw {
			v, err := unmarshalArgValue(elem)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			list[i] = v
		}
		return list, nil

	case '{':
		var raw map[string]json.RawMessage
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, err
		}
		if tagged, ok, err := decodeTagged(raw); ok || err != nil {
			return tagged, err
		}
		m := make(ArgMap, len(raw))
		for k, v := range raw {
			val, err := unmarshalArgValue(v)
			if err != nil {
				return nil, fmt.Errorf("%q: %w", k, err)
			}
			m[k] = val
		}
		return m, nil

	default:
		// Numeric. Use json.Number to avoid float64 precision loss, then
		// insist on an integral value.
		var num json.Number
		if err := json.Unmarshal(data, &num); err != nil {
			return nil, err
		}
		n, err := strconv.ParseInt(num.String(), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("non-integral number %q: decimals must use the %s tag", num, tagDecimal)
		}
		return ArgInt(n), nil
	}
}

// decodeTagged recognizes the single-key $-tagged object forms. Returns
// ok=false when the object is an ordinary map.
func decodeTagged(raw map[string]json.RawMessage) (ArgValue, bool, error) {
	if len(raw) != 1 {
		return nil, false, nil
	}
	for tag, v := range raw {
		if len(tag) == 0 || tag[0] != '$' {
			return nil, false, nil
		}
		var s string
		if err := json.Unmarshal(v, &s); err != nil {
			return nil, true, fmt.Errorf("tag %s: %w", tag, err)
		}
		switch tag {
		case tagAttr:
			return AttrRef{Semantic: s}, true, nil
		case tagAttrID:
			id, err := uuid.Parse(s)
			if err != nil {
				return nil, true, fmt.Errorf("tag %s: %w", tag, err)
			}
			return AttrRef{ID: id}, true, nil
		case tagDoc:
			id, err := uuid.Parse(s)
			if err != nil {
				return nil, true, fmt.Errorf("tag %s: %w", tag, err)
			}
			return DocRef{ID: id}, true, nil
		case tagAlias:
			return AliasRef{Name: s}, true, nil
		case tagKeyword:
			return ArgKeyword(s), true, nil
		case tagDecimal:
			return ArgDecimal(s), true, nil
		default:
			return nil, true, fmt.Errorf("unknown tag %q", tag)
		}
	}
	return nil, false, nil
}

// LiteralString returns the plain-string rendering of scalar values, used
// when interpolating resolved arguments into write-set templates. Returns
// ok=false for lists, maps, and unresolved references.
func LiteralString(v ArgValue) (string, bool) {
	switch val := v.(type) {
	case ArgString:
		return string(val), true
	case ArgInt:
		return strconv.FormatInt(int64(val), 10), true
	case ArgDecimal:
		return string(val), true
	case ArgBool:
		return strconv.FormatBool(bool(val)), true
	case ArgKeyword:
		return string(val), true
	case AttrRef:
		if val.Semantic != "" {
			return val.Semantic, true
		}
		return val.ID.String(), true
	case DocRef:
		return val.ID.String(), true
	default:
		return "", false
	}
}
