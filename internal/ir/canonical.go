package ir

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"unicode/utf16"

	"golang.org/x/text/unicode/norm"
)

// MarshalMetadata produces canonical JSON for task metadata.
//
// Output rules:
//  1. Object keys sorted by UTF-16 code units
//  2. No HTML escaping (< > & are kept literally)
//  3. Keys and values are NFC normalized
//  4. No insignificant whitespace
//
// A nil or empty map encodes as "{}".
func MarshalMetadata(m map[string]string) ([]byte, error) {
	if len(m) == 0 {
		return []byte("{}"), nil
	}

	normalized := make(map[string]string, len(m))
	keys := make([]string, 0, len(m))
	for k, v := range m {
		nk := norm.NFC.String(k)
		if _, dup := normalized[nk]; dup {
			return nil, fmt.Errorf("metadata key %q collides after NFC normalization", k)
		}
		normalized[nk] = norm.NFC.String(v)
		keys = append(keys, nk)
	}
	sort.Slice(keys, func(i, j int) bool {
		return compareUTF16(keys[i], keys[j]) < 0
	})

	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := marshalString(k)
		if err != nil {
			return nil, fmt.Errorf("metadata key %q: %w", k, err)
		}
		vb, err := marshalString(normalized[k])
		if err != nil {
			return nil, fmt.Errorf("metadata value for %q: %w", k, err)
		}
		buf.Write(kb)
		buf.WriteByte(':')
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalMetadata parses metadata JSON written by MarshalMetadata.
// Empty input yields an empty map.
func UnmarshalMetadata(data []byte) (map[string]string, error) {
	m := map[string]string{}
	if len(bytes.TrimSpace(data)) == 0 {
		return m, nil
	}
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("unmarshal metadata: %w", err)
	}
	return m, nil
}

// marshalString encodes a JSON string without HTML escaping.
func marshalString(s string) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(s); err != nil {
		return nil, err
	}
	// json.Encoder appends a newline
	return bytes.TrimSuffix(buf.Bytes(), []byte{'\n'}), nil
}

// compareUTF16 orders strings by UTF-16 code units rather than UTF-8 bytes.
// The two orders differ for characters above U+FFFF versus U+E000-U+FFFF.
func compareUTF16(a, b string) int {
	ua := utf16.Encode([]rune(a))
	ub := utf16.Encode([]rune(b))
	for i := 0; i < len(ua) && i < len(ub); i++ {
		if ua[i] != ub[i] {
			if ua[i] < ub[i] {
				return -1
			}
			return 1
		}
	}
	switch {
	case len(ua) < len(ub):
		return -1
	case len(ua) > len(ub):
		return 1
	default:
		return 0
	}
}
