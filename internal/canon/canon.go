// cc4me - federated e2e encrypted messaging fabric for autonomous agents
// Copyright (C) 2026 cc4me-project
//
// This file is part of cc4me.
//
// cc4me is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// cc4me is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with cc4me. If not, see <https://www.gnu.org/licenses/>.

// Package canon implements the deterministic JSON encoding used as
// signing input throughout the fabric: object keys in ascending Unicode
// codepoint order at every depth, no insignificant whitespace, array
// order preserved.
package canon

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"
)

// ErrInvalidValue is returned for cyclic references and non-finite numbers,
// the two cases the JSON value domain cannot represent canonically.
var ErrInvalidValue = fmt.Errorf("canon: invalid value")

// Marshal produces the canonical byte-exact encoding of v. v must already
// be a plain JSON-ish value: map[string]interface{}, []interface{},
// string, float64/int/json.Number, bool, or nil — the shape you get back
// from json.Unmarshal into interface{}, or a struct/value accepted by
// encoding/json (it is round-tripped through json.Marshal/Unmarshal first
// so struct tags are honored).
func Marshal(v interface{}) ([]byte, error) {
	normalized, err := normalize(v)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, 0, 256)
	buf, err = encodeValue(buf, normalized, map[interface{}]bool{})
	if err != nil {
		return nil, err
	}
	return buf, nil
}

// normalize routes typed Go values through encoding/json so struct tags,
// pointers, and custom Marshalers behave the way callers expect, then
// decodes back into the plain interface{} shape encodeValue understands.
func normalize(v interface{}) (interface{}, error) {
	switch v.(type) {
	case map[string]interface{}, []interface{}, string, bool, nil,
		float64, int, int32, int64, uint, uint32, uint64, json.Number:
		return v, nil
	}

	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canon: %w", ErrInvalidValue)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var out interface{}
	if err := dec.Decode(&out); err != nil {
		return nil, fmt.Errorf("canon: %w", ErrInvalidValue)
	}
	return out, nil
}

func encodeValue(buf []byte, v interface{}, seen map[interface{}]bool) ([]byte, error) {
	switch val := v.(type) {
	case nil:
		return append(buf, "null"...), nil
	case bool:
		if val {
			return append(buf, "true"...), nil
		}
		return append(buf, "false"...), nil
	case string:
		return appendQuotedString(buf, val), nil
	case json.Number:
		return encodeNumberString(buf, string(val))
	case float64:
		if math.IsNaN(val) || math.IsInf(val, 0) {
			return nil, ErrInvalidValue
		}
		return encodeNumberString(buf, strconv.FormatFloat(val, 'g', -1, 64))
	case int:
		return strconv.AppendInt(buf, int64(val), 10), nil
	case int32:
		return strconv.AppendInt(buf, int64(val), 10), nil
	case int64:
		return strconv.AppendInt(buf, val, 10), nil
	case uint:
		return strconv.AppendUint(buf, uint64(val), 10), nil
	case uint32:
		return strconv.AppendUint(buf, uint64(val), 10), nil
	case uint64:
		return strconv.AppendUint(buf, val, 10), nil
	case map[string]interface{}:
		if seen[pointerKey(val)] {
			return nil, ErrInvalidValue
		}
		seen = withMark(seen, pointerKey(val))
		return encodeObject(buf, val, seen)
	case []interface{}:
		if seen[pointerKey(val)] {
			return nil, ErrInvalidValue
		}
		seen = withMark(seen, pointerKey(val))
		return encodeArray(buf, val, seen)
	default:
		return nil, fmt.Errorf("canon: unsupported value type %T: %w", v, ErrInvalidValue)
	}
}

func encodeObject(buf []byte, obj map[string]interface{}, seen map[interface{}]bool) ([]byte, error) {
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	buf = append(buf, '{')
	var err error
	for i, k := range keys {
		if i > 0 {
			buf = append(buf, ',')
		}
		buf = appendQuotedString(buf, k)
		buf = append(buf, ':')
		buf, err = encodeValue(buf, obj[k], seen)
		if err != nil {
			return nil, err
		}
	}
	buf = append(buf, '}')
	return buf, nil
}

func encodeArray(buf []byte, arr []interface{}, seen map[interface{}]bool) ([]byte, error) {
	buf = append(buf, '[')
	var err error
	for i, v := range arr {
		if i > 0 {
			buf = append(buf, ',')
		}
		buf, err = encodeValue(buf, v, seen)
		if err != nil {
			return nil, err
		}
	}
	buf = append(buf, ']')
	return buf, nil
}

// encodeNumberString re-emits a decimal number string in standard JSON
// form: no leading '+', no leading zeros (other than "0" itself), and a
// lowercase exponent marker if present. json.Number/strconv already
// produce this shape except for the '+' Go inserts before positive
// exponents, which JSON forbids, so that one character is stripped.
func encodeNumberString(buf []byte, s string) ([]byte, error) {
	if s == "" {
		return nil, ErrInvalidValue
	}
	s = strings.Replace(s, "E", "e", 1)
	if i := strings.IndexByte(s, 'e'); i >= 0 && i+1 < len(s) && s[i+1] == '+' {
		buf = append(buf, s[:i+1]...)
		return append(buf, s[i+2:]...), nil
	}
	return append(buf, s...), nil
}

// appendQuotedString appends s as a minimally-escaped JSON string.
func appendQuotedString(buf []byte, s string) []byte {
	buf = append(buf, '"')
	for _, r := range s {
		switch r {
		case '"':
			buf = append(buf, '\\', '"')
		case '\\':
			buf = append(buf, '\\', '\\')
		case '\n':
			buf = append(buf, '\\', 'n')
		case '\r':
			buf = append(buf, '\\', 'r')
		case '\t':
			buf = append(buf, '\\', 't')
		default:
			if r < 0x20 {
				buf = append(buf, '\\', 'u')
				const hex = "0123456789abcdef"
				buf = append(buf, '0', '0', hex[(r>>4)&0xf], hex[r&0xf])
			} else {
				buf = appendRune(buf, r)
			}
		}
	}
	buf = append(buf, '"')
	return buf
}

func appendRune(buf []byte, r rune) []byte {
	return utf8.AppendRune(buf, r)
}

// pointerKey returns a stable identity for slices/maps so the cycle
// detector can recognize revisiting the same underlying value.
func pointerKey(v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		return fmt.Sprintf("%p", val)
	case []interface{}:
		return fmt.Sprintf("%p", val)
	default:
		return v
	}
}

func withMark(seen map[interface{}]bool, key interface{}) map[interface{}]bool {
	next := make(map[interface{}]bool, len(seen)+1)
	for k, v := range seen {
		next[k] = v
	}
	next[key] = true
	return next
}
