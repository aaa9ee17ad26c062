package ivm

import (
	"encoding/json"
	"strings"
)

// ExtractPointer reads the value at a simple JSON Pointer ("/a/b") out of a
// JSON-shaped row. It returns ok=false if any segment is absent. Supports
// only object traversal (array indices are not needed by this engine's
// index/join key extraction).
func ExtractPointer(row json.RawMessage, pointer string) (json.RawMessage, bool) {
	if pointer == "" || pointer == "/" {
		return row, true
	}
	segs := strings.Split(strings.TrimPrefix(pointer, "/"), "/")
	cur := row
	for _, seg := range segs {
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(cur, &obj); err != nil {
			return nil, false
		}
		v, ok := obj[seg]
		if !ok {
			return nil, false
		}
		cur = v
	}
	return cur, true
}

// ExtractString is a convenience wrapper for the common case of a string
// field, used to derive correlation/index keys.
func ExtractString(row json.RawMessage, pointer string) (string, bool) {
	v, ok := ExtractPointer(row, pointer)
	if !ok {
		return "", false
	}
	var s string
	if err := json.Unmarshal(v, &s); err != nil {
		return string(v), true
	}
	return s, true
}
