// ABOUTME: Byte buffer type with the tagged JSON encoding used in persisted credentials
// ABOUTME: Replacer writes {"type":"Buffer","data":base64}; reviver converts every accepted shape back

package authstate

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
)

const bufferTag = "Buffer"

// maxIndexedLen caps buffers rebuilt from numeric-indexed objects.
const maxIndexedLen = 1 << 16

// Bytes is binary key material. It marshals as a tagged wrapper object.
type Bytes []byte

type taggedBuffer struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// MarshalJSON writes b as {"type":"Buffer","data":"<base64>"}.
func (b Bytes) MarshalJSON() ([]byte, error) {
	if b == nil {
		return []byte("null"), nil
	}
	data, err := json.Marshal(base64.StdEncoding.EncodeToString(b))
	if err != nil {
		return nil, err
	}
	return json.Marshal(taggedBuffer{Type: bufferTag, Data: data})
}

// UnmarshalJSON accepts the tagged wrapper (base64 or numeric array data),
// a bare numeric array, a base64 string, or a numeric-indexed object.
func (b *Bytes) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}

	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		decoded, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return fmt.Errorf("%w: buffer string is not base64: %v", ErrSerializationFault, err)
		}
		*b = decoded
		return nil

	case '[':
		var nums []json.Number
		if err := json.Unmarshal(data, &nums); err != nil {
			return fmt.Errorf("%w: buffer array: %v", ErrSerializationFault, err)
		}
		out, err := bytesFromNumbers(nums)
		if err != nil {
			return err
		}
		*b = out
		return nil

	case '{':
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(data, &obj); err != nil {
			return fmt.Errorf("%w: buffer object: %v", ErrSerializationFault, err)
		}
		if rawType, ok := obj["type"]; ok {
			var typ string
			if err := json.Unmarshal(rawType, &typ); err != nil || typ != bufferTag {
				return fmt.Errorf("%w: unsupported buffer type %s", ErrSerializationFault, rawType)
			}
			var inner Bytes
			if err := inner.UnmarshalJSON(obj["data"]); err != nil {
				return err
			}
			if inner == nil {
				inner = Bytes{}
			}
			*b = inner
			return nil
		}
		out, err := bytesFromIndexed(obj)
		if err != nil {
			return err
		}
		*b = out
		return nil
	}

	return fmt.Errorf("%w: cannot decode buffer from %q", ErrSerializationFault, truncate(data, 32))
}

// bytesFromNumbers converts a list of JSON numbers into bytes, rejecting
// anything outside 0..255.
func bytesFromNumbers(nums []json.Number) (Bytes, error) {
	out := make(Bytes, len(nums))
	for i, n := range nums {
		v, err := strconv.Atoi(n.String())
		if err != nil || v < 0 || v > 255 {
			return nil, fmt.Errorf("%w: buffer element %d out of range: %s", ErrSerializationFault, i, n)
		}
		out[i] = byte(v)
	}
	return out, nil
}

// bytesFromIndexed converts {"0": 1, "1": 2} into bytes. Missing indices are zero.
func bytesFromIndexed(obj map[string]json.RawMessage) (Bytes, error) {
	if len(obj) == 0 {
		return Bytes{}, nil
	}
	maxIndex := -1
	values := make(map[int]json.Number, len(obj))
	for k, raw := range obj {
		idx, err := strconv.Atoi(k)
		if err != nil || idx < 0 {
			return nil, fmt.Errorf("%w: buffer object has non-numeric key %q", ErrSerializationFault, k)
		}
		var n json.Number
		if err := json.Unmarshal(raw, &n); err != nil {
			return nil, fmt.Errorf("%w: buffer object value at %q: %v", ErrSerializationFault, k, err)
		}
		values[idx] = n
		if idx > maxIndex {
			maxIndex = idx
		}
	}
	if maxIndex >= maxIndexedLen {
		return nil, fmt.Errorf("%w: buffer object index %d too large", ErrSerializationFault, maxIndex)
	}
	nums := make([]json.Number, maxIndex+1)
	for i := range nums {
		nums[i] = "0"
		if n, ok := values[i]; ok {
			nums[i] = n
		}
	}
	return bytesFromNumbers(nums)
}

// revive walks a generic JSON tree decoded with UseNumber and replaces every
// buffer-shaped object with Bytes.
func revive(v any) any {
	switch t := v.(type) {
	case map[string]any:
		if b, ok := asBuffer(t); ok {
			return b
		}
		for k, child := range t {
			t[k] = revive(child)
		}
		return t
	case []any:
		for i, child := range t {
			t[i] = revive(child)
		}
		return t
	default:
		return v
	}
}

// asBuffer reports whether m is a tagged wrapper or a numeric-indexed byte object.
func asBuffer(m map[string]any) (Bytes, bool) {
	if typ, ok := m["type"].(string); ok && typ == bufferTag {
		if _, hasData := m["data"]; !hasData {
			return nil, false
		}
		raw, err := json.Marshal(m)
		if err != nil {
			return nil, false
		}
		var b Bytes
		if err := b.UnmarshalJSON(raw); err != nil {
			return nil, false
		}
		return b, true
	}

	if len(m) == 0 {
		return nil, false
	}
	values := make(map[int]byte, len(m))
	maxIndex := -1
	for k, v := range m {
		idx, err := strconv.Atoi(k)
		if err != nil || idx < 0 {
			return nil, false
		}
		n, ok := v.(json.Number)
		if !ok {
			return nil, false
		}
		iv, err := strconv.Atoi(n.String())
		if err != nil || iv < 0 || iv > 255 {
			return nil, false
		}
		values[idx] = byte(iv)
		if idx > maxIndex {
			maxIndex = idx
		}
	}
	if maxIndex >= maxIndexedLen {
		return nil, false
	}
	out := make(Bytes, maxIndex+1)
	for idx, v := range values {
		out[idx] = v
	}
	return out, true
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
