package store

import (
	"bytes"
	"encoding/json"
)

// splitJSONAppend validates a JSON-mode request body and splits it into the
// individual messages to frame. A top-level array is flattened exactly one
// level: each element becomes one message. Any other JSON value is a single
// message. Empty arrays are rejected on append but allowed for the initial
// PUT body.
func splitJSONAppend(data []byte, allowEmptyArray bool) ([][]byte, error) {
	if !json.Valid(data) {
		return nil, ErrInvalidJSON
	}

	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var arr []json.RawMessage
		if err := json.Unmarshal(trimmed, &arr); err != nil {
			return nil, ErrInvalidJSON
		}
		if len(arr) == 0 {
			if !allowEmptyArray {
				return nil, ErrEmptyJSONArray
			}
			return nil, nil
		}
		out := make([][]byte, len(arr))
		for i, elem := range arr {
			out[i] = []byte(elem)
		}
		return out, nil
	}

	return [][]byte{trimmed}, nil
}
