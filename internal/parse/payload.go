package parse

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrNotObject is returned when a payload decodes to something other than a JSON object.
var ErrNotObject = errors.New("payload is not a JSON object")

// JSONObject decodes a message body into a generic object, keeping numbers
// as json.Number so large sequence numbers survive.
func JSONObject(b []byte) (map[string]any, error) {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || b[0] != '{' {
		return nil, ErrNotObject
	}

	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()

	var obj map[string]any
	if err := dec.Decode(&obj); err != nil {
		return nil, fmt.Errorf("invalid JSON payload: %w", err)
	}
	if dec.More() {
		return nil, errors.New("invalid JSON payload: trailing data")
	}
	return obj, nil
}
