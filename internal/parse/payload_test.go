package parse

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSONObject(t *testing.T) {
	obj, err := JSONObject([]byte(` {"amount": 50, "seq": 9007199254740993, "OUT_1": "on"} `))
	require.NoError(t, err)
	assert.Equal(t, json.Number("50"), obj["amount"])
	assert.Equal(t, json.Number("9007199254740993"), obj["seq"])
	assert.Equal(t, "on", obj["OUT_1"])

	for _, body := range []string{"", "[1,2]", "\"on\"", "{not json}", `{"a":1} {"b":2}`, "null"} {
		_, err := JSONObject([]byte(body))
		assert.Error(t, err, "body %q", body)
	}
}
