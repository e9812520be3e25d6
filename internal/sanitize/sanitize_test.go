package sanitize

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koltyakov/wazuhproxy/internal/domain"
)

func decodeEnvelope(t *testing.T, raw string) domain.Envelope {
	t.Helper()
	var env domain.Envelope
	require.NoError(t, json.Unmarshal([]byte(raw), &env))
	return env
}

func TestEnvelopeMasksAgentKey(t *testing.T) {
	t.Parallel()

	env := decodeEnvelope(t, `{"error":0,"data":{"id":"001","internal_key":"abc"}}`)
	out := Envelope(env)

	data, ok := out.DataMap()
	require.True(t, ok)
	assert.Equal(t, Mask, data["internal_key"])
	assert.Equal(t, "001", data["id"])

	orig, _ := env.DataMap()
	assert.Equal(t, "abc", orig["internal_key"], "input must not be modified")
}

func TestEnvelopeClusterKeys(t *testing.T) {
	t.Parallel()

	out := Envelope(decodeEnvelope(t, `{"error":0,"data":{"node_type":"master","key":"k1"}}`))
	data, _ := out.DataMap()
	assert.Equal(t, Mask, data["key"])

	out = Envelope(decodeEnvelope(t, `{"error":0,"data":{"key":"k1"}}`))
	data, _ = out.DataMap()
	assert.Equal(t, "k1", data["key"], "key without node_type is left alone")

	out = Envelope(decodeEnvelope(t, `{"error":0,"data":{"cluster":{"node_type":"worker","key":"k2"}}}`))
	data, _ = out.DataMap()
	assert.Equal(t, Mask, data["cluster"].(map[string]any)["key"])

	out = Envelope(decodeEnvelope(t, `{"error":0,"data":{"cluster":{"key":"k2"}}}`))
	data, _ = out.DataMap()
	assert.Equal(t, "k2", data["cluster"].(map[string]any)["key"])
}

func TestEnvelopeMasksAWSAndIntegrationKeys(t *testing.T) {
	t.Parallel()

	raw := `{"error":0,"data":{
		"wmodules":[
			{"syscollector":{"disabled":"no"}},
			{"aws-s3":{
				"buckets":[{"name":"b","access_key":"A","secret_key":"S"}],
				"services":[{"type":"inspector","access_key":"A2","secret_key":"S2"}]
			}}
		],
		"integration":[{"name":"slack","api_key":"x"},{"name":"pagerduty"}]
	}}`
	out := Envelope(decodeEnvelope(t, raw))
	data, _ := out.DataMap()

	aws := data["wmodules"].([]any)[1].(map[string]any)["aws-s3"].(map[string]any)
	bucket := aws["buckets"].([]any)[0].(map[string]any)
	assert.Equal(t, Mask, bucket["access_key"])
	assert.Equal(t, Mask, bucket["secret_key"])
	assert.Equal(t, "b", bucket["name"])
	service := aws["services"].([]any)[0].(map[string]any)
	assert.Equal(t, Mask, service["secret_key"])

	integrations := data["integration"].([]any)
	assert.Equal(t, Mask, integrations[0].(map[string]any)["api_key"])
	assert.Equal(t, Mask, integrations[1].(map[string]any)["api_key"])
}

func TestEnvelopeSkipsMistypedSegments(t *testing.T) {
	t.Parallel()

	raw := `{"error":0,"data":{"wmodules":"oops","integration":{"api_key":"x"},"cluster":"c"}}`
	env := decodeEnvelope(t, raw)
	out := Envelope(env)
	assert.Equal(t, env, out)

	list := domain.Envelope{Data: []any{"a", "b"}}
	assert.Equal(t, list, Envelope(list))

	empty := domain.Envelope{Error: 1000, Message: "bad"}
	assert.Equal(t, empty, Envelope(empty))
}

func TestEnvelopeIsIdempotent(t *testing.T) {
	t.Parallel()

	raw := `{"error":0,"data":{"internal_key":"abc","node_type":"master","key":"k",
		"integration":[{"api_key":"x"}]}}`
	once := Envelope(decodeEnvelope(t, raw))
	twice := Envelope(once)
	assert.Equal(t, once, twice)
}
