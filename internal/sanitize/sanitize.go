// Package sanitize masks secrets in upstream response envelopes before they
// reach the dashboard.
package sanitize

import "github.com/koltyakov/wazuhproxy/internal/domain"

// Mask replaces every redacted value.
const Mask = "********"

// Envelope returns a copy of env with sensitive fields in Data masked. The
// input is never modified. Applying Envelope twice yields the same result as
// applying it once.
func Envelope(env domain.Envelope) domain.Envelope {
	out := env
	out.Data = deepCopy(env.Data)
	data, ok := out.Data.(map[string]any)
	if !ok {
		return out
	}

	// agent key
	if _, ok := data["internal_key"]; ok {
		data["internal_key"] = Mask
	}
	// cluster key as reported by the cluster config endpoint
	if _, ok := data["node_type"]; ok {
		if _, ok := data["key"]; ok {
			data["key"] = Mask
		}
	}
	// cluster key nested in the manager configuration
	if cluster, ok := data["cluster"].(map[string]any); ok {
		_, hasType := cluster["node_type"]
		_, hasKey := cluster["key"]
		if hasType && hasKey {
			cluster["key"] = Mask
		}
	}
	if wmodules, ok := data["wmodules"].([]any); ok {
		for _, wm := range wmodules {
			mod, ok := wm.(map[string]any)
			if !ok {
				continue
			}
			aws, ok := mod["aws-s3"].(map[string]any)
			if !ok {
				continue
			}
			maskEach(aws["buckets"], "access_key", "secret_key")
			maskEach(aws["services"], "access_key", "secret_key")
		}
	}
	maskEach(data["integration"], "api_key")

	return out
}

// maskEach sets every key on every object element of list.
func maskEach(list any, keys ...string) {
	items, ok := list.([]any)
	if !ok {
		return
	}
	for _, item := range items {
		obj, ok := item.(map[string]any)
		if !ok {
			continue
		}
		for _, k := range keys {
			obj[k] = Mask
		}
	}
}

func deepCopy(v any) any {
	switch t := v.(type) {
	case map[string]any:
		m := make(map[string]any, len(t))
		for k, val := range t {
			m[k] = deepCopy(val)
		}
		return m
	case []any:
		s := make([]any, len(t))
		for i, val := range t {
			s[i] = deepCopy(val)
		}
		return s
	default:
		return v
	}
}
