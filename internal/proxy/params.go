package proxy

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Params are the inbound parameters of one operation, decoded from a form or
// a JSON body.
type Params map[string]any

// selectorKeys route a proxied call and are never forwarded upstream.
var selectorKeys = []string{"id", "apiId", "endpoint", "method", "origin", "content"}

// String returns the first of keys that holds a non-empty value.
func (p Params) String(keys ...string) (string, bool) {
	for _, k := range keys {
		v, ok := p[k]
		if !ok || v == nil {
			continue
		}
		var s string
		switch t := v.(type) {
		case string:
			s = t
		case json.Number:
			s = t.String()
		default:
			s = fmt.Sprint(t)
		}
		if s = strings.TrimSpace(s); s != "" {
			return s, true
		}
	}
	return "", false
}

// Forwarded returns a copy of p without selector keys.
func (p Params) Forwarded() map[string]any {
	out := make(map[string]any, len(p))
	for k, v := range p {
		out[k] = v
	}
	for _, k := range selectorKeys {
		delete(out, k)
	}
	return out
}
