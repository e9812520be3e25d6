package server

import (
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/koltyakov/wazuhproxy/internal/domain"
	"github.com/koltyakov/wazuhproxy/internal/proxy"
)

// readParams decodes the operation parameters from the query string and
// either a JSON object body or a form body. Numbers in JSON bodies keep
// their literal form.
func readParams(w http.ResponseWriter, r *http.Request, maxBytes int64) (proxy.Params, error) {
	p := proxy.Params{}
	for k, v := range r.URL.Query() {
		if len(v) > 0 {
			p[k] = v[0]
		}
	}
	if r.Body == nil || r.Method == http.MethodGet {
		return p, nil
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
	defer func() { _ = r.Body.Close() }()

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/json" {
		body := map[string]any{}
		if err := decodeJSONBody(r.Body, &body); err != nil {
			return nil, err
		}
		for k, v := range body {
			p[k] = v
		}
		return p, nil
	}

	if err := r.ParseForm(); err != nil {
		return nil, domain.Missing("Invalid request body.")
	}
	for k, v := range r.PostForm {
		if len(v) > 0 {
			p[k] = v[0]
		}
	}
	return p, nil
}

func decodeJSONBody(r io.Reader, dst any) error {
	dec := json.NewDecoder(r)
	dec.UseNumber()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return domain.Missing("Request body too large.")
		}
		return domain.Missing("Request body must be a JSON object.")
	}
	var extra any
	if err := dec.Decode(&extra); err != io.EOF {
		return domain.Missing("Request body must contain a single JSON object.")
	}
	return nil
}

// filtersParam accepts filters as a JSON object or as its string encoding,
// which is how form posts carry it.
func filtersParam(v any) (map[string]any, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case map[string]any:
		return t, nil
	case string:
		if strings.TrimSpace(t) == "" {
			return nil, nil
		}
		out := map[string]any{}
		if err := decodeJSONBody(strings.NewReader(t), &out); err != nil {
			return nil, domain.Missing("Invalid filters.")
		}
		return out, nil
	default:
		return nil, domain.Missing("Invalid filters.")
	}
}
