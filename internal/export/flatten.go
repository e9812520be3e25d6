package export

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/koltyakov/wazuhproxy/internal/domain"
)

// Cell renders one JSON value as a CSV cell. Objects become compact JSON,
// arrays a JSON array of their stringified elements, null an empty cell.
func Cell(v any) (string, error) {
	switch t := v.(type) {
	case nil:
		return "", nil
	case []any:
		elems := make([]string, len(t))
		for i, el := range t {
			s, err := Cell(el)
			if err != nil {
				return "", err
			}
			elems[i] = s
		}
		return marshalCompact(elems)
	default:
		return scalarOrObject(v)
	}
}

func scalarOrObject(v any) (string, error) {
	switch t := v.(type) {
	case string:
		return t, nil
	case json.Number:
		return t.String(), nil
	case bool:
		return strconv.FormatBool(t), nil
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), nil
	case int:
		return strconv.Itoa(t), nil
	case map[string]any:
		return marshalCompact(t)
	default:
		return "", fmt.Errorf("%w: cannot flatten %T", domain.ErrSerialization, v)
	}
}

func marshalCompact(v any) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrSerialization, err)
	}
	return string(bytes.TrimRight(buf.Bytes(), "\n")), nil
}

// firstItemKeys returns the keys of data.items[0] in document order.
func firstItemKeys(raw []byte) ([]string, error) {
	var doc struct {
		Data struct {
			Items []json.RawMessage `json:"items"`
		} `json:"data"`
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrSerialization, err)
	}
	if len(doc.Data.Items) == 0 {
		return nil, nil
	}
	return objectKeys(doc.Data.Items[0])
}

func objectKeys(raw json.RawMessage) ([]string, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	tok, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrSerialization, err)
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, fmt.Errorf("%w: first row is not an object", domain.ErrSerialization)
	}
	var keys []string
	seen := make(map[string]struct{})
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrSerialization, err)
		}
		key, _ := tok.(string)
		var skip json.RawMessage
		if err := dec.Decode(&skip); err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrSerialization, err)
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		keys = append(keys, key)
	}
	return keys, nil
}
