package validation

import (
	"encoding/json"
	"strconv"
)

// ExtractFields flattens an OCR response of the form
//
//	{"information": [{"<field>": {"type": "text", "value": ...}, ...}, ...]}
//
// into field -> string value. Only the first page is read. Fields whose type is not
// "text" or whose value is not a string or number are skipped, as is any structural
// mismatch; the result is never nil.
func ExtractFields(resp any) map[string]string {
	out := map[string]string{}
	root, ok := resp.(map[string]any)
	if !ok {
		return out
	}
	pages, ok := root["information"].([]any)
	if !ok || len(pages) == 0 {
		return out
	}
	first, ok := pages[0].(map[string]any)
	if !ok {
		return out
	}
	for name, raw := range first {
		field, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		if typ, _ := field["type"].(string); typ != "text" {
			continue
		}
		if v, ok := scalarText(field["value"]); ok {
			out[name] = v
		}
	}
	return out
}

// scalarText renders strings and numbers; booleans and containers are rejected.
func scalarText(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, true
	case json.Number:
		return t.String(), true
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case int:
		return strconv.Itoa(t), true
	case int64:
		return strconv.FormatInt(t, 10), true
	default:
		return "", false
	}
}

// processingTime returns the numeric processing_time of an OCR response, if any.
func processingTime(resp any) *float64 {
	root, ok := resp.(map[string]any)
	if !ok {
		return nil
	}
	var f float64
	switch t := root["processing_time"].(type) {
	case json.Number:
		v, err := t.Float64()
		if err != nil {
			return nil
		}
		f = v
	case float64:
		f = t
	default:
		return nil
	}
	return &f
}
