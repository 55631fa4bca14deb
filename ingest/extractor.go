package ingest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Envelope fields carry message metadata, not sensor values, and are never
// extracted. Matching is case-insensitive.
var envelopeFields = map[string]struct{}{
	"timestamp": {},
	"clientid":  {},
	"messageid": {},
}

// ExtractFields walks a schema-less JSON payload and returns a mapping of
// lower-cased field name to best-guess value: int64 for whole numbers,
// float64 otherwise, bool, string, and json.RawMessage for nested objects
// and arrays. Null fields are dropped entirely, as is any field whose
// decoding fails; the rest of the payload is unaffected.
//
// The extractor is pure: no I/O, no logging, no device resolution.
func ExtractFields(payload []byte) (map[string]interface{}, error) {
	var root map[string]json.RawMessage
	if err := json.Unmarshal(payload, &root); err != nil {
		return nil, fmt.Errorf("failed to parse payload: %w", err)
	}

	fields := make(map[string]interface{}, len(root))
	for name, raw := range root {
		lower := strings.ToLower(name)
		if _, skip := envelopeFields[lower]; skip {
			continue
		}

		value, ok, err := decodeFieldValue(raw)
		if err != nil {
			continue
		}
		if !ok {
			// Explicit null is never stored as a reading
			continue
		}
		fields[lower] = value
	}

	return fields, nil
}

// decodeFieldValue infers the best scalar representation of one JSON value.
// ok is false for null.
func decodeFieldValue(raw json.RawMessage) (interface{}, bool, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, false, fmt.Errorf("empty value")
	}

	switch trimmed[0] {
	case '{', '[':
		// Nested structures keep their raw serialized text for json storage
		return json.RawMessage(trimmed), true, nil
	case 'n':
		return nil, false, nil
	}

	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()
	var value interface{}
	if err := dec.Decode(&value); err != nil {
		return nil, false, err
	}

	switch v := value.(type) {
	case json.Number:
		if i, err := v.Int64(); err == nil {
			return i, true, nil
		}
		f, err := v.Float64()
		if err != nil {
			return nil, false, err
		}
		return f, true, nil
	case bool:
		return v, true, nil
	case string:
		return v, true, nil
	case nil:
		return nil, false, nil
	default:
		return json.RawMessage(trimmed), true, nil
	}
}
