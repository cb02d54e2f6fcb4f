package domain

import "time"

// Payload is an arbitrary mapping of string keys to JSON-shaped values:
// string, float64, bool, nil, []any, or a nested map[string]any. Decoding
// through encoding/json guarantees that shape; producers constructing a
// Payload in-process may additionally put time.Time values in it, which
// NormalizePayload canonicalizes before the event is serialized.
type Payload map[string]any

// NormalizePayload walks a payload recursively and converts every time.Time
// to its RFC 3339 textual form. The stored representation therefore never
// depends on the producer's value types.
func NormalizePayload(p Payload) Payload {
	if p == nil {
		return nil
	}
	out := make(Payload, len(p))
	for k, v := range p {
		out[k] = normalizeValue(v)
	}
	return out
}

func normalizeValue(v any) any {
	switch val := v.(type) {
	case time.Time:
		return val.Format(time.RFC3339Nano)
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, inner := range val {
			out[k] = normalizeValue(inner)
		}
		return out
	case Payload:
		return map[string]any(NormalizePayload(val))
	case []any:
		out := make([]any, len(val))
		for i, inner := range val {
			out[i] = normalizeValue(inner)
		}
		return out
	default:
		return v
	}
}
