package contracts

// Payload is the structured result of one stage: metric name to value,
// nested maps, or the raw canonical record for Layer 1.
// Values are limited to JSON-compatible types (string, float64, bool, nil,
// []any, map[string]any) so the record serializes with stable keys.
type Payload map[string]any

// Clone returns a deep copy. Readers of RunState always receive clones.
func (p Payload) Clone() Payload {
	if p == nil {
		return nil
	}
	out := make(Payload, len(p))
	for k, v := range p {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case Payload:
		return t.Clone()
	case map[string]any:
		return map[string]any(Payload(t).Clone())
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	case []string:
		return append([]string(nil), t...)
	case []float64:
		return append([]float64(nil), t...)
	default:
		return v
	}
}

// Float reads a numeric value
func (p Payload) Float(key string) (float64, bool) {
	switch v := p[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	default:
		return 0, false
	}
}

// String reads a string value
func (p Payload) String(key string) (string, bool) {
	v, ok := p[key].(string)
	return v, ok
}

// Map reads a nested object
func (p Payload) Map(key string) (Payload, bool) {
	switch v := p[key].(type) {
	case Payload:
		return v, true
	case map[string]any:
		return Payload(v), true
	default:
		return nil, false
	}
}
