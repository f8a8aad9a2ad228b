package guardrail

import (
	"encoding/json"
	"strings"

	"github.com/wonny/aegis-analytics/internal/contracts"
)

// Redacted replaces the value of a sensitive key
const Redacted = "[REDACTED]"

// internalKeys are stripped at every depth
var internalKeys = map[string]bool{
	"stack":       true,
	"stack_trace": true,
	"stacktrace":  true,
	"traceback":   true,
	"info":        true, // provider 원본 필드
}

// FilterOutput applies the allow-list, redaction and size cap to a payload
// leaving the system. Keys not on the allow-list are dropped; an empty list
// lets nothing through. The input is never modified.
func (g *Guardrail) FilterOutput(payload contracts.Payload) contracts.Payload {
	if payload == nil {
		return contracts.Payload{}
	}

	allowed := make(map[string]bool, len(g.policy.OutputAllowList))
	for _, k := range g.policy.OutputAllowList {
		allowed[k] = true
	}

	out := make(contracts.Payload, len(payload))
	dropped := 0
	for k, v := range payload {
		if !allowed[k] {
			dropped++
			continue
		}
		if g.isInternal(k) {
			dropped++
			continue
		}
		if g.isSensitive(k) {
			out[k] = Redacted
			continue
		}
		out[k] = g.filterValue(v)
	}

	if dropped > 0 {
		g.log.WithField("dropped_keys", dropped).Debug("Output keys removed by allow-list")
	}

	data, err := json.Marshal(out)
	if err != nil {
		g.log.WithError(err).Error("Filtered output is not serializable")
		return contracts.Payload{"error": "Output not serializable"}
	}
	if len(data) > g.policy.MaxOutputBytes {
		g.log.WithFields(map[string]interface{}{
			"size":  len(data),
			"limit": g.policy.MaxOutputBytes,
		}).Warn("Output size exceeds limit")
		return contracts.Payload{
			"error":    "Output size exceeded",
			"max_size": float64(g.policy.MaxOutputBytes),
		}
	}

	return out
}

func (g *Guardrail) filterValue(v any) any {
	switch t := v.(type) {
	case contracts.Payload:
		return map[string]any(g.filterMap(t))
	case map[string]any:
		return map[string]any(g.filterMap(t))
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = g.filterValue(e)
		}
		return out
	default:
		return v
	}
}

func (g *Guardrail) filterMap(m map[string]any) contracts.Payload {
	out := make(contracts.Payload, len(m))
	for k, v := range m {
		switch {
		case g.isInternal(k):
			continue
		case g.isSensitive(k):
			out[k] = Redacted
		default:
			out[k] = g.filterValue(v)
		}
	}
	return out
}

func (g *Guardrail) isInternal(key string) bool {
	return strings.HasPrefix(key, "_") || internalKeys[strings.ToLower(key)]
}

func (g *Guardrail) isSensitive(key string) bool {
	lower := strings.ToLower(key)
	for _, s := range g.policy.SensitiveKeys {
		if strings.Contains(lower, s) {
			return true
		}
	}
	return false
}
