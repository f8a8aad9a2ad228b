// Package metrics holds the pure metric functions used by the Layer 2 stages.
// Every function takes a canonical record and returns entries that are either
// a finite value or an explicit "unavailable" marker.
package metrics

import (
	"math"

	"github.com/wonny/aegis-analytics/internal/contracts"
)

// Status of a single metric entry
type Status string

const (
	StatusSuccess     Status = "success"
	StatusUnavailable Status = "unavailable"
)

// Source labels where a value came from
const (
	SourceCalculated  = "calculated"
	SourcePrecomputed = "provider.precomputed"
	SourcePriceSeries = "calculated.price_history"
	SourceComposite   = "calculated.composite"
)

// Metric is one computed figure
type Metric struct {
	Name           string
	Status         Status
	Value          float64
	Unit           string
	Formula        string
	Source         string
	Interpretation string
	Reason         string // unavailable 사유
}

// OK reports whether the metric carries a value
func (m Metric) OK() bool {
	return m.Status == StatusSuccess
}

// Map converts the metric to its payload form
func (m Metric) Map() map[string]any {
	if !m.OK() {
		return map[string]any{
			"status": string(StatusUnavailable),
			"value":  nil,
			"reason": m.Reason,
		}
	}
	return map[string]any{
		"status":         string(StatusSuccess),
		"value":          m.Value,
		"unit":           m.Unit,
		"formula":        m.Formula,
		"source":         m.Source,
		"interpretation": m.Interpretation,
	}
}

// success builds a metric, downgrading non-finite values to unavailable
func success(name string, value float64, unit, formula, source, interpretation string) Metric {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return unavailable(name, "result is not a finite number")
	}
	return Metric{
		Name:           name,
		Status:         StatusSuccess,
		Value:          round2(value),
		Unit:           unit,
		Formula:        formula,
		Source:         source,
		Interpretation: interpretation,
	}
}

func unavailable(name, reason string) Metric {
	return Metric{Name: name, Status: StatusUnavailable, Reason: reason}
}

// Section is a named, ordered group of metrics
type Section struct {
	Name    string
	Metrics []Metric
}

// Get returns a metric by name
func (s Section) Get(name string) (Metric, bool) {
	for _, m := range s.Metrics {
		if m.Name == name {
			return m, true
		}
	}
	return Metric{}, false
}

// Map converts the section to its payload form
func (s Section) Map() map[string]any {
	out := make(map[string]any, len(s.Metrics))
	for _, m := range s.Metrics {
		out[m.Name] = m.Map()
	}
	return out
}

// Counts returns (calculated, successful)
func Counts(sections ...Section) (int, int) {
	var total, ok int
	for _, s := range sections {
		for _, m := range s.Metrics {
			total++
			if m.OK() {
				ok++
			}
		}
	}
	return total, ok
}

// sectionsPayload lays sections out side by side with the metric counts
func sectionsPayload(sections ...Section) contracts.Payload {
	p := make(contracts.Payload, len(sections)+2)
	for _, s := range sections {
		p[s.Name] = s.Map()
	}
	total, ok := Counts(sections...)
	p["metrics_calculated"] = float64(total)
	p["metrics_successful"] = float64(ok)
	return p
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// val dereferences an optional statement field
func val(p *float64) (float64, bool) {
	if p == nil || math.IsNaN(*p) || math.IsInf(*p, 0) {
		return 0, false
	}
	return *p, true
}

// positive dereferences a field that must be > 0 to be used as a divisor
func positive(p *float64) (float64, bool) {
	v, ok := val(p)
	return v, ok && v > 0
}
