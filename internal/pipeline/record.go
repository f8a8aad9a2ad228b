package pipeline

import (
	"time"

	"github.com/wonny/aegis-analytics/internal/contracts"
	"github.com/wonny/aegis-analytics/internal/guardrail"
)

// LayerTiming is the wall time spent in one group
type LayerTiming struct {
	Group   contracts.GroupName `json:"group"`
	Mode    Mode                `json:"mode"`
	Elapsed time.Duration       `json:"elapsed_ns"`
}

// RunRecord is the durable artifact of one execution. It is created at run
// start, finalized exactly once, and immutable afterwards.
type RunRecord struct {
	RunID       string                  `json:"run_id"`
	Pipeline    string                  `json:"pipeline"`
	Ticker      string                  `json:"ticker"`
	StartTime   time.Time               `json:"start_time"`
	EndTime     time.Time               `json:"end_time"`
	Inputs      contracts.Payload       `json:"inputs"`
	Results     []contracts.StageResult `json:"results"`
	Skipped     []contracts.StageName   `json:"skipped,omitempty"`
	Output      contracts.Payload       `json:"output"`
	Status      State                   `json:"status"`
	Denial      *guardrail.Decision     `json:"denial,omitempty"`
	Error       *RunError               `json:"error,omitempty"`
	Layers      []LayerTiming           `json:"layers"`
	Transitions []Transition            `json:"transitions"`
	PolicyHash  string                  `json:"policy_hash,omitempty"`

	finalized bool
}

func newRunRecord(runID, pipeline string, req contracts.Request, start time.Time) *RunRecord {
	return &RunRecord{
		RunID:     runID,
		Pipeline:  pipeline,
		Ticker:    req.Ticker,
		StartTime: start,
		Inputs:    req.Payload(),
		Status:    StateCreated,
	}
}

func (r *RunRecord) appendResult(res contracts.StageResult) error {
	if r.finalized {
		return ErrAlreadyFinalized
	}
	r.Results = append(r.Results, res)
	return nil
}

func (r *RunRecord) appendSkipped(names ...contracts.StageName) {
	if r.finalized {
		return
	}
	r.Skipped = append(r.Skipped, names...)
}

// Finalize seals the record. A second call returns ErrAlreadyFinalized.
func (r *RunRecord) Finalize(status State, output contracts.Payload, end time.Time) error {
	if r.finalized {
		return ErrAlreadyFinalized
	}
	r.Status = status
	r.Output = output
	r.EndTime = end
	r.finalized = true
	return nil
}

// Finalized reports whether Finalize has been called
func (r *RunRecord) Finalized() bool {
	return r.finalized
}

// Result returns the recorded result for a stage
func (r *RunRecord) Result(name contracts.StageName) (contracts.StageResult, bool) {
	for _, res := range r.Results {
		if res.Stage == name {
			return res, true
		}
	}
	return contracts.StageResult{}, false
}

// GroupResults returns the recorded results of one group in declared order
func (r *RunRecord) GroupResults(group contracts.GroupName) []contracts.StageResult {
	var out []contracts.StageResult
	for _, res := range r.Results {
		if res.Group == group {
			out = append(out, res)
		}
	}
	return out
}

// Duration is EndTime - StartTime
func (r *RunRecord) Duration() time.Duration {
	return r.EndTime.Sub(r.StartTime)
}
