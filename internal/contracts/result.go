package contracts

import "time"

// ErrorKind classifies a stage or run failure
type ErrorKind string

const (
	ErrKindValidation  ErrorKind = "ValidationError"
	ErrKindRateLimited ErrorKind = "RateLimited"
	ErrKindProvider    ErrorKind = "ProviderError"
	ErrKindCalculation ErrorKind = "CalculationError"
	ErrKindTimeout     ErrorKind = "Timeout"
	ErrKindDuplicate   ErrorKind = "DuplicateWrite"
	ErrKindNotReady    ErrorKind = "NotReady"
	ErrKindInternal    ErrorKind = "Internal"
)

// StageLocal reports whether the failure is recorded without aborting siblings
func (k ErrorKind) StageLocal() bool {
	switch k {
	case ErrKindProvider, ErrKindCalculation, ErrKindTimeout:
		return true
	default:
		return false
	}
}

// Outcome is the tag of a StageResult
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
)

// StageResult is the tagged outcome of one stage invocation:
// Success(payload, elapsed) or Failure(kind, message)
type StageResult struct {
	Stage     StageName     `json:"stage"`
	Group     GroupName     `json:"group"`
	Outcome   Outcome       `json:"outcome"`
	Payload   Payload       `json:"payload,omitempty"`
	ErrorKind ErrorKind     `json:"error_kind,omitempty"`
	Message   string        `json:"message,omitempty"`
	Elapsed   time.Duration `json:"elapsed_ns"`
}

// Success builds a successful result
func Success(stage StageName, group GroupName, payload Payload, elapsed time.Duration) StageResult {
	return StageResult{
		Stage:   stage,
		Group:   group,
		Outcome: OutcomeSuccess,
		Payload: payload,
		Elapsed: elapsed,
	}
}

// Failure builds a failed result
func Failure(stage StageName, group GroupName, kind ErrorKind, message string, elapsed time.Duration) StageResult {
	return StageResult{
		Stage:     stage,
		Group:     group,
		Outcome:   OutcomeFailure,
		ErrorKind: kind,
		Message:   message,
		Elapsed:   elapsed,
	}
}

// OK reports whether the result is a Success
func (r StageResult) OK() bool {
	return r.Outcome == OutcomeSuccess
}

// Clone returns a copy whose payload may be mutated freely
func (r StageResult) Clone() StageResult {
	r.Payload = r.Payload.Clone()
	return r
}
