package guardrail

import (
	"fmt"

	"github.com/wonny/aegis-analytics/internal/contracts"
)

// Deny reasons
const (
	ReasonRateLimited        = "rate_limited"
	ReasonLimiterUnavailable = "rate_limiter_unavailable"
)

// Decision is the outcome of a guardrail check: Allow or Deny(reason)
type Decision struct {
	Allowed bool                `json:"allowed"`
	Kind    contracts.ErrorKind `json:"kind,omitempty"`
	Reason  string              `json:"reason,omitempty"`
	Field   string              `json:"field,omitempty"`
}

// Allow returns an allowing decision
func Allow() Decision {
	return Decision{Allowed: true}
}

// Deny returns a denying decision
func Deny(kind contracts.ErrorKind, reason string) Decision {
	return Decision{Kind: kind, Reason: reason}
}

// DenyValidation returns a denial for a ValidationError
func DenyValidation(ve *ValidationError) Decision {
	return Decision{
		Kind:   contracts.ErrKindValidation,
		Reason: ve.Error(),
		Field:  ve.Field,
	}
}

// String renders the decision for logs
func (d Decision) String() string {
	if d.Allowed {
		return "allow"
	}
	return fmt.Sprintf("deny(%s: %s)", d.Kind, d.Reason)
}

// ValidationError is the first violation found in a request
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}
