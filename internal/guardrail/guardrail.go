package guardrail

import (
	"github.com/go-playground/validator/v10"

	"github.com/wonny/aegis-analytics/pkg/logger"
)

// Guardrail applies a Policy. Safe for concurrent use; the only mutable
// state is the limiter's counters.
type Guardrail struct {
	policy   Policy
	limiter  Limiter
	validate *validator.Validate
	log      *logger.Logger
}

// New creates a guardrail. A nil limiter gets an in-process MemoryLimiter.
func New(policy Policy, limiter Limiter, log *logger.Logger) (*Guardrail, error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	if limiter == nil {
		limiter = NewMemoryLimiter(policy.RateLimit, policy.RateWindow)
	}
	if log == nil {
		log = logger.Nop()
	}

	return &Guardrail{
		policy:   policy,
		limiter:  limiter,
		validate: newValidator(),
		log:      log,
	}, nil
}

// Policy returns a copy of the active policy
func (g *Guardrail) Policy() Policy {
	return g.policy
}
