package guardrail

import (
	"errors"
	"fmt"
	"math"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/wonny/aegis-analytics/internal/contracts"
)

// newValidator builds the struct validator with the request-specific tags
func newValidator() *validator.Validate {
	v := validator.New()

	// 에러 필드명을 JSON 이름으로 (config.forecast_years)
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	_ = v.RegisterValidation("ticker", func(fl validator.FieldLevel) bool {
		return contracts.IsValidTicker(fl.Field().String())
	})
	_ = v.RegisterValidation("finite", func(fl validator.FieldLevel) bool {
		f := fl.Field().Float()
		return !math.IsNaN(f) && !math.IsInf(f, 0)
	})

	return v
}

// ValidateInput checks a normalized request and returns Deny on the first violation
func (g *Guardrail) ValidateInput(req contracts.Request) Decision {
	if ve := g.firstViolation(req); ve != nil {
		g.log.WithFields(map[string]interface{}{
			"ticker": req.Ticker,
			"field":  ve.Field,
			"reason": ve.Message,
		}).Warn("Request denied by input validation")
		return DenyValidation(ve)
	}
	return Allow()
}

func (g *Guardrail) firstViolation(req contracts.Request) *ValidationError {
	if err := g.validate.Struct(req); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			return fromFieldError(fieldErrs[0])
		}
		return &ValidationError{Field: "request", Message: err.Error()}
	}

	if g.policy.IsBlocked(req.Ticker) {
		return &ValidationError{Field: "ticker", Message: "ticker is blocked by policy"}
	}

	cfg := req.Config
	if cfg.ForecastYears > g.policy.MaxForecastYears {
		return &ValidationError{
			Field:   "config.forecast_years",
			Message: fmt.Sprintf("must be <= %d", g.policy.MaxForecastYears),
		}
	}
	if cfg.PeriodDays > g.policy.MaxPeriodDays {
		return &ValidationError{
			Field:   "config.period_days",
			Message: fmt.Sprintf("must be <= %d", g.policy.MaxPeriodDays),
		}
	}
	if cfg.TerminalGrowth >= cfg.DiscountRate {
		return &ValidationError{
			Field:   "config.terminal_growth",
			Message: "must be lower than discount_rate",
		}
	}

	bounds := []struct {
		field string
		value float64
	}{
		{"config.period_days", float64(cfg.PeriodDays)},
		{"config.forecast_years", float64(cfg.ForecastYears)},
		{"config.discount_rate", cfg.DiscountRate},
		{"config.terminal_growth", cfg.TerminalGrowth},
		{"config.risk_free_rate", cfg.RiskFreeRate},
	}
	for _, b := range bounds {
		if math.Abs(b.value) > g.policy.MaxNumericMagnitude {
			return &ValidationError{Field: b.field, Message: "numeric value out of bounds"}
		}
	}

	return nil
}

func fromFieldError(fe validator.FieldError) *ValidationError {
	field := fe.Namespace()
	if i := strings.Index(field, "."); i >= 0 {
		field = field[i+1:]
	}

	var msg string
	switch fe.Tag() {
	case "required":
		msg = "is required"
	case "ticker":
		msg = fmt.Sprintf("must match %s", contracts.TickerPattern)
	case "finite":
		msg = "must be a finite number"
	case "oneof":
		msg = fmt.Sprintf("must be one of [%s]", fe.Param())
	case "gte":
		msg = fmt.Sprintf("must be >= %s", fe.Param())
	case "lte":
		msg = fmt.Sprintf("must be <= %s", fe.Param())
	case "max":
		msg = fmt.Sprintf("must be at most %s characters", fe.Param())
	default:
		msg = fmt.Sprintf("failed %s validation", fe.Tag())
	}
	return &ValidationError{Field: field, Message: msg}
}
