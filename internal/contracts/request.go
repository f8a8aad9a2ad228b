package contracts

import (
	"bytes"
	"encoding/json"
)

// Request is the inbound analysis request
// ⭐ SSOT: API, CLI, Scheduler 모두 이 구조체로 파이프라인 진입
type Request struct {
	Ticker   string    `json:"ticker" validate:"required,ticker"`
	CallerID string    `json:"caller_id,omitempty" validate:"omitempty,max=64,printascii"`
	Config   RunConfig `json:"config"`
}

// RunConfig holds the bounded numeric parameters of one run
type RunConfig struct {
	Period         string  `json:"period" validate:"required,oneof=1mo 3mo 6mo 1y 2y 5y"`
	PeriodDays     int     `json:"period_days,omitempty" validate:"gte=0"`
	ForecastYears  int     `json:"forecast_years" validate:"required,gte=1"`
	DiscountRate   float64 `json:"discount_rate" validate:"finite,gte=0,lte=1"`
	TerminalGrowth float64 `json:"terminal_growth" validate:"finite,gte=0,lte=1"`
	RiskFreeRate   float64 `json:"risk_free_rate" validate:"finite,gte=0,lte=1"`
}

// Default parameters for fields a caller leaves out
const (
	DefaultPeriod         = "1y"
	DefaultForecastYears  = 5
	DefaultDiscountRate   = 0.10
	DefaultTerminalGrowth = 0.025
	DefaultRiskFreeRate   = 0.04
	AnonymousCaller       = "anonymous"
)

// periodDays maps the supported lookback periods to trading days
var periodDays = map[string]int{
	"1mo": 21,
	"3mo": 63,
	"6mo": 126,
	"1y":  252,
	"2y":  504,
	"5y":  1260,
}

// PeriodTradingDays returns the trading-day count for a period, 0 if unknown
func PeriodTradingDays(period string) int {
	return periodDays[period]
}

// NewRunConfig returns a config for period and horizon with the default rates
func NewRunConfig(period string, forecastYears int) RunConfig {
	return RunConfig{
		Period:         period,
		ForecastYears:  forecastYears,
		DiscountRate:   DefaultDiscountRate,
		TerminalGrowth: DefaultTerminalGrowth,
		RiskFreeRate:   DefaultRiskFreeRate,
	}
}

// UnmarshalJSON fills the rate defaults only for keys absent from data;
// an explicit 0 (e.g. zero terminal growth) is kept. Unknown keys are rejected.
func (c *RunConfig) UnmarshalJSON(data []byte) error {
	type plain RunConfig
	p := plain(NewRunConfig("", 0))

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&p); err != nil {
		return err
	}
	*c = RunConfig(p)
	return nil
}

// Normalized returns a copy with the ticker normalized and derived fields filled.
// Period, ForecastYears and the rates are never defaulted here: a zero rate is a
// valid request, and an empty config is rejected by validation.
func (r Request) Normalized() Request {
	out := r
	out.Ticker = NormalizeTicker(r.Ticker)
	if out.CallerID == "" {
		out.CallerID = AnonymousCaller
	}
	if out.Config.PeriodDays == 0 {
		out.Config.PeriodDays = PeriodTradingDays(out.Config.Period)
	}
	return out
}

// Payload converts the request into the inputs snapshot stored on the run record
func (r Request) Payload() Payload {
	return Payload{
		"ticker":    r.Ticker,
		"caller_id": r.CallerID,
		"config": map[string]any{
			"period":          r.Config.Period,
			"period_days":     float64(r.Config.PeriodDays),
			"forecast_years":  float64(r.Config.ForecastYears),
			"discount_rate":   r.Config.DiscountRate,
			"terminal_growth": r.Config.TerminalGrowth,
			"risk_free_rate":  r.Config.RiskFreeRate,
		},
	}
}
