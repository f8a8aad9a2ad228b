// Package guardrail enforces input validation, rate limits, execution-time
// caps and output filtering around every pipeline run.
package guardrail

import (
	"fmt"
	"strings"
	"time"

	"github.com/wonny/aegis-analytics/pkg/config"
)

// Policy is the tunable guardrail configuration
// ⭐ SSOT: 가드레일 수치는 이 구조체로만 전달 (env → Policy, YAML override 가능)
type Policy struct {
	MaxForecastYears    int      `yaml:"max_forecast_years" json:"max_forecast_years"`
	MaxPeriodDays       int      `yaml:"max_period_days" json:"max_period_days"`
	BlockedTickers      []string `yaml:"blocked_tickers" json:"blocked_tickers"`
	MaxNumericMagnitude float64  `yaml:"max_numeric_magnitude" json:"max_numeric_magnitude"`

	RateLimitEnabled bool          `yaml:"rate_limit_enabled" json:"rate_limit_enabled"`
	RateLimit        int           `yaml:"rate_limit" json:"rate_limit"`
	RateWindow       time.Duration `yaml:"rate_window" json:"rate_window"`

	RunTimeout   time.Duration `yaml:"run_timeout" json:"run_timeout"`
	StageTimeout time.Duration `yaml:"stage_timeout" json:"stage_timeout"`

	MaxOutputBytes  int      `yaml:"max_output_bytes" json:"max_output_bytes"`
	OutputAllowList []string `yaml:"output_allow_list" json:"output_allow_list"`
	SensitiveKeys   []string `yaml:"sensitive_keys" json:"sensitive_keys"`
}

// DefaultOutputAllowList are the top-level keys allowed to leave the system
var DefaultOutputAllowList = []string{
	"meta",
	"executive_summary",
	"company_overview",
	"financial_analysis",
	"valuation_analysis",
	"risk_assessment",
	"investment_recommendation",
	"disclaimer",
	"calculated",
	"partial",
}

// DefaultSensitiveKeys are key substrings whose values are redacted
var DefaultSensitiveKeys = []string{"api_key", "secret", "password", "token", "credential"}

// DefaultPolicy returns the built-in policy
func DefaultPolicy() Policy {
	return Policy{
		MaxForecastYears:    10,
		MaxPeriodDays:       1260,
		MaxNumericMagnitude: 1e15,
		RateLimitEnabled:    true,
		RateLimit:           60,
		RateWindow:          time.Minute,
		RunTimeout:          60 * time.Second,
		StageTimeout:        30 * time.Second,
		MaxOutputBytes:      10 * 1024 * 1024, // 10MB
		OutputAllowList:     append([]string(nil), DefaultOutputAllowList...),
		SensitiveKeys:       append([]string(nil), DefaultSensitiveKeys...),
	}
}

// PolicyFromConfig derives the policy from environment configuration
func PolicyFromConfig(cfg *config.Config) Policy {
	p := DefaultPolicy()
	p.MaxForecastYears = cfg.Pipeline.MaxForecastYears
	p.MaxPeriodDays = cfg.Pipeline.MaxPeriodDays
	p.RunTimeout = cfg.Pipeline.RunTimeout
	p.StageTimeout = cfg.Pipeline.StageTimeout
	p.RateLimit = cfg.Guardrail.RateLimit
	p.RateWindow = cfg.Guardrail.RateWindow
	if cfg.Guardrail.MaxOutputBytes > 0 {
		p.MaxOutputBytes = cfg.Guardrail.MaxOutputBytes
	}
	return p
}

// Validate checks the policy itself
func (p *Policy) Validate() error {
	if p.MaxForecastYears < 1 {
		return fmt.Errorf("max_forecast_years must be >= 1, got %d", p.MaxForecastYears)
	}
	if p.MaxPeriodDays < 1 {
		return fmt.Errorf("max_period_days must be >= 1, got %d", p.MaxPeriodDays)
	}
	if p.MaxNumericMagnitude <= 0 {
		return fmt.Errorf("max_numeric_magnitude must be positive")
	}
	if p.RateLimitEnabled && (p.RateLimit < 1 || p.RateWindow <= 0) {
		return fmt.Errorf("rate_limit and rate_window must be positive when rate limiting is enabled")
	}
	if p.RunTimeout <= 0 || p.StageTimeout <= 0 {
		return fmt.Errorf("run_timeout and stage_timeout must be positive")
	}
	if p.StageTimeout > p.RunTimeout {
		return fmt.Errorf("stage_timeout (%s) exceeds run_timeout (%s)", p.StageTimeout, p.RunTimeout)
	}
	if p.MaxOutputBytes < 1 {
		return fmt.Errorf("max_output_bytes must be positive")
	}
	if len(p.OutputAllowList) == 0 {
		return fmt.Errorf("output_allow_list must name at least one key")
	}
	return nil
}

// IsBlocked reports whether the ticker is on the block list
func (p *Policy) IsBlocked(ticker string) bool {
	for _, b := range p.BlockedTickers {
		if strings.EqualFold(strings.TrimSpace(b), ticker) {
			return true
		}
	}
	return false
}
