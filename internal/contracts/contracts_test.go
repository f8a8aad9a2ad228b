package contracts

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsValidTicker(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{"AAPL", true},
		{"BRK2", true},
		{"A", true},
		{"ABCDEFGHIJ", true},
		{"ABCDEFGHIJK", false}, // 11자
		{"", false},
		{"aapl", false},
		{"BRK.B", false},
		{"AA PL", false},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.want, IsValidTicker(tt.input))
		})
	}
}

func TestRequestNormalized(t *testing.T) {
	req := Request{
		Ticker: "  aapl ",
		Config: RunConfig{Period: "1y", ForecastYears: 5, DiscountRate: 0.08},
	}.Normalized()

	assert.Equal(t, "AAPL", req.Ticker)
	assert.Equal(t, AnonymousCaller, req.CallerID)
	assert.Equal(t, 252, req.Config.PeriodDays)
	assert.Equal(t, 0.08, req.Config.DiscountRate)
	// 명시적 0은 그대로 유지
	assert.Equal(t, 0.0, req.Config.TerminalGrowth)
	assert.Equal(t, 0.0, req.Config.RiskFreeRate)

	empty := Request{Ticker: "MSFT"}.Normalized()
	assert.Equal(t, "", empty.Config.Period)
	assert.Equal(t, 0, empty.Config.ForecastYears)
}

func TestNewRunConfig(t *testing.T) {
	cfg := NewRunConfig("6mo", 3)
	assert.Equal(t, "6mo", cfg.Period)
	assert.Equal(t, 3, cfg.ForecastYears)
	assert.Equal(t, DefaultDiscountRate, cfg.DiscountRate)
	assert.Equal(t, DefaultTerminalGrowth, cfg.TerminalGrowth)
	assert.Equal(t, DefaultRiskFreeRate, cfg.RiskFreeRate)
}

func TestRunConfig_UnmarshalDefaultsAbsentRates(t *testing.T) {
	var req Request
	require.NoError(t, json.Unmarshal([]byte(`{"ticker":"AAPL","config":{"period":"1y","forecast_years":5}}`), &req))
	assert.Equal(t, DefaultDiscountRate, req.Config.DiscountRate)
	assert.Equal(t, DefaultTerminalGrowth, req.Config.TerminalGrowth)
	assert.Equal(t, DefaultRiskFreeRate, req.Config.RiskFreeRate)

	var zero Request
	require.NoError(t, json.Unmarshal([]byte(`{"ticker":"AAPL","config":{"period":"1y","forecast_years":5,"discount_rate":0.08,"terminal_growth":0,"risk_free_rate":0}}`), &zero))
	assert.Equal(t, 0.08, zero.Config.DiscountRate)
	assert.Equal(t, 0.0, zero.Config.TerminalGrowth)
	assert.Equal(t, 0.0, zero.Config.RiskFreeRate)

	var bad Request
	assert.Error(t, json.Unmarshal([]byte(`{"ticker":"AAPL","config":{"period":"1y","horizon":5}}`), &bad))
}

func TestPeriodTradingDays(t *testing.T) {
	assert.Equal(t, 21, PeriodTradingDays("1mo"))
	assert.Equal(t, 1260, PeriodTradingDays("5y"))
	assert.Equal(t, 0, PeriodTradingDays("10y"))
}

func TestStageLayers(t *testing.T) {
	assert.Equal(t, 1, StageDataFetch.Layer())
	for _, s := range MetricStages() {
		assert.Equal(t, 2, s.Layer(), s)
	}
	assert.Equal(t, 3, StagePresentation.Layer())
	assert.Len(t, AllStages(), 5)
}

func TestPayloadClone(t *testing.T) {
	orig := Payload{
		"pe": 28.5,
		"nested": map[string]any{
			"flags": []any{"beta_high"},
		},
	}

	cp := orig.Clone()
	nested, ok := cp.Map("nested")
	require.True(t, ok)
	nested["flags"].([]any)[0] = "mutated"
	nested["extra"] = 1.0
	cp["pe"] = 0.0

	origNested, _ := orig.Map("nested")
	assert.Equal(t, "beta_high", origNested["flags"].([]any)[0])
	assert.NotContains(t, origNested, "extra")
	v, _ := orig.Float("pe")
	assert.Equal(t, 28.5, v)
}

func TestCanonicalRecordPayloadRoundTrip(t *testing.T) {
	rec := &CanonicalRecord{
		Meta: RecordMeta{Ticker: "AAPL", CompanyName: "Apple Inc.", Currency: "USD"},
		PriceHistory: []PriceBar{
			{Date: "2024-01-02", Close: 185.6, Volume: 1000},
			{Date: "2024-01-03", Close: 184.2, Volume: 1200},
		},
		Fundamentals: Fundamentals{
			SharesOutstanding: Float(15.5e9),
			IncomeStatement:   IncomeStatement{Revenue: Float(383e9)},
		},
		Info: map[string]any{"maxAge": 86400.0},
	}

	p, err := rec.ToPayload()
	require.NoError(t, err)
	meta, ok := p.Map("meta")
	require.True(t, ok)
	assert.Equal(t, "AAPL", meta["ticker"])

	back, err := RecordFromPayload(p)
	require.NoError(t, err)
	assert.Equal(t, rec.Meta.Ticker, back.Meta.Ticker)
	assert.Equal(t, 383e9, *back.Fundamentals.IncomeStatement.Revenue)
	last, ok := back.LatestClose()
	require.True(t, ok)
	assert.Equal(t, 184.2, last)
	assert.Equal(t, []float64{185.6, 184.2}, back.Closes())
}
