package metrics

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/aegis-analytics/internal/contracts"
	"github.com/wonny/aegis-analytics/pkg/logger"
)

var f = contracts.Float

func bars(n int, price func(i int) float64) []contracts.PriceBar {
	out := make([]contracts.PriceBar, n)
	for i := range out {
		p := price(i)
		out[i] = contracts.PriceBar{
			Date:  fmt.Sprintf("2024-%02d-%02d", 1+i/28, 1+i%28),
			Open:  p,
			High:  p,
			Low:   p,
			Close: p,
		}
	}
	return out
}

func sampleRecord() *contracts.CanonicalRecord {
	return &contracts.CanonicalRecord{
		Meta: contracts.RecordMeta{Ticker: "AAPL", CompanyName: "Apple Inc.", Currency: "USD"},
		PriceHistory: bars(120, func(i int) float64 {
			return 180 + 10*math.Sin(float64(i)/6) + 0.1*float64(i)
		}),
		MarketIndex: &contracts.MarketIndex{
			Symbol: "^GSPC",
			PriceHistory: bars(120, func(i int) float64 {
				return 4800 + 120*math.Sin(float64(i)/6)
			}),
		},
		Fundamentals: contracts.Fundamentals{
			SharesOutstanding: f(15_000_000_000),
			IncomeStatement: contracts.IncomeStatement{
				Revenue:         f(383_000_000_000),
				GrossProfit:     f(169_000_000_000),
				OperatingIncome: f(114_000_000_000),
				EBIT:            f(114_000_000_000),
				EBITDA:          f(125_000_000_000),
				NetIncome:       f(97_000_000_000),
				InterestExpense: f(3_900_000_000),
			},
			BalanceSheet: contracts.BalanceSheet{
				TotalAssets:        f(352_000_000_000),
				CurrentAssets:      f(143_000_000_000),
				CashAndEquivalents: f(30_000_000_000),
				Inventory:          f(6_000_000_000),
				TotalLiabilities:   f(290_000_000_000),
				CurrentLiabilities: f(145_000_000_000),
				TotalDebt:          f(111_000_000_000),
				ShareholdersEquity: f(62_000_000_000),
			},
			CashflowStatement: contracts.CashflowStatement{
				OperatingCashflow:   f(110_000_000_000),
				CapitalExpenditures: f(-11_000_000_000),
			},
			Precomputed: contracts.PrecomputedRatios{
				TrailingEPS:    f(6.13),
				EarningsGrowth: f(0.10),
				RevenueGrowth:  f(0.02),
				Beta:           f(1.29),
			},
			PreviousYear: &contracts.IncomeStatement{
				Revenue:   f(394_000_000_000),
				NetIncome: f(99_800_000_000),
			},
		},
	}
}

func defaultConfig() contracts.RunConfig {
	return contracts.Request{Ticker: "AAPL", Config: contracts.NewRunConfig("1y", 5)}.Normalized().Config
}

// assertFinite walks a payload and fails on NaN or Inf
func assertFinite(t *testing.T, p contracts.Payload) {
	t.Helper()
	_, err := json.Marshal(p)
	require.NoError(t, err, "payload must be JSON-encodable (no NaN/Inf)")
}

func TestRatioCalculator(t *testing.T) {
	report := NewRatioCalculator(logger.Nop()).Calculate(context.Background(), sampleRecord())

	gm, ok := report.Profitability.Get("gross_margin")
	require.True(t, ok)
	assert.True(t, gm.OK())
	assert.InDelta(t, 44.13, gm.Value, 0.01)

	roe, _ := report.Profitability.Get("roe")
	assert.InDelta(t, 156.45, roe.Value, 0.01)

	cr, _ := report.Liquidity.Get("current_ratio")
	assert.InDelta(t, 0.99, cr.Value, 0.01)
	assert.Equal(t, "Potential liquidity risk", cr.Interpretation)

	de, _ := report.Leverage.Get("debt_to_equity")
	assert.InDelta(t, 1.79, de.Value, 0.01)

	fcf, _ := report.Cashflow.Get("free_cash_flow")
	assert.InDelta(t, 99_000_000_000, fcf.Value, 1)

	rg, _ := report.Growth.Get("revenue_growth")
	assert.Equal(t, SourceCalculated, rg.Source)
	assert.Less(t, rg.Value, 0.0)

	p := report.Payload()
	assertFinite(t, p)
	assert.Contains(t, p, "profitability")
	assert.Contains(t, p, "cashflow")
	total, _ := p.Float("metrics_calculated")
	assert.Equal(t, 24.0, total)
}

func TestRatioCalculator_ReturnsAndTurnover(t *testing.T) {
	rec := sampleRecord()
	rec.Fundamentals.BalanceSheet.AccountsReceivable = f(30_000_000_000)
	report := NewRatioCalculator(logger.Nop()).Calculate(context.Background(), rec)

	roic, _ := report.Profitability.Get("roic")
	require.True(t, roic.OK(), roic.Reason)
	assert.InDelta(t, 62.98, roic.Value, 0.01, "114B × 0.79 / (111B + 62B - 30B)")
	assert.Equal(t, "Excellent - creating significant value", roic.Interpretation)

	inv, _ := report.Efficiency.Get("inventory_turnover")
	require.True(t, inv.OK(), inv.Reason)
	assert.InDelta(t, 35.67, inv.Value, 0.01, "COGS falls back to revenue minus gross profit")
	assert.Equal(t, "Inventory cycles 35.7 times per year", inv.Interpretation)

	ar, _ := report.Efficiency.Get("receivables_turnover")
	require.True(t, ar.OK())
	assert.InDelta(t, 12.77, ar.Value, 0.01)

	ocf, _ := report.Liquidity.Get("operating_cash_flow_ratio")
	require.True(t, ocf.OK())
	assert.InDelta(t, 0.76, ocf.Value, 0.01)
	assert.Equal(t, "Weak cash coverage", ocf.Interpretation)
}

func TestRatioCalculator_InventoryNotApplicable(t *testing.T) {
	tests := []struct {
		name       string
		sector     string
		industry   string
		wantReason string
	}{
		{"service sector", "Financial Services", "", "not applicable - Financial Services companies"},
		{"service industry", "Consumer Cyclical", "Software - Application", "not applicable - Software - Application companies"},
		{"goods producer", "Industrials", "Machinery", "no inventory on balance sheet"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := sampleRecord()
			rec.Fundamentals.BalanceSheet.Inventory = nil
			rec.Fundamentals.Precomputed.Sector = tt.sector
			rec.Fundamentals.Precomputed.Industry = tt.industry

			report := NewRatioCalculator(logger.Nop()).Calculate(context.Background(), rec)
			m, _ := report.Efficiency.Get("inventory_turnover")
			assert.False(t, m.OK())
			assert.Contains(t, m.Reason, tt.wantReason)
		})
	}
}

func TestRatioCalculator_GrowthFromPriorYear(t *testing.T) {
	rec := sampleRecord()
	rec.Fundamentals.Precomputed.ForwardEPS = f(7.0)
	rec.Fundamentals.PreviousYear.OperatingIncome = f(100_000_000_000)
	rec.Fundamentals.PreviousCashflow = &contracts.CashflowStatement{FreeCashflow: f(90_000_000_000)}

	report := NewRatioCalculator(logger.Nop()).Calculate(context.Background(), rec)

	eps, _ := report.Growth.Get("eps_growth")
	require.True(t, eps.OK(), eps.Reason)
	assert.InDelta(t, 14.19, eps.Value, 0.01)
	assert.Equal(t, "Healthy EPS growth", eps.Interpretation)

	oi, _ := report.Growth.Get("operating_income_growth")
	require.True(t, oi.OK(), oi.Reason)
	assert.InDelta(t, 14.0, oi.Value, 0.01)

	fcf, _ := report.Growth.Get("fcf_growth")
	require.True(t, fcf.OK(), fcf.Reason)
	assert.InDelta(t, 10.0, fcf.Value, 0.01, "current FCF is OCF 110B less CapEx 11B")
}

func TestRatioCalculator_GrowthNeedsBothYears(t *testing.T) {
	report := NewRatioCalculator(logger.Nop()).Calculate(context.Background(), sampleRecord())

	for _, name := range []string{"eps_growth", "operating_income_growth", "fcf_growth"} {
		m, ok := report.Growth.Get(name)
		require.True(t, ok, name)
		assert.False(t, m.OK(), name)
		assert.NotEmpty(t, m.Reason, name)
	}

	rec := sampleRecord()
	rec.Fundamentals.PreviousCashflow = &contracts.CashflowStatement{FreeCashflow: f(0)}
	report = NewRatioCalculator(logger.Nop()).Calculate(context.Background(), rec)
	m, _ := report.Growth.Get("fcf_growth")
	assert.False(t, m.OK())
	assert.Contains(t, m.Reason, "zero")
}

func TestRatioCalculator_MissingInputsAreUnavailable(t *testing.T) {
	rec := &contracts.CanonicalRecord{Meta: contracts.RecordMeta{Ticker: "EMPTY"}}
	report := NewRatioCalculator(logger.Nop()).Calculate(context.Background(), rec)

	total, ok := Counts(report.Sections()...)
	assert.Equal(t, 24, total)
	assert.Zero(t, ok)

	for _, s := range report.Sections() {
		for _, m := range s.Metrics {
			assert.Equal(t, StatusUnavailable, m.Status, m.Name)
			assert.NotEmpty(t, m.Reason, m.Name)
		}
	}
	assertFinite(t, report.Payload())
}

func TestRatioCalculator_ZeroDenominators(t *testing.T) {
	rec := sampleRecord()
	rec.Fundamentals.IncomeStatement.Revenue = f(0)
	rec.Fundamentals.BalanceSheet.CurrentLiabilities = f(0)
	rec.Fundamentals.BalanceSheet.ShareholdersEquity = f(-5)

	report := NewRatioCalculator(logger.Nop()).Calculate(context.Background(), rec)
	for _, name := range []string{"gross_margin", "net_margin"} {
		m, _ := report.Profitability.Get(name)
		assert.False(t, m.OK(), name)
	}
	cr, _ := report.Liquidity.Get("current_ratio")
	assert.False(t, cr.OK())
	de, _ := report.Leverage.Get("debt_to_equity")
	assert.False(t, de.OK())
	assertFinite(t, report.Payload())
}

func TestValuationCalculator(t *testing.T) {
	rec := sampleRecord()
	report := NewValuationCalculator(logger.Nop()).Calculate(context.Background(), rec, defaultConfig())

	price, _ := rec.LatestClose()
	pe, _ := report.Multiples.Get("pe_ratio")
	require.True(t, pe.OK())
	assert.InDelta(t, price/6.13, pe.Value, 0.01)

	peg, _ := report.Multiples.Get("peg_ratio")
	assert.InDelta(t, pe.Value/10, peg.Value, 0.01)

	iv, _ := report.DCF.Get("dcf_intrinsic_value")
	require.True(t, iv.OK(), iv.Reason)
	assert.Greater(t, iv.Value, 0.0)

	up, _ := report.DCF.Get("dcf_upside")
	require.True(t, up.OK())
	assert.InDelta(t, (iv.Value/price-1)*100, up.Value, 0.05)

	p := report.Payload()
	assertFinite(t, p)
	assert.Contains(t, p, "metrics")
	assert.Contains(t, p, "dcf")
	assert.NotEmpty(t, p["summary"])
}

func TestValuationCalculator_DividendAndBookValue(t *testing.T) {
	tests := []struct {
		name       string
		yield      *float64
		wantOK     bool
		wantValue  float64
		wantInterp string
	}{
		{"fraction", f(0.0044), true, 0.44, "Low yield - growth focused"},
		{"already percent", f(3.2), true, 3.2, "Moderate yield"},
		{"no dividend", f(0), true, 0, "No dividend"},
		{"missing", nil, false, 0, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := sampleRecord()
			rec.Fundamentals.Precomputed.DividendYield = tt.yield

			report := NewValuationCalculator(logger.Nop()).Calculate(context.Background(), rec, defaultConfig())
			dy, ok := report.Multiples.Get("dividend_yield")
			require.True(t, ok)
			assert.Equal(t, tt.wantOK, dy.OK())
			if tt.wantOK {
				assert.InDelta(t, tt.wantValue, dy.Value, 0.001)
				assert.Equal(t, tt.wantInterp, dy.Interpretation)
			}
		})
	}

	report := NewValuationCalculator(logger.Nop()).Calculate(context.Background(), sampleRecord(), defaultConfig())
	bvps, _ := report.Multiples.Get("book_value_per_share")
	require.True(t, bvps.OK())
	assert.InDelta(t, 4.13, bvps.Value, 0.001, "62B equity over 15B shares")

	rec := sampleRecord()
	rec.Fundamentals.SharesOutstanding = nil
	report = NewValuationCalculator(logger.Nop()).Calculate(context.Background(), rec, defaultConfig())
	bvps, _ = report.Multiples.Get("book_value_per_share")
	assert.False(t, bvps.OK())
}

func TestValuationCalculator_DCFSensitivity(t *testing.T) {
	calc := NewValuationCalculator(logger.Nop())
	cfg := defaultConfig()

	base, _ := calc.Calculate(context.Background(), sampleRecord(), cfg).DCF.Get("dcf_intrinsic_value")

	cfg.DiscountRate = 0.15
	higher, _ := calc.Calculate(context.Background(), sampleRecord(), cfg).DCF.Get("dcf_intrinsic_value")
	assert.Less(t, higher.Value, base.Value, "higher discount rate lowers intrinsic value")

	cfg.DiscountRate = 0.02
	cfg.TerminalGrowth = 0.03
	bad, _ := calc.Calculate(context.Background(), sampleRecord(), cfg).DCF.Get("dcf_intrinsic_value")
	assert.False(t, bad.OK())
}

func TestValuationCalculator_NegativeEarnings(t *testing.T) {
	rec := sampleRecord()
	rec.Fundamentals.Precomputed.TrailingEPS = f(-1.5)
	rec.Fundamentals.CashflowStatement = contracts.CashflowStatement{FreeCashflow: f(-2_000_000)}

	report := NewValuationCalculator(logger.Nop()).Calculate(context.Background(), rec, defaultConfig())
	pe, _ := report.Multiples.Get("pe_ratio")
	assert.False(t, pe.OK())
	assert.Contains(t, pe.Reason, "negative earnings")

	iv, _ := report.DCF.Get("dcf_intrinsic_value")
	assert.False(t, iv.OK())
	up, _ := report.DCF.Get("dcf_upside")
	assert.False(t, up.OK())
	assertFinite(t, report.Payload())
}

func TestRiskCalculator(t *testing.T) {
	report := NewRiskCalculator(logger.Nop()).Calculate(context.Background(), sampleRecord(), 0.04)

	b, _ := report.Market.Get("beta")
	require.True(t, b.OK())
	assert.Equal(t, SourcePriceSeries, b.Source, "beta is computed from the aligned index")

	for _, name := range []string{"alpha", "volatility", "sharpe_ratio", "max_drawdown", "var_95", "cvar_95"} {
		m, ok := report.Market.Get(name)
		require.True(t, ok, name)
		assert.True(t, m.OK(), name)
	}

	a, _ := report.Market.Get("alpha")
	assert.Contains(t, a.Formula, "^GSPC", "market leg uses the aligned index")

	for _, name := range []string{"altman_z_score", "credit_risk_score", "liquidity_risk_score", "operational_risk_score"} {
		m, ok := report.Financial.Get(name)
		require.True(t, ok, name)
		assert.True(t, m.OK(), name)
	}

	// D/E 1.79 and current ratio 0.99
	credit, _ := report.Financial.Get("credit_risk_score")
	assert.Equal(t, 80.0, credit.Value)
	assert.Contains(t, report.Overall.Flags, "High credit risk")

	liq, _ := report.Financial.Get("liquidity_risk_score")
	assert.Equal(t, 50.0, liq.Value)
	assert.Equal(t, "Elevated liquidity risk", liq.Interpretation)

	// 운영이익률 29.8%, 순이익률 25.3%
	op, _ := report.Financial.Get("operational_risk_score")
	assert.Equal(t, 15.0, op.Value)
	assert.Equal(t, "Low operational risk", op.Interpretation)

	v95, _ := report.Market.Get("var_95")
	cv95, _ := report.Market.Get("cvar_95")
	assert.GreaterOrEqual(t, cv95.Value, v95.Value)

	assert.Contains(t, []string{LevelModerate, LevelElevated, LevelHigh}, report.Overall.Level)
	assertFinite(t, report.Payload())
}

func TestRiskCalculator_BetaFallsBackToProvider(t *testing.T) {
	rec := sampleRecord()
	rec.MarketIndex = nil

	report := NewRiskCalculator(logger.Nop()).Calculate(context.Background(), rec, 0.04)
	b, _ := report.Market.Get("beta")
	require.True(t, b.OK())
	assert.Equal(t, SourcePrecomputed, b.Source)
	assert.Equal(t, 1.29, b.Value)

	a, _ := report.Market.Get("alpha")
	require.True(t, a.OK(), a.Reason)
	assert.Contains(t, a.Formula, "assumed market return")
}

func TestRiskCalculator_AltmanZScore(t *testing.T) {
	tests := []struct {
		name       string
		bs         contracts.BalanceSheet
		is         contracts.IncomeStatement
		marketCap  float64
		want       float64
		wantInterp string
	}{
		{
			"safe",
			contracts.BalanceSheet{TotalAssets: f(100), CurrentAssets: f(50), CurrentLiabilities: f(30), RetainedEarnings: f(20), TotalLiabilities: f(50)},
			contracts.IncomeStatement{EBIT: f(10), Revenue: f(100)},
			100, 3.05, "Safe Zone - low bankruptcy risk",
		},
		{
			"distress",
			contracts.BalanceSheet{TotalAssets: f(100), CurrentAssets: f(50), CurrentLiabilities: f(30), RetainedEarnings: f(-10), TotalLiabilities: f(200)},
			contracts.IncomeStatement{OperatingIncome: f(2), Revenue: f(50)},
			20, 0.73, "Distress Zone - high bankruptcy risk",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := sampleRecord()
			rec.Fundamentals.BalanceSheet = tt.bs
			rec.Fundamentals.IncomeStatement = tt.is
			rec.Fundamentals.MarketCap = f(tt.marketCap)

			report := NewRiskCalculator(logger.Nop()).Calculate(context.Background(), rec, 0.04)
			z, _ := report.Financial.Get("altman_z_score")
			require.True(t, z.OK(), z.Reason)
			assert.InDelta(t, tt.want, z.Value, 0.001)
			assert.Equal(t, tt.wantInterp, z.Interpretation)
		})
	}

	rec := sampleRecord()
	rec.Fundamentals.BalanceSheet.TotalAssets = nil
	report := NewRiskCalculator(logger.Nop()).Calculate(context.Background(), rec, 0.04)
	z, _ := report.Financial.Get("altman_z_score")
	assert.False(t, z.OK())
}

func TestRiskCalculator_ShortHistory(t *testing.T) {
	rec := sampleRecord()
	rec.PriceHistory = rec.PriceHistory[:5]
	rec.MarketIndex = nil
	rec.Fundamentals.Precomputed.Beta = nil

	report := NewRiskCalculator(logger.Nop()).Calculate(context.Background(), rec, 0.04)
	for _, name := range []string{"beta", "alpha", "volatility", "sharpe_ratio", "var_95"} {
		m, _ := report.Market.Get(name)
		assert.False(t, m.OK(), name)
	}
	assertFinite(t, report.Payload())
}

func TestOverallRisk(t *testing.T) {
	metric := func(name string, v float64) Metric { return success(name, v, "", "", "", "") }

	tests := []struct {
		name      string
		market    []Metric
		financial []Metric
		wantLevel string
		wantFlags int
	}{
		{"no flags", []Metric{metric("beta", 1.0), metric("volatility", 20)}, nil, LevelModerate, 0},
		{"high beta", []Metric{metric("beta", 1.8)}, nil, LevelElevated, 1},
		{"beta and leverage", []Metric{metric("beta", 1.8)}, []Metric{metric("debt_to_equity", 2.5)}, LevelElevated, 2},
		{"distress zone", nil, []Metric{metric("altman_z_score", 1.5)}, LevelElevated, 1},
		{"grey zone", nil, []Metric{metric("altman_z_score", 2.5)}, LevelElevated, 1},
		{"safe zone", nil, []Metric{metric("altman_z_score", 3.5)}, LevelModerate, 0},
		{"high credit risk", nil, []Metric{metric("credit_risk_score", 75)}, LevelElevated, 1},
		{"credit risk at threshold", nil, []Metric{metric("credit_risk_score", 70)}, LevelModerate, 0},
		{
			"everything",
			[]Metric{metric("beta", 1.8), metric("volatility", 55), metric("max_drawdown", 45)},
			[]Metric{metric("debt_to_equity", 3), metric("altman_z_score", 1.2), metric("credit_risk_score", 85)},
			LevelHigh, 6,
		},
		{"unavailable ignored", []Metric{unavailable("beta", "n/a")}, nil, LevelModerate, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := OverallRisk(RiskReport{
				Market:    Section{Name: "market_risk", Metrics: tt.market},
				Financial: Section{Name: "financial_risk", Metrics: tt.financial},
			})
			assert.Equal(t, tt.wantLevel, a.Level)
			assert.Len(t, a.Flags, tt.wantFlags)
		})
	}
}

func TestStats(t *testing.T) {
	assert.Equal(t, 0.0, Mean(nil))
	assert.InDelta(t, 2.0, Mean([]float64{1, 2, 3}), 1e-12)
	assert.InDelta(t, 1.0, StdDev([]float64{1, 2, 3}), 1e-12)
	assert.InDelta(t, 1.0, Covariance([]float64{1, 2, 3}, []float64{1, 2, 3}), 1e-12)
	assert.InDelta(t, 0.5, MaxDrawdown([]float64{100, 120, 60, 90}), 1e-12)
	assert.Equal(t, []float64{0.5}, DailyReturns([]float64{0, 10, 15}))

	returns := []float64{-0.05, -0.03, -0.01, 0, 0.01, 0.02, 0.03, 0.04, 0.05, 0.06}
	v := HistoricalVaR(returns, 0.8)
	assert.InDelta(t, 0.03, v.VaR, 1e-12)
	assert.InDelta(t, 0.04, v.CVaR, 1e-12)
}

func TestSuccess_NonFiniteBecomesUnavailable(t *testing.T) {
	m := success("x", math.Inf(1), "", "", "", "")
	assert.False(t, m.OK())
	assert.Nil(t, m.Map()["value"])
}
