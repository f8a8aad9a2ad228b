package metrics

import (
	"context"
	"fmt"
	"math"

	"github.com/wonny/aegis-analytics/internal/contracts"
	"github.com/wonny/aegis-analytics/pkg/logger"
)

// minObservations is the minimum number of daily returns for price-based risk
const minObservations = 20

// Overall risk thresholds
const (
	HighBetaThreshold       = 1.5
	HighVolatilityThreshold = 40.0 // %
	DeepDrawdownThreshold   = 30.0 // %
	HighLeverageThreshold   = 2.0  // D/E
	DistressZoneThreshold   = 1.81 // Altman Z
	GreyZoneThreshold       = 2.99 // Altman Z
	HighCreditRiskThreshold = 70.0 // /100
)

// Alpha inputs
const (
	// assumedMarketReturn is the expected annual market return when no index history is aligned
	assumedMarketReturn = 0.10
	minAlphaCloses      = 30
	maxDailyMove        = 0.5
	maxAbsAlpha         = 200.0
)

// Risk levels
const (
	LevelModerate = "moderate"
	LevelElevated = "elevated"
	LevelHigh     = "high"
)

// Assessment is the overall risk verdict
type Assessment struct {
	Assessment string
	Level      string
	Flags      []string
}

// Map converts the assessment to its payload form
func (a Assessment) Map() map[string]any {
	flags := make([]any, len(a.Flags))
	for i, f := range a.Flags {
		flags[i] = f
	}
	return map[string]any{
		"assessment": a.Assessment,
		"level":      a.Level,
		"flags":      flags,
		"flag_count": float64(len(a.Flags)),
	}
}

// RiskReport holds market and financial risk plus the overall verdict
type RiskReport struct {
	Market    Section
	Financial Section
	Overall   Assessment
}

// Sections returns the metric sections
func (r RiskReport) Sections() []Section {
	return []Section{r.Market, r.Financial}
}

// Payload converts the report to a stage payload
func (r RiskReport) Payload() contracts.Payload {
	p := sectionsPayload(r.Sections()...)
	p["overall_risk"] = r.Overall.Map()
	return p
}

// RiskCalculator calculates price-based and balance-sheet risk
// ⭐ SSOT: 리스크 지표 계산은 여기서만
type RiskCalculator struct {
	logger *logger.Logger
}

// NewRiskCalculator creates a new risk calculator
func NewRiskCalculator(log *logger.Logger) *RiskCalculator {
	return &RiskCalculator{logger: log}
}

// Calculate computes risk metrics. riskFreeRate is annual, as a fraction.
func (c *RiskCalculator) Calculate(ctx context.Context, rec *contracts.CanonicalRecord, riskFreeRate float64) RiskReport {
	closes := rec.Closes()
	returns := DailyReturns(closes)

	vol := volatility(returns)
	b := beta(rec)
	report := RiskReport{
		Market: Section{Name: "market_risk", Metrics: []Metric{
			b,
			alpha(rec, b, riskFreeRate),
			vol,
			sharpeRatio(closes, returns, riskFreeRate),
			maxDrawdown(closes),
			valueAtRisk(returns),
			expectedShortfall(returns),
		}},
		Financial: Section{Name: "financial_risk", Metrics: []Metric{
			DebtToEquity(rec.Fundamentals.BalanceSheet),
			altmanZScore(rec),
			creditRiskScore(rec.Fundamentals.BalanceSheet),
			liquidityRiskScore(rec.Fundamentals.BalanceSheet),
			operationalRiskScore(rec.Fundamentals.IncomeStatement),
		}},
	}
	report.Overall = OverallRisk(report)

	c.logger.WithFields(map[string]interface{}{
		"ticker":     rec.Meta.Ticker,
		"returns":    len(returns),
		"level":      report.Overall.Level,
		"flag_count": len(report.Overall.Flags),
	}).Debug("Calculated risk metrics")

	return report
}

// alignedReturns pairs stock and index returns on common dates
func alignedReturns(stock, index []contracts.PriceBar) ([]float64, []float64) {
	idx := make(map[string]float64, len(index))
	for _, b := range index {
		idx[b.Date] = b.Close
	}

	var s, m []float64
	for _, b := range stock {
		if c, ok := idx[b.Date]; ok {
			s = append(s, b.Close)
			m = append(m, c)
		}
	}

	rs, rm := make([]float64, 0, len(s)), make([]float64, 0, len(m))
	for i := 1; i < len(s); i++ {
		if s[i-1] <= 0 || m[i-1] <= 0 {
			continue
		}
		rs = append(rs, s[i]/s[i-1]-1)
		rm = append(rm, m[i]/m[i-1]-1)
	}
	return rs, rm
}

func beta(rec *contracts.CanonicalRecord) Metric {
	const name = "beta"
	if rec.MarketIndex != nil {
		rs, rm := alignedReturns(rec.PriceHistory, rec.MarketIndex.PriceHistory)
		if len(rs) >= minObservations {
			if sd := StdDev(rm); sd > 0 {
				v := Covariance(rs, rm) / (sd * sd)
				return success(name, v, "", fmt.Sprintf("Covariance(Stock, %s) / Variance(%s)", rec.MarketIndex.Symbol, rec.MarketIndex.Symbol), SourcePriceSeries, interpretBeta(v))
			}
		}
	}
	if v, ok := val(rec.Fundamentals.Precomputed.Beta); ok {
		return success(name, v, "", "Covariance(Stock, Market) / Variance(Market)", SourcePrecomputed, interpretBeta(v))
	}
	return unavailable(name, "insufficient aligned index history and no provider beta")
}

// annualized compounds daily returns and scales them to a 252-day year
func annualized(returns []float64) (float64, bool) {
	if len(returns) == 0 {
		return 0, false
	}
	growth := 1.0
	for _, r := range returns {
		growth *= 1 + r
	}
	if growth <= 0 {
		return 0, false
	}
	years := float64(len(returns)) / TradingDaysPerYear
	return math.Pow(growth, 1/years) - 1, true
}

// clean drops daily moves too large to be real price action
func clean(returns []float64) []float64 {
	out := make([]float64, 0, len(returns))
	for _, r := range returns {
		if math.Abs(r) < maxDailyMove {
			out = append(out, r)
		}
	}
	return out
}

// alpha is Jensen's alpha. With an aligned index both legs use the same
// window, otherwise the market leg falls back to assumedMarketReturn.
func alpha(rec *contracts.CanonicalRecord, b Metric, rf float64) Metric {
	const name = "alpha"
	if !b.OK() {
		return unavailable(name, "beta not available")
	}
	closes := rec.Closes()
	if len(closes) < minAlphaCloses {
		return unavailable(name, "insufficient valid price data for alpha calculation")
	}

	stock := clean(DailyReturns(closes))
	marketReturn, benchmark := assumedMarketReturn, "10% assumed market return"
	if rec.MarketIndex != nil {
		rs, rm := alignedReturns(rec.PriceHistory, rec.MarketIndex.PriceHistory)
		if len(rs) >= minObservations {
			if m, ok := annualized(clean(rm)); ok {
				stock = clean(rs)
				marketReturn, benchmark = m, rec.MarketIndex.Symbol
			}
		}
	}
	if len(stock) < minObservations {
		return unavailable(name, "insufficient valid daily returns for alpha calculation")
	}
	stockReturn, ok := annualized(stock)
	if !ok {
		return unavailable(name, "stock return could not be annualized")
	}

	expected := rf + b.Value*(marketReturn-rf)
	v := (stockReturn - expected) * 100
	if math.Abs(v) > maxAbsAlpha {
		return unavailable(name, "alpha calculation yielded unrealistic value")
	}
	return success(name, v, "%", fmt.Sprintf("Annualized(∏(1+r_daily)) - [Rf + β × (Rm - Rf)], Rm from %s", benchmark), SourcePriceSeries, interpretAlpha(v))
}

func volatility(returns []float64) Metric {
	const name = "volatility"
	if len(returns) < minObservations {
		return unavailable(name, fmt.Sprintf("need at least %d daily returns", minObservations))
	}
	v := StdDev(returns) * math.Sqrt(TradingDaysPerYear) * 100
	return success(name, v, "%", "StdDev(Daily Returns) × √252 × 100", SourcePriceSeries, interpretVolatility(v))
}

func sharpeRatio(closes, returns []float64, rf float64) Metric {
	const name = "sharpe_ratio"
	if len(returns) < minObservations || closes[0] <= 0 {
		return unavailable(name, fmt.Sprintf("need at least %d daily returns", minObservations))
	}
	annualVol := StdDev(returns) * math.Sqrt(TradingDaysPerYear)
	if annualVol == 0 {
		return unavailable(name, "price series has zero volatility")
	}
	annualReturn := (closes[len(closes)-1]/closes[0] - 1) * (TradingDaysPerYear / float64(len(closes)))
	v := (annualReturn - rf) / annualVol
	return success(name, v, "", "(Annual Return - Risk-Free Rate) / Annual Volatility", SourcePriceSeries, interpretSharpe(v))
}

func maxDrawdown(closes []float64) Metric {
	const name = "max_drawdown"
	if len(closes) < 2 {
		return unavailable(name, "price history not available")
	}
	v := MaxDrawdown(closes) * 100
	return success(name, v, "%", "(Peak - Trough) / Peak × 100", SourcePriceSeries, interpretMaxDrawdown(v))
}

func valueAtRisk(returns []float64) Metric {
	const name = "var_95"
	if len(returns) < minObservations {
		return unavailable(name, fmt.Sprintf("need at least %d daily returns", minObservations))
	}
	v := HistoricalVaR(returns, 0.95).VaR * 100
	return success(name, v, "%", "5th percentile daily loss (historical simulation) × 100", SourcePriceSeries,
		fmt.Sprintf("95%% of days lose less than %.2f%%", v))
}

func expectedShortfall(returns []float64) Metric {
	const name = "cvar_95"
	if len(returns) < minObservations {
		return unavailable(name, fmt.Sprintf("need at least %d daily returns", minObservations))
	}
	v := HistoricalVaR(returns, 0.95).CVaR * 100
	return success(name, v, "%", "Mean daily loss beyond VaR 95 × 100", SourcePriceSeries,
		fmt.Sprintf("Average loss on the worst 5%% of days is %.2f%%", v))
}

// altmanZScore is the public manufacturer model. Missing components other
// than total assets count as zero.
func altmanZScore(rec *contracts.CanonicalRecord) Metric {
	const name = "altman_z_score"
	f := rec.Fundamentals
	ta, ok := positive(f.BalanceSheet.TotalAssets)
	if !ok {
		return unavailable(name, "insufficient data for Altman Z-Score calculation")
	}
	ca, _ := val(f.BalanceSheet.CurrentAssets)
	cl, _ := val(f.BalanceSheet.CurrentLiabilities)
	re, _ := val(f.BalanceSheet.RetainedEarnings)
	ebit, ok := val(f.IncomeStatement.EBIT)
	if !ok {
		ebit, _ = val(f.IncomeStatement.OperatingIncome)
	}
	rev, _ := val(f.IncomeStatement.Revenue)

	var d float64
	if tl, ok := positive(f.BalanceSheet.TotalLiabilities); ok {
		if in := newValuationInputs(rec); in.hasCap {
			d = in.marketCap / tl
		}
	}

	z := 1.2*((ca-cl)/ta) + 1.4*(re/ta) + 3.3*(ebit/ta) + 0.6*d + 1.0*(rev/ta)
	return success(name, z, "", "1.2×(WC/TA) + 1.4×(RE/TA) + 3.3×(EBIT/TA) + 0.6×(MC/TL) + 1.0×(Rev/TA)", SourceCalculated, interpretZScore(z))
}

func creditRiskScore(bs contracts.BalanceSheet) Metric {
	const name = "credit_risk_score"
	de := DebtToEquity(bs)
	cr := currentRatio(bs)
	if !de.OK() && !cr.OK() {
		return unavailable(name, "debt-to-equity and current ratio not available")
	}

	score := 50.0
	if de.OK() {
		switch {
		case de.Value < 0.5:
			score -= 20
		case de.Value < 1:
			score -= 10
		case de.Value < 2:
			score += 10
		default:
			score += 25
		}
	}
	if cr.OK() {
		switch {
		case cr.Value > 2:
			score -= 15
		case cr.Value > 1.5:
			score -= 5
		case cr.Value < 1:
			score += 20
		}
	}
	score = math.Max(0, math.Min(100, score))
	return success(name, score, "/100", "Composite of D/E ratio and current ratio", SourceComposite, interpretRiskScore(score, "credit"))
}

func liquidityRiskScore(bs contracts.BalanceSheet) Metric {
	const name = "liquidity_risk_score"
	cr := currentRatio(bs)
	qr := quickRatio(bs)
	if !cr.OK() && !qr.OK() {
		return unavailable(name, "current ratio and quick ratio not available")
	}

	score := 50.0
	if cr.OK() {
		switch {
		case cr.Value > 2:
			score -= 25
		case cr.Value > 1.5:
			score -= 15
		case cr.Value > 1:
			score -= 5
		case cr.Value < 0.8:
			score += 25
		}
	}
	if qr.OK() {
		switch {
		case qr.Value > 1.5:
			score -= 15
		case qr.Value > 1:
			score -= 5
		case qr.Value < 0.5:
			score += 15
		}
	}
	score = math.Max(0, math.Min(100, score))
	return success(name, score, "/100", "Composite of current ratio and quick ratio", SourceComposite, interpretRiskScore(score, "liquidity"))
}

func operationalRiskScore(is contracts.IncomeStatement) Metric {
	const name = "operational_risk_score"
	om := margin("operating_margin", "operating", is.OperatingIncome, is.Revenue, "")
	nm := margin("net_margin", "net", is.NetIncome, is.Revenue, "")
	if !om.OK() && !nm.OK() {
		return unavailable(name, "operating and net margins not available")
	}

	score := 50.0
	if om.OK() {
		switch {
		case om.Value > 20:
			score -= 20
		case om.Value > 10:
			score -= 10
		case om.Value > 5:
			score -= 5
		case om.Value < 0:
			score += 25
		}
	}
	if nm.OK() {
		switch {
		case nm.Value > 15:
			score -= 15
		case nm.Value > 5:
			score -= 5
		case nm.Value < 0:
			score += 20
		}
	}
	score = math.Max(0, math.Min(100, score))
	return success(name, score, "/100", "Composite of operating and profit margins", SourceComposite, interpretRiskScore(score, "operational"))
}

// OverallRisk flags beta, volatility, solvency, drawdown and leverage breaches
func OverallRisk(r RiskReport) Assessment {
	var flags []string
	if m, ok := r.Market.Get("beta"); ok && m.OK() && m.Value > HighBetaThreshold {
		flags = append(flags, "High beta - above-market volatility")
	}
	if m, ok := r.Market.Get("volatility"); ok && m.OK() && m.Value > HighVolatilityThreshold {
		flags = append(flags, "High volatility")
	}
	if m, ok := r.Financial.Get("altman_z_score"); ok && m.OK() {
		switch {
		case m.Value < DistressZoneThreshold:
			flags = append(flags, "Distress zone - elevated bankruptcy risk")
		case m.Value < GreyZoneThreshold:
			flags = append(flags, "Grey zone - monitor financial health")
		}
	}
	if m, ok := r.Financial.Get("credit_risk_score"); ok && m.OK() && m.Value > HighCreditRiskThreshold {
		flags = append(flags, "High credit risk")
	}
	if m, ok := r.Market.Get("max_drawdown"); ok && m.OK() && m.Value > DeepDrawdownThreshold {
		flags = append(flags, "Significant historical drawdown")
	}
	if m, ok := r.Financial.Get("debt_to_equity"); ok && m.OK() && m.Value > HighLeverageThreshold {
		flags = append(flags, "High leverage - debt exceeds twice equity")
	}

	switch {
	case len(flags) == 0:
		return Assessment{Assessment: "Low to Moderate Risk", Level: LevelModerate, Flags: []string{}}
	case len(flags) <= 2:
		return Assessment{Assessment: "Moderate to Elevated Risk", Level: LevelElevated, Flags: flags}
	default:
		return Assessment{Assessment: "High Risk", Level: LevelHigh, Flags: flags}
	}
}

func interpretBeta(v float64) string {
	switch {
	case v < 0.8:
		return "Low volatility - defensive stock"
	case v < 1.2:
		return "Average market volatility"
	case v < 1.5:
		return "Above average volatility"
	default:
		return "High volatility - aggressive stock"
	}
}

func interpretAlpha(v float64) string {
	switch {
	case v > 10:
		return "Strong outperformance vs market"
	case v > 5:
		return "Moderate outperformance"
	case v > 0:
		return "Slight outperformance"
	case v > -5:
		return "Slight underperformance"
	default:
		return "Underperforming market expectations"
	}
}

func interpretZScore(v float64) string {
	switch {
	case v > GreyZoneThreshold:
		return "Safe Zone - low bankruptcy risk"
	case v > DistressZoneThreshold:
		return "Grey Zone - moderate risk, needs monitoring"
	default:
		return "Distress Zone - high bankruptcy risk"
	}
}

func interpretVolatility(v float64) string {
	switch {
	case v < 20:
		return "Low volatility"
	case v < 30:
		return "Moderate volatility"
	case v < 50:
		return "High volatility"
	default:
		return "Very high volatility"
	}
}

func interpretSharpe(v float64) string {
	switch {
	case v > 1.5:
		return "Excellent risk-adjusted return"
	case v > 1:
		return "Good risk-adjusted return"
	case v > 0.5:
		return "Moderate risk-adjusted return"
	case v > 0:
		return "Low but positive risk-adjusted return"
	default:
		return "Negative risk-adjusted return"
	}
}

func interpretMaxDrawdown(v float64) string {
	switch {
	case v < 10:
		return "Low drawdown - stable"
	case v < 20:
		return "Moderate drawdown"
	case v < 30:
		return "Significant drawdown"
	default:
		return "Severe drawdown - high risk"
	}
}

func interpretRiskScore(v float64, what string) string {
	switch {
	case v < 30:
		return fmt.Sprintf("Low %s risk", what)
	case v < 50:
		return fmt.Sprintf("Moderate %s risk", what)
	case v < 70:
		return fmt.Sprintf("Elevated %s risk", what)
	default:
		return fmt.Sprintf("High %s risk", what)
	}
}
