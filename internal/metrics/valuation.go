package metrics

import (
	"context"
	"fmt"
	"math"

	"github.com/wonny/aegis-analytics/internal/contracts"
	"github.com/wonny/aegis-analytics/pkg/logger"
)

// DCF growth bounds applied to the provider revenue growth
const (
	dcfMinGrowth = -0.05
	dcfMaxGrowth = 0.15
)

// ValuationReport holds multiples and the DCF estimate
type ValuationReport struct {
	Multiples Section
	DCF       Section
	Summary   string
}

// Sections returns the report sections
func (r ValuationReport) Sections() []Section {
	return []Section{r.Multiples, r.DCF}
}

// Payload converts the report to a stage payload
func (r ValuationReport) Payload() contracts.Payload {
	p := sectionsPayload(r.Sections()...)
	p["summary"] = r.Summary
	return p
}

// ValuationCalculator calculates valuation multiples and DCF value
// ⭐ SSOT: 밸류에이션 계산은 여기서만
type ValuationCalculator struct {
	logger *logger.Logger
}

// NewValuationCalculator creates a new valuation calculator
func NewValuationCalculator(log *logger.Logger) *ValuationCalculator {
	return &ValuationCalculator{logger: log}
}

// Calculate computes valuation metrics using the run's DCF parameters
func (c *ValuationCalculator) Calculate(ctx context.Context, rec *contracts.CanonicalRecord, cfg contracts.RunConfig) ValuationReport {
	in := newValuationInputs(rec)

	pe := peRatio(in)
	report := ValuationReport{
		Multiples: Section{Name: "metrics", Metrics: []Metric{
			pe,
			forwardPE(in),
			priceToBook(in),
			priceToSales(in),
			evToEBITDA(in),
			pegRatio(in, pe),
			earningsYield(in),
			dividendYield(in),
			bookValuePerShare(in),
		}},
	}

	iv := dcfValue(in, cfg)
	report.DCF = Section{Name: "dcf", Metrics: []Metric{iv, dcfUpside(in, iv)}}
	report.Summary = valuationSummary(report)

	total, ok := Counts(report.Sections()...)
	c.logger.WithFields(map[string]interface{}{
		"ticker":     rec.Meta.Ticker,
		"calculated": total,
		"successful": ok,
	}).Debug("Calculated valuation metrics")

	return report
}

// valuationInputs are the per-share figures derived once from the record
type valuationInputs struct {
	rec       *contracts.CanonicalRecord
	price     float64
	hasPrice  bool
	shares    float64
	hasShares bool
	eps       float64
	hasEPS    bool
	marketCap float64
	hasCap    bool
}

func newValuationInputs(rec *contracts.CanonicalRecord) valuationInputs {
	in := valuationInputs{rec: rec}
	f := rec.Fundamentals

	if p, ok := rec.LatestClose(); ok && p > 0 {
		in.price, in.hasPrice = p, true
	}
	in.shares, in.hasShares = positive(f.SharesOutstanding)

	if eps, ok := val(f.Precomputed.TrailingEPS); ok {
		in.eps, in.hasEPS = eps, true
	} else if ni, ok := val(f.IncomeStatement.NetIncome); ok && in.hasShares {
		in.eps, in.hasEPS = ni/in.shares, true
	}

	switch {
	case f.MarketCap != nil:
		in.marketCap, in.hasCap = positive(f.MarketCap)
	case rec.Meta.MarketCap != nil:
		in.marketCap, in.hasCap = positive(rec.Meta.MarketCap)
	case in.hasPrice && in.hasShares:
		in.marketCap, in.hasCap = in.price*in.shares, true
	}
	return in
}

func peRatio(in valuationInputs) Metric {
	const name = "pe_ratio"
	if in.hasPrice && in.hasEPS {
		if in.eps <= 0 {
			return unavailable(name, fmt.Sprintf("company has negative earnings (EPS %.2f)", in.eps))
		}
		v := in.price / in.eps
		return success(name, v, "x", "Stock Price / Earnings Per Share (TTM)", SourceCalculated, interpretPE(v))
	}
	if v, ok := positive(in.rec.Fundamentals.Precomputed.TrailingPE); ok {
		return success(name, v, "x", "Stock Price / Earnings Per Share (TTM)", SourcePrecomputed, interpretPE(v))
	}
	return unavailable(name, "price or earnings per share not available")
}

func forwardPE(in valuationInputs) Metric {
	const name = "forward_pe"
	v, ok := positive(in.rec.Fundamentals.Precomputed.ForwardPE)
	if !ok {
		return unavailable(name, "forward earnings estimate not available")
	}
	return success(name, v, "x", "Stock Price / Forward Earnings Per Share", SourcePrecomputed, interpretForwardPE(v))
}

func priceToBook(in valuationInputs) Metric {
	const name = "price_to_book"
	if eq, ok := positive(in.rec.Fundamentals.BalanceSheet.ShareholdersEquity); ok && in.hasPrice && in.hasShares {
		v := in.price / (eq / in.shares)
		return success(name, v, "x", "Stock Price / Book Value Per Share", SourceCalculated, interpretPB(v))
	}
	if v, ok := positive(in.rec.Fundamentals.Precomputed.PriceToBook); ok {
		return success(name, v, "x", "Stock Price / Book Value Per Share", SourcePrecomputed, interpretPB(v))
	}
	return unavailable(name, "book value per share not available")
}

func priceToSales(in valuationInputs) Metric {
	const name = "price_to_sales"
	if rev, ok := positive(in.rec.Fundamentals.IncomeStatement.Revenue); ok && in.hasCap {
		v := in.marketCap / rev
		return success(name, v, "x", "Market Cap / Revenue (TTM)", SourceCalculated, interpretPS(v))
	}
	if v, ok := positive(in.rec.Fundamentals.Precomputed.PriceToSales); ok {
		return success(name, v, "x", "Market Cap / Revenue (TTM)", SourcePrecomputed, interpretPS(v))
	}
	return unavailable(name, "market cap or revenue not available")
}

// enterpriseValue returns reported EV, or Market Cap + Debt - Cash
func enterpriseValue(in valuationInputs) (float64, bool) {
	f := in.rec.Fundamentals
	if ev, ok := val(f.EnterpriseValue); ok {
		return ev, true
	}
	if !in.hasCap {
		return 0, false
	}
	debt, _ := val(f.BalanceSheet.TotalDebt)
	cash, _ := val(f.BalanceSheet.CashAndEquivalents)
	return in.marketCap + debt - cash, true
}

func evToEBITDA(in valuationInputs) Metric {
	const name = "ev_to_ebitda"
	ev, okEV := enterpriseValue(in)
	if ebitda, ok := positive(in.rec.Fundamentals.IncomeStatement.EBITDA); ok && okEV {
		v := ev / ebitda
		return success(name, v, "x", "Enterprise Value / EBITDA", SourceCalculated, interpretEVEBITDA(v))
	}
	if v, ok := positive(in.rec.Fundamentals.Precomputed.EVToEBITDA); ok {
		return success(name, v, "x", "Enterprise Value / EBITDA", SourcePrecomputed, interpretEVEBITDA(v))
	}
	return unavailable(name, "enterprise value or positive EBITDA not available")
}

func pegRatio(in valuationInputs, pe Metric) Metric {
	const name = "peg_ratio"
	if g, ok := positive(in.rec.Fundamentals.Precomputed.EarningsGrowth); ok && pe.OK() {
		v := pe.Value / (g * 100)
		return success(name, v, "x", "P/E Ratio / EPS Growth Rate", SourceCalculated, interpretPEG(v))
	}
	if v, ok := positive(in.rec.Fundamentals.Precomputed.PEGRatio); ok {
		return success(name, v, "x", "P/E Ratio / EPS Growth Rate", SourcePrecomputed, interpretPEG(v))
	}
	return unavailable(name, "PEG ratio requires positive P/E and growth data")
}

func earningsYield(in valuationInputs) Metric {
	const name = "earnings_yield"
	if !in.hasPrice || !in.hasEPS {
		return unavailable(name, "price or earnings per share not available")
	}
	v := in.eps / in.price * 100
	return success(name, v, "%", "EPS / Stock Price × 100", SourceCalculated, interpretEarningsYield(v))
}

func dividendYield(in valuationInputs) Metric {
	const name = "dividend_yield"
	dy, ok := val(in.rec.Fundamentals.Precomputed.DividendYield)
	if !ok || dy < 0 {
		return unavailable(name, "dividend yield not available")
	}
	// 제공자별로 비율(0.0044) 또는 퍼센트(0.44)로 옴
	v := dy
	if v <= 1 {
		v *= 100
	}
	if v > 20 {
		v /= 100
	}
	return success(name, v, "%", "Annual Dividend / Stock Price × 100", SourcePrecomputed, interpretDividendYield(v))
}

func bookValuePerShare(in valuationInputs) Metric {
	const name = "book_value_per_share"
	if !in.hasShares {
		return unavailable(name, "shares outstanding not available")
	}
	eq, ok := val(in.rec.Fundamentals.BalanceSheet.ShareholdersEquity)
	if !ok {
		return unavailable(name, "shareholders' equity not available")
	}
	v := eq / in.shares
	return success(name, v, "", "Shareholders' Equity / Shares Outstanding", SourceCalculated, fmt.Sprintf("Net asset value of %.2f per share", v))
}

// dcfValue projects free cash flow over ForecastYears, adds a Gordon-growth
// terminal value and returns equity value per share.
func dcfValue(in valuationInputs, cfg contracts.RunConfig) Metric {
	const name = "dcf_intrinsic_value"
	f := in.rec.Fundamentals

	fcf, ok := FreeCashFlow(f.CashflowStatement)
	if !ok {
		return unavailable(name, "free cash flow not available")
	}
	if fcf <= 0 {
		return unavailable(name, "free cash flow is not positive")
	}
	if !in.hasShares {
		return unavailable(name, "shares outstanding not available")
	}
	r, tg, years := cfg.DiscountRate, cfg.TerminalGrowth, cfg.ForecastYears
	if years <= 0 || r <= tg {
		return unavailable(name, "discount rate must exceed terminal growth")
	}

	g := tg
	if rg, ok := val(f.Precomputed.RevenueGrowth); ok {
		g = math.Max(dcfMinGrowth, math.Min(dcfMaxGrowth, rg))
	}

	var pv float64
	cash := fcf
	for t := 1; t <= years; t++ {
		cash *= 1 + g
		pv += cash / math.Pow(1+r, float64(t))
	}
	terminal := cash * (1 + tg) / (r - tg)
	pv += terminal / math.Pow(1+r, float64(years))

	debt, _ := val(f.BalanceSheet.TotalDebt)
	netCash, _ := val(f.BalanceSheet.CashAndEquivalents)
	equity := pv - debt + netCash
	v := equity / in.shares

	formula := fmt.Sprintf("Σ FCF·(1+%.3f)^t/(1+%.3f)^t for t≤%d + TV(g=%.3f), less net debt, per share", g, r, years, tg)
	interp := "Positive intrinsic value"
	if v <= 0 {
		interp = "Debt exceeds discounted cash flows"
	}
	return success(name, v, "", formula, SourceCalculated, interp)
}

func dcfUpside(in valuationInputs, iv Metric) Metric {
	const name = "dcf_upside"
	if !iv.OK() {
		return unavailable(name, "intrinsic value not available")
	}
	if !in.hasPrice {
		return unavailable(name, "current price not available")
	}
	v := (iv.Value/in.price - 1) * 100
	var interp string
	switch {
	case v > 20:
		interp = "Trading well below estimated intrinsic value"
	case v > 0:
		interp = "Trading slightly below estimated intrinsic value"
	case v > -20:
		interp = "Trading slightly above estimated intrinsic value"
	default:
		interp = "Trading well above estimated intrinsic value"
	}
	return success(name, v, "%", "(Intrinsic Value / Price - 1) × 100", SourceCalculated, interp)
}

func valuationSummary(r ValuationReport) string {
	pe, _ := r.Multiples.Get("pe_ratio")
	up, _ := r.DCF.Get("dcf_upside")
	switch {
	case pe.OK() && up.OK():
		return fmt.Sprintf("P/E of %.2fx (%s); DCF implies %+.2f%% versus the current price.", pe.Value, pe.Interpretation, up.Value)
	case pe.OK():
		return fmt.Sprintf("P/E of %.2fx (%s); DCF estimate not available.", pe.Value, pe.Interpretation)
	case up.OK():
		return fmt.Sprintf("P/E not available; DCF implies %+.2f%% versus the current price.", up.Value)
	default:
		return "No valuation summary available"
	}
}

func interpretPE(v float64) string {
	switch {
	case v < 15:
		return "Low valuation - potentially undervalued or low growth"
	case v < 25:
		return "Moderate valuation"
	case v < 40:
		return "High valuation - high growth expected"
	default:
		return "Very high valuation - requires exceptional growth"
	}
}

func interpretForwardPE(v float64) string {
	switch {
	case v < 15:
		return "Low forward valuation"
	case v < 20:
		return "Moderate forward valuation"
	case v < 30:
		return "High forward valuation"
	default:
		return "Very high forward valuation"
	}
}

func interpretPB(v float64) string {
	switch {
	case v < 1:
		return "Trading below book value - potentially undervalued"
	case v < 3:
		return "Moderate valuation relative to assets"
	case v < 5:
		return "Premium valuation"
	default:
		return "High premium - asset-light or intangible-heavy business"
	}
}

func interpretPS(v float64) string {
	switch {
	case v < 2:
		return "Low valuation relative to sales"
	case v < 5:
		return "Moderate valuation"
	case v < 10:
		return "High valuation"
	default:
		return "Very high valuation relative to sales"
	}
}

func interpretEVEBITDA(v float64) string {
	switch {
	case v < 10:
		return "Low valuation - potentially undervalued"
	case v < 15:
		return "Moderate valuation"
	case v < 20:
		return "High valuation"
	default:
		return "Very high valuation"
	}
}

func interpretPEG(v float64) string {
	switch {
	case v < 1:
		return "Potentially undervalued relative to growth"
	case v < 1.5:
		return "Fair valuation relative to growth"
	case v < 2:
		return "Premium valuation relative to growth"
	default:
		return "High valuation relative to growth rate"
	}
}

func interpretDividendYield(v float64) string {
	switch {
	case v > 5:
		return "High yield - income stock"
	case v > 2:
		return "Moderate yield"
	case v > 0:
		return "Low yield - growth focused"
	default:
		return "No dividend"
	}
}

func interpretEarningsYield(v float64) string {
	switch {
	case v > 8:
		return "High earnings yield - potentially undervalued"
	case v > 5:
		return "Moderate earnings yield"
	case v > 2:
		return "Low earnings yield - growth stock characteristics"
	default:
		return "Very low earnings yield"
	}
}
