package metrics

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/wonny/aegis-analytics/internal/contracts"
	"github.com/wonny/aegis-analytics/pkg/logger"
)

// statutoryTaxRate is the US federal corporate rate used for NOPAT
const statutoryTaxRate = 0.21

// RatioReport groups the financial ratios by category
type RatioReport struct {
	Profitability Section
	Liquidity     Section
	Leverage      Section
	Efficiency    Section
	Growth        Section
	Cashflow      Section
}

// Sections returns the categories in report order
func (r RatioReport) Sections() []Section {
	return []Section{r.Profitability, r.Liquidity, r.Leverage, r.Efficiency, r.Growth, r.Cashflow}
}

// Payload converts the report to a stage payload
func (r RatioReport) Payload() contracts.Payload {
	return sectionsPayload(r.Sections()...)
}

// RatioCalculator calculates financial statement ratios
// ⭐ SSOT: 재무비율 계산은 여기서만
type RatioCalculator struct {
	logger *logger.Logger
}

// NewRatioCalculator creates a new ratio calculator
func NewRatioCalculator(log *logger.Logger) *RatioCalculator {
	return &RatioCalculator{logger: log}
}

// Calculate computes all ratio categories from the canonical record
func (c *RatioCalculator) Calculate(ctx context.Context, rec *contracts.CanonicalRecord) RatioReport {
	f := rec.Fundamentals
	report := RatioReport{
		Profitability: Section{Name: "profitability", Metrics: []Metric{
			grossMargin(f.IncomeStatement),
			margin("operating_margin", "operating", f.IncomeStatement.OperatingIncome, f.IncomeStatement.Revenue, "Operating Income / Revenue × 100"),
			margin("net_margin", "net", f.IncomeStatement.NetIncome, f.IncomeStatement.Revenue, "Net Income / Revenue × 100"),
			returnOn("roa", f.IncomeStatement.NetIncome, f.BalanceSheet.TotalAssets, "Net Income / Total Assets × 100", interpretROA),
			returnOn("roe", f.IncomeStatement.NetIncome, f.BalanceSheet.ShareholdersEquity, "Net Income / Shareholders' Equity × 100", interpretROE),
			roic(f),
		}},
		Liquidity: Section{Name: "liquidity", Metrics: []Metric{
			currentRatio(f.BalanceSheet),
			quickRatio(f.BalanceSheet),
			cashRatio(f.BalanceSheet),
			workingCapital(f.BalanceSheet),
			operatingCashFlowRatio(f),
		}},
		Leverage: Section{Name: "leverage", Metrics: []Metric{
			DebtToEquity(f.BalanceSheet),
			debtToAssets(f.BalanceSheet),
			interestCoverage(f.IncomeStatement),
		}},
		Efficiency: Section{Name: "efficiency", Metrics: []Metric{
			assetTurnover(f),
			inventoryTurnover(f),
			receivablesTurnover(f),
		}},
		Growth: Section{Name: "growth", Metrics: []Metric{
			revenueGrowth(f),
			netIncomeGrowth(f),
			operatingIncomeGrowth(f),
			epsGrowth(f),
			fcfGrowth(f),
		}},
		Cashflow: Section{Name: "cashflow", Metrics: []Metric{
			freeCashFlow(f.CashflowStatement),
			fcfMargin(f),
		}},
	}

	total, ok := Counts(report.Sections()...)
	c.logger.WithFields(map[string]interface{}{
		"ticker":     rec.Meta.Ticker,
		"calculated": total,
		"successful": ok,
	}).Debug("Calculated financial ratios")

	return report
}

func grossMargin(is contracts.IncomeStatement) Metric {
	const name = "gross_margin"
	revenue, ok := positive(is.Revenue)
	if !ok {
		return unavailable(name, "revenue not available")
	}
	if gp, ok := val(is.GrossProfit); ok {
		v := gp / revenue * 100
		return success(name, v, "%", "Gross Profit / Revenue × 100", SourceCalculated, interpretMargin(v, "gross"))
	}
	if cogs, ok := val(is.COGS); ok {
		v := (revenue - cogs) / revenue * 100
		return success(name, v, "%", "(Revenue - COGS) / Revenue × 100", SourceCalculated, interpretMargin(v, "gross"))
	}
	return unavailable(name, "gross profit and COGS not available")
}

func margin(name, kind string, numerator, revenue *float64, formula string) Metric {
	r, ok := positive(revenue)
	if !ok {
		return unavailable(name, "revenue not available")
	}
	n, ok := val(numerator)
	if !ok {
		return unavailable(name, fmt.Sprintf("%s income not available", kind))
	}
	v := n / r * 100
	return success(name, v, "%", formula, SourceCalculated, interpretMargin(v, kind))
}

func returnOn(name string, netIncome, base *float64, formula string, interpret func(float64) string) Metric {
	b, ok := positive(base)
	if !ok {
		return unavailable(name, "denominator not available or not positive")
	}
	ni, ok := val(netIncome)
	if !ok {
		return unavailable(name, "net income not available")
	}
	v := ni / b * 100
	return success(name, v, "%", formula, SourceCalculated, interpret(v))
}

// roic uses operating income taxed at the US statutory rate over debt plus
// equity net of cash
func roic(f contracts.Fundamentals) Metric {
	const name = "roic"
	opInc, ok := operatingIncome(f.IncomeStatement)
	if !ok {
		return unavailable(name, "operating income not available")
	}
	eq, ok := val(f.BalanceSheet.ShareholdersEquity)
	if !ok {
		return unavailable(name, "shareholders' equity not available")
	}
	debt, _ := val(f.BalanceSheet.TotalDebt)
	cash, _ := val(f.BalanceSheet.CashAndEquivalents)
	invested := debt + eq - cash
	if invested <= 0 {
		return unavailable(name, "invested capital is not positive")
	}
	v := opInc * (1 - statutoryTaxRate) / invested * 100
	return success(name, v, "%", "Operating Income × (1 - 21%) / (Total Debt + Equity - Cash) × 100", SourceCalculated, interpretROIC(v))
}

// operatingIncome prefers reported operating income over EBIT
func operatingIncome(is contracts.IncomeStatement) (float64, bool) {
	if v, ok := val(is.OperatingIncome); ok {
		return v, true
	}
	return val(is.EBIT)
}

func currentRatio(bs contracts.BalanceSheet) Metric {
	const name = "current_ratio"
	cl, ok := positive(bs.CurrentLiabilities)
	if !ok {
		return unavailable(name, "current liabilities not available")
	}
	ca, ok := val(bs.CurrentAssets)
	if !ok {
		return unavailable(name, "current assets not available")
	}
	v := ca / cl
	return success(name, v, "x", "Current Assets / Current Liabilities", SourceCalculated, interpretCurrentRatio(v))
}

func quickRatio(bs contracts.BalanceSheet) Metric {
	const name = "quick_ratio"
	cl, ok := positive(bs.CurrentLiabilities)
	if !ok {
		return unavailable(name, "current liabilities not available")
	}
	ca, ok := val(bs.CurrentAssets)
	if !ok {
		return unavailable(name, "current assets not available")
	}
	inv, _ := val(bs.Inventory)
	v := (ca - inv) / cl
	return success(name, v, "x", "(Current Assets - Inventory) / Current Liabilities", SourceCalculated, interpretQuickRatio(v))
}

func cashRatio(bs contracts.BalanceSheet) Metric {
	const name = "cash_ratio"
	cl, ok := positive(bs.CurrentLiabilities)
	if !ok {
		return unavailable(name, "current liabilities not available")
	}
	cash, ok := val(bs.CashAndEquivalents)
	if !ok {
		return unavailable(name, "cash not available")
	}
	v := cash / cl
	return success(name, v, "x", "Cash / Current Liabilities", SourceCalculated, interpretCashRatio(v))
}

func workingCapital(bs contracts.BalanceSheet) Metric {
	const name = "working_capital"
	ca, ok1 := val(bs.CurrentAssets)
	cl, ok2 := val(bs.CurrentLiabilities)
	if !ok1 || !ok2 {
		return unavailable(name, "current assets or liabilities not available")
	}
	v := ca - cl
	interp := "Positive"
	if v <= 0 {
		interp = "Negative - potential liquidity concern"
	}
	return success(name, v, "", "Current Assets - Current Liabilities", SourceCalculated, interp)
}

func operatingCashFlowRatio(f contracts.Fundamentals) Metric {
	const name = "operating_cash_flow_ratio"
	cl, ok := positive(f.BalanceSheet.CurrentLiabilities)
	if !ok {
		return unavailable(name, "current liabilities not available")
	}
	ocf, ok := val(f.CashflowStatement.OperatingCashflow)
	if !ok {
		return unavailable(name, "operating cash flow not available")
	}
	v := ocf / cl
	interp := "Strong"
	if v <= 1 {
		interp = "Weak cash coverage"
	}
	return success(name, v, "x", "Operating Cash Flow / Current Liabilities", SourceCalculated, interp)
}

// DebtToEquity is shared with the risk flags
func DebtToEquity(bs contracts.BalanceSheet) Metric {
	const name = "debt_to_equity"
	eq, ok := positive(bs.ShareholdersEquity)
	if !ok {
		return unavailable(name, "shareholders' equity not available or not positive")
	}
	debt, ok := val(bs.TotalDebt)
	if !ok {
		return unavailable(name, "total debt not available")
	}
	v := debt / eq
	return success(name, v, "x", "Total Debt / Shareholders' Equity", SourceCalculated, interpretDebtToEquity(v))
}

func debtToAssets(bs contracts.BalanceSheet) Metric {
	const name = "debt_to_assets"
	ta, ok := positive(bs.TotalAssets)
	if !ok {
		return unavailable(name, "total assets not available")
	}
	debt, ok := val(bs.TotalDebt)
	if !ok {
		return unavailable(name, "total debt not available")
	}
	v := debt / ta
	return success(name, v, "x", "Total Debt / Total Assets", SourceCalculated, interpretDebtToAssets(v))
}

func interestCoverage(is contracts.IncomeStatement) Metric {
	const name = "interest_coverage"
	interest, ok := val(is.InterestExpense)
	if !ok || interest == 0 {
		return unavailable(name, "interest expense not available")
	}
	ebit, ok := val(is.EBIT)
	if !ok {
		if ebit, ok = val(is.OperatingIncome); !ok {
			return unavailable(name, "EBIT not available")
		}
	}
	v := ebit / math.Abs(interest)
	return success(name, v, "x", "EBIT / Interest Expense", SourceCalculated, interpretInterestCoverage(v))
}

func assetTurnover(f contracts.Fundamentals) Metric {
	const name = "asset_turnover"
	ta, ok := positive(f.BalanceSheet.TotalAssets)
	if !ok {
		return unavailable(name, "total assets not available")
	}
	rev, ok := val(f.IncomeStatement.Revenue)
	if !ok {
		return unavailable(name, "revenue not available")
	}
	v := rev / ta
	return success(name, v, "x", "Revenue / Total Assets", SourceCalculated, interpretAssetTurnover(v))
}

// 서비스 업종은 재고 회전율 대상 아님
var (
	serviceSectors    = []string{"Communication Services", "Financial Services", "Technology", "Healthcare", "Real Estate", "Utilities"}
	serviceIndustries = []string{"Entertainment", "Software", "Banks", "Insurance", "Broadcasting", "Media", "Consulting", "Services"}
)

func holdsNoInventory(p contracts.PrecomputedRatios) bool {
	for _, s := range serviceSectors {
		if p.Sector == s {
			return true
		}
	}
	for _, ind := range serviceIndustries {
		if p.Industry != "" && strings.Contains(p.Industry, ind) {
			return true
		}
	}
	return false
}

func inventoryTurnover(f contracts.Fundamentals) Metric {
	const name = "inventory_turnover"
	inv, ok := positive(f.BalanceSheet.Inventory)
	if !ok {
		if holdsNoInventory(f.Precomputed) {
			what := f.Precomputed.Industry
			if what == "" {
				what = f.Precomputed.Sector
			}
			return unavailable(name, fmt.Sprintf("not applicable - %s companies don't hold physical inventory", what))
		}
		return unavailable(name, "company has no inventory on balance sheet")
	}
	cogs, ok := val(f.IncomeStatement.COGS)
	if !ok {
		rev, okRev := val(f.IncomeStatement.Revenue)
		gp, okGP := val(f.IncomeStatement.GrossProfit)
		if !okRev || !okGP {
			return unavailable(name, "cost of goods sold not available")
		}
		cogs = rev - gp
	}
	v := cogs / inv
	return success(name, v, "x", "COGS / Inventory", SourceCalculated, fmt.Sprintf("Inventory cycles %.1f times per year", v))
}

func receivablesTurnover(f contracts.Fundamentals) Metric {
	const name = "receivables_turnover"
	ar, ok := positive(f.BalanceSheet.AccountsReceivable)
	if !ok {
		return unavailable(name, "accounts receivable not available")
	}
	rev, ok := val(f.IncomeStatement.Revenue)
	if !ok {
		return unavailable(name, "revenue not available")
	}
	v := rev / ar
	return success(name, v, "x", "Revenue / Accounts Receivable", SourceCalculated, fmt.Sprintf("Collects receivables %.1f times per year", v))
}

func revenueGrowth(f contracts.Fundamentals) Metric {
	const name = "revenue_growth"
	if f.PreviousYear != nil {
		if v, ok := growth(f.IncomeStatement.Revenue, f.PreviousYear.Revenue); ok {
			return success(name, v, "%", "(Current Revenue - Prior Revenue) / Prior Revenue × 100", SourceCalculated, interpretGrowth(v, "revenue"))
		}
	}
	if g, ok := val(f.Precomputed.RevenueGrowth); ok {
		v := g * 100
		return success(name, v, "%", "(Current Revenue - Prior Revenue) / Prior Revenue × 100", SourcePrecomputed, interpretGrowth(v, "revenue"))
	}
	return unavailable(name, "prior-year revenue not available")
}

func netIncomeGrowth(f contracts.Fundamentals) Metric {
	const name = "net_income_growth"
	if f.PreviousYear == nil {
		return unavailable(name, "prior-year income statement not available")
	}
	v, ok := growth(f.IncomeStatement.NetIncome, f.PreviousYear.NetIncome)
	if !ok {
		return unavailable(name, "net income not available for both years")
	}
	return success(name, v, "%", "(Current Net Income - Prior Net Income) / |Prior Net Income| × 100", SourceCalculated, interpretGrowth(v, "net income"))
}

func operatingIncomeGrowth(f contracts.Fundamentals) Metric {
	const name = "operating_income_growth"
	if f.PreviousYear == nil {
		return unavailable(name, "prior-year income statement not available")
	}
	cur, ok1 := operatingIncome(f.IncomeStatement)
	prev, ok2 := operatingIncome(*f.PreviousYear)
	if !ok1 || !ok2 {
		return unavailable(name, "operating income not available for both years")
	}
	v, ok := growth(&cur, &prev)
	if !ok {
		return unavailable(name, "prior-year operating income is zero")
	}
	return success(name, v, "%", "(Current EBIT - Prior EBIT) / |Prior EBIT| × 100", SourceCalculated, interpretGrowth(v, "operating income"))
}

func epsGrowth(f contracts.Fundamentals) Metric {
	const name = "eps_growth"
	v, ok := growth(f.Precomputed.ForwardEPS, f.Precomputed.TrailingEPS)
	if !ok {
		return unavailable(name, "trailing and forward EPS not available")
	}
	return success(name, v, "%", "(Forward EPS - Trailing EPS) / |Trailing EPS| × 100", SourceCalculated, interpretGrowth(v, "EPS"))
}

func fcfGrowth(f contracts.Fundamentals) Metric {
	const name = "fcf_growth"
	if f.PreviousCashflow == nil {
		return unavailable(name, "prior-year cash flow statement not available")
	}
	cur, ok1 := FreeCashFlow(f.CashflowStatement)
	prev, ok2 := FreeCashFlow(*f.PreviousCashflow)
	if !ok1 || !ok2 {
		return unavailable(name, "free cash flow not available for both years")
	}
	v, ok := growth(&cur, &prev)
	if !ok {
		return unavailable(name, "prior-year free cash flow is zero")
	}
	return success(name, v, "%", "(Current FCF - Prior FCF) / |Prior FCF| × 100", SourceCalculated, interpretGrowth(v, "free cash flow"))
}

func growth(cur, prev *float64) (float64, bool) {
	c, ok := val(cur)
	if !ok {
		return 0, false
	}
	p, ok := val(prev)
	if !ok || p == 0 {
		return 0, false
	}
	return (c - p) / math.Abs(p) * 100, true
}

// FreeCashFlow returns reported FCF, or OCF - |CapEx|
func FreeCashFlow(cf contracts.CashflowStatement) (float64, bool) {
	if v, ok := val(cf.FreeCashflow); ok {
		return v, true
	}
	ocf, ok := val(cf.OperatingCashflow)
	if !ok {
		return 0, false
	}
	capex, ok := val(cf.CapitalExpenditures)
	if !ok {
		return 0, false
	}
	return ocf - math.Abs(capex), true
}

func freeCashFlow(cf contracts.CashflowStatement) Metric {
	const name = "free_cash_flow"
	v, ok := FreeCashFlow(cf)
	if !ok {
		return unavailable(name, "operating cash flow or capital expenditures not available")
	}
	interp := "Positive"
	if v <= 0 {
		interp = "Negative - cash burn"
	}
	return success(name, v, "", "Operating Cash Flow - Capital Expenditures", SourceCalculated, interp)
}

func fcfMargin(f contracts.Fundamentals) Metric {
	const name = "fcf_margin"
	rev, ok := positive(f.IncomeStatement.Revenue)
	if !ok {
		return unavailable(name, "revenue not available")
	}
	fcf, ok := FreeCashFlow(f.CashflowStatement)
	if !ok {
		return unavailable(name, "free cash flow not available")
	}
	v := fcf / rev * 100
	return success(name, v, "%", "Free Cash Flow / Revenue × 100", SourceCalculated, interpretMargin(v, "fcf"))
}

// =============================================================================
// Interpretation
// =============================================================================

func interpretMargin(v float64, kind string) string {
	switch kind {
	case "gross":
		switch {
		case v > 50:
			return "Excellent - strong pricing power"
		case v > 30:
			return "Good - healthy margins"
		case v > 20:
			return "Moderate - competitive industry"
		default:
			return "Low - may indicate pricing pressure"
		}
	case "operating":
		switch {
		case v > 25:
			return "Excellent - efficient operations"
		case v > 15:
			return "Good - well-managed costs"
		case v > 10:
			return "Moderate"
		default:
			return "Low - may need cost improvements"
		}
	default:
		switch {
		case v > 20:
			return "Excellent"
		case v > 10:
			return "Good"
		case v > 5:
			return "Moderate"
		default:
			return "Low"
		}
	}
}

func interpretROA(v float64) string {
	switch {
	case v > 15:
		return "Excellent - highly efficient asset utilization"
	case v > 10:
		return "Good - efficient use of assets"
	case v > 5:
		return "Moderate"
	default:
		return "Low - may indicate inefficiency"
	}
}

func interpretROE(v float64) string {
	switch {
	case v > 20:
		return "Excellent - strong returns for shareholders"
	case v > 15:
		return "Good"
	case v > 10:
		return "Moderate"
	default:
		return "Low"
	}
}

func interpretROIC(v float64) string {
	switch {
	case v > 15:
		return "Excellent - creating significant value"
	case v > 10:
		return "Good - creating value"
	case v > 5:
		return "Moderate"
	default:
		return "Low - may be destroying value"
	}
}

func interpretCurrentRatio(v float64) string {
	switch {
	case v > 2:
		return "Strong liquidity"
	case v > 1.5:
		return "Adequate liquidity"
	case v > 1:
		return "Acceptable"
	default:
		return "Potential liquidity risk"
	}
}

func interpretQuickRatio(v float64) string {
	switch {
	case v > 1.5:
		return "Strong liquidity"
	case v > 1:
		return "Adequate liquidity"
	default:
		return "May face short-term challenges"
	}
}

func interpretCashRatio(v float64) string {
	switch {
	case v > 1:
		return "Very strong cash position"
	case v > 0.5:
		return "Adequate cash"
	default:
		return "Limited cash cushion"
	}
}

func interpretDebtToEquity(v float64) string {
	switch {
	case v < 0.5:
		return "Conservative - low leverage"
	case v < 1:
		return "Moderate leverage"
	case v < 2:
		return "Higher leverage"
	default:
		return "High leverage - potential risk"
	}
}

func interpretDebtToAssets(v float64) string {
	switch {
	case v < 0.3:
		return "Conservative - low debt reliance"
	case v < 0.5:
		return "Moderate"
	default:
		return "High debt reliance"
	}
}

func interpretInterestCoverage(v float64) string {
	switch {
	case v > 10:
		return "Excellent - easily covers interest"
	case v > 5:
		return "Good"
	case v > 2:
		return "Adequate"
	default:
		return "Low - potential debt service risk"
	}
}

func interpretAssetTurnover(v float64) string {
	switch {
	case v > 1.5:
		return "Efficient asset utilization"
	case v > 1:
		return "Moderate efficiency"
	default:
		return "Lower efficiency - capital intensive"
	}
}

func interpretGrowth(v float64, what string) string {
	switch {
	case v > 20:
		return fmt.Sprintf("Strong %s growth", what)
	case v > 10:
		return fmt.Sprintf("Healthy %s growth", what)
	case v > 0:
		return fmt.Sprintf("Modest %s growth", what)
	case v > -10:
		return fmt.Sprintf("Slight %s decline", what)
	default:
		return fmt.Sprintf("Significant %s decline", what)
	}
}
