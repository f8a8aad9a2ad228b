package stages

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/wonny/aegis-analytics/internal/contracts"
	"github.com/wonny/aegis-analytics/internal/pipeline"
	"github.com/wonny/aegis-analytics/internal/runstate"
	"github.com/wonny/aegis-analytics/pkg/logger"
)

// Outlook values
const (
	OutlookPositive = "Positive"
	OutlookCautious = "Cautious"
	OutlookNeutral  = "Neutral"
)

// Disclaimer is attached to every report
const Disclaimer = "DISCLAIMER: This report is for informational purposes only and does not constitute " +
	"financial advice. All metrics are calculated from publicly available data and may " +
	"not reflect real-time market conditions. Always consult with a qualified financial " +
	"advisor before making investment decisions."

var ratioCategories = []string{"profitability", "liquidity", "leverage", "efficiency", "growth", "cashflow"}

// PresentationStage assembles the final report from Layer 1 and whatever
// Layer 2 results are available. It performs no calculation of its own.
type PresentationStage struct {
	logger *logger.Logger
}

// NewPresentationStage creates the Layer 3 stage
func NewPresentationStage(log *logger.Logger) *PresentationStage {
	return &PresentationStage{logger: log}
}

func (s *PresentationStage) Name() contracts.StageName { return contracts.StagePresentation }
func (s *PresentationStage) Kind() pipeline.Kind { return pipeline.KindPresent }
func (s *PresentationStage) DependsOn() []contracts.StageName {
	return []contracts.StageName{
		contracts.StageDataFetch,
		contracts.StageRatioMetrics,
		contracts.StageValuationMetrics,
		contracts.StageRiskMetrics,
	}
}

// Execute implements pipeline.Stage
func (s *PresentationStage) Execute(ctx context.Context, in pipeline.Input) (contracts.Payload, error) {
	rec, err := canonicalRecord(in)
	if err != nil {
		return nil, err
	}

	ratios := s.optional(in, contracts.StageRatioMetrics)
	valuation := s.optional(in, contracts.StageValuationMetrics)
	risk := s.optional(in, contracts.StageRiskMetrics)

	price, _ := rec.LatestClose()
	rec52High, rec52Low := priceRange(rec)

	report := contracts.Payload{
		"meta": map[string]any{
			"ticker":         rec.Meta.Ticker,
			"company_name":   rec.Meta.CompanyName,
			"currency":       rec.Meta.Currency,
			"period":         in.Request.Config.Period,
			"forecast_years": float64(in.Request.Config.ForecastYears),
			"data_as_of":     lastDate(rec),
		},
		"executive_summary": executiveSummary(rec, price, ratios, valuation, risk),
		"company_overview": map[string]any{
			"ticker":        rec.Meta.Ticker,
			"company_name":  rec.Meta.CompanyName,
			"exchange":      rec.Meta.Exchange,
			"sector":        orUnknown(rec.Fundamentals.Precomputed.Sector),
			"industry":      orUnknown(rec.Fundamentals.Precomputed.Industry),
			"current_price": price,
			"market_cap":    optionalFloat(rec.Fundamentals.MarketCap, rec.Meta.MarketCap),
			"52_week_high":  rec52High,
			"52_week_low":   rec52Low,
			"news_count":    float64(len(rec.News)),
		},
		"financial_analysis":        financialAnalysis(ratios),
		"valuation_analysis":        valuationAnalysis(valuation),
		"risk_assessment":           riskAssessment(risk),
		"investment_recommendation": recommendation(ratios, valuation, risk),
		"disclaimer":                Disclaimer,
		"calculated": map[string]any{
			string(contracts.StageRatioMetrics):     counts(ratios),
			string(contracts.StageValuationMetrics): counts(valuation),
			string(contracts.StageRiskMetrics):      counts(risk),
		},
	}

	s.logger.WithFields(map[string]interface{}{
		"run_id":    in.RunID,
		"ticker":    rec.Meta.Ticker,
		"ratios":    ratios != nil,
		"valuation": valuation != nil,
		"risk":      risk != nil,
	}).Info("Assembled report")

	return report, nil
}

// optional reads a Layer 2 payload; a missing or failed stage yields nil
func (s *PresentationStage) optional(in pipeline.Input, name contracts.StageName) contracts.Payload {
	if !in.State.Has(name) {
		return nil
	}
	p, err := runstate.ReadPayload(in.State, name)
	if err != nil {
		s.logger.WithField("stage", name).Debug("Section unavailable: " + err.Error())
		return nil
	}
	return p
}

// =============================================================================
// Sections
// =============================================================================

func executiveSummary(rec *contracts.CanonicalRecord, price float64, ratios, valuation, risk contracts.Payload) map[string]any {
	var keyMetrics []any
	if v, ok := metricValue(valuation, "metrics", "pe_ratio"); ok {
		keyMetrics = append(keyMetrics, fmt.Sprintf("P/E Ratio: %.2fx (%s)", v, metricInterpretation(valuation, "metrics", "pe_ratio")))
	}
	if v, ok := metricValue(ratios, "profitability", "roe"); ok {
		keyMetrics = append(keyMetrics, fmt.Sprintf("ROE: %.2f%%", v))
	}
	if v, ok := metricValue(valuation, "dcf", "dcf_upside"); ok {
		keyMetrics = append(keyMetrics, fmt.Sprintf("DCF upside: %+.2f%%", v))
	}
	if keyMetrics == nil {
		keyMetrics = []any{}
	}

	riskLevel := "Not assessed"
	if overall, ok := risk.Map("overall_risk"); ok {
		if a, ok := overall.String("assessment"); ok {
			riskLevel = a
		}
	}

	name := rec.Meta.CompanyName
	if name == "" {
		name = rec.Meta.Ticker
	}
	return map[string]any{
		"company":       fmt.Sprintf("%s (%s)", name, rec.Meta.Ticker),
		"current_price": price,
		"key_metrics":   keyMetrics,
		"risk_level":    riskLevel,
		"summary":       fmt.Sprintf("Comprehensive analysis of %s covering financial health, valuation, and risk factors.", name),
	}
}

func financialAnalysis(ratios contracts.Payload) map[string]any {
	out := make(map[string]any, len(ratioCategories)+1)
	for _, c := range ratioCategories {
		out[c] = formatSection(ratios, c)
	}
	out["available"] = ratios != nil
	return out
}

func valuationAnalysis(valuation contracts.Payload) map[string]any {
	summary, ok := valuation.String("summary")
	if !ok {
		summary = "No valuation summary available"
	}
	return map[string]any{
		"metrics":   formatSection(valuation, "metrics"),
		"dcf":       formatSection(valuation, "dcf"),
		"summary":   summary,
		"available": valuation != nil,
	}
}

func riskAssessment(risk contracts.Payload) map[string]any {
	overall, ok := risk.Map("overall_risk")
	if !ok {
		overall = contracts.Payload{"assessment": "Not assessed", "level": "unknown", "flags": []any{}, "flag_count": 0.0}
	}
	return map[string]any{
		"market_risk":        formatSection(risk, "market_risk"),
		"financial_risk":     formatSection(risk, "financial_risk"),
		"overall_assessment": map[string]any(overall),
		"available":          risk != nil,
	}
}

func recommendation(ratios, valuation, risk contracts.Payload) map[string]any {
	positives := []any{}
	concerns := []any{}

	if roe, ok := metricValue(ratios, "profitability", "roe"); ok && roe > 15 {
		positives = append(positives, fmt.Sprintf("Strong ROE of %.2f%%", roe))
	}
	if cr, ok := metricValue(ratios, "liquidity", "current_ratio"); ok {
		switch {
		case cr > 1.5:
			positives = append(positives, "Healthy liquidity position")
		case cr < 1:
			concerns = append(concerns, "Low current ratio indicates liquidity risk")
		}
	}
	if peg, ok := metricValue(valuation, "metrics", "peg_ratio"); ok {
		switch {
		case peg < 1:
			positives = append(positives, "PEG < 1 suggests undervaluation")
		case peg > 2:
			concerns = append(concerns, "PEG > 2 suggests premium valuation")
		}
	}
	if up, ok := metricValue(valuation, "dcf", "dcf_upside"); ok {
		switch {
		case up > 20:
			positives = append(positives, fmt.Sprintf("DCF estimate implies %.2f%% upside", up))
		case up < -20:
			concerns = append(concerns, fmt.Sprintf("DCF estimate implies %.2f%% downside", -up))
		}
	}
	if overall, ok := risk.Map("overall_risk"); ok {
		if flags, ok := overall["flags"].([]any); ok {
			concerns = append(concerns, flags...)
		}
	}

	outlook := OutlookNeutral
	switch {
	case len(positives) > len(concerns):
		outlook = OutlookPositive
	case len(concerns) > len(positives):
		outlook = OutlookCautious
	}

	return map[string]any{
		"outlook":   outlook,
		"positives": positives,
		"concerns":  concerns,
		"considerations": []any{
			"Past performance does not guarantee future results",
			"Consider your personal risk tolerance",
			"Diversification is recommended",
		},
	}
}

func counts(p contracts.Payload) map[string]any {
	total, _ := p.Float("metrics_calculated")
	ok, _ := p.Float("metrics_successful")
	return map[string]any{
		"available":  p != nil,
		"calculated": total,
		"successful": ok,
	}
}

// =============================================================================
// Payload helpers
// =============================================================================

// metricEntry returns a successful metric map from section/name
func metricEntry(p contracts.Payload, section, name string) (contracts.Payload, bool) {
	sec, ok := p.Map(section)
	if !ok {
		return nil, false
	}
	m, ok := sec.Map(name)
	if !ok {
		return nil, false
	}
	if status, _ := m.String("status"); status != "success" {
		return nil, false
	}
	return m, true
}

func metricValue(p contracts.Payload, section, name string) (float64, bool) {
	m, ok := metricEntry(p, section, name)
	if !ok {
		return 0, false
	}
	return m.Float("value")
}

func metricInterpretation(p contracts.Payload, section, name string) string {
	m, _ := metricEntry(p, section, name)
	s, _ := m.String("interpretation")
	return s
}

// formatSection lists the successful metrics of a section sorted by name
func formatSection(p contracts.Payload, section string) []any {
	sec, ok := p.Map(section)
	if !ok {
		return []any{}
	}

	names := make([]string, 0, len(sec))
	for name := range sec {
		names = append(names, name)
	}
	sort.Strings(names)

	out := []any{}
	for _, name := range names {
		m, ok := metricEntry(p, section, name)
		if !ok {
			continue
		}
		v, _ := m.Float("value")
		unit, _ := m.String("unit")
		interp, _ := m.String("interpretation")
		out = append(out, map[string]any{
			"name":           displayName(name),
			"value":          v,
			"unit":           unit,
			"interpretation": interp,
		})
	}
	return out
}

// displayName turns "debt_to_equity" into "Debt To Equity"
func displayName(name string) string {
	words := strings.Split(name, "_")
	for i, w := range words {
		if w == "" {
			continue
		}
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}

func priceRange(rec *contracts.CanonicalRecord) (any, any) {
	if len(rec.PriceHistory) == 0 {
		return nil, nil
	}
	bars := rec.PriceHistory
	if len(bars) > contracts.PeriodTradingDays("1y") {
		bars = bars[len(bars)-contracts.PeriodTradingDays("1y"):]
	}
	hi, lo := bars[0].Close, bars[0].Close
	for _, b := range bars[1:] {
		if b.Close > hi {
			hi = b.Close
		}
		if b.Close < lo {
			lo = b.Close
		}
	}
	return hi, lo
}

func lastDate(rec *contracts.CanonicalRecord) string {
	if len(rec.PriceHistory) == 0 {
		return ""
	}
	return rec.PriceHistory[len(rec.PriceHistory)-1].Date
}

func optionalFloat(candidates ...*float64) any {
	for _, c := range candidates {
		if c != nil {
			return *c
		}
	}
	return nil
}

func orUnknown(s string) string {
	if s == "" {
		return "Unknown"
	}
	return s
}
