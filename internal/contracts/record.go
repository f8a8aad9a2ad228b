package contracts

import (
	"encoding/json"
	"fmt"
)

// CanonicalRecord is the normalized provider output consumed by Layer 2
// ⭐ SSOT: L1 → L2 데이터 전달 형식
type CanonicalRecord struct {
	Meta         RecordMeta     `json:"meta"`
	PriceHistory []PriceBar     `json:"price_history"`
	MarketIndex  *MarketIndex   `json:"market_index,omitempty"`
	Fundamentals Fundamentals   `json:"fundamentals"`
	Info         map[string]any `json:"info,omitempty"` // provider 원본 필드 (외부 노출 금지)
	News         []NewsItem     `json:"news"`
}

// RecordMeta describes the security and data provenance
type RecordMeta struct {
	Ticker         string            `json:"ticker"`
	Exchange       string            `json:"exchange"`
	CompanyName    string            `json:"company_name"`
	Currency       string            `json:"currency"`
	MarketCap      *float64          `json:"market_cap,omitempty"`
	FetchTime      string            `json:"fetch_time,omitempty"`
	SourceVersions map[string]string `json:"source_versions,omitempty"`
}

// PriceBar is one daily OHLCV observation
type PriceBar struct {
	Date   string  `json:"date"`
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume int64   `json:"volume"`
}

// MarketIndex holds benchmark closes used for beta
type MarketIndex struct {
	Symbol       string     `json:"symbol"`
	Name         string     `json:"name"`
	PriceHistory []PriceBar `json:"price_history"`
}

// Fundamentals holds the latest annual statements. Nil pointers mean unavailable.
type Fundamentals struct {
	SharesOutstanding *float64           `json:"shares_outstanding,omitempty"`
	MarketCap         *float64           `json:"market_cap,omitempty"`
	EnterpriseValue   *float64           `json:"enterprise_value,omitempty"`
	IncomeStatement   IncomeStatement    `json:"income_statement"`
	BalanceSheet      BalanceSheet       `json:"balance_sheet"`
	CashflowStatement CashflowStatement  `json:"cashflow_statement"`
	Precomputed       PrecomputedRatios  `json:"precomputed_ratios"`
	PreviousYear      *IncomeStatement   `json:"previous_year,omitempty"` // 성장률 계산용
	PreviousCashflow  *CashflowStatement `json:"previous_cashflow,omitempty"`
}

// IncomeStatement is the latest annual income statement
type IncomeStatement struct {
	Revenue         *float64 `json:"revenue,omitempty"`
	COGS            *float64 `json:"cogs,omitempty"`
	GrossProfit     *float64 `json:"gross_profit,omitempty"`
	OperatingIncome *float64 `json:"operating_income,omitempty"`
	EBIT            *float64 `json:"ebit,omitempty"`
	EBITDA          *float64 `json:"ebitda,omitempty"`
	NetIncome       *float64 `json:"net_income,omitempty"`
	InterestExpense *float64 `json:"interest_expense,omitempty"`
}

// BalanceSheet is the latest annual balance sheet
type BalanceSheet struct {
	TotalAssets        *float64 `json:"total_assets,omitempty"`
	CurrentAssets      *float64 `json:"current_assets,omitempty"`
	CashAndEquivalents *float64 `json:"cash_and_equivalents,omitempty"`
	AccountsReceivable *float64 `json:"accounts_receivable,omitempty"`
	Inventory          *float64 `json:"inventory,omitempty"`
	TotalLiabilities   *float64 `json:"total_liabilities,omitempty"`
	CurrentLiabilities *float64 `json:"current_liabilities,omitempty"`
	AccountsPayable    *float64 `json:"accounts_payable,omitempty"`
	TotalDebt          *float64 `json:"total_debt,omitempty"`
	ShareholdersEquity *float64 `json:"shareholders_equity,omitempty"`
	RetainedEarnings   *float64 `json:"retained_earnings,omitempty"`
}

// CashflowStatement is the latest annual cash flow statement
type CashflowStatement struct {
	OperatingCashflow   *float64 `json:"operating_cashflow,omitempty"`
	CapitalExpenditures *float64 `json:"capital_expenditures,omitempty"`
	FreeCashflow        *float64 `json:"free_cashflow,omitempty"`
}

// PrecomputedRatios are provider-side ratios used as fallbacks
type PrecomputedRatios struct {
	TrailingPE     *float64 `json:"trailing_pe,omitempty"`
	ForwardPE      *float64 `json:"forward_pe,omitempty"`
	PriceToBook    *float64 `json:"price_to_book,omitempty"`
	PriceToSales   *float64 `json:"price_to_sales,omitempty"`
	EVToEBITDA     *float64 `json:"ev_to_ebitda,omitempty"`
	PEGRatio       *float64 `json:"peg_ratio,omitempty"`
	Beta           *float64 `json:"beta,omitempty"`
	DividendYield  *float64 `json:"dividend_yield,omitempty"`
	EarningsGrowth *float64 `json:"earnings_growth,omitempty"`
	RevenueGrowth  *float64 `json:"revenue_growth,omitempty"`
	TrailingEPS    *float64 `json:"trailing_eps,omitempty"`
	ForwardEPS     *float64 `json:"forward_eps,omitempty"`
	Sector         string   `json:"sector,omitempty"`
	Industry       string   `json:"industry,omitempty"`
}

// NewsItem is a normalized news article
type NewsItem struct {
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	URL         string   `json:"url"`
	PublishedAt string   `json:"published_at,omitempty"`
	Source      string   `json:"source,omitempty"`
	Sentiment   *float64 `json:"sentiment,omitempty"`
	Relevance   *float64 `json:"relevance,omitempty"`
	Type        string   `json:"type"`
}

// LatestClose returns the last close in the price history
func (r *CanonicalRecord) LatestClose() (float64, bool) {
	if len(r.PriceHistory) == 0 {
		return 0, false
	}
	return r.PriceHistory[len(r.PriceHistory)-1].Close, true
}

// Closes returns the close series in date order
func (r *CanonicalRecord) Closes() []float64 {
	out := make([]float64, len(r.PriceHistory))
	for i, bar := range r.PriceHistory {
		out[i] = bar.Close
	}
	return out
}

// ToPayload converts the record into the generic payload stored in RunState
func (r *CanonicalRecord) ToPayload() (Payload, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("marshal canonical record: %w", err)
	}
	var p Payload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("unmarshal canonical record payload: %w", err)
	}
	return p, nil
}

// RecordFromPayload reverses ToPayload
func RecordFromPayload(p Payload) (*CanonicalRecord, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	var r CanonicalRecord
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("decode canonical record: %w", err)
	}
	return &r, nil
}

// Float returns a pointer to v, for building records in code and tests
func Float(v float64) *float64 {
	return &v
}
