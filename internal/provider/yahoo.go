package provider

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/wonny/aegis-analytics/internal/contracts"
	"github.com/wonny/aegis-analytics/pkg/httputil"
	"github.com/wonny/aegis-analytics/pkg/logger"
)

// DefaultIndexSymbol is the benchmark used for beta
const DefaultIndexSymbol = "^GSPC"

const summaryModules = "price,summaryProfile,defaultKeyStatistics,financialData," +
	"incomeStatementHistory,balanceSheetHistory,cashflowStatementHistory"

// YahooClient fetches prices and fundamentals from the Yahoo Finance JSON API
// ⭐ SSOT: Yahoo Finance 호출은 이 클라이언트에서만
type YahooClient struct {
	httpClient  *httputil.Client
	logger      *logger.Logger
	baseURL     string
	indexSymbol string
}

// NewYahooClient creates a new Yahoo Finance client
func NewYahooClient(httpClient *httputil.Client, baseURL string, log *logger.Logger) *YahooClient {
	if baseURL == "" {
		baseURL = "https://query1.finance.yahoo.com"
	}
	return &YahooClient{
		httpClient:  httpClient,
		logger:      log,
		baseURL:     strings.TrimRight(baseURL, "/"),
		indexSymbol: DefaultIndexSymbol,
	}
}

// ProviderName implements Named
func (c *YahooClient) ProviderName() string { return ProviderYahoo }

// Fetch builds a canonical record without news
func (c *YahooClient) Fetch(ctx context.Context, ticker, period string) (*contracts.CanonicalRecord, error) {
	chart, err := c.FetchChart(ctx, ticker, period)
	if err != nil {
		return nil, fetchErr(ProviderYahoo, err)
	}
	if len(chart.Bars) == 0 {
		return nil, fetchErr(ProviderYahoo, fmt.Errorf("%w: no price history for %s", ErrNoData, ticker))
	}

	summary, err := c.fetchSummary(ctx, ticker)
	if err != nil {
		return nil, fetchErr(ProviderYahoo, err)
	}

	rec := &contracts.CanonicalRecord{
		Meta: contracts.RecordMeta{
			Ticker:      ticker,
			Exchange:    chart.Exchange,
			CompanyName: summary.companyName(ticker),
			Currency:    chart.Currency,
			MarketCap:   summary.Price.MarketCap.ptr(),
		},
		PriceHistory: chart.Bars,
		Fundamentals: summary.fundamentals(),
		Info:         summary.info(),
	}

	// 벤치마크 실패는 치명적이지 않음: beta는 provider 값으로 대체
	index, err := c.FetchChart(ctx, c.indexSymbol, period)
	if err != nil {
		c.logger.WithError(err).WithField("symbol", c.indexSymbol).Warn("Market index fetch failed")
	} else {
		rec.MarketIndex = &contracts.MarketIndex{
			Symbol:       c.indexSymbol,
			Name:         indexName(c.indexSymbol),
			PriceHistory: index.Bars,
		}
	}

	c.logger.WithFields(map[string]interface{}{
		"ticker": ticker,
		"period": period,
		"bars":   len(rec.PriceHistory),
	}).Debug("Fetched Yahoo record")

	return rec, nil
}

func indexName(symbol string) string {
	if symbol == DefaultIndexSymbol {
		return "S&P 500"
	}
	return symbol
}

// =============================================================================
// Chart API
// =============================================================================

// Chart is the parsed daily price series
type Chart struct {
	Symbol   string
	Currency string
	Exchange string
	Bars     []contracts.PriceBar
}

type chartResponse struct {
	Chart struct {
		Result []struct {
			Meta struct {
				Symbol       string `json:"symbol"`
				Currency     string `json:"currency"`
				ExchangeName string `json:"exchangeName"`
			} `json:"meta"`
			Timestamp  []int64 `json:"timestamp"`
			Indicators struct {
				Quote []struct {
					Open   []*float64 `json:"open"`
					High   []*float64 `json:"high"`
					Low    []*float64 `json:"low"`
					Close  []*float64 `json:"close"`
					Volume []*int64   `json:"volume"`
				} `json:"quote"`
			} `json:"indicators"`
		} `json:"result"`
		Error *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

// FetchChart fetches daily bars for a symbol
func (c *YahooClient) FetchChart(ctx context.Context, symbol, period string) (*Chart, error) {
	params := url.Values{}
	params.Set("range", period)
	params.Set("interval", "1d")
	fullURL := fmt.Sprintf("%s/v8/finance/chart/%s?%s", c.baseURL, url.PathEscape(symbol), params.Encode())

	var resp chartResponse
	if err := c.httpClient.GetJSON(ctx, fullURL, nil, &resp); err != nil {
		return nil, fmt.Errorf("chart %s: %w", symbol, err)
	}
	if resp.Chart.Error != nil {
		return nil, fmt.Errorf("chart %s: %s: %s", symbol, resp.Chart.Error.Code, resp.Chart.Error.Description)
	}
	if len(resp.Chart.Result) == 0 {
		return nil, fmt.Errorf("chart %s: %w", symbol, ErrNoData)
	}

	r := resp.Chart.Result[0]
	chart := &Chart{Symbol: r.Meta.Symbol, Currency: r.Meta.Currency, Exchange: r.Meta.ExchangeName}
	if len(r.Indicators.Quote) == 0 {
		return chart, nil
	}
	q := r.Indicators.Quote[0]

	for i, ts := range r.Timestamp {
		// close가 없는 bar(휴장, 장중 미확정)는 건너뜀
		cl := at(q.Close, i)
		if cl == nil || *cl <= 0 {
			continue
		}
		bar := contracts.PriceBar{
			Date:  time.Unix(ts, 0).UTC().Format("2006-01-02"),
			Close: *cl,
		}
		if v := at(q.Open, i); v != nil {
			bar.Open = *v
		}
		if v := at(q.High, i); v != nil {
			bar.High = *v
		}
		if v := at(q.Low, i); v != nil {
			bar.Low = *v
		}
		if i < len(q.Volume) && q.Volume[i] != nil {
			bar.Volume = *q.Volume[i]
		}
		chart.Bars = append(chart.Bars, bar)
	}
	return chart, nil
}

func at(s []*float64, i int) *float64 {
	if i >= len(s) {
		return nil
	}
	return s[i]
}

// =============================================================================
// quoteSummary API
// =============================================================================

// rawValue is Yahoo's {"raw": 1.23, "fmt": "1.23"} wrapper
type rawValue struct {
	Raw *float64 `json:"raw"`
}

func (v rawValue) ptr() *float64 {
	if v.Raw == nil {
		return nil
	}
	x := *v.Raw
	return &x
}

type statementIncome struct {
	TotalRevenue    rawValue `json:"totalRevenue"`
	CostOfRevenue   rawValue `json:"costOfRevenue"`
	GrossProfit     rawValue `json:"grossProfit"`
	OperatingIncome rawValue `json:"operatingIncome"`
	Ebit            rawValue `json:"ebit"`
	NetIncome       rawValue `json:"netIncome"`
	InterestExpense rawValue `json:"interestExpense"`
}

func (s statementIncome) toContract() contracts.IncomeStatement {
	return contracts.IncomeStatement{
		Revenue:         s.TotalRevenue.ptr(),
		COGS:            s.CostOfRevenue.ptr(),
		GrossProfit:     s.GrossProfit.ptr(),
		OperatingIncome: s.OperatingIncome.ptr(),
		EBIT:            s.Ebit.ptr(),
		NetIncome:       s.NetIncome.ptr(),
		InterestExpense: s.InterestExpense.ptr(),
	}
}

type statementBalance struct {
	TotalAssets             rawValue `json:"totalAssets"`
	TotalCurrentAssets      rawValue `json:"totalCurrentAssets"`
	Cash                    rawValue `json:"cash"`
	NetReceivables          rawValue `json:"netReceivables"`
	Inventory               rawValue `json:"inventory"`
	TotalLiab               rawValue `json:"totalLiab"`
	TotalCurrentLiabilities rawValue `json:"totalCurrentLiabilities"`
	AccountsPayable         rawValue `json:"accountsPayable"`
	TotalStockholderEquity  rawValue `json:"totalStockholderEquity"`
	RetainedEarnings        rawValue `json:"retainedEarnings"`
}

type statementCashflow struct {
	TotalCashFromOperatingActivities rawValue `json:"totalCashFromOperatingActivities"`
	CapitalExpenditures              rawValue `json:"capitalExpenditures"`
}

func (s statementCashflow) toContract() contracts.CashflowStatement {
	return contracts.CashflowStatement{
		OperatingCashflow:   s.TotalCashFromOperatingActivities.ptr(),
		CapitalExpenditures: s.CapitalExpenditures.ptr(),
	}
}

type quoteSummaryResponse struct {
	QuoteSummary struct {
		Result []summary `json:"result"`
		Error  *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"quoteSummary"`
}

type summary struct {
	Price struct {
		LongName  string   `json:"longName"`
		ShortName string   `json:"shortName"`
		MarketCap rawValue `json:"marketCap"`
	} `json:"price"`
	SummaryProfile struct {
		Sector   string `json:"sector"`
		Industry string `json:"industry"`
	} `json:"summaryProfile"`
	DefaultKeyStatistics struct {
		SharesOutstanding  rawValue `json:"sharesOutstanding"`
		EnterpriseValue    rawValue `json:"enterpriseValue"`
		ForwardPE          rawValue `json:"forwardPE"`
		PriceToBook        rawValue `json:"priceToBook"`
		EnterpriseToEbitda rawValue `json:"enterpriseToEbitda"`
		PegRatio           rawValue `json:"pegRatio"`
		Beta               rawValue `json:"beta"`
		TrailingEps        rawValue `json:"trailingEps"`
		ForwardEps         rawValue `json:"forwardEps"`
	} `json:"defaultKeyStatistics"`
	FinancialData struct {
		Ebitda         rawValue `json:"ebitda"`
		TotalDebt      rawValue `json:"totalDebt"`
		TotalCash      rawValue `json:"totalCash"`
		FreeCashflow   rawValue `json:"freeCashflow"`
		EarningsGrowth rawValue `json:"earningsGrowth"`
		RevenueGrowth  rawValue `json:"revenueGrowth"`
		CurrentPrice   rawValue `json:"currentPrice"`
	} `json:"financialData"`
	IncomeStatementHistory struct {
		Statements []statementIncome `json:"incomeStatementHistory"`
	} `json:"incomeStatementHistory"`
	BalanceSheetHistory struct {
		Statements []statementBalance `json:"balanceSheetStatements"`
	} `json:"balanceSheetHistory"`
	CashflowStatementHistory struct {
		Statements []statementCashflow `json:"cashflowStatements"`
	} `json:"cashflowStatementHistory"`
}

// fetchSummary fetches fundamentals for a symbol
func (c *YahooClient) fetchSummary(ctx context.Context, symbol string) (*summary, error) {
	params := url.Values{}
	params.Set("modules", summaryModules)
	fullURL := fmt.Sprintf("%s/v10/finance/quoteSummary/%s?%s", c.baseURL, url.PathEscape(symbol), params.Encode())

	var resp quoteSummaryResponse
	if err := c.httpClient.GetJSON(ctx, fullURL, nil, &resp); err != nil {
		return nil, fmt.Errorf("quoteSummary %s: %w", symbol, err)
	}
	if resp.QuoteSummary.Error != nil {
		return nil, fmt.Errorf("quoteSummary %s: %s: %s", symbol, resp.QuoteSummary.Error.Code, resp.QuoteSummary.Error.Description)
	}
	if len(resp.QuoteSummary.Result) == 0 {
		return nil, fmt.Errorf("quoteSummary %s: %w", symbol, ErrNoData)
	}
	return &resp.QuoteSummary.Result[0], nil
}

func (s *summary) companyName(fallback string) string {
	switch {
	case s.Price.LongName != "":
		return s.Price.LongName
	case s.Price.ShortName != "":
		return s.Price.ShortName
	default:
		return fallback
	}
}

func (s *summary) fundamentals() contracts.Fundamentals {
	ks := s.DefaultKeyStatistics
	fd := s.FinancialData

	f := contracts.Fundamentals{
		SharesOutstanding: ks.SharesOutstanding.ptr(),
		MarketCap:         s.Price.MarketCap.ptr(),
		EnterpriseValue:   ks.EnterpriseValue.ptr(),
		Precomputed: contracts.PrecomputedRatios{
			ForwardPE:      ks.ForwardPE.ptr(),
			PriceToBook:    ks.PriceToBook.ptr(),
			EVToEBITDA:     ks.EnterpriseToEbitda.ptr(),
			PEGRatio:       ks.PegRatio.ptr(),
			Beta:           ks.Beta.ptr(),
			TrailingEPS:    ks.TrailingEps.ptr(),
			ForwardEPS:     ks.ForwardEps.ptr(),
			EarningsGrowth: fd.EarningsGrowth.ptr(),
			RevenueGrowth:  fd.RevenueGrowth.ptr(),
			Sector:         s.SummaryProfile.Sector,
			Industry:       s.SummaryProfile.Industry,
		},
	}

	// 최신 연간 재무제표가 index 0
	if st := s.IncomeStatementHistory.Statements; len(st) > 0 {
		f.IncomeStatement = st[0].toContract()
		if len(st) > 1 {
			prev := st[1].toContract()
			f.PreviousYear = &prev
		}
	}
	f.IncomeStatement.EBITDA = fd.Ebitda.ptr()

	if st := s.BalanceSheetHistory.Statements; len(st) > 0 {
		b := st[0]
		f.BalanceSheet = contracts.BalanceSheet{
			TotalAssets:        b.TotalAssets.ptr(),
			CurrentAssets:      b.TotalCurrentAssets.ptr(),
			CashAndEquivalents: b.Cash.ptr(),
			AccountsReceivable: b.NetReceivables.ptr(),
			Inventory:          b.Inventory.ptr(),
			TotalLiabilities:   b.TotalLiab.ptr(),
			CurrentLiabilities: b.TotalCurrentLiabilities.ptr(),
			AccountsPayable:    b.AccountsPayable.ptr(),
			ShareholdersEquity: b.TotalStockholderEquity.ptr(),
			RetainedEarnings:   b.RetainedEarnings.ptr(),
		}
	}
	f.BalanceSheet.TotalDebt = fd.TotalDebt.ptr()
	if f.BalanceSheet.CashAndEquivalents == nil {
		f.BalanceSheet.CashAndEquivalents = fd.TotalCash.ptr()
	}

	if st := s.CashflowStatementHistory.Statements; len(st) > 0 {
		f.CashflowStatement = st[0].toContract()
		if len(st) > 1 {
			prev := st[1].toContract()
			f.PreviousCashflow = &prev
		}
	}
	f.CashflowStatement.FreeCashflow = fd.FreeCashflow.ptr()

	return f
}

// info keeps a few provider-native fields for display. Never copied to output.
func (s *summary) info() map[string]any {
	out := map[string]any{}
	if v := s.FinancialData.CurrentPrice.Raw; v != nil {
		out["current_price"] = *v
	}
	if v := s.Price.MarketCap.Raw; v != nil {
		out["market_cap"] = *v
	}
	return out
}
