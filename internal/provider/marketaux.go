package provider

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/wonny/aegis-analytics/internal/contracts"
	"github.com/wonny/aegis-analytics/pkg/httputil"
	"github.com/wonny/aegis-analytics/pkg/logger"
)

// MarketAuxClient fetches entity-tagged news from MarketAux
// ⭐ SSOT: MarketAux 호출은 이 클라이언트에서만
type MarketAuxClient struct {
	httpClient *httputil.Client
	logger     *logger.Logger
	baseURL    string
	apiKey     string
	limit      int
}

// NewMarketAuxClient creates a new MarketAux client
func NewMarketAuxClient(httpClient *httputil.Client, baseURL, apiKey string, limit int, log *logger.Logger) *MarketAuxClient {
	if baseURL == "" {
		baseURL = "https://api.marketaux.com/v1"
	}
	if limit <= 0 {
		limit = 10
	}
	return &MarketAuxClient{
		httpClient: httpClient,
		logger:     log,
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		limit:      limit,
	}
}

// ProviderName implements Named
func (c *MarketAuxClient) ProviderName() string { return ProviderMarketAux }

type newsResponse struct {
	Data []struct {
		Title       string `json:"title"`
		Description string `json:"description"`
		Snippet     string `json:"snippet"`
		URL         string `json:"url"`
		PublishedAt string `json:"published_at"`
		Source      string `json:"source"`
		Entities    []struct {
			Symbol         string   `json:"symbol"`
			SentimentScore *float64 `json:"sentiment_score"`
			MatchScore     *float64 `json:"match_score"`
		} `json:"entities"`
	} `json:"data"`
}

// FetchNews fetches recent articles mentioning ticker
func (c *MarketAuxClient) FetchNews(ctx context.Context, ticker string) ([]contracts.NewsItem, error) {
	if c.apiKey == "" {
		return nil, fetchErr(ProviderMarketAux, ErrMissingAPIKey)
	}

	params := url.Values{}
	params.Set("api_token", c.apiKey)
	params.Set("symbols", ticker)
	params.Set("limit", strconv.Itoa(c.limit))
	params.Set("language", "en")
	params.Set("filter_entities", "true")
	fullURL := fmt.Sprintf("%s/news/all?%s", c.baseURL, params.Encode())

	var resp newsResponse
	if err := c.httpClient.GetJSON(ctx, fullURL, nil, &resp); err != nil {
		// api_token이 로그/에러에 남지 않도록 URL 제외
		return nil, fetchErr(ProviderMarketAux, fmt.Errorf("news %s: %w", ticker, stripURL(err)))
	}

	items := make([]contracts.NewsItem, 0, len(resp.Data))
	for _, a := range resp.Data {
		item := contracts.NewsItem{
			Title:       PlainText(a.Title),
			Description: PlainText(firstNonEmpty(a.Description, a.Snippet)),
			URL:         a.URL,
			PublishedAt: a.PublishedAt,
			Source:      a.Source,
			Type:        ProviderMarketAux,
		}
		for _, e := range a.Entities {
			if strings.EqualFold(e.Symbol, ticker) {
				item.Sentiment = e.SentimentScore
				item.Relevance = e.MatchScore
				break
			}
		}
		items = append(items, item)
	}

	c.logger.WithFields(map[string]interface{}{
		"ticker": ticker,
		"count":  len(items),
	}).Debug("Fetched MarketAux news")

	return items, nil
}

// PlainText strips markup from an HTML fragment and collapses whitespace
func PlainText(fragment string) string {
	if !strings.ContainsAny(fragment, "<&") {
		return strings.Join(strings.Fields(fragment), " ")
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		return strings.Join(strings.Fields(fragment), " ")
	}
	doc.Find("script, style").Remove()
	return strings.Join(strings.Fields(doc.Text()), " ")
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

// stripURL drops the request URL (which carries the api token) from status errors
func stripURL(err error) error {
	var se *httputil.StatusError
	if errors.As(err, &se) {
		return fmt.Errorf("unexpected status code %d", se.StatusCode)
	}
	var ue *url.Error
	if errors.As(err, &ue) {
		return fmt.Errorf("%s request failed: %w", ue.Op, ue.Err)
	}
	return err
}
