package provider

import (
	"context"
	"time"

	"github.com/wonny/aegis-analytics/internal/contracts"
	"github.com/wonny/aegis-analytics/pkg/logger"
)

// NewsSource returns recent news for a ticker
type NewsSource interface {
	FetchNews(ctx context.Context, ticker string) ([]contracts.NewsItem, error)
}

// DataFetcher composes market data and news into one canonical record.
// Market data failure is fatal; news failure only empties the news list.
type DataFetcher struct {
	market Fetcher
	news   NewsSource
	logger *logger.Logger
	now    func() time.Time
}

// NewDataFetcher creates a composite fetcher. news may be nil.
func NewDataFetcher(market Fetcher, news NewsSource, log *logger.Logger) *DataFetcher {
	return &DataFetcher{
		market: market,
		news:   news,
		logger: log,
		now:    time.Now,
	}
}

// ProviderName implements Named
func (d *DataFetcher) ProviderName() string { return NameOf(d.market) }

// Fetch implements Fetcher
func (d *DataFetcher) Fetch(ctx context.Context, ticker, period string) (*contracts.CanonicalRecord, error) {
	rec, err := d.market.Fetch(ctx, ticker, period)
	if err != nil {
		return nil, err
	}

	versions := map[string]string{"market": NameOf(d.market)}
	rec.News = []contracts.NewsItem{}

	if d.news != nil {
		items, err := d.news.FetchNews(ctx, ticker)
		if err != nil {
			d.logger.WithError(err).WithField("ticker", ticker).Warn("News fetch failed, continuing without news")
		} else {
			rec.News = items
			versions["news"] = ProviderMarketAux
		}
	}

	rec.Meta.FetchTime = d.now().UTC().Format(time.RFC3339)
	rec.Meta.SourceVersions = versions
	return rec, nil
}
