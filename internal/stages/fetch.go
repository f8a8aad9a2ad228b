// Package stages implements the analytics pipeline stages and assembles the
// fixed three-layer definition.
package stages

import (
	"context"
	"fmt"

	"github.com/wonny/aegis-analytics/internal/contracts"
	"github.com/wonny/aegis-analytics/internal/pipeline"
	"github.com/wonny/aegis-analytics/internal/provider"
	"github.com/wonny/aegis-analytics/pkg/logger"
)

// ProviderRateKey is the guardrail identity charged for one provider call
func ProviderRateKey(name string) string {
	return "provider:" + name
}

// FetchStage is the only stage allowed to talk to external providers.
// It calls the fetcher exactly once and publishes the canonical record.
// ⭐ SSOT: 외부 데이터 접근은 L1 fetch stage에서만
type FetchStage struct {
	fetcher provider.Fetcher
	logger  *logger.Logger
}

// NewFetchStage creates the Layer 1 fetch stage
func NewFetchStage(fetcher provider.Fetcher, log *logger.Logger) *FetchStage {
	return &FetchStage{fetcher: fetcher, logger: log}
}

func (s *FetchStage) Name() contracts.StageName { return contracts.StageDataFetch }
func (s *FetchStage) Kind() pipeline.Kind { return pipeline.KindFetch }
func (s *FetchStage) DependsOn() []contracts.StageName { return nil }

// Execute fetches, validates and publishes the canonical record
func (s *FetchStage) Execute(ctx context.Context, in pipeline.Input) (contracts.Payload, error) {
	name := provider.NameOf(s.fetcher)

	if in.Rate != nil {
		if d := in.Rate.CheckRate(ctx, ProviderRateKey(name)); !d.Allowed {
			return nil, pipeline.Failf(d.Kind, "provider %s: %s", name, d.Reason)
		}
	}

	rec, err := s.fetcher.Fetch(ctx, in.Request.Ticker, in.Request.Config.Period)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", in.Request.Ticker, err)
	}

	if err := provider.ValidateRecord(rec); err != nil {
		return nil, pipeline.Fail(contracts.ErrKindProvider, err)
	}

	// 요청 기간보다 긴 이력은 잘라서 결정성 유지
	if n := in.Request.Config.PeriodDays; n > 0 && len(rec.PriceHistory) > n+1 {
		rec.PriceHistory = rec.PriceHistory[len(rec.PriceHistory)-(n+1):]
	}

	s.logger.WithFields(map[string]interface{}{
		"run_id":   in.RunID,
		"ticker":   rec.Meta.Ticker,
		"provider": name,
		"bars":     len(rec.PriceHistory),
		"news":     len(rec.News),
	}).Info("Fetched canonical record")

	return rec.ToPayload()
}
