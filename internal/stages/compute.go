package stages

import (
	"context"

	"github.com/wonny/aegis-analytics/internal/contracts"
	"github.com/wonny/aegis-analytics/internal/metrics"
	"github.com/wonny/aegis-analytics/internal/pipeline"
	"github.com/wonny/aegis-analytics/internal/runstate"
	"github.com/wonny/aegis-analytics/pkg/logger"
)

var fetchOnly = []contracts.StageName{contracts.StageDataFetch}

// canonicalRecord reads the Layer 1 record from the run state snapshot
func canonicalRecord(in pipeline.Input) (*contracts.CanonicalRecord, error) {
	p, err := runstate.ReadPayload(in.State, contracts.StageDataFetch)
	if err != nil {
		return nil, err
	}
	rec, err := contracts.RecordFromPayload(p)
	if err != nil {
		return nil, pipeline.Fail(contracts.ErrKindCalculation, err)
	}
	return rec, nil
}

// RatioStage computes financial statement ratios
type RatioStage struct {
	calc *metrics.RatioCalculator
}

// NewRatioStage creates the ratio stage
func NewRatioStage(log *logger.Logger) *RatioStage {
	return &RatioStage{calc: metrics.NewRatioCalculator(log)}
}

func (s *RatioStage) Name() contracts.StageName { return contracts.StageRatioMetrics }
func (s *RatioStage) Kind() pipeline.Kind { return pipeline.KindCompute }
func (s *RatioStage) DependsOn() []contracts.StageName { return fetchOnly }

// Execute implements pipeline.Stage
func (s *RatioStage) Execute(ctx context.Context, in pipeline.Input) (contracts.Payload, error) {
	rec, err := canonicalRecord(in)
	if err != nil {
		return nil, err
	}
	return s.calc.Calculate(ctx, rec).Payload(), nil
}

// ValuationStage computes valuation multiples and the DCF estimate
type ValuationStage struct {
	calc *metrics.ValuationCalculator
}

// NewValuationStage creates the valuation stage
func NewValuationStage(log *logger.Logger) *ValuationStage {
	return &ValuationStage{calc: metrics.NewValuationCalculator(log)}
}

func (s *ValuationStage) Name() contracts.StageName { return contracts.StageValuationMetrics }
func (s *ValuationStage) Kind() pipeline.Kind { return pipeline.KindCompute }
func (s *ValuationStage) DependsOn() []contracts.StageName { return fetchOnly }

// Execute implements pipeline.Stage
func (s *ValuationStage) Execute(ctx context.Context, in pipeline.Input) (contracts.Payload, error) {
	rec, err := canonicalRecord(in)
	if err != nil {
		return nil, err
	}
	return s.calc.Calculate(ctx, rec, in.Request.Config).Payload(), nil
}

// RiskStage computes market and balance-sheet risk
type RiskStage struct {
	calc *metrics.RiskCalculator
}

// NewRiskStage creates the risk stage
func NewRiskStage(log *logger.Logger) *RiskStage {
	return &RiskStage{calc: metrics.NewRiskCalculator(log)}
}

func (s *RiskStage) Name() contracts.StageName { return contracts.StageRiskMetrics }
func (s *RiskStage) Kind() pipeline.Kind { return pipeline.KindCompute }
func (s *RiskStage) DependsOn() []contracts.StageName { return fetchOnly }

// Execute implements pipeline.Stage
func (s *RiskStage) Execute(ctx context.Context, in pipeline.Input) (contracts.Payload, error) {
	rec, err := canonicalRecord(in)
	if err != nil {
		return nil, err
	}
	return s.calc.Calculate(ctx, rec, in.Request.Config.RiskFreeRate).Payload(), nil
}
