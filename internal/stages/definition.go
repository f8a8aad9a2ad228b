package stages

import (
	"github.com/wonny/aegis-analytics/internal/contracts"
	"github.com/wonny/aegis-analytics/internal/pipeline"
	"github.com/wonny/aegis-analytics/internal/provider"
	"github.com/wonny/aegis-analytics/pkg/logger"
)

// PipelineName identifies the analytics pipeline on run records
const PipelineName = "stock_analytics"

// Deps are the collaborators injected into the stages
type Deps struct {
	Fetcher       provider.Fetcher
	Logger        *logger.Logger
	AllowDegraded bool
}

// NewDefinition builds the fixed three-layer pipeline:
//
//	layer1_data         Sequential  data_fetch
//	layer2_metrics      Parallel    ratio_metrics, valuation_metrics, risk_metrics
//	layer3_presentation Sequential  presentation
func NewDefinition(deps Deps) (*pipeline.Definition, error) {
	log := deps.Logger
	if log == nil {
		log = logger.Nop()
	}

	return pipeline.NewDefinition(PipelineName, deps.AllowDegraded,
		pipeline.Sequential(contracts.GroupData,
			pipeline.Required(NewFetchStage(deps.Fetcher, log)),
		),
		pipeline.Parallel(contracts.GroupMetrics,
			pipeline.Required(NewRatioStage(log)),
			pipeline.Required(NewValuationStage(log)),
			pipeline.Required(NewRiskStage(log)),
		),
		pipeline.Sequential(contracts.GroupPresentation,
			pipeline.Required(NewPresentationStage(log)),
		),
	)
}
