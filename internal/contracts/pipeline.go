package contracts

// Pipeline Stage 정의 (SSOT)
// 모든 로그, RunRecord, DB row에서 이 상수를 사용해야 함
//
// 파이프라인 흐름:
//   Layer 1 (Sequential)  data_fetch
//   Layer 2 (Parallel)    ratio_metrics | valuation_metrics | risk_metrics
//   Layer 3 (Sequential)  presentation

// StageName identifies a stage within a pipeline definition
type StageName string

const (
	// StageDataFetch L1: 외부 데이터 수집
	// 책임: provider 호출, canonical record 스키마 검증
	// 위치: internal/stages/fetch.go
	StageDataFetch StageName = "data_fetch"

	// StageRatioMetrics L2: 재무 비율
	// 책임: 수익성/유동성/레버리지/효율성/성장성/현금흐름
	// 위치: internal/metrics/ratios.go
	StageRatioMetrics StageName = "ratio_metrics"

	// StageValuationMetrics L2: 밸류에이션
	// 책임: 멀티플, DCF 내재가치
	// 위치: internal/metrics/valuation.go
	StageValuationMetrics StageName = "valuation_metrics"

	// StageRiskMetrics L2: 리스크
	// 책임: 변동성, MDD, Sharpe, VaR, Beta
	// 위치: internal/metrics/risk.go
	StageRiskMetrics StageName = "risk_metrics"

	// StagePresentation L3: 리포트 조립
	// 위치: internal/stages/presentation.go
	StagePresentation StageName = "presentation"
)

// String returns the stage name
func (s StageName) String() string {
	return string(s)
}

// Layer returns the layer number the stage belongs to in the analytics pipeline
func (s StageName) Layer() int {
	switch s {
	case StageDataFetch:
		return 1
	case StageRatioMetrics, StageValuationMetrics, StageRiskMetrics:
		return 2
	case StagePresentation:
		return 3
	default:
		return 0
	}
}

// GroupName identifies a stage group
type GroupName string

const (
	GroupData         GroupName = "layer1_data"
	GroupMetrics      GroupName = "layer2_metrics"
	GroupPresentation GroupName = "layer3_presentation"
)

// String returns the group name
func (g GroupName) String() string {
	return string(g)
}

// MetricStages returns the Layer 2 stages in declared order
func MetricStages() []StageName {
	return []StageName{
		StageRatioMetrics,
		StageValuationMetrics,
		StageRiskMetrics,
	}
}

// AllStages returns all stages in pipeline order
func AllStages() []StageName {
	return []StageName{
		StageDataFetch,
		StageRatioMetrics,
		StageValuationMetrics,
		StageRiskMetrics,
		StagePresentation,
	}
}
