package stages

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/aegis-analytics/internal/contracts"
	"github.com/wonny/aegis-analytics/internal/guardrail"
	"github.com/wonny/aegis-analytics/internal/pipeline"
	"github.com/wonny/aegis-analytics/internal/provider"
	"github.com/wonny/aegis-analytics/internal/runstate"
	"github.com/wonny/aegis-analytics/pkg/logger"
)

const fixtureDir = "../provider/testdata"

func newExecutor(t *testing.T, fetcher provider.Fetcher) *pipeline.Executor {
	t.Helper()
	def, err := NewDefinition(Deps{Fetcher: fetcher, Logger: logger.Nop(), AllowDegraded: true})
	require.NoError(t, err)

	policy := guardrail.DefaultPolicy()
	policy.RunTimeout = 10 * time.Second
	policy.StageTimeout = 5 * time.Second
	g, err := guardrail.New(policy, nil, logger.Nop())
	require.NoError(t, err)
	return pipeline.NewExecutor(def, g, logger.Nop())
}

func aapl() contracts.Request {
	return contracts.Request{
		Ticker:   "aapl",
		CallerID: "tester",
		Config:   contracts.NewRunConfig("1y", 5),
	}
}

func TestNewDefinition_Layout(t *testing.T) {
	def, err := NewDefinition(Deps{Fetcher: provider.NewFileFetcher(fixtureDir)})
	require.NoError(t, err)

	require.Len(t, def.Groups, 3)
	assert.Equal(t, contracts.GroupData, def.Groups[0].Name)
	assert.Equal(t, pipeline.ModeSequential, def.Groups[0].Mode)
	assert.Equal(t, contracts.GroupMetrics, def.Groups[1].Name)
	assert.Equal(t, pipeline.ModeParallel, def.Groups[1].Mode)
	assert.Equal(t, contracts.GroupPresentation, def.Groups[2].Name)
	assert.Equal(t, contracts.AllStages(), def.Stages())

	k, _ := def.KindOf(contracts.StageDataFetch)
	assert.Equal(t, pipeline.KindFetch, k)
}

func TestPipeline_EndToEnd(t *testing.T) {
	rec, err := newExecutor(t, provider.NewFileFetcher(fixtureDir)).Run(context.Background(), aapl())
	require.NoError(t, err)
	require.Equal(t, pipeline.StateCompleted, rec.Status, "error: %v", rec.Error)

	assert.Equal(t, "AAPL", rec.Ticker)
	assert.Equal(t, PipelineName, rec.Pipeline)

	l2 := rec.GroupResults(contracts.GroupMetrics)
	require.Len(t, l2, 3)
	for _, r := range l2 {
		assert.True(t, r.OK(), "%s: %s", r.Stage, r.Message)
	}
	_, ok := rec.Result(contracts.StagePresentation)
	assert.True(t, ok)

	out := rec.Output
	for _, key := range []string{"meta", "executive_summary", "company_overview", "financial_analysis",
		"valuation_analysis", "risk_assessment", "investment_recommendation", "disclaimer", "calculated"} {
		assert.Contains(t, out, key)
	}

	// 원본 provider 필드는 출력에 노출되지 않음
	data, err := json.Marshal(out)
	require.NoError(t, err)
	for _, raw := range []string{"price_history", "api_key_hint", `"info"`, "source_versions"} {
		assert.NotContains(t, string(data), raw)
	}

	recm, ok := out.Map("investment_recommendation")
	require.True(t, ok)
	outlook, _ := recm.String("outlook")
	assert.Contains(t, []string{OutlookPositive, OutlookCautious, OutlookNeutral}, outlook)

	calc, ok := out.Map("calculated")
	require.True(t, ok)
	ratios, ok := calc.Map(string(contracts.StageRatioMetrics))
	require.True(t, ok)
	n, _ := ratios.Float("calculated")
	assert.Equal(t, 24.0, n)
}

func TestPipeline_Deterministic(t *testing.T) {
	exec := newExecutor(t, provider.NewFileFetcher(fixtureDir))

	a, err := exec.Run(context.Background(), aapl())
	require.NoError(t, err)
	b, err := exec.Run(context.Background(), aapl())
	require.NoError(t, err)

	require.Equal(t, pipeline.StateCompleted, a.Status)
	assert.Equal(t, a.Output, b.Output)
	for i := range a.Results {
		assert.Equal(t, a.Results[i].Payload, b.Results[i].Payload, a.Results[i].Stage)
	}
}

func TestPipeline_FetchFailureSkipsDownstream(t *testing.T) {
	req := aapl()
	req.Ticker = "MSFT"

	rec, err := newExecutor(t, provider.NewFileFetcher(fixtureDir)).Run(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, pipeline.StateFailed, rec.Status)
	require.NotNil(t, rec.Error)
	assert.Equal(t, contracts.ErrKindProvider, rec.Error.Kind)
	assert.Equal(t, contracts.StageDataFetch, rec.Error.Stage)
	assert.Equal(t, contracts.AllStages()[1:], rec.Skipped)
	assert.Len(t, rec.Results, 1)
}

type recordFetcher struct {
	rec *contracts.CanonicalRecord
	err error
}

func (f recordFetcher) Fetch(ctx context.Context, ticker, period string) (*contracts.CanonicalRecord, error) {
	return f.rec, f.err
}

type denyAll struct{ kind contracts.ErrorKind }

func (d denyAll) CheckRate(ctx context.Context, key string) guardrail.Decision {
	return guardrail.Deny(d.kind, guardrail.ReasonRateLimited)
}

func input(state runstate.View, rate pipeline.RateChecker) pipeline.Input {
	return pipeline.Input{RunID: "run-1", Request: aapl().Normalized(), State: state, Rate: rate}
}

func TestFetchStage_ProviderRateLimited(t *testing.T) {
	stage := NewFetchStage(recordFetcher{}, logger.Nop())
	_, err := stage.Execute(context.Background(), input(runstate.New(), denyAll{contracts.ErrKindRateLimited}))

	var se *pipeline.StageError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, contracts.ErrKindRateLimited, se.Kind)
}

func TestFetchStage_SchemaViolation(t *testing.T) {
	stage := NewFetchStage(recordFetcher{rec: &contracts.CanonicalRecord{Meta: contracts.RecordMeta{Ticker: "AAPL"}}}, logger.Nop())
	_, err := stage.Execute(context.Background(), input(runstate.New(), nil))

	var se *pipeline.StageError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, contracts.ErrKindProvider, se.Kind)
	var schemaErr *provider.SchemaError
	assert.True(t, errors.As(err, &schemaErr))
}

func TestFetchStage_TrimsToPeriod(t *testing.T) {
	rec, err := provider.NewFileFetcher(fixtureDir).Fetch(context.Background(), "AAPL", "1y")
	require.NoError(t, err)

	in := input(runstate.New(), nil)
	in.Request.Config.Period = "1mo"
	in.Request.Config.PeriodDays = contracts.PeriodTradingDays("1mo")

	p, err := NewFetchStage(recordFetcher{rec: rec}, logger.Nop()).Execute(context.Background(), in)
	require.NoError(t, err)
	got, err := contracts.RecordFromPayload(p)
	require.NoError(t, err)
	assert.Len(t, got.PriceHistory, 22)
}

func TestPresentationStage_PartialLayer2(t *testing.T) {
	rec, err := provider.NewFileFetcher(fixtureDir).Fetch(context.Background(), "AAPL", "1y")
	require.NoError(t, err)
	payload, err := rec.ToPayload()
	require.NoError(t, err)

	state := runstate.New()
	require.NoError(t, state.Write(contracts.StageDataFetch,
		contracts.Success(contracts.StageDataFetch, contracts.GroupData, payload, 0)))

	in := input(state.SnapshotFor(contracts.GroupMetrics), nil)
	ratio, err := NewRatioStage(logger.Nop()).Execute(context.Background(), in)
	require.NoError(t, err)

	require.NoError(t, state.Write(contracts.StageRatioMetrics,
		contracts.Success(contracts.StageRatioMetrics, contracts.GroupMetrics, ratio, 0)))
	require.NoError(t, state.Write(contracts.StageRiskMetrics,
		contracts.Failure(contracts.StageRiskMetrics, contracts.GroupMetrics, contracts.ErrKindTimeout, "stage timeout", 0)))

	report, err := NewPresentationStage(logger.Nop()).Execute(context.Background(), input(state.SnapshotFor(contracts.GroupPresentation), nil))
	require.NoError(t, err)

	risk, _ := report.Map("risk_assessment")
	assert.Equal(t, false, risk["available"])
	overall, _ := risk.Map("overall_assessment")
	assert.Equal(t, "Not assessed", overall["assessment"])

	fin, _ := report.Map("financial_analysis")
	assert.Equal(t, true, fin["available"])
	assert.NotEmpty(t, fin["profitability"])

	val, _ := report.Map("valuation_analysis")
	assert.Equal(t, false, val["available"])
	assert.Equal(t, "No valuation summary available", val["summary"])

	_, err = json.Marshal(report)
	assert.NoError(t, err)
}

func TestComputeStage_UpstreamFailed(t *testing.T) {
	state := runstate.New()
	require.NoError(t, state.Write(contracts.StageDataFetch,
		contracts.Failure(contracts.StageDataFetch, contracts.GroupData, contracts.ErrKindProvider, "boom", 0)))

	_, err := NewRiskStage(logger.Nop()).Execute(context.Background(), input(state.SnapshotFor(contracts.GroupMetrics), nil))
	assert.Error(t, err)

	_, err = NewRiskStage(logger.Nop()).Execute(context.Background(), input(runstate.New(), nil))
	assert.ErrorIs(t, err, runstate.ErrNotReady)
}

func TestDisplayName(t *testing.T) {
	assert.Equal(t, "Debt To Equity", displayName("debt_to_equity"))
	assert.Equal(t, "Var 95", displayName("var_95"))
}
