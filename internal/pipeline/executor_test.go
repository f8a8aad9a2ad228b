package pipeline

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/aegis-analytics/internal/contracts"
	"github.com/wonny/aegis-analytics/internal/guardrail"
	"github.com/wonny/aegis-analytics/internal/runstate"
	"github.com/wonny/aegis-analytics/pkg/logger"
)

// mockStage records invocations and optionally delays or fails
type mockStage struct {
	name   contracts.StageName
	kind   Kind
	deps   []contracts.StageName
	delay  time.Duration
	ignore bool // delay 중 ctx 취소 무시
	fn     func(ctx context.Context, in Input) (contracts.Payload, error)
	calls  int32
}

func (m *mockStage) Name() contracts.StageName { return m.name }
func (m *mockStage) Kind() Kind { return m.kind }
func (m *mockStage) DependsOn() []contracts.StageName { return m.deps }

func (m *mockStage) Execute(ctx context.Context, in Input) (contracts.Payload, error) {
	atomic.AddInt32(&m.calls, 1)
	if m.delay > 0 {
		if m.ignore {
			time.Sleep(m.delay)
		} else {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(m.delay):
			}
		}
	}
	if m.fn != nil {
		return m.fn(ctx, in)
	}
	return contracts.Payload{"stage": m.name.String()}, nil
}

func (m *mockStage) Calls() int {
	return int(atomic.LoadInt32(&m.calls))
}

// recordingSink counts Save calls
type recordingSink struct {
	mu      sync.Mutex
	records []*RunRecord
	err     error
}

func (s *recordingSink) Save(ctx context.Context, rec *RunRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, rec)
	return s.err
}

type fixture struct {
	fetch        *mockStage
	ratio        *mockStage
	valuation    *mockStage
	risk         *mockStage
	presentation *mockStage
}

func newFixture() *fixture {
	f := &fixture{
		fetch: &mockStage{name: contracts.StageDataFetch, kind: KindFetch, fn: func(ctx context.Context, in Input) (contracts.Payload, error) {
			return contracts.Payload{
				"meta": map[string]any{"ticker": in.Request.Ticker},
				"info": map[string]any{"maxAge": 86400.0},
			}, nil
		}},
	}
	metric := func(name contracts.StageName, v float64) *mockStage {
		return &mockStage{
			name: name,
			kind: KindCompute,
			deps: []contracts.StageName{contracts.StageDataFetch},
			fn: func(ctx context.Context, in Input) (contracts.Payload, error) {
				if _, err := runstate.ReadPayload(in.State, contracts.StageDataFetch); err != nil {
					return nil, err
				}
				return contracts.Payload{"value": v}, nil
			},
		}
	}
	f.ratio = metric(contracts.StageRatioMetrics, 1)
	f.valuation = metric(contracts.StageValuationMetrics, 2)
	f.risk = metric(contracts.StageRiskMetrics, 3)
	f.presentation = &mockStage{
		name: contracts.StagePresentation,
		kind: KindPresent,
		deps: []contracts.StageName{contracts.StageDataFetch},
		fn: func(ctx context.Context, in Input) (contracts.Payload, error) {
			sections := map[string]any{}
			for _, name := range contracts.MetricStages() {
				if p, err := runstate.ReadPayload(in.State, name); err == nil {
					sections[name.String()] = map[string]any(p)
				}
			}
			return contracts.Payload{
				"executive_summary": "ok",
				"calculated":        sections,
				"_internal":         "drop me",
			}, nil
		},
	}
	return f
}

func (f *fixture) definition(t *testing.T, allowDegraded bool) *Definition {
	t.Helper()
	def, err := NewDefinition("test", allowDegraded,
		Sequential(contracts.GroupData, Required(f.fetch)),
		Parallel(contracts.GroupMetrics, Required(f.ratio), Required(f.valuation), Required(f.risk)),
		Sequential(contracts.GroupPresentation, Required(f.presentation)),
	)
	require.NoError(t, err)
	return def
}

func testPolicy() guardrail.Policy {
	p := guardrail.DefaultPolicy()
	p.RunTimeout = 5 * time.Second
	p.StageTimeout = 2 * time.Second
	return p
}

func newTestExecutor(t *testing.T, def *Definition, policy guardrail.Policy, opts ...Option) *Executor {
	t.Helper()
	g, err := guardrail.New(policy, nil, logger.Nop())
	require.NoError(t, err)
	return NewExecutor(def, g, logger.Nop(), opts...)
}

func aaplRequest() contracts.Request {
	return contracts.Request{
		Ticker:   "AAPL",
		CallerID: "tester",
		Config:   contracts.NewRunConfig("1y", 5),
	}
}

func TestRun_Completed(t *testing.T) {
	f := newFixture()
	sink := &recordingSink{}
	exec := newTestExecutor(t, f.definition(t, true), testPolicy(), WithSink(sink))

	rec, err := exec.Run(context.Background(), aaplRequest())
	require.NoError(t, err)

	assert.Equal(t, StateCompleted, rec.Status)
	assert.True(t, rec.Finalized())
	assert.Nil(t, rec.Error)
	assert.Empty(t, rec.Skipped)
	assert.NotEmpty(t, rec.RunID)
	assert.Equal(t, "AAPL", rec.Ticker)

	// declared order, independent of finish order
	var names []contracts.StageName
	for _, r := range rec.Results {
		names = append(names, r.Stage)
	}
	assert.Equal(t, contracts.AllStages(), names)
	assert.Len(t, rec.GroupResults(contracts.GroupMetrics), 3)
	assert.Len(t, rec.Layers, 3)

	assert.Equal(t, "ok", rec.Output["executive_summary"])
	assert.NotContains(t, rec.Output, "_internal")
	assert.NotContains(t, rec.Output, "info")

	var states []State
	for _, tr := range rec.Transitions {
		states = append(states, tr.To)
	}
	assert.Equal(t, []State{StateValidating, StateRunning, StateFinalizing, StateCompleted}, states)

	require.Len(t, sink.records, 1)
	assert.Same(t, rec, sink.records[0])
}

func TestRun_InvalidTickerDeniedBeforeAnyStage(t *testing.T) {
	for _, ticker := range []string{"", "ABCDEFGHIJK"} {
		t.Run(fmt.Sprintf("ticker_%q", ticker), func(t *testing.T) {
			f := newFixture()
			sink := &recordingSink{}
			exec := newTestExecutor(t, f.definition(t, true), testPolicy(), WithSink(sink))

			req := aaplRequest()
			req.Ticker = ticker
			rec, err := exec.Run(context.Background(), req)
			require.NoError(t, err)

			assert.Equal(t, StateDenied, rec.Status)
			require.NotNil(t, rec.Denial)
			assert.Equal(t, contracts.ErrKindValidation, rec.Denial.Kind)
			assert.Equal(t, "ticker", rec.Denial.Field)
			assert.Empty(t, rec.Results)
			assert.Len(t, rec.Skipped, 5)
			assert.Empty(t, rec.Output)

			for _, s := range []*mockStage{f.fetch, f.ratio, f.valuation, f.risk, f.presentation} {
				assert.Zero(t, s.Calls(), s.name)
			}
			assert.Len(t, sink.records, 1)
		})
	}
}

func TestRun_RateLimitedDenied(t *testing.T) {
	f := newFixture()
	policy := testPolicy()
	policy.RateLimit = 1
	policy.RateWindow = time.Hour
	exec := newTestExecutor(t, f.definition(t, true), policy)

	first, err := exec.Run(context.Background(), aaplRequest())
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, first.Status)

	second, err := exec.Run(context.Background(), aaplRequest())
	require.NoError(t, err)
	assert.Equal(t, StateDenied, second.Status)
	require.NotNil(t, second.Denial)
	assert.Equal(t, contracts.ErrKindRateLimited, second.Denial.Kind)
	assert.Equal(t, guardrail.ReasonRateLimited, second.Denial.Reason)
	assert.Equal(t, 1, f.fetch.Calls(), "denied run must not invoke stages")

	// 다른 caller는 영향 없음
	other := aaplRequest()
	other.CallerID = "someone-else"
	third, err := exec.Run(context.Background(), other)
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, third.Status)
}

type denyGroupLimiter struct{ suffix string }

func (d denyGroupLimiter) Allow(_ context.Context, key string) (bool, error) {
	return !strings.HasSuffix(key, d.suffix), nil
}

func TestRun_RateLimitedMidRunFails(t *testing.T) {
	f := newFixture()
	g, err := guardrail.New(testPolicy(), denyGroupLimiter{suffix: "/" + contracts.GroupMetrics.String()}, logger.Nop())
	require.NoError(t, err)
	exec := NewExecutor(f.definition(t, true), g, logger.Nop())

	rec, err := exec.Run(context.Background(), aaplRequest())
	require.NoError(t, err)

	assert.Equal(t, StateFailed, rec.Status)
	require.NotNil(t, rec.Error)
	assert.Equal(t, contracts.ErrKindRateLimited, rec.Error.Kind)
	assert.Equal(t, contracts.GroupMetrics, rec.Error.Group)
	assert.Equal(t, 1, f.fetch.Calls())
	assert.Zero(t, f.ratio.Calls())
	assert.ElementsMatch(t, []contracts.StageName{
		contracts.StageRatioMetrics, contracts.StageValuationMetrics,
		contracts.StageRiskMetrics, contracts.StagePresentation,
	}, rec.Skipped)
}

func TestRun_SequentialFailFast(t *testing.T) {
	s1 := &mockStage{name: "s1", kind: KindCompute}
	s2 := &mockStage{name: "s2", kind: KindCompute, fn: func(ctx context.Context, in Input) (contracts.Payload, error) {
		return nil, errors.New("division by zero")
	}}
	s3 := &mockStage{name: "s3", kind: KindCompute}
	def, err := NewDefinition("seq", true, Sequential("only", Required(s1), Required(s2), Required(s3)))
	require.NoError(t, err)

	rec, err := newTestExecutor(t, def, testPolicy()).Run(context.Background(), aaplRequest())
	require.NoError(t, err)

	assert.Equal(t, StateFailed, rec.Status)
	assert.Equal(t, 1, s1.Calls())
	assert.Equal(t, 1, s2.Calls())
	assert.Zero(t, s3.Calls())

	res, ok := rec.Result("s2")
	require.True(t, ok)
	assert.Equal(t, contracts.ErrKindCalculation, res.ErrorKind)
	_, ok = rec.Result("s3")
	assert.False(t, ok)
	assert.Equal(t, []contracts.StageName{"s3"}, rec.Skipped)

	require.NotNil(t, rec.Error)
	assert.Equal(t, contracts.StageName("s2"), rec.Error.Stage)

	// partial 결과에 s1 포함
	partial := rec.Output["partial"].(map[string]any)
	assert.Contains(t, partial, "s1")
	assert.NotContains(t, partial, "s3")
}

func TestRun_SequentialOptionalContinues(t *testing.T) {
	s1 := &mockStage{name: "s1", kind: KindCompute, fn: func(ctx context.Context, in Input) (contracts.Payload, error) {
		return nil, errors.New("flaky")
	}}
	s2 := &mockStage{name: "s2", kind: KindPresent, fn: func(ctx context.Context, in Input) (contracts.Payload, error) {
		_, err := in.State.Read("s1")
		return contracts.Payload{"executive_summary": "s1 visible", "s1_seen": err == nil}, nil
	}}
	def, err := NewDefinition("seq", true, Sequential("only", Optional(s1), Required(s2)))
	require.NoError(t, err)

	rec, err := newTestExecutor(t, def, testPolicy()).Run(context.Background(), aaplRequest())
	require.NoError(t, err)

	assert.Equal(t, StateCompleted, rec.Status)
	assert.Equal(t, 1, s2.Calls())
	res, _ := rec.Result("s2")
	assert.Equal(t, true, res.Payload["s1_seen"], "sequential member sees earlier failure result")
}

func TestRun_ParallelFailSoft(t *testing.T) {
	f := newFixture()
	f.valuation.fn = func(ctx context.Context, in Input) (contracts.Payload, error) {
		return nil, Failf(contracts.ErrKindProvider, "quote unavailable")
	}
	rec, err := newTestExecutor(t, f.definition(t, true), testPolicy()).Run(context.Background(), aaplRequest())
	require.NoError(t, err)

	assert.Equal(t, StateCompleted, rec.Status)
	results := rec.GroupResults(contracts.GroupMetrics)
	require.Len(t, results, 3)
	assert.True(t, results[0].OK())
	assert.False(t, results[1].OK())
	assert.Equal(t, contracts.ErrKindProvider, results[1].ErrorKind)
	assert.True(t, results[2].OK())

	calculated := rec.Output["calculated"].(map[string]any)
	assert.Contains(t, calculated, contracts.StageRatioMetrics.String())
	assert.NotContains(t, calculated, contracts.StageValuationMetrics.String())
	assert.Contains(t, calculated, contracts.StageRiskMetrics.String())
}

func TestRun_ParallelSnapshotIsolation(t *testing.T) {
	f := newFixture()
	var sawSibling atomic.Bool
	// ratio는 빨리 끝나고, risk는 늦게 끝나면서 ratio 결과를 읽으려 시도
	f.risk.delay = 50 * time.Millisecond
	f.risk.fn = func(ctx context.Context, in Input) (contracts.Payload, error) {
		_, err := in.State.Read(contracts.StageRatioMetrics)
		if !errors.Is(err, runstate.ErrNotReady) {
			sawSibling.Store(true)
		}
		assert.False(t, in.State.Has(contracts.StageValuationMetrics))
		assert.True(t, in.State.Has(contracts.StageDataFetch))
		return contracts.Payload{"value": 3.0}, nil
	}

	rec, err := newTestExecutor(t, f.definition(t, true), testPolicy()).Run(context.Background(), aaplRequest())
	require.NoError(t, err)

	assert.Equal(t, StateCompleted, rec.Status)
	assert.False(t, sawSibling.Load(), "parallel member observed a sibling result")
}

func TestRun_ParallelOrderIndependence(t *testing.T) {
	delays := []time.Duration{0, 15 * time.Millisecond, 30 * time.Millisecond}
	perms := [][]int{{0, 1, 2}, {0, 2, 1}, {1, 0, 2}, {1, 2, 0}, {2, 0, 1}, {2, 1, 0}}

	var baseline *RunRecord
	for _, perm := range perms {
		f := newFixture()
		f.ratio.delay = delays[perm[0]]
		f.valuation.delay = delays[perm[1]]
		f.risk.delay = delays[perm[2]]

		rec, err := newTestExecutor(t, f.definition(t, true), testPolicy()).Run(context.Background(), aaplRequest())
		require.NoError(t, err)
		require.Equal(t, StateCompleted, rec.Status)

		if baseline == nil {
			baseline = rec
			continue
		}
		assert.Equal(t, stripTiming(baseline), stripTiming(rec), "permutation %v", perm)
	}
}

func TestRun_Deterministic(t *testing.T) {
	f := newFixture()
	exec := newTestExecutor(t, f.definition(t, true), testPolicy())

	a, err := exec.Run(context.Background(), aaplRequest())
	require.NoError(t, err)
	b, err := exec.Run(context.Background(), aaplRequest())
	require.NoError(t, err)

	assert.NotEqual(t, a.RunID, b.RunID)
	assert.Equal(t, stripTiming(a), stripTiming(b))
}

// stripTiming strips run id and timing fields
func stripTiming(rec *RunRecord) RunRecord {
	cp := *rec
	cp.RunID = ""
	cp.StartTime = time.Time{}
	cp.EndTime = time.Time{}
	cp.Layers = nil
	cp.Results = make([]contracts.StageResult, len(rec.Results))
	for i, r := range rec.Results {
		r.Elapsed = 0
		cp.Results[i] = r
	}
	cp.Transitions = make([]Transition, len(rec.Transitions))
	for i, tr := range rec.Transitions {
		tr.At = time.Time{}
		cp.Transitions[i] = tr
	}
	return cp
}

func TestRun_StageExceedsRunDeadline(t *testing.T) {
	f := newFixture()
	f.fetch.delay = 5 * time.Second
	f.fetch.ignore = true

	policy := testPolicy()
	policy.RunTimeout = 100 * time.Millisecond
	policy.StageTimeout = 100 * time.Millisecond
	exec := newTestExecutor(t, f.definition(t, true), policy)

	start := time.Now()
	rec, err := exec.Run(context.Background(), aaplRequest())
	require.NoError(t, err)

	assert.Less(t, time.Since(start), time.Second, "run waited past its deadline")
	assert.Equal(t, StateFailed, rec.Status)
	res, ok := rec.Result(contracts.StageDataFetch)
	require.True(t, ok)
	assert.Equal(t, contracts.ErrKindTimeout, res.ErrorKind)
	require.NotNil(t, rec.Error)
	assert.Equal(t, contracts.ErrKindTimeout, rec.Error.Kind)
	assert.Zero(t, f.ratio.Calls())
}

func TestRun_ParallelRunDeadlineRecordsUnfinished(t *testing.T) {
	f := newFixture()
	f.risk.delay = 5 * time.Second
	f.risk.ignore = true

	policy := testPolicy()
	policy.RunTimeout = 150 * time.Millisecond
	policy.StageTimeout = 150 * time.Millisecond
	exec := newTestExecutor(t, f.definition(t, true), policy)

	start := time.Now()
	rec, err := exec.Run(context.Background(), aaplRequest())
	require.NoError(t, err)

	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, StateFailed, rec.Status)

	res, ok := rec.Result(contracts.StageRiskMetrics)
	require.True(t, ok)
	assert.Equal(t, contracts.ErrKindTimeout, res.ErrorKind)
	ratio, _ := rec.Result(contracts.StageRatioMetrics)
	assert.True(t, ratio.OK())
	assert.Contains(t, rec.Skipped, contracts.StagePresentation)
}

func TestRun_ParallelMemberTimeoutDegraded(t *testing.T) {
	build := func(t *testing.T, allowDegraded bool) (*fixture, *Definition) {
		f := newFixture()
		f.valuation.delay = time.Second
		def, err := NewDefinition("test", allowDegraded,
			Sequential(contracts.GroupData, Required(f.fetch)),
			Parallel(contracts.GroupMetrics,
				Required(f.ratio),
				Required(f.valuation).WithTimeout(20*time.Millisecond),
				Required(f.risk)),
			Sequential(contracts.GroupPresentation, Required(f.presentation)),
		)
		require.NoError(t, err)
		return f, def
	}

	t.Run("allowed", func(t *testing.T) {
		f, def := build(t, true)
		rec, err := newTestExecutor(t, def, testPolicy()).Run(context.Background(), aaplRequest())
		require.NoError(t, err)

		assert.Equal(t, StateCompleted, rec.Status)
		res, _ := rec.Result(contracts.StageValuationMetrics)
		assert.Equal(t, contracts.ErrKindTimeout, res.ErrorKind)
		assert.Equal(t, 1, f.presentation.Calls())
	})

	t.Run("not allowed", func(t *testing.T) {
		f, def := build(t, false)
		rec, err := newTestExecutor(t, def, testPolicy()).Run(context.Background(), aaplRequest())
		require.NoError(t, err)

		assert.Equal(t, StateFailed, rec.Status)
		assert.Equal(t, contracts.ErrKindTimeout, rec.Error.Kind)
		assert.Zero(t, f.presentation.Calls())
		// 형제 결과는 유지
		assert.Len(t, rec.GroupResults(contracts.GroupMetrics), 3)
	})
}

func TestRun_PanicBecomesCalculationError(t *testing.T) {
	f := newFixture()
	f.ratio.fn = func(ctx context.Context, in Input) (contracts.Payload, error) {
		var m map[string]float64
		m["x"] = 1 // nil map write
		return nil, nil
	}

	rec, err := newTestExecutor(t, f.definition(t, true), testPolicy()).Run(context.Background(), aaplRequest())
	require.NoError(t, err)

	assert.Equal(t, StateCompleted, rec.Status)
	res, _ := rec.Result(contracts.StageRatioMetrics)
	assert.Equal(t, contracts.ErrKindCalculation, res.ErrorKind)
	assert.Contains(t, res.Message, "panic")
}

func TestRun_NonFinitePayloadRejected(t *testing.T) {
	f := newFixture()
	f.risk.fn = func(ctx context.Context, in Input) (contracts.Payload, error) {
		return contracts.Payload{"nested": map[string]any{"sharpe": math.Inf(1)}}, nil
	}

	rec, err := newTestExecutor(t, f.definition(t, true), testPolicy()).Run(context.Background(), aaplRequest())
	require.NoError(t, err)

	res, _ := rec.Result(contracts.StageRiskMetrics)
	assert.Equal(t, contracts.ErrKindCalculation, res.ErrorKind)
	assert.Contains(t, res.Message, "nested.sharpe")
}

func TestRun_NotReadyIsFatal(t *testing.T) {
	f := newFixture()
	f.presentation.fn = func(ctx context.Context, in Input) (contracts.Payload, error) {
		_, err := in.State.Read("never_written")
		return nil, err
	}

	rec, err := newTestExecutor(t, f.definition(t, true), testPolicy()).Run(context.Background(), aaplRequest())
	require.NoError(t, err)

	assert.Equal(t, StateFailed, rec.Status)
	assert.Equal(t, contracts.ErrKindNotReady, rec.Error.Kind)
}

func TestFinalize_InvalidTransitionRecordsInternal(t *testing.T) {
	f := newFixture()
	e := newTestExecutor(t, f.definition(t, true), testPolicy())

	// Created에서 바로 finalize: 잘못된 전이도 패닉 없이 Failed로 종료
	r := e.newRun(aaplRequest().Normalized())
	require.NotPanics(t, r.finalize)

	assert.True(t, r.rec.Finalized())
	assert.Equal(t, StateFailed, r.rec.Status)
	require.NotNil(t, r.rec.Error)
	assert.Equal(t, contracts.ErrKindInternal, r.rec.Error.Kind)
}

func TestFinalize_SecondCallIgnored(t *testing.T) {
	f := newFixture()
	e := newTestExecutor(t, f.definition(t, true), testPolicy())

	r := e.newRun(aaplRequest().Normalized())
	r.execute(context.Background())
	r.finalize()
	require.Equal(t, StateCompleted, r.rec.Status)
	end := r.rec.EndTime
	transitions := len(r.rec.Transitions)

	require.NotPanics(t, r.finalize)
	assert.Equal(t, StateCompleted, r.rec.Status)
	assert.Equal(t, end, r.rec.EndTime)
	assert.Len(t, r.rec.Transitions, transitions)
}

func TestRun_ObserverEvents(t *testing.T) {
	f := newFixture()
	var mu sync.Mutex
	counts := map[EventType]int{}
	obs := ObserverFunc(func(e Event) {
		mu.Lock()
		defer mu.Unlock()
		counts[e.Type]++
	})

	_, err := newTestExecutor(t, f.definition(t, true), testPolicy(), WithObserver(obs)).
		Run(context.Background(), aaplRequest())
	require.NoError(t, err)

	assert.Equal(t, 1, counts[EventRunStarted])
	assert.Equal(t, 1, counts[EventRunFinished])
	assert.Equal(t, 3, counts[EventGroupStarted])
	assert.Equal(t, 5, counts[EventStageStarted])
	assert.Equal(t, 5, counts[EventStageFinished])
	assert.Equal(t, 4, counts[EventTransition])
}

func TestRun_SinkErrorReturnedWithRecord(t *testing.T) {
	f := newFixture()
	sink := &recordingSink{err: errors.New("disk full")}

	rec, err := newTestExecutor(t, f.definition(t, true), testPolicy(), WithSink(sink)).
		Run(context.Background(), aaplRequest())

	require.Error(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, StateCompleted, rec.Status)
	assert.Len(t, sink.records, 1)
}

func TestRun_RateCheckerAvailableToStages(t *testing.T) {
	f := newFixture()
	f.fetch.fn = func(ctx context.Context, in Input) (contracts.Payload, error) {
		if d := in.Rate.CheckRate(ctx, "provider:test"); !d.Allowed {
			return nil, Fail(contracts.ErrKindRateLimited, errors.New(d.Reason))
		}
		return contracts.Payload{}, nil
	}
	policy := testPolicy()
	policy.RateLimit = 1
	policy.RateWindow = time.Hour
	exec := newTestExecutor(t, f.definition(t, true), policy)

	_, err := exec.Run(context.Background(), aaplRequest())
	require.NoError(t, err)

	other := aaplRequest()
	other.CallerID = "second"
	rec, err := exec.Run(context.Background(), other)
	require.NoError(t, err)

	res, _ := rec.Result(contracts.StageDataFetch)
	assert.Equal(t, contracts.ErrKindRateLimited, res.ErrorKind)
	assert.Equal(t, StateFailed, rec.Status)
}
