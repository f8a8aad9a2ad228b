package pipeline

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/wonny/aegis-analytics/internal/contracts"
	"github.com/wonny/aegis-analytics/internal/guardrail"
	"github.com/wonny/aegis-analytics/internal/runstate"
	"github.com/wonny/aegis-analytics/pkg/logger"
)

// Sink persists a finalized RunRecord
type Sink interface {
	Save(ctx context.Context, rec *RunRecord) error
}

// Executor drives one Definition under a Guardrail
// ⭐ SSOT: 파이프라인 실행(상태 전이, RunState, RunRecord)은 여기서만
type Executor struct {
	def        *Definition
	guard      *guardrail.Guardrail
	sink       Sink
	observers  []Observer
	log        *logger.Logger
	now        func() time.Time
	newRunID   func() string
	policyHash string
}

// Option configures an Executor
type Option func(*Executor)

// WithSink sets the persistence sink, called once per finalized record
func WithSink(s Sink) Option {
	return func(e *Executor) { e.sink = s }
}

// WithObserver adds an event observer
func WithObserver(o Observer) Option {
	return func(e *Executor) { e.observers = append(e.observers, o) }
}

// WithClock overrides time.Now
func WithClock(now func() time.Time) Option {
	return func(e *Executor) { e.now = now }
}

// WithRunIDGenerator overrides uuid run IDs
func WithRunIDGenerator(gen func() string) Option {
	return func(e *Executor) { e.newRunID = gen }
}

// NewExecutor creates an executor
func NewExecutor(def *Definition, guard *guardrail.Guardrail, log *logger.Logger, opts ...Option) *Executor {
	if log == nil {
		log = logger.Nop()
	}
	e := &Executor{
		def:      def,
		guard:    guard,
		log:      log,
		now:      time.Now,
		newRunID: func() string { return uuid.New().String() },
	}
	for _, opt := range opts {
		opt(e)
	}
	if h, err := guardrail.Hash(guard.Policy()); err == nil {
		e.policyHash = h
	}
	return e
}

// Definition returns the pipeline definition
func (e *Executor) Definition() *Definition {
	return e.def
}

// Run executes the pipeline for one request and always returns the finalized
// record. The error is non-nil only when persisting the record failed.
func (e *Executor) Run(ctx context.Context, req contracts.Request) (*RunRecord, error) {
	r := e.newRun(req.Normalized())
	r.emit(Event{Type: EventRunStarted})
	r.log.Info("Run started")

	runCtx, cancel := context.WithTimeout(ctx, e.guard.Policy().RunTimeout)
	defer cancel()

	r.execute(runCtx)
	r.finalize()

	// 실행 ctx가 만료되었어도 저장은 시도
	return r.rec, e.persist(context.WithoutCancel(ctx), r.rec)
}

func (e *Executor) persist(ctx context.Context, rec *RunRecord) error {
	if e.sink == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := e.sink.Save(ctx, rec); err != nil {
		e.log.WithRun(rec.RunID, rec.Ticker).WithError(err).Error("Failed to persist run record")
		return fmt.Errorf("persist run %s: %w", rec.RunID, err)
	}
	return nil
}

// run is the per-invocation coordinator state
type run struct {
	e       *Executor
	req     contracts.Request
	rec     *RunRecord
	state   *runstate.State
	machine *Machine
	log     *logger.Logger

	terminal State
	failure  *RunError
	denial   *guardrail.Decision
}

func (e *Executor) newRun(req contracts.Request) *run {
	runID := e.newRunID()
	rec := newRunRecord(runID, e.def.Name, req, e.now())
	rec.PolicyHash = e.policyHash

	return &run{
		e:       e,
		req:     req,
		rec:     rec,
		state:   runstate.New(),
		machine: NewMachine(e.now),
		log:     e.log.WithRun(runID, req.Ticker),
	}
}

func (r *run) emit(ev Event) {
	ev.RunID = r.rec.RunID
	ev.Ticker = r.rec.Ticker
	ev.Time = r.e.now()
	for _, o := range r.e.observers {
		o.OnEvent(ev)
	}
}

// to performs a transition. An invalid transition is a coordinator bug; it
// is recorded as an Internal failure rather than aborting the caller.
func (r *run) to(next State) bool {
	t, err := r.machine.To(next)
	if err != nil {
		r.internal(err)
		return false
	}
	r.rec.Transitions = append(r.rec.Transitions, t)
	r.emit(Event{Type: EventTransition, State: next})
	return true
}

// internal marks the run Failed with an Internal error; the first one wins
func (r *run) internal(err error) {
	if r.failure != nil && r.failure.Kind == contracts.ErrKindInternal {
		return
	}
	r.fail(&RunError{Kind: contracts.ErrKindInternal, Message: err.Error()})
}

func (r *run) deny(d guardrail.Decision) {
	r.terminal = StateDenied
	r.denial = &d
	r.failure = &RunError{Kind: d.Kind, Message: d.Reason}
	r.log.WithField("reason", d.Reason).Warn("Run denied")
}

func (r *run) fail(err *RunError) {
	r.terminal = StateFailed
	r.failure = err
	r.log.WithFields(map[string]interface{}{
		"kind":  err.Kind,
		"stage": err.Stage,
		"group": err.Group,
	}).Error("Run failed: " + err.Message)
}

func (r *run) execute(ctx context.Context) {
	if !r.to(StateValidating) {
		r.skipFrom(0)
		return
	}
	if d := r.e.guard.ValidateInput(r.req); !d.Allowed {
		r.deny(d)
		r.skipFrom(0)
		return
	}

	if !r.to(StateRunning) {
		r.skipFrom(0)
		return
	}
	for i, g := range r.e.def.Groups {
		if runErr := interrupted(ctx, g); runErr != nil {
			r.fail(runErr)
			r.skipFrom(i)
			return
		}

		// identity/group 단위 레이트 체크
		key := fmt.Sprintf("%s/%s", r.req.CallerID, g.Name)
		if d := r.e.guard.CheckRate(ctx, key); !d.Allowed {
			if i == 0 {
				r.deny(d)
			} else {
				r.fail(&RunError{Kind: d.Kind, Group: g.Name, Message: d.Reason})
			}
			r.skipFrom(i)
			return
		}

		if runErr := r.runGroup(ctx, g); runErr != nil {
			r.fail(runErr)
			r.skipFrom(i + 1)
			return
		}
	}
	r.terminal = StateCompleted
}

// skipFrom records every stage of groups[i:] that has no result as skipped
func (r *run) skipFrom(i int) {
	for _, g := range r.e.def.Groups[i:] {
		for _, name := range g.StageNames() {
			if !r.state.Has(name) {
				r.rec.appendSkipped(name)
			}
		}
	}
}

func (r *run) runGroup(ctx context.Context, g Group) *RunError {
	start := r.e.now()
	r.emit(Event{Type: EventGroupStarted, Group: g.Name})

	var runErr *RunError
	if g.Mode == ModeParallel {
		runErr = r.runParallel(ctx, g)
	} else {
		runErr = r.runSequential(ctx, g)
	}

	elapsed := r.e.now().Sub(start)
	r.rec.Layers = append(r.rec.Layers, LayerTiming{Group: g.Name, Mode: g.Mode, Elapsed: elapsed})
	r.emit(Event{Type: EventGroupFinished, Group: g.Name, ElapsedMS: ms(elapsed)})
	return runErr
}

// runSequential: member i sees every result written before it; the first
// non-optional failure aborts the group
func (r *run) runSequential(ctx context.Context, g Group) *RunError {
	for i, m := range g.Members {
		if runErr := interrupted(ctx, g); runErr != nil {
			r.rec.appendSkipped(g.StageNames()[i:]...)
			return runErr
		}

		res := r.invoke(ctx, g, m, r.state.SnapshotFor(g.Name))
		if err := r.record(res); err != nil {
			return err
		}
		if res.OK() {
			continue
		}

		if isFatal(res.ErrorKind) || runDeadlineHit(ctx) {
			r.rec.appendSkipped(g.StageNames()[i+1:]...)
			return runErrorFrom(ctx, g, res)
		}
		if m.Optional {
			r.log.WithStage(g.Name.String(), res.Stage.String()).Warn("Optional stage failed, continuing")
			continue
		}

		// fail-fast
		r.rec.appendSkipped(g.StageNames()[i+1:]...)
		return runErrorFrom(ctx, g, res)
	}
	return nil
}

// runParallel: all members start against the same pre-group snapshot; the
// group waits for every member. Results are recorded in declared order.
func (r *run) runParallel(ctx context.Context, g Group) *RunError {
	snap := r.state.SnapshotFor(g.Name)
	results := make([]contracts.StageResult, len(g.Members))

	var eg errgroup.Group
	eg.SetLimit(len(g.Members))
	for i, m := range g.Members {
		i, m := i, m
		eg.Go(func() error {
			results[i] = r.invoke(ctx, g, m, snap)
			return nil // 멤버 실패는 형제에 영향 없음
		})
	}
	_ = eg.Wait()

	var timedOut, fatal *contracts.StageResult
	for i := range results {
		if err := r.record(results[i]); err != nil {
			return err
		}
		switch {
		case results[i].OK():
		case isFatal(results[i].ErrorKind):
			if fatal == nil {
				fatal = &results[i]
			}
		case results[i].ErrorKind == contracts.ErrKindTimeout:
			if timedOut == nil {
				timedOut = &results[i]
			}
		}
	}

	switch {
	case runDeadlineHit(ctx):
		return &RunError{Kind: contracts.ErrKindTimeout, Group: g.Name, Message: "run deadline exceeded"}
	case fatal != nil:
		return runErrorFrom(ctx, g, *fatal)
	case timedOut != nil && !r.e.def.AllowDegraded:
		return runErrorFrom(ctx, g, *timedOut)
	}
	return nil
}

// record writes a result into RunState and the RunRecord
func (r *run) record(res contracts.StageResult) *RunError {
	if err := r.state.Write(res.Stage, res); err != nil {
		return &RunError{Kind: contracts.ErrKindDuplicate, Stage: res.Stage, Group: res.Group, Message: err.Error()}
	}
	if err := r.rec.appendResult(res); err != nil {
		return &RunError{Kind: contracts.ErrKindInternal, Stage: res.Stage, Group: res.Group, Message: err.Error()}
	}
	return nil
}

// invoke runs one stage under min(stage timeout, remaining run budget) and
// converts every outcome, including panics, into a StageResult
func (r *run) invoke(ctx context.Context, g Group, m Member, view runstate.View) contracts.StageResult {
	name := m.Stage.Name()
	log := r.log.WithStage(g.Name.String(), name.String())
	r.emit(Event{Type: EventStageStarted, Group: g.Name, Stage: name})

	timeout := m.Timeout
	if timeout <= 0 {
		timeout = r.e.guard.Policy().StageTimeout
	}

	in := Input{
		RunID:   r.rec.RunID,
		Request: r.req,
		State:   view,
		Rate:    r.e.guard,
	}

	start := r.e.now()
	var payload contracts.Payload
	err := guardrail.EnforceTimeout(ctx, "stage "+name.String(), timeout, func(sctx context.Context) (err error) {
		defer func() {
			if rec := recover(); rec != nil {
				err = Failf(contracts.ErrKindCalculation, "panic in %s: %v", name, rec)
			}
		}()
		p, err := m.Stage.Execute(sctx, in)
		if err != nil {
			return err
		}
		if key, ok := firstNonFinite(p); ok {
			return Failf(contracts.ErrKindCalculation, "non-finite value at %s", key)
		}
		payload = p
		return nil
	})
	elapsed := r.e.now().Sub(start)

	var res contracts.StageResult
	if err != nil {
		kind := classify(m.Stage.Kind(), err)
		res = contracts.Failure(name, g.Name, kind, err.Error(), elapsed)
		log.WithFields(map[string]interface{}{
			"elapsed_ms": ms(elapsed),
			"kind":       kind,
		}).WithError(err).Warn("Stage failed")
	} else {
		if payload == nil {
			payload = contracts.Payload{}
		}
		res = contracts.Success(name, g.Name, payload, elapsed)
		log.WithField("elapsed_ms", ms(elapsed)).Info("Stage completed")
	}

	r.emit(Event{
		Type:      EventStageFinished,
		Group:     g.Name,
		Stage:     name,
		Outcome:   res.Outcome,
		ErrorKind: res.ErrorKind,
		ElapsedMS: ms(elapsed),
	})
	return res
}

func (r *run) finalize() {
	if r.rec.Finalized() {
		r.log.WithError(ErrAlreadyFinalized).Error("Run finalize called twice")
		return
	}
	if !r.terminal.Terminal() {
		r.internal(fmt.Errorf("run reached finalize without an outcome"))
	}
	r.to(StateFinalizing)

	var output contracts.Payload
	if r.terminal != StateDenied {
		output = r.assembleOutput()
	}
	filtered := r.e.guard.FilterOutput(output)

	// 전이 실패 시 internal()이 terminal을 Failed로 바꾸고 기록은 그대로 완료
	r.to(r.terminal)
	r.rec.Error = r.failure
	r.rec.Denial = r.denial

	if err := r.rec.Finalize(r.terminal, filtered, r.e.now()); err != nil {
		r.log.WithError(err).Error("Run record not finalized")
		return
	}

	r.emit(Event{Type: EventRunFinished, State: r.terminal, ElapsedMS: ms(r.rec.Duration())})
	r.log.WithFields(map[string]interface{}{
		"status":      r.terminal,
		"duration_ms": ms(r.rec.Duration()),
		"stages":      len(r.rec.Results),
		"skipped":     len(r.rec.Skipped),
	}).Info("Run finished")
}

// assembleOutput returns the last successful payload of the final group, or
// the successful non-fetch payloads as partial results
func (r *run) assembleOutput() contracts.Payload {
	groups := r.e.def.Groups
	last := groups[len(groups)-1]

	if r.terminal == StateCompleted {
		names := last.StageNames()
		for i := len(names) - 1; i >= 0; i-- {
			if res, err := r.state.Read(names[i]); err == nil && res.OK() {
				return res.Payload
			}
		}
	}

	// 원본 provider 데이터(fetch)는 partial 결과에서 제외
	partial := make(map[string]any)
	for _, res := range r.state.Results() {
		if !res.OK() {
			continue
		}
		if kind, _ := r.e.def.KindOf(res.Stage); kind == KindFetch {
			continue
		}
		partial[res.Stage.String()] = map[string]any(res.Payload)
	}
	return contracts.Payload{"partial": partial}
}

// runDeadlineHit compares against wall time as well, since a stage context
// sharing the run deadline may fire before the run context observes it
func runDeadlineHit(ctx context.Context) bool {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return true
	}
	d, ok := ctx.Deadline()
	return ok && !time.Now().Before(d)
}

// interrupted reports a run that must stop before starting more work
func interrupted(ctx context.Context, g Group) *RunError {
	if runDeadlineHit(ctx) {
		return &RunError{Kind: contracts.ErrKindTimeout, Group: g.Name, Message: "run deadline exceeded"}
	}
	if err := ctx.Err(); err != nil {
		return &RunError{Kind: contracts.ErrKindInternal, Group: g.Name, Message: "run cancelled: " + err.Error()}
	}
	return nil
}

func runErrorFrom(ctx context.Context, g Group, res contracts.StageResult) *RunError {
	kind := res.ErrorKind
	msg := res.Message
	if runDeadlineHit(ctx) {
		kind = contracts.ErrKindTimeout
		msg = "run deadline exceeded: " + msg
	}
	return &RunError{Kind: kind, Stage: res.Stage, Group: g.Name, Message: msg}
}

func ms(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000
}

// firstNonFinite finds a NaN/Inf anywhere in the payload
func firstNonFinite(p contracts.Payload) (string, bool) {
	for k, v := range p {
		if path, ok := nonFinite(k, v); ok {
			return path, true
		}
	}
	return "", false
}

func nonFinite(path string, v any) (string, bool) {
	switch t := v.(type) {
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return path, true
		}
	case contracts.Payload:
		for k, e := range t {
			if p, ok := nonFinite(path+"."+k, e); ok {
				return p, true
			}
		}
	case map[string]any:
		for k, e := range t {
			if p, ok := nonFinite(path+"."+k, e); ok {
				return p, true
			}
		}
	case []any:
		for i, e := range t {
			if p, ok := nonFinite(fmt.Sprintf("%s[%d]", path, i), e); ok {
				return p, true
			}
		}
	case []float64:
		for i, e := range t {
			if math.IsNaN(e) || math.IsInf(e, 0) {
				return fmt.Sprintf("%s[%d]", path, i), true
			}
		}
	}
	return "", false
}
