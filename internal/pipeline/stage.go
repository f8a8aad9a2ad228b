// Package pipeline runs a fixed, declared graph of stage groups over a
// write-once RunState under a guardrail policy.
package pipeline

import (
	"context"
	"time"

	"github.com/wonny/aegis-analytics/internal/contracts"
	"github.com/wonny/aegis-analytics/internal/guardrail"
	"github.com/wonny/aegis-analytics/internal/runstate"
)

// Kind is the declared capability of a stage
type Kind string

const (
	KindFetch   Kind = "fetch"
	KindCompute Kind = "compute"
	KindPresent Kind = "present"
)

// RateChecker lets a stage charge sub-requests against the run's limits
type RateChecker interface {
	CheckRate(ctx context.Context, identityKey string) guardrail.Decision
}

// Input is everything a stage may read. State is a snapshot; the stage's
// only write slot is its returned payload.
type Input struct {
	RunID   string
	Request contracts.Request
	State   runstate.View
	Rate    RateChecker
}

// Stage is one unit of pipeline work producing a single named result.
// Implementations hold no per-run mutable state and are reused across runs.
type Stage interface {
	Name() contracts.StageName
	Kind() Kind
	DependsOn() []contracts.StageName
	Execute(ctx context.Context, in Input) (contracts.Payload, error)
}

// Member is a stage placed in a group
type Member struct {
	Stage    Stage
	Optional bool          // Sequential: 실패해도 그룹 계속 진행
	Timeout  time.Duration // 0 = policy stage timeout
}

// Required places a stage whose failure aborts a Sequential group
func Required(s Stage) Member {
	return Member{Stage: s}
}

// Optional places a stage whose failure is recorded but not propagated
func Optional(s Stage) Member {
	return Member{Stage: s, Optional: true}
}

// WithTimeout overrides the stage timeout for this member
func (m Member) WithTimeout(d time.Duration) Member {
	m.Timeout = d
	return m
}

// FuncStage adapts a function to the Stage interface
type FuncStage struct {
	StageName contracts.StageName
	StageKind Kind
	Deps      []contracts.StageName
	Fn        func(ctx context.Context, in Input) (contracts.Payload, error)
}

// NewFuncStage creates a FuncStage
func NewFuncStage(name contracts.StageName, kind Kind, deps []contracts.StageName, fn func(ctx context.Context, in Input) (contracts.Payload, error)) *FuncStage {
	return &FuncStage{StageName: name, StageKind: kind, Deps: deps, Fn: fn}
}

func (f *FuncStage) Name() contracts.StageName { return f.StageName }
func (f *FuncStage) Kind() Kind { return f.StageKind }
func (f *FuncStage) DependsOn() []contracts.StageName { return f.Deps }

// Execute calls Fn
func (f *FuncStage) Execute(ctx context.Context, in Input) (contracts.Payload, error) {
	return f.Fn(ctx, in)
}
