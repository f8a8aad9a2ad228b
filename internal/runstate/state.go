// Package runstate holds the write-once result store threaded through one run.
package runstate

import (
	"errors"
	"fmt"
	"sync"

	"github.com/wonny/aegis-analytics/internal/contracts"
)

var (
	// ErrDuplicateWrite is returned when a stage key is written twice
	ErrDuplicateWrite = errors.New("duplicate write")
	// ErrNotReady is returned when a key is read before it was written
	ErrNotReady = errors.New("not ready")
)

// View is the read-only access a stage gets to upstream results
type View interface {
	Read(name contracts.StageName) (contracts.StageResult, error)
	Has(name contracts.StageName) bool
	Keys() []contracts.StageName
}

// State is the append-only mapping StageName -> StageResult for one run.
// ⭐ SSOT: 실행 중 결과 공유는 이 타입으로만 수행 (Executor 단독 소유)
type State struct {
	mu      sync.RWMutex
	results map[contracts.StageName]contracts.StageResult
	order   []contracts.StageName
}

// New creates an empty state
func New() *State {
	return &State{
		results: make(map[contracts.StageName]contracts.StageResult),
	}
}

// Write inserts a result for name. A key can be written once per run.
func (s *State) Write(name contracts.StageName, result contracts.StageResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.results[name]; exists {
		return fmt.Errorf("write %s: %w", name, ErrDuplicateWrite)
	}

	// 저장 시점에 복제 → 이후 호출자 변경이 state에 반영되지 않음
	s.results[name] = result.Clone()
	s.order = append(s.order, name)
	return nil
}

// Read returns a copy of the result for name
func (s *State) Read(name contracts.StageName) (contracts.StageResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.results[name]
	if !ok {
		return contracts.StageResult{}, fmt.Errorf("read %s: %w", name, ErrNotReady)
	}
	return r.Clone(), nil
}

// Has reports whether name has been written
func (s *State) Has(name contracts.StageName) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.results[name]
	return ok
}

// Keys returns written keys in write order
func (s *State) Keys() []contracts.StageName {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]contracts.StageName(nil), s.order...)
}

// Len returns the number of written keys
func (s *State) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order)
}

// Results returns copies of all results in write order
func (s *State) Results() []contracts.StageResult {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]contracts.StageResult, 0, len(s.order))
	for _, name := range s.order {
		out = append(out, s.results[name].Clone())
	}
	return out
}

// SnapshotFor freezes the keys written so far. Parallel members all receive
// the same snapshot, so no member can observe a sibling's result.
func (s *State) SnapshotFor(group contracts.GroupName) *Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	results := make(map[contracts.StageName]contracts.StageResult, len(s.results))
	for k, v := range s.results {
		results[k] = v
	}
	return &Snapshot{
		group:   group,
		results: results,
		order:   append([]contracts.StageName(nil), s.order...),
	}
}

// Snapshot is an immutable view of State at a point in time
type Snapshot struct {
	group   contracts.GroupName
	results map[contracts.StageName]contracts.StageResult
	order   []contracts.StageName
}

// Group returns the group the snapshot was taken for
func (v *Snapshot) Group() contracts.GroupName {
	return v.group
}

// Read returns a copy of the result for name
func (v *Snapshot) Read(name contracts.StageName) (contracts.StageResult, error) {
	r, ok := v.results[name]
	if !ok {
		return contracts.StageResult{}, fmt.Errorf("read %s (snapshot for %s): %w", name, v.group, ErrNotReady)
	}
	return r.Clone(), nil
}

// Has reports whether name was present when the snapshot was taken
func (v *Snapshot) Has(name contracts.StageName) bool {
	_, ok := v.results[name]
	return ok
}

// Keys returns the keys present in write order
func (v *Snapshot) Keys() []contracts.StageName {
	return append([]contracts.StageName(nil), v.order...)
}

// ReadPayload returns the payload of a successful upstream stage
func ReadPayload(view View, name contracts.StageName) (contracts.Payload, error) {
	r, err := view.Read(name)
	if err != nil {
		return nil, err
	}
	if !r.OK() {
		return nil, fmt.Errorf("upstream %s failed (%s): %s", name, r.ErrorKind, r.Message)
	}
	return r.Payload, nil
}
