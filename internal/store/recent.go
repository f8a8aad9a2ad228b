package store

import (
	"context"
	"sync"

	"github.com/wonny/aegis-analytics/internal/pipeline"
)

// RecentIndex keeps the last N finalized records in memory, for lookups by
// run id from the API.
type RecentIndex struct {
	mu    sync.RWMutex
	cap   int
	order []string
	byID  map[string]*pipeline.RunRecord
}

// NewRecentIndex creates an index holding at most capacity records
func NewRecentIndex(capacity int) *RecentIndex {
	if capacity <= 0 {
		capacity = 100
	}
	return &RecentIndex{
		cap:  capacity,
		byID: make(map[string]*pipeline.RunRecord, capacity),
	}
}

// Save implements pipeline.Sink
func (r *RecentIndex) Save(_ context.Context, rec *pipeline.RunRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byID[rec.RunID]; !ok {
		r.order = append(r.order, rec.RunID)
	}
	r.byID[rec.RunID] = rec

	// 가장 오래된 것부터 제거
	for len(r.order) > r.cap {
		delete(r.byID, r.order[0])
		r.order = r.order[1:]
	}
	return nil
}

// Get returns a record by run id
func (r *RecentIndex) Get(runID string) (*pipeline.RunRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.byID[runID]
	if !ok {
		return nil, ErrNotFound
	}
	return rec, nil
}

// List returns summaries, newest first
func (r *RecentIndex) List() []Summary {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Summary, 0, len(r.order))
	for i := len(r.order) - 1; i >= 0; i-- {
		out = append(out, Summarize(r.byID[r.order[i]]))
	}
	return out
}

// Len returns the number of indexed records
func (r *RecentIndex) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}
