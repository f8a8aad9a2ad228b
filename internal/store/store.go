package store

import (
	"context"
	"errors"
	"time"

	"github.com/wonny/aegis-analytics/internal/contracts"
	"github.com/wonny/aegis-analytics/internal/pipeline"
)

// ErrNotFound is returned when a run record does not exist
var ErrNotFound = errors.New("run record not found")

// Summary is the listing view of a RunRecord
type Summary struct {
	RunID      string              `json:"run_id"`
	Ticker     string              `json:"ticker"`
	Status     pipeline.State      `json:"status"`
	StartTime  time.Time           `json:"start_time"`
	EndTime    time.Time           `json:"end_time"`
	DurationMS float64             `json:"duration_ms"`
	ErrorKind  contracts.ErrorKind `json:"error_kind,omitempty"`
}

// Summarize builds a Summary from a finalized record
func Summarize(rec *pipeline.RunRecord) Summary {
	s := Summary{
		RunID:      rec.RunID,
		Ticker:     rec.Ticker,
		Status:     rec.Status,
		StartTime:  rec.StartTime,
		EndTime:    rec.EndTime,
		DurationMS: float64(rec.Duration().Microseconds()) / 1000,
	}
	if rec.Error != nil {
		s.ErrorKind = rec.Error.Kind
	}
	return s
}

// MultiSink fans a record out to several sinks. Every sink is attempted;
// failures are joined.
type MultiSink []pipeline.Sink

// Save implements pipeline.Sink
func (m MultiSink) Save(ctx context.Context, rec *pipeline.RunRecord) error {
	var errs []error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Save(ctx, rec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

var (
	_ pipeline.Sink = MultiSink(nil)
	_ pipeline.Sink = (*FileSink)(nil)
	_ pipeline.Sink = (*PostgresSink)(nil)
	_ pipeline.Sink = (*RecentIndex)(nil)
)
